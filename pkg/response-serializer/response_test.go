package serializer

import (
	"bufio"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestFromResponseBodyIntact(t *testing.T) {
	response := "HTTP/1.1 200 OK\r\nServer: Test\r\nConnection: close\r\nContent-Length: 16\r\n\r\nThis is the body"

	res, err := http.ReadResponse(bufio.NewReader(strings.NewReader(response)), nil)
	if err != nil {
		t.Fatalf("Error: %v", err)
	}

	s, err := FromResponse(res)
	if err != nil {
		t.Fatalf("Error: %v", err)
	}
	if string(s.Body) != "This is the body" {
		t.Fatalf("Body: %s", s.Body)
	}
	if s.Header.Get("Server") != "Test" {
		t.Fatalf("Server header missing: %+v", s.Header)
	}
	if s.Header.Get("Connection") != "" {
		t.Fatalf("Hop-by-hop header kept: %+v", s.Header)
	}
}

func TestSnapshotSerialization(t *testing.T) {
	storedAt := time.Now()
	s := New(http.StatusOK, "application/json", []byte(`[{"id":1,"title":"Write report"}]`))
	s.Header.Add("Test", "-ing")
	s.StoredAt = storedAt

	bts, err := s.ToBytes()
	if err != nil {
		t.Fatalf("Error creating bytes: %+v", err)
	}
	s2, err := FromBytes(bts)
	if err != nil {
		t.Fatalf("Error creating snapshot: %+v", err)
	}
	if s2.StatusCode != http.StatusOK {
		t.Fatalf("Status is %d", s2.StatusCode)
	}
	if string(s2.Body) != `[{"id":1,"title":"Write report"}]` {
		t.Fatalf("Body is %s", s2.Body)
	}
	if s2.Header.Get("Test") != "-ing" || s2.Header.Get("Content-Type") != "application/json" {
		t.Fatalf("Headers wrong %+v", s2.Header)
	}
	if s2.Header.Get(storedAtHeaderName) != "" {
		t.Fatalf("Internal header leaked %+v", s2.Header)
	}
	if !s2.StoredAt.Equal(storedAt.Round(0)) {
		t.Fatalf("StoredAt is %v, expected %v", s2.StoredAt, storedAt)
	}
}

func TestEmptyBodySerialization(t *testing.T) {
	s := New(http.StatusNotFound, "", nil)
	bts, err := s.ToBytes()
	if err != nil {
		t.Fatalf("Error creating bytes: %+v", err)
	}
	s2, err := FromBytes(bts)
	if err != nil {
		t.Fatalf("Error creating snapshot: %+v", err)
	}
	if s2.StatusCode != http.StatusNotFound || len(s2.Body) != 0 {
		t.Fatalf("Snapshot is %+v", s2)
	}
}

func TestResponseIsReadableTwice(t *testing.T) {
	s := New(http.StatusOK, "text/plain", []byte("hello"))
	for i := 0; i < 2; i++ {
		body, err := io.ReadAll(s.Response(nil).Body)
		if err != nil || string(body) != "hello" {
			t.Fatalf("Body is %s (%v)", body, err)
		}
	}
}
