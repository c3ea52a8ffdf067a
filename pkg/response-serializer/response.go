package serializer

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const storedAtHeaderName = "Offline-Cache-Stored-At"

// Snapshot is a captured response: status, headers and the complete body.
// It is what gets written into a cache partition.
type Snapshot struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	// The value of the clock when the snapshot was written to a partition.
	// Zero for snapshots that were never stored.
	StoredAt time.Time
}

// FromResponse reads the complete response body and captures the response.
// The response body is closed when it returns.
// An error while reading the body means the response never fully arrived.
func FromResponse(res *http.Response) (*Snapshot, error) {
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return &Snapshot{
		StatusCode: res.StatusCode,
		Header:     stripHopByHop(res.Header),
		Body:       body,
	}, nil
}

// New creates a snapshot with the given status, content type and body.
// It is used for synthesized responses.
func New(statusCode int, contentType string, body []byte) *Snapshot {
	header := http.Header{}
	if contentType != "" {
		header.Set("Content-Type", contentType)
	}
	return &Snapshot{
		StatusCode: statusCode,
		Header:     header,
		Body:       body,
	}
}

// Clone returns a deep copy, so that one copy can be stored while the other is sent.
func (s *Snapshot) Clone() *Snapshot {
	return &Snapshot{
		StatusCode: s.StatusCode,
		Header:     s.Header.Clone(),
		Body:       append([]byte(nil), s.Body...),
		StoredAt:   s.StoredAt,
	}
}

// Response creates a fresh *http.Response for the snapshot.
func (s *Snapshot) Response(req *http.Request) *http.Response {
	res := &http.Response{
		StatusCode:    s.StatusCode,
		Status:        fmt.Sprintf("%d %s", s.StatusCode, http.StatusText(s.StatusCode)),
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        s.Header.Clone(),
		ContentLength: int64(len(s.Body)),
		Request:       req,
	}
	if res.Header == nil {
		res.Header = http.Header{}
	}
	if len(s.Body) > 0 {
		res.Body = io.NopCloser(bytes.NewReader(s.Body))
	} else {
		res.Body = http.NoBody
	}
	return res
}

// ToBytes returns the HTTP/1.1 representation of the snapshot.
// The storage time travels in an extra header that is removed again by FromBytes.
func (s *Snapshot) ToBytes() ([]byte, error) {
	res := s.Response(nil)
	res.Header.Set(storedAtHeaderName, strconv.FormatInt(s.StoredAt.UnixNano(), 10))
	if len(s.Body) == 0 {
		res.Body = nil
	}
	buf := &bytes.Buffer{}
	if err := res.Write(buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// FromBytes converts bytes written by ToBytes back to a snapshot.
func FromBytes(b []byte) (*Snapshot, error) {
	res, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(b)), nil)
	if err != nil {
		return nil, err
	}
	s, err := FromResponse(res)
	if err != nil {
		return nil, err
	}
	if storedAt := s.Header.Get(storedAtHeaderName); storedAt != "" {
		nanos, err := strconv.ParseInt(storedAt, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid stored-at header: %w", err)
		}
		s.StoredAt = time.Unix(0, nanos)
	}
	s.Header.Del(storedAtHeaderName)
	return s, nil
}

// stripHopByHop removes headers that only make sense for a single connection.
func stripHopByHop(header http.Header) http.Header {
	headerClone := header.Clone()
	if headerClone == nil {
		return http.Header{}
	}

	for _, k := range []string{
		"Connection", "Proxy-Connection", "Keep-Alive",
		"Proxy-Authenticate", "Proxy-Authorization", "TE",
		"Trailer", "Transfer-Encoding", "Upgrade",
	} {
		headerClone.Del(k)
	}
	// also remove hop-by-hop values referenced by Connection header
	if conn := header.Get("Connection"); conn != "" {
		for _, token := range strings.Split(conn, ",") {
			if token = strings.TrimSpace(token); token != "" {
				headerClone.Del(token)
			}
		}
	}
	return headerClone
}
