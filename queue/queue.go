// Package queue stores mutating requests that could not reach the network,
// so that they can be replayed once connectivity is back.
//
// Queues are FIFO: List returns pending entries in enqueue order.
// Attempt bookkeeping is kept next to a mutation and never alters the mutation itself.
package queue

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("mutation not found")

// Mutation is a queued write operation.
type Mutation struct {
	ID          string    `json:"id"`
	Method      string    `json:"method"`
	Target      string    `json:"target"`
	ContentType string    `json:"contentType,omitempty"`
	Body        []byte    `json:"body,omitempty"`
	EnqueuedAt  time.Time `json:"enqueuedAt"`
}

// NewMutation creates a mutation with a fresh ID.
func NewMutation(method, target, contentType string, body []byte) Mutation {
	return Mutation{
		ID:          uuid.NewString(),
		Method:      method,
		Target:      target,
		ContentType: contentType,
		Body:        body,
		EnqueuedAt:  time.Now().UTC().Round(0),
	}
}

// Entry is a queued mutation together with its replay bookkeeping.
type Entry struct {
	Mutation      Mutation  `json:"mutation"`
	Seq           uint64    `json:"seq"`
	Attempts      int       `json:"attempts"`
	LastError     string    `json:"lastError,omitempty"`
	LastAttemptAt time.Time `json:"lastAttemptAt,omitempty"`
	NextAttemptAt time.Time `json:"nextAttemptAt,omitempty"`
	Dead          bool      `json:"dead,omitempty"`
}

// Due reports whether the entry may be replayed at the given time.
func (e Entry) Due(now time.Time) bool {
	return !e.Dead && !now.Before(e.NextAttemptAt)
}

// Queue is a durable FIFO of pending mutations.
//
// Implementations must be thread-safe!
type Queue interface {
	// Enqueue appends the mutation to the queue.
	Enqueue(ctx context.Context, m Mutation) error
	// List returns all pending (not dead-lettered) entries in enqueue order.
	List(ctx context.Context) ([]Entry, error)
	// Remove deletes the entry for the given mutation ID.
	Remove(ctx context.Context, id string) error
	// RecordFailure increments the attempt count of an entry and stores
	// the failure reason and the earliest time of the next attempt.
	RecordFailure(ctx context.Context, id string, at time.Time, reason string, next time.Time) (Entry, error)
	// DeadLetter moves the entry out of the pending list.
	DeadLetter(ctx context.Context, id string) error
	// DeadLetters returns all dead-lettered entries in enqueue order.
	DeadLetters(ctx context.Context) ([]Entry, error)
	// Close releases the underlying resources.
	Close() error
}

// MemQueue is a non-durable queue, useful for tests and ephemeral setups.
type MemQueue struct {
	mutex   sync.Mutex
	seq     uint64
	entries map[string]*Entry
}

func NewMemQueue() *MemQueue {
	return &MemQueue{entries: make(map[string]*Entry)}
}

func (q *MemQueue) Enqueue(ctx context.Context, m Mutation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	q.mutex.Lock()
	defer q.mutex.Unlock()
	q.seq++
	q.entries[m.ID] = &Entry{Mutation: copyMutation(m), Seq: q.seq}
	return nil
}

func (q *MemQueue) List(ctx context.Context) ([]Entry, error) {
	return q.list(ctx, false)
}

func (q *MemQueue) DeadLetters(ctx context.Context) ([]Entry, error) {
	return q.list(ctx, true)
}

func (q *MemQueue) list(ctx context.Context, dead bool) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q.mutex.Lock()
	defer q.mutex.Unlock()
	entries := make([]Entry, 0, len(q.entries))
	for _, e := range q.entries {
		if e.Dead == dead {
			entry := *e
			entry.Mutation = copyMutation(e.Mutation)
			entries = append(entries, entry)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Seq < entries[j].Seq })
	return entries, nil
}

func (q *MemQueue) Remove(ctx context.Context, id string) error {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	if _, ok := q.entries[id]; !ok {
		return ErrNotFound
	}
	delete(q.entries, id)
	return nil
}

func (q *MemQueue) RecordFailure(ctx context.Context, id string, at time.Time, reason string, next time.Time) (Entry, error) {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	e, ok := q.entries[id]
	if !ok {
		return Entry{}, ErrNotFound
	}
	e.Attempts++
	e.LastError = reason
	e.LastAttemptAt = at
	e.NextAttemptAt = next
	return *e, nil
}

func (q *MemQueue) DeadLetter(ctx context.Context, id string) error {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	e, ok := q.entries[id]
	if !ok {
		return ErrNotFound
	}
	e.Dead = true
	return nil
}

func (q *MemQueue) Close() error {
	return nil
}

func copyMutation(m Mutation) Mutation {
	if m.Body != nil {
		m.Body = append([]byte(nil), m.Body...)
	}
	return m
}
