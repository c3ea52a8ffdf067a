package queue

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"
)

var (
	seqKey      = []byte("queue/seq")
	entryPrefix = []byte("queue/entry/")
	idPrefix    = []byte("queue/id/")
)

// BadgerQueue keeps the queue in a BadgerDB directory.
// Entries are stored as JSON under a big-endian sequence key, so that
// iterating the key prefix yields enqueue order.
type BadgerQueue struct {
	db  *badger.DB
	seq *badger.Sequence
}

// NewBadgerQueue opens (or creates) the queue in the given directory.
// If dir is empty, the queue lives in memory only.
func NewBadgerQueue(dir string, logger zerolog.Logger) (*BadgerQueue, error) {
	opts := badger.DefaultOptions(dir).WithLogger(badgerLogger{logger})
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open queue badger db: %w", err)
	}
	seq, err := db.GetSequence(seqKey, 100)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("get queue sequence: %w", err)
	}
	return &BadgerQueue{db: db, seq: seq}, nil
}

func keyEntry(seq uint64) []byte {
	key := make([]byte, len(entryPrefix)+8)
	copy(key, entryPrefix)
	binary.BigEndian.PutUint64(key[len(entryPrefix):], seq)
	return key
}

func keyID(id string) []byte {
	return append(append([]byte(nil), idPrefix...), id...)
}

func (q *BadgerQueue) Enqueue(ctx context.Context, m Mutation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	seq, err := q.seq.Next()
	if err != nil {
		return fmt.Errorf("next queue sequence: %w", err)
	}
	entry := Entry{Mutation: m, Seq: seq}
	val, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return q.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(keyEntry(seq), val); err != nil {
			return err
		}
		idVal := make([]byte, 8)
		binary.BigEndian.PutUint64(idVal, seq)
		return txn.Set(keyID(m.ID), idVal)
	})
}

func (q *BadgerQueue) List(ctx context.Context) ([]Entry, error) {
	return q.list(ctx, false)
}

func (q *BadgerQueue) DeadLetters(ctx context.Context) ([]Entry, error) {
	return q.list(ctx, true)
}

func (q *BadgerQueue) list(ctx context.Context, dead bool) ([]Entry, error) {
	entries := make([]Entry, 0)
	err := q.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(entryPrefix); it.ValidForPrefix(entryPrefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			val, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			var e Entry
			if err := json.Unmarshal(val, &e); err != nil {
				return fmt.Errorf("decode queue entry: %w", err)
			}
			if e.Dead == dead {
				entries = append(entries, e)
			}
		}
		return nil
	})
	return entries, err
}

func (q *BadgerQueue) Remove(ctx context.Context, id string) error {
	return q.db.Update(func(txn *badger.Txn) error {
		seq, err := lookupSeq(txn, id)
		if err != nil {
			return err
		}
		if err := txn.Delete(keyEntry(seq)); err != nil {
			return err
		}
		return txn.Delete(keyID(id))
	})
}

func (q *BadgerQueue) RecordFailure(ctx context.Context, id string, at time.Time, reason string, next time.Time) (Entry, error) {
	return q.modify(id, func(e *Entry) {
		e.Attempts++
		e.LastError = reason
		e.LastAttemptAt = at
		e.NextAttemptAt = next
	})
}

func (q *BadgerQueue) DeadLetter(ctx context.Context, id string) error {
	_, err := q.modify(id, func(e *Entry) {
		e.Dead = true
	})
	return err
}

func (q *BadgerQueue) modify(id string, change func(*Entry)) (Entry, error) {
	var entry Entry
	err := q.db.Update(func(txn *badger.Txn) error {
		seq, err := lookupSeq(txn, id)
		if err != nil {
			return err
		}
		item, err := txn.Get(keyEntry(seq))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		} else if err != nil {
			return err
		}
		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(val, &entry); err != nil {
			return fmt.Errorf("decode queue entry: %w", err)
		}
		change(&entry)
		if val, err = json.Marshal(entry); err != nil {
			return err
		}
		return txn.Set(keyEntry(seq), val)
	})
	return entry, err
}

func lookupSeq(txn *badger.Txn, id string) (uint64, error) {
	item, err := txn.Get(keyID(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, ErrNotFound
	} else if err != nil {
		return 0, err
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return 0, err
	}
	if len(val) != 8 {
		return 0, fmt.Errorf("corrupt queue index for %s", id)
	}
	return binary.BigEndian.Uint64(val), nil
}

func (q *BadgerQueue) Close() error {
	if err := q.seq.Release(); err != nil {
		q.db.Close()
		return err
	}
	return q.db.Close()
}

// badgerLogger routes badger's internal logging through zerolog.
type badgerLogger struct {
	log zerolog.Logger
}

func (l badgerLogger) Errorf(format string, args ...interface{}) {
	l.log.Error().Msgf(format, args...)
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.log.Warn().Msgf(format, args...)
}

func (l badgerLogger) Infof(format string, args ...interface{}) {
	l.log.Trace().Msgf(format, args...)
}

func (l badgerLogger) Debugf(format string, args ...interface{}) {
	l.log.Trace().Msgf(format, args...)
}
