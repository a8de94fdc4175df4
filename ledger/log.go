package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"
)

// Record is one committed entry in the total order. Seq is assigned by the
// log at append time and is strictly monotonic; Time is the ledger-assigned
// commit timestamp, stored so a replay reproduces identical state.
type Record struct {
	Seq     uint64          `json:"seq"`
	Time    time.Time       `json:"time"`
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// Log is the append-only, totally-ordered commit log all authoritative state
// derives from. Append assigns the sequence number and commit time; Replay
// yields every committed record in order. Implementations must make Append
// atomic: a record is either durably committed with its sequence number or
// has no effect.
type Log interface {
	// Append commits a record and returns it with Seq and Time assigned.
	Append(ctx context.Context, kind string, payload []byte) (Record, error)

	// Replay calls fn for every committed record in sequence order.
	Replay(ctx context.Context, fn func(Record) error) error

	// LastSeq returns the sequence number of the newest record, 0 if empty.
	LastSeq(ctx context.Context) (uint64, error)

	// Close releases the underlying storage.
	Close() error
}

// ErrClosed is returned for operations on a closed log.
var ErrClosed = errors.New("ledger: log closed")

// MemLog is an in-memory Log for tests and single-process demos.
type MemLog struct {
	mu      sync.RWMutex
	records []Record
	closed  bool

	// now is swappable for deterministic tests.
	now func() time.Time
}

// NewMemLog creates an empty in-memory log.
func NewMemLog() *MemLog {
	return &MemLog{now: time.Now}
}

// Append commits a record and returns it with Seq and Time assigned.
func (l *MemLog) Append(ctx context.Context, kind string, payload []byte) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return Record{}, ErrClosed
	}

	rec := Record{
		Seq:     uint64(len(l.records)) + 1,
		Time:    l.now().UTC(),
		Kind:    kind,
		Payload: json.RawMessage(append([]byte(nil), payload...)),
	}
	l.records = append(l.records, rec)
	return rec, nil
}

// Replay calls fn for every committed record in sequence order.
func (l *MemLog) Replay(ctx context.Context, fn func(Record) error) error {
	l.mu.RLock()
	records := l.records
	l.mu.RUnlock()

	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

// LastSeq returns the sequence number of the newest record.
func (l *MemLog) LastSeq(ctx context.Context) (uint64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return uint64(len(l.records)), nil
}

// Close marks the log closed; further appends fail.
func (l *MemLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}
