package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

// SQLiteLog persists the commit log in a local SQLite database. Suitable for
// single-node deployments; WAL mode keeps appends cheap while readers replay.
type SQLiteLog struct {
	db *sql.DB

	// appendMu serializes sequence assignment. SQLite would serialize the
	// writes anyway, but assigning seq = last+1 must be atomic with the
	// insert to keep the order gap-free.
	appendMu sync.Mutex
	lastSeq  uint64
}

// NewSQLiteLog opens (creating if needed) a SQLite-backed log at path.
func NewSQLiteLog(path string) (*SQLiteLog, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return nil, fmt.Errorf("setting pragma %s: %w", pragma, err)
		}
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS records (
			seq INTEGER PRIMARY KEY,
			ts INTEGER NOT NULL,
			kind TEXT NOT NULL,
			payload BLOB NOT NULL
		);
	`)
	if err != nil {
		return nil, fmt.Errorf("creating records table: %w", err)
	}

	l := &SQLiteLog{db: db}

	var last sql.NullInt64
	if err := db.QueryRow("SELECT MAX(seq) FROM records").Scan(&last); err != nil {
		return nil, fmt.Errorf("reading last seq: %w", err)
	}
	if last.Valid {
		l.lastSeq = uint64(last.Int64)
	}

	return l, nil
}

// Append commits a record and returns it with Seq and Time assigned.
func (l *SQLiteLog) Append(ctx context.Context, kind string, payload []byte) (Record, error) {
	l.appendMu.Lock()
	defer l.appendMu.Unlock()

	rec := Record{
		Seq:     l.lastSeq + 1,
		Time:    time.Now().UTC(),
		Kind:    kind,
		Payload: json.RawMessage(append([]byte(nil), payload...)),
	}

	_, err := l.db.ExecContext(ctx,
		"INSERT INTO records (seq, ts, kind, payload) VALUES (?, ?, ?, ?)",
		rec.Seq, rec.Time.UnixNano(), rec.Kind, []byte(rec.Payload),
	)
	if err != nil {
		return Record{}, fmt.Errorf("appending record: %w", err)
	}

	l.lastSeq = rec.Seq
	return rec, nil
}

// Replay calls fn for every committed record in sequence order.
func (l *SQLiteLog) Replay(ctx context.Context, fn func(Record) error) error {
	rows, err := l.db.QueryContext(ctx, "SELECT seq, ts, kind, payload FROM records ORDER BY seq ASC")
	if err != nil {
		return fmt.Errorf("querying records: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			seq     uint64
			ts      int64
			kind    string
			payload []byte
		)
		if err := rows.Scan(&seq, &ts, &kind, &payload); err != nil {
			return fmt.Errorf("scanning record: %w", err)
		}
		rec := Record{
			Seq:     seq,
			Time:    time.Unix(0, ts).UTC(),
			Kind:    kind,
			Payload: json.RawMessage(payload),
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return rows.Err()
}

// LastSeq returns the sequence number of the newest record.
func (l *SQLiteLog) LastSeq(ctx context.Context) (uint64, error) {
	l.appendMu.Lock()
	defer l.appendMu.Unlock()
	return l.lastSeq, nil
}

// Close closes the database.
func (l *SQLiteLog) Close() error {
	return l.db.Close()
}
