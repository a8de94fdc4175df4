package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresLog persists the commit log in PostgreSQL. The database assigns
// sequence numbers, so multiple node replicas reading the same log observe
// one total order.
type PostgresLog struct {
	db *sql.DB
}

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// ConnectionString returns the PostgreSQL connection string.
func (c *PostgresConfig) ConnectionString() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, sslMode)
}

// NewPostgresLog creates a new PostgreSQL-backed log.
func NewPostgresLog(config *PostgresConfig) (*PostgresLog, error) {
	db, err := sql.Open("postgres", config.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	l := &PostgresLog{db: db}
	if err := l.migrate(); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return l, nil
}

func (l *PostgresLog) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS ledger_records (
		seq BIGSERIAL PRIMARY KEY,
		committed_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		kind VARCHAR(64) NOT NULL,
		payload JSONB NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_ledger_records_kind ON ledger_records(kind);
	`

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_, err := l.db.ExecContext(ctx, schema)
	return err
}

// Append commits a record and returns it with Seq and Time assigned.
func (l *PostgresLog) Append(ctx context.Context, kind string, payload []byte) (Record, error) {
	var (
		seq         uint64
		committedAt time.Time
	)
	err := l.db.QueryRowContext(ctx,
		"INSERT INTO ledger_records (kind, payload) VALUES ($1, $2) RETURNING seq, committed_at",
		kind, payload,
	).Scan(&seq, &committedAt)
	if err != nil {
		return Record{}, fmt.Errorf("appending record: %w", err)
	}

	return Record{
		Seq:     seq,
		Time:    committedAt.UTC(),
		Kind:    kind,
		Payload: json.RawMessage(append([]byte(nil), payload...)),
	}, nil
}

// Replay calls fn for every committed record in sequence order.
func (l *PostgresLog) Replay(ctx context.Context, fn func(Record) error) error {
	rows, err := l.db.QueryContext(ctx,
		"SELECT seq, committed_at, kind, payload FROM ledger_records ORDER BY seq ASC")
	if err != nil {
		return fmt.Errorf("querying records: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			seq         uint64
			committedAt time.Time
			kind        string
			payload     []byte
		)
		if err := rows.Scan(&seq, &committedAt, &kind, &payload); err != nil {
			return fmt.Errorf("scanning record: %w", err)
		}
		rec := Record{
			Seq:     seq,
			Time:    committedAt.UTC(),
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
func (l *PostgresLog) LastSeq(ctx context.Context) (uint64, error) {
	var last sql.NullInt64
	if err := l.db.QueryRowContext(ctx, "SELECT MAX(seq) FROM ledger_records").Scan(&last); err != nil {
		return 0, fmt.Errorf("reading last seq: %w", err)
	}
	if !last.Valid {
		return 0, nil
	}
	return uint64(last.Int64), nil
}

// Close closes the database connection.
func (l *PostgresLog) Close() error {
	return l.db.Close()
}
