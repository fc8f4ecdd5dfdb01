package calllog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/birddigital/aasb-telephony/pkg/logging"
)

// DB is the subset of *pgxpool.Pool the store uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists the call history used for redial.
type Store struct {
	db     DB
	logger *zap.Logger
}

// Connect opens a connection pool and verifies it.
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}
	return pool, nil
}

// NewStore creates a store on db.
func NewStore(db DB) *Store {
	return &Store{db: db, logger: logging.Named("CallLog")}
}

const schema = `
	CREATE TABLE IF NOT EXISTS call_log (
		call_sid   TEXT PRIMARY KEY,
		direction  TEXT NOT NULL,
		number     TEXT NOT NULL,
		started_at TIMESTAMPTZ NOT NULL,
		ended_at   TIMESTAMPTZ,
		outcome    TEXT
	);
	CREATE INDEX IF NOT EXISTS call_log_direction_started_idx
		ON call_log (direction, started_at DESC)
`

// Migrate creates the call_log table.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to migrate call_log: %w", err)
	}
	return nil
}

// RecordCall inserts a call when it starts. Repeated inserts are ignored.
func (s *Store) RecordCall(ctx context.Context, sid, direction, number string, at time.Time) error {
	query := `
		INSERT INTO call_log (call_sid, direction, number, started_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (call_sid) DO NOTHING
	`
	if _, err := s.db.Exec(ctx, query, sid, direction, number, at); err != nil {
		return fmt.Errorf("failed to record call %s: %w", sid, err)
	}
	return nil
}

// MarkEnded stores the outcome of a call.
func (s *Store) MarkEnded(ctx context.Context, sid, outcome string, at time.Time) error {
	query := `
		UPDATE call_log SET
			ended_at = $1,
			outcome = $2
		WHERE call_sid = $3
	`
	tag, err := s.db.Exec(ctx, query, at, outcome, sid)
	if err != nil {
		return fmt.Errorf("failed to end call %s: %w", sid, err)
	}
	if tag.RowsAffected() == 0 {
		s.logger.Warn("ended call not in log", zap.String("sid", sid))
	}
	return nil
}

// LastOutgoingNumber returns the most recently dialed number, or "" when the
// log has no outgoing call.
func (s *Store) LastOutgoingNumber(ctx context.Context) (string, error) {
	query := `
		SELECT number FROM call_log
		WHERE direction = 'outbound'
		ORDER BY started_at DESC
		LIMIT 1
	`
	var number string
	err := s.db.QueryRow(ctx, query).Scan(&number)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read last outgoing call: %w", err)
	}
	return number, nil
}
