package store

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/hrygo/switchboard/agent"
	"github.com/hrygo/switchboard/telemetry"
)

const telemetrySchema = `
CREATE TABLE IF NOT EXISTS telemetry_events (
	id          TEXT PRIMARY KEY,
	event_type  TEXT NOT NULL,
	user_id     TEXT,
	thread_id   TEXT,
	message_id  TEXT,
	agent       TEXT,
	source      TEXT,
	tool        TEXT,
	success     BOOLEAN NOT NULL DEFAULT FALSE,
	cached      BOOLEAN NOT NULL DEFAULT FALSE,
	confidence  DOUBLE PRECISION,
	latency_ms  BIGINT,
	detail      TEXT,
	created_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_telemetry_events_created ON telemetry_events(created_at);
`

// PostgresSink persists telemetry events in PostgreSQL.
type PostgresSink struct {
	db *sql.DB
}

// NewPostgresSink connects to PostgreSQL and migrates the event table.
func NewPostgresSink(dsn string) (*PostgresSink, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open postgres")
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "ping postgres")
	}
	if _, err := db.ExecContext(ctx, telemetrySchema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "migrate telemetry schema")
	}
	return &PostgresSink{db: db}, nil
}

// Close releases the connection pool.
func (s *PostgresSink) Close() error {
	return s.db.Close()
}

// DB exposes the underlying pool so other postgres-backed stores can share
// the connection.
func (s *PostgresSink) DB() *sql.DB {
	return s.db
}

// InsertEvents appends a batch in one transaction.
func (s *PostgresSink) InsertEvents(ctx context.Context, events []telemetry.Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin telemetry batch")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO telemetry_events
			(id, event_type, user_id, thread_id, message_id, agent, source,
			 tool, success, cached, confidence, latency_ms, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		ON CONFLICT (id) DO NOTHING`)
	if err != nil {
		return errors.Wrap(err, "prepare telemetry insert")
	}
	defer stmt.Close()

	for _, e := range events {
		if _, err := stmt.ExecContext(ctx,
			e.ID, string(e.Type), e.UserID, e.ThreadID, e.MessageID,
			string(e.Agent), e.Source, e.Tool, e.Success, e.Cached,
			e.Confidence, e.Latency.Milliseconds(), e.Detail, e.Timestamp,
		); err != nil {
			return errors.Wrapf(err, "insert telemetry event %s", e.ID)
		}
	}
	return errors.Wrap(tx.Commit(), "commit telemetry batch")
}

// QueryWindow returns events since the given time, oldest first.
func (s *PostgresSink) QueryWindow(ctx context.Context, since time.Time) ([]telemetry.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event_type, user_id, thread_id, message_id, agent, source,
		       tool, success, cached, confidence, latency_ms, detail, created_at
		FROM telemetry_events
		WHERE created_at >= $1
		ORDER BY created_at ASC`, since)
	if err != nil {
		return nil, errors.Wrap(err, "query telemetry window")
	}
	defer rows.Close()

	var events []telemetry.Event
	for rows.Next() {
		var (
			e         telemetry.Event
			eventType string
			agentID   string
			latencyMS int64
		)
		if err := rows.Scan(
			&e.ID, &eventType, &e.UserID, &e.ThreadID, &e.MessageID,
			&agentID, &e.Source, &e.Tool, &e.Success, &e.Cached,
			&e.Confidence, &latencyMS, &e.Detail, &e.Timestamp,
		); err != nil {
			return nil, errors.Wrap(err, "scan telemetry event")
		}
		e.Type = telemetry.EventType(eventType)
		e.Agent = agent.ID(agentID)
		e.Latency = time.Duration(latencyMS) * time.Millisecond
		events = append(events, e)
	}
	return events, errors.Wrap(rows.Err(), "iterate telemetry events")
}

var _ telemetry.Sink = (*PostgresSink)(nil)
