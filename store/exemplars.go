package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/pgvector/pgvector-go"
	"github.com/pkg/errors"

	"github.com/hrygo/switchboard/agent"
	"github.com/hrygo/switchboard/routing"
)

const exemplarSchema = `
CREATE EXTENSION IF NOT EXISTS vector;
CREATE TABLE IF NOT EXISTS routing_exemplars (
	id         BIGSERIAL PRIMARY KEY,
	agent      TEXT NOT NULL,
	query      TEXT NOT NULL,
	embedding  vector(%d) NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// ExemplarStore is the pgvector-backed index of labeled routing exemplars
// behind the semantic fast path.
type ExemplarStore struct {
	db *sql.DB
}

// NewExemplarStore wraps an existing PostgreSQL handle (it shares the
// telemetry sink's pool in the usual deployment) and migrates the exemplar
// table for the given embedding dimension.
func NewExemplarStore(db *sql.DB, dimensions int) (*ExemplarStore, error) {
	if dimensions <= 0 {
		dimensions = 1536
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := db.ExecContext(ctx, fmt.Sprintf(exemplarSchema, dimensions)); err != nil {
		return nil, errors.Wrap(err, "migrate exemplar schema")
	}
	return &ExemplarStore{db: db}, nil
}

// Add stores one labeled exemplar.
func (s *ExemplarStore) Add(ctx context.Context, ag agent.ID, query string, vector []float32) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO routing_exemplars (agent, query, embedding)
		VALUES ($1, $2, $3)`,
		string(ag), query, pgvector.NewVector(vector))
	return errors.Wrap(err, "insert exemplar")
}

// Nearest returns the exemplars closest to the query vector by cosine
// distance, most similar first.
func (s *ExemplarStore) Nearest(ctx context.Context, vector []float32, limit int) ([]routing.Exemplar, error) {
	if limit <= 0 {
		limit = 3
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT agent, query, 1 - (embedding <=> $1) AS similarity
		FROM routing_exemplars
		ORDER BY embedding <=> $1
		LIMIT $2`, pgvector.NewVector(vector), limit)
	if err != nil {
		return nil, errors.Wrap(err, "query exemplars")
	}
	defer rows.Close()

	var exemplars []routing.Exemplar
	for rows.Next() {
		var (
			e       routing.Exemplar
			agentID string
		)
		if err := rows.Scan(&agentID, &e.Query, &e.Similarity); err != nil {
			return nil, errors.Wrap(err, "scan exemplar")
		}
		e.Agent = agent.ID(agentID)
		exemplars = append(exemplars, e)
	}
	return exemplars, errors.Wrap(rows.Err(), "iterate exemplars")
}

var _ routing.ExemplarSearcher = (*ExemplarStore)(nil)
