package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvector "github.com/pgvector/pgvector-go/pgx"

	"github.com/vieroc/salespilot/internal/conversation"
)

// PgvectorIndex is the Postgres-backed semantic tier: turn embeddings in a
// pgvector column, searched by cosine distance.
type PgvectorIndex struct {
	pool *pgxpool.Pool
	dim  int
}

func NewPgvectorIndex(ctx context.Context, databaseURL string, dim int) (*PgvectorIndex, error) {
	if dim <= 0 {
		dim = 1536
	}

	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvector.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector;`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS turn_embeddings (
			user_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			seq BIGINT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			embedding vector(%d) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (user_id, session_id, seq)
		);`, dim),
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			pool.Close()
			return nil, fmt.Errorf("init vector schema failed on %q: %w", stmt, err)
		}
	}

	return &PgvectorIndex{pool: pool, dim: dim}, nil
}

func (s *PgvectorIndex) Index(ctx context.Context, id conversation.ID, turn conversation.Turn, embedding []float32) error {
	if len(embedding) != s.dim {
		return fmt.Errorf("embedding dim %d, want %d", len(embedding), s.dim)
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO turn_embeddings (user_id, session_id, seq, role, content, embedding, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (user_id, session_id, seq) DO NOTHING`,
		id.UserID, id.SessionID, turn.Seq, string(turn.Role), turn.Content,
		pgvector.NewVector(embedding), turn.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("index turn: %w", err)
	}
	return nil
}

func (s *PgvectorIndex) Search(ctx context.Context, id conversation.ID, query []float32, topK int) ([]conversation.Turn, error) {
	if topK <= 0 {
		topK = 3
	}

	rows, err := s.pool.Query(ctx,
		`SELECT seq, role, content, created_at
		 FROM turn_embeddings
		 WHERE user_id=$1 AND session_id=$2
		 ORDER BY embedding <=> $3 LIMIT $4`,
		id.UserID, id.SessionID, pgvector.NewVector(query), topK,
	)
	if err != nil {
		return nil, fmt.Errorf("search embeddings: %w", err)
	}
	defer rows.Close()

	var out []conversation.Turn
	for rows.Next() {
		var (
			turn conversation.Turn
			role string
		)
		if err := rows.Scan(&turn.Seq, &role, &turn.Content, &turn.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan embedding row: %w", err)
		}
		turn.Role = conversation.Role(role)
		out = append(out, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate embedding rows: %w", err)
	}
	return out, nil
}

func (s *PgvectorIndex) Close() error {
	s.pool.Close()
	return nil
}
