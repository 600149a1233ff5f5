package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vieroc/salespilot/internal/conversation"
)

// PostgresEpisodicStore persists the episodic tier in PostgreSQL.
type PostgresEpisodicStore struct {
	pool *pgxpool.Pool
}

func NewPostgresEpisodicStore(ctx context.Context, databaseURL string) (*PostgresEpisodicStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initEpisodicSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresEpisodicStore{pool: pool}, nil
}

func initEpisodicSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			user_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			current_node TEXT NOT NULL,
			metadata JSONB NOT NULL DEFAULT '{}',
			committed_turns BIGINT NOT NULL DEFAULT 0,
			version BIGINT NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (user_id, session_id)
		);`,
		`CREATE TABLE IF NOT EXISTS turns (
			user_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			seq BIGINT NOT NULL,
			turn_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			tokens INT NOT NULL DEFAULT 0,
			intent TEXT NOT NULL DEFAULT '',
			salient BOOLEAN NOT NULL DEFAULT FALSE,
			tool_call JSONB,
			created_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (user_id, session_id, seq)
		);`,
		`CREATE TABLE IF NOT EXISTS summaries (
			user_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			start_seq BIGINT NOT NULL,
			end_seq BIGINT NOT NULL,
			content TEXT NOT NULL,
			tags JSONB NOT NULL DEFAULT '[]',
			user_facts JSONB NOT NULL DEFAULT '[]',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (user_id, session_id, start_seq, end_seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_turns_conv_seq ON turns (user_id, session_id, seq DESC);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresEpisodicStore) AppendTurn(ctx context.Context, id conversation.ID, turn conversation.Turn) error {
	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}

	var toolCall []byte
	if turn.ToolCall != nil {
		b, err := json.Marshal(turn.ToolCall)
		if err != nil {
			return fmt.Errorf("marshal tool call: %w", err)
		}
		toolCall = b
	}

	// ON CONFLICT DO NOTHING makes eviction retries no-ops by seq.
	_, err := s.pool.Exec(ctx,
		`INSERT INTO turns (user_id, session_id, seq, turn_id, role, content, tokens, intent, salient, tool_call, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (user_id, session_id, seq) DO NOTHING`,
		id.UserID, id.SessionID, turn.Seq, turn.ID, string(turn.Role), turn.Content,
		turn.Tokens, turn.Intent, turn.Salient, toolCall, turn.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append turn: %w", err)
	}
	return nil
}

func (s *PostgresEpisodicStore) ReadRecent(ctx context.Context, id conversation.ID, n int) ([]conversation.Turn, error) {
	if n <= 0 {
		n = 20
	}
	rows, err := s.pool.Query(ctx,
		`SELECT seq, turn_id, role, content, tokens, intent, salient, tool_call, created_at
		 FROM turns WHERE user_id=$1 AND session_id=$2 ORDER BY seq DESC LIMIT $3`,
		id.UserID, id.SessionID, n,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent turns: %w", err)
	}
	defer rows.Close()

	items, err := scanTurns(rows)
	if err != nil {
		return nil, err
	}

	// Reverse into chronological order.
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
	return items, nil
}

func (s *PostgresEpisodicStore) ReadRange(ctx context.Context, id conversation.ID, fromSeq, toSeq int64) ([]conversation.Turn, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT seq, turn_id, role, content, tokens, intent, salient, tool_call, created_at
		 FROM turns WHERE user_id=$1 AND session_id=$2 AND seq BETWEEN $3 AND $4 ORDER BY seq ASC`,
		id.UserID, id.SessionID, fromSeq, toSeq,
	)
	if err != nil {
		return nil, fmt.Errorf("query turn range: %w", err)
	}
	defer rows.Close()
	return scanTurns(rows)
}

func scanTurns(rows pgx.Rows) ([]conversation.Turn, error) {
	var items []conversation.Turn
	for rows.Next() {
		var (
			t        conversation.Turn
			role     string
			toolCall []byte
		)
		if err := rows.Scan(&t.Seq, &t.ID, &role, &t.Content, &t.Tokens, &t.Intent, &t.Salient, &toolCall, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan turn row: %w", err)
		}
		t.Role = conversation.Role(role)
		if len(toolCall) > 0 {
			var rec conversation.ToolRecord
			if err := json.Unmarshal(toolCall, &rec); err == nil {
				t.ToolCall = &rec
			}
		}
		items = append(items, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turn rows: %w", err)
	}
	return items, nil
}

func (s *PostgresEpisodicStore) WriteSummary(ctx context.Context, id conversation.ID, summary conversation.Summary) error {
	tags, err := json.Marshal(summary.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	facts, err := json.Marshal(summary.UserFacts)
	if err != nil {
		return fmt.Errorf("marshal user facts: %w", err)
	}
	if summary.CreatedAt.IsZero() {
		summary.CreatedAt = time.Now().UTC()
	}

	// The overlap guard keeps covered ranges disjoint under at-least-once
	// summarization delivery.
	_, err = s.pool.Exec(ctx,
		`INSERT INTO summaries (user_id, session_id, start_seq, end_seq, content, tags, user_facts, created_at)
		 SELECT $1, $2, $3, $4, $5, $6, $7, $8
		 WHERE NOT EXISTS (
			SELECT 1 FROM summaries
			WHERE user_id=$1 AND session_id=$2 AND start_seq <= $4 AND end_seq >= $3
		 )`,
		id.UserID, id.SessionID, summary.StartSeq, summary.EndSeq,
		summary.Content, tags, facts, summary.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	return nil
}

func (s *PostgresEpisodicStore) LatestSummary(ctx context.Context, id conversation.ID) (*conversation.Summary, error) {
	var (
		summary conversation.Summary
		tags    []byte
		facts   []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT start_seq, end_seq, content, tags, user_facts, created_at
		 FROM summaries WHERE user_id=$1 AND session_id=$2 ORDER BY end_seq DESC LIMIT 1`,
		id.UserID, id.SessionID,
	).Scan(&summary.StartSeq, &summary.EndSeq, &summary.Content, &tags, &facts, &summary.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query latest summary: %w", err)
	}
	_ = json.Unmarshal(tags, &summary.Tags)
	_ = json.Unmarshal(facts, &summary.UserFacts)
	return &summary, nil
}

func (s *PostgresEpisodicStore) State(ctx context.Context, id conversation.ID) (*conversation.State, error) {
	state := conversation.State{Conversation: id}
	var metadata []byte
	err := s.pool.QueryRow(ctx,
		`SELECT current_node, metadata, committed_turns, version
		 FROM conversations WHERE user_id=$1 AND session_id=$2`,
		id.UserID, id.SessionID,
	).Scan(&state.CurrentNode, &metadata, &state.CommittedTurns, &state.Version)
	if err == pgx.ErrNoRows {
		return nil, ErrStateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query conversation state: %w", err)
	}
	state.Metadata = make(conversation.Metadata)
	_ = json.Unmarshal(metadata, &state.Metadata)
	return &state, nil
}

func (s *PostgresEpisodicStore) SaveState(ctx context.Context, state *conversation.State) error {
	metadata, err := json.Marshal(state.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO conversations (user_id, session_id, current_node, metadata, committed_turns, version, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6 + 1, now())
		 ON CONFLICT (user_id, session_id) DO UPDATE SET
			current_node = EXCLUDED.current_node,
			metadata = EXCLUDED.metadata,
			committed_turns = EXCLUDED.committed_turns,
			version = conversations.version + 1,
			updated_at = now()
		 WHERE conversations.version = $6`,
		state.Conversation.UserID, state.Conversation.SessionID,
		state.CurrentNode, metadata, state.CommittedTurns, state.Version,
	)
	if err != nil {
		return fmt.Errorf("save conversation state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return conversation.ErrVersionConflict
	}
	state.Version++
	return nil
}

func (s *PostgresEpisodicStore) Close() error {
	s.pool.Close()
	return nil
}
