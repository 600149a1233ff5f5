package memory

import (
	"context"
	"errors"

	"github.com/vieroc/salespilot/internal/conversation"
)

// Window is the materialized context view handed to pipeline stages. Built
// fresh per request, never persisted.
type Window struct {
	Recent   []conversation.Turn   `json:"recent"`
	Summary  *conversation.Summary `json:"summary,omitempty"`
	Relevant []conversation.Turn   `json:"relevant,omitempty"`
}

// Empty reports whether the window carries no context at all.
func (w Window) Empty() bool {
	return len(w.Recent) == 0 && w.Summary == nil && len(w.Relevant) == 0
}

// EpisodicStore is the durable, append-only conversation log plus the
// versioned conversation state record. AppendTurn is idempotent by
// (conversation, seq); re-appending an already durable turn is a no-op.
type EpisodicStore interface {
	AppendTurn(ctx context.Context, id conversation.ID, turn conversation.Turn) error
	ReadRecent(ctx context.Context, id conversation.ID, n int) ([]conversation.Turn, error)
	ReadRange(ctx context.Context, id conversation.ID, fromSeq, toSeq int64) ([]conversation.Turn, error)
	WriteSummary(ctx context.Context, id conversation.ID, summary conversation.Summary) error
	LatestSummary(ctx context.Context, id conversation.ID) (*conversation.Summary, error)
	State(ctx context.Context, id conversation.ID) (*conversation.State, error)
	SaveState(ctx context.Context, state *conversation.State) error
	Close() error
}

// SemanticIndex is the derived, best-effort similarity tier. Unavailability
// degrades context assembly, never fails it.
type SemanticIndex interface {
	Index(ctx context.Context, id conversation.ID, turn conversation.Turn, embedding []float32) error
	Search(ctx context.Context, id conversation.ID, query []float32, topK int) ([]conversation.Turn, error)
	Close() error
}

// Embedder turns text into a vector for the semantic tier.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Summarizer condenses a committed turn range into a summary. The production
// implementation is a gateway stage call; tests use fakes.
type Summarizer interface {
	Summarize(ctx context.Context, id conversation.ID, turns []conversation.Turn, oldSummary string) (conversation.Summary, error)
}

var (
	// ErrStateNotFound signals a conversation with no durable state yet.
	ErrStateNotFound = errors.New("conversation state not found")
	// ErrStoreClosed signals use after Close.
	ErrStoreClosed = errors.New("store closed")
)
