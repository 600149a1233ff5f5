package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/vieroc/salespilot/internal/conversation"
)

// ChromemIndex is the embedded in-process semantic tier, used when no
// Postgres is configured. chromem-go is a pure Go vector database; each
// conversation gets its own collection for namespace isolation.
type ChromemIndex struct {
	db          *chromem.DB
	mu          sync.RWMutex
	collections map[conversation.ID]*chromem.Collection
}

func NewChromemIndex() *ChromemIndex {
	return &ChromemIndex{
		db:          chromem.NewDB(),
		collections: make(map[conversation.ID]*chromem.Collection),
	}
}

func (s *ChromemIndex) collection(id conversation.ID) (*chromem.Collection, error) {
	s.mu.RLock()
	col, ok := s.collections[id]
	s.mu.RUnlock()
	if ok {
		return col, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if col, ok := s.collections[id]; ok {
		return col, nil
	}

	col, err := s.db.CreateCollection("conv_"+id.UserID+"_"+id.SessionID, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}
	s.collections[id] = col
	return col, nil
}

func (s *ChromemIndex) Index(ctx context.Context, id conversation.ID, turn conversation.Turn, embedding []float32) error {
	col, err := s.collection(id)
	if err != nil {
		return err
	}

	content, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("marshal turn: %w", err)
	}

	err = col.AddDocument(ctx, chromem.Document{
		ID:        fmt.Sprintf("%s/%d", id, turn.Seq),
		Content:   string(content),
		Embedding: embedding,
		Metadata: map[string]string{
			"role": string(turn.Role),
			"seq":  fmt.Sprintf("%d", turn.Seq),
		},
	})
	if err != nil {
		return fmt.Errorf("add document: %w", err)
	}
	return nil
}

func (s *ChromemIndex) Search(ctx context.Context, id conversation.ID, query []float32, topK int) ([]conversation.Turn, error) {
	col, err := s.collection(id)
	if err != nil {
		return nil, err
	}

	// chromem rejects nResults beyond the collection size.
	if count := col.Count(); topK > count {
		topK = count
	}
	if topK <= 0 {
		return nil, nil
	}

	results, err := col.QueryEmbedding(ctx, query, topK, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query embedding: %w", err)
	}

	out := make([]conversation.Turn, 0, len(results))
	for _, res := range results {
		var turn conversation.Turn
		if err := json.Unmarshal([]byte(res.Content), &turn); err != nil {
			continue
		}
		out = append(out, turn)
	}
	return out, nil
}

func (s *ChromemIndex) Close() error { return nil }
