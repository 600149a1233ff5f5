package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vieroc/salespilot/internal/conversation"
)

// InMemoryEpisodicStore is the in-process episodic tier for local/dev use
// and tests. Same contract as the Postgres store, minus durability across
// restarts.
type InMemoryEpisodicStore struct {
	mu        sync.RWMutex
	turns     map[conversation.ID][]conversation.Turn
	summaries map[conversation.ID][]conversation.Summary
	states    map[conversation.ID]*conversation.State
	closed    bool
}

func NewInMemoryEpisodicStore() *InMemoryEpisodicStore {
	return &InMemoryEpisodicStore{
		turns:     make(map[conversation.ID][]conversation.Turn),
		summaries: make(map[conversation.ID][]conversation.Summary),
		states:    make(map[conversation.ID]*conversation.State),
	}
}

func (s *InMemoryEpisodicStore) AppendTurn(_ context.Context, id conversation.ID, turn conversation.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	arr := s.turns[id]
	// Idempotent by sequence number: a retried eviction write is a no-op.
	for _, existing := range arr {
		if existing.Seq == turn.Seq {
			return nil
		}
	}
	arr = append(arr, turn)
	sort.Slice(arr, func(i, j int) bool { return arr[i].Seq < arr[j].Seq })
	s.turns[id] = arr
	return nil
}

func (s *InMemoryEpisodicStore) ReadRecent(_ context.Context, id conversation.ID, n int) ([]conversation.Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	arr := s.turns[id]
	if len(arr) == 0 {
		return nil, nil
	}
	if n <= 0 || n > len(arr) {
		n = len(arr)
	}
	out := make([]conversation.Turn, n)
	copy(out, arr[len(arr)-n:])
	return out, nil
}

func (s *InMemoryEpisodicStore) ReadRange(_ context.Context, id conversation.ID, fromSeq, toSeq int64) ([]conversation.Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	var out []conversation.Turn
	for _, turn := range s.turns[id] {
		if turn.Seq >= fromSeq && turn.Seq <= toSeq {
			out = append(out, turn)
		}
	}
	return out, nil
}

func (s *InMemoryEpisodicStore) WriteSummary(_ context.Context, id conversation.ID, summary conversation.Summary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	// Covered ranges never overlap: a rewrite of an already-covered range is
	// a no-op, which makes summarization delivery at-least-once safe.
	for _, existing := range s.summaries[id] {
		if existing.Overlaps(summary.StartSeq, summary.EndSeq) {
			return nil
		}
	}
	if summary.CreatedAt.IsZero() {
		summary.CreatedAt = time.Now().UTC()
	}
	s.summaries[id] = append(s.summaries[id], summary)
	return nil
}

func (s *InMemoryEpisodicStore) LatestSummary(_ context.Context, id conversation.ID) (*conversation.Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	arr := s.summaries[id]
	if len(arr) == 0 {
		return nil, nil
	}
	latest := arr[0]
	for _, candidate := range arr[1:] {
		if candidate.EndSeq > latest.EndSeq {
			latest = candidate
		}
	}
	out := latest
	return &out, nil
}

func (s *InMemoryEpisodicStore) State(_ context.Context, id conversation.ID) (*conversation.State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	st, ok := s.states[id]
	if !ok {
		return nil, ErrStateNotFound
	}
	out := *st
	out.Metadata = st.Metadata.Clone()
	return &out, nil
}

func (s *InMemoryEpisodicStore) SaveState(_ context.Context, state *conversation.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	current, ok := s.states[state.Conversation]
	if ok && current.Version != state.Version {
		return conversation.ErrVersionConflict
	}
	saved := *state
	saved.Metadata = state.Metadata.Clone()
	saved.Version++
	s.states[state.Conversation] = &saved
	state.Version = saved.Version
	return nil
}

func (s *InMemoryEpisodicStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
