package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Handler produces a stage's output value from its raw JSON input.
type Handler func(ctx context.Context, input json.RawMessage) (any, error)

// RegistryInvoker dispatches stage calls to in-process handler funcs. It
// backs custom local deployments and is the seam tests plug into.
type RegistryInvoker struct {
	mu       sync.RWMutex
	handlers map[Stage]Handler
}

func NewRegistryInvoker() *RegistryInvoker {
	return &RegistryInvoker{handlers: make(map[Stage]Handler)}
}

func (r *RegistryInvoker) Register(stage Stage, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[stage] = h
}

func (r *RegistryInvoker) Invoke(ctx context.Context, stage Stage, input any) (json.RawMessage, error) {
	r.mu.RLock()
	h, ok := r.handlers[stage]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: no handler for stage %s", ErrUnavailable, stage)
	}

	raw, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("marshal %s input: %w", stage, err)
	}
	out, err := h(ctx, raw)
	if err != nil {
		return nil, err
	}
	encoded, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("%w: encode %s output: %v", ErrInvalidOutput, stage, err)
	}
	return encoded, nil
}
