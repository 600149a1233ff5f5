package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/vieroc/salespilot/internal/observability"
)

// Invoker executes one raw stage call against a collaborator backend and
// returns its JSON output. Implementations classify their own failures onto
// the gateway sentinels where they can tell; anything unclassified counts as
// unavailability.
type Invoker interface {
	Invoke(ctx context.Context, stage Stage, input any) (json.RawMessage, error)
}

// Config tunes gateway behavior shared by all stages.
type Config struct {
	// StageTimeout bounds a single collaborator call.
	StageTimeout time.Duration
	// BreakerMaxFailures consecutive failures trip a stage's breaker.
	BreakerMaxFailures uint32
	// BreakerCooldown is how long a tripped breaker stays open.
	BreakerCooldown time.Duration
}

func (c Config) withDefaults() Config {
	if c.StageTimeout <= 0 {
		c.StageTimeout = 10 * time.Second
	}
	if c.BreakerMaxFailures == 0 {
		c.BreakerMaxFailures = 3
	}
	if c.BreakerCooldown <= 0 {
		c.BreakerCooldown = 30 * time.Second
	}
	return c
}

// Gateway is the single chokepoint for collaborator calls: per-call timeout,
// a per-stage circuit breaker, failure classification, and stage metrics.
type Gateway struct {
	invoker Invoker
	cfg     Config
	metrics *observability.Metrics

	mu       sync.Mutex
	breakers map[Stage]*gobreaker.CircuitBreaker
}

// NewGateway wraps an invoker. metrics may be nil.
func NewGateway(invoker Invoker, cfg Config, metrics *observability.Metrics) *Gateway {
	return &Gateway{
		invoker:  invoker,
		cfg:      cfg.withDefaults(),
		metrics:  metrics,
		breakers: make(map[Stage]*gobreaker.CircuitBreaker),
	}
}

func (g *Gateway) breaker(stage Stage) *gobreaker.CircuitBreaker {
	g.mu.Lock()
	defer g.mu.Unlock()
	cb, ok := g.breakers[stage]
	if !ok {
		cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    string(stage),
			Timeout: g.cfg.BreakerCooldown,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= g.cfg.BreakerMaxFailures
			},
			// Malformed output means the collaborator answered; it must not
			// trip the breaker the way connectivity failures do.
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, ErrInvalidOutput)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Printf("agent: breaker %s %s -> %s", name, from, to)
			},
		})
		g.breakers[stage] = cb
	}
	return cb
}

// invoke runs the raw call with timeout and breaker, classifying the error.
func (g *Gateway) invoke(ctx context.Context, stage Stage, input any) (json.RawMessage, time.Duration, error) {
	cctx, cancel := context.WithTimeout(ctx, g.cfg.StageTimeout)
	defer cancel()

	started := time.Now()
	out, err := g.breaker(stage).Execute(func() (any, error) {
		return g.invoker.Invoke(cctx, stage, input)
	})
	elapsed := time.Since(started)
	if err != nil {
		return nil, elapsed, classify(stage, cctx, err)
	}
	raw, ok := out.(json.RawMessage)
	if !ok {
		return nil, elapsed, fmt.Errorf("stage %s returned %T: %w", stage, out, ErrInvalidOutput)
	}
	return raw, elapsed, nil
}

func classify(stage Stage, ctx context.Context, err error) error {
	switch {
	case errors.Is(err, ErrTimeout), errors.Is(err, ErrInvalidOutput), errors.Is(err, ErrUnavailable):
		return err
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return fmt.Errorf("stage %s breaker open: %w", stage, ErrUnavailable)
	case errors.Is(err, context.DeadlineExceeded), ctx.Err() == context.DeadlineExceeded:
		return fmt.Errorf("stage %s: %w", stage, ErrTimeout)
	case errors.Is(err, context.Canceled):
		return err
	default:
		return fmt.Errorf("stage %s: %v: %w", stage, err, ErrUnavailable)
	}
}

// Validator lets a stage result declare its own output contract. Violations
// classify as invalid output.
type Validator interface {
	Validate() error
}

// Call runs one stage through the gateway and decodes the typed result.
func Call[T any](ctx context.Context, g *Gateway, stage Stage, input any) (T, StageResult, error) {
	var out T
	res := StageResult{Stage: stage}

	raw, elapsed, err := g.invoke(ctx, stage, input)
	res.Elapsed = elapsed
	if err == nil {
		if uerr := json.Unmarshal(raw, &out); uerr != nil {
			err = fmt.Errorf("decode %s output: %v: %w", stage, uerr, ErrInvalidOutput)
		}
	}
	if err == nil {
		if v, ok := any(&out).(Validator); ok {
			if verr := v.Validate(); verr != nil {
				err = fmt.Errorf("stage %s output: %v: %w", stage, verr, ErrInvalidOutput)
			}
		}
	}

	if err != nil {
		res.Failure = KindOf(err)
		g.observe(res)
		return out, res, err
	}
	res.OK = true
	res.Output = out
	g.observe(res)
	return out, res, nil
}

func (g *Gateway) observe(res StageResult) {
	if g.metrics == nil {
		return
	}
	g.metrics.ObserveStageLatency(string(res.Stage), res.Elapsed)
	if res.Failure != FailureNone {
		g.metrics.StageFailures.WithLabelValues(string(res.Stage), string(res.Failure)).Inc()
	}
}
