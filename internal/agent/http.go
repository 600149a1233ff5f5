package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// HTTPInvoker forwards stage calls to an external collaborator service as
// POST {baseURL}/{stage} with the stage input as the JSON body. The service
// replies with the stage's JSON output.
type HTTPInvoker struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
}

func NewHTTPInvoker(baseURL string, rps float64) *HTTPInvoker {
	if rps <= 0 {
		rps = 5
	}
	return &HTTPInvoker{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
		limiter: rate.NewLimiter(rate.Limit(rps), int(rps)+1),
	}
}

func (h *HTTPInvoker) Invoke(ctx context.Context, stage Stage, input any) (json.RawMessage, error) {
	if err := h.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("marshal %s input: %w", stage, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/"+string(stage), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create %s request: %w", stage, err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := h.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ErrTimeout
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrUnavailable, stage, err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", stage, err)
	}

	switch {
	case res.StatusCode >= 200 && res.StatusCode < 300:
	case res.StatusCode == http.StatusRequestTimeout || res.StatusCode == http.StatusGatewayTimeout:
		return nil, ErrTimeout
	case res.StatusCode >= 400 && res.StatusCode < 500 && res.StatusCode != http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: %s status %d: %s", ErrInvalidOutput, stage, res.StatusCode, truncateBody(body))
	default:
		return nil, fmt.Errorf("%w: %s status %d: %s", ErrUnavailable, stage, res.StatusCode, truncateBody(body))
	}

	if !json.Valid(body) {
		return nil, fmt.Errorf("%w: %s returned non-JSON body", ErrInvalidOutput, stage)
	}
	return json.RawMessage(body), nil
}

func truncateBody(body []byte) string {
	const limit = 256
	s := strings.TrimSpace(string(body))
	if len(s) > limit {
		return s[:limit]
	}
	return s
}
