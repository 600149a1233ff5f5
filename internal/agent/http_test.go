package agent

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPInvokerPostsStagePath(t *testing.T) {
	var gotPath string
	var gotBody IntentInput
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"clean_intent_text":"hi","intent_code":"greeting","confidence":0.9}`))
	}))
	defer srv.Close()

	inv := NewHTTPInvoker(srv.URL, 100)
	raw, err := inv.Invoke(context.Background(), StageIntent, IntentInput{RawMessage: "hi"})
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if gotPath != "/"+string(StageIntent) {
		t.Fatalf("path = %q, want %q", gotPath, "/"+string(StageIntent))
	}
	if gotBody.RawMessage != "hi" {
		t.Fatalf("forwarded raw_message = %q, want %q", gotBody.RawMessage, "hi")
	}

	var out IntentResult
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("unmarshal output: %v", err)
	}
	if out.IntentCode != "greeting" {
		t.Fatalf("intent_code = %q, want greeting", out.IntentCode)
	}
}

func TestHTTPInvokerClassifiesStatusCodes(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"bad request is invalid output", http.StatusBadRequest, ErrInvalidOutput},
		{"server error is unavailable", http.StatusInternalServerError, ErrUnavailable},
		{"throttling is unavailable", http.StatusTooManyRequests, ErrUnavailable},
		{"gateway timeout is timeout", http.StatusGatewayTimeout, ErrTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			inv := NewHTTPInvoker(srv.URL, 100)
			_, err := inv.Invoke(context.Background(), StageIntent, IntentInput{RawMessage: "hi"})
			if !errors.Is(err, tt.want) {
				t.Fatalf("Invoke() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestHTTPInvokerRejectsNonJSONBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer srv.Close()

	inv := NewHTTPInvoker(srv.URL, 100)
	_, err := inv.Invoke(context.Background(), StageIntent, IntentInput{RawMessage: "hi"})
	if !errors.Is(err, ErrInvalidOutput) {
		t.Fatalf("Invoke() error = %v, want ErrInvalidOutput", err)
	}
}

func TestRegistryInvokerDispatchesAndEncodes(t *testing.T) {
	reg := NewRegistryInvoker()
	reg.Register(StageIntent, func(_ context.Context, input json.RawMessage) (any, error) {
		var in IntentInput
		if err := json.Unmarshal(input, &in); err != nil {
			return nil, err
		}
		return IntentResult{CleanIntentText: in.RawMessage, IntentCode: "greeting", Confidence: 1}, nil
	})

	raw, err := reg.Invoke(context.Background(), StageIntent, IntentInput{RawMessage: "xin chao"})
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	var out IntentResult
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("unmarshal output: %v", err)
	}
	if out.CleanIntentText != "xin chao" {
		t.Fatalf("clean_intent_text = %q, want %q", out.CleanIntentText, "xin chao")
	}
}

func TestRegistryInvokerUnregisteredStageIsUnavailable(t *testing.T) {
	reg := NewRegistryInvoker()
	_, err := reg.Invoke(context.Background(), StageDraft, DraftInput{})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Invoke() error = %v, want ErrUnavailable", err)
	}
}
