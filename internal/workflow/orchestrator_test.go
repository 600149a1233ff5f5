package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/vieroc/salespilot/internal/agent"
	"github.com/vieroc/salespilot/internal/catalog"
	"github.com/vieroc/salespilot/internal/conversation"
	"github.com/vieroc/salespilot/internal/memory"
)

// scriptedInvoker delegates to the deterministic local invoker, with
// per-stage overrides keyed by call count.
type scriptedInvoker struct {
	local *agent.LocalInvoker

	mu        sync.Mutex
	calls     map[agent.Stage]int
	overrides map[agent.Stage]func(call int, input any) (json.RawMessage, error)
}

func newScriptedInvoker() *scriptedInvoker {
	return &scriptedInvoker{
		local:     agent.NewLocalInvoker(),
		calls:     make(map[agent.Stage]int),
		overrides: make(map[agent.Stage]func(int, any) (json.RawMessage, error)),
	}
}

func (s *scriptedInvoker) override(stage agent.Stage, fn func(call int, input any) (json.RawMessage, error)) {
	s.overrides[stage] = fn
}

func (s *scriptedInvoker) callCount(stage agent.Stage) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[stage]
}

func (s *scriptedInvoker) Invoke(ctx context.Context, stage agent.Stage, input any) (json.RawMessage, error) {
	s.mu.Lock()
	s.calls[stage]++
	call := s.calls[stage]
	fn := s.overrides[stage]
	s.mu.Unlock()
	if fn != nil {
		return fn(call, input)
	}
	return s.local.Invoke(ctx, stage, input)
}

func newTestOrchestrator(t *testing.T, invoker agent.Invoker) (*Orchestrator, *memory.Manager, *memory.InMemoryEpisodicStore) {
	t.Helper()
	store := memory.NewInMemoryEpisodicStore()
	mem := memory.NewManager(memory.ManagerConfig{
		WindowSize:       5,
		StartNode:        "greeting",
		SynchronousTasks: true,
	}, store, nil, nil, nil, nil)
	t.Cleanup(func() { mem.Close() })

	gw := agent.NewGateway(invoker, agent.Config{}, nil)
	orch := NewOrchestrator(Config{ShopID: "shop-1"}, mem, gw, catalog.NewStaticSource(nil), nil, nil)
	return orch, mem, store
}

func convID() conversation.ID {
	return conversation.ID{UserID: "u1", SessionID: "s1"}
}

func TestSalesPathCommitsResponse(t *testing.T) {
	orch, mem, _ := newTestOrchestrator(t, newScriptedInvoker())
	ctx := context.Background()

	out, err := orch.HandleMessage(ctx, convID(), "Hi, I am looking for a hoodie")
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if out.State != StateCommitted {
		t.Fatalf("State = %q, want committed", out.State)
	}
	if out.Routing.Branch != conversation.BranchSales {
		t.Fatalf("Branch = %q, want sales", out.Routing.Branch)
	}
	if out.ResponseText == "" {
		t.Fatal("ResponseText empty")
	}
	if out.UserSeq != 1 || out.AssistantSeq != 2 {
		t.Fatalf("seqs = %d/%d, want 1/2", out.UserSeq, out.AssistantSeq)
	}

	st, err := mem.State(ctx, convID())
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if st.CommittedTurns != 2 {
		t.Fatalf("CommittedTurns = %d, want 2", st.CommittedTurns)
	}
	if st.Metadata["routed_branch"] != "sales-path" {
		t.Fatalf("routed_branch = %v, want sales-path", st.Metadata["routed_branch"])
	}
	if st.Metadata["customer_label"] == nil {
		t.Fatal("customer_label metadata missing")
	}
}

func TestHandoffPathCommitsNoAssistantTurn(t *testing.T) {
	orch, mem, _ := newTestOrchestrator(t, newScriptedInvoker())
	ctx := context.Background()

	out, err := orch.HandleMessage(ctx, convID(), "I want to speak to a real person")
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if out.State != StateCommitted {
		t.Fatalf("State = %q, want committed", out.State)
	}
	if out.Routing.Branch != conversation.BranchHandoff {
		t.Fatalf("Branch = %q, want handoff", out.Routing.Branch)
	}
	if out.ResponseText != "" {
		t.Fatalf("ResponseText = %q, want empty on handoff", out.ResponseText)
	}
	if out.HandoffReason == "" {
		t.Fatal("HandoffReason empty")
	}

	st, _ := mem.State(ctx, convID())
	if st.CommittedTurns != 1 {
		t.Fatalf("CommittedTurns = %d, want only the user turn", st.CommittedTurns)
	}
	if st.Metadata["handoff_required"] != true {
		t.Fatalf("handoff_required = %v, want true", st.Metadata["handoff_required"])
	}
	if st.Metadata["handoff_reason"] == "" || st.Metadata["handoff_reason"] == nil {
		t.Fatal("handoff_reason metadata missing")
	}
}

func TestSequentialStageFailureFailsRequestKeepsUserTurn(t *testing.T) {
	invoker := newScriptedInvoker()
	invoker.override(agent.StageRequirement, func(int, any) (json.RawMessage, error) {
		return nil, errors.New("backend down")
	})
	orch, mem, _ := newTestOrchestrator(t, invoker)
	ctx := context.Background()

	out, err := orch.HandleMessage(ctx, convID(), "I need a shirt")
	if err == nil {
		t.Fatal("HandleMessage = nil error, want failure")
	}
	if out.State != StateFailed {
		t.Fatalf("State = %q, want failed", out.State)
	}
	if out.FailureReason == "" {
		t.Fatal("FailureReason empty")
	}

	st, serr := mem.State(ctx, convID())
	if serr != nil {
		t.Fatalf("State: %v", serr)
	}
	if st.CommittedTurns != 1 {
		t.Fatalf("CommittedTurns = %d, want user turn preserved", st.CommittedTurns)
	}
}

func TestAnalysisFailureDegradesToSalesPath(t *testing.T) {
	invoker := newScriptedInvoker()
	invoker.override(agent.StageIntent, func(int, any) (json.RawMessage, error) {
		return nil, errors.New("intent analyzer down")
	})
	invoker.override(agent.StageHandoff, func(int, any) (json.RawMessage, error) {
		return nil, errors.New("handoff analyzer down")
	})
	orch, _, _ := newTestOrchestrator(t, invoker)

	out, err := orch.HandleMessage(context.Background(), convID(), "looking for a jacket")
	if err != nil {
		t.Fatalf("HandleMessage with both analyzers down: %v", err)
	}
	if out.State != StateCommitted {
		t.Fatalf("State = %q, want committed via neutral degradation", out.State)
	}
	if out.Routing.Branch != conversation.BranchSales {
		t.Fatalf("Branch = %q, want sales (neutral signals never force handoff)", out.Routing.Branch)
	}
}

func TestGuardrailGrantsExactlyOneRedraft(t *testing.T) {
	invoker := newScriptedInvoker()
	invoker.override(agent.StageDraft, func(call int, input any) (json.RawMessage, error) {
		in := input.(agent.DraftInput)
		if call == 1 {
			if in.RejectionNote != "" {
				return nil, errors.New("first draft must not carry a rejection note")
			}
			return json.RawMessage(`{"response_text":"This hoodie is 100% risk-free, I guarantee it!","stay_in_sales_node":false}`), nil
		}
		if in.RejectionNote == "" {
			return nil, errors.New("redraft must carry the rejection note")
		}
		return json.RawMessage(`{"response_text":"The hoodie set is in stock at 499000.","stay_in_sales_node":false}`), nil
	})
	orch, _, _ := newTestOrchestrator(t, invoker)

	out, err := orch.HandleMessage(context.Background(), convID(), "I want a hoodie")
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if out.State != StateCommitted {
		t.Fatalf("State = %q, want committed after one redraft", out.State)
	}
	if !strings.Contains(out.ResponseText, "499000") {
		t.Fatalf("ResponseText = %q, want the redrafted reply", out.ResponseText)
	}
	if got := invoker.callCount(agent.StageDraft); got != 2 {
		t.Fatalf("draft calls = %d, want 2", got)
	}
	if got := invoker.callCount(agent.StageGuardrail); got != 2 {
		t.Fatalf("guardrail calls = %d, want 2", got)
	}
}

func TestGuardrailSecondRejectionFails(t *testing.T) {
	invoker := newScriptedInvoker()
	invoker.override(agent.StageDraft, func(int, any) (json.RawMessage, error) {
		return json.RawMessage(`{"response_text":"I guarantee a miracle, 100% risk-free!","stay_in_sales_node":false}`), nil
	})
	orch, mem, _ := newTestOrchestrator(t, invoker)
	ctx := context.Background()

	out, err := orch.HandleMessage(ctx, convID(), "I want a hoodie")
	if err == nil {
		t.Fatal("HandleMessage = nil error, want guardrail failure")
	}
	if out.State != StateFailed {
		t.Fatalf("State = %q, want failed", out.State)
	}
	if got := invoker.callCount(agent.StageDraft); got != 2 {
		t.Fatalf("draft calls = %d, want exactly 2 (one redraft)", got)
	}

	st, _ := mem.State(ctx, convID())
	if st.CommittedTurns != 1 {
		t.Fatalf("CommittedTurns = %d, want no assistant turn after final rejection", st.CommittedTurns)
	}
}

func TestDoublecheckPersistedToMetadata(t *testing.T) {
	invoker := newScriptedInvoker()
	invoker.override(agent.StageGuardrail, func(int, any) (json.RawMessage, error) {
		return json.RawMessage(`{"approved":true,"sales_doublecheck":true,"reason_recheck":"stock level was inferred"}`), nil
	})
	orch, mem, _ := newTestOrchestrator(t, invoker)
	ctx := context.Background()

	out, err := orch.HandleMessage(ctx, convID(), "I want a hoodie")
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if !out.Doublecheck {
		t.Fatal("Outcome.Doublecheck = false, want true")
	}

	st, _ := mem.State(ctx, convID())
	if st.Metadata["sales_doublecheck"] != true {
		t.Fatalf("sales_doublecheck metadata = %v, want true", st.Metadata["sales_doublecheck"])
	}
	if st.Metadata["reason_recheck"] != "stock level was inferred" {
		t.Fatalf("reason_recheck metadata = %v", st.Metadata["reason_recheck"])
	}
}

func TestNodeAdvancementClampedByGraph(t *testing.T) {
	invoker := newScriptedInvoker()
	// The classifier proposes a node the graph does not allow from greeting.
	invoker.override(agent.StageStep, func(int, any) (json.RawMessage, error) {
		return json.RawMessage(`{"current_sales_node":"closing","allowed_next_nodes":[],"confidence":0.9}`), nil
	})
	orch, mem, _ := newTestOrchestrator(t, invoker)
	ctx := context.Background()

	out, err := orch.HandleMessage(ctx, convID(), "hello")
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if out.CurrentNode != "greeting" {
		t.Fatalf("CurrentNode = %q, want clamp back to greeting", out.CurrentNode)
	}

	st, _ := mem.State(ctx, convID())
	if st.CurrentNode != "greeting" {
		t.Fatalf("persisted node = %q, want greeting", st.CurrentNode)
	}
}

func TestNodeAdvancesOnLegalTransition(t *testing.T) {
	invoker := newScriptedInvoker()
	invoker.override(agent.StageStep, func(int, any) (json.RawMessage, error) {
		return json.RawMessage(`{"current_sales_node":"need_discovery","allowed_next_nodes":[],"confidence":0.9}`), nil
	})
	orch, _, _ := newTestOrchestrator(t, invoker)

	out, err := orch.HandleMessage(context.Background(), convID(), "I am looking for a shirt")
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if out.CurrentNode != "need_discovery" {
		t.Fatalf("CurrentNode = %q, want need_discovery", out.CurrentNode)
	}
}

func TestOutOfStockComboNeverOffered(t *testing.T) {
	invoker := newScriptedInvoker()
	invoker.override(agent.StageCombo, func(int, any) (json.RawMessage, error) {
		// Selection names a combo that is out of stock.
		return json.RawMessage(`{"selected_combo":"OUT-99","reason":"scripted"}`), nil
	})
	var sawCombo *agent.Combo
	invoker.override(agent.StageDraft, func(_ int, input any) (json.RawMessage, error) {
		in := input.(agent.DraftInput)
		sawCombo = in.SelectedCombo
		return json.RawMessage(`{"response_text":"Let me check availability for you.","stay_in_sales_node":true}`), nil
	})

	store := memory.NewInMemoryEpisodicStore()
	mem := memory.NewManager(memory.ManagerConfig{WindowSize: 5, StartNode: "greeting", SynchronousTasks: true}, store, nil, nil, nil, nil)
	t.Cleanup(func() { mem.Close() })
	gw := agent.NewGateway(invoker, agent.Config{}, nil)
	src := catalog.NewStaticSource([]catalog.Combo{{ID: "OUT-99", Products: []string{"ao_hoodie"}, Stock: 0, Price: 499000}})
	orch := NewOrchestrator(Config{ShopID: "shop-1"}, mem, gw, src, nil, nil)

	out, err := orch.HandleMessage(context.Background(), convID(), "I want a hoodie")
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if out.State != StateCommitted {
		t.Fatalf("State = %q, want committed", out.State)
	}
	if sawCombo != nil {
		t.Fatalf("draft saw combo %+v, want nil for out-of-stock selection", sawCombo)
	}
}

func TestPriceQuestionFallsBackToCatalogPick(t *testing.T) {
	invoker := newScriptedInvoker()
	invoker.override(agent.StageCombo, func(int, any) (json.RawMessage, error) {
		return json.RawMessage(`{"reason":"could not decide"}`), nil
	})
	var sawCombo *agent.Combo
	invoker.override(agent.StageDraft, func(_ int, input any) (json.RawMessage, error) {
		in := input.(agent.DraftInput)
		sawCombo = in.SelectedCombo
		return json.RawMessage(`{"response_text":"Here is the price you asked about.","stay_in_sales_node":true}`), nil
	})
	orch, _, _ := newTestOrchestrator(t, invoker)

	_, err := orch.HandleMessage(context.Background(), convID(), "how much is the ao hoodie?")
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if sawCombo == nil {
		t.Fatal("draft saw no combo, want the catalog fallback pick for a price question")
	}
}
