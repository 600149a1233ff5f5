package agent

import (
	"context"
	"encoding/json"
	"testing"
)

func invokeLocal[T any](t *testing.T, stage Stage, input any) T {
	t.Helper()
	raw, err := NewLocalInvoker().Invoke(context.Background(), stage, input)
	if err != nil {
		t.Fatalf("Invoke(%s): %v", stage, err)
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("decode %s output: %v", stage, err)
	}
	return out
}

func TestLocalIntentClassification(t *testing.T) {
	tests := []struct {
		message string
		want    string
	}{
		{"Hello there!", "greeting"},
		{"How much is the hoodie?", "ask_price"},
		{"What material is the shirt made of?", "ask_product_info"},
		{"I want to buy two of these", "purchase_intent"},
		{"This is the worst shirt I ever bought, I want a refund", "complaint"},
		{"Tell me about your store", "general_inquiry"},
	}
	for _, tt := range tests {
		got := invokeLocal[IntentResult](t, StageIntent, IntentInput{RawMessage: tt.message})
		if got.IntentCode != tt.want {
			t.Fatalf("intent(%q) = %q, want %q", tt.message, got.IntentCode, tt.want)
		}
		if got.CleanIntentText == "" {
			t.Fatalf("intent(%q) produced empty clean_intent_text", tt.message)
		}
	}
}

func TestLocalHandoffFlagsAndRisk(t *testing.T) {
	got := invokeLocal[HandoffResult](t, StageHandoff, HandoffInput{
		RawMessage: "This gave me a rash, I am furious and my lawyer will hear about it",
	})
	if !got.PolicyFlags.Medical || !got.PolicyFlags.Legal {
		t.Fatalf("policy flags = %+v, want medical and legal raised", got.PolicyFlags)
	}
	if got.RiskLevel != RiskHigh {
		t.Fatalf("risk = %q, want high", got.RiskLevel)
	}
	if !got.HandoffRequired {
		t.Fatal("HandoffRequired = false, want true for policy-flagged message")
	}
}

func TestLocalHandoffExplicitHumanRequest(t *testing.T) {
	got := invokeLocal[HandoffResult](t, StageHandoff, HandoffInput{
		RawMessage: "Can I speak to a real person please",
	})
	if !got.HandoffRequired {
		t.Fatal("HandoffRequired = false, want true")
	}
	if got.HandoffReason == "" {
		t.Fatal("HandoffReason empty, want a reason")
	}
}

func TestLocalHandoffNeutral(t *testing.T) {
	got := invokeLocal[HandoffResult](t, StageHandoff, HandoffInput{
		RawMessage: "Do you have this in blue?",
	})
	if got.HandoffRequired {
		t.Fatalf("HandoffRequired = true for %q, want false", "Do you have this in blue?")
	}
	if got.RiskLevel != RiskLow {
		t.Fatalf("risk = %q, want low", got.RiskLevel)
	}
}

func TestLocalStepRespectsGraphView(t *testing.T) {
	view := SalesGraphView{
		Nodes:       []string{"greeting", "need_discovery", "price_discussion", "closing"},
		CurrentNode: "greeting",
		AllowedNext: []string{"greeting", "need_discovery", "price_discussion"},
	}

	got := invokeLocal[StepResult](t, StageStep, StepInput{
		CleanIntentText: "how much is the hoodie",
		SalesGraph:      view,
	})
	if got.CurrentSalesNode != "price_discussion" {
		t.Fatalf("node for price question = %q, want price_discussion", got.CurrentSalesNode)
	}

	// "closing" is not reachable from greeting; the classifier must stay put.
	got = invokeLocal[StepResult](t, StageStep, StepInput{
		CleanIntentText: "i will take it, checkout please",
		SalesGraph:      view,
	})
	if got.CurrentSalesNode != "greeting" {
		t.Fatalf("node for unreachable proposal = %q, want greeting", got.CurrentSalesNode)
	}
}

func TestLocalComboPrefersStockedMatch(t *testing.T) {
	got := invokeLocal[ComboResult](t, StageCombo, ComboInput{
		Requirements: Requirements{Explicit: []string{"i need a hoodie for winter"}},
		AvailableCombos: []Combo{
			{ComboID: "OUT-01", Products: []string{"hoodie"}, Stock: 0, Price: 499000},
			{ComboID: "IN-02", Products: []string{"hoodie", "beanie"}, Stock: 5, Price: 599000},
			{ComboID: "IN-03", Products: []string{"shorts"}, Stock: 9, Price: 199000},
		},
	})
	if got.SelectedCombo != "IN-02" {
		t.Fatalf("SelectedCombo = %q, want IN-02", got.SelectedCombo)
	}
}

func TestLocalComboNoStock(t *testing.T) {
	got := invokeLocal[ComboResult](t, StageCombo, ComboInput{
		Requirements:    Requirements{Explicit: []string{"hoodie"}},
		AvailableCombos: []Combo{{ComboID: "OUT-01", Products: []string{"hoodie"}, Stock: 0}},
	})
	if got.SelectedCombo != "" {
		t.Fatalf("SelectedCombo = %q, want empty when nothing is in stock", got.SelectedCombo)
	}
	if got.Reason == "" {
		t.Fatal("Reason empty, want explanation")
	}
}

func TestLocalDraftRedraftIsConservative(t *testing.T) {
	first := invokeLocal[DraftResult](t, StageDraft, DraftInput{
		SalesNode:  "closing",
		TonePolicy: "professional_warm",
	})
	if first.ResponseText == "" {
		t.Fatal("first draft empty")
	}

	redraft := invokeLocal[DraftResult](t, StageDraft, DraftInput{
		SalesNode:     "closing",
		TonePolicy:    "professional_warm",
		RejectionNote: "overclaiming language",
	})
	if !redraft.StayInSalesNode {
		t.Fatal("redraft StayInSalesNode = false, want true")
	}
	if redraft.ResponseText == first.ResponseText {
		t.Fatal("redraft identical to first draft, want a revised reply")
	}
}

func TestLocalGuardrail(t *testing.T) {
	ok := invokeLocal[GuardrailVerdict](t, StageGuardrail, GuardrailInput{
		ResponseText: "The hoodie set is 599000 and in stock.",
	})
	if !ok.Approved {
		t.Fatalf("verdict = %+v, want approved", ok)
	}

	bad := invokeLocal[GuardrailVerdict](t, StageGuardrail, GuardrailInput{
		ResponseText: "I guarantee this will change your life, 100% risk-free!",
	})
	if bad.Approved {
		t.Fatal("overclaiming draft approved, want rejection")
	}
	if !bad.Doublecheck || bad.ReasonRecheck == "" {
		t.Fatalf("verdict = %+v, want doublecheck with reason", bad)
	}
}

func TestLocalSummaryFoldsOldSummary(t *testing.T) {
	got := invokeLocal[SummaryResult](t, StageSummary, SummaryInput{
		OldSummary: "customer likes hoodies",
		Messages: []WindowMessage{
			{Role: "user", Content: "do you have it in black"},
			{Role: "assistant", Content: "yes, in all sizes"},
		},
	})
	if got.Summary == "" {
		t.Fatal("summary empty")
	}
	if want := "customer likes hoodies"; len(got.Summary) < len(want) {
		t.Fatalf("summary %q does not carry the old summary", got.Summary)
	}
}
