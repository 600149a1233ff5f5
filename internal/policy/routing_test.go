package policy

import (
	"strings"
	"testing"

	"github.com/vieroc/salespilot/internal/agent"
	"github.com/vieroc/salespilot/internal/conversation"
)

func TestRouteHandoffRequired(t *testing.T) {
	d := Route(agent.IntentResult{IntentCode: "product_inquiry"}, agent.HandoffResult{
		HandoffRequired: true,
		HandoffReason:   "asked for a human",
		RiskLevel:       agent.RiskLow,
	})
	if d.Branch != conversation.BranchHandoff {
		t.Fatalf("Branch = %q, want handoff", d.Branch)
	}
	if d.Reason != "asked for a human" {
		t.Fatalf("Reason = %q, want analysis reason", d.Reason)
	}
}

func TestRouteRiskLevels(t *testing.T) {
	cases := []struct {
		risk agent.RiskLevel
		want conversation.Branch
	}{
		{agent.RiskLow, conversation.BranchSales},
		{agent.RiskMedium, conversation.BranchHandoff},
		{agent.RiskHigh, conversation.BranchHandoff},
	}
	for _, tc := range cases {
		d := Route(agent.IntentResult{}, agent.HandoffResult{RiskLevel: tc.risk})
		if d.Branch != tc.want {
			t.Fatalf("risk %s: Branch = %q, want %q", tc.risk, d.Branch, tc.want)
		}
	}
}

func TestRoutePolicyFlags(t *testing.T) {
	d := Route(agent.IntentResult{}, agent.HandoffResult{
		RiskLevel:   agent.RiskLow,
		PolicyFlags: agent.PolicyFlags{Medical: true},
	})
	if d.Branch != conversation.BranchHandoff {
		t.Fatalf("Branch = %q, want handoff", d.Branch)
	}
	if !strings.Contains(d.Reason, "medical") {
		t.Fatalf("Reason = %q, want mention of medical flag", d.Reason)
	}
}

func TestRouteAngryComplaint(t *testing.T) {
	d := Route(agent.IntentResult{IntentCode: "complaint"}, agent.HandoffResult{
		RiskLevel:    agent.RiskLow,
		EmotionScore: agent.EmotionScore{Anger: 0.9},
	})
	if d.Branch != conversation.BranchHandoff {
		t.Fatalf("Branch = %q, want handoff", d.Branch)
	}

	calm := Route(agent.IntentResult{IntentCode: "complaint"}, agent.HandoffResult{
		RiskLevel:    agent.RiskLow,
		EmotionScore: agent.EmotionScore{Neutral: 1},
	})
	if calm.Branch != conversation.BranchSales {
		t.Fatalf("calm complaint Branch = %q, want sales", calm.Branch)
	}
}

func TestRouteNeutralSignals(t *testing.T) {
	d := Route(agent.IntentResult{}, agent.NeutralHandoff())
	if d.Branch != conversation.BranchSales {
		t.Fatalf("neutral Branch = %q, want sales", d.Branch)
	}
}

func TestToneFor(t *testing.T) {
	if got := ToneFor(agent.RiskLow); got != ToneProfessionalWarm {
		t.Fatalf("ToneFor(low) = %q, want %q", got, ToneProfessionalWarm)
	}
	if got := ToneFor(agent.RiskMedium); got != ToneConsultative {
		t.Fatalf("ToneFor(medium) = %q, want %q", got, ToneConsultative)
	}
}

func TestSalient(t *testing.T) {
	long := strings.Repeat("combo hoodie gồm áo hoodie và áo thun, giá 499000 ", 3)
	cases := []struct {
		name string
		turn conversation.Turn
		want bool
	}{
		{"flagged user turn", conversation.Turn{Role: conversation.RoleUser, Content: "hi", Salient: true}, true},
		{"short assistant turn", conversation.Turn{Role: conversation.RoleAssistant, Content: "Chào bạn!"}, false},
		{"long assistant turn", conversation.Turn{Role: conversation.RoleAssistant, Content: long}, true},
		{"long user turn", conversation.Turn{Role: conversation.RoleUser, Content: long}, false},
	}
	for _, tc := range cases {
		if got := Salient(tc.turn); got != tc.want {
			t.Fatalf("%s: Salient = %v, want %v", tc.name, got, tc.want)
		}
	}
}
