package policy

import (
	"fmt"
	"strings"

	"github.com/vieroc/salespilot/internal/agent"
	"github.com/vieroc/salespilot/internal/conversation"
)

// Routing is a deterministic function over the two analysis outputs. The
// rules mirror what the business enforces: explicit handoff flags, elevated
// risk and raised policy domains always reach a human; angry complaints do
// too. Everything else stays on the sales path.

const complaintAngerThreshold = 0.7

// Route decides the branch for one request. Either analysis result may be a
// neutral stand-in when its stage failed; neutral signals never force a
// handoff by themselves.
func Route(intent agent.IntentResult, handoff agent.HandoffResult) conversation.RoutingDecision {
	if handoff.HandoffRequired {
		reason := handoff.HandoffReason
		if reason == "" {
			reason = "handoff required by analysis"
		}
		return conversation.RoutingDecision{Branch: conversation.BranchHandoff, Reason: reason}
	}
	if handoff.RiskLevel == agent.RiskHigh || handoff.RiskLevel == agent.RiskMedium {
		return conversation.RoutingDecision{
			Branch: conversation.BranchHandoff,
			Reason: fmt.Sprintf("risk level %s", handoff.RiskLevel),
		}
	}
	if handoff.PolicyFlags.Any() {
		return conversation.RoutingDecision{
			Branch: conversation.BranchHandoff,
			Reason: "policy flag raised: " + flagNames(handoff.PolicyFlags),
		}
	}
	if strings.EqualFold(intent.IntentCode, "complaint") {
		if handoff.EmotionScore.Anger >= complaintAngerThreshold || handoff.EmotionScore.Frustration >= complaintAngerThreshold {
			return conversation.RoutingDecision{
				Branch: conversation.BranchHandoff,
				Reason: "complaint with elevated anger/frustration",
			}
		}
	}
	return conversation.RoutingDecision{Branch: conversation.BranchSales, Reason: "no handoff signal"}
}

func flagNames(f agent.PolicyFlags) string {
	var names []string
	if f.Legal {
		names = append(names, "legal")
	}
	if f.Medical {
		names = append(names, "medical")
	}
	if f.FinancialRisk {
		names = append(names, "financial_risk")
	}
	if f.HighTechnical {
		names = append(names, "high_technical")
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, ",")
}

// Tone policies handed to the drafting stage.
const (
	ToneProfessionalWarm = "professional_warm"
	ToneConsultative     = "consultative"
)

// ToneFor softens the drafting tone when risk is elevated.
func ToneFor(risk agent.RiskLevel) string {
	if risk == agent.RiskMedium || risk == agent.RiskHigh {
		return ToneConsultative
	}
	return ToneProfessionalWarm
}

// Assistant turns shorter than this rarely carry durable signal worth a
// semantic index entry.
const salienceMinRunes = 60

// Salient decides whether a committed turn earns a semantic index entry:
// any turn explicitly flagged by a stage, or an assistant turn whose content
// clears the salience threshold.
func Salient(turn conversation.Turn) bool {
	if turn.Salient {
		return true
	}
	if turn.Role != conversation.RoleAssistant {
		return false
	}
	return len([]rune(strings.TrimSpace(turn.Content))) >= salienceMinRunes
}
