package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// LocalInvoker is a deterministic, heuristic implementation of every stage.
// It keeps the full pipeline runnable without any hosted model: local
// development, demos, and as the fallback backend when no API key is set.
type LocalInvoker struct{}

func NewLocalInvoker() *LocalInvoker { return &LocalInvoker{} }

func (l *LocalInvoker) Invoke(_ context.Context, stage Stage, input any) (json.RawMessage, error) {
	var out any
	switch stage {
	case StageIntent:
		in, err := as[IntentInput](stage, input)
		if err != nil {
			return nil, err
		}
		out = localIntent(in)
	case StageHandoff:
		in, err := as[HandoffInput](stage, input)
		if err != nil {
			return nil, err
		}
		out = localHandoff(in)
	case StageRequirement:
		in, err := as[RequirementInput](stage, input)
		if err != nil {
			return nil, err
		}
		out = localRequirement(in)
	case StageStep:
		in, err := as[StepInput](stage, input)
		if err != nil {
			return nil, err
		}
		out = localStep(in)
	case StageProfile:
		in, err := as[ProfileInput](stage, input)
		if err != nil {
			return nil, err
		}
		out = localProfile(in)
	case StageCombo:
		in, err := as[ComboInput](stage, input)
		if err != nil {
			return nil, err
		}
		out = localCombo(in)
	case StageDraft:
		in, err := as[DraftInput](stage, input)
		if err != nil {
			return nil, err
		}
		out = localDraft(in)
	case StageGuardrail:
		in, err := as[GuardrailInput](stage, input)
		if err != nil {
			return nil, err
		}
		out = localGuardrail(in)
	case StageSummary:
		in, err := as[SummaryInput](stage, input)
		if err != nil {
			return nil, err
		}
		out = localSummary(in)
	default:
		return nil, fmt.Errorf("unknown stage %q: %w", stage, ErrInvalidOutput)
	}
	return json.Marshal(out)
}

func as[T any](stage Stage, input any) (T, error) {
	in, ok := input.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("stage %s: input is %T: %w", stage, input, ErrInvalidOutput)
	}
	return in, nil
}

func containsAny(text string, words ...string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}

func localIntent(in IntentInput) IntentResult {
	text := strings.ToLower(strings.TrimSpace(in.RawMessage))
	res := IntentResult{
		CleanIntentText: strings.Join(strings.Fields(text), " "),
		IntentCode:      "general_inquiry",
		Confidence:      0.5,
	}
	switch {
	case containsAny(text, "refund", "return it", "broken", "complaint", "terrible", "worst"):
		res.IntentCode = "complaint"
		res.Confidence = 0.9
	case containsAny(text, "price", "cost", "how much", "discount"):
		res.IntentCode = "ask_price"
		res.Confidence = 0.9
	case containsAny(text, "buy", "order", "purchase", "take it", "checkout"):
		res.IntentCode = "purchase_intent"
		res.Confidence = 0.85
	case containsAny(text, "size", "material", "color", "fit", "fabric", "shipping"):
		res.IntentCode = "ask_product_info"
		res.Confidence = 0.8
	case containsAny(text, "hello", "hi ", "hey"), text == "hi":
		res.IntentCode = "greeting"
		res.Confidence = 0.95
	}
	return res
}

func localHandoff(in HandoffInput) HandoffResult {
	text := strings.ToLower(in.RawMessage)
	res := HandoffResult{
		EmotionScore: EmotionScore{Neutral: 1},
		RiskLevel:    RiskLow,
		Confidence:   0.7,
	}

	res.PolicyFlags.Legal = containsAny(text, "lawyer", "lawsuit", "sue ", "legal action")
	res.PolicyFlags.Medical = containsAny(text, "allergic", "rash", "doctor", "medical")
	res.PolicyFlags.FinancialRisk = containsAny(text, "chargeback", "fraud", "dispute the charge")
	res.PolicyFlags.HighTechnical = containsAny(text, "bulk order", "wholesale", "api", "integration")

	switch {
	case containsAny(text, "furious", "angry", "worst", "scam"):
		res.EmotionScore = EmotionScore{Anger: 0.85, Frustration: 0.6}
	case containsAny(text, "disappointed", "annoyed", "frustrat"):
		res.EmotionScore = EmotionScore{Frustration: 0.75}
	case containsAny(text, "love", "great", "thanks", "perfect"):
		res.EmotionScore = EmotionScore{Joy: 0.8, Neutral: 0.2}
	}

	if containsAny(text, "human", "real person", "representative", "speak to someone", "agent") {
		res.HandoffRequired = true
		res.HandoffReason = "customer asked for a human"
	} else if res.PolicyFlags.Any() {
		res.HandoffRequired = true
		res.HandoffReason = "message touches a restricted policy domain"
	}

	switch {
	case res.PolicyFlags.Any() || res.EmotionScore.Anger >= 0.8:
		res.RiskLevel = RiskHigh
	case res.EmotionScore.Frustration >= 0.7:
		res.RiskLevel = RiskMedium
	}
	return res
}

func localRequirement(in RequirementInput) RequirementResult {
	text := strings.ToLower(in.LatestMessage)
	res := RequirementResult{ServiceType: "consultation"}
	if containsAny(text, "want", "need", "looking for", "interested in") {
		res.Explicit = append(res.Explicit, strings.TrimSpace(in.LatestMessage))
	}
	if containsAny(text, "gift", "present") {
		res.Implicit = append(res.Implicit, "gift packaging")
	}
	if containsAny(text, "cheap", "budget", "affordable") {
		res.Implicit = append(res.Implicit, "price sensitive")
	}
	if containsAny(text, "buy", "order", "checkout") {
		res.ServiceType = "purchase"
	}
	return res
}

func localStep(in StepInput) StepResult {
	text := strings.ToLower(in.CleanIntentText)
	current := in.SalesGraph.CurrentNode

	proposed := current
	switch {
	case containsAny(text, "price", "cost", "how much", "discount"):
		proposed = "price_discussion"
	case containsAny(text, "buy", "order", "checkout", "take it"):
		proposed = "closing"
	case containsAny(text, "too expensive", "not sure", "think about", "but "):
		proposed = "objection_handling"
	case containsAny(text, "looking for", "want", "need", "recommend"):
		proposed = "need_discovery"
	case containsAny(text, "size", "material", "color", "fit"):
		proposed = "solution_matching"
	}

	// Only propose transitions the graph view allows; the caller clamps
	// anyway, this just keeps the classifier honest.
	allowed := proposed == current
	for _, n := range in.SalesGraph.AllowedNext {
		if n == proposed {
			allowed = true
			break
		}
	}
	if !allowed {
		proposed = current
	}
	return StepResult{
		CurrentSalesNode: proposed,
		AllowedNextNodes: in.SalesGraph.AllowedNext,
		Reason:           "keyword match on cleaned intent",
		Confidence:       0.7,
	}
}

func localProfile(in ProfileInput) ProfileResult {
	h := in.HistoricalData
	switch {
	case h.TotalOrders >= 5 || h.TotalSpend >= 5_000_000:
		return ProfileResult{CustomerLabel: "vip", Confidence: 0.9, PriorityScore: 90}
	case h.TotalOrders >= 1 && h.LastPurchaseDays <= 90:
		return ProfileResult{CustomerLabel: "returning", Confidence: 0.8, PriorityScore: 70}
	case h.TotalOrders >= 1:
		return ProfileResult{CustomerLabel: "dormant", Confidence: 0.7, PriorityScore: 50}
	default:
		return ProfileResult{CustomerLabel: "new", Confidence: 0.8, PriorityScore: 40}
	}
}

func localCombo(in ComboInput) ComboResult {
	var wants []string
	for _, r := range append(append([]string{}, in.Requirements.Explicit...), in.Requirements.Implicit...) {
		wants = append(wants, strings.ToLower(r))
	}

	best := ""
	bestScore := 0
	for _, combo := range in.AvailableCombos {
		if combo.Stock <= 0 {
			continue
		}
		score := 1
		for _, product := range combo.Products {
			p := strings.ToLower(product)
			for _, w := range wants {
				if strings.Contains(w, p) || strings.Contains(p, w) {
					score += 2
				}
			}
		}
		if score > bestScore {
			bestScore = score
			best = combo.ComboID
		}
	}
	if best == "" {
		return ComboResult{Reason: "no combo in stock matches"}
	}
	return ComboResult{SelectedCombo: best, Reason: "best stocked match against requirements"}
}

func localDraft(in DraftInput) DraftResult {
	var b strings.Builder
	if in.TonePolicy == "consultative" {
		b.WriteString("I hear you, and I want to get this right for you. ")
	} else {
		b.WriteString("Happy to help! ")
	}

	switch in.SalesNode {
	case "need_discovery":
		b.WriteString("Could you tell me a bit more about what you are looking for, so I can point you to the right pieces?")
	case "solution_matching", "price_discussion":
		if in.SelectedCombo != nil {
			fmt.Fprintf(&b, "Based on what you shared, the %s set (%s) would suit you well, at %.0f total.",
				in.SelectedCombo.ComboID, strings.Join(in.SelectedCombo.Products, ", "), in.SelectedCombo.Price)
		} else {
			b.WriteString("Let me check the current options and pricing for you.")
		}
	case "objection_handling":
		b.WriteString("That is a fair concern. Would it help if I walked you through what makes this worth the price?")
	case "closing":
		b.WriteString("Great choice. Shall I set the order up for you now?")
	default:
		b.WriteString("Welcome! What brings you in today?")
	}

	if in.RejectionNote != "" {
		// Redraft attempt: keep it conservative.
		return DraftResult{
			ResponseText:    "Let me double-check the details on that and get back to you with accurate information. " + b.String(),
			StayInSalesNode: true,
		}
	}
	return DraftResult{ResponseText: b.String()}
}

func localGuardrail(in GuardrailInput) GuardrailVerdict {
	text := strings.ToLower(in.ResponseText)
	if containsAny(text, "guarantee", "100% ", "miracle", "risk-free") {
		return GuardrailVerdict{
			Approved:      false,
			Doublecheck:   true,
			ReasonRecheck: "overclaiming language",
		}
	}
	if containsAny(text, "card number", "cvv", "password") {
		return GuardrailVerdict{
			Approved:      false,
			Doublecheck:   true,
			ReasonRecheck: "requests sensitive payment data",
		}
	}
	return GuardrailVerdict{Approved: true}
}

func localSummary(in SummaryInput) SummaryResult {
	var parts []string
	for _, msg := range in.Messages {
		content := msg.Content
		if runes := []rune(content); len(runes) > 80 {
			content = string(runes[:80])
		}
		parts = append(parts, msg.Role+": "+content)
	}
	summary := strings.Join(parts, " | ")
	if in.OldSummary != "" {
		summary = in.OldSummary + " | " + summary
	}
	if summary == "" {
		summary = "(no conversation yet)"
	}
	return SummaryResult{Summary: summary}
}
