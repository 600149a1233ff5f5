package agent

import (
	"errors"
	"fmt"
	"strings"
)

func (r *IntentResult) Validate() error {
	if strings.TrimSpace(r.IntentCode) == "" {
		return errors.New("missing intent_code")
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return fmt.Errorf("confidence %v out of range", r.Confidence)
	}
	return nil
}

func (r *HandoffResult) Validate() error {
	switch r.RiskLevel {
	case RiskLow, RiskMedium, RiskHigh:
	case "":
		return errors.New("missing risk_level")
	default:
		return fmt.Errorf("unknown risk_level %q", r.RiskLevel)
	}
	for name, v := range map[string]float64{
		"frustration": r.EmotionScore.Frustration,
		"anger":       r.EmotionScore.Anger,
		"sadness":     r.EmotionScore.Sadness,
		"joy":         r.EmotionScore.Joy,
		"fear":        r.EmotionScore.Fear,
		"neutral":     r.EmotionScore.Neutral,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("emotion %s score %v out of range", name, v)
		}
	}
	if r.HandoffRequired && strings.TrimSpace(r.HandoffReason) == "" {
		return errors.New("handoff_required without handoff_reason")
	}
	return nil
}

func (r *StepResult) Validate() error {
	if strings.TrimSpace(r.CurrentSalesNode) == "" {
		return errors.New("missing current_sales_node")
	}
	return nil
}

func (r *DraftResult) Validate() error {
	if strings.TrimSpace(r.ResponseText) == "" {
		return errors.New("empty response_text")
	}
	return nil
}

func (r *SummaryResult) Validate() error {
	if strings.TrimSpace(r.Summary) == "" {
		return errors.New("empty summary")
	}
	return nil
}
