package agent

import (
	"errors"
	"time"
)

// Stage identifies one analysis/generation collaborator. Stages are data:
// adding a capability means registering a new (name, input, output) tuple
// with the invoker, not adding a type to the orchestrator.
type Stage string

const (
	StageIntent      Stage = "intent"
	StageHandoff     Stage = "handoff_analysis"
	StageRequirement Stage = "predict_requirement"
	StageStep        Stage = "classify_step"
	StageProfile     Stage = "profile"
	StageCombo       Stage = "select_combo"
	StageDraft       Stage = "draft_response"
	StageGuardrail   Stage = "guardrail"
	StageSummary     Stage = "summarize"
)

// Collaborator failure taxonomy. Every gateway failure maps onto exactly one
// of these; the orchestrator decides per stage whether it is retryable,
// degrades the pipeline, or is fatal to the request.
var (
	ErrTimeout       = errors.New("stage call timed out")
	ErrInvalidOutput = errors.New("stage output failed validation")
	ErrUnavailable   = errors.New("stage unavailable")
)

// FailureKind labels a classified failure for metrics and logs.
type FailureKind string

const (
	FailureNone          FailureKind = ""
	FailureTimeout       FailureKind = "timeout"
	FailureInvalidOutput FailureKind = "invalid_output"
	FailureUnavailable   FailureKind = "unavailable"
)

// KindOf maps a classified error onto its failure kind.
func KindOf(err error) FailureKind {
	switch {
	case err == nil:
		return FailureNone
	case errors.Is(err, ErrTimeout):
		return FailureTimeout
	case errors.Is(err, ErrInvalidOutput):
		return FailureInvalidOutput
	default:
		return FailureUnavailable
	}
}

// StageResult is the envelope around one collaborator call. Output holds the
// stage-specific typed record when OK is true.
type StageResult struct {
	Stage      Stage         `json:"stage"`
	OK         bool          `json:"ok"`
	Confidence float64       `json:"confidence,omitempty"`
	Elapsed    time.Duration `json:"elapsed"`
	Failure    FailureKind   `json:"failure,omitempty"`
	Output     any           `json:"output,omitempty"`
}

// WindowMessage is the role/content projection of a memory window handed to
// collaborators as short-term context.
type WindowMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ---- intent extraction ----

type IntentInput struct {
	UserID     string `json:"user_id"`
	SessionID  string `json:"session_id"`
	RawMessage string `json:"raw_message"`
	Language   string `json:"language"`
}

type IntentResult struct {
	CleanIntentText string  `json:"clean_intent_text"`
	IntentCode      string  `json:"intent_code"`
	Confidence      float64 `json:"confidence"`
}

// ---- emotion / policy / handoff analysis ----

// PolicyFlags mark policy domains that force human handling.
type PolicyFlags struct {
	Legal         bool `json:"legal"`
	Medical       bool `json:"medical"`
	FinancialRisk bool `json:"financial_risk"`
	HighTechnical bool `json:"high_technical"`
}

// Any reports whether at least one flag is raised.
func (f PolicyFlags) Any() bool {
	return f.Legal || f.Medical || f.FinancialRisk || f.HighTechnical
}

// EmotionScore holds per-emotion intensities in [0, 1].
type EmotionScore struct {
	Frustration float64 `json:"frustration"`
	Anger       float64 `json:"anger"`
	Sadness     float64 `json:"sadness"`
	Joy         float64 `json:"joy"`
	Fear        float64 `json:"fear"`
	Neutral     float64 `json:"neutral"`
}

type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

type HandoffInput struct {
	UserID     string `json:"user_id"`
	SessionID  string `json:"session_id"`
	RawMessage string `json:"raw_message"`
	Language   string `json:"language"`
}

type HandoffResult struct {
	PolicyFlags     PolicyFlags  `json:"policy_flags"`
	EmotionScore    EmotionScore `json:"emotion_score"`
	HandoffRequired bool         `json:"handoff_required"`
	HandoffReason   string       `json:"handoff_reason,omitempty"`
	RiskLevel       RiskLevel    `json:"risk_level"`
	Confidence      float64      `json:"confidence"`
}

// NeutralHandoff is the "unknown signal" stand-in used when the analysis
// call failed; routing proceeds without blocking the request.
func NeutralHandoff() HandoffResult {
	return HandoffResult{
		EmotionScore: EmotionScore{Neutral: 1},
		RiskLevel:    RiskLow,
	}
}

// ---- requirement prediction ----

type RequirementInput struct {
	LatestMessage string          `json:"latest_message"`
	ShortMemory   []WindowMessage `json:"short_memory"`
	SalesNode     string          `json:"sales_node"`
}

type RequirementResult struct {
	Explicit    []string `json:"explicit_requirements"`
	Implicit    []string `json:"implicit_requirements"`
	ServiceType string   `json:"service_type"`
}

// ---- sales step classification ----

// SalesGraphView is the graph slice the step classifier is allowed to see.
type SalesGraphView struct {
	Nodes       []string `json:"nodes"`
	CurrentNode string   `json:"current_node"`
	AllowedNext []string `json:"allowed_next"`
}

type StepInput struct {
	CleanIntentText string         `json:"clean_intent_text"`
	SalesGraph      SalesGraphView `json:"sales_graph"`
}

type StepResult struct {
	CurrentSalesNode string   `json:"current_sales_node"`
	AllowedNextNodes []string `json:"allowed_next_nodes"`
	Reason           string   `json:"reason,omitempty"`
	Confidence       float64  `json:"confidence"`
}

// ---- customer profiling ----

type HistoricalData struct {
	TotalOrders      int     `json:"total_orders"`
	TotalSpend       float64 `json:"total_spend"`
	LastPurchaseDays int     `json:"last_purchase_days"`
}

type ProfileInput struct {
	UserID           string         `json:"user_id"`
	HistoricalData   HistoricalData `json:"historical_data"`
	LabelDefinitions []string       `json:"label_definitions"`
}

type ProfileResult struct {
	CustomerLabel string  `json:"customer_label"`
	Confidence    float64 `json:"confidence"`
	PriorityScore int     `json:"priority_score"`
}

// ---- product / combo selection ----

// Requirements pairs explicit and implicit customer requirements.
type Requirements struct {
	Explicit []string `json:"explicit"`
	Implicit []string `json:"implicit"`
}

// Combo mirrors catalog.Combo on the wire; the gateway contract stays
// self-contained so collaborators never import internal packages.
type Combo struct {
	ComboID  string   `json:"combo_id"`
	Products []string `json:"products"`
	Stock    int      `json:"stock"`
	Price    float64  `json:"price"`
}

type ComboInput struct {
	Requirements    Requirements    `json:"requirements"`
	AvailableCombos []Combo         `json:"available_combos"`
	ShortMemory     []WindowMessage `json:"short_memory"`
	Summary         string          `json:"summary_conversation,omitempty"`
}

type ComboResult struct {
	SelectedCombo string `json:"selected_combo,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

// ---- response drafting ----

type DraftInput struct {
	CustomerLabel string          `json:"customer_label"`
	SalesNode     string          `json:"sales_node"`
	Requirements  Requirements    `json:"requirements"`
	SelectedCombo *Combo          `json:"selected_combo,omitempty"`
	TonePolicy    string          `json:"tone_policy"`
	ShortMemory   []WindowMessage `json:"short_memory"`
	// RejectionNote carries the guardrail's reason on the single redraft
	// attempt; empty on the first draft.
	RejectionNote string `json:"rejection_note,omitempty"`
}

type DraftResult struct {
	ResponseText      string `json:"response_text"`
	NextExpectedInput string `json:"next_expected_input,omitempty"`
	StayInSalesNode   bool   `json:"stay_in_sales_node"`
}

// ---- guardrail validation ----

type GuardrailInput struct {
	ResponseText string  `json:"response_text"`
	ProductData  []Combo `json:"product_data,omitempty"`
}

type GuardrailVerdict struct {
	Approved      bool   `json:"approved"`
	ModifiedText  string `json:"modified_text,omitempty"`
	Doublecheck   bool   `json:"sales_doublecheck"`
	ReasonRecheck string `json:"reason_recheck,omitempty"`
}

// FinalText returns the text that should be committed when approved.
func (v GuardrailVerdict) FinalText(original string) string {
	if v.ModifiedText != "" {
		return v.ModifiedText
	}
	return original
}

// ---- summarization ----

type SummaryInput struct {
	Messages   []WindowMessage `json:"messages"`
	OldSummary string          `json:"old_summary,omitempty"`
	StartSeq   int64           `json:"start_seq"`
	EndSeq     int64           `json:"end_seq"`
	UserID     string          `json:"user_id"`
	SessionID  string          `json:"session_id"`
}

type SummaryResult struct {
	Summary   string   `json:"summary"`
	Tags      []string `json:"tags,omitempty"`
	UserFacts []string `json:"user_facts,omitempty"`
}
