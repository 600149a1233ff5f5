package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

// stagePrompts holds the system prompt per stage. Each prompt demands a bare
// JSON object matching the stage's result contract.
var stagePrompts = map[Stage]string{
	StageIntent: `You clean up a retail customer's message and classify its intent.
Return ONLY a JSON object: {"clean_intent_text": string, "intent_code": string, "confidence": number}.
intent_code is one of: greeting, ask_price, ask_product_info, purchase_intent, complaint, general_inquiry.`,

	StageHandoff: `You screen a retail customer's message for emotion, risk, and restricted policy domains.
Return ONLY a JSON object: {"policy_flags": {"legal": bool, "medical": bool, "financial_risk": bool, "high_technical": bool},
"emotion_score": {"frustration": number, "anger": number, "sadness": number, "joy": number, "fear": number, "neutral": number},
"handoff_required": bool, "handoff_reason": string, "risk_level": "low"|"medium"|"high", "confidence": number}.
Emotion scores are in [0,1]. Set handoff_required only when a human must take over, and give the reason.`,

	StageRequirement: `You infer what a clothing-store customer needs from their latest message and recent context.
Return ONLY a JSON object: {"explicit_requirements": [string], "implicit_requirements": [string], "service_type": "consultation"|"purchase"}.`,

	StageStep: `You classify which node of a sales conversation graph the dialogue is in.
You are given the cleaned intent and the graph slice (nodes, current node, allowed next nodes).
Return ONLY a JSON object: {"current_sales_node": string, "allowed_next_nodes": [string], "reason": string, "confidence": number}.
current_sales_node MUST be the current node or one of its allowed next nodes.`,

	StageProfile: `You label a retail customer from their purchase history.
Return ONLY a JSON object: {"customer_label": string, "confidence": number, "priority_score": number}.
customer_label is one of the provided label definitions; priority_score is 0-100.`,

	StageCombo: `You pick the best product combo for a customer's requirements from the available list.
Only pick combos with stock > 0. If nothing fits, leave selected_combo empty and explain.
Return ONLY a JSON object: {"selected_combo": string, "reason": string}.`,

	StageDraft: `You draft the next reply for a clothing-store sales conversation.
Respect the tone policy, the sales node, and the selected combo if present. Never invent
prices or stock. If a rejection_note is present, fix exactly what it names.
Return ONLY a JSON object: {"response_text": string, "next_expected_input": string, "stay_in_sales_node": bool}.`,

	StageGuardrail: `You review a drafted sales reply for factual claims about products, prices, and stock
against the provided product data, and for unsafe or overclaiming language.
Return ONLY a JSON object: {"approved": bool, "modified_text": string, "sales_doublecheck": bool, "reason_recheck": string}.
Set sales_doublecheck true whenever a claim needs re-verification, and say why in reason_recheck.`,

	StageSummary: `You condense a span of a sales conversation into a compact summary, folding in the
previous summary if given. Preserve customer facts, stated preferences, and commitments.
Return ONLY a JSON object: {"summary": string, "tags": [string], "user_facts": [string]}.`,
}

// OpenAIInvoker backs every stage with chat completions. One model serves all
// stages; the stage prompt carries the specialization.
type OpenAIInvoker struct {
	client  *openai.Client
	model   string
	limiter *rate.Limiter
}

// NewOpenAIInvoker creates the invoker. rps bounds outbound calls across all
// stages; zero disables the limiter.
func NewOpenAIInvoker(apiKey, model string, rps float64) *OpenAIInvoker {
	if model == "" {
		model = openai.GPT4oMini
	}
	var limiter *rate.Limiter
	if rps > 0 {
		limiter = rate.NewLimiter(rate.Limit(rps), int(rps)+1)
	}
	return &OpenAIInvoker{
		client:  openai.NewClient(apiKey),
		model:   model,
		limiter: limiter,
	}
}

func (o *OpenAIInvoker) Invoke(ctx context.Context, stage Stage, input any) (json.RawMessage, error) {
	prompt, ok := stagePrompts[stage]
	if !ok {
		return nil, fmt.Errorf("no prompt for stage %q: %w", stage, ErrInvalidOutput)
	}
	payload, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("encode %s input: %v: %w", stage, err, ErrInvalidOutput)
	}

	if o.limiter != nil {
		if err := o.limiter.Wait(ctx); err != nil {
			return nil, classifyOpenAI(ctx, err)
		}
	}

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: prompt},
			{Role: openai.ChatMessageRoleUser, Content: string(payload)},
		},
		Temperature: 0.2,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return nil, classifyOpenAI(ctx, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("stage %s: no completion choices: %w", stage, ErrInvalidOutput)
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if !json.Valid([]byte(content)) {
		return nil, fmt.Errorf("stage %s: non-JSON completion: %w", stage, ErrInvalidOutput)
	}
	return json.RawMessage(content), nil
}

func classifyOpenAI(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
		return fmt.Errorf("%v: %w", err, ErrTimeout)
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode >= 400 && apiErr.HTTPStatusCode < 500 && apiErr.HTTPStatusCode != 429 {
			return fmt.Errorf("%v: %w", err, ErrInvalidOutput)
		}
	}
	return fmt.Errorf("%v: %w", err, ErrUnavailable)
}
