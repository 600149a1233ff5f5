package workflow

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/vieroc/salespilot/internal/agent"
	"github.com/vieroc/salespilot/internal/catalog"
	"github.com/vieroc/salespilot/internal/conversation"
	"github.com/vieroc/salespilot/internal/memory"
	"github.com/vieroc/salespilot/internal/observability"
	"github.com/vieroc/salespilot/internal/policy"
	"github.com/vieroc/salespilot/internal/salesgraph"
)

// Config tunes orchestration timing and identity.
type Config struct {
	// ShopID scopes catalog lookups.
	ShopID string
	// Language hint forwarded to analysis stages.
	Language string
	// JoinTimeout bounds the parallel analysis join.
	JoinTimeout time.Duration
	// RequestDeadline bounds one whole request.
	RequestDeadline time.Duration
}

func (c Config) withDefaults() Config {
	if c.ShopID == "" {
		c.ShopID = "default"
	}
	if c.Language == "" {
		c.Language = "en"
	}
	if c.JoinTimeout <= 0 {
		c.JoinTimeout = 12 * time.Second
	}
	if c.RequestDeadline <= 0 {
		c.RequestDeadline = 60 * time.Second
	}
	return c
}

var customerLabels = []string{"new", "returning", "dormant", "vip"}

// Orchestrator drives one message through the full pipeline: durable user
// commit, parallel analysis, routing, the chosen branch, guardrail gate, and
// the final assistant commit plus state write-back.
type Orchestrator struct {
	cfg     Config
	mem     *memory.Manager
	gw      *agent.Gateway
	combos  catalog.Source
	metrics *observability.Metrics
	window  *observability.StageWindow
}

// NewOrchestrator wires the pipeline. metrics and window may be nil.
func NewOrchestrator(cfg Config, mem *memory.Manager, gw *agent.Gateway, combos catalog.Source, metrics *observability.Metrics, window *observability.StageWindow) *Orchestrator {
	return &Orchestrator{
		cfg:     cfg.withDefaults(),
		mem:     mem,
		gw:      gw,
		combos:  combos,
		metrics: metrics,
		window:  window,
	}
}

// HandleMessage processes one user message end to end. The returned Outcome
// is terminal: Committed with a response (or a recorded handoff), or Failed
// with the reason. The error mirrors Failed outcomes for callers that only
// look at errors.
func (o *Orchestrator) HandleMessage(ctx context.Context, id conversation.ID, message string) (Outcome, error) {
	started := time.Now()
	if o.metrics != nil {
		o.metrics.ActiveRequests.Inc()
		defer o.metrics.ActiveRequests.Dec()
	}
	defer func() {
		o.observeStage("request_total", time.Since(started))
	}()

	ctx, cancel := context.WithTimeout(ctx, o.cfg.RequestDeadline)
	defer cancel()

	out, err := o.run(ctx, id, message)
	if o.metrics != nil {
		o.metrics.RequestsTotal.WithLabelValues(string(out.State)).Inc()
	}
	return out, err
}

func (o *Orchestrator) run(ctx context.Context, id conversation.ID, message string) (Outcome, error) {
	var stages []agent.StageResult

	// The user's turn is durable before any analysis begins; a request that
	// fails later must never lose what the user said.
	commitStart := time.Now()
	userTurn, err := o.mem.Commit(ctx, id, conversation.Turn{
		Role:    conversation.RoleUser,
		Content: message,
	})
	o.observeStage("commit", time.Since(commitStart))
	if err != nil {
		return failed(fmt.Sprintf("commit user turn: %v", err)), err
	}

	assembleStart := time.Now()
	window, err := o.mem.Assemble(ctx, id, message)
	o.observeStage("assemble", time.Since(assembleStart))
	if err != nil {
		return failed(fmt.Sprintf("assemble context: %v", err)), err
	}
	shortMemory := agent.ProjectTurns(window.Recent)
	summaryText := ""
	if window.Summary != nil {
		summaryText = window.Summary.Content
	}

	// Parallel analysis. Each failure degrades to a neutral stand-in so a
	// single flaky analyzer cannot block the conversation.
	intentRes, handoffRes, analysisStages := o.analyzeParallel(ctx, id, message)
	stages = append(stages, analysisStages...)

	decision := policy.Route(intentRes, handoffRes)
	if o.metrics != nil {
		o.metrics.RoutingDecisions.WithLabelValues(string(decision.Branch)).Inc()
	}

	if decision.Branch == conversation.BranchHandoff {
		out, err := o.runHandoff(ctx, id, intentRes, handoffRes, decision)
		out.UserSeq = userTurn.Seq
		out.Stages = stages
		return out, err
	}

	out, salesStages, err := o.runSales(ctx, id, message, intentRes, handoffRes, shortMemory, summaryText)
	out.UserSeq = userTurn.Seq
	out.Routing = decision
	out.Stages = append(stages, salesStages...)
	return out, err
}

func (o *Orchestrator) analyzeParallel(ctx context.Context, id conversation.ID, message string) (agent.IntentResult, agent.HandoffResult, []agent.StageResult) {
	jctx, cancel := context.WithTimeout(ctx, o.cfg.JoinTimeout)
	defer cancel()

	type intentOut struct {
		res agent.IntentResult
		sr  agent.StageResult
		err error
	}
	type handoffOut struct {
		res agent.HandoffResult
		sr  agent.StageResult
		err error
	}
	intentCh := make(chan intentOut, 1)
	handoffCh := make(chan handoffOut, 1)

	go func() {
		res, sr, err := agent.Call[agent.IntentResult](jctx, o.gw, agent.StageIntent, agent.IntentInput{
			UserID:     id.UserID,
			SessionID:  id.SessionID,
			RawMessage: message,
			Language:   o.cfg.Language,
		})
		intentCh <- intentOut{res, sr, err}
	}()
	go func() {
		res, sr, err := agent.Call[agent.HandoffResult](jctx, o.gw, agent.StageHandoff, agent.HandoffInput{
			UserID:     id.UserID,
			SessionID:  id.SessionID,
			RawMessage: message,
			Language:   o.cfg.Language,
		})
		handoffCh <- handoffOut{res, sr, err}
	}()

	iOut := <-intentCh
	hOut := <-handoffCh

	intentRes := iOut.res
	if iOut.err != nil {
		log.Printf("workflow: intent analysis degraded for %s: %v", id, iOut.err)
		intentRes = agent.IntentResult{CleanIntentText: message, IntentCode: "general_inquiry"}
	}
	o.observeStage(string(agent.StageIntent), iOut.sr.Elapsed)

	handoffRes := hOut.res
	if hOut.err != nil {
		log.Printf("workflow: handoff analysis degraded for %s: %v", id, hOut.err)
		handoffRes = agent.NeutralHandoff()
	}
	o.observeStage(string(agent.StageHandoff), hOut.sr.Elapsed)

	return intentRes, handoffRes, []agent.StageResult{iOut.sr, hOut.sr}
}

// runHandoff records the escalation on the conversation and ends the request
// without an assistant turn; a human picks it up from here.
func (o *Orchestrator) runHandoff(ctx context.Context, id conversation.ID, intent agent.IntentResult, handoff agent.HandoffResult, decision conversation.RoutingDecision) (Outcome, error) {
	patch := conversation.Metadata{
		"routed_branch":    string(decision.Branch),
		"handoff_required": true,
		"handoff_reason":   decision.Reason,
		"risk_level":       string(handoff.RiskLevel),
		"last_intent":      intent.IntentCode,
	}
	st, err := o.patchState(ctx, id, "", patch)
	if err != nil {
		return failed(fmt.Sprintf("record handoff: %v", err)), err
	}
	return Outcome{
		State:         StateCommitted,
		Routing:       decision,
		HandoffReason: decision.Reason,
		CurrentNode:   st.CurrentNode,
	}, nil
}

func (o *Orchestrator) runSales(ctx context.Context, id conversation.ID, message string, intent agent.IntentResult, handoff agent.HandoffResult, shortMemory []agent.WindowMessage, summaryText string) (Outcome, []agent.StageResult, error) {
	var stages []agent.StageResult

	st, err := o.mem.State(ctx, id)
	if err != nil {
		return failed(fmt.Sprintf("load state: %v", err)), stages, err
	}

	reqRes, sr, err := agent.Call[agent.RequirementResult](ctx, o.gw, agent.StageRequirement, agent.RequirementInput{
		LatestMessage: message,
		ShortMemory:   shortMemory,
		SalesNode:     st.CurrentNode,
	})
	stages = append(stages, sr)
	o.observeStage(string(agent.StageRequirement), sr.Elapsed)
	if err != nil {
		return failed(fmt.Sprintf("requirement prediction: %v", err)), stages, err
	}

	stepRes, sr, err := agent.Call[agent.StepResult](ctx, o.gw, agent.StageStep, agent.StepInput{
		CleanIntentText: intent.CleanIntentText,
		SalesGraph: agent.SalesGraphView{
			Nodes:       salesgraph.Nodes(),
			CurrentNode: st.CurrentNode,
			AllowedNext: salesgraph.AllowedNext(st.CurrentNode),
		},
	})
	stages = append(stages, sr)
	o.observeStage(string(agent.StageStep), sr.Elapsed)
	if err != nil {
		return failed(fmt.Sprintf("step classification: %v", err)), stages, err
	}
	// The classifier proposes; the graph disposes.
	node := salesgraph.Clamp(st.CurrentNode, stepRes.CurrentSalesNode)

	profileRes, sr, err := agent.Call[agent.ProfileResult](ctx, o.gw, agent.StageProfile, agent.ProfileInput{
		UserID:           id.UserID,
		HistoricalData:   historicalData(st.Metadata),
		LabelDefinitions: customerLabels,
	})
	stages = append(stages, sr)
	o.observeStage(string(agent.StageProfile), sr.Elapsed)
	if err != nil {
		return failed(fmt.Sprintf("customer profiling: %v", err)), stages, err
	}

	combos, err := o.combos.ListCombos(ctx, o.cfg.ShopID)
	if err != nil {
		// Selection still runs; it just sees an empty catalog and picks
		// nothing.
		log.Printf("workflow: catalog unavailable for %s: %v", id, err)
		combos = nil
	}
	wireCombos := toWireCombos(combos)

	comboRes, sr, err := agent.Call[agent.ComboResult](ctx, o.gw, agent.StageCombo, agent.ComboInput{
		Requirements:    agent.Requirements{Explicit: reqRes.Explicit, Implicit: reqRes.Implicit},
		AvailableCombos: wireCombos,
		ShortMemory:     shortMemory,
		Summary:         summaryText,
	})
	stages = append(stages, sr)
	o.observeStage(string(agent.StageCombo), sr.Elapsed)
	if err != nil {
		return failed(fmt.Sprintf("combo selection: %v", err)), stages, err
	}

	selected := findCombo(wireCombos, comboRes.SelectedCombo)
	if selected == nil && intent.IntentCode == "ask_price" {
		if pick := catalog.FallbackPick(combos, message); pick != nil {
			wire := toWireCombo(*pick)
			selected = &wire
		}
	}
	if selected != nil && selected.Stock <= 0 {
		// Never offer what cannot be sold.
		selected = nil
	}

	draftIn := agent.DraftInput{
		CustomerLabel: profileRes.CustomerLabel,
		SalesNode:     node,
		Requirements:  agent.Requirements{Explicit: reqRes.Explicit, Implicit: reqRes.Implicit},
		SelectedCombo: selected,
		TonePolicy:    policy.ToneFor(handoff.RiskLevel),
		ShortMemory:   shortMemory,
	}
	draftRes, sr, err := agent.Call[agent.DraftResult](ctx, o.gw, agent.StageDraft, draftIn)
	stages = append(stages, sr)
	o.observeStage(string(agent.StageDraft), sr.Elapsed)
	if err != nil {
		return failed(fmt.Sprintf("response drafting: %v", err)), stages, err
	}

	finalText, doublecheck, recheckReason, guardStages, err := o.guardrail(ctx, draftIn, draftRes, wireCombos)
	stages = append(stages, guardStages...)
	if err != nil {
		return failed(fmt.Sprintf("guardrail: %v", err)), stages, err
	}

	commitStart := time.Now()
	assistantTurn, err := o.mem.Commit(ctx, id, conversation.Turn{
		Role:    conversation.RoleAssistant,
		Content: finalText,
		Intent:  intent.IntentCode,
	})
	o.observeStage("commit", time.Since(commitStart))
	if err != nil {
		return failed(fmt.Sprintf("commit assistant turn: %v", err)), stages, err
	}

	if draftRes.StayInSalesNode {
		node = st.CurrentNode
	}
	patch := conversation.Metadata{
		"routed_branch":     string(conversation.BranchSales),
		"last_intent":       intent.IntentCode,
		"customer_label":    profileRes.CustomerLabel,
		"priority_score":    profileRes.PriorityScore,
		"risk_level":        string(handoff.RiskLevel),
		"handoff_required":  nil,
		"handoff_reason":    nil,
		"sales_doublecheck": nil,
		"reason_recheck":    nil,
	}
	if selected != nil {
		patch["selected_combo"] = selected.ComboID
	}
	if doublecheck {
		patch["sales_doublecheck"] = true
		patch["reason_recheck"] = recheckReason
	}
	newState, err := o.patchState(ctx, id, node, patch)
	if err != nil {
		return failed(fmt.Sprintf("write state: %v", err)), stages, err
	}

	return Outcome{
		State:        StateCommitted,
		ResponseText: finalText,
		Doublecheck:  doublecheck,
		CurrentNode:  newState.CurrentNode,
		AssistantSeq: assistantTurn.Seq,
	}, stages, nil
}

// guardrail validates the draft; on rejection it grants exactly one redraft
// carrying the rejection reason, then validates again.
func (o *Orchestrator) guardrail(ctx context.Context, draftIn agent.DraftInput, draft agent.DraftResult, combos []agent.Combo) (string, bool, string, []agent.StageResult, error) {
	var stages []agent.StageResult

	verdict, sr, err := agent.Call[agent.GuardrailVerdict](ctx, o.gw, agent.StageGuardrail, agent.GuardrailInput{
		ResponseText: draft.ResponseText,
		ProductData:  combos,
	})
	stages = append(stages, sr)
	o.observeStage(string(agent.StageGuardrail), sr.Elapsed)
	if err != nil {
		return "", false, "", stages, err
	}
	if verdict.Approved {
		o.countVerdict("approved")
		return verdict.FinalText(draft.ResponseText), verdict.Doublecheck, verdict.ReasonRecheck, stages, nil
	}
	o.countVerdict("rejected")

	redraftIn := draftIn
	redraftIn.RejectionNote = verdict.ReasonRecheck
	redraft, sr, err := agent.Call[agent.DraftResult](ctx, o.gw, agent.StageDraft, redraftIn)
	stages = append(stages, sr)
	o.observeStage(string(agent.StageDraft), sr.Elapsed)
	if err != nil {
		return "", false, "", stages, fmt.Errorf("redraft: %w", err)
	}

	verdict, sr, err = agent.Call[agent.GuardrailVerdict](ctx, o.gw, agent.StageGuardrail, agent.GuardrailInput{
		ResponseText: redraft.ResponseText,
		ProductData:  combos,
	})
	stages = append(stages, sr)
	o.observeStage(string(agent.StageGuardrail), sr.Elapsed)
	if err != nil {
		return "", false, "", stages, err
	}
	if !verdict.Approved {
		o.countVerdict("rejected_final")
		reason := verdict.ReasonRecheck
		if reason == "" {
			reason = "rejected twice"
		}
		return "", false, "", stages, fmt.Errorf("draft rejected after redraft: %s", reason)
	}
	o.countVerdict("redraft_approved")
	return verdict.FinalText(redraft.ResponseText), verdict.Doublecheck, verdict.ReasonRecheck, stages, nil
}

// patchState reloads, merges, and saves the conversation state; one reload
// retry absorbs a concurrent version bump.
func (o *Orchestrator) patchState(ctx context.Context, id conversation.ID, node string, patch conversation.Metadata) (*conversation.State, error) {
	for attempt := 0; ; attempt++ {
		st, err := o.mem.State(ctx, id)
		if err != nil {
			return nil, err
		}
		if node != "" {
			st.CurrentNode = node
		}
		st.Metadata = st.Metadata.Merge(patch)
		err = o.mem.SaveState(ctx, st)
		if err == nil {
			return st, nil
		}
		if errors.Is(err, conversation.ErrVersionConflict) && attempt == 0 {
			continue
		}
		return nil, err
	}
}

func (o *Orchestrator) observeStage(stage string, d time.Duration) {
	if o.window != nil {
		o.window.Observe(stage, float64(d.Milliseconds()))
	}
}

func (o *Orchestrator) countVerdict(verdict string) {
	if o.metrics != nil {
		o.metrics.GuardrailVerdicts.WithLabelValues(verdict).Inc()
	}
	if o.window != nil {
		o.window.ObserveIndicator("guardrail_" + verdict)
	}
}

func toWireCombos(combos []catalog.Combo) []agent.Combo {
	out := make([]agent.Combo, 0, len(combos))
	for _, c := range combos {
		out = append(out, toWireCombo(c))
	}
	return out
}

func toWireCombo(c catalog.Combo) agent.Combo {
	return agent.Combo{ComboID: c.ID, Products: c.Products, Stock: c.Stock, Price: c.Price}
}

func findCombo(combos []agent.Combo, comboID string) *agent.Combo {
	if comboID == "" {
		return nil
	}
	for i := range combos {
		if combos[i].ComboID == comboID {
			out := combos[i]
			return &out
		}
	}
	return nil
}

// historicalData pulls purchase history out of conversation metadata, where
// an upstream CRM sync deposits it. Missing keys mean a first-time customer.
func historicalData(meta conversation.Metadata) agent.HistoricalData {
	return agent.HistoricalData{
		TotalOrders:      metaInt(meta, "total_orders"),
		TotalSpend:       metaFloat(meta, "total_spend"),
		LastPurchaseDays: metaInt(meta, "last_purchase_days"),
	}
}

func metaInt(meta conversation.Metadata, key string) int {
	switch v := meta[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

func metaFloat(meta conversation.Metadata, key string) float64 {
	switch v := meta[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return 0
	}
}
