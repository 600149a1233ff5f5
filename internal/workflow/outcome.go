package workflow

import (
	"github.com/vieroc/salespilot/internal/agent"
	"github.com/vieroc/salespilot/internal/conversation"
)

// RequestState is where a request sits in its lifecycle. Each request moves
// strictly forward; Committed and Failed are terminal.
type RequestState string

const (
	StateReceived        RequestState = "received"
	StateAnalyzing       RequestState = "analyzing_parallel"
	StateRouting         RequestState = "routing"
	StateSalesPipeline   RequestState = "sales_pipeline"
	StateHandoffPipeline RequestState = "handoff_pipeline"
	StateGuardrail       RequestState = "guardrail"
	StateCommitted       RequestState = "committed"
	StateFailed          RequestState = "failed"
)

// Outcome is what the caller gets back for one processed message.
type Outcome struct {
	State         RequestState                 `json:"state"`
	ResponseText  string                       `json:"response_text,omitempty"`
	Routing       conversation.RoutingDecision `json:"routing"`
	HandoffReason string                       `json:"handoff_reason,omitempty"`
	Doublecheck   bool                         `json:"sales_doublecheck,omitempty"`
	FailureReason string                       `json:"failure_reason,omitempty"`
	CurrentNode   string                       `json:"current_node,omitempty"`
	UserSeq       int64                        `json:"user_seq,omitempty"`
	AssistantSeq  int64                        `json:"assistant_seq,omitempty"`
	Stages        []agent.StageResult          `json:"stages,omitempty"`
}

func failed(reason string) Outcome {
	return Outcome{State: StateFailed, FailureReason: reason}
}
