package agent

import (
	"context"
	"errors"

	"github.com/vieroc/salespilot/internal/conversation"
)

// GatewaySummarizer condenses turn ranges through the summarize stage. It
// satisfies the memory tier's Summarizer contract.
type GatewaySummarizer struct {
	gw *Gateway
}

func NewGatewaySummarizer(gw *Gateway) *GatewaySummarizer {
	return &GatewaySummarizer{gw: gw}
}

func (s *GatewaySummarizer) Summarize(ctx context.Context, id conversation.ID, turns []conversation.Turn, oldSummary string) (conversation.Summary, error) {
	if len(turns) == 0 {
		return conversation.Summary{}, errors.New("no turns to summarize")
	}
	in := SummaryInput{
		Messages:   ProjectTurns(turns),
		OldSummary: oldSummary,
		StartSeq:   turns[0].Seq,
		EndSeq:     turns[len(turns)-1].Seq,
		UserID:     id.UserID,
		SessionID:  id.SessionID,
	}
	res, _, err := Call[SummaryResult](ctx, s.gw, StageSummary, in)
	if err != nil {
		return conversation.Summary{}, err
	}
	return conversation.Summary{
		Content:   res.Summary,
		Tags:      res.Tags,
		UserFacts: res.UserFacts,
	}, nil
}

// ProjectTurns maps turns onto the role/content view collaborators consume.
func ProjectTurns(turns []conversation.Turn) []WindowMessage {
	out := make([]WindowMessage, 0, len(turns))
	for _, turn := range turns {
		out = append(out, WindowMessage{Role: string(turn.Role), Content: turn.Content})
	}
	return out
}
