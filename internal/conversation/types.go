package conversation

import (
	"fmt"
	"time"
)

// Role tags the author of a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ID identifies a conversation by its caller-supplied pair.
type ID struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
}

func (id ID) String() string {
	return id.UserID + "/" + id.SessionID
}

// Valid reports whether both halves of the identifier are present.
func (id ID) Valid() bool {
	return id.UserID != "" && id.SessionID != ""
}

// ToolRecord captures a tool invocation attached to a turn.
type ToolRecord struct {
	Name   string `json:"name"`
	Input  string `json:"input,omitempty"`
	Output string `json:"output,omitempty"`
}

// Turn is one committed message. Immutable once committed; Seq is assigned
// by the memory manager and is strictly increasing and gapless within a
// conversation.
type Turn struct {
	ID        string      `json:"id"`
	Seq       int64       `json:"seq"`
	Role      Role        `json:"role"`
	Content   string      `json:"content"`
	Tokens    int         `json:"tokens,omitempty"`
	Intent    string      `json:"intent,omitempty"`
	Salient   bool        `json:"salient,omitempty"`
	ToolCall  *ToolRecord `json:"tool_call,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

// Summary covers a contiguous, committed turn range. Superseded by later
// summaries over later ranges, never edited.
type Summary struct {
	StartSeq  int64     `json:"start_seq"`
	EndSeq    int64     `json:"end_seq"`
	Content   string    `json:"content"`
	Tags      []string  `json:"tags,omitempty"`
	UserFacts []string  `json:"user_facts,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Covers reports whether seq falls inside the summary's range.
func (s Summary) Covers(seq int64) bool {
	return seq >= s.StartSeq && seq <= s.EndSeq
}

// Overlaps reports whether two covered ranges intersect.
func (s Summary) Overlaps(start, end int64) bool {
	return start <= s.EndSeq && end >= s.StartSeq
}

// Branch is the routing outcome of one request.
type Branch string

const (
	BranchSales   Branch = "sales-path"
	BranchHandoff Branch = "handoff-path"
)

// RoutingDecision is recorded into conversation metadata, not persisted as
// its own entity.
type RoutingDecision struct {
	Branch Branch `json:"branch"`
	Reason string `json:"reason"`
}

// Metadata is the accumulated free-form conversation state (detected mood,
// extracted entities, last stage run, handoff reason, running token count).
type Metadata map[string]any

// Merge applies patch onto m, returning m for chaining. Nil values delete.
func (m Metadata) Merge(patch Metadata) Metadata {
	for k, v := range patch {
		if v == nil {
			delete(m, k)
			continue
		}
		m[k] = v
	}
	return m
}

// Clone returns a shallow copy so callers never share the live map.
func (m Metadata) Clone() Metadata {
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// State is the versioned conversation record passed through the pipeline and
// written back atomically on commit. Version guards concurrent writers.
type State struct {
	Conversation   ID       `json:"conversation"`
	CurrentNode    string   `json:"current_node"`
	Metadata       Metadata `json:"metadata"`
	CommittedTurns int64    `json:"committed_turns"`
	Version        int64    `json:"version"`
}

// NewState seeds state for a conversation's first message.
func NewState(id ID, startNode string) *State {
	return &State{
		Conversation: id,
		CurrentNode:  startNode,
		Metadata:     make(Metadata),
	}
}

// ErrVersionConflict signals a lost optimistic-concurrency race on state
// write-back.
var ErrVersionConflict = fmt.Errorf("conversation state version conflict")
