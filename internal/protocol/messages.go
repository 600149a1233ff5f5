// Package protocol defines the websocket frame formats for the chat
// endpoint. Clients send client_message frames and receive one outcome
// frame per message, plus system and error events.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeClientMessage MessageType = "client_message"
	TypeOutcome       MessageType = "outcome"
	TypeSystemEvent   MessageType = "system_event"
	TypeErrorEvent    MessageType = "error_event"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

type ClientMessage struct {
	Type    MessageType `json:"type"`
	Message string      `json:"message"`
}

// OutcomeFrame wraps a pipeline outcome for the wire. Outcome is kept as an
// opaque value so this package does not depend on the pipeline types.
type OutcomeFrame struct {
	Type    MessageType `json:"type"`
	Outcome any         `json:"outcome"`
}

type SystemEvent struct {
	Type   MessageType `json:"type"`
	Code   string      `json:"code"`
	Detail string      `json:"detail,omitempty"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	Code      string      `json:"code"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

func NewOutcomeFrame(outcome any) OutcomeFrame {
	return OutcomeFrame{Type: TypeOutcome, Outcome: outcome}
}

func NewSystemEvent(code, detail string) SystemEvent {
	return SystemEvent{Type: TypeSystemEvent, Code: code, Detail: detail}
}

func NewErrorEvent(code string, retryable bool, detail string) ErrorEvent {
	return ErrorEvent{Type: TypeErrorEvent, Code: code, Retryable: retryable, Detail: detail}
}

// ParseClientMessage decodes an inbound frame. A missing type is treated as
// client_message so plain {"message": "..."} payloads keep working.
func ParseClientMessage(raw []byte) (ClientMessage, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return ClientMessage{}, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeClientMessage, "":
		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return ClientMessage{}, err
		}
		if strings.TrimSpace(msg.Message) == "" {
			return ClientMessage{}, errors.New("invalid client_message: empty message")
		}
		msg.Type = TypeClientMessage
		return msg, nil
	default:
		return ClientMessage{}, ErrUnsupportedType
	}
}
