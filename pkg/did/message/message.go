// Package message implements the signed DID message envelope submitted to a
// DID topic.
package message

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/relves/hcsdid/pkg/did/event"
	"github.com/relves/hcsdid/pkg/did/identifier"
)

// Operation is the DID message operation.
type Operation string

const (
	OperationCreate Operation = "create"
	OperationUpdate Operation = "update"
	OperationRevoke Operation = "revoke"
	OperationDelete Operation = "delete"
)

// Removal reports whether op removes state.
func (op Operation) Removal() bool {
	return op == OperationRevoke || op == OperationDelete
}

func (op Operation) valid() bool {
	switch op {
	case OperationCreate, OperationUpdate, OperationRevoke, OperationDelete:
		return true
	}
	return false
}

var ErrInvalidOperation = errors.New("invalid DID message operation")

// Message is one DID event together with the DID and operation it applies to.
type Message struct {
	Timestamp time.Time
	Operation Operation
	DID       string
	// EventBase64 is the event JSON exactly as carried on the wire.
	EventBase64 string

	event event.Event
}

type messageJSON struct {
	Timestamp string    `json:"timestamp"`
	Operation Operation `json:"operation"`
	DID       string    `json:"did"`
	Event     string    `json:"event"`
}

// New builds a message for ev.
func New(op Operation, did string, ev event.Event) (*Message, error) {
	if !op.valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidOperation, op)
	}
	if ev.Removal() != op.Removal() {
		return nil, fmt.Errorf("%w: %s cannot carry a %s event", ErrInvalidOperation, op, ev.Target())
	}
	data, err := event.Encode(ev)
	if err != nil {
		return nil, fmt.Errorf("failed to encode event: %w", err)
	}
	return &Message{
		Timestamp:   time.Now().UTC(),
		Operation:   op,
		DID:         did,
		EventBase64: base64.StdEncoding.EncodeToString(data),
		event:       ev,
	}, nil
}

// Event decodes the carried event.
func (m *Message) Event() (event.Event, error) {
	if m.event != nil {
		return m.event, nil
	}
	if !m.Operation.valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidOperation, m.Operation)
	}
	data, err := base64.StdEncoding.DecodeString(m.EventBase64)
	if err != nil {
		return nil, fmt.Errorf("failed to decode event: %w", err)
	}
	ev, err := event.Decode(data, m.Operation.Removal())
	if err != nil {
		return nil, err
	}
	m.event = ev
	return ev, nil
}

// Validate checks that the message is well formed and belongs to topicID.
func (m *Message) Validate(topicID string, opts ...identifier.Option) error {
	if m.Timestamp.IsZero() {
		return errors.New("message timestamp is missing")
	}
	id, err := identifier.Parse(m.DID, opts...)
	if err != nil {
		return err
	}
	if topicID != "" && id.TopicID() != topicID {
		return fmt.Errorf("DID topic %s does not match message topic %s", id.TopicID(), topicID)
	}

	ev, err := m.Event()
	if err != nil {
		return err
	}
	if err := ev.Validate(opts...); err != nil {
		return err
	}
	if ev.Target() != event.TargetDocument && ev.DID() != m.DID {
		return fmt.Errorf("event %s does not belong to %s", ev.Target(), m.DID)
	}
	return nil
}

// IsValid reports whether Validate succeeds.
func (m *Message) IsValid(topicID string) bool {
	return m.Validate(topicID) == nil
}

func (m *Message) MarshalJSON() ([]byte, error) {
	return json.Marshal(messageJSON{
		Timestamp: m.Timestamp.UTC().Format(time.RFC3339Nano),
		Operation: m.Operation,
		DID:       m.DID,
		Event:     m.EventBase64,
	})
}

func (m *Message) UnmarshalJSON(data []byte) error {
	var raw messageJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	ts, err := time.Parse(time.RFC3339Nano, raw.Timestamp)
	if err != nil {
		return fmt.Errorf("invalid message timestamp: %w", err)
	}
	*m = Message{
		Timestamp:   ts,
		Operation:   raw.Operation,
		DID:         raw.DID,
		EventBase64: raw.Event,
	}
	return nil
}
