package message

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gowebpki/jcs"

	"github.com/relves/hcsdid/pkg/did/identifier"
	"github.com/relves/hcsdid/pkg/keys"
)

// ModePlain is the only envelope mode: the message travels unencrypted.
const ModePlain = "plain"

var (
	ErrUnsupportedMode = errors.New("unsupported envelope mode")
	ErrUnsigned        = errors.New("envelope is not signed")
	ErrBadSignature    = errors.New("envelope signature does not verify")
)

// Envelope carries a message and the signature over its canonical JSON.
type Envelope struct {
	Mode      string
	Message   *Message
	Signature []byte

	// raw is the message JSON as received, so verification does not
	// depend on re-encoding.
	raw json.RawMessage
	// networks accepted when validating, for custom network names.
	opts []identifier.Option
}

type envelopeJSON struct {
	Mode      string          `json:"mode"`
	Message   json.RawMessage `json:"message"`
	Signature []byte          `json:"signature,omitempty"`
}

// NewEnvelope wraps m for signing.
func NewEnvelope(m *Message, opts ...identifier.Option) *Envelope {
	return &Envelope{Mode: ModePlain, Message: m, opts: opts}
}

// Decode parses an envelope from topic message contents.
func Decode(data []byte, opts ...identifier.Option) (*Envelope, error) {
	var raw envelopeJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse envelope: %w", err)
	}
	if raw.Mode != ModePlain {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedMode, raw.Mode)
	}
	if len(raw.Message) == 0 {
		return nil, errors.New("envelope has no message")
	}

	var m Message
	if err := json.Unmarshal(raw.Message, &m); err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	// decode the event up front so later reads do not mutate; a bad event
	// surfaces through IsValid
	_, _ = m.Event()

	return &Envelope{
		Mode:      raw.Mode,
		Message:   &m,
		Signature: raw.Signature,
		raw:       raw.Message,
		opts:      opts,
	}, nil
}

// Decoder returns a decoder usable with hcs resolvers.
func Decoder(opts ...identifier.Option) func([]byte) (*Envelope, error) {
	return func(data []byte) (*Envelope, error) {
		return Decode(data, opts...)
	}
}

func (e *Envelope) messageJSON() ([]byte, error) {
	if e.raw != nil {
		return e.raw, nil
	}
	return json.Marshal(e.Message)
}

// CanonicalMessage returns the RFC 8785 form of the message JSON; this is
// what signatures cover.
func (e *Envelope) CanonicalMessage() ([]byte, error) {
	data, err := e.messageJSON()
	if err != nil {
		return nil, err
	}
	return jcs.Transform(data)
}

// Sign sets the signature using key.
func (e *Envelope) Sign(key keys.PrivateKey) error {
	if e.Message == nil {
		return errors.New("envelope has no message")
	}
	raw, err := json.Marshal(e.Message)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	e.raw = raw

	canonical, err := jcs.Transform(raw)
	if err != nil {
		return fmt.Errorf("failed to canonicalize message: %w", err)
	}
	sig, err := key.Sign(canonical)
	if err != nil {
		return fmt.Errorf("failed to sign message: %w", err)
	}
	e.Signature = sig
	return nil
}

// Verify checks the signature against key.
func (e *Envelope) Verify(key keys.PublicKey) error {
	if len(e.Signature) == 0 {
		return ErrUnsigned
	}
	if key == nil {
		return ErrBadSignature
	}
	canonical, err := e.CanonicalMessage()
	if err != nil {
		return fmt.Errorf("failed to canonicalize message: %w", err)
	}
	if !key.Verify(canonical, e.Signature) {
		return ErrBadSignature
	}
	return nil
}

// IsValid requires a signature and a valid message for topicID. The
// signature itself can only be checked against document state.
func (e *Envelope) IsValid(topicID string) bool {
	if e.Mode != ModePlain || e.Message == nil || len(e.Signature) == 0 {
		return false
	}
	return e.Message.Validate(topicID, e.opts...) == nil
}

// Bytes returns the wire JSON.
func (e *Envelope) Bytes() ([]byte, error) {
	msg, err := e.messageJSON()
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelopeJSON{
		Mode:      e.Mode,
		Message:   msg,
		Signature: e.Signature,
	})
}
