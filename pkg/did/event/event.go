// Package event defines the DID document events carried in DID messages.
//
// Events are a closed set. Each one names its target with the top-level
// JSON key ("DIDOwner", "Service", ...); a registry maps that tag, together
// with whether the operation adds or removes, to the concrete type.
package event

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/relves/hcsdid/pkg/did/identifier"
	"github.com/relves/hcsdid/pkg/keys"
)

// Target is the wire tag of an event.
type Target string

const (
	TargetDIDOwner                 Target = "DIDOwner"
	TargetDocument                 Target = "Document"
	TargetService                  Target = "Service"
	TargetVerificationMethod       Target = "VerificationMethod"
	TargetVerificationRelationship Target = "VerificationRelationship"
)

var (
	ErrInvalidOwnerEventID   = errors.New("Event ID is invalid. Expected format: {did}#did-root-key")
	ErrInvalidServiceEventID = errors.New("Event ID is invalid. Expected format: {did}#service-{number}")
	ErrInvalidKeyEventID     = errors.New("Event ID is invalid. Expected format: {did}#key-{number}")

	ErrUnknownTarget          = errors.New("unknown event target")
	ErrUnsupportedOperation   = errors.New("operation is not supported for event target")
	ErrUnknownRelationship    = errors.New("unknown verification relationship type")
	ErrUnsupportedServiceType = errors.New("unsupported service type")
	ErrMissingField           = errors.New("event is missing a required field")
)

var (
	ownerIDPattern   = regexp.MustCompile(`^(.+)#did-root-key$`)
	serviceIDPattern = regexp.MustCompile(`^(.+)#service-[1-9][0-9]*$`)
	keyIDPattern     = regexp.MustCompile(`^(.+)#key-[1-9][0-9]*$`)
)

// Event is one DID document mutation.
type Event interface {
	Target() Target
	// DID returns the DID the event id belongs to; empty for Document.
	DID() string
	// Validate checks the id grammar and required fields.
	Validate(opts ...identifier.Option) error
	// Removal reports whether the event removes state. Removal events
	// travel with the revoke or delete operation.
	Removal() bool

	body() any
}

// RootKeyID returns the id of the owner verification method of did.
func RootKeyID(did string) string {
	return did + "#did-root-key"
}

// DIDOf returns the DID part of a fragment id.
func DIDOf(id string) string {
	did, _, _ := strings.Cut(id, "#")
	return did
}

func validateID(id string, pattern *regexp.Regexp, errInvalid error, opts []identifier.Option) error {
	m := pattern.FindStringSubmatch(id)
	if m == nil {
		return errInvalid
	}
	if _, err := identifier.Parse(m[1], opts...); err != nil {
		return fmt.Errorf("%w: %w", errInvalid, err)
	}
	return nil
}

func requireKey(k keys.PublicKey) error {
	if k == nil {
		return fmt.Errorf("%w: publicKeyBase58", ErrMissingField)
	}
	return nil
}
