package event

import (
	"fmt"

	"github.com/relves/hcsdid/pkg/did/identifier"
	"github.com/relves/hcsdid/pkg/keys"
)

// OwnerEvent creates a DID or rotates its root key and controller.
type OwnerEvent struct {
	ID         string
	Controller string
	PublicKey  keys.PublicKey
}

// NewOwnerEvent builds the owner event for did.
func NewOwnerEvent(did, controller string, key keys.PublicKey) *OwnerEvent {
	return &OwnerEvent{ID: RootKeyID(did), Controller: controller, PublicKey: key}
}

func (e *OwnerEvent) Target() Target { return TargetDIDOwner }
func (e *OwnerEvent) DID() string    { return DIDOf(e.ID) }
func (e *OwnerEvent) Removal() bool  { return false }

func (e *OwnerEvent) Validate(opts ...identifier.Option) error {
	if err := validateID(e.ID, ownerIDPattern, ErrInvalidOwnerEventID, opts); err != nil {
		return err
	}
	if e.Controller == "" {
		return fmt.Errorf("%w: controller", ErrMissingField)
	}
	return requireKey(e.PublicKey)
}

func (e *OwnerEvent) body() any { return keyBodyOf(e.ID, e.Controller, e.PublicKey, "") }

// DeleteEvent deactivates the DID document.
type DeleteEvent struct{}

func (e *DeleteEvent) Target() Target                      { return TargetDocument }
func (e *DeleteEvent) DID() string                         { return "" }
func (e *DeleteEvent) Removal() bool                       { return true }
func (e *DeleteEvent) Validate(...identifier.Option) error { return nil }
func (e *DeleteEvent) body() any                           { return struct{}{} }

// ServiceEvent adds or updates a service.
type ServiceEvent struct {
	ID       string
	Type     ServiceType
	Endpoint string
}

func (e *ServiceEvent) Target() Target { return TargetService }
func (e *ServiceEvent) DID() string    { return DIDOf(e.ID) }
func (e *ServiceEvent) Removal() bool  { return false }

func (e *ServiceEvent) Validate(opts ...identifier.Option) error {
	if err := validateID(e.ID, serviceIDPattern, ErrInvalidServiceEventID, opts); err != nil {
		return err
	}
	if err := e.Type.validate(); err != nil {
		return err
	}
	if e.Endpoint == "" {
		return fmt.Errorf("%w: serviceEndpoint", ErrMissingField)
	}
	return nil
}

func (e *ServiceEvent) body() any {
	return serviceBody{ID: e.ID, Type: string(e.Type), ServiceEndpoint: e.Endpoint}
}

// RevokeServiceEvent removes a service.
type RevokeServiceEvent struct {
	ID string
}

func (e *RevokeServiceEvent) Target() Target { return TargetService }
func (e *RevokeServiceEvent) DID() string    { return DIDOf(e.ID) }
func (e *RevokeServiceEvent) Removal() bool  { return true }

func (e *RevokeServiceEvent) Validate(opts ...identifier.Option) error {
	return validateID(e.ID, serviceIDPattern, ErrInvalidServiceEventID, opts)
}

func (e *RevokeServiceEvent) body() any { return serviceBody{ID: e.ID} }

// VerificationMethodEvent adds or updates a verification method.
type VerificationMethodEvent struct {
	ID         string
	Controller string
	PublicKey  keys.PublicKey
}

func (e *VerificationMethodEvent) Target() Target { return TargetVerificationMethod }
func (e *VerificationMethodEvent) DID() string    { return DIDOf(e.ID) }
func (e *VerificationMethodEvent) Removal() bool  { return false }

func (e *VerificationMethodEvent) Validate(opts ...identifier.Option) error {
	if err := validateID(e.ID, keyIDPattern, ErrInvalidKeyEventID, opts); err != nil {
		return err
	}
	if e.Controller == "" {
		return fmt.Errorf("%w: controller", ErrMissingField)
	}
	return requireKey(e.PublicKey)
}

func (e *VerificationMethodEvent) body() any {
	return keyBodyOf(e.ID, e.Controller, e.PublicKey, "")
}

// RevokeVerificationMethodEvent removes a verification method and every
// relationship that references it.
type RevokeVerificationMethodEvent struct {
	ID string
}

func (e *RevokeVerificationMethodEvent) Target() Target { return TargetVerificationMethod }
func (e *RevokeVerificationMethodEvent) DID() string    { return DIDOf(e.ID) }
func (e *RevokeVerificationMethodEvent) Removal() bool  { return true }

func (e *RevokeVerificationMethodEvent) Validate(opts ...identifier.Option) error {
	return validateID(e.ID, keyIDPattern, ErrInvalidKeyEventID, opts)
}

func (e *RevokeVerificationMethodEvent) body() any { return keyBody{ID: e.ID} }

// VerificationRelationshipEvent adds a key to a relationship list. The key
// may define a new verification method inline.
type VerificationRelationshipEvent struct {
	ID           string
	Relationship Relationship
	Controller   string
	PublicKey    keys.PublicKey
}

func (e *VerificationRelationshipEvent) Target() Target { return TargetVerificationRelationship }
func (e *VerificationRelationshipEvent) DID() string    { return DIDOf(e.ID) }
func (e *VerificationRelationshipEvent) Removal() bool  { return false }

func (e *VerificationRelationshipEvent) Validate(opts ...identifier.Option) error {
	if err := validateID(e.ID, keyIDPattern, ErrInvalidKeyEventID, opts); err != nil {
		return err
	}
	if err := e.Relationship.validate(); err != nil {
		return err
	}
	if e.PublicKey != nil && e.Controller == "" {
		return fmt.Errorf("%w: controller", ErrMissingField)
	}
	return nil
}

func (e *VerificationRelationshipEvent) body() any {
	return keyBodyOf(e.ID, e.Controller, e.PublicKey, e.Relationship)
}

// RevokeVerificationRelationshipEvent removes a key from one relationship
// list and leaves the verification method in place.
type RevokeVerificationRelationshipEvent struct {
	ID           string
	Relationship Relationship
}

func (e *RevokeVerificationRelationshipEvent) Target() Target {
	return TargetVerificationRelationship
}
func (e *RevokeVerificationRelationshipEvent) DID() string   { return DIDOf(e.ID) }
func (e *RevokeVerificationRelationshipEvent) Removal() bool { return true }

func (e *RevokeVerificationRelationshipEvent) Validate(opts ...identifier.Option) error {
	if err := validateID(e.ID, keyIDPattern, ErrInvalidKeyEventID, opts); err != nil {
		return err
	}
	return e.Relationship.validate()
}

func (e *RevokeVerificationRelationshipEvent) body() any {
	return keyBody{ID: e.ID, RelationshipType: string(e.Relationship)}
}

var (
	_ Event = (*OwnerEvent)(nil)
	_ Event = (*DeleteEvent)(nil)
	_ Event = (*ServiceEvent)(nil)
	_ Event = (*RevokeServiceEvent)(nil)
	_ Event = (*VerificationMethodEvent)(nil)
	_ Event = (*RevokeVerificationMethodEvent)(nil)
	_ Event = (*VerificationRelationshipEvent)(nil)
	_ Event = (*RevokeVerificationRelationshipEvent)(nil)
)
