package event

import "fmt"

// ServiceType names a service endpoint kind.
type ServiceType string

const (
	ServiceLinkedDomains    ServiceType = "LinkedDomains"
	ServiceDIDCommMessaging ServiceType = "DIDCommMessaging"
)

func (t ServiceType) validate() error {
	switch t {
	case ServiceLinkedDomains, ServiceDIDCommMessaging:
		return nil
	}
	return fmt.Errorf("%w: %q", ErrUnsupportedServiceType, string(t))
}

// Relationship names a verification relationship list.
type Relationship string

const (
	Authentication       Relationship = "authentication"
	AssertionMethod      Relationship = "assertionMethod"
	KeyAgreement         Relationship = "keyAgreement"
	CapabilityInvocation Relationship = "capabilityInvocation"
	CapabilityDelegation Relationship = "capabilityDelegation"
)

// Relationships lists every relationship in document order.
var Relationships = []Relationship{
	Authentication,
	AssertionMethod,
	KeyAgreement,
	CapabilityInvocation,
	CapabilityDelegation,
}

func (r Relationship) validate() error {
	for _, known := range Relationships {
		if r == known {
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrUnknownRelationship, string(r))
}
