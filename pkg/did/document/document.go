// Package document folds an ordered stream of signed DID messages into a DID
// document and its resolution metadata.
package document

import (
	"encoding/json"
	"slices"

	"github.com/relves/hcsdid/pkg/did/event"
	"github.com/relves/hcsdid/pkg/keys"
)

const (
	Context     = "https://www.w3.org/ns/did/v1"
	ContentType = "application/did+ld+json"
)

// VerificationMethod is a key bound to an id and controller.
type VerificationMethod struct {
	ID              string `json:"id"`
	Type            string `json:"type"`
	Controller      string `json:"controller"`
	PublicKeyBase58 string `json:"publicKeyBase58"`
}

func verificationMethodOf(id, controller string, key keys.PublicKey) VerificationMethod {
	return VerificationMethod{
		ID:              id,
		Type:            string(key.Type()),
		Controller:      controller,
		PublicKeyBase58: keys.Base58(key),
	}
}

// Service is a service endpoint.
type Service struct {
	ID              string `json:"id"`
	Type            string `json:"type"`
	ServiceEndpoint string `json:"serviceEndpoint"`
}

// Document is the DID document aggregate.
type Document struct {
	ID                  string
	Controller          string
	VerificationMethods []VerificationMethod
	Relationships       map[event.Relationship][]string
	Services            []Service
	Deactivated         bool
}

func newDocument(id string) *Document {
	return &Document{
		ID:            id,
		Relationships: make(map[event.Relationship][]string),
	}
}

// Relationship returns the ids in one relationship list.
func (d *Document) Relationship(r event.Relationship) []string {
	return slices.Clone(d.Relationships[r])
}

// VerificationMethod looks up a method by id.
func (d *Document) VerificationMethod(id string) (VerificationMethod, bool) {
	for _, vm := range d.VerificationMethods {
		if vm.ID == id {
			return vm, true
		}
	}
	return VerificationMethod{}, false
}

// Service looks up a service by id.
func (d *Document) Service(id string) (Service, bool) {
	for _, s := range d.Services {
		if s.ID == id {
			return s, true
		}
	}
	return Service{}, false
}

func (d *Document) upsertVerificationMethod(vm VerificationMethod) {
	for i := range d.VerificationMethods {
		if d.VerificationMethods[i].ID == vm.ID {
			d.VerificationMethods[i] = vm
			return
		}
	}
	d.VerificationMethods = append(d.VerificationMethods, vm)
}

func (d *Document) removeVerificationMethod(id string) {
	d.VerificationMethods = slices.DeleteFunc(d.VerificationMethods, func(vm VerificationMethod) bool {
		return vm.ID == id
	})
	for _, r := range event.Relationships {
		d.removeRelationship(r, id)
	}
}

func (d *Document) addRelationship(r event.Relationship, id string) {
	if !slices.Contains(d.Relationships[r], id) {
		d.Relationships[r] = append(d.Relationships[r], id)
	}
}

func (d *Document) removeRelationship(r event.Relationship, id string) {
	list := slices.DeleteFunc(d.Relationships[r], func(v string) bool { return v == id })
	if len(list) == 0 {
		delete(d.Relationships, r)
		return
	}
	d.Relationships[r] = list
}

func (d *Document) upsertService(s Service) {
	for i := range d.Services {
		if d.Services[i].ID == s.ID {
			d.Services[i] = s
			return
		}
	}
	d.Services = append(d.Services, s)
}

func (d *Document) removeService(id string) {
	d.Services = slices.DeleteFunc(d.Services, func(s Service) bool { return s.ID == id })
}

func (d *Document) deactivate() {
	d.Controller = ""
	d.VerificationMethods = nil
	d.Relationships = make(map[event.Relationship][]string)
	d.Services = nil
	d.Deactivated = true
}

type documentJSON struct {
	Context              string               `json:"@context"`
	ID                   string               `json:"id"`
	Controller           string               `json:"controller,omitempty"`
	VerificationMethod   []VerificationMethod `json:"verificationMethod"`
	AssertionMethod      []string             `json:"assertionMethod"`
	Authentication       []string             `json:"authentication"`
	KeyAgreement         []string             `json:"keyAgreement,omitempty"`
	CapabilityInvocation []string             `json:"capabilityInvocation,omitempty"`
	CapabilityDelegation []string             `json:"capabilityDelegation,omitempty"`
	Service              []Service            `json:"service,omitempty"`
}

// MarshalJSON renders the W3C DID document. The controller is omitted when
// it is the DID itself.
func (d *Document) MarshalJSON() ([]byte, error) {
	out := documentJSON{
		Context:              Context,
		ID:                   d.ID,
		VerificationMethod:   nonNil(d.VerificationMethods),
		AssertionMethod:      nonNil(d.Relationships[event.AssertionMethod]),
		Authentication:       nonNil(d.Relationships[event.Authentication]),
		KeyAgreement:         d.Relationships[event.KeyAgreement],
		CapabilityInvocation: d.Relationships[event.CapabilityInvocation],
		CapabilityDelegation: d.Relationships[event.CapabilityDelegation],
		Service:              d.Services,
	}
	if d.Controller != d.ID {
		out.Controller = d.Controller
	}
	return json.Marshal(out)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
