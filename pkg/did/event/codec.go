package event

import (
	"encoding/json"
	"fmt"

	"github.com/relves/hcsdid/pkg/keys"
)

type keyBody struct {
	ID               string `json:"id"`
	RelationshipType string `json:"relationshipType,omitempty"`
	Type             string `json:"type,omitempty"`
	Controller       string `json:"controller,omitempty"`
	PublicKeyBase58  string `json:"publicKeyBase58,omitempty"`
}

func keyBodyOf(id, controller string, key keys.PublicKey, rel Relationship) keyBody {
	b := keyBody{ID: id, Controller: controller, RelationshipType: string(rel)}
	if key != nil {
		b.Type = string(key.Type())
		b.PublicKeyBase58 = keys.Base58(key)
	}
	return b
}

func (b keyBody) publicKey() (keys.PublicKey, error) {
	if b.PublicKeyBase58 == "" {
		return nil, nil
	}
	kt, err := keys.ParseKeyType(b.Type)
	if err != nil {
		return nil, err
	}
	return keys.PublicKeyFromBase58(kt, b.PublicKeyBase58)
}

type serviceBody struct {
	ID              string `json:"id"`
	Type            string `json:"type,omitempty"`
	ServiceEndpoint string `json:"serviceEndpoint,omitempty"`
}

type registryKey struct {
	target  Target
	removal bool
}

type decodeFunc func(json.RawMessage) (Event, error)

var registry = map[registryKey]decodeFunc{
	{TargetDIDOwner, false}: func(raw json.RawMessage) (Event, error) {
		var b keyBody
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, err
		}
		key, err := b.publicKey()
		if err != nil {
			return nil, err
		}
		return &OwnerEvent{ID: b.ID, Controller: b.Controller, PublicKey: key}, nil
	},
	{TargetDocument, true}: func(json.RawMessage) (Event, error) {
		return &DeleteEvent{}, nil
	},
	{TargetService, false}: func(raw json.RawMessage) (Event, error) {
		var b serviceBody
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, err
		}
		return &ServiceEvent{ID: b.ID, Type: ServiceType(b.Type), Endpoint: b.ServiceEndpoint}, nil
	},
	{TargetService, true}: func(raw json.RawMessage) (Event, error) {
		var b serviceBody
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, err
		}
		return &RevokeServiceEvent{ID: b.ID}, nil
	},
	{TargetVerificationMethod, false}: func(raw json.RawMessage) (Event, error) {
		var b keyBody
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, err
		}
		key, err := b.publicKey()
		if err != nil {
			return nil, err
		}
		return &VerificationMethodEvent{ID: b.ID, Controller: b.Controller, PublicKey: key}, nil
	},
	{TargetVerificationMethod, true}: func(raw json.RawMessage) (Event, error) {
		var b keyBody
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, err
		}
		return &RevokeVerificationMethodEvent{ID: b.ID}, nil
	},
	{TargetVerificationRelationship, false}: func(raw json.RawMessage) (Event, error) {
		var b keyBody
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, err
		}
		key, err := b.publicKey()
		if err != nil {
			return nil, err
		}
		return &VerificationRelationshipEvent{
			ID:           b.ID,
			Relationship: Relationship(b.RelationshipType),
			Controller:   b.Controller,
			PublicKey:    key,
		}, nil
	},
	{TargetVerificationRelationship, true}: func(raw json.RawMessage) (Event, error) {
		var b keyBody
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, err
		}
		return &RevokeVerificationRelationshipEvent{ID: b.ID, Relationship: Relationship(b.RelationshipType)}, nil
	},
}

// Encode returns the tagged JSON of an event.
func Encode(e Event) ([]byte, error) {
	return json.Marshal(map[Target]any{e.Target(): e.body()})
}

// Decode parses tagged event JSON. removal selects the removal variant of
// the target, matching a revoke or delete operation.
func Decode(data []byte, removal bool) (Event, error) {
	var tagged map[string]json.RawMessage
	if err := json.Unmarshal(data, &tagged); err != nil {
		return nil, fmt.Errorf("failed to parse event: %w", err)
	}
	if len(tagged) != 1 {
		return nil, fmt.Errorf("%w: expected exactly one target, got %d", ErrUnknownTarget, len(tagged))
	}

	var (
		tag string
		raw json.RawMessage
	)
	for tag, raw = range tagged {
	}

	decode, ok := registry[registryKey{Target(tag), removal}]
	if !ok {
		if _, known := registry[registryKey{Target(tag), !removal}]; known {
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedOperation, tag)
		}
		return nil, fmt.Errorf("%w: %s", ErrUnknownTarget, tag)
	}
	e, err := decode(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s event: %w", tag, err)
	}
	return e, nil
}
