// Package did manages a Hedera DID on its consensus topic: registration,
// document updates and resolution.
package did

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/relves/hcsdid/pkg/did/document"
	"github.com/relves/hcsdid/pkg/did/event"
	"github.com/relves/hcsdid/pkg/did/identifier"
	"github.com/relves/hcsdid/pkg/did/message"
	"github.com/relves/hcsdid/pkg/hcs"
	"github.com/relves/hcsdid/pkg/keys"
	"github.com/relves/hcsdid/pkg/types"
)

var (
	ErrNotRegistered       = errors.New("DID is not registered")
	ErrAlreadyRegistered   = errors.New("DID is already registered")
	ErrRegisterKeyRequired = errors.New("Private key is required to register new DID")
	ErrSigningKeyRequired  = errors.New("Private key is required to submit DID event transaction")
	ErrDeactivated         = errors.New("DID is deactivated")
)

const (
	DefaultNetwork        = "testnet"
	defaultResolveTimeout = 30 * time.Second
)

// Option configures a DID.
type Option func(*DID)

// WithIdentifier binds the DID to an existing identifier.
func WithIdentifier(did string) Option {
	return func(d *DID) { d.rawIdentifier = did }
}

// WithPrivateKey sets the key that signs DID messages and owns the topic.
func WithPrivateKey(key keys.PrivateKey) Option {
	return func(d *DID) { d.privateKey = key }
}

// WithNetwork sets the network of a DID that is yet to be registered.
func WithNetwork(network string) Option {
	return func(d *DID) { d.network = network }
}

// WithIdentifierOptions passes parsing options, such as extra networks, to
// every identifier check.
func WithIdentifierOptions(opts ...identifier.Option) Option {
	return func(d *DID) { d.idOpts = append(d.idOpts, opts...) }
}

// WithResolveTimeout bounds each topic read.
func WithResolveTimeout(timeout time.Duration) Option {
	return func(d *DID) { d.timeout = timeout }
}

// WithTimestampGenerator sets the source of message timestamps.
func WithTimestampGenerator(g *types.TimestampGenerator) Option {
	return func(d *DID) { d.timestamps = g }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *DID) { d.logger = logger }
}

// DID is a handle on one Hedera DID. Without a private key it can only
// resolve.
type DID struct {
	ledger hcs.Ledger

	rawIdentifier string
	network       string
	idOpts        []identifier.Option
	timeout       time.Duration
	timestamps    *types.TimestampGenerator
	logger        *slog.Logger

	mu         sync.Mutex
	id         *identifier.Identifier
	privateKey keys.PrivateKey
}

// New returns a DID handle on ledger. At least one of WithIdentifier and
// WithPrivateKey must be given.
func New(ledger hcs.Ledger, opts ...Option) (*DID, error) {
	d := &DID{
		ledger:     ledger,
		network:    DefaultNetwork,
		timeout:    defaultResolveTimeout,
		timestamps: types.NewTimestampGenerator(),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}

	if d.rawIdentifier != "" {
		id, err := identifier.Parse(d.rawIdentifier, d.idOpts...)
		if err != nil {
			return nil, err
		}
		d.id = id
		d.network = id.Network()
	}
	if d.id == nil && d.privateKey == nil {
		return nil, errors.New("identifier or private key is required")
	}
	return d, nil
}

// Identifier returns the DID string, or "" before registration.
func (d *DID) Identifier() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.id == nil {
		return ""
	}
	return d.id.String()
}

// TopicID returns the DID topic, or "" before registration.
func (d *DID) TopicID() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.id == nil {
		return ""
	}
	return d.id.TopicID()
}

func (d *DID) Network() string {
	return d.network
}

// Register creates the DID topic and publishes the owner event. A DID
// bound to an existing identifier publishes to that topic instead,
// provided nothing has been registered there yet.
func (d *DID) Register(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.privateKey == nil {
		return ErrRegisterKeyRequired
	}
	pub := d.privateKey.Public()

	if d.id != nil {
		res, err := d.resolveLocked(ctx)
		if err != nil {
			return err
		}
		if res.Document != nil {
			if res.Document.Deactivated {
				return ErrDeactivated
			}
			return ErrAlreadyRegistered
		}
	} else {
		topicID, err := d.ledger.CreateTopic(ctx, hcs.TopicOptions{
			SubmitKey: pub,
			AdminKey:  pub,
		}, d.privateKey)
		if err != nil {
			return fmt.Errorf("failed to create DID topic: %w", err)
		}
		id, err := identifier.New(d.network, pub.Bytes(), topicID, d.idOpts...)
		if err != nil {
			return err
		}
		d.id = id
	}

	did := d.id.String()
	if _, err := d.submitLocked(ctx, message.OperationCreate, event.NewOwnerEvent(did, did, pub)); err != nil {
		return err
	}
	d.logger.Info("registered DID", "did", did, "topicID", d.id.TopicID())
	return nil
}

// Resolve returns the current document. It fails with ErrNotRegistered
// when the topic holds no accepted owner event.
func (d *DID) Resolve(ctx context.Context) (*document.Resolution, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.id == nil {
		return nil, ErrNotRegistered
	}
	res, err := d.resolveLocked(ctx)
	if err != nil {
		return nil, err
	}
	if res.Document == nil {
		return nil, ErrNotRegistered
	}
	return res, nil
}

func (d *DID) resolveLocked(ctx context.Context) (*document.Resolution, error) {
	return resolveTopic(ctx, d.ledger, d.id, topicConfig{
		timeout: d.timeout,
		idOpts:  d.idOpts,
		logger:  d.logger,
	})
}

// Delete deactivates the DID document.
func (d *DID) Delete(ctx context.Context) error {
	return d.submit(ctx, message.OperationDelete, &event.DeleteEvent{})
}

// ChangeOwner hands the DID to controller and rotates the root key to
// newKey. The topic's submit and admin keys follow.
func (d *DID) ChangeOwner(ctx context.Context, controller string, newKey keys.PrivateKey) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.requireSignerLocked(); err != nil {
		return err
	}
	if _, err := identifier.Parse(controller, d.idOpts...); err != nil {
		return fmt.Errorf("invalid controller: %w", err)
	}
	if newKey == nil {
		return fmt.Errorf("%w: new owner key is required", keys.ErrInvalidKey)
	}

	newPub := newKey.Public()
	if _, err := d.submitLocked(ctx, message.OperationUpdate, event.NewOwnerEvent(d.id.String(), controller, newPub)); err != nil {
		return err
	}
	if err := d.ledger.UpdateTopic(ctx, d.id.TopicID(), hcs.TopicOptions{
		SubmitKey: newPub,
		AdminKey:  newPub,
	}, d.privateKey, newKey); err != nil {
		return fmt.Errorf("failed to rotate DID topic keys: %w", err)
	}

	d.privateKey = newKey
	d.logger.Info("changed DID owner", "did", d.id.String(), "controller", controller)
	return nil
}

// AddService adds a service endpoint.
func (d *DID) AddService(ctx context.Context, id string, typ event.ServiceType, endpoint string) error {
	return d.submit(ctx, message.OperationCreate, &event.ServiceEvent{ID: id, Type: typ, Endpoint: endpoint})
}

// UpdateService replaces a service endpoint.
func (d *DID) UpdateService(ctx context.Context, id string, typ event.ServiceType, endpoint string) error {
	return d.submit(ctx, message.OperationUpdate, &event.ServiceEvent{ID: id, Type: typ, Endpoint: endpoint})
}

// RevokeService removes a service endpoint.
func (d *DID) RevokeService(ctx context.Context, id string) error {
	return d.submit(ctx, message.OperationRevoke, &event.RevokeServiceEvent{ID: id})
}

// AddVerificationMethod adds a verification method.
func (d *DID) AddVerificationMethod(ctx context.Context, id, controller string, key keys.PublicKey) error {
	return d.submit(ctx, message.OperationCreate, &event.VerificationMethodEvent{ID: id, Controller: controller, PublicKey: key})
}

// UpdateVerificationMethod replaces a verification method's key.
func (d *DID) UpdateVerificationMethod(ctx context.Context, id, controller string, key keys.PublicKey) error {
	return d.submit(ctx, message.OperationUpdate, &event.VerificationMethodEvent{ID: id, Controller: controller, PublicKey: key})
}

// RevokeVerificationMethod removes a verification method and its
// relationship entries.
func (d *DID) RevokeVerificationMethod(ctx context.Context, id string) error {
	return d.submit(ctx, message.OperationRevoke, &event.RevokeVerificationMethodEvent{ID: id})
}

// AddVerificationRelationship adds id to a relationship. key may be nil
// when id already names a verification method.
func (d *DID) AddVerificationRelationship(ctx context.Context, id string, rel event.Relationship, controller string, key keys.PublicKey) error {
	return d.submit(ctx, message.OperationCreate, &event.VerificationRelationshipEvent{
		ID:           id,
		Relationship: rel,
		Controller:   controller,
		PublicKey:    key,
	})
}

// UpdateVerificationRelationship replaces the key behind a relationship
// entry.
func (d *DID) UpdateVerificationRelationship(ctx context.Context, id string, rel event.Relationship, controller string, key keys.PublicKey) error {
	return d.submit(ctx, message.OperationUpdate, &event.VerificationRelationshipEvent{
		ID:           id,
		Relationship: rel,
		Controller:   controller,
		PublicKey:    key,
	})
}

// RevokeVerificationRelationship removes id from a relationship.
func (d *DID) RevokeVerificationRelationship(ctx context.Context, id string, rel event.Relationship) error {
	return d.submit(ctx, message.OperationRevoke, &event.RevokeVerificationRelationshipEvent{ID: id, Relationship: rel})
}

func (d *DID) submit(ctx context.Context, op message.Operation, ev event.Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.requireSignerLocked(); err != nil {
		return err
	}
	_, err := d.submitLocked(ctx, op, ev)
	return err
}

func (d *DID) requireSignerLocked() error {
	if d.id == nil {
		return ErrNotRegistered
	}
	if d.privateKey == nil {
		return ErrSigningKeyRequired
	}
	return nil
}

func (d *DID) submitLocked(ctx context.Context, op message.Operation, ev event.Event) (*hcs.Receipt, error) {
	if err := ev.Validate(d.idOpts...); err != nil {
		return nil, err
	}
	did := d.id.String()
	m, err := message.New(op, did, ev)
	if err != nil {
		return nil, err
	}
	m.Timestamp = d.timestamps.Generate().Time()

	env := message.NewEnvelope(m, d.idOpts...)
	if err := env.Sign(d.privateKey); err != nil {
		return nil, err
	}
	if err := env.Message.Validate(d.id.TopicID(), d.idOpts...); err != nil {
		return nil, err
	}

	receipt, err := hcs.NewTransaction(d.id.TopicID(), env, d.ledger, d.privateKey).Execute(ctx)
	if err != nil {
		return nil, err
	}
	d.logger.Debug("submitted DID message",
		"did", did,
		"operation", op,
		"target", ev.Target(),
		"sequenceNumber", receipt.SequenceNumber)
	return receipt, nil
}
