package document

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"time"

	"github.com/relves/hcsdid/pkg/did/event"
	"github.com/relves/hcsdid/pkg/did/identifier"
	"github.com/relves/hcsdid/pkg/did/message"
	"github.com/relves/hcsdid/pkg/keys"
	"github.com/relves/hcsdid/pkg/types"
)

var (
	ErrNotCreated          = errors.New("DID owner has not been created")
	ErrOtherDID            = errors.New("message belongs to a different DID")
	ErrFingerprintMismatch = errors.New("owner key does not match DID")
	ErrUnexpectedOperation = errors.New("operation is not allowed for event")
)

// Entry is one envelope as it appeared on the topic.
type Entry struct {
	Envelope           *message.Envelope
	SequenceNumber     uint64
	ConsensusTimestamp types.Timestamp
}

// Metadata describes a resolution.
type Metadata struct {
	Created     *time.Time `json:"created,omitempty"`
	Updated     *time.Time `json:"updated,omitempty"`
	VersionID   string     `json:"versionId,omitempty"`
	Deactivated bool       `json:"deactivated,omitempty"`
}

// Skipped records a message the fold ignored.
type Skipped struct {
	SequenceNumber uint64
	Reason         error
}

// Resolution is the result of a fold. Document is nil when no owner create
// was accepted.
type Resolution struct {
	Document *Document
	Metadata Metadata
	Accepted int
	Skipped  []Skipped
}

// Options tunes a fold.
type Options struct {
	Identifier []identifier.Option
	Logger     *slog.Logger
}

type folder struct {
	did     *identifier.Identifier
	opts    Options
	doc     *Document
	rootKey keys.PublicKey
	res     *Resolution
}

// Fold replays entries for did in sequence order. Entries are sorted
// stably by sequence number first and repeated sequence numbers are
// ignored, so any delivery order gives the same result.
func Fold(did string, entries []Entry, opts Options) (*Resolution, error) {
	id, err := identifier.Parse(did, opts.Identifier...)
	if err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	ordered := slices.Clone(entries)
	slices.SortStableFunc(ordered, func(a, b Entry) int {
		switch {
		case a.SequenceNumber < b.SequenceNumber:
			return -1
		case a.SequenceNumber > b.SequenceNumber:
			return 1
		}
		return 0
	})

	f := &folder{did: id, opts: opts, res: &Resolution{}}
	var (
		last uint64
		seen bool
	)
	for _, e := range ordered {
		if seen && e.SequenceNumber == last {
			continue
		}
		last, seen = e.SequenceNumber, true

		if err := f.apply(e); err != nil {
			f.res.Skipped = append(f.res.Skipped, Skipped{SequenceNumber: e.SequenceNumber, Reason: err})
			opts.Logger.Debug("skipping DID message",
				"did", did,
				"sequenceNumber", e.SequenceNumber,
				"reason", err)
		}
	}

	f.res.Document = f.doc
	if f.doc != nil {
		f.res.Metadata.Deactivated = f.doc.Deactivated
	}
	return f.res, nil
}

func (f *folder) apply(e Entry) error {
	env := e.Envelope
	if env == nil || env.Message == nil {
		return errors.New("empty envelope")
	}
	msg := env.Message
	if msg.DID != f.did.String() {
		return ErrOtherDID
	}
	if err := msg.Validate(f.did.TopicID(), f.opts.Identifier...); err != nil {
		return err
	}
	ev, err := msg.Event()
	if err != nil {
		return err
	}

	if f.doc == nil {
		return f.create(e, msg.Operation, ev)
	}

	if err := env.Verify(f.rootKey); err != nil {
		return err
	}
	if !f.doc.Deactivated {
		if err := f.mutate(msg.Operation, ev); err != nil {
			return err
		}
	}
	f.accept(e)
	return nil
}

func (f *folder) create(e Entry, op message.Operation, ev event.Event) error {
	owner, ok := ev.(*event.OwnerEvent)
	if !ok || op != message.OperationCreate {
		return ErrNotCreated
	}
	if err := e.Envelope.Verify(owner.PublicKey); err != nil {
		return err
	}
	if !keys.MatchesFingerprint(owner.PublicKey, f.did.PublicKeyFingerprint()) {
		return ErrFingerprintMismatch
	}

	did := f.did.String()
	f.doc = newDocument(did)
	f.doc.Controller = owner.Controller
	f.doc.upsertVerificationMethod(verificationMethodOf(owner.ID, owner.Controller, owner.PublicKey))
	f.doc.addRelationship(event.Authentication, owner.ID)
	f.doc.addRelationship(event.AssertionMethod, owner.ID)
	f.rootKey = owner.PublicKey

	f.accept(e)
	return nil
}

func (f *folder) mutate(op message.Operation, ev event.Event) error {
	switch ev := ev.(type) {
	case *event.OwnerEvent:
		switch op {
		case message.OperationCreate:
			// already established
		case message.OperationUpdate:
			f.doc.Controller = ev.Controller
			f.doc.upsertVerificationMethod(verificationMethodOf(ev.ID, ev.Controller, ev.PublicKey))
			f.rootKey = ev.PublicKey
		default:
			return unexpected(op, ev)
		}

	case *event.DeleteEvent:
		if op != message.OperationDelete {
			return unexpected(op, ev)
		}
		f.doc.deactivate()

	case *event.ServiceEvent:
		f.doc.upsertService(Service{ID: ev.ID, Type: string(ev.Type), ServiceEndpoint: ev.Endpoint})

	case *event.RevokeServiceEvent:
		f.doc.removeService(ev.ID)

	case *event.VerificationMethodEvent:
		f.doc.upsertVerificationMethod(verificationMethodOf(ev.ID, ev.Controller, ev.PublicKey))

	case *event.RevokeVerificationMethodEvent:
		f.doc.removeVerificationMethod(ev.ID)

	case *event.VerificationRelationshipEvent:
		switch op {
		case message.OperationCreate:
			if ev.PublicKey != nil {
				f.doc.upsertVerificationMethod(verificationMethodOf(ev.ID, ev.Controller, ev.PublicKey))
			}
			f.doc.addRelationship(ev.Relationship, ev.ID)
		case message.OperationUpdate:
			if _, ok := f.doc.VerificationMethod(ev.ID); ok && ev.PublicKey != nil {
				f.doc.upsertVerificationMethod(verificationMethodOf(ev.ID, ev.Controller, ev.PublicKey))
			}
		default:
			return unexpected(op, ev)
		}

	case *event.RevokeVerificationRelationshipEvent:
		f.doc.removeRelationship(ev.Relationship, ev.ID)

	default:
		return fmt.Errorf("%w: %T", event.ErrUnknownTarget, ev)
	}
	return nil
}

func (f *folder) accept(e Entry) {
	ts := e.ConsensusTimestamp.Time()
	if f.res.Metadata.Created == nil {
		f.res.Metadata.Created = &ts
	}
	f.res.Metadata.Updated = &ts
	f.res.Metadata.VersionID = strconv.FormatUint(e.SequenceNumber, 10)
	f.res.Accepted++
}

func unexpected(op message.Operation, ev event.Event) error {
	return fmt.Errorf("%w: %s %s", ErrUnexpectedOperation, op, ev.Target())
}
