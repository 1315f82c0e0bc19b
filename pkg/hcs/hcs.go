// Package hcs defines the consensus topic contracts used by the file and DID
// services, and resolves typed messages from raw topic streams.
package hcs

import (
	"context"
	"errors"

	"github.com/relves/hcsdid/pkg/keys"
	"github.com/relves/hcsdid/pkg/types"
)

var (
	ErrTimeout         = errors.New("resolution timed out")
	ErrAlreadyExecuted = errors.New("this transaction has already been executed")
	ErrInvalidMessage  = errors.New("HCS message is not valid")
	ErrTopicNotFound   = errors.New("topic not found")
	ErrInvalidTopicID  = errors.New("invalid topic ID")
	ErrUnauthorized    = errors.New("transaction is not signed by the topic key")
	ErrReadOnly        = errors.New("ledger is read-only")

	// ErrStop may be returned by a message handler to end a subscription
	// early without error.
	ErrStop = errors.New("stop subscription")
)

// Message is a typed topic payload.
type Message interface {
	// IsValid reports whether the message may appear on topicID.
	IsValid(topicID string) bool
}

// Encodable is a Message that can be submitted.
type Encodable interface {
	Message
	Bytes() ([]byte, error)
}

// Decoder parses raw message contents into a typed message.
type Decoder[M Message] func(contents []byte) (M, error)

// Filter inspects a raw message before decoding. Returning false drops it.
type Filter func(types.TopicMessage) bool

// Received is a resolved message together with its ledger metadata.
type Received[M Message] struct {
	Message            M
	SequenceNumber     uint64
	ConsensusTimestamp types.Timestamp
}

// Query selects messages from one topic.
type Query struct {
	TopicID string
	// StartTime is inclusive; zero means the beginning of the topic.
	StartTime types.Timestamp
	// EndTime is exclusive; zero means unbounded.
	EndTime types.Timestamp
	// Limit caps the number of raw messages delivered; zero means no cap.
	Limit uint64
	// Follow keeps the subscription open for new messages until the
	// context ends. Without it the subscription ends once the existing
	// messages have been delivered.
	Follow bool
}

// Subscriber delivers raw topic messages in ascending sequence order.
//
// Subscribe blocks. It returns nil when the stream is exhausted, the limit
// is reached or onMessage returns ErrStop, and ctx.Err() when the context
// ends. Other errors returned by onMessage end the subscription with that
// error. In follow mode transient transport errors are passed to onError
// (which may be nil) and the subscription keeps going.
type Subscriber interface {
	Subscribe(ctx context.Context, q Query, onMessage func(types.TopicMessage) error, onError func(error)) error
}

// TopicOptions configures topic creation and update.
type TopicOptions struct {
	Memo      string
	SubmitKey keys.PublicKey
	AdminKey  keys.PublicKey
}

// TopicInfo describes a topic.
type TopicInfo struct {
	TopicID        string
	Memo           string
	SequenceNumber uint64
	RunningHash    []byte
	SubmitKey      keys.PublicKey
	AdminKey       keys.PublicKey
}

// Receipt confirms a submitted message.
type Receipt struct {
	TopicID            string
	SequenceNumber     uint64
	ConsensusTimestamp types.Timestamp
	RunningHash        []byte
}

// TopicService manages topics.
type TopicService interface {
	CreateTopic(ctx context.Context, opts TopicOptions, signers ...keys.PrivateKey) (string, error)
	UpdateTopic(ctx context.Context, topicID string, opts TopicOptions, signers ...keys.PrivateKey) error
	GetTopicInfo(ctx context.Context, topicID string) (*TopicInfo, error)
}

// Submitter appends messages to topics.
type Submitter interface {
	Submit(ctx context.Context, topicID string, contents []byte, signers ...keys.PrivateKey) (*Receipt, error)
}

// Ledger is the full set of topic operations the services need.
type Ledger interface {
	TopicService
	Submitter
	Subscriber
}
