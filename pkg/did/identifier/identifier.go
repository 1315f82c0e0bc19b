// Package identifier parses and formats Hedera DIDs of the form
// did:hedera:{network}:z{base58 public key}_{shard}.{realm}.{num}.
package identifier

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"

	mb "github.com/multiformats/go-multibase"
)

const (
	Prefix = "did"
	Method = "hedera"

	methodSeparator = ":"
	topicSeparator  = "_"
)

// Networks known without configuration.
var Networks = []string{"mainnet", "testnet", "previewnet"}

var (
	ErrEmptyString       = errors.New("DID string cannot be empty")
	ErrInvalidPrefix     = errors.New("DID string is invalid: invalid prefix")
	ErrInvalidMethodName = errors.New("DID string is invalid: invalid method name")
	ErrInvalidNetwork    = errors.New("DID string is invalid. Invalid Hedera network.")
	ErrMissingTopicID    = errors.New("DID string is invalid: topic ID is missing")
	ErrMalformedIDString = errors.New("DID string is invalid. ID holds incorrect format.")
)

var topicIDPattern = regexp.MustCompile(`^\d+\.\d+\.\d+$`)

// Identifier is a parsed Hedera DID.
type Identifier struct {
	network   string
	topicID   string
	idString  string
	publicKey []byte
}

type options struct {
	networks []string
}

// Option configures parsing.
type Option func(*options)

// WithNetworks adds custom network names (e.g. "local") to the accepted set.
func WithNetworks(names ...string) Option {
	return func(o *options) {
		o.networks = append(o.networks, names...)
	}
}

func applyOptions(opts ...Option) *options {
	o := &options{networks: slices.Clone(Networks)}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Parse validates s and splits it into network, topic id and key fingerprint.
func Parse(s string, opts ...Option) (*Identifier, error) {
	if s == "" {
		return nil, ErrEmptyString
	}
	o := applyOptions(opts...)

	parts := strings.Split(s, methodSeparator)
	if len(parts) < 2 || parts[0] != Prefix {
		return nil, ErrInvalidPrefix
	}
	if parts[1] != Method {
		return nil, fmt.Errorf("%w: %s", ErrInvalidMethodName, parts[1])
	}
	if len(parts) != 4 {
		return nil, ErrMalformedIDString
	}

	network := parts[2]
	if !slices.Contains(o.networks, network) {
		return nil, ErrInvalidNetwork
	}

	idParts := strings.Split(parts[3], topicSeparator)
	switch {
	case len(idParts) == 1:
		return nil, ErrMissingTopicID
	case len(idParts) > 2:
		return nil, ErrMalformedIDString
	}

	idString, topicID := idParts[0], idParts[1]
	if !topicIDPattern.MatchString(topicID) {
		return nil, ErrMalformedIDString
	}

	publicKey, err := decodeIDString(idString)
	if err != nil {
		return nil, err
	}

	return &Identifier{
		network:   network,
		topicID:   topicID,
		idString:  idString,
		publicKey: publicKey,
	}, nil
}

// New builds an identifier from a raw public key fingerprint and topic.
func New(network string, publicKey []byte, topicID string, opts ...Option) (*Identifier, error) {
	o := applyOptions(opts...)
	if !slices.Contains(o.networks, network) {
		return nil, ErrInvalidNetwork
	}
	if topicID == "" {
		return nil, ErrMissingTopicID
	}
	if !topicIDPattern.MatchString(topicID) {
		return nil, ErrMalformedIDString
	}
	if len(publicKey) == 0 {
		return nil, ErrMalformedIDString
	}

	idString, err := mb.Encode(mb.Base58BTC, publicKey)
	if err != nil {
		return nil, fmt.Errorf("encode id string: %w", err)
	}

	return &Identifier{
		network:   network,
		topicID:   topicID,
		idString:  idString,
		publicKey: append([]byte(nil), publicKey...),
	}, nil
}

func decodeIDString(idString string) ([]byte, error) {
	if !strings.HasPrefix(idString, "z") {
		return nil, ErrMalformedIDString
	}
	enc, data, err := mb.Decode(idString)
	if err != nil || enc != mb.Base58BTC || len(data) == 0 {
		return nil, ErrMalformedIDString
	}
	return data, nil
}

func (id *Identifier) Network() string  { return id.network }
func (id *Identifier) TopicID() string  { return id.topicID }
func (id *Identifier) IDString() string { return id.idString }

// PublicKeyFingerprint returns the decoded key bytes of the method-specific id.
func (id *Identifier) PublicKeyFingerprint() []byte {
	return append([]byte(nil), id.publicKey...)
}

func (id *Identifier) String() string {
	return Prefix + methodSeparator + Method + methodSeparator + id.network +
		methodSeparator + id.idString + topicSeparator + id.topicID
}

// MarshalText implements encoding.TextMarshaler.
func (id *Identifier) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}
