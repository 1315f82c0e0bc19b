package hcs

import (
	"context"
	"fmt"
	"sync"

	"github.com/relves/hcsdid/pkg/keys"
)

// Transaction submits one message to a topic. It can be executed once.
type Transaction struct {
	topicID   string
	message   Encodable
	submitter Submitter
	signers   []keys.PrivateKey

	mu       sync.Mutex
	executed bool
}

// NewTransaction prepares message for submission to topicID.
func NewTransaction(topicID string, message Encodable, submitter Submitter, signers ...keys.PrivateKey) *Transaction {
	return &Transaction{
		topicID:   topicID,
		message:   message,
		submitter: submitter,
		signers:   signers,
	}
}

// Execute validates and submits the message.
func (t *Transaction) Execute(ctx context.Context) (*Receipt, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.executed {
		return nil, ErrAlreadyExecuted
	}
	if !t.message.IsValid(t.topicID) {
		return nil, ErrInvalidMessage
	}

	contents, err := t.message.Bytes()
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}

	t.executed = true
	receipt, err := t.submitter.Submit(ctx, t.topicID, contents, t.signers...)
	if err != nil {
		return nil, fmt.Errorf("failed to submit message to topic %s: %w", t.topicID, err)
	}
	return receipt, nil
}
