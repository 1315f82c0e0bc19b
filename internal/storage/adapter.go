package storage

import (
	"context"
	"io"

	"github.com/relves/hcsdid/pkg/hcs"
)

// TopicLedger is a consensus ledger backed by local storage.
// It serves the same contracts as a network client so services can run
// against it unchanged.
type TopicLedger interface {
	hcs.Ledger
	io.Closer

	// GetTreeState returns the Merkle tree over a topic's messages.
	// It returns (0, nil, nil) for a topic with no messages.
	GetTreeState(ctx context.Context, topicID string) (size uint64, root []byte, err error)

	// ListTopics returns every topic id in creation order.
	ListTopics(ctx context.Context) ([]string, error)
}
