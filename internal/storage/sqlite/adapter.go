package sqlite

import (
	"context"

	"github.com/relves/hcsdid/internal/storage"
)

// Ensure Ledger implements TopicLedger at compile time.
var _ storage.TopicLedger = (*Ledger)(nil)

// GetTreeState returns the Merkle tree size and root for a topic.
// Implements storage.TopicLedger interface.
func (l *Ledger) GetTreeState(ctx context.Context, topicID string) (uint64, []byte, error) {
	num, err := parseTopicID(topicID)
	if err != nil {
		return 0, nil, err
	}
	if _, err := l.getTopic(ctx, num); err != nil {
		return 0, nil, err
	}
	return l.treeState(ctx, num)
}

// ListTopics returns every topic id in creation order.
func (l *Ledger) ListTopics(ctx context.Context) ([]string, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT num FROM topics ORDER BY num`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var num int64
		if err := rows.Scan(&num); err != nil {
			return nil, err
		}
		ids = append(ids, formatTopicID(num))
	}
	return ids, rows.Err()
}
