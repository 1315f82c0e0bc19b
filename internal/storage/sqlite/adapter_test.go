package sqlite_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relves/hcsdid/pkg/hcs"
)

func TestLedger_GetTreeState(t *testing.T) {
	ledger, _ := openLedger(t)
	ctx := context.Background()

	topicID, err := ledger.CreateTopic(ctx, hcs.TopicOptions{})
	require.NoError(t, err)

	size, root, err := ledger.GetTreeState(ctx, topicID)
	require.NoError(t, err)
	assert.Zero(t, size)
	assert.Nil(t, root)

	receipt, err := ledger.Submit(ctx, topicID, []byte("leaf"))
	require.NoError(t, err)

	size, root, err = ledger.GetTreeState(ctx, topicID)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), size)
	assert.Equal(t, receipt.RunningHash, root)

	_, _, err = ledger.GetTreeState(ctx, "0.0.77")
	assert.ErrorIs(t, err, hcs.ErrTopicNotFound)
}

func TestLedger_ListTopics(t *testing.T) {
	ledger, _ := openLedger(t)
	ctx := context.Background()

	ids, err := ledger.ListTopics(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)

	for i := 0; i < 3; i++ {
		_, err := ledger.CreateTopic(ctx, hcs.TopicOptions{})
		require.NoError(t, err)
	}

	ids, err = ledger.ListTopics(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"0.0.1001", "0.0.1002", "0.0.1003"}, ids)
}
