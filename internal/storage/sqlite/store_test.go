package sqlite_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/transparency-dev/merkle/rfc6962"

	"github.com/relves/hcsdid/internal/storage/sqlite"
	"github.com/relves/hcsdid/pkg/hcs"
	"github.com/relves/hcsdid/pkg/keys"
	"github.com/relves/hcsdid/pkg/types"
)

func openLedger(t *testing.T, opts ...sqlite.Option) (*sqlite.Ledger, string) {
	t.Helper()
	tmpDir, err := os.MkdirTemp("", "sqlite-test-*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(tmpDir) })

	ledger, err := sqlite.OpenLedger(tmpDir, "testnet", opts...)
	require.NoError(t, err)
	t.Cleanup(func() { ledger.Close() })
	return ledger, tmpDir
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func collect(t *testing.T, ledger *sqlite.Ledger, q hcs.Query) []types.TopicMessage {
	t.Helper()
	var got []types.TopicMessage
	err := ledger.Subscribe(context.Background(), q, func(m types.TopicMessage) error {
		got = append(got, m)
		return nil
	}, nil)
	require.NoError(t, err)
	return got
}

func TestLedger_OpenAndClose(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "sqlite-test-*")
	require.NoError(t, err)
	defer os.RemoveAll(tmpDir)

	ledger, err := sqlite.OpenLedger(tmpDir, "testnet")
	require.NoError(t, err)
	require.NotNil(t, ledger)
	assert.Equal(t, "testnet", ledger.Network())

	dbPath := filepath.Join(tmpDir, "ledgers", "testnet", "ledger.db")
	assert.Equal(t, dbPath, ledger.DBPath())
	_, err = os.Stat(dbPath)
	assert.NoError(t, err, "database file should exist")

	assert.NoError(t, ledger.Close())
}

func TestLedger_CreateTopic_Numbering(t *testing.T) {
	ledger, tmpDir := openLedger(t)
	ctx := context.Background()

	first, err := ledger.CreateTopic(ctx, hcs.TopicOptions{Memo: "first"})
	require.NoError(t, err)
	second, err := ledger.CreateTopic(ctx, hcs.TopicOptions{})
	require.NoError(t, err)
	assert.Equal(t, "0.0.1001", first)
	assert.Equal(t, "0.0.1002", second)
	require.NoError(t, ledger.Close())

	reopened, err := sqlite.OpenLedger(tmpDir, "testnet")
	require.NoError(t, err)
	defer reopened.Close()

	third, err := reopened.CreateTopic(ctx, hcs.TopicOptions{})
	require.NoError(t, err)
	assert.Equal(t, "0.0.1003", third)

	info, err := reopened.GetTopicInfo(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, "first", info.Memo)
	assert.Zero(t, info.SequenceNumber)
	assert.Nil(t, info.RunningHash)
}

func TestLedger_CreateTopic_AdminMustSign(t *testing.T) {
	ledger, _ := openLedger(t)
	admin, err := keys.GenerateEd25519()
	require.NoError(t, err)

	_, err = ledger.CreateTopic(context.Background(), hcs.TopicOptions{AdminKey: admin.Public()})
	assert.ErrorIs(t, err, hcs.ErrUnauthorized)

	topicID, err := ledger.CreateTopic(context.Background(), hcs.TopicOptions{AdminKey: admin.Public()}, admin)
	require.NoError(t, err)

	info, err := ledger.GetTopicInfo(context.Background(), topicID)
	require.NoError(t, err)
	assert.True(t, keys.Equal(admin.Public(), info.AdminKey))
	assert.Nil(t, info.SubmitKey)
}

func TestLedger_GetTopicInfo_Errors(t *testing.T) {
	ledger, _ := openLedger(t)
	ctx := context.Background()

	_, err := ledger.GetTopicInfo(ctx, "0.0.9999")
	assert.ErrorIs(t, err, hcs.ErrTopicNotFound)

	for _, id := range []string{"", "1001", "0.0.", "0.0.abc", "0.0.-1", "1.2.3"} {
		_, err := ledger.GetTopicInfo(ctx, id)
		assert.ErrorIs(t, err, hcs.ErrInvalidTopicID, id)
	}
}

func TestLedger_Submit_SequenceAndTime(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	ledger, _ := openLedger(t, sqlite.WithClock(fixedClock(now)))
	ctx := context.Background()

	topicID, err := ledger.CreateTopic(ctx, hcs.TopicOptions{})
	require.NoError(t, err)

	var prev types.Timestamp
	for i := 1; i <= 5; i++ {
		receipt, err := ledger.Submit(ctx, topicID, []byte(fmt.Sprintf("message %d", i)))
		require.NoError(t, err)
		assert.Equal(t, topicID, receipt.TopicID)
		assert.Equal(t, uint64(i), receipt.SequenceNumber)
		assert.True(t, receipt.ConsensusTimestamp.After(prev), "consensus time must increase")
		prev = receipt.ConsensusTimestamp
	}

	info, err := ledger.GetTopicInfo(ctx, topicID)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), info.SequenceNumber)

	msgs := collect(t, ledger, hcs.Query{TopicID: topicID})
	require.Len(t, msgs, 5)
	assert.Equal(t, types.FromTime(now), msgs[0].ConsensusTimestamp)
	assert.Equal(t, types.FromTime(now.Add(4*time.Nanosecond)), msgs[4].ConsensusTimestamp)
	for i, m := range msgs {
		assert.Equal(t, uint64(i+1), m.SequenceNumber)
		assert.Equal(t, topicID, m.TopicID)
		assert.Equal(t, fmt.Sprintf("message %d", i+1), string(m.Contents))
	}
}

func TestLedger_Submit_RunningHash(t *testing.T) {
	ledger, tmpDir := openLedger(t)
	ctx := context.Background()

	topicID, err := ledger.CreateTopic(ctx, hcs.TopicOptions{})
	require.NoError(t, err)

	h := rfc6962.DefaultHasher
	a, b, c := []byte("a"), []byte("b"), []byte("c")

	r1, err := ledger.Submit(ctx, topicID, a)
	require.NoError(t, err)
	assert.Equal(t, h.HashLeaf(a), r1.RunningHash)

	r2, err := ledger.Submit(ctx, topicID, b)
	require.NoError(t, err)
	ab := h.HashChildren(h.HashLeaf(a), h.HashLeaf(b))
	assert.Equal(t, ab, r2.RunningHash)

	// the compact range survives a restart
	require.NoError(t, ledger.Close())
	reopened, err := sqlite.OpenLedger(tmpDir, "testnet")
	require.NoError(t, err)
	defer reopened.Close()

	r3, err := reopened.Submit(ctx, topicID, c)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), r3.SequenceNumber)
	assert.Equal(t, h.HashChildren(ab, h.HashLeaf(c)), r3.RunningHash)

	size, root, err := reopened.GetTreeState(ctx, topicID)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), size)
	assert.Equal(t, r3.RunningHash, root)

	msgs := collect(t, reopened, hcs.Query{TopicID: topicID})
	require.Len(t, msgs, 3)
	assert.Equal(t, r2.RunningHash, msgs[1].RunningHash)
}

func TestLedger_Submit_SubmitKey(t *testing.T) {
	ledger, _ := openLedger(t)
	ctx := context.Background()
	owner, err := keys.GenerateEd25519()
	require.NoError(t, err)
	stranger, err := keys.GenerateSecp256k1()
	require.NoError(t, err)

	topicID, err := ledger.CreateTopic(ctx, hcs.TopicOptions{SubmitKey: owner.Public()})
	require.NoError(t, err)

	_, err = ledger.Submit(ctx, topicID, []byte("x"))
	assert.ErrorIs(t, err, hcs.ErrUnauthorized)
	_, err = ledger.Submit(ctx, topicID, []byte("x"), stranger)
	assert.ErrorIs(t, err, hcs.ErrUnauthorized)

	receipt, err := ledger.Submit(ctx, topicID, []byte("x"), stranger, owner)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), receipt.SequenceNumber)

	_, err = ledger.Submit(ctx, "0.0.4242", []byte("x"))
	assert.ErrorIs(t, err, hcs.ErrTopicNotFound)
}

func TestLedger_UpdateTopic(t *testing.T) {
	ledger, _ := openLedger(t)
	ctx := context.Background()
	oldKey, err := keys.GenerateEd25519()
	require.NoError(t, err)
	newKey, err := keys.GenerateSecp256k1()
	require.NoError(t, err)

	immutable, err := ledger.CreateTopic(ctx, hcs.TopicOptions{})
	require.NoError(t, err)
	err = ledger.UpdateTopic(ctx, immutable, hcs.TopicOptions{Memo: "changed"}, oldKey)
	assert.ErrorIs(t, err, hcs.ErrUnauthorized)

	topicID, err := ledger.CreateTopic(ctx, hcs.TopicOptions{
		Memo:      "did",
		SubmitKey: oldKey.Public(),
		AdminKey:  oldKey.Public(),
	}, oldKey)
	require.NoError(t, err)

	rotate := hcs.TopicOptions{SubmitKey: newKey.Public(), AdminKey: newKey.Public()}
	err = ledger.UpdateTopic(ctx, topicID, rotate, oldKey)
	assert.ErrorIs(t, err, hcs.ErrUnauthorized, "new admin key must sign")
	err = ledger.UpdateTopic(ctx, topicID, rotate, newKey)
	assert.ErrorIs(t, err, hcs.ErrUnauthorized, "current admin key must sign")
	require.NoError(t, ledger.UpdateTopic(ctx, topicID, rotate, oldKey, newKey))

	info, err := ledger.GetTopicInfo(ctx, topicID)
	require.NoError(t, err)
	assert.Equal(t, "did", info.Memo)
	assert.True(t, keys.Equal(newKey.Public(), info.SubmitKey))
	assert.True(t, keys.Equal(newKey.Public(), info.AdminKey))

	_, err = ledger.Submit(ctx, topicID, []byte("x"), oldKey)
	assert.ErrorIs(t, err, hcs.ErrUnauthorized)
	_, err = ledger.Submit(ctx, topicID, []byte("x"), newKey)
	assert.NoError(t, err)
}

func TestLedger_Subscribe_Paging(t *testing.T) {
	ledger, _ := openLedger(t)
	ctx := context.Background()

	topicID, err := ledger.CreateTopic(ctx, hcs.TopicOptions{})
	require.NoError(t, err)
	for i := 0; i < 230; i++ {
		_, err := ledger.Submit(ctx, topicID, []byte{byte(i)})
		require.NoError(t, err)
	}

	msgs := collect(t, ledger, hcs.Query{TopicID: topicID})
	require.Len(t, msgs, 230)
	for i, m := range msgs {
		assert.Equal(t, uint64(i+1), m.SequenceNumber)
	}

	limited := collect(t, ledger, hcs.Query{TopicID: topicID, Limit: 120})
	assert.Len(t, limited, 120)
}

func TestLedger_Subscribe_TimeWindow(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var (
		mu  sync.Mutex
		now = base
	)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	}
	ledger, _ := openLedger(t, sqlite.WithClock(clock))
	ctx := context.Background()

	topicID, err := ledger.CreateTopic(ctx, hcs.TopicOptions{})
	require.NoError(t, err)
	var receipts []*hcs.Receipt
	for i := 0; i < 5; i++ {
		r, err := ledger.Submit(ctx, topicID, []byte{byte(i)})
		require.NoError(t, err)
		receipts = append(receipts, r)
	}

	msgs := collect(t, ledger, hcs.Query{
		TopicID:   topicID,
		StartTime: receipts[1].ConsensusTimestamp,
		EndTime:   receipts[3].ConsensusTimestamp,
	})
	require.Len(t, msgs, 2)
	assert.Equal(t, uint64(2), msgs[0].SequenceNumber)
	assert.Equal(t, uint64(3), msgs[1].SequenceNumber)
}

func TestLedger_Subscribe_Stop(t *testing.T) {
	ledger, _ := openLedger(t)
	ctx := context.Background()

	topicID, err := ledger.CreateTopic(ctx, hcs.TopicOptions{})
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := ledger.Submit(ctx, topicID, []byte{byte(i)})
		require.NoError(t, err)
	}

	calls := 0
	err = ledger.Subscribe(ctx, hcs.Query{TopicID: topicID}, func(types.TopicMessage) error {
		calls++
		return hcs.ErrStop
	}, nil)
	assert.NoError(t, err)
	assert.Equal(t, 1, calls)

	boom := errors.New("boom")
	err = ledger.Subscribe(ctx, hcs.Query{TopicID: topicID}, func(types.TopicMessage) error {
		return boom
	}, nil)
	assert.ErrorIs(t, err, boom)

	err = ledger.Subscribe(ctx, hcs.Query{TopicID: "0.0.5555"}, func(types.TopicMessage) error {
		return nil
	}, nil)
	assert.ErrorIs(t, err, hcs.ErrTopicNotFound)
}

func TestLedger_Subscribe_Follow(t *testing.T) {
	ledger, _ := openLedger(t, sqlite.WithPollInterval(10*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	topicID, err := ledger.CreateTopic(ctx, hcs.TopicOptions{})
	require.NoError(t, err)
	_, err = ledger.Submit(ctx, topicID, []byte("before"))
	require.NoError(t, err)

	got := make(chan types.TopicMessage, 10)
	done := make(chan error, 1)
	go func() {
		done <- ledger.Subscribe(ctx, hcs.Query{TopicID: topicID, Follow: true}, func(m types.TopicMessage) error {
			got <- m
			return nil
		}, nil)
	}()

	first := <-got
	assert.Equal(t, "before", string(first.Contents))

	_, err = ledger.Submit(context.Background(), topicID, []byte("after"))
	require.NoError(t, err)

	select {
	case m := <-got:
		assert.Equal(t, "after", string(m.Contents))
		assert.Equal(t, uint64(2), m.SequenceNumber)
	case <-time.After(5 * time.Second):
		t.Fatal("follow subscription did not deliver new message")
	}

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("subscription did not end after cancel")
	}
}

func TestLedger_ConcurrentSubmit(t *testing.T) {
	ledger, _ := openLedger(t)
	ctx := context.Background()

	topicID, err := ledger.CreateTopic(ctx, hcs.TopicOptions{})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := ledger.Submit(ctx, topicID, []byte{byte(i)})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	msgs := collect(t, ledger, hcs.Query{TopicID: topicID})
	require.Len(t, msgs, 20)
	for i, m := range msgs {
		assert.Equal(t, uint64(i+1), m.SequenceNumber)
		if i > 0 {
			assert.True(t, m.ConsensusTimestamp.After(msgs[i-1].ConsensusTimestamp))
		}
	}
}
