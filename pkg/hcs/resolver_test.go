package hcs_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relves/hcsdid/pkg/hcs"
	"github.com/relves/hcsdid/pkg/types"
)

const topic = "0.0.1001"

func newNoteResolver(sub hcs.Subscriber, mutate ...func(*hcs.Config[*noteMessage])) *hcs.Resolver[*noteMessage] {
	cfg := hcs.Config[*noteMessage]{Decoder: decodeNote}
	for _, m := range mutate {
		m(&cfg)
	}
	return hcs.NewResolver(sub, cfg)
}

func texts(msgs []hcs.Received[*noteMessage]) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Message.Text
	}
	return out
}

func TestResolver_OrdersBySequenceNumber(t *testing.T) {
	sub := &mockSubscriber{delivery: []types.TopicMessage{
		rawNote(topic, 3, "c"),
		rawNote(topic, 1, "a"),
		rawNote(topic, 2, "b"),
		rawNote(topic, 1, "a"), // redelivery
	}}

	res, err := newNoteResolver(sub).Resolve(context.Background(), hcs.Query{TopicID: topic})
	require.NoError(t, err)
	assert.Equal(t, hcs.StateComplete, res.State)
	assert.Equal(t, []string{"a", "b", "c"}, texts(res.Messages))
	assert.Equal(t, uint64(1), res.Messages[0].SequenceNumber)
	assert.Equal(t, int64(1700000001), res.Messages[0].ConsensusTimestamp.Seconds)
}

func TestResolver_ReportsInvalidMessages(t *testing.T) {
	sub := &mockSubscriber{delivery: []types.TopicMessage{
		rawNote(topic, 1, "keep"),
		{TopicID: topic, SequenceNumber: 2, Contents: []byte("not json")},
		rawNote("0.0.9", 3, "wrong topic"),
		rawNote(topic, 4, "filtered"),
		rawNote(topic, 5, "keep too"),
	}}

	var reasons []string
	resolver := newNoteResolver(sub, func(c *hcs.Config[*noteMessage]) {
		c.Filters = []hcs.Filter{func(m types.TopicMessage) bool { return m.SequenceNumber != 4 }}
		c.InvalidHandler = func(raw types.TopicMessage, reason string) {
			reasons = append(reasons, reason)
		}
	})

	res, err := resolver.Resolve(context.Background(), hcs.Query{TopicID: topic})
	require.NoError(t, err)
	assert.Equal(t, []string{"keep", "keep too"}, texts(res.Messages))
	assert.Equal(t, []string{hcs.ReasonExtractFailed, hcs.ReasonInvalid, hcs.ReasonFiltered}, reasons)
}

func TestResolver_LimitCountsAcceptedMessages(t *testing.T) {
	sub := &mockSubscriber{delivery: []types.TopicMessage{
		rawNote(topic, 1, "a"),
		{TopicID: topic, SequenceNumber: 2, Contents: []byte("junk")},
		rawNote(topic, 3, "b"),
		rawNote(topic, 4, "c"),
	}}

	res, err := newNoteResolver(sub).Resolve(context.Background(), hcs.Query{TopicID: topic, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, hcs.StateComplete, res.State)
	assert.Equal(t, []string{"a", "b"}, texts(res.Messages))
}

func TestResolver_Timeout(t *testing.T) {
	sub := &mockSubscriber{block: true}

	res, err := newNoteResolver(sub, func(c *hcs.Config[*noteMessage]) {
		c.Timeout = 50 * time.Millisecond
	}).Resolve(context.Background(), hcs.Query{TopicID: topic})

	assert.ErrorIs(t, err, hcs.ErrTimeout)
	require.NotNil(t, res)
	assert.Equal(t, hcs.StateTimedOut, res.State)
	assert.Empty(t, res.Messages)
}

func TestResolver_TransportError(t *testing.T) {
	boom := errors.New("mirror unavailable")
	sub := &mockSubscriber{
		delivery: []types.TopicMessage{rawNote(topic, 1, "a")},
		failWith: boom,
	}

	res, err := newNoteResolver(sub).Resolve(context.Background(), hcs.Query{TopicID: topic})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, hcs.StateErrored, res.State)
	assert.Empty(t, res.Messages)
}

func TestResolver_AccumulatorCompletesEarly(t *testing.T) {
	sub := &mockSubscriber{delivery: []types.TopicMessage{
		rawNote(topic, 1, "a"),
		rawNote(topic, 2, "reject"),
		rawNote(topic, 3, "b"),
		rawNote(topic, 4, "never"),
	}}

	var reasons []string
	resolver := newNoteResolver(sub, func(c *hcs.Config[*noteMessage]) {
		c.InvalidHandler = func(_ types.TopicMessage, reason string) { reasons = append(reasons, reason) }
		c.Accumulator = func(r hcs.Received[*noteMessage]) (bool, error) {
			if r.Message.Text == "reject" {
				return false, errors.New("conflicting chunk")
			}
			return r.Message.Text == "b", nil
		}
	})

	res, err := resolver.Resolve(context.Background(), hcs.Query{TopicID: topic})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, texts(res.Messages))
	assert.Equal(t, []string{"conflicting chunk"}, reasons)
}

func TestResolver_RejectsFollow(t *testing.T) {
	_, err := newNoteResolver(&mockSubscriber{}).Resolve(context.Background(), hcs.Query{TopicID: topic, Follow: true})
	assert.Error(t, err)
}

func TestResolver_ConcurrentResolutionsAreIndependent(t *testing.T) {
	sub := &mockSubscriber{delivery: []types.TopicMessage{rawNote(topic, 1, "a"), rawNote(topic, 2, "b")}}
	resolver := newNoteResolver(sub)

	results := make(chan []string, 8)
	for i := 0; i < 8; i++ {
		go func() {
			res, err := resolver.Resolve(context.Background(), hcs.Query{TopicID: topic})
			if err != nil {
				results <- nil
				return
			}
			results <- texts(res.Messages)
		}()
	}
	for i := 0; i < 8; i++ {
		assert.Equal(t, []string{"a", "b"}, <-results)
	}
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "complete", hcs.StateComplete.String())
	assert.Equal(t, "timed_out", hcs.StateTimedOut.String())
}
