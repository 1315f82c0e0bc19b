package hcs_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/relves/hcsdid/pkg/hcs"
	"github.com/relves/hcsdid/pkg/keys"
	"github.com/relves/hcsdid/pkg/types"
)

type noteMessage struct {
	Topic string `json:"topic"`
	Text  string `json:"text"`
}

func (m *noteMessage) IsValid(topicID string) bool {
	return m.Topic == topicID && m.Text != ""
}

func (m *noteMessage) Bytes() ([]byte, error) {
	return json.Marshal(m)
}

func decodeNote(b []byte) (*noteMessage, error) {
	var m noteMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func rawNote(topic string, seq uint64, text string) types.TopicMessage {
	b, _ := json.Marshal(noteMessage{Topic: topic, Text: text})
	return types.TopicMessage{
		TopicID:            topic,
		SequenceNumber:     seq,
		ConsensusTimestamp: types.Timestamp{Seconds: 1700000000 + int64(seq)},
		Contents:           b,
	}
}

// mockSubscriber replays a fixed delivery, then either returns or, when
// following, waits for pushed messages until the context ends.
type mockSubscriber struct {
	mu        sync.Mutex
	delivery  []types.TopicMessage
	live      chan types.TopicMessage
	failWith  error
	transient []error
	block     bool
	calls     int
}

func (s *mockSubscriber) Subscribe(ctx context.Context, q hcs.Query, onMessage func(types.TopicMessage) error, onError func(error)) error {
	s.mu.Lock()
	s.calls++
	delivery := append([]types.TopicMessage(nil), s.delivery...)
	s.mu.Unlock()

	if s.block {
		<-ctx.Done()
		return ctx.Err()
	}

	var n uint64
	deliver := func(m types.TopicMessage) (bool, error) {
		if err := onMessage(m); err != nil {
			if errors.Is(err, hcs.ErrStop) {
				return true, nil
			}
			return true, err
		}
		n++
		return q.Limit > 0 && n >= q.Limit, nil
	}

	for _, m := range delivery {
		if stop, err := deliver(m); stop {
			return err
		}
	}
	for _, err := range s.transient {
		if onError != nil {
			onError(err)
		}
	}
	if s.failWith != nil {
		return s.failWith
	}
	if !q.Follow {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-s.live:
			if !ok {
				return nil
			}
			if stop, err := deliver(m); stop {
				return err
			}
		}
	}
}

// mockSubmitter records submissions.
type mockSubmitter struct {
	mu        sync.Mutex
	submitted [][]byte
	err       error
}

func (s *mockSubmitter) Submit(ctx context.Context, topicID string, contents []byte, signers ...keys.PrivateKey) (*hcs.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	s.submitted = append(s.submitted, contents)
	return &hcs.Receipt{TopicID: topicID, SequenceNumber: uint64(len(s.submitted))}, nil
}
