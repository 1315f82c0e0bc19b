package hcs

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/relves/hcsdid/pkg/types"
)

// State of a single resolution.
type State int

const (
	StateCollecting State = iota
	StateComplete
	StateTimedOut
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateCollecting:
		return "collecting"
	case StateComplete:
		return "complete"
	case StateTimedOut:
		return "timed_out"
	case StateErrored:
		return "errored"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Resolver performs one-shot historical reads of a topic.
type Resolver[M Message] struct {
	subscriber Subscriber
	cfg        Config[M]
}

// NewResolver returns a resolver reading from sub.
func NewResolver[M Message](sub Subscriber, cfg Config[M]) *Resolver[M] {
	return &Resolver[M]{subscriber: sub, cfg: cfg}
}

// Result is the outcome of a resolution.
type Result[M Message] struct {
	State    State
	Messages []Received[M]
}

// resolution holds the buffers private to one Resolve call.
type resolution[M Message] struct {
	mu       sync.Mutex
	state    State
	limit    uint64
	seen     map[uint64]struct{}
	messages []Received[M]
}

// Resolve collects the valid messages of q.TopicID in sequence order. Limit
// counts accepted messages. On timeout it fails with ErrTimeout and no
// messages.
func (r *Resolver[M]) Resolve(ctx context.Context, q Query) (*Result[M], error) {
	if q.Follow {
		return nil, errors.New("resolver does not follow topics; use a Listener")
	}
	if r.cfg.Decoder == nil {
		return nil, errors.New("resolver requires a decoder")
	}

	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, r.cfg.Timeout, ErrTimeout)
		defer cancel()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	res := &resolution[M]{
		state: StateCollecting,
		limit: q.Limit,
		seen:  make(map[uint64]struct{}),
	}

	// the limit applies to accepted messages, not raw ones
	rawQuery := q
	rawQuery.Limit = 0

	done := make(chan error, 1)
	go func() {
		done <- r.subscriber.Subscribe(ctx, rawQuery, func(raw types.TopicMessage) error {
			return r.accept(res, q.TopicID, raw)
		}, nil)
	}()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}

	res.mu.Lock()
	defer res.mu.Unlock()

	switch {
	case err == nil || errors.Is(err, ErrStop):
		res.state = StateComplete
	case errors.Is(context.Cause(ctx), ErrTimeout):
		res.state = StateTimedOut
		return &Result[M]{State: res.state}, ErrTimeout
	default:
		res.state = StateErrored
		return &Result[M]{State: res.state}, fmt.Errorf("failed to resolve topic %s: %w", q.TopicID, err)
	}

	slices.SortStableFunc(res.messages, func(a, b Received[M]) int {
		switch {
		case a.SequenceNumber < b.SequenceNumber:
			return -1
		case a.SequenceNumber > b.SequenceNumber:
			return 1
		}
		return 0
	})

	return &Result[M]{State: res.state, Messages: res.messages}, nil
}

func (r *Resolver[M]) accept(res *resolution[M], topicID string, raw types.TopicMessage) error {
	res.mu.Lock()
	defer res.mu.Unlock()

	if res.state != StateCollecting {
		return ErrStop
	}
	// at-least-once delivery
	if _, dup := res.seen[raw.SequenceNumber]; dup {
		return nil
	}

	rec, ok := r.cfg.extract(topicID, raw)
	if !ok {
		return nil
	}

	if r.cfg.Accumulator != nil {
		done, err := r.cfg.Accumulator(rec)
		if err != nil {
			r.cfg.reject(raw, err.Error())
			return nil
		}
		res.seen[raw.SequenceNumber] = struct{}{}
		res.messages = append(res.messages, rec)
		if done {
			return ErrStop
		}
	} else {
		res.seen[raw.SequenceNumber] = struct{}{}
		res.messages = append(res.messages, rec)
	}

	if res.limit > 0 && uint64(len(res.messages)) >= res.limit {
		return ErrStop
	}
	return nil
}
