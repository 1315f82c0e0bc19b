package hcs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/relves/hcsdid/pkg/types"
)

// Listener is a live subscription to a topic. The callback is owned by the
// listener's goroutine and dropped when that goroutine exits.
type Listener[M Message] struct {
	id     string
	cfg    Config[M]
	cancel context.CancelFunc
	done   chan struct{}

	// only touched by the run goroutine
	onMessage func(Received[M])
	last      uint64
	delivered bool

	stopped atomic.Bool

	mu  sync.Mutex
	err error
}

// Listen starts a background subscription to q.TopicID. onMessage is called
// from a single goroutine with strictly increasing sequence numbers;
// redelivered or regressed messages are dropped.
func Listen[M Message](ctx context.Context, sub Subscriber, q Query, cfg Config[M], onMessage func(Received[M])) (*Listener[M], error) {
	if cfg.Decoder == nil {
		return nil, errors.New("listener requires a decoder")
	}
	if onMessage == nil {
		return nil, errors.New("listener requires a message callback")
	}

	ctx, cancel := context.WithCancel(ctx)
	l := &Listener[M]{
		id:        uuid.NewString(),
		cfg:       cfg,
		cancel:    cancel,
		done:      make(chan struct{}),
		onMessage: onMessage,
	}

	q.Follow = true
	go l.run(ctx, sub, q)

	l.cfg.logger().Debug("listener started", "subscriptionID", l.id, "topicID", q.TopicID)
	return l, nil
}

func (l *Listener[M]) run(ctx context.Context, sub Subscriber, q Query) {
	defer func() {
		l.onMessage = nil
		close(l.done)
	}()

	err := sub.Subscribe(ctx, q, func(raw types.TopicMessage) error {
		if l.stopped.Load() {
			return ErrStop
		}
		l.handle(q.TopicID, raw)
		return nil
	}, l.handleError)

	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, ErrStop) {
		l.mu.Lock()
		l.err = err
		l.mu.Unlock()
		l.handleError(err)
	}
}

func (l *Listener[M]) handle(topicID string, raw types.TopicMessage) {
	if l.delivered && raw.SequenceNumber <= l.last {
		l.cfg.logger().Debug("dropping stale topic message",
			"subscriptionID", l.id,
			"sequenceNumber", raw.SequenceNumber,
			"lastDelivered", l.last)
		return
	}

	rec, ok := l.cfg.extract(topicID, raw)
	if !ok {
		return
	}
	l.last, l.delivered = raw.SequenceNumber, true
	l.onMessage(rec)
}

func (l *Listener[M]) handleError(err error) {
	l.cfg.logger().Warn("topic subscription error", "subscriptionID", l.id, "error", err)
	if l.cfg.ErrorHandler != nil {
		l.cfg.ErrorHandler(err)
	}
}

// ID returns the subscription id.
func (l *Listener[M]) ID() string {
	return l.id
}

// Done is closed once the subscription has ended and the callback has been
// released.
func (l *Listener[M]) Done() <-chan struct{} {
	return l.done
}

// Err returns the error that ended the subscription, if any.
func (l *Listener[M]) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// Unsubscribe stops the subscription. It does not wait; use Done for that.
// It is safe to call repeatedly, concurrently, and from the callback.
func (l *Listener[M]) Unsubscribe() {
	if l.stopped.Swap(true) {
		return
	}
	l.cancel()
	l.cfg.logger().Debug("listener stopped", "subscriptionID", l.id)
}
