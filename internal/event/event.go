package event

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

const (
	defaultPoolSize  = 1024
	defaultQueueSize = 1024
	defaultTimeout   = 30 * time.Second
)

type Event interface {
	Name() string
}

type Handler func(ctx context.Context, e Event) error

// Bus is an in-memory event bus. Every subscription owns its own worker pool,
// so a slow handler never starves the handlers of other subscriptions.
type Bus struct {
	mu       sync.RWMutex
	wg       sync.WaitGroup
	subs     map[string][]*subscription
	all      []*subscription
	stopped  bool
	poolSize int
	timeout  time.Duration
}

type Option func(b *Bus)

// WithPoolSize sets the default number of concurrent handler calls per subscription.
func WithPoolSize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.poolSize = n
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(b *Bus) {
		if d > 0 {
			b.timeout = d
		}
	}
}

// NewBus create a new event bus. Caller should call Stop for graceful shutdown the bus.
func NewBus(opts ...Option) *Bus {
	b := &Bus{
		subs:     make(map[string][]*subscription),
		poolSize: defaultPoolSize,
		timeout:  defaultTimeout,
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

type subscription struct {
	handler Handler
	timeout time.Duration

	ordered   bool
	queueSize int
	poolSize  int

	// exactly one of pool or queue is set
	pool  chan struct{}
	queue chan job
}

type job struct {
	ctx context.Context
	e   Event
}

type SubscribeOption func(s *subscription)

// Ordered makes the subscription handle events one at a time in publish order.
// Events that find the queue full are dropped with a warning.
func Ordered() SubscribeOption {
	return func(s *subscription) {
		s.ordered = true
	}
}

// QueueSize overrides the queue length of an ordered subscription.
func QueueSize(n int) SubscribeOption {
	return func(s *subscription) {
		if n > 0 {
			s.queueSize = n
		}
	}
}

// Concurrency overrides the bus pool size for this subscription.
func Concurrency(n int) SubscribeOption {
	return func(s *subscription) {
		if n > 0 {
			s.poolSize = n
		}
	}
}

// Subscribe to an event
func (b *Bus) Subscribe(name string, h Handler, opts ...SubscribeOption) {
	b.SubscribeMany([]string{name}, h, opts...)
}

// SubscribeMany registers one subscription for several events. With Ordered, the
// handler sees all of them in the order they were published.
func (b *Bus) SubscribeMany(names []string, h Handler, opts ...SubscribeOption) {
	s := &subscription{
		handler:   h,
		timeout:   b.timeout,
		queueSize: defaultQueueSize,
		poolSize:  b.poolSize,
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.ordered {
		s.queue = make(chan job, s.queueSize)
		go s.work(&b.wg)
	} else {
		s.pool = make(chan struct{}, s.poolSize)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, name := range names {
		b.subs[name] = append(b.subs[name], s)
	}
	b.all = append(b.all, s)
}

// Publish an event without waiting for any handler. Events published after Stop
// are dropped.
func (b *Bus) Publish(ctx context.Context, e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.stopped {
		slog.WarnContext(ctx, "event: publish after stop", "event", e.Name())
		return
	}

	for _, s := range b.subs[e.Name()] {
		b.wg.Add(1)
		s.deliver(ctx, e, &b.wg)
	}
}

func (s *subscription) deliver(ctx context.Context, e Event, wg *sync.WaitGroup) {
	if s.queue != nil {
		select {
		case s.queue <- job{ctx: ctx, e: e}:
		default:
			wg.Done()
			slog.WarnContext(ctx, "event: subscription queue full, event dropped",
				"event", e.Name(),
				"queue_size", cap(s.queue),
			)
		}
		return
	}

	// the goroutine waits for a pool slot, not the publisher
	go func() {
		s.pool <- struct{}{}
		defer func() {
			<-s.pool
			wg.Done()
		}()

		s.handle(ctx, e)
	}()
}

func (s *subscription) work(wg *sync.WaitGroup) {
	for j := range s.queue {
		s.handle(j.ctx, j.e)
		wg.Done()
	}
}

func (s *subscription) handle(ctx context.Context, e Event) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "event: handler panic",
				"event", e.Name(),
				"error", fmt.Errorf("%v, stack: %s", r, debug.Stack()),
			)
		}

		cancel()
	}()

	if err := s.handler(ctx, e); err != nil {
		slog.ErrorContext(ctx, "event: handle event failed",
			"event", e.Name(),
			"error", err,
		)
	}
}

// Stop waits for all handlers to finish and releases the ordered workers.
// Handlers may still publish while Stop is waiting.
func (b *Bus) Stop() {
	b.wg.Wait()

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stopped {
		return
	}
	b.stopped = true

	for _, s := range b.all {
		if s.queue != nil {
			close(s.queue)
		}
	}
}
