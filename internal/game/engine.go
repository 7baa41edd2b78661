package game

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/victornm/songquiz/internal/domain"
	"github.com/victornm/songquiz/internal/errors"
	"github.com/victornm/songquiz/internal/telemetry"
)

const defaultInboxSize = 256

var ErrEngineStopped = stderrors.New("game: engine stopped")

// Dispatcher delivers effects to connections.
type Dispatcher interface {
	Dispatch(ctx context.Context, effects []Effect)
}

type EngineConfig struct {
	Router     *Router
	Dispatcher Dispatcher
	InboxSize  int
}

// Engine owns the session. One goroutine takes commands off the inbox and runs each
// to completion, including dispatching its effects, before it takes the next one.
type Engine struct {
	router     *Router
	dispatcher Dispatcher

	inbox   chan envelope
	stopped chan struct{}
}

// envelope carries either a command or a read-only query, so queries observe
// every command submitted before them.
type envelope struct {
	in Inbound
	q  func(r *Router)
}

func NewEngine(c EngineConfig) *Engine {
	size := c.InboxSize
	if size <= 0 {
		size = defaultInboxSize
	}

	return &Engine{
		router:     c.Router,
		dispatcher: c.Dispatcher,
		inbox:      make(chan envelope, size),
		stopped:    make(chan struct{}),
	}
}

// Run processes commands until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	defer close(e.stopped)

	slog.InfoContext(ctx, "game: engine started", "session", e.router.String())
	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "game: engine stopped", "session", e.router.String())
			return ctx.Err()

		case env := <-e.inbox:
			if env.q != nil {
				env.q(e.router)
				continue
			}
			e.process(ctx, env.in)
		}
	}
}

func (e *Engine) process(ctx context.Context, in Inbound) {
	name := commandName(in.Command)

	defer func() {
		if r := recover(); r != nil {
			telemetry.ObserveCommand(name, "panic")
			slog.ErrorContext(ctx, "game: command panic",
				"conn", in.ConnID,
				"command", name,
				"error", fmt.Errorf("%v, stack: %s", r, debug.Stack()),
			)
		}
	}()

	effects, err := e.router.Handle(ctx, in)

	outcome := "ok"
	if err != nil {
		outcome = errors.Convert(err).Code.String()
	}
	telemetry.ObserveCommand(name, outcome)

	if len(effects) > 0 && e.dispatcher != nil {
		e.dispatcher.Dispatch(ctx, effects)
	}
}

// Submit queues a command. Commands from one caller are handled in submit order.
func (e *Engine) Submit(ctx context.Context, in Inbound) error {
	return e.enqueue(ctx, envelope{in: in})
}

func (e *Engine) enqueue(ctx context.Context, env envelope) error {
	select {
	case <-e.stopped:
		return ErrEngineStopped
	default:
	}

	select {
	case e.inbox <- env:
		return nil
	case <-e.stopped:
		return ErrEngineStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ask runs fn on the engine goroutine. The result travels over a buffered channel,
// so a caller that gives up early never shares memory with the engine.
func ask[T any](ctx context.Context, e *Engine, fn func(r *Router) T) (T, error) {
	var zero T

	res := make(chan T, 1)
	if err := e.enqueue(ctx, envelope{q: func(r *Router) { res <- fn(r) }}); err != nil {
		return zero, err
	}

	select {
	case v := <-res:
		return v, nil
	case <-e.stopped:
		select {
		case v := <-res:
			return v, nil
		default:
			return zero, ErrEngineStopped
		}
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Snapshot returns the session state as the engine currently sees it.
func (e *Engine) Snapshot(ctx context.Context) (domain.Snapshot, error) {
	return ask(ctx, e, (*Router).Snapshot)
}

func (e *Engine) Leaderboard(ctx context.Context) (domain.Leaderboard, error) {
	return ask(ctx, e, (*Router).Leaderboard)
}
