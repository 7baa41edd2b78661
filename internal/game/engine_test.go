package game_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/songquiz/internal/domain"
	"github.com/victornm/songquiz/internal/game"
)

func TestEngine_SerializesConcurrentCommands(t *testing.T) {
	t.Parallel()

	e, d := runEngine(t)
	ctx := context.Background()

	require.NoError(t, e.Submit(ctx, game.Inbound{ConnID: "h", Command: game.JoinGame{Role: domain.RoleHost}}))

	const players = 50
	var wg sync.WaitGroup
	for i := 0; i < players; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("p%02d", i)
			assert.NoError(t, e.Submit(ctx, game.Inbound{ConnID: id, Command: game.JoinGame{Role: domain.RolePlayer, PlayerName: id}}))
			assert.NoError(t, e.Submit(ctx, game.Inbound{ConnID: "h", Command: game.MarkCorrect{PlayerID: id}}))
		}(i)
	}
	wg.Wait()

	lb, err := e.Leaderboard(ctx)
	require.NoError(t, err)
	require.Len(t, lb, players)

	scores := map[int]int{}
	for i, entry := range lb {
		assert.Equal(t, i+1, entry.Rank)
		scores[entry.Score]++
	}
	assert.Equal(t, map[int]int{3: 1, 2: 1, 1: 1, 0: players - 3}, scores, "exactly one 3, one 2 and one 1 are awarded")

	snap, err := e.Snapshot(ctx)
	require.NoError(t, err)
	assert.True(t, snap.RoundLocked)
	assert.Len(t, snap.CorrectAnswers, 3)

	// host join, every player join and the three accepted answers; the rest are dropped
	assert.Equal(t, 1+players+3, d.batches())
}

func TestEngine_DispatchesEffectsInOrder(t *testing.T) {
	t.Parallel()

	e, d := runEngine(t)
	ctx := context.Background()

	require.NoError(t, e.Submit(ctx, game.Inbound{ConnID: "h", Command: game.JoinGame{Role: domain.RoleHost}}))
	require.NoError(t, e.Submit(ctx, game.Inbound{ConnID: "p1", Command: game.JoinGame{Role: domain.RolePlayer, PlayerName: "Amy"}}))
	require.NoError(t, e.Submit(ctx, game.Inbound{ConnID: "h", Command: game.MarkCorrect{PlayerID: "p1"}}))

	// the query is served after the queued commands
	_, err := e.Snapshot(ctx)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"join_confirmed", "game_state", "update_leaderboard",
		"join_confirmed", "game_state", "update_leaderboard",
		"answer_correct_broadcast", "update_leaderboard", "your_answer_result", "round_status_update",
	}, d.names())
}

func TestEngine_Stopped(t *testing.T) {
	t.Parallel()

	e := game.NewEngine(game.EngineConfig{Router: game.NewRouter(game.Config{})})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("engine did not stop")
	}

	_, err := e.Snapshot(context.Background())
	assert.ErrorIs(t, err, game.ErrEngineStopped)
}

func TestEngine_AbandonedQueryIsServedLater(t *testing.T) {
	t.Parallel()

	e := game.NewEngine(game.EngineConfig{Router: game.NewRouter(game.Config{}), InboxSize: 8})

	// the engine is not running yet, so the query is queued and the caller times out
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := e.Snapshot(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	runCtx, stop := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = e.Run(runCtx)
	}()
	t.Cleanup(func() {
		stop()
		<-done
	})

	// the abandoned query runs first and must not block the engine
	require.NoError(t, e.Submit(context.Background(), game.Inbound{ConnID: "p1", Command: game.JoinGame{Role: domain.RolePlayer, PlayerName: "Amy"}}))
	lb, err := e.Leaderboard(context.Background())
	require.NoError(t, err)
	assert.Len(t, lb, 1)
}

func runEngine(t *testing.T) (*game.Engine, *dispatcher) {
	t.Helper()

	d := &dispatcher{}
	e := game.NewEngine(game.EngineConfig{
		Router:     game.NewRouter(game.Config{TotalRounds: 10}),
		Dispatcher: d,
		InboxSize:  8,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = e.Run(ctx)
	}()

	t.Cleanup(func() {
		cancel()
		<-done
	})

	return e, d
}

type dispatcher struct {
	mu      sync.Mutex
	effects [][]game.Effect
}

func (d *dispatcher) Dispatch(_ context.Context, effects []game.Effect) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.effects = append(d.effects, effects)
}

func (d *dispatcher) batches() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return len(d.effects)
}

func (d *dispatcher) names() []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []string
	for _, batch := range d.effects {
		out = append(out, names(batch)...)
	}
	return out
}
