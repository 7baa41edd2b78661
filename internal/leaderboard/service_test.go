package leaderboard_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/songquiz/internal/domain"
	"github.com/victornm/songquiz/internal/errors"
	"github.com/victornm/songquiz/internal/event"
	"github.com/victornm/songquiz/internal/leaderboard"
)

func TestService_SetPlayer(t *testing.T) {
	s := makeService(t)
	ctx := context.Background()

	require.NoError(t, s.SetPlayer(ctx, domain.Player{ID: "p1", Name: "Ann", Score: 3}))
	require.NoError(t, s.SetPlayer(ctx, domain.Player{ID: "p2", Name: "Bob", Score: 5}))

	resp, err := s.GetLeaderboard(ctx)
	require.NoError(t, err)

	want := domain.Leaderboard{
		{PlayerID: "p2", Name: "Bob", Score: 5, Rank: 1},
		{PlayerID: "p1", Name: "Ann", Score: 3, Rank: 2},
	}
	require.Equal(t, want, resp)
}

func TestService_GetLeaderboard_Empty(t *testing.T) {
	s := makeService(t)

	_, err := s.GetLeaderboard(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeNotFound))
}

func TestService_Clear(t *testing.T) {
	rs := miniredis.RunT(t)
	_, err := rs.ZAdd("test:leaderboard", 9, "ghost")
	require.NoError(t, err)
	rs.HSet("test:names", "ghost", "Ghost")
	require.NoError(t, rs.Set("other", "kept"))

	s := makeService(t, withRedis(rs))
	require.NoError(t, s.Clear(context.Background()))

	_, err = s.GetLeaderboard(context.Background())
	assert.True(t, errors.IsCode(err, errors.CodeNotFound), "rows left by an earlier process are gone")
	assert.False(t, rs.Exists("test:names"))
	assert.True(t, rs.Exists("other"), "keys outside the prefix are untouched")
}

func TestService_MirrorsSessionEvents(t *testing.T) {
	type (
		inputs struct {
			receivedEvents []event.Event
		}

		outputs struct {
			leaderboard domain.Leaderboard
			err         error
		}
	)

	award := func(id, name string, points, total int) domain.EventScoreAwarded {
		return domain.EventScoreAwarded{Award: domain.Award{
			GameID:     "g1",
			Round:      1,
			PlayerID:   id,
			PlayerName: name,
			Points:     points,
			TotalScore: total,
			AwardTime:  time.Now(),
		}}
	}

	tests := map[string]struct {
		arrange func() inputs
		assert  func(t *testing.T, out outputs)
	}{
		"should add joined players with zero score": {
			arrange: func() inputs {
				return inputs{receivedEvents: []event.Event{
					domain.EventPlayerJoined{Player: domain.Player{ID: "p1", Name: "Ann"}},
				}}
			},
			assert: func(t *testing.T, out outputs) {
				require.NoError(t, out.err)
				require.Equal(t, domain.Leaderboard{{PlayerID: "p1", Name: "Ann", Score: 0, Rank: 1}}, out.leaderboard)
			},
		},

		"should overwrite the total score on every award": {
			arrange: func() inputs {
				return inputs{receivedEvents: []event.Event{
					domain.EventPlayerJoined{Player: domain.Player{ID: "p1", Name: "Ann"}},
					domain.EventPlayerJoined{Player: domain.Player{ID: "p2", Name: "Bob"}},
					award("p2", "Bob", 3, 3),
					award("p1", "Ann", 2, 2),
					award("p1", "Ann", 3, 5),
				}}
			},
			assert: func(t *testing.T, out outputs) {
				require.NoError(t, out.err)
				require.Equal(t, domain.Leaderboard{
					{PlayerID: "p1", Name: "Ann", Score: 5, Rank: 1},
					{PlayerID: "p2", Name: "Bob", Score: 3, Rank: 2},
				}, out.leaderboard)
			},
		},

		"should drop players that left": {
			arrange: func() inputs {
				return inputs{receivedEvents: []event.Event{
					domain.EventPlayerJoined{Player: domain.Player{ID: "p1", Name: "Ann"}},
					domain.EventPlayerJoined{Player: domain.Player{ID: "p2", Name: "Bob"}},
					domain.EventPlayerLeft{PlayerID: "p1"},
				}}
			},
			assert: func(t *testing.T, out outputs) {
				require.NoError(t, out.err)
				require.Equal(t, domain.Leaderboard{{PlayerID: "p2", Name: "Bob", Score: 0, Rank: 1}}, out.leaderboard)
			},
		},

		"should zero every score on reset": {
			arrange: func() inputs {
				return inputs{receivedEvents: []event.Event{
					domain.EventPlayerJoined{Player: domain.Player{ID: "p1", Name: "Ann"}},
					award("p1", "Ann", 3, 3),
					domain.EventScoresReset{GameID: "g2", Players: []domain.Player{{ID: "p1", Name: "Ann"}}},
				}}
			},
			assert: func(t *testing.T, out outputs) {
				require.NoError(t, out.err)
				require.Equal(t, domain.Leaderboard{{PlayerID: "p1", Name: "Ann", Score: 0, Rank: 1}}, out.leaderboard)
			},
		},

		"should be empty after the last player left": {
			arrange: func() inputs {
				return inputs{receivedEvents: []event.Event{
					domain.EventPlayerJoined{Player: domain.Player{ID: "p1", Name: "Ann"}},
					domain.EventPlayerLeft{PlayerID: "p1"},
				}}
			},
			assert: func(t *testing.T, out outputs) {
				assert.True(t, errors.IsCode(out.err, errors.CodeNotFound))
			},
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			in := tt.arrange()

			eb := event.NewBus()
			s := makeService(t, withEventBus(eb))

			for _, e := range in.receivedEvents {
				eb.Publish(context.Background(), e)
			}
			eb.Stop()

			var out outputs
			out.leaderboard, out.err = s.GetLeaderboard(context.Background())
			tt.assert(t, out)
		})
	}
}

func TestService_PublishLeaderboardUpdated(t *testing.T) {
	type (
		inputs struct {
			receivedEvents []event.Event
			pause          time.Duration
		}

		outputs struct {
			publishedEvents []domain.EventLeaderboardUpdated
		}
	)

	tests := map[string]struct {
		arrange func() inputs
		assert  func(t *testing.T, out outputs)
	}{
		"should publish correct event leaderboard.updated after a player joined": {
			arrange: func() inputs {
				return inputs{receivedEvents: []event.Event{
					domain.EventPlayerJoined{Player: domain.Player{ID: "p1", Name: "Ann"}},
				}}
			},
			assert: func(t *testing.T, out outputs) {
				require.Len(t, out.publishedEvents, 1, "should receive 1 leaderboard updated event")
				require.Equal(t, domain.Leaderboard{
					{PlayerID: "p1", Name: "Ann", Score: 0, Rank: 1},
				}, out.publishedEvents[0].Leaderboard)
			},
		},

		"should publish 1 event leaderboard.updated for changes within the publish interval": {
			arrange: func() inputs {
				return inputs{receivedEvents: []event.Event{
					domain.EventPlayerJoined{Player: domain.Player{ID: "p1", Name: "Ann"}},
					domain.EventPlayerJoined{Player: domain.Player{ID: "p2", Name: "Bob"}},
				}}
			},
			assert: func(t *testing.T, out outputs) {
				require.Len(t, out.publishedEvents, 1, "should receive 1 leaderboard updated event")
			},
		},

		"should publish 2 events leaderboard.updated for changes further apart than the publish interval": {
			arrange: func() inputs {
				return inputs{
					receivedEvents: []event.Event{
						domain.EventPlayerJoined{Player: domain.Player{ID: "p1", Name: "Ann"}},
						domain.EventPlayerJoined{Player: domain.Player{ID: "p2", Name: "Bob"}},
					},
					pause: 300 * time.Millisecond,
				}
			},
			assert: func(t *testing.T, out outputs) {
				require.Len(t, out.publishedEvents, 2, "should receive 2 leaderboard updated events")
				assert.Len(t, out.publishedEvents[1].Leaderboard, 2)
			},
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			in, out := tt.arrange(), outputs{}

			eb := event.NewBus()

			var mu sync.Mutex
			eb.Subscribe(domain.EventNameLeaderboardUpdated, func(ctx context.Context, e event.Event) error {
				mu.Lock()
				out.publishedEvents = append(out.publishedEvents, e.(domain.EventLeaderboardUpdated))
				mu.Unlock()
				return nil
			})

			rs := miniredis.RunT(t)
			makeService(t, withEventBus(eb), withRedis(rs))

			for _, e := range in.receivedEvents {
				eb.Publish(context.Background(), e)
				if in.pause > 0 {
					// miniredis only expires keys when told to
					time.Sleep(in.pause)
					rs.FastForward(in.pause)
				}
			}

			eb.Stop()

			tt.assert(t, out)
		})
	}
}

func makeService(t *testing.T, opts ...options) *leaderboard.Service {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	o := serviceOptions{
		c: leaderboard.Config{
			EventBus: event.NewBus(),
			Prefix:   "test",
		},
	}
	for _, opt := range opts {
		opt(&o)
	}

	if o.rs == nil {
		o.rs = miniredis.RunT(t)
	}

	rc := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{o.rs.Addr()},
	})
	require.NoError(t, rc.Ping(ctx).Err(), "should be able to ping redis")
	o.c.Redis = rc

	return leaderboard.NewService(o.c)
}

type serviceOptions struct {
	c  leaderboard.Config
	rs *miniredis.Miniredis
}

type options func(o *serviceOptions)

func withEventBus(eb *event.Bus) options {
	return func(o *serviceOptions) {
		o.c.EventBus = eb
	}
}

func withRedis(rs *miniredis.Miniredis) options {
	return func(o *serviceOptions) {
		o.rs = rs
	}
}
