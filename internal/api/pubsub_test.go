package api_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/songquiz/internal/api"
	"github.com/victornm/songquiz/internal/domain"
	"github.com/victornm/songquiz/internal/event"
)

func TestRelay_PublishLeaderboardUpdated(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rs := miniredis.RunT(t)
	rc := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{rs.Addr()},
	})

	eb := event.NewBus()
	relay := api.NewRelay(eb, rc, "test")

	sub := rc.Subscribe(ctx, relay.LeaderboardChannel(), relay.PlayerChannel("p1"), relay.PlayerChannel("p2"))
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err, "should subscribe")

	l := domain.Leaderboard{
		{PlayerID: "p2", Name: "Bob", Score: 3, Rank: 1},
		{PlayerID: "p1", Name: "Ann", Score: 2, Rank: 2},
	}
	eb.Publish(ctx, domain.EventLeaderboardUpdated{Leaderboard: l})
	eb.Stop()

	got := make(map[string]json.RawMessage)
	for i := 0; i < 3; i++ {
		msg, err := sub.ReceiveMessage(ctx)
		require.NoError(t, err)

		var n struct {
			Event string          `json:"event"`
			Data  json.RawMessage `json:"data"`
		}
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &n))
		assert.Equal(t, domain.EventNameLeaderboardUpdated, n.Event)
		got[msg.Channel] = n.Data
	}

	assert.JSONEq(t,
		`[{"playerId":"p2","name":"Bob","score":3,"rank":1},{"playerId":"p1","name":"Ann","score":2,"rank":2}]`,
		string(got["test:leaderboard"]))
	assert.JSONEq(t, `{"playerId":"p1","name":"Ann","score":2,"rank":2}`, string(got["test:player:p1"]))
	assert.JSONEq(t, `{"playerId":"p2","name":"Bob","score":3,"rank":1}`, string(got["test:player:p2"]))
}
