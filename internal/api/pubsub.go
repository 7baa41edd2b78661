package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/victornm/songquiz/internal/domain"
	"github.com/victornm/songquiz/internal/event"
)

const maxConcurrent = 100

type Redis interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// Relay forwards leaderboard updates to redis pub/sub: the whole board on the
// leaderboard channel, and each player's own entry on the player's channel.
type Relay struct {
	redis  Redis
	prefix string
}

func NewRelay(eb *event.Bus, r Redis, prefix string) *Relay {
	a := &Relay{
		redis:  r,
		prefix: prefix,
	}

	eb.Subscribe(domain.EventNameLeaderboardUpdated, func(ctx context.Context, e event.Event) error {
		return a.PublishLeaderboardUpdated(ctx, e.(domain.EventLeaderboardUpdated))
	}, event.Ordered())

	return a
}

func (a *Relay) PublishLeaderboardUpdated(ctx context.Context, e domain.EventLeaderboardUpdated) error {
	l := e.Leaderboard
	if l == nil {
		l = domain.Leaderboard{}
	}

	if err := a.publishNotification(ctx, a.LeaderboardChannel(), e.Name(), l); err != nil {
		return err
	}

	var eg errgroup.Group
	eg.SetLimit(maxConcurrent)

	for _, entry := range l {
		entry := entry
		eg.Go(func() error {
			return a.publishNotification(ctx, a.PlayerChannel(entry.PlayerID), e.Name(), entry)
		})
	}

	return eg.Wait()
}

func (a *Relay) LeaderboardChannel() string {
	return fmt.Sprintf("%s:leaderboard", a.prefix)
}

func (a *Relay) PlayerChannel(id string) string {
	return fmt.Sprintf("%s:player:%s", a.prefix, id)
}

func (a *Relay) publishNotification(ctx context.Context, channel, event string, data any) error {
	n := Notification{
		Event: event,
		Data:  data,
	}

	b, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("pubsub: marshal %s: %v", event, err)
	}

	if err := a.redis.Publish(ctx, channel, b).Err(); err != nil {
		return fmt.Errorf("pubsub: publish %s: %w", channel, err)
	}

	return nil
}
