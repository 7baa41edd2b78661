package leaderboard

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/victornm/songquiz/internal/domain"
	"github.com/victornm/songquiz/internal/errors"
	"github.com/victornm/songquiz/internal/event"
)

const (
	publishInterval = 200 * time.Millisecond
)

type Config struct {
	EventBus *event.Bus
	Redis    redis.UniversalClient
	Prefix   string
	Now      func() time.Time
}

// Service mirrors the live leaderboard into redis for readers outside the process.
// Scores live in a sorted set keyed by player id, names in a hash next to it.
// Equal scores are ordered by redis, not by join order as in the live session.
type Service struct {
	eb     *event.Bus
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

func NewService(c Config) *Service {
	s := &Service{
		eb:     c.EventBus,
		redis:  c.Redis,
		prefix: c.Prefix,
		now:    c.Now,
	}
	if s.now == nil {
		s.now = time.Now
	}

	s.eb.SubscribeMany([]string{
		domain.EventNamePlayerJoined,
		domain.EventNamePlayerLeft,
		domain.EventNameScoreAwarded,
		domain.EventNameScoresReset,
	}, s.handle, event.Ordered())

	return s
}

func (s *Service) handle(ctx context.Context, e event.Event) error {
	var err error
	switch e := e.(type) {
	case domain.EventPlayerJoined:
		err = s.SetPlayer(ctx, e.Player)
	case domain.EventPlayerLeft:
		err = s.RemovePlayer(ctx, e.PlayerID)
	case domain.EventScoreAwarded:
		err = s.SetPlayer(ctx, domain.Player{
			ID:    e.Award.PlayerID,
			Name:  e.Award.PlayerName,
			Score: e.Award.TotalScore,
		})
	case domain.EventScoresReset:
		err = s.Reset(ctx, e.Players)
	default:
		return fmt.Errorf("leaderboard: unexpected event %s", e.Name())
	}
	if err != nil {
		return err
	}

	return s.schedulePublishLeaderboard(ctx)
}

// GetLeaderboard returns the mirrored leaderboard, highest score first.
func (s *Service) GetLeaderboard(ctx context.Context) (domain.Leaderboard, error) {
	res, err := s.redis.ZRevRangeWithScores(ctx, s.getLeaderboardKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("get leaderboard: %w", err)
	}

	if len(res) == 0 {
		return nil, errors.NotFound("leaderboard not found: prefix=%s", s.prefix)
	}

	ids := make([]string, 0, len(res))
	for _, z := range res {
		ids = append(ids, z.Member.(string))
	}

	names, err := s.redis.HMGet(ctx, s.getNamesKey(), ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("get names: %w", err)
	}

	l := make(domain.Leaderboard, 0, len(res))
	for i, z := range res {
		name, _ := names[i].(string)
		l = append(l, domain.LeaderboardEntry{
			PlayerID: ids[i],
			Name:     name,
			Score:    int(z.Score),
			Rank:     i + 1,
		})
	}

	return l, nil
}

// SetPlayer overwrites the player's name and score in the mirror.
func (s *Service) SetPlayer(ctx context.Context, p domain.Player) error {
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, s.getLeaderboardKey(), redis.Z{
			Score:  float64(p.Score),
			Member: p.ID,
		})
		pipe.HSet(ctx, s.getNamesKey(), p.ID, p.Name)
		return nil
	})
	if err != nil {
		return fmt.Errorf("set player %s: %w", p.ID, err)
	}

	return nil
}

func (s *Service) RemovePlayer(ctx context.Context, id string) error {
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, s.getLeaderboardKey(), id)
		pipe.HDel(ctx, s.getNamesKey(), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("remove player %s: %w", id, err)
	}

	return nil
}

// Reset replaces the mirror with the given players.
func (s *Service) Reset(ctx context.Context, players []domain.Player) error {
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.getLeaderboardKey(), s.getNamesKey())
		for _, p := range players {
			pipe.ZAdd(ctx, s.getLeaderboardKey(), redis.Z{Score: float64(p.Score), Member: p.ID})
			pipe.HSet(ctx, s.getNamesKey(), p.ID, p.Name)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("reset leaderboard: %w", err)
	}

	return nil
}

// Clear drops whatever an earlier process left in the mirror.
func (s *Service) Clear(ctx context.Context) error {
	if err := s.redis.Del(ctx, s.getLeaderboardKey(), s.getNamesKey(), s.getLeaderboardTimeKey()).Err(); err != nil {
		return fmt.Errorf("clear leaderboard: %w", err)
	}

	return nil
}

// schedulePublishLeaderboard publishes leaderboard.updated at most once per publishInterval.
// Bursts of awards, joins and leaves collapse into one notification.
func (s *Service) schedulePublishLeaderboard(ctx context.Context) error {
	ok, err := s.redis.SetNX(ctx, s.getLeaderboardTimeKey(), s.now().UnixMilli(), publishInterval).Result()
	if err != nil {
		return fmt.Errorf("setnx: %w", err)
	}

	if !ok {
		return nil
	}

	return s.publishLeaderboard(ctx)
}

func (s *Service) publishLeaderboard(ctx context.Context) error {
	l, err := s.GetLeaderboard(ctx)
	if errors.IsCode(err, errors.CodeNotFound) {
		l = domain.Leaderboard{}
	} else if err != nil {
		return fmt.Errorf("publish leaderboard: %w", err)
	}

	s.eb.Publish(ctx, domain.EventLeaderboardUpdated{
		Leaderboard: l,
	})

	return nil
}

func (s *Service) getLeaderboardKey() string {
	return fmt.Sprintf("%s:leaderboard", s.prefix)
}

func (s *Service) getNamesKey() string {
	return fmt.Sprintf("%s:names", s.prefix)
}

func (s *Service) getLeaderboardTimeKey() string {
	return fmt.Sprintf("%s:leaderboard:time", s.prefix)
}
