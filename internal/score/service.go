package score

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/victornm/songquiz/internal/domain"
	"github.com/victornm/songquiz/internal/errors"
	"github.com/victornm/songquiz/internal/event"
)

type Config struct {
	EventBus *event.Bus
	DB       *pgxpool.Pool
}

// Service is the ledger of awarded points. Every accepted answer is one row.
type Service struct {
	eb *event.Bus
	db *pgxpool.Pool
}

func NewService(c Config) *Service {
	s := &Service{
		eb: c.EventBus,
		db: c.DB,
	}

	s.eb.Subscribe(domain.EventNameScoreAwarded, func(ctx context.Context, e event.Event) error {
		err := s.RecordAward(ctx, e.(domain.EventScoreAwarded).Award)
		if errors.IsCode(err, errors.CodeAlreadyExists) {
			slog.DebugContext(ctx, "score: award already recorded", "error", err)
			return nil
		}
		return err
	})

	return s
}

// Migrate creates the ledger table when it does not exist yet.
func (s *Service) Migrate(ctx context.Context) error {
	const stmt = `
CREATE TABLE IF NOT EXISTS awards (
	game_id     TEXT        NOT NULL,
	round       INT         NOT NULL,
	player_id   TEXT        NOT NULL,
	player_name TEXT        NOT NULL,
	points      INT         NOT NULL,
	total_score INT         NOT NULL,
	rank        INT         NOT NULL,
	award_time  TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (game_id, round, player_id)
);`

	if _, err := s.db.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("score: migrate: %w", err)
	}
	return nil
}

// RecordAward stores one award. A player is awarded at most once per round.
func (s *Service) RecordAward(ctx context.Context, a domain.Award) error {
	const stmt = `
INSERT INTO awards (game_id, round, player_id, player_name, points, total_score, rank, award_time)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8);`

	_, err := s.db.Exec(ctx, stmt, a.GameID, a.Round, a.PlayerID, a.PlayerName, a.Points, a.TotalScore, a.Rank, a.AwardTime)

	var pgErr *pgconn.PgError
	const codeUniqueViolation = "23505"
	if stderrors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation {
		return errors.New(errors.CodeAlreadyExists,
			errors.WithMessagef("award exists: game=%s round=%d player=%s", a.GameID, a.Round, a.PlayerID),
			errors.WithCause(err))
	}

	if err != nil {
		return fmt.Errorf("score: record award: %w", err)
	}

	return nil
}

type ListAwardsRequest struct {
	GameID string
	// Round filters by round number when positive.
	Round int
}

func (s *Service) ListAwards(ctx context.Context, req ListAwardsRequest) ([]domain.Award, error) {
	if req.GameID == "" {
		return nil, errors.Validation("game id is required")
	}

	const stmt = `
SELECT game_id, round, player_id, player_name, points, total_score, rank, award_time
FROM awards
WHERE game_id = $1 AND ($2 <= 0 OR round = $2)
ORDER BY round, rank;`

	rows, err := s.db.Query(ctx, stmt, req.GameID, req.Round)
	if err != nil {
		return nil, fmt.Errorf("score: list awards: %w", err)
	}

	awards, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Award, error) {
		var a domain.Award
		err := r.Scan(&a.GameID, &a.Round, &a.PlayerID, &a.PlayerName, &a.Points, &a.TotalScore, &a.Rank, &a.AwardTime)
		return a, err
	})
	if err != nil {
		return nil, fmt.Errorf("score: collect awards: %w", err)
	}

	return awards, nil
}

type ListScoresRequest struct {
	GameID string
}

// ListScores sums the ledger per player. Players who never scored are not listed.
func (s *Service) ListScores(ctx context.Context, req ListScoresRequest) (domain.Leaderboard, error) {
	const stmt = `
SELECT player_id, MAX(player_name), SUM(points) AS score
FROM awards
WHERE game_id = $1
GROUP BY player_id
ORDER BY score DESC, MIN(award_time);`

	rows, err := s.db.Query(ctx, stmt, req.GameID)
	if err != nil {
		return nil, fmt.Errorf("score: list scores: %w", err)
	}

	scores, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.LeaderboardEntry, error) {
		var e domain.LeaderboardEntry
		err := r.Scan(&e.PlayerID, &e.Name, &e.Score)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("score: collect scores: %w", err)
	}

	for i := range scores {
		scores[i].Rank = i + 1
	}

	return scores, nil
}
