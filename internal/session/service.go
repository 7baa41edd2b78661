package session

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/victornm/songquiz/internal/domain"
	"github.com/victornm/songquiz/internal/errors"
	"github.com/victornm/songquiz/internal/event"
)

type Config struct {
	DB       *pgxpool.Pool
	EventBus *event.Bus
}

// Service archives finished games with their final standings.
type Service struct {
	db *pgxpool.Pool
	eb *event.Bus
}

func NewService(c Config) *Service {
	s := &Service{
		db: c.DB,
		eb: c.EventBus,
	}

	s.eb.Subscribe(domain.EventNameGameEnded, func(ctx context.Context, e event.Event) error {
		return s.ArchiveGame(ctx, e.(domain.EventGameEnded).Game)
	}, event.Ordered())

	return s
}

func (s *Service) Migrate(ctx context.Context) error {
	const stmt = `
CREATE TABLE IF NOT EXISTS games (
	game_id      UUID        PRIMARY KEY,
	total_rounds INT         NOT NULL,
	end_time     TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS games_standings (
	game_id   UUID NOT NULL REFERENCES games (game_id) ON DELETE CASCADE,
	rank      INT  NOT NULL,
	player_id TEXT NOT NULL,
	name      TEXT NOT NULL,
	score     INT  NOT NULL,
	PRIMARY KEY (game_id, rank)
);`

	if _, err := s.db.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("session: migrate: %w", err)
	}
	return nil
}

// ArchiveGame stores the game and replaces any standings stored for it before.
// A game that ends, has its round cap raised and ends again is archived twice.
func (s *Service) ArchiveGame(ctx context.Context, g domain.GameRecord) (err error) {
	id, err := uuid.Parse(g.GameID)
	if err != nil {
		return errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("invalid game id: %s", g.GameID),
			errors.WithCause(err))
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			err = stderrors.Join(err, tx.Rollback(ctx))
		}
	}()

	const (
		upsertGameStmt = `
INSERT INTO games (game_id, total_rounds, end_time) VALUES ($1, $2, $3)
ON CONFLICT (game_id) DO UPDATE SET total_rounds = EXCLUDED.total_rounds, end_time = EXCLUDED.end_time;`
		delStandingsStmt = `DELETE FROM games_standings WHERE game_id = $1;`
		insStandingStmt  = `INSERT INTO games_standings (game_id, rank, player_id, name, score) VALUES ($1, $2, $3, $4, $5);`
	)

	if _, err = tx.Exec(ctx, upsertGameStmt, id.String(), g.TotalRounds, g.EndTime); err != nil {
		return fmt.Errorf("upsert game: %w", err)
	}

	if _, err = tx.Exec(ctx, delStandingsStmt, id.String()); err != nil {
		return fmt.Errorf("delete standings: %w", err)
	}

	batch := &pgx.Batch{}
	for _, e := range g.Standings {
		batch.Queue(insStandingStmt, id.String(), e.Rank, e.PlayerID, e.Name, e.Score)
	}
	if err = tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert standings: %w", err)
	}

	return tx.Commit(ctx)
}

type GetGameRequest struct {
	GameID string
}

func (s *Service) GetGame(ctx context.Context, req GetGameRequest) (*domain.GameRecord, error) {
	id, err := uuid.Parse(req.GameID)
	if err != nil {
		return nil, errors.Validation("invalid game id: %s", req.GameID)
	}

	const (
		gameStmt      = `SELECT total_rounds, end_time FROM games WHERE game_id = $1;`
		standingsStmt = `SELECT rank, player_id, name, score FROM games_standings WHERE game_id = $1 ORDER BY rank;`
	)

	g := &domain.GameRecord{GameID: id.String()}
	err = s.db.QueryRow(ctx, gameStmt, g.GameID).Scan(&g.TotalRounds, &g.EndTime)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.NotFound("game not found: %s", req.GameID)
	}
	if err != nil {
		return nil, fmt.Errorf("session: get game: %w", err)
	}

	rows, err := s.db.Query(ctx, standingsStmt, g.GameID)
	if err != nil {
		return nil, fmt.Errorf("session: get standings: %w", err)
	}

	g.Standings, err = pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.LeaderboardEntry, error) {
		var e domain.LeaderboardEntry
		err := r.Scan(&e.Rank, &e.PlayerID, &e.Name, &e.Score)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("session: collect standings: %w", err)
	}

	return g, nil
}

type ListGamesRequest struct {
	// Since limits the result to games that ended after it when set.
	Since time.Time
	Limit int
}

// ListGames returns the most recent games first, without standings.
func (s *Service) ListGames(ctx context.Context, req ListGamesRequest) ([]domain.GameRecord, error) {
	limit := req.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	const stmt = `
SELECT game_id::text, total_rounds, end_time FROM games
WHERE end_time > $1
ORDER BY end_time DESC
LIMIT $2;`

	rows, err := s.db.Query(ctx, stmt, req.Since, limit)
	if err != nil {
		return nil, fmt.Errorf("session: list games: %w", err)
	}

	games, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.GameRecord, error) {
		var g domain.GameRecord
		err := r.Scan(&g.GameID, &g.TotalRounds, &g.EndTime)
		return g, err
	})
	if err != nil {
		return nil, fmt.Errorf("session: collect games: %w", err)
	}

	return games, nil
}
