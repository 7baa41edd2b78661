package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/victornm/songquiz/internal/api"
	"github.com/victornm/songquiz/internal/domain"
	"github.com/victornm/songquiz/internal/event"
	"github.com/victornm/songquiz/internal/game"
	"github.com/victornm/songquiz/internal/leaderboard"
	"github.com/victornm/songquiz/internal/score"
	"github.com/victornm/songquiz/internal/session"
	"github.com/victornm/songquiz/internal/telemetry"
)

// HealthService is the gRPC health service name that follows the host connection.
const HealthService = "songquiz.Session"

type Config struct {
	HTTP struct {
		Port      int32
		PublicURL string
		// AllowedOrigins restricts websocket upgrades, empty allows all.
		AllowedOrigins []string
	}

	GRPC struct {
		Port int32
	}

	Game struct {
		TotalRounds int
		InboxSize   int
	}

	WS struct {
		ReadLimit  int64
		RateLimit  float64
		RateBurst  int
		SendBuffer int
	}

	Redis struct {
		Enabled bool
		Addrs   []string
		Pass    string
		Prefix  string
	}

	Postgres struct {
		Enabled bool
		Addr    string
		User    string
		Pass    string
		Name    string
	}

	Log telemetry.LogConfig
}

func DefaultConfig() Config {
	var c Config
	c.HTTP.Port = 3000
	c.GRPC.Port = 3001
	c.Game.TotalRounds = domain.DefaultTotalRounds
	c.Game.InboxSize = 256
	c.WS.ReadLimit = 4096
	c.WS.RateLimit = 20
	c.WS.RateBurst = 40
	c.WS.SendBuffer = 256
	c.Redis.Addrs = []string{"localhost:6379"}
	c.Redis.Prefix = "songquiz"
	c.Postgres.Addr = "localhost:5432"
	c.Postgres.User = "songquiz"
	c.Postgres.Name = "songquiz"
	c.Log.Level = "info"
	c.Log.Format = "text"
	return c
}

type Server struct {
	c Config

	eb *event.Bus

	infra struct {
		redis    redis.UniversalClient
		postgres *pgxpool.Pool
	}

	game struct {
		engine *game.Engine
		hub    *api.Hub
		cancel context.CancelFunc
		ctx    context.Context
	}

	service struct {
		session     *session.Service
		score       *score.Service
		leaderboard *leaderboard.Service
	}

	health *health.Server
	http   *http.Server
	grpc   *grpc.Server

	done chan struct{}
}

func Init(c Config) (*Server, error) {
	s := &Server{c: c, done: make(chan struct{})}

	s.eb = event.NewBus()

	if err := s.initInfra(); err != nil {
		return nil, fmt.Errorf("server: init infra: %w", err)
	}

	if err := s.initService(); err != nil {
		return nil, fmt.Errorf("server: init service: %w", err)
	}

	s.initGame()
	s.initAPI()
	s.initTelemetry()
	return s, nil
}

func (s *Server) initInfra() error {
	if s.c.Redis.Enabled {
		if err := s.initRedis(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}

	if s.c.Postgres.Enabled {
		if err := s.initPostgres(); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
	}

	return nil
}

func (s *Server) initRedis() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	r := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    s.c.Redis.Addrs,
		Password: s.c.Redis.Pass,
	})

	if err := telemetry.MonitorRedis(r); err != nil {
		return err
	}

	if err := r.Ping(ctx).Err(); err != nil {
		return err
	}

	s.infra.redis = r
	return nil
}

func (s *Server) initPostgres() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pc := s.c.Postgres
	cc, err := pgxpool.ParseConfig(fmt.Sprintf("postgres://%s:%s@%s/%s", pc.User, pc.Pass, pc.Addr, pc.Name))
	if err != nil {
		return err
	}

	db, err := pgxpool.NewWithConfig(ctx, cc)
	if err != nil {
		return err
	}

	if err := db.Ping(ctx); err != nil {
		db.Close()
		return err
	}

	s.infra.postgres = db
	return nil
}

func (s *Server) initService() error {
	if s.infra.redis != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		s.service.leaderboard = leaderboard.NewService(leaderboard.Config{
			EventBus: s.eb,
			Redis:    s.infra.redis,
			Prefix:   s.c.Redis.Prefix,
		})
		// the session starts empty, so does its mirror
		if err := s.service.leaderboard.Clear(ctx); err != nil {
			return fmt.Errorf("clear leaderboard: %w", err)
		}
	}

	if s.infra.postgres != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		s.service.score = score.NewService(score.Config{
			EventBus: s.eb,
			DB:       s.infra.postgres,
		})
		if err := s.service.score.Migrate(ctx); err != nil {
			return err
		}

		s.service.session = session.NewService(session.Config{
			EventBus: s.eb,
			DB:       s.infra.postgres,
		})
		if err := s.service.session.Migrate(ctx); err != nil {
			return err
		}
	}

	return nil
}

func (s *Server) initGame() {
	s.game.hub = api.NewHub()
	s.game.engine = game.NewEngine(game.EngineConfig{
		Router: game.NewRouter(game.Config{
			TotalRounds: s.c.Game.TotalRounds,
			EventBus:    s.eb,
		}),
		Dispatcher: s.game.hub,
		InboxSize:  s.c.Game.InboxSize,
	})
	s.game.ctx, s.game.cancel = context.WithCancel(context.Background())
}

func (s *Server) initAPI() {
	e := gin.New()
	e.GET("/metrics", gin.WrapH(promhttp.Handler()))
	pprof.Register(e, "/debug/pprof")
	e.Use(gin.Recovery())

	s.grpc = grpc.NewServer(telemetry.GRPCServerInterceptors()...)
	s.health = health.NewServer()
	s.health.SetServingStatus(HealthService, healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(s.grpc, s.health)

	cfg := api.Config{
		Router:  e,
		Session: s.game.engine,
		Hub:     s.game.hub,
		WS: api.WSConfig{
			ReadLimit:  s.c.WS.ReadLimit,
			RateLimit:  s.c.WS.RateLimit,
			RateBurst:  s.c.WS.RateBurst,
			SendBuffer: s.c.WS.SendBuffer,
		},
		AllowedOrigins: s.c.HTTP.AllowedOrigins,
		PublicURL:      s.c.HTTP.PublicURL,
	}
	// Leave the interfaces nil, not typed nils, when the infra is disabled.
	if s.service.leaderboard != nil {
		cfg.Mirror = s.service.leaderboard
	}
	if s.service.score != nil {
		cfg.Ledger = s.service.score
	}
	if s.service.session != nil {
		cfg.Archive = s.service.session
	}
	api.New(cfg)

	if s.infra.redis != nil {
		api.NewRelay(s.eb, s.infra.redis, s.c.Redis.Prefix)
	}

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.c.HTTP.Port),
		Handler:           e,
		ReadHeaderTimeout: 60 * time.Second,
	}
}

func (s *Server) initTelemetry() {
	s.eb.Subscribe(domain.EventNameHostChanged, func(ctx context.Context, e event.Event) error {
		st := healthpb.HealthCheckResponse_NOT_SERVING
		if e.(domain.EventHostChanged).HostConnected {
			st = healthpb.HealthCheckResponse_SERVING
		}
		s.health.SetServingStatus(HealthService, st)
		slog.InfoContext(ctx, "server: host changed", "status", st.String())
		return nil
	}, event.Ordered())

	s.eb.Subscribe(domain.EventNameScoreAwarded, func(_ context.Context, e event.Event) error {
		telemetry.ObserveAward(e.(domain.EventScoreAwarded).Award.Points)
		return nil
	})

	s.eb.Subscribe(domain.EventNameRoundAdvanced, func(ctx context.Context, e event.Event) error {
		r := e.(domain.EventRoundAdvanced)
		slog.InfoContext(ctx, "server: round advanced", "game", r.GameID, "round", r.CurrentRound, "total", r.TotalRounds)
		return nil
	})

	s.eb.Subscribe(domain.EventNameGameEnded, func(ctx context.Context, e event.Event) error {
		g := e.(domain.EventGameEnded).Game
		slog.InfoContext(ctx, "server: game ended", "game", g.GameID, "players", len(g.Standings))
		return nil
	})
}

// Start serves until Shutdown is called or one of the listeners fails. A failing
// listener stops the engine and the other listener before Start returns.
func (s *Server) Start() error {
	defer close(s.done)

	grpcLis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.c.GRPC.Port))
	if err != nil {
		return fmt.Errorf("grpc server: listen: %w", err)
	}

	httpLis, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		_ = grpcLis.Close()
		return fmt.Errorf("http server: listen: %w", err)
	}

	eg, ctx := errgroup.WithContext(s.game.ctx)
	eg.Go(func() error {
		err := s.game.engine.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: gRPC listening on %s", grpcLis.Addr()))
		if err := s.grpc.Serve(grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})

	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: HTTP listening on %s", httpLis.Addr()))
		if err := s.http.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	eg.Go(func() error {
		<-ctx.Done()
		s.stopListeners()
		return nil
	})

	if err := eg.Wait(); err != nil {
		slog.ErrorContext(s.game.ctx, "server: shutdown with error", "error", err)
		return err
	}
	return nil
}

// stopListeners tears down whatever is still serving once Start is winding down.
func (s *Server) stopListeners() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.game.cancel()
	s.grpc.Stop()
	if err := s.http.Shutdown(ctx); err != nil {
		slog.ErrorContext(ctx, "server: stop HTTP failed", "error", err)
	}
}

func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.health.Shutdown()
	s.grpc.GracefulStop()
	if err := s.http.Shutdown(ctx); err != nil {
		slog.ErrorContext(ctx, "server: shutdown HTTP failed", "error", err)
	}

	s.game.hub.Close()
	s.game.cancel()

	select {
	case <-s.done:
	case <-ctx.Done():
		slog.WarnContext(ctx, "server: timed out waiting for listeners")
	}

	s.eb.Stop()

	if s.infra.redis != nil {
		if err := s.infra.redis.Close(); err != nil {
			slog.ErrorContext(ctx, "server: close redis failed", "error", err)
		}
	}
	if s.infra.postgres != nil {
		s.infra.postgres.Close()
	}

	slog.InfoContext(ctx, "server: shutdown completed")
}
