package api

import (
	"context"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/skip2/go-qrcode"

	"github.com/victornm/songquiz/internal/domain"
	"github.com/victornm/songquiz/internal/errors"
	"github.com/victornm/songquiz/internal/game"
	"github.com/victornm/songquiz/internal/score"
	"github.com/victornm/songquiz/internal/session"
)

const qrSize = 320

type (
	// Session is the live game, served by game.Engine.
	Session interface {
		Submit(ctx context.Context, in game.Inbound) error
		Snapshot(ctx context.Context) (domain.Snapshot, error)
		Leaderboard(ctx context.Context) (domain.Leaderboard, error)
	}

	Mirror interface {
		GetLeaderboard(ctx context.Context) (domain.Leaderboard, error)
	}

	Ledger interface {
		ListAwards(ctx context.Context, req score.ListAwardsRequest) ([]domain.Award, error)
		ListScores(ctx context.Context, req score.ListScoresRequest) (domain.Leaderboard, error)
	}

	Archive interface {
		GetGame(ctx context.Context, req session.GetGameRequest) (*domain.GameRecord, error)
		ListGames(ctx context.Context, req session.ListGamesRequest) ([]domain.GameRecord, error)
	}
)

type Config struct {
	Router  gin.IRouter
	Session Session
	Hub     *Hub
	WS      WSConfig

	// AllowedOrigins restricts websocket upgrades. Empty allows every origin.
	AllowedOrigins []string
	// PublicURL is encoded in the join QR code. When empty it is derived from the request.
	PublicURL string

	// Optional stores, nil when the backing infra is disabled.
	Mirror  Mirror
	Ledger  Ledger
	Archive Archive
}

type API struct {
	session  Session
	hub      *Hub
	ws       WSConfig
	upgrader websocket.Upgrader

	publicURL string

	mirror  Mirror
	ledger  Ledger
	archive Archive
}

func New(c Config) *API {
	a := &API{
		session:   c.Session,
		hub:       c.Hub,
		ws:        c.WS.withDefaults(),
		publicURL: c.PublicURL,
		mirror:    c.Mirror,
		ledger:    c.Ledger,
		archive:   c.Archive,
	}

	origins := c.AllowedOrigins
	a.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return len(origins) == 0 || slices.Contains(origins, r.Header.Get("Origin"))
		},
	}

	r := c.Router
	r.GET("/ws", a.ServeWS)
	r.GET("/healthz", a.Healthz)

	v1 := r.Group("/api/v1")
	v1.GET("/session", a.GetSession)
	v1.GET("/leaderboard", a.GetLeaderboard)
	v1.GET("/join.png", a.GetJoinQR)

	if a.mirror != nil {
		v1.GET("/leaderboard/mirror", a.GetMirroredLeaderboard)
	}
	if a.ledger != nil {
		v1.GET("/awards", a.ListAwards)
		v1.GET("/scores", a.ListScores)
	}
	if a.archive != nil {
		v1.GET("/games", a.ListGames)
		v1.GET("/games/:id", a.GetGame)
	}

	return a
}

// ServeWS upgrades the request and serves the connection until it closes.
func (a *API) ServeWS(c *gin.Context) {
	conn, err := a.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// the upgrader already wrote the response
		slog.WarnContext(c, "api: websocket upgrade failed", "error", err)
		return
	}

	id := uuid.NewString()
	client := newClient(id, conn, a.hub, a.session, a.ws)
	a.hub.register(client)
	slog.InfoContext(c, "api: client connected", "conn", id, "remote", c.ClientIP())

	go client.writePump()
	client.readPump(c.Request.Context())
}

func (a *API) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "clients": a.hub.Len()})
}

func (a *API) GetSession(c *gin.Context) {
	snap, err := a.session.Snapshot(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, snap)
}

func (a *API) GetLeaderboard(c *gin.Context) {
	l, err := a.session.Leaderboard(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, nonNil(l))
}

func (a *API) GetMirroredLeaderboard(c *gin.Context) {
	l, err := a.mirror.GetLeaderboard(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, l)
}

// ListAwards lists the awards of a game, by default the one in progress.
func (a *API) ListAwards(c *gin.Context) {
	gameID, err := a.gameID(c)
	if err != nil {
		writeError(c, err)
		return
	}

	var round int
	if s := c.Query("round"); s != "" {
		round, err = strconv.Atoi(s)
		if err != nil || round < 1 {
			writeError(c, errors.Validation("invalid round: %s", s))
			return
		}
	}

	awards, err := a.ledger.ListAwards(c.Request.Context(), score.ListAwardsRequest{
		GameID: gameID,
		Round:  round,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"gameId": gameID, "awards": awards})
}

func (a *API) ListScores(c *gin.Context) {
	gameID, err := a.gameID(c)
	if err != nil {
		writeError(c, err)
		return
	}

	scores, err := a.ledger.ListScores(c.Request.Context(), score.ListScoresRequest{GameID: gameID})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"gameId": gameID, "scores": nonNil(scores)})
}

func (a *API) gameID(c *gin.Context) (string, error) {
	if id := c.Query("game"); id != "" {
		return id, nil
	}

	snap, err := a.session.Snapshot(c.Request.Context())
	if err != nil {
		return "", err
	}
	return snap.GameID, nil
}

func (a *API) ListGames(c *gin.Context) {
	req := session.ListGamesRequest{}

	if s := c.Query("since"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			writeError(c, errors.Validation("invalid since: %s", s))
			return
		}
		req.Since = t
	}
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			writeError(c, errors.Validation("invalid limit: %s", s))
			return
		}
		req.Limit = n
	}

	games, err := a.archive.ListGames(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"games": games})
}

func (a *API) GetGame(c *gin.Context) {
	g, err := a.archive.GetGame(c.Request.Context(), session.GetGameRequest{GameID: c.Param("id")})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, g)
}

// GetJoinQR renders the URL players open to join as a PNG QR code.
func (a *API) GetJoinQR(c *gin.Context) {
	url := a.publicURL
	if url == "" {
		scheme := "http"
		if c.Request.TLS != nil {
			scheme = "https"
		}
		if proto := c.GetHeader("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		}
		url = scheme + "://" + c.Request.Host + "/"
	}

	png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
	if err != nil {
		writeError(c, errors.Internal(err))
		return
	}

	c.Data(http.StatusOK, "image/png", png)
}

// UpdateLeaderboardJSON keeps empty boards as [] rather than null.
func nonNil(l domain.Leaderboard) domain.Leaderboard {
	if l == nil {
		return domain.Leaderboard{}
	}
	return l
}

func writeError(c *gin.Context, err error) {
	e := errors.Convert(err)
	if e.Code == errors.CodeInternal {
		slog.ErrorContext(c, "api: request failed", "path", c.FullPath(), "error", err)
	}

	c.AbortWithStatusJSON(e.HTTPStatusCode(), gin.H{
		"code":    e.Code.String(),
		"message": e.Message,
	})
}
