package game

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/victornm/songquiz/internal/domain"
	"github.com/victornm/songquiz/internal/errors"
	"github.com/victornm/songquiz/internal/event"
)

const tooSlowMessage = "too slow, this round already has 3 correct answers"

// Publisher receives the domain events of every handled command.
type Publisher interface {
	Publish(ctx context.Context, e event.Event)
}

type Config struct {
	TotalRounds int
	EventBus    Publisher
	Now         func() time.Time
	NewGameID   func() string
}

// Router applies inbound commands to the session and returns the outbound effects.
// It is not safe for concurrent use; the Engine owns it.
type Router struct {
	registry *Registry
	state    *State
	arbiter  *Arbiter

	pub       Publisher
	now       func() time.Time
	newGameID func() string

	// domain events produced by the command being handled
	pending []event.Event
}

func NewRouter(c Config) *Router {
	r := &Router{
		registry:  NewRegistry(),
		pub:       c.EventBus,
		now:       c.Now,
		newGameID: c.NewGameID,
	}

	if r.now == nil {
		r.now = time.Now
	}
	if r.newGameID == nil {
		r.newGameID = newGameID
	}

	r.state = NewState(r.newGameID(), c.TotalRounds)
	r.arbiter = NewArbiter(r.state, r.registry, r.now)
	return r
}

func newGameID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Handle applies one command. The returned error explains a dropped or rejected
// command; any message meant for the sender is already part of the effects.
func (r *Router) Handle(ctx context.Context, in Inbound) ([]Effect, error) {
	r.pending = r.pending[:0]

	effects, err := r.route(in)
	if err != nil {
		effects = append(effects, r.reject(ctx, in, err)...)
	}

	for _, e := range r.pending {
		if r.pub != nil {
			r.pub.Publish(ctx, e)
		}
	}

	return effects, err
}

func (r *Router) route(in Inbound) ([]Effect, error) {
	switch cmd := in.Command.(type) {
	case JoinGame:
		return r.join(in.ConnID, cmd)
	case AssignTrack:
		return r.assignTrack(in.ConnID, cmd)
	case Playback:
		return r.playback(cmd)
	case Reveal:
		return r.reveal(cmd), nil
	case AdvanceRound:
		return r.advance(in.ConnID)
	case SubmitAnswer:
		return r.submit(in.ConnID, cmd)
	case MarkCorrect:
		return r.markCorrect(in.ConnID, cmd)
	case MarkWrong:
		return r.markWrong(in.ConnID, cmd)
	case SetTotalRounds:
		return r.setTotalRounds(in.ConnID, cmd)
	case ResetGame:
		return r.reset(in.ConnID)
	case Disconnect:
		return r.disconnect(in.ConnID), nil
	case nil:
		return nil, errors.Validation("missing command")
	default:
		return nil, errors.Validation("unsupported command: %s", cmd.Name())
	}
}

// reject turns a surfaced error into a notice for the sender. Silent errors are only logged.
func (r *Router) reject(ctx context.Context, in Inbound, err error) []Effect {
	e := errors.Convert(err)
	if e.Silent() {
		slog.DebugContext(ctx, "game: command dropped",
			"conn", in.ConnID,
			"command", commandName(in.Command),
			"error", err,
		)
		return nil
	}

	if _, ok := in.Command.(JoinGame); ok {
		return nil
	}

	return []Effect{{
		Target: ToConn(in.ConnID),
		Event:  ErrorNotice{Code: e.Code.String(), Message: e.Message},
	}}
}

func commandName(c Command) string {
	if c == nil {
		return "<nil>"
	}
	return c.Name()
}

func (r *Router) join(connID string, cmd JoinGame) ([]Effect, error) {
	switch cmd.Role {
	case domain.RoleHost:
		r.registry.RegisterHost(connID)
		r.emit(domain.EventHostChanged{HostConnected: true})

		return []Effect{
			{Target: ToConn(connID), Event: JoinConfirmed{Role: domain.RoleHost}},
			{Target: ToConn(connID), Event: r.gameState()},
			r.leaderboardEffect(),
		}, nil

	case domain.RolePlayer:
		p, err := r.registry.RegisterPlayer(connID, cmd.PlayerName)
		if err != nil {
			return []Effect{{Target: ToConn(connID), Event: JoinError{Message: errors.Convert(err).Message}}}, err
		}
		r.emit(domain.EventPlayerJoined{Player: p})

		effects := []Effect{
			{Target: ToConn(connID), Event: JoinConfirmed{Role: domain.RolePlayer}},
			{Target: ToConn(connID), Event: r.gameState()},
			r.leaderboardEffect(),
		}

		// Late joiners hear the current track from the start of a fixed window.
		if t, ok := r.state.Track(); ok && r.state.IsPlaying() {
			t.StartOffsetSeconds = domain.ResyncStartSeconds
			t.EndOffsetSeconds = domain.ResyncEndSeconds
			effects = append(effects,
				Effect{Target: ToConn(connID), Event: PlaySong{Track: t}},
				Effect{Target: ToConn(connID), Event: ControlPlayer{Action: domain.PlaybackPlay}},
			)
		}
		return effects, nil
	}

	err := errors.Validation("unknown role: %q", cmd.Role)
	return []Effect{{Target: ToConn(connID), Event: JoinError{Message: errors.Convert(err).Message}}}, err
}

func (r *Router) assignTrack(connID string, cmd AssignTrack) ([]Effect, error) {
	if err := r.requireHost(connID, cmd); err != nil {
		return nil, err
	}

	t := domain.Track{
		MediaRef:           cmd.MediaRef,
		Title:              cmd.Title,
		StartOffsetSeconds: domain.ResyncStartSeconds,
		EndOffsetSeconds:   domain.ResyncEndSeconds,
	}
	if cmd.StartOffsetSeconds != nil {
		t.StartOffsetSeconds = *cmd.StartOffsetSeconds
	}
	if cmd.EndOffsetSeconds != nil {
		t.EndOffsetSeconds = *cmd.EndOffsetSeconds
	}

	r.state.AssignTrack(t)

	return []Effect{
		{Target: ToOthers(connID), Event: PlaySong{Track: t}},
		{Target: ToOthers(connID), Event: ControlPlayer{Action: domain.PlaybackPlay}},
		{Target: ToConn(connID), Event: r.gameState()},
		{Target: ToAll(), Event: r.roundUpdate()},
	}, nil
}

// playback is relayed from any connection.
func (r *Router) playback(cmd Playback) ([]Effect, error) {
	if err := r.state.SetPlayback(cmd.Action); err != nil {
		return nil, err
	}

	return []Effect{{Target: ToAll(), Event: ControlPlayer{Action: cmd.Action}}}, nil
}

func (r *Router) reveal(cmd Reveal) []Effect {
	title := r.state.Reveal(cmd.TitleOverride)
	return []Effect{{Target: ToAll(), Event: RevealAnswer{Title: title}}}
}

func (r *Router) advance(connID string) ([]Effect, error) {
	if err := r.requireHost(connID, AdvanceRound{}); err != nil {
		return nil, err
	}

	ended, err := r.state.Advance()
	if err != nil {
		return nil, err
	}

	if ended {
		return []Effect{r.endGame()}, nil
	}

	current, total := r.state.Round()
	r.emit(domain.EventRoundAdvanced{GameID: r.state.GameID(), CurrentRound: current, TotalRounds: total})

	return []Effect{
		{Target: ToAll(), Event: NextRound{CurrentRound: current, TotalRounds: total}},
		{Target: ToAll(), Event: r.roundUpdate()},
	}, nil
}

// endGame records the final standings and builds the broadcast that closes the game.
func (r *Router) endGame() Effect {
	_, total := r.state.Round()
	lb := r.Leaderboard()
	r.emit(domain.EventGameEnded{Game: domain.GameRecord{
		GameID:      r.state.GameID(),
		TotalRounds: total,
		EndTime:     r.now(),
		Standings:   lb,
	}})

	return Effect{Target: ToAll(), Event: GameEnded{Leaderboard: lb}}
}

func (r *Router) submit(connID string, cmd SubmitAnswer) ([]Effect, error) {
	d, err := r.arbiter.CheckSubmission(connID)
	switch d {
	case DecisionTooSlow:
		return []Effect{{
			Target: ToConn(connID),
			Event:  YourAnswerResult{Correct: false, Message: tooSlowMessage},
		}}, nil
	case DecisionDrop:
		return nil, err
	}

	name := fallbackName(connID)
	if p, ok := r.registry.Player(connID); ok {
		name = p.Name
	}

	return []Effect{{
		Target: toHost(r.registry.HostID()),
		Event: PlayerSubmittedAnswer{
			PlayerID:   connID,
			Text:       strings.TrimSpace(cmd.Text),
			PlayerName: name,
		},
	}}, nil
}

// fallbackName names a connection that submits without having joined.
func fallbackName(connID string) string {
	if len(connID) > 6 {
		connID = connID[len(connID)-6:]
	}
	return "Player " + connID
}

func (r *Router) markCorrect(connID string, cmd MarkCorrect) ([]Effect, error) {
	aw, err := r.arbiter.MarkCorrect(connID, cmd.PlayerID)
	if err != nil {
		return nil, err
	}

	round, _ := r.state.Round()
	r.emit(domain.EventScoreAwarded{Award: domain.Award{
		GameID:     r.state.GameID(),
		Round:      round,
		PlayerID:   aw.Answer.PlayerID,
		PlayerName: aw.Answer.PlayerName,
		Points:     aw.Answer.Points,
		TotalScore: aw.NewScore,
		Rank:       aw.Rank,
		AwardTime:  aw.Answer.Timestamp,
	}})

	return []Effect{
		{Target: ToAll(), Event: AnswerCorrectBroadcast{
			PlayerID:    aw.Answer.PlayerID,
			PlayerName:  aw.Answer.PlayerName,
			NewScore:    aw.NewScore,
			Points:      aw.Answer.Points,
			AnswerCount: aw.AnswerCount,
			RoundLocked: aw.RoundLocked,
		}},
		r.leaderboardEffect(),
		{Target: ToConn(cmd.PlayerID), Event: YourAnswerResult{Correct: true, Points: aw.Answer.Points}},
		{Target: toHost(r.registry.HostID()), Event: RoundStatusUpdate{
			CorrectCount: aw.AnswerCount,
			RoundLocked:  aw.RoundLocked,
		}},
	}, nil
}

func (r *Router) markWrong(connID string, cmd MarkWrong) ([]Effect, error) {
	if err := r.arbiter.MarkWrong(connID, cmd.PlayerID); err != nil {
		return nil, err
	}

	return []Effect{{Target: ToConn(cmd.PlayerID), Event: YourAnswerResult{Correct: false}}}, nil
}

func (r *Router) setTotalRounds(connID string, cmd SetTotalRounds) ([]Effect, error) {
	if err := r.requireHost(connID, cmd); err != nil {
		return nil, err
	}

	wasEnded := r.state.Ended()
	if err := r.state.SetTotalRounds(cmd.TotalRounds); err != nil {
		return nil, err
	}

	effects := []Effect{{Target: ToAll(), Event: r.roundUpdate()}}
	if r.state.Ended() && !wasEnded {
		effects = append(effects, r.endGame())
	}
	return effects, nil
}

func (r *Router) reset(connID string) ([]Effect, error) {
	if err := r.requireHost(connID, ResetGame{}); err != nil {
		return nil, err
	}

	r.registry.ResetScores()
	r.state.Reset(r.newGameID())
	r.emit(domain.EventScoresReset{GameID: r.state.GameID(), Players: r.registry.Players()})

	current, total := r.state.Round()
	return []Effect{
		r.leaderboardEffect(),
		{Target: ToAll(), Event: GameReset{CurrentRound: current, TotalRounds: total}},
		{Target: ToAll(), Event: r.roundUpdate()},
	}, nil
}

func (r *Router) disconnect(connID string) []Effect {
	wasPlayer, wasHost := r.registry.Remove(connID)
	if wasPlayer {
		r.emit(domain.EventPlayerLeft{PlayerID: connID})
	}
	if wasHost {
		r.emit(domain.EventHostChanged{HostConnected: false})
	}

	return []Effect{r.leaderboardEffect()}
}

func (r *Router) requireHost(connID string, cmd Command) error {
	if !r.registry.IsHost(connID) {
		return errors.PermissionDenied("%s is host only", cmd.Name())
	}
	return nil
}

func (r *Router) emit(e event.Event) {
	r.pending = append(r.pending, e)
}

func (r *Router) gameState() GameState {
	return GameState{Snapshot: r.Snapshot()}
}

func (r *Router) roundUpdate() RoundUpdate {
	current, total := r.state.Round()
	return RoundUpdate{CurrentRound: current, TotalRounds: total}
}

func (r *Router) leaderboardEffect() Effect {
	return Effect{Target: ToAll(), Event: UpdateLeaderboard{Leaderboard: r.Leaderboard()}}
}

func (r *Router) Snapshot() domain.Snapshot {
	return r.state.Snapshot(r.registry.HasHost())
}

func (r *Router) Leaderboard() domain.Leaderboard {
	return Project(r.registry.Players())
}

func (r *Router) String() string {
	current, total := r.state.Round()
	return fmt.Sprintf("game %s round %d/%d players %d", r.state.GameID(), current, total, r.registry.Len())
}
