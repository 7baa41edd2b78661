package game

import (
	"encoding/json"

	"github.com/victornm/songquiz/internal/domain"
)

type TargetKind int

const (
	TargetAll TargetKind = iota
	// TargetOthers is every connection except ConnID.
	TargetOthers
	// TargetHost is the host as it was when the effect was produced.
	TargetHost
	TargetConn
)

func (k TargetKind) String() string {
	switch k {
	case TargetAll:
		return "all"
	case TargetOthers:
		return "others"
	case TargetHost:
		return "host"
	case TargetConn:
		return "conn"
	}
	return "unknown"
}

type Target struct {
	Kind   TargetKind
	ConnID string
}

func ToAll() Target { return Target{Kind: TargetAll} }

func ToOthers(connID string) Target { return Target{Kind: TargetOthers, ConnID: connID} }

func ToConn(connID string) Target { return Target{Kind: TargetConn, ConnID: connID} }

func toHost(hostID string) Target { return Target{Kind: TargetHost, ConnID: hostID} }

// Effect is one outbound message and its audience.
type Effect struct {
	Target Target
	Event  Outbound
}

// Inbound is a command received from a connection.
type Inbound struct {
	ConnID  string
	Command Command
}

type Command interface {
	Name() string
}

type (
	JoinGame struct {
		Role       domain.Role
		PlayerName string
	}

	// AssignTrack is the play_song command. Missing offsets fall back to 0 and 60 seconds.
	AssignTrack struct {
		MediaRef           string
		Title              string
		StartOffsetSeconds *int
		EndOffsetSeconds   *int
	}

	Playback struct {
		Action domain.PlaybackAction
	}

	Reveal struct {
		TitleOverride *string
	}

	AdvanceRound struct{}

	SubmitAnswer struct {
		Text string
	}

	MarkCorrect struct {
		PlayerID string
	}

	MarkWrong struct {
		PlayerID string
	}

	SetTotalRounds struct {
		TotalRounds int
	}

	ResetGame struct{}

	Disconnect struct{}
)

func (JoinGame) Name() string       { return "join_game" }
func (AssignTrack) Name() string    { return "play_song" }
func (Playback) Name() string       { return "control_player" }
func (Reveal) Name() string         { return "reveal_answer" }
func (AdvanceRound) Name() string   { return "next_round" }
func (SubmitAnswer) Name() string   { return "submit_answer" }
func (MarkCorrect) Name() string    { return "answer_correct" }
func (MarkWrong) Name() string      { return "answer_wrong" }
func (SetTotalRounds) Name() string { return "set_total_rounds" }
func (ResetGame) Name() string      { return "reset_game" }
func (Disconnect) Name() string     { return "disconnect" }

// Outbound is a server to client event payload.
type Outbound interface {
	EventName() string
}

type (
	JoinConfirmed struct {
		Role domain.Role `json:"role"`
	}

	JoinError struct {
		Message string `json:"message"`
	}

	GameState struct {
		domain.Snapshot
	}

	PlaySong struct {
		domain.Track
	}

	// ControlPlayer is sent as the bare action string.
	ControlPlayer struct {
		Action domain.PlaybackAction
	}

	RoundUpdate struct {
		CurrentRound int `json:"currentRound"`
		TotalRounds  int `json:"totalRounds"`
	}

	// RevealAnswer is sent as the bare title string.
	RevealAnswer struct {
		Title string
	}

	NextRound struct {
		CurrentRound int `json:"currentRound"`
		TotalRounds  int `json:"totalRounds"`
	}

	GameEnded struct {
		Leaderboard domain.Leaderboard `json:"leaderboard"`
	}

	GameReset struct {
		CurrentRound int `json:"currentRound"`
		TotalRounds  int `json:"totalRounds"`
	}

	// UpdateLeaderboard is sent as the bare ranked list.
	UpdateLeaderboard struct {
		Leaderboard domain.Leaderboard
	}

	PlayerSubmittedAnswer struct {
		PlayerID   string `json:"playerId"`
		Text       string `json:"text"`
		PlayerName string `json:"playerName"`
	}

	AnswerCorrectBroadcast struct {
		PlayerID    string `json:"playerId"`
		PlayerName  string `json:"playerName"`
		NewScore    int    `json:"newScore"`
		Points      int    `json:"points"`
		AnswerCount int    `json:"answerCount"`
		RoundLocked bool   `json:"roundLocked"`
	}

	YourAnswerResult struct {
		Correct bool   `json:"correct"`
		Points  int    `json:"points,omitempty"`
		Message string `json:"message,omitempty"`
	}

	RoundStatusUpdate struct {
		CorrectCount int  `json:"correctCount"`
		RoundLocked  bool `json:"roundLocked"`
	}

	// ErrorNotice reports a rejected command to its sender only.
	ErrorNotice struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
)

func (JoinConfirmed) EventName() string          { return "join_confirmed" }
func (JoinError) EventName() string              { return "join_error" }
func (GameState) EventName() string              { return "game_state" }
func (PlaySong) EventName() string               { return "play_song" }
func (ControlPlayer) EventName() string          { return "control_player" }
func (RoundUpdate) EventName() string            { return "round_update" }
func (RevealAnswer) EventName() string           { return "reveal_answer" }
func (NextRound) EventName() string              { return "next_round" }
func (GameEnded) EventName() string              { return "game_ended" }
func (GameReset) EventName() string              { return "game_reset" }
func (UpdateLeaderboard) EventName() string      { return "update_leaderboard" }
func (PlayerSubmittedAnswer) EventName() string  { return "player_submitted_answer" }
func (AnswerCorrectBroadcast) EventName() string { return "answer_correct_broadcast" }
func (YourAnswerResult) EventName() string       { return "your_answer_result" }
func (RoundStatusUpdate) EventName() string      { return "round_status_update" }
func (ErrorNotice) EventName() string            { return "error" }

func (c ControlPlayer) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(c.Action))
}

func (r RevealAnswer) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Title)
}

func (u UpdateLeaderboard) MarshalJSON() ([]byte, error) {
	if u.Leaderboard == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(u.Leaderboard)
}
