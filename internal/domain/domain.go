package domain

import (
	"time"
)

const (
	DefaultTotalRounds = 10

	// Late joiners replay the current track inside this fixed window, not the host's offsets.
	ResyncStartSeconds = 0
	ResyncEndSeconds   = 60

	// MaxCorrectPerRound is the number of correct answers after which a round locks.
	MaxCorrectPerRound = 3
)

type Role string

const (
	RoleHost   Role = "host"
	RolePlayer Role = "player"
)

type PlaybackAction string

const (
	PlaybackPlay  PlaybackAction = "play"
	PlaybackPause PlaybackAction = "pause"
	PlaybackStop  PlaybackAction = "stop"
)

func (a PlaybackAction) Valid() bool {
	switch a {
	case PlaybackPlay, PlaybackPause, PlaybackStop:
		return true
	}
	return false
}

// Phase is the lifecycle state of the current round, derived from the session fields.
type Phase string

const (
	PhaseIdle     Phase = "idle"
	PhasePlaying  Phase = "playing"
	PhasePaused   Phase = "paused"
	PhaseRevealed Phase = "revealed"
	PhaseLocked   Phase = "locked"
	PhaseEnded    Phase = "ended"
)

// Track is the media assigned to the current round. MediaRef is opaque to the server.
type Track struct {
	MediaRef           string `json:"mediaRef"`
	Title              string `json:"title"`
	StartOffsetSeconds int    `json:"startOffsetSeconds"`
	EndOffsetSeconds   int    `json:"endOffsetSeconds"`
}

type Player struct {
	ID    string
	Name  string
	Score int
}

// CorrectAnswer is one accepted answer of the current round, in acceptance order.
type CorrectAnswer struct {
	PlayerID   string    `json:"playerId"`
	PlayerName string    `json:"playerName"`
	Points     int       `json:"points"`
	Timestamp  time.Time `json:"timestamp"`
}

type LeaderboardEntry struct {
	PlayerID string `json:"playerId"`
	Name     string `json:"name"`
	Score    int    `json:"score"`
	Rank     int    `json:"rank"`
}

// Leaderboard is sorted by score in descending order, ranks are 1..N without ties.
type Leaderboard []LeaderboardEntry

// Award is one scoring decision, as recorded in the ledger.
type Award struct {
	GameID     string    `json:"gameId"`
	Round      int       `json:"round"`
	PlayerID   string    `json:"playerId"`
	PlayerName string    `json:"playerName"`
	Points     int       `json:"points"`
	TotalScore int       `json:"totalScore"`
	Rank       int       `json:"rank"`
	AwardTime  time.Time `json:"awardTime"`
}

// GameRecord is a finished game with its final standings.
type GameRecord struct {
	GameID      string      `json:"gameId"`
	TotalRounds int         `json:"totalRounds"`
	EndTime     time.Time   `json:"endTime"`
	Standings   Leaderboard `json:"standings"`
}

// Snapshot is the full session state pushed to a connection on (re)join.
type Snapshot struct {
	GameID         string          `json:"gameId"`
	HostConnected  bool            `json:"hostConnected"`
	Track          *Track          `json:"track"`
	IsPlaying      bool            `json:"isPlaying"`
	AnswerRevealed bool            `json:"answerRevealed"`
	CurrentRound   int             `json:"currentRound"`
	TotalRounds    int             `json:"totalRounds"`
	RoundLocked    bool            `json:"roundLocked"`
	CorrectAnswers []CorrectAnswer `json:"correctAnswers"`
	Phase          Phase           `json:"phase"`
}
