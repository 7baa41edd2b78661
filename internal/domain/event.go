package domain

const (
	EventNamePlayerJoined       = "player.joined"
	EventNamePlayerLeft         = "player.left"
	EventNameScoreAwarded       = "score.awarded"
	EventNameScoresReset        = "scores.reset"
	EventNameRoundAdvanced      = "round.advanced"
	EventNameGameEnded          = "game.ended"
	EventNameHostChanged        = "host.changed"
	EventNameLeaderboardUpdated = "leaderboard.updated"
)

type EventPlayerJoined struct {
	Player Player
}

func (EventPlayerJoined) Name() string { return EventNamePlayerJoined }

type EventPlayerLeft struct {
	PlayerID string
}

func (EventPlayerLeft) Name() string { return EventNamePlayerLeft }

// EventScoreAwarded is published once per accepted answer.
type EventScoreAwarded struct {
	Award Award
}

func (EventScoreAwarded) Name() string { return EventNameScoreAwarded }

// EventScoresReset starts a new game: every player is back to zero.
type EventScoresReset struct {
	GameID  string
	Players []Player
}

func (EventScoresReset) Name() string { return EventNameScoresReset }

type EventRoundAdvanced struct {
	GameID       string
	CurrentRound int
	TotalRounds  int
}

func (EventRoundAdvanced) Name() string { return EventNameRoundAdvanced }

type EventGameEnded struct {
	Game GameRecord
}

func (EventGameEnded) Name() string { return EventNameGameEnded }

type EventHostChanged struct {
	HostConnected bool
}

func (EventHostChanged) Name() string { return EventNameHostChanged }

type EventLeaderboardUpdated struct {
	Leaderboard Leaderboard
}

func (EventLeaderboardUpdated) Name() string { return EventNameLeaderboardUpdated }
