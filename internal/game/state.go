package game

import (
	"github.com/victornm/songquiz/internal/domain"
	"github.com/victornm/songquiz/internal/errors"
)

// State is the authoritative record of the session and its current round.
type State struct {
	gameID string

	track          *domain.Track
	lastTitle      string
	isPlaying      bool
	answerRevealed bool

	currentRound int
	totalRounds  int
	ended        bool

	roundLocked bool
	correct     []domain.CorrectAnswer
}

func NewState(gameID string, totalRounds int) *State {
	if totalRounds < 1 {
		totalRounds = domain.DefaultTotalRounds
	}

	return &State{
		gameID:       gameID,
		currentRound: 1,
		totalRounds:  totalRounds,
	}
}

// AssignTrack starts a new round track and clears everything the previous track left behind.
func (s *State) AssignTrack(t domain.Track) {
	s.track = &t
	s.isPlaying = true
	s.answerRevealed = false
	s.resetRound()
}

// SetPlayback applies a relayed player action. Only pause and stop change state.
func (s *State) SetPlayback(a domain.PlaybackAction) error {
	if !a.Valid() {
		return errors.Validation("unknown playback action: %q", a)
	}

	if a == domain.PlaybackPause || a == domain.PlaybackStop {
		s.isPlaying = false
	}
	return nil
}

// Reveal marks the answer as revealed and returns the title to show.
func (s *State) Reveal(titleOverride *string) string {
	s.answerRevealed = true

	// between rounds the answer of the round just played is still revealable
	if s.track == nil {
		if titleOverride != nil {
			s.lastTitle = *titleOverride
		}
		return s.lastTitle
	}

	if titleOverride != nil {
		s.track.Title = *titleOverride
	}
	return s.track.Title
}

// Advance moves to the next round. It reports ended once the round cap is passed,
// after which it refuses to advance until a reset or a higher cap.
func (s *State) Advance() (ended bool, err error) {
	if s.ended {
		return true, errors.FailedPrecondition("game already ended at round %d", s.currentRound)
	}

	if s.track != nil {
		s.lastTitle = s.track.Title
	}
	s.track = nil
	s.isPlaying = false
	s.answerRevealed = false
	s.resetRound()

	s.currentRound++
	if s.currentRound > s.totalRounds {
		s.currentRound = s.totalRounds + 1
		s.ended = true
	}

	return s.ended, nil
}

func (s *State) SetTotalRounds(n int) error {
	if n <= 0 {
		return errors.Validation("total rounds must be positive: %d", n)
	}

	// a cap below the round in play ends the game; a cap above it reopens an ended one
	s.totalRounds = n
	if s.currentRound > n {
		s.currentRound = n + 1
		s.ended = true
	} else {
		s.ended = false
	}
	return nil
}

// Reset starts a new game under gameID, keeping the round cap.
func (s *State) Reset(gameID string) {
	s.gameID = gameID
	s.track = nil
	s.lastTitle = ""
	s.isPlaying = false
	s.answerRevealed = false
	s.currentRound = 1
	s.ended = false
	s.resetRound()
}

func (s *State) resetRound() {
	s.roundLocked = false
	s.correct = nil
}

func (s *State) recordCorrect(a domain.CorrectAnswer) {
	s.correct = append(s.correct, a)
	if len(s.correct) >= domain.MaxCorrectPerRound {
		s.roundLocked = true
	}
}

func (s *State) hasScored(playerID string) bool {
	for _, a := range s.correct {
		if a.PlayerID == playerID {
			return true
		}
	}
	return false
}

func (s *State) GameID() string { return s.gameID }

func (s *State) Track() (domain.Track, bool) {
	if s.track == nil {
		return domain.Track{}, false
	}
	return *s.track, true
}

func (s *State) IsPlaying() bool { return s.isPlaying }

func (s *State) Round() (current, total int) { return s.currentRound, s.totalRounds }

func (s *State) RoundLocked() bool { return s.roundLocked }

func (s *State) Ended() bool { return s.ended }

func (s *State) CorrectCount() int { return len(s.correct) }

func (s *State) CorrectThisRound() []domain.CorrectAnswer {
	out := make([]domain.CorrectAnswer, len(s.correct))
	copy(out, s.correct)
	return out
}

func (s *State) Phase() domain.Phase {
	switch {
	case s.ended:
		return domain.PhaseEnded
	case s.roundLocked:
		return domain.PhaseLocked
	case s.answerRevealed:
		return domain.PhaseRevealed
	case s.track == nil:
		return domain.PhaseIdle
	case s.isPlaying:
		return domain.PhasePlaying
	default:
		return domain.PhasePaused
	}
}

func (s *State) Snapshot(hostConnected bool) domain.Snapshot {
	snap := domain.Snapshot{
		GameID:         s.gameID,
		HostConnected:  hostConnected,
		IsPlaying:      s.isPlaying,
		AnswerRevealed: s.answerRevealed,
		CurrentRound:   s.currentRound,
		TotalRounds:    s.totalRounds,
		RoundLocked:    s.roundLocked,
		CorrectAnswers: s.CorrectThisRound(),
		Phase:          s.Phase(),
	}

	if t, ok := s.Track(); ok {
		snap.Track = &t
	}
	return snap
}
