package game

import (
	"time"

	"github.com/victornm/songquiz/internal/domain"
	"github.com/victornm/songquiz/internal/errors"
)

// pointsByRank[i] is awarded to the (i+1)-th correct answer of a round.
var pointsByRank = [domain.MaxCorrectPerRound]int{3, 2, 1}

type Decision int

const (
	// DecisionRelay forwards the guess to the host.
	DecisionRelay Decision = iota
	// DecisionTooSlow tells the player the round is already locked.
	DecisionTooSlow
	// DecisionDrop ignores the guess without telling anyone.
	DecisionDrop
)

// Arbiter decides which guesses reach the host and what an accepted answer is worth.
// The host is trusted: it never checks the guess text against the track title.
type Arbiter struct {
	state    *State
	registry *Registry
	now      func() time.Time
}

func NewArbiter(state *State, registry *Registry, now func() time.Time) *Arbiter {
	if now == nil {
		now = time.Now
	}

	return &Arbiter{
		state:    state,
		registry: registry,
		now:      now,
	}
}

func (a *Arbiter) CheckSubmission(connID string) (Decision, error) {
	switch {
	case !a.registry.HasHost():
		return DecisionDrop, errors.FailedPrecondition("no host to review answers")
	case a.state.RoundLocked():
		return DecisionTooSlow, nil
	case a.state.hasScored(connID):
		return DecisionDrop, errors.FailedPrecondition("already scored this round: %s", connID)
	}
	return DecisionRelay, nil
}

// Award is the outcome of an accepted answer.
type Award struct {
	Answer      domain.CorrectAnswer
	Rank        int
	NewScore    int
	AnswerCount int
	RoundLocked bool
}

func (a *Arbiter) MarkCorrect(sender, playerID string) (Award, error) {
	if !a.registry.IsHost(sender) {
		return Award{}, errors.PermissionDenied("only the host can accept answers")
	}

	p, ok := a.registry.Player(playerID)
	if !ok {
		return Award{}, errors.NotFound("player not found: %s", playerID)
	}

	if a.state.RoundLocked() {
		return Award{}, errors.FailedPrecondition("round %d is locked", a.state.currentRound)
	}

	if a.state.hasScored(playerID) {
		return Award{}, errors.FailedPrecondition("already scored this round: %s", playerID)
	}

	rank := a.state.CorrectCount() + 1
	points := pointsByRank[rank-1]

	total, err := a.registry.AddScore(playerID, points)
	if err != nil {
		return Award{}, err
	}

	ans := domain.CorrectAnswer{
		PlayerID:   playerID,
		PlayerName: p.Name,
		Points:     points,
		Timestamp:  a.now(),
	}
	a.state.recordCorrect(ans)

	return Award{
		Answer:      ans,
		Rank:        rank,
		NewScore:    total,
		AnswerCount: a.state.CorrectCount(),
		RoundLocked: a.state.RoundLocked(),
	}, nil
}

func (a *Arbiter) MarkWrong(sender, playerID string) error {
	if !a.registry.IsHost(sender) {
		return errors.PermissionDenied("only the host can reject answers")
	}

	if _, ok := a.registry.Player(playerID); !ok {
		return errors.NotFound("player not found: %s", playerID)
	}
	return nil
}
