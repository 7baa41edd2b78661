package game_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/songquiz/internal/domain"
	"github.com/victornm/songquiz/internal/errors"
	"github.com/victornm/songquiz/internal/game"
)

func TestState_Lifecycle(t *testing.T) {
	t.Parallel()

	s := game.NewState("g1", 2)
	assert.Equal(t, domain.PhaseIdle, s.Phase())

	s.AssignTrack(domain.Track{MediaRef: "abc", Title: "Song"})
	assert.Equal(t, domain.PhasePlaying, s.Phase())

	require.NoError(t, s.SetPlayback(domain.PlaybackPause))
	assert.Equal(t, domain.PhasePaused, s.Phase())

	require.NoError(t, s.SetPlayback(domain.PlaybackPlay))
	assert.Equal(t, domain.PhasePaused, s.Phase(), "play is relayed without changing state")

	title := "Song (Live)"
	assert.Equal(t, "Song (Live)", s.Reveal(&title))
	assert.Equal(t, domain.PhaseRevealed, s.Phase())

	ended, err := s.Advance()
	require.NoError(t, err)
	assert.False(t, ended)
	assert.Equal(t, domain.PhaseIdle, s.Phase())
	current, total := s.Round()
	assert.Equal(t, 2, current)
	assert.Equal(t, 2, total)

	ended, err = s.Advance()
	require.NoError(t, err)
	assert.True(t, ended)
	assert.Equal(t, domain.PhaseEnded, s.Phase())
	current, _ = s.Round()
	assert.Equal(t, 3, current, "round is clamped to total+1")

	_, err = s.Advance()
	assert.True(t, errors.IsCode(err, errors.CodeFailedPrecondition), "an ended game does not advance")
	current, _ = s.Round()
	assert.Equal(t, 3, current)
}

func TestState_SetPlayback(t *testing.T) {
	tests := map[string]struct {
		action      domain.PlaybackAction
		wantPlaying bool
		wantErr     bool
	}{
		"pause stops playing":   {action: domain.PlaybackPause, wantPlaying: false},
		"stop stops playing":    {action: domain.PlaybackStop, wantPlaying: false},
		"play is relay only":    {action: domain.PlaybackPlay, wantPlaying: true},
		"unknown is rejected":   {action: "rewind", wantPlaying: true, wantErr: true},
		"empty is rejected too": {action: "", wantPlaying: true, wantErr: true},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			s := game.NewState("g1", 10)
			s.AssignTrack(domain.Track{MediaRef: "abc"})

			err := s.SetPlayback(tt.action)
			if tt.wantErr {
				assert.True(t, errors.IsCode(err, errors.CodeInvalidArgument))
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.wantPlaying, s.IsPlaying())
		})
	}
}

func TestState_SetTotalRounds(t *testing.T) {
	t.Parallel()

	s := game.NewState("g1", 1)
	ended, err := s.Advance()
	require.NoError(t, err)
	require.True(t, ended)

	assert.True(t, errors.IsCode(s.SetTotalRounds(0), errors.CodeInvalidArgument))
	assert.True(t, errors.IsCode(s.SetTotalRounds(-3), errors.CodeInvalidArgument))

	require.NoError(t, s.SetTotalRounds(5))
	assert.False(t, s.Ended(), "raising the cap reopens the game")
	current, total := s.Round()
	assert.Equal(t, 2, current)
	assert.Equal(t, 5, total)

	for i := 0; i < 3; i++ {
		_, err := s.Advance()
		require.NoError(t, err)
	}
	require.NoError(t, s.SetTotalRounds(2))
	current, _ = s.Round()
	assert.Equal(t, 3, current, "round never exceeds total+1")
	assert.True(t, s.Ended(), "lowering the cap below the round in play ends the game")
	assert.Equal(t, domain.PhaseEnded, s.Phase())

	_, err = s.Advance()
	assert.True(t, errors.IsCode(err, errors.CodeFailedPrecondition))
}

func TestState_RevealBetweenRounds(t *testing.T) {
	tests := map[string]struct {
		arrange func(s *game.State)
		assert  func(t *testing.T, s *game.State)
	}{
		"reveals the title of the round just played": {
			arrange: func(s *game.State) {
				s.AssignTrack(domain.Track{MediaRef: "abc", Title: "Song"})
				_, _ = s.Advance()
			},
			assert: func(t *testing.T, s *game.State) {
				assert.Equal(t, "Song", s.Reveal(nil))
				assert.Equal(t, domain.PhaseRevealed, s.Phase())
			},
		},
		"override replaces the previous title": {
			arrange: func(s *game.State) {
				s.AssignTrack(domain.Track{MediaRef: "abc", Title: "Song"})
				_, _ = s.Advance()
			},
			assert: func(t *testing.T, s *game.State) {
				title := "Song (Live)"
				assert.Equal(t, "Song (Live)", s.Reveal(&title))
				assert.Equal(t, "Song (Live)", s.Reveal(nil))
			},
		},
		"nothing to reveal before any track": {
			arrange: func(s *game.State) {},
			assert: func(t *testing.T, s *game.State) {
				assert.Equal(t, "", s.Reveal(nil))
			},
		},
		"reset forgets the previous title": {
			arrange: func(s *game.State) {
				s.AssignTrack(domain.Track{MediaRef: "abc", Title: "Song"})
				_, _ = s.Advance()
				s.Reset("g2")
			},
			assert: func(t *testing.T, s *game.State) {
				assert.Equal(t, "", s.Reveal(nil))
			},
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			s := game.NewState("g1", 5)
			tt.arrange(s)
			tt.assert(t, s)
		})
	}
}

func TestState_Reset(t *testing.T) {
	t.Parallel()

	s := game.NewState("g1", 1)
	s.AssignTrack(domain.Track{MediaRef: "abc", Title: "Song"})
	_ = s.Reveal(nil)
	_, _ = s.Advance()

	s.Reset("g2")

	snap := s.Snapshot(true)
	assert.Equal(t, domain.Snapshot{
		GameID:         "g2",
		HostConnected:  true,
		CurrentRound:   1,
		TotalRounds:    1,
		CorrectAnswers: []domain.CorrectAnswer{},
		Phase:          domain.PhaseIdle,
	}, snap)
}

func TestState_DefaultTotalRounds(t *testing.T) {
	t.Parallel()

	_, total := game.NewState("g1", 0).Round()
	assert.Equal(t, domain.DefaultTotalRounds, total)
}
