package game

import (
	"strings"

	"github.com/victornm/songquiz/internal/domain"
	"github.com/victornm/songquiz/internal/errors"
)

// Registry tracks the host connection and the joined players.
// Players keep their join order, which breaks leaderboard ties.
type Registry struct {
	hostID  string
	players map[string]*domain.Player
	order   []string
}

func NewRegistry() *Registry {
	return &Registry{
		players: make(map[string]*domain.Player),
	}
}

// RegisterHost makes connID the host. The last caller wins.
func (r *Registry) RegisterHost(connID string) {
	r.hostID = connID
}

// RegisterPlayer adds connID as a player with a zero score. A second join from the
// same connection replaces the entry but keeps its position.
func (r *Registry) RegisterPlayer(connID, name string) (domain.Player, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Player{}, errors.Validation("player name is required")
	}

	p := &domain.Player{ID: connID, Name: name}
	if _, ok := r.players[connID]; !ok {
		r.order = append(r.order, connID)
	}
	r.players[connID] = p

	return *p, nil
}

// Remove forgets connID. It is safe to call for unknown ids.
func (r *Registry) Remove(connID string) (wasPlayer, wasHost bool) {
	if r.hostID != "" && r.hostID == connID {
		r.hostID = ""
		wasHost = true
	}

	if _, ok := r.players[connID]; ok {
		delete(r.players, connID)
		for i, id := range r.order {
			if id == connID {
				r.order = append(r.order[:i], r.order[i+1:]...)
				break
			}
		}
		wasPlayer = true
	}

	return wasPlayer, wasHost
}

func (r *Registry) HostID() string { return r.hostID }

func (r *Registry) HasHost() bool { return r.hostID != "" }

func (r *Registry) IsHost(connID string) bool {
	return r.hostID != "" && r.hostID == connID
}

func (r *Registry) Player(connID string) (domain.Player, bool) {
	p, ok := r.players[connID]
	if !ok {
		return domain.Player{}, false
	}
	return *p, true
}

// Players returns a copy of all players in join order.
func (r *Registry) Players() []domain.Player {
	ps := make([]domain.Player, 0, len(r.order))
	for _, id := range r.order {
		ps = append(ps, *r.players[id])
	}
	return ps
}

func (r *Registry) Len() int { return len(r.order) }

// AddScore increases the player's score and returns the new total.
func (r *Registry) AddScore(connID string, points int) (int, error) {
	p, ok := r.players[connID]
	if !ok {
		return 0, errors.NotFound("player not found: %s", connID)
	}
	if points < 0 {
		return p.Score, errors.Validation("points must not be negative: %d", points)
	}

	p.Score += points
	return p.Score, nil
}

func (r *Registry) ResetScores() {
	for _, p := range r.players {
		p.Score = 0
	}
}
