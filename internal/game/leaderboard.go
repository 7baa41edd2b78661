package game

import (
	"cmp"
	"slices"

	"github.com/victornm/songquiz/internal/domain"
)

// Project ranks players by score, highest first. Equal scores keep their input
// order and still get distinct ranks, so ranks are always exactly 1..N.
func Project(players []domain.Player) domain.Leaderboard {
	sorted := slices.Clone(players)
	slices.SortStableFunc(sorted, func(a, b domain.Player) int {
		return cmp.Compare(b.Score, a.Score)
	})

	lb := make(domain.Leaderboard, 0, len(sorted))
	for i, p := range sorted {
		lb = append(lb, domain.LeaderboardEntry{
			PlayerID: p.ID,
			Name:     p.Name,
			Score:    p.Score,
			Rank:     i + 1,
		})
	}
	return lb
}
