package matchmaking

import "sort"

// Participant is the presence record a queued player publishes.
type Participant struct {
	ID          string `json:"participantId"`
	DisplayName string `json:"displayName"`
	Rating      int    `json:"rating"`
	JoinedAt    int64  `json:"joinedAtEpochMillis"`
}

// Nearest picks the candidate whose rating is closest to self. Ties go to
// the earlier joiner, then to the lower id, so every member evaluating the
// same presence list makes the same choice. self is never returned.
func Nearest(self Participant, candidates []Participant) (Participant, bool) {
	var best Participant
	found := false
	for _, c := range candidates {
		if c.ID == self.ID || c.ID == "" {
			continue
		}
		if !found || closer(self, c, best) {
			best, found = c, true
		}
	}
	return best, found
}

func closer(self, a, b Participant) bool {
	da, db := distance(self.Rating, a.Rating), distance(self.Rating, b.Rating)
	if da != db {
		return da < db
	}
	if a.JoinedAt != b.JoinedAt {
		return a.JoinedAt < b.JoinedAt
	}
	return a.ID < b.ID
}

func distance(a, b int) int {
	if a > b {
		return a - b
	}
	return b - a
}

// SortByJoin orders participants by enqueue time, then id.
func SortByJoin(ps []Participant) {
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].JoinedAt != ps[j].JoinedAt {
			return ps[i].JoinedAt < ps[j].JoinedAt
		}
		return ps[i].ID < ps[j].ID
	})
}

type tier struct {
	min  int
	name string
}

var tiers = []tier{
	{2000, "Grandmaster"},
	{1800, "Diamond"},
	{1600, "Platinum"},
	{1400, "Gold"},
	{1200, "Silver"},
}

// RankName returns the display tier for a rating.
func RankName(rating int) string {
	for _, t := range tiers {
		if rating >= t.min {
			return t.name
		}
	}
	return "Bronze"
}
