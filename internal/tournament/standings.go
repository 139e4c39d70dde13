package tournament

import "sort"

// League points for two-player results.
const (
	pointsWin  = 3.0
	pointsDraw = 1.0
)

// Standing is one model's row in the league table.
type Standing struct {
	Model        string  `json:"model"`
	Played       int     `json:"played"`
	Wins         int     `json:"wins"`
	Draws        int     `json:"draws"`
	Losses       int     `json:"losses"`
	LeaguePoints float64 `json:"league_points"`
	ScoreFor     float64 `json:"score_for"`
	ScoreAgainst float64 `json:"score_against"`
	Differential float64 `json:"differential"`
}

// ComputeStandings aggregates completed fixtures into a sorted table.
// Two-player fixtures score 3/1/0. Multiplayer fixtures award
// positional points: N down to 1 by finishing order, with tied
// positions sharing the average of the points they span.
func ComputeStandings(fixtures []Fixture) []Standing {
	rows := make(map[string]*Standing)
	row := func(model string) *Standing {
		r, ok := rows[model]
		if !ok {
			r = &Standing{Model: model}
			rows[model] = r
		}
		return r
	}

	for _, f := range fixtures {
		if f.Status != StatusComplete {
			continue
		}
		if len(f.Players) == 2 {
			scoreTwoPlayer(f, row)
		} else {
			scoreMultiplayer(f, row)
		}
	}

	out := make([]Standing, 0, len(rows))
	for _, r := range rows {
		r.Differential = r.ScoreFor - r.ScoreAgainst
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.LeaguePoints != b.LeaguePoints {
			return a.LeaguePoints > b.LeaguePoints
		}
		if a.Differential != b.Differential {
			return a.Differential > b.Differential
		}
		if a.Wins != b.Wins {
			return a.Wins > b.Wins
		}
		return a.Model < b.Model
	})
	return out
}

func scoreTwoPlayer(f Fixture, row func(string) *Standing) {
	a, b := f.Players[0], f.Players[1]
	ra, rb := row(a), row(b)
	ra.Played++
	rb.Played++
	ra.ScoreFor += f.Scores[a]
	ra.ScoreAgainst += f.Scores[b]
	rb.ScoreFor += f.Scores[b]
	rb.ScoreAgainst += f.Scores[a]

	switch f.Winner {
	case a:
		ra.Wins++
		ra.LeaguePoints += pointsWin
		rb.Losses++
	case b:
		rb.Wins++
		rb.LeaguePoints += pointsWin
		ra.Losses++
	default:
		ra.Draws++
		rb.Draws++
		ra.LeaguePoints += pointsDraw
		rb.LeaguePoints += pointsDraw
	}
}

func scoreMultiplayer(f Fixture, row func(string) *Standing) {
	n := len(f.Players)
	// Order players by fixture score, best first.
	order := append([]string(nil), f.Players...)
	sort.SliceStable(order, func(i, j int) bool {
		return f.Scores[order[i]] > f.Scores[order[j]]
	})

	total := 0.0
	for _, p := range order {
		r := row(p)
		r.Played++
		r.ScoreFor += f.Scores[p]
		total += f.Scores[p]
	}
	for _, p := range order {
		row(p).ScoreAgainst += total - f.Scores[p]
	}

	// Positional points with averaged ties.
	for i := 0; i < n; {
		j := i
		for j+1 < n && f.Scores[order[j+1]] == f.Scores[order[i]] {
			j++
		}
		// Positions i..j share the average of (n-i) .. (n-j).
		avg := float64((n-i)+(n-j)) / 2.0
		for k := i; k <= j; k++ {
			row(order[k]).LeaguePoints += avg
		}
		switch {
		case i == 0 && j == 0:
			row(order[0]).Wins++
		case i == 0:
			// Shared first place counts as a draw for everyone in it.
			for k := i; k <= j; k++ {
				row(order[k]).Draws++
			}
		default:
			for k := i; k <= j; k++ {
				row(order[k]).Losses++
			}
		}
		i = j + 1
	}
}
