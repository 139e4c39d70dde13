package tournament

import "testing"

func completeFixture(players []string, scores map[string]float64, winner string) Fixture {
	return Fixture{
		ID:      "f",
		Event:   "ev",
		Players: players,
		Status:  StatusComplete,
		Scores:  scores,
		Winner:  winner,
	}
}

func TestStandingsThreeOneZero(t *testing.T) {
	fixtures := []Fixture{
		completeFixture([]string{"a", "b"}, map[string]float64{"a": 10, "b": 4}, "a"),
		completeFixture([]string{"a", "c"}, map[string]float64{"a": 6, "c": 6}, ""),
		completeFixture([]string{"b", "c"}, map[string]float64{"b": 2, "c": 9}, "c"),
	}

	rows := ComputeStandings(fixtures)
	byModel := map[string]Standing{}
	for _, r := range rows {
		byModel[r.Model] = r
	}

	if byModel["a"].LeaguePoints != 4 { // win + draw
		t.Errorf("a points = %v, want 4", byModel["a"].LeaguePoints)
	}
	if byModel["c"].LeaguePoints != 4 { // draw + win
		t.Errorf("c points = %v, want 4", byModel["c"].LeaguePoints)
	}
	if byModel["b"].LeaguePoints != 0 {
		t.Errorf("b points = %v, want 0", byModel["b"].LeaguePoints)
	}
	if byModel["b"].Losses != 2 || byModel["a"].Wins != 1 || byModel["a"].Draws != 1 {
		t.Errorf("w/d/l wrong: %+v", byModel)
	}
}

func TestStandingsSortOrder(t *testing.T) {
	// a and c tie on points (4 each); a has the better differential.
	fixtures := []Fixture{
		completeFixture([]string{"a", "b"}, map[string]float64{"a": 10, "b": 0}, "a"),
		completeFixture([]string{"a", "c"}, map[string]float64{"a": 5, "c": 5}, ""),
		completeFixture([]string{"b", "c"}, map[string]float64{"b": 3, "c": 8}, "c"),
	}

	rows := ComputeStandings(fixtures)
	if rows[0].Model != "a" {
		t.Errorf("first = %q (diff %v), want a", rows[0].Model, rows[0].Differential)
	}
	if rows[1].Model != "c" || rows[2].Model != "b" {
		t.Errorf("order = %q, %q", rows[1].Model, rows[2].Model)
	}
}

func TestStandingsIgnoreUnfinishedFixtures(t *testing.T) {
	fixtures := []Fixture{
		{ID: "pend", Players: []string{"a", "b"}, Status: StatusPending},
		{ID: "err", Players: []string{"a", "b"}, Status: StatusError},
	}
	if rows := ComputeStandings(fixtures); len(rows) != 0 {
		t.Errorf("rows = %v, want none", rows)
	}
}

func TestStandingsMultiplayerPositional(t *testing.T) {
	fixtures := []Fixture{
		completeFixture([]string{"a", "b", "c", "d"},
			map[string]float64{"a": 30, "b": 20, "c": 20, "d": 5}, "a"),
	}

	rows := ComputeStandings(fixtures)
	byModel := map[string]Standing{}
	for _, r := range rows {
		byModel[r.Model] = r
	}

	// Positions: a first (4 pts), b/c tied for 2nd-3rd ((3+2)/2 each),
	// d last (1).
	if byModel["a"].LeaguePoints != 4 {
		t.Errorf("a points = %v, want 4", byModel["a"].LeaguePoints)
	}
	if byModel["b"].LeaguePoints != 2.5 || byModel["c"].LeaguePoints != 2.5 {
		t.Errorf("b/c points = %v/%v, want 2.5 each", byModel["b"].LeaguePoints, byModel["c"].LeaguePoints)
	}
	if byModel["d"].LeaguePoints != 1 {
		t.Errorf("d points = %v, want 1", byModel["d"].LeaguePoints)
	}
	if byModel["a"].Wins != 1 || byModel["d"].Losses != 1 {
		t.Errorf("w/l: %+v", byModel)
	}
}
