package tournament

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/mousetraptech/llmtourney/internal/config"
)

// Bracket runs a single-elimination tournament. Each pairing plays
// every configured event; event wins (weighted) decide who advances.
type Bracket struct {
	eng   *Engine
	store *ManifestStore

	// PauseBeforeFinal, when set, is called once before the final
	// starts. The CLI uses it for an interactive gate.
	PauseBeforeFinal func()
}

// NewBracket wires a bracket over an engine and its manifest store.
func NewBracket(eng *Engine, store *ManifestStore) *Bracket {
	return &Bracket{eng: eng, store: store}
}

func validateBracket(models []string, eventCount int) error {
	n := len(models)
	if n < 2 || n&(n-1) != 0 {
		return fmt.Errorf("bracket needs a power-of-two model count, got %d", n)
	}
	if eventCount == 0 {
		return fmt.Errorf("bracket needs at least one event")
	}
	return nil
}

// pairings returns 1-based seed pairs for a bracket of n, arranged so
// the top seeds cannot meet before the final: (1,n), then the rest
// mirrored recursively.
func pairings(n int) [][2]int {
	if n == 2 {
		return [][2]int{{1, 2}}
	}
	prev := pairings(n / 2)
	out := make([][2]int, 0, n/2)
	for _, p := range prev {
		out = append(out, [2]int{p[0], n + 1 - p[0]}, [2]int{p[1], n + 1 - p[1]})
	}
	return out
}

func roundLabel(entrants int) string {
	switch entrants {
	case 2:
		return "FINAL"
	case 4:
		return "SEMIFINALS"
	case 8:
		return "QUARTERFINALS"
	}
	return fmt.Sprintf("ROUND OF %d", entrants)
}

// Run plays the bracket to a champion. Matches within a round run
// concurrently; rounds are sequential.
func (b *Bracket) Run(ctx context.Context) (string, error) {
	cfg := b.eng.cfg
	models := cfg.ModelNames()
	if err := validateBracket(models, len(cfg.Events)); err != nil {
		return "", err
	}

	if err := b.prepare(); err != nil {
		return "", err
	}

	entrants := make([]string, 0, len(models))
	for _, p := range pairings(len(models)) {
		entrants = append(entrants, models[p[0]-1], models[p[1]-1])
	}

	round := 1
	for len(entrants) > 1 {
		label := roundLabel(len(entrants))
		b.eng.slog.Infow("Round starting",
			"tournament", cfg.Tournament.Name,
			"round", label,
			"entrants", entrants,
		)
		if len(entrants) == 2 && b.PauseBeforeFinal != nil {
			b.PauseBeforeFinal()
		}

		if err := b.scheduleRound(entrants, round); err != nil {
			return "", err
		}

		winners := make([]string, len(entrants)/2)
		g, gctx := errgroup.WithContext(ctx)
		for i := 0; i < len(entrants); i += 2 {
			idx := i / 2
			pa, pb := entrants[i], entrants[i+1]
			r := round
			g.Go(func() error {
				w, err := b.playPairing(gctx, pa, pb, r, idx)
				if err != nil {
					return err
				}
				winners[idx] = w
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return "", err
		}
		entrants = winners
		round++
	}

	champion := entrants[0]
	err := b.store.Update(func(m *Manifest) {
		m.Status = StatusComplete
		m.Champion = champion
		m.Standings = ComputeStandings(m.Fixtures)
	})
	if err != nil {
		return "", err
	}
	b.eng.slog.Infow("Bracket complete",
		"tournament", cfg.Tournament.Name,
		"champion", champion,
	)
	return champion, nil
}

// prepare loads an existing manifest for resume or starts a fresh one.
// A fixture caught in_progress by a crash goes back to pending with its
// match id cleared; completed results are trusted and not replayed.
func (b *Bracket) prepare() error {
	cfg := b.eng.cfg
	found, err := b.store.Load()
	if err != nil {
		return err
	}

	if found {
		snap := b.store.Snapshot()
		if snap.Tournament != cfg.Tournament.Name {
			return fmt.Errorf("manifest %s belongs to tournament %q", b.store.Path(), snap.Tournament)
		}
		reset := 0
		err := b.store.Update(func(m *Manifest) {
			m.Status = StatusInProgress
			m.Champion = ""
			for i := range m.Fixtures {
				if m.Fixtures[i].Status == StatusInProgress {
					m.Fixtures[i].Status = StatusPending
					m.Fixtures[i].MatchID = ""
					reset++
				}
			}
		})
		if err != nil {
			return err
		}
		b.eng.slog.Infow("Resuming bracket",
			"tournament", cfg.Tournament.Name,
			"resetFixtures", reset,
		)
		return nil
	}

	return b.store.Update(func(m *Manifest) {
		m.Tournament = cfg.Tournament.Name
		m.Format = config.FormatBracket
		m.Seed = cfg.Tournament.Seed
		m.Status = StatusInProgress
	})
}

// scheduleRound pre-generates every fixture of the round, match ids
// included, and writes the manifest once before any match starts. A
// reader mid-round sees the whole round, not just the matches that
// happen to have begun. Fixtures already present from a resumed run
// are kept; only a crash-cleared match id is regenerated.
func (b *Bracket) scheduleRound(entrants []string, round int) error {
	return b.store.Update(func(m *Manifest) {
		for i := 0; i < len(entrants); i += 2 {
			pa, pb := entrants[i], entrants[i+1]
			for _, event := range b.eng.cfg.Events {
				id := bracketFixtureID(event.Name, pa, pb)
				if f := findFixture(m, id); f != nil {
					if f.MatchID == "" {
						f.MatchID = NewMatchID(event.Name, pa, pb)
					}
					continue
				}
				m.Fixtures = append(m.Fixtures, Fixture{
					ID:      id,
					Event:   event.Name,
					Players: []string{pa, pb},
					Round:   round,
					Status:  StatusPending,
					MatchID: NewMatchID(event.Name, pa, pb),
				})
			}
		}
	})
}

func bracketFixtureID(event, pa, pb string) string {
	return fmt.Sprintf("%s-%s-vs-%s", event, pa, pb)
}

// playPairing plays every event between two entrants and returns who
// advances. Event wins score the event's weight, draws half of it.
// Ties break by fewer total violations, then the higher seed.
func (b *Bracket) playPairing(ctx context.Context, pa, pb string, round, matchIdx int) (string, error) {
	points := map[string]float64{pa: 0, pb: 0}
	violations := map[string]int{pa: 0, pb: 0}

	for _, event := range b.eng.cfg.Events {
		id := bracketFixtureID(event.Name, pa, pb)

		var fx Fixture
		done := false
		err := b.store.Update(func(m *Manifest) {
			f := findFixture(m, id)
			if f.Status == StatusComplete {
				fx, done = *f, true
				return
			}
			f.Status = StatusInProgress
			fx = *f
		})
		if err != nil {
			return "", err
		}

		if !done {
			sum, err := b.eng.RunMatch(ctx, event, []string{pa, pb}, round, matchIdx, fx.MatchID)
			if err != nil {
				uerr := b.store.Update(func(m *Manifest) {
					setFixture(m, id, func(f *Fixture) {
						f.Status = StatusError
						f.Error = err.Error()
					})
				})
				if uerr != nil {
					return "", uerr
				}
				return "", fmt.Errorf("bracket match %s: %w", fx.MatchID, err)
			}

			fx.Winner = sum.Winner
			fx.Scores = sum.Scores
			fx.Fidelity = sum.Fidelity
			err = b.store.Update(func(m *Manifest) {
				setFixture(m, id, func(f *Fixture) {
					f.Status = StatusComplete
					f.Winner = fx.Winner
					f.Scores = fx.Scores
					f.Fidelity = fx.Fidelity
				})
			})
			if err != nil {
				return "", err
			}
		}

		w := float64(event.Weight)
		switch fx.Winner {
		case pa:
			points[pa] += w
		case pb:
			points[pb] += w
		default:
			points[pa] += w / 2
			points[pb] += w / 2
		}
		for p, f := range fx.Fidelity {
			violations[p] += f["total_violations"]
		}
	}

	switch {
	case points[pa] > points[pb]:
		return pa, nil
	case points[pb] > points[pa]:
		return pb, nil
	case violations[pa] < violations[pb]:
		return pa, nil
	case violations[pb] < violations[pa]:
		return pb, nil
	}
	// Dead even: the higher seed advances. Entrant order within a
	// pairing already puts the higher seed first.
	return pa, nil
}

func findFixture(m *Manifest, id string) *Fixture {
	for i := range m.Fixtures {
		if m.Fixtures[i].ID == id {
			return &m.Fixtures[i]
		}
	}
	return nil
}

func setFixture(m *Manifest, id string, fn func(*Fixture)) {
	for i := range m.Fixtures {
		if m.Fixtures[i].ID == id {
			fn(&m.Fixtures[i])
			return
		}
	}
}
