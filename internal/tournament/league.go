package tournament

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/mousetraptech/llmtourney/internal/config"
)

// League runs a round-robin tournament. Every model plays every other
// in each two-player event; multiplayer events seat the whole field
// for a configured number of rounds. Fixtures for different events run
// in parallel, one worker per event; fixtures within an event run in
// order so their seeds stay stable under resume.
type League struct {
	eng   *Engine
	store *ManifestStore
}

// NewLeague wires a league over an engine and its manifest store.
func NewLeague(eng *Engine, store *ManifestStore) *League {
	return &League{eng: eng, store: store}
}

// generateFixtures lays out the full schedule in deterministic order.
func generateFixtures(cfg *config.Config) []Fixture {
	models := cfg.ModelNames()
	var fixtures []Fixture
	for _, event := range cfg.Events {
		if event.Multiplayer {
			for r := 1; r <= event.Rounds; r++ {
				fixtures = append(fixtures, Fixture{
					ID:      MultiplayerMatchID(event.Name, r),
					Event:   event.Name,
					Players: append([]string(nil), models...),
					Round:   r,
					Status:  StatusPending,
				})
			}
			continue
		}
		k := 0
		for i := 0; i < len(models); i++ {
			for j := i + 1; j < len(models); j++ {
				k++
				fixtures = append(fixtures, Fixture{
					ID:      fmt.Sprintf("%s-%s-vs-%s", event.Name, models[i], models[j]),
					Event:   event.Name,
					Players: []string{models[i], models[j]},
					Round:   k,
					Status:  StatusPending,
				})
			}
		}
	}
	return fixtures
}

// Run plays (or resumes) the league and returns the final standings.
// A failed fixture is recorded and skipped; one bad match never takes
// down the tournament.
func (l *League) Run(ctx context.Context) ([]Standing, error) {
	cfg := l.eng.cfg
	if len(cfg.Models) < 2 {
		return nil, fmt.Errorf("league needs at least two models")
	}

	if err := l.prepare(); err != nil {
		return nil, err
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, event := range cfg.Events {
		event := event
		g.Go(func() error {
			return l.runEvent(gctx, event)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var standings []Standing
	err := l.store.Update(func(m *Manifest) {
		m.Status = StatusComplete
		m.Standings = ComputeStandings(m.Fixtures)
		standings = append([]Standing(nil), m.Standings...)
	})
	if err != nil {
		return nil, err
	}
	l.eng.slog.Infow("League complete",
		"tournament", cfg.Tournament.Name,
		"fixtures", len(l.store.Snapshot().Fixtures),
	)
	return standings, nil
}

// prepare loads an existing manifest for resume or writes a fresh one.
// Fixtures caught mid-flight by a crash go back to pending with their
// match ids cleared; completed results are trusted as-is.
func (l *League) prepare() error {
	cfg := l.eng.cfg
	found, err := l.store.Load()
	if err != nil {
		return err
	}

	if found {
		snap := l.store.Snapshot()
		if snap.Tournament != cfg.Tournament.Name {
			return fmt.Errorf("manifest %s belongs to tournament %q", l.store.Path(), snap.Tournament)
		}
		reset := 0
		err := l.store.Update(func(m *Manifest) {
			m.Status = StatusInProgress
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
		l.eng.slog.Infow("Resuming league",
			"tournament", cfg.Tournament.Name,
			"resetFixtures", reset,
		)
		return nil
	}

	return l.store.Update(func(m *Manifest) {
		m.Tournament = cfg.Tournament.Name
		m.Format = config.FormatLeague
		m.Seed = cfg.Tournament.Seed
		m.Status = StatusInProgress
		m.Fixtures = generateFixtures(cfg)
	})
}

// runEvent plays an event's remaining fixtures sequentially.
func (l *League) runEvent(ctx context.Context, event config.Event) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		f, ok, err := l.claimNext(event.Name)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}

		l.eng.runFixture(ctx, &f, f.Round)

		err = l.store.Update(func(m *Manifest) {
			setFixture(m, f.ID, func(dst *Fixture) {
				*dst = f
			})
			m.Standings = ComputeStandings(m.Fixtures)
		})
		if err != nil {
			return err
		}
	}
}

// claimNext marks the event's first pending fixture in_progress and
// assigns its match id.
func (l *League) claimNext(eventName string) (Fixture, bool, error) {
	var claimed Fixture
	found := false
	err := l.store.Update(func(m *Manifest) {
		for i := range m.Fixtures {
			f := &m.Fixtures[i]
			if f.Event != eventName || f.Status != StatusPending {
				continue
			}
			f.Status = StatusInProgress
			if f.MatchID == "" {
				if len(f.Players) == 2 {
					f.MatchID = NewMatchID(f.Event, f.Players[0], f.Players[1])
				} else {
					f.MatchID = f.ID
				}
			}
			claimed = *f
			claimed.Players = append([]string(nil), f.Players...)
			found = true
			return
		}
	})
	return claimed, found, err
}
