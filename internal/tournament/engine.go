// Package tournament orchestrates brackets and leagues over the turn
// loop: it builds adapters from config, derives per-match seeds,
// schedules fixtures and keeps the on-disk manifest current.
package tournament

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mousetraptech/llmtourney/internal/adapter"
	"github.com/mousetraptech/llmtourney/internal/config"
	"github.com/mousetraptech/llmtourney/internal/game"
	"github.com/mousetraptech/llmtourney/internal/referee"
	"github.com/mousetraptech/llmtourney/internal/seed"
	"github.com/mousetraptech/llmtourney/internal/telemetry"
	"github.com/mousetraptech/llmtourney/internal/turnloop"
)

// EngineFactory builds a fresh game engine for one match. Engines are
// single-use: one per match, reset with the match seed by the runner.
type EngineFactory func(event config.Event, players []string) (game.Engine, error)

// strategies is the registry mock adapters draw from.
var strategies = map[string]adapter.Strategy{
	"steady": func(messages []adapter.Message, meta map[string]any) string {
		return `{"move": "advance"}`
	},
	"chatty": func(messages []adapter.Message, meta map[string]any) string {
		return "Let me think about this position.\n```json\n{\"move\": \"advance\"}\n```"
	},
	"silent": func(messages []adapter.Message, meta map[string]any) string {
		return ""
	},
}

// RegisterStrategy adds a named mock strategy. Call before NewEngine.
func RegisterStrategy(name string, s adapter.Strategy) {
	strategies[name] = s
}

// Engine owns everything shared across a tournament's matches.
type Engine struct {
	cfg       *config.Config
	seeds     *seed.Manager
	adapters  map[string]adapter.Adapter // model name -> adapter
	factory   EngineFactory
	forwarder telemetry.Forwarder
	logger    *zap.Logger
	slog      *zap.SugaredLogger

	telemetryDir string
}

// NewEngine validates the config's models and builds their adapters.
// A provider whose API key environment variable is unset fails here,
// before any match starts.
func NewEngine(cfg *config.Config, factory EngineFactory, fwd telemetry.Forwarder, logger *zap.Logger) (*Engine, error) {
	adapters := make(map[string]adapter.Adapter, len(cfg.Models))
	for _, m := range cfg.Models {
		a, err := buildAdapter(m)
		if err != nil {
			return nil, fmt.Errorf("model %q: %w", m.Name, err)
		}
		adapters[m.Name] = a
	}

	dir := filepath.Join(cfg.OutputDir, "telemetry")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create telemetry dir: %w", err)
	}

	return &Engine{
		cfg:          cfg,
		seeds:        seed.NewManager(cfg.Tournament.Seed),
		adapters:     adapters,
		factory:      factory,
		forwarder:    fwd,
		logger:       logger,
		slog:         logger.Sugar(),
		telemetryDir: dir,
	}, nil
}

// TelemetryDir returns where match JSONL files land.
func (e *Engine) TelemetryDir() string {
	return e.telemetryDir
}

func buildAdapter(m config.Model) (adapter.Adapter, error) {
	switch m.Provider {
	case "mock":
		s, ok := strategies[m.Strategy]
		if !ok {
			return nil, fmt.Errorf("unknown mock strategy %q", m.Strategy)
		}
		return adapter.NewMock(m.Name, s), nil

	case "anthropic":
		key, err := apiKey(m, "ANTHROPIC_API_KEY")
		if err != nil {
			return nil, err
		}
		return adapter.NewAnthropic(m.ModelID, key, m.Temperature), nil

	case "openai":
		key, err := apiKey(m, "OPENAI_API_KEY")
		if err != nil {
			return nil, err
		}
		return adapter.NewOpenAI(adapter.OpenAIConfig{
			ModelID:     m.ModelID,
			APIKey:      key,
			BaseURL:     m.BaseURL,
			Temperature: m.Temperature,
		}), nil

	case "openrouter":
		key, err := apiKey(m, "OPENROUTER_API_KEY")
		if err != nil {
			return nil, err
		}
		return adapter.NewOpenRouter(m.ModelID, key, m.Temperature, m.SiteURL, m.AppName), nil
	}
	return nil, fmt.Errorf("unknown provider %q", m.Provider)
}

func apiKey(m config.Model, defaultEnv string) (string, error) {
	env := m.APIKeyEnv
	if env == "" {
		env = defaultEnv
	}
	return config.GetEnvRequired(env)
}

// NewMatchID builds a two-player match id with a random hex suffix so
// reruns never collide in the external store.
func NewMatchID(event, playerA, playerB string) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
	return fmt.Sprintf("%s-%s-vs-%s-%s", event, playerA, playerB, suffix)
}

// MultiplayerMatchID builds the id for a whole-field round.
func MultiplayerMatchID(event string, round int) string {
	return fmt.Sprintf("%s-round-%d", event, round)
}

// RunMatch plays one match between the given players and returns its
// summary. The match seed is derived from (event, round, matchIdx), so
// replays of the same slot are identical modulo latency and the id
// suffix.
func (e *Engine) RunMatch(ctx context.Context, event config.Event, players []string, round, matchIdx int, matchID string) (telemetry.MatchSummary, error) {
	eng, err := e.factory(event, players)
	if err != nil {
		return telemetry.MatchSummary{}, fmt.Errorf("build engine for %s: %w", matchID, err)
	}

	tlog, err := telemetry.NewLogger(e.telemetryDir, matchID, e.forwarder)
	if err != nil {
		return telemetry.MatchSummary{}, err
	}
	defer tlog.Close()

	seats := make(map[string]turnloop.Seat, len(players))
	for _, p := range players {
		m, ok := e.cfg.ModelByName(p)
		if !ok {
			return telemetry.MatchSummary{}, fmt.Errorf("match %s: unknown model %q", matchID, p)
		}
		st := turnloop.Seat{
			Model:     m.Name,
			Adapter:   e.adapters[p],
			MaxTokens: m.MaxOutputTokens,
			Timeout:   m.Timeout(),
		}
		if e.cfg.ShotClock != nil {
			st.ShotClock = e.cfg.ShotClock.LimitFor(p)
		}
		seats[p] = st
	}

	refCfg := referee.Config{NumPlayers: len(players)}
	if fe := e.cfg.ForfeitEscalation; fe != nil {
		refCfg.TurnForfeitThreshold = fe.TurnForfeitThreshold
		refCfg.MatchForfeitThreshold = fe.MatchForfeitThreshold
		refCfg.MatchForfeitScaling = fe.MatchForfeitScaling
		for _, k := range fe.StrikeViolations {
			refCfg.StrikeViolations = append(refCfg.StrikeViolations, referee.ViolationKind(k))
		}
	}

	runner := turnloop.New(turnloop.Config{
		MatchID:       matchID,
		Event:         event.Name,
		Seed:          e.seeds.MatchSeed(event.Name, round, matchIdx),
		Engine:        eng,
		Seats:         seats,
		SeedOrder:     e.seedOrder(players),
		Referee:       referee.New(refCfg),
		Telemetry:     tlog,
		Logger:        e.logger,
		EngineVersion: e.cfg.Tournament.Version,
	})
	return runner.Run(ctx)
}

// seedOrder filters the config's model order down to this match's
// players, keeping favorites first for tiebreaks.
func (e *Engine) seedOrder(players []string) []string {
	in := make(map[string]bool, len(players))
	for _, p := range players {
		in[p] = true
	}
	var out []string
	for _, name := range e.cfg.ModelNames() {
		if in[name] {
			out = append(out, name)
		}
	}
	return out
}

// runFixture executes one fixture, already marked in_progress by the
// caller, and fills in its result fields.
func (e *Engine) runFixture(ctx context.Context, f *Fixture, matchIdx int) {
	event, ok := e.cfg.EventByName(f.Event)
	if !ok {
		f.Status = StatusError
		f.Error = fmt.Sprintf("unknown event %q", f.Event)
		return
	}

	start := time.Now()
	sum, err := e.RunMatch(ctx, event, f.Players, f.Round, matchIdx, f.MatchID)
	if err != nil {
		f.Status = StatusError
		f.Error = err.Error()
		e.slog.Errorw("Fixture failed",
			"fixture", f.ID,
			"matchId", f.MatchID,
			"error", err,
		)
		return
	}

	f.Status = StatusComplete
	f.Winner = sum.Winner
	f.Scores = sum.Scores
	f.Fidelity = sum.Fidelity
	e.slog.Infow("Fixture complete",
		"fixture", f.ID,
		"matchId", f.MatchID,
		"winner", sum.Winner,
		"duration", time.Since(start),
	)
}
