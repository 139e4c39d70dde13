// Package turnloop drives one match: prompt, query, parse, rule, apply.
//
// The loop owns the interaction between the engine, the adapters, the
// referee and telemetry. It never interprets game rules itself; it
// routes model output through the parser and the engine's validator,
// and applies whatever the referee rules. Every attempted action, legal
// or not, lands in the JSONL log before the loop proceeds.
package turnloop

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mousetraptech/llmtourney/internal/adapter"
	"github.com/mousetraptech/llmtourney/internal/game"
	"github.com/mousetraptech/llmtourney/internal/parse"
	"github.com/mousetraptech/llmtourney/internal/referee"
	"github.com/mousetraptech/llmtourney/internal/telemetry"
)

// DefaultStuckLoopLimit is how many times the same prompt may repeat
// for a player before the match is stopped as stuck.
const DefaultStuckLoopLimit = 3

// Seat binds a player to a model and its adapter plus per-player caps.
type Seat struct {
	Model        string
	ModelVersion string
	Adapter      adapter.Adapter
	MaxTokens    int
	Timeout      time.Duration
	ShotClock    time.Duration // 0 disables the per-turn clock
}

// Config wires one match.
type Config struct {
	MatchID        string
	Event          string
	Seed           int64
	Engine         game.Engine
	Seats          map[string]Seat
	SeedOrder      []string // players strongest-first, breaks final ties
	Referee        *referee.Referee
	Telemetry      *telemetry.Logger
	Logger         *zap.Logger
	StuckLoopLimit int
	EngineVersion  string
	PromptVersion  string
}

// Runner executes a match to completion.
type Runner struct {
	cfg    Config
	logger *zap.SugaredLogger

	lastPrompt  map[string]string
	promptCount map[string]int
	turnNumber  int
}

// New builds a runner. The engine must not have been reset yet.
func New(cfg Config) *Runner {
	if cfg.StuckLoopLimit <= 0 {
		cfg.StuckLoopLimit = DefaultStuckLoopLimit
	}
	return &Runner{
		cfg:         cfg,
		logger:      cfg.Logger.Sugar(),
		lastPrompt:  make(map[string]string),
		promptCount: make(map[string]int),
	}
}

// Run plays the match and returns its summary. The summary has already
// been written to telemetry when Run returns.
func (r *Runner) Run(ctx context.Context) (telemetry.MatchSummary, error) {
	start := time.Now()
	eng := r.cfg.Engine
	eng.Reset(r.cfg.Seed)

	r.logger.Infow("Match started",
		"matchId", r.cfg.MatchID,
		"event", r.cfg.Event,
		"seed", r.cfg.Seed,
		"players", len(r.cfg.Seats),
	)

	winReason := "played"
	for !eng.IsTerminal() {
		if err := ctx.Err(); err != nil {
			return telemetry.MatchSummary{}, fmt.Errorf("match %s interrupted: %w", r.cfg.MatchID, err)
		}
		player := eng.CurrentPlayer()
		if player == "" {
			break
		}
		stopped, reason, err := r.playTurn(ctx, player)
		if err != nil {
			return telemetry.MatchSummary{}, err
		}
		if stopped {
			winReason = reason
			break
		}
	}

	sum := r.buildSummary(winReason, time.Since(start))
	if err := r.cfg.Telemetry.LogSummary(sum); err != nil {
		return telemetry.MatchSummary{}, err
	}
	r.logger.Infow("Match finished",
		"matchId", r.cfg.MatchID,
		"winner", sum.Winner,
		"reason", sum.WinReason,
		"turns", sum.Turns,
		"duration", sum.DurationS,
	)
	return sum, nil
}

// playTurn runs one player's turn including retries. It returns
// stopped=true when the match ended by forfeit or a stuck loop.
func (r *Runner) playTurn(ctx context.Context, player string) (stopped bool, reason string, err error) {
	eng := r.cfg.Engine
	seat := r.cfg.Seats[player]
	r.cfg.Referee.NewTurn()
	r.turnNumber++

	prompt := eng.Prompt(player)
	hand, street := phase(eng.Snapshot())

	// A prompt repeating verbatim means the engine is not advancing:
	// forfeits keep landing the same player in the same state. Stop
	// the match rather than burn tokens forever.
	if prompt == r.lastPrompt[player] {
		r.promptCount[player]++
		if r.promptCount[player] >= r.cfg.StuckLoopLimit {
			r.logger.Warnw("Stuck loop detected, forcing match forfeit",
				"matchId", r.cfg.MatchID,
				"player", player,
				"repeats", r.promptCount[player],
			)
			eng.ForceForfeitMatch(player)
			eng.AwardForfeitWins(player)
			rec := telemetry.TurnRecord{
				TurnNumber:       r.turnNumber,
				HandNumber:       hand,
				Street:           street,
				PlayerID:         player,
				ModelID:          seat.Model,
				Prompt:           prompt,
				ValidationResult: "stuck_loop",
				Ruling:           string(referee.RulingForfeitMatch),
				StateSnapshot:    eng.Snapshot(),
				EngineVersion:    r.cfg.EngineVersion,
				PromptVersion:    r.cfg.PromptVersion,
			}
			if lerr := r.cfg.Telemetry.LogTurn(rec); lerr != nil {
				return false, "", lerr
			}
			return true, "stuck_loop", nil
		}
	} else {
		r.lastPrompt[player] = prompt
		r.promptCount[player] = 0
	}

	var clockDeadline time.Time
	if seat.ShotClock > 0 {
		clockDeadline = time.Now().Add(seat.ShotClock)
	}

	for {
		resp, qerr := r.query(ctx, seat, prompt, clockDeadline)

		var violation referee.ViolationKind
		var details string
		rec := telemetry.TurnRecord{
			TurnNumber:      r.turnNumber,
			HandNumber:      hand,
			Street:          street,
			PlayerID:        player,
			ModelID:         seat.Model,
			ModelVersion:    resp.ModelVersion,
			Prompt:          prompt,
			RawOutput:       resp.RawText,
			ReasoningOutput: resp.ReasoningText,
			InputTokens:     resp.InputTokens,
			OutputTokens:    resp.OutputTokens,
			LatencyMS:       resp.LatencyMS,
			EngineVersion:   r.cfg.EngineVersion,
			PromptVersion:   r.cfg.PromptVersion,
		}
		if seat.ShotClock > 0 {
			rec.ShotClockMS = seat.ShotClock.Milliseconds()
		}

		if qerr != nil {
			violation, details = classifyAdapterError(qerr)
			if !clockDeadline.IsZero() && violation == referee.ViolationTimeout && time.Now().After(clockDeadline) {
				rec.ShotClockExpired = true
			}
		} else {
			res := parse.Parse(resp.RawText, eng.ActionSchema())
			rec.ParseSuccess = res.Success
			rec.ParsedAction = res.Action

			if res.InjectionDetected {
				// Recorded for conduct tracking. The action still
				// plays if otherwise valid.
				r.cfg.Referee.RecordViolation(player, referee.ViolationInjectionAttempt, "injection pattern in output")
			}

			if !res.Success {
				violation, details = referee.ViolationMalformedJSON, res.Err
			} else {
				vr := eng.ValidateAction(player, res.Action)
				if vr.Legal {
					rec.ValidationResult = "legal"
					eng.ApplyAction(player, res.Action)
					rec.StateSnapshot = eng.Snapshot()
					return false, "", r.cfg.Telemetry.LogTurn(rec)
				}
				rec.ValidationResult = vr.Reason
				violation, details = referee.ViolationIllegalMove, vr.Reason
			}
		}

		ruling := r.cfg.Referee.RecordViolation(player, violation, details)
		rec.Violation = string(violation)
		rec.Ruling = string(ruling)
		if err := r.cfg.Telemetry.LogTurn(rec); err != nil {
			return false, "", err
		}
		r.logger.Warnw("Violation recorded",
			"matchId", r.cfg.MatchID,
			"player", player,
			"violation", violation,
			"ruling", ruling,
			"details", details,
		)

		if ruling == referee.RulingRetry {
			prompt = eng.RetryPrompt(player, details)
			continue
		}
		return r.forfeitTurn(player, violation)
	}
}

// forfeitTurn applies a turn forfeit and any escalation it triggers.
func (r *Runner) forfeitTurn(player string, kind referee.ViolationKind) (bool, string, error) {
	eng := r.cfg.Engine
	switch r.cfg.Referee.RecordTurnForfeit(player, kind) {
	case referee.RulingForfeitMatch:
		r.logger.Warnw("Match forfeited",
			"matchId", r.cfg.MatchID,
			"player", player,
			"strikes", r.cfg.Referee.Strikes(player),
		)
		eng.ForceForfeitMatch(player)
		eng.AwardForfeitWins(player)
		return true, "forfeit", nil
	case referee.RulingEliminatePlayer:
		r.logger.Warnw("Player eliminated",
			"matchId", r.cfg.MatchID,
			"player", player,
			"strikes", r.cfg.Referee.Strikes(player),
		)
		eng.EliminatePlayer(player)
		return false, "", nil
	default:
		eng.ForfeitTurn(player)
		return false, "", nil
	}
}

// query calls the seat's adapter under the per-request timeout, capped
// by the remaining shot clock.
func (r *Runner) query(ctx context.Context, seat Seat, prompt string, clockDeadline time.Time) (adapter.Response, error) {
	timeout := seat.Timeout
	if !clockDeadline.IsZero() {
		remaining := time.Until(clockDeadline)
		if remaining <= 0 {
			return adapter.Response{}, &adapter.Error{
				Kind:    adapter.ErrTimeout,
				ModelID: seat.Model,
				Details: "shot clock expired",
			}
		}
		if timeout == 0 || remaining < timeout {
			timeout = remaining
		}
	}

	return seat.Adapter.Query(ctx, []adapter.Message{{Role: "user", Content: prompt}}, adapter.QueryOptions{
		MaxTokens: seat.MaxTokens,
		Timeout:   timeout,
		Meta: map[string]any{
			"match_id": r.cfg.MatchID,
			"event":    r.cfg.Event,
			"seed":     r.cfg.Seed,
			"turn":     r.turnNumber,
		},
	})
}

// phase reads the optional "hand" and "street" snapshot keys so games
// that deal in hands and betting streets land those columns in
// telemetry. Engines without them leave the fields zero.
func phase(snap map[string]any) (hand int, street string) {
	switch h := snap["hand"].(type) {
	case int:
		hand = h
	case float64:
		hand = int(h)
	}
	street, _ = snap["street"].(string)
	return hand, street
}

func classifyAdapterError(err error) (referee.ViolationKind, string) {
	if aerr, ok := err.(*adapter.Error); ok {
		switch aerr.Kind {
		case adapter.ErrTimeout:
			return referee.ViolationTimeout, aerr.Details
		case adapter.ErrEmptyResponse:
			return referee.ViolationEmptyResponse, aerr.Details
		}
		return referee.ViolationTimeout, aerr.Details
	}
	return referee.ViolationTimeout, err.Error()
}

// buildSummary assembles the final record, resolving the winner by
// score, then fewest violations, then seed order.
func (r *Runner) buildSummary(winReason string, elapsed time.Duration) telemetry.MatchSummary {
	eng := r.cfg.Engine
	players := eng.PlayerIDs()
	scores := eng.Scores()

	models := make(map[string]string, len(r.cfg.Seats))
	for p, s := range r.cfg.Seats {
		models[p] = s.Model
	}

	var eliminated []string
	for _, p := range players {
		if r.cfg.Referee.Eliminated(p) {
			eliminated = append(eliminated, p)
		}
	}

	return telemetry.MatchSummary{
		Event:      r.cfg.Event,
		Players:    players,
		Models:     models,
		Scores:     scores,
		Winner:     r.resolveWinner(players, scores),
		WinReason:  winReason,
		Turns:      r.turnNumber,
		Fidelity:   r.cfg.Referee.FidelityReport(players),
		MatchSeed:  r.cfg.Seed,
		DurationS:  elapsed.Seconds(),
		Eliminated: eliminated,
	}
}

func (r *Runner) resolveWinner(players []string, scores map[string]float64) string {
	order := r.cfg.SeedOrder
	if len(order) == 0 {
		order = players
	}
	best := ""
	for _, p := range order {
		if _, ok := scores[p]; !ok {
			continue
		}
		if best == "" {
			best = p
			continue
		}
		switch {
		case scores[p] > scores[best]:
			best = p
		case scores[p] == scores[best] &&
			r.cfg.Referee.ViolationCount(p) < r.cfg.Referee.ViolationCount(best):
			best = p
		}
	}
	return best
}
