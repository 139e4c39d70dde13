// Package referee tracks rule violations and issues rulings.
//
// The referee is pure bookkeeping: it never touches game state. The
// turn loop reports violations and turn forfeits; the referee answers
// with a ruling the loop then applies through the engine.
package referee

// ViolationKind classifies what a player did wrong.
type ViolationKind string

const (
	ViolationMalformedJSON    ViolationKind = "malformed_json"
	ViolationIllegalMove      ViolationKind = "illegal_move"
	ViolationTimeout          ViolationKind = "timeout"
	ViolationInjectionAttempt ViolationKind = "injection_attempt"
	ViolationEmptyResponse    ViolationKind = "empty_response"
)

// Severity weights per violation kind, used for fidelity scoring and
// tiebreaks.
var severities = map[ViolationKind]int{
	ViolationMalformedJSON:    2,
	ViolationIllegalMove:      1,
	ViolationTimeout:          2,
	ViolationInjectionAttempt: 3,
	ViolationEmptyResponse:    2,
}

// SeverityOf returns the weight of a violation kind.
func SeverityOf(kind ViolationKind) int {
	return severities[kind]
}

// Ruling is what the turn loop must do next.
type Ruling string

const (
	RulingRetry           Ruling = "retry"
	RulingForfeitTurn     Ruling = "forfeit_turn"
	RulingForfeitMatch    Ruling = "forfeit_match"
	RulingEliminatePlayer Ruling = "eliminate_player"
)

// Config tunes escalation thresholds. The zero value disables strike
// escalation entirely.
type Config struct {
	// TurnForfeitThreshold is the strike count at which a turn is
	// forfeited without granting the usual retry.
	TurnForfeitThreshold int
	// MatchForfeitThreshold is the strike count at which the match is
	// forfeited (two players) or the player eliminated (more).
	MatchForfeitThreshold int
	// StrikeViolations lists the kinds that accumulate strikes.
	StrikeViolations []ViolationKind
	// NumPlayers selects between match forfeit and elimination.
	NumPlayers int
	// MatchForfeitScaling doubles MatchForfeitThreshold in large
	// fields (seven players or more) so busy tables aren't decided
	// by transient API weather.
	MatchForfeitScaling bool
}

// Violation is one recorded offense.
type Violation struct {
	Player   string
	Kind     ViolationKind
	Severity int
	Details  string
	Turn     int
}

// Referee tracks per-player conduct over a match.
type Referee struct {
	cfg            Config
	strikeKinds    map[ViolationKind]bool
	turn           int
	turnViolations map[string]int
	strikes        map[string]int
	retriesUsed    map[string]int
	turnForfeits   map[string]int
	history        []Violation
	matchForfeiter string
	eliminated     map[string]bool
}

// New builds a referee for one match.
func New(cfg Config) *Referee {
	if cfg.NumPlayers == 0 {
		cfg.NumPlayers = 2
	}
	kinds := make(map[ViolationKind]bool, len(cfg.StrikeViolations))
	for _, k := range cfg.StrikeViolations {
		kinds[k] = true
	}
	return &Referee{
		cfg:            cfg,
		strikeKinds:    kinds,
		turnViolations: make(map[string]int),
		strikes:        make(map[string]int),
		retriesUsed:    make(map[string]int),
		turnForfeits:   make(map[string]int),
		eliminated:     make(map[string]bool),
	}
}

// effectiveMatchThreshold applies large-field scaling.
func (r *Referee) effectiveMatchThreshold() int {
	t := r.cfg.MatchForfeitThreshold
	if r.cfg.MatchForfeitScaling && r.cfg.NumPlayers >= 7 {
		t *= 2
	}
	return t
}

// NewTurn resets per-turn counters. Strike counts and history persist.
func (r *Referee) NewTurn() {
	r.turn++
	r.turnViolations = make(map[string]int)
}

// RecordViolation logs an offense and rules on it. The first violation
// in a turn earns a retry; the second forfeits the turn. A player whose
// strikes already reached the turn-forfeit threshold gets no retry.
func (r *Referee) RecordViolation(player string, kind ViolationKind, details string) Ruling {
	r.history = append(r.history, Violation{
		Player:   player,
		Kind:     kind,
		Severity: severities[kind],
		Details:  details,
		Turn:     r.turn,
	})
	r.turnViolations[player]++

	if r.escalationActive() && r.strikeKinds[kind] &&
		r.strikes[player] >= r.cfg.TurnForfeitThreshold {
		return RulingForfeitTurn
	}
	if r.turnViolations[player] >= 2 {
		return RulingForfeitTurn
	}
	r.retriesUsed[player]++
	return RulingRetry
}

// RecordTurnForfeit accumulates a strike when the forfeited turn was
// caused by a strike-listed kind, and escalates at the match threshold.
// At most one match forfeit is issued per match.
func (r *Referee) RecordTurnForfeit(player string, kind ViolationKind) Ruling {
	r.turnForfeits[player]++
	if !r.escalationActive() || !r.strikeKinds[kind] {
		return RulingForfeitTurn
	}
	r.strikes[player]++
	if r.strikes[player] >= r.effectiveMatchThreshold() {
		if r.cfg.NumPlayers > 2 {
			r.eliminated[player] = true
			return RulingEliminatePlayer
		}
		if r.matchForfeiter == "" {
			r.matchForfeiter = player
			return RulingForfeitMatch
		}
	}
	return RulingForfeitTurn
}

func (r *Referee) escalationActive() bool {
	return len(r.strikeKinds) > 0 && r.cfg.MatchForfeitThreshold > 0
}

// Strikes returns a player's current strike count.
func (r *Referee) Strikes(player string) int {
	return r.strikes[player]
}

// MatchForfeiter returns the player who forfeited the match, if any.
func (r *Referee) MatchForfeiter() string {
	return r.matchForfeiter
}

// Eliminated reports whether a player has been eliminated.
func (r *Referee) Eliminated(player string) bool {
	return r.eliminated[player]
}

// History returns all recorded violations in order.
func (r *Referee) History() []Violation {
	return r.history
}

// ViolationCount returns a player's total violations across the match.
func (r *Referee) ViolationCount(player string) int {
	n := 0
	for _, v := range r.history {
		if v.Player == player {
			n++
		}
	}
	return n
}

// FidelityReport summarizes conduct per player. Every listed player
// gets an entry, zeroed if they played clean, so downstream aggregation
// never has to special-case missing keys.
func (r *Referee) FidelityReport(players []string) map[string]map[string]int {
	report := make(map[string]map[string]int, len(players))
	for _, p := range players {
		report[p] = map[string]int{
			"total_violations":   0,
			"malformed_json":     0,
			"illegal_move":       0,
			"timeout":            0,
			"empty_response":     0,
			"injection_attempts": 0,
			"total_severity":     0,
			"retries_used":       r.retriesUsed[p],
			"turn_forfeits":      r.turnForfeits[p],
		}
	}
	for _, v := range r.history {
		entry, ok := report[v.Player]
		if !ok {
			continue
		}
		entry["total_violations"]++
		entry["total_severity"] += v.Severity
		switch v.Kind {
		case ViolationInjectionAttempt:
			entry["injection_attempts"]++
		default:
			entry[string(v.Kind)]++
		}
	}
	return report
}
