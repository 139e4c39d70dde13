// Package gametest provides a deterministic scripted engine for
// exercising the turn loop and orchestrators without a real game.
package gametest

import (
	"fmt"
	"sort"

	"github.com/mousetraptech/llmtourney/internal/game"
)

// ActionSchema is the schema scripted engines validate against: a
// single required "move" string.
var ActionSchema = game.MustCompileSchema(`{
	"type": "object",
	"properties": {
		"move": {"type": "string"}
	},
	"required": ["move"],
	"additionalProperties": false
}`)

// Call records one engine invocation for test assertions.
type Call struct {
	Method string
	Player string
	Arg    string
}

// Scripted is a turn-counting engine. Each applied action scores the
// acting player by their weight (default 1), so weighted players win
// deterministically. The move "cheat" is always illegal.
type Scripted struct {
	players    []string
	Weights    map[string]float64
	TurnsEach  int
	seed       int64
	turn       int
	scores     map[string]float64
	eliminated map[string]bool
	forfeiter  string
	Calls      []Call
}

// New builds a scripted engine over the given seats.
func New(players []string) *Scripted {
	return &Scripted{
		players:   append([]string(nil), players...),
		Weights:   map[string]float64{},
		TurnsEach: 3,
	}
}

func (s *Scripted) record(method, player, arg string) {
	s.Calls = append(s.Calls, Call{Method: method, Player: player, Arg: arg})
}

// CallCount returns how many times a method was invoked.
func (s *Scripted) CallCount(method string) int {
	n := 0
	for _, c := range s.Calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

func (s *Scripted) Reset(seed int64) {
	s.seed = seed
	s.turn = 0
	s.forfeiter = ""
	s.scores = make(map[string]float64, len(s.players))
	s.eliminated = make(map[string]bool)
	for _, p := range s.players {
		s.scores[p] = 0
	}
	s.record("Reset", "", fmt.Sprintf("%d", seed))
}

func (s *Scripted) live() []string {
	var out []string
	for _, p := range s.players {
		if !s.eliminated[p] {
			out = append(out, p)
		}
	}
	return out
}

func (s *Scripted) CurrentPlayer() string {
	if s.IsTerminal() {
		return ""
	}
	live := s.live()
	return live[s.turn%len(live)]
}

func (s *Scripted) Prompt(playerID string) string {
	s.record("Prompt", playerID, "")
	return fmt.Sprintf("turn %d, player %s: respond with a move", s.turn, playerID)
}

func (s *Scripted) RetryPrompt(playerID, reason string) string {
	s.record("RetryPrompt", playerID, reason)
	return fmt.Sprintf("turn %d, player %s: previous action rejected (%s), try again", s.turn, playerID, reason)
}

func (s *Scripted) ValidateAction(playerID string, action map[string]any) game.ValidationResult {
	if action["move"] == "cheat" {
		return game.ValidationResult{Legal: false, Reason: "cheating is not a move"}
	}
	return game.ValidationResult{Legal: true}
}

func (s *Scripted) ApplyAction(playerID string, action map[string]any) {
	w := s.Weights[playerID]
	if w == 0 {
		w = 1
	}
	s.scores[playerID] += w
	s.turn++
	s.record("ApplyAction", playerID, fmt.Sprintf("%v", action["move"]))
}

func (s *Scripted) ForfeitTurn(playerID string) {
	s.turn++
	s.record("ForfeitTurn", playerID, "")
}

func (s *Scripted) ForceForfeitMatch(playerID string) {
	s.forfeiter = playerID
	s.record("ForceForfeitMatch", playerID, "")
}

func (s *Scripted) AwardForfeitWins(playerID string) {
	for _, p := range s.live() {
		if p != playerID {
			s.scores[p] += float64(s.TurnsEach)
		}
	}
	s.record("AwardForfeitWins", playerID, "")
}

func (s *Scripted) EliminatePlayer(playerID string) {
	s.eliminated[playerID] = true
	s.record("EliminatePlayer", playerID, "")
}

func (s *Scripted) IsTerminal() bool {
	if s.forfeiter != "" {
		return true
	}
	live := s.live()
	if len(live) <= 1 {
		return true
	}
	return s.turn >= s.TurnsEach*len(s.players)
}

func (s *Scripted) Scores() map[string]float64 {
	out := make(map[string]float64, len(s.scores))
	for k, v := range s.scores {
		out[k] = v
	}
	return out
}

func (s *Scripted) Snapshot() map[string]any {
	live := s.live()
	sort.Strings(live)
	return map[string]any{
		"turn":   s.turn,
		"scores": s.Scores(),
		"live":   live,
	}
}

func (s *Scripted) PlayerIDs() []string {
	return append([]string(nil), s.players...)
}

func (s *Scripted) ActionSchema() *game.Schema {
	return ActionSchema
}

var _ game.Engine = (*Scripted)(nil)
