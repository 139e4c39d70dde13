// Package game defines the engine contract the turn loop drives.
//
// An engine owns all game rules and state. The harness never interprets
// actions itself: it validates them against the engine's action schema,
// asks the engine whether they are legal, and applies the engine's
// rulings for forfeits and eliminations.
package game

// ValidationResult reports whether an action is legal in the current
// state, with a reason when it is not.
type ValidationResult struct {
	Legal  bool
	Reason string
}

// Engine is the turn-based game contract. Implementations must be
// deterministic for a fixed seed. Engines are driven by a single
// goroutine per match and need no internal locking.
type Engine interface {
	// Reset initializes state from a seed. Called once before play.
	Reset(seed int64)

	// CurrentPlayer returns the player to act, or "" if none.
	CurrentPlayer() string

	// Prompt renders the prompt for a player's turn.
	Prompt(playerID string) string

	// RetryPrompt renders a corrective prompt after a rejected action.
	RetryPrompt(playerID, reason string) string

	// ValidateAction checks an already schema-valid action for legality.
	ValidateAction(playerID string, action map[string]any) ValidationResult

	// ApplyAction applies a legal action and advances state.
	ApplyAction(playerID string, action map[string]any)

	// ForfeitTurn applies a neutral default action for the player.
	ForfeitTurn(playerID string)

	// ForceForfeitMatch ends the match against the player immediately.
	ForceForfeitMatch(playerID string)

	// AwardForfeitWins settles remaining scheduled play against the
	// player who forfeited the match.
	AwardForfeitWins(playerID string)

	// EliminatePlayer removes a player from a multiplayer game. The
	// seat becomes dead; play continues among the rest.
	EliminatePlayer(playerID string)

	// IsTerminal reports whether the game is over.
	IsTerminal() bool

	// Scores returns final (or current) scores per player.
	Scores() map[string]float64

	// Snapshot returns a JSON-serializable view of current state.
	Snapshot() map[string]any

	// PlayerIDs returns all seats, including eliminated ones.
	PlayerIDs() []string

	// ActionSchema returns the schema actions are validated against.
	ActionSchema() *Schema
}
