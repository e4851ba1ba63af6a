package gamedomain

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/parlorgames/arena-backend/app/shared"
)

// Move is an opaque, environment-defined move payload.
type Move = json.RawMessage

// State is an opaque, environment-defined game state blob.
type State = json.RawMessage

// PlayerRequirements describes how many seats a configured game needs.
type PlayerRequirements struct {
	Min int
	Max int
}

// MoveResult is what the environment reports after applying a move.
type MoveResult struct {
	State  State
	Events []EventDraft

	// NextPlayerID is the seat whose input is expected next. Meaningless
	// when Finished is true.
	NextPlayerID shared.PlayerID

	Finished bool
	Outcome  *GameOutcome
}

// TimeoutResult is what the environment reports from a clock-expiry check.
// When Expired is true the environment has already rewritten State into
// its terminal form; this is a terminal-state transition, not a move, and
// usually produces no events.
type TimeoutResult struct {
	Expired bool
	State   State
	Events  []EventDraft
	Outcome *GameOutcome
}

// Environment is a per-game-type rules engine. Implementations live
// outside this engine; the orchestrator only ever talks to this interface.
type Environment interface {
	// NewGame produces the initial state for a fresh game.
	NewGame(ctx context.Context, gameID shared.GameID, config json.RawMessage) (State, error)

	// JoinPlayer seats a player and returns the events that seating
	// produced along with the updated state.
	JoinPlayer(ctx context.Context, state State, playerID shared.PlayerID, agentVersionID shared.AgentVersionID, name string) (State, []EventDraft, error)

	// ApplyMove applies one move for the expected player.
	ApplyMove(ctx context.Context, state State, playerID shared.PlayerID, move Move) (MoveResult, error)

	// CurrentPlayer reports whose input the state expects now.
	CurrentPlayer(state State) (shared.PlayerID, error)

	// CheckTimeout reports whether the expected player's clock has
	// actually expired, rewriting the state in place when it has.
	CheckTimeout(ctx context.Context, state State, expectedPlayerID shared.PlayerID) (TimeoutResult, error)

	// PlayerRequirements derives seat bounds from a game config.
	PlayerRequirements(config json.RawMessage) (PlayerRequirements, error)

	// AllowsSystemBackfill reports whether under-subscribed waiting rooms
	// for this config may be completed with system players.
	AllowsSystemBackfill(config json.RawMessage) bool
}

// Registry maps game types to their environments. It is built once at
// startup and passed to the orchestrator and matchmaking engine as an
// explicit dependency.
type Registry struct {
	envs map[shared.GameType]Environment
}

// NewRegistry builds a registry from a fixed set of environments.
func NewRegistry(envs map[shared.GameType]Environment) *Registry {
	copied := make(map[shared.GameType]Environment, len(envs))
	for gt, env := range envs {
		copied[gt] = env
	}
	return &Registry{envs: copied}
}

// Environment resolves the rules engine for a game type.
func (r *Registry) Environment(gameType shared.GameType) (Environment, error) {
	env, ok := r.envs[gameType]
	if !ok {
		return nil, fmt.Errorf("no environment registered for game type %q", gameType)
	}
	return env, nil
}

// Types lists the registered game types.
func (r *Registry) Types() []shared.GameType {
	out := make([]shared.GameType, 0, len(r.envs))
	for gt := range r.envs {
		out = append(out, gt)
	}
	return out
}
