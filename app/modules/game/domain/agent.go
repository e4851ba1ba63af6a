package gamedomain

import (
	"context"
	"encoding/json"

	"github.com/parlorgames/arena-backend/app/shared"
)

// DecisionKind is the closed discriminant for agent decisions.
type DecisionKind string

const (
	DecisionKindMove DecisionKind = "move"
	DecisionKindExit DecisionKind = "exit"
)

// Decision is what the agent client produced for a turn: either a move to
// apply or an exit (resign/fold) signal.
type Decision struct {
	Kind DecisionKind
	Move Move
}

// DecisionRequest is the view the agent client is given when asked for a
// decision. LegalMoves is an optional hint; environments that cannot
// enumerate moves leave it nil.
type DecisionRequest struct {
	GameID         shared.GameID
	GameType       shared.GameType
	PlayerID       shared.PlayerID
	AgentVersionID shared.AgentVersionID
	Turn           shared.Turn
	State          State
	LegalMoves     []json.RawMessage
}

// AgentClient produces decisions for agent-driven seats. It owns its own
// retry, backoff, and timeout policy.
type AgentClient interface {
	Decide(ctx context.Context, req DecisionRequest) (Decision, error)
}
