package gamequeue

import (
	"github.com/riverqueue/river"

	"github.com/parlorgames/arena-backend/app/shared"
)

// QueueGameTurns is the dedicated River queue for turn work items.
const QueueGameTurns = "game_turns"

// TurnJobArgs is one "advance this turn" work item. Delivery is
// at-least-once; the orchestrator's turn-number check makes duplicates
// harmless.
type TurnJobArgs struct {
	GameID   shared.GameID   `json:"game_id"`
	PlayerID shared.PlayerID `json:"player_id"`
	Turn     shared.Turn     `json:"turn"`
}

// Kind returns the job type identifier for River.
func (TurnJobArgs) Kind() string { return "game_turn" }

// InsertOpts routes turn jobs to their queue and suppresses duplicate
// inserts for the same (game, player, turn).
func (TurnJobArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue:      QueueGameTurns,
		UniqueOpts: river.UniqueOpts{ByArgs: true},
	}
}
