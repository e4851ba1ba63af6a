package gamedomain

import (
	"encoding/json"
	"time"

	"github.com/uptrace/bun"

	"github.com/parlorgames/arena-backend/app/shared"
)

// Game is one match. The state and config blobs are owned by the game
// environment; this engine never inspects them.
type Game struct {
	bun.BaseModel `bun:"table:games,alias:g"`

	ID       shared.GameID   `bun:"id,pk,type:uuid"`
	GameType shared.GameType `bun:"game_type,notnull"`
	State    json.RawMessage `bun:"state,type:jsonb"`
	Config   json.RawMessage `bun:"config,type:jsonb"`

	// Turn says whose input is expected now; Version changes on every
	// externally visible mutation.
	Turn    shared.Turn    `bun:"turn,notnull,default:0"`
	Version shared.Version `bun:"version,notnull,default:0"`

	MatchmakingStatus shared.MatchmakingStatus `bun:"matchmaking_status,notnull"`

	// Processing lock fields. Set together in one conditional write; both
	// NULL when the game is unlocked.
	ProcessingStartedAt *time.Time        `bun:"processing_started_at"`
	ProcessingRequestID *shared.RequestID `bun:"processing_request_id,type:uuid"`

	WaitingDeadline      *time.Time `bun:"waiting_deadline"`
	AllowsMidgameJoining bool       `bun:"allows_midgame_joining,notnull,default:false"`
	CurrentPlayerCount   int        `bun:"current_player_count,notnull,default:0"`
	MinPlayersRequired   int        `bun:"min_players_required,notnull"`
	MaxPlayersAllowed    int        `bun:"max_players_allowed,notnull"`

	StartedAt    *time.Time    `bun:"started_at"`
	IsPlayground bool          `bun:"is_playground,notnull,default:false"`
	CreatedBy    shared.UserID `bun:"created_by_user_id,notnull"`

	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}

// Locked reports whether the processing lock is currently held.
func (g *Game) Locked() bool { return g.ProcessingStartedAt != nil }

// GamePlayer is one seat. A row is created on join and closed by setting
// LeaveTime on departure or game end.
type GamePlayer struct {
	bun.BaseModel `bun:"table:game_players,alias:gp"`

	ID             int64                 `bun:"id,pk,autoincrement"`
	GameID         shared.GameID         `bun:"game_id,notnull,type:uuid"`
	PlayerID       shared.PlayerID       `bun:"player_id,notnull,type:uuid"`
	AgentVersionID shared.AgentVersionID `bun:"agent_version_id,notnull"`
	UserID         shared.UserID         `bun:"user_id,notnull"`
	JoinTime       time.Time             `bun:"join_time,notnull,default:current_timestamp"`
	LeaveTime      *time.Time            `bun:"leave_time"`
	IsSystemPlayer bool                  `bun:"is_system_player,notnull,default:false"`
}

// Active reports whether the seat is still occupied.
func (p *GamePlayer) Active() bool { return p.LeaveTime == nil }

// EventType is the closed discriminant for game events.
type EventType string

const (
	EventTypeGameStarted  EventType = "game_started"
	EventTypePlayerJoined EventType = "player_joined"
	EventTypePlayerLeft   EventType = "player_left"
	EventTypeMoveApplied  EventType = "move_applied"
	EventTypeGameFinished EventType = "game_finished"
)

// GameEvent is the append-only history of a game, strictly ordered per
// game by insertion id. Rows are never updated or deleted.
type GameEvent struct {
	bun.BaseModel `bun:"table:game_events,alias:ge"`

	ID        int64           `bun:"id,pk,autoincrement"`
	GameID    shared.GameID   `bun:"game_id,notnull,type:uuid"`
	EventType EventType       `bun:"event_type,notnull"`
	Payload   json.RawMessage `bun:"payload,type:jsonb"`
	CreatedAt time.Time       `bun:"created_at,notnull,default:current_timestamp"`
}

// EventDraft is an event produced by the environment before it has been
// assigned a row id.
type EventDraft struct {
	Type    EventType
	Payload json.RawMessage
}

// GameOutcome summarizes a finished game for the rating service.
type GameOutcome struct {
	GameID  shared.GameID               `json:"game_id"`
	Winner  *shared.PlayerID            `json:"winner,omitempty"`
	IsDraw  bool                        `json:"is_draw"`
	Scores  map[shared.PlayerID]float64 `json:"scores,omitempty"`
	Players []shared.PlayerID           `json:"players"`
	Reason  string                      `json:"reason,omitempty"`
	Details map[string]json.RawMessage  `json:"details,omitempty"`
}
