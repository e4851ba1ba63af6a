package shared

import (
	"database/sql/driver"
	"time"

	"github.com/google/uuid"
)

// GameID uniquely identifies a game row.
type GameID uuid.UUID

func (id GameID) String() string { return uuid.UUID(id).String() }

// UUID returns the underlying uuid.UUID.
func (id GameID) UUID() uuid.UUID { return uuid.UUID(id) }

// IsNil reports whether the ID is the zero UUID.
func (id GameID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

func (id GameID) Value() (driver.Value, error)  { return uuid.UUID(id).Value() }
func (id *GameID) Scan(src any) error           { return (*uuid.UUID)(id).Scan(src) }
func (id GameID) MarshalText() ([]byte, error)  { return uuid.UUID(id).MarshalText() }
func (id *GameID) UnmarshalText(b []byte) error { return (*uuid.UUID)(id).UnmarshalText(b) }

// NewGameID returns a fresh random GameID.
func NewGameID() GameID { return GameID(uuid.New()) }

// ParseGameID parses the canonical textual form of a GameID.
func ParseGameID(s string) (GameID, error) {
	u, err := uuid.Parse(s)
	return GameID(u), err
}

// PlayerID identifies a seat in a game. It is the identity the game
// environment uses when asking "whose move is expected".
type PlayerID uuid.UUID

func (id PlayerID) String() string { return uuid.UUID(id).String() }

// IsNil reports whether the ID is the zero UUID.
func (id PlayerID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

func (id PlayerID) Value() (driver.Value, error)  { return uuid.UUID(id).Value() }
func (id *PlayerID) Scan(src any) error           { return (*uuid.UUID)(id).Scan(src) }
func (id PlayerID) MarshalText() ([]byte, error)  { return uuid.UUID(id).MarshalText() }
func (id *PlayerID) UnmarshalText(b []byte) error { return (*uuid.UUID)(id).UnmarshalText(b) }

// NewPlayerID returns a fresh random PlayerID.
func NewPlayerID() PlayerID { return PlayerID(uuid.New()) }

// ParsePlayerID parses the canonical textual form of a PlayerID.
func ParsePlayerID(s string) (PlayerID, error) {
	u, err := uuid.Parse(s)
	return PlayerID(u), err
}

// RequestID tags one processing attempt so a held lock can be traced back
// to the worker that took it.
type RequestID uuid.UUID

func (id RequestID) String() string { return uuid.UUID(id).String() }

func (id RequestID) Value() (driver.Value, error)  { return uuid.UUID(id).Value() }
func (id *RequestID) Scan(src any) error           { return (*uuid.UUID)(id).Scan(src) }
func (id RequestID) MarshalText() ([]byte, error)  { return uuid.UUID(id).MarshalText() }
func (id *RequestID) UnmarshalText(b []byte) error { return (*uuid.UUID)(id).UnmarshalText(b) }

// NewRequestID returns a fresh random RequestID.
func NewRequestID() RequestID { return RequestID(uuid.New()) }

// UserID identifies the account that owns a seat or a game.
type UserID string

func (id UserID) String() string { return string(id) }

// AgentVersionID identifies the agent build playing a seat.
type AgentVersionID string

func (id AgentVersionID) String() string { return string(id) }

// GameType tags which rules engine a game belongs to.
type GameType string

const (
	GameTypeChess GameType = "chess"
	GameTypePoker GameType = "poker"
)

// Turn is the monotonically increasing counter identifying whose input is
// currently expected in a game.
type Turn int64

// Version is bumped on every externally visible game mutation. Callers use
// it for cheap change detection.
type Version int64

// MatchmakingStatus is the lifecycle state of a game row. Transitions only
// move forward; a game is never re-opened.
type MatchmakingStatus string

const (
	MatchmakingStatusWaiting    MatchmakingStatus = "WAITING"
	MatchmakingStatusInProgress MatchmakingStatus = "IN_PROGRESS"
	MatchmakingStatusFinished   MatchmakingStatus = "FINISHED"
	MatchmakingStatusCancelled  MatchmakingStatus = "CANCELLED"
)

// Terminal reports whether no further transition is allowed from s.
func (s MatchmakingStatus) Terminal() bool {
	return s == MatchmakingStatusFinished || s == MatchmakingStatusCancelled
}

// CanTransitionTo enforces the forward-only lifecycle.
func (s MatchmakingStatus) CanTransitionTo(next MatchmakingStatus) bool {
	switch s {
	case MatchmakingStatusWaiting:
		return next == MatchmakingStatusInProgress || next == MatchmakingStatusCancelled
	case MatchmakingStatusInProgress:
		return next == MatchmakingStatusFinished
	default:
		return false
	}
}

// Clock abstracts time for deadline logic so sweeps and tests can agree on
// "now".
type Clock interface {
	Now() time.Time
}

// RealClock is the production Clock.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }
