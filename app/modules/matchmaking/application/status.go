package matchmakingservice

import (
	"context"
	"errors"
	"fmt"
	"time"

	gamedb "github.com/parlorgames/arena-backend/app/modules/game/infrastructure/repositories"
	"github.com/parlorgames/arena-backend/app/shared"
	"github.com/parlorgames/arena-backend/pkg/longpoll"
)

// Status is the caller-facing view of a user's queue position.
type Status struct {
	InQueue          bool                     `json:"in_queue"`
	GameID           *shared.GameID           `json:"game_id,omitempty"`
	Status           shared.MatchmakingStatus `json:"status,omitempty"`
	CurrentPlayers   int                      `json:"current_players"`
	MinPlayers       int                      `json:"min_players"`
	MaxPlayers       int                      `json:"max_players"`
	WaitingDeadline  *time.Time               `json:"waiting_deadline,omitempty"`
	SecondsRemaining *int64                   `json:"seconds_remaining,omitempty"`
}

// StatusNow snapshots the user's current queue position without waiting.
func (s *MatchmakingService) StatusNow(ctx context.Context, userID shared.UserID) (*Status, error) {
	entry, err := s.repo.GetMatchmakingEntry(ctx, s.db, userID)
	if err != nil {
		if errors.Is(err, gamedb.ErrNotFound) {
			return &Status{}, nil
		}
		return nil, err
	}
	return s.statusFromEntry(entry), nil
}

// StatusLongPoll holds the request open until the user's queue position
// changes or timeout elapses, whichever is first. The returned status is
// always a fresh snapshot; changed reports whether it differs from the
// position at call time. cancelled, when non-nil, is checked between polls
// and aborts the wait with longpoll.ErrCancelled (a transport uses it to
// stop waiting once the client has hung up).
func (s *MatchmakingService) StatusLongPoll(ctx context.Context, userID shared.UserID, timeout time.Duration, cancelled longpoll.CancelledFunc) (*Status, bool, error) {
	var (
		status  *Status
		changed bool
	)
	err := s.withTelemetry(ctx, "MatchmakingStatusLongPoll", userID, func(ctx context.Context) error {
		probe := func(ctx context.Context) (string, error) {
			entry, err := s.repo.GetMatchmakingEntry(ctx, s.db, userID)
			if err != nil {
				if errors.Is(err, gamedb.ErrNotFound) {
					return entrySignal(nil), nil
				}
				return "", err
			}
			return entrySignal(entry), nil
		}

		initial, err := probe(ctx)
		if err != nil {
			return err
		}

		changed, err = longpoll.WaitForChange(ctx, initial, probe, longpoll.Options{
			Timeout:   timeout,
			Cancelled: cancelled,
		})
		if err != nil {
			return err
		}

		status, err = s.StatusNow(ctx, userID)
		return err
	})
	return status, changed, err
}

func (s *MatchmakingService) statusFromEntry(entry *gamedb.MatchmakingEntry) *Status {
	st := &Status{
		InQueue:         true,
		GameID:          &entry.GameID,
		Status:          entry.Status,
		CurrentPlayers:  entry.CurrentPlayers,
		MinPlayers:      entry.MinPlayers,
		MaxPlayers:      entry.MaxPlayers,
		WaitingDeadline: entry.WaitingDeadline,
	}
	if entry.WaitingDeadline != nil && entry.Status == shared.MatchmakingStatusWaiting {
		remaining := int64(entry.WaitingDeadline.Sub(s.clock.Now()) / time.Second)
		if remaining < 0 {
			remaining = 0
		}
		st.SecondsRemaining = &remaining
	}
	return st
}

// entrySignal reduces a queue position to the comparable string the long
// poll watches. Joining players, a status flip, or leaving the queue all
// change it.
func entrySignal(entry *gamedb.MatchmakingEntry) string {
	if entry == nil {
		return "none"
	}
	return fmt.Sprintf("%s|%s|%d", entry.GameID, entry.Status, entry.CurrentPlayers)
}
