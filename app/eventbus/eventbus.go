// Package eventbus publishes best-effort game notifications over NATS
// JetStream. The games table stays the source of truth; these messages
// only tell interested consumers that a row changed.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmnats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	nc "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	gameservice "github.com/parlorgames/arena-backend/app/modules/game/application"
	gamedomain "github.com/parlorgames/arena-backend/app/modules/game/domain"
	"github.com/parlorgames/arena-backend/app/shared"
	"github.com/parlorgames/arena-backend/app/shared/attr"
)

const (
	// StreamGames holds every game notification subject.
	StreamGames = "games"

	// subjectGameUpdated is the per-game notification subject.
	subjectGameUpdated = "games.updated.%s"
)

// GameUpdatedPayload is the wire shape of one notification. Events carry
// only metadata; consumers fetch full history from the API when they need
// payloads.
type GameUpdatedPayload struct {
	GameID   shared.GameID            `json:"game_id"`
	GameType shared.GameType          `json:"game_type"`
	Status   shared.MatchmakingStatus `json:"status"`
	Turn     shared.Turn              `json:"turn"`
	Version  shared.Version           `json:"version"`
	Events   []EventSummary           `json:"events,omitempty"`
}

// EventSummary identifies one appended game event.
type EventSummary struct {
	ID   int64                `json:"id"`
	Type gamedomain.EventType `json:"type"`
}

// EventBus owns the NATS connection and the games stream.
type EventBus struct {
	subscriber message.Subscriber
	js         jetstream.JetStream
	natsConn   *nc.Conn
	logger     *slog.Logger

	streamMutex    sync.Mutex
	createdStreams map[string]bool
}

var _ gameservice.EventPublisher = (*EventBus)(nil)

// New connects to NATS, initializes JetStream, and ensures the games
// stream exists.
func New(ctx context.Context, natsURL string, logger *slog.Logger) (*EventBus, error) {
	natsConn, err := nc.Connect(natsURL, nc.RetryOnFailedConnect(true))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(natsConn)
	if err != nil {
		natsConn.Close()
		return nil, fmt.Errorf("failed to initialize JetStream: %w", err)
	}

	watermillLogger := watermill.NewSlogLogger(logger)
	subscriber, err := wmnats.NewSubscriber(
		wmnats.SubscriberConfig{
			URL:         natsURL,
			Unmarshaler: &wmnats.NATSMarshaler{},
			NatsOptions: []nc.Option{
				nc.RetryOnFailedConnect(true),
			},
		},
		watermillLogger,
	)
	if err != nil {
		natsConn.Close()
		return nil, fmt.Errorf("failed to create Watermill subscriber: %w", err)
	}

	bus := &EventBus{
		subscriber:     subscriber,
		js:             js,
		natsConn:       natsConn,
		logger:         logger,
		createdStreams: make(map[string]bool),
	}
	if err := bus.ensureStream(ctx, StreamGames, "games.>"); err != nil {
		bus.Close()
		return nil, err
	}
	return bus, nil
}

// PublishGameUpdated emits one notification for a committed game mutation.
func (b *EventBus) PublishGameUpdated(ctx context.Context, game *gamedomain.Game, events []gamedomain.GameEvent) error {
	summaries := make([]EventSummary, 0, len(events))
	for _, ev := range events {
		summaries = append(summaries, EventSummary{ID: ev.ID, Type: ev.EventType})
	}

	payload, err := json.Marshal(GameUpdatedPayload{
		GameID:   game.ID,
		GameType: game.GameType,
		Status:   game.MatchmakingStatus,
		Turn:     game.Turn,
		Version:  game.Version,
		Events:   summaries,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal game update payload: %w", err)
	}

	subject := fmt.Sprintf(subjectGameUpdated, game.ID)
	ack, err := b.js.Publish(ctx, subject, payload)
	if err != nil {
		return fmt.Errorf("failed to publish game update to JetStream: %w", err)
	}

	b.logger.DebugContext(ctx, "Game update published",
		attr.String("subject", subject),
		attr.String("game_id", game.ID.String()),
		attr.Int64("version", int64(game.Version)),
		attr.Any("sequence", ack.Sequence),
	)
	return nil
}

// Subscribe routes messages on subject to handler. The handler's error
// nacks the message for redelivery.
func (b *EventBus) Subscribe(ctx context.Context, subject string, handler func(ctx context.Context, msg *message.Message) error) error {
	messages, err := b.subscriber.Subscribe(ctx, subject)
	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", subject, err)
	}

	b.logger.Info("Subscription started", attr.String("subject", subject))

	go func() {
		for msg := range messages {
			if err := handler(ctx, msg); err != nil {
				b.logger.ErrorContext(ctx, "Notification handler failed",
					attr.String("subject", subject),
					attr.Error(err),
				)
				msg.Nack()
				continue
			}
			msg.Ack()
		}
	}()

	return nil
}

// ensureStream creates the stream if missing and confirms it is visible
// before first use.
func (b *EventBus) ensureStream(ctx context.Context, streamName, subject string) error {
	b.streamMutex.Lock()
	defer b.streamMutex.Unlock()

	if b.createdStreams[streamName] {
		return nil
	}

	_, err := b.js.Stream(ctx, streamName)
	if err != nil && err != jetstream.ErrStreamNotFound {
		return fmt.Errorf("failed to check if stream exists: %w", err)
	}
	if err == jetstream.ErrStreamNotFound {
		if _, cerr := b.js.CreateStream(ctx, jetstream.StreamConfig{
			Name:     streamName,
			Subjects: []string{subject},
		}); cerr != nil {
			return fmt.Errorf("failed to create stream: %w", cerr)
		}
		b.logger.Info("Created JetStream stream",
			attr.String("stream", streamName),
			attr.String("subject", subject),
		)
	}

	retries := 5
	for i := 0; i < retries; i++ {
		if _, err = b.js.Stream(ctx, streamName); err == nil {
			b.createdStreams[streamName] = true
			return nil
		}
		if err != jetstream.ErrStreamNotFound {
			return fmt.Errorf("failed to check if stream exists: %w", err)
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("stream %s not visible after %d retries: %w", streamName, retries, err)
}

// Close releases the subscriber and the NATS connection.
func (b *EventBus) Close() error {
	if b.subscriber != nil {
		if err := b.subscriber.Close(); err != nil {
			b.logger.Error("Error closing NATS subscriber", attr.Error(err))
		}
	}
	if b.natsConn != nil {
		b.natsConn.Close()
	}
	return nil
}
