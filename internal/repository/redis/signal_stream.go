package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"zemichat-backend/internal/database"
	"zemichat-backend/internal/domain"
	"zemichat-backend/pkg/logger"
)

// SignalStream fans call signals out to the subscribers of a chat over
// Redis pub/sub. Delivery is best-effort; the signal row in CockroachDB
// remains the source of truth and late subscribers catch up from there.
type SignalStream struct {
	rdb *database.RedisClient
}

// NewSignalStream creates a new signal stream
func NewSignalStream(rdb *database.RedisClient) *SignalStream {
	return &SignalStream{rdb: rdb}
}

func signalChannel(chatID uuid.UUID) string {
	return "callsignals:" + chatID.String()
}

// Publish broadcasts a signal to the chat's channel. A degraded Redis is
// not an error for the caller.
func (s *SignalStream) Publish(ctx context.Context, signal *domain.CallSignal) error {
	data, err := json.Marshal(signal)
	if err != nil {
		return fmt.Errorf("failed to marshal call signal: %w", err)
	}

	if err := s.rdb.SafePublish(ctx, signalChannel(signal.ChatID), data).Err(); err != nil {
		logger.Warn("signal publish skipped",
			zap.String("chat_id", signal.ChatID.String()),
			zap.Error(err))
	}

	return nil
}

// Subscribe delivers signals for one chat on the returned channel until
// ctx is cancelled. Messages that fail to decode are dropped.
func (s *SignalStream) Subscribe(ctx context.Context, chatID uuid.UUID) (<-chan *domain.CallSignal, error) {
	pubsub := s.rdb.Client.Subscribe(ctx, signalChannel(chatID))

	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to signal channel: %w", err)
	}

	out := make(chan *domain.CallSignal, 16)

	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				signal := &domain.CallSignal{}
				if err := json.Unmarshal([]byte(msg.Payload), signal); err != nil {
					logger.Warn("dropping undecodable call signal", zap.Error(err))
					continue
				}

				select {
				case out <- signal:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}
