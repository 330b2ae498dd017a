package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"zemichat-backend/internal/database"
)

const presenceTTL = 2 * time.Hour

// PresenceRepository tracks which users are currently inside a call's media
// channel. The set backs the capacity check at token issuance; the TTL
// guards against entries orphaned by crashed clients.
type PresenceRepository struct {
	rdb *database.RedisClient
}

// NewPresenceRepository creates a new presence repository
func NewPresenceRepository(rdb *database.RedisClient) *PresenceRepository {
	return &PresenceRepository{rdb: rdb}
}

func presenceKey(callLogID uuid.UUID) string {
	return "call:" + callLogID.String() + ":participants"
}

// Join records a user entering the call
func (r *PresenceRepository) Join(ctx context.Context, callLogID, userID uuid.UUID) error {
	pipe := r.rdb.Client.Pipeline()
	pipe.SAdd(ctx, presenceKey(callLogID), userID.String())
	pipe.Expire(ctx, presenceKey(callLogID), presenceTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record call join: %w", err)
	}

	return nil
}

// Leave records a user leaving the call
func (r *PresenceRepository) Leave(ctx context.Context, callLogID, userID uuid.UUID) error {
	if err := r.rdb.Client.SRem(ctx, presenceKey(callLogID), userID.String()).Err(); err != nil {
		return fmt.Errorf("failed to record call leave: %w", err)
	}

	return nil
}

// Count returns the number of users currently in the call
func (r *PresenceRepository) Count(ctx context.Context, callLogID uuid.UUID) (int, error) {
	n, err := r.rdb.Client.SCard(ctx, presenceKey(callLogID)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count call participants: %w", err)
	}

	return int(n), nil
}

// Clear drops the whole presence set once the call is over
func (r *PresenceRepository) Clear(ctx context.Context, callLogID uuid.UUID) error {
	if err := r.rdb.Client.Del(ctx, presenceKey(callLogID)).Err(); err != nil {
		return fmt.Errorf("failed to clear call presence: %w", err)
	}

	return nil
}
