package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"zemichat-backend/internal/database"
)

const pushTokenTTL = 90 * 24 * time.Hour

// PushToken is a registered device token for one user
type PushToken struct {
	UserID    uuid.UUID `json:"user_id"`
	Token     string    `json:"token"`
	Platform  string    `json:"platform"` // fcm or apns
	VoIP      bool      `json:"voip"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PushTokenRepository stores device push tokens in Redis.
// Keys: push:token:{token} holds the record, push:user:{userID}:tokens is
// the set of tokens registered for the user.
type PushTokenRepository struct {
	rdb *database.RedisClient
}

// NewPushTokenRepository creates a new push token repository
func NewPushTokenRepository(rdb *database.RedisClient) *PushTokenRepository {
	return &PushTokenRepository{rdb: rdb}
}

func tokenKey(token string) string {
	return "push:token:" + token
}

func userTokensKey(userID uuid.UUID) string {
	return "push:user:" + userID.String() + ":tokens"
}

// Store registers a device token for a user
func (r *PushTokenRepository) Store(ctx context.Context, pt *PushToken) error {
	pt.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(pt)
	if err != nil {
		return fmt.Errorf("failed to marshal push token: %w", err)
	}

	pipe := r.rdb.Client.Pipeline()
	pipe.Set(ctx, tokenKey(pt.Token), data, pushTokenTTL)
	pipe.SAdd(ctx, userTokensKey(pt.UserID), pt.Token)
	pipe.Expire(ctx, userTokensKey(pt.UserID), pushTokenTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store push token: %w", err)
	}

	return nil
}

// GetByUserID returns all registered tokens for a user. Tokens whose
// records have expired are pruned from the set as a side effect.
func (r *PushTokenRepository) GetByUserID(ctx context.Context, userID uuid.UUID) ([]*PushToken, error) {
	tokens, err := r.rdb.Client.SMembers(ctx, userTokensKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list push tokens: %w", err)
	}

	var result []*PushToken
	var stale []interface{}

	for _, token := range tokens {
		data, err := r.rdb.Client.Get(ctx, tokenKey(token)).Bytes()
		if err != nil {
			stale = append(stale, token)
			continue
		}

		pt := &PushToken{}
		if err := json.Unmarshal(data, pt); err != nil {
			stale = append(stale, token)
			continue
		}
		result = append(result, pt)
	}

	if len(stale) > 0 {
		r.rdb.Client.SRem(ctx, userTokensKey(userID), stale...)
	}

	return result, nil
}

// TokensForUser returns the raw token strings registered for a user
func (r *PushTokenRepository) TokensForUser(ctx context.Context, userID uuid.UUID) ([]string, error) {
	records, err := r.GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}

	tokens := make([]string, 0, len(records))
	for _, pt := range records {
		tokens = append(tokens, pt.Token)
	}
	return tokens, nil
}

// InvalidateToken removes a token the push gateway reported as dead
func (r *PushTokenRepository) InvalidateToken(ctx context.Context, token string) error {
	data, err := r.rdb.Client.Get(ctx, tokenKey(token)).Bytes()
	if err != nil {
		// Record already gone, nothing to clean up
		return nil
	}

	pt := &PushToken{}
	if err := json.Unmarshal(data, pt); err != nil {
		return r.rdb.Client.Del(ctx, tokenKey(token)).Err()
	}

	return r.Delete(ctx, pt.UserID, token)
}

// Delete removes a device token
func (r *PushTokenRepository) Delete(ctx context.Context, userID uuid.UUID, token string) error {
	pipe := r.rdb.Client.Pipeline()
	pipe.Del(ctx, tokenKey(token))
	pipe.SRem(ctx, userTokensKey(userID), token)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete push token: %w", err)
	}

	return nil
}
