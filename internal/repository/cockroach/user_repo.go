package cockroach

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"zemichat-backend/internal/domain"
)

// UserRepository handles user profile and texter settings lookups
type UserRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository creates a new user repository
func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

// GetByID retrieves a user profile
func (r *UserRepository) GetByID(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	query := `
		SELECT id, display_name, avatar_url, role, is_active, created_at
		FROM users
		WHERE id = $1
	`

	u := &domain.User{}
	err := r.pool.QueryRow(ctx, query, userID).Scan(
		&u.ID,
		&u.DisplayName,
		&u.AvatarURL,
		&u.Role,
		&u.IsActive,
		&u.CreatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("user not found")
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return u, nil
}

// GetTexterSettings retrieves the capability flags for a texter-role user.
// Returns nil without error when no settings row exists.
func (r *UserRepository) GetTexterSettings(ctx context.Context, userID uuid.UUID) (*domain.TexterSettings, error) {
	query := `
		SELECT user_id, can_voice_call, can_video_call, can_screen_share
		FROM texter_settings
		WHERE user_id = $1
	`

	s := &domain.TexterSettings{}
	err := r.pool.QueryRow(ctx, query, userID).Scan(
		&s.UserID,
		&s.CanVoiceCall,
		&s.CanVideoCall,
		&s.CanScreenShare,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get texter settings: %w", err)
	}

	return s, nil
}
