package cockroach

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"zemichat-backend/internal/domain"
)

// MemberRepository handles chat membership lookups
type MemberRepository struct {
	pool *pgxpool.Pool
}

// NewMemberRepository creates a new member repository
func NewMemberRepository(pool *pgxpool.Pool) *MemberRepository {
	return &MemberRepository{pool: pool}
}

// IsMember reports whether the user is an active member of the chat
func (r *MemberRepository) IsMember(ctx context.Context, chatID, userID uuid.UUID) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM chat_members
			WHERE chat_id = $1 AND user_id = $2 AND left_at IS NULL
		)
	`

	var exists bool
	if err := r.pool.QueryRow(ctx, query, chatID, userID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check chat membership: %w", err)
	}

	return exists, nil
}

// CountActive returns the number of active members in the chat
func (r *MemberRepository) CountActive(ctx context.Context, chatID uuid.UUID) (int, error) {
	query := `
		SELECT count(*) FROM chat_members
		WHERE chat_id = $1 AND left_at IS NULL
	`

	var n int
	if err := r.pool.QueryRow(ctx, query, chatID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count chat members: %w", err)
	}

	return n, nil
}

// OtherMembers returns the active members of the chat other than userID,
// with their profile identity
func (r *MemberRepository) OtherMembers(ctx context.Context, chatID, userID uuid.UUID) ([]*domain.User, error) {
	query := `
		SELECT u.id, u.display_name, u.avatar_url, u.role, u.is_active, u.created_at
		FROM chat_members m
		JOIN users u ON u.id = m.user_id
		WHERE m.chat_id = $1 AND m.user_id != $2 AND m.left_at IS NULL
		ORDER BY m.joined_at ASC
	`

	rows, err := r.pool.Query(ctx, query, chatID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list chat members: %w", err)
	}
	defer rows.Close()

	var users []*domain.User
	for rows.Next() {
		u := &domain.User{}
		err := rows.Scan(&u.ID, &u.DisplayName, &u.AvatarURL, &u.Role, &u.IsActive, &u.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chat member: %w", err)
		}
		users = append(users, u)
	}

	return users, nil
}
