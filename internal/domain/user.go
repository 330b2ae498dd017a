package domain

import (
	"time"

	"github.com/google/uuid"
)

// UserRole gates what a team member may do.
// Texter call capabilities are further restricted by TexterSettings.
type UserRole string

const (
	RoleOwner  UserRole = "owner"
	RoleSuper  UserRole = "super"
	RoleTexter UserRole = "texter"
)

// User represents a team member.
// Maps to CockroachDB users table.
type User struct {
	ID          uuid.UUID `json:"id" db:"id"`
	DisplayName string    `json:"display_name" db:"display_name"`
	AvatarURL   *string   `json:"avatar_url,omitempty" db:"avatar_url"`
	Role        UserRole  `json:"role" db:"role"`
	IsActive    bool      `json:"is_active" db:"is_active"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// TexterSettings holds the per-user capability flags an owner controls
// for texter-role members.
type TexterSettings struct {
	UserID         uuid.UUID `json:"user_id" db:"user_id"`
	CanVoiceCall   bool      `json:"can_voice_call" db:"can_voice_call"`
	CanVideoCall   bool      `json:"can_video_call" db:"can_video_call"`
	CanScreenShare bool      `json:"can_screen_share" db:"can_screen_share"`
}

// AllowsCall reports whether the settings permit the given call type
func (s *TexterSettings) AllowsCall(t CallType) bool {
	if t == CallTypeVideo {
		return s.CanVideoCall
	}
	return s.CanVoiceCall
}

// ChatMember is an active membership row for a chat
type ChatMember struct {
	ChatID   uuid.UUID  `json:"chat_id" db:"chat_id"`
	UserID   uuid.UUID  `json:"user_id" db:"user_id"`
	JoinedAt time.Time  `json:"joined_at" db:"joined_at"`
	LeftAt   *time.Time `json:"left_at,omitempty" db:"left_at"`
}
