package cassandra

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"

	"zemichat-backend/internal/database"
	"zemichat-backend/internal/domain"
)

// MessageRepository persists chat messages in Cassandra. The call core
// only writes system messages summarising call outcomes.
type MessageRepository struct {
	db *database.CassandraDB
}

// NewMessageRepository creates a new message repository
func NewMessageRepository(db *database.CassandraDB) *MessageRepository {
	return &MessageRepository{db: db}
}

// Save writes a message row. Metadata values are stored as text.
func (r *MessageRepository) Save(ctx context.Context, msg *domain.Message) error {
	if msg.MessageID == uuid.Nil {
		msg.MessageID = uuid.New()
	}
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now().UTC()
	}

	metadata := make(map[string]string, len(msg.Metadata))
	for k, v := range msg.Metadata {
		metadata[k] = fmt.Sprint(v)
	}

	query := `
		INSERT INTO messages (chat_id, message_id, sender_id, message_type, content, metadata, sent_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	err := r.db.Session.Query(query,
		gocql.UUID(msg.ChatID),
		gocql.UUID(msg.MessageID),
		gocql.UUID(msg.SenderID),
		msg.MessageType,
		msg.Content,
		metadata,
		msg.SentAt,
	).WithContext(ctx).Exec()

	if err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}

	return nil
}

// ListByChat returns the most recent messages of a chat, newest first
func (r *MessageRepository) ListByChat(ctx context.Context, chatID uuid.UUID, limit int) ([]*domain.Message, error) {
	query := `
		SELECT chat_id, message_id, sender_id, message_type, content, metadata, sent_at
		FROM messages
		WHERE chat_id = ?
		LIMIT ?
	`

	iter := r.db.Session.Query(query, gocql.UUID(chatID), limit).WithContext(ctx).Iter()

	var messages []*domain.Message
	for {
		var (
			chat     gocql.UUID
			id       gocql.UUID
			sender   gocql.UUID
			msgType  string
			content  string
			metadata map[string]string
			sentAt   time.Time
		)
		if !iter.Scan(&chat, &id, &sender, &msgType, &content, &metadata, &sentAt) {
			break
		}

		meta := make(map[string]interface{}, len(metadata))
		for k, v := range metadata {
			meta[k] = v
		}

		messages = append(messages, &domain.Message{
			MessageID:   uuid.UUID(id),
			ChatID:      uuid.UUID(chat),
			SenderID:    uuid.UUID(sender),
			MessageType: msgType,
			Content:     content,
			Metadata:    meta,
			SentAt:      sentAt,
		})
	}

	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	return messages, nil
}
