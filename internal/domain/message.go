package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MessageTypeSystem marks messages generated by the platform rather than a
// user, such as call outcome entries in the chat timeline.
const MessageTypeSystem = "system"

// Message represents a chat message entity.
// Maps to the Cassandra messages table. The call core only writes system
// messages; regular chat traffic is out of its hands.
type Message struct {
	MessageID   uuid.UUID              `json:"message_id" cql:"message_id"`
	ChatID      uuid.UUID              `json:"chat_id" cql:"chat_id"`
	SenderID    uuid.UUID              `json:"sender_id" cql:"sender_id"`
	Content     string                 `json:"content" cql:"content"`
	MessageType string                 `json:"message_type" cql:"message_type"`
	Metadata    map[string]interface{} `json:"metadata,omitempty" cql:"metadata"`
	SentAt      time.Time              `json:"sent_at" cql:"sent_at"`
}

// NewCallOutcomeMessage builds the system message recorded in a chat when a
// call ends. Content follows the "<type>_call_<outcome>[|m:ss]" convention
// the clients localize.
func NewCallOutcomeMessage(log *CallLog) *Message {
	var content string
	switch log.Status {
	case CallStatusAnswered, CallStatusEnded:
		content = fmt.Sprintf("%s_call_ended", log.Type)
		if log.DurationSeconds != nil {
			content += "|" + FormatCallDuration(*log.DurationSeconds)
		}
	case CallStatusMissed:
		content = fmt.Sprintf("%s_call_missed", log.Type)
	case CallStatusDeclined:
		content = fmt.Sprintf("%s_call_declined", log.Type)
	default:
		content = fmt.Sprintf("%s_call", log.Type)
	}

	meta := map[string]interface{}{
		"call_log_id": log.ID.String(),
		"call_type":   string(log.Type),
		"call_status": string(log.Status),
	}
	if log.DurationSeconds != nil {
		meta["duration_seconds"] = *log.DurationSeconds
	}

	return &Message{
		MessageID:   uuid.New(),
		ChatID:      log.ChatID,
		SenderID:    log.InitiatorID,
		Content:     content,
		MessageType: MessageTypeSystem,
		Metadata:    meta,
		SentAt:      time.Now().UTC(),
	}
}

// FormatCallDuration renders seconds as "m:ss", or "Ns" under a minute
func FormatCallDuration(seconds int) string {
	if seconds < 60 {
		return fmt.Sprintf("%ds", seconds)
	}
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}
