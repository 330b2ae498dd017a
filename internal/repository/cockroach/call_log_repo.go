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

// CallLogRepository handles call log rows
type CallLogRepository struct {
	pool *pgxpool.Pool
}

// NewCallLogRepository creates a new call log repository
func NewCallLogRepository(pool *pgxpool.Pool) *CallLogRepository {
	return &CallLogRepository{pool: pool}
}

// Create inserts a new call log row. Status starts as missed by convention
// until the call is answered.
func (r *CallLogRepository) Create(ctx context.Context, log *domain.CallLog) error {
	query := `
		INSERT INTO call_logs (id, chat_id, initiator_id, type, status, started_at)
		VALUES ($1, $2, $3, $4, $5, now())
		RETURNING started_at
	`

	if log.ID == uuid.Nil {
		log.ID = uuid.New()
	}
	if log.Status == "" {
		log.Status = domain.CallStatusMissed
	}

	err := r.pool.QueryRow(ctx, query,
		log.ID,
		log.ChatID,
		log.InitiatorID,
		log.Type,
		log.Status,
	).Scan(&log.StartedAt)

	if err != nil {
		return fmt.Errorf("failed to create call log: %w", err)
	}

	return nil
}

// UpdateStatus moves the call log to a new status. Terminal statuses
// (ended, declined) are never overwritten.
func (r *CallLogRepository) UpdateStatus(ctx context.Context, callLogID uuid.UUID, status domain.CallStatus) error {
	query := `
		UPDATE call_logs
		SET status = $2
		WHERE id = $1 AND status NOT IN ('ended', 'declined')
	`

	if _, err := r.pool.Exec(ctx, query, callLogID, status); err != nil {
		return fmt.Errorf("failed to update call status: %w", err)
	}

	return nil
}

// End marks the call ended and records its duration
func (r *CallLogRepository) End(ctx context.Context, callLogID uuid.UUID, durationSeconds int) error {
	query := `
		UPDATE call_logs
		SET status = 'ended',
		    ended_at = now(),
		    duration_seconds = $2
		WHERE id = $1 AND status NOT IN ('ended', 'declined')
	`

	if _, err := r.pool.Exec(ctx, query, callLogID, durationSeconds); err != nil {
		return fmt.Errorf("failed to end call log: %w", err)
	}

	return nil
}

// GetByID retrieves a call log by id
func (r *CallLogRepository) GetByID(ctx context.Context, callLogID uuid.UUID) (*domain.CallLog, error) {
	query := `
		SELECT id, chat_id, initiator_id, type, status, started_at, ended_at, duration_seconds
		FROM call_logs
		WHERE id = $1
	`

	log := &domain.CallLog{}
	err := r.pool.QueryRow(ctx, query, callLogID).Scan(
		&log.ID,
		&log.ChatID,
		&log.InitiatorID,
		&log.Type,
		&log.Status,
		&log.StartedAt,
		&log.EndedAt,
		&log.DurationSeconds,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("call log not found")
		}
		return nil, fmt.Errorf("failed to get call log: %w", err)
	}

	return log, nil
}

// ListForUser retrieves call logs for chats the user is an active member of,
// newest first. When missedOnly is set, only missed calls initiated by
// someone else are returned.
func (r *CallLogRepository) ListForUser(ctx context.Context, userID uuid.UUID, missedOnly bool, limit int) ([]*domain.CallLog, error) {
	query := `
		SELECT c.id, c.chat_id, c.initiator_id, c.type, c.status, c.started_at, c.ended_at, c.duration_seconds
		FROM call_logs c
		JOIN chat_members m ON m.chat_id = c.chat_id
		WHERE m.user_id = $1 AND m.left_at IS NULL
	`
	args := []interface{}{userID}

	if missedOnly {
		query += ` AND c.status = 'missed' AND c.initiator_id != $1`
	}

	query += ` ORDER BY c.started_at DESC LIMIT $2`
	args = append(args, limit)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list call logs: %w", err)
	}
	defer rows.Close()

	return scanCallLogs(rows)
}

// ListByChat retrieves call logs for one chat, newest first
func (r *CallLogRepository) ListByChat(ctx context.Context, chatID uuid.UUID, limit int) ([]*domain.CallLog, error) {
	query := `
		SELECT id, chat_id, initiator_id, type, status, started_at, ended_at, duration_seconds
		FROM call_logs
		WHERE chat_id = $1
		ORDER BY started_at DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list chat call logs: %w", err)
	}
	defer rows.Close()

	return scanCallLogs(rows)
}

func scanCallLogs(rows pgx.Rows) ([]*domain.CallLog, error) {
	var logs []*domain.CallLog
	for rows.Next() {
		log := &domain.CallLog{}
		err := rows.Scan(
			&log.ID,
			&log.ChatID,
			&log.InitiatorID,
			&log.Type,
			&log.Status,
			&log.StartedAt,
			&log.EndedAt,
			&log.DurationSeconds,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan call log: %w", err)
		}
		logs = append(logs, log)
	}
	return logs, nil
}
