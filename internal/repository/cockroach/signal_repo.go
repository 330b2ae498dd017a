package cockroach

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"zemichat-backend/internal/domain"
)

// SignalRepository handles call signal rows. Signals are insert-only;
// a new intention is always a new row.
type SignalRepository struct {
	pool *pgxpool.Pool
}

// NewSignalRepository creates a new signal repository
func NewSignalRepository(pool *pgxpool.Pool) *SignalRepository {
	return &SignalRepository{pool: pool}
}

// Insert creates a new signal row
func (r *SignalRepository) Insert(ctx context.Context, signal *domain.CallSignal) error {
	query := `
		INSERT INTO call_signals (id, chat_id, call_log_id, caller_id, signal_type, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`

	if signal.ID == uuid.Nil {
		signal.ID = uuid.New()
	}

	err := r.pool.QueryRow(ctx, query,
		signal.ID,
		signal.ChatID,
		signal.CallLogID,
		signal.CallerID,
		signal.Type,
		signal.ExpiresAt,
	).Scan(&signal.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to insert call signal: %w", err)
	}

	return nil
}

// Delete removes a signal row. The caller constraint mirrors the store's
// row security: only the emitter may delete its own signals.
func (r *SignalRepository) Delete(ctx context.Context, signalID, callerID uuid.UUID) error {
	query := `DELETE FROM call_signals WHERE id = $1 AND caller_id = $2`

	if _, err := r.pool.Exec(ctx, query, signalID, callerID); err != nil {
		return fmt.Errorf("failed to delete call signal: %w", err)
	}

	return nil
}

// DeleteOwn removes every signal callerID emitted for a call
func (r *SignalRepository) DeleteOwn(ctx context.Context, callLogID, callerID uuid.UUID) error {
	query := `DELETE FROM call_signals WHERE call_log_id = $1 AND caller_id = $2`

	if _, err := r.pool.Exec(ctx, query, callLogID, callerID); err != nil {
		return fmt.Errorf("failed to delete own call signals: %w", err)
	}

	return nil
}

// DeleteForCall removes all lingering signal rows for a call log
func (r *SignalRepository) DeleteForCall(ctx context.Context, callLogID uuid.UUID) error {
	query := `DELETE FROM call_signals WHERE call_log_id = $1`

	if _, err := r.pool.Exec(ctx, query, callLogID); err != nil {
		return fmt.Errorf("failed to delete call signals: %w", err)
	}

	return nil
}

// DeleteExpired removes rows past their expiry. Run periodically; receivers
// already ignore stale rows, this is storage hygiene.
func (r *SignalRepository) DeleteExpired(ctx context.Context) (int64, error) {
	query := `DELETE FROM call_signals WHERE expires_at < now()`

	tag, err := r.pool.Exec(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired signals: %w", err)
	}

	return tag.RowsAffected(), nil
}
