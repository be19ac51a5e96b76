package rounds

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/rushboard/rushboard/internal/platform/db"
)

// LockCycle bumps the cycle's transition sequence. The write takes the row lock and
// makes a concurrent serializable transition fail with 40001 so it replays on fresh state.
func (t *txRepository) LockCycle(ctx context.Context, cycleID uuid.UUID) (string, error) {
	var status string
	err := t.tx.QueryRow(ctx, `UPDATE cycles SET transition_seq = transition_seq + 1 WHERE id = $1 RETURNING status`, cycleID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrCycleNotFound
	}
	return status, err
}

func (t *txRepository) CycleStatus(ctx context.Context, cycleID uuid.UUID) (string, error) {
	var status string
	err := t.tx.QueryRow(ctx, `SELECT status FROM cycles WHERE id = $1 FOR SHARE`, cycleID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrCycleNotFound
	}
	return status, err
}

func (t *txRepository) GetRound(ctx context.Context, id uuid.UUID) (Round, error) {
	return scanRound(t.tx.QueryRow(ctx, `SELECT `+roundColumns+` FROM rounds r WHERE r.id = $1 FOR UPDATE`, id))
}

func (t *txRepository) CurrentOpenRound(ctx context.Context, cycleID uuid.UUID) (*Round, error) {
	return currentOpen(ctx, t.tx, cycleID)
}

// SetRoundStatus stamps opened_at or closed_at according to the target status.
// Re-opening a closed round clears closed_at.
func (t *txRepository) SetRoundStatus(ctx context.Context, id uuid.UUID, status RoundStatus, at time.Time) error {
	var query string
	switch status {
	case RoundStatusOpen:
		query = `UPDATE rounds SET status = 'open', opened_at = $2, closed_at = NULL WHERE id = $1`
	case RoundStatusClosed:
		query = `UPDATE rounds SET status = 'closed', closed_at = $2, voting_open = FALSE WHERE id = $1`
	default:
		return fmt.Errorf("rounds: cannot move round to %q", status)
	}
	tag, err := t.tx.Exec(ctx, query, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRoundNotFound
	}
	return nil
}

func (t *txRepository) GetEvent(ctx context.Context, id uuid.UUID) (Event, error) {
	return scanEvent(t.tx.QueryRow(ctx, `
		SELECT `+eventColumns+`
		FROM events e JOIN rounds r ON r.event_id = e.id
		WHERE e.id = $1
		FOR UPDATE OF e, r`, id))
}

func (t *txRepository) InsertEvent(ctx context.Context, ev Event) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO events (id, cycle_id, name, name_key, starts_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		ev.ID, ev.CycleID, ev.Name, nameKey(ev.Name), ev.StartsAt, ev.CreatedAt)
	if db.IsUniqueViolation(err) {
		return ErrDuplicateEventName
	}
	return err
}

func (t *txRepository) InsertRound(ctx context.Context, round Round) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO rounds (id, event_id, cycle_id, type, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		round.ID, round.EventID, round.CycleID, round.Type, round.Status, round.CreatedAt)
	return err
}

func (t *txRepository) UpdateEvent(ctx context.Context, ev Event) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE events SET name = $2, name_key = $3, starts_at = $4
		WHERE id = $1`, ev.ID, ev.Name, nameKey(ev.Name), ev.StartsAt)
	if db.IsUniqueViolation(err) {
		return ErrDuplicateEventName
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrEventNotFound
	}
	return nil
}

// DeleteEvent removes the event and its round.
func (t *txRepository) DeleteEvent(ctx context.Context, ev Event) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM rounds WHERE id = $1`, ev.RoundID); err != nil {
		return err
	}
	tag, err := t.tx.Exec(ctx, `DELETE FROM events WHERE id = $1`, ev.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrEventNotFound
	}
	return nil
}
