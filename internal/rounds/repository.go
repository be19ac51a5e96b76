package rounds

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rushboard/rushboard/internal/platform/db"
)

// Repository defines persistence for rounds and their scheduling events.
type Repository interface {
	GetRound(ctx context.Context, id uuid.UUID) (Round, error)
	ListRounds(ctx context.Context, cycleID uuid.UUID) ([]Round, error)
	CurrentOpenRound(ctx context.Context, cycleID uuid.UUID) (*Round, error)

	GetEvent(ctx context.Context, id uuid.UUID) (Event, error)
	ListEvents(ctx context.Context, cycleID uuid.UUID) ([]Event, error)
	DueEvents(ctx context.Context, cycleID uuid.UUID, now time.Time) ([]Event, error)
	NextEvent(ctx context.Context, cycleID uuid.UUID, now time.Time) (*Event, error)

	// Write operations (transactional)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	// LockCycle takes the cycle row lock that serialises transitions and returns the cycle status.
	LockCycle(ctx context.Context, cycleID uuid.UUID) (string, error)
	CycleStatus(ctx context.Context, cycleID uuid.UUID) (string, error)

	GetRound(ctx context.Context, id uuid.UUID) (Round, error)
	CurrentOpenRound(ctx context.Context, cycleID uuid.UUID) (*Round, error)
	SetRoundStatus(ctx context.Context, id uuid.UUID, status RoundStatus, at time.Time) error

	GetEvent(ctx context.Context, id uuid.UUID) (Event, error)
	InsertEvent(ctx context.Context, ev Event) error
	InsertRound(ctx context.Context, round Round) error
	UpdateEvent(ctx context.Context, ev Event) error
	DeleteEvent(ctx context.Context, ev Event) error
}

// repository implements Repository using pgxpool.
type repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx wraps callback in a serializable transaction, replayed on serialization failures.
func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithSerializableTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const roundColumns = `r.id, r.event_id, r.cycle_id, r.type, r.status, r.opened_at, r.closed_at,
	r.current_pnm_id, r.voting_open, r.results_revealed, r.sealed_pnm_ids, r.sealed_results, r.created_at`

const eventColumns = `e.id, e.cycle_id, e.name, e.starts_at, e.created_at, r.id, r.type, r.status`

func scanRound(row pgx.Row) (Round, error) {
	var (
		round  Round
		sealed []string
	)
	err := row.Scan(
		&round.ID, &round.EventID, &round.CycleID, &round.Type, &round.Status,
		&round.OpenedAt, &round.ClosedAt, &round.CurrentPNMID, &round.VotingOpen,
		&round.ResultsRevealed, &sealed, &round.SealedResults, &round.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Round{}, ErrRoundNotFound
		}
		return Round{}, err
	}
	round.SealedPNMIDs, err = parseIDs(sealed)
	if err != nil {
		return Round{}, err
	}
	return round, nil
}

func scanEvent(row pgx.Row) (Event, error) {
	var ev Event
	err := row.Scan(&ev.ID, &ev.CycleID, &ev.Name, &ev.StartsAt, &ev.CreatedAt,
		&ev.RoundID, &ev.RoundType, &ev.RoundStatus)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Event{}, ErrEventNotFound
		}
		return Event{}, err
	}
	return ev, nil
}

func parseIDs(raw []string) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(raw))
	for _, s := range raw {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("rounds: sealed pnm id %q: %w", s, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// GetRound retrieves a round by id.
func (r *repository) GetRound(ctx context.Context, id uuid.UUID) (Round, error) {
	return scanRound(r.pool.QueryRow(ctx, `SELECT `+roundColumns+` FROM rounds r WHERE r.id = $1`, id))
}

// ListRounds returns the cycle's rounds in schedule order.
func (r *repository) ListRounds(ctx context.Context, cycleID uuid.UUID) ([]Round, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+roundColumns+`
		FROM rounds r
		JOIN events e ON e.id = r.event_id
		WHERE r.cycle_id = $1
		ORDER BY e.starts_at, e.id`, cycleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Round
	for rows.Next() {
		round, err := scanRound(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, round)
	}
	return out, rows.Err()
}

// CurrentOpenRound returns the open round of the cycle, or nil.
func (r *repository) CurrentOpenRound(ctx context.Context, cycleID uuid.UUID) (*Round, error) {
	return currentOpen(ctx, r.pool, cycleID)
}

// GetEvent retrieves an event together with its round summary.
func (r *repository) GetEvent(ctx context.Context, id uuid.UUID) (Event, error) {
	return scanEvent(r.pool.QueryRow(ctx, `
		SELECT `+eventColumns+`
		FROM events e JOIN rounds r ON r.event_id = e.id
		WHERE e.id = $1`, id))
}

// ListEvents returns the cycle's events ordered by start time.
func (r *repository) ListEvents(ctx context.Context, cycleID uuid.UUID) ([]Event, error) {
	return r.queryEvents(ctx, `
		SELECT `+eventColumns+`
		FROM events e JOIN rounds r ON r.event_id = e.id
		WHERE e.cycle_id = $1
		ORDER BY e.starts_at, e.id`, cycleID)
}

// DueEvents returns started events whose round is still pending, latest first.
func (r *repository) DueEvents(ctx context.Context, cycleID uuid.UUID, now time.Time) ([]Event, error) {
	return r.queryEvents(ctx, `
		SELECT `+eventColumns+`
		FROM events e JOIN rounds r ON r.event_id = e.id
		WHERE e.cycle_id = $1 AND e.starts_at <= $2 AND r.status = 'pending'
		ORDER BY e.starts_at DESC, e.id ASC`, cycleID, now)
}

// NextEvent returns the earliest event starting after now, or nil.
func (r *repository) NextEvent(ctx context.Context, cycleID uuid.UUID, now time.Time) (*Event, error) {
	ev, err := scanEvent(r.pool.QueryRow(ctx, `
		SELECT `+eventColumns+`
		FROM events e JOIN rounds r ON r.event_id = e.id
		WHERE e.cycle_id = $1 AND e.starts_at > $2
		ORDER BY e.starts_at ASC, e.id ASC
		LIMIT 1`, cycleID, now))
	if errors.Is(err, ErrEventNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

func (r *repository) queryEvents(ctx context.Context, query string, args ...any) ([]Event, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func currentOpen(ctx context.Context, q querier, cycleID uuid.UUID) (*Round, error) {
	round, err := scanRound(q.QueryRow(ctx, `SELECT `+roundColumns+` FROM rounds r WHERE r.cycle_id = $1 AND r.status = 'open'`, cycleID))
	if errors.Is(err, ErrRoundNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &round, nil
}
