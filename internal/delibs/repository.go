package delibs

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rushboard/rushboard/internal/platform/db"
)

// Repository defines persistence for delibs control state.
type Repository interface {
	GetState(ctx context.Context, roundID uuid.UUID) (State, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	LockState(ctx context.Context, roundID uuid.UUID) (State, error)
	ApplyControl(ctx context.Context, patch ControlPatch) (State, error)
}

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

// WithTx wraps callback in a serializable transaction. Control patches race
// overrides and closes on the same rounds row, so conflicts are replayed.
func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithSerializableTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const stateColumns = `id, cycle_id, type, status, current_pnm_id, voting_open, results_revealed, sealed_pnm_ids, sealed_results`

func scanState(row pgx.Row) (State, error) {
	var (
		st     State
		sealed []string
	)
	err := row.Scan(&st.RoundID, &st.CycleID, &st.Type, &st.Status, &st.CurrentPNMID,
		&st.VotingOpen, &st.ResultsRevealed, &sealed, &st.SealedResults)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return State{}, ErrRoundNotFound
		}
		return State{}, err
	}
	st.SealedPNMIDs = make([]uuid.UUID, 0, len(sealed))
	for _, raw := range sealed {
		id, err := uuid.Parse(raw)
		if err != nil {
			return State{}, fmt.Errorf("delibs: sealed pnm id %q: %w", raw, err)
		}
		st.SealedPNMIDs = append(st.SealedPNMIDs, id)
	}
	return st, nil
}

// GetState returns the control state of a round.
func (r *repository) GetState(ctx context.Context, roundID uuid.UUID) (State, error) {
	return scanState(r.pool.QueryRow(ctx, `SELECT `+stateColumns+` FROM rounds WHERE id = $1`, roundID))
}

func (t *txRepository) LockState(ctx context.Context, roundID uuid.UUID) (State, error) {
	return scanState(t.tx.QueryRow(ctx, `SELECT `+stateColumns+` FROM rounds WHERE id = $1 FOR UPDATE`, roundID))
}

// ApplyControl writes only the columns the patch names.
func (t *txRepository) ApplyControl(ctx context.Context, patch ControlPatch) (State, error) {
	var (
		setClauses []string
		args       []any
	)
	set := func(column string, value any) {
		args = append(args, value)
		setClauses = append(setClauses, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	switch {
	case patch.ClearCurrentPNM:
		set("current_pnm_id", nil)
	case patch.CurrentPNMID != nil:
		set("current_pnm_id", *patch.CurrentPNMID)
	}
	if patch.VotingOpen != nil {
		set("voting_open", *patch.VotingOpen)
	}
	if patch.ResultsRevealed != nil {
		set("results_revealed", *patch.ResultsRevealed)
	}
	if patch.SealedPNMIDs != nil {
		ids := dedupe(*patch.SealedPNMIDs)
		raw := make([]string, 0, len(ids))
		for _, id := range ids {
			raw = append(raw, id.String())
		}
		set("sealed_pnm_ids", raw)
	}
	if patch.SealedResults != nil {
		if isNull(patch.SealedResults) {
			set("sealed_results", nil)
		} else {
			set("sealed_results", string(patch.SealedResults))
		}
	}
	if len(setClauses) == 0 {
		return State{}, ErrEmptyPatch
	}

	args = append(args, patch.RoundID)
	query := fmt.Sprintf(`UPDATE rounds SET %s WHERE id = $%d RETURNING %s`,
		strings.Join(setClauses, ", "), len(args), stateColumns)
	return scanState(t.tx.QueryRow(ctx, query, args...))
}
