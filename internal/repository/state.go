package repository

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/opengov-gr/diavgeia-harvester/constants"
	"github.com/opengov-gr/diavgeia-harvester/internal/entity"
	"github.com/opengov-gr/diavgeia-harvester/internal/store"
)

// ErrLostClaim means a transition was attempted without holding the claim.
var ErrLostClaim = errors.New("claim no longer held")

// StateRepository is the coordinator's ledger. All transitions are
// compare-and-set against (ada, owner, in_flight) so two workers can never
// drive the same identifier at once.
type StateRepository interface {
	// Claim marks ada in-flight for owner. Returns the current state and
	// whether the claim was won; a terminal identifier is never claimed.
	Claim(ctx context.Context, ada, owner string) (entity.PipelineState, bool, error)
	// Advance records a completed stage while holding the claim.
	Advance(ctx context.Context, ada, owner string, status constants.StageStatus) error
	// Release drops the claim without changing status (clean cancellation).
	Release(ctx context.Context, ada, owner string) error
	// Fail moves ada to the absorbing FAILED state and drops the claim.
	Fail(ctx context.Context, ada, owner, reason string) error
	// Get returns the state row for ada, or sql.ErrNoRows.
	Get(ctx context.Context, ada string) (entity.PipelineState, error)
	// ReleaseStale recovers claims left behind by a crashed run, rolling any
	// mid-stage status back to the last completed stage.
	ReleaseStale(ctx context.Context, olderThan time.Duration) (int64, error)
	// CountByStatus reports how many identifiers sit in each status.
	CountByStatus(ctx context.Context) (map[constants.StageStatus]int, error)
}

type stateRepo struct {
	db  *sql.DB
	log *slog.Logger
}

func NewStateRepository(db *sql.DB, log *slog.Logger) StateRepository {
	if log == nil {
		log = slog.Default()
	}
	return &stateRepo{db: db, log: log}
}

func (r *stateRepo) Claim(ctx context.Context, ada, owner string) (entity.PipelineState, bool, error) {
	now := time.Now().UTC().Format(timeLayout)

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO pipeline_state (ada, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $3)
		 ON CONFLICT (ada) DO NOTHING`,
		ada, string(constants.StagePending), now)
	if err != nil {
		return entity.PipelineState{}, false, &store.StorageError{Op: "ensure state", Err: err}
	}

	res, err := r.db.ExecContext(ctx,
		`UPDATE pipeline_state
		 SET in_flight = 1, owner = $1, attempts = attempts + 1, updated_at = $2
		 WHERE ada = $3 AND in_flight = 0 AND status NOT IN ($4, $5)`,
		owner, now, ada, string(constants.StageComplete), string(constants.StageFailed))
	if err != nil {
		return entity.PipelineState{}, false, &store.StorageError{Op: "claim", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return entity.PipelineState{}, false, &store.StorageError{Op: "claim", Err: err}
	}

	st, err := r.Get(ctx, ada)
	if err != nil {
		return entity.PipelineState{}, false, err
	}
	if n == 1 {
		return st, true, nil
	}
	return st, false, nil
}

func (r *stateRepo) Advance(ctx context.Context, ada, owner string, status constants.StageStatus) error {
	now := time.Now().UTC().Format(timeLayout)
	res, err := r.db.ExecContext(ctx,
		`UPDATE pipeline_state SET status = $1, updated_at = $2
		 WHERE ada = $3 AND owner = $4 AND in_flight = 1`,
		string(status), now, ada, owner)
	if err != nil {
		return &store.StorageError{Op: "advance", Err: err}
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return ErrLostClaim
	}
	r.log.Debug("state.advance", "ada", ada, "status", status)
	return nil
}

func (r *stateRepo) Release(ctx context.Context, ada, owner string) error {
	now := time.Now().UTC().Format(timeLayout)
	_, err := r.db.ExecContext(ctx,
		`UPDATE pipeline_state SET in_flight = 0, owner = '', updated_at = $1
		 WHERE ada = $2 AND owner = $3`,
		now, ada, owner)
	if err != nil {
		return &store.StorageError{Op: "release", Err: err}
	}
	return nil
}

func (r *stateRepo) Fail(ctx context.Context, ada, owner, reason string) error {
	now := time.Now().UTC().Format(timeLayout)
	res, err := r.db.ExecContext(ctx,
		`UPDATE pipeline_state
		 SET status = $1, last_error = $2, in_flight = 0, owner = '', updated_at = $3
		 WHERE ada = $4 AND owner = $5 AND in_flight = 1`,
		string(constants.StageFailed), reason, now, ada, owner)
	if err != nil {
		return &store.StorageError{Op: "fail", Err: err}
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return ErrLostClaim
	}
	r.log.Warn("state.failed", "ada", ada, "reason", reason)
	return nil
}

func (r *stateRepo) Get(ctx context.Context, ada string) (entity.PipelineState, error) {
	var st entity.PipelineState
	var inFlight int
	var created, updated string
	err := r.db.QueryRowContext(ctx,
		`SELECT ada, status, in_flight, owner, attempts, last_error, created_at, updated_at
		 FROM pipeline_state WHERE ada = $1`, ada).
		Scan(&st.ADA, &st.Status, &inFlight, &st.Owner, &st.Attempts, &st.LastError, &created, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return st, err
		}
		return st, &store.StorageError{Op: "get state", Err: err}
	}
	st.InFlight = inFlight == 1
	st.CreatedAt, _ = time.Parse(timeLayout, created)
	st.UpdatedAt, _ = time.Parse(timeLayout, updated)
	return st, nil
}

// rollback pairs for mid-stage statuses: a crash during a stage resumes at
// the last completed one, never from a transition-in-progress limbo.
var staleRollback = map[constants.StageStatus]constants.StageStatus{
	constants.StageFetching:    constants.StagePending,
	constants.StageExtracting:  constants.StageFetched,
	constants.StageNormalizing: constants.StageExtracted,
}

func (r *stateRepo) ReleaseStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan).Format(timeLayout)
	now := time.Now().UTC().Format(timeLayout)

	var total int64
	for from, to := range staleRollback {
		res, err := r.db.ExecContext(ctx,
			`UPDATE pipeline_state
			 SET status = $1, in_flight = 0, owner = '', updated_at = $2
			 WHERE in_flight = 1 AND status = $3 AND updated_at < $4`,
			string(to), now, string(from), cutoff)
		if err != nil {
			return total, &store.StorageError{Op: "release stale", Err: err}
		}
		n, _ := res.RowsAffected()
		total += n
	}

	res, err := r.db.ExecContext(ctx,
		`UPDATE pipeline_state SET in_flight = 0, owner = '', updated_at = $1
		 WHERE in_flight = 1 AND updated_at < $2`,
		now, cutoff)
	if err != nil {
		return total, &store.StorageError{Op: "release stale", Err: err}
	}
	n, _ := res.RowsAffected()
	total += n

	if total > 0 {
		r.log.Info("state.released_stale", "count", total)
	}
	return total, nil
}

func (r *stateRepo) CountByStatus(ctx context.Context) (map[constants.StageStatus]int, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM pipeline_state GROUP BY status`)
	if err != nil {
		return nil, &store.StorageError{Op: "count", Err: err}
	}
	defer rows.Close()

	out := make(map[constants.StageStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, &store.StorageError{Op: "count", Err: err}
		}
		out[constants.StageStatus(status)] = n
	}
	return out, rows.Err()
}
