package repository

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opengov-gr/diavgeia-harvester/constants"
	"github.com/opengov-gr/diavgeia-harvester/internal/logging"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := Open(context.Background(), filepath.Join(t.TempDir(), "pipeline.db"), logging.New("error"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestClaimLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := NewStateRepository(openTestDB(t), nil)

	st, claimed, err := repo.Claim(ctx, "Ω123", "worker-a")
	require.NoError(t, err)
	require.True(t, claimed)
	assert.Equal(t, constants.StagePending, st.Status)
	assert.True(t, st.InFlight)
	assert.Equal(t, 1, st.Attempts)

	// a second claimant is rejected while the first holds the claim
	st2, claimed2, err := repo.Claim(ctx, "Ω123", "worker-b")
	require.NoError(t, err)
	assert.False(t, claimed2)
	assert.Equal(t, "worker-a", st2.Owner)

	require.NoError(t, repo.Advance(ctx, "Ω123", "worker-a", constants.StageFetched))
	require.NoError(t, repo.Release(ctx, "Ω123", "worker-a"))

	// after release the identifier is claimable again, resuming at FETCHED
	st3, claimed3, err := repo.Claim(ctx, "Ω123", "worker-b")
	require.NoError(t, err)
	require.True(t, claimed3)
	assert.Equal(t, constants.StageFetched, st3.Status)
	assert.Equal(t, 2, st3.Attempts)
}

func TestClaimTerminalStatesRejected(t *testing.T) {
	ctx := context.Background()
	repo := NewStateRepository(openTestDB(t), nil)

	_, claimed, err := repo.Claim(ctx, "Ω123", "a")
	require.NoError(t, err)
	require.True(t, claimed)
	require.NoError(t, repo.Advance(ctx, "Ω123", "a", constants.StageComplete))
	require.NoError(t, repo.Release(ctx, "Ω123", "a"))

	st, claimed, err := repo.Claim(ctx, "Ω123", "b")
	require.NoError(t, err)
	assert.False(t, claimed, "COMPLETE is terminal")
	assert.Equal(t, constants.StageComplete, st.Status)

	_, claimed, err = repo.Claim(ctx, "Ω456", "a")
	require.NoError(t, err)
	require.True(t, claimed)
	require.NoError(t, repo.Fail(ctx, "Ω456", "a", "document gone"))

	st, claimed, err = repo.Claim(ctx, "Ω456", "b")
	require.NoError(t, err)
	assert.False(t, claimed, "FAILED is absorbing")
	assert.Equal(t, "document gone", st.LastError)
	assert.False(t, st.InFlight)
}

func TestAdvanceWithoutClaim(t *testing.T) {
	ctx := context.Background()
	repo := NewStateRepository(openTestDB(t), nil)

	_, claimed, err := repo.Claim(ctx, "Ω123", "a")
	require.NoError(t, err)
	require.True(t, claimed)

	err = repo.Advance(ctx, "Ω123", "not-the-owner", constants.StageFetched)
	assert.ErrorIs(t, err, ErrLostClaim)

	require.NoError(t, repo.Release(ctx, "Ω123", "a"))
	err = repo.Advance(ctx, "Ω123", "a", constants.StageFetched)
	assert.ErrorIs(t, err, ErrLostClaim, "released claim cannot advance")
}

func TestReleaseStaleRollsBackMidStage(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	repo := NewStateRepository(db, nil)

	_, claimed, err := repo.Claim(ctx, "Ω123", "dead-worker")
	require.NoError(t, err)
	require.True(t, claimed)
	require.NoError(t, repo.Advance(ctx, "Ω123", "dead-worker", constants.StageExtracting))

	// backdate the row to simulate a crash long ago
	old := time.Now().UTC().Add(-2 * time.Hour).Format(timeLayout)
	_, err = db.ExecContext(ctx, `UPDATE pipeline_state SET updated_at = $1 WHERE ada = $2`, old, "Ω123")
	require.NoError(t, err)

	n, err := repo.ReleaseStale(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	st, err := repo.Get(ctx, "Ω123")
	require.NoError(t, err)
	assert.Equal(t, constants.StageFetched, st.Status, "EXTRACTING rolls back to FETCHED")
	assert.False(t, st.InFlight)

	// fresh claims are left alone
	_, claimed, err = repo.Claim(ctx, "Ω456", "live-worker")
	require.NoError(t, err)
	require.True(t, claimed)
	n, err = repo.ReleaseStale(ctx, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCountByStatus(t *testing.T) {
	ctx := context.Background()
	repo := NewStateRepository(openTestDB(t), nil)

	for _, ada := range []string{"Α1", "Α2", "Α3"} {
		_, claimed, err := repo.Claim(ctx, ada, "w")
		require.NoError(t, err)
		require.True(t, claimed)
	}
	require.NoError(t, repo.Advance(ctx, "Α1", "w", constants.StageComplete))
	require.NoError(t, repo.Release(ctx, "Α1", "w"))
	require.NoError(t, repo.Fail(ctx, "Α2", "w", "x"))

	counts, err := repo.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[constants.StageComplete])
	assert.Equal(t, 1, counts[constants.StageFailed])
	assert.Equal(t, 1, counts[constants.StagePending])
}
