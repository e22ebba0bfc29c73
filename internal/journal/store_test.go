package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"simpool/internal/pool"
)

func openTempStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRecordAndListRounds(t *testing.T) {
	ctx := context.Background()
	store := openTempStore(t)

	runID, err := store.StartRun(ctx, 2)
	require.NoError(t, err)
	rec := store.Recorder(runID)

	require.NoError(t, rec.RecordRound(ctx, 1, []pool.WorkerRecord{
		{Worker: 0, Reward: 0.5, State: pool.Alive},
		{Worker: 1, Reward: -0.1, State: pool.Alive},
	}))
	require.NoError(t, rec.RecordRound(ctx, 2, []pool.WorkerRecord{
		{Worker: 0, Reward: 1, Done: true, State: pool.Alive},
		{Worker: 1, Done: true, State: pool.Errored, Fault: "ipc_timeout"},
	}))

	rounds, err := store.ListRounds(ctx, runID, 10)
	require.NoError(t, err)
	require.Len(t, rounds, 4)
	require.Equal(t, 2, rounds[0].Round)
	require.Equal(t, 0, rounds[0].Worker)
	require.True(t, rounds[0].Done)
	require.Equal(t, "errored", rounds[1].State)
	require.Equal(t, "ipc_timeout", rounds[1].Fault)
	require.Equal(t, 1, rounds[3].Round)

	limited, err := store.ListRounds(ctx, runID, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
}

func TestDuplicateRoundRollsBack(t *testing.T) {
	ctx := context.Background()
	store := openTempStore(t)
	runID, err := store.StartRun(ctx, 1)
	require.NoError(t, err)

	require.NoError(t, store.RecordRound(ctx, runID, 1, []pool.WorkerRecord{{Worker: 0}}))
	err = store.RecordRound(ctx, runID, 2, []pool.WorkerRecord{{Worker: 0}, {Worker: 0}})
	require.Error(t, err)

	rounds, err := store.ListRounds(ctx, runID, 10)
	require.NoError(t, err)
	require.Len(t, rounds, 1)
}

func TestRunsNewestFirst(t *testing.T) {
	ctx := context.Background()
	store := openTempStore(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	first, err := store.StartRun(ctx, 2)
	require.NoError(t, err)
	require.NoError(t, store.RecordRound(ctx, first, 1, []pool.WorkerRecord{{Worker: 0, Reward: 1.5}, {Worker: 1, Reward: 0.5}}))
	require.NoError(t, store.FinishRun(ctx, first, 1, StatusFinished))

	now = now.Add(time.Minute)
	second, err := store.StartRun(ctx, 3)
	require.NoError(t, err)

	runs, err := store.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	require.Equal(t, second, runs[0].ID)
	require.Equal(t, StatusRunning, runs[0].Status)
	require.True(t, runs[0].FinishedAt.IsZero())

	require.Equal(t, first, runs[1].ID)
	require.Equal(t, StatusFinished, runs[1].Status)
	require.Equal(t, 1, runs[1].Rounds)
	require.InDelta(t, 2.0, runs[1].TotalReward, 1e-9)
	require.Equal(t, now.Add(-time.Minute), runs[1].StartedAt)
}

func TestStoreValidation(t *testing.T) {
	ctx := context.Background()
	_, err := Open(" ")
	require.Error(t, err)

	store := openTempStore(t)
	require.Error(t, store.FinishRun(ctx, "missing", 0, StatusFailed))
	require.Error(t, store.RecordRound(ctx, "", 1, nil))
	_, err = store.ListRuns(ctx, 0)
	require.Error(t, err)

	var nilStore *Store
	require.NoError(t, nilStore.Close())
	_, err = nilStore.StartRun(ctx, 1)
	require.Error(t, err)
}

func TestReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "journal.db")
	store, err := Open(path)
	require.NoError(t, err)
	runID, err := store.StartRun(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	store, err = Open(path)
	require.NoError(t, err)
	defer store.Close()
	runs, err := store.ListRuns(ctx, 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, runID, runs[0].ID)
}
