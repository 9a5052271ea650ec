package persistence

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viddl/viddl/internal/jobs"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "jobs.db"), time.Hour)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func createDownload(t *testing.T, store *SQLiteStore, url string) *jobs.Job {
	t.Helper()
	job, err := store.Create(jobs.NewJob{
		Kind:     jobs.KindDownload,
		Input:    url,
		Platform: "youtube",
		Options:  jobs.Options{Format: "mp4", Quality: "high"},
	})
	require.NoError(t, err)
	return job
}

func TestSQLiteStore_CreateAndGetRoundTrip(t *testing.T) {
	store := newTestStore(t)

	job, err := store.Create(jobs.NewJob{
		Kind:  jobs.KindWatermark,
		Input: "/data/uploads/in.mp4",
		Options: jobs.Options{
			WatermarkText:     "viddl",
			WatermarkPosition: "top-left",
		},
	})
	require.NoError(t, err)

	got, err := store.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, jobs.KindWatermark, got.Kind)
	assert.Equal(t, "/data/uploads/in.mp4", got.Input)
	assert.Equal(t, jobs.StatusPending, got.Status)
	assert.Equal(t, 0, got.Progress)
	assert.Equal(t, "viddl", got.Options.WatermarkText)
	assert.Equal(t, "top-left", got.Options.WatermarkPosition)
	assert.True(t, got.CompletedAt.IsZero())
	assert.True(t, got.ExpiresAt.After(got.CreatedAt))
}

func TestSQLiteStore_UnknownIDIsNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Get("nope")
	require.ErrorIs(t, err, jobs.ErrNotFound)
	require.ErrorIs(t, store.SetProgress("nope", 50), jobs.ErrNotFound)
	require.ErrorIs(t, store.SetTitle("nope", "t"), jobs.ErrNotFound)
	require.ErrorIs(t, store.Delete("nope"), jobs.ErrNotFound)
}

func TestSQLiteStore_TerminalStatesAreSticky(t *testing.T) {
	store := newTestStore(t)
	job := createDownload(t, store, "https://youtu.be/a")

	require.NoError(t, store.SetStatus(job.ID, jobs.StatusCompleted, 100))

	require.ErrorIs(t, store.SetStatus(job.ID, jobs.StatusProcessing, 10), jobs.ErrTerminal)
	require.ErrorIs(t, store.SetProgress(job.ID, 50), jobs.ErrTerminal)
	require.ErrorIs(t, store.SetError(job.ID, "late failure"), jobs.ErrTerminal)

	got, err := store.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusCompleted, got.Status)
	assert.Equal(t, 100, got.Progress)
	assert.Empty(t, got.Error)
	assert.False(t, got.CompletedAt.IsZero())
}

func TestSQLiteStore_SetErrorForcesFailed(t *testing.T) {
	store := newTestStore(t)
	job := createDownload(t, store, "https://youtu.be/a")

	require.NoError(t, store.SetStatus(job.ID, jobs.StatusProcessing, 40))
	require.NoError(t, store.SetError(job.ID, "download failed: HTTP 403"))

	got, err := store.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusFailed, got.Status)
	assert.Equal(t, "download failed: HTTP 403", got.Error)
	assert.False(t, got.CompletedAt.IsZero())
}

func TestSQLiteStore_ProgressIsMonotonic(t *testing.T) {
	store := newTestStore(t)
	job := createDownload(t, store, "https://youtu.be/a")

	require.NoError(t, store.SetProgress(job.ID, 40))
	require.NoError(t, store.SetProgress(job.ID, 20))

	got, err := store.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, 40, got.Progress)
}

func TestSQLiteStore_FieldMutations(t *testing.T) {
	store := newTestStore(t)
	job := createDownload(t, store, "https://youtu.be/a")

	require.NoError(t, store.SetTitle(job.ID, "Never Gonna Give You Up"))
	require.NoError(t, store.SetOutput(job.ID, "/data/downloads/"+job.ID+".mp4"))
	require.NoError(t, store.SetDownloadURL(job.ID, "/api/jobs/"+job.ID+"/file"))

	got, err := store.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, "Never Gonna Give You Up", got.Title)
	assert.Equal(t, "/data/downloads/"+job.ID+".mp4", got.OutputPath)
	assert.Equal(t, "/api/jobs/"+job.ID+"/file", got.DownloadURL)
}

func TestSQLiteStore_ListOrderedByCreation(t *testing.T) {
	store := newTestStore(t)

	a := createDownload(t, store, "https://youtu.be/a")
	time.Sleep(5 * time.Millisecond)
	b := createDownload(t, store, "https://youtu.be/b")

	list, err := store.List()
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, a.ID, list[0].ID)
	assert.Equal(t, b.ID, list[1].ID)
}

func TestSQLiteStore_ListExpiredAndDelete(t *testing.T) {
	store := newTestStore(t)
	job := createDownload(t, store, "https://youtu.be/a")

	expired, err := store.ListExpired(time.Now())
	require.NoError(t, err)
	assert.Empty(t, expired)

	expired, err = store.ListExpired(time.Now().Add(2 * time.Hour))
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, job.ID, expired[0].ID)

	require.NoError(t, store.Delete(job.ID))
	_, err = store.Get(job.ID)
	require.ErrorIs(t, err, jobs.ErrNotFound)
}

func TestSQLiteStore_RecordsSurviveReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.db")

	store, err := NewSQLiteStore(path, time.Hour)
	require.NoError(t, err)
	job := createDownload(t, store, "https://youtu.be/a")
	require.NoError(t, store.SetStatus(job.ID, jobs.StatusProcessing, 40))
	require.NoError(t, store.Close())

	reopened, err := NewSQLiteStore(path, time.Hour)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusProcessing, got.Status)
	assert.Equal(t, 40, got.Progress)
}

func TestSQLiteStore_QueueRequeuesInterruptedJobsAfterRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.db")

	store, err := NewSQLiteStore(path, time.Hour)
	require.NoError(t, err)
	job := createDownload(t, store, "https://youtu.be/interrupted")
	require.NoError(t, store.SetStatus(job.ID, jobs.StatusProcessing, 40))
	require.NoError(t, store.Close())

	reopened, err := NewSQLiteStore(path, time.Hour)
	require.NoError(t, err)
	defer reopened.Close()

	queue := jobs.NewQueue(1, reopened)
	queue.Start(completingRunner{})
	defer queue.Stop()

	require.Eventually(t, func() bool {
		got, err := reopened.Get(job.ID)
		return err == nil && got.Status == jobs.StatusCompleted
	}, 2*time.Second, 10*time.Millisecond)
}

type completingRunner struct{}

func (completingRunner) Run(_ context.Context, job *jobs.Job, progress func(int)) (jobs.RunResult, error) {
	progress(50)
	return jobs.RunResult{OutputPath: "/tmp/" + job.ID + ".mp4"}, nil
}
