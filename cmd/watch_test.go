package cmd

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"copycat/throughput"
	"copycat/types"
)

type fakeSource struct {
	events []types.ProgressEvent
	rate   float64
	eta    throughput.ETA
}

func (s *fakeSource) Snapshot() []types.ProgressEvent { return s.events }
func (s *fakeSource) Rate(int64) float64              { return s.rate }
func (s *fakeSource) ETA(int64) throughput.ETA        { return s.eta }

type fakeJobs struct {
	mu          sync.Mutex
	jobs        map[int64]*types.CopyJob
	lookups     int
	invalidated int
}

func (f *fakeJobs) Job(_ context.Context, id int64) (*types.CopyJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	job, ok := f.jobs[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return job, nil
}

func (f *fakeJobs) InvalidateJobs() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated++
}

func (f *fakeJobs) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lookups, f.invalidated
}

func processing(id, copied, total int64) types.ProgressEvent {
	return types.ProgressEvent{
		JobID:           id,
		Status:          types.JobStatusProcessing,
		ProgressPercent: float64(copied) / float64(total) * 100,
		CopiedBytes:     copied,
		TotalBytes:      total,
	}
}

func TestWatcherRendersRateAndETA(t *testing.T) {
	src := &fakeSource{
		events: []types.ProgressEvent{processing(42, 2_000_000, 10_000_000)},
		rate:   2_000_000,
		eta:    throughput.ETA{Kind: throughput.ETARemaining, Remaining: 4 * time.Second},
	}
	jobs := &fakeJobs{jobs: map[int64]*types.CopyJob{
		42: {ID: 42, SourcePath: "/source/movies/Heat (1995)", MediaTitle: "Heat", MediaYear: 1995},
	}}
	var out bytes.Buffer
	w := newWatcher(&out, src, jobs, watchOptions{})

	assert.False(t, w.render(context.Background()))
	assert.Contains(t, out.String(), "job 42")
	assert.Contains(t, out.String(), "1.9 MiB/s ~4s")

	require.Eventually(t, func() bool {
		w.mu.Lock()
		defer w.mu.Unlock()
		return w.labels[42] != ""
	}, time.Second, 5*time.Millisecond)

	src.events = []types.ProgressEvent{processing(42, 4_000_000, 10_000_000)}
	out.Reset()
	w.render(context.Background())
	assert.Contains(t, out.String(), "#42 Heat (1995)")

	lookups, _ := jobs.counts()
	assert.Equal(t, 1, lookups)
}

func TestWatcherPrintsOnlyChangesWithoutTerminal(t *testing.T) {
	src := &fakeSource{events: []types.ProgressEvent{processing(1, 10, 100)}}
	var out bytes.Buffer
	w := newWatcher(&out, src, &fakeJobs{}, watchOptions{})

	w.render(context.Background())
	require.NotEmpty(t, out.String())

	out.Reset()
	w.render(context.Background())
	assert.Empty(t, out.String())
}

func TestWatcherExitWhenJobsFinish(t *testing.T) {
	src := &fakeSource{}
	jobs := &fakeJobs{}
	var out bytes.Buffer
	w := newWatcher(&out, src, jobs, watchOptions{jobs: []int64{1, 2}, exit: true})

	// nothing seen yet
	assert.False(t, w.render(context.Background()))

	done := types.ProgressEvent{JobID: 1, Status: types.JobStatusCompleted, ProgressPercent: 100, CopiedBytes: 100, TotalBytes: 100}
	src.events = []types.ProgressEvent{done, processing(2, 5, 10), processing(3, 1, 10)}
	assert.False(t, w.render(context.Background()))
	assert.NotContains(t, out.String(), "job 3")

	_, invalidated := jobs.counts()
	assert.Equal(t, 1, invalidated)

	failed := types.ProgressEvent{JobID: 2, Status: types.JobStatusFailed, CopiedBytes: 5, TotalBytes: 10}
	src.events = []types.ProgressEvent{done, failed}
	assert.True(t, w.render(context.Background()))
	assert.Contains(t, out.String(), "failed")

	_, invalidated = jobs.counts()
	assert.Equal(t, 2, invalidated)

	// terminal jobs are not invalidated twice
	w.render(context.Background())
	_, invalidated = jobs.counts()
	assert.Equal(t, 2, invalidated)
}

func TestWatcherRunReturnsWhenDone(t *testing.T) {
	src := &fakeSource{events: []types.ProgressEvent{
		{JobID: 9, Status: types.JobStatusCancelled, CopiedBytes: 1, TotalBytes: 10},
	}}
	w := newWatcher(&bytes.Buffer{}, src, &fakeJobs{}, watchOptions{exit: true, interval: 10 * time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, w.run(ctx))
	assert.NoError(t, ctx.Err())
}

func TestParsePriority(t *testing.T) {
	for in, want := range map[string]int{"low": 0, "normal": 1, "high": 2, "2": 2} {
		got, err := parsePriority(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := parsePriority("urgent")
	assert.Error(t, err)
}

func TestParseJobIDs(t *testing.T) {
	ids, err := parseJobIDs([]string{"3", "1"})
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 1}, ids)

	_, err = parseJobIDs([]string{"x"})
	assert.Error(t, err)
	_, err = parseJobIDs([]string{"0"})
	assert.Error(t, err)
}

func TestWatcherSeedsFilteredJobs(t *testing.T) {
	msg := "disk full"
	jobs := &fakeJobs{jobs: map[int64]*types.CopyJob{
		5: {ID: 5, SourcePath: "/source/a.mkv", Status: types.JobStatusFailed, ErrorMessage: &msg, TotalBytes: 10, CopiedBytes: 3},
	}}
	var out bytes.Buffer
	w := newWatcher(&out, &fakeSource{}, jobs, watchOptions{jobs: []int64{5}, exit: true, interval: 10 * time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, w.run(ctx))
	require.NoError(t, ctx.Err())

	assertContains := func(s string) { assert.Contains(t, out.String(), s) }
	assertContains("#5 a.mkv")
	assertContains("failed")
}
