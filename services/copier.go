package services

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"copycat/types"
	"copycat/websocket"
)

const (
	// minReportBytes is the smallest progress step that is broadcast
	minReportBytes = 1 << 20

	queueBuffer = 100
	chunkSize   = 1 << 20

	cancelledMessage = "Cancelled by user"
)

// CopyQueue interface defines the methods for managing copy jobs
type CopyQueue interface {
	Start(ctx context.Context)
	AddJob(sourcePath, destinationPath string) (types.CopyJob, error)
	GetJob(id int64) (types.CopyJob, bool)
	Queue() []types.CopyJob
	History(limit, offset int) []types.CopyJob
	CancelJob(id int64) error
	CancelAll() int
	RetryJob(id int64) (types.CopyJob, error)
	Counts() map[types.JobStatus]int
}

// copyQueue runs copy jobs on a fixed pool of workers in submission order
type copyQueue struct {
	byID       map[int64]*types.CopyJob
	cancels    map[int64]context.CancelFunc
	queue      chan int64
	nextID     int64
	mu         sync.RWMutex
	maxWorkers int
	files      FileService
	hub        websocket.Hub
	now        func() time.Time
}

// NewCopyQueue creates a new copy queue. Paths are resolved through files;
// hub may be nil.
func NewCopyQueue(maxWorkers int, files FileService, hub websocket.Hub) CopyQueue {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	return &copyQueue{
		byID:       make(map[int64]*types.CopyJob),
		cancels:    make(map[int64]context.CancelFunc),
		queue:      make(chan int64, queueBuffer),
		maxWorkers: maxWorkers,
		files:      files,
		hub:        hub,
		now:        time.Now,
	}
}

// AddJob validates both paths and queues a copy. Copying onto an existing
// directory copies into it.
func (q *copyQueue) AddJob(sourcePath, destinationPath string) (types.CopyJob, error) {
	src, err := q.files.Resolve(types.SourceRoot, sourcePath)
	if err != nil {
		return types.CopyJob{}, err
	}
	if _, err := os.Stat(src); err != nil {
		return types.CopyJob{}, fmt.Errorf("%w: source %s", ErrNotFound, sourcePath)
	}

	dst, err := q.files.Resolve(types.DestinationRoot, destinationPath)
	if err != nil {
		return types.CopyJob{}, err
	}
	if info, err := os.Stat(dst); err == nil && info.IsDir() {
		dst = filepath.Join(dst, filepath.Base(src))
	}

	return q.enqueue(src, dst), nil
}

func (q *copyQueue) enqueue(src, dst string) types.CopyJob {
	q.mu.Lock()
	q.nextID++
	job := &types.CopyJob{
		ID:              q.nextID,
		SourcePath:      filepath.ToSlash(src),
		DestinationPath: filepath.ToSlash(dst),
		Status:          types.JobStatusQueued,
		Priority:        types.PriorityNormal,
		CreatedAt:       q.now(),
	}
	q.byID[job.ID] = job
	snapshot := *job
	q.mu.Unlock()

	slog.Info("copy job queued", "job_id", job.ID, "source", src, "destination", dst)
	q.broadcast(snapshot)
	q.queue <- job.ID
	return snapshot
}

// GetJob retrieves a copy of a job by ID
func (q *copyQueue) GetJob(id int64) (types.CopyJob, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	job, exists := q.byID[id]
	if !exists {
		return types.CopyJob{}, false
	}
	return *job, true
}

// Queue returns the queued and processing jobs, oldest first
func (q *copyQueue) Queue() []types.CopyJob {
	return q.collect(func(j *types.CopyJob) bool { return j.Status.Active() }, false)
}

// History returns finished jobs, newest first
func (q *copyQueue) History(limit, offset int) []types.CopyJob {
	jobs := q.collect(func(j *types.CopyJob) bool { return j.Status.Terminal() }, true)
	offset = min(max(offset, 0), len(jobs))
	jobs = jobs[offset:]
	if limit > 0 && limit < len(jobs) {
		jobs = jobs[:limit]
	}
	return jobs
}

func (q *copyQueue) collect(keep func(*types.CopyJob) bool, newestFirst bool) []types.CopyJob {
	q.mu.RLock()
	jobs := make([]types.CopyJob, 0, len(q.byID))
	for _, job := range q.byID {
		if keep(job) {
			jobs = append(jobs, *job)
		}
	}
	q.mu.RUnlock()

	slices.SortFunc(jobs, func(a, b types.CopyJob) int {
		if newestFirst {
			a, b = b, a
		}
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return jobs
}

// Counts returns the number of jobs per status
func (q *copyQueue) Counts() map[types.JobStatus]int {
	q.mu.RLock()
	defer q.mu.RUnlock()

	counts := make(map[types.JobStatus]int)
	for _, job := range q.byID {
		counts[job.Status]++
	}
	return counts
}

// CancelJob cancels a queued job right away. A processing job is
// interrupted and its partial output removed by the worker.
func (q *copyQueue) CancelJob(id int64) error {
	q.mu.Lock()
	job, exists := q.byID[id]
	if !exists {
		q.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrJobNotFound, id)
	}

	switch job.Status {
	case types.JobStatusQueued:
		q.finishLocked(job, types.JobStatusCancelled, cancelledMessage)
		snapshot := *job
		q.mu.Unlock()
		q.broadcast(snapshot)
		return nil

	case types.JobStatusProcessing:
		if cancel, ok := q.cancels[id]; ok {
			cancel()
		}
		q.mu.Unlock()
		return nil
	}

	status := job.Status
	q.mu.Unlock()
	return fmt.Errorf("%w: job %d is %s", ErrInvalidState, id, status)
}

// CancelAll cancels every queued and processing job
func (q *copyQueue) CancelAll() int {
	var ids []int64
	for _, job := range q.Queue() {
		ids = append(ids, job.ID)
	}

	n := 0
	for _, id := range ids {
		if err := q.CancelJob(id); err == nil {
			n++
		}
	}
	return n
}

// RetryJob queues a new job with the paths of a failed one
func (q *copyQueue) RetryJob(id int64) (types.CopyJob, error) {
	job, exists := q.GetJob(id)
	if !exists {
		return types.CopyJob{}, fmt.Errorf("%w: %d", ErrJobNotFound, id)
	}
	if job.Status != types.JobStatusFailed {
		return types.CopyJob{}, fmt.Errorf("%w: only failed jobs can be retried, job %d is %s", ErrInvalidState, id, job.Status)
	}
	return q.enqueue(filepath.FromSlash(job.SourcePath), filepath.FromSlash(job.DestinationPath)), nil
}

// finishLocked moves job into a terminal status. Callers hold mu.
func (q *copyQueue) finishLocked(job *types.CopyJob, status types.JobStatus, errorMsg string) {
	job.Status = status
	if errorMsg != "" {
		job.ErrorMessage = &errorMsg
	}
	now := q.now()
	job.CompletedAt = &now
	delete(q.cancels, job.ID)
}

func (q *copyQueue) broadcast(job types.CopyJob) {
	if q.hub != nil {
		q.hub.BroadcastProgress(job.Event())
	}
}

// update applies fn to the job under the lock and broadcasts the result
func (q *copyQueue) update(id int64, fn func(job *types.CopyJob)) {
	q.mu.Lock()
	job, exists := q.byID[id]
	if !exists {
		q.mu.Unlock()
		return
	}
	fn(job)
	snapshot := *job
	q.mu.Unlock()
	q.broadcast(snapshot)
}

// Start begins processing jobs. Workers stop when ctx is done; a job that
// is running then is cancelled.
func (q *copyQueue) Start(ctx context.Context) {
	for i := 0; i < q.maxWorkers; i++ {
		go q.worker(ctx)
	}
}

// worker processes jobs from the queue
func (q *copyQueue) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-q.queue:
			q.run(ctx, id)
		}
	}
}

// run executes one job unless it was cancelled while queued
func (q *copyQueue) run(parent context.Context, id int64) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	q.mu.Lock()
	job, exists := q.byID[id]
	if !exists || job.Status != types.JobStatusQueued {
		q.mu.Unlock()
		return
	}
	now := q.now()
	job.Status = types.JobStatusProcessing
	job.StartedAt = &now
	q.cancels[id] = cancel
	src := filepath.FromSlash(job.SourcePath)
	dst := filepath.FromSlash(job.DestinationPath)
	snapshot := *job
	q.mu.Unlock()
	q.broadcast(snapshot)

	start := time.Now()
	err := q.copyJob(ctx, id, src, dst)

	switch {
	case err == nil:
		q.update(id, func(job *types.CopyJob) {
			job.ProgressPercent = 100
			job.CopiedBytes = job.TotalBytes
			q.finishLocked(job, types.JobStatusCompleted, "")
		})
		slog.Info("copy job completed", "job_id", id, "duration", time.Since(start).Round(time.Millisecond))

	case errors.Is(err, context.Canceled):
		if rmErr := os.RemoveAll(dst); rmErr != nil {
			slog.Warn("removing partial copy failed", "job_id", id, "path", dst, "error", rmErr)
		}
		q.update(id, func(job *types.CopyJob) {
			q.finishLocked(job, types.JobStatusCancelled, cancelledMessage)
		})
		slog.Info("copy job cancelled", "job_id", id)

	default:
		q.update(id, func(job *types.CopyJob) {
			q.finishLocked(job, types.JobStatusFailed, err.Error())
		})
		slog.Error("copy job failed", "job_id", id, "error", err)
	}
}

// copyJob copies a file or a directory tree, reporting progress as it goes
func (q *copyQueue) copyJob(ctx context.Context, id int64, src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("source: %w", err)
	}

	total := TreeSize(src)
	q.update(id, func(job *types.CopyJob) {
		job.TotalBytes = total
	})

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create destination parent: %w", err)
	}

	pw := newProgressWriter(ctx, total, func(copied int64) {
		q.update(id, func(job *types.CopyJob) {
			job.CopiedBytes = copied
			job.ProgressPercent = percentOf(copied, total)
		})
	})

	if !info.IsDir() {
		return copyFile(src, dst, info, pw)
	}

	if _, err := os.Stat(dst); err == nil {
		if err := os.RemoveAll(dst); err != nil {
			return fmt.Errorf("replace destination: %w", err)
		}
	}
	return copyTree(ctx, src, dst, pw)
}

func copyTree(ctx context.Context, src, dst string, pw *progressWriter) error {
	return filepath.WalkDir(src, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		info, err := d.Info()
		if err != nil {
			return err
		}
		switch {
		case d.IsDir():
			return os.MkdirAll(target, info.Mode().Perm()|0o700)
		case d.Type().IsRegular():
			return copyFile(p, target, info, pw)
		default:
			slog.Debug("skipping non regular file", "path", p)
			return nil
		}
	})
}

func copyFile(src, dst string, info fs.FileInfo, pw *progressWriter) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode().Perm())
	if err != nil {
		return err
	}

	buf := make([]byte, chunkSize)
	if _, err := io.CopyBuffer(out, io.TeeReader(in, pw), buf); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Chtimes(dst, info.ModTime(), info.ModTime())
}

// percentOf is the whole percent of total copied, held at 99 until the job
// completes
func percentOf(copied, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return min(math.Floor(float64(copied)/float64(total)*100), 99)
}

// progressWriter counts bytes flowing through a copy and reports whenever
// at least threshold more bytes went by. It fails with the context error
// once the job is cancelled.
type progressWriter struct {
	ctx       context.Context
	copied    int64
	reported  int64
	threshold int64
	report    func(copied int64)
}

func newProgressWriter(ctx context.Context, total int64, report func(int64)) *progressWriter {
	return &progressWriter{
		ctx:       ctx,
		threshold: max(total/100, minReportBytes),
		report:    report,
	}
}

func (w *progressWriter) Write(p []byte) (int, error) {
	if err := w.ctx.Err(); err != nil {
		return 0, err
	}
	w.copied += int64(len(p))
	if w.copied-w.reported >= w.threshold {
		w.reported = w.copied
		w.report(w.copied)
	}
	return len(p), nil
}
