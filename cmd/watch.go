package cmd

import (
	"cmp"
	"context"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"copycat/progress"
	"copycat/throughput"
	"copycat/types"
)

const (
	defaultRenderInterval = 500 * time.Millisecond
	labelTimeout          = 5 * time.Second
	barWidth              = 30
)

// progressSource is the read side of the progress manager
type progressSource interface {
	Snapshot() []types.ProgressEvent
	Rate(jobID int64) float64
	ETA(jobID int64) throughput.ETA
}

// jobLookup resolves job labels and drops cached job data
type jobLookup interface {
	Job(ctx context.Context, id int64) (*types.CopyJob, error)
	InvalidateJobs()
}

type watchOptions struct {
	jobs     []int64
	exit     bool
	interval time.Duration

	// start runs once the stream is open and returns more jobs to show
	start func(ctx context.Context) ([]int64, error)
}

func (a *app) newWatchCmd() *cobra.Command {
	var opts watchOptions

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Show live progress of copy jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.apiClient()
			if err != nil {
				return err
			}
			return a.watch(cmd.Context(), client, opts)
		},
	}

	flags := cmd.Flags()
	flags.Int64SliceVar(&opts.jobs, "job", nil, "only show these job ids")
	flags.BoolVar(&opts.exit, "exit", false, "return once every shown job has finished")
	flags.DurationVar(&opts.interval, "interval", defaultRenderInterval, "render interval")
	return cmd
}

// watch attaches to the progress stream and renders until ctx is done or,
// with opts.exit, every shown job is terminal
func (a *app) watch(ctx context.Context, jobs jobLookup, opts watchOptions) error {
	mgr, err := a.progressManager()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go mgr.Run(ctx)

	h := mgr.AttachContext(ctx)
	defer h.Release()

	if opts.start != nil {
		if !waitOpen(ctx, mgr, a.cfg.Stream.HandshakeTimeout) {
			slog.Warn("progress stream not open yet, early updates may be missed", "state", mgr.State())
		}
		ids, err := opts.start(ctx)
		if err != nil {
			return err
		}
		opts.jobs = append(opts.jobs, ids...)
	}

	w := newWatcher(a.out, mgr, jobs, opts)
	w.tty = isTerminal(a.out)
	return w.run(ctx)
}

// waitOpen polls until the stream is open, ctx is done or timeout passed
func waitOpen(ctx context.Context, mgr *progress.Manager, timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for mgr.State() != progress.Open {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
	return true
}

func isTerminal(out io.Writer) bool {
	f, ok := out.(*os.File)
	return ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()))
}

// jobBar is the rendered state of one job
type jobBar struct {
	bar  *progressbar.ProgressBar
	last types.ProgressEvent
	seen bool
}

// watcher draws one progress bar per job
type watcher struct {
	out      io.Writer
	source   progressSource
	jobs     jobLookup
	filter   map[int64]bool
	exit     bool
	interval time.Duration
	tty      bool

	bars  map[int64]*jobBar
	seeds map[int64]types.ProgressEvent
	lines int

	mu       sync.Mutex
	labels   map[int64]string
	fetching map[int64]bool
}

func newWatcher(out io.Writer, source progressSource, jobs jobLookup, opts watchOptions) *watcher {
	w := &watcher{
		out:      out,
		source:   source,
		jobs:     jobs,
		exit:     opts.exit,
		interval: opts.interval,
		bars:     make(map[int64]*jobBar),
		seeds:    make(map[int64]types.ProgressEvent),
		labels:   make(map[int64]string),
		fetching: make(map[int64]bool),
	}
	if w.interval <= 0 {
		w.interval = defaultRenderInterval
	}
	if len(opts.jobs) > 0 {
		w.filter = make(map[int64]bool, len(opts.jobs))
		for _, id := range opts.jobs {
			w.filter[id] = true
		}
	}
	return w
}

// seed fetches the filtered jobs once so jobs that finished before the
// stream delivered anything are still shown
func (w *watcher) seed(ctx context.Context) {
	for id := range w.filter {
		ctx, cancel := context.WithTimeout(ctx, labelTimeout)
		job, err := w.jobs.Job(ctx, id)
		cancel()
		if err != nil {
			slog.Warn("job lookup failed", "job_id", id, "error", err)
			continue
		}
		w.seeds[id] = job.Event()

		w.mu.Lock()
		w.labels[id] = fmt.Sprintf("#%d %s", id, job.Label())
		w.mu.Unlock()
	}
}

func (w *watcher) run(ctx context.Context) error {
	w.seed(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if w.render(ctx) && w.exit {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// render draws one frame and reports whether every shown job is terminal.
// With a job filter, jobs that have not been seen yet count as running.
func (w *watcher) render(ctx context.Context) bool {
	latest := make(map[int64]types.ProgressEvent, len(w.seeds))
	maps.Copy(latest, w.seeds)
	for _, ev := range w.source.Snapshot() {
		if w.filter == nil || w.filter[ev.JobID] {
			latest[ev.JobID] = ev
		}
	}
	events := slices.SortedFunc(maps.Values(latest), func(a, b types.ProgressEvent) int {
		return cmp.Compare(a.JobID, b.JobID)
	})

	allDone := len(events) > 0 && (w.filter == nil || len(events) == len(w.filter))
	lines := make([]string, 0, len(events))
	for _, ev := range events {
		if !ev.Status.Terminal() {
			allDone = false
		}
		line, changed := w.update(ctx, ev)
		if w.tty || changed {
			lines = append(lines, line)
		}
	}

	w.draw(lines)
	return allDone
}

// update feeds ev into the job's bar and returns its line and whether the
// event differs from the previous one
func (w *watcher) update(ctx context.Context, ev types.ProgressEvent) (string, bool) {
	jb, ok := w.bars[ev.JobID]
	if !ok {
		jb = &jobBar{bar: newBar(ev.TotalBytes)}
		w.bars[ev.JobID] = jb
	}
	changed := !jb.seen || jb.last != ev

	if ev.Status.Terminal() && (!jb.seen || !jb.last.Status.Terminal()) {
		w.jobs.InvalidateJobs()
	}
	jb.last, jb.seen = ev, true

	if ev.TotalBytes > 0 && jb.bar.GetMax64() != ev.TotalBytes {
		jb.bar.ChangeMax64(ev.TotalBytes)
	}
	jb.bar.Describe(w.label(ctx, ev.JobID))
	jb.bar.Set64(min(ev.CopiedBytes, max(ev.TotalBytes, 0)))

	return strings.TrimSpace(jb.bar.String()) + "  " + w.suffix(ev), changed
}

func (w *watcher) suffix(ev types.ProgressEvent) string {
	switch ev.Status {
	case types.JobStatusProcessing:
		rate := throughput.FormatRate(w.source.Rate(ev.JobID))
		if eta := w.source.ETA(ev.JobID).String(); eta != "" {
			return rate + " " + eta
		}
		return rate
	default:
		return string(ev.Status)
	}
}

// draw writes a frame. On a terminal the previous frame is overwritten.
func (w *watcher) draw(lines []string) {
	var b strings.Builder
	if w.tty && w.lines > 0 {
		fmt.Fprintf(&b, "\x1b[%dA", w.lines)
	}
	for _, line := range lines {
		if w.tty {
			b.WriteString("\x1b[2K")
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	if w.tty {
		w.lines = len(lines)
	}
	io.WriteString(w.out, b.String())
}

// label returns the job's name. It is fetched once in the background; until
// then the job id is shown.
func (w *watcher) label(ctx context.Context, id int64) string {
	w.mu.Lock()
	defer w.mu.Unlock()

	if label, ok := w.labels[id]; ok {
		return label
	}
	if !w.fetching[id] {
		w.fetching[id] = true
		go w.fetchLabel(ctx, id)
	}
	return fmt.Sprintf("job %d", id)
}

func (w *watcher) fetchLabel(ctx context.Context, id int64) {
	ctx, cancel := context.WithTimeout(ctx, labelTimeout)
	defer cancel()

	job, err := w.jobs.Job(ctx, id)
	if err != nil {
		slog.Debug("job label lookup failed", "job_id", id, "error", err)
		return
	}

	w.mu.Lock()
	w.labels[id] = fmt.Sprintf("#%d %s", id, job.Label())
	w.mu.Unlock()
}

func newBar(total int64) *progressbar.ProgressBar {
	return progressbar.NewOptions64(max(total, 1),
		progressbar.OptionSetWriter(io.Discard),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(barWidth),
		progressbar.OptionThrottle(0),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionShowCount(),
		progressbar.OptionSetRenderBlankState(true),
	)
}
