package progress

import (
	"cmp"
	"slices"
	"sync"

	"copycat/types"
)

// Table holds the most recent progress event of every job seen on the stream
type Table struct {
	mu     sync.RWMutex
	events map[int64]types.ProgressEvent
}

// NewTable creates an empty table
func NewTable() *Table {
	return &Table{events: make(map[int64]types.ProgressEvent)}
}

// Set replaces the entry of the event's job
func (t *Table) Set(ev types.ProgressEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events[ev.JobID] = ev
}

// Get returns the latest event of a job
func (t *Table) Get(jobID int64) (types.ProgressEvent, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ev, ok := t.events[jobID]
	return ev, ok
}

// Snapshot returns every entry ordered by job id
func (t *Table) Snapshot() []types.ProgressEvent {
	t.mu.RLock()
	out := make([]types.ProgressEvent, 0, len(t.events))
	for _, ev := range t.events {
		out = append(out, ev)
	}
	t.mu.RUnlock()

	slices.SortFunc(out, func(a, b types.ProgressEvent) int {
		return cmp.Compare(a.JobID, b.JobID)
	})
	return out
}

// Len returns the number of jobs in the table
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.events)
}
