// Package throughput turns irregular (time, cumulative bytes) samples into a
// smoothed transfer rate and a remaining-time projection per job.
package throughput

import (
	"math"
	"sync"
	"time"

	"copycat/types"
)

const (
	// MinSampleInterval is the shortest gap between two accepted samples.
	// Closer samples are dropped because the rate they imply is mostly noise.
	MinSampleInterval = 500 * time.Millisecond

	// HistorySize is the number of instantaneous rates averaged together
	HistorySize = 5

	maxETASeconds = float64(math.MaxInt64 / int64(time.Second))
)

// JobStats represents the estimator state of one job
type JobStats struct {
	LastBytes    int64
	LastTime     time.Time
	Speed        float64 // bytes per second, mean of SpeedHistory
	SpeedHistory []float64
	Samples      int // accepted samples, including the first
}

// Estimator keeps JobStats per job. Entries live for the life of the process.
type Estimator struct {
	mu   sync.RWMutex
	jobs map[int64]*JobStats
}

// NewEstimator creates an empty estimator
func NewEstimator() *Estimator {
	return &Estimator{jobs: make(map[int64]*JobStats)}
}

// RecordSample feeds one observation of a job's cumulative copied bytes
func (e *Estimator) RecordSample(jobID int64, copiedBytes int64, at time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.jobs[jobID]
	if !ok {
		e.jobs[jobID] = &JobStats{
			LastBytes: copiedBytes,
			LastTime:  at,
			Samples:   1,
		}
		return
	}

	dt := at.Sub(st.LastTime)
	if dt <= MinSampleInterval {
		return
	}

	instant := float64(copiedBytes-st.LastBytes) / dt.Seconds()
	if instant < 0 {
		instant = 0
	}

	st.SpeedHistory = append(st.SpeedHistory, instant)
	if len(st.SpeedHistory) > HistorySize {
		st.SpeedHistory = st.SpeedHistory[len(st.SpeedHistory)-HistorySize:]
	}

	var sum float64
	for _, v := range st.SpeedHistory {
		sum += v
	}
	st.Speed = sum / float64(len(st.SpeedHistory))
	st.LastBytes = copiedBytes
	st.LastTime = at
	st.Samples++
}

// Rate returns the smoothed speed of a job in bytes per second, 0 if unknown
func (e *Estimator) Rate(jobID int64) float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if st, ok := e.jobs[jobID]; ok {
		return st.Speed
	}
	return 0
}

// Stats returns a copy of a job's state
func (e *Estimator) Stats(jobID int64) (JobStats, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	st, ok := e.jobs[jobID]
	if !ok {
		return JobStats{}, false
	}
	cp := *st
	cp.SpeedHistory = append([]float64(nil), st.SpeedHistory...)
	return cp, true
}

// ETA projects the remaining time of the job an event describes
func (e *Estimator) ETA(ev types.ProgressEvent) ETA {
	if ev.Status != types.JobStatusProcessing {
		return ETA{Kind: ETAUnknown}
	}

	e.mu.RLock()
	st, ok := e.jobs[ev.JobID]
	var speed float64
	var samples int
	if ok {
		speed, samples = st.Speed, st.Samples
	}
	e.mu.RUnlock()

	if speed <= 0 || samples < 2 {
		return ETA{Kind: ETAUnknown}
	}

	remaining := ev.RemainingBytes()
	if remaining <= 0 {
		return ETA{Kind: ETADone}
	}

	// stalled jobs would overflow time.Duration
	secs := float64(remaining) / speed
	if secs >= maxETASeconds {
		return ETA{Kind: ETARemaining, Remaining: time.Duration(math.MaxInt64)}
	}
	return ETA{Kind: ETARemaining, Remaining: time.Duration(secs * float64(time.Second))}
}
