package throughput

import (
	"fmt"
	"math"
	"time"

	"github.com/dustin/go-humanize"
)

// ETAKind distinguishes a real projection from the sentinel outcomes
type ETAKind int

const (
	ETAUnknown ETAKind = iota
	ETADone
	ETARemaining
)

// ETA is a remaining-time projection
type ETA struct {
	Kind      ETAKind
	Remaining time.Duration
}

// String renders the projection the way the UI shows it: "unknown", an empty
// string when nothing is left, or a rounded approximation such as "~3m".
func (e ETA) String() string {
	switch e.Kind {
	case ETAUnknown:
		return "unknown"
	case ETADone:
		return ""
	}

	secs := e.Remaining.Seconds()
	switch {
	case secs < 60:
		return fmt.Sprintf("~%ds", int64(math.Round(secs)))
	case secs < 3600:
		return fmt.Sprintf("~%dm", int64(math.Round(secs/60)))
	case secs < 86400:
		return fmt.Sprintf("~%dh", int64(math.Round(secs/3600)))
	default:
		return fmt.Sprintf("~%dd", int64(math.Round(secs/86400)))
	}
}

// FormatRate renders bytes per second, e.g. "1.9 MiB/s"
func FormatRate(bytesPerSecond float64) string {
	if bytesPerSecond <= 0 {
		return "0 B/s"
	}
	return humanize.IBytes(uint64(bytesPerSecond)) + "/s"
}
