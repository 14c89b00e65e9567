package services

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"copycat/types"
	"copycat/websocket"
)

// recordingHub collects broadcast events and optionally reacts to them
type recordingHub struct {
	mu      sync.Mutex
	events  []types.ProgressEvent
	onEvent func(types.ProgressEvent)
}

func (h *recordingHub) Run(context.Context)                {}
func (h *recordingHub) RegisterClient(*websocket.Client)   {}
func (h *recordingHub) UnregisterClient(*websocket.Client) {}
func (h *recordingHub) ClientCount() int                   { return 0 }

func (h *recordingHub) BroadcastProgress(ev types.ProgressEvent) {
	h.mu.Lock()
	h.events = append(h.events, ev)
	hook := h.onEvent
	h.mu.Unlock()
	if hook != nil {
		hook(ev)
	}
}

func (h *recordingHub) Events(jobID int64) []types.ProgressEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []types.ProgressEvent
	for _, ev := range h.events {
		if ev.JobID == jobID {
			out = append(out, ev)
		}
	}
	return out
}

func newTestFiles(t *testing.T) FileService {
	t.Helper()
	base := t.TempDir()
	roots := Roots{
		Source:      filepath.Join(base, "source"),
		Destination: filepath.Join(base, "destination"),
	}
	require.NoError(t, os.MkdirAll(roots.Source, 0o755))
	require.NoError(t, os.MkdirAll(roots.Destination, 0o755))

	fs, err := NewFileService(roots)
	require.NoError(t, err)
	return fs
}

func writeFile(t *testing.T, p string, size int) []byte {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	require.NoError(t, os.WriteFile(p, data, 0o644))
	return data
}
