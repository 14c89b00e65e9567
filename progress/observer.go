package progress

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Handle represents one attached observer. Releasing it lets the manager
// close the stream once no other observer remains.
type Handle struct {
	ID uuid.UUID

	m    *Manager
	once sync.Once
}

// Attach registers an observer and makes sure the stream is being opened
func (m *Manager) Attach() *Handle {
	h := &Handle{ID: uuid.New(), m: m}
	m.call(m.attachCh)
	slog.Debug("progress observer attached", "observer", h.ID, "subscribers", m.Subscribers())
	return h
}

// AttachContext attaches an observer that is released when ctx is done
func (m *Manager) AttachContext(ctx context.Context) *Handle {
	h := m.Attach()
	context.AfterFunc(ctx, h.Release)
	return h
}

// Release detaches the observer. Only the first call has an effect.
func (h *Handle) Release() {
	h.once.Do(func() {
		h.m.call(h.m.detachCh)
		slog.Debug("progress observer released", "observer", h.ID, "subscribers", h.m.Subscribers())
	})
}

// Manager returns the manager the handle is attached to
func (h *Handle) Manager() *Manager {
	return h.m
}
