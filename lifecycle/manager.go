// Package lifecycle defers the destruction of GPU-visible resources until every submission that
// could still reference them has completed.
package lifecycle

import (
	"log/slog"
	"sync"
)

// Destroyable is anything with a Destroy method: buffers, images, views, descriptor slots
type Destroyable interface {
	Destroy()
}

// DestroyFunc adapts a function to Destroyable
type DestroyFunc func()

func (f DestroyFunc) Destroy() {
	f()
}

// Tracker reports submission progress. *submit.Queue satisfies it.
type Tracker interface {
	NextSerial() uint64
	LastCompleted() uint64
}

type pendingDestruction struct {
	resource Destroyable
	marker   uint64
}

// Manager queues resources for destruction. Deferral is safe for concurrent use; Reap and Flush
// belong to the frame orchestrator.
type Manager struct {
	logger  *slog.Logger
	tracker Tracker

	lock    sync.Mutex
	pending []pendingDestruction
}

func New(logger *slog.Logger, tracker Tracker) *Manager {
	if logger == nil {
		panic("attempted to create a lifecycle manager with a nil logger")
	}
	if tracker == nil {
		panic("attempted to create a lifecycle manager with a nil tracker")
	}

	return &Manager{
		logger:  logger,
		tracker: tracker,
	}
}

// DeferDestroy queues the resource until the next tracked submission has completed. A resource
// released mid-frame is still referenced by that frame's submission.
func (m *Manager) DeferDestroy(resource Destroyable) {
	m.enqueue(resource, m.tracker.NextSerial())
}

// DeferDestroyHostOnly queues a resource the GPU never touched. It is destroyed by the next Reap.
func (m *Manager) DeferDestroyHostOnly(resource Destroyable) {
	m.enqueue(resource, 0)
}

func (m *Manager) enqueue(resource Destroyable, marker uint64) {
	if resource == nil {
		return
	}

	m.lock.Lock()
	defer m.lock.Unlock()

	m.pending = append(m.pending, pendingDestruction{resource: resource, marker: marker})
}

// Reap destroys, in the order they were deferred, every resource whose marker submission has
// completed, and returns how many were destroyed. Call it after the submission queue's
// UpdatePendingContexts.
func (m *Manager) Reap() int {
	completed := m.tracker.LastCompleted()

	m.lock.Lock()
	var ready []Destroyable
	kept := m.pending[:0]
	for _, entry := range m.pending {
		if entry.marker <= completed {
			ready = append(ready, entry.resource)
		} else {
			kept = append(kept, entry)
		}
	}
	for i := len(kept); i < len(m.pending); i++ {
		m.pending[i] = pendingDestruction{}
	}
	m.pending = kept
	m.lock.Unlock()

	// Destroy runs unlocked: a resource's Destroy may defer further resources
	for _, resource := range ready {
		resource.Destroy()
	}

	if len(ready) > 0 {
		m.logger.Debug("Manager::Reap", slog.Int("Destroyed", len(ready)), slog.Uint64("LastCompleted", completed))
	}

	return len(ready)
}

// Pending returns the number of resources waiting to be destroyed
func (m *Manager) Pending() int {
	m.lock.Lock()
	defer m.lock.Unlock()

	return len(m.pending)
}

// Flush destroys every queued resource regardless of its marker. The device must be idle.
func (m *Manager) Flush() int {
	destroyed := 0
	for {
		m.lock.Lock()
		pending := m.pending
		m.pending = nil
		m.lock.Unlock()

		if len(pending) == 0 {
			return destroyed
		}

		for _, entry := range pending {
			entry.resource.Destroy()
		}
		destroyed += len(pending)
	}
}
