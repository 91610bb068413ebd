// Package debounce coalesces bursts of keyed actions so that only the latest one runs,
// after a quiet period with no further scheduling for that key.
package debounce

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

type pending struct {
	timer *time.Timer
	ver   uint64
}

// Manager holds at most one pending action per key. It is safe for concurrent use.
type Manager[K comparable] struct {
	quiet time.Duration
	log   *zap.SugaredLogger

	mu      sync.Mutex
	pending map[K]pending
	seq     uint64
	closed  bool
}

// Option configures a Manager
type Option func(*options)

type options struct {
	log *zap.SugaredLogger
}

// WithLogger sets the logger used to report recovered panics
func WithLogger(log *zap.SugaredLogger) Option {
	return func(o *options) {
		o.log = log
	}
}

// New returns a manager that runs each action once quiet has elapsed without a newer
// Schedule call for the same key.
func New[K comparable](quiet time.Duration, opts ...Option) *Manager[K] {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = zap.S()
	}
	return &Manager[K]{
		quiet:   quiet,
		log:     o.log,
		pending: make(map[K]pending),
	}
}

// Schedule replaces any pending action for key with action. It returns false only when
// the manager has been closed.
func (m *Manager[K]) Schedule(key K, action func()) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}

	if p, ok := m.pending[key]; ok {
		p.timer.Stop()
	}
	// versions are manager-wide so a stale callback never matches a later entry
	m.seq++
	ver := m.seq
	m.pending[key] = pending{
		ver:   ver,
		timer: time.AfterFunc(m.quiet, func() { m.fire(key, ver, action) }),
	}
	return true
}

func (m *Manager[K]) fire(key K, ver uint64, action func()) {
	m.mu.Lock()
	p, ok := m.pending[key]
	if !ok || p.ver != ver {
		m.mu.Unlock()
		return
	}
	delete(m.pending, key)
	m.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			m.log.Errorw("debounced action panicked", "key", fmt.Sprint(key), "panic", r)
		}
	}()
	action()
}

// Cancel drops the pending action for key, reporting whether there was one
func (m *Manager[K]) Cancel(key K) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pending[key]
	if !ok {
		return false
	}
	p.timer.Stop()
	delete(m.pending, key)
	return true
}

// IsPending reports whether an action for key is waiting to run
func (m *Manager[K]) IsPending(key K) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.pending[key]
	return ok
}

// CancelAll drops every pending action and returns how many were dropped
func (m *Manager[K]) CancelAll() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancelAllLocked()
}

func (m *Manager[K]) cancelAllLocked() int {
	n := len(m.pending)
	for key, p := range m.pending {
		p.timer.Stop()
		delete(m.pending, key)
	}
	return n
}

// Close cancels all pending actions; later Schedule calls are refused
func (m *Manager[K]) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.cancelAllLocked()
}
