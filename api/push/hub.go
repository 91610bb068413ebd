// Package push keeps the live push channels of each user and fans trigger events out to
// them.
package push

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/linesmerrill/alarm-trigger-api/models"
)

// ErrHubClosed is returned by Open after Shutdown
var ErrHubClosed = errors.New("push hub is shut down")

// DefaultWriteTimeout bounds a single write to one channel
const DefaultWriteTimeout = 10 * time.Second

// Conn is the subset of *websocket.Conn the hub writes through
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// TokenValidator checks a channel token and returns the user it is scoped to
type TokenValidator interface {
	Validate(token string) (string, error)
}

// Handle is one open channel. Writes on a handle are serialised.
type Handle struct {
	id     string
	userID string
	conn   Conn
	hub    *Hub

	wmu       sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

// ID returns the handle id, unique per hub
func (h *Handle) ID() string { return h.id }

// UserID returns the user the handle was opened for
func (h *Handle) UserID() string { return h.userID }

// Done is closed once the handle has been closed
func (h *Handle) Done() <-chan struct{} { return h.done }

// Write sends one message on the channel
func (h *Handle) Write(messageType int, data []byte) error {
	h.wmu.Lock()
	defer h.wmu.Unlock()
	select {
	case <-h.done:
		return fmt.Errorf("handle %s: %w", h.id, websocket.ErrCloseSent)
	default:
	}
	if err := h.conn.SetWriteDeadline(time.Now().Add(h.hub.writeTimeout)); err != nil {
		return err
	}
	return h.conn.WriteMessage(messageType, data)
}

// Ping writes a keepalive ping
func (h *Handle) Ping() error {
	return h.Write(websocket.PingMessage, nil)
}

func (h *Handle) close() bool {
	closed := false
	h.closeOnce.Do(func() {
		close(h.done)
		_ = h.conn.Close()
		closed = true
	})
	return closed
}

// Hub is the push channel manager. Construct it with NewHub and tear it down with
// Shutdown.
type Hub struct {
	validator    TokenValidator
	writeTimeout time.Duration
	log          *zap.SugaredLogger

	mu      sync.RWMutex
	subs    map[string]map[string]*Handle // userID -> handleID -> handle
	handles map[string]*Handle            // every open handle, subscribed or suspended
	closed  bool
}

// Option configures a Hub
type Option func(*Hub)

// WithWriteTimeout overrides DefaultWriteTimeout
func WithWriteTimeout(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.writeTimeout = d
		}
	}
}

// WithLogger sets the hub logger
func WithLogger(log *zap.SugaredLogger) Option {
	return func(h *Hub) {
		h.log = log
	}
}

// NewHub returns an empty hub verifying channel tokens with validator
func NewHub(validator TokenValidator, opts ...Option) *Hub {
	h := &Hub{
		validator:    validator,
		writeTimeout: DefaultWriteTimeout,
		log:          zap.S(),
		subs:         make(map[string]map[string]*Handle),
		handles:      make(map[string]*Handle),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Open validates token and, only if it is valid, calls upgrade and registers the resulting
// connection as a live handle for the token's user. Validation consumes the token, so
// after a failed upgrade the client has to request a new one.
func (h *Hub) Open(token string, upgrade func() (Conn, error)) (*Handle, error) {
	h.mu.RLock()
	closed := h.closed
	h.mu.RUnlock()
	if closed {
		return nil, ErrHubClosed
	}

	userID, err := h.validator.Validate(token)
	if err != nil {
		return nil, err
	}

	conn, err := upgrade()
	if err != nil {
		return nil, fmt.Errorf("upgrade channel: %w", err)
	}

	handle := &Handle{
		id:     uuid.New().String(),
		userID: userID,
		conn:   conn,
		hub:    h,
		done:   make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		handle.close()
		return nil, ErrHubClosed
	}
	h.handles[handle.id] = handle
	h.subscribeLocked(handle)
	h.mu.Unlock()

	h.log.Debugw("channel opened", "userId", userID, "handleId", handle.id)
	return handle, nil
}

func (h *Hub) subscribeLocked(handle *Handle) {
	set, ok := h.subs[handle.userID]
	if !ok {
		set = make(map[string]*Handle)
		h.subs[handle.userID] = set
	}
	set[handle.id] = handle
}

func (h *Hub) unsubscribeLocked(handle *Handle) {
	set, ok := h.subs[handle.userID]
	if !ok {
		return
	}
	delete(set, handle.id)
	if len(set) == 0 {
		delete(h.subs, handle.userID)
	}
}

// Close deregisters handle and closes its connection. Closing twice is a no-op.
func (h *Hub) Close(handle *Handle) {
	if handle == nil {
		return
	}
	h.mu.Lock()
	delete(h.handles, handle.id)
	h.unsubscribeLocked(handle)
	h.mu.Unlock()

	if handle.close() {
		h.log.Debugw("channel closed", "userId", handle.userID, "handleId", handle.id)
	}
}

// Suspend stops deliveries to handle while keeping it open
func (h *Hub) Suspend(handle *Handle) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unsubscribeLocked(handle)
}

// Resume restarts deliveries to a suspended handle. It does nothing once the handle has
// been closed.
func (h *Hub) Resume(handle *Handle) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, open := h.handles[handle.id]; !open {
		return
	}
	h.subscribeLocked(handle)
}

// Deliver writes event to every live handle of event.UserID and returns how many writes
// succeeded. A handle whose write fails is closed; the others are unaffected.
func (h *Hub) Deliver(event models.TriggerEvent) int {
	payload, err := json.Marshal(event)
	if err != nil {
		h.log.Errorw("failed to encode trigger event", "itemId", event.ItemID, "error", err)
		return 0
	}

	h.mu.RLock()
	set := h.subs[event.UserID]
	targets := make([]*Handle, 0, len(set))
	for _, handle := range set {
		targets = append(targets, handle)
	}
	h.mu.RUnlock()

	if len(targets) == 0 {
		return 0
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		delivered int
	)
	for _, handle := range targets {
		wg.Add(1)
		go func(handle *Handle) {
			defer wg.Done()
			if err := handle.Write(websocket.TextMessage, payload); err != nil {
				h.log.Warnw("failed to deliver trigger event",
					"userId", event.UserID, "handleId", handle.id, "itemId", event.ItemID, "error", err)
				h.Close(handle)
				return
			}
			mu.Lock()
			delivered++
			mu.Unlock()
		}(handle)
	}
	wg.Wait()
	return delivered
}

// Subscribers returns the number of handles currently receiving userID's events
func (h *Hub) Subscribers(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[userID])
}

// Len returns the number of open handles, including suspended ones
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.handles)
}

// Shutdown closes every handle and refuses further opens
func (h *Hub) Shutdown() {
	h.mu.Lock()
	h.closed = true
	handles := make([]*Handle, 0, len(h.handles))
	for _, handle := range h.handles {
		handles = append(handles, handle)
	}
	h.handles = make(map[string]*Handle)
	h.subs = make(map[string]map[string]*Handle)
	h.mu.Unlock()

	for _, handle := range handles {
		handle.close()
	}
	h.log.Infow("push hub shut down", "closed", len(handles))
}
