// Package realtime carries row-level change notifications from Postgres to
// clients and keeps client subscriptions alive across dropped connections.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	"creativehub/internal/domain"
)

const (
	// DefaultReconnectDelay is the fixed wait before a reconnect attempt.
	DefaultReconnectDelay = 3 * time.Second
	// DefaultWatchdogInterval is how often a disconnected subscription is checked.
	DefaultWatchdogInterval = 10 * time.Second
)

// State is the connection state of a subscription.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateError        State = "error"
)

// Key identifies one logical subscription.
type Key struct {
	Resource Resource
	Owner    string
}

func (k Key) String() string { return string(k.Resource) + ":" + k.Owner }

// Stream is one established connection. Next blocks for the next payload and
// returns io.EOF after a clean close.
type Stream interface {
	Next() ([]byte, error)
	Close() error
}

// Dialer opens streams for a key.
type Dialer interface {
	Dial(ctx context.Context, key Key) (Stream, error)
}

// Handler receives parsed changes in stream order.
type Handler func(Change)

// ManagerOptions tune a Manager.
type ManagerOptions struct {
	// Reconnect yields the delay before each reconnect attempt. Defaults to a
	// constant DefaultReconnectDelay.
	Reconnect        backoff.BackOff
	WatchdogInterval time.Duration
	// OnState observes every state transition.
	OnState func(Key, State)
	Logger  zerolog.Logger
}

// Manager owns at most one subscription per Key.
type Manager struct {
	dialer   Dialer
	opts     ManagerOptions
	logger   zerolog.Logger
	backoffM sync.Mutex

	mu     sync.Mutex
	subs   map[Key]*Handle
	closed bool
}

// NewManager builds a Manager over dialer.
func NewManager(dialer Dialer, opts ManagerOptions) *Manager {
	if opts.Reconnect == nil {
		opts.Reconnect = backoff.NewConstantBackOff(DefaultReconnectDelay)
	}
	if opts.WatchdogInterval <= 0 {
		opts.WatchdogInterval = DefaultWatchdogInterval
	}
	return &Manager{
		dialer: dialer,
		opts:   opts,
		logger: opts.Logger,
		subs:   make(map[Key]*Handle),
	}
}

// Subscribe returns the subscription for (resource, owner), creating and
// connecting it on first use. A repeated call returns the same Handle and
// only swaps in the newer handler. The subscription is cancelled when ctx ends.
func (m *Manager) Subscribe(ctx context.Context, resource Resource, owner string, handler Handler) (*Handle, error) {
	if !resource.Valid() {
		return nil, fmt.Errorf("%w: unknown resource %q", domain.ErrInvalidInput, resource)
	}
	if owner == "" {
		return nil, fmt.Errorf("%w: owner is required", domain.ErrInvalidInput)
	}
	if handler == nil {
		return nil, fmt.Errorf("%w: handler is required", domain.ErrInvalidInput)
	}

	key := Key{Resource: resource, Owner: owner}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: manager closed", domain.ErrSubscription)
	}
	if h, ok := m.subs[key]; ok {
		m.mu.Unlock()
		h.setHandler(handler)
		return h, nil
	}
	h := newHandle(m, key, handler)
	m.subs[key] = h
	m.mu.Unlock()

	stop := context.AfterFunc(ctx, h.Cancel)
	h.mu.Lock()
	h.stopOwner = stop
	h.mu.Unlock()
	h.armWatchdog()
	h.connect()
	return h, nil
}

// Close cancels every subscription.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	handles := make([]*Handle, 0, len(m.subs))
	for _, h := range m.subs {
		handles = append(handles, h)
	}
	m.mu.Unlock()

	for _, h := range handles {
		h.Cancel()
	}
}

// Len reports the number of live subscriptions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

func (m *Manager) release(h *Handle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subs[h.key] == h {
		delete(m.subs, h.key)
	}
}

func (m *Manager) reconnectDelay() time.Duration {
	m.backoffM.Lock()
	defer m.backoffM.Unlock()
	d := m.opts.Reconnect.NextBackOff()
	if d == backoff.Stop || d < 0 {
		return DefaultReconnectDelay
	}
	return d
}

// Handle is the caller's view of a subscription. Reconnection is internal.
type Handle struct {
	m   *Manager
	key Key

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	state     State
	handler   Handler
	stream    Stream
	gen       uint64
	reconnect *time.Timer
	watchdog  *time.Timer
	cancelled bool
	stopOwner func() bool

	queue     []Change
	queueCond *sync.Cond

	deliverMu  sync.Mutex
	delivering atomic.Bool
}

func newHandle(m *Manager, key Key, handler Handler) *Handle {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Handle{
		m:       m,
		key:     key,
		ctx:     ctx,
		cancel:  cancel,
		state:   StateDisconnected,
		handler: handler,
	}
	h.queueCond = sync.NewCond(&h.mu)
	go h.dispatch()
	return h
}

// Key returns the subscription identity.
func (h *Handle) Key() Key { return h.key }

// State returns the current connection state.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Cancel tears the subscription down. Once it returns no handler call starts;
// a call already running on another goroutine may still finish.
func (h *Handle) Cancel() {
	h.mu.Lock()
	if h.cancelled {
		h.mu.Unlock()
		return
	}
	h.cancelled = true
	if h.reconnect != nil {
		h.reconnect.Stop()
		h.reconnect = nil
	}
	if h.watchdog != nil {
		h.watchdog.Stop()
		h.watchdog = nil
	}
	stream := h.stream
	h.stream = nil
	h.queue = nil
	notify := h.setStateLocked(StateDisconnected)
	h.queueCond.Broadcast()
	stopOwner := h.stopOwner
	h.mu.Unlock()

	h.cancel()
	if stopOwner != nil {
		stopOwner()
	}
	if stream != nil {
		_ = stream.Close()
	}
	h.m.release(h)
	notify()

	// Wait out a delivery that passed its cancellation check but has not
	// entered the handler yet. Skipped when called from inside a handler.
	if !h.delivering.Load() {
		h.deliverMu.Lock()
		h.deliverMu.Unlock() //nolint:staticcheck
	}
	h.m.logger.Debug().Str("subscription", h.key.String()).Msg("realtime: subscription cancelled")
}

func (h *Handle) setHandler(fn Handler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handler = fn
}

// setStateLocked records the transition and returns the observer call to run
// after the lock is released.
func (h *Handle) setStateLocked(s State) func() {
	if h.state == s {
		return func() {}
	}
	h.state = s
	obs := h.m.opts.OnState
	if obs == nil {
		return func() {}
	}
	key := h.key
	return func() { obs(key, s) }
}

func (h *Handle) connect() {
	h.mu.Lock()
	if h.cancelled || h.state == StateConnecting || h.state == StateConnected {
		h.mu.Unlock()
		return
	}
	h.gen++
	gen := h.gen
	notify := h.setStateLocked(StateConnecting)
	h.mu.Unlock()
	notify()

	go h.dial(gen)
}

func (h *Handle) dial(gen uint64) {
	stream, err := h.m.dialer.Dial(h.ctx, h.key)

	h.mu.Lock()
	if h.cancelled || gen != h.gen {
		h.mu.Unlock()
		if stream != nil {
			_ = stream.Close()
		}
		return
	}
	if err != nil {
		notify := h.setStateLocked(StateError)
		h.scheduleReconnectLocked()
		h.mu.Unlock()
		notify()
		h.m.logger.Warn().Err(err).Str("subscription", h.key.String()).Msg("realtime: dial failed")
		return
	}
	h.stream = stream
	notify := h.setStateLocked(StateConnected)
	h.mu.Unlock()
	notify()

	h.m.logger.Debug().Str("subscription", h.key.String()).Msg("realtime: connected")
	h.read(stream, gen)
}

func (h *Handle) read(stream Stream, gen uint64) {
	for {
		raw, err := stream.Next()
		if err != nil {
			h.dropped(gen, err)
			return
		}
		change, perr := ParseChange(raw)
		if perr != nil {
			h.m.logger.Warn().Err(perr).Str("subscription", h.key.String()).Msg("realtime: dropping invalid payload")
			continue
		}
		if change.Resource() != h.key.Resource || change.Owner() != h.key.Owner {
			continue
		}

		h.mu.Lock()
		if h.cancelled || gen != h.gen {
			h.mu.Unlock()
			return
		}
		h.queue = append(h.queue, change)
		h.queueCond.Signal()
		h.mu.Unlock()
	}
}

// dropped handles the end of connection gen. Repeated reports for the same
// connection never stack reconnect timers.
func (h *Handle) dropped(gen uint64, err error) {
	h.mu.Lock()
	if h.cancelled || gen != h.gen {
		h.mu.Unlock()
		return
	}
	stream := h.stream
	h.stream = nil
	next := StateError
	if errors.Is(err, io.EOF) {
		next = StateDisconnected
	}
	notify := h.setStateLocked(next)
	h.scheduleReconnectLocked()
	h.mu.Unlock()

	if stream != nil {
		_ = stream.Close()
	}
	notify()
	h.m.logger.Info().Err(err).Str("subscription", h.key.String()).Str("state", string(next)).Msg("realtime: connection dropped")
}

func (h *Handle) scheduleReconnectLocked() {
	if h.cancelled || h.reconnect != nil {
		return
	}
	delay := h.m.reconnectDelay()
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		h.mu.Lock()
		if h.reconnect != timer {
			h.mu.Unlock()
			return
		}
		h.reconnect = nil
		h.mu.Unlock()
		h.connect()
	})
	h.reconnect = timer
}

func (h *Handle) armWatchdog() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancelled {
		return
	}
	h.watchdog = time.AfterFunc(h.m.opts.WatchdogInterval, h.watch)
}

func (h *Handle) watch() {
	h.mu.Lock()
	if h.cancelled {
		h.mu.Unlock()
		return
	}
	force := h.state == StateDisconnected || h.state == StateError
	if force && h.reconnect != nil {
		h.reconnect.Stop()
		h.reconnect = nil
	}
	h.watchdog = time.AfterFunc(h.m.opts.WatchdogInterval, h.watch)
	h.mu.Unlock()

	if force {
		h.m.logger.Debug().Str("subscription", h.key.String()).Msg("realtime: watchdog forcing reconnect")
		h.connect()
	}
}

// dispatch delivers queued changes one at a time so handler order matches
// stream order without blocking the reader.
func (h *Handle) dispatch() {
	for {
		h.mu.Lock()
		for len(h.queue) == 0 && !h.cancelled {
			h.queueCond.Wait()
		}
		if h.cancelled {
			h.mu.Unlock()
			return
		}
		change := h.queue[0]
		h.queue = h.queue[1:]
		h.mu.Unlock()

		h.deliver(change)
	}
}

func (h *Handle) deliver(change Change) {
	h.deliverMu.Lock()
	defer h.deliverMu.Unlock()

	h.mu.Lock()
	cancelled, fn := h.cancelled, h.handler
	h.mu.Unlock()
	if cancelled {
		return
	}

	h.delivering.Store(true)
	defer h.delivering.Store(false)
	fn(change)
}
