package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"creativehub/internal/domain"
	"creativehub/internal/optimistic"
	"creativehub/internal/realtime"
)

type ToastLevel string

const (
	ToastInfo  ToastLevel = "info"
	ToastError ToastLevel = "error"
)

// Toast is a short user-facing notice.
type Toast struct {
	Level   ToastLevel
	Message string
}

// SessionAPI is what a Session needs from the server.
type SessionAPI interface {
	ProfileAPI
	GetRequest(ctx context.Context, id string) (*Request, error)
	Reconcile(ctx context.Context) (ReconcileResult, error)
}

type SessionOptions struct {
	UserID string
	API    SessionAPI
	Dialer realtime.Dialer
	Logger zerolog.Logger

	// RefreshDelay coalesces request refreshes; zero means realtime.DefaultDebounce.
	RefreshDelay time.Duration
	// SweepDelay is the quiet period before an auto-fix sweep; zero means
	// realtime.DefaultSweepDebounce.
	SweepDelay time.Duration
	Resolution optimistic.ConflictResolution
	// Realtime tunes the subscription manager. Its Logger is replaced by Logger.
	Realtime realtime.ManagerOptions

	Toast     func(Toast)
	OnRequest func(*Request)
	OnProfile func(domain.Profile)
}

// Session wires one signed-in user to the change stream. Creative and request
// changes schedule a debounced refresh of the affected request and push back
// the global auto-fix sweep. Profile changes refetch the profile into the
// editor, where the conflict resolution applies to edits still in flight.
type Session struct {
	opts      SessionOptions
	api       SessionAPI
	manager   *realtime.Manager
	debouncer *realtime.Debouncer
	profile   *ProfileEditor
	logger    zerolog.Logger

	mu      sync.Mutex
	handles []*realtime.Handle
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewSession(opts SessionOptions) *Session {
	if opts.RefreshDelay <= 0 {
		opts.RefreshDelay = realtime.DefaultDebounce
	}
	if opts.SweepDelay <= 0 {
		opts.SweepDelay = realtime.DefaultSweepDebounce
	}
	opts.Realtime.Logger = opts.Logger
	s := &Session{
		opts:      opts,
		api:       opts.API,
		manager:   realtime.NewManager(opts.Dialer, opts.Realtime),
		debouncer: realtime.NewDebouncer(),
		logger:    opts.Logger.With().Str("user_id", opts.UserID).Logger(),
	}
	s.profile = NewProfileEditor(opts.API, opts.UserID, optimistic.Options[domain.Profile]{
		Resolution: opts.Resolution,
		Notify: func(err *optimistic.Error) {
			s.toast(ToastError, err.Message)
		},
		OnChange: func(_ string, p domain.Profile) {
			if opts.OnProfile != nil {
				opts.OnProfile(p)
			}
		},
	})
	return s
}

// Profile returns the session's profile editor.
func (s *Session) Profile() *ProfileEditor { return s.profile }

// Start loads the profile and subscribes to the user's creative, request and
// profile streams. It is bound to ctx; Close also tears everything down.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: session already started", domain.ErrConflict)
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	runCtx := s.ctx
	s.mu.Unlock()

	if _, err := s.profile.Load(runCtx); err != nil {
		s.logger.Warn().Err(err).Msg("session: profile load failed")
	}
	for _, res := range []realtime.Resource{realtime.ResourceCreatives, realtime.ResourceRequests, realtime.ResourceProfiles} {
		h, err := s.manager.Subscribe(runCtx, res, s.opts.UserID, s.onChange)
		if err != nil {
			s.Close()
			return fmt.Errorf("subscribe %s: %w", res, err)
		}
		s.mu.Lock()
		s.handles = append(s.handles, h)
		s.mu.Unlock()
	}
	return nil
}

// Close cancels every subscription and pending timer. No callback runs
// after it returns.
func (s *Session) Close() {
	s.debouncer.Stop()
	s.manager.Close()
	s.mu.Lock()
	cancel := s.cancel
	s.handles = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// States reports the connection state of each subscription.
func (s *Session) States() map[realtime.Key]realtime.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[realtime.Key]realtime.State, len(s.handles))
	for _, h := range s.handles {
		out[h.Key()] = h.State()
	}
	return out
}

func (s *Session) onChange(c realtime.Change) {
	if _, ok := c.(realtime.ProfileChange); ok {
		s.debouncer.Schedule("profile:"+c.EntityID(), s.opts.RefreshDelay, s.refreshProfile)
		return
	}
	if requestID, ok := realtime.RequestIDOf(c); ok {
		s.debouncer.Schedule("request:"+requestID, s.opts.RefreshDelay, func() {
			s.refreshRequest(requestID)
		})
	}
	s.debouncer.Schedule(realtime.GlobalKey, s.opts.SweepDelay, s.sweep)
}

func (s *Session) runContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx == nil {
		return context.Background()
	}
	return s.ctx
}

func (s *Session) refreshRequest(id string) {
	req, err := s.api.GetRequest(s.runContext(), id)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			s.logger.Warn().Err(err).Str("request_id", id).Msg("session: refresh failed")
		}
		return
	}
	if s.opts.OnRequest != nil {
		s.opts.OnRequest(req)
	}
}

func (s *Session) refreshProfile() {
	p, err := s.api.GetProfile(s.runContext())
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			s.logger.Warn().Err(err).Msg("session: profile refresh failed")
		}
		return
	}
	s.profile.Absorb(p)
}

func (s *Session) sweep() {
	res, err := s.api.Reconcile(s.runContext())
	if err != nil {
		s.logger.Warn().Err(err).Msg("session: auto-fix sweep failed")
		return
	}
	if res.CorrectedCount > 0 {
		s.toast(ToastInfo, fmt.Sprintf("Fixed %d request status(es) that were out of date.", res.CorrectedCount))
	}
}

func (s *Session) toast(level ToastLevel, msg string) {
	if s.opts.Toast != nil {
		s.opts.Toast(Toast{Level: level, Message: msg})
	}
}
