// Package memory holds in-memory repositories with the same conditional
// write semantics as the Postgres adapter. Tests and the local CLI use it.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"creativehub/internal/domain"
)

// Store is the shared state behind the repository views.
type Store struct {
	mu        sync.Mutex
	seq       int64
	jobs      map[string]*domain.Job
	creatives map[string]*domain.Creative
	requests  map[string]*domain.CreativeRequest
	profiles  map[string]*domain.Profile
	now       func() time.Time

	statusWrites map[string]int
}

// New returns an empty store.
func New() *Store {
	return &Store{
		jobs:         map[string]*domain.Job{},
		creatives:    map[string]*domain.Creative{},
		requests:     map[string]*domain.CreativeRequest{},
		profiles:     map[string]*domain.Profile{},
		now:          time.Now,
		statusWrites: map[string]int{},
	}
}

// SetClock replaces the time source.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Store) Jobs() *Jobs { return &Jobs{s: s} }
func (s *Store) Creatives() *Creatives { return &Creatives{s: s} }
func (s *Store) Requests() *Requests { return &Requests{s: s} }
func (s *Store) Profiles() *Profiles { return &Profiles{s: s} }

// StatusWrites reports how many times the request status was actually written.
func (s *Store) StatusWrites(requestID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusWrites[requestID]
}

// ForceRequestStatus overwrites a request status without counting it as a
// write. Tests use it to simulate drift.
func (s *Store) ForceRequestStatus(requestID string, status domain.RequestStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.requests[requestID]; ok {
		r.Status = status
	}
}

// ForceCreativeStatus overwrites a creative status, bypassing the guards.
func (s *Store) ForceCreativeStatus(creativeID string, status domain.CreativeStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.creatives[creativeID]; ok {
		c.Status = status
	}
}

// Jobs implements domain.JobRepository.
type Jobs struct{ s *Store }

func (r *Jobs) NextPending(ctx context.Context) (*domain.Job, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var candidates []*domain.Job
	for _, j := range s.jobs {
		if j.Status == domain.JobStatusPending && !j.AvailableAt.After(now) {
			candidates = append(candidates, j)
		}
	}
	if len(candidates) == 0 {
		return nil, domain.ErrNoPendingJob
	}
	sort.Slice(candidates, func(i, k int) bool {
		a, b := candidates[i], candidates[k]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.Seq < b.Seq
	})
	cp := *candidates[0]
	return &cp, nil
}

func (r *Jobs) Claim(ctx context.Context, jobID string, attempts int) (bool, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok || j.Status != domain.JobStatusPending {
		return false, nil
	}
	now := s.now()
	j.Status = domain.JobStatusProcessing
	j.Attempts = min(attempts, j.MaxAttempts)
	j.ProcessingStartedAt = &now
	j.ProcessingCompletedAt = nil
	j.ErrorMessage = nil
	return true, nil
}

func (r *Jobs) Complete(ctx context.Context, jobID string) error {
	return r.finish(jobID, domain.JobStatusCompleted, nil)
}

func (r *Jobs) Fail(ctx context.Context, jobID, message string) error {
	return r.finish(jobID, domain.JobStatusFailed, &message)
}

func (r *Jobs) finish(jobID string, status domain.JobStatus, msg *string) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok || j.Status != domain.JobStatusProcessing {
		return fmt.Errorf("job %s: %w", jobID, domain.ErrClaimConflict)
	}
	now := s.now()
	j.Status = status
	j.ErrorMessage = msg
	j.ProcessingCompletedAt = &now
	return nil
}

func (r *Jobs) Requeue(ctx context.Context, jobID string, availableAt time.Time) (bool, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok || j.Status != domain.JobStatusFailed || j.Attempts >= j.MaxAttempts {
		return false, nil
	}
	j.Status = domain.JobStatusPending
	j.AvailableAt = availableAt
	j.ProcessingStartedAt = nil
	j.ProcessingCompletedAt = nil
	return true, nil
}

func (r *Jobs) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

// Creatives implements domain.CreativeRepository.
type Creatives struct{ s *Store }

func (r *Creatives) GetByID(ctx context.Context, creativeID string) (*domain.Creative, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.creatives[creativeID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *Creatives) ListByRequest(ctx context.Context, requestID string) ([]domain.Creative, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.childrenLocked(requestID), nil
}

func (r *Creatives) MarkProcessing(ctx context.Context, creativeID string) error {
	return r.transition(creativeID, []domain.CreativeStatus{domain.CreativeStatusDraft, domain.CreativeStatusQueued, domain.CreativeStatusProcessing}, func(c *domain.Creative, _ time.Time) {
		c.Status = domain.CreativeStatusProcessing
		c.ErrorMessage = nil
	})
}

func (r *Creatives) Complete(ctx context.Context, creativeID, resultURL string, processedAt time.Time) error {
	return r.transition(creativeID, []domain.CreativeStatus{domain.CreativeStatusProcessing}, func(c *domain.Creative, _ time.Time) {
		c.Status = domain.CreativeStatusCompleted
		c.ResultURL = &resultURL
		c.ErrorMessage = nil
		c.ProcessedAt = &processedAt
	})
}

func (r *Creatives) Fail(ctx context.Context, creativeID, message string) error {
	return r.transition(creativeID, []domain.CreativeStatus{domain.CreativeStatusDraft, domain.CreativeStatusQueued, domain.CreativeStatusProcessing}, func(c *domain.Creative, now time.Time) {
		c.Status = domain.CreativeStatusFailed
		c.ErrorMessage = &message
		c.ResultURL = nil
		c.ProcessedAt = &now
	})
}

func (r *Creatives) MarkQueued(ctx context.Context, creativeID string) error {
	return r.transition(creativeID, []domain.CreativeStatus{domain.CreativeStatusFailed}, func(c *domain.Creative, _ time.Time) {
		c.Status = domain.CreativeStatusQueued
		c.ErrorMessage = nil
		c.ProcessedAt = nil
	})
}

func (r *Creatives) transition(creativeID string, from []domain.CreativeStatus, apply func(*domain.Creative, time.Time)) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.creatives[creativeID]
	if !ok {
		return domain.ErrNotFound
	}
	if !slices.Contains(from, c.Status) {
		return fmt.Errorf("creative %s in status %s: %w", creativeID, c.Status, domain.ErrConflict)
	}
	now := s.now()
	apply(c, now)
	c.UpdatedAt = now
	return nil
}

// Requests implements domain.RequestRepository.
type Requests struct{ s *Store }

func (r *Requests) Create(ctx context.Context, req *domain.CreativeRequest, creatives []domain.Creative, jobs []domain.Job) error {
	if len(creatives) != len(jobs) {
		return fmt.Errorf("%w: %d creatives but %d jobs", domain.ErrInvalidInput, len(creatives), len(jobs))
	}
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.requests[req.ID]; exists {
		return fmt.Errorf("request %s: %w", req.ID, domain.ErrConflict)
	}
	now := s.now()
	req.Status = domain.RequestStatusPending
	req.CreatedAt, req.UpdatedAt = now, now
	cp := *req
	cp.Formats = slices.Clone(req.Formats)
	s.requests[req.ID] = &cp

	for i := range creatives {
		c := &creatives[i]
		c.Status = domain.CreativeStatusQueued
		c.CreatedAt, c.UpdatedAt = now, now
		cc := *c
		s.creatives[c.ID] = &cc

		j := &jobs[i]
		s.seq++
		j.Seq = s.seq
		j.CreativeID = c.ID
		j.Status = domain.JobStatusPending
		if j.MaxAttempts <= 0 {
			j.MaxAttempts = domain.DefaultMaxAttempts
		}
		j.CreatedAt, j.AvailableAt = now, now
		jc := *j
		s.jobs[j.ID] = &jc
	}
	return nil
}

func (r *Requests) GetByID(ctx context.Context, requestID string) (*domain.CreativeRequest, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[requestID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *req
	cp.Formats = slices.Clone(req.Formats)
	return &cp, nil
}

func (r *Requests) ListByOwner(ctx context.Context, ownerID string, limit int) ([]domain.CreativeRequest, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.CreativeRequest
	for _, req := range s.requests {
		if req.OwnerID != ownerID {
			continue
		}
		cp := *req
		cp.Formats = slices.Clone(req.Formats)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *Requests) ChildStatuses(ctx context.Context, requestID string) ([]domain.CreativeStatus, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	children := s.childrenLocked(requestID)
	out := make([]domain.CreativeStatus, len(children))
	for i, c := range children {
		out[i] = c.Status
	}
	return out, nil
}

func (r *Requests) UpdateStatus(ctx context.Context, requestID string, status domain.RequestStatus) (bool, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[requestID]
	if !ok || req.Status == status {
		return false, nil
	}
	req.Status = status
	req.UpdatedAt = s.now()
	s.statusWrites[requestID]++
	return true, nil
}

func (r *Requests) MarkProcessing(ctx context.Context, requestID string) (bool, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[requestID]
	if !ok || req.Status != domain.RequestStatusPending {
		return false, nil
	}
	req.Status = domain.RequestStatusProcessing
	req.UpdatedAt = s.now()
	return true, nil
}

func (r *Requests) Snapshots(ctx context.Context, afterID string, limit int) ([]domain.RequestSnapshot, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.requests))
	for id := range s.requests {
		if id > afterID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	var out []domain.RequestSnapshot
	for _, id := range ids {
		children := s.childrenLocked(id)
		if len(children) == 0 {
			continue
		}
		snap := domain.RequestSnapshot{RequestID: id, Status: s.requests[id].Status}
		terminal := true
		for _, c := range children {
			terminal = terminal && c.Status.Terminal()
			snap.Children = append(snap.Children, c.Status)
		}
		if !terminal {
			continue
		}
		out = append(out, snap)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) childrenLocked(requestID string) []domain.Creative {
	var out []domain.Creative
	for _, c := range s.creatives {
		if c.RequestID != nil && *c.RequestID == requestID {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, k int) bool {
		if !out[i].CreatedAt.Equal(out[k].CreatedAt) {
			return out[i].CreatedAt.Before(out[k].CreatedAt)
		}
		return out[i].ID < out[k].ID
	})
	return out
}

// Profiles implements domain.ProfileRepository.
type Profiles struct{ s *Store }

func (r *Profiles) Get(ctx context.Context, userID string) (*domain.Profile, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profileLocked(userID), nil
}

func (r *Profiles) Update(ctx context.Context, userID string, patch domain.ProfilePatch) (*domain.Profile, error) {
	return r.mutate(userID, func(p *domain.Profile) { *p = p.Apply(patch) })
}

func (r *Profiles) SetAvatar(ctx context.Context, userID, url, path string) (*domain.Profile, error) {
	return r.mutate(userID, func(p *domain.Profile) { p.AvatarURL, p.AvatarPath = url, path })
}

func (r *Profiles) ClearAvatar(ctx context.Context, userID string) (*domain.Profile, error) {
	return r.mutate(userID, func(p *domain.Profile) { p.AvatarURL, p.AvatarPath = "", "" })
}

func (r *Profiles) mutate(userID string, fn func(*domain.Profile)) (*domain.Profile, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.profiles[userID]
	if p == nil {
		s.profileLocked(userID)
		p = s.profiles[userID]
	}
	fn(p)
	p.UpdatedAt = s.now()
	cp := *p
	return &cp, nil
}

func (s *Store) profileLocked(userID string) *domain.Profile {
	p, ok := s.profiles[userID]
	if !ok {
		p = &domain.Profile{ID: userID, Locale: "en", UpdatedAt: s.now()}
		s.profiles[userID] = p
	}
	cp := *p
	return &cp
}

var (
	_ domain.JobRepository      = (*Jobs)(nil)
	_ domain.CreativeRepository = (*Creatives)(nil)
	_ domain.RequestRepository  = (*Requests)(nil)
	_ domain.ProfileRepository  = (*Profiles)(nil)
)
