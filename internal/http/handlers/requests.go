package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"creativehub/internal/domain"
	"creativehub/internal/domain/jsoncfg"
	"creativehub/internal/middleware"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

type createRequestBody struct {
	Formats  []string               `json:"formats" validate:"required,min=1,dive,required"`
	Params   jsoncfg.CreativeParams `json:"params"`
	Priority int                    `json:"priority" validate:"gte=0,lte=100"`
}

type creativeDTO struct {
	ID           string     `json:"id"`
	Format       string     `json:"format"`
	Status       string     `json:"status"`
	ResultURL    *string    `json:"result_url,omitempty"`
	ErrorMessage *string    `json:"error,omitempty"`
	ProcessedAt  *time.Time `json:"processed_at,omitempty"`
}

type requestDTO struct {
	ID        string        `json:"id"`
	Status    string        `json:"status"`
	Formats   []string      `json:"formats"`
	Country   string        `json:"country,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
	Creatives []creativeDTO `json:"creatives,omitempty"`
}

func toRequestDTO(req domain.CreativeRequest, creatives []domain.Creative) requestDTO {
	dto := requestDTO{
		ID:        req.ID,
		Status:    string(req.Status),
		Formats:   req.Formats,
		Country:   req.Country,
		CreatedAt: req.CreatedAt,
		UpdatedAt: req.UpdatedAt,
	}
	for _, c := range creatives {
		dto.Creatives = append(dto.Creatives, creativeDTO{
			ID:           c.ID,
			Format:       c.Params.Format,
			Status:       string(c.Status),
			ResultURL:    c.ResultURL,
			ErrorMessage: c.ErrorMessage,
			ProcessedAt:  c.ProcessedAt,
		})
	}
	return dto
}

// normalizeFormats lowercases, dedupes and checks each requested format.
func normalizeFormats(formats []string) ([]string, error) {
	seen := make(map[string]bool, len(formats))
	out := make([]string, 0, len(formats))
	for _, f := range formats {
		f = strings.ToLower(strings.TrimSpace(f))
		if !jsoncfg.SupportedFormat(f) {
			return nil, fmt.Errorf("%w: format %q is not supported", domain.ErrInvalidInput, f)
		}
		if seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	if len(out) > jsoncfg.MaxFormatsPerRequest {
		return nil, fmt.Errorf("%w: at most %d formats per request", domain.ErrInvalidInput, jsoncfg.MaxFormatsPerRequest)
	}
	return out, nil
}

// CreateRequest stores a request with one queued creative and one pending job
// per format. Generation happens later in the queue consumer.
func (a *App) CreateRequest(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	var body createRequestBody
	if err := a.decode(r, &body); err != nil {
		a.fail(w, r, err, "request")
		return
	}
	formats, err := normalizeFormats(body.Formats)
	if err != nil {
		a.fail(w, r, err, "request")
		return
	}

	params := body.Params
	params.Format = formats[0]
	params.Normalize(middleware.LocaleFromContext(r.Context()))
	if err := params.Validate(); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if err := a.validate.Struct(params); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "params are invalid")
		return
	}

	maxAttempts := domain.DefaultMaxAttempts
	if a.Config.RetryMaxAttempts > 0 {
		maxAttempts = a.Config.RetryMaxAttempts
	}

	req := &domain.CreativeRequest{
		ID:      a.newID(),
		OwnerID: userID,
		Formats: formats,
		Country: middleware.CountryFromContext(r.Context()),
	}
	creatives := make([]domain.Creative, 0, len(formats))
	jobs := make([]domain.Job, 0, len(formats))
	for _, f := range formats {
		requestID := req.ID
		creative := domain.Creative{
			ID:        a.newID(),
			RequestID: &requestID,
			OwnerID:   userID,
			Params:    params.WithFormat(f),
		}
		creatives = append(creatives, creative)
		jobs = append(jobs, domain.Job{
			ID:          a.newID(),
			CreativeID:  creative.ID,
			MaxAttempts: maxAttempts,
			Priority:    body.Priority,
		})
	}

	if err := a.Requests.Create(r.Context(), req, creatives, jobs); err != nil {
		a.fail(w, r, err, "request")
		return
	}
	a.Logger.Info().
		Str("request_id", req.ID).
		Str("user_id", userID).
		Strs("formats", formats).
		Msg("creative request queued")
	a.json(w, http.StatusAccepted, toRequestDTO(*req, creatives))
}

func (a *App) ListRequests(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			a.error(w, http.StatusBadRequest, "bad_request", "limit must be a positive integer")
			return
		}
		limit = min(n, maxListLimit)
	}
	reqs, err := a.Requests.ListByOwner(r.Context(), userID, limit)
	if err != nil {
		a.fail(w, r, err, "requests")
		return
	}
	items := make([]requestDTO, 0, len(reqs))
	for _, req := range reqs {
		items = append(items, toRequestDTO(req, nil))
	}
	a.json(w, http.StatusOK, map[string]any{"items": items})
}

// ownedRequest loads the request and hides requests of other users behind a
// not found.
func (a *App) ownedRequest(r *http.Request) (*domain.CreativeRequest, error) {
	userID := a.currentUserID(r)
	if userID == "" {
		return nil, domain.ErrUnauthorized
	}
	req, err := a.Requests.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		return nil, err
	}
	if req.OwnerID != userID {
		return nil, domain.ErrNotFound
	}
	return req, nil
}

func (a *App) GetRequest(w http.ResponseWriter, r *http.Request) {
	req, err := a.ownedRequest(r)
	if err != nil {
		a.fail(w, r, err, "request")
		return
	}
	creatives, err := a.Creatives.ListByRequest(r.Context(), req.ID)
	if err != nil {
		a.fail(w, r, err, "creatives")
		return
	}
	a.json(w, http.StatusOK, toRequestDTO(*req, creatives))
}
