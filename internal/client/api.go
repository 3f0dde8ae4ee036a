// Package client is the consumer side of the API: an HTTP client, an
// optimistic profile editor and a session that keeps both in sync with the
// server's change stream.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"creativehub/internal/domain"
	"creativehub/internal/domain/jsoncfg"
)

const defaultReadTries = 3

// TokenSource returns the bearer token for the next call.
type TokenSource func(ctx context.Context) (string, error)

// StaticToken always returns token.
func StaticToken(token string) TokenSource {
	return func(context.Context) (string, error) { return token, nil }
}

// APIError is a non-2xx answer from the API.
type APIError struct {
	Status  int
	Code    string `json:"error"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api: %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("api: status %d", e.Status)
}

// Creative mirrors one creative in a request response.
type Creative struct {
	ID          string     `json:"id"`
	Format      string     `json:"format"`
	Status      string     `json:"status"`
	ResultURL   *string    `json:"result_url,omitempty"`
	Error       *string    `json:"error,omitempty"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}

// Request mirrors a creative request response.
type Request struct {
	ID        string     `json:"id"`
	Status    string     `json:"status"`
	Formats   []string   `json:"formats"`
	Country   string     `json:"country,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	Creatives []Creative `json:"creatives,omitempty"`
}

// ReconcileResult mirrors the reconcile endpoint.
type ReconcileResult struct {
	Scanned        int    `json:"scanned"`
	CorrectedCount int    `json:"corrected_count"`
	Error          string `json:"error,omitempty"`
}

type API struct {
	baseURL string
	token   TokenSource
	http    *http.Client
	tries   uint
	backOff func() backoff.BackOff
}

func NewAPI(baseURL string, token TokenSource, httpClient *http.Client) *API {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &API{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    httpClient,
		tries:   defaultReadTries,
		backOff: func() backoff.BackOff { return backoff.NewExponentialBackOff() },
	}
}

func (a *API) CreateRequest(ctx context.Context, formats []string, params jsoncfg.CreativeParams) (*Request, error) {
	body, err := json.Marshal(map[string]any{"formats": formats, "params": params})
	if err != nil {
		return nil, err
	}
	var out Request
	if err := a.send(ctx, http.MethodPost, "/v1/requests", "application/json", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *API) GetRequest(ctx context.Context, id string) (*Request, error) {
	var out Request
	if err := a.get(ctx, "/v1/requests/"+id, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *API) GetProfile(ctx context.Context) (domain.Profile, error) {
	var out domain.Profile
	err := a.get(ctx, "/v1/me/profile", &out)
	return out, err
}

func (a *API) UpdateProfile(ctx context.Context, patch domain.ProfilePatch) (domain.Profile, error) {
	var out domain.Profile
	body, err := json.Marshal(patch)
	if err != nil {
		return out, err
	}
	err = a.send(ctx, http.MethodPatch, "/v1/me/profile", "application/json", body, &out)
	return out, err
}

func (a *API) UploadAvatar(ctx context.Context, data []byte) (domain.Profile, error) {
	var out domain.Profile
	err := a.send(ctx, http.MethodPut, "/v1/me/avatar", http.DetectContentType(data), data, &out)
	return out, err
}

func (a *API) RemoveAvatar(ctx context.Context) (domain.Profile, error) {
	var out domain.Profile
	err := a.send(ctx, http.MethodDelete, "/v1/me/avatar", "", nil, &out)
	return out, err
}

func (a *API) ProcessNext(ctx context.Context) (processed bool, jobID string, err error) {
	var out struct {
		Processed bool   `json:"processed"`
		JobID     string `json:"job_id"`
		Error     string `json:"error"`
	}
	if err := a.send(ctx, http.MethodPost, "/v1/jobs/process-next", "", nil, &out); err != nil {
		return false, "", err
	}
	if out.Error != "" {
		return out.Processed, out.JobID, errors.New(out.Error)
	}
	return out.Processed, out.JobID, nil
}

func (a *API) Reconcile(ctx context.Context) (ReconcileResult, error) {
	var out ReconcileResult
	err := a.send(ctx, http.MethodPost, "/v1/reconcile", "", nil, &out)
	return out, err
}

// get retries transport errors and 5xx answers with exponential backoff.
func (a *API) get(ctx context.Context, path string, out any) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := a.send(ctx, http.MethodGet, path, "", nil, out)
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status < http.StatusInternalServerError {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}, backoff.WithBackOff(a.backOff()), backoff.WithMaxTries(a.tries))
	return err
}

func (a *API) send(ctx context.Context, method, path, contentType string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if a.token != nil {
		token, err := a.token(ctx)
		if err != nil {
			return fmt.Errorf("load token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{Status: resp.StatusCode}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		_ = json.Unmarshal(data, apiErr)
		if apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(data))
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}
