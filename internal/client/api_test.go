package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"creativehub/internal/adapter/memory"
	"creativehub/internal/aggregate"
	"creativehub/internal/domain"
	"creativehub/internal/domain/jsoncfg"
	"creativehub/internal/http/handlers"
	"creativehub/internal/http/httpapi"
	"creativehub/internal/infra"
	"creativehub/internal/middleware"
	"creativehub/internal/optimistic"
	"creativehub/internal/providers/image"
	"creativehub/internal/queue"
	"creativehub/internal/realtime"
	"creativehub/internal/reconcile"
	"creativehub/internal/storage"
)

const (
	testSecret = "client-secret"
	testUserID = "3c6e0b8a-9f1d-4e2b-8a7c-5d4e3f2a1b0c"
)

var pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00")

// newStack serves the real API over the in-memory store.
func newStack(t *testing.T) (*httptest.Server, *API) {
	t.Helper()
	store := memory.New()
	srv := httptest.NewUnstartedServer(nil)
	baseURL := "http://" + srv.Listener.Addr().String()
	files, err := storage.NewFileStore(t.TempDir(), baseURL+"/files")
	require.NoError(t, err)

	agg := aggregate.New(store.Requests(), zerolog.Nop())
	gen := image.GeneratorFunc(func(ctx context.Context, req image.GenerateRequest) (*image.Asset, error) {
		return &image.Asset{Format: "image/png", Data: pngBytes}, nil
	})
	app := handlers.NewApp(handlers.Deps{
		Config:    &infra.Config{AppEnv: "test", JWTSecret: testSecret},
		Logger:    zerolog.Nop(),
		Requests:  store.Requests(),
		Creatives: store.Creatives(),
		Profiles:  store.Profiles(),
		Files:     files,
		Jobs: queue.NewConsumer(queue.Deps{
			Jobs:       store.Jobs(),
			Creatives:  store.Creatives(),
			Requests:   store.Requests(),
			Aggregator: agg,
			Generator:  gen,
			Store:      files,
		}, queue.Options{Timeout: time.Second}, zerolog.Nop()),
		Reconciler: reconcile.New(store.Requests(), agg, 0, zerolog.Nop()),
		Stream:     realtime.NewHub(zerolog.Nop(), nil),
	})
	srv.Config.Handler = httpapi.NewRouter(app, httpapi.Options{
		JWTSecret:     testSecret,
		DefaultLocale: "en",
		FilesDir:      files.BasePath(),
		FilesBaseURL:  baseURL + "/files",
		Logger:        zerolog.Nop(),
	})
	srv.Start()
	t.Cleanup(srv.Close)

	token, err := middleware.SignToken(testSecret, testUserID, "en", time.Hour)
	require.NoError(t, err)
	return srv, NewAPI(srv.URL, StaticToken(token), srv.Client())
}

func TestAPIRequestFlow(t *testing.T) {
	_, api := newStack(t)
	ctx := context.Background()

	req, err := api.CreateRequest(ctx, []string{"square", "story"}, jsoncfg.CreativeParams{Headline: "Promo"})
	require.NoError(t, err)
	require.Equal(t, string(domain.RequestStatusPending), req.Status)
	require.Len(t, req.Creatives, 2)

	for range 2 {
		processed, jobID, err := api.ProcessNext(ctx)
		require.NoError(t, err)
		require.True(t, processed)
		require.NotEmpty(t, jobID)
	}

	got, err := api.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	require.Equal(t, string(domain.RequestStatusCompleted), got.Status)

	res, err := api.Reconcile(ctx)
	require.NoError(t, err)
	require.Zero(t, res.CorrectedCount)

	_, err = api.GetRequest(ctx, "missing")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusNotFound, apiErr.Status)
}

func TestProfileEditorAgainstAPI(t *testing.T) {
	srv, api := newStack(t)
	ctx := context.Background()

	var (
		mu      sync.Mutex
		notices []*optimistic.Error
	)
	editor := NewProfileEditor(api, testUserID, optimistic.Options[domain.Profile]{
		Notify: func(err *optimistic.Error) {
			mu.Lock()
			notices = append(notices, err)
			mu.Unlock()
		},
	})

	p, err := editor.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, "en", p.Locale)

	p, err = editor.EditField(ctx, FieldDisplayName, "Sari")
	require.NoError(t, err)
	require.Equal(t, "Sari", p.DisplayName)

	_, err = editor.EditField(ctx, FieldLocale, "fr")
	var optErr *optimistic.Error
	require.ErrorAs(t, err, &optErr)
	require.Equal(t, "Could not update your language. Your changes were reverted.", optErr.Message)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusBadRequest, apiErr.Status)
	require.Equal(t, "en", editor.Profile().Locale)
	require.Equal(t, "Sari", editor.Profile().DisplayName)
	require.Len(t, notices, 1)

	p, err = editor.UploadAvatar(ctx, pngBytes)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(p.AvatarURL, srv.URL+"/files/avatars/"), p.AvatarURL)

	resp, err := srv.Client().Get(p.AvatarURL)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	p, err = editor.RemoveAvatar(ctx)
	require.NoError(t, err)
	require.Empty(t, p.AvatarURL)
	require.False(t, editor.Saving())

	_, err = editor.EditField(ctx, ProfileField("email"), "x")
	require.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestAPIGetRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"u1","locale":"id"}`))
	}))
	defer srv.Close()

	api := NewAPI(srv.URL, nil, srv.Client())
	api.backOff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }

	p, err := api.GetProfile(context.Background())
	require.NoError(t, err)
	require.Equal(t, "id", p.Locale)
	require.EqualValues(t, 3, calls.Load())
}

func TestAPIGetDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"unauthorized","message":"missing user context"}`))
	}))
	defer srv.Close()

	api := NewAPI(srv.URL, StaticToken("t"), srv.Client())
	api.backOff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }

	_, err := api.GetProfile(context.Background())
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, "unauthorized", apiErr.Code)
	require.EqualValues(t, 1, calls.Load())
}
