package httpapi

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"creativehub/internal/adapter/memory"
	"creativehub/internal/aggregate"
	"creativehub/internal/domain"
	"creativehub/internal/http/handlers"
	"creativehub/internal/infra"
	"creativehub/internal/middleware"
	"creativehub/internal/providers/image"
	"creativehub/internal/queue"
	"creativehub/internal/realtime"
	"creativehub/internal/reconcile"
	"creativehub/internal/storage"
)

const (
	testSecret   = "test-secret"
	filesBaseURL = "http://files.test/files"
	ownerID      = "5f0c8a6e-1d2b-4c3a-9e8f-0a1b2c3d4e5f"
	strangerID   = "9a8b7c6d-5e4f-4a3b-8c2d-1e0f9a8b7c6d"
)

// pngHeader is enough for content sniffing to report image/png.
var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

type env struct {
	store   *memory.Store
	files   *storage.FileStore
	handler http.Handler
}

func newEnv(t *testing.T, gen image.Generator) *env {
	t.Helper()
	store := memory.New()
	files, err := storage.NewFileStore(t.TempDir(), filesBaseURL)
	require.NoError(t, err)

	agg := aggregate.New(store.Requests(), zerolog.Nop())
	consumer := queue.NewConsumer(queue.Deps{
		Jobs:       store.Jobs(),
		Creatives:  store.Creatives(),
		Requests:   store.Requests(),
		Aggregator: agg,
		Generator:  gen,
		Store:      files,
	}, queue.Options{Timeout: time.Second}, zerolog.Nop())
	hub := realtime.NewHub(zerolog.Nop(), []string{"*"})
	t.Cleanup(hub.Close)

	app := handlers.NewApp(handlers.Deps{
		Config:     &infra.Config{AppEnv: "development", JWTSecret: testSecret, RetryMaxAttempts: 3},
		Logger:     zerolog.Nop(),
		Requests:   store.Requests(),
		Creatives:  store.Creatives(),
		Profiles:   store.Profiles(),
		Files:      files,
		Jobs:       consumer,
		Reconciler: reconcile.New(store.Requests(), agg, 0, zerolog.Nop()),
		Stream:     hub,
	})
	return &env{
		store: store,
		files: files,
		handler: NewRouter(app, Options{
			JWTSecret:     testSecret,
			CORSOrigins:   []string{"*"},
			DefaultLocale: "en",
			FilesDir:      files.BasePath(),
			FilesBaseURL:  filesBaseURL,
			Logger:        zerolog.Nop(),
		}),
	}
}

func okGenerator() image.Generator {
	return image.GeneratorFunc(func(ctx context.Context, req image.GenerateRequest) (*image.Asset, error) {
		return &image.Asset{Format: "image/png", Width: 1, Height: 1, Data: []byte("png:" + req.Params.Format)}, nil
	})
}

func (e *env) do(t *testing.T, method, path, userID string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if userID != "" {
		token, err := middleware.SignToken(testSecret, userID, "en", time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *env) doJSON(t *testing.T, method, path, userID, body string) *httptest.ResponseRecorder {
	t.Helper()
	return e.do(t, method, path, userID, strings.NewReader(body))
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out), rec.Body.String())
	return out
}

type requestBody struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	Formats   []string
	Creatives []struct {
		ID        string  `json:"id"`
		Format    string  `json:"format"`
		Status    string  `json:"status"`
		ResultURL *string `json:"result_url"`
	} `json:"creatives"`
}

func TestHealthIsPublic(t *testing.T) {
	e := newEnv(t, okGenerator())
	rec := e.do(t, http.MethodGet, "/v1/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get(middleware.RequestIDHeader))
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	e := newEnv(t, okGenerator())
	for _, path := range []string{"/v1/requests", "/v1/me/profile"} {
		rec := e.do(t, http.MethodGet, path, "", nil)
		require.Equal(t, http.StatusUnauthorized, rec.Code, path)
	}
}

func TestRequestLifecycle(t *testing.T) {
	e := newEnv(t, okGenerator())

	rec := e.doJSON(t, http.MethodPost, "/v1/requests", ownerID,
		`{"formats":["Square","story","square"],"params":{"headline":"Weekend promo"}}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	created := decodeBody[requestBody](t, rec)
	require.Equal(t, string(domain.RequestStatusPending), created.Status)
	require.Len(t, created.Creatives, 2)
	for _, c := range created.Creatives {
		require.Equal(t, string(domain.CreativeStatusQueued), c.Status)
	}

	rec = e.do(t, http.MethodGet, "/v1/requests/"+created.ID+"/archive", ownerID, nil)
	require.Equal(t, http.StatusConflict, rec.Code)

	for range 2 {
		rec = e.do(t, http.MethodPost, "/v1/jobs/process-next", ownerID, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		out := decodeBody[map[string]any](t, rec)
		require.Equal(t, true, out["processed"])
		require.NotContains(t, out, "error")
	}
	rec = e.do(t, http.MethodPost, "/v1/jobs/process-next", ownerID, nil)
	require.Equal(t, false, decodeBody[map[string]any](t, rec)["processed"])

	rec = e.do(t, http.MethodGet, "/v1/requests/"+created.ID, ownerID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeBody[requestBody](t, rec)
	require.Equal(t, string(domain.RequestStatusCompleted), got.Status)
	for _, c := range got.Creatives {
		require.Equal(t, string(domain.CreativeStatusCompleted), c.Status)
		require.NotNil(t, c.ResultURL)
		require.True(t, strings.HasPrefix(*c.ResultURL, filesBaseURL+"/creatives/"+created.ID+"/"))
	}

	rec = e.do(t, http.MethodGet, "/v1/requests/"+created.ID, strangerID, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = e.do(t, http.MethodGet, "/v1/requests?limit=5", ownerID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeBody[struct {
		Items []requestBody `json:"items"`
	}](t, rec)
	require.Len(t, list.Items, 1)
	require.Equal(t, created.ID, list.Items[0].ID)

	rec = e.do(t, http.MethodGet, "/v1/requests/"+created.ID+"/archive", ownerID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/zip", rec.Header().Get("Content-Type"))
	zr, err := zip.NewReader(bytes.NewReader(rec.Body.Bytes()), int64(rec.Body.Len()))
	require.NoError(t, err)
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	sort.Strings(names)
	require.Equal(t, []string{"square.png", "story.png"}, names)
}

func TestCreateRequestRejectsBadInput(t *testing.T) {
	e := newEnv(t, okGenerator())
	cases := map[string]string{
		"unknown format": `{"formats":["poster"],"params":{"headline":"x"}}`,
		"no formats":     `{"formats":[],"params":{"headline":"x"}}`,
		"no copy":        `{"formats":["square"],"params":{}}`,
		"unknown field":  `{"formats":["square"],"params":{"headline":"x"},"quantity":2}`,
		"long headline":  `{"formats":["square"],"params":{"headline":"` + strings.Repeat("a", 121) + `"}}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rec := e.doJSON(t, http.MethodPost, "/v1/requests", ownerID, body)
			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
}

func TestFailedGenerationIsReportedInBody(t *testing.T) {
	gen := image.GeneratorFunc(func(ctx context.Context, req image.GenerateRequest) (*image.Asset, error) {
		return nil, io.ErrUnexpectedEOF
	})
	e := newEnv(t, gen)
	rec := e.doJSON(t, http.MethodPost, "/v1/requests", ownerID, `{"formats":["square"],"params":{"body":"Hi"}}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	created := decodeBody[requestBody](t, rec)

	rec = e.do(t, http.MethodPost, "/v1/jobs/process-next", ownerID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	out := decodeBody[map[string]any](t, rec)
	require.Equal(t, true, out["processed"])
	require.Contains(t, out["error"], "generation failed")

	req, err := e.store.Requests().GetByID(context.Background(), created.ID)
	require.NoError(t, err)
	require.Equal(t, domain.RequestStatusFailed, req.Status)
}

func TestReconcileEndpointCorrectsDrift(t *testing.T) {
	e := newEnv(t, okGenerator())
	rec := e.doJSON(t, http.MethodPost, "/v1/requests", ownerID, `{"formats":["square","banner"],"params":{"headline":"x"}}`)
	created := decodeBody[requestBody](t, rec)
	e.store.ForceCreativeStatus(created.Creatives[0].ID, domain.CreativeStatusCompleted)
	e.store.ForceCreativeStatus(created.Creatives[1].ID, domain.CreativeStatusFailed)

	rec = e.do(t, http.MethodPost, "/v1/reconcile", ownerID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	out := decodeBody[map[string]any](t, rec)
	require.EqualValues(t, 1, out["corrected_count"])

	req, err := e.store.Requests().GetByID(context.Background(), created.ID)
	require.NoError(t, err)
	require.Equal(t, domain.RequestStatusPartial, req.Status)
}

func TestProfileEditing(t *testing.T) {
	e := newEnv(t, okGenerator())

	rec := e.doJSON(t, http.MethodPatch, "/v1/me/profile", ownerID, `{"display_name":"Sari","locale":"id"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	profile := decodeBody[domain.Profile](t, rec)
	require.Equal(t, "Sari", profile.DisplayName)
	require.Equal(t, "id", profile.Locale)

	rec = e.doJSON(t, http.MethodPatch, "/v1/me/profile", ownerID, `{"locale":"fr"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "locale")

	rec = e.doJSON(t, http.MethodPatch, "/v1/me/profile", ownerID, `{}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodGet, "/v1/me/profile", ownerID, nil)
	require.Equal(t, "Sari", decodeBody[domain.Profile](t, rec).DisplayName)
}

func TestAvatarUploadReplaceAndRemove(t *testing.T) {
	e := newEnv(t, okGenerator())

	rec := e.do(t, http.MethodPut, "/v1/me/avatar", ownerID, bytes.NewReader(append(pngHeader, 1)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	first := decodeBody[domain.Profile](t, rec)
	require.True(t, strings.HasPrefix(first.AvatarURL, filesBaseURL+"/avatars/"+ownerID+"/"))
	require.FileExists(t, filepath.Join(e.files.BasePath(), first.AvatarPath))

	served := e.do(t, http.MethodGet, strings.TrimPrefix(first.AvatarURL, "http://files.test"), "", nil)
	require.Equal(t, http.StatusOK, served.Code)

	rec = e.do(t, http.MethodPut, "/v1/me/avatar", ownerID, bytes.NewReader(append(pngHeader, 2)))
	require.Equal(t, http.StatusOK, rec.Code)
	second := decodeBody[domain.Profile](t, rec)
	require.NotEqual(t, first.AvatarPath, second.AvatarPath)
	require.NoFileExists(t, filepath.Join(e.files.BasePath(), first.AvatarPath))

	rec = e.do(t, http.MethodDelete, "/v1/me/avatar", ownerID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	cleared := decodeBody[domain.Profile](t, rec)
	require.Empty(t, cleared.AvatarURL)
	_, err := os.Stat(filepath.Join(e.files.BasePath(), second.AvatarPath))
	require.ErrorIs(t, err, os.ErrNotExist)

	rec = e.do(t, http.MethodPut, "/v1/me/avatar", ownerID, strings.NewReader("plain text"))
	require.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}

func TestDevTokenIssuesVerifiableToken(t *testing.T) {
	e := newEnv(t, okGenerator())
	rec := e.do(t, http.MethodPost, "/v1/auth/token", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out := decodeBody[map[string]string](t, rec)
	claims, err := middleware.VerifyToken(testSecret, out["token"])
	require.NoError(t, err)
	require.Equal(t, out["user_id"], claims.Subject)

	rec = e.doJSON(t, http.MethodPost, "/v1/auth/token", "", `{"user_id":"not-a-uuid"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
