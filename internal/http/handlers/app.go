package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"creativehub/internal/domain"
	"creativehub/internal/infra"
	"creativehub/internal/middleware"
	"creativehub/internal/queue"
	"creativehub/internal/reconcile"
)

// JobProcessor runs a single queue consumer invocation.
type JobProcessor interface {
	ProcessNext(ctx context.Context) queue.Outcome
}

// Reconciler runs one consistency pass over all requests.
type Reconciler interface {
	Reconcile(ctx context.Context) reconcile.Report
}

// EventStream upgrades a request into a change feed scoped to owner.
type EventStream interface {
	ServeWS(w http.ResponseWriter, r *http.Request, owner string)
}

// BlobStore is the file storage used for archives and avatars. Write returns
// the canonical key.
type BlobStore interface {
	Write(ctx context.Context, key string, data []byte) (string, error)
	Read(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	PublicURL(key string) string
	KeyFromURL(raw string) (string, bool)
}

type Deps struct {
	Config     *infra.Config
	Logger     zerolog.Logger
	Requests   domain.RequestRepository
	Creatives  domain.CreativeRepository
	Profiles   domain.ProfileRepository
	Files      BlobStore
	Jobs       JobProcessor
	Reconciler Reconciler
	Stream     EventStream
	// Ping checks the database; nil reports healthy.
	Ping func(ctx context.Context) error
}

type App struct {
	Deps
	validate *validator.Validate
	newID    func() string
}

func NewApp(deps Deps) *App {
	if deps.Config == nil {
		deps.Config = &infra.Config{AppEnv: "development"}
	}
	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return &App{
		Deps:     deps,
		validate: validate,
		newID:    uuid.NewString,
	}
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, errCode, message string) {
	a.json(w, code, errorBody{Error: errCode, Message: message})
}

// fail maps a domain error onto a status code. Unknown errors are logged and
// reported as internal.
func (a *App) fail(w http.ResponseWriter, r *http.Request, err error, what string) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not_found", what+" not found")
	case errors.Is(err, domain.ErrInvalidInput):
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
	case errors.Is(err, domain.ErrConflict):
		a.error(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, domain.ErrUnauthorized):
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
	default:
		a.Logger.Error().
			Err(err).
			Str("request_id", middleware.RequestIDFromContext(r.Context())).
			Msgf("%s failed", what)
		a.error(w, http.StatusInternalServerError, "internal", "failed to load "+what)
	}
}

func (a *App) currentUserID(r *http.Request) string {
	return middleware.UserIDFromContext(r.Context())
}

// decode reads a JSON body into v and runs struct validation.
func (a *App) decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: invalid payload", domain.ErrInvalidInput)
	}
	if err := a.validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("%w: %s failed %s", domain.ErrInvalidInput, verrs[0].Field(), verrs[0].Tag())
		}
		return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	return nil
}
