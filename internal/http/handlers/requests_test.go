package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"creativehub/internal/domain"
)

func TestNormalizeFormats(t *testing.T) {
	got, err := normalizeFormats([]string{" Story", "square", "STORY"})
	require.NoError(t, err)
	require.Equal(t, []string{"story", "square"}, got)

	_, err = normalizeFormats([]string{"square", "poster"})
	require.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestFailMapsDomainErrors(t *testing.T) {
	app := NewApp(Deps{Logger: zerolog.Nop()})
	cases := []struct {
		err  error
		code int
	}{
		{domain.ErrNotFound, http.StatusNotFound},
		{fmt.Errorf("%w: bad", domain.ErrInvalidInput), http.StatusBadRequest},
		{fmt.Errorf("request x: %w", domain.ErrConflict), http.StatusConflict},
		{domain.ErrUnauthorized, http.StatusUnauthorized},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		app.fail(rec, httptest.NewRequest(http.MethodGet, "/", nil), tc.err, "request")
		require.Equal(t, tc.code, rec.Code, tc.err.Error())
	}
}

func TestCreateRequestWithoutUser(t *testing.T) {
	app := NewApp(Deps{Logger: zerolog.Nop()})
	rec := httptest.NewRecorder()
	app.CreateRequest(rec, httptest.NewRequest(http.MethodPost, "/v1/requests", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}
