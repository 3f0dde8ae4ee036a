package handlers

import (
	"net/http"
	"time"

	"creativehub/internal/middleware"
)

const devTokenTTL = 24 * time.Hour

type devTokenRequest struct {
	UserID string `json:"user_id" validate:"omitempty,uuid"`
	Locale string `json:"locale" validate:"omitempty,oneof=id en"`
}

type devTokenResponse struct {
	Token     string    `json:"token"`
	UserID    string    `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// DevToken mints a bearer token for local development. Production deployments
// get a 404 so that identity only comes from the real issuer.
func (a *App) DevToken(w http.ResponseWriter, r *http.Request) {
	if a.Config.AppEnv == "production" {
		a.error(w, http.StatusNotFound, "not_found", "not found")
		return
	}
	var req devTokenRequest
	if r.ContentLength != 0 {
		if err := a.decode(r, &req); err != nil {
			a.fail(w, r, err, "token")
			return
		}
	}
	if req.UserID == "" {
		req.UserID = a.newID()
	}
	if req.Locale == "" {
		req.Locale = "en"
	}
	token, err := middleware.SignToken(a.Config.JWTSecret, req.UserID, req.Locale, devTokenTTL)
	if err != nil {
		a.Logger.Error().Err(err).Msg("sign jwt failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to sign token")
		return
	}
	a.json(w, http.StatusOK, devTokenResponse{
		Token:     token,
		UserID:    req.UserID,
		ExpiresAt: time.Now().Add(devTokenTTL).UTC(),
	})
}
