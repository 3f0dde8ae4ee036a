package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"creativehub/internal/domain"
)

const maxAvatarBytes = 5 << 20

var avatarExtensions = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/webp": ".webp",
}

func (a *App) GetProfile(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	profile, err := a.Profiles.Get(r.Context(), userID)
	if err != nil {
		a.fail(w, r, err, "profile")
		return
	}
	a.json(w, http.StatusOK, profile)
}

func (a *App) PatchProfile(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	var patch domain.ProfilePatch
	if err := a.decode(r, &patch); err != nil {
		a.fail(w, r, err, "profile")
		return
	}
	if patch.DisplayName == nil && patch.Bio == nil && patch.Locale == nil {
		a.error(w, http.StatusBadRequest, "bad_request", "nothing to update")
		return
	}
	profile, err := a.Profiles.Update(r.Context(), userID, patch)
	if err != nil {
		a.fail(w, r, err, "profile")
		return
	}
	a.json(w, http.StatusOK, profile)
}

// PutAvatar stores the raw image body and points the profile at it. The
// previous avatar file is removed once the profile row references the new one.
func (a *App) PutAvatar(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxAvatarBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			a.error(w, http.StatusRequestEntityTooLarge, "too_large", "avatar exceeds 5 MB")
			return
		}
		a.error(w, http.StatusBadRequest, "bad_request", "could not read body")
		return
	}
	if len(data) == 0 {
		a.error(w, http.StatusBadRequest, "bad_request", "avatar body is empty")
		return
	}
	ext, ok := avatarExtensions[http.DetectContentType(data)]
	if !ok {
		a.error(w, http.StatusUnsupportedMediaType, "unsupported_media_type", "avatar must be png, jpeg or webp")
		return
	}

	previous, err := a.Profiles.Get(r.Context(), userID)
	if err != nil {
		a.fail(w, r, err, "profile")
		return
	}
	key, err := a.Files.Write(r.Context(), fmt.Sprintf("avatars/%s/%s%s", userID, a.newID(), ext), data)
	if err != nil {
		a.fail(w, r, err, "avatar")
		return
	}
	profile, err := a.Profiles.SetAvatar(r.Context(), userID, a.Files.PublicURL(key), key)
	if err != nil {
		a.removeFile(r, key)
		a.fail(w, r, err, "profile")
		return
	}
	if previous.AvatarPath != "" && previous.AvatarPath != key {
		a.removeFile(r, previous.AvatarPath)
	}
	a.json(w, http.StatusOK, profile)
}

func (a *App) DeleteAvatar(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	previous, err := a.Profiles.Get(r.Context(), userID)
	if err != nil {
		a.fail(w, r, err, "profile")
		return
	}
	profile, err := a.Profiles.ClearAvatar(r.Context(), userID)
	if err != nil {
		a.fail(w, r, err, "profile")
		return
	}
	if previous.AvatarPath != "" {
		a.removeFile(r, previous.AvatarPath)
	}
	a.json(w, http.StatusOK, profile)
}

func (a *App) removeFile(r *http.Request, key string) {
	if err := a.Files.Delete(r.Context(), key); err != nil {
		a.Logger.Warn().Err(err).Str("key", key).Msg("storage: delete failed")
	}
}
