package client

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"

	"creativehub/internal/domain"
	"creativehub/internal/optimistic"
)

// ProfileField names an editable profile field.
type ProfileField string

const (
	FieldDisplayName ProfileField = "display_name"
	FieldBio         ProfileField = "bio"
	FieldLocale      ProfileField = "locale"
)

var fieldLabels = map[ProfileField]string{
	FieldDisplayName: "display name",
	FieldBio:         "bio",
	FieldLocale:      "language",
}

// ProfileAPI is the server side of profile edits.
type ProfileAPI interface {
	GetProfile(ctx context.Context) (domain.Profile, error)
	UpdateProfile(ctx context.Context, patch domain.ProfilePatch) (domain.Profile, error)
	UploadAvatar(ctx context.Context, data []byte) (domain.Profile, error)
	RemoveAvatar(ctx context.Context) (domain.Profile, error)
}

// ProfileEditor shows profile edits immediately and rolls them back when
// the server rejects them.
type ProfileEditor struct {
	api    ProfileAPI
	userID string
	sync   *optimistic.Synchronizer[domain.Profile]
}

func NewProfileEditor(api ProfileAPI, userID string, opts optimistic.Options[domain.Profile]) *ProfileEditor {
	if opts.Resolution == optimistic.Merge && opts.MergeFunc == nil {
		opts.MergeFunc = mergeProfile
	}
	return &ProfileEditor{api: api, userID: userID, sync: optimistic.New(opts)}
}

// Load fetches the server profile and makes it the visible value.
func (e *ProfileEditor) Load(ctx context.Context) (domain.Profile, error) {
	p, err := e.api.GetProfile(ctx)
	if err != nil {
		return domain.Profile{}, fmt.Errorf("load profile: %w", err)
	}
	e.sync.Absorb(e.userID, p)
	return e.Profile(), nil
}

// Profile returns the visible profile, including edits still in flight.
func (e *ProfileEditor) Profile() domain.Profile {
	p, _ := e.sync.Get(e.userID)
	return p
}

// Saving reports whether an edit is waiting for the server.
func (e *ProfileEditor) Saving() bool {
	return e.sync.Pending(e.userID)
}

// Absorb applies a profile pushed by the server.
func (e *ProfileEditor) Absorb(p domain.Profile) {
	e.sync.Absorb(e.userID, p)
}

func (e *ProfileEditor) EditField(ctx context.Context, field ProfileField, value string) (domain.Profile, error) {
	label, ok := fieldLabels[field]
	if !ok {
		return e.Profile(), fmt.Errorf("%w: unknown profile field %q", domain.ErrInvalidInput, field)
	}
	var patch domain.ProfilePatch
	switch field {
	case FieldDisplayName:
		patch.DisplayName = &value
	case FieldBio:
		patch.Bio = &value
	case FieldLocale:
		patch.Locale = &value
	}
	return e.sync.Run(ctx, e.userID, optimistic.Command[domain.Profile]{
		Name:  "update your " + label,
		Apply: func(p domain.Profile) domain.Profile { return p.Apply(patch) },
		Commit: func(ctx context.Context, _ domain.Profile) (domain.Profile, error) {
			return e.api.UpdateProfile(ctx, patch)
		},
	})
}

// UploadAvatar shows the image as a data URL until the server answers with
// the stored URL.
func (e *ProfileEditor) UploadAvatar(ctx context.Context, data []byte) (domain.Profile, error) {
	preview := "data:" + http.DetectContentType(data) + ";base64," + base64.StdEncoding.EncodeToString(data)
	return e.sync.Run(ctx, e.userID, optimistic.Command[domain.Profile]{
		Name: "upload your avatar",
		Apply: func(p domain.Profile) domain.Profile {
			p.AvatarURL, p.AvatarPath = preview, ""
			return p
		},
		Commit: func(ctx context.Context, _ domain.Profile) (domain.Profile, error) {
			return e.api.UploadAvatar(ctx, data)
		},
	})
}

func (e *ProfileEditor) RemoveAvatar(ctx context.Context) (domain.Profile, error) {
	return e.sync.Run(ctx, e.userID, optimistic.Command[domain.Profile]{
		Name: "remove your avatar",
		Apply: func(p domain.Profile) domain.Profile {
			p.AvatarURL, p.AvatarPath = "", ""
			return p
		},
		Commit: func(ctx context.Context, _ domain.Profile) (domain.Profile, error) {
			return e.api.RemoveAvatar(ctx)
		},
	})
}

// mergeProfile keeps local text edits and takes the avatar from the server.
func mergeProfile(server, local domain.Profile) domain.Profile {
	out := server
	out.DisplayName = local.DisplayName
	out.Bio = local.Bio
	out.Locale = local.Locale
	return out
}
