package domain

import "time"

// Profile is the user-facing account record edited from the client.
type Profile struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"display_name"`
	Bio         string    `json:"bio"`
	Locale      string    `json:"locale"`
	AvatarURL   string    `json:"avatar_url"`
	AvatarPath  string    `json:"avatar_path,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ProfilePatch carries the editable fields. Nil fields are left unchanged.
type ProfilePatch struct {
	DisplayName *string `json:"display_name,omitempty" validate:"omitempty,min=1,max=80"`
	Bio         *string `json:"bio,omitempty" validate:"omitempty,max=500"`
	Locale      *string `json:"locale,omitempty" validate:"omitempty,oneof=id en"`
}

// Apply returns a copy of p with the patch fields applied.
func (p Profile) Apply(patch ProfilePatch) Profile {
	if patch.DisplayName != nil {
		p.DisplayName = *patch.DisplayName
	}
	if patch.Bio != nil {
		p.Bio = *patch.Bio
	}
	if patch.Locale != nil {
		p.Locale = *patch.Locale
	}
	return p
}

// HasAvatar reports whether an avatar is currently set.
func (p Profile) HasAvatar() bool {
	return p.AvatarURL != ""
}
