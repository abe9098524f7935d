// Package model defines the data structures used throughout the application.
package model

import (
	"strings"
	"time"
)

// Identity providers a user can sign in with.
const (
	ProviderPassword = "password"
	ProviderGoogle   = "google"
	ProviderGitHub   = "github"
)

// User represents a registered account.
//
// Accounts created with email/password carry a bcrypt hash in PasswordHash.
// Accounts created through an OAuth provider carry Provider + ProviderSubject
// instead; the pair is unique in the store.
type User struct {
	ID              string    `json:"id"`
	Email           string    `json:"email"`
	DisplayName     string    `json:"displayName"`
	Provider        string    `json:"provider"`
	ProviderSubject string    `json:"-"`
	PasswordHash    string    `json:"-"`
	AvatarURL       string    `json:"avatarUrl,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// FirstName is the greeting name: the first word of the display name, else
// the local part of the email, else "Gardener".
func (u *User) FirstName() string {
	if u == nil {
		return "Gardener"
	}
	if fields := strings.Fields(u.DisplayName); len(fields) > 0 {
		return fields[0]
	}
	if local, _, ok := strings.Cut(u.Email, "@"); ok && local != "" {
		return local
	}
	return "Gardener"
}
