package model

import "time"

// Session is the authenticated identity every core operation is scoped to.
// It is created on sign-in, replaced when the identity provider pushes a
// change and dropped on sign-out. Consumers treat it as read-only.
type Session struct {
	Token       string    `json:"-"`
	UserID      string    `json:"userId"`
	Email       string    `json:"email"`
	DisplayName string    `json:"displayName"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// Expired reports whether the session is no longer valid at now.
// A zero ExpiresAt never expires.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}
