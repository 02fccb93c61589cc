package models

import "time"

// Identity is the currently authenticated user and its credentials.
type Identity struct {
	UID          string
	Email        string
	IDToken      string
	RefreshToken string
	ExpiresAt    time.Time
}

// Expired reports whether the ID token is expired or expires within margin.
func (i *Identity) Expired(now time.Time, margin time.Duration) bool {
	if i == nil || i.IDToken == "" {
		return true
	}
	return !now.Add(margin).Before(i.ExpiresAt)
}
