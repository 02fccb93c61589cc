// Package chathub owns the state of the chat screens: one Session per mounted feature,
// mounted and torn down by the Manager.
package chathub

import (
	"context"

	"pasta/chat/internal/chatapi"
	"pasta/chat/internal/models"
)

// Identity is the part of the identity provider a session needs.
type Identity interface {
	// CurrentUser returns the signed-in identity, or nil.
	CurrentUser() *models.Identity
	// IDToken returns a fresh bearer credential for the current identity.
	IDToken(ctx context.Context) (string, error)
}

// Dispatcher sends one chat turn to a bot endpoint.
type Dispatcher interface {
	Send(ctx context.Context, endpoint, idToken, text string) (*chatapi.Reply, error)
}
