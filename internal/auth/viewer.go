// Package auth carries the authenticated viewer through request contexts.
// Accounts and sessions live with the hosted auth provider; this service only
// needs to know who is asking.
package auth

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrNoViewer is returned when a context carries no authenticated user.
var ErrNoViewer = errors.New("no authenticated viewer")

type viewerKey struct{}

// WithViewer returns a copy of ctx carrying userID as the viewer.
func WithViewer(ctx context.Context, userID uuid.UUID) context.Context {
	return context.WithValue(ctx, viewerKey{}, userID)
}

// ViewerFromContext returns the viewer stored by WithViewer.
func ViewerFromContext(ctx context.Context) (uuid.UUID, error) {
	id, ok := ctx.Value(viewerKey{}).(uuid.UUID)
	if !ok || id == uuid.Nil {
		return uuid.Nil, ErrNoViewer
	}
	return id, nil
}
