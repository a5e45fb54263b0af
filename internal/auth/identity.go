// Package auth resolves the calling user. Operations never see credentials;
// they receive a user id from an Identity.
package auth

import (
	"context"
	"strings"
	"sync"

	"github.com/ugoodapp/ugood/internal/errors"
)

// Identity yields the stable id of the current user.
type Identity interface {
	UserID(ctx context.Context) (string, error)
}

// Provider is an Identity whose user can change during the process lifetime.
type Provider interface {
	Identity

	// OnIdentityChange registers fn and returns a function that removes it.
	OnIdentityChange(fn func(userID string)) (unsubscribe func())
}

type userIDKey struct{}

// WithUserID returns a context carrying the authenticated user id.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey{}, strings.TrimSpace(userID))
}

// UserIDFromContext returns the id set by WithUserID, or "".
func UserIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(userIDKey{}).(string); ok {
		return v
	}
	return ""
}

// ContextIdentity reads the user id placed on the request context by Middleware.
type ContextIdentity struct{}

func (ContextIdentity) UserID(ctx context.Context) (string, error) {
	if id := UserIDFromContext(ctx); id != "" {
		return id, nil
	}
	return "", errors.NewUnauthenticated("no authenticated user")
}

// Static is a settable identity for the CLI, the MCP server and tests.
type Static struct {
	mu        sync.RWMutex
	userID    string
	listeners map[int]func(string)
	next      int
}

var _ Provider = (*Static)(nil)

// NewStatic returns an identity fixed to userID until Set is called.
func NewStatic(userID string) *Static {
	return &Static{
		userID:    strings.TrimSpace(userID),
		listeners: make(map[int]func(string)),
	}
}

// UserID returns the current id. A user id on ctx takes precedence.
func (s *Static) UserID(ctx context.Context) (string, error) {
	if id := UserIDFromContext(ctx); id != "" {
		return id, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.userID == "" {
		return "", errors.NewUnauthenticated("no user configured (use --user or UGOOD_USER)")
	}
	return s.userID, nil
}

// Set switches the identity and notifies listeners if it changed.
func (s *Static) Set(userID string) {
	userID = strings.TrimSpace(userID)

	s.mu.Lock()
	if s.userID == userID {
		s.mu.Unlock()
		return
	}
	s.userID = userID
	fns := make([]func(string), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(userID)
	}
}

func (s *Static) OnIdentityChange(fn func(userID string)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.next
	s.next++
	s.listeners[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}
