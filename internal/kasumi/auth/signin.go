// Package auth implements the OAuth sign-in collaborator: it hands out
// sign-in links, receives the identity provider's redirect on an HTTP
// callback route, exchanges the authorization code for an access token, and
// delivers the token to the flow that is waiting on the attempt.
//
// Attempts live only in memory. Tokens pass through exactly once, from the
// code exchange to the waiting flow; nothing here persists them.
package auth

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kasumi-bot/kasumi/internal/kasumi/dialog"
)

// Connection describes one provider configuration referenced by name from
// OAuth prompts.
type Connection struct {
	// AuthorizeURL is the provider's authorization endpoint.
	AuthorizeURL string
	// TokenURL is the provider's code-exchange endpoint.
	TokenURL string
	// ClientID and ClientSecret identify this bot at the provider.
	ClientID     string
	ClientSecret string
	// Scopes are requested space-separated on the authorize redirect.
	Scopes []string
}

// Config assembles the sign-in service.
type Config struct {
	// BaseURL is the externally reachable base URL of the callback server,
	// without a trailing slash (e.g. "https://kasumi.example.com").
	BaseURL string
	// Connections maps connection names to provider configurations.
	Connections map[string]Connection
}

// Service tracks in-flight sign-in attempts and implements
// dialog.SignInProvider.
type Service struct {
	cfg Config

	mu       sync.Mutex
	attempts map[string]*attempt
}

var _ dialog.SignInProvider = (*Service)(nil)

// attempt is one pending sign-in, resolved by the callback handler.
type attempt struct {
	id         string
	connection string
	createdAt  time.Time
	// ch is buffered so the callback handler never blocks on delivery.
	ch chan dialog.TokenResponse
}

// NewService creates the sign-in service.
func NewService(cfg Config) *Service {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Service{
		cfg:      cfg,
		attempts: make(map[string]*attempt),
	}
}

// BeginSignIn registers a new attempt for the named connection and returns a
// session whose URL the user opens to complete the sign-in.
func (s *Service) BeginSignIn(_ context.Context, connection string) (dialog.SignInSession, error) {
	conn, ok := s.cfg.Connections[connection]
	if !ok {
		return nil, fmt.Errorf("auth: unknown connection %q", connection)
	}
	if s.cfg.BaseURL == "" {
		return nil, fmt.Errorf("auth: no callback base URL configured")
	}

	att := &attempt{
		id:         uuid.New().String(),
		connection: connection,
		createdAt:  time.Now().UTC(),
		ch:         make(chan dialog.TokenResponse, 1),
	}

	s.mu.Lock()
	s.attempts[att.id] = att
	s.mu.Unlock()

	q := url.Values{}
	q.Set("response_type", "code")
	q.Set("client_id", conn.ClientID)
	q.Set("redirect_uri", s.redirectURI())
	q.Set("state", att.id)
	if len(conn.Scopes) > 0 {
		q.Set("scope", strings.Join(conn.Scopes, " "))
	}

	return &session{
		svc: s,
		att: att,
		url: conn.AuthorizeURL + "?" + q.Encode(),
	}, nil
}

// redirectURI is where the provider sends the user back.
func (s *Service) redirectURI() string {
	return s.cfg.BaseURL + "/oauth/callback"
}

// take removes and returns the attempt with the given ID.
func (s *Service) take(id string) (*attempt, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	att, ok := s.attempts[id]
	if ok {
		delete(s.attempts, id)
	}
	return att, ok
}

// lookup returns the attempt without removing it.
func (s *Service) lookup(id string) (*attempt, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	att, ok := s.attempts[id]
	return att, ok
}

// session is one in-progress attempt held by a suspended flow.
type session struct {
	svc *Service
	att *attempt
	url string
}

// URL is the sign-in link.
func (s *session) URL() string {
	return s.url
}

// Await blocks until the callback handler delivers a token, timeout elapses,
// or ctx is cancelled. Timeouts resolve with an empty token rather than an
// error; the flow's next step reports the login failure.
func (s *session) Await(ctx context.Context, timeout time.Duration) (dialog.TokenResponse, error) {
	defer s.svc.take(s.att.id)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case tok := <-s.att.ch:
		return tok, nil
	case <-timer.C:
		return dialog.TokenResponse{}, nil
	case <-ctx.Done():
		return dialog.TokenResponse{}, ctx.Err()
	}
}
