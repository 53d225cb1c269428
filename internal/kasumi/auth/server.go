package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kasumi-bot/kasumi/common/redact"
	"github.com/kasumi-bot/kasumi/internal/kasumi/dialog"
)

// RouteRegistrar is satisfied by *http.ServeMux, letting the app mount the
// callback route without this package owning the HTTP server.
type RouteRegistrar interface {
	Handle(pattern string, handler http.Handler)
}

// RegisterRoutes mounts the OAuth callback route.
func (s *Service) RegisterRoutes(mux RouteRegistrar) {
	mux.Handle("/oauth/callback", http.HandlerFunc(s.handleCallback))
}

// handleCallback receives the provider redirect, exchanges the code and
// delivers the token to the waiting flow. Every outcome renders a small HTML
// page telling the user to return to the chat.
func (s *Service) handleCallback(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("state")
	code := r.URL.Query().Get("code")

	att, ok := s.lookup(state)
	if !ok {
		slog.Warn("auth: callback for unknown or expired attempt", "state", state)
		s.renderResult(w, http.StatusGone, "This sign-in link has expired. Please ask for a new one in the chat.")
		return
	}

	if code == "" {
		// Provider denied or the user declined; resolve the attempt empty so
		// the flow reports a login failure instead of waiting out the timeout.
		s.deliver(att, dialog.TokenResponse{})
		s.renderResult(w, http.StatusOK, "Sign-in was not completed. You can close this window.")
		return
	}

	token, err := s.exchangeCode(r.Context(), att.connection, code)
	if err != nil {
		conn := s.cfg.Connections[att.connection]
		slog.Error("auth: code exchange failed",
			"connection", att.connection,
			"err", redact.Error(err, conn.ClientSecret, code))
		s.deliver(att, dialog.TokenResponse{})
		s.renderResult(w, http.StatusBadGateway, "Something went wrong while signing you in. Please try again from the chat.")
		return
	}

	s.deliver(att, token)
	s.renderResult(w, http.StatusOK, "You're signed in! You can close this window and return to the chat.")
}

// deliver hands the token to the waiting session without blocking. A second
// delivery for the same attempt is dropped.
func (s *Service) deliver(att *attempt, tok dialog.TokenResponse) {
	select {
	case att.ch <- tok:
	default:
	}
}

func (s *Service) renderResult(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	fmt.Fprintf(w, "<!DOCTYPE html><html><body><p>%s</p></body></html>", message)
}

// tokenEndpointResponse is the provider's code-exchange reply.
type tokenEndpointResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	Error       string `json:"error"`
}

// exchangeCode swaps an authorization code for an access token at the
// connection's token endpoint.
func (s *Service) exchangeCode(ctx context.Context, connection, code string) (dialog.TokenResponse, error) {
	conn, ok := s.cfg.Connections[connection]
	if !ok {
		return dialog.TokenResponse{}, fmt.Errorf("auth: unknown connection %q", connection)
	}

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", s.redirectURI())
	form.Set("client_id", conn.ClientID)
	form.Set("client_secret", conn.ClientSecret)

	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, conn.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return dialog.TokenResponse{}, fmt.Errorf("auth: build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return dialog.TokenResponse{}, fmt.Errorf("auth: call token endpoint: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return dialog.TokenResponse{}, fmt.Errorf("auth: read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return dialog.TokenResponse{}, fmt.Errorf("auth: token endpoint returned HTTP %d", resp.StatusCode)
	}

	var ter tokenEndpointResponse
	if err := json.Unmarshal(body, &ter); err != nil {
		return dialog.TokenResponse{}, fmt.Errorf("auth: decode token response: %w", err)
	}
	if ter.Error != "" {
		return dialog.TokenResponse{}, fmt.Errorf("auth: token endpoint error: %s", ter.Error)
	}
	if ter.AccessToken == "" {
		return dialog.TokenResponse{}, fmt.Errorf("auth: token endpoint returned no access token")
	}

	return dialog.TokenResponse{Token: ter.AccessToken}, nil
}
