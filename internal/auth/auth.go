// Package auth manages the Google OAuth2 credentials used by the polling
// transport: loading the persisted token, refreshing it, and the one-time
// interactive authorization flow.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmail "google.golang.org/api/gmail/v1"

	"ghoshika/internal/common"
)

// State describes the provider's current view of its credentials.
type State int

const (
	// StateValid means the access token is usable right now.
	StateValid State = iota
	// StateExpiredRefreshable means the access token lapsed but a refresh
	// token is available.
	StateExpiredRefreshable
	// StateInvalid means the credentials cannot be used or refreshed
	// without the interactive flow.
	StateInvalid
)

func (s State) String() string {
	switch s {
	case StateValid:
		return "valid"
	case StateExpiredRefreshable:
		return "expired-refreshable"
	default:
		return "invalid"
	}
}

// Provider loads, refreshes and persists the OAuth2 token. It is owned by
// a single supervisor goroutine; no internal locking.
type Provider struct {
	oauthConfig *oauth2.Config
	token       *oauth2.Token
	tokenFile   string
	revoked     bool
}

// NewProvider reads the Google "installed app" client secrets file. A
// missing secrets file is a fatal configuration failure: the process must
// not enter the loop without it.
func NewProvider(credentialsFile, tokenFile string) (*Provider, error) {
	data, err := os.ReadFile(credentialsFile) // #nosec G304
	if err != nil {
		if os.IsNotExist(err) {
			return nil, common.NewUserError(
				fmt.Sprintf("credentials file %q not found; download your OAuth client secrets from the Google Cloud Console", credentialsFile),
				common.ErrMissingConfig)
		}
		return nil, fmt.Errorf("failed to read credentials file: %w", err)
	}

	oauthConfig, err := google.ConfigFromJSON(data, gmail.GmailModifyScope)
	if err != nil {
		return nil, fmt.Errorf("%w: unusable client secrets file: %v", common.ErrInvalidConfig, err)
	}

	return &Provider{
		oauthConfig: oauthConfig,
		tokenFile:   tokenFile,
	}, nil
}

// Load reads the persisted token. Returns common.ErrTokenNotFound when the
// token file does not exist, so callers can print guidance to run the
// interactive flow.
func (p *Provider) Load() error {
	token, err := readToken(p.tokenFile)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", common.ErrTokenNotFound, p.tokenFile)
		}
		return fmt.Errorf("failed to load token from %s: %w", p.tokenFile, err)
	}
	p.token = token
	p.revoked = false
	return nil
}

// State reports the credential state. Transitions happen through time
// (expiry), Refresh and Invalidate only.
func (p *Provider) State() State {
	switch {
	case p.token == nil || p.revoked:
		return StateInvalid
	case p.token.Valid():
		return StateValid
	case p.token.RefreshToken != "":
		return StateExpiredRefreshable
	default:
		return StateInvalid
	}
}

// CanRefresh reports whether a refresh token is available.
func (p *Provider) CanRefresh() bool {
	return p.token != nil && p.token.RefreshToken != ""
}

// Refresh exchanges the refresh token for a fresh access token and
// persists it. Failure marks the credentials invalid until the token file
// changes out-of-band.
func (p *Provider) Refresh(ctx context.Context) error {
	if !p.CanRefresh() {
		return common.ErrNoRefresh
	}

	newToken, err := p.oauthConfig.TokenSource(ctx, p.token).Token()
	if err != nil {
		p.revoked = true
		return fmt.Errorf("%w: token refresh failed: %v", common.ErrAuth, err)
	}

	p.token = newToken
	p.revoked = false
	if err := saveToken(p.tokenFile, newToken); err != nil {
		slog.Warn("Failed to persist refreshed token", "file", p.tokenFile, "error", err)
	}
	return nil
}

// Invalidate marks the credentials revoked, typically after the transport
// saw a 401.
func (p *Provider) Invalidate() {
	p.revoked = true
}

// TokenSource returns an auto-refreshing token source for building API
// clients. Refreshes performed by the source itself are not persisted;
// the supervisor's scheduled Refresh takes care of that.
func (p *Provider) TokenSource(ctx context.Context) oauth2.TokenSource {
	return p.oauthConfig.TokenSource(ctx, p.token)
}

// Interactive runs the one-time browser authorization flow with a local
// callback server and persists the resulting token. Never called from the
// unattended loop.
func (p *Provider) Interactive(ctx context.Context) error {
	codeChan := make(chan string, 1)
	errorChan := make(chan error, 1)

	mux := http.NewServeMux()
	server := &http.Server{Addr: "localhost:8484", Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	mux.HandleFunc("/callback", func(w http.ResponseWriter, r *http.Request) {
		code := r.URL.Query().Get("code")
		if code == "" {
			errorChan <- fmt.Errorf("no authorization code received")
			_, _ = fmt.Fprint(w, `<html><body><h1>Authentication Failed</h1><p>No authorization code received. Please try again.</p></body></html>`)
			return
		}
		codeChan <- code
		_, _ = fmt.Fprint(w, `<html><body><h1>Authentication Successful!</h1><p>You can close this window and return to the terminal.</p></body></html>`)
	})

	go func() {
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			errorChan <- fmt.Errorf("failed to start callback server: %w", err)
		}
	}()

	p.oauthConfig.RedirectURL = "http://localhost:8484/callback"
	authURL := p.oauthConfig.AuthCodeURL("state-token", oauth2.AccessTypeOffline, oauth2.ApprovalForce)

	slog.Info("Google authorization required")
	slog.Info("Please visit this URL to authorize access", "url", authURL)
	slog.Info("Waiting for authorization...")

	var authCode string
	select {
	case authCode = <-codeChan:
		slog.Info("Received authorization code")
	case err := <-errorChan:
		_ = server.Shutdown(ctx)
		return err
	case <-time.After(5 * time.Minute):
		_ = server.Shutdown(ctx)
		return fmt.Errorf("authorization timeout - no response received within 5 minutes")
	case <-ctx.Done():
		_ = server.Shutdown(context.Background())
		return ctx.Err()
	}

	if err := server.Shutdown(ctx); err != nil {
		slog.Warn("Error shutting down callback server", "error", err)
	}

	token, err := p.oauthConfig.Exchange(ctx, authCode)
	if err != nil {
		return fmt.Errorf("failed to exchange authorization code: %w", err)
	}

	p.token = token
	p.revoked = false
	if err := saveToken(p.tokenFile, token); err != nil {
		return fmt.Errorf("failed to persist token: %w", err)
	}
	slog.Info("Token saved", "file", p.tokenFile)
	return nil
}

func readToken(tokenFile string) (*oauth2.Token, error) {
	f, err := os.Open(tokenFile) // #nosec G304
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	token := &oauth2.Token{}
	if err := json.NewDecoder(f).Decode(token); err != nil {
		return nil, err
	}
	return token, nil
}

func saveToken(path string, token *oauth2.Token) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create token directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600) // #nosec G304
	if err != nil {
		return fmt.Errorf("failed to create token file: %w", err)
	}
	defer func() { _ = f.Close() }()

	if err := json.NewEncoder(f).Encode(token); err != nil {
		return fmt.Errorf("failed to encode token: %w", err)
	}
	return nil
}
