// Package auth owns the Noon session: credentials, the current token and
// its validity windows, and the per-account endpoint directory. Every
// authenticated operation in the client calls Authenticate first; it is
// idempotent and returns without I/O while the token is still valid.
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// tokenSafetyMargin is shaved off the server-reported lifetimes to absorb
// clock skew and request latency.
const tokenSafetyMargin = 30 * time.Second

// Default lifetimes used when a login response omits them.
const (
	defaultLifetime      = 3600 * time.Second
	defaultRenewLifetime = 24 * time.Hour
)

// Transport is the slice of the HTTP transport the session needs.
type Transport interface {
	PostJSON(ctx context.Context, url string, headers map[string]string, body any) (map[string]any, error)
	GetJSON(ctx context.Context, url string, headers map[string]string) (map[string]any, error)
}

// Config carries the login endpoints and credentials.
type Config struct {
	LoginURL string
	RenewURL string
	DexURL   string
	Username string
	Password string
}

// Session manages the token lifecycle. Safe for concurrent use; the caller's
// goroutine and the stream listener both authenticate through it.
type Session struct {
	mu sync.Mutex

	cfg       Config
	transport Transport
	now       func() time.Time
	log       *slog.Logger

	token                string
	tokenValidUntil      time.Time
	tokenRenewValidUntil time.Time
	loginPayload         map[string]any // last login response, replayed on renewal
	endpoints            map[string]string
}

// NewSession creates a session manager. now is injectable for tests; nil
// selects time.Now.
func NewSession(cfg Config, tr Transport, now func() time.Time, log *slog.Logger) *Session {
	if now == nil {
		now = time.Now
	}
	if log == nil {
		log = slog.Default()
	}
	return &Session{cfg: cfg, transport: tr, now: now, log: log}
}

// Authenticate ensures a usable token, choosing between doing nothing, a
// lightweight renewal, and a full credential login based on the validity
// windows. It is cheap to call before every authenticated operation.
func (s *Session) Authenticate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	switch {
	case s.token != "" && now.Before(s.tokenValidUntil):
		return s.ensureEndpoints(ctx)

	case s.token != "" && now.Before(s.tokenRenewValidUntil):
		s.log.Debug("auth: token expired, renewing")
		if err := s.renew(ctx); err != nil {
			return err
		}
		return s.ensureEndpoints(ctx)

	default:
		s.log.Debug("auth: logging in")
		if err := s.login(ctx); err != nil {
			return err
		}
		return s.ensureEndpoints(ctx)
	}
}

// login performs a full credential login. Callers hold s.mu.
func (s *Session) login(ctx context.Context) error {
	result, err := s.transport.PostJSON(ctx, s.cfg.LoginURL, nil, map[string]any{
		"email":    s.cfg.Username,
		"password": s.cfg.Password,
	})
	if err != nil {
		return fmt.Errorf("login request: %v: %w", err, ErrAuthentication)
	}
	return s.acceptToken(result)
}

// renew exchanges the previous login payload for a fresh token without
// sending credentials. Callers hold s.mu.
func (s *Session) renew(ctx context.Context) error {
	result, err := s.transport.PostJSON(ctx, s.cfg.RenewURL, s.authHeaderLocked(), s.loginPayload)
	if err != nil {
		return fmt.Errorf("renewal request: %v: %w", err, ErrAuthentication)
	}
	return s.acceptToken(result)
}

// acceptToken validates a login/renewal response and recomputes the validity
// windows. Any response lacking a token is an authentication failure.
func (s *Session) acceptToken(result map[string]any) error {
	token, _ := result["token"].(string)
	if token == "" {
		return fmt.Errorf("response carried no token: %w", ErrAuthentication)
	}

	now := s.now()
	s.token = token
	s.loginPayload = result
	s.tokenValidUntil = now.Add(lifetimeSeconds(result, "lifetime", defaultLifetime) - tokenSafetyMargin)
	s.tokenRenewValidUntil = now.Add(lifetimeSeconds(result, "renewLifetime", defaultRenewLifetime) - tokenSafetyMargin)

	s.log.Debug("auth: token accepted",
		"valid_until", s.tokenValidUntil, "renew_valid_until", s.tokenRenewValidUntil)
	return nil
}

// ensureEndpoints fetches the endpoint directory once per session. Callers
// hold s.mu.
func (s *Session) ensureEndpoints(ctx context.Context) error {
	if len(s.endpoints) > 0 {
		return nil
	}

	result, err := s.transport.GetJSON(ctx, s.cfg.DexURL, s.authHeaderLocked())
	if err != nil {
		return fmt.Errorf("endpoint directory request: %v: %w", err, ErrAuthentication)
	}

	raw, ok := result["endpoints"].(map[string]any)
	if !ok {
		return fmt.Errorf("endpoint directory malformed: %w", ErrAuthentication)
	}

	endpoints := make(map[string]string, len(raw))
	for name, v := range raw {
		if url, ok := v.(string); ok {
			endpoints[name] = url
		}
	}
	s.endpoints = endpoints
	s.log.Debug("auth: endpoint directory fetched", "count", len(endpoints))
	return nil
}

// Token returns the current token. Valid only after Authenticate succeeds.
func (s *Session) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

// AuthHeader returns the Authorization header for authenticated requests.
func (s *Session) AuthHeader() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authHeaderLocked()
}

func (s *Session) authHeaderLocked() map[string]string {
	if s.token == "" {
		return nil
	}
	return map[string]string{"Authorization": "Token " + s.token}
}

// Endpoint resolves a logical service name ("query", "action",
// "notification-ws") to its base URL.
func (s *Session) Endpoint(name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	url, ok := s.endpoints[name]
	if !ok {
		return "", fmt.Errorf("no %q endpoint in directory: %w", name, ErrAuthentication)
	}
	return url, nil
}

// lifetimeSeconds reads a lifetime field (seconds) out of a login response.
func lifetimeSeconds(result map[string]any, key string, def time.Duration) time.Duration {
	if v, ok := result[key].(float64); ok && v > 0 {
		return time.Duration(v) * time.Second
	}
	return def
}
