package homebox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"homeboxbridge/internal/clock"
)

// Auth method selectors, matching the configuration surface.
const (
	AuthMethodToken = "token"
	AuthMethodLogin = "login"
)

// maxAttemptLog bounds the in-memory login/refresh attempt log.
const maxAttemptLog = 20

// Credentials holds the originally configured auth inputs. For
// AuthMethodToken only Token is used; for AuthMethodLogin the
// username/password pair is exchanged for a token.
type Credentials struct {
	Method   string
	Token    string
	Username string
	Password string
}

// Attempt records one login/refresh/logout attempt for diagnostics.
type Attempt struct {
	Time        time.Time `json:"time"`
	Kind        string    `json:"kind"`
	Success     bool      `json:"success"`
	TokenPrefix string    `json:"token_prefix"`
	Detail      string    `json:"detail,omitempty"`
}

// AuthManager owns the current access token and its expiry. The remote API
// does not report token lifetimes, so expiry is derived from a configured
// TTL. All token state sits behind one mutex.
type AuthManager struct {
	baseURL string
	creds   Credentials
	ttl     time.Duration
	httpc   *http.Client
	clock   clock.Clock
	logger  *zap.Logger

	mu       sync.Mutex
	token    string
	expiry   time.Time
	attempts []Attempt
}

// NewAuthManager creates an auth manager for one configured Homebox instance.
func NewAuthManager(baseURL string, creds Credentials, ttl, timeout time.Duration, clk clock.Clock, logger *zap.Logger) *AuthManager {
	return &AuthManager{
		baseURL: strings.TrimRight(baseURL, "/"),
		creds:   creds,
		ttl:     ttl,
		httpc:   &http.Client{Timeout: timeout},
		clock:   clk,
		logger:  logger,
	}
}

// EnsureToken returns a currently valid token, logging in or refreshing
// first if none exists or the cached expiry has passed. No network call is
// made while the cached token is still valid.
func (a *AuthManager) EnsureToken(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.token != "" && a.clock.Now().Before(a.expiry) {
		return a.token, nil
	}
	if a.token != "" {
		// Token expired; refresh only works while the old token is still
		// accepted, so fall back to a full login when it is not.
		if err := a.refreshLocked(ctx); err == nil {
			return a.token, nil
		}
	}
	if err := a.loginLocked(ctx); err != nil {
		return "", err
	}
	return a.token, nil
}

// Login authenticates with the originally configured credentials and stores
// the resulting token with a computed expiry.
func (a *AuthManager) Login(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.loginLocked(ctx); err != nil {
		return "", err
	}
	return a.token, nil
}

// Refresh replaces the stored token via the refresh endpoint, falling back
// to a full login when the refresh endpoint rejects the current token.
func (a *AuthManager) Refresh(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.refreshLocked(ctx); err != nil {
		a.logger.Warn("Token refresh failed, falling back to login", zap.Error(err))
		if loginErr := a.loginLocked(ctx); loginErr != nil {
			return "", loginErr
		}
	}
	return a.token, nil
}

// Logout calls the remote logout endpoint best-effort and always clears the
// locally cached token.
func (a *AuthManager) Logout(ctx context.Context) {
	a.mu.Lock()
	token := a.token
	a.token = ""
	a.expiry = time.Time{}
	a.mu.Unlock()

	if token == "" {
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/api/v1/users/logout", nil)
	if err != nil {
		return
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := a.httpc.Do(req)
	a.mu.Lock()
	defer a.mu.Unlock()
	if err != nil {
		a.logger.Debug("Logout request failed", zap.Error(err))
		a.recordAttempt("logout", false, token, err.Error())
		return
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	a.recordAttempt("logout", resp.StatusCode < 300, token, fmt.Sprintf("HTTP %d", resp.StatusCode))
}

// Attempts returns a copy of the bounded attempt log, newest last.
func (a *AuthManager) Attempts() []Attempt {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Attempt, len(a.attempts))
	copy(out, a.attempts)
	return out
}

// CanLogin reports whether the configured credentials allow obtaining a
// fresh token after the current one expires.
func (a *AuthManager) CanLogin() bool {
	return a.creds.Method == AuthMethodLogin || a.creds.Token != ""
}

func (a *AuthManager) loginLocked(ctx context.Context) error {
	switch a.creds.Method {
	case AuthMethodToken:
		if a.creds.Token == "" {
			err := &AuthError{Reason: "no API token configured"}
			a.recordAttempt("login", false, "", err.Reason)
			return err
		}
		// A static token is used as-is; it carries no known expiry, so the
		// refresh endpoint is the only recovery once it goes stale.
		a.token = sanitizeToken(a.creds.Token)
		a.expiry = a.clock.Now().Add(a.ttl)
		a.recordAttempt("login", true, a.token, "static token installed")
		return nil

	case AuthMethodLogin:
		if a.creds.Username == "" || a.creds.Password == "" {
			err := &AuthError{Reason: "username/password not configured"}
			a.recordAttempt("login", false, "", err.Reason)
			return err
		}
		body, _ := json.Marshal(loginRequest{Email: a.creds.Username, Password: a.creds.Password})
		status, respBody, err := a.roundTrip(ctx, http.MethodPost, "/api/v1/users/login", "", body)
		if err != nil {
			a.recordAttempt("login", false, "", err.Error())
			return err
		}
		if status != http.StatusOK {
			a.recordAttempt("login", false, "", fmt.Sprintf("HTTP %d", status))
			return &AuthError{Status: status, Body: string(respBody), Reason: "login rejected"}
		}
		var tr tokenResponse
		if err := json.Unmarshal(respBody, &tr); err != nil || tr.Token == "" {
			a.recordAttempt("login", false, "", "no token in login response")
			return &AuthError{Status: status, Body: string(respBody), Reason: "login response carried no token"}
		}
		a.token = sanitizeToken(tr.Token)
		a.expiry = a.clock.Now().Add(a.ttl)
		a.recordAttempt("login", true, a.token, fmt.Sprintf("HTTP %d", status))
		a.logger.Debug("Logged in to Homebox", zap.String("token", TruncateToken(a.token)))
		return nil

	default:
		err := &AuthError{Reason: fmt.Sprintf("unknown auth method %q", a.creds.Method)}
		a.recordAttempt("login", false, "", err.Reason)
		return err
	}
}

func (a *AuthManager) refreshLocked(ctx context.Context) error {
	if a.token == "" {
		return &AuthError{Reason: "no token to refresh"}
	}
	status, respBody, err := a.roundTrip(ctx, http.MethodGet, "/api/v1/users/refresh", a.token, nil)
	if err != nil {
		a.recordAttempt("refresh", false, a.token, err.Error())
		return err
	}
	if status != http.StatusOK {
		a.recordAttempt("refresh", false, a.token, fmt.Sprintf("HTTP %d", status))
		return &AuthError{Status: status, Body: string(respBody), Reason: "refresh rejected"}
	}
	var tr tokenResponse
	if err := json.Unmarshal(respBody, &tr); err != nil || tr.Token == "" {
		a.recordAttempt("refresh", false, a.token, "no token in refresh response")
		return &AuthError{Status: status, Body: string(respBody), Reason: "refresh response carried no token"}
	}
	old := a.token
	a.token = sanitizeToken(tr.Token)
	a.expiry = a.clock.Now().Add(a.ttl)
	a.recordAttempt("refresh", true, a.token, fmt.Sprintf("HTTP %d", status))
	a.logger.Debug("Refreshed Homebox token",
		zap.String("old", TruncateToken(old)),
		zap.String("new", TruncateToken(a.token)))
	return nil
}

func (a *AuthManager) roundTrip(ctx context.Context, method, path, token string, body []byte) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	url := a.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := a.httpc.Do(req)
	if err != nil {
		return 0, nil, &ConnectionError{URL: url, Err: err}
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, &ConnectionError{URL: url, Err: err}
	}
	return resp.StatusCode, respBody, nil
}

func (a *AuthManager) recordAttempt(kind string, success bool, token, detail string) {
	a.attempts = append(a.attempts, Attempt{
		Time:        a.clock.Now(),
		Kind:        kind,
		Success:     success,
		TokenPrefix: TruncateToken(token),
		Detail:      detail,
	})
	if len(a.attempts) > maxAttemptLog {
		a.attempts = a.attempts[len(a.attempts)-maxAttemptLog:]
	}
}

// sanitizeToken strips a leading "Bearer " prefix pasted in from API docs.
func sanitizeToken(token string) string {
	return strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(token), "Bearer "))
}

// TruncateToken renders a token safe for logs: first 10 characters or "[none]".
func TruncateToken(token string) string {
	if token == "" {
		return "[none]"
	}
	if len(token) <= 13 {
		return token[:1] + "..."
	}
	return token[:10] + "..."
}
