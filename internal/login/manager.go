// Package login provisions the agent with the backend and produces its
// bearer credentials.
//
// Provisioning happens at most once per credential lifetime: a cached auth
// bundle under the data directory is reused while its token is still
// valid, otherwise the manager signs a fresh challenge with the agent's
// keypair and exchanges it for a new token. This is the only network call
// in the agent setup sequence and its failure aborts setup entirely.
package login

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/tribes-protocol/ayaos/internal/keychain"
	"github.com/tribes-protocol/ayaos/internal/observability"
	"github.com/tribes-protocol/ayaos/internal/paths"
)

const (
	provisionPath  = "/v1/agents/provision"
	requestTimeout = 30 * time.Second

	// expirySlack avoids reusing a cached token that is about to lapse
	// mid-setup.
	expirySlack = time.Minute
)

// Auth is the credential bundle produced by provisioning. It is immutable
// once returned.
type Auth struct {
	Token     string    `json:"token"`
	AgentID   string    `json:"agent_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Valid reports whether the bundle carries a token usable at the given
// time.
func (a Auth) Valid(now time.Time) bool {
	if a.Token == "" || a.AgentID == "" {
		return false
	}
	return a.ExpiresAt.IsZero() || now.Add(expirySlack).Before(a.ExpiresAt)
}

// Manager performs challenge-response provisioning against the backend.
type Manager struct {
	keychain *keychain.Keychain
	resolver *paths.Resolver
	baseURL  string
	client   *http.Client
	logger   *slog.Logger
}

// NewManager builds a login manager bound to the agent's keychain and data
// directory. baseURL is the HTTP API root, without trailing slash.
func NewManager(kc *keychain.Keychain, resolver *paths.Resolver, baseURL string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		keychain: kc,
		resolver: resolver,
		baseURL:  baseURL,
		client:   &http.Client{Timeout: requestTimeout},
		logger:   logger.With("component", "login"),
	}
}

type provisionRequest struct {
	AgentID   string `json:"agent_id"`
	PublicKey string `json:"public_key"`
	Nonce     string `json:"nonce"`
	Timestamp int64  `json:"timestamp"`
	Signature string `json:"signature"`
}

type provisionResponse struct {
	Token string `json:"token"`
}

// ProvisionIfNeeded returns the agent's credentials, reusing the cached
// bundle when its token is still valid and performing the network
// provisioning exchange otherwise.
func (m *Manager) ProvisionIfNeeded(ctx context.Context) (Auth, error) {
	if auth, ok := m.loadCached(); ok {
		m.logger.Debug("reusing cached credentials",
			"agent_id", auth.AgentID,
			"expires_at", auth.ExpiresAt,
		)
		return auth, nil
	}

	auth, err := m.provision(ctx)
	if err != nil {
		return Auth{}, err
	}

	if err := m.saveCached(auth); err != nil {
		// A failed cache write is not fatal: the credentials are valid,
		// the next setup just provisions again.
		m.logger.Warn("persist credentials failed", "error", err)
	}

	m.logger.Info("agent provisioned",
		"agent_id", auth.AgentID,
		"token", observability.RedactToken(auth.Token),
		"expires_at", auth.ExpiresAt,
	)
	return auth, nil
}

func (m *Manager) provision(ctx context.Context) (Auth, error) {
	agentID := m.keychain.AgentID()
	nonce := uuid.NewString()
	now := time.Now().Unix()

	challenge := fmt.Sprintf("%s:%s:%d", agentID, nonce, now)
	body, err := json.Marshal(provisionRequest{
		AgentID:   agentID,
		PublicKey: agentID,
		Nonce:     nonce,
		Timestamp: now,
		Signature: m.keychain.Sign([]byte(challenge)),
	})
	if err != nil {
		return Auth{}, fmt.Errorf("encode provision request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+provisionPath, bytes.NewReader(body))
	if err != nil {
		return Auth{}, fmt.Errorf("build provision request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return Auth{}, fmt.Errorf("provision request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Auth{}, fmt.Errorf("provision request: status %d: %s", resp.StatusCode, bytes.TrimSpace(payload))
	}

	var parsed provisionResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Auth{}, fmt.Errorf("decode provision response: %w", err)
	}
	if parsed.Token == "" {
		return Auth{}, fmt.Errorf("provision response missing token")
	}

	expiresAt, err := tokenExpiry(parsed.Token)
	if err != nil {
		return Auth{}, err
	}

	return Auth{Token: parsed.Token, AgentID: agentID, ExpiresAt: expiresAt}, nil
}

// tokenExpiry extracts the expiry claim from the bearer token. The backend
// signs the token; the agent only inspects its shape, so the parse is
// unverified. A token without an expiry never expires locally.
func tokenExpiry(token string) (time.Time, error) {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}, fmt.Errorf("malformed provision token: %w", err)
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, nil
	}
	return claims.ExpiresAt.Time, nil
}

func (m *Manager) loadCached() (Auth, bool) {
	data, err := os.ReadFile(m.resolver.AuthFile())
	if err != nil {
		return Auth{}, false
	}

	var auth Auth
	if err := json.Unmarshal(data, &auth); err != nil {
		m.logger.Warn("discarding unreadable auth cache", "error", err)
		return Auth{}, false
	}
	if auth.AgentID != m.keychain.AgentID() || !auth.Valid(time.Now()) {
		return Auth{}, false
	}
	return auth, true
}

func (m *Manager) saveCached(auth Auth) error {
	data, err := json.MarshalIndent(auth, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(m.resolver.AuthFile(), data, 0o600)
}
