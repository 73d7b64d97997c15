package registry

import (
	"context"

	"github.com/tribes-protocol/ayaos/internal/events"
	"github.com/tribes-protocol/ayaos/internal/keychain"
	"github.com/tribes-protocol/ayaos/internal/login"
	"github.com/tribes-protocol/ayaos/internal/paths"
	"github.com/tribes-protocol/ayaos/internal/ratelimit"
)

// EventManager is the slice of the event manager the registry owns:
// lifecycle control plus the subscription surface it hands to the config
// manager.
type EventManager interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Subscribe(name string) <-chan events.Event
}

// ConfigManager is the slice of the config manager the registry owns.
type ConfigManager interface {
	Stop(ctx context.Context) error
}

// Provisioner performs the login/provisioning exchange.
type Provisioner interface {
	ProvisionIfNeeded(ctx context.Context) (login.Auth, error)
}

// AgentContext is the bundle of long-lived collaborators owned by the
// registry for one data directory. A context visible through Get is always
// fully constructed; Setup never inserts a partial one.
type AgentContext struct {
	// Auth is the credential bundle from provisioning, immutable after
	// Setup.
	Auth login.Auth

	// DataDir is the canonical data directory, identical to the registry
	// key.
	DataDir string

	// Limiter is the caller-supplied per-principal rate limiter. Nil means
	// admission control is disabled; CanProcess then always allows.
	Limiter *ratelimit.UserLimiter

	// Events is the realtime event stream manager.
	Events EventManager

	// Config is the live configuration manager.
	Config ConfigManager

	// Keychain holds the agent's signing keypair.
	Keychain *keychain.Keychain

	// Login performed provisioning and can refresh credentials.
	Login Provisioner

	// Paths resolves well-known locations inside the data directory.
	Paths *paths.Resolver
}

// CanProcess reports whether the next request from the given principal is
// admitted. With no limiter configured every request is admitted.
func (c *AgentContext) CanProcess(principalID string) bool {
	if c.Limiter == nil {
		return true
	}
	return c.Limiter.CanProcess(principalID)
}
