// Package registry owns the lifecycle of agent contexts.
//
// The registry is the sole authority for creating, looking up, and
// destroying agent contexts. It enforces one context per canonical data
// directory: Setup provisions credentials, starts the event and config
// managers, and inserts the fully-formed context atomically; Destroy stops
// the managers in dependency order and removes the entry. Setup and
// Destroy calls for the same data directory are serialized against each
// other, so concurrent Setups cannot both succeed and a Destroy cannot
// interleave with a Setup mid-construction.
//
// The registry is an explicit object, constructed once and passed by
// reference, so tests can build isolated instances.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/tribes-protocol/ayaos/internal/config"
	"github.com/tribes-protocol/ayaos/internal/events"
	"github.com/tribes-protocol/ayaos/internal/keychain"
	"github.com/tribes-protocol/ayaos/internal/login"
	"github.com/tribes-protocol/ayaos/internal/paths"
	"github.com/tribes-protocol/ayaos/internal/ratelimit"
)

// DefaultProvisionTimeout bounds the network-bound provisioning step so a
// hung backend cannot hang Setup forever.
const DefaultProvisionTimeout = 60 * time.Second

// Options configures one Setup call.
type Options struct {
	// DataDir is the agent's data directory. A leading "~" is expanded,
	// relative paths are made absolute, and an empty value selects the
	// default location.
	DataDir string

	// APIBaseURL is the HTTP API root used for provisioning. Empty uses
	// the built-in default.
	APIBaseURL string

	// EventsURL is the websocket event stream endpoint. Empty uses the
	// built-in default.
	EventsURL string

	// Limiter is an optional pre-built per-principal rate limiter to
	// attach to the context. The registry only stores and exposes it.
	Limiter *ratelimit.UserLimiter

	// ProvisionTimeout bounds the provisioning call. Zero uses
	// DefaultProvisionTimeout.
	ProvisionTimeout time.Duration
}

// Registry maps canonical data directories to live agent contexts.
type Registry struct {
	logger *slog.Logger

	mu       sync.RWMutex
	contexts map[string]*AgentContext
	inflight map[string]chan struct{}

	// Constructor seams, overridable in tests.
	newEvents func(url, token string, logger *slog.Logger) EventManager
	newConfig func(src config.EventSource, resolver *paths.Resolver, logger *slog.Logger) (ConfigManager, error)
	newLogin  func(kc *keychain.Keychain, resolver *paths.Resolver, baseURL string, logger *slog.Logger) Provisioner
}

// New constructs an empty registry.
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger:   logger.With("component", "registry"),
		contexts: make(map[string]*AgentContext),
		inflight: make(map[string]chan struct{}),
		newEvents: func(url, token string, logger *slog.Logger) EventManager {
			return events.NewManager(url, token, logger)
		},
		newConfig: func(src config.EventSource, resolver *paths.Resolver, logger *slog.Logger) (ConfigManager, error) {
			return config.NewManager(src, resolver, logger)
		},
		newLogin: func(kc *keychain.Keychain, resolver *paths.Resolver, baseURL string, logger *slog.Logger) Provisioner {
			return login.NewManager(kc, resolver, baseURL, logger)
		},
	}
}

// Setup creates, registers, and returns the agent context for the data
// directory in opts. It fails with ErrAlreadyRegistered when a context
// already exists for the resolved directory. On any construction failure
// nothing is inserted and every collaborator started so far is torn down.
func (r *Registry) Setup(ctx context.Context, opts Options) (*AgentContext, error) {
	key, err := paths.Canonicalize(opts.DataDir)
	if err != nil {
		return nil, err
	}

	// Serialize Setup/Destroy for this key. Construction stays outside
	// the table lock so unrelated directories proceed concurrently.
	release := r.lockKey(key)
	defer release()

	if _, exists := r.lookup(key); exists {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyRegistered, key)
	}

	resolver, err := paths.NewResolver(key)
	if err != nil {
		return nil, err
	}

	kc, err := keychain.New(resolver.KeypairFile())
	if err != nil {
		return nil, fmt.Errorf("build keychain: %w", err)
	}

	apiBaseURL := opts.APIBaseURL
	if apiBaseURL == "" {
		apiBaseURL = config.DefaultAPIBaseURL
	}
	eventsURL := opts.EventsURL
	if eventsURL == "" {
		eventsURL = config.DefaultEventsURL
	}
	provisionTimeout := opts.ProvisionTimeout
	if provisionTimeout <= 0 {
		provisionTimeout = DefaultProvisionTimeout
	}

	loginMgr := r.newLogin(kc, resolver, apiBaseURL, r.logger)

	provCtx, cancel := context.WithTimeout(ctx, provisionTimeout)
	auth, err := loginMgr.ProvisionIfNeeded(provCtx)
	cancel()
	if err != nil {
		return nil, &ProvisioningError{DataDir: key, Err: err}
	}

	eventMgr := r.newEvents(eventsURL, auth.Token, r.logger)
	// Fire-and-forget: the manager connects in the background and its
	// failures surface through its own state, never through Setup.
	if err := eventMgr.Start(ctx); err != nil {
		return nil, fmt.Errorf("start event manager: %w", err)
	}

	configMgr, err := r.newConfig(eventMgr, resolver, r.logger)
	if err != nil {
		// The event manager is the only collaborator already running.
		if stopErr := eventMgr.Stop(ctx); stopErr != nil {
			r.logger.Error("stop event manager after failed setup", "data_dir", key, "error", stopErr)
		}
		return nil, fmt.Errorf("build config manager: %w", err)
	}

	agent := &AgentContext{
		Auth:     auth,
		DataDir:  key,
		Limiter:  opts.Limiter,
		Events:   eventMgr,
		Config:   configMgr,
		Keychain: kc,
		Login:    loginMgr,
		Paths:    resolver,
	}

	r.mu.Lock()
	r.contexts[key] = agent
	r.mu.Unlock()

	r.logger.Info("agent registered", "data_dir", key, "agent_id", auth.AgentID)
	return agent, nil
}

// Get returns the context registered under dataDir. The key must be the
// exact DataDir value a prior Setup returned; Get does not re-canonicalize.
func (r *Registry) Get(dataDir string) (*AgentContext, error) {
	agent, exists := r.lookup(dataDir)
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrNotRegistered, dataDir)
	}
	return agent, nil
}

// Destroy stops and removes the context registered under dataDir. A
// missing entry is a warning, not an error, so Destroy is idempotent. The
// config manager stops before the event manager because its shutdown may
// still use the event stream. If either stop fails the entry stays
// registered and the error is returned so a later Destroy can retry.
func (r *Registry) Destroy(ctx context.Context, dataDir string) error {
	release := r.lockKey(dataDir)
	defer release()

	agent, exists := r.lookup(dataDir)
	if !exists {
		r.logger.Warn("destroy for unregistered data directory", "data_dir", dataDir)
		return nil
	}

	if err := agent.Config.Stop(ctx); err != nil {
		return &ShutdownError{DataDir: dataDir, Manager: "config", Err: err}
	}
	if err := agent.Events.Stop(ctx); err != nil {
		return &ShutdownError{DataDir: dataDir, Manager: "events", Err: err}
	}

	r.mu.Lock()
	delete(r.contexts, dataDir)
	r.mu.Unlock()

	r.logger.Info("agent destroyed", "data_dir", dataDir)
	return nil
}

// DestroyAll destroys every registered context sequentially. A failure on
// one key does not stop the sweep; all failures are joined into the
// returned error so an operator can target remediation. Entries whose
// stops failed remain registered.
func (r *Registry) DestroyAll(ctx context.Context) error {
	keys := r.Keys()

	var errs []error
	for _, key := range keys {
		if err := r.Destroy(ctx, key); err != nil {
			r.logger.Error("destroy failed during sweep", "data_dir", key, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Keys returns a sorted snapshot of the registered data directories.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	keys := make([]string, 0, len(r.contexts))
	for key := range r.contexts {
		keys = append(keys, key)
	}
	r.mu.RUnlock()

	sort.Strings(keys)
	return keys
}

func (r *Registry) lookup(key string) (*AgentContext, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	agent, exists := r.contexts[key]
	return agent, exists
}

// lockKey acquires the per-key guard serializing Setup and Destroy for one
// data directory. The returned function releases it.
func (r *Registry) lockKey(key string) func() {
	for {
		r.mu.Lock()
		gate, busy := r.inflight[key]
		if !busy {
			done := make(chan struct{})
			r.inflight[key] = done
			r.mu.Unlock()
			return func() {
				r.mu.Lock()
				delete(r.inflight, key)
				r.mu.Unlock()
				close(done)
			}
		}
		r.mu.Unlock()
		<-gate
	}
}
