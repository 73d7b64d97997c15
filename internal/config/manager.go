package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/tribes-protocol/ayaos/internal/events"
	"github.com/tribes-protocol/ayaos/internal/paths"
)

// reloadDebounce coalesces bursts of filesystem notifications (editors
// tend to fire several per save).
const reloadDebounce = 250 * time.Millisecond

// configUpdatedEvent is the event stream notification that the backend has
// pushed new configuration for this agent.
const configUpdatedEvent = "config.updated"

// EventSource is the slice of the event manager the config manager needs.
type EventSource interface {
	Subscribe(name string) <-chan events.Event
}

// Manager owns the agent's live configuration. It loads the YAML file once
// at construction, then reloads when the file changes on disk or when the
// event stream announces a remote update. Reads are lock-free snapshots.
type Manager struct {
	resolver *paths.Resolver
	logger   *slog.Logger

	current atomic.Pointer[Config]
	watcher *fsnotify.Watcher

	stopped atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewManager loads the configuration and starts watching for changes. The
// event source is typically the agent's event manager; the config manager
// must therefore be stopped before it.
func NewManager(src EventSource, resolver *paths.Resolver, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}

	m := &Manager{
		resolver: resolver,
		logger:   logger.With("component", "config"),
	}

	cfg, err := Load(resolver.ConfigFile())
	if err != nil {
		return nil, err
	}
	m.current.Store(&cfg)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create config watcher: %w", err)
	}
	// Watch the directory, not the file: the file may not exist yet, and
	// atomic saves replace it.
	if err := watcher.Add(filepath.Dir(resolver.ConfigFile())); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch config directory: %w", err)
	}
	m.watcher = watcher

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	remote := src.Subscribe(configUpdatedEvent)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.watch(ctx, remote)
	}()

	return m, nil
}

// Config returns the current configuration snapshot.
func (m *Manager) Config() Config {
	return *m.current.Load()
}

// Stop halts the watcher and the event subscription, waiting for the
// background loop bounded by ctx. Stop is idempotent.
func (m *Manager) Stop(ctx context.Context) error {
	if !m.stopped.CompareAndSwap(false, true) {
		return nil
	}

	m.cancel()
	m.watcher.Close()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stop config manager: %w", ctx.Err())
	}
}

func (m *Manager) watch(ctx context.Context, remote <-chan events.Event) {
	var debounce *time.Timer
	var debounceC <-chan time.Time

	scheduleReload := func() {
		if debounce == nil {
			debounce = time.NewTimer(reloadDebounce)
			debounceC = debounce.C
			return
		}
		if !debounce.Stop() {
			select {
			case <-debounce.C:
			default:
			}
		}
		debounce.Reset(reloadDebounce)
	}

	configFile := m.resolver.ConfigFile()

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if ev.Name != configFile {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				scheduleReload()
			}

		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.logger.Warn("config watcher error", "error", err)

		case ev, ok := <-remote:
			if !ok {
				// Event manager went away; keep serving the last snapshot
				// and keep watching the file.
				remote = nil
				continue
			}
			m.logger.Info("remote config update announced", "event_id", ev.ID)
			scheduleReload()

		case <-debounceC:
			m.reload()
		}
	}
}

func (m *Manager) reload() {
	cfg, err := Load(m.resolver.ConfigFile())
	if err != nil {
		m.logger.Warn("config reload failed, keeping previous", "error", err)
		return
	}
	m.current.Store(&cfg)
	m.logger.Info("configuration reloaded", "agent", cfg.Agent.Name)
}
