// Package paths resolves and prepares the on-disk layout of an agent's data
// directory.
//
// Every agent owns one data directory. The directory path doubles as the
// agent's identity inside the lifecycle registry, so resolution must be
// canonical: a leading "~" is expanded, relative paths are made absolute,
// and an empty path falls back to the default location under the user's
// home directory.
package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	// DefaultDirName is the directory under the user's home that holds
	// agent data when no explicit data directory is given.
	DefaultDirName = ".ayaos"

	// DefaultAgentName is the subdirectory used for the default agent.
	DefaultAgentName = "default"

	keysDirName     = "keys"
	keypairFileName = "agent-keypair.json"
	authFileName    = "auth.json"
	configFileName  = "agent.yaml"
)

// Resolver exposes the canonical data directory for one agent and the
// well-known file locations inside it. Constructing a resolver creates the
// directory tree as a side effect.
type Resolver struct {
	dataDir string
}

// NewResolver resolves root into a canonical absolute data directory and
// creates it (plus the keys subdirectory) on disk. An empty root selects
// the default location ~/.ayaos/default.
func NewResolver(root string) (*Resolver, error) {
	dataDir, err := Canonicalize(root)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Join(dataDir, keysDirName), 0o700); err != nil {
		return nil, fmt.Errorf("create data directory %s: %w", dataDir, err)
	}

	return &Resolver{dataDir: dataDir}, nil
}

// Canonicalize resolves root the same way NewResolver does, without touching
// the filesystem: "~" expansion, absolutization against the current working
// directory, and the default location for an empty root.
func Canonicalize(root string) (string, error) {
	if root == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		return filepath.Join(home, DefaultDirName, DefaultAgentName), nil
	}

	if root == "~" || strings.HasPrefix(root, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		root = filepath.Join(home, strings.TrimPrefix(root[1:], "/"))
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve data directory %s: %w", root, err)
	}
	return filepath.Clean(abs), nil
}

// DataDir returns the canonical absolute data directory.
func (r *Resolver) DataDir() string {
	return r.dataDir
}

// KeypairFile returns the location of the agent's signing keypair.
func (r *Resolver) KeypairFile() string {
	return filepath.Join(r.dataDir, keysDirName, keypairFileName)
}

// AuthFile returns the location of the cached provisioning credentials.
func (r *Resolver) AuthFile() string {
	return filepath.Join(r.dataDir, keysDirName, authFileName)
}

// ConfigFile returns the location of the agent's YAML configuration.
func (r *Resolver) ConfigFile() string {
	return filepath.Join(r.dataDir, configFileName)
}
