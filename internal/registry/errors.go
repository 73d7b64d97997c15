package registry

import (
	"errors"
	"fmt"
)

// Sentinel errors for registry operations.
var (
	// ErrAlreadyRegistered indicates Setup was called for a data directory
	// that already has a live agent context. Use Get or Destroy first.
	ErrAlreadyRegistered = errors.New("agent already registered for data directory")

	// ErrNotRegistered indicates Get was called for a data directory with
	// no agent context.
	ErrNotRegistered = errors.New("no agent registered for data directory")
)

// ProvisioningError indicates the login/provisioning step of Setup failed.
// No context was inserted and no collaborator was left running.
type ProvisioningError struct {
	DataDir string
	Err     error
}

func (e *ProvisioningError) Error() string {
	return fmt.Sprintf("provisioning failed for %s: %v", e.DataDir, e.Err)
}

func (e *ProvisioningError) Unwrap() error {
	return e.Err
}

// ShutdownError indicates a manager's stop call failed during Destroy. The
// context intentionally stays registered so a later Destroy can retry.
type ShutdownError struct {
	DataDir string
	Manager string // "config" or "events"
	Err     error
}

func (e *ShutdownError) Error() string {
	return fmt.Sprintf("stopping %s manager failed for %s: %v", e.Manager, e.DataDir, e.Err)
}

func (e *ShutdownError) Unwrap() error {
	return e.Err
}
