package ha

import (
	"github.com/cuemby/burrow/pkg/types"
)

// Investigator is a liveness oracle. Investigators are consulted in
// registration order; the first one with an answer wins.
type Investigator interface {
	Name() string

	// IsAgentAlive reports the host's status. ok is false when this
	// investigator cannot determine it, in which case the next one is
	// consulted.
	IsAgentAlive(host *types.Host) (status types.HostStatus, ok bool)

	// IsVMAlive reports whether the VM is running on the host. It returns
	// ErrUnknownVM when it does not recognize the VM, which means "ask the
	// next investigator", never "it is dead".
	IsVMAlive(vm *types.VirtualMachine, host *types.Host) (bool, error)
}
