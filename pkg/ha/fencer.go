package ha

import (
	"github.com/cuemby/burrow/pkg/types"
)

// FenceResult is the ternary outcome of a fencing attempt.
type FenceResult int

const (
	// FenceNotApplicable means this fencer cannot act on the VM's storage
	// or network; the next fencer is tried.
	FenceNotApplicable FenceResult = iota

	// FenceSucceeded means the VM is isolated and safe to restart.
	FenceSucceeded

	// FenceFailed means the fencer tried and could not isolate the VM.
	FenceFailed
)

// Fencer isolates a lost VM from shared storage and network so restarting
// it elsewhere cannot corrupt state. Fencers are tried in registration
// order; the first success wins.
type Fencer interface {
	Name() string
	FenceOff(vm *types.VirtualMachine, host *types.Host) FenceResult
}
