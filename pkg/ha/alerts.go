package ha

import (
	"fmt"

	"github.com/cuemby/burrow/pkg/types"
)

// alertTypeFor maps a VM type to its operator alert channel.
func alertTypeFor(t types.InstanceType) AlertType {
	switch t {
	case types.InstanceDomainRouter:
		return AlertDomainRouter
	case types.InstanceConsoleProxy:
		return AlertConsoleProxy
	case types.InstanceSecondaryStorageVM:
		return AlertSSVM
	default:
		return AlertUserVM
	}
}

// sendVMAlert delivers a VM-scoped alert, respecting the per-zone gate.
func (m *Manager) sendVMAlert(vm *types.VirtualMachine, message string) {
	if vm == nil || !m.gates.AlertsEnabledIn(vm.ZoneID) {
		return
	}
	m.deps.Alerts.SendAlert(alertTypeFor(vm.Type), vm.ZoneID, vm.PodID, message, message)
}

// sendHostAlert delivers a host-scoped alert, respecting the per-zone gate.
func (m *Manager) sendHostAlert(host *types.Host, message string) {
	if host == nil || !m.gates.AlertsEnabledIn(host.ZoneID) {
		return
	}
	m.deps.Alerts.SendAlert(AlertHost, host.ZoneID, host.PodID, message, message)
}

// hostDesc builds the human-readable host description used in alerts.
func (m *Manager) hostDesc(host *types.Host) string {
	zoneName := fmt.Sprintf("%d", host.ZoneID)
	if zone, err := m.deps.Inventory.ZoneByID(host.ZoneID); err == nil && zone != nil {
		zoneName = zone.Name
	}
	podName := fmt.Sprintf("%d", host.PodID)
	if pod, err := m.deps.Inventory.PodByID(host.PodID); err == nil && pod != nil {
		podName = pod.Name
	}
	return fmt.Sprintf("name: %s (id: %d), availability zone: %s, pod: %s", host.Name, host.ID, zoneName, podName)
}
