/*
Package types defines the shared data model of the Burrow coordinator.

The central entity is WorkItem, the durable unit of recovery work. A
work item captures the VM's state and update counter at schedule time;
the state machine compares that snapshot against the live record to
detect user or orchestrator actions racing with recovery. The lease
fields (ServerID, DateTaken) are always set and cleared together.

VirtualMachine, Host, Zone, Pod and Volume are the coordinator's read
view of the management plane; they are owned by external services and
consumed through the contracts in pkg/ha.
*/
package types
