/*
Package simulator provides an in-memory management plane for development
and tests.

Backend implements the coordinator's collaborator contracts (inventory,
orchestrator, volume orchestrator, resource manager) with simple state
transitions: stops stop, starts place the VM on any Up routing
host, migrations move it to another Up host. AgentInvestigator answers
liveness straight from the backend's host table, NullFencer always
succeeds, and LogAlerter writes alerts to the log.

The burrow binary wires the coordinator against this package; real
deployments embed pkg/ha against their own orchestration services.
*/
package simulator
