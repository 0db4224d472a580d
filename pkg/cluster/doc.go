/*
Package cluster tracks management-plane peers through a Raft group.

Burrow peers share one work queue; what they need from each other is
only liveness: when a peer dies holding leases, a survivor must release
them so the work becomes claimable again. This package wraps
hashicorp/raft purely as a membership and failure detector and fans its
observations out to MembershipListeners:

	raft PeerObservation (added)      → OnPeerJoined
	raft PeerObservation (removed)    → OnPeerLeft
	raft FailedHeartbeatObservation   → OnPeerLeft   (crash detection)
	raft ResumedHeartbeatObservation  → OnPeerJoined
	raft LeaderObservation (no leader)→ OnPeerIsolated

The HA manager subscribes and releases the departed peer's work items
in OnPeerLeft.

No commands are replicated through the Raft log (the FSM is a no-op);
queue consensus is the store's job. Timeouts are tuned down from the
library's WAN defaults so abandoned leases are reclaimed within a few
seconds on a LAN.
*/
package cluster
