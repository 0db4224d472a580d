package cluster

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cuemby/burrow/pkg/log"
	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
)

// MembershipListener receives management-peer lifecycle notifications.
// Listeners must not block; heavy work belongs on the caller's side.
type MembershipListener interface {
	OnPeerJoined(peerIDs []string)
	OnPeerLeft(peerIDs []string)
	OnPeerIsolated()
}

// Config holds configuration for creating a Cluster
type Config struct {
	NodeID   string
	BindAddr string
	DataDir  string
}

// Cluster tracks management-plane peers through a Raft group. Burrow uses
// the group for membership observation only: work-queue consensus lives in
// the shared store, not in the Raft log.
type Cluster struct {
	nodeID   string
	bindAddr string
	dataDir  string

	raft      *raft.Raft
	transport *raft.NetworkTransport

	observationCh chan raft.Observation
	observer      *raft.Observer

	mu        sync.RWMutex
	listeners []MembershipListener
	stopCh    chan struct{}
}

// New creates a Cluster node. Call Bootstrap on the first peer, add the
// others with AddPeer on the leader, then Start to begin dispatching
// observations.
func New(cfg *Config) (*Cluster, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	c := &Cluster{
		nodeID:        cfg.NodeID,
		bindAddr:      cfg.BindAddr,
		dataDir:       cfg.DataDir,
		observationCh: make(chan raft.Observation, 64),
		stopCh:        make(chan struct{}),
	}

	config := raft.DefaultConfig()
	config.LocalID = raft.ServerID(cfg.NodeID)

	// Faster failure detection than the WAN-oriented defaults; abandoned
	// leases should be re-claimable within a few seconds of a peer crash.
	config.HeartbeatTimeout = 500 * time.Millisecond
	config.ElectionTimeout = 500 * time.Millisecond
	config.LeaderLeaseTimeout = 250 * time.Millisecond

	addr, err := net.ResolveTCPAddr("tcp", cfg.BindAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve bind address: %w", err)
	}

	transport, err := raft.NewTCPTransport(cfg.BindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("failed to create transport: %w", err)
	}
	c.transport = transport

	snapshotStore, err := raft.NewFileSnapshotStore(cfg.DataDir, 2, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("failed to create snapshot store: %w", err)
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft-log.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to create log store: %w", err)
	}

	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft-stable.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to create stable store: %w", err)
	}

	r, err := raft.NewRaft(config, &membershipFSM{}, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		return nil, fmt.Errorf("failed to create raft: %w", err)
	}
	c.raft = r

	return c, nil
}

// Bootstrap initializes a new single-node cluster with this peer as the
// only member.
func (c *Cluster) Bootstrap() error {
	configuration := raft.Configuration{
		Servers: []raft.Server{
			{
				ID:      raft.ServerID(c.nodeID),
				Address: c.transport.LocalAddr(),
			},
		},
	}
	if err := c.raft.BootstrapCluster(configuration).Error(); err != nil {
		return fmt.Errorf("failed to bootstrap cluster: %w", err)
	}
	return nil
}

// AddPeer registers another management peer. Must be called on the leader.
func (c *Cluster) AddPeer(nodeID, address string) error {
	future := c.raft.AddVoter(raft.ServerID(nodeID), raft.ServerAddress(address), 0, 10*time.Second)
	if err := future.Error(); err != nil {
		return fmt.Errorf("failed to add peer %s: %w", nodeID, err)
	}
	return nil
}

// RemovePeer deregisters a peer. Must be called on the leader.
func (c *Cluster) RemovePeer(nodeID string) error {
	future := c.raft.RemoveServer(raft.ServerID(nodeID), 0, 10*time.Second)
	if err := future.Error(); err != nil {
		return fmt.Errorf("failed to remove peer %s: %w", nodeID, err)
	}
	return nil
}

// Subscribe registers a membership listener.
func (c *Cluster) Subscribe(l MembershipListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, l)
}

// Start begins dispatching membership observations to listeners.
func (c *Cluster) Start() {
	c.observer = raft.NewObserver(c.observationCh, false, func(o *raft.Observation) bool {
		switch o.Data.(type) {
		case raft.PeerObservation, raft.FailedHeartbeatObservation, raft.ResumedHeartbeatObservation, raft.LeaderObservation:
			return true
		}
		return false
	})
	c.raft.RegisterObserver(c.observer)
	go c.run()
}

// Stop shuts the dispatch loop and the Raft node down.
func (c *Cluster) Stop() error {
	close(c.stopCh)
	if c.observer != nil {
		c.raft.DeregisterObserver(c.observer)
	}
	if err := c.raft.Shutdown().Error(); err != nil {
		return fmt.Errorf("failed to shut down raft: %w", err)
	}
	return nil
}

// IsLeader reports whether this peer currently leads the group.
func (c *Cluster) IsLeader() bool {
	return c.raft.State() == raft.Leader
}

// LeaderAddr returns the current leader address, empty when unknown.
func (c *Cluster) LeaderAddr() string {
	return string(c.raft.Leader())
}

// Peers lists the current cluster members.
func (c *Cluster) Peers() ([]string, error) {
	future := c.raft.GetConfiguration()
	if err := future.Error(); err != nil {
		return nil, err
	}
	var ids []string
	for _, srv := range future.Configuration().Servers {
		ids = append(ids, string(srv.ID))
	}
	return ids, nil
}

func (c *Cluster) run() {
	logger := log.WithComponent("cluster")
	for {
		select {
		case o := <-c.observationCh:
			c.dispatch(o)
		case <-c.stopCh:
			logger.Debug().Msg("membership dispatch stopped")
			return
		}
	}
}

// dispatch translates raw Raft observations into peer lifecycle calls.
// A failed heartbeat is treated as a departure: the peer's leases must be
// released so its in-flight work becomes claimable again. A resumed
// heartbeat or (re-)added server counts as a join.
func (c *Cluster) dispatch(o raft.Observation) {
	logger := log.WithComponent("cluster")

	c.mu.RLock()
	listeners := make([]MembershipListener, len(c.listeners))
	copy(listeners, c.listeners)
	c.mu.RUnlock()

	switch data := o.Data.(type) {
	case raft.PeerObservation:
		peerID := string(data.Peer.ID)
		if data.Removed {
			logger.Info().Str("peer", peerID).Msg("peer removed from cluster")
			for _, l := range listeners {
				l.OnPeerLeft([]string{peerID})
			}
		} else {
			logger.Info().Str("peer", peerID).Msg("peer joined cluster")
			for _, l := range listeners {
				l.OnPeerJoined([]string{peerID})
			}
		}
	case raft.FailedHeartbeatObservation:
		peerID := string(data.PeerID)
		logger.Warn().Str("peer", peerID).Time("last_contact", data.LastContact).Msg("peer stopped responding")
		for _, l := range listeners {
			l.OnPeerLeft([]string{peerID})
		}
	case raft.ResumedHeartbeatObservation:
		peerID := string(data.PeerID)
		logger.Info().Str("peer", peerID).Msg("peer heartbeat resumed")
		for _, l := range listeners {
			l.OnPeerJoined([]string{peerID})
		}
	case raft.LeaderObservation:
		if data.LeaderID == "" {
			logger.Warn().Msg("lost contact with cluster leader")
			for _, l := range listeners {
				l.OnPeerIsolated()
			}
		}
	}
}
