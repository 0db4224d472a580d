package cluster

import (
	"io"

	"github.com/hashicorp/raft"
)

// membershipFSM is a no-op state machine. The Raft group exists for
// membership observation; no commands are replicated through its log.
type membershipFSM struct{}

func (f *membershipFSM) Apply(l *raft.Log) interface{} {
	return nil
}

func (f *membershipFSM) Snapshot() (raft.FSMSnapshot, error) {
	return &membershipSnapshot{}, nil
}

func (f *membershipFSM) Restore(rc io.ReadCloser) error {
	return rc.Close()
}

type membershipSnapshot struct{}

func (s *membershipSnapshot) Persist(sink raft.SnapshotSink) error {
	return sink.Close()
}

func (s *membershipSnapshot) Release() {}
