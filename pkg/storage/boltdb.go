package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/cuemby/burrow/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketWork = []byte("ha_work")
)

// BoltStore implements Store on BoltDB. Items are stored under 8-byte
// big-endian keys taken from the bucket sequence, so cursor order is id
// order and ids are monotonic across the life of the file.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "burrow.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketWork)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func itemKey(id int64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(id))
	return key
}

func putItem(b *bolt.Bucket, item *types.WorkItem) error {
	data, err := json.Marshal(item)
	if err != nil {
		return err
	}
	return b.Put(itemKey(item.ID), data)
}

// Persist assigns the next id and saves the item. Step and TimesTried are
// honored when the caller pre-set them (scheduleRestart seeds both);
// TimeToTry always starts at zero so the item is immediately eligible.
func (s *BoltStore) Persist(item *types.WorkItem) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketWork)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		item.ID = int64(seq)
		if item.Step == "" {
			item.Step = types.StepScheduled
		}
		item.TimeToTry = 0
		item.ServerID = nil
		item.DateTaken = nil
		item.CreatedAt = time.Now()
		return putItem(b, item)
	})
}

// Take scans for the oldest eligible item and claims it inside one write
// transaction. BoltDB serializes writers, so two peers sharing the file
// never claim the same item.
func (s *BoltStore) Take(serverID string) (*types.WorkItem, error) {
	var taken *types.WorkItem
	now := time.Now()
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketWork)
		var best *types.WorkItem
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var item types.WorkItem
			if err := json.Unmarshal(v, &item); err != nil {
				return err
			}
			if item.Step.Terminal() || item.Taken() || item.TimeToTry > now.Unix() {
				continue
			}
			// Cursor walks in id order, so on equal TimeToTry the first
			// seen item wins (FIFO within the same retry time).
			if best == nil || item.TimeToTry < best.TimeToTry {
				item := item
				best = &item
			}
		}
		if best == nil {
			return nil
		}
		best.ServerID = &serverID
		t := now
		best.DateTaken = &t
		if err := putItem(b, best); err != nil {
			return err
		}
		taken = best
		return nil
	})
	return taken, err
}

// Update writes back an item under its existing id.
func (s *BoltStore) Update(item *types.WorkItem) error {
	if item.ID == 0 {
		return fmt.Errorf("cannot update unpersisted work item")
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return putItem(tx.Bucket(bucketWork), item)
	})
}

// FindByID returns an item or nil.
func (s *BoltStore) FindByID(id int64) (*types.WorkItem, error) {
	var found *types.WorkItem
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketWork).Get(itemKey(id))
		if data == nil {
			return nil
		}
		var item types.WorkItem
		if err := json.Unmarshal(data, &item); err != nil {
			return err
		}
		found = &item
		return nil
	})
	return found, err
}

// list returns items matching the filter in id order.
func (s *BoltStore) list(match func(*types.WorkItem) bool) ([]*types.WorkItem, error) {
	var items []*types.WorkItem
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketWork).ForEach(func(k, v []byte) error {
			var item types.WorkItem
			if err := json.Unmarshal(v, &item); err != nil {
				return err
			}
			if match(&item) {
				item := item
				items = append(items, &item)
			}
			return nil
		})
	})
	return items, err
}

// HasBeenScheduled reports whether a non-terminal item of the type exists.
func (s *BoltStore) HasBeenScheduled(vmID int64, workType types.WorkType) (bool, error) {
	items, err := s.list(func(w *types.WorkItem) bool {
		return w.InstanceID == vmID && w.WorkType == workType && !w.Step.Terminal()
	})
	return len(items) > 0, err
}

func (s *BoltStore) ListPendingHaWorkForVm(vmID int64) ([]*types.WorkItem, error) {
	return s.list(func(w *types.WorkItem) bool {
		return w.InstanceID == vmID && w.WorkType == types.WorkHA && !w.Step.Terminal()
	})
}

func (s *BoltStore) ListPendingMigrationsForVm(vmID int64) ([]*types.WorkItem, error) {
	return s.list(func(w *types.WorkItem) bool {
		return w.InstanceID == vmID && w.WorkType == types.WorkMigration && !w.Step.Terminal()
	})
}

// FindPreviousHA lists every HA item ever scheduled for the VM, terminal
// included. Callers inspect TimesTried to carry retry budgets forward.
func (s *BoltStore) FindPreviousHA(vmID int64) ([]*types.WorkItem, error) {
	return s.list(func(w *types.WorkItem) bool {
		return w.InstanceID == vmID && w.WorkType == types.WorkHA
	})
}

func (s *BoltStore) ListFutureHaWorkForVm(vmID, excludeID int64) ([]*types.WorkItem, error) {
	return s.list(func(w *types.WorkItem) bool {
		return w.InstanceID == vmID && w.WorkType == types.WorkHA && w.ID > excludeID
	})
}

func (s *BoltStore) ListRunningHaWorkForVm(vmID int64) ([]*types.WorkItem, error) {
	return s.list(func(w *types.WorkItem) bool {
		return w.InstanceID == vmID && w.WorkType == types.WorkHA && !w.Step.Terminal() && w.Taken()
	})
}

func (s *BoltStore) FindTakenWorkItems(workType types.WorkType) ([]*types.WorkItem, error) {
	return s.list(func(w *types.WorkItem) bool {
		return w.WorkType == workType && !w.Step.Terminal() && w.Taken()
	})
}

// DeleteMigrationWorkItems removes pending work of the type for a host.
// Items leased by another peer are left alone.
func (s *BoltStore) DeleteMigrationWorkItems(hostID int64, workType types.WorkType, serverID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketWork)
		var remove [][]byte
		err := b.ForEach(func(k, v []byte) error {
			var item types.WorkItem
			if err := json.Unmarshal(v, &item); err != nil {
				return err
			}
			if item.HostID != hostID || item.WorkType != workType || item.Step.Terminal() {
				return nil
			}
			if item.ServerID != nil && *item.ServerID != serverID {
				return nil
			}
			remove = append(remove, append([]byte(nil), k...))
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range remove {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// ReleaseWorkItems clears the lease on every item owned by the peer.
func (s *BoltStore) ReleaseWorkItems(serverID string) error {
	return s.mutateAll(func(item *types.WorkItem) bool {
		if item.ServerID == nil || *item.ServerID != serverID {
			return false
		}
		item.ServerID = nil
		item.DateTaken = nil
		return true
	})
}

// MarkPendingWorksAsInvestigating releases every non-terminal item and
// sends pending HA work back through investigation.
func (s *BoltStore) MarkPendingWorksAsInvestigating() error {
	return s.mutateAll(func(item *types.WorkItem) bool {
		if item.Step.Terminal() {
			return false
		}
		changed := false
		if item.WorkType == types.WorkHA && item.Step != types.StepInvestigating {
			item.Step = types.StepInvestigating
			changed = true
		}
		if item.Taken() {
			item.ServerID = nil
			item.DateTaken = nil
			changed = true
		}
		return changed
	})
}

// MarkServerPendingWorksAsInvestigating is the shutdown variant scoped to
// one peer's leases.
func (s *BoltStore) MarkServerPendingWorksAsInvestigating(serverID string) error {
	return s.mutateAll(func(item *types.WorkItem) bool {
		if item.Step.Terminal() || item.ServerID == nil || *item.ServerID != serverID {
			return false
		}
		if item.WorkType == types.WorkHA {
			item.Step = types.StepInvestigating
		}
		item.ServerID = nil
		item.DateTaken = nil
		return true
	})
}

// mutateAll applies fn to every item in one transaction, writing back the
// ones fn reports changed.
func (s *BoltStore) mutateAll(fn func(*types.WorkItem) bool) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketWork)
		var changed []*types.WorkItem
		err := b.ForEach(func(k, v []byte) error {
			var item types.WorkItem
			if err := json.Unmarshal(v, &item); err != nil {
				return err
			}
			if fn(&item) {
				item := item
				changed = append(changed, &item)
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, item := range changed {
			if err := putItem(b, item); err != nil {
				return err
			}
		}
		return nil
	})
}

// Cleanup purges terminal items completed before the cutoff. Non-terminal
// items are never touched, so cleanup cannot race an active claim.
func (s *BoltStore) Cleanup(olderThan time.Time) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketWork)
		var remove [][]byte
		err := b.ForEach(func(k, v []byte) error {
			var item types.WorkItem
			if err := json.Unmarshal(v, &item); err != nil {
				return err
			}
			if !item.Step.Terminal() {
				return nil
			}
			completed := item.CreatedAt
			if item.CompletedAt != nil {
				completed = *item.CompletedAt
			}
			if completed.Before(olderThan) {
				remove = append(remove, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range remove {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// ExpungeByVmList removes every item for the given VMs, batchSize deletes
// per transaction.
func (s *BoltStore) ExpungeByVmList(vmIDs []int64, batchSize int) (int, error) {
	if batchSize < 1 {
		batchSize = 100
	}
	want := make(map[int64]bool, len(vmIDs))
	for _, id := range vmIDs {
		want[id] = true
	}

	total := 0
	for {
		removed := 0
		err := s.db.Update(func(tx *bolt.Tx) error {
			b := tx.Bucket(bucketWork)
			var remove [][]byte
			err := b.ForEach(func(k, v []byte) error {
				if len(remove) >= batchSize {
					return nil
				}
				var item types.WorkItem
				if err := json.Unmarshal(v, &item); err != nil {
					return err
				}
				if want[item.InstanceID] {
					remove = append(remove, append([]byte(nil), k...))
				}
				return nil
			})
			if err != nil {
				return err
			}
			for _, k := range remove {
				if err := b.Delete(k); err != nil {
					return err
				}
			}
			removed = len(remove)
			return nil
		})
		if err != nil {
			return total, err
		}
		total += removed
		if removed < batchSize {
			return total, nil
		}
	}
}

// Delete removes non-terminal items of the given type for a VM.
func (s *BoltStore) Delete(vmID int64, workType types.WorkType) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketWork)
		var remove [][]byte
		err := b.ForEach(func(k, v []byte) error {
			var item types.WorkItem
			if err := json.Unmarshal(v, &item); err != nil {
				return err
			}
			if item.InstanceID == vmID && item.WorkType == workType && !item.Step.Terminal() {
				remove = append(remove, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range remove {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}
