/*
Package storage persists the recovery work queue.

The queue is the only durable state of the coordinator and the only
thing management peers share. The Store interface covers persistence,
the claim/lease protocol, the filtered queries the scheduler needs, and
retention. BoltStore implements it on BoltDB with JSON-encoded records.

# Claim protocol

	┌───────────── Take(serverID) ─────────────┐
	│ one write transaction:                    │
	│  scan for serverID == null                │
	│       AND timeToTry <= now                │
	│  order by (timeToTry, id)                 │
	│  set serverID + dateTaken on the winner   │
	└───────────────────────────────────────────┘

BoltDB serializes writers, so concurrent Take calls never hand the same
item to two peers. Release paths (ReleaseWorkItems, the investigating
marks, reschedules) clear both lease fields together; an item either
has a complete lease or none.

# Ordering

Keys are 8-byte big-endian ids from the bucket sequence, so cursor
order is id order: persistence order breaks ties between items that
became eligible at the same time.

# Retention

Terminal items (Done, Cancelled, Error) stay for audit until Cleanup
purges the ones completed before the caller's cutoff. Cleanup never
touches non-terminal items, so it cannot race a claim.
*/
package storage
