// Package sync reconciles locally queued task mutations with a remote
// authority.
//
// Overview
//
// Every local task mutation leaves an intent in the sync queue. The engine
// drains that queue in one synchronization pass: it probes the authority,
// partitions the queue into fixed-size batches, submits each batch to the
// apply surface, and settles every returned outcome against the task store.
//
// Architecture
//
// A pass moves through a fixed sequence of states:
//
//	CheckingConnectivity ── probe fails ──→ done (nothing touched)
//	        ↓
//	    Draining ── queue empty ──→ done (success, zero counts)
//	        ↓
//	   Submitting  (one batch at a time, oldest intents first)
//	        ↓
//	  Reconciling  (per outcome: commit, resolve conflict, or record failure)
//	        ↓
//	      Idle     (aggregate Result, append to the sync log)
//
// Outcome handling:
//
//   - success: the task's sync metadata is updated and the intent removed
//   - conflict: the local and remote versions are resolved last-write-wins,
//     the winner persisted, and the intent removed
//   - error: the intent's retry counter is incremented; at the retry
//     ceiling the owning task is flagged errored, but the intent stays
//     queued for inspection and manual replay
//
// Usage
//
// Basic usage:
//
//	st, err := store.Open(".taskrelay/tasks.db")
//	if err != nil {
//	    return err
//	}
//	defer st.Close()
//
//	if err := st.InitSchema(); err != nil {
//	    return err
//	}
//
//	eng := sync.New(st, remote.NewLoopback(st, nil), nil, nil)
//
//	result, err := eng.Sync(context.Background())
//	if err != nil {
//	    return err // only ErrSyncInProgress for expected conditions
//	}
//	fmt.Printf("synced %d, failed %d\n", result.SyncedItems, result.FailedItems)
//
// Error Handling
//
// Expected failures never escape Sync as errors; they land in the Result:
//
//   - authority unreachable → Success false, one connectivity entry
//   - whole-batch transport failure → every member recorded failed,
//     Success false, remaining batches still submitted
//   - per-item apply failure → the item's intent keeps its place in the
//     queue with an incremented retry counter
//   - resolved conflicts are reported informationally and do not count
//     as failures
//
// Concurrency
//
// One pass at a time: a trigger while a pass is running returns
// ErrSyncInProgress rather than interleaving with it. Within a pass,
// batches are submitted sequentially so retry bookkeeping for earlier
// intents settles before later ones are considered.
package sync
