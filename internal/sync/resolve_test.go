package sync

import (
	"testing"
	"time"

	"github.com/mkirch/taskrelay/internal/task"
)

// conflictPair builds a local and remote version of the same task with the
// given timestamp offset between them
func conflictPair(offset time.Duration) (*task.Task, *task.Task) {
	base := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	local := &task.Task{
		ID:         "task-1",
		Title:      "local title",
		CreatedAt:  base.Add(-time.Hour),
		UpdatedAt:  base.Add(offset),
		SyncStatus: task.StatusPending,
	}
	remote := &task.Task{
		ID:         "task-1",
		Title:      "remote title",
		CreatedAt:  base.Add(-time.Hour),
		UpdatedAt:  base,
		SyncStatus: task.StatusSynced,
	}
	return local, remote
}

// TestResolveConflict_LocalNewer tests that a strictly newer local version wins
func TestResolveConflict_LocalNewer(t *testing.T) {
	local, remote := conflictPair(time.Second)

	winner := ResolveConflict(local, remote)
	if winner != local {
		t.Errorf("winner = %q version, want the local one", winner.Title)
	}
}

// TestResolveConflict_RemoteNewer tests that a newer remote version wins
func TestResolveConflict_RemoteNewer(t *testing.T) {
	local, remote := conflictPair(-time.Second)

	winner := ResolveConflict(local, remote)
	if winner != remote {
		t.Errorf("winner = %q version, want the remote one", winner.Title)
	}
}

// TestResolveConflict_Tie tests that equal timestamps favor the remote version
func TestResolveConflict_Tie(t *testing.T) {
	local, remote := conflictPair(0)

	winner := ResolveConflict(local, remote)
	if winner != remote {
		t.Errorf("winner = %q version on a tie, want the remote one", winner.Title)
	}
}

// TestResolveConflict_SameInstance tests that resolving a task against itself
// returns that same task
func TestResolveConflict_SameInstance(t *testing.T) {
	local, _ := conflictPair(0)

	winner := ResolveConflict(local, local)
	if winner != local {
		t.Errorf("winner = %+v, want the input task back", winner)
	}
}

// TestResolveConflict_NilSides tests that a missing side concedes
func TestResolveConflict_NilSides(t *testing.T) {
	local, remote := conflictPair(time.Second)

	if winner := ResolveConflict(nil, remote); winner != remote {
		t.Error("nil local must concede to remote")
	}
	if winner := ResolveConflict(local, nil); winner != local {
		t.Error("nil remote must concede to local")
	}
	if winner := ResolveConflict(nil, nil); winner != nil {
		t.Errorf("winner = %+v for two nil sides, want nil", winner)
	}
}

// TestResolveConflict_NoMutation tests that neither input is touched
func TestResolveConflict_NoMutation(t *testing.T) {
	local, remote := conflictPair(time.Second)
	localBefore := *local
	remoteBefore := *remote

	ResolveConflict(local, remote)
	ResolveConflict(remote, local)

	if *local != localBefore {
		t.Errorf("local mutated: %+v, was %+v", *local, localBefore)
	}
	if *remote != remoteBefore {
		t.Errorf("remote mutated: %+v, was %+v", *remote, remoteBefore)
	}
}
