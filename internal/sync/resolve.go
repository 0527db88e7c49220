package sync

import "github.com/mkirch/taskrelay/internal/task"

// ResolveConflict picks between two versions of the same task by
// last-write-wins on the modification timestamp. The local version wins
// only when its UpdatedAt is strictly newer than the remote's; on equal
// timestamps the remote version is kept.
//
// The function is pure: it never mutates either input and returns one of
// them unchanged. A nil side concedes to the other.
func ResolveConflict(local, remote *task.Task) *task.Task {
	if local == nil {
		return remote
	}
	if remote == nil {
		return local
	}
	if local.UpdatedAt.After(remote.UpdatedAt) {
		return local
	}
	return remote
}
