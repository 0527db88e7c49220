package sync_test

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/mkirch/taskrelay/internal/remote"
	"github.com/mkirch/taskrelay/internal/store"
	"github.com/mkirch/taskrelay/internal/sync"
	"github.com/mkirch/taskrelay/internal/task"
)

// This example demonstrates running a synchronization pass against the
// in-process loopback authority.
// Note: This is for documentation only and won't run as a test.
func ExampleNew() {
	st, err := store.Open(".taskrelay/tasks.db")
	if err != nil {
		log.Fatal(err)
	}
	defer st.Close()

	if err := st.InitSchema(); err != nil {
		log.Fatal(err)
	}

	eng := sync.New(st, remote.NewLoopback(st, nil), nil, nil)

	result, err := eng.Sync(context.Background())
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("synced %d, failed %d\n", result.SyncedItems, result.FailedItems)
}

// This example demonstrates checking queue depth and connectivity
// against a remote authority node.
func ExampleEngine_Status() {
	st, err := store.Open(".taskrelay/tasks.db")
	if err != nil {
		log.Fatal(err)
	}
	defer st.Close()

	eng := sync.New(st, remote.NewClient("http://relay.example.net:8787", nil), nil, nil)

	status, err := eng.Status(context.Background())
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("pending: %d online: %v\n", status.PendingCount, status.IsOnline)
}

// This example demonstrates last-write-wins resolution between two
// versions of the same task.
func ExampleResolveConflict() {
	local := task.New("Write the report", "")

	remoteVersion := local.Clone()
	remoteVersion.Title = "Write the quarterly report"
	remoteVersion.UpdatedAt = local.UpdatedAt.Add(time.Minute)

	winner := sync.ResolveConflict(local, remoteVersion)
	fmt.Println(winner.Title)
}
