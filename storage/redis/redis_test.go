//go:build integration

// This suite requires a live Redis instance and is excluded from the
// default test run (spec.md §8 allows networked backends to be exercised
// only by a build-tagged integration suite). Run with:
//
//	REDIS_TEST_ADDR=redis://localhost:6379/0 \
//		go test -tags=integration ./storage/redis/...
package redis_test

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cronxhq/cronx/storage/redis"
	"github.com/cronxhq/cronx/storage/storagetest"
)

func TestStore_Contract(t *testing.T) {
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}

	store := redis.New(addr)
	if err := store.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer store.Disconnect(context.Background())

	run := time.Now().UnixNano()
	var counter int64
	storagetest.Run(t, store, func(t *testing.T) string {
		return fmt.Sprintf("job-%d-%d", run, atomic.AddInt64(&counter, 1))
	})
}
