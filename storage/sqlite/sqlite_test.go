package sqlite_test

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/cronxhq/cronx/storage/sqlite"
	"github.com/cronxhq/cronx/storage/storagetest"
)

func TestStore_Contract(t *testing.T) {
	store := sqlite.New(":memory:")
	if err := store.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer store.Disconnect(context.Background())

	var counter int64
	storagetest.Run(t, store, func(t *testing.T) string {
		return fmt.Sprintf("job-%d", atomic.AddInt64(&counter, 1))
	})
}
