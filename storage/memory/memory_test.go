package memory_test

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/cronxhq/cronx/storage/memory"
	"github.com/cronxhq/cronx/storage/storagetest"
)

func TestStore_Contract(t *testing.T) {
	store := memory.New()
	if err := store.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	var counter int64
	storagetest.Run(t, store, func(t *testing.T) string {
		return fmt.Sprintf("job-%d", atomic.AddInt64(&counter, 1))
	})
}
