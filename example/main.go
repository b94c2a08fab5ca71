// Command example is a minimal demonstration of the Coordinator,
// following the shape of the teacher's own example/main.go: parse a
// couple of flags, register one job, start, wait for a termination
// signal, stop. Wiring a real CLI front-end (subcommands, flags for
// every backend) is out of the core's scope (spec.md §1).
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/cronxhq/cronx"
	"github.com/cronxhq/cronx/config"
	_ "github.com/cronxhq/cronx/storage/memory"
	_ "github.com/cronxhq/cronx/storage/postgres"
	_ "github.com/cronxhq/cronx/storage/redis"
	_ "github.com/cronxhq/cronx/storage/sqlite"
)

func main() {
	configPath := flag.String("config", "", "Optional config file (read by the config package; env vars are CRONX_*).")
	storageURI := flag.String("storage", "", "Storage backend URI (memory://, sqlite://PATH, postgres://..., redis://...); overrides config when set.")
	expr := flag.String("expr", "*/5 * * * * *", "Cron expression for the demo job.")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if *storageURI != "" {
		cfg.StorageURI = *storageURI
	}

	opts := []cronx.Option{
		cronx.WithTimezone(cfg.Timezone),
		cronx.WithLockTTL(cfg.LockTTL),
		cronx.WithLockExtendInterval(cfg.LockExtendInterval),
	}
	if cfg.WorkerID != "" {
		opts = append(opts, cronx.WithWorkerID(cfg.WorkerID))
	}
	c := cronx.New(cfg.StorageURI, opts...)

	ctx := context.Background()
	if err := c.Start(ctx); err != nil {
		log.Fatalf("start: %v", err)
	}

	// The demo job takes its retry/backoff policy from the config-seeded
	// defaults; the Coordinator itself does not apply config to jobs.
	options := cfg.JobOptions()
	_, err = c.Schedule(ctx, "hello", *expr, func(ctx context.Context) error {
		log.Println("hello")
		return nil
	}, options)
	if err != nil {
		log.Fatalf("schedule: %v", err)
	}

	log.Printf("cronx started successfully (worker=%s, storage=%s)", c.WorkerID(), cfg.StorageURI)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	if err := c.Stop(ctx); err != nil {
		log.Printf("stop: %v", err)
	}
}
