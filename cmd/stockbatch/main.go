package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/mevdschee/stockbatch/cache"
	"github.com/mevdschee/stockbatch/config"
	"github.com/mevdschee/stockbatch/entity"
	"github.com/mevdschee/stockbatch/keyalloc"
	"github.com/mevdschee/stockbatch/metrics"
	"github.com/mevdschee/stockbatch/persistence"
	"github.com/mevdschee/stockbatch/replica"
	"github.com/mevdschee/stockbatch/server"
	"github.com/mevdschee/stockbatch/upload"
	"github.com/mevdschee/stockbatch/writebatch"
)

func main() {
	configPath := flag.String("config", "config.ini", "Path to configuration file")
	fixturePath := flag.String("fixture", "", "YAML upload to apply on startup")
	initSchema := flag.Bool("init-schema", false, "Create the tables (sqlite3 only)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize metrics
	metrics.Init()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := replica.Open(cfg.Database.Driver, cfg.Database.Primary, cfg.Database.Replicas)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer pool.Close()
	go pool.StartHealthChecks(ctx, 10*time.Second)
	log.Printf("[Replica] Primary (%s) with %d replicas", pool.DriverName(), len(cfg.Database.Replicas))

	if *initSchema {
		if pool.DriverName() != "sqlite3" {
			log.Fatalf("Schema creation is only supported for sqlite3")
		}
		if err := persistence.ApplySchema(ctx, pool.GetPrimary(), persistence.SQLiteSchema); err != nil {
			log.Fatalf("Failed to create schema: %v", err)
		}
	}

	store, err := persistence.New(pool, keyAllocator(cfg, pool), cfg.Cache.TotalsTTL)
	if err != nil {
		log.Fatalf("Failed to create persistence manager: %v", err)
	}
	defer store.Close()

	caches := lookupCaches(store)

	if *fixturePath != "" {
		fixture, err := upload.LoadFixture(*fixturePath)
		if err != nil {
			log.Fatalf("Failed to load fixture: %v", err)
		}
		opts := upload.Options{
			Batch: writebatch.Config{
				Threshold:                cfg.Batch.Threshold,
				AutoTrigger:              cfg.Batch.AutoTrigger,
				CheckAutoTriggerFailures: cfg.Batch.CheckFailures,
			},
			Caches: caches,
		}
		err = upload.Run(ctx, store, opts, func(ctx context.Context, job *upload.Job) error {
			return fixture.Apply(ctx, job)
		})
		if err != nil {
			log.Fatalf("Upload failed: %v", err)
		}
	}

	var tables []string
	for _, t := range upload.AllTypes() {
		tables = append(tables, t.New().Table())
	}
	srv := server.New(store, caches, tables)
	go func() {
		if err := srv.Start(cfg.HTTP.Listen); err != nil {
			log.Printf("[HTTP] Server error: %v", err)
		}
	}()

	log.Println("Stockbatch started. Press Ctrl+C to stop. Send SIGHUP to reload lookup caches.")

	// Handle signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for {
		sig := <-sigChan
		switch sig {
		case syscall.SIGHUP:
			log.Println("Received SIGHUP, reloading lookup caches...")
			caches.ReloadAll(ctx, nil)
			store.InvalidateTotals()

		case syscall.SIGINT, syscall.SIGTERM:
			log.Println("Shutting down...")
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			if err := srv.Stop(shutdownCtx); err != nil {
				log.Printf("[HTTP] Shutdown error: %v", err)
			}
			done()
			return
		}
	}
}

func keyAllocator(cfg *config.Config, pool *replica.Pool) *keyalloc.Allocator {
	var seq keyalloc.Sequence
	switch cfg.Keys.Source {
	case "redis":
		seq = keyalloc.NewRedisSequence(keyalloc.NewRedisClient(cfg.Keys.RedisAddr), cfg.Keys.RedisKey, cfg.Keys.Increment)
		log.Printf("[Keys] Reserving key ranges from redis %s", cfg.Keys.RedisAddr)
	default:
		query := cfg.Database.SequenceQuery
		if query == "" && pool.DriverName() == "sqlite3" {
			query = keyalloc.SQLiteSequenceQuery
		}
		seq = keyalloc.NewSQLSequence(pool.GetPrimary(), query)
	}
	return keyalloc.New(seq, cfg.Keys.Increment)
}

func lookupCaches(store *persistence.Manager) *cache.Registry {
	caches := &cache.Registry{}
	caches.Add(persistence.EntityCache(store, "bottlers", entity.NewBottler, "", "name"))
	caches.Add(persistence.EntityCache(store, "branches", entity.NewBottlerBranch, "", "name"))
	caches.Add(persistence.EntityCache(store, "districts", entity.NewDistrict, "", "id"))
	caches.Add(persistence.EntityCache(store, "stores", entity.NewStore, "", "id"))
	caches.Add(persistence.EntityCache(store, "categories", entity.NewProductCategory, "", "id"))
	return caches
}
