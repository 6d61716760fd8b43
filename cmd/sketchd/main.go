package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	_ "modernc.org/sqlite"

	"github.com/sahithikokkula/sketchd/pkg/api"
	"github.com/sahithikokkula/sketchd/pkg/config"
	"github.com/sahithikokkula/sketchd/pkg/registry"
	"github.com/sahithikokkula/sketchd/pkg/storage"
)

func main() {
	cfg := config.Load()

	addr := flag.String("addr", ":"+cfg.Port, "listen address")
	dbPath := flag.String("db", cfg.DBPath, "sqlite database path")
	cacheSize := flag.Int("cache", cfg.CacheSize, "sketches kept in memory")
	flushEvery := flag.Duration("flush", cfg.FlushInterval, "write-back interval for changed sketches (0 disables)")
	graceful := flag.Duration("graceful", 10*time.Second, "graceful shutdown timeout")
	flag.Parse()

	log.Printf("Using database path: %s", *dbPath)

	db, err := sql.Open("sqlite", *dbPath)
	if err != nil {
		log.Fatalf("failed to open sqlite db: %v", err)
	}
	defer db.Close()

	// Pragmas for better performance
	db.Exec("PRAGMA journal_mode=WAL;")
	db.Exec("PRAGMA synchronous=NORMAL;")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := storage.EnsureMetaTables(ctx, db); err != nil {
		log.Fatalf("failed to ensure meta tables: %v", err)
	}

	reg, err := registry.New(db, *cacheSize)
	if err != nil {
		log.Fatalf("failed to create registry: %v", err)
	}
	reg.StartPeriodicFlush(ctx, *flushEvery)

	r := mux.NewRouter()
	api.RegisterRoutes(r, db, reg)

	srv := &http.Server{
		Addr:         *addr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Printf("sketchd listening on %s", *addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), *graceful)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
	cancel()
	if err := reg.FlushAll(shutdownCtx); err != nil {
		log.Printf("final flush: %v", err)
	}
	log.Println("server stopped")
}
