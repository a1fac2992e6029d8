package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/Zikki-Qing/tabmend/internal/blob"
	"github.com/Zikki-Qing/tabmend/internal/common"
	"github.com/Zikki-Qing/tabmend/internal/repository"
)

func main() {
	configPath := flag.String("config", os.Getenv("TABMEND_CONFIG"), "path to YAML config file")
	flag.Parse()

	cfg, err := common.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))

	db, err := repository.Open(ctx, cfg.Storage.DBPath, logger)
	if err != nil {
		log.Fatalf("opening job store: %v", err)
	}
	defer repository.Close(db, logger)

	if err := repository.HealthCheck(ctx, db, time.Second, logger); err != nil {
		log.Fatalf("job store health: FAIL (%v)", err)
	}
	log.Println("job store health: OK")

	blobs, err := blob.NewFSStore(cfg.Storage.BlobDir, logger)
	if err != nil {
		log.Fatalf("opening blob store: %v", err)
	}
	if err := blobs.Ping(ctx); err != nil {
		log.Fatalf("blob store health: FAIL (%v)", err)
	}
	log.Println("blob store health: OK")

	repo := repository.NewJobRepository(db, logger)
	counts, err := repo.CountByState(ctx)
	if err != nil {
		log.Fatalf("counting jobs: %v", err)
	}
	total := 0
	for state, n := range counts {
		log.Printf("- %s: %d", state, n)
		total += n
	}
	log.Printf("jobs total: %d", total)
}
