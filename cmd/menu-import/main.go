// Command menu-import loads menu items of a canteen from gzip-compressed
// NDJSON files, one item per line, skipping names already on the menu or
// repeated across files.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/campus-canteen/internal/domain/auth"
	"github.com/xenking/campus-canteen/internal/domain/catalog"
	"github.com/xenking/campus-canteen/internal/storage/postgres"
)

var importer = &auth.Principal{UID: "menu-import", DisplayName: "Menu import", Role: auth.RoleSuperAdmin}

func main() {
	var (
		databaseURL string
		canteenID   string
		batchSize   int
		dryRun      bool
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&canteenID, "canteen", "", "id of the canteen receiving the items")
	flag.IntVar(&batchSize, "batch", 100, "items written per batch")
	flag.BoolVar(&dryRun, "dry-run", false, "parse and deduplicate without writing")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if canteenID == "" {
		slog.Error("canteen id is required: set --canteen")
		os.Exit(1)
	}
	files := flag.Args()
	if len(files) == 0 {
		slog.Error("no input files: pass one or more .ndjson.gz paths")
		os.Exit(1)
	}
	if batchSize <= 0 {
		batchSize = 100
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, canteenID, files, batchSize, dryRun); err != nil {
		slog.Error("menu import failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("menu import completed successfully")
}

func run(ctx context.Context, databaseURL, canteenID string, files []string, batchSize int, dryRun bool) error {
	slog.Info("parsing files", slog.Int("files", len(files)))

	parsed, err := parseFiles(ctx, files)
	if err != nil {
		return errors.Wrap(err, "parse files")
	}

	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	svc := catalog.NewService(postgres.NewStore(pool, zap.NewNop()), zap.NewNop())

	existing, err := svc.ListMenu(ctx, canteenID)
	if err != nil {
		return errors.Wrap(err, "list current menu")
	}
	items := dedupe(parsed, existing)

	slog.Info("items to import",
		slog.Int("new", len(items)),
		slog.Int("on_menu", len(existing)),
	)
	if dryRun || len(items) == 0 {
		return nil
	}

	return writeItems(ctx, svc, canteenID, items, batchSize)
}

// writeItems adds items in batches. Each batch is validated before any of
// its items is written.
func writeItems(ctx context.Context, svc *catalog.Service, canteenID string, items []catalog.MenuItem, batchSize int) error {
	written := 0
	for start := 0; start < len(items); start += batchSize {
		end := min(start+batchSize, len(items))
		ids, err := svc.AddMenuItems(ctx, importer, canteenID, items[start:end])
		written += len(ids)
		if err != nil {
			return errors.Wrapf(err, "write batch at item %d (%d written)", start, written)
		}
		slog.Info("write progress", slog.Int("written", written), slog.Int("total", len(items)))
	}
	return nil
}
