package main

import (
	"context"
	"encoding/json"
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

type canteenJSON struct {
	catalog.Canteen
	Menu []catalog.MenuItem `json:"menu"`
}

// seeder acts as this principal when writing the catalog.
var seeder = &auth.Principal{UID: "seed-db", DisplayName: "Seed", Role: auth.RoleSuperAdmin}

func main() {
	var (
		databaseURL   string
		canteensFile  string
		apiKey        string
		apiKeyPepper  string
		apiKeyUID     string
		apiKeyRole    string
		apiKeyCanteen string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&canteensFile, "canteens-file", "db/seed/canteens.json", "path to canteens JSON file")
	flag.StringVar(&apiKey, "api-key", "", "API key to seed (or CANTEEN_SEED_API_KEY env)")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or CANTEEN_API_KEY_PEPPER env)")
	flag.StringVar(&apiKeyUID, "api-key-uid", "admin", "user id of the seeded API key")
	flag.StringVar(&apiKeyRole, "api-key-role", string(auth.RoleAdmin), "role of the seeded API key")
	flag.StringVar(&apiKeyCanteen, "api-key-canteen", "", "canteen id of a canteen_staff API key")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if apiKey == "" {
		apiKey = os.Getenv("CANTEEN_SEED_API_KEY")
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("CANTEEN_API_KEY_PEPPER")
	}
	role, err := auth.ParseRole(apiKeyRole)
	if err != nil {
		slog.Error("invalid api key role", slog.String("role", apiKeyRole))
		os.Exit(1)
	}
	if role == auth.RoleCanteenStaff && apiKeyCanteen == "" {
		slog.Error("canteen_staff keys need --api-key-canteen")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	key := auth.Principal{UID: apiKeyUID, DisplayName: "Seeded key", Role: role, CanteenID: apiKeyCanteen}
	if err := run(ctx, databaseURL, canteensFile, apiKey, apiKeyPepper, key); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, canteensFile, apiKey, pepper string, key auth.Principal) error {
	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.RunMigrations(pool, zap.NewNop()); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	store := postgres.NewStore(pool, zap.NewNop())

	if err := seedCanteens(ctx, catalog.NewService(store, zap.NewNop()), canteensFile); err != nil {
		return errors.Wrap(err, "seed canteens")
	}

	if apiKey == "" {
		slog.Info("no API key given, skipping")
		return nil
	}
	if err := auth.NewAPIKeyStore(store).Save(ctx, []byte(pepper), apiKey, "Seeded key", key); err != nil {
		return errors.Wrap(err, "seed api key")
	}
	slog.Info("upserted API key", slog.String("uid", key.UID), slog.String("role", string(key.Role)))

	return nil
}

// seedCanteens creates the canteens of the file that do not exist yet, by
// name, with their menus.
func seedCanteens(ctx context.Context, svc *catalog.Service, canteensFile string) error {
	slog.Info("reading canteens file", slog.String("path", canteensFile))

	data, err := os.ReadFile(canteensFile)
	if err != nil {
		return errors.Wrap(err, "read canteens file")
	}

	var canteens []canteenJSON
	if err := json.Unmarshal(data, &canteens); err != nil {
		return errors.Wrap(err, "parse canteens JSON")
	}

	existing, err := svc.ListCanteens(ctx)
	if err != nil {
		return errors.Wrap(err, "list canteens")
	}
	byName := make(map[string]struct{}, len(existing))
	for _, c := range existing {
		byName[c.Name] = struct{}{}
	}

	for _, c := range canteens {
		if _, ok := byName[c.Name]; ok {
			slog.Info("canteen exists, skipping", slog.String("name", c.Name))
			continue
		}

		created, err := svc.CreateCanteen(ctx, seeder, c.Canteen)
		if err != nil {
			return errors.Wrapf(err, "create canteen %s", c.Name)
		}
		ids, err := svc.AddMenuItems(ctx, seeder, created.ID, c.Menu)
		if err != nil {
			return errors.Wrapf(err, "add menu of %s", c.Name)
		}

		slog.Info("created canteen",
			slog.String("id", created.ID),
			slog.String("name", created.Name),
			slog.Int("menu_items", len(ids)),
		)
	}

	return nil
}
