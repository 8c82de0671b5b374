package main

import (
	"context"
	"flag"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/noah-isme/roastery-checkout/internal/config"
	"github.com/noah-isme/roastery-checkout/internal/db"
	"github.com/noah-isme/roastery-checkout/internal/obs"
	"github.com/noah-isme/roastery-checkout/internal/seed"
	"github.com/noah-isme/roastery-checkout/internal/store/postgres"
)

func main() {
	migrate := flag.Bool("migrate", true, "apply pending migrations before seeding")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger := obs.NewLogger(cfg.LogFormat, cfg.LogLevel).With().Str("component", "seeder").Logger()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		logger.Fatal().Err(err).Msg("ping database")
	}

	if *migrate {
		if err := db.Migrate(pool, logger); err != nil {
			logger.Fatal().Err(err).Msg("apply migrations")
		}
	}

	catalog := seed.Demo(time.Now().UTC())
	if err := postgres.New(pool).Load(ctx, catalog); err != nil {
		logger.Fatal().Err(err).Msg("load demo catalog")
	}
	logger.Info().
		Int("variants", len(catalog.Variants)).
		Int("price_windows", len(catalog.PriceWindows)).
		Int("coupons", len(catalog.Coupons)).
		Int("global_discounts", len(catalog.GlobalDiscounts)).
		Msg("seeding completed")
}
