package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/davidmoltin/ai-action-queue/internal/engine"
	"github.com/davidmoltin/ai-action-queue/internal/repository/postgres"
	"github.com/davidmoltin/ai-action-queue/internal/seeds"
	"github.com/davidmoltin/ai-action-queue/internal/services"
	"github.com/davidmoltin/ai-action-queue/migrations"
	"github.com/davidmoltin/ai-action-queue/pkg/auth"
	"github.com/davidmoltin/ai-action-queue/pkg/config"
	"github.com/davidmoltin/ai-action-queue/pkg/database"
	"github.com/davidmoltin/ai-action-queue/pkg/logger"
)

func main() {
	var (
		tenantID    = flag.String("tenant", "demo", "Tenant to seed")
		userID      = flag.String("user", "dev", "User ID embedded in the minted token")
		entities    = flag.Bool("entities", true, "Prime demo entity snapshots into Redis")
		schedules   = flag.Bool("schedules", true, "Create demo scheduled actions in Postgres")
		credentials = flag.Bool("credentials", true, "Mint a dev access token and API key")
		admin       = flag.Bool("admin", false, "Include queue:admin in the minted token")
	)
	flag.Parse()

	if err := run(*tenantID, *userID, *entities, *schedules, *credentials, *admin); err != nil {
		fmt.Fprintf(os.Stderr, "seed: %v\n", err)
		os.Exit(1)
	}
}

func run(tenantID, userID string, withEntities, withSchedules, withCredentials, admin bool) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.New(cfg.Logger.Level, cfg.Logger.Format)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	seeder := seeds.NewSeeder(tenantID, log.Named("seed"))
	now := time.Now().UTC()

	if withEntities {
		if !cfg.Redis.Enabled {
			log.Warn("Redis is disabled; skipping entity snapshots")
		} else {
			redisClient, err := database.NewRedisClient(ctx, cfg, log)
			if err != nil {
				return fmt.Errorf("failed to initialize redis: %w", err)
			}
			defer redisClient.Close()

			loader := engine.NewCachedEntityLoader(engine.NewStaticEntityLoader(), redisClient, cfg.Engine.EntityCacheTTL, log.Named("entities"))
			if _, err := seeder.SeedEntities(ctx, loader, seeds.DemoEntities(now), 0); err != nil {
				return err
			}
		}
	}

	if withSchedules {
		if cfg.Storage.Driver == "memory" {
			log.Warn("Storage driver is memory; skipping scheduled actions")
		} else {
			db, err := database.NewPostgresDB(ctx, cfg, log)
			if err != nil {
				return fmt.Errorf("failed to initialize database: %w", err)
			}
			defer db.Close()

			if err := database.Migrate(db.DB, migrations.Files, log); err != nil {
				return err
			}

			registry := engine.NewDefaultRegistry()
			if cfg.Engine.PolicyFile != "" {
				if _, err := registry.LoadPolicyOverrides(cfg.Engine.PolicyFile); err != nil {
					return fmt.Errorf("failed to load policy overrides: %w", err)
				}
			}

			// Seeding never ticks, so no enqueuer is needed
			scheduler := services.NewSchedulerService(
				postgres.NewScheduledActionRepository(db), nil, log,
				services.WithScheduleValidator(registry),
			)
			if _, err := seeder.SeedSchedules(ctx, scheduler, seeds.DemoSchedules(now)); err != nil {
				return err
			}
		}
	}

	if withCredentials {
		secret := cfg.Auth.JWTSecret
		if secret == "" {
			secret = auth.DevelopmentSecret
			log.Warn("JWT_SECRET not set, signing with the development secret")
		}
		perms := auth.DefaultPermissions
		if admin {
			perms = append(append([]string{}, perms...), auth.PermissionQueueAdmin)
		}

		jwtManager := auth.NewJWTManagerWithTTL(secret, cfg.Auth.AccessTokenTTL, cfg.Auth.Issuer)
		creds, err := seeder.MintCredentials(jwtManager, userID, perms)
		if err != nil {
			return err
		}

		out, err := json.MarshalIndent(creds, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		fmt.Fprintf(os.Stderr, "\nAdd to the API environment:\n  API_KEYS=%s\n", strings.TrimSpace(creds.APIKeyEntry))
	}

	return nil
}
