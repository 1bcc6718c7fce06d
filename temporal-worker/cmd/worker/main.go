package main

import (
	"context"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rshare/ride-booking-system/shared/catalog"
	"github.com/rshare/ride-booking-system/shared/config"
	"github.com/rshare/ride-booking-system/shared/logging"
	"github.com/rshare/ride-booking-system/shared/models"
	"github.com/rshare/ride-booking-system/shared/payloads"
	"github.com/rshare/ride-booking-system/temporal-worker/internal/activities"
	"github.com/rshare/ride-booking-system/temporal-worker/internal/identity"
	"github.com/rshare/ride-booking-system/temporal-worker/internal/repository"
	"github.com/rshare/ride-booking-system/temporal-worker/internal/workflows"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	// Vehicle catalog
	var offers catalog.Catalog = catalog.NewStatic(cfg.Location())
	if cfg.DatabaseURL != "" {
		logger.Info("Connecting to database...")
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("Failed to connect to database", zap.Error(err))
		}
		defer pool.Close()

		if err := pool.Ping(ctx); err != nil {
			logger.Fatal("Failed to ping database", zap.Error(err))
		}

		repo := repository.NewCatalogRepository(pool, cfg.Location())
		if err := repo.Migrate(ctx); err != nil {
			logger.Fatal("Failed to migrate catalog", zap.Error(err))
		}
		// Seed rows keep only the time of day, so any date will do
		seed, err := catalog.NewStatic(cfg.Location()).Search(ctx, models.TripRequest{
			Date: time.Now().In(cfg.Location()).Format(models.DateLayout),
		})
		if err != nil {
			logger.Fatal("Failed to build seed catalog", zap.Error(err))
		}
		n, err := repo.SeedIfEmpty(ctx, seed)
		if err != nil {
			logger.Fatal("Failed to seed catalog", zap.Error(err))
		}
		logger.Info("Connected to database", zap.Int("seededOffers", n))
		offers = repo
	} else {
		logger.Info("DATABASE_URL not set, using built-in vehicle catalog")
	}

	// One-time code store and per-session verifiers
	var codes identity.CodeStore = identity.NewMemoryStore()
	verifiers := identity.NewVerifierPool()
	if cfg.RedisAddr != "" {
		rdb, err := identity.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisOTPDB)
		if err != nil {
			logger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer rdb.Close()
		codes = identity.NewRedisStore(rdb)
		verifiers = identity.NewRedisVerifierPool(rdb, rate.Every(identity.VerifierInterval), identity.VerifierBurst)
		logger.Info("Connected to Redis", zap.String("addr", cfg.RedisAddr))
	} else {
		logger.Warn("REDIS_ADDR not set, verification codes and verifiers are kept in memory; run a single worker")
	}

	// Federated sign-in is optional
	var tokens identity.TokenVerifier
	if cfg.FirebaseCredentialsFile != "" {
		fb, err := identity.NewFirebaseVerifier(ctx, cfg.FirebaseCredentialsFile)
		if err != nil {
			logger.Fatal("Failed to initialise Firebase", zap.Error(err))
		}
		tokens = fb
		logger.Info("Firebase sign-in enabled")
	}

	gateway := identity.NewService(codes, identity.NewLogSender(logger), tokens, cfg.OTPTTL, logger)

	// Connect to Temporal
	logger.Info("Connecting to Temporal...", zap.String("host", cfg.TemporalHost))
	clientOptions := client.Options{
		HostPort: cfg.TemporalHost,
		Logger:   logging.NewTemporalLogger(logger),
	}
	if cfg.PayloadEncryptionKey != "" {
		if clientOptions.DataConverter, err = payloads.NewDataConverter(cfg.PayloadEncryptionKey); err != nil {
			logger.Fatal("Failed to create payload codec", zap.Error(err))
		}
	} else {
		logger.Warn("PAYLOAD_ENCRYPTION_KEY not set, workflow payloads are stored in clear text")
	}
	c, err := client.Dial(clientOptions)
	if err != nil {
		logger.Fatal("Failed to connect to Temporal", zap.Error(err))
	}
	defer c.Close()
	logger.Info("Connected to Temporal")

	// Create worker
	w := worker.New(c, cfg.TaskQueue, worker.Options{})

	// Register workflows
	w.RegisterWorkflow(workflows.BookingSessionWorkflow)

	// Create and register activities
	acts := activities.NewActivities(gateway, verifiers, offers)
	acts.PaymentFailureRate = cfg.PaymentFailureRate
	w.RegisterActivity(acts)

	// Start worker
	logger.Info("Starting Temporal worker...", zap.String("taskQueue", cfg.TaskQueue))
	if err := w.Run(worker.InterruptCh()); err != nil {
		logger.Fatal("Worker failed", zap.Error(err))
	}
}
