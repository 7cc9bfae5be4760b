package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"
	"time"

	"landrec-import/internal/config"
	"landrec-import/internal/database"
	"landrec-import/internal/domain"
	httpapi "landrec-import/internal/http"
	applog "landrec-import/internal/logger"
	"landrec-import/internal/matching"
	appmqtt "landrec-import/internal/mqtt"
	"landrec-import/internal/repository"
	"landrec-import/internal/service"
	"landrec-import/internal/store"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()

	logger, err := applog.NewLogger(cfg.Log.Level, cfg.Log.Format, "landrec-import")
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	content, err := store.NewFSContentStore(cfg.Content.Root)
	if err != nil {
		logger.Fatal("content store init failed", zap.String("root", cfg.Content.Root), zap.Error(err))
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	var kv store.KV = store.NewRedisKV(redisClient)
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		logger.Warn("redis unavailable, using in-memory cache", zap.Error(err))
		kv = store.NewMemoryKV()
	}

	// Repositories: postgres when the DB is reachable, in-memory otherwise so
	// the service still runs for local development.
	var (
		db            *sql.DB
		packagesRepo  repository.PackagesRepository
		stagingRepo   repository.StagingRepository
		conflictsRepo repository.ConflictsRepository
		prodRepo      repository.ProductionRepository
		syncRepo      repository.SyncRepository
		auditRepo     repository.AuditRepository
	)
	if cfg.DBEnabled {
		if d, err := database.NewPostgresDB(&cfg.Database); err == nil {
			db = d
			logger.Info("DB enabled for landrec-import")
		} else {
			logger.Warn("DB enabled but connection failed, using in-memory repositories", zap.Error(err))
		}
	}
	if db != nil {
		packagesRepo = repository.NewPostgresPackagesRepository(db)
		stagingRepo = repository.NewPostgresStagingRepository(db)
		conflictsRepo = repository.NewPostgresConflictsRepository(db)
		prodRepo = repository.NewPostgresProductionRepository(db)
		syncRepo = repository.NewPostgresSyncRepository(db)
		auditRepo = repository.NewPostgresAuditRepository(db)
	} else {
		memStaging := repository.NewMemoryStagingRepository()
		packagesRepo = repository.NewMemoryPackagesRepository()
		stagingRepo = memStaging
		conflictsRepo = repository.NewMemoryConflictsRepository()
		prodRepo = repository.NewMemoryProductionRepository(memStaging)
		syncRepo = repository.NewMemorySyncRepository()
		auditRepo = repository.NewMemoryAuditRepository()
	}

	// Audit sink: DB always, MQTT broker when enabled.
	var publisher service.AuditPublisher
	var mqttClient *appmqtt.Client
	if cfg.MQTT.Enabled {
		if c, err := appmqtt.NewClient(&cfg.MQTT, logger); err == nil {
			mqttClient = c
			publisher = c
		} else {
			logger.Warn("MQTT broker unavailable, audit stays DB-only", zap.Error(err))
		}
	}
	audit := service.NewAuditRecorder(auditRepo, publisher, cfg.MQTT.Topic, logger)

	var vocab service.VocabularyProvider
	if cfg.Vocabulary.BaseURL != "" {
		vocab = service.NewVocabularyClient(cfg.Vocabulary.BaseURL, cfg.Vocabulary.Token,
			kv, time.Duration(cfg.Vocabulary.CacheTTLSecs)*time.Second, logger)
	} else {
		logger.Warn("no vocabulary service configured, using built-in defaults")
		vocab = &service.StaticVocabulary{Snap: defaultVocabulary()}
	}

	intake := service.NewIntakeService(packagesRepo, content, audit, cfg.Upload.DeviceSecret, logger)
	staging := service.NewStagingService(packagesRepo, stagingRepo, content, vocab, audit, logger)
	duplicates := service.NewDuplicateService(packagesRepo, stagingRepo, conflictsRepo, prodRepo,
		matching.DefaultConfig(), audit, logger)
	conflicts := service.NewConflictService(packagesRepo, conflictsRepo,
		time.Duration(cfg.Conflict.SLAHours)*time.Hour, audit, logger)
	commits := service.NewCommitService(packagesRepo, stagingRepo, conflictsRepo, prodRepo,
		content, audit, logger)
	syncSvc := service.NewSyncService(syncRepo, intake, vocab, audit, logger)

	auth := httpapi.NewTokenStore()
	seedTokens(auth, logger)

	router := httpapi.NewRouter(logger)
	router.RegisterImportRoutes(httpapi.NewImportHandler(
		intake, staging, duplicates, commits, packagesRepo, auth, cfg.Upload.MaxBytes, logger))
	router.RegisterConflictRoutes(httpapi.NewConflictHandler(conflicts, auth, logger))
	router.RegisterSyncRoutes(httpapi.NewSyncHandler(syncSvc, auth, cfg.Upload.MaxBytes, logger))

	srv := service.NewServer(cfg.HTTP.Addr, router, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		cancel()
	case <-errCh:
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 5*time.Second)
	defer shutdownCancel()
	_ = srv.Stop(shutdownCtx)
	_ = redisClient.Close()
	if mqttClient != nil {
		mqttClient.Disconnect()
	}
	if db != nil {
		_ = db.Close()
	}
}

// seedTokens provisions static dev tokens unless disabled. Production
// deployments set SEED_TOKENS=false and load tokens through ops tooling.
func seedTokens(auth *httpapi.TokenStore, logger *zap.Logger) {
	if os.Getenv("SEED_TOKENS") == "false" {
		return
	}
	auth.IssueStatic("dev-operator-token", httpapi.AuthUser{Name: "operator", Role: httpapi.RoleOperator})
	auth.IssueStatic("dev-reviewer-token", httpapi.AuthUser{Name: "reviewer", Role: httpapi.RoleReviewer})
	auth.IssueStatic("dev-admin-token", httpapi.AuthUser{Name: "admin", Role: httpapi.RoleAdmin})
	auth.IssueStatic("dev-device-token", httpapi.AuthUser{Name: "device", Role: httpapi.RoleDevice, CollectorID: "collector-dev"})
	logger.Info("seeded dev tokens (set SEED_TOKENS=false to disable)")
}

// defaultVocabulary is the fallback code set for runs without a vocabulary
// service.
func defaultVocabulary() *domain.VocabularySnapshot {
	now := time.Now().UTC()
	mk := func(dom string, codes ...string) []domain.VocabularyCode {
		out := make([]domain.VocabularyCode, len(codes))
		for i, c := range codes {
			out[i] = domain.VocabularyCode{Domain: dom, Code: c, Label: c, Active: true, UpdatedAt: now}
		}
		return out
	}
	return &domain.VocabularySnapshot{
		Version:   "builtin-1",
		FetchedAt: now,
		Codes: map[string][]domain.VocabularyCode{
			"gender":        mk("gender", "male", "female", "other", "unknown"),
			"relation_type": mk("relation_type", "owner", "co_owner", "tenant", "heir", "occupant"),
			"claim_type":    mk("claim_type", "ownership", "tenure", "inheritance", "occupation"),
		},
	}
}
