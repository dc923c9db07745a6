// Package cli provides the command-line interface for the mnemo memory
// service. The root command starts the HTTP API server and its background
// workers; subcommands cover operational tasks such as running schema
// migrations and draining the telemetry queue.
//
// Startup sequence:
//  1. Load configuration (file, .env, MNEMO_* environment variables)
//  2. Connect to PostgreSQL and run pending migrations
//  3. Connect to Redis for rate-limit counters (in-process fallback)
//  4. Wire repositories, engines and the bundle orchestrator
//  5. Start the Echo server and the background workers
//  6. Wait for SIGINT/SIGTERM, then shut down gracefully
package cli

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"mnemo.evalgo.org/acb"
	"mnemo.evalgo.org/api"
	"mnemo.evalgo.org/capsule"
	"mnemo.evalgo.org/common"
	"mnemo.evalgo.org/config"
	"mnemo.evalgo.org/db"
	"mnemo.evalgo.org/db/repository"
	"mnemo.evalgo.org/graph"
	mnemohttp "mnemo.evalgo.org/http"
	"mnemo.evalgo.org/ingest"
	"mnemo.evalgo.org/mode"
	"mnemo.evalgo.org/overlay"
	"mnemo.evalgo.org/ratelimit"
	"mnemo.evalgo.org/security"
	"mnemo.evalgo.org/storage"
	"mnemo.evalgo.org/telemetry"
	"mnemo.evalgo.org/worker"
)

// cfgFile holds the path passed via --config; empty triggers the default
// search locations in the config package.
var cfgFile string

// RootCmd starts the memory service API server.
var RootCmd = &cobra.Command{
	Use:   "mnemo",
	Short: "multi-tenant agent memory service",
	Long: `Mnemo Memory Service

An HTTP API for shared agent memory:
- Event ingestion with privacy coercion and artifact offload
- Non-destructive memory edits with effective read views
- Capsule sharing with audience and TTL control
- Mode-aware, token-budgeted context bundle assembly
- Typed memory graph with dependency cycle prevention

Configuration is read from config.yaml, .env files and MNEMO_*
environment variables; see the config package for the full key list.`,
	Run: runServer,
}

func init() {
	RootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default searches ., ./configs, ~/.mnemo, /etc/mnemo)")
	RootCmd.AddCommand(migrateCmd)
}

// migrateCmd runs pending schema migrations and exits. Useful for
// deployments where the server runs with migrate_on_start disabled.
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "run pending schema migrations and exit",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.LoadConfig(cfgFile)
		if err != nil {
			common.Logger.WithError(err).Fatal("failed to load configuration")
		}
		common.ConfigureLogger(cfg.Logging.Level, cfg.Logging.Format)

		ctx := context.Background()
		pg, err := db.NewPostgresDB(ctx, db.Config{
			URL:            cfg.Database.URL,
			MaxConnections: cfg.Database.MaxConnections,
			QueryTimeout:   cfg.Database.QueryTimeout,
		})
		if err != nil {
			common.Logger.WithError(err).Fatal("failed to connect to database")
		}
		defer pg.Close()

		if err := pg.Migrate(ctx); err != nil {
			common.Logger.WithError(err).Fatal("migration failed")
		}
		common.Logger.Info("migrations applied")
	},
}

func runServer(cmd *cobra.Command, args []string) {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		common.Logger.WithError(err).Fatal("failed to load configuration")
	}
	common.ConfigureLogger(cfg.Logging.Level, cfg.Logging.Format)

	ctx := context.Background()

	pg, err := db.NewPostgresDB(ctx, db.Config{
		URL:            cfg.Database.URL,
		MaxConnections: cfg.Database.MaxConnections,
		QueryTimeout:   cfg.Database.QueryTimeout,
	})
	if err != nil {
		common.Logger.WithError(err).Fatal("failed to connect to database")
	}
	defer pg.Close()

	if cfg.Database.MigrateOnStart {
		if err := pg.Migrate(ctx); err != nil {
			common.Logger.WithError(err).Fatal("migration failed")
		}
	}

	// Rate-limit counters: redis when configured, otherwise an
	// in-process store that is correct for single-instance deployments.
	var counters repository.CounterRepository
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			common.Logger.WithError(err).Fatal("invalid redis url")
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			common.Logger.WithError(err).Fatal("failed to ping redis")
		}
		defer client.Close()
		counters = repository.NewRedisCounterRepository(client)
	} else {
		common.Logger.Warn("redis not configured, using in-process rate-limit counters")
		counters = repository.NewMemoryCounterRepository()
	}

	// Optional blob store for artifact offload.
	var blobs storage.BlobStore
	if cfg.Artifacts.Bucket != "" {
		s3store, err := storage.NewS3BlobStore(ctx, storage.S3Config{
			URL:       cfg.Artifacts.Endpoint,
			Region:    cfg.Artifacts.Region,
			AccessKey: cfg.Artifacts.AccessKey,
			SecretKey: cfg.Artifacts.SecretKey,
			Bucket:    cfg.Artifacts.Bucket,
		})
		if err != nil {
			common.Logger.WithError(err).Fatal("failed to initialize blob store")
		}
		blobs = s3store
	} else {
		common.Logger.Info("no artifact bucket configured, payloads stay in postgres")
	}

	// Telemetry: AMQP wins over HTTP when both are configured.
	var sender telemetry.Sender
	switch {
	case cfg.Telemetry.AMQPURL != "":
		amqpSender, err := telemetry.NewAMQPSender(cfg.Telemetry.AMQPURL, cfg.Telemetry.AMQPQueue)
		if err != nil {
			common.Logger.WithError(err).Fatal("failed to connect to telemetry broker")
		}
		defer amqpSender.Close()
		sender = amqpSender
	case cfg.Telemetry.Endpoint != "":
		sender = telemetry.NewHTTPSender(cfg.Telemetry.Endpoint)
	}
	sink := telemetry.NewSink(telemetry.Config{
		BufferSize:    cfg.Telemetry.BufferSize,
		FlushInterval: cfg.Telemetry.FlushInterval,
		SampleRate:    cfg.Telemetry.SampleRate,
		Sender:        sender,
	})
	defer sink.Close()

	// Repositories.
	events := repository.NewPostgresEventRepository(pg)
	overlayRepo := repository.NewPostgresOverlayRepository(pg)
	decisions := repository.NewPostgresDecisionRepository(pg)
	tasks := repository.NewPostgresTaskRepository(pg)
	rules := repository.NewPostgresRuleRepository(pg)
	edits := repository.NewPostgresEditRepository(pg)
	capsules := repository.NewPostgresCapsuleRepository(pg)
	artifacts := repository.NewPostgresArtifactRepository(pg)
	edges := repository.NewPostgresEdgeRepository(pg)

	// Engines.
	ingestEngine := ingest.NewEngine(events)
	if !cfg.Security.SecretScan {
		ingestEngine.DisableSecretScan()
	}
	overlayEngine := overlay.NewEngine(edits, overlayRepo)
	capsuleEngine := capsule.NewEngine(capsules)
	graphEngine := graph.NewEngine(edges)
	guardrail := &mode.Guardrail{Tracker: mode.NewErrorRateTracker()}
	orchestrator := acb.NewOrchestrator(rules, tasks, events, capsules, overlayRepo, decisions, guardrail, sink)
	limiter := ratelimit.NewLimiter(counters, cfg.Limits.EventsPerMinute, cfg.Limits.ACBPerMinute)

	if cfg.Security.JWTSecret == "" {
		common.Logger.Fatal("security.jwt_secret is required")
	}
	common.Logger.WithField("jwt_secret", common.MaskSecret(cfg.Security.JWTSecret)).Debug("token signing configured")
	jwtService := security.NewJWTService(cfg.Security.JWTSecret)

	handlers := &api.Handlers{
		Ingest:    ingestEngine,
		Overlay:   overlayEngine,
		Capsules:  capsuleEngine,
		Graph:     graphEngine,
		ACB:       orchestrator,
		Events:    events,
		Artifacts: artifacts,
		Blobs:     blobs,
		Decisions: decisions,
		Tasks:     tasks,
		Rules:     rules,
		JWT:       jwtService,
		Limiter:   limiter,
		TokenTTL:  cfg.Security.JWTExpiration,
	}

	serverCfg := mnemohttp.ServerConfig{
		Port:            cfg.Server.Port,
		Debug:           cfg.Server.Debug,
		BodyLimit:       cfg.Server.BodyLimit,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		AllowedOrigins:  cfg.Server.AllowedOrigins,
		RateLimit:       cfg.Server.RateLimit,
	}
	e := mnemohttp.NewEchoServer(serverCfg)
	e.Use(mnemohttp.SecurityHeadersMiddleware())
	api.SetupRoutes(e, handlers)

	runner := worker.NewRunner(capsuleEngine, artifacts, blobs, worker.DefaultConfig())
	runner.Start()

	go func() {
		if err := mnemohttp.StartServer(e, serverCfg); err != nil && err != http.ErrServerClosed {
			common.Logger.WithError(err).Fatal("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	runner.Stop()

	timeout := serverCfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if err := mnemohttp.GracefulShutdown(e, timeout); err != nil {
		common.Logger.WithError(err).Error("shutdown failed")
	}
}
