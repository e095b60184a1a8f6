package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ocx/elevate/internal/activation"
	"github.com/ocx/elevate/internal/api"
	"github.com/ocx/elevate/internal/cache"
	"github.com/ocx/elevate/internal/catalog"
	"github.com/ocx/elevate/internal/clients"
	"github.com/ocx/elevate/internal/config"
	"github.com/ocx/elevate/internal/diag"
	"github.com/ocx/elevate/internal/fanout"
	"github.com/ocx/elevate/internal/iampolicy"
	"github.com/ocx/elevate/internal/notify"
	"github.com/ocx/elevate/internal/policy"
	"github.com/ocx/elevate/internal/telemetry"
	"github.com/ocx/elevate/internal/token"
)

func main() {
	// Local overrides first, then YAML + env.
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file", "error", err)
	}
	cfg := config.Get()
	ctx := context.Background()

	if cfg.Elevation.Scope == "" {
		log.Fatal("ELEVATE_SCOPE (elevation.scope) is required")
	}
	if cfg.GCP.SigningServiceAccount == "" || cfg.GCP.ActivationURL == "" {
		log.Fatal("signing service account and activation URL are required")
	}

	// =========================================================================
	// Collaborator clients
	// =========================================================================
	analyzer, err := clients.NewAssetAnalyzer(ctx)
	if err != nil {
		log.Fatalf("asset analyzer: %v", err)
	}
	crm, err := clients.NewCRMClient(ctx)
	if err != nil {
		log.Fatalf("resource manager: %v", err)
	}
	iamcreds, err := clients.NewIAMCredentials(ctx)
	if err != nil {
		log.Fatalf("iam credentials: %v", err)
	}

	exec := fanout.New(cfg.Workers.FanoutWorkers, cfg.Workers.FanoutQueue)
	defer exec.Close()

	// =========================================================================
	// Entitlement discovery
	// =========================================================================
	checks := []diag.Diagnosable{
		diag.Func("resourcemanager", func(ctx context.Context) error {
			return crm.SelfCheck(ctx)
		}),
		diag.Func("assetanalyzer", func(ctx context.Context) error {
			return analyzer.SelfCheck(ctx, cfg.Elevation.Scope)
		}),
		diag.Func("iamcredentials", func(ctx context.Context) error {
			return iamcreds.SelfCheck(ctx, cfg.GCP.SigningServiceAccount)
		}),
	}

	var repo catalog.Repository
	switch cfg.Elevation.Repository {
	case "asset-inventory":
		directory, err := clients.NewDirectory(ctx, cfg.GCP.CustomerID)
		if err != nil {
			log.Fatalf("directory: %v", err)
		}
		checks = append(checks, diag.Func("directory", directory.SelfCheck))
		repo = catalog.NewInventoryRepository(analyzer, directory, exec, cfg.Elevation.Scope)
		if cfg.Elevation.AvailableProjectsQuery == "" {
			log.Fatal("the asset-inventory repository requires available_projects_query")
		}
	case "policy-analyzer":
		repo = catalog.NewAnalyzerRepository(analyzer, cfg.Elevation.Scope)
	default:
		log.Fatalf("unknown repository variant %q", cfg.Elevation.Repository)
	}

	cat := catalog.New(repo, crm, exec, catalog.Options{
		Scope:                      cfg.Elevation.Scope,
		ActivationDuration:         cfg.ActivationTimeout(),
		MinReviewers:               cfg.Elevation.MinReviewers,
		MaxReviewers:               cfg.Elevation.MaxReviewers,
		MaxJitRolesPerSelfApproval: cfg.Elevation.MaxJitRolesPerSelfApproval,
		AvailableProjectsQuery:     cfg.Elevation.AvailableProjectsQuery,
		RequiredProjectTagPath:     cfg.Elevation.RequiredProjectTagPath,
	})

	justifications, err := policy.NewJustification(cfg.Elevation.JustificationPattern, cfg.Elevation.JustificationHint)
	if err != nil {
		log.Fatalf("justification policy: %v", err)
	}

	// =========================================================================
	// Activation pipeline
	// =========================================================================
	metrics := telemetry.NewMetrics()

	mutator := iampolicy.NewMutator(crm)
	mutator.OnRetry = metrics.PolicyConflictRetries.Inc

	signer, err := token.NewSigner(ctx, iamcreds, cfg.GCP.SigningServiceAccount, cfg.GCP.ActivationURL)
	if err != nil {
		log.Fatalf("token signer: %v", err)
	}

	// Notification sinks (each optional; MPA needs at least one).
	var sinks []notify.Sink
	if cfg.PubSub.Enabled {
		sink, err := notify.NewPubSubSink(ctx, cfg.PubSub.ProjectID, cfg.PubSub.TopicID)
		if err != nil {
			slog.Warn("Pub/Sub sink unavailable", "error", err)
		} else {
			defer sink.Close()
			sinks = append(sinks, sink)
		}
	}
	if cfg.CloudTasks.Enabled {
		sink, err := notify.NewCloudTasksSink(ctx, cfg.CloudTasks.ProjectID,
			cfg.CloudTasks.LocationID, cfg.CloudTasks.QueueID, cfg.CloudTasks.TargetURL)
		if err != nil {
			slog.Warn("Cloud Tasks sink unavailable", "error", err)
		} else {
			defer sink.Close()
			sinks = append(sinks, sink)
		}
	}
	if cfg.Smtp.Enabled {
		var secrets clients.SecretStore
		if cfg.GCP.SmtpSecretPath != "" {
			sm, err := clients.NewSecretManager(ctx)
			if err != nil {
				log.Fatalf("secret manager: %v", err)
			}
			secrets = sm
		}
		sinks = append(sinks, notify.NewMailSink(cfg.Smtp.Host, cfg.Smtp.Port,
			cfg.Smtp.Sender, cfg.Smtp.Username, secrets, cfg.GCP.SmtpSecretPath))
	}
	notifier := notify.NewService(sinks...)
	slog.Info("notification sinks configured", "count", len(sinks), "can_send", notifier.CanSend())

	approvalURL := func(t string) string {
		return cfg.GCP.ActivationURL + "?activation=" + token.Obfuscate(t)
	}
	activator := activation.NewActivator(cat, justifications, mutator, signer, notifier, approvalURL)

	// =========================================================================
	// Entitlement cache (redis with in-memory fallback)
	// =========================================================================
	var store cache.Store
	if cfg.Redis.Enabled {
		redisStore, err := cache.NewRedisStore(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			slog.Warn("Redis unavailable, falling back to in-memory cache", "error", err)
		} else {
			defer redisStore.Close()
			store = redisStore
		}
	}
	if store == nil {
		memStore := cache.NewMemoryStore()
		defer memStore.Close()
		store = memStore
	}
	// Cache entries must not outlive an activation window.
	cacheTTL := 30 * time.Second
	if cacheTTL > cfg.ActivationTimeout() {
		cacheTTL = cfg.ActivationTimeout()
	}
	entCache := cache.New(store, cacheTTL)

	// =========================================================================
	// HTTP server
	// =========================================================================
	readiness := diag.NewAggregator(exec, checks...)
	server := api.NewServer(cat, activator, signer, entCache, readiness, metrics, cfg)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      server.Router(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSec) * time.Second,
	}

	go func() {
		slog.Info("elevation service listening", "port", cfg.Server.Port,
			"scope", cfg.Elevation.Scope, "repository", cfg.Elevation.Repository)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown incomplete", "error", err)
	}
}
