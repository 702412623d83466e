package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"maritime-query-engine/internal/actions"
	"maritime-query-engine/internal/api"
	"maritime-query-engine/internal/commit"
	"maritime-query-engine/internal/common/auth"
	"maritime-query-engine/internal/common/aws"
	"maritime-query-engine/internal/common/camunda"
	"maritime-query-engine/internal/common/config"
	"maritime-query-engine/internal/common/database"
	"maritime-query-engine/internal/common/logger"
	"maritime-query-engine/internal/common/observability"
	"maritime-query-engine/internal/engine"
	"maritime-query-engine/internal/models"
	"maritime-query-engine/internal/query/extract"
	"maritime-query-engine/internal/query/gazetteer"
	"maritime-query-engine/internal/query/intent"
	"maritime-query-engine/internal/query/lane"
	"maritime-query-engine/internal/search"
	"maritime-query-engine/internal/security"

	cm "maritime-query-engine/internal/workers/actions/commit-mutation"
	cq "maritime-query-engine/internal/workers/query/classify-query"
	se "maritime-query-engine/internal/workers/query/search-entities"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	cfg, envFile, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting query engine...",
		zap.String("environment", cfg.App.Environment),
		zap.String("version", cfg.App.Version),
		zap.String("envFile", envFile),
	)

	obs, err := observability.New(cfg.App.Name)
	if err != nil {
		zapLog.Fatal("observability init failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Init PostgreSQL with retry ---
	var pg *database.PostgresClient
	err = retryWithBackoff(func() error {
		var err error
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		return pg.Ping(ctx)
	}, 15, 2*time.Second, zapLog, "PostgreSQL connection")
	if err != nil {
		zapLog.Fatal("postgres failed after retries", zap.Error(err))
	}
	defer pg.Close()
	zapLog.Info("PostgreSQL connected successfully")

	// --- Init Elasticsearch with retry ---
	var esClient *database.ElasticsearchClient
	err = retryWithBackoff(func() error {
		var err error
		esClient, err = database.NewElasticsearch(cfg.Database.Elasticsearch)
		if err != nil {
			return err
		}
		return esClient.Ping(ctx)
	}, 15, 2*time.Second, zapLog, "Elasticsearch connection")
	if err != nil {
		zapLog.Fatal("elasticsearch failed after retries", zap.Error(err))
	}
	zapLog.Info("Elasticsearch connected successfully")

	// --- Init Redis with retry ---
	var rdb *database.RedisClient
	err = retryWithBackoff(func() error {
		var err error
		rdb, err = database.NewRedis(cfg.Database.Redis)
		if err != nil {
			return err
		}
		return rdb.Ping(ctx)
	}, 10, 2*time.Second, zapLog, "Redis connection")
	if err != nil {
		zapLog.Fatal("redis failed after retries", zap.Error(err))
	}
	defer rdb.Close()
	zapLog.Info("Redis connected successfully")

	// --- Rule tables ---
	registry, err := actions.LoadRegistry(cfg.Actions.CatalogPath)
	if err != nil {
		zapLog.Fatal("action catalog invalid", zap.Error(err))
	}
	gaz, err := gazetteer.LoadFile(cfg.Engine.GazetteerPath)
	if err != nil {
		zapLog.Fatal("gazetteer invalid", zap.Error(err))
	}
	classifier, err := intent.LoadFile(cfg.Engine.IntentRulesPath)
	if err != nil {
		zapLog.Fatal("intent rules invalid", zap.Error(err))
	}
	lanes, err := lane.NewRouter(lane.Config{
		MinWords:               cfg.Engine.MinWords,
		DeterministicThreshold: cfg.Engine.DeterministicThreshold,
		FallbackFloor:          cfg.Engine.FallbackFloor,
		HighWeight:             cfg.Engine.HighWeight,
	}, registry)
	if err != nil {
		zapLog.Fatal("lane config invalid", zap.Error(err))
	}
	sources, err := search.LoadSources(cfg.Search.SourcesPath)
	if err != nil {
		zapLog.Fatal("search sources invalid", zap.Error(err))
	}

	// --- Search ---
	cache := search.NewCache(rdb.Client, config.GetDuration(cfg.Search.CacheTTL))
	router := search.NewRouter(&search.Config{
		SufficientResults: cfg.Search.SufficientResults,
		PerSourceLimit:    cfg.Search.PerSourceLimit,
		Timeout:           config.GetDuration(cfg.Search.Timeout),
	}, sources, map[models.Backend]search.Backend{
		models.BackendPostgres:      search.NewPostgresBackend(pg.DB),
		models.BackendElasticsearch: search.NewElasticBackend(esClient.Client),
	}, cache, log)

	// --- Commit path ---
	var publisher commit.AuditPublisher
	if cfg.Integrations.AWS.SNS.Enabled {
		sns, err := aws.NewSNSClient(ctx, cfg.Integrations.AWS.Region, cfg.Integrations.AWS.SNS.ComplianceTopicARN)
		if err != nil {
			zapLog.Fatal("sns client failed", zap.Error(err))
		}
		publisher = sns
		zapLog.Info("Compliance audit publishing enabled")
	}
	coordinator := commit.NewCoordinator(&commit.Config{
		Timeout: config.GetDuration(cfg.Actions.CommitTimeout),
	}, pg.DB, registry, cache, publisher, log)

	window := config.GetDuration(cfg.Actions.ConfirmationWindow)
	svc, err := actions.NewService(&actions.Config{
		ConfirmationWindow: window,
		Retention:          window,
	}, registry, pg.DB, actions.NewRedisPendingStore(rdb.Client), coordinator, log)
	if err != nil {
		zapLog.Fatal("action service invalid", zap.Error(err))
	}

	// --- Engine ---
	eng, err := engine.New(
		security.NewScreener(cfg.Engine.MaxQueryLength),
		extract.New(gaz, cfg.Engine.MaxQueryLength),
		classifier, lanes, router, svc, engine.ClarifyingFallback{}, obs, log,
	)
	if err != nil {
		zapLog.Fatal("engine wiring failed", zap.Error(err))
	}

	keycloak := auth.NewKeycloakClient(
		cfg.Auth.Keycloak.URL,
		cfg.Auth.Keycloak.Realm,
		cfg.Auth.Keycloak.ClientID,
		cfg.Auth.Keycloak.ClientSecret,
	)
	verifier := security.NewIntrospectionVerifier(keycloak, rdb.Client,
		config.GetDuration(cfg.Auth.ClaimsCacheTTL), cfg.Auth.Keycloak.TenantClaim, log)

	ready := map[string]api.Pinger{
		"postgres":      pg,
		"elasticsearch": esClient,
		"redis":         rdb,
	}

	// --- Zeebe workers ---
	var workers []*camunda.CamundaWorker
	if cfg.Camunda.BrokerAddress != "" {
		var zeebe *camunda.Client
		err = retryWithBackoff(func() error {
			var err error
			zeebe, err = camunda.NewClientWithConfig(&camunda.ClientConfig{
				GatewayAddress:         cfg.Camunda.BrokerAddress,
				UsePlaintextConnection: true,
				ConnectionTimeout:      10 * time.Second,
				RequestTimeout:         config.GetDuration(cfg.Camunda.RequestTimeout),
			})
			return err
		}, 10, 2*time.Second, zapLog, "Zeebe client initialization")
		if err != nil {
			zapLog.Fatal("zeebe client failed after retries", zap.Error(err))
		}
		defer zeebe.Close()
		ready["zeebe"] = zeebe
		zapLog.Info("Zeebe client connected successfully")

		workers = registerWorkers(cfg, zeebe, eng, svc, log)
		zapLog.Info("Workers registered", zap.Int("count", len(workers)))
	}

	server := api.NewServer(api.Config{
		ServiceName:    cfg.App.Name,
		Address:        cfg.Server.Address,
		OpsAddress:     cfg.Server.OpsAddress,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		RateLimit:      cfg.Server.RateLimit,
		RateBurst:      cfg.Server.RateBurst,
		ReadTimeout:    config.GetDuration(cfg.Server.ReadTimeout),
		WriteTimeout:   config.GetDuration(cfg.Server.WriteTimeout),
	}, eng, svc, verifier, ready, log)

	zapLog.Info("Query engine ready",
		zap.String("address", cfg.Server.Address),
		zap.String("opsAddress", cfg.Server.OpsAddress),
		zap.Int("actions", len(registry.IDs())),
		zap.String("catalogVersion", registry.Version()),
	)

	if err := server.Run(ctx); err != nil {
		zapLog.Error("http server stopped with error", zap.Error(err))
	}

	zapLog.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, w := range workers {
		w.Stop(shutdownCtx)
	}
	if err := obs.Shutdown(shutdownCtx); err != nil {
		zapLog.Warn("observability shutdown failed", zap.Error(err))
	}
	zapLog.Info("Shutdown complete")
}

func registerWorkers(cfg *config.Config, zeebe *camunda.Client, eng *engine.Engine, svc *actions.Service, log logger.Logger) []*camunda.CamundaWorker {
	var workers []*camunda.CamundaWorker

	if config.IsWorkerEnabled(cfg, cq.WorkerName) {
		wc := cq.NewConfig(cfg)
		handler := cq.NewHandler(wc, eng, log)
		workers = append(workers, camunda.NewWorker(zeebe.GetClient(), cq.TaskType, wc.MaxJobsActive, handler, log))
	}

	if config.IsWorkerEnabled(cfg, se.WorkerName) {
		wc := se.NewConfig(cfg)
		handler := se.NewHandler(wc, eng, log)
		workers = append(workers, camunda.NewWorker(zeebe.GetClient(), se.TaskType, wc.MaxJobsActive, handler, log))
	}

	if config.IsWorkerEnabled(cfg, cm.WorkerName) {
		wc := cm.NewConfig(cfg)
		handler := cm.NewHandler(wc, svc, log)
		workers = append(workers, camunda.NewWorker(zeebe.GetClient(), cm.TaskType, wc.MaxJobsActive, handler, log))
	}

	return workers
}
