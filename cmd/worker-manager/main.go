// cmd/worker-manager/main.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/camunda/zeebe/clients/go/v8/pkg/zbc"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"cardtrade-workers/internal/common/aws"
	"cardtrade-workers/internal/common/config"
	"cardtrade-workers/internal/common/database"
	"cardtrade-workers/internal/common/logger"
	"cardtrade-workers/internal/common/observability"
	"cardtrade-workers/internal/engine"
	"cardtrade-workers/internal/index"
	"cardtrade-workers/internal/matching"
	"cardtrade-workers/internal/notify"
	"cardtrade-workers/internal/pricing"
	"cardtrade-workers/internal/recompute"
	"cardtrade-workers/internal/scope"
	"cardtrade-workers/internal/storage"
	"cardtrade-workers/internal/trust"
	"cardtrade-workers/pkg/registry"

	fm "cardtrade-workers/internal/workers/matching/find-matches"
	im "cardtrade-workers/internal/workers/matching/invalidate-matches"
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
			delay *= 2 // Exponential backoff
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	zapLog := logger.New("info", "console")
	defer zapLog.Sync()

	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting worker manager...")

	cfg, err := config.Load()
	if err != nil {
		zapLog.Fatal("config load failed", zap.Error(err))
	}

	obs := observability.New("worker-manager")
	defer obs.Shutdown()

	checkRegistry(cfg, zapLog)

	ctx := context.Background()

	// --- Init Zeebe Client with retry ---
	var zeebeClient zbc.Client
	err = retryWithBackoff(func() error {
		var err error
		zeebeClient, err = zbc.NewClient(&zbc.ClientConfig{
			GatewayAddress:         cfg.Camunda.BrokerAddress,
			UsePlaintextConnection: true,
		})
		return err
	}, 10, 2*time.Second, zapLog, "Zeebe client initialization")

	if err != nil {
		zapLog.Fatal("zeebe client failed after retries", zap.Error(err))
	}
	zapLog.Info("Zeebe client connected successfully")

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
		return esClient.Ping()
	}, 15, 2*time.Second, zapLog, "Elasticsearch connection")

	if err != nil {
		zapLog.Fatal("elasticsearch failed after retries", zap.Error(err))
	}
	zapLog.Info("Elasticsearch connected successfully")

	// --- Init Redis with retry ---
	var rds *database.RedisClient
	err = retryWithBackoff(func() error {
		var err error
		rds, err = database.NewRedis(cfg.Database.Redis)
		if err != nil {
			return err
		}
		return rds.Ping(ctx)
	}, 10, 2*time.Second, zapLog, "Redis connection")

	if err != nil {
		zapLog.Fatal("redis failed after retries", zap.Error(err))
	}
	defer rds.Close()
	zapLog.Info("Redis connected successfully")

	// --- Init AWS Clients ---
	sesClient, err := aws.NewSESClient(ctx, cfg.Notifications.AWS.Region)
	if err != nil {
		zapLog.Fatal("ses client failed", zap.Error(err))
	}
	snsClient, err := aws.NewSNSClient(ctx, cfg.Notifications.AWS.Region)
	if err != nil {
		zapLog.Fatal("sns client failed", zap.Error(err))
	}
	zapLog.Info("All external service clients initialized")

	// --- Assemble the matching pipeline ---
	listStore := storage.NewListStore(pg.DB)
	matchSets := storage.NewMatchSetStore(pg.DB)
	userStore := storage.NewUserStore(pg.DB)
	revIndex := index.New(rds.Client)
	scopeFilter := scope.NewFilter(esClient.Client, cfg.Database.Elasticsearch.UserIndex, log)

	priceSource := pricing.New(pg.DB, rds.Client, time.Duration(cfg.Matching.PriceCacheTTL)*time.Second)
	trustSource := trust.New(pg.DB, rds.Client, time.Duration(cfg.Matching.TrustCacheTTL)*time.Second)
	evaluator := matching.NewEvaluator(priceSource, trustSource, log,
		matching.WithDefaultRadius(cfg.Matching.DefaultRadiusKM),
	)

	matchEngine := engine.New(listStore, revIndex, scopeFilter, userStore, matchSets, evaluator, cfg.Matching, log)
	notifier := notify.New(cfg.Notifications, userStore, sesClient, snsClient, log)

	// --- Recompute queue + dispatcher ---
	queue := recompute.NewQueue(rds.Client, log, cfg.Recompute.Stream)
	consumerID := "worker-manager-" + uuid.NewString()[:8]
	consumer, err := recompute.NewConsumer(queue, log, cfg.Recompute.Group, consumerID,
		recompute.WithBlockTime(time.Duration(cfg.Recompute.BlockTimeMS)*time.Millisecond),
		recompute.WithDeadLetterStream(cfg.Recompute.DeadLetterStream),
		recompute.WithMaxRetry(cfg.Recompute.MaxRetry),
	)
	if err != nil {
		zapLog.Fatal("recompute consumer failed", zap.Error(err))
	}

	invalidator := recompute.NewInvalidator(listStore, revIndex, matchSets, queue, log)
	invalidator.SkipDormant(userStore, cfg.Matching.RecencyThreshold())

	dispatcherCtx, stopDispatcher := context.WithCancel(ctx)
	dispatcher := recompute.NewDispatcher(consumer, matchEngine, log, cfg.Recompute.PoolSize, cfg.Matching.CandidateCap)
	dispatcher.NotifyWith(matchSets, notifier)
	dispatcher.Start(dispatcherCtx)
	zapLog.Info("Recompute dispatcher started", zap.Int("poolSize", cfg.Recompute.PoolSize))

	// --- Register Workers ---
	if cfg.Workers[fm.TaskType].Enabled {
		handler := fm.NewHandler(
			&fm.Config{
				Timeout: time.Duration(cfg.Workers[fm.TaskType].Timeout) * time.Millisecond,
			},
			matchEngine, matchSets, notifier, log,
		)
		startWorker(zeebeClient, fm.TaskType, cfg.Workers[fm.TaskType], handler.Handle, zapLog)
	}

	if cfg.Workers[im.TaskType].Enabled {
		handler := im.NewHandler(
			&im.Config{
				Timeout: time.Duration(cfg.Workers[im.TaskType].Timeout) * time.Millisecond,
			},
			invalidator, log,
		)
		startWorker(zeebeClient, im.TaskType, cfg.Workers[im.TaskType], handler.Handle, zapLog)
	}
	zapLog.Info("All workers registered successfully")

	// --- Health & Metrics Server ---
	go func() {
		http.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			json.NewEncoder(w).Encode(map[string]string{
				"status": "healthy",
				"time":   time.Now().Format(time.RFC3339),
			})
		})
		http.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			json.NewEncoder(w).Encode(map[string]string{
				"status": "ready",
				"time":   time.Now().Format(time.RFC3339),
			})
		})
		http.Handle("/metrics", promhttp.Handler())
		zapLog.Info("Health/Metrics server listening on " + cfg.Metrics.Address)
		if err := http.ListenAndServe(cfg.Metrics.Address, nil); err != nil {
			zapLog.Error("Health/Metrics server failed", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zapLog.Info("Shutdown signal received, stopping workers...")

	stopDispatcher()
	dispatcher.Wait()
	zapLog.Info("Recompute dispatcher drained")

	if err := zeebeClient.Close(); err != nil {
		zapLog.Error("Error closing Zeebe client", zap.Error(err))
	}

	zapLog.Info("Worker manager stopped gracefully")
}

// checkRegistry warns about enabled workers that have no entry in the
// activity registry, so a task-type typo surfaces at startup instead of
// as silently idle workers.
func checkRegistry(cfg *config.Config, log *zap.Logger) {
	reg, err := registry.LoadRegistry(cfg.Registry.Path)
	if err != nil {
		log.Warn("activity registry not loaded", zap.String("path", cfg.Registry.Path), zap.Error(err))
		return
	}

	known := make(map[string]bool, len(reg.Activities))
	for _, act := range reg.Activities {
		known[act.TaskType] = true
	}
	for taskType, wcfg := range cfg.Workers {
		if wcfg.Enabled && !known[taskType] {
			log.Warn("enabled worker missing from activity registry", zap.String("taskType", taskType))
		}
	}
	log.Info("activity registry loaded",
		zap.String("version", reg.Version),
		zap.Int("activities", len(reg.Activities)),
	)
}

func startWorker(client zbc.Client, taskType string, wcfg config.WorkerConfig, handlerFunc func(worker.JobClient, entities.Job), log *zap.Logger) {
	if !wcfg.Enabled {
		log.Info("worker disabled", zap.String("taskType", taskType))
		return
	}

	client.NewJobWorker().
		JobType(taskType).
		Handler(handlerFunc).
		MaxJobsActive(wcfg.MaxJobsActive).
		Timeout(time.Duration(wcfg.Timeout) * time.Millisecond).
		Open()

	log.Info("worker started",
		zap.String("taskType", taskType),
		zap.Int("maxJobsActive", wcfg.MaxJobsActive),
		zap.Int("timeout_ms", wcfg.Timeout),
	)
}
