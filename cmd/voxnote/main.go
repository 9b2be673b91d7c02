// cmd/voxnote/main.go
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"voxnote/internal/audio"
	awsclient "voxnote/internal/common/aws"
	"voxnote/internal/common/config"
	"voxnote/internal/common/database"
	"voxnote/internal/common/logger"
	"voxnote/internal/common/observability"
	"voxnote/internal/messaging"
	"voxnote/internal/messaging/webclient"
	"voxnote/internal/notify"
	"voxnote/internal/pipeline"
	"voxnote/internal/plans"
	"voxnote/internal/quota"
	"voxnote/internal/search"
	"voxnote/internal/session"
	"voxnote/internal/store"
	"voxnote/internal/summary"
	"voxnote/internal/transcribe"

	rediscache "voxnote/internal/cache"
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

	zapLog.Info("Starting voxnote...")

	cfg, err := config.Load()
	if err != nil {
		zapLog.Fatal("config load failed", zap.Error(err))
	}

	// Rebuild with the configured level and format now that config is up.
	zapLog = logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	obs := observability.New("voxnote")
	defer obs.Shutdown()

	ctx := context.Background()

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

	// --- Init Redis with retry ---
	var redis *database.RedisClient
	err = retryWithBackoff(func() error {
		var err error
		redis, err = database.NewRedis(cfg.Database.Redis)
		if err != nil {
			return err
		}
		return redis.Ping(ctx)
	}, 10, 2*time.Second, zapLog, "Redis connection")

	if err != nil {
		zapLog.Fatal("redis failed after retries", zap.Error(err))
	}
	defer redis.Close()
	zapLog.Info("Redis connected successfully")

	// --- Init Elasticsearch with retry (optional) ---
	var esClient *database.ElasticsearchClient
	if cfg.Database.Elasticsearch.Enabled {
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
	}

	// --- Plan catalog ---
	catalog := plans.Defaults()
	if cfg.Pricing.PlanCatalogURI != "" {
		catalog, err = plans.Load(cfg.Pricing.PlanCatalogURI)
		if err != nil {
			zapLog.Fatal("plan catalog load failed", zap.Error(err))
		}
	}

	// --- Domain wiring ---
	cacheLayer := rediscache.New(redis.Client, log, cfg.Cache.LocalMaxEntries, cfg.Cache.CompressionMinLen)
	subs := store.NewSubscriptionStore(pg.DB, catalog, cacheLayer, log)
	transcripts := store.NewTranscriptStore(pg.DB, log)
	ledger := quota.NewLedger(pg.DB, log)

	oaCfg := openai.DefaultConfig(cfg.OpenAI.APIKey)
	oaCfg.HTTPClient = &http.Client{Timeout: time.Duration(cfg.OpenAI.RequestTimeout) * time.Second}
	transcriber := transcribe.NewOpenAIWithConfig(oaCfg, cfg.OpenAI.WhisperModel)
	summarizer := summary.NewOpenAIWithConfig(oaCfg, cfg.OpenAI.ChatModel)

	proc := audio.NewProcessor()

	messaging.Register("webclient", webclient.NewFactory(cfg.Messaging.BridgeURL, log))
	factory, err := messaging.Driver(cfg.Messaging.Driver)
	if err != nil {
		zapLog.Fatal("messaging driver init failed", zap.Error(err))
	}

	manager := session.NewManager(factory, session.Options{
		CredentialDir:     cfg.Messaging.CredentialDir,
		QRSize:            cfg.Messaging.QRSize,
		QueueSize:         cfg.Messaging.QueueSize,
		PairingRetries:    cfg.Messaging.PairingRetries,
		PairingRetryDelay: time.Duration(cfg.Messaging.PairingRetryMillis) * time.Millisecond,
	}, log)

	var indexer pipeline.Indexer
	if esClient != nil {
		indexer = search.NewIndexer(esClient, cfg.Database.Elasticsearch.Index, log)
	}

	pipe := pipeline.New(
		subs, transcripts, ledger,
		transcriber, summarizer, proc, indexer, obs, log,
		pipeline.Pricing{
			PerMinuteRate: cfg.Pricing.PerMinuteRate,
			SummaryCost:   cfg.Pricing.SummaryCost,
		},
		pipeline.Timeouts{
			Download: time.Duration(cfg.Pipeline.DownloadTimeout) * time.Second,
			Probe:    time.Duration(cfg.Pipeline.ProbeTimeout) * time.Second,
			Convert:  time.Duration(cfg.Pipeline.ConvertTimeout) * time.Second,
		},
		cfg.Pipeline.TempDir,
	)

	pipelineDone := make(chan struct{})
	go func() {
		pipe.Run(ctx, manager.Queue(), cfg.Messaging.Workers)
		close(pipelineDone)
	}()
	zapLog.Info("Pipeline workers started", zap.Int("workers", cfg.Messaging.Workers))

	// --- Quota threshold notifier ---
	notifyCtx, stopNotifier := context.WithCancel(ctx)
	defer stopNotifier()
	if cfg.Notifications.Enabled {
		var senders []notify.Sender

		if cfg.Notifications.SESEnabled {
			sesClient, err := awsclient.NewSESClient(ctx, cfg.Notifications.AWSRegion)
			if err != nil {
				zapLog.Fatal("ses client init failed", zap.Error(err))
			}
			senders = append(senders, notify.NewEmailSender(
				sesClient,
				cfg.Notifications.SESFromEmail,
				emailResolver(pg.DB),
			))
		}

		if cfg.Notifications.SNSEnabled && cfg.Notifications.SNSTopicARN != "" {
			snsClient, err := awsclient.NewSNSClient(ctx, cfg.Notifications.AWSRegion)
			if err != nil {
				zapLog.Fatal("sns client init failed", zap.Error(err))
			}
			senders = append(senders, notify.NewTopicSender(snsClient, cfg.Notifications.SNSTopicARN))
		}

		if len(senders) > 0 {
			watcher := notify.NewWatcher(
				ledger, catalog, senders, log,
				time.Duration(cfg.Notifications.ScanInterval)*time.Second,
			)
			go watcher.Run(notifyCtx)
			zapLog.Info("Quota threshold notifier started",
				zap.Int("senders", len(senders)),
				zap.Int("scanIntervalSec", cfg.Notifications.ScanInterval),
			)
		}
	}

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
		zapLog.Info("Health/Metrics server listening", zap.String("addr", cfg.App.MetricsAddr))
		if err := http.ListenAndServe(cfg.App.MetricsAddr, nil); err != nil {
			zapLog.Error("Health/Metrics server failed", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zapLog.Info("Shutdown signal received, draining...")
	stopNotifier()

	// Closing the sessions closes the work queue; workers drain what is
	// already buffered before Run returns.
	manager.Shutdown()

	select {
	case <-pipelineDone:
		zapLog.Info("Pipeline drained")
	case <-time.After(30 * time.Second):
		zapLog.Warn("Pipeline drain timed out")
	}

	zapLog.Info("voxnote stopped gracefully")
}

// emailResolver looks a user's notification address up in the users table.
func emailResolver(db *sql.DB) notify.Recipient {
	return func(ctx context.Context, userID string) (string, error) {
		var email string
		err := db.QueryRowContext(ctx, "SELECT email FROM users WHERE id = $1", userID).Scan(&email)
		if err != nil {
			return "", fmt.Errorf("lookup email for user %s: %w", userID, err)
		}
		return email, nil
	}
}
