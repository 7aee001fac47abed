package main

import (
	"fmt"
	"log"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/draftmill/draftmill/internal/config"
	"github.com/draftmill/draftmill/internal/llm"
	"github.com/draftmill/draftmill/internal/sources"
	"github.com/draftmill/draftmill/internal/store"
	"github.com/draftmill/draftmill/internal/store/memory"
	"github.com/draftmill/draftmill/internal/store/postgres"
	"github.com/draftmill/draftmill/internal/store/redis"
	"github.com/draftmill/draftmill/internal/workflows"
)

var (
	loadConfig = func() (config.Config, error) {
		return config.Load(), nil
	}
	dialTemporal    = client.Dial
	openStore       = openConfiguredStore
	newProvider     = llm.NewProvider
	newActivities   = workflows.NewReportActivities
	newWorker       = worker.New
	workerInterrupt = worker.InterruptCh
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, err := zap.NewProduction()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	temporalClient, err := dialTemporal(client.Options{
		HostPort: cfg.TemporalAddress,
	})
	if err != nil {
		return err
	}
	if temporalClient != nil {
		defer temporalClient.Close()
	}

	st, err := openStore(cfg)
	if err != nil {
		return err
	}

	provider, err := newProvider(llm.Config{
		Provider:         cfg.LLMProvider,
		Model:            cfg.LLMModel,
		BaseURL:          cfg.LLMBaseURL,
		OpenAIAPIKey:     cfg.OpenAIAPIKey,
		OpenRouterAPIKey: cfg.OpenRouterAPIKey,
	})
	if err != nil {
		return err
	}

	activities := newActivities(st, provider, sources.ForNames(cfg.SourceBackends), logger)

	w := newWorker(temporalClient, cfg.TemporalTaskQueue, worker.Options{})
	w.RegisterWorkflow(workflows.ReportWorkflow)
	w.RegisterActivity(activities)

	logger.Info("draftmill worker started", zap.String("task_queue", cfg.TemporalTaskQueue))
	return w.Run(workerInterrupt())
}

func openConfiguredStore(cfg config.Config) (store.Store, error) {
	switch cfg.StoreBackend {
	case "postgres":
		return postgres.New(cfg.PostgresURL)
	case "redis":
		return redis.New(cfg.RedisAddr, cfg.RedisPassword)
	case "memory":
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}
