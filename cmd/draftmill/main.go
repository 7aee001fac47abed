package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/draftmill/draftmill/internal/api"
	"github.com/draftmill/draftmill/internal/config"
	"github.com/draftmill/draftmill/internal/events"
	"github.com/draftmill/draftmill/internal/store"
	"github.com/draftmill/draftmill/internal/store/memory"
	"github.com/draftmill/draftmill/internal/store/postgres"
	"github.com/draftmill/draftmill/internal/store/redis"
	"github.com/draftmill/draftmill/internal/workflows"
)

type server interface {
	Start(ctx context.Context, addr string) error
}

var (
	loadConfig = func() (config.Config, error) {
		return config.Load(), nil
	}
	newBroker          = events.NewBroker
	openStore          = openConfiguredStore
	dialTemporal       = client.Dial
	newWorkflowService = workflows.NewService
	newServer          = func(st store.Store, broker *events.Broker, workflowService *workflows.Service, logger *zap.Logger) server {
		return api.NewServer(st, broker, workflowService, logger)
	}
	notifyContext = signal.NotifyContext
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
	ctx, cancel := notifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger, err := zap.NewProduction()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	st, err := openStore(cfg)
	if err != nil {
		return err
	}

	workflowClient, err := dialTemporal(client.Options{HostPort: cfg.TemporalAddress})
	if err != nil {
		return err
	}
	if workflowClient != nil {
		defer workflowClient.Close()
	}
	workflowService := newWorkflowService(workflowClient, cfg.TemporalTaskQueue, cfg.SectionConcurrency)

	apiServer := newServer(st, newBroker(), workflowService, logger)

	addr := fmt.Sprintf(":%s", cfg.Port)
	logger.Info("draftmill API listening", zap.String("addr", addr))
	return apiServer.Start(ctx, addr)
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
