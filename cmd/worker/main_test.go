package main

import (
	"errors"
	"testing"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/draftmill/draftmill/internal/config"
	"github.com/draftmill/draftmill/internal/llm"
	"github.com/draftmill/draftmill/internal/sources"
	"github.com/draftmill/draftmill/internal/store"
	"github.com/draftmill/draftmill/internal/store/memory"
	"github.com/draftmill/draftmill/internal/workflows"
)

type stubWorker struct {
	worker.Worker
	runErr               error
	workflowsRegistered  int
	activitiesRegistered int
}

func (s *stubWorker) RegisterWorkflow(interface{}) { s.workflowsRegistered++ }

func (s *stubWorker) RegisterActivity(interface{}) { s.activitiesRegistered++ }

func (s *stubWorker) Run(<-chan interface{}) error { return s.runErr }

func captureWorkerDeps() func() {
	origLoadConfig := loadConfig
	origDialTemporal := dialTemporal
	origOpenStore := openStore
	origNewProvider := newProvider
	origNewActivities := newActivities
	origNewWorker := newWorker
	origWorkerInterrupt := workerInterrupt

	return func() {
		loadConfig = origLoadConfig
		dialTemporal = origDialTemporal
		openStore = origOpenStore
		newProvider = origNewProvider
		newActivities = origNewActivities
		newWorker = origNewWorker
		workerInterrupt = origWorkerInterrupt
	}
}

func stubCommonDeps(w *stubWorker) {
	loadConfig = func() (config.Config, error) {
		return config.Config{
			StoreBackend:      "memory",
			TemporalAddress:   "localhost:7233",
			TemporalTaskQueue: "draftmill-test",
			LLMProvider:       "openai",
			LLMModel:          "gpt-4o-mini",
		}, nil
	}
	dialTemporal = func(client.Options) (client.Client, error) {
		return nil, nil
	}
	newProvider = func(cfg llm.Config) (llm.Provider, error) {
		return llm.NewOpenAIProvider(llm.OpenAIConfig{APIKey: "test", Model: cfg.Model}), nil
	}
	newActivities = func(st store.Store, provider llm.Provider, backends []sources.Backend, logger *zap.Logger) *workflows.ReportActivities {
		return workflows.NewReportActivities(st, provider, backends, logger)
	}
	newWorker = func(client.Client, string, worker.Options) worker.Worker {
		return w
	}
	workerInterrupt = func() <-chan interface{} {
		ch := make(chan interface{})
		close(ch)
		return ch
	}
}

func TestRunSuccess(t *testing.T) {
	restore := captureWorkerDeps()
	t.Cleanup(restore)

	w := &stubWorker{}
	stubCommonDeps(w)

	if err := run(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if w.workflowsRegistered != 1 {
		t.Fatalf("expected 1 workflow registered, got %d", w.workflowsRegistered)
	}
	if w.activitiesRegistered != 1 {
		t.Fatalf("expected 1 activity struct registered, got %d", w.activitiesRegistered)
	}
}

func TestRunWorkerError(t *testing.T) {
	restore := captureWorkerDeps()
	t.Cleanup(restore)

	w := &stubWorker{runErr: errors.New("worker crashed")}
	stubCommonDeps(w)

	if err := run(); err == nil {
		t.Fatal("expected error")
	}
}

func TestRunTemporalDialError(t *testing.T) {
	restore := captureWorkerDeps()
	t.Cleanup(restore)

	w := &stubWorker{}
	stubCommonDeps(w)
	dialTemporal = func(client.Options) (client.Client, error) {
		return nil, errors.New("temporal unreachable")
	}

	if err := run(); err == nil {
		t.Fatal("expected error")
	}
}

func TestRunStoreError(t *testing.T) {
	restore := captureWorkerDeps()
	t.Cleanup(restore)

	w := &stubWorker{}
	stubCommonDeps(w)
	openStore = func(config.Config) (store.Store, error) {
		return nil, errors.New("store unavailable")
	}

	if err := run(); err == nil {
		t.Fatal("expected error")
	}
}

func TestRunProviderError(t *testing.T) {
	restore := captureWorkerDeps()
	t.Cleanup(restore)

	w := &stubWorker{}
	stubCommonDeps(w)
	newProvider = func(llm.Config) (llm.Provider, error) {
		return nil, llm.ErrUnsupportedProvider{Provider: "bogus"}
	}

	if err := run(); err == nil {
		t.Fatal("expected error")
	}
}

func TestOpenConfiguredStoreMemory(t *testing.T) {
	st, err := openConfiguredStore(config.Config{StoreBackend: "memory"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := st.(*memory.MemoryStore); !ok {
		t.Fatalf("expected memory store, got %T", st)
	}
}

func TestOpenConfiguredStoreUnknown(t *testing.T) {
	if _, err := openConfiguredStore(config.Config{StoreBackend: "tape"}); err == nil {
		t.Fatal("expected error")
	}
}
