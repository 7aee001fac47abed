package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/draftmill/draftmill/internal/store"
)

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// MemoryStore keeps all run state in process. Used by tests and by
// single-node deployments that do not need persistence across restarts.
type MemoryStore struct {
	mu          sync.RWMutex
	runs        map[string]store.Run
	reports     map[string]store.ReportArtifact
	checkpoints map[string]map[string]store.Checkpoint
	events      map[string][]store.RunEvent
	seq         map[string]int64
}

func New() *MemoryStore {
	return &MemoryStore{
		runs:        map[string]store.Run{},
		reports:     map[string]store.ReportArtifact{},
		checkpoints: map[string]map[string]store.Checkpoint{},
		events:      map[string][]store.RunEvent{},
		seq:         map[string]int64{},
	}
}

func (m *MemoryStore) CreateRun(ctx context.Context, run store.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.runs[run.SessionID]; exists {
		return fmt.Errorf("run already exists: %s", run.SessionID)
	}
	m.runs[run.SessionID] = run
	return nil
}

func (m *MemoryStore) GetRun(ctx context.Context, sessionID string) (*store.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.runs[sessionID]
	if !ok {
		return nil, nil
	}
	copied := run
	return &copied, nil
}

func (m *MemoryStore) ListRuns(ctx context.Context) ([]store.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	runs := make([]store.Run, 0, len(m.runs))
	for _, run := range m.runs {
		runs = append(runs, run)
	}
	sort.Slice(runs, func(i, j int) bool {
		if runs[i].CreatedAt == runs[j].CreatedAt {
			return runs[i].SessionID < runs[j].SessionID
		}
		return runs[i].CreatedAt > runs[j].CreatedAt
	})
	return runs, nil
}

func (m *MemoryStore) UpdateRunStatus(ctx context.Context, sessionID string, status string, phase string, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[sessionID]
	if !ok {
		return fmt.Errorf("run not found: %s", sessionID)
	}
	if status != "" {
		run.Status = status
	}
	if phase != "" {
		run.Phase = phase
	}
	if reason != "" {
		run.CompletionReason = reason
	}
	run.UpdatedAt = nowRFC3339()
	m.runs[sessionID] = run
	return nil
}

func (m *MemoryStore) PutReport(ctx context.Context, sessionID string, artifact store.ReportArtifact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports[sessionID] = artifact
	return nil
}

func (m *MemoryStore) GetReport(ctx context.Context, sessionID string) (*store.ReportArtifact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	artifact, ok := m.reports[sessionID]
	if !ok {
		return nil, nil
	}
	copied := artifact
	return &copied, nil
}

func (m *MemoryStore) PutCheckpoint(ctx context.Context, checkpoint store.Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.checkpoints[checkpoint.SessionID] == nil {
		m.checkpoints[checkpoint.SessionID] = map[string]store.Checkpoint{}
	}
	// First write wins: a recorded step is authoritative.
	if _, exists := m.checkpoints[checkpoint.SessionID][checkpoint.StepID]; exists {
		return nil
	}
	m.checkpoints[checkpoint.SessionID][checkpoint.StepID] = checkpoint
	return nil
}

func (m *MemoryStore) GetCheckpoint(ctx context.Context, sessionID string, stepID string) (*store.Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	checkpoint, ok := m.checkpoints[sessionID][stepID]
	if !ok {
		return nil, nil
	}
	copied := checkpoint
	return &copied, nil
}

func (m *MemoryStore) ListCheckpoints(ctx context.Context, sessionID string) ([]store.Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	checkpoints := make([]store.Checkpoint, 0, len(m.checkpoints[sessionID]))
	for _, checkpoint := range m.checkpoints[sessionID] {
		checkpoints = append(checkpoints, checkpoint)
	}
	sort.Slice(checkpoints, func(i, j int) bool {
		return checkpoints[i].StepID < checkpoints[j].StepID
	})
	return checkpoints, nil
}

func (m *MemoryStore) AppendEvent(ctx context.Context, event store.RunEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[event.SessionID] = append(m.events[event.SessionID], event)
	return nil
}

func (m *MemoryStore) ListEvents(ctx context.Context, sessionID string, afterSeq int64) ([]store.RunEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var events []store.RunEvent
	for _, event := range m.events[sessionID] {
		if event.Seq > afterSeq {
			events = append(events, event)
		}
	}
	return events, nil
}

func (m *MemoryStore) NextSeq(ctx context.Context, sessionID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq[sessionID]++
	return m.seq[sessionID], nil
}
