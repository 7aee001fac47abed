package store

import (
	"context"
	"encoding/json"
)

// Run tracks one workflow run's externally visible status. The artifact is
// the completion signal; the run record lets pollers distinguish a run in
// flight from an unknown session id.
type Run struct {
	SessionID        string
	Query            string
	Status           string
	Phase            string
	CompletionReason string
	CreatedAt        string
	UpdatedAt        string
}

type Source struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// SectionResult is the output of processing one outline section.
type SectionResult struct {
	Title   string   `json:"title"`
	Content string   `json:"content"`
	Sources []Source `json:"sources"`
}

// ReportArtifact is the terminal output of a run, written once under the
// session key. Status is "complete" or "failed"; failed artifacts carry an
// explanatory answer and no sources.
type ReportArtifact struct {
	Query   string   `json:"query"`
	Answer  string   `json:"answer"`
	Sources []Source `json:"sources"`
	Status  string   `json:"status"`
}

const (
	ArtifactComplete = "complete"
	ArtifactFailed   = "failed"
)

// Run statuses.
const (
	RunPending   = "pending"
	RunRunning   = "running"
	RunCompleted = "completed"
	RunFailed    = "failed"
)

// Checkpoint records that a named step of a run completed, with its result.
// Once recorded it is authoritative: the step is never recomputed.
type Checkpoint struct {
	SessionID  string
	StepID     string
	Result     json.RawMessage
	RecordedAt string
}

type RunEvent struct {
	SessionID string
	Seq       int64
	Type      string
	Timestamp string
	Source    string
	TraceID   string
	Payload   map[string]any
}

// Store is the durable storage contract: at-least-once-write,
// read-your-writes persistence keyed by session id. GetReport and
// GetCheckpoint return (nil, nil) when the key is absent.
type Store interface {
	CreateRun(ctx context.Context, run Run) error
	GetRun(ctx context.Context, sessionID string) (*Run, error)
	ListRuns(ctx context.Context) ([]Run, error)
	UpdateRunStatus(ctx context.Context, sessionID string, status string, phase string, reason string) error

	PutReport(ctx context.Context, sessionID string, artifact ReportArtifact) error
	GetReport(ctx context.Context, sessionID string) (*ReportArtifact, error)

	PutCheckpoint(ctx context.Context, checkpoint Checkpoint) error
	GetCheckpoint(ctx context.Context, sessionID string, stepID string) (*Checkpoint, error)
	ListCheckpoints(ctx context.Context, sessionID string) ([]Checkpoint, error)

	AppendEvent(ctx context.Context, event RunEvent) error
	ListEvents(ctx context.Context, sessionID string, afterSeq int64) ([]RunEvent, error)
	NextSeq(ctx context.Context, sessionID string) (int64, error)
}
