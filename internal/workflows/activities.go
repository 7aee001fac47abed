package workflows

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/draftmill/draftmill/internal/extract"
	"github.com/draftmill/draftmill/internal/llm"
	"github.com/draftmill/draftmill/internal/metrics"
	"github.com/draftmill/draftmill/internal/outline"
	"github.com/draftmill/draftmill/internal/research"
	"github.com/draftmill/draftmill/internal/sources"
	"github.com/draftmill/draftmill/internal/store"
)

type PlanInput struct {
	SessionID string
	Query     string
}

type PlanOutput struct {
	Sections []outline.Section `json:"sections"`
}

type ResearchInput struct {
	SessionID string
	Index     int
	Section   outline.Section
}

type ResearchOutput struct {
	Result store.SectionResult `json:"result"`
}

type CompileInput struct {
	SessionID string
	Query     string
	Results   []store.SectionResult
}

type RunFailureInput struct {
	SessionID string
	Error     string
}

// ReportActivities holds the side-effecting steps of a report run. Every
// activity consults the store's checkpoint log before computing, so a
// re-delivered or replayed activity returns its recorded result instead of
// doing the work again.
type ReportActivities struct {
	store     store.Store
	provider  llm.Provider
	processor *research.Processor
	logger    *zap.Logger
}

func NewReportActivities(st store.Store, provider llm.Provider, backends []sources.Backend, logger *zap.Logger) *ReportActivities {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReportActivities{
		store:     st,
		provider:  provider,
		processor: research.NewProcessor(provider, backends, logger),
		logger:    logger,
	}
}

const planPromptTemplate = `Plan a research report for the query below. Respond with JSON only, in the form {"sections": [{"title": "...", "focus": "..."}]}. Produce between 3 and 6 sections.

Query: %s`

func (a *ReportActivities) PlanOutline(ctx context.Context, input PlanInput) (PlanOutput, error) {
	if strings.TrimSpace(input.SessionID) == "" {
		return PlanOutput{}, errors.New("session_id required")
	}

	var recorded PlanOutput
	done, err := a.recordedResult(ctx, input.SessionID, PlanStep(), &recorded)
	if err != nil {
		return PlanOutput{}, err
	}
	if done {
		return recorded, nil
	}

	_ = a.store.UpdateRunStatus(ctx, input.SessionID, store.RunRunning, "planning", "")
	_ = a.appendEvent(ctx, input.SessionID, "run.phase.changed", map[string]any{"phase": "planning"})

	text, err := a.provider.Generate(ctx, []llm.Message{
		{Role: "system", Content: "You are a research planner. Respond with JSON only."},
		{Role: "user", Content: fmt.Sprintf(planPromptTemplate, input.Query)},
	})
	if err != nil {
		return PlanOutput{}, fmt.Errorf("plan generation: %w", err)
	}

	payload, err := extract.JSON(text)
	if err != nil {
		return PlanOutput{}, err
	}
	output := PlanOutput{Sections: outline.SectionsFromPayload(payload)}

	_ = a.appendEvent(ctx, input.SessionID, "plan.completed", map[string]any{
		"section_count": len(output.Sections),
	})
	if err := a.recordResult(ctx, input.SessionID, PlanStep(), output); err != nil {
		return PlanOutput{}, err
	}
	return output, nil
}

func (a *ReportActivities) ResearchSection(ctx context.Context, input ResearchInput) (ResearchOutput, error) {
	if strings.TrimSpace(input.SessionID) == "" {
		return ResearchOutput{}, errors.New("session_id required")
	}

	step := ResearchStep(input.Index)
	var recorded ResearchOutput
	done, err := a.recordedResult(ctx, input.SessionID, step, &recorded)
	if err != nil {
		return ResearchOutput{}, err
	}
	if done {
		return recorded, nil
	}

	_ = a.store.UpdateRunStatus(ctx, input.SessionID, store.RunRunning, "researching", "")
	_ = a.appendEvent(ctx, input.SessionID, "section.started", map[string]any{
		"index": input.Index,
		"title": input.Section.Title,
	})

	output := ResearchOutput{Result: a.processor.Process(ctx, input.Section)}

	_ = a.appendEvent(ctx, input.SessionID, "section.completed", map[string]any{
		"index":   input.Index,
		"title":   output.Result.Title,
		"sources": len(output.Result.Sources),
	})
	if err := a.recordResult(ctx, input.SessionID, step, output); err != nil {
		return ResearchOutput{}, err
	}
	return output, nil
}

func (a *ReportActivities) CompileReport(ctx context.Context, input CompileInput) error {
	if strings.TrimSpace(input.SessionID) == "" {
		return errors.New("session_id required")
	}

	checkpoint, err := a.store.GetCheckpoint(ctx, input.SessionID, CompileStep().String())
	if err != nil {
		return err
	}
	if checkpoint != nil {
		return nil
	}

	_ = a.store.UpdateRunStatus(ctx, input.SessionID, store.RunRunning, "compiling", "")

	artifact := store.ReportArtifact{
		Query:   input.Query,
		Answer:  compileAnswer(input.Query, input.Results),
		Sources: dedupeSources(input.Results),
		Status:  store.ArtifactComplete,
	}
	if err := a.store.PutReport(ctx, input.SessionID, artifact); err != nil {
		// Pollers must still see a terminal result; one best-effort write of
		// an error-shaped artifact to the same key.
		_ = a.store.PutReport(ctx, input.SessionID, failedArtifact(input.Query, "report storage write failed: "+err.Error()))
		return fmt.Errorf("report write: %w", err)
	}

	_ = a.store.UpdateRunStatus(ctx, input.SessionID, store.RunCompleted, "done", "report_written")
	_ = a.appendEvent(ctx, input.SessionID, "run.completed", map[string]any{
		"section_count": len(input.Results),
	})
	metrics.RunsCompleted.WithLabelValues("complete").Inc()

	return a.recordResult(ctx, input.SessionID, CompileStep(), map[string]any{"written": true})
}

// HandleRunFailure terminates a run in its errored state. It writes an
// error-shaped artifact only if no artifact was recorded, so a compile that
// already left one is not clobbered.
func (a *ReportActivities) HandleRunFailure(ctx context.Context, input RunFailureInput) error {
	if strings.TrimSpace(input.SessionID) == "" {
		return errors.New("session_id required")
	}
	detail := strings.TrimSpace(input.Error)
	if detail == "" {
		detail = "unknown workflow activity error"
	}

	run, err := a.store.GetRun(ctx, input.SessionID)
	if err != nil {
		return err
	}
	query := ""
	if run != nil {
		query = run.Query
	}

	existing, err := a.store.GetReport(ctx, input.SessionID)
	if err != nil {
		return err
	}
	if existing == nil {
		if err := a.store.PutReport(ctx, input.SessionID, failedArtifact(query, detail)); err != nil {
			a.logger.Error("failed to write error artifact",
				zap.String("session_id", input.SessionID),
				zap.Error(err))
		}
	}

	_ = a.store.UpdateRunStatus(ctx, input.SessionID, store.RunFailed, "failed", "activity_error")
	metrics.RunsCompleted.WithLabelValues("failed").Inc()
	return a.appendEvent(ctx, input.SessionID, "run.failed", map[string]any{"error": detail})
}

// recordedResult loads a step's checkpoint into out. It reports whether the
// step already completed.
func (a *ReportActivities) recordedResult(ctx context.Context, sessionID string, step StepID, out any) (bool, error) {
	checkpoint, err := a.store.GetCheckpoint(ctx, sessionID, step.String())
	if err != nil {
		return false, err
	}
	if checkpoint == nil {
		return false, nil
	}
	if err := json.Unmarshal(checkpoint.Result, out); err != nil {
		return false, fmt.Errorf("checkpoint %s corrupt: %w", step, err)
	}
	a.logger.Info("step already checkpointed, skipping",
		zap.String("session_id", sessionID),
		zap.String("step", step.String()))
	return true, nil
}

func (a *ReportActivities) recordResult(ctx context.Context, sessionID string, step StepID, result any) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return a.store.PutCheckpoint(ctx, store.Checkpoint{
		SessionID:  sessionID,
		StepID:     step.String(),
		Result:     raw,
		RecordedAt: time.Now().UTC().Format(time.RFC3339Nano),
	})
}

func (a *ReportActivities) appendEvent(ctx context.Context, sessionID string, eventType string, payload map[string]any) error {
	seq, err := a.store.NextSeq(ctx, sessionID)
	if err != nil {
		return err
	}
	return a.store.AppendEvent(ctx, store.RunEvent{
		SessionID: sessionID,
		Seq:       seq,
		Type:      eventType,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Source:    "worker",
		TraceID:   uuid.New().String(),
		Payload:   payload,
	})
}

func compileAnswer(query string, results []store.SectionResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n", query)
	for _, result := range results {
		fmt.Fprintf(&b, "\n## %s\n\n%s\n", result.Title, strings.TrimSpace(result.Content))
	}
	return b.String()
}

// dedupeSources flattens the per-section source lists, keeping the first
// occurrence of each url.
func dedupeSources(results []store.SectionResult) []store.Source {
	seen := map[string]struct{}{}
	deduped := []store.Source{}
	for _, result := range results {
		for _, source := range result.Sources {
			if _, ok := seen[source.URL]; ok {
				continue
			}
			seen[source.URL] = struct{}{}
			deduped = append(deduped, source)
		}
	}
	return deduped
}

func failedArtifact(query string, detail string) store.ReportArtifact {
	return store.ReportArtifact{
		Query:   query,
		Answer:  "The research run failed: " + detail,
		Sources: []store.Source{},
		Status:  store.ArtifactFailed,
	}
}
