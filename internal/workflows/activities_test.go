package workflows

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/draftmill/draftmill/internal/extract"
	"github.com/draftmill/draftmill/internal/llm"
	"github.com/draftmill/draftmill/internal/outline"
	"github.com/draftmill/draftmill/internal/store"
	"github.com/draftmill/draftmill/internal/store/memory"
)

// echoProvider answers plan prompts with a fixed outline and section prompts
// with on-topic content, counting every call.
type echoProvider struct {
	planText string
	calls    int
}

func (p *echoProvider) Generate(_ context.Context, messages []llm.Message) (string, error) {
	p.calls++
	last := messages[len(messages)-1].Content
	if strings.Contains(last, "Plan a research report") {
		return p.planText, nil
	}
	for _, line := range strings.Split(last, "\n") {
		if title, ok := strings.CutPrefix(line, "Section title: "); ok {
			return "Details about " + title + " drawn from research.", nil
		}
	}
	return "General research content.", nil
}

type erroringProvider struct{}

func (erroringProvider) Generate(context.Context, []llm.Message) (string, error) {
	return "", errors.New("provider should not have been called")
}

func newTestActivities(t *testing.T, provider llm.Provider) (*ReportActivities, *memory.MemoryStore) {
	t.Helper()
	st := memory.New()
	return NewReportActivities(st, provider, nil, zap.NewNop()), st
}

func seedRun(t *testing.T, st store.Store, sessionID, query string) {
	t.Helper()
	require.NoError(t, st.CreateRun(context.Background(), store.Run{
		SessionID: sessionID,
		Query:     query,
		Status:    store.RunPending,
	}))
}

func TestPlanOutlineParsesModelJSON(t *testing.T) {
	provider := &echoProvider{planText: "```json\n{\"sections\": [{\"title\": \"History of Tea\", \"focus\": \"origins\"}, {\"title\": \"Brewing Tea\", \"focus\": \"methods\"}]}\n```"}
	activities, st := newTestActivities(t, provider)
	seedRun(t, st, "s1", "tea")

	output, err := activities.PlanOutline(context.Background(), PlanInput{SessionID: "s1", Query: "tea"})
	require.NoError(t, err)
	require.Len(t, output.Sections, 2)
	assert.Equal(t, "History of Tea", output.Sections[0].Title)

	checkpoint, err := st.GetCheckpoint(context.Background(), "s1", "plan")
	require.NoError(t, err)
	require.NotNil(t, checkpoint)
}

func TestPlanOutlineReturnsCheckpointWithoutRecomputing(t *testing.T) {
	activities, st := newTestActivities(t, erroringProvider{})
	seedRun(t, st, "s1", "tea")

	recorded := PlanOutput{Sections: []outline.Section{{Title: "Recorded", Focus: "recorded focus"}}}
	raw, err := json.Marshal(recorded)
	require.NoError(t, err)
	require.NoError(t, st.PutCheckpoint(context.Background(), store.Checkpoint{
		SessionID:  "s1",
		StepID:     "plan",
		Result:     raw,
		RecordedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}))

	output, err := activities.PlanOutline(context.Background(), PlanInput{SessionID: "s1", Query: "tea"})
	require.NoError(t, err)
	assert.Equal(t, recorded.Sections, output.Sections)
}

func TestPlanOutlineMalformedResponse(t *testing.T) {
	provider := &echoProvider{planText: "I could not produce an outline today."}
	activities, st := newTestActivities(t, provider)
	seedRun(t, st, "s1", "tea")

	_, err := activities.PlanOutline(context.Background(), PlanInput{SessionID: "s1", Query: "tea"})
	var malformed *extract.MalformedOutputError
	require.ErrorAs(t, err, &malformed)
}

func TestPlanOutlineRequiresSession(t *testing.T) {
	activities, _ := newTestActivities(t, erroringProvider{})
	_, err := activities.PlanOutline(context.Background(), PlanInput{Query: "tea"})
	require.Error(t, err)
}

// Simulates a crash after the first of three sections completed: resuming
// must not recompute the checkpointed section, and the compiled report must
// contain all three in original order.
func TestResearchResumeSkipsCheckpointedSection(t *testing.T) {
	provider := &echoProvider{}
	activities, st := newTestActivities(t, provider)
	seedRun(t, st, "s1", "volcano geology")

	sections := []outline.Section{
		{Title: "Volcano Formation", Focus: "how volcanoes form"},
		{Title: "Eruption Types", Focus: "effusive and explosive"},
		{Title: "Monitoring Volcanoes", Focus: "instruments"},
	}

	// The run crashed after section 0 was recorded.
	recorded := ResearchOutput{Result: store.SectionResult{
		Title:   "Volcano Formation",
		Content: "Recorded before the crash.",
		Sources: []store.Source{{Title: "USGS", URL: "https://usgs.gov/volcano"}},
	}}
	raw, err := json.Marshal(recorded)
	require.NoError(t, err)
	require.NoError(t, st.PutCheckpoint(context.Background(), store.Checkpoint{
		SessionID:  "s1",
		StepID:     ResearchStep(0).String(),
		Result:     raw,
		RecordedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}))

	results := make([]store.SectionResult, len(sections))
	for i, section := range sections {
		output, err := activities.ResearchSection(context.Background(), ResearchInput{
			SessionID: "s1",
			Index:     i,
			Section:   section,
		})
		require.NoError(t, err)
		results[i] = output.Result
	}

	// Only the two unrecorded sections reached the provider.
	assert.Equal(t, 2, provider.calls)
	assert.Equal(t, "Recorded before the crash.", results[0].Content)

	require.NoError(t, activities.CompileReport(context.Background(), CompileInput{
		SessionID: "s1",
		Query:     "volcano geology",
		Results:   results,
	}))

	artifact, err := st.GetReport(context.Background(), "s1")
	require.NoError(t, err)
	require.NotNil(t, artifact)
	assert.Equal(t, store.ArtifactComplete, artifact.Status)
	for _, heading := range []string{"## Volcano Formation", "## Eruption Types", "## Monitoring Volcanoes"} {
		assert.Contains(t, artifact.Answer, heading)
	}
	assert.Less(t,
		strings.Index(artifact.Answer, "## Volcano Formation"),
		strings.Index(artifact.Answer, "## Eruption Types"))
}

func TestResearchSectionRecordsCheckpoint(t *testing.T) {
	provider := &echoProvider{}
	activities, st := newTestActivities(t, provider)
	seedRun(t, st, "s1", "beekeeping")

	_, err := activities.ResearchSection(context.Background(), ResearchInput{
		SessionID: "s1",
		Index:     3,
		Section:   outline.Section{Title: "Hive Management", Focus: "seasonal care"},
	})
	require.NoError(t, err)

	checkpoint, err := st.GetCheckpoint(context.Background(), "s1", "research/03")
	require.NoError(t, err)
	require.NotNil(t, checkpoint)
}

func TestCompileDedupesSourcesByURL(t *testing.T) {
	activities, st := newTestActivities(t, erroringProvider{})
	seedRun(t, st, "s1", "tea")

	results := []store.SectionResult{
		{Title: "A", Content: "a", Sources: []store.Source{
			{Title: "Tea", URL: "https://example.org/tea"},
			{Title: "Leaves", URL: "https://example.org/leaves"},
		}},
		{Title: "B", Content: "b", Sources: []store.Source{
			{Title: "Tea (duplicate)", URL: "https://example.org/tea"},
		}},
	}
	require.NoError(t, activities.CompileReport(context.Background(), CompileInput{
		SessionID: "s1",
		Query:     "tea",
		Results:   results,
	}))

	artifact, err := st.GetReport(context.Background(), "s1")
	require.NoError(t, err)
	require.NotNil(t, artifact)
	require.Len(t, artifact.Sources, 2)
	// First occurrence wins.
	assert.Equal(t, "Tea", artifact.Sources[0].Title)
	assert.True(t, strings.HasPrefix(artifact.Answer, "# tea\n"))
}

func TestCompileIdempotentUnderCheckpoint(t *testing.T) {
	activities, st := newTestActivities(t, erroringProvider{})
	seedRun(t, st, "s1", "tea")

	require.NoError(t, st.PutCheckpoint(context.Background(), store.Checkpoint{
		SessionID:  "s1",
		StepID:     "compile",
		Result:     json.RawMessage(`{"written":true}`),
		RecordedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}))

	require.NoError(t, activities.CompileReport(context.Background(), CompileInput{
		SessionID: "s1",
		Query:     "tea",
		Results:   []store.SectionResult{{Title: "A", Content: "a"}},
	}))

	// The recorded checkpoint is authoritative; no artifact is rewritten.
	artifact, err := st.GetReport(context.Background(), "s1")
	require.NoError(t, err)
	assert.Nil(t, artifact)
}

// rejectCompleteStore fails writes of complete artifacts but accepts the
// error-shaped fallback, modelling a partial storage outage.
type rejectCompleteStore struct {
	store.Store
}

func (s *rejectCompleteStore) PutReport(ctx context.Context, sessionID string, artifact store.ReportArtifact) error {
	if artifact.Status == store.ArtifactComplete {
		return fmt.Errorf("storage unavailable")
	}
	return s.Store.PutReport(ctx, sessionID, artifact)
}

func TestCompileStorageFailureLeavesErrorArtifact(t *testing.T) {
	st := memory.New()
	wrapped := &rejectCompleteStore{Store: st}
	activities := NewReportActivities(wrapped, erroringProvider{}, nil, zap.NewNop())
	seedRun(t, st, "s1", "tea")

	err := activities.CompileReport(context.Background(), CompileInput{
		SessionID: "s1",
		Query:     "tea",
		Results:   []store.SectionResult{{Title: "A", Content: "a"}},
	})
	require.Error(t, err)

	artifact, getErr := st.GetReport(context.Background(), "s1")
	require.NoError(t, getErr)
	require.NotNil(t, artifact)
	assert.Equal(t, store.ArtifactFailed, artifact.Status)
	assert.Equal(t, "tea", artifact.Query)
	assert.NotEmpty(t, artifact.Answer)
}

func TestHandleRunFailureWritesErrorArtifact(t *testing.T) {
	activities, st := newTestActivities(t, erroringProvider{})
	seedRun(t, st, "s1", "tea")

	require.NoError(t, activities.HandleRunFailure(context.Background(), RunFailureInput{
		SessionID: "s1",
		Error:     "planning: model unavailable",
	}))

	artifact, err := st.GetReport(context.Background(), "s1")
	require.NoError(t, err)
	require.NotNil(t, artifact)
	assert.Equal(t, store.ArtifactFailed, artifact.Status)
	assert.Contains(t, artifact.Answer, "model unavailable")

	run, err := st.GetRun(context.Background(), "s1")
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, store.RunFailed, run.Status)

	events, err := st.ListEvents(context.Background(), "s1", 0)
	require.NoError(t, err)
	require.NotEmpty(t, events)
	assert.Equal(t, "run.failed", events[len(events)-1].Type)
}

func TestHandleRunFailureKeepsExistingArtifact(t *testing.T) {
	activities, st := newTestActivities(t, erroringProvider{})
	seedRun(t, st, "s1", "tea")

	existing := store.ReportArtifact{Query: "tea", Answer: "done", Status: store.ArtifactComplete}
	require.NoError(t, st.PutReport(context.Background(), "s1", existing))

	require.NoError(t, activities.HandleRunFailure(context.Background(), RunFailureInput{
		SessionID: "s1",
		Error:     "late failure",
	}))

	artifact, err := st.GetReport(context.Background(), "s1")
	require.NoError(t, err)
	require.NotNil(t, artifact)
	assert.Equal(t, store.ArtifactComplete, artifact.Status)
	assert.Equal(t, "done", artifact.Answer)
}

func TestStepIDRendering(t *testing.T) {
	assert.Equal(t, "plan", PlanStep().String())
	assert.Equal(t, "research/00", ResearchStep(0).String())
	assert.Equal(t, "research/11", ResearchStep(11).String())
	assert.Equal(t, "compile", CompileStep().String())
}
