package workflows

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/draftmill/draftmill/internal/outline"
	"github.com/draftmill/draftmill/internal/store"
)

const defaultSectionConcurrency = 2

type ReportInput struct {
	SessionID          string
	Query              string
	SectionConcurrency int
}

type ReportResult struct {
	Status   string
	Sections int
}

// ReportWorkflow drives one research run: plan, validate, research each
// section, compile. Sections run through a bounded in-flight window and are
// assembled strictly in outline order. Every activity is checkpointed in the
// store, so a re-driven run resumes from the first unrecorded step.
func ReportWorkflow(ctx workflow.Context, input ReportInput) (ReportResult, error) {
	activityOptions := workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, activityOptions)
	logger := workflow.GetLogger(ctx)

	planOutput := PlanOutput{}
	if err := workflow.ExecuteActivity(ctx, "PlanOutline", PlanInput{
		SessionID: input.SessionID,
		Query:     input.Query,
	}).Get(ctx, &planOutput); err != nil {
		logger.Error("planning failed", "error", err)
		return failRun(ctx, input.SessionID, "planning: "+err.Error(), err)
	}

	// Validation is deterministic, so it runs in workflow code.
	sections, err := outline.Validate(input.Query, planOutput.Sections)
	if err != nil {
		logger.Error("plan validation failed", "error", err)
		return failRun(ctx, input.SessionID, "validating: "+err.Error(), err)
	}

	window := input.SectionConcurrency
	if window <= 0 {
		window = defaultSectionConcurrency
	}

	results := make([]store.SectionResult, len(sections))
	futures := make([]workflow.Future, len(sections))
	next := 0
	for done := 0; done < len(sections); done++ {
		for next < len(sections) && next-done < window {
			futures[next] = workflow.ExecuteActivity(ctx, "ResearchSection", ResearchInput{
				SessionID: input.SessionID,
				Index:     next,
				Section:   sections[next],
			})
			next++
		}
		researchOutput := ResearchOutput{}
		if err := futures[done].Get(ctx, &researchOutput); err != nil {
			// A section that fails even after retries degrades to an
			// explanatory result instead of sinking the run.
			logger.Error("section research failed", "index", done, "error", err)
			researchOutput.Result = store.SectionResult{
				Title:   sections[done].Title,
				Content: "Research for this section could not be completed: " + err.Error(),
				Sources: []store.Source{},
			}
		}
		results[done] = researchOutput.Result
	}

	if err := workflow.ExecuteActivity(ctx, "CompileReport", CompileInput{
		SessionID: input.SessionID,
		Query:     input.Query,
		Results:   results,
	}).Get(ctx, nil); err != nil {
		logger.Error("compile failed", "error", err)
		return failRun(ctx, input.SessionID, "compiling: "+err.Error(), err)
	}

	return ReportResult{Status: store.RunCompleted, Sections: len(sections)}, nil
}

func failRun(ctx workflow.Context, sessionID string, detail string, cause error) (ReportResult, error) {
	logger := workflow.GetLogger(ctx)
	if err := workflow.ExecuteActivity(ctx, "HandleRunFailure", RunFailureInput{
		SessionID: sessionID,
		Error:     detail,
	}).Get(ctx, nil); err != nil {
		logger.Error("failed to record run failure", "error", err)
	}
	return ReportResult{Status: store.RunFailed}, cause
}
