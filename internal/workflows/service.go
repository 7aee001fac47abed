package workflows

import (
	"context"
	"fmt"

	"go.temporal.io/sdk/client"
)

// Service wraps the Temporal client for the API server.
type Service struct {
	client             client.Client
	taskQueue          string
	sectionConcurrency int
}

func NewService(client client.Client, taskQueue string, sectionConcurrency int) *Service {
	if taskQueue == "" {
		taskQueue = "draftmill-reports"
	}
	return &Service{client: client, taskQueue: taskQueue, sectionConcurrency: sectionConcurrency}
}

// StartReport begins one durable run. The workflow id is derived from the
// session id, so duplicate submissions of the same session cannot race.
func (s *Service) StartReport(ctx context.Context, sessionID string, query string) error {
	options := client.StartWorkflowOptions{
		ID:        workflowID(sessionID),
		TaskQueue: s.taskQueue,
	}
	_, err := s.client.ExecuteWorkflow(ctx, options, ReportWorkflow, ReportInput{
		SessionID:          sessionID,
		Query:              query,
		SectionConcurrency: s.sectionConcurrency,
	})
	return err
}

func workflowID(sessionID string) string {
	return fmt.Sprintf("report:%s", sessionID)
}
