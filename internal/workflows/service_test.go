package workflows

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/mocks"
)

func TestNewServiceDefaultsTaskQueue(t *testing.T) {
	mockClient := mocks.NewClient(t)
	service := NewService(mockClient, "", 0)
	require.Equal(t, "draftmill-reports", service.taskQueue)
}

func TestStartReport_Success(t *testing.T) {
	mockClient := mocks.NewClient(t)
	workflowRun := mocks.NewWorkflowRun(t)
	sessionID := "session-123"
	taskQueue := "draftmill-test"

	mockClient.On(
		"ExecuteWorkflow",
		mock.Anything,
		mock.MatchedBy(func(opts client.StartWorkflowOptions) bool {
			return opts.ID == workflowID(sessionID) && opts.TaskQueue == taskQueue
		}),
		mock.Anything,
		ReportInput{SessionID: sessionID, Query: "tea history", SectionConcurrency: 3},
	).Return(workflowRun, nil)

	service := NewService(mockClient, taskQueue, 3)
	err := service.StartReport(context.Background(), sessionID, "tea history")
	require.NoError(t, err)
}

func TestStartReport_Error(t *testing.T) {
	mockClient := mocks.NewClient(t)
	sessionID := "session-err"
	expectedErr := errors.New("start failed")

	mockClient.On(
		"ExecuteWorkflow",
		mock.Anything,
		mock.Anything,
		mock.Anything,
		mock.Anything,
	).Return((*mocks.WorkflowRun)(nil), expectedErr)

	service := NewService(mockClient, "draftmill-reports", 0)
	err := service.StartReport(context.Background(), sessionID, "q")
	require.ErrorIs(t, err, expectedErr)
}

func TestWorkflowID(t *testing.T) {
	require.Equal(t, "report:abc", workflowID("abc"))
}
