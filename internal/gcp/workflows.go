package gcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	executions "cloud.google.com/go/workflows/executions/apiv1"
	"cloud.google.com/go/workflows/executions/apiv1/executionspb"
	"github.com/Lllllllleong/sheetupdater/internal/models"
)

// WorkflowNotifier starts a Cloud Workflows execution after a document has
// been updated, handing downstream automation the document id and the
// fields that were written.
type WorkflowNotifier struct {
	client *executions.Client
	parent string
}

// NewWorkflowNotifier creates an executions client for the given workflow.
func NewWorkflowNotifier(ctx context.Context, projectID, location, workflowID string) (*WorkflowNotifier, error) {
	if projectID == "" || workflowID == "" {
		return nil, fmt.Errorf("PROJECT_ID and WORKFLOW_ID must be set to trigger a workflow")
	}
	client, err := executions.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Workflows Executions client: %w", err)
	}
	return &WorkflowNotifier{
		client: client,
		parent: WorkflowParent(projectID, location, workflowID),
	}, nil
}

// WorkflowParent builds the workflow's resource name.
func WorkflowParent(projectID, location, workflowID string) string {
	return fmt.Sprintf("projects/%s/locations/%s/workflows/%s", projectID, location, workflowID)
}

// Notify triggers one workflow execution.
func (n *WorkflowNotifier) Notify(ctx context.Context, note models.UpdateNotification) error {
	payloadBytes, err := json.Marshal(note)
	if err != nil {
		return fmt.Errorf("failed to marshal workflow payload: %w", err)
	}
	req := &executionspb.CreateExecutionRequest{
		Parent: n.parent,
		Execution: &executionspb.Execution{
			Argument: string(payloadBytes),
		},
	}
	exec, err := n.client.CreateExecution(ctx, req)
	if err != nil {
		return fmt.Errorf("failed to trigger workflow execution: %w", err)
	}
	slog.Info("Triggered completion workflow.", "documentId", note.DocumentID, "execution", exec.GetName())
	return nil
}

// Close releases the executions client.
func (n *WorkflowNotifier) Close() error {
	return n.client.Close()
}
