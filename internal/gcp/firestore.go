package gcp

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"cloud.google.com/go/firestore"
)

// NewFirestoreClient creates a Firestore client for the given project ID.
// When FIRESTORE_EMULATOR_HOST is set the client library talks to the
// emulator instead.
func NewFirestoreClient(ctx context.Context, projectID string) (*firestore.Client, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID must be provided to create a firestore client")
	}
	if host := os.Getenv("FIRESTORE_EMULATOR_HOST"); host != "" {
		slog.Info("Using the Firestore emulator.", "host", host, "projectId", projectID)
	}

	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}
	return client, nil
}

// OpenTaskCollection returns the top-level collection that holds async task
// records, together with the client that owns it. The caller closes the
// client.
func OpenTaskCollection(ctx context.Context, projectID, collection string) (*firestore.CollectionRef, *firestore.Client, error) {
	if err := validateCollection(collection); err != nil {
		return nil, nil, err
	}
	client, err := NewFirestoreClient(ctx, projectID)
	if err != nil {
		return nil, nil, err
	}
	return client.Collection(collection), client, nil
}

// validateCollection rejects names Firestore would resolve to a nested
// path or refuse outright.
func validateCollection(name string) error {
	switch {
	case strings.TrimSpace(name) == "":
		return fmt.Errorf("TASK_COLLECTION must not be empty")
	case strings.Contains(name, "/"):
		return fmt.Errorf("TASK_COLLECTION %q must be a top-level collection id", name)
	case strings.HasPrefix(name, "__") && strings.HasSuffix(name, "__"):
		return fmt.Errorf("TASK_COLLECTION %q uses a reserved id", name)
	}
	return nil
}
