package models

// These structs define the request values consumed by the update pipeline and
// the JSON payloads returned to webhook callers.

// UpdateRequest is a normalised inbound update: the remote document's
// identifier plus the raw field values carried by the webhook.
type UpdateRequest struct {
	DocumentID string            `json:"documentId"`
	Fields     map[string]string `json:"fields"`
}

// StatusResponse is the body returned by every update endpoint.
type StatusResponse struct {
	Status   string   `json:"status"`
	Message  string   `json:"message"`
	TaskID   string   `json:"taskId,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// FileAccessResponse is returned by the file access probe.
type FileAccessResponse struct {
	Success  bool   `json:"success"`
	FileName string `json:"file_name,omitempty"`
	Error    string `json:"error,omitempty"`
}

// ListFilesResponse is returned by the file listing endpoint.
type ListFilesResponse struct {
	Files []*RemoteDocument `json:"files"`
	Error string            `json:"error,omitempty"`
}

// PubSubMessage is the data payload of a Pub/Sub CloudEvent.
type PubSubMessage struct {
	Message struct {
		Data       []byte            `json:"data"`
		Attributes map[string]string `json:"attributes,omitempty"`
		ID         string            `json:"messageId,omitempty"`
	} `json:"message"`
	Subscription string `json:"subscription,omitempty"`
}

// UpdateNotification is the argument passed to the completion workflow.
type UpdateNotification struct {
	DocumentID string   `json:"documentId"`
	RunID      string   `json:"runId"`
	Fields     []string `json:"fields"`
	Version    string   `json:"version,omitempty"`
}
