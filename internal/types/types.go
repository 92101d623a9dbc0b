package types

import "time"

type MessageRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"sessionId,omitempty"`
}

type MessageResponse struct {
	Reply      string              `json:"reply"`
	SessionID  string              `json:"sessionId,omitempty"`
	Attachment *AttachmentResponse `json:"attachment,omitempty"`
}

// AttachmentResponse acknowledges an uploaded file without echoing its bytes.
type AttachmentResponse struct {
	Name     string `json:"name,omitempty"`
	MIMEType string `json:"mimeType"`

	// DeclaredMIMEType is the type the client sent, byte for byte.
	DeclaredMIMEType string `json:"declaredMimeType,omitempty"`
	Size             int64  `json:"size"`
	SHA256           string `json:"sha256"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type HealthResponse struct {
	Status   string `json:"status"`
	Provider string `json:"provider"`

	// DB is "ok" or "down" when failures are stored in Postgres.
	DB string `json:"db,omitempty"`
}

// FailureResponse is an operator-facing record of an upstream failure.
type FailureResponse struct {
	RequestID  string    `json:"requestId,omitempty"`
	SessionID  string    `json:"sessionId"`
	Provider   string    `json:"provider"`
	Kind       string    `json:"kind"`
	Cause      string    `json:"cause"`
	OccurredAt time.Time `json:"occurredAt"`
}
