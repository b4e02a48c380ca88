package models

import "time"

// DialogState represents the visibility of the submission confirmation dialog.
type DialogState string

const (
	DialogClosed DialogState = "closed"
	DialogOpen   DialogState = "open"
)

// SessionInfo describes a browser session and the state of its queue.
type SessionInfo struct {
	ID            string      `json:"id"`
	CreatedAt     time.Time   `json:"createdAt"`
	LastAccessed  time.Time   `json:"lastAccessed"`
	FileCount     int         `json:"fileCount"`
	TotalBytes    int64       `json:"totalBytes"`
	Dialog        DialogState `json:"dialog"`
	Submissions   int         `json:"submissions"`
	TargetVM      string      `json:"targetVm,omitempty"`
	ContactDomain string      `json:"contactDomain,omitempty"`
}

// SubmissionEvent is the outbound event handed to the notifier when a queue is submitted.
type SubmissionEvent struct {
	ID          string       `json:"id" yaml:"id"`
	SessionID   string       `json:"sessionId,omitempty" yaml:"session_id,omitempty"`
	Contact     string       `json:"contact" yaml:"contact"`
	TargetVM    string       `json:"targetVm,omitempty" yaml:"target_vm,omitempty"`
	Files       []QueuedFile `json:"files" yaml:"files"`
	TotalBytes  int64        `json:"totalBytes" yaml:"total_bytes"`
	SubmittedAt time.Time    `json:"submittedAt" yaml:"submitted_at"`
}
