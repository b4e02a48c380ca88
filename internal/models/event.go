package models

import "time"

// EventType identifies a queue change notification.
type EventType string

const (
	EventIntake   EventType = "intake"
	EventProgress EventType = "progress"
	EventComplete EventType = "complete"
	EventDelete   EventType = "delete"
	EventClear    EventType = "clear"
	EventSubmit   EventType = "submit"
)

// QueueEvent is emitted by a queue whenever its contents change.
type QueueEvent struct {
	Seq       uint64           `json:"seq"`
	Type      EventType        `json:"type"`
	SessionID string           `json:"sessionId,omitempty"`
	FileID    string           `json:"fileId,omitempty"`
	File      *QueuedFile      `json:"file,omitempty"`
	Count     int              `json:"count"` // queue length after the change
	Submit    *SubmissionEvent `json:"submit,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}
