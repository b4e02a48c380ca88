// Package models contains domain types for the upload queue service.
package models

import "time"

// FileStatus represents the derived upload status of a queued file.
type FileStatus string

const (
	FileStatusPending  FileStatus = "pending"
	FileStatusComplete FileStatus = "complete"
)

// FileDescriptor is what a drop source hands to intake.
type FileDescriptor struct {
	Name        string `json:"name" msgpack:"name"`
	SizeBytes   int64  `json:"sizeBytes" msgpack:"sizeBytes"`
	ContentType string `json:"contentType,omitempty" msgpack:"contentType,omitempty"`
}

// QueuedFile represents a file registered in an upload queue.
type QueuedFile struct {
	ID            string     `json:"id" msgpack:"id" yaml:"id"`
	Name          string     `json:"name" msgpack:"name" yaml:"name"`
	SizeBytes     int64      `json:"sizeBytes" msgpack:"sizeBytes" yaml:"size_bytes"`
	FormattedSize string     `json:"formattedSize" msgpack:"formattedSize" yaml:"formatted_size"`
	ContentType   string     `json:"contentType,omitempty" msgpack:"contentType,omitempty" yaml:"content_type,omitempty"`
	Progress      int        `json:"progress" msgpack:"progress" yaml:"progress"` // 0-100
	Status        FileStatus `json:"status" msgpack:"status" yaml:"status"`
	AddedAt       time.Time  `json:"addedAt" msgpack:"addedAt" yaml:"added_at"`
}

// StatusForProgress derives the file status from a progress percentage.
func StatusForProgress(progress int) FileStatus {
	if progress >= 100 {
		return FileStatusComplete
	}
	return FileStatusPending
}

// IsComplete reports whether the simulated upload has finished.
func (f QueuedFile) IsComplete() bool {
	return f.Progress >= 100
}
