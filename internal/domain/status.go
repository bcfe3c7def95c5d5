// Package domain status.go contains the per-attachment download state machine
package domain

import "time"

// DownloadState enumerates the phases of an orchestrated download.
type DownloadState string

const (
	StatePending     DownloadState = "pending"
	StateDownloading DownloadState = "downloading"
	StateCompleted   DownloadState = "completed"
	StateFailed      DownloadState = "failed"
)

// DownloadStatus is the transient state of one attachment download. Progress
// is meaningful only while downloading (0-100); Error only when failed.
type DownloadStatus struct {
	ID        string        `json:"id"`
	State     DownloadState `json:"state"`
	Progress  int           `json:"progress"`
	Error     string        `json:"error,omitempty"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

// Terminal reports whether the status can no longer change for this attempt.
func (s DownloadStatus) Terminal() bool {
	return s.State == StateCompleted || s.State == StateFailed
}

// ClampProgress bounds p to the inclusive range [0, 100].
func ClampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
