// Package live delivers ephemeral scan events to connected observers. Delivery is
// best effort: an observer that misses an event re-reads the scan record.
package live

import "complylaw/internal/domain"

// Event types.
const (
	TypeProgress     = "progress"
	TypeComplete     = "complete"
	TypeNotification = "notification"
)

// Status values carried by progress events.
const (
	StatusRunning   = "running"
	StatusCancelled = "cancelled"
	StatusFailed    = "failed"
	StatusComplete  = "complete"
)

// ScanTopic is the per-job topic.
func ScanTopic(publicID string) string { return "scan_" + publicID }

// UserTopic is the per-user notification topic.
func UserTopic(userID string) string { return "user_" + userID }

// ProgressEvent is sent on every step transition of a scan.
type ProgressEvent struct {
	Type      string        `json:"type"`
	Progress  int           `json:"progress"`
	Step      string        `json:"step"`
	Status    string        `json:"status"`
	Grade     *domain.Grade `json:"grade,omitempty"`
	RiskScore *float64      `json:"risk_score,omitempty"`
}

func Progress(progress int, step, status string) ProgressEvent {
	return ProgressEvent{Type: TypeProgress, Progress: progress, Step: step, Status: status}
}

// CompleteEvent is the last event of a completed scan.
type CompleteEvent struct {
	Type        string       `json:"type"`
	ForceReload bool         `json:"force_reload"`
	Progress    int          `json:"progress"`
	Grade       domain.Grade `json:"grade"`
	RiskScore   float64      `json:"risk_score"`
}

func Complete(grade domain.Grade, risk float64) CompleteEvent {
	return CompleteEvent{Type: TypeComplete, ForceReload: true, Progress: 100, Grade: grade, RiskScore: risk}
}

// NotificationEvent tells the owning user a scan finished.
type NotificationEvent struct {
	Type      string       `json:"type"`
	Message   string       `json:"message"`
	Grade     domain.Grade `json:"grade"`
	RiskScore float64      `json:"risk_score"`
	ScanID    string       `json:"scan_id"`
}

func Notification(target string, grade domain.Grade, risk float64, scanID string) NotificationEvent {
	return NotificationEvent{
		Type:      TypeNotification,
		Message:   target + " scan completed!",
		Grade:     grade,
		RiskScore: risk,
		ScanID:    scanID,
	}
}

// Snapshot is the progress event matching the persisted state of job. It is sent first to
// observers that connect mid-scan.
func Snapshot(job domain.ScanJob) ProgressEvent {
	status := StatusRunning
	switch job.Status {
	case domain.StatusCompleted:
		status = StatusComplete
	case domain.StatusFailed:
		status = StatusFailed
	case domain.StatusCancelled:
		status = StatusCancelled
	}
	ev := Progress(job.Progress, job.CurrentStep, status)
	ev.Grade, ev.RiskScore = job.Grade, job.RiskScore
	return ev
}
