package model

import "time"

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertLowSuccessRate AlertType = "low_success_rate"
	AlertLowConfidence  AlertType = "low_confidence"
	AlertSlowProcessing AlertType = "slow_processing"
	AlertHighErrorRate  AlertType = "high_error_rate"
	AlertServiceError   AlertType = "service_error"
	AlertCriticalError  AlertType = "critical_error"
)

// Alert is a threshold breach observed by the alert manager. Only the
// acknowledgment fields change after creation.
type Alert struct {
	ID             string         `json:"id"`
	Type           AlertType      `json:"type"`
	Severity       Severity       `json:"severity"`
	Message        string         `json:"message"`
	Data           map[string]any `json:"data,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
	Acknowledged   bool           `json:"acknowledged"`
	AcknowledgedBy string         `json:"acknowledged_by,omitempty"`
	AcknowledgedAt *time.Time     `json:"acknowledged_at,omitempty"`
}

// Rollup is the daily summary persisted by the scheduler.
type Rollup struct {
	ID        string    `json:"id"`
	Day       string    `json:"day"`
	Payload   []byte    `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
}
