package model

import "time"

// ProcessingRequest describes an uploaded document awaiting processing.
type ProcessingRequest struct {
	FileID   string `json:"file_id"`
	FileName string `json:"file_name"`
	FileSize int64  `json:"file_size"`
	MimeType string `json:"mime_type"`
	UserID   string `json:"user_id,omitempty"`
}

// FileMeta is the subset of request metadata kept on metrics records.
type FileMeta struct {
	FileName string `json:"file_name"`
	FileSize int64  `json:"file_size"`
	MimeType string `json:"mime_type"`
}

// Meta returns the file metadata of the request.
func (r ProcessingRequest) Meta() FileMeta {
	return FileMeta{FileName: r.FileName, FileSize: r.FileSize, MimeType: r.MimeType}
}

// ExtractionResult is the text produced by the tiered extraction engine.
type ExtractionResult struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	PageCount  int     `json:"page_count"`
	Method     Method  `json:"method"`
}

// ErrorType is the outcome classification carried on a metrics record.
type ErrorType string

const (
	ErrorNone           ErrorType = ""
	ErrorValidation     ErrorType = "validation_error"
	ErrorService        ErrorType = "service_error"
	ErrorParse          ErrorType = "parse_error"
	ErrorInfrastructure ErrorType = "infrastructure_error"
	ErrorAborted        ErrorType = "aborted"
	ErrorInternal       ErrorType = "internal_error"
)

// ErrorClass groups error types for alerting.
type ErrorClass string

const (
	ClassNone     ErrorClass = "none"
	ClassClient   ErrorClass = "client"
	ClassDegraded ErrorClass = "degraded"
	ClassService  ErrorClass = "service"
	ClassCritical ErrorClass = "critical"
)

var errorClasses = map[ErrorType]ErrorClass{
	ErrorNone:           ClassNone,
	ErrorValidation:     ClassClient,
	ErrorAborted:        ClassClient,
	ErrorParse:          ClassDegraded,
	ErrorService:        ClassService,
	ErrorInfrastructure: ClassCritical,
	ErrorInternal:       ClassCritical,
}

// Class returns the alerting class of the error type. Unknown types are critical.
func (e ErrorType) Class() ErrorClass {
	if c, ok := errorClasses[e]; ok {
		return c
	}
	return ClassCritical
}

// rank orders error types by how much they say about pipeline health.
func (e ErrorType) rank() int {
	switch e.Class() {
	case ClassNone:
		return 0
	case ClassDegraded:
		return 1
	case ClassClient:
		return 2
	case ClassService:
		return 3
	default:
		return 4
	}
}

// MoreSevere returns whichever of a and b ranks higher.
func MoreSevere(a, b ErrorType) ErrorType {
	if b.rank() > a.rank() {
		return b
	}
	return a
}

// ProcessingMetricsRecord is the immutable per-request outcome kept by monitoring.
type ProcessingMetricsRecord struct {
	ProcessingID     string      `json:"processing_id"`
	UserID           string      `json:"user_id,omitempty"`
	File             FileMeta    `json:"file"`
	Method           Method      `json:"method"`
	ProcessingTimeMs int64       `json:"processing_time_ms"`
	Confidence       float64     `json:"confidence"`
	Success          bool        `json:"success"`
	ErrorType        ErrorType   `json:"error_type,omitempty"`
	PIIDetected      bool        `json:"pii_detected"`
	DataQuality      DataQuality `json:"data_quality"`
	Timestamp        time.Time   `json:"timestamp"`
}
