package model

import "github.com/rotisserie/eris"

// Method identifies the extraction tier that produced a document's text.
type Method string

const (
	MethodNone                Method = ""
	MethodStructuredProcessor Method = "structured-processor"
	MethodOCR                 Method = "ocr"
	MethodFallback            Method = "fallback"
)

// AllMethods returns every extraction method in tier priority order.
func AllMethods() []Method {
	return []Method{MethodStructuredProcessor, MethodOCR, MethodFallback}
}

// Valid reports whether m is one of the known extraction methods.
func (m Method) Valid() bool {
	switch m {
	case MethodStructuredProcessor, MethodOCR, MethodFallback:
		return true
	default:
		return false
	}
}

// Priority returns the tier order (lower runs first). Unknown methods sort last.
func (m Method) Priority() int {
	switch m {
	case MethodStructuredProcessor:
		return 0
	case MethodOCR:
		return 1
	case MethodFallback:
		return 2
	default:
		return 99
	}
}

// ParseMethod converts a string tag into a Method.
func ParseMethod(s string) (Method, error) {
	m := Method(s)
	if s == "" || m.Valid() {
		return m, nil
	}
	return MethodNone, eris.Errorf("model: unknown extraction method %q", s)
}

// Stage is a step in the processing request state machine.
type Stage string

const (
	StageReceived             Stage = "received"
	StageExtracting           Stage = "extracting"
	StageExtracted            Stage = "extracted"
	StageStructuredExtraction Stage = "structured_extraction"
	StageAnalyzed             Stage = "analyzed"
	StageCompleted            Stage = "completed"
)
