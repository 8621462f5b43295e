package sidecar

import (
	"encoding/json"
	"errors"

	"github.com/kirillkom/vetrecord-pipeline/internal/infrastructure/resilience"
)

// classifyDetectorError extends the transport classification: a response that
// cannot be decoded means the service is misbehaving and is retried once more.
func classifyDetectorError(err error) resilience.ErrorClassification {
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		return resilience.ErrorClassification{
			Retryable:     true,
			RecordFailure: true,
		}
	}
	return resilience.ClassifyTransportError(err)
}
