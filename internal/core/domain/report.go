package domain

import (
	"time"

	"github.com/oklog/ulid/v2"
)

func NewRunID() string {
	return ulid.Make().String()
}

type DocumentOutcome struct {
	DocumentID      string        `json:"document_id"`
	SourcePath      string        `json:"source_path"`
	Stage           Stage         `json:"stage"`
	Status          Status        `json:"status"`
	FailedStage     Stage         `json:"failed_stage,omitempty"`
	FailureReason   FailureReason `json:"failure_reason,omitempty"`
	Error           string        `json:"error,omitempty"`
	Confidence      float64       `json:"confidence"`
	AlreadyComplete bool          `json:"already_complete,omitempty"`
	DurationMillis  int64         `json:"duration_ms"`
}

type ConfidenceBin struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

type BatchReport struct {
	RunID           string            `json:"run_id"`
	StartedAt       time.Time         `json:"started_at"`
	FinishedAt      time.Time         `json:"finished_at"`
	Total           int               `json:"total"`
	Completed       int               `json:"completed"`
	AlreadyComplete int               `json:"already_complete"`
	Failed          int               `json:"failed"`
	Incomplete      int               `json:"incomplete"`
	Unsupported     int               `json:"unsupported"`
	FailureReasons  map[string]int    `json:"failure_reasons"`
	ConfidenceBins  []ConfidenceBin   `json:"confidence_bins"`
	Documents       []DocumentOutcome `json:"documents"`
}

func (r BatchReport) HasFailures() bool {
	return r.Failed > 0
}

var confidenceBins = []struct {
	label string
	upper float64
}{
	{"0", 1},
	{"1-60", 60},
	{"60-70", 70},
	{"70-80", 80},
	{"80-85", 85},
	{"85-90", 90},
	{"90-95", 95},
	{"95+", 101},
}

// ConfidenceBinLabel buckets a unit-interval confidence using right-closed bins on
// the 0-100 scale.
func ConfidenceBinLabel(confidence float64) string {
	percent := clampUnit(confidence) * 100
	for _, bin := range confidenceBins {
		if percent <= bin.upper {
			return bin.label
		}
	}
	return confidenceBins[len(confidenceBins)-1].label
}

func BinConfidences(values []float64) []ConfidenceBin {
	counts := make(map[string]int, len(confidenceBins))
	for _, v := range values {
		counts[ConfidenceBinLabel(v)]++
	}
	out := make([]ConfidenceBin, 0, len(confidenceBins))
	for _, bin := range confidenceBins {
		out = append(out, ConfidenceBin{Label: bin.label, Count: counts[bin.label]})
	}
	return out
}
