package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/kirillkom/vetrecord-pipeline/internal/core/domain"
)

func TestPipelineMetricsRecordStageOutcomes(t *testing.T) {
	m := NewPipelineMetrics("pipeline")

	m.StageStarted(domain.StagePending)
	m.StageFinished(domain.StagePending, 2*time.Second, nil)
	m.StageStarted(domain.StagePending)
	m.StageFinished(domain.StagePending, time.Second, domain.WrapError(domain.ErrTimeout, "ocr", errors.New("slow")))

	if got := testutil.ToFloat64(m.stageTotal.WithLabelValues("pipeline", "pending", "success")); got != 1 {
		t.Fatalf("expected 1 success, got %v", got)
	}
	if got := testutil.ToFloat64(m.stageTotal.WithLabelValues("pipeline", "pending", "timeout")); got != 1 {
		t.Fatalf("expected 1 timeout, got %v", got)
	}
	if got := testutil.ToFloat64(m.stageInFlight); got != 0 {
		t.Fatalf("expected no stages in flight, got %v", got)
	}
}

func TestPipelineMetricsCountersIgnoreEmptyInput(t *testing.T) {
	m := NewPipelineMetrics("pipeline")

	m.AddRedactions("PERSON", 3)
	m.AddRedactions("PERSON", 0)
	m.AddRedactions("", 1)
	m.DocumentFinished("complete")
	m.DocumentFinished("")
	m.ObserveOCRConfidence(0.92)
	m.ObserveOCRConfidence(-1)

	if got := testutil.ToFloat64(m.redactionsTotal.WithLabelValues("pipeline", "PERSON")); got != 3 {
		t.Fatalf("expected 3 redactions, got %v", got)
	}
	if got := testutil.ToFloat64(m.redactionsTotal.WithLabelValues("pipeline", "unknown")); got != 1 {
		t.Fatalf("expected 1 unknown redaction, got %v", got)
	}
	if got := testutil.CollectAndCount(m.documentsTotal); got != 2 {
		t.Fatalf("expected 2 outcome series, got %d", got)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "vetrecord_ocr_confidence_count{service=\"pipeline\"} 1") {
		t.Fatalf("expected one confidence observation in exposition:\n%s", rec.Body.String())
	}
}
