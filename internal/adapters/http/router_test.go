package httpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/kirillkom/vetrecord-pipeline/internal/core/domain"
	"github.com/kirillkom/vetrecord-pipeline/internal/infrastructure/repository/memory"
)

type resultsFake struct {
	mined  map[string][]domain.MinedField
	report *domain.BatchReport
}

func (f resultsFake) LoadMined(_ context.Context, documentID string) ([]domain.MinedField, error) {
	fields, ok := f.mined[documentID]
	if !ok {
		return nil, domain.WrapError(domain.ErrDocumentNotFound, "load mined", errors.New("id="+documentID))
	}
	return fields, nil
}

func (f resultsFake) LatestReport(context.Context) (domain.BatchReport, error) {
	if f.report == nil {
		return domain.BatchReport{}, domain.WrapError(domain.ErrDocumentNotFound, "latest report", errors.New("no runs"))
	}
	return *f.report, nil
}

func newTestHandler(t *testing.T) (http.Handler, *memory.StateStore) {
	t.Helper()
	ctx := context.Background()
	store := memory.NewStateStore()
	if err := store.Ensure(ctx, []string{"doc-1", "doc-2"}); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if _, _, err := store.Claim(ctx, "doc-2", "run-1"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := store.Fail(ctx, "doc-2", "run-1", domain.StagePending, domain.ReasonContent, "corrupt"); err != nil {
		t.Fatalf("fail: %v", err)
	}
	_ = store.RecordEvent(ctx, domain.ProcessEvent{DocumentID: "doc-2", Stage: domain.StageFailed, Status: domain.StatusFailed})

	results := resultsFake{
		mined:  map[string][]domain.MinedField{"doc-1": {{Field: domain.FieldSubjectID, Value: "094-000001", Match: domain.MatchPath}}},
		report: &domain.BatchReport{RunID: "run-1", Total: 2, Failed: 1},
	}
	metricsHandler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("# metrics\n"))
	})
	return NewRouter(store, results, RouterOptions{Events: store, Metrics: metricsHandler}).Handler(), store
}

func serve(handler http.Handler, method, path string) *httptest.ResponseRecorder {
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(method, path, nil))
	return res
}

func TestListDocumentsFiltersByStage(t *testing.T) {
	handler, _ := newTestHandler(t)

	res := serve(handler, http.MethodGet, "/v1/documents?stage=failed")
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	var body documentList
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Documents) != 1 || body.Documents[0].DocumentID != "doc-2" {
		t.Fatalf("unexpected documents %+v", body.Documents)
	}
	if body.Counts["pending"] != 1 || body.Counts["failed"] != 1 {
		t.Fatalf("unexpected counts %v", body.Counts)
	}
	if res.Header().Get(middleware.RequestIDHeader) == "" {
		t.Fatalf("expected request id header")
	}
}

func TestListDocumentsRejectsUnknownStage(t *testing.T) {
	handler, _ := newTestHandler(t)
	if res := serve(handler, http.MethodGet, "/v1/documents?stage=bogus"); res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}

func TestGetDocumentMapsNotFound(t *testing.T) {
	handler, _ := newTestHandler(t)

	if res := serve(handler, http.MethodGet, "/v1/documents/missing"); res.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.Code)
	}

	res := serve(handler, http.MethodGet, "/v1/documents/doc-2")
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	var state domain.ProcessingState
	if err := json.NewDecoder(res.Body).Decode(&state); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if state.FailureReason != domain.ReasonContent || state.FailedStage != domain.StagePending {
		t.Fatalf("unexpected state %+v", state)
	}
}

func TestResultEndpoints(t *testing.T) {
	handler, _ := newTestHandler(t)

	if res := serve(handler, http.MethodGet, "/v1/documents/doc-1/mined"); res.Code != http.StatusOK {
		t.Fatalf("mined: expected 200, got %d", res.Code)
	}
	if res := serve(handler, http.MethodGet, "/v1/documents/doc-2/mined"); res.Code != http.StatusNotFound {
		t.Fatalf("mined: expected 404, got %d", res.Code)
	}

	res := serve(handler, http.MethodGet, "/v1/documents/doc-2/events")
	var events struct {
		Events []domain.ProcessEvent `json:"events"`
	}
	if err := json.NewDecoder(res.Body).Decode(&events); err != nil {
		t.Fatalf("decode events: %v", err)
	}
	if len(events.Events) != 1 {
		t.Fatalf("expected 1 event, got %+v", events.Events)
	}

	res = serve(handler, http.MethodGet, "/v1/reports/latest")
	var report domain.BatchReport
	if err := json.NewDecoder(res.Body).Decode(&report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if report.RunID != "run-1" || report.Failed != 1 {
		t.Fatalf("unexpected report %+v", report)
	}
}

func TestHealthMetricsAndMethodHandling(t *testing.T) {
	handler, _ := newTestHandler(t)

	if res := serve(handler, http.MethodGet, "/healthz"); res.Code != http.StatusOK {
		t.Fatalf("healthz: expected 200, got %d", res.Code)
	}
	if res := serve(handler, http.MethodGet, "/metrics"); res.Code != http.StatusOK || res.Body.String() != "# metrics\n" {
		t.Fatalf("metrics: unexpected response %d %q", res.Code, res.Body.String())
	}
	if res := serve(handler, http.MethodPost, "/v1/documents"); res.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", res.Code)
	}
}

func TestStatusForError(t *testing.T) {
	cases := map[error]int{
		domain.WrapError(domain.ErrStateConflict, "claim", errors.New("x")): http.StatusConflict,
		domain.WrapError(domain.ErrTemporary, "publish", errors.New("x")):   http.StatusServiceUnavailable,
		domain.WrapError(domain.ErrTimeout, "list", errors.New("x")):        http.StatusGatewayTimeout,
		errors.New("boom"): http.StatusInternalServerError,
	}
	for err, want := range cases {
		if got := statusForError(err); got != want {
			t.Fatalf("statusForError(%v) = %d, want %d", err, got, want)
		}
	}
}

func TestInternalErrorDetailIsHidden(t *testing.T) {
	handler := NewRouter(failingStates{}, resultsFake{}, RouterOptions{}).Handler()
	res := serve(handler, http.MethodGet, "/v1/documents")
	if res.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", res.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(res.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["error"] != http.StatusText(http.StatusInternalServerError) {
		t.Fatalf("expected generic message, got %q", body["error"])
	}
}

type failingStates struct{}

func (failingStates) Get(context.Context, string) (*domain.ProcessingState, error) {
	return nil, errors.New("dsn=postgres://secret")
}

func (failingStates) List(context.Context) ([]domain.ProcessingState, error) {
	return nil, errors.New("dsn=postgres://secret")
}
