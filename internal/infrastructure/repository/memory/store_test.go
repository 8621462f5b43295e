package memory

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/kirillkom/vetrecord-pipeline/internal/core/domain"
)

func TestClaimIsExclusive(t *testing.T) {
	ctx := context.Background()
	store := NewStateStore()
	if err := store.Ensure(ctx, []string{"doc-1"}); err != nil {
		t.Fatalf("ensure: %v", err)
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		claimed int
	)
	for _, owner := range []string{"a", "b", "c", "d"} {
		wg.Add(1)
		go func(owner string) {
			defer wg.Done()
			if _, ok, err := store.Claim(ctx, "doc-1", owner); err == nil && ok {
				mu.Lock()
				claimed++
				mu.Unlock()
			}
		}(owner)
	}
	wg.Wait()
	if claimed != 1 {
		t.Fatalf("expected exactly one successful claim, got %d", claimed)
	}
}

func TestAdvanceRequiresOwnerAndStage(t *testing.T) {
	ctx := context.Background()
	store := NewStateStore()
	_ = store.Ensure(ctx, []string{"doc-1"})
	if _, _, err := store.Claim(ctx, "doc-1", "run-1"); err != nil {
		t.Fatalf("claim: %v", err)
	}

	err := store.Advance(ctx, "doc-1", "run-2", domain.StagePending, domain.StageOCRDone)
	if !errors.Is(err, domain.ErrStateConflict) {
		t.Fatalf("expected conflict for foreign owner, got %v", err)
	}
	err = store.Advance(ctx, "doc-1", "run-1", domain.StagePending, domain.StageScrubDone)
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	if err := store.Advance(ctx, "doc-1", "run-1", domain.StagePending, domain.StageOCRDone); err != nil {
		t.Fatalf("advance: %v", err)
	}
	state, _ := store.Get(ctx, "doc-1")
	if state.Stage != domain.StageOCRDone || state.Status != domain.StatusInProgress {
		t.Fatalf("unexpected state %+v", state)
	}
}

func TestFailReleaseAndRewind(t *testing.T) {
	ctx := context.Background()
	store := NewStateStore()
	_ = store.Ensure(ctx, []string{"doc-1"})
	_, _, _ = store.Claim(ctx, "doc-1", "run-1")
	_ = store.Advance(ctx, "doc-1", "run-1", domain.StagePending, domain.StageOCRDone)
	if err := store.Fail(ctx, "doc-1", "run-1", domain.StageOCRDone, domain.ReasonTool, "exit 1"); err != nil {
		t.Fatalf("fail: %v", err)
	}

	state, ok, err := store.Claim(ctx, "doc-1", "run-2")
	if err != nil || ok || state.Stage != domain.StageFailed {
		t.Fatalf("failed document must not be claimable: ok=%v err=%v state=%+v", ok, err, state)
	}

	changed, err := store.Rewind(ctx, "doc-1", domain.StageOCRDone)
	if err != nil || !changed {
		t.Fatalf("expected rewind, changed=%v err=%v", changed, err)
	}
	state, _ = store.Get(ctx, "doc-1")
	if state.Stage != domain.StageOCRDone || state.FailureReason != "" {
		t.Fatalf("unexpected state after rewind %+v", state)
	}

	_, _, _ = store.Claim(ctx, "doc-1", "dead-run")
	released, _ := store.ReleaseStale(ctx, "run-3")
	if released != 1 {
		t.Fatalf("expected one stale claim released, got %d", released)
	}
	if err := store.Release(ctx, "doc-1", "dead-run"); !errors.Is(err, domain.ErrStateConflict) {
		t.Fatalf("expected conflict releasing an already released claim, got %v", err)
	}
}

func TestEventsFilterByDocument(t *testing.T) {
	ctx := context.Background()
	store := NewStateStore()
	_ = store.RecordEvent(ctx, domain.ProcessEvent{DocumentID: "doc-1", Stage: domain.StageOCRDone, Status: domain.StatusInProgress})
	_ = store.RecordEvent(ctx, domain.ProcessEvent{DocumentID: "doc-2", Stage: domain.StageFailed, Status: domain.StatusFailed})

	events, err := store.Events(ctx, "doc-2")
	if err != nil {
		t.Fatalf("Events() error = %v", err)
	}
	if len(events) != 1 || events[0].Stage != domain.StageFailed {
		t.Fatalf("unexpected events %+v", events)
	}
	all, _ := store.Events(ctx, "")
	if len(all) != 2 {
		t.Fatalf("expected 2 events, got %d", len(all))
	}
}
