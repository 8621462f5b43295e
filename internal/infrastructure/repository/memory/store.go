package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kirillkom/vetrecord-pipeline/internal/core/domain"
)

// StateStore keeps processing state in process memory. All mutations hold a
// single lock, which makes each one an atomic compare-and-set.
type StateStore struct {
	mu     sync.Mutex
	states map[string]*domain.ProcessingState
	events []domain.ProcessEvent
	mined  map[string][]domain.MinedField
	now    func() time.Time
}

func NewStateStore() *StateStore {
	return &StateStore{
		states: map[string]*domain.ProcessingState{},
		mined:  map[string][]domain.MinedField{},
		now:    time.Now,
	}
}

func (s *StateStore) Ensure(_ context.Context, documentIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range documentIDs {
		if _, ok := s.states[id]; ok {
			continue
		}
		state := domain.NewProcessingState(id, s.now().UTC())
		s.states[id] = &state
	}
	return nil
}

func (s *StateStore) Get(_ context.Context, documentID string) (*domain.ProcessingState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.states[documentID]
	if !ok {
		return nil, domain.WrapError(domain.ErrDocumentNotFound, "get state", fmt.Errorf("id=%s", documentID))
	}
	copied := *state
	return &copied, nil
}

func (s *StateStore) List(_ context.Context) ([]domain.ProcessingState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ProcessingState, 0, len(s.states))
	for _, state := range s.states {
		out = append(out, *state)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DocumentID < out[j].DocumentID })
	return out, nil
}

func (s *StateStore) Claim(_ context.Context, documentID, owner string) (*domain.ProcessingState, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.states[documentID]
	if !ok {
		return nil, false, domain.WrapError(domain.ErrDocumentNotFound, "claim state", fmt.Errorf("id=%s", documentID))
	}
	if state.Stage.Terminal() {
		copied := *state
		return &copied, false, nil
	}
	if state.Status == domain.StatusInProgress && state.Owner != owner {
		return nil, false, domain.WrapError(domain.ErrStateConflict, "claim state", fmt.Errorf("id=%s owned by %s", documentID, state.Owner))
	}
	state.Status = domain.StatusInProgress
	state.Owner = owner
	state.Attempts++
	state.UpdatedAt = s.now().UTC()
	copied := *state
	return &copied, true, nil
}

func (s *StateStore) Advance(_ context.Context, documentID, owner string, from, to domain.Stage) error {
	if !domain.CanTransition(from, to) || to == domain.StageFailed {
		return domain.WrapError(domain.ErrInvalidInput, "advance state", fmt.Errorf("%s -> %s", from, to))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	state, err := s.owned(documentID, owner, from)
	if err != nil {
		return domain.WrapError(domain.ErrStateConflict, "advance state", err)
	}
	state.Stage = to
	if to == domain.StageComplete {
		state.Status = domain.StatusDone
		state.Owner = ""
	}
	state.UpdatedAt = s.now().UTC()
	return nil
}

func (s *StateStore) Fail(_ context.Context, documentID, owner string, from domain.Stage, reason domain.FailureReason, detail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, err := s.owned(documentID, owner, from)
	if err != nil {
		return domain.WrapError(domain.ErrStateConflict, "fail state", err)
	}
	state.Stage = domain.StageFailed
	state.Status = domain.StatusFailed
	state.FailedStage = from
	state.FailureReason = reason
	state.ErrorDetail = detail
	state.Owner = ""
	state.UpdatedAt = s.now().UTC()
	return nil
}

func (s *StateStore) Release(_ context.Context, documentID, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.states[documentID]
	if !ok || state.Status != domain.StatusInProgress || state.Owner != owner {
		return domain.WrapError(domain.ErrStateConflict, "release state", fmt.Errorf("id=%s not owned by %s", documentID, owner))
	}
	state.Status = domain.StatusPending
	state.Owner = ""
	state.UpdatedAt = s.now().UTC()
	return nil
}

func (s *StateStore) ReleaseStale(_ context.Context, owner string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	released := 0
	for _, state := range s.states {
		if state.Status == domain.StatusInProgress && state.Owner != owner {
			state.Status = domain.StatusPending
			state.Owner = ""
			state.UpdatedAt = s.now().UTC()
			released++
		}
	}
	return released, nil
}

func (s *StateStore) Rewind(_ context.Context, documentID string, to domain.Stage) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.states[documentID]
	if !ok {
		return false, domain.WrapError(domain.ErrDocumentNotFound, "rewind state", fmt.Errorf("id=%s", documentID))
	}
	if !state.RewindTarget(to) {
		return false, nil
	}
	state.Stage = to
	state.Status = domain.StatusPending
	state.FailedStage = ""
	state.FailureReason = ""
	state.ErrorDetail = ""
	state.UpdatedAt = s.now().UTC()
	return true, nil
}

func (s *StateStore) owned(documentID, owner string, stage domain.Stage) (*domain.ProcessingState, error) {
	state, ok := s.states[documentID]
	if !ok {
		return nil, fmt.Errorf("id=%s: %w", documentID, domain.ErrDocumentNotFound)
	}
	if state.Status != domain.StatusInProgress || state.Owner != owner || state.Stage != stage {
		return nil, errors.New("stage or owner changed")
	}
	return state, nil
}

func (s *StateStore) RecordEvent(_ context.Context, event domain.ProcessEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *StateStore) SaveMinedFields(_ context.Context, documentID string, fields []domain.MinedField) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mined[documentID] = append([]domain.MinedField(nil), fields...)
	return nil
}

// Events returns the recorded events of one document, or all of them when
// documentID is empty.
func (s *StateStore) Events(_ context.Context, documentID string) ([]domain.ProcessEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ProcessEvent, 0, len(s.events))
	for _, event := range s.events {
		if documentID == "" || event.DocumentID == documentID {
			out = append(out, event)
		}
	}
	return out, nil
}
