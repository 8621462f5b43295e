package domain

import "time"

type Stage string

const (
	StagePending   Stage = "pending"
	StageOCRDone   Stage = "ocr_done"
	StageScrubDone Stage = "scrub_done"
	StageMined     Stage = "mined"
	StageComplete  Stage = "complete"
	StageFailed    Stage = "failed"
)

var stageOrder = []Stage{StagePending, StageOCRDone, StageScrubDone, StageMined, StageComplete}

func ParseStage(raw string) (Stage, bool) {
	stage := Stage(raw)
	return stage, stage.Valid()
}

func (s Stage) Valid() bool {
	return s == StageFailed || s.index() >= 0
}

func (s Stage) Terminal() bool {
	return s == StageComplete || s == StageFailed
}

// Next returns the stage that follows s on the success path.
func (s Stage) Next() (Stage, bool) {
	i := s.index()
	if i < 0 || i+1 >= len(stageOrder) {
		return "", false
	}
	return stageOrder[i+1], true
}

// AtOrAfter reports whether s has progressed at least as far as other.
func (s Stage) AtOrAfter(other Stage) bool {
	i, j := s.index(), other.index()
	return i >= 0 && j >= 0 && i >= j
}

func (s Stage) index() int {
	for i, stage := range stageOrder {
		if stage == s {
			return i
		}
	}
	return -1
}

func CanTransition(from, to Stage) bool {
	if from.Terminal() || !from.Valid() {
		return false
	}
	if to == StageFailed {
		return true
	}
	next, ok := from.Next()
	return ok && next == to
}

type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusDone       Status = "done"
	StatusFailed     Status = "failed"
)

type ProcessingState struct {
	DocumentID    string        `json:"document_id"`
	Stage         Stage         `json:"stage"`
	Status        Status        `json:"status"`
	FailedStage   Stage         `json:"failed_stage,omitempty"`
	FailureReason FailureReason `json:"failure_reason,omitempty"`
	ErrorDetail   string        `json:"error_detail,omitempty"`
	Attempts      int           `json:"attempts"`
	Owner         string        `json:"owner,omitempty"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

func NewProcessingState(documentID string, now time.Time) ProcessingState {
	return ProcessingState{
		DocumentID: documentID,
		Stage:      StagePending,
		Status:     StatusPending,
		UpdatedAt:  now,
	}
}

// RewindTarget reports whether the state may be moved back to stage to.
// Failed documents rewind only to a stage at or before the one that failed.
func (s ProcessingState) RewindTarget(to Stage) bool {
	if to.Terminal() || !to.Valid() || s.Status == StatusInProgress {
		return false
	}
	if s.Stage == StageFailed {
		return s.FailedStage.AtOrAfter(to)
	}
	return s.Stage != to && s.Stage.AtOrAfter(to)
}

type RunOptions struct {
	RunID       string
	StopAfter   Stage
	RetryFailed bool
	Rewind      Stage
}

type ProcessEvent struct {
	RunID      string    `json:"run_id"`
	DocumentID string    `json:"document_id"`
	Stage      Stage     `json:"stage"`
	Status     Status    `json:"status"`
	Detail     string    `json:"detail,omitempty"`
	At         time.Time `json:"at"`
}
