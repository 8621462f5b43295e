package domain

import "time"

type FieldName string

const (
	FieldSubjectID   FieldName = "subject_id"
	FieldVisitDate   FieldName = "visit_date"
	FieldYearInStudy FieldName = "year_in_study"
)

type MatchKind string

const (
	MatchPath  MatchKind = "path"
	MatchText  MatchKind = "text"
	MatchExact MatchKind = "exact"
	MatchNear  MatchKind = "near"
)

type TextSpan struct {
	Start int    `json:"start"`
	End   int    `json:"end"`
	Text  string `json:"text"`
}

type MinedField struct {
	DocumentID string    `json:"document_id"`
	Field      FieldName `json:"field"`
	Value      string    `json:"value"`
	Match      MatchKind `json:"match"`
	SourceSpan *TextSpan `json:"source_span,omitempty"`
	Ambiguous  bool      `json:"ambiguous"`
	Candidates int       `json:"candidates"`
}

type VisitRecord struct {
	SubjectID   string
	VisitDate   time.Time
	YearInStudy int
	HasYear     bool
}

type SubjectProfile struct {
	SubjectID string
	BirthDate time.Time
	DeathDate time.Time
}

// ReferenceTables holds the lookup data used by the metadata miner.
type ReferenceTables struct {
	Visits   map[string][]VisitRecord
	Profiles map[string]SubjectProfile
}

func NewReferenceTables() *ReferenceTables {
	return &ReferenceTables{
		Visits:   map[string][]VisitRecord{},
		Profiles: map[string]SubjectProfile{},
	}
}

func (t *ReferenceTables) VisitsFor(subjectID string) []VisitRecord {
	if t == nil {
		return nil
	}
	return t.Visits[subjectID]
}

func (t *ReferenceTables) Profile(subjectID string) (SubjectProfile, bool) {
	if t == nil {
		return SubjectProfile{}, false
	}
	profile, ok := t.Profiles[subjectID]
	return profile, ok
}

func (t *ReferenceTables) Known(subjectID string) bool {
	if t == nil {
		return false
	}
	if _, ok := t.Visits[subjectID]; ok {
		return true
	}
	_, ok := t.Profiles[subjectID]
	return ok
}
