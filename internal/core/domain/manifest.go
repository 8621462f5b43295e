package domain

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

const ManifestVersion = 1

type FileType string

const (
	FileTypePDF         FileType = "pdf"
	FileTypeImage       FileType = "image"
	FileTypeText        FileType = "text"
	FileTypeUnsupported FileType = "unsupported"
)

type EntryStatus string

const (
	EntryOK          EntryStatus = "ok"
	EntryUnreadable  EntryStatus = "unreadable"
	EntryUnsupported EntryStatus = "unsupported"
)

type EnrollmentStatus string

const (
	EnrollmentDeceased  EnrollmentStatus = "enrolled deceased"
	EnrollmentWithdrawn EnrollmentStatus = "withdrawn"
	EnrollmentInactive  EnrollmentStatus = "enactive"
	EnrollmentUnknown   EnrollmentStatus = "unknown"
)

// DefaultSubjectIDPattern matches study subject identifiers such as 094-123456.
var DefaultSubjectIDPattern = regexp.MustCompile(`094-[0-9]{6}`)

// SourceFile is a single walked filesystem entry before classification.
type SourceFile struct {
	Path     string
	RealPath string
	Size     int64
	Err      string
}

type ManifestEntry struct {
	DocumentID       string           `json:"document_id"`
	SourcePath       string           `json:"source_path"`
	RealPath         string           `json:"real_path,omitempty"`
	FileType         FileType         `json:"file_type"`
	SizeBytes        int64            `json:"size_bytes"`
	SubjectID        string           `json:"subject_id,omitempty"`
	EnrollmentStatus EnrollmentStatus `json:"enrollment_status"`
	Status           EntryStatus      `json:"status"`
	Error            string           `json:"error,omitempty"`
}

// Processable reports whether the entry should be sent through the pipeline stages.
func (e ManifestEntry) Processable() bool {
	return e.Status == EntryOK
}

type Manifest struct {
	Version     int             `json:"version"`
	Root        string          `json:"root"`
	GeneratedAt time.Time       `json:"generated_at"`
	Entries     []ManifestEntry `json:"entries"`
}

func (m *Manifest) Validate() error {
	if m == nil {
		return WrapError(ErrInvalidInput, "validate manifest", fmt.Errorf("manifest is nil"))
	}
	if m.Version != ManifestVersion {
		return WrapError(ErrInvalidInput, "validate manifest", fmt.Errorf("unsupported version %d", m.Version))
	}
	paths := make(map[string]struct{}, len(m.Entries))
	ids := make(map[string]struct{}, len(m.Entries))
	for _, entry := range m.Entries {
		if entry.DocumentID == "" || entry.SourcePath == "" {
			return WrapError(ErrInvalidInput, "validate manifest", fmt.Errorf("entry without id or path"))
		}
		if _, dup := paths[entry.SourcePath]; dup {
			return WrapError(ErrInvalidInput, "validate manifest", fmt.Errorf("duplicate source path %s", entry.SourcePath))
		}
		if _, dup := ids[entry.DocumentID]; dup {
			return WrapError(ErrInvalidInput, "validate manifest", fmt.Errorf("duplicate document id %s", entry.DocumentID))
		}
		paths[entry.SourcePath] = struct{}{}
		ids[entry.DocumentID] = struct{}{}
	}
	return nil
}

func (m *Manifest) Entry(documentID string) (ManifestEntry, bool) {
	for _, entry := range m.Entries {
		if entry.DocumentID == documentID {
			return entry, true
		}
	}
	return ManifestEntry{}, false
}

func (m *Manifest) Processable() []ManifestEntry {
	out := make([]ManifestEntry, 0, len(m.Entries))
	for _, entry := range m.Entries {
		if entry.Processable() {
			out = append(out, entry)
		}
	}
	return out
}

// DocumentIDFor derives a stable identifier from the resolved source path.
func DocumentIDFor(realPath string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("file://"+filepath.ToSlash(realPath))).String()
}

func FileTypeForPath(path string) FileType {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return FileTypePDF
	case ".png", ".jpg", ".jpeg", ".tif", ".tiff", ".bmp", ".gif", ".webp":
		return FileTypeImage
	case ".txt", ".text":
		return FileTypeText
	default:
		return FileTypeUnsupported
	}
}

func EnrollmentStatusForPath(path string) EnrollmentStatus {
	lower := strings.ToLower(filepath.ToSlash(path))
	switch {
	case strings.Contains(lower, string(EnrollmentDeceased)):
		return EnrollmentDeceased
	case strings.Contains(lower, string(EnrollmentWithdrawn)):
		return EnrollmentWithdrawn
	case strings.Contains(lower, string(EnrollmentInactive)):
		return EnrollmentInactive
	default:
		return EnrollmentUnknown
	}
}
