package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kirillkom/vetrecord-pipeline/internal/core/domain"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("OUTPUT_DIR", "/tmp/out")
	t.Setenv("MANIFEST_PATH", "")
	t.Setenv("PII_THRESHOLD", "")
	t.Setenv("OCR_TIMEOUT", "")
	t.Setenv("STATE_BACKEND", "")

	cfg := Load()
	if cfg.ManifestPath != filepath.Join("/tmp/out", "manifest.json") {
		t.Fatalf("expected manifest under output dir, got %q", cfg.ManifestPath)
	}
	if cfg.PIIThreshold != 0.45 {
		t.Fatalf("expected default threshold 0.45, got %v", cfg.PIIThreshold)
	}
	if cfg.OCRTimeout != 10*time.Minute {
		t.Fatalf("expected default OCR timeout 10m, got %v", cfg.OCRTimeout)
	}
	if cfg.StateBackend != BackendSQLite {
		t.Fatalf("expected sqlite backend, got %q", cfg.StateBackend)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	t.Setenv("PIPELINE_CONCURRENCY", "8")
	t.Setenv("PII_TIMEOUT", "45s")
	t.Setenv("OCR_LANGUAGES", "eng+spa")
	t.Setenv("PII_EXCLUDE_LABELS", "IN_PAN, US_SSN")
	t.Setenv("OCR_PREFER_TEXT_LAYER", "true")
	t.Setenv("OCR_GRANULARITY", "Block")

	cfg := Load()
	if cfg.Concurrency != 8 || cfg.PIITimeout != 45*time.Second || !cfg.OCRPreferTextLayer {
		t.Fatalf("unexpected overrides %+v", cfg)
	}
	if cfg.OCRGranularity != domain.GranularityBlock {
		t.Fatalf("expected block granularity, got %q", cfg.OCRGranularity)
	}
	if len(cfg.OCRLanguages) != 2 || cfg.OCRLanguages[1] != "spa" {
		t.Fatalf("unexpected languages %q", cfg.OCRLanguages)
	}
	if len(cfg.PIIExcludeLabels) != 2 || cfg.PIIExcludeLabels[1] != "US_SSN" {
		t.Fatalf("unexpected excludes %q", cfg.PIIExcludeLabels)
	}
}

func TestValidateReportsConfigurationError(t *testing.T) {
	cfg := Load()
	cfg.Concurrency = 0
	cfg.StateBackend = "mongo"
	cfg.SubjectIDPattern = "("
	cfg.PIIThreshold = 1.5
	cfg.OCRGranularity = "line"

	err := cfg.Validate()
	if !domain.IsKind(err, domain.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
}

func TestScrubPolicyMergesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	content := "model_id: custom-model\n" +
		"default_threshold: 0.6\n" +
		"label_thresholds:\n  b-phone: 0.3\n" +
		"exclude_labels: []\n" +
		"denylist: [Buddy, Dr. Hale]\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write policy: %v", err)
	}

	cfg := Load()
	cfg.ScrubPolicyFile = path
	policy, denylist, err := cfg.ScrubPolicy()
	if err != nil {
		t.Fatalf("ScrubPolicy() error = %v", err)
	}
	if policy.ModelID != "custom-model" || policy.DefaultThreshold != 0.6 {
		t.Fatalf("unexpected policy %+v", policy)
	}
	if policy.ThresholdFor("PHONE") != 0.3 {
		t.Fatalf("expected normalized label threshold, got %v", policy.ThresholdFor("PHONE"))
	}
	if policy.Excluded("IN_PAN") {
		t.Fatalf("expected file to clear exclusions")
	}
	if len(denylist) != 2 {
		t.Fatalf("unexpected denylist %q", denylist)
	}
}

func TestScrubPolicyRejectsBadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	if err := os.WriteFile(path, []byte("label_thresholds:\n  PERSON: 2\n"), 0o644); err != nil {
		t.Fatalf("write policy: %v", err)
	}
	cfg := Load()
	cfg.ScrubPolicyFile = path
	if _, _, err := cfg.ScrubPolicy(); !domain.IsKind(err, domain.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}

	cfg.ScrubPolicyFile = filepath.Join(t.TempDir(), "missing.yaml")
	if _, _, err := cfg.ScrubPolicy(); !domain.IsKind(err, domain.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration for missing file, got %v", err)
	}
}
