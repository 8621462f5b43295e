package bootstrap

import (
	"context"
	"log/slog"

	"github.com/kirillkom/vetrecord-pipeline/internal/config"
	"github.com/kirillkom/vetrecord-pipeline/internal/core/domain"
	"github.com/kirillkom/vetrecord-pipeline/internal/core/ports"
	"github.com/kirillkom/vetrecord-pipeline/internal/infrastructure/ocr"
	"github.com/kirillkom/vetrecord-pipeline/internal/infrastructure/ocr/tesseract"
	"github.com/kirillkom/vetrecord-pipeline/internal/infrastructure/pii/pattern"
	"github.com/kirillkom/vetrecord-pipeline/internal/infrastructure/pii/sidecar"
	"github.com/kirillkom/vetrecord-pipeline/internal/infrastructure/resilience"
)

// handleFactory gives every worker its own tesseract client and detector.
type handleFactory struct {
	cfg        config.Config
	policy     domain.ScrubPolicy
	executor   *resilience.Executor
	rasterizer *ocr.Rasterizer
	logger     *slog.Logger
}

func newHandleFactory(cfg config.Config, policy domain.ScrubPolicy, executor *resilience.Executor, logger *slog.Logger) *handleFactory {
	return &handleFactory{
		cfg:        cfg,
		policy:     policy,
		executor:   executor,
		rasterizer: ocr.NewRasterizer(cfg.OCRRasterizer, cfg.OCRDPI),
		logger:     logger,
	}
}

// check verifies the external tools once at startup.
func (f *handleFactory) check(ctx context.Context) error {
	if err := f.rasterizer.Check(); err != nil {
		return err
	}
	recognizer, err := f.newRecognizer()
	if err != nil {
		return err
	}
	_ = recognizer.Close()
	f.logger.Info("tesseract available", "version", tesseract.Version(), "languages", f.cfg.OCRLanguages)

	if !f.useSidecar() {
		return nil
	}
	client := f.newSidecar()
	defer client.Close()
	if err := resilience.WaitReady(ctx, "pii-sidecar", client.Ready, readinessConfig(f.cfg), f.logger); err != nil {
		return domain.WrapError(domain.ErrConfiguration, "wait for pii sidecar", err)
	}
	return nil
}

func (f *handleFactory) NewHandles(_ context.Context, workerID int) (*ports.WorkerHandles, error) {
	recognizer, err := f.newRecognizer()
	if err != nil {
		return nil, err
	}
	engine := ocr.NewEngine(recognizer, ocr.Options{
		Rasterizer:      f.rasterizer,
		PreferTextLayer: f.cfg.OCRPreferTextLayer,
		Granularity:     f.cfg.OCRGranularity,
		WorkDir:         f.cfg.OCRWorkDir,
		Logger:          f.logger.With("worker", workerID),
	})

	detector, err := f.newDetector()
	if err != nil {
		_ = engine.Close()
		return nil, err
	}
	return &ports.WorkerHandles{OCR: engine, PII: detector}, nil
}

func (f *handleFactory) newRecognizer() (*tesseract.Recognizer, error) {
	return tesseract.New(tesseract.Options{
		Languages:      f.cfg.OCRLanguages,
		TessdataPrefix: f.cfg.TessdataPrefix,
		PageSegMode:    f.cfg.OCRPageSegMode,
		DPI:            f.cfg.OCRDPI,
	})
}

func (f *handleFactory) newDetector() (ports.PIIDetector, error) {
	var detectors []ports.PIIDetector
	if f.useSidecar() {
		detectors = append(detectors, f.newSidecar())
	}
	if f.cfg.PIIDetector == config.DetectorPattern || f.cfg.PIIDetector == config.DetectorBoth {
		rules, err := pattern.New(pattern.DefaultRules()...)
		if err != nil {
			return nil, err
		}
		detectors = append(detectors, rules)
	}
	return pattern.Combine(detectors...), nil
}

func (f *handleFactory) useSidecar() bool {
	return f.cfg.PIIDetector == config.DetectorSidecar || f.cfg.PIIDetector == config.DetectorBoth
}

func (f *handleFactory) newSidecar() *sidecar.Client {
	return sidecar.New(f.cfg.PIIURL, f.policy.ModelID, sidecar.Options{
		Language:          f.cfg.PIILanguage,
		OffsetUnit:        f.cfg.PIIOffsetUnit,
		Timeout:           f.cfg.PIITimeout,
		RequestsPerSecond: f.cfg.PIIRequestsPerSecond,
		Executor:          f.executor,
	})
}
