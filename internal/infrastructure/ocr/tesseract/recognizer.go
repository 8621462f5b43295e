package tesseract

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"github.com/kirillkom/vetrecord-pipeline/internal/core/domain"
)

type Options struct {
	Languages      []string
	TessdataPrefix string
	PageSegMode    int
	DPI            int
}

// Recognizer wraps one long-lived tesseract client. It is not safe for
// concurrent use; each worker owns its own Recognizer.
type Recognizer struct {
	client *gosseract.Client
}

func New(opts Options) (*Recognizer, error) {
	client := gosseract.NewClient()
	if opts.TessdataPrefix != "" {
		if err := client.SetTessdataPrefix(opts.TessdataPrefix); err != nil {
			client.Close()
			return nil, domain.WrapError(domain.ErrConfiguration, "set tessdata prefix", err)
		}
	}
	if len(opts.Languages) > 0 {
		if err := client.SetLanguage(opts.Languages...); err != nil {
			client.Close()
			return nil, domain.WrapError(domain.ErrConfiguration, "set languages", err)
		}
	}
	if opts.PageSegMode > 0 {
		if err := client.SetPageSegMode(gosseract.PageSegMode(opts.PageSegMode)); err != nil {
			client.Close()
			return nil, domain.WrapError(domain.ErrConfiguration, "set page segmentation mode", err)
		}
	}
	if opts.DPI > 0 {
		if err := client.SetVariable(gosseract.SettableVariable("user_defined_dpi"), strconv.Itoa(opts.DPI)); err != nil {
			client.Close()
			return nil, domain.WrapError(domain.ErrConfiguration, "set dpi", err)
		}
	}
	if err := client.SetVariable(gosseract.SettableVariable("debug_file"), os.DevNull); err != nil {
		client.Close()
		return nil, domain.WrapError(domain.ErrConfiguration, "silence tesseract", err)
	}
	return &Recognizer{client: client}, nil
}

func (r *Recognizer) Name() string { return "tesseract" }

// RecognizeFile returns the text of one image and the mean word confidence.
func (r *Recognizer) RecognizeFile(ctx context.Context, path string) (string, float64, error) {
	if err := r.load(ctx, path); err != nil {
		return "", 0, err
	}
	text, err := r.client.Text()
	if err != nil {
		return "", 0, domain.WrapError(domain.ErrToolInvocation, "recognize text", err)
	}
	return strings.TrimSpace(text), r.meanConfidence(), nil
}

// RecognizeBlocks returns the page text plus each recognized text line with
// its own confidence.
func (r *Recognizer) RecognizeBlocks(ctx context.Context, path string) (domain.PageText, error) {
	text, confidence, err := r.RecognizeFile(ctx, path)
	if err != nil {
		return domain.PageText{}, err
	}
	lines, err := r.client.GetBoundingBoxes(gosseract.RIL_TEXTLINE)
	if err != nil {
		return domain.PageText{}, domain.WrapError(domain.ErrToolInvocation, "recognize text lines", err)
	}
	blocks := make([]domain.TextBlock, 0, len(lines))
	for _, line := range lines {
		content := strings.TrimSpace(line.Word)
		if content == "" {
			continue
		}
		blocks = append(blocks, domain.TextBlock{
			Block:      len(blocks) + 1,
			Text:       content,
			Confidence: line.Confidence / 100.0,
		})
	}
	return domain.PageText{Text: text, Confidence: confidence, Blocks: blocks}, nil
}

func (r *Recognizer) load(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.WrapError(domain.ErrContent, "read image", err)
	}
	if err := r.client.SetImageFromBytes(data); err != nil {
		return domain.WrapError(domain.ErrContent, "set image", err)
	}
	return nil
}

func (r *Recognizer) meanConfidence() float64 {
	boxes, err := r.client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil || len(boxes) == 0 {
		return 0
	}
	var sum float64
	for _, b := range boxes {
		sum += b.Confidence / 100.0
	}
	return sum / float64(len(boxes))
}

func (r *Recognizer) Close() error {
	if err := r.client.Close(); err != nil {
		return fmt.Errorf("close tesseract client: %w", err)
	}
	return nil
}

// Version reports the linked tesseract version, used as a readiness probe.
func Version() string {
	return gosseract.Version()
}
