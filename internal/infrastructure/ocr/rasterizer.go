package ocr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/kirillkom/vetrecord-pipeline/internal/core/domain"
)

const (
	defaultRasterCommand = "pdftoppm"
	defaultRasterDPI     = 300
)

// Rasterizer renders PDF pages to PNG files with an external poppler binary.
type Rasterizer struct {
	command string
	dpi     int
}

func NewRasterizer(command string, dpi int) *Rasterizer {
	if command == "" {
		command = defaultRasterCommand
	}
	if dpi <= 0 {
		dpi = defaultRasterDPI
	}
	return &Rasterizer{command: command, dpi: dpi}
}

// Check verifies the binary can be found.
func (r *Rasterizer) Check() error {
	if _, err := exec.LookPath(r.command); err != nil {
		return domain.WrapError(domain.ErrConfiguration, "locate rasterizer", err)
	}
	return nil
}

// Rasterize renders every page of pdfPath into outDir and returns the image
// paths in page order.
func (r *Rasterizer) Rasterize(ctx context.Context, pdfPath, outDir string) ([]string, error) {
	prefix := filepath.Join(outDir, "page")
	cmd := exec.CommandContext(ctx, r.command, "-r", strconv.Itoa(r.dpi), "-png", pdfPath, prefix)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, classifyRasterError(err, strings.TrimSpace(stderr.String()))
	}

	images, err := filepath.Glob(prefix + "-*.png")
	if err != nil {
		return nil, fmt.Errorf("list rendered pages: %w", err)
	}
	if len(images) == 0 {
		return nil, domain.WrapError(domain.ErrContent, "rasterize pdf", errors.New("no pages rendered"))
	}
	sort.Strings(images)
	return images, nil
}

// classifyRasterError maps poppler exit codes: 1 means the PDF could not be
// opened, anything else is a tool failure.
func classifyRasterError(err error, stderr string) error {
	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
		return domain.WrapError(domain.ErrConfiguration, "rasterize pdf", err)
	}
	if stderr != "" {
		err = fmt.Errorf("%w: %s", err, stderr)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
		return domain.WrapError(domain.ErrContent, "rasterize pdf", err)
	}
	return domain.WrapError(domain.ErrToolInvocation, "rasterize pdf", err)
}
