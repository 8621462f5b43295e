package ocr

import (
	"errors"
	"fmt"
	"strings"

	pdflib "github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/kirillkom/vetrecord-pipeline/internal/core/domain"
)

// inspectPDF validates the document structure and returns its page count.
// Structural failures are content errors and are never retried.
func inspectPDF(path string) (int, error) {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	if err := api.ValidateFile(path, conf); err != nil {
		return 0, domain.WrapError(domain.ErrContent, "validate pdf", err)
	}
	pageCount, err := api.PageCountFile(path)
	if err != nil {
		return 0, domain.WrapError(domain.ErrContent, "count pdf pages", err)
	}
	if pageCount <= 0 {
		return 0, domain.WrapError(domain.ErrContent, "count pdf pages", errors.New("pdf has no pages"))
	}
	return pageCount, nil
}

// readTextLayer returns the embedded text of every page that has one, keyed by
// 1-based page number.
func readTextLayer(path string) (pages map[int]string, err error) {
	defer func() {
		if r := recover(); r != nil {
			pages, err = nil, fmt.Errorf("read text layer: %v", r)
		}
	}()

	f, reader, err := pdflib.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	pages = map[int]string{}
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		if strings.TrimSpace(text) != "" {
			pages[i] = text
		}
	}
	return pages, nil
}
