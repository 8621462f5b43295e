package sidecar

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/kirillkom/vetrecord-pipeline/internal/core/domain"
	"github.com/kirillkom/vetrecord-pipeline/internal/infrastructure/resilience"
)

const (
	OffsetsRune = "rune"
	OffsetsByte = "byte"
)

type Options struct {
	Language          string
	OffsetUnit        string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	Executor          *resilience.Executor
	HTTPClient        *http.Client
}

// Client calls an HTTP token-classification service that hosts the PII model.
type Client struct {
	baseURL    string
	model      string
	language   string
	offsetUnit string
	httpClient *http.Client
	executor   *resilience.Executor
	limiter    *rate.Limiter
}

func New(baseURL, model string, opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 120 * time.Second
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: opts.Timeout}
	}
	if opts.OffsetUnit == "" {
		opts.OffsetUnit = OffsetsRune
	}
	if opts.Language == "" {
		opts.Language = "en"
	}
	var limiter *rate.Limiter
	if opts.RequestsPerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		language:   opts.Language,
		offsetUnit: opts.OffsetUnit,
		httpClient: opts.HTTPClient,
		executor:   opts.Executor,
		limiter:    limiter,
	}
}

type analyzeRequest struct {
	Model    string `json:"model,omitempty"`
	Text     string `json:"text"`
	Language string `json:"language,omitempty"`
}

type analyzeEntity struct {
	Label      string  `json:"label"`
	EntityType string  `json:"entity_type"`
	Group      string  `json:"entity_group"`
	Start      int     `json:"start"`
	End        int     `json:"end"`
	Score      float64 `json:"score"`
}

type analyzeResponse struct {
	Entities []analyzeEntity `json:"entities"`
}

func (c *Client) Detect(ctx context.Context, text string) ([]domain.PIICandidate, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("wait for rate limiter: %w", err)
		}
	}

	request := analyzeRequest{Model: c.model, Text: text, Language: c.language}
	response, err := resilience.Do(ctx, c.executor, "pii.analyze", func(ctx context.Context) (analyzeResponse, error) {
		var out analyzeResponse
		err := c.postJSON(ctx, "/analyze", request, &out, "analyze")
		return out, err
	}, classifyDetectorError)
	if err != nil {
		return nil, resilience.WrapToolError("pii analyze", err)
	}
	return c.toCandidates(text, response.Entities), nil
}

// Ready probes the service health endpoint.
func (c *Client) Ready(ctx context.Context) error {
	return c.getHealth(ctx)
}

func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

func (c *Client) toCandidates(text string, entities []analyzeEntity) []domain.PIICandidate {
	var offsets []int
	if c.offsetUnit == OffsetsRune {
		offsets = runeByteOffsets(text)
	}
	out := make([]domain.PIICandidate, 0, len(entities))
	for _, e := range entities {
		start, end := e.Start, e.End
		if start < 0 || end < 0 {
			continue
		}
		if offsets != nil {
			start, end = toByteOffset(offsets, start), toByteOffset(offsets, end)
		}
		if start >= end {
			continue
		}
		out = append(out, domain.PIICandidate{
			Start:  start,
			End:    end,
			Label:  firstNonEmpty(e.Label, e.EntityType, e.Group),
			Score:  e.Score,
			Source: c.model,
		})
	}
	return out
}

// runeByteOffsets maps rune index i to its byte offset; the final element is len(text).
func runeByteOffsets(text string) []int {
	offsets := make([]int, 0, len(text)+1)
	for i := range text {
		offsets = append(offsets, i)
	}
	return append(offsets, len(text))
}

func toByteOffset(offsets []int, runeIndex int) int {
	switch {
	case runeIndex <= 0:
		return 0
	case runeIndex >= len(offsets):
		return offsets[len(offsets)-1]
	default:
		return offsets[runeIndex]
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
