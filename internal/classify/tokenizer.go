package classify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// Tokenizer splits review text into morphs. Implementations must be
// deterministic.
type Tokenizer interface {
	Morphs(ctx context.Context, text string) ([]string, error)
}

// WhitespaceTokenizer splits on whitespace. It suits vocabularies built from
// pre-tokenized text and needs no external service.
type WhitespaceTokenizer struct{}

func (WhitespaceTokenizer) Morphs(_ context.Context, text string) ([]string, error) {
	return strings.Fields(text), nil
}

// HTTPTokenizer asks a morphological analysis service for the morphs of a
// text: POST {"text": ...} answered with {"morphs": [...]}.
type HTTPTokenizer struct {
	URL    string
	client *resty.Client
}

// NewHTTPTokenizer creates a tokenizer backed by the service at url.
func NewHTTPTokenizer(url string, timeout time.Duration) *HTTPTokenizer {
	client := resty.New().SetTimeout(timeout)
	return &HTTPTokenizer{URL: url, client: client}
}

func (t *HTTPTokenizer) Morphs(ctx context.Context, text string) ([]string, error) {
	var result struct {
		Morphs []string `json:"morphs"`
	}
	resp, err := t.client.R().
		SetContext(ctx).
		SetBody(map[string]string{"text": text}).
		SetResult(&result).
		ForceContentType("application/json").
		Post(t.URL)
	if err != nil {
		return nil, fmt.Errorf("tokenizer request: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("tokenizer returned %d: %s", resp.StatusCode(), resp.String())
	}
	return result.Morphs, nil
}

// NewTokenizer returns the tokenizer named by kind.
func NewTokenizer(kind, url string, timeout time.Duration) (Tokenizer, error) {
	switch strings.ToLower(kind) {
	case "", "whitespace":
		return WhitespaceTokenizer{}, nil
	case "http":
		if url == "" {
			return nil, fmt.Errorf("%w: http tokenizer needs tokenizer_url", ErrModelLoad)
		}
		return NewHTTPTokenizer(url, timeout), nil
	}
	return nil, fmt.Errorf("%w: unknown tokenizer %q", ErrModelLoad, kind)
}
