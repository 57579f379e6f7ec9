// Package classify predicts a sentiment label for each normalized review.
package classify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/TobiSchelling/reviewsense/internal/config"
	"github.com/TobiSchelling/reviewsense/internal/logging"
	"github.com/TobiSchelling/reviewsense/internal/review"
)

// ErrModelLoad is returned when the tokenizer, vocabulary or model cannot be
// loaded. The classify stage fails; earlier snapshots are unaffected.
var ErrModelLoad = errors.New("model or tokenizer load failed")

// Result holds classified rows and the count per predicted label.
type Result struct {
	Rows    []review.Classified
	Summary review.Summary
}

// Classifier tokenizes, encodes and predicts.
type Classifier struct {
	tokenizer Tokenizer
	vocab     *Vocabulary
	model     Model
	maxLen    int
	log       *slog.Logger
}

// New creates a classifier from already loaded parts. maxLen is the model's
// input width and must be at least 1.
func New(tok Tokenizer, vocab *Vocabulary, model Model, maxLen int, log *slog.Logger) (*Classifier, error) {
	if maxLen < 1 {
		return nil, fmt.Errorf("%w: max_len %d must be at least 1", ErrModelLoad, maxLen)
	}
	return &Classifier{
		tokenizer: tok,
		vocab:     vocab,
		model:     model,
		maxLen:    maxLen,
		log:       logging.OrDefault(log),
	}, nil
}

// Load builds a classifier from configuration and checks that the model
// endpoint is serving. Every failure wraps ErrModelLoad.
func Load(ctx context.Context, cfg config.Classifier, log *slog.Logger) (*Classifier, error) {
	tok, err := NewTokenizer(cfg.Tokenizer, cfg.TokenizerURL, cfg.Timeout)
	if err != nil {
		return nil, err
	}
	vocab, err := LoadVocabulary(cfg.VocabularyPath)
	if err != nil {
		return nil, err
	}
	model := NewServingModel(cfg.Endpoint, cfg.BatchSize, cfg.Timeout)
	if err := model.Check(ctx); err != nil {
		return nil, err
	}

	log = logging.OrDefault(log)
	log.Info("classifier loaded", "vocabulary", vocab.Size(), "endpoint", cfg.Endpoint, "tokenizer", cfg.Tokenizer)
	return New(tok, vocab, model, cfg.MaxLen, log)
}

// Classify predicts a label for every row, preserving order. The predicted
// label is the arg-max of the model's vector and the confidence its value.
func (c *Classifier) Classify(ctx context.Context, rows []review.Normalized) (*Result, error) {
	inputs := make([][]int, len(rows))
	for i, r := range rows {
		morphs, err := c.tokenizer.Morphs(ctx, r.Text)
		if err != nil {
			return nil, fmt.Errorf("tokenizing row %d: %w", i, err)
		}
		inputs[i] = Pad(c.vocab.Encode(morphs), c.maxLen)
	}

	res := &Result{Rows: make([]review.Classified, 0, len(rows))}
	if len(rows) == 0 {
		return res, nil
	}

	preds, err := c.model.Predict(ctx, inputs)
	if err != nil {
		return nil, fmt.Errorf("predicting: %w", err)
	}
	if len(preds) != len(rows) {
		return nil, fmt.Errorf("model returned %d predictions for %d rows", len(preds), len(rows))
	}

	for i, p := range preds {
		label, conf, err := argmax(p)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		res.Rows = append(res.Rows, review.Classified{Normalized: rows[i], Predicted: label, Confidence: conf})
		res.Summary.Add(label)
	}

	c.log.Info("classification complete", "rows", len(res.Rows), "summary", res.Summary.String())
	return res, nil
}

// argmax returns the label with the highest probability. Ties go to the
// earlier label.
func argmax(p []float64) (review.Label, float64, error) {
	if len(p) != len(review.Labels) {
		return "", 0, fmt.Errorf("prediction has %d values, want %d", len(p), len(review.Labels))
	}
	best := 0
	for i, v := range p {
		if math.IsNaN(v) || v < 0 || v > 1 {
			return "", 0, fmt.Errorf("probability %v out of range", v)
		}
		if v > p[best] {
			best = i
		}
	}
	return review.Labels[best], p[best], nil
}
