package normalize

import (
	"log/slog"

	"github.com/TobiSchelling/reviewsense/internal/logging"
	"github.com/TobiSchelling/reviewsense/internal/review"
)

// SkippedRow records a raw row that could not be normalized.
type SkippedRow struct {
	Index       int
	ProductName string
	RatingText  string
	Err         error
}

// Result holds the output of a normalization run.
type Result struct {
	Rows    []review.Normalized
	Skipped []SkippedRow
	Summary review.Summary
}

// Normalizer turns raw rows into normalized rows.
type Normalizer struct {
	extractor *Extractor
	threshold float64
	log       *slog.Logger
}

// NewNormalizer creates a normalizer with the given neutral threshold.
func NewNormalizer(extractor *Extractor, threshold float64, log *slog.Logger) *Normalizer {
	return &Normalizer{
		extractor: extractor,
		threshold: threshold,
		log:       logging.OrDefault(log),
	}
}

// Normalize extracts fields and derives the rating and label for each row.
// Rows with a malformed rating are skipped and counted; the batch continues.
func (n *Normalizer) Normalize(rows []review.Raw) *Result {
	r := &Result{Rows: make([]review.Normalized, 0, len(rows))}

	for i, raw := range rows {
		rating, err := ParseRating(raw.RatingText)
		if err != nil {
			n.log.Debug("skipping row", "index", i, "product", raw.ProductName, "error", err)
			r.Skipped = append(r.Skipped, SkippedRow{
				Index:       i,
				ProductName: raw.ProductName,
				RatingText:  raw.RatingText,
				Err:         err,
			})
			continue
		}

		fields := n.extractor.Extract(raw.ProductName)
		label := LabelSentiment(rating, n.threshold)
		r.Rows = append(r.Rows, review.Normalized{
			ProductName:  raw.ProductName,
			ProductLink:  raw.ProductLink,
			RatingText:   raw.RatingText,
			Text:         raw.Text,
			Manufacturer: fields.Manufacturer,
			Chipset:      fields.Chipset,
			Distributor:  fields.Distributor,
			Rating:       rating,
			Sentiment:    label,
		})
		r.Summary.Add(label)
	}

	n.log.Info("normalization complete",
		"rows", len(r.Rows), "skipped", len(r.Skipped),
		"positive", r.Summary.Positive, "neutral", r.Summary.Neutral, "negative", r.Summary.Negative)
	return r
}
