package normalize

import (
	"errors"
	"testing"

	"github.com/TobiSchelling/reviewsense/internal/review"
)

func TestNormalizeSkipsMalformedRatings(t *testing.T) {
	n := NewNormalizer(defaultExtractor(), 4.0, nil)
	rows := []review.Raw{
		{ProductName: "MSI 지포스 RTX 4070 벤투스 2X", ProductLink: "https://prod.danawa.com/info/?pcode=1", RatingText: "80", Text: "good"},
		{ProductName: "MSI 지포스 RTX 4070 벤투스 2X", ProductLink: "https://prod.danawa.com/info/?pcode=1", RatingText: "", Text: "bad card"},
	}

	r := n.Normalize(rows)

	if len(r.Rows) != 1 {
		t.Fatalf("expected 1 normalized row, got %d", len(r.Rows))
	}
	row := r.Rows[0]
	if row.Rating != 4.0 {
		t.Errorf("expected rating 4.0, got %v", row.Rating)
	}
	if row.Sentiment != review.Neutral {
		t.Errorf("expected neutral, got %q", row.Sentiment)
	}
	if deref(row.Manufacturer) != "MSI" || deref(row.Chipset) != "RTX 4070" || row.Distributor != "Official" {
		t.Errorf("unexpected fields: %s / %s / %s", deref(row.Manufacturer), deref(row.Chipset), row.Distributor)
	}
	if row.Text != "good" {
		t.Errorf("expected review text carried through, got %q", row.Text)
	}

	if len(r.Skipped) != 1 {
		t.Fatalf("expected skip count 1, got %d", len(r.Skipped))
	}
	if r.Skipped[0].Index != 1 || !errors.Is(r.Skipped[0].Err, ErrMalformedRating) {
		t.Errorf("unexpected skipped row: %+v", r.Skipped[0])
	}
	if r.Summary.Neutral != 1 || r.Summary.Total() != 1 {
		t.Errorf("unexpected summary: %s", r.Summary)
	}
}

func TestNormalizeSummary(t *testing.T) {
	n := NewNormalizer(defaultExtractor(), 4.0, nil)
	rows := []review.Raw{
		{ProductName: "a", RatingText: "100"},
		{ProductName: "a", RatingText: "90"},
		{ProductName: "a", RatingText: "80"},
		{ProductName: "a", RatingText: "40"},
		{ProductName: "a", RatingText: "n/a"},
	}

	r := n.Normalize(rows)

	want := review.Summary{Positive: 2, Neutral: 1, Negative: 1}
	if r.Summary != want {
		t.Errorf("expected %s, got %s", want, r.Summary)
	}
	if len(r.Skipped) != 1 {
		t.Errorf("expected 1 skipped, got %d", len(r.Skipped))
	}
}

func TestNormalizeEmpty(t *testing.T) {
	n := NewNormalizer(defaultExtractor(), 4.0, nil)
	r := n.Normalize(nil)
	if len(r.Rows) != 0 || len(r.Skipped) != 0 || r.Summary.Total() != 0 {
		t.Errorf("expected empty result, got %+v", r)
	}
}
