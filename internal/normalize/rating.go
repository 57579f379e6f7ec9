package normalize

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"

	"github.com/TobiSchelling/reviewsense/internal/review"
)

// ErrMalformedRating is returned when a rating string has no usable number.
var ErrMalformedRating = errors.New("malformed rating")

// RatingScale is the divisor that maps the site's 0-100 scale onto 0-5.
const RatingScale = 20

// MaxRating is the top of the normalized scale.
const MaxRating = 5

var nonNumeric = regexp.MustCompile(`[^0-9.]`)

// ParseRating strips everything but digits and '.', parses the remainder and
// maps it onto 0-5. Empty, unparsable or out-of-range input fails with
// ErrMalformedRating.
func ParseRating(raw string) (float64, error) {
	digits := nonNumeric.ReplaceAllString(raw, "")
	if digits == "" {
		return 0, fmt.Errorf("%w: %q has no digits", ErrMalformedRating, raw)
	}

	v, err := strconv.ParseFloat(digits, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrMalformedRating, raw)
	}

	r := v / RatingScale
	if CheckRating(r) != nil {
		return 0, fmt.Errorf("%w: %q is outside 0-100", ErrMalformedRating, raw)
	}
	return r, nil
}

// CheckRating reports whether r is a finite rating on the 0-5 scale.
func CheckRating(r float64) error {
	if math.IsNaN(r) || math.IsInf(r, 0) || r < 0 || r > MaxRating {
		return fmt.Errorf("%w: %v is outside 0-%d", ErrMalformedRating, r, MaxRating)
	}
	return nil
}

// LabelSentiment maps a rating to a label: above the threshold is positive,
// below is negative, equal is neutral.
func LabelSentiment(rating, threshold float64) review.Label {
	switch {
	case rating > threshold:
		return review.Positive
	case rating < threshold:
		return review.Negative
	default:
		return review.Neutral
	}
}
