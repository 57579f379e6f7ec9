package review

import "fmt"

// Label is a sentiment category.
type Label string

const (
	Negative Label = "negative"
	Neutral  Label = "neutral"
	Positive Label = "positive"
)

// Labels is the canonical label order. Classifier output vectors are indexed
// in this order.
var Labels = []Label{Negative, Neutral, Positive}

// ParseLabel converts a string into a Label.
func ParseLabel(s string) (Label, error) {
	switch Label(s) {
	case Negative, Neutral, Positive:
		return Label(s), nil
	}
	return "", fmt.Errorf("unknown sentiment label %q", s)
}

// Summary counts records per label.
type Summary struct {
	Positive int
	Neutral  int
	Negative int
}

// Add counts one record with the given label.
func (s *Summary) Add(l Label) {
	switch l {
	case Positive:
		s.Positive++
	case Neutral:
		s.Neutral++
	case Negative:
		s.Negative++
	}
}

// Total returns the number of counted records.
func (s Summary) Total() int {
	return s.Positive + s.Neutral + s.Negative
}

// Count returns the count for a single label.
func (s Summary) Count(l Label) int {
	switch l {
	case Positive:
		return s.Positive
	case Neutral:
		return s.Neutral
	case Negative:
		return s.Negative
	}
	return 0
}

func (s Summary) String() string {
	return fmt.Sprintf("positive: %d, neutral: %d, negative: %d", s.Positive, s.Neutral, s.Negative)
}
