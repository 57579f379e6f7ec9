// Package snapshot persists the record set of each pipeline stage as a
// BOM-prefixed UTF-8 CSV file with a header row.
package snapshot

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/TobiSchelling/reviewsense/internal/normalize"
	"github.com/TobiSchelling/reviewsense/internal/review"
)

// Column layouts of the three snapshots.
var (
	RawColumns        = []string{"product_name", "product_link", "rating", "review"}
	NormalizedColumns = []string{"product_name", "manufacturer", "chipset", "distributor", "rating", "sentiment", "review"}
	ClassifiedColumns = append(append([]string{}, NormalizedColumns...), "predicted", "confidence")
)

// ErrBadHeader is returned when a file lacks a column the reader needs.
var ErrBadHeader = errors.New("snapshot header mismatch")

// WriteRaw writes the raw snapshot.
func WriteRaw(path string, rows []review.Raw) error {
	records := make([][]string, len(rows))
	for i, r := range rows {
		records[i] = []string{r.ProductName, r.ProductLink, r.RatingText, r.Text}
	}
	return write(path, RawColumns, records)
}

// ReadRaw reads a raw snapshot.
func ReadRaw(path string) ([]review.Raw, error) {
	var rows []review.Raw
	err := read(path, RawColumns, func(get func(string) string) error {
		rows = append(rows, review.Raw{
			ProductName: get("product_name"),
			ProductLink: get("product_link"),
			RatingText:  get("rating"),
			Text:        get("review"),
		})
		return nil
	})
	return rows, err
}

// WriteNormalized writes the normalized snapshot. The product link is not
// part of it.
func WriteNormalized(path string, rows []review.Normalized) error {
	records := make([][]string, len(rows))
	for i, r := range rows {
		records[i] = normalizedRecord(r)
	}
	return write(path, NormalizedColumns, records)
}

// ReadNormalized reads a normalized snapshot.
func ReadNormalized(path string) ([]review.Normalized, error) {
	var rows []review.Normalized
	err := read(path, NormalizedColumns, func(get func(string) string) error {
		n, err := parseNormalized(get)
		if err != nil {
			return err
		}
		rows = append(rows, n)
		return nil
	})
	return rows, err
}

// WriteClassified writes the final snapshot.
func WriteClassified(path string, rows []review.Classified) error {
	records := make([][]string, len(rows))
	for i, r := range rows {
		records[i] = append(normalizedRecord(r.Normalized),
			string(r.Predicted),
			strconv.FormatFloat(r.Confidence, 'f', 6, 64),
		)
	}
	return write(path, ClassifiedColumns, records)
}

// ReadClassified reads a final snapshot.
func ReadClassified(path string) ([]review.Classified, error) {
	var rows []review.Classified
	err := read(path, ClassifiedColumns, func(get func(string) string) error {
		n, err := parseNormalized(get)
		if err != nil {
			return err
		}
		predicted, err := review.ParseLabel(get("predicted"))
		if err != nil {
			return err
		}
		conf, err := strconv.ParseFloat(get("confidence"), 64)
		if err != nil {
			return fmt.Errorf("confidence %q: %w", get("confidence"), err)
		}
		rows = append(rows, review.Classified{Normalized: n, Predicted: predicted, Confidence: conf})
		return nil
	})
	return rows, err
}

func normalizedRecord(r review.Normalized) []string {
	return []string{
		r.ProductName,
		optional(r.Manufacturer),
		optional(r.Chipset),
		r.Distributor,
		strconv.FormatFloat(r.Rating, 'f', -1, 64),
		string(r.Sentiment),
		r.Text,
	}
}

func parseNormalized(get func(string) string) (review.Normalized, error) {
	rating, err := strconv.ParseFloat(get("rating"), 64)
	if err != nil {
		return review.Normalized{}, fmt.Errorf("%w: %q", normalize.ErrMalformedRating, get("rating"))
	}
	if err := normalize.CheckRating(rating); err != nil {
		return review.Normalized{}, err
	}
	label, err := review.ParseLabel(get("sentiment"))
	if err != nil {
		return review.Normalized{}, err
	}
	return review.Normalized{
		ProductName:  get("product_name"),
		Text:         get("review"),
		Manufacturer: present(get("manufacturer")),
		Chipset:      present(get("chipset")),
		Distributor:  get("distributor"),
		Rating:       rating,
		Sentiment:    label,
	}, nil
}

func optional(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func present(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func write(path string, header []string, records [][]string) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating snapshot: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("closing snapshot: %w", cerr)
		}
	}()

	bw := transform.NewWriter(f, unicode.UTF8BOM.NewEncoder())
	w := csv.NewWriter(bw)
	if err := w.Write(header); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	if err := w.WriteAll(records); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return bw.Close()
}

// read streams the data rows of path to fn. get returns a cell by column name.
func read(path string, columns []string, fn func(get func(string) string) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening snapshot: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(transform.NewReader(f, unicode.BOMOverride(unicode.UTF8.NewDecoder())))
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrBadHeader, path, err)
	}
	index := make(map[string]int, len(header))
	for i, name := range header {
		index[name] = i
	}
	for _, c := range columns {
		if _, ok := index[c]; !ok {
			return fmt.Errorf("%w: %s: missing column %q", ErrBadHeader, path, c)
		}
	}

	for line := 2; ; line++ {
		rec, err := r.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		get := func(col string) string {
			if i := index[col]; i < len(rec) {
				return rec[i]
			}
			return ""
		}
		if err := fn(get); err != nil {
			return fmt.Errorf("%s line %d: %w", path, line, err)
		}
	}
}
