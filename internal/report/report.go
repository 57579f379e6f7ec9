// Package report renders a run summary as Markdown and HTML.
package report

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/mattn/go-runewidth"

	"github.com/TobiSchelling/reviewsense/internal/database"
	"github.com/TobiSchelling/reviewsense/internal/review"
)

const (
	samplesPerLabel = 3
	sampleWidth     = 80
)

// Input is everything a report is built from. Rows is empty when the run
// did not reach the classify stage.
type Input struct {
	Run      database.Run
	Stages   []database.Stage
	Products []database.Product
	Rows     []review.Classified
}

// Build assembles the Markdown report of a run.
func Build(in Input) string {
	var sections []string

	sections = append(sections, fmt.Sprintf("# Review sentiment: %s", escapeInline(in.Run.Query)))
	sections = append(sections, runSummary(in.Run))

	if len(in.Stages) > 0 {
		sections = append(sections, "## Stages\n\n"+stageTable(in.Stages))
	}
	if len(in.Products) > 0 {
		sections = append(sections, "## Products\n\n"+productTable(in.Products))
	}

	if len(in.Rows) == 0 {
		sections = append(sections, "## Sentiment\n\nNo classified reviews for this run.")
	} else {
		sections = append(sections, "## Sentiment\n\n"+sentimentTable(in.Rows))
		sections = append(sections, "## By chipset\n\n"+chipsetTable(in.Rows))
		sections = append(sections, samples(in.Rows))
	}

	return strings.Join(sections, "\n\n") + "\n"
}

func runSummary(r database.Run) string {
	lines := []string{
		"- Run: `" + r.ID + "`",
		fmt.Sprintf("- Products requested: %d", r.TopK),
		"- Status: " + string(r.Status),
	}
	if r.StartedAt != nil {
		lines = append(lines, "- Started: "+*r.StartedAt)
	}
	if r.FinishedAt != nil {
		lines = append(lines, "- Finished: "+*r.FinishedAt)
	}
	if r.Error != nil {
		lines = append(lines, "- Error: "+escapeInline(*r.Error))
	}
	return strings.Join(lines, "\n")
}

func stageTable(stages []database.Stage) string {
	rows := [][]string{{"Stage", "Rows", "Skipped", "Positive", "Neutral", "Negative", "Notes"}}
	for _, s := range stages {
		note := ""
		if s.Error != nil {
			note = *s.Error
		}
		rows = append(rows, []string{
			s.Stage, strconv.Itoa(s.Rows), strconv.Itoa(s.Skipped),
			strconv.Itoa(s.Positive), strconv.Itoa(s.Neutral), strconv.Itoa(s.Negative), note,
		})
	}
	return table(rows)
}

func productTable(products []database.Product) string {
	rows := [][]string{{"#", "Product", "Reviews", "Pages", "Notes"}}
	for _, p := range products {
		note := ""
		if p.Error != nil {
			note = *p.Error
		}
		rows = append(rows, []string{
			strconv.Itoa(p.Position),
			fmt.Sprintf("[%s](%s)", escapeInline(p.Name), p.Link),
			strconv.Itoa(p.Reviews), strconv.Itoa(p.Pages), note,
		})
	}
	return table(rows)
}

// sentimentTable compares the rating-derived labels with the model's.
func sentimentTable(rows []review.Classified) string {
	var byRating, byModel review.Summary
	agree := 0
	for _, r := range rows {
		byRating.Add(r.Sentiment)
		byModel.Add(r.Predicted)
		if r.Sentiment == r.Predicted {
			agree++
		}
	}

	total := len(rows)
	out := [][]string{{"Label", "By rating", "Predicted", "Share"}}
	for _, l := range []review.Label{review.Positive, review.Neutral, review.Negative} {
		out = append(out, []string{
			string(l),
			strconv.Itoa(byRating.Count(l)),
			strconv.Itoa(byModel.Count(l)),
			percent(byModel.Count(l), total),
		})
	}
	return table(out) + fmt.Sprintf("\n\nPredictions agree with the rating label for %d of %d reviews (%s).",
		agree, total, percent(agree, total))
}

func chipsetTable(rows []review.Classified) string {
	counts := map[string]*review.Summary{}
	for _, r := range rows {
		key := "unknown"
		if r.Chipset != nil {
			key = *r.Chipset
		}
		if counts[key] == nil {
			counts[key] = &review.Summary{}
		}
		counts[key].Add(r.Predicted)
	}

	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		ti, tj := counts[keys[i]].Total(), counts[keys[j]].Total()
		if ti != tj {
			return ti > tj
		}
		return keys[i] < keys[j]
	})

	out := [][]string{{"Chipset", "Reviews", "Positive", "Neutral", "Negative"}}
	for _, k := range keys {
		s := counts[k]
		out = append(out, []string{
			k, strconv.Itoa(s.Total()),
			strconv.Itoa(s.Positive), strconv.Itoa(s.Neutral), strconv.Itoa(s.Negative),
		})
	}
	return table(out)
}

// samples lists the most confident predictions per label.
func samples(rows []review.Classified) string {
	var b strings.Builder
	b.WriteString("## Most confident predictions")
	for _, l := range []review.Label{review.Positive, review.Neutral, review.Negative} {
		var picked []review.Classified
		for _, r := range rows {
			if r.Predicted == l {
				picked = append(picked, r)
			}
		}
		if len(picked) == 0 {
			continue
		}
		sort.SliceStable(picked, func(i, j int) bool { return picked[i].Confidence > picked[j].Confidence })
		if len(picked) > samplesPerLabel {
			picked = picked[:samplesPerLabel]
		}

		fmt.Fprintf(&b, "\n\n### %s\n", l)
		for _, r := range picked {
			text := runewidth.Truncate(strings.Join(strings.Fields(r.Text), " "), sampleWidth, "...")
			fmt.Fprintf(&b, "\n- %.2f %s: %s", r.Confidence, escapeInline(r.ProductName), escapeInline(text))
		}
	}
	return b.String()
}

func percent(n, total int) string {
	if total == 0 {
		return "0.0%"
	}
	return fmt.Sprintf("%.1f%%", float64(n)*100/float64(total))
}

// table renders a Markdown table whose columns are padded to the same display
// width, so wide Hangul cells line up in the source text too.
func table(rows [][]string) string {
	widths := make([]int, len(rows[0]))
	for _, row := range rows {
		for i, cell := range row {
			row[i] = escapeCell(cell)
			widths[i] = max(widths[i], runewidth.StringWidth(row[i]), 3)
		}
	}

	var lines []string
	for r, row := range rows {
		lines = append(lines, tableRow(row, widths))
		if r == 0 {
			sep := make([]string, len(widths))
			for i, w := range widths {
				sep[i] = strings.Repeat("-", w)
			}
			lines = append(lines, tableRow(sep, widths))
		}
	}
	return strings.Join(lines, "\n")
}

func tableRow(cells []string, widths []int) string {
	var sb strings.Builder
	sb.WriteString("|")
	for i, c := range cells {
		sb.WriteString(" ")
		sb.WriteString(runewidth.FillRight(c, widths[i]))
		sb.WriteString(" |")
	}
	return sb.String()
}

func escapeCell(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	return strings.ReplaceAll(s, "|", `\|`)
}

var inlineEscaper = strings.NewReplacer(
	`\`, `\\`, "*", `\*`, "_", `\_`, "`", "\\`", "[", `\[`, "]", `\]`, "<", "&lt;", ">", "&gt;",
)

func escapeInline(s string) string {
	return inlineEscaper.Replace(s)
}
