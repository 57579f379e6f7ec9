package report

import (
	"strings"
	"testing"

	"github.com/mattn/go-runewidth"

	"github.com/TobiSchelling/reviewsense/internal/database"
	"github.com/TobiSchelling/reviewsense/internal/review"
)

func ptr(s string) *string { return &s }

func classified(product string, chipset *string, rating, predicted review.Label, conf float64, text string) review.Classified {
	return review.Classified{
		Normalized: review.Normalized{ProductName: product, Chipset: chipset, Sentiment: rating, Text: text, Distributor: "Official"},
		Predicted:  predicted,
		Confidence: conf,
	}
}

func testInput() Input {
	return Input{
		Run: database.Run{
			ID: "run-1", Query: "RTX 4070", TopK: 2, Status: database.StatusCompleted,
			StartedAt: ptr("2026-10-15 09:00:00"), FinishedAt: ptr("2026-10-15 09:05:00"),
		},
		Stages: []database.Stage{
			{Stage: "collect", Rows: 5},
			{Stage: "normalize", Rows: 4, Skipped: 1, Positive: 2, Neutral: 1, Negative: 1},
			{Stage: "classify", Rows: 4, Positive: 2, Negative: 2},
		},
		Products: []database.Product{
			{Position: 1, Name: "MSI 지포스 RTX 4070 | 게이밍", Link: "https://a", Reviews: 5, Pages: 1},
			{Position: 2, Name: "ZOTAC RTX 3060", Link: "https://b", Error: ptr("reviews tab unavailable")},
		},
		Rows: []review.Classified{
			classified("MSI", ptr("RTX 4070"), review.Positive, review.Positive, 0.91, "조용하고 시원합니다"),
			classified("MSI", ptr("RTX 4070"), review.Positive, review.Positive, 0.97, "최고"),
			classified("MSI", ptr("RTX 4070"), review.Neutral, review.Negative, 0.55, "그냥 그래요"),
			classified("MSI", nil, review.Negative, review.Negative, 0.88, strings.Repeat("소음이 심해요 ", 30)),
		},
	}
}

func TestBuild(t *testing.T) {
	out := Build(testInput())

	for _, want := range []string{
		"# Review sentiment: RTX 4070",
		"- Run: `run-1`",
		"## Stages",
		"## Products",
		`MSI 지포스 RTX 4070 \| 게이밍`,
		"reviews tab unavailable",
		"agree with the rating label for 3 of 4 reviews (75.0%)",
		"## By chipset",
		"unknown",
		"### positive",
		"- 0.97 MSI: 최고",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "### neutral") {
		t.Error("labels without predictions should have no sample section")
	}
	if strings.Index(out, "0.97") > strings.Index(out, "0.91") {
		t.Error("samples should be ordered by confidence")
	}
}

func TestBuildWithoutRows(t *testing.T) {
	in := testInput()
	in.Rows = nil
	in.Run.Status = database.StatusFailed
	in.Run.Error = ptr("model or tokenizer load failed")

	out := Build(in)
	if !strings.Contains(out, "No classified reviews") {
		t.Error("expected placeholder for missing predictions")
	}
	if !strings.Contains(out, "- Error: model or tokenizer load failed") {
		t.Error("expected run error in summary")
	}
}

func TestTableAlignsWideCells(t *testing.T) {
	out := table([][]string{{"Name", "N"}, {"갤럭시", "1"}, {"MSI", "22"}})
	lines := strings.Split(out, "\n")
	if len(lines) != 4 {
		t.Fatalf("expected 4 lines, got %d", len(lines))
	}
	width := runewidth.StringWidth(lines[0])
	for _, l := range lines[1:] {
		if runewidth.StringWidth(l) != width {
			t.Errorf("line %q has width %d, want %d", l, runewidth.StringWidth(l), width)
		}
	}
	if !strings.HasPrefix(lines[1], "| ------ | --- |") {
		t.Errorf("unexpected separator %q", lines[1])
	}
}

func TestSampleTruncation(t *testing.T) {
	out := samples(testInput().Rows)
	for _, line := range strings.Split(out, "\n") {
		if strings.Contains(line, "소음이") && !strings.HasSuffix(line, "...") {
			t.Errorf("long review should be truncated: %q", line)
		}
	}
}

func TestRenderHTML(t *testing.T) {
	html, err := RenderHTML("RTX 4070", Build(testInput()))
	if err != nil {
		t.Fatalf("RenderHTML: %v", err)
	}
	s := string(html)
	for _, want := range []string{"<title>RTX 4070</title>", "<table>", "<h2>Stages</h2>", `<a href="https://b">`} {
		if !strings.Contains(s, want) {
			t.Errorf("html missing %q", want)
		}
	}

	html, _ = RenderHTML("<x>", "<script>alert(1)</script>")
	if strings.Contains(string(html), "<script>") {
		t.Error("raw HTML must not pass through")
	}
}
