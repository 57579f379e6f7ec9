package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/TobiSchelling/reviewsense/internal/classify"
	"github.com/TobiSchelling/reviewsense/internal/config"
	"github.com/TobiSchelling/reviewsense/internal/database"
	"github.com/TobiSchelling/reviewsense/internal/fetch"
	"github.com/TobiSchelling/reviewsense/internal/normalize"
	"github.com/TobiSchelling/reviewsense/internal/review"
	"github.com/TobiSchelling/reviewsense/internal/snapshot"
)

func newSite(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("query") == "nothing" {
			fmt.Fprint(w, `<html><body></body></html>`)
			return
		}
		fmt.Fprint(w, `<html><body><ul class="products">
<li><a class="name" href="/product/1">MSI 지포스 RTX 4070 게이밍 X 트리오</a></li>
<li><a class="name" href="/product/2">갤럭시 RTX 3060</a></li>
</ul></body></html>`)
	})
	mux.HandleFunc("/product/1", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><a class="tab" href="#review">상품리뷰</a><ul class="rvw">
<li><span class="star">100%</span><p class="tit">좋아요</p><div class="atc">조용하고 시원합니다</div></li>
<li><span class="star">40%</span><p class="tit">별로</p><div class="atc">소음이 심해요</div></li>
<li><p class="tit">평점 없음</p><div class="atc">그냥 그래요</div></li>
</ul></body></html>`)
	})
	mux.HandleFunc("/product/2", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><p>리뷰 없음</p></body></html>`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, srv *httptest.Server) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Site.SearchURL = srv.URL + "/search?query={query}"
	cfg.Site.RequestsPerSecond = 0
	cfg.Site.WaitTimeout = time.Second
	cfg.Site.SettleDelay = 0
	cfg.Site.PollInterval = 10 * time.Millisecond
	cfg.Selectors = config.Selectors{
		ProductLink: "ul.products a.name",
		ReviewsTab:  "a.tab",
		ReviewFrame: "iframe.reviews",
		ReviewItem:  "ul.rvw > li",
		Rating:      "span.star",
		Title:       "p.tit",
		Body:        "div.atc",
		PageLink:    "div.pager a",
		NextArrow:   "span.arw",
	}
	cfg.Output.DataDir = t.TempDir()
	return cfg
}

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// positiveModel scores every review as positive.
type positiveModel struct{ calls int }

func (m *positiveModel) Predict(_ context.Context, inputs [][]int) ([][]float64, error) {
	m.calls++
	out := make([][]float64, len(inputs))
	for i := range inputs {
		out[i] = []float64{0.1, 0.2, 0.7}
	}
	return out, nil
}

func fakeClassifier(model classify.Model) func(context.Context) (Classifier, error) {
	return func(context.Context) (Classifier, error) {
		vocab := classify.NewVocabulary(map[string]int{"좋아요": 1, "소음이": 2})
		c, err := classify.New(classify.WhitespaceTokenizer{}, vocab, model, 8, nil)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

func TestRun(t *testing.T) {
	srv := newSite(t)
	cfg := testConfig(t, srv)
	db := openTestDB(t)
	model := &positiveModel{}

	p := New(cfg, db, Deps{LoadClassifier: fakeClassifier(model)})
	result := p.Run(context.Background(), "RTX 4070", 2)

	if err := result.Err(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Steps) != 3 {
		t.Fatalf("expected 3 steps, got %d", len(result.Steps))
	}
	if model.calls != 1 {
		t.Errorf("expected one predict call, got %d", model.calls)
	}

	collect, norm, cls := result.Steps[0], result.Steps[1], result.Steps[2]
	if collect.Rows != 3 {
		t.Errorf("expected 3 collected reviews, got %d", collect.Rows)
	}
	if norm.Rows != 2 || norm.Skipped != 1 {
		t.Errorf("expected 2 normalized and 1 skipped, got %d and %d", norm.Rows, norm.Skipped)
	}
	if norm.Counts != (review.Summary{Positive: 1, Negative: 1}) {
		t.Errorf("unexpected rating summary %+v", norm.Counts)
	}
	if cls.Counts != (review.Summary{Positive: 2}) {
		t.Errorf("unexpected prediction summary %+v", cls.Counts)
	}

	for _, name := range []string{RawFile, NormalizedFile, PredictedFile, XLSXFile, ReportFile, HTMLReportFile} {
		if _, err := os.Stat(filepath.Join(result.Dir, name)); err != nil {
			t.Errorf("expected %s in run directory: %v", name, err)
		}
	}

	rows, err := snapshot.ReadClassified(filepath.Join(result.Dir, PredictedFile))
	if err != nil {
		t.Fatalf("ReadClassified: %v", err)
	}
	if len(rows) != 2 || rows[0].Manufacturer == nil || *rows[0].Manufacturer != "MSI" {
		t.Errorf("unexpected classified rows %+v", rows)
	}

	run, _ := db.GetRun(result.RunID)
	if run == nil || run.Status != database.StatusCompleted || run.Dir != result.Dir {
		t.Errorf("unexpected ledger run %+v", run)
	}
	stages, _ := db.GetStages(result.RunID)
	if len(stages) != 3 || stages[2].Stage != StageClassify || stages[2].Artifact == nil {
		t.Errorf("unexpected ledger stages %+v", stages)
	}
	products, _ := db.GetProducts(result.RunID)
	if len(products) != 2 || products[1].Error == nil {
		t.Errorf("expected the second product to record a tab error, got %+v", products)
	}

	md, _ := os.ReadFile(result.Report)
	if !strings.Contains(string(md), "# Review sentiment: RTX 4070") {
		t.Errorf("unexpected report:\n%s", md)
	}
}

func TestRunClassifierFailureKeepsSnapshots(t *testing.T) {
	srv := newSite(t)
	cfg := testConfig(t, srv)
	db := openTestDB(t)

	loadErr := fmt.Errorf("%w: vocabulary missing", classify.ErrModelLoad)
	p := New(cfg, db, Deps{LoadClassifier: func(context.Context) (Classifier, error) { return nil, loadErr }})
	result := p.Run(context.Background(), "RTX 4070", 2)

	if !errors.Is(result.Err(), classify.ErrModelLoad) {
		t.Fatalf("expected ErrModelLoad, got %v", result.Err())
	}
	for _, name := range []string{RawFile, NormalizedFile, ReportFile} {
		if _, err := os.Stat(filepath.Join(result.Dir, name)); err != nil {
			t.Errorf("expected %s to be kept: %v", name, err)
		}
	}
	if _, err := os.Stat(filepath.Join(result.Dir, PredictedFile)); !os.IsNotExist(err) {
		t.Error("predicted snapshot must not exist after a failed classify")
	}

	run, _ := db.GetRun(result.RunID)
	if run.Status != database.StatusFailed || run.Error == nil {
		t.Errorf("expected failed run with error, got %+v", run)
	}
}

func TestRunSearchTimeoutIsFatal(t *testing.T) {
	srv := newSite(t)
	cfg := testConfig(t, srv)
	db := openTestDB(t)

	loaded := false
	p := New(cfg, db, Deps{LoadClassifier: func(context.Context) (Classifier, error) {
		loaded = true
		return nil, errors.New("unexpected")
	}})
	result := p.Run(context.Background(), "nothing", 2)

	if !errors.Is(result.Err(), fetch.ErrSearchTimeout) {
		t.Fatalf("expected ErrSearchTimeout, got %v", result.Err())
	}
	if len(result.Steps) != 1 {
		t.Errorf("expected only the collect step, got %d", len(result.Steps))
	}
	if loaded {
		t.Error("classifier must not load after a failed collect")
	}
	if _, err := os.Stat(filepath.Join(result.Dir, RawFile)); !os.IsNotExist(err) {
		t.Error("no raw snapshot expected after a failed search")
	}
}

func TestRunInvalidRequest(t *testing.T) {
	srv := newSite(t)
	p := New(testConfig(t, srv), openTestDB(t), Deps{})

	result := p.Run(context.Background(), "RTX 4070", 0)
	if !errors.Is(result.Err(), fetch.ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest, got %v", result.Err())
	}
}

func TestStagesFromSnapshots(t *testing.T) {
	srv := newSite(t)
	cfg := testConfig(t, srv)
	db := openTestDB(t)
	p := New(cfg, db, Deps{LoadClassifier: fakeClassifier(&positiveModel{})})

	collected := p.Collect(context.Background(), "RTX 4070", 1)
	if err := collected.Err(); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(collected.Steps) != 1 || collected.Steps[0].Artifact == "" {
		t.Fatalf("unexpected collect result %+v", collected.Steps)
	}

	normalized := p.RunNormalize(context.Background(), collected.Steps[0].Artifact)
	if err := normalized.Err(); err != nil {
		t.Fatalf("RunNormalize: %v", err)
	}
	if normalized.RunID == collected.RunID {
		t.Error("each stage run should get its own run")
	}
	if s := normalized.Steps[0]; s.Rows != 2 || s.Skipped != 1 {
		t.Errorf("unexpected normalize step %+v", s)
	}

	classified := p.RunClassify(context.Background(), normalized.Steps[0].Artifact)
	if err := classified.Err(); err != nil {
		t.Fatalf("RunClassify: %v", err)
	}
	if s := classified.Steps[0]; s.Name != StageClassify || s.Rows != 2 {
		t.Errorf("unexpected classify step %+v", s)
	}

	stats, _ := db.GetStats()
	if stats.Runs != 3 || stats.CompletedRuns != 3 || stats.ReviewsCollected != 3 || stats.ReviewsClassified != 2 {
		t.Errorf("unexpected stats %+v", stats)
	}
}

func TestRunClassifyRelabelsFromRating(t *testing.T) {
	srv := newSite(t)
	cfg := testConfig(t, srv)
	p := New(cfg, openTestDB(t), Deps{LoadClassifier: fakeClassifier(&positiveModel{})})

	input := filepath.Join(t.TempDir(), NormalizedFile)
	rows := []review.Normalized{
		{ProductName: "A", Text: "소음이 심해요", Distributor: "Official", Rating: 1, Sentiment: review.Positive},
		{ProductName: "B", Text: "좋아요", Distributor: "Official", Rating: 4.5, Sentiment: review.Negative},
		{ProductName: "C", Text: "그냥", Distributor: "Official", Rating: 4, Sentiment: review.Neutral},
	}
	if err := snapshot.WriteNormalized(input, rows); err != nil {
		t.Fatal(err)
	}

	result := p.RunClassify(context.Background(), input)
	if err := result.Err(); err != nil {
		t.Fatalf("RunClassify: %v", err)
	}
	got, err := snapshot.ReadClassified(filepath.Join(result.Dir, PredictedFile))
	if err != nil {
		t.Fatalf("ReadClassified: %v", err)
	}
	want := []review.Label{review.Negative, review.Positive, review.Neutral}
	for i, r := range got {
		if r.Sentiment != want[i] {
			t.Errorf("row %s: sentiment %s, want %s", r.ProductName, r.Sentiment, want[i])
		}
	}
}

func TestRunClassifyRejectsOutOfScaleRating(t *testing.T) {
	srv := newSite(t)
	loaded := false
	p := New(testConfig(t, srv), openTestDB(t), Deps{LoadClassifier: func(context.Context) (Classifier, error) {
		loaded = true
		return nil, errors.New("unexpected")
	}})

	input := filepath.Join(t.TempDir(), NormalizedFile)
	body := "product_name,manufacturer,chipset,distributor,rating,sentiment,review\nA,,,Official,9000,negative,x\n"
	if err := os.WriteFile(input, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	result := p.RunClassify(context.Background(), input)
	if !errors.Is(result.Err(), normalize.ErrMalformedRating) {
		t.Errorf("expected ErrMalformedRating, got %v", result.Err())
	}
	if loaded || result.RunID != "" {
		t.Error("an invalid snapshot must not start a run")
	}
}

func TestRunSurvivesLedgerInsertFailure(t *testing.T) {
	srv := newSite(t)
	db := openTestDB(t)
	p := New(testConfig(t, srv), db, Deps{})
	db.Close()

	result := p.Collect(context.Background(), "RTX 4070", 1)
	if err := result.Err(); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if result.RunID == "" {
		t.Error("expected a run id")
	}
	if _, err := os.Stat(filepath.Join(result.Dir, RawFile)); err != nil {
		t.Errorf("raw snapshot should be written without a ledger: %v", err)
	}
}

func TestRunNormalizeMissingSnapshot(t *testing.T) {
	srv := newSite(t)
	p := New(testConfig(t, srv), openTestDB(t), Deps{})

	result := p.RunNormalize(context.Background(), filepath.Join(t.TempDir(), "missing.csv"))
	if result.Err() == nil {
		t.Error("expected error for missing snapshot")
	}
	if result.RunID != "" {
		t.Error("no run should be created for an unreadable snapshot")
	}
}
