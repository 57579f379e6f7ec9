package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/TobiSchelling/reviewsense/internal/browser"
	"github.com/TobiSchelling/reviewsense/internal/classify"
	"github.com/TobiSchelling/reviewsense/internal/config"
	"github.com/TobiSchelling/reviewsense/internal/database"
	"github.com/TobiSchelling/reviewsense/internal/fetch"
	"github.com/TobiSchelling/reviewsense/internal/logging"
	"github.com/TobiSchelling/reviewsense/internal/normalize"
	"github.com/TobiSchelling/reviewsense/internal/report"
	"github.com/TobiSchelling/reviewsense/internal/review"
	"github.com/TobiSchelling/reviewsense/internal/snapshot"
)

// Stage names, as recorded in the ledger.
const (
	StageCollect   = "collect"
	StageNormalize = "normalize"
	StageClassify  = "classify"
)

// Snapshot file names inside a run directory.
const (
	RawFile        = "raw.csv"
	NormalizedFile = "normalized.csv"
	PredictedFile  = "predicted.csv"
	XLSXFile       = "predicted.xlsx"
	ReportFile     = "report.md"
	HTMLReportFile = "report.html"
)

// Classifier predicts labels for normalized rows.
type Classifier interface {
	Classify(ctx context.Context, rows []review.Normalized) (*classify.Result, error)
}

// Deps are the external resources a pipeline needs. Nil fields are built
// from the configuration.
type Deps struct {
	Open           browser.Opener
	LoadClassifier func(ctx context.Context) (Classifier, error)
	Log            *slog.Logger
}

// StepResult holds the result of a single pipeline step.
type StepResult struct {
	Name     string
	Summary  string
	Rows     int
	Skipped  int
	Counts   review.Summary
	Artifact string
	Err      error
}

// Result holds the results of a pipeline run.
type Result struct {
	RunID  string
	Dir    string
	Query  string
	Steps  []StepResult
	Report string // path of the Markdown report, if written
}

// Err returns the first step error, if any.
func (r *Result) Err() error {
	for _, s := range r.Steps {
		if s.Err != nil {
			return fmt.Errorf("%s: %w", s.Name, s.Err)
		}
	}
	return nil
}

// Pipeline runs collect, normalize and classify, persisting a snapshot after
// each stage. It is the only writer of snapshots.
type Pipeline struct {
	cfg  *config.Config
	db   *database.DB
	deps Deps
	log  *slog.Logger
}

// New creates a new pipeline.
func New(cfg *config.Config, db *database.DB, deps Deps) *Pipeline {
	log := logging.OrDefault(deps.Log)
	if deps.Open == nil {
		deps.Open = browser.HTTPOpener(browser.HTTPOptions{
			UserAgent:         cfg.Site.UserAgent,
			Timeout:           cfg.Site.WaitTimeout,
			RequestsPerSecond: cfg.Site.RequestsPerSecond,
		})
	}
	if deps.LoadClassifier == nil {
		deps.LoadClassifier = func(ctx context.Context) (Classifier, error) {
			return classify.Load(ctx, cfg.Classifier, log)
		}
	}
	return &Pipeline{cfg: cfg, db: db, deps: deps, log: log}
}

// Run collects reviews for the top topK products of query, then normalizes
// and classifies them. A failed stage stops the run; snapshots written by
// earlier stages are kept.
func (p *Pipeline) Run(ctx context.Context, query string, topK int) *Result {
	r, err := p.begin(query, topK)
	if err != nil {
		return failed(StageCollect, err)
	}

	raws, step := p.collect(ctx, r, query, topK)
	r.Steps = append(r.Steps, step)
	if step.Err != nil {
		return p.finish(r, nil)
	}

	rows, step := p.normalize(r, raws)
	r.Steps = append(r.Steps, step)
	if step.Err != nil {
		return p.finish(r, nil)
	}

	classified, step := p.classify(ctx, r, rows)
	r.Steps = append(r.Steps, step)
	return p.finish(r, classified)
}

// Collect runs the collect stage only.
func (p *Pipeline) Collect(ctx context.Context, query string, topK int) *Result {
	r, err := p.begin(query, topK)
	if err != nil {
		return failed(StageCollect, err)
	}
	_, step := p.collect(ctx, r, query, topK)
	r.Steps = append(r.Steps, step)
	return p.finish(r, nil)
}

// RunNormalize normalizes an existing raw snapshot into a new run.
func (p *Pipeline) RunNormalize(ctx context.Context, rawPath string) *Result {
	raws, err := snapshot.ReadRaw(rawPath)
	if err != nil {
		return failed(StageNormalize, err)
	}
	r, err := p.begin("from "+rawPath, 0)
	if err != nil {
		return failed(StageNormalize, err)
	}
	_, step := p.normalize(r, raws)
	r.Steps = append(r.Steps, step)
	return p.finish(r, nil)
}

// RunClassify classifies an existing normalized snapshot into a new run.
func (p *Pipeline) RunClassify(ctx context.Context, normalizedPath string) *Result {
	rows, err := snapshot.ReadNormalized(normalizedPath)
	if err != nil {
		return failed(StageClassify, err)
	}
	r, err := p.begin("from "+normalizedPath, 0)
	if err != nil {
		return failed(StageClassify, err)
	}
	p.relabel(rows)
	classified, step := p.classify(ctx, r, rows)
	r.Steps = append(r.Steps, step)
	return p.finish(r, classified)
}

// relabel recomputes each rating label under the configured threshold.
func (p *Pipeline) relabel(rows []review.Normalized) {
	changed := 0
	for i := range rows {
		label := normalize.LabelSentiment(rows[i].Rating, p.cfg.Preprocess.NeutralThreshold)
		if rows[i].Sentiment != label {
			rows[i].Sentiment = label
			changed++
		}
	}
	if changed > 0 {
		p.log.Warn("snapshot labels disagree with ratings; relabeled", "rows", changed, "threshold", p.cfg.Preprocess.NeutralThreshold)
	}
}

func failed(stage string, err error) *Result {
	return &Result{Steps: []StepResult{{Name: stage, Err: err}}}
}

// begin creates the run directory and its ledger entry.
func (p *Pipeline) begin(query string, topK int) (*Result, error) {
	id := database.NewRunID()
	dir := filepath.Join(p.cfg.GetDataDir(), "runs", id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating run directory: %w", err)
	}
	if err := p.db.CreateRun(id, query, topK, dir); err != nil {
		p.log.Warn("ledger update failed", "run", id, "error", err)
	}
	p.log.Info("run started", "run", id, "query", query, "dir", dir)
	return &Result{RunID: id, Dir: dir, Query: query}, nil
}

func (p *Pipeline) collect(ctx context.Context, r *Result, query string, topK int) ([]review.Raw, StepResult) {
	p.log.Info("step 1/3: collecting reviews", "query", query, "top_k", topK)
	step := StepResult{Name: StageCollect}

	f := fetch.NewFetcher(p.deps.Open, fetch.OptionsFromConfig(p.cfg), p.log)
	res, err := f.FetchTopKProductReviews(ctx, query, topK)
	if res != nil {
		p.recordProducts(r.RunID, res.Products)
		step.Rows = len(res.Reviews)
		if werr := p.writeSnapshot(r, RawFile, &step, func(path string) error {
			return snapshot.WriteRaw(path, res.Reviews)
		}); werr != nil && err == nil {
			err = werr
		}
		step.Summary = fmt.Sprintf("Collected %d reviews from %d products", len(res.Reviews), len(res.Products))
	}
	step.Err = err

	p.recordStage(r.RunID, step)
	return rowsOf(res), step
}

func rowsOf(res *fetch.Result) []review.Raw {
	if res == nil {
		return nil
	}
	return res.Reviews
}

func (p *Pipeline) normalize(r *Result, raws []review.Raw) ([]review.Normalized, StepResult) {
	p.log.Info("step 2/3: normalizing reviews", "rows", len(raws))
	step := StepResult{Name: StageNormalize}

	pre := p.cfg.Preprocess
	n := normalize.NewNormalizer(
		normalize.NewExtractor(pre.Manufacturers, pre.Distributors, pre.DefaultDistributor),
		pre.NeutralThreshold,
		p.log,
	)
	res := n.Normalize(raws)

	step.Rows = len(res.Rows)
	step.Skipped = len(res.Skipped)
	step.Counts = res.Summary
	step.Summary = fmt.Sprintf("Normalized %d reviews, skipped %d malformed (%s)", step.Rows, step.Skipped, res.Summary)
	step.Err = p.writeSnapshot(r, NormalizedFile, &step, func(path string) error {
		return snapshot.WriteNormalized(path, res.Rows)
	})

	p.recordStage(r.RunID, step)
	return res.Rows, step
}

func (p *Pipeline) classify(ctx context.Context, r *Result, rows []review.Normalized) ([]review.Classified, StepResult) {
	p.log.Info("step 3/3: classifying reviews", "rows", len(rows))
	step := StepResult{Name: StageClassify}

	c, err := p.deps.LoadClassifier(ctx)
	if err != nil {
		step.Err = err
		p.recordStage(r.RunID, step)
		return nil, step
	}
	res, err := c.Classify(ctx, rows)
	if err != nil {
		step.Err = err
		p.recordStage(r.RunID, step)
		return nil, step
	}

	step.Rows = len(res.Rows)
	step.Counts = res.Summary
	step.Summary = fmt.Sprintf("Classified %d reviews (%s)", step.Rows, res.Summary)
	step.Err = p.writeSnapshot(r, PredictedFile, &step, func(path string) error {
		return snapshot.WriteClassified(path, res.Rows)
	})
	if step.Err == nil && p.cfg.Output.ExportXLSX {
		if err := snapshot.ExportXLSX(filepath.Join(r.Dir, XLSXFile), res.Rows); err != nil {
			p.log.Warn("xlsx export failed", "error", err)
		}
	}

	p.recordStage(r.RunID, step)
	return res.Rows, step
}

// writeSnapshot writes one snapshot into the run directory and sets the
// step's artifact on success.
func (p *Pipeline) writeSnapshot(r *Result, name string, step *StepResult, write func(path string) error) error {
	path := filepath.Join(r.Dir, name)
	if err := write(path); err != nil {
		return fmt.Errorf("writing %s: %w", name, err)
	}
	step.Artifact = path
	p.log.Info("snapshot written", "stage", step.Name, "path", path, "rows", step.Rows)
	return nil
}

// finish closes the run in the ledger and writes its report.
func (p *Pipeline) finish(r *Result, rows []review.Classified) *Result {
	status := database.StatusCompleted
	var errMsg *string
	if err := r.Err(); err != nil {
		status = database.StatusFailed
		msg := err.Error()
		errMsg = &msg
		p.log.Error("run failed", "run", r.RunID, "error", err)
	}
	if err := p.db.FinishRun(r.RunID, status, errMsg); err != nil {
		p.log.Warn("ledger update failed", "run", r.RunID, "error", err)
	}

	if err := p.writeReport(r, rows); err != nil {
		p.log.Warn("report not written", "run", r.RunID, "error", err)
	}
	p.log.Info("run finished", "run", r.RunID, "status", status)
	return r
}

func (p *Pipeline) writeReport(r *Result, rows []review.Classified) error {
	in, err := report.Load(p.db, r.RunID, rows)
	if err != nil {
		return err
	}
	if in == nil {
		return errors.New("run missing from ledger")
	}

	md := report.Build(*in)
	mdPath := filepath.Join(r.Dir, ReportFile)
	if err := os.WriteFile(mdPath, []byte(md), 0o644); err != nil {
		return err
	}
	r.Report = mdPath

	if !p.cfg.Output.HTMLReport {
		return nil
	}
	html, err := report.RenderHTML(in.Run.Query, md)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(r.Dir, HTMLReportFile), html, 0o644)
}

func (p *Pipeline) recordStage(runID string, s StepResult) {
	st := database.Stage{
		RunID:    runID,
		Stage:    s.Name,
		Rows:     s.Rows,
		Skipped:  s.Skipped,
		Positive: s.Counts.Positive,
		Neutral:  s.Counts.Neutral,
		Negative: s.Counts.Negative,
	}
	if s.Artifact != "" {
		st.Artifact = &s.Artifact
	}
	if s.Err != nil {
		msg := s.Err.Error()
		st.Error = &msg
	}
	if err := p.db.RecordStage(st); err != nil {
		p.log.Warn("ledger update failed", "stage", s.Name, "error", err)
	}
}

func (p *Pipeline) recordProducts(runID string, stats []fetch.ProductStats) {
	products := make([]database.Product, len(stats))
	for i, s := range stats {
		products[i] = database.Product{
			Position: i + 1,
			Name:     s.Product.Name,
			Link:     s.Product.URL,
			Reviews:  s.Reviews,
			Pages:    s.Pages,
		}
		if s.Err != nil {
			msg := s.Err.Error()
			products[i].Error = &msg
		}
	}
	if err := p.db.RecordProducts(runID, products); err != nil {
		p.log.Warn("ledger update failed", "products", len(products), "error", err)
	}
}
