package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/TobiSchelling/reviewsense/internal/config"
	"github.com/TobiSchelling/reviewsense/internal/database"
	"github.com/TobiSchelling/reviewsense/internal/logging"
	"github.com/TobiSchelling/reviewsense/internal/pipeline"
	"github.com/TobiSchelling/reviewsense/internal/server"
	"github.com/TobiSchelling/reviewsense/internal/snapshot"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	cfg        *config.Config
	logger     *slog.Logger
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "reviewsense",
	Short:   "Danawa GPU review sentiment",
	Long:    "reviewsense collects shopping-mall reviews for the top Danawa GPU search results, normalizes them and classifies their sentiment.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config loading for init and version
		if cmd.Name() == "init" || cmd.Name() == "version" {
			return nil
		}

		path, err := config.ResolveConfigPath(configPath)
		if err != nil {
			return err
		}
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		level := cfg.Logging.Level
		if verbose {
			level = "debug"
		}
		logger = logging.New(level)
		slog.SetDefault(logger)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(collectCmd)
	rootCmd.AddCommand(normalizeCmd)
	rootCmd.AddCommand(classifyCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(serveCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("reviewsense", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/reviewsense/",
	RunE: func(cmd *cobra.Command, args []string) error {
		target := filepath.Join(config.ConfigDir(), "config.yaml")
		if _, err := os.Stat(target); err == nil {
			fmt.Printf("Config already exists: %s\n", target)
			return nil
		}

		if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}

		if err := os.WriteFile(target, config.DefaultConfigYAML, 0o644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		fmt.Printf("Created config: %s\n", target)
		fmt.Println("Edit it to point the classifier at your model server and vocabulary.")
		return nil
	},
}

// --- run command ---

var (
	query string
	topK  int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the full pipeline: collect -> normalize -> classify",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPipeline(func(ctx context.Context, p *pipeline.Pipeline) *pipeline.Result {
			return p.Run(ctx, query, topK)
		})
	},
}

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Collect raw reviews for the top search results",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPipeline(func(ctx context.Context, p *pipeline.Pipeline) *pipeline.Result {
			return p.Collect(ctx, query, topK)
		})
	},
}

func init() {
	for _, c := range []*cobra.Command{runCmd, collectCmd} {
		c.Flags().StringVarP(&query, "query", "q", "", "Search query, e.g. \"RTX 4070\"")
		c.Flags().IntVarP(&topK, "top-k", "k", 5, "Number of top search results to crawl")
		_ = c.MarkFlagRequired("query")
	}
}

// --- stage commands ---

var inputPath string

var normalizeCmd = &cobra.Command{
	Use:   "normalize",
	Short: "Normalize a raw snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPipeline(func(ctx context.Context, p *pipeline.Pipeline) *pipeline.Result {
			return p.RunNormalize(ctx, inputPath)
		})
	},
}

var classifyCmd = &cobra.Command{
	Use:   "classify",
	Short: "Classify a normalized snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPipeline(func(ctx context.Context, p *pipeline.Pipeline) *pipeline.Result {
			return p.RunClassify(ctx, inputPath)
		})
	},
}

func init() {
	for _, c := range []*cobra.Command{normalizeCmd, classifyCmd} {
		c.Flags().StringVarP(&inputPath, "input", "i", "", "Snapshot CSV to read")
		_ = c.MarkFlagRequired("input")
	}
}

// withPipeline runs one pipeline entry point and prints its steps.
func withPipeline(run func(ctx context.Context, p *pipeline.Pipeline) *pipeline.Result) error {
	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	result := run(ctx, pipeline.New(cfg, db, pipeline.Deps{Log: logger}))

	for i, step := range result.Steps {
		fmt.Printf("\nStep %d/%d: %s\n", i+1, len(result.Steps), step.Name)
		if step.Err != nil {
			fmt.Printf("  Error: %v\n", step.Err)
		} else {
			fmt.Printf("  %s\n", step.Summary)
		}
		if step.Artifact != "" {
			fmt.Printf("  Snapshot: %s\n", step.Artifact)
		}
	}
	if result.Report != "" {
		fmt.Printf("\nReport: %s\n", result.Report)
	}

	if err := result.Err(); err != nil {
		return err
	}
	fmt.Printf("\nRun %s complete.\n", result.RunID)
	return nil
}

// --- status command ---

var statusLimit int

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show run ledger statistics and recent runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		stats, err := db.GetStats()
		if err != nil {
			return fmt.Errorf("getting stats: %w", err)
		}

		fmt.Println("Runs:")
		fmt.Printf("  Total: %d\n", stats.Runs)
		fmt.Printf("  Completed: %d\n", stats.CompletedRuns)
		fmt.Printf("  Failed: %d\n", stats.FailedRuns)
		fmt.Println("\nReviews:")
		fmt.Printf("  Products crawled: %d\n", stats.Products)
		fmt.Printf("  Collected: %d\n", stats.ReviewsCollected)
		fmt.Printf("  Classified: %d\n", stats.ReviewsClassified)

		runs, err := db.GetRecentRuns(statusLimit)
		if err != nil {
			return fmt.Errorf("getting runs: %w", err)
		}
		if len(runs) == 0 {
			fmt.Println("\nNo runs yet. Start one with: reviewsense run --query \"RTX 4070\"")
			return nil
		}

		fmt.Println()
		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.SetStyle(table.StyleRounded)
		t.AppendHeader(table.Row{"Run", "Started", "Query", "Top K", "Status", "Error"})
		for _, r := range runs {
			t.AppendRow(table.Row{shortID(r.ID), deref(r.StartedAt), r.Query, r.TopK, r.Status, truncate(deref(r.Error), 40)})
		}
		t.Render()
		return nil
	},
}

func init() {
	statusCmd.Flags().IntVarP(&statusLimit, "limit", "n", 10, "Number of recent runs to show")
}

// --- export command ---

var exportOut string

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export a classified snapshot to an Excel workbook",
	RunE: func(cmd *cobra.Command, args []string) error {
		rows, err := snapshot.ReadClassified(inputPath)
		if err != nil {
			return err
		}
		out := exportOut
		if out == "" {
			out = strings.TrimSuffix(inputPath, filepath.Ext(inputPath)) + ".xlsx"
		}
		if err := snapshot.ExportXLSX(out, rows); err != nil {
			return err
		}
		fmt.Printf("Exported %d reviews to %s\n", len(rows), out)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVarP(&inputPath, "input", "i", "", "Classified snapshot CSV")
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "Workbook path (defaults to the input with .xlsx)")
	_ = exportCmd.MarkFlagRequired("input")
}

// --- serve command ---

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the local web server for browsing runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		fmt.Printf("Starting server at http://localhost:%d\n", servePort)
		fmt.Println("Press Ctrl+C to stop")
		return server.Serve(db, servePort, logger)
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 8000, "Port to run server on")
}

func openDB() (*database.DB, error) {
	dataDir := cfg.GetDataDir()
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	return database.Open(filepath.Join(dataDir, database.FileName))
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
