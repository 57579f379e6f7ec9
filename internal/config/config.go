package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

type Config struct {
	Site       Site       `yaml:"site"`
	Selectors  Selectors  `yaml:"selectors"`
	Preprocess Preprocess `yaml:"preprocess"`
	Classifier Classifier `yaml:"classifier"`
	Output     Output     `yaml:"output"`
	Logging    Logging    `yaml:"logging"`
}

type Site struct {
	SearchURL         string        `yaml:"search_url"`
	UserAgent         string        `yaml:"user_agent"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	WaitTimeout       time.Duration `yaml:"wait_timeout"`
	SettleDelay       time.Duration `yaml:"settle_delay"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	MaxPages          int           `yaml:"max_pages"`
}

// Selectors holds the CSS selectors used to walk the review widget.
type Selectors struct {
	ProductLink string `yaml:"product_link"`
	ReviewsTab  string `yaml:"reviews_tab"`
	ReviewFrame string `yaml:"review_frame"`
	ReviewItem  string `yaml:"review_item"`
	Rating      string `yaml:"rating"`
	Title       string `yaml:"title"`
	Body        string `yaml:"body"`
	PageLink    string `yaml:"page_link"`
	NextArrow   string `yaml:"next_arrow"`
}

type Preprocess struct {
	NeutralThreshold   float64  `yaml:"neutral_threshold"`
	Manufacturers      []string `yaml:"manufacturers"`
	Distributors       []string `yaml:"distributors"`
	DefaultDistributor string   `yaml:"default_distributor"`
}

type Classifier struct {
	Endpoint       string        `yaml:"endpoint"`
	VocabularyPath string        `yaml:"vocabulary_path"`
	Tokenizer      string        `yaml:"tokenizer"`
	TokenizerURL   string        `yaml:"tokenizer_url"`
	MaxLen         int           `yaml:"max_len"`
	BatchSize      int           `yaml:"batch_size"`
	Timeout        time.Duration `yaml:"timeout"`
}

type Output struct {
	DataDir    string `yaml:"data_dir"`
	ExportXLSX bool   `yaml:"export_xlsx"`
	HTMLReport bool   `yaml:"html_report"`
}

type Logging struct {
	Level string `yaml:"level"`
}

// ConfigDir returns the XDG config directory for reviewsense.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "reviewsense")
}

// DataDir returns the XDG data directory for reviewsense.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "reviewsense")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/reviewsense/config.yaml > ./config.yaml
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", fmt.Errorf(
		"no config file found; searched:\n  %s\n  ./config.yaml\n\nRun 'reviewsense init' to create a default config",
		xdgConfig,
	)
}

// Load reads and parses a config YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return parse(data)
}

// Default returns the configuration used when no file overrides anything.
func Default() *Config {
	return &Config{
		Site: Site{
			SearchURL:         "https://search.danawa.com/dsearch.php?query={query}",
			UserAgent:         "Mozilla/5.0",
			RequestsPerSecond: 2,
			WaitTimeout:       10 * time.Second,
			SettleDelay:       300 * time.Millisecond,
			PollInterval:      100 * time.Millisecond,
			MaxPages:          500,
		},
		Selectors: Selectors{
			ProductLink: "ul.product_list li.prod_item p.prod_name > a",
			ReviewsTab:  "a:has(h4:contains('쇼핑몰 상품리뷰'))",
			ReviewFrame: "iframe[src*='companyProductReview']",
			ReviewItem:  "div#danawa-prodBlog-companyReview-content-list ul.rvw_list > li",
			Rating:      "div.top_info span.point_type_s span.star_mask",
			Title:       "div.rvw_atc .tit_W p.tit",
			Body:        "div.rvw_atc .atc_cont .atc",
			PageLink:    "div#danawa-prodBlog-companyReview-content-list a",
			NextArrow:   "span.point_arw_r",
		},
		Preprocess: Preprocess{
			NeutralThreshold: 4.0,
			Manufacturers: []string{
				"MSI", "갤럭시", "ZOTAC", "PALIT", "이엠텍",
				"GIGABYTE", "SAPPHIRE", "PowerColor", "ASRock", "INNO3D",
			},
			Distributors:       []string{"제이씨현", "대원씨티에스"},
			DefaultDistributor: "Official",
		},
		Classifier: Classifier{
			Endpoint:       "http://localhost:8501/v1/models/sentiment",
			VocabularyPath: "./model/sentiment_tokenizer.json",
			Tokenizer:      "whitespace",
			MaxLen:         100,
			BatchSize:      64,
			Timeout:        30 * time.Second,
		},
		Output:  Output{ExportXLSX: true, HTMLReport: true},
		Logging: Logging{Level: "info"},
	}
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	cfg := Default()

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values the pipeline cannot run without.
func (c *Config) Validate() error {
	var errs []error
	if !strings.Contains(c.Site.SearchURL, "{query}") {
		errs = append(errs, errors.New("site.search_url must contain {query}"))
	}
	if c.Site.WaitTimeout <= 0 {
		errs = append(errs, errors.New("site.wait_timeout must be positive"))
	}
	if c.Site.PollInterval <= 0 {
		errs = append(errs, errors.New("site.poll_interval must be positive"))
	}
	if c.Site.MaxPages < 1 {
		errs = append(errs, errors.New("site.max_pages must be at least 1"))
	}
	if c.Classifier.MaxLen < 1 {
		errs = append(errs, errors.New("classifier.max_len must be at least 1"))
	}
	if c.Classifier.BatchSize < 1 {
		errs = append(errs, errors.New("classifier.batch_size must be at least 1"))
	}

	sel := map[string]string{
		"product_link": c.Selectors.ProductLink,
		"reviews_tab":  c.Selectors.ReviewsTab,
		"review_frame": c.Selectors.ReviewFrame,
		"review_item":  c.Selectors.ReviewItem,
		"rating":       c.Selectors.Rating,
		"title":        c.Selectors.Title,
		"body":         c.Selectors.Body,
		"page_link":    c.Selectors.PageLink,
		"next_arrow":   c.Selectors.NextArrow,
	}
	for _, name := range []string{"product_link", "reviews_tab", "review_frame", "review_item", "rating", "title", "body", "page_link", "next_arrow"} {
		if strings.TrimSpace(sel[name]) == "" {
			errs = append(errs, fmt.Errorf("selectors.%s must not be empty", name))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// GetDataDir returns the effective data directory from config or XDG default.
func (c *Config) GetDataDir() string {
	if c.Output.DataDir != "" {
		return c.Output.DataDir
	}
	return DataDir()
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
