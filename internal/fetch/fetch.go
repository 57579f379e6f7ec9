package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/TobiSchelling/reviewsense/internal/browser"
	"github.com/TobiSchelling/reviewsense/internal/config"
	"github.com/TobiSchelling/reviewsense/internal/logging"
	"github.com/TobiSchelling/reviewsense/internal/review"
)

var (
	// ErrInvalidRequest is returned for an empty query or topK < 1.
	ErrInvalidRequest = errors.New("invalid fetch request")
	// ErrSearchTimeout is fatal: the search produced no product list.
	ErrSearchTimeout = errors.New("search results did not appear")
	// ErrReviewTabUnavailable means the product is treated as having no reviews.
	ErrReviewTabUnavailable = errors.New("reviews tab unavailable")
	// ErrFrameSwitchFailed means the walk continues in the page document.
	ErrFrameSwitchFailed = errors.New("review frame switch failed")
	// ErrItemFieldMissing means a review field defaulted to "".
	ErrItemFieldMissing = errors.New("review item field missing")

	errNoNextPage = errors.New("no next page")
)

// Options controls where the fetcher looks and how long it waits.
type Options struct {
	SearchURL    string // contains {query}
	WaitTimeout  time.Duration
	SettleDelay  time.Duration
	PollInterval time.Duration
	MaxPages     int
	Selectors    config.Selectors
}

// OptionsFromConfig builds fetcher options from the site configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		SearchURL:    cfg.Site.SearchURL,
		WaitTimeout:  cfg.Site.WaitTimeout,
		SettleDelay:  cfg.Site.SettleDelay,
		PollInterval: cfg.Site.PollInterval,
		MaxPages:     cfg.Site.MaxPages,
		Selectors:    cfg.Selectors,
	}
}

// ProductStats describes how the review walk went for one product.
type ProductStats struct {
	Product review.ProductRef
	Reviews int
	Pages   int
	Err     error // recoverable problem that cut the walk short, if any
}

// Result holds the rows of a fetch run plus per-product outcomes.
type Result struct {
	Reviews  []review.Raw
	Products []ProductStats
}

// Fetcher walks search results and paged review lists through a browser
// session.
type Fetcher struct {
	open browser.Opener
	opts Options
	log  *slog.Logger
}

// NewFetcher creates a fetcher that acquires a session from open per run.
func NewFetcher(open browser.Opener, opts Options, log *slog.Logger) *Fetcher {
	if opts.MaxPages < 1 {
		opts.MaxPages = 500
	}
	return &Fetcher{open: open, opts: opts, log: logging.OrDefault(log)}
}

// FetchTopKProductReviews searches for query, takes the first topK products
// and collects every review of each, in product then page then item order.
// Only a failed search is fatal; per-product problems are recorded in
// Result.Products. The session is closed on every path.
func (f *Fetcher) FetchTopKProductReviews(ctx context.Context, query string, topK int) (*Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: empty query", ErrInvalidRequest)
	}
	if topK < 1 {
		return nil, fmt.Errorf("%w: topK must be at least 1, got %d", ErrInvalidRequest, topK)
	}

	sess, err := f.open(ctx)
	if err != nil {
		return nil, fmt.Errorf("opening session: %w", err)
	}
	defer func() {
		if err := sess.Close(); err != nil {
			f.log.Warn("closing session", "error", err)
		}
	}()

	products, err := f.searchProducts(ctx, sess, query, topK)
	if err != nil {
		return nil, err
	}

	r := &Result{}
	for i, p := range products {
		f.log.Info("collecting reviews", "product", p.Name, "index", i+1, "total", len(products))

		rows, stats := f.crawlReviews(ctx, sess, p)
		r.Reviews = append(r.Reviews, rows...)
		r.Products = append(r.Products, stats)

		if err := ctx.Err(); err != nil {
			return r, err
		}
	}

	f.log.Info("review collection complete", "products", len(r.Products), "reviews", len(r.Reviews))
	return r, nil
}

func (f *Fetcher) searchProducts(ctx context.Context, sess browser.Session, query string, topK int) ([]review.ProductRef, error) {
	searchURL := strings.ReplaceAll(f.opts.SearchURL, "{query}", url.QueryEscape(query))
	if err := sess.Navigate(ctx, searchURL); err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrSearchTimeout, query, err)
	}

	sel := f.opts.Selectors.ProductLink
	if _, err := sess.WaitUntilPresent(ctx, sel, f.opts.WaitTimeout); err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrSearchTimeout, query, err)
	}

	links, err := sess.FindAll(ctx, sel)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrSearchTimeout, query, err)
	}

	var products []review.ProductRef
	for _, el := range links {
		if len(products) == topK {
			break
		}
		href, ok := el.Attr("href")
		if !ok || href == "" {
			continue
		}
		products = append(products, review.ProductRef{
			Name: strings.TrimSpace(el.Text()),
			URL:  href,
		})
	}
	if len(products) == 0 {
		return nil, fmt.Errorf("%w: %q: no product links", ErrSearchTimeout, query)
	}

	f.log.Info("search complete", "query", query, "products", len(products))
	return products, nil
}

func (f *Fetcher) crawlReviews(ctx context.Context, sess browser.Session, p review.ProductRef) ([]review.Raw, ProductStats) {
	stats := ProductStats{Product: p}
	sel := f.opts.Selectors
	log := f.log.With("product", p.Name)

	if err := sess.Navigate(ctx, p.URL); err != nil {
		stats.Err = fmt.Errorf("loading product page: %w", err)
		log.Warn("skipping product", "error", stats.Err)
		return nil, stats
	}
	if _, err := sess.WaitUntilPresent(ctx, "body", f.opts.WaitTimeout); err != nil {
		stats.Err = fmt.Errorf("waiting for product page: %w", err)
		log.Warn("skipping product", "error", stats.Err)
		return nil, stats
	}

	if err := f.openReviewsTab(ctx, sess); err != nil {
		stats.Err = err
		log.Warn("no reviews collected", "error", err)
		return nil, stats
	}

	if err := sess.SwitchToFrame(ctx, sel.ReviewFrame, f.opts.WaitTimeout); err != nil {
		log.Debug("staying in page document", "error", fmt.Errorf("%w: %w", ErrFrameSwitchFailed, err))
	}

	var rows []review.Raw
	page := 1
	for {
		if _, err := sess.WaitUntilPresent(ctx, sel.ReviewItem, f.opts.WaitTimeout); err != nil {
			if ctx.Err() != nil {
				stats.Err = ctx.Err()
			}
			break
		}

		items, err := sess.FindAll(ctx, sel.ReviewItem)
		if err != nil {
			stats.Err = fmt.Errorf("listing reviews on page %d: %w", page, err)
			break
		}
		for _, li := range items {
			rows = append(rows, f.extractItem(log, p, li))
		}
		stats.Pages = page
		log.Debug("page collected", "page", page, "items", len(items))

		if page >= f.opts.MaxPages {
			log.Warn("page limit reached", "pages", page)
			break
		}

		next, err := f.nextPage(ctx, sess, page)
		if err != nil {
			if ctx.Err() != nil {
				stats.Err = ctx.Err()
			}
			break
		}
		page = next
	}

	stats.Reviews = len(rows)
	log.Info("product reviews collected", "reviews", stats.Reviews, "pages", stats.Pages)
	return rows, stats
}

func (f *Fetcher) openReviewsTab(ctx context.Context, sess browser.Session) error {
	tab, err := sess.WaitUntilClickable(ctx, f.opts.Selectors.ReviewsTab, f.opts.WaitTimeout)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrReviewTabUnavailable, err)
	}
	if err := sess.Click(ctx, tab); err != nil {
		return fmt.Errorf("%w: %w", ErrReviewTabUnavailable, err)
	}
	return browser.Sleep(ctx, f.opts.SettleDelay)
}

// extractItem never fails: a missing rating or text degrades to "".
func (f *Fetcher) extractItem(log *slog.Logger, p review.ProductRef, li browser.Element) review.Raw {
	rating, err := f.ratingText(li)
	if err != nil {
		log.Debug("review field defaulted", "error", err)
	}
	text, err := f.reviewText(li)
	if err != nil {
		log.Debug("review text from fallback", "error", err)
	}
	return review.Raw{
		ProductName: p.Name,
		ProductLink: p.URL,
		RatingText:  rating,
		Text:        text,
	}
}

func (f *Fetcher) ratingText(li browser.Element) (string, error) {
	el, err := li.Find(f.opts.Selectors.Rating)
	if err != nil {
		return "", fmt.Errorf("%w: rating: %w", ErrItemFieldMissing, err)
	}
	return strings.TrimSpace(el.Text()), nil
}

// reviewText joins title and body; without both it falls back to the last
// non-empty line of the item and reports ErrItemFieldMissing.
func (f *Fetcher) reviewText(li browser.Element) (string, error) {
	title, terr := li.Find(f.opts.Selectors.Title)
	body, berr := li.Find(f.opts.Selectors.Body)
	if terr == nil && berr == nil {
		return strings.TrimSpace(strings.TrimSpace(title.Text()) + " " + strings.TrimSpace(body.Text())), nil
	}
	return lastNonEmptyLine(li.Text()), fmt.Errorf("%w: title/body: %w", ErrItemFieldMissing, errors.Join(terr, berr))
}

func lastNonEmptyLine(s string) string {
	lines := strings.Split(s, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}

// nextPage moves to page+1: directly through its numbered link, or through
// the "next" arrow followed by the numbered link it reveals.
func (f *Fetcher) nextPage(ctx context.Context, sess browser.Session, page int) (int, error) {
	want := strconv.Itoa(page + 1)

	link, err := f.findPageLink(ctx, sess, want)
	if err != nil {
		return 0, err
	}
	if link != nil {
		if err := sess.Click(ctx, link); err == nil {
			return page + 1, browser.Sleep(ctx, f.opts.SettleDelay)
		}
	}

	arrows, err := sess.FindAll(ctx, f.opts.Selectors.NextArrow)
	if err != nil {
		return 0, err
	}
	if len(arrows) == 0 {
		return 0, errNoNextPage
	}
	if err := sess.Click(ctx, arrows[0]); err != nil {
		return 0, fmt.Errorf("%w: arrow: %w", errNoNextPage, err)
	}
	if err := browser.Sleep(ctx, f.opts.SettleDelay); err != nil {
		return 0, err
	}

	err = browser.Poll(ctx, f.opts.WaitTimeout, f.opts.PollInterval, func() (bool, error) {
		l, err := f.findPageLink(ctx, sess, want)
		link = l
		return l != nil, err
	})
	if err != nil {
		return 0, fmt.Errorf("%w: page %s after arrow: %w", errNoNextPage, want, err)
	}
	if err := sess.Click(ctx, link); err != nil {
		return 0, fmt.Errorf("%w: page %s: %w", errNoNextPage, want, err)
	}
	return page + 1, browser.Sleep(ctx, f.opts.SettleDelay)
}

// findPageLink returns the pager link whose text is label, or nil.
func (f *Fetcher) findPageLink(ctx context.Context, sess browser.Session, label string) (browser.Element, error) {
	links, err := sess.FindAll(ctx, f.opts.Selectors.PageLink)
	if err != nil {
		return nil, err
	}
	for _, l := range links {
		if strings.TrimSpace(l.Text()) == label {
			return l, nil
		}
	}
	return nil, nil
}
