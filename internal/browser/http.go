package browser

import (
	"bytes"
	"context"
	"fmt"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

// HTTPOptions configures an HTTPSession.
type HTTPOptions struct {
	UserAgent         string
	Timeout           time.Duration
	RequestsPerSecond float64 // <= 0 disables the limit
}

// HTTPSession is a Session over plain HTTP. Pages are parsed once when
// loaded and never change afterwards, so there is nothing to wait for: a
// wait whose condition is false on the loaded document times out at once.
// Clicking follows links; frames are loaded from their src.
type HTTPSession struct {
	client  *resty.Client
	top     *document
	current *document
	closed  bool
}

type document struct {
	url *url.URL
	doc *goquery.Document
}

var _ Session = (*HTTPSession)(nil)

// NewHTTPSession creates a session with its own cookie jar and rate limit.
func NewHTTPSession(opts HTTPOptions) (*HTTPSession, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}

	client := resty.New()
	client.SetCookieJar(jar)
	if opts.UserAgent != "" {
		client.SetHeader("User-Agent", opts.UserAgent)
	}
	if opts.Timeout > 0 {
		client.SetTimeout(opts.Timeout)
	}

	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	limiter := rate.NewLimiter(limit, 1)
	client.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		return limiter.Wait(req.Context())
	})

	return &HTTPSession{client: client}, nil
}

// HTTPOpener returns an Opener producing HTTP sessions.
func HTTPOpener(opts HTTPOptions) Opener {
	return func(context.Context) (Session, error) {
		return NewHTTPSession(opts)
	}
}

// Navigate loads a top-level document and leaves any frame.
func (s *HTTPSession) Navigate(ctx context.Context, rawURL string) error {
	if s.closed {
		return ErrSessionClosed
	}
	d, err := s.load(ctx, rawURL)
	if err != nil {
		return err
	}
	s.top = d
	s.current = d
	return nil
}

// WaitUntilPresent returns the first element matching selector.
func (s *HTTPSession) WaitUntilPresent(ctx context.Context, selector string, _ time.Duration) (Element, error) {
	els, err := s.query(ctx, selector)
	if err != nil {
		return nil, err
	}
	if len(els) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrWaitTimeout, selector)
	}
	return els[0], nil
}

// WaitUntilClickable returns the first element matching selector that Click
// can activate.
func (s *HTTPSession) WaitUntilClickable(ctx context.Context, selector string, _ time.Duration) (Element, error) {
	els, err := s.query(ctx, selector)
	if err != nil {
		return nil, err
	}
	for _, el := range els {
		if _, err := s.clickTarget(el); err == nil {
			return el, nil
		}
	}
	return nil, fmt.Errorf("%w: %s not clickable", ErrWaitTimeout, selector)
}

// FindAll returns every element matching selector in the current context.
func (s *HTTPSession) FindAll(ctx context.Context, selector string) ([]Element, error) {
	els, err := s.query(ctx, selector)
	if err != nil {
		return nil, err
	}
	out := make([]Element, len(els))
	for i, el := range els {
		out[i] = el
	}
	return out, nil
}

// Click follows the link carried by el or its closest anchor ancestor. The
// loaded document replaces the current context; fragment-only links do not
// navigate.
func (s *HTTPSession) Click(ctx context.Context, el Element) error {
	if s.closed {
		return ErrSessionClosed
	}
	target, err := s.clickTarget(el)
	if err != nil {
		return err
	}
	if target == nil {
		return nil
	}

	d, err := s.load(ctx, target.String())
	if err != nil {
		return err
	}
	if s.current == s.top {
		s.top = d
	}
	s.current = d
	return nil
}

// SwitchToFrame loads the src of the first frame matching selector.
func (s *HTTPSession) SwitchToFrame(ctx context.Context, selector string, _ time.Duration) error {
	els, err := s.query(ctx, selector)
	if err != nil {
		return err
	}
	if len(els) == 0 {
		return fmt.Errorf("%w: frame %s", ErrNoSuchElement, selector)
	}
	src, ok := els[0].Attr("src")
	if !ok || src == "" {
		return fmt.Errorf("%w: frame %s has no src", ErrNoSuchElement, selector)
	}

	d, err := s.load(ctx, src)
	if err != nil {
		return err
	}
	s.current = d
	return nil
}

// Close releases the session. It is safe to call more than once.
func (s *HTTPSession) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.top, s.current = nil, nil
	s.client.GetClient().CloseIdleConnections()
	return nil
}

// CurrentURL returns the URL of the current context, or "" before the first
// navigation.
func (s *HTTPSession) CurrentURL() string {
	if s.current == nil {
		return ""
	}
	return s.current.url.String()
}

func (s *HTTPSession) load(ctx context.Context, rawURL string) (*document, error) {
	res, err := s.client.R().SetContext(ctx).Get(rawURL)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", rawURL, err)
	}
	if res.IsError() {
		return nil, fmt.Errorf("get %s: %s", rawURL, res.Status())
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(res.Body()))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", rawURL, err)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url %s: %w", rawURL, err)
	}
	if res.RawResponse != nil && res.RawResponse.Request != nil {
		u = res.RawResponse.Request.URL
	}
	return &document{url: u, doc: doc}, nil
}

func (s *HTTPSession) query(ctx context.Context, selector string) ([]*httpElement, error) {
	if s.closed {
		return nil, ErrSessionClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.current == nil {
		return nil, fmt.Errorf("%w: no document loaded", ErrNoSuchElement)
	}
	m, err := cascadia.Compile(selector)
	if err != nil {
		return nil, fmt.Errorf("invalid selector %q: %w", selector, err)
	}

	sel := s.current.doc.FindMatcher(m)
	els := make([]*httpElement, 0, sel.Length())
	sel.Each(func(_ int, item *goquery.Selection) {
		els = append(els, &httpElement{sel: item, base: s.current.url})
	})
	return els, nil
}

// clickTarget returns the URL a click on el would load, nil for a click
// that stays on the page, or ErrNotClickable.
func (s *HTTPSession) clickTarget(el Element) (*url.URL, error) {
	he, ok := el.(*httpElement)
	if !ok {
		return nil, fmt.Errorf("%w: foreign element", ErrNotClickable)
	}

	anchor := he.sel.Closest("a[href]")
	if anchor.Length() == 0 {
		return nil, ErrNotClickable
	}
	href := strings.TrimSpace(anchor.AttrOr("href", ""))
	if href == "" || strings.HasPrefix(strings.ToLower(href), "javascript:") {
		return nil, ErrNotClickable
	}
	if strings.HasPrefix(href, "#") {
		return nil, nil
	}

	ref, err := url.Parse(href)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotClickable, err)
	}
	return he.base.ResolveReference(ref), nil
}

type httpElement struct {
	sel  *goquery.Selection
	base *url.URL
}

func (e *httpElement) Text() string {
	return renderText(e.sel.Nodes)
}

func (e *httpElement) Attr(name string) (string, bool) {
	v, ok := e.sel.Attr(name)
	if !ok {
		return "", false
	}
	if name == "href" || name == "src" {
		if ref, err := url.Parse(strings.TrimSpace(v)); err == nil {
			return e.base.ResolveReference(ref).String(), true
		}
	}
	return v, true
}

func (e *httpElement) Find(selector string) (Element, error) {
	m, err := cascadia.Compile(selector)
	if err != nil {
		return nil, fmt.Errorf("invalid selector %q: %w", selector, err)
	}
	sel := e.sel.FindMatcher(m).First()
	if sel.Length() == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoSuchElement, selector)
	}
	return &httpElement{sel: sel, base: e.base}, nil
}
