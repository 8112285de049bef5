package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/umarmf343/rankbeam/internal/monitor"
)

const addressChangePath = "/gp/delivery/ajax/address-change.html"

// ErrServiceClosed indicates the session has been closed.
var ErrServiceClosed = errors.New("scraper session closed")

var defaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.3 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36",
}

// HTTPOptions configure the plain HTTP session driver.
type HTTPOptions struct {
	Timeout           time.Duration
	RequestsPerMinute int
	Proxy             string
	// BaseURL replaces the marketplace host, mainly for tests.
	BaseURL    string
	UserAgents []string
	Logger     *slog.Logger
}

// HTTPSession is a cookie-carrying storefront session that sets its delivery
// location through the address-change endpoint instead of a rendered picker.
type HTTPSession struct {
	cfg       CountryConfig
	baseURL   string
	client    *http.Client
	ticker    *time.Ticker
	closed    chan struct{}
	closeOnce sync.Once
	userAgent string
	logger    *slog.Logger
}

// NewHTTPSession creates a session with timeout handling, request pacing and
// the marketplace's language and currency cookies preset.
func NewHTTPSession(cfg CountryConfig, opts HTTPOptions) (*HTTPSession, error) {
	if opts.RequestsPerMinute <= 0 {
		opts.RequestsPerMinute = 20
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if len(opts.UserAgents) == 0 {
		opts.UserAgents = defaultUserAgents
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = cfg.BaseURL()
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	jar.SetCookies(baseURL, []*http.Cookie{
		{Name: "i18n-prefs", Value: cfg.Currency, Path: "/"},
		{Name: "lc-acbde", Value: cfg.LanguageCookie(), Path: "/"},
	})

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if opts.Proxy != "" {
		proxyURL, err := url.Parse(opts.Proxy)
		if err != nil {
			return nil, fmt.Errorf("parse proxy: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	interval := time.Minute / time.Duration(opts.RequestsPerMinute)
	return &HTTPSession{
		cfg:       cfg,
		baseURL:   base,
		client:    &http.Client{Timeout: opts.Timeout, Jar: jar, Transport: transport},
		ticker:    time.NewTicker(interval),
		closed:    make(chan struct{}),
		userAgent: opts.UserAgents[int(time.Now().UnixNano())%len(opts.UserAgents)],
		logger:    opts.Logger.With("country", cfg.Code, "driver", "http"),
	}, nil
}

// HTTPSessionFactory opens an HTTPSession per marketplace.
func HTTPSessionFactory(opts HTTPOptions) monitor.SessionFactory {
	return func(ctx context.Context, m monitor.Marketplace) (monitor.Session, error) {
		cfg, ok := LookupCountry(m.Code)
		if !ok {
			return nil, fmt.Errorf("%w: %s", monitor.ErrUnsupportedCountry, m.Code)
		}
		return NewHTTPSession(cfg, opts)
	}
}

// Close stops the pacing ticker and unblocks any pending waiters.
func (s *HTTPSession) Close() error {
	s.closeOnce.Do(func() {
		s.ticker.Stop()
		close(s.closed)
	})
	return nil
}

// ReadDisplayedLocale loads the storefront and returns the delivery line.
func (s *HTTPSession) ReadDisplayedLocale(ctx context.Context) (string, error) {
	body, err := s.get(ctx, s.baseURL+"/")
	if err != nil {
		return "", err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return "", err
	}
	if isInterstitial(doc) {
		return "", monitor.ErrInterstitial
	}
	return firstNonEmpty(
		doc.Find("#glow-ingress-line2").Text(),
		doc.Find("#glow-ingress-line1").Text(),
	), nil
}

// OpenLocalePicker is a no-op: the address endpoint needs no popover.
func (s *HTTPSession) OpenLocalePicker(ctx context.Context) error { return nil }

// FindLocaleInput always resolves to the address-change endpoint.
func (s *HTTPSession) FindLocaleInput(ctx context.Context, candidates []string) (string, error) {
	return addressChangePath, nil
}

// SubmitLocaleInput posts the postal code to the address-change endpoint.
func (s *HTTPSession) SubmitLocaleInput(ctx context.Context, surface string, parts []string) error {
	form := url.Values{}
	form.Set("locationType", "LOCATION_INPUT")
	form.Set("zipCode", strings.Join(parts, "-"))
	form.Set("deviceType", "web")
	form.Set("pageType", "s")
	form.Set("actionSource", "glow")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+surface, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	s.setHeaders(req)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	req.Header.Set("Origin", s.baseURL)

	resp, err := s.do(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("address change failed with status %d", resp.StatusCode)
	}
	return nil
}

// DismissLocalePicker is a no-op for the HTTP driver.
func (s *HTTPSession) DismissLocalePicker(ctx context.Context) error { return nil }

// RenderSearchPage fetches one page of search results.
func (s *HTTPSession) RenderSearchPage(ctx context.Context, keyword string, page int) (*monitor.RawPage, error) {
	endpoint := s.SearchURL(keyword, page)
	body, err := s.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	return &monitor.RawPage{URL: endpoint, StatusCode: http.StatusOK, HTML: body}, nil
}

// SearchURL builds the results URL for a keyword and page.
func (s *HTTPSession) SearchURL(keyword string, page int) string {
	return searchURL(s.baseURL, s.cfg, keyword, page)
}

// FetchTargetDetail loads the product detail page of an ASIN.
func (s *HTTPSession) FetchTargetDetail(ctx context.Context, asin string) (*monitor.ProductInfo, error) {
	asin = strings.TrimSpace(asin)
	if asin == "" {
		return nil, errors.New("asin is required")
	}
	body, err := s.get(ctx, fmt.Sprintf("%s/dp/%s", s.baseURL, url.PathEscape(asin)))
	if err != nil {
		return nil, err
	}
	return ParseProductDetail(strings.NewReader(body), asin)
}

func (s *HTTPSession) get(ctx context.Context, endpoint string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	s.setHeaders(req)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := s.do(ctx, req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if err := statusError(resp.StatusCode, endpoint); err != nil {
		return "", err
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: read body: %v", monitor.ErrTransient, err)
	}
	return string(body), nil
}

func (s *HTTPSession) do(ctx context.Context, req *http.Request) (*http.Response, error) {
	select {
	case <-s.closed:
		return nil, ErrServiceClosed
	default:
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.closed:
		return nil, ErrServiceClosed
	case <-s.ticker.C:
	}

	resp, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.logger.Debug("request failed", "url", req.URL.String(), "error", err)
		return nil, fmt.Errorf("%w: %v", monitor.ErrTransient, err)
	}
	return resp, nil
}

func (s *HTTPSession) setHeaders(req *http.Request) {
	req.Header.Set("User-Agent", s.userAgent)
	req.Header.Set("Accept-Language", s.cfg.AcceptLanguage())
	req.Header.Set("Referer", s.baseURL+"/")
}

func statusError(code int, endpoint string) error {
	switch {
	case code == http.StatusOK:
		return nil
	case code == http.StatusServiceUnavailable || code == http.StatusTooManyRequests:
		return fmt.Errorf("%w: status %d from %s", monitor.ErrRateLimited, code, endpoint)
	case code >= 500:
		return fmt.Errorf("%w: status %d from %s", monitor.ErrTransient, code, endpoint)
	default:
		return fmt.Errorf("unexpected status code %d when scraping %s", code, endpoint)
	}
}

func searchURL(base string, cfg CountryConfig, keyword string, page int) string {
	params := url.Values{}
	params.Set("k", keyword)
	if page > 1 {
		params.Set("page", strconv.Itoa(page))
	}
	endpoint := base + "/s?" + params.Encode()
	if cfg.MarketParam != "" {
		endpoint += "&" + cfg.MarketParam
	}
	return endpoint
}
