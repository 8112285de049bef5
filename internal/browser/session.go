// Package browser drives a headless Chrome tab per marketplace through the
// Chrome DevTools Protocol.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"

	"github.com/umarmf343/rankbeam/internal/monitor"
	"github.com/umarmf343/rankbeam/internal/scraper"
)

var (
	pickerOpeners = []string{"#nav-global-location-popover-link", "#glow-ingress-block"}
	changeLinks   = []string{"#GLUXChangePostalCodeLink", `a[id*="ChangePostalCode"]`}
	applyButtons  = []string{"#GLUXZipUpdate", `input[id*="GLUXZipUpdate"]`, `span[id*="GLUXZipUpdate"] input`}
	doneButtons   = []string{"#GLUXConfirmClose", `button[name="glowDoneButton"]`, ".a-popover-footer button"}
	consentButton = "#sp-cc-accept"

	// splitInputs are the paired fields of storefronts that take a postal
	// code in two segments.
	splitInputs = [][2]string{
		{"#GLUXZipUpdateInput_0", "#GLUXZipUpdateInput_1"},
		{`input[id*="ZipUpdateInput_0"]`, `input[id*="ZipUpdateInput_1"]`},
		{`input[name="zipCode-0"]`, `input[name="zipCode-1"]`},
	}
)

// Options configure the Chrome allocator and per-action timeouts.
type Options struct {
	Headless   bool
	ExecPath   string
	Proxy      string
	UserAgent  string
	Navigation time.Duration
	Action     time.Duration
	// Settle is how long the page is given after a submit or navigation
	// before its DOM is read.
	Settle time.Duration
	Logger *slog.Logger
}

// DefaultOptions returns headless settings suitable for unattended runs.
func DefaultOptions() Options {
	return Options{
		Headless:   true,
		UserAgent:  "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36",
		Navigation: 45 * time.Second,
		Action:     3 * time.Second,
		Settle:     1500 * time.Millisecond,
	}
}

// Session is one Chrome tab bound to a marketplace.
type Session struct {
	cfg    scraper.CountryConfig
	opts   Options
	tab    context.Context
	cancel context.CancelFunc
	logger *slog.Logger

	mu     sync.Mutex
	loaded bool
}

// Factory opens a Chrome session per marketplace.
func Factory(opts Options) monitor.SessionFactory {
	return func(ctx context.Context, m monitor.Marketplace) (monitor.Session, error) {
		cfg, ok := scraper.LookupCountry(m.Code)
		if !ok {
			return nil, fmt.Errorf("%w: %s", monitor.ErrUnsupportedCountry, m.Code)
		}
		return Open(ctx, cfg, opts)
	}
}

// Open starts Chrome and prepares a tab with the marketplace's language,
// currency, geolocation and time zone.
func Open(ctx context.Context, cfg scraper.CountryConfig, opts Options) (*Session, error) {
	defaults := DefaultOptions()
	if opts.Navigation <= 0 {
		opts.Navigation = defaults.Navigation
	}
	if opts.Action <= 0 {
		opts.Action = defaults.Action
	}
	if opts.Settle < 0 {
		opts.Settle = 0
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaults.UserAgent
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.WithoutCancel(ctx), allocatorOptions(cfg, opts)...)
	tab, cancelTab := chromedp.NewContext(allocCtx)
	s := &Session{
		cfg:  cfg,
		opts: opts,
		tab:  tab,
		cancel: func() {
			cancelTab()
			cancelAlloc()
		},
		logger: opts.Logger.With("country", cfg.Code, "driver", "chrome"),
	}

	// The browser is bound to the context of the first Run, so it is
	// allocated on the tab itself rather than under a timeout.
	if err := chromedp.Run(tab); err != nil {
		s.cancel()
		return nil, fmt.Errorf("%w: start chrome: %v", monitor.ErrSessionOpen, err)
	}

	setup := chromedp.Tasks{
		network.Enable(),
		network.SetExtraHTTPHeaders(network.Headers{"Accept-Language": cfg.AcceptLanguage()}),
		network.SetCookies(marketCookies(cfg)),
		emulation.SetGeolocationOverride().
			WithLatitude(cfg.Geo.Latitude).
			WithLongitude(cfg.Geo.Longitude).
			WithAccuracy(100),
		emulation.SetTimezoneOverride(cfg.TimeZone),
		emulation.SetLocaleOverride().WithLocale(strings.ReplaceAll(cfg.Language, "-", "_")),
	}
	if err := s.run(ctx, opts.Navigation, setup); err != nil {
		s.cancel()
		return nil, fmt.Errorf("prepare tab: %w", err)
	}
	return s, nil
}

func allocatorOptions(cfg scraper.CountryConfig, opts Options) []chromedp.ExecAllocatorOption {
	out := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("lang", cfg.Language),
		chromedp.WindowSize(1920, 1080),
		chromedp.UserAgent(opts.UserAgent),
	)
	if opts.Proxy != "" {
		out = append(out, chromedp.ProxyServer(opts.Proxy))
	}
	if opts.ExecPath != "" {
		out = append(out, chromedp.ExecPath(opts.ExecPath))
	}
	return out
}

func marketCookies(cfg scraper.CountryConfig) []*network.CookieParam {
	domain := cfg.CookieDomain()
	return []*network.CookieParam{
		{Name: "i18n-prefs", Value: cfg.Currency, Domain: domain, Path: "/"},
		{Name: "lc-acbde", Value: cfg.LanguageCookie(), Domain: domain, Path: "/"},
	}
}

// Close shuts the tab and the browser process.
func (s *Session) Close() error {
	s.cancel()
	return nil
}

// run executes actions on the tab, bounded by timeout and by the caller's ctx.
func (s *Session) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithTimeout(s.tab, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (s *Session) navigate(ctx context.Context, url string) (string, error) {
	var markup string
	err := s.run(ctx, s.opts.Navigation,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(s.opts.Settle),
		chromedp.OuterHTML("html", &markup, chromedp.ByQuery),
	)
	if err != nil {
		if ctx.Err() != nil {
			return "", err
		}
		return "", fmt.Errorf("%w: navigate %s: %v", monitor.ErrTransient, url, err)
	}
	return markup, nil
}

// exists reports whether sel matches at least one node without waiting.
func (s *Session) exists(ctx context.Context, sel string) bool {
	var nodes []*cdp.Node
	err := s.run(ctx, s.opts.Action, chromedp.Nodes(sel, &nodes, chromedp.ByQueryAll, chromedp.AtLeast(0)))
	return err == nil && len(nodes) > 0
}

func (s *Session) clickFirst(ctx context.Context, selectors []string) (string, error) {
	for _, sel := range selectors {
		if !s.exists(ctx, sel) {
			continue
		}
		if err := s.run(ctx, s.opts.Action, chromedp.Click(sel, chromedp.ByQuery, chromedp.NodeVisible)); err != nil {
			if ctx.Err() != nil {
				return "", err
			}
			s.logger.Debug("click failed", "selector", sel, "error", err)
			continue
		}
		return sel, nil
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return "", nil
}

func (s *Session) ensureLoaded(ctx context.Context) error {
	s.mu.Lock()
	loaded := s.loaded
	s.mu.Unlock()
	if loaded {
		return nil
	}
	if _, err := s.navigate(ctx, s.cfg.BaseURL()+"/"); err != nil {
		return err
	}
	if sel, _ := s.clickFirst(ctx, []string{consentButton}); sel != "" {
		s.logger.Debug("cookie consent accepted")
	}
	s.mu.Lock()
	s.loaded = true
	s.mu.Unlock()
	return nil
}

// ReadDisplayedLocale returns the header's delivery line.
func (s *Session) ReadDisplayedLocale(ctx context.Context) (string, error) {
	if err := s.ensureLoaded(ctx); err != nil {
		return "", err
	}
	var address string
	err := s.run(ctx, s.opts.Action, chromedp.Evaluate(
		`(function(){var e=document.querySelector('#glow-ingress-line2')||document.querySelector('#glow-ingress-line1');return e?e.innerText:'';})()`,
		&address,
	))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(address), nil
}

// OpenLocalePicker clicks the delivery location link in the header.
func (s *Session) OpenLocalePicker(ctx context.Context) error {
	if err := s.ensureLoaded(ctx); err != nil {
		return err
	}
	sel, err := s.clickFirst(ctx, pickerOpeners)
	if err != nil {
		return err
	}
	if sel == "" {
		return errors.New("delivery location link not found")
	}
	return s.run(ctx, s.opts.Navigation, chromedp.Sleep(s.opts.Settle))
}

// FindLocaleInput returns the first candidate selector present in the
// picker, following the change-postal-code link once if none is.
func (s *Session) FindLocaleInput(ctx context.Context, candidates []string) (string, error) {
	if sel := s.firstPresent(ctx, candidates); sel != "" {
		return sel, nil
	}
	if link, err := s.clickFirst(ctx, changeLinks); err != nil || link == "" {
		return "", err
	}
	if err := s.run(ctx, s.opts.Navigation, chromedp.Sleep(s.opts.Settle)); err != nil {
		return "", err
	}
	return s.firstPresent(ctx, candidates), ctx.Err()
}

func (s *Session) firstPresent(ctx context.Context, selectors []string) string {
	for _, sel := range selectors {
		if s.exists(ctx, sel) {
			return sel
		}
	}
	return ""
}

// SubmitLocaleInput types the postal code and applies it. Multi-part codes go
// into paired inputs when the storefront offers them.
func (s *Session) SubmitLocaleInput(ctx context.Context, surface string, parts []string) error {
	fields := s.inputFields(ctx, surface, parts)
	var typing chromedp.Tasks
	for _, f := range fields {
		typing = append(typing,
			chromedp.Clear(f.selector, chromedp.ByQuery),
			chromedp.SendKeys(f.selector, f.value, chromedp.ByQuery),
		)
	}
	if err := s.run(ctx, s.opts.Navigation, typing); err != nil {
		return fmt.Errorf("type postal code: %w", err)
	}

	applied, err := s.clickFirst(ctx, applyButtons)
	if err != nil {
		return err
	}
	if applied == "" {
		last := fields[len(fields)-1].selector
		if err := s.run(ctx, s.opts.Action, chromedp.SendKeys(last, kb.Enter, chromedp.ByQuery)); err != nil {
			return fmt.Errorf("apply postal code: %w", err)
		}
	}
	return s.run(ctx, s.opts.Navigation, chromedp.Sleep(2*s.opts.Settle))
}

type inputField struct {
	selector string
	value    string
}

func (s *Session) inputFields(ctx context.Context, surface string, parts []string) []inputField {
	if len(parts) == 2 {
		for _, pair := range splitInputs {
			if s.exists(ctx, pair[0]) && s.exists(ctx, pair[1]) {
				return []inputField{{pair[0], parts[0]}, {pair[1], parts[1]}}
			}
		}
	}
	return []inputField{{surface, joinParts(parts)}}
}

func joinParts(parts []string) string {
	return strings.Join(parts, "-")
}

// DismissLocalePicker closes the picker and reloads so the header reflects
// the new location.
func (s *Session) DismissLocalePicker(ctx context.Context) error {
	sel, err := s.clickFirst(ctx, doneButtons)
	if err != nil {
		return err
	}
	if sel == "" {
		if err := s.run(ctx, s.opts.Action, chromedp.KeyEvent(kb.Escape)); err != nil {
			return err
		}
	}
	return s.run(ctx, s.opts.Navigation,
		chromedp.Reload(),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(s.opts.Settle),
	)
}

// RenderSearchPage navigates to a results page and captures its markup.
func (s *Session) RenderSearchPage(ctx context.Context, keyword string, page int) (*monitor.RawPage, error) {
	url := s.cfg.SearchURL(keyword, page)
	markup, err := s.navigate(ctx, url)
	if err != nil {
		return nil, err
	}
	return &monitor.RawPage{URL: url, StatusCode: 200, HTML: markup}, nil
}

// FetchTargetDetail opens the product detail page of an ASIN.
func (s *Session) FetchTargetDetail(ctx context.Context, asin string) (*monitor.ProductInfo, error) {
	markup, err := s.navigate(ctx, fmt.Sprintf("%s/dp/%s", s.cfg.BaseURL(), asin))
	if err != nil {
		return nil, err
	}
	return scraper.ParseProductDetail(strings.NewReader(markup), asin)
}
