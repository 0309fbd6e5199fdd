// Package headless contains the browser-session fetcher: one persistent
// Chrome per credential, driven through chromedp.
package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/profile-validator/internal/metrics"
	"github.com/JakeFAU/profile-validator/internal/random"
	"github.com/JakeFAU/profile-validator/internal/validator"
)

const (
	defaultNavigationTimeout = 45 * time.Second
	defaultSettleDelay       = 3 * time.Second
)

var errClosed = errors.New("browser fetcher closed")

// Viewport is a window size the browser may report.
type Viewport struct {
	Width  int64 `mapstructure:"width"`
	Height int64 `mapstructure:"height"`
}

// DefaultViewports are common desktop resolutions.
var DefaultViewports = []Viewport{
	{Width: 1366, Height: 768},
	{Width: 1440, Height: 900},
	{Width: 1536, Height: 864},
	{Width: 1920, Height: 1080},
}

// Config controls the behavior of the browser fetcher.
type Config struct {
	// Headless false launches a visible window.
	Headless bool
	// ExecPath overrides the Chrome binary lookup.
	ExecPath          string
	NavigationTimeout time.Duration
	// SettleDelay is waited after the body is ready so client-side rendering
	// can finish.
	SettleDelay time.Duration
	// WarmupURL is visited once when a browser starts.
	WarmupURL string
	// CookieURL scopes host-only session cookies; the first target is used
	// when empty.
	CookieURL string
	Viewports []Viewport
}

type browserSession struct {
	// ready is closed once the launch finished; ctx, cancel and err are set
	// before that and never change afterwards.
	ready  chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	err    error
	// slot serializes navigations on one browser.
	slot chan struct{}
}

// startFunc launches and prepares a browser for cred. The returned context
// lives until cancel is called.
type startFunc func(ctx context.Context, cred validator.Credential, target string) (context.Context, context.CancelFunc, error)

// Fetcher implements validator.Fetcher using chromedp.
type Fetcher struct {
	cfg         Config
	src         random.Source
	logger      *zap.Logger
	allocator   context.Context
	allocCancel context.CancelFunc
	start       startFunc

	// mu guards the session map only; browsers launch outside it.
	mu       sync.Mutex
	sessions map[string]*browserSession
	closed   bool
}

// NewChromedp creates a browser fetcher. Browsers are launched lazily, one per
// credential, on first use.
func NewChromedp(cfg Config, src random.Source, logger *zap.Logger) (*Fetcher, error) {
	if cfg.NavigationTimeout < 0 || cfg.SettleDelay < 0 {
		return nil, fmt.Errorf("headless timeouts must be >= 0")
	}
	if len(cfg.Viewports) == 0 {
		cfg.Viewports = DefaultViewports
	}
	if src == nil {
		src = random.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.NoSandbox,
	)
	if cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", "new"), chromedp.Flag("hide-scrollbars", true))
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	f := &Fetcher{
		cfg:         cfg,
		src:         src,
		logger:      logger,
		allocator:   allocCtx,
		allocCancel: allocCancel,
		sessions:    make(map[string]*browserSession),
	}
	f.start = f.launch
	return f, nil
}

// Close shuts down every browser and the allocator.
func (f *Fetcher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, s := range f.sessions {
		// Sessions still launching see closed and cancel themselves.
		if s.cancel != nil {
			s.cancel()
		}
		delete(f.sessions, id)
	}
	f.closed = true
	f.allocCancel()
	return nil
}

// Fetch navigates cred's browser to target and returns the rendered DOM.
func (f *Fetcher) Fetch(ctx context.Context, cred validator.Credential, target string) (validator.Outcome, error) {
	sess, err := f.session(ctx, cred, target)
	if err != nil {
		return validator.Outcome{Err: err}, err
	}
	if err := sess.acquire(ctx); err != nil {
		return validator.Outcome{Err: err}, err
	}
	defer sess.release()

	navCtx, cancel := context.WithTimeout(sess.ctx, f.navTimeout())
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	meta := newResponseMeta()
	chromedp.ListenTarget(navCtx, meta.captureEvent)

	start := time.Now()
	html, finalURL, err := f.runHeadless(navCtx, target)
	elapsed := time.Since(start)
	metrics.ObserveFetch("browser", elapsed)
	if err != nil {
		if ctx.Err() != nil {
			err = fmt.Errorf("browser fetch canceled: %w", ctx.Err())
		}
		f.logger.Debug("browser fetch failed",
			zap.String("credential", cred.ID),
			zap.String("target", target),
			zap.Error(err),
		)
		return validator.Outcome{Err: err, Duration: elapsed}, err
	}

	status, responseURL := meta.snapshotWithFallbacks(target, finalURL)
	return validator.Outcome{
		StatusCode: status,
		FinalURL:   responseURL,
		Body:       []byte(html),
		Duration:   elapsed,
	}, nil
}

func (f *Fetcher) runHeadless(ctx context.Context, target string) (string, string, error) {
	var (
		html     string
		finalURL string
	)
	actions := []chromedp.Action{
		chromedp.Navigate(target),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(f.settleDelay()),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(ctx, actions...); err != nil {
		return "", "", mapNavigateError(err)
	}
	return html, finalURL, nil
}

// session returns cred's browser, launching it on first use. Concurrent
// callers for the same credential share one launch; other credentials are
// never blocked by it. A failed launch is forgotten so the next call retries.
func (f *Fetcher) session(ctx context.Context, cred validator.Credential, target string) (*browserSession, error) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil, errClosed
	}
	if s, ok := f.sessions[cred.ID]; ok {
		f.mu.Unlock()
		return s.wait(ctx)
	}
	s := &browserSession{ready: make(chan struct{}), slot: make(chan struct{}, 1)}
	f.sessions[cred.ID] = s
	f.mu.Unlock()

	browserCtx, browserCancel, err := f.start(ctx, cred, target)

	f.mu.Lock()
	switch {
	case err != nil:
		s.err = err
	case f.closed:
		browserCancel()
		s.err = errClosed
	default:
		s.ctx, s.cancel = browserCtx, browserCancel
	}
	if s.err != nil && f.sessions[cred.ID] == s {
		delete(f.sessions, cred.ID)
	}
	f.mu.Unlock()
	close(s.ready)

	if s.err != nil {
		return nil, s.err
	}
	return s, nil
}

// launch starts a browser, installs the credential's identity and runs the
// optional warm-up. Cancelling ctx aborts the launch.
func (f *Fetcher) launch(ctx context.Context, cred validator.Credential, target string) (context.Context, context.CancelFunc, error) {
	browserCtx, browserCancel := chromedp.NewContext(f.allocator)
	vp := f.cfg.Viewports[random.Pick(f.src, len(f.cfg.Viewports))]
	seedURL := f.cfg.CookieURL
	if seedURL == "" {
		seedURL = originOf(target)
	}

	// The first Run launches the browser and binds its lifetime to browserCtx,
	// so it must not carry a deadline. Only the caller's cancellation stops it.
	stop := context.AfterFunc(ctx, browserCancel)
	err := chromedp.Run(browserCtx, f.setupAction(cred, vp, seedURL))
	if !stop() {
		browserCancel()
		return nil, nil, fmt.Errorf("start browser for %s: %w", cred.ID, ctx.Err())
	}
	if err != nil {
		browserCancel()
		return nil, nil, fmt.Errorf("start browser for %s: %w", cred.ID, err)
	}
	f.logger.Info("browser session started",
		zap.String("credential", cred.ID),
		zap.Int64("viewport_width", vp.Width),
		zap.Int64("viewport_height", vp.Height),
	)

	if f.cfg.WarmupURL != "" {
		warmCtx, cancel := context.WithTimeout(browserCtx, f.navTimeout())
		stop := context.AfterFunc(ctx, cancel)
		err := chromedp.Run(warmCtx, chromedp.Navigate(f.cfg.WarmupURL), chromedp.Sleep(f.settleDelay()))
		stop()
		cancel()
		if err != nil {
			f.logger.Warn("warm-up navigation failed", zap.String("credential", cred.ID), zap.Error(err))
		}
	}
	return browserCtx, browserCancel, nil
}

// wait blocks until the session's launch finished or ctx is done.
func (s *browserSession) wait(ctx context.Context) (*browserSession, error) {
	select {
	case <-s.ready:
	case <-ctx.Done():
		return nil, fmt.Errorf("browser start wait canceled: %w", ctx.Err())
	}
	if s.err != nil {
		return nil, s.err
	}
	return s, nil
}

func (f *Fetcher) setupAction(cred validator.Credential, vp Viewport, seedURL string) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if cred.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(cred.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if err := emulation.SetDeviceMetricsOverride(vp.Width, vp.Height, 1, false).Do(ctx); err != nil {
			return fmt.Errorf("set viewport: %w", err)
		}
		if params := cookieParams(cred.Cookies, seedURL); len(params) > 0 {
			if err := network.SetCookies(params).Do(ctx); err != nil {
				return fmt.Errorf("set cookies: %w", err)
			}
		}
		return nil
	})
}

func (s *browserSession) acquire(ctx context.Context) error {
	select {
	case s.slot <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("browser slot wait canceled: %w", ctx.Err())
	}
}

func (s *browserSession) release() {
	select {
	case <-s.slot:
	default:
	}
}

func (f *Fetcher) navTimeout() time.Duration {
	if f.cfg.NavigationTimeout > 0 {
		return f.cfg.NavigationTimeout
	}
	return defaultNavigationTimeout
}

func (f *Fetcher) settleDelay() time.Duration {
	if f.cfg.SettleDelay > 0 {
		return f.cfg.SettleDelay
	}
	return defaultSettleDelay
}

// cookieParams converts session cookies to CDP parameters. Cookies without a
// domain are scoped to seedURL.
func cookieParams(cookies []*http.Cookie, seedURL string) []*network.CookieParam {
	out := make([]*network.CookieParam, 0, len(cookies))
	for _, c := range cookies {
		p := &network.CookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HttpOnly,
		}
		if c.Domain != "" {
			p.Domain = c.Domain
		} else {
			p.URL = seedURL
		}
		if p.Path == "" {
			p.Path = "/"
		}
		out = append(out, p)
	}
	return out
}

// mapNavigateError surfaces Chrome's redirect-loop failure as the shared
// sentinel.
func mapNavigateError(err error) error {
	if strings.Contains(err.Error(), "ERR_TOO_MANY_REDIRECTS") {
		return fmt.Errorf("%w: %v", validator.ErrTooManyRedirects, err)
	}
	return fmt.Errorf("chromedp run: %w", err)
}

func originOf(target string) string {
	u, err := url.Parse(target)
	if err != nil || u.Host == "" {
		return target
	}
	return u.Scheme + "://" + u.Host + "/"
}

// responseMeta records the main document response. The first document
// response after navigation is the main frame; later ones are iframes.
type responseMeta struct {
	mu     sync.RWMutex
	status int
	url    string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{}
}

func (m *responseMeta) capture(event *network.EventResponseReceived) {
	if event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status != 0 {
		return
	}
	m.status = int(event.Response.Status)
	m.url = event.Response.URL
}

func (m *responseMeta) captureEvent(ev any) {
	if resp, ok := ev.(*network.EventResponseReceived); ok {
		m.capture(resp)
	}
}

// snapshotWithFallbacks prefers the browser's final location over the
// response URL because client-side redirects do not produce a new document
// response.
func (m *responseMeta) snapshotWithFallbacks(requestURL, finalURL string) (int, string) {
	m.mu.RLock()
	status, respURL := m.status, m.url
	m.mu.RUnlock()

	loc := finalURL
	switch {
	case loc != "":
	case respURL != "":
		loc = respURL
	default:
		loc = requestURL
	}
	if status == 0 {
		status = http.StatusOK
	}
	return status, loc
}
