// Package collyfetcher implements validator.Fetcher with plain HTTP requests
// issued through gocolly, one cookie jar per credential.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"

	"github.com/JakeFAU/profile-validator/internal/metrics"
	"github.com/JakeFAU/profile-validator/internal/validator"
)

const (
	defaultTimeout      = 30 * time.Second
	defaultMaxRedirects = 10
)

// DefaultHeaders are sent with every request so the fetch looks like a
// top-level browser navigation.
var DefaultHeaders = map[string]string{
	"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,image/apng,*/*;q=0.8",
	"Accept-Language":           "en-US,en;q=0.9",
	"Upgrade-Insecure-Requests": "1",
	"Sec-Fetch-Dest":            "document",
	"Sec-Fetch-Mode":            "navigate",
	"Sec-Fetch-Site":            "none",
	"Cache-Control":             "max-age=0",
}

// Config controls collector behavior.
type Config struct {
	Timeout      time.Duration
	MaxRedirects int
	// Headers replace DefaultHeaders when non-empty.
	Headers map[string]string
	// Transport overrides the fresh-connection transport; used by tests.
	Transport http.RoundTripper
}

// session is the per-credential collector. Clones share its backend and
// therefore its cookie jar.
type session struct {
	collector *colly.Collector

	mu     sync.Mutex
	seeded map[string]struct{}
}

// Fetcher implements validator.Fetcher using the Colly collector.
type Fetcher struct {
	cfg    Config
	logger *zap.Logger

	mu       sync.Mutex
	sessions map[string]*session
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher.
func New(cfg Config, logger *zap.Logger) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxRedirects <= 0 {
		cfg.MaxRedirects = defaultMaxRedirects
	}
	if len(cfg.Headers) == 0 {
		cfg.Headers = DefaultHeaders
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		cfg:      cfg,
		logger:   logger,
		sessions: make(map[string]*session),
	}
}

// Fetch executes a single GET for target under cred. Non-2xx statuses are
// returned as outcomes; only transport failures produce an error.
func (f *Fetcher) Fetch(ctx context.Context, cred validator.Credential, target string) (validator.Outcome, error) {
	u, err := url.Parse(target)
	if err != nil {
		return validator.Outcome{Err: err}, fmt.Errorf("parse target %q: %w", target, err)
	}
	sess, err := f.session(cred)
	if err != nil {
		return validator.Outcome{Err: err}, err
	}
	sess.seed(u, cred.Cookies)

	var (
		result   validator.Outcome
		fetchErr error
	)
	start := time.Now()
	collector := sess.collector.Clone()
	collector.Context = ctx
	if cred.UserAgent != "" {
		collector.UserAgent = cred.UserAgent
	}
	f.configureCollectorHooks(collector, start, &result, &fetchErr)

	runErr := f.runCollector(ctx, collector, target, &fetchErr)
	elapsed := time.Since(start)
	metrics.ObserveFetch("http", elapsed)
	if runErr != nil {
		f.logger.Debug("http fetch failed",
			zap.String("credential", cred.ID),
			zap.String("target", target),
			zap.Error(runErr),
		)
		return validator.Outcome{Err: runErr, Duration: elapsed}, runErr
	}
	return result, nil
}

// Close drops every session and its idle connections.
func (f *Fetcher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.cfg.Transport.(*http.Transport); ok {
		t.CloseIdleConnections()
	}
	f.sessions = make(map[string]*session)
	return nil
}

func (f *Fetcher) session(cred validator.Credential) (*session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sessions[cred.ID]; ok {
		return s, nil
	}
	c, err := f.buildCollector()
	if err != nil {
		return nil, err
	}
	s := &session{collector: c, seeded: make(map[string]struct{})}
	f.sessions[cred.ID] = s
	return s, nil
}

func (f *Fetcher) buildCollector() (*colly.Collector, error) {
	c := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.ParseHTTPErrorResponse(),
	)
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	c.SetCookieJar(jar)
	transport := f.cfg.Transport
	if transport == nil {
		transport = newHTTPTransport()
	}
	c.WithTransport(transport)
	c.SetRequestTimeout(f.cfg.Timeout)
	maxRedirects := f.cfg.MaxRedirects
	c.SetRedirectHandler(func(_ *http.Request, via []*http.Request) error {
		if len(via) >= maxRedirects {
			return validator.ErrTooManyRedirects
		}
		return nil
	})
	return c, nil
}

// seed installs the credential's cookies for the target host once; later
// fetches reuse whatever the server set in the jar since.
func (s *session) seed(u *url.URL, cookies []*http.Cookie) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seeded[u.Host]; ok {
		return
	}
	s.seeded[u.Host] = struct{}{}
	if len(cookies) == 0 {
		return
	}
	_ = s.collector.SetCookies(u.String(), jarCookies(u, cookies))
}

// jarCookies adapts session cookies to the target: a domain the host does not
// belong to becomes host-only, and Secure is dropped on plain http.
func jarCookies(u *url.URL, cookies []*http.Cookie) []*http.Cookie {
	out := make([]*http.Cookie, 0, len(cookies))
	host := u.Hostname()
	for _, c := range cookies {
		cp := *c
		if cp.Domain != "" && !domainMatch(host, cp.Domain) {
			cp.Domain = ""
		}
		if u.Scheme == "http" {
			cp.Secure = false
		}
		out = append(out, &cp)
	}
	return out
}

func domainMatch(host, domain string) bool {
	d := domain
	if len(d) > 0 && d[0] == '.' {
		d = d[1:]
	}
	if host == d {
		return true
	}
	return len(host) > len(d) && host[len(host)-len(d)-1:] == "."+d
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	start time.Time,
	result *validator.Outcome,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		for key, value := range f.cfg.Headers {
			r.Headers.Set(key, value)
		}
	})

	hooks.OnResponse(func(r *colly.Response) {
		*result = validator.Outcome{
			StatusCode: r.StatusCode,
			FinalURL:   r.Request.URL.String(),
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, target string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(target)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

// newHTTPTransport disables keep-alives so every fetch opens a fresh
// connection.
func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout: 10 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		DisableKeepAlives:     true,
		ForceAttemptHTTP2:     false,
	}
}
