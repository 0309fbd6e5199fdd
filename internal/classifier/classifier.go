// Package classifier decides whether a fetched page is a live profile, a dead
// one, a sign that the credential is burnt, or a target-side failure.
package classifier

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/profile-validator/internal/validator"
)

// Reasons recorded on results.
const (
	ReasonNotFound          = "404 - profile not found"
	ReasonAccessDenied      = "403 - access denied"
	ReasonDeleted           = "profile not found or deleted"
	ReasonNoProfileContent  = "no profile content found"
	ReasonProfileFound      = "profile found"
	ReasonTooManyRedirects  = "too many redirects - likely authentication issue"
	ReasonAuthWall          = "redirected to auth wall"
	ReasonPageLoadTimeout   = "page load timeout"
	ReasonDNSFailure        = "dns lookup failed"
	ReasonConnectionRefused = "connection refused"
)

// Config holds the signal lists. Every list is data; nothing in the
// classifier hard-codes a site.
type Config struct {
	// NotFoundPhrases are lower-case body phrases that mark a deleted profile.
	NotFoundPhrases []string `mapstructure:"not_found_phrases"`
	// ProfileSelectors are CSS selectors present on a rendered profile.
	ProfileSelectors []string `mapstructure:"profile_selectors"`
	// TitleMarkers are lower-case title fragments of a profile page.
	TitleMarkers []string `mapstructure:"title_markers"`
	// ContentKeywords are lower-case body words that only appear on profiles.
	ContentKeywords []string `mapstructure:"content_keywords"`
	// AuthWallMarkers are final-URL fragments that mean the session was rejected.
	AuthWallMarkers []string `mapstructure:"auth_wall_markers"`
	// RetryableStatusCodes are statuses blamed on the credential, not the target.
	RetryableStatusCodes []int `mapstructure:"retryable_status_codes"`
}

// DefaultConfig returns the LinkedIn signal set.
func DefaultConfig() Config {
	return Config{
		NotFoundPhrases: []string{
			"this linkedin profile was not found",
			"page not found",
			"member not found",
			"profile doesn't exist",
			"this profile doesn't exist",
			"user not found",
			"profile unavailable",
		},
		ProfileSelectors: []string{
			".pv-top-card",
			".pv-text-details__left-panel",
			".ph5.pb5",
			".pv-entity__summary-info",
			`[data-section="summary"]`,
			".profile-photo-edit",
			".pv-top-card-profile-picture",
			".pv-contact-info",
			`h1[data-anonymize="person-name"]`,
			".text-body-medium.break-words",
		},
		TitleMarkers:         []string{"| linkedin", "- linkedin"},
		ContentKeywords:      []string{"experience", "education", "skills", "connections"},
		AuthWallMarkers:      []string{"authwall", "/login", "/checkpoint", "/uas/login"},
		RetryableStatusCodes: []int{401, 429, 999},
	}
}

// Classifier implements validator.Classifier.
type Classifier struct {
	cfg       Config
	retryable map[int]struct{}
}

// New builds a Classifier. Empty lists in cfg are taken from DefaultConfig.
func New(cfg Config) *Classifier {
	def := DefaultConfig()
	if len(cfg.NotFoundPhrases) == 0 {
		cfg.NotFoundPhrases = def.NotFoundPhrases
	}
	if len(cfg.ProfileSelectors) == 0 {
		cfg.ProfileSelectors = def.ProfileSelectors
	}
	if len(cfg.TitleMarkers) == 0 {
		cfg.TitleMarkers = def.TitleMarkers
	}
	if len(cfg.ContentKeywords) == 0 {
		cfg.ContentKeywords = def.ContentKeywords
	}
	if len(cfg.AuthWallMarkers) == 0 {
		cfg.AuthWallMarkers = def.AuthWallMarkers
	}
	if len(cfg.RetryableStatusCodes) == 0 {
		cfg.RetryableStatusCodes = def.RetryableStatusCodes
	}
	retryable := make(map[int]struct{}, len(cfg.RetryableStatusCodes))
	for _, code := range cfg.RetryableStatusCodes {
		retryable[code] = struct{}{}
	}
	return &Classifier{
		cfg:       lowerAll(cfg),
		retryable: retryable,
	}
}

// Classify applies the rules in order: transport error, 404, credential-side
// statuses, auth-wall redirects, other non-200s, then page content.
func (c *Classifier) Classify(out validator.Outcome) validator.Classification {
	if out.Err != nil {
		return classifyError(out.Err)
	}
	switch {
	case out.StatusCode == 404:
		return terminal(ReasonNotFound)
	case c.isRetryableStatus(out.StatusCode):
		return validator.Classification{
			Kind:   validator.KindInvalidRetryable,
			Reason: fmt.Sprintf("HTTP %d", out.StatusCode),
		}
	case c.isAuthWall(out.FinalURL):
		return validator.Classification{Kind: validator.KindInvalidRetryable, Reason: ReasonAuthWall}
	case out.StatusCode == 403:
		return terminal(ReasonAccessDenied)
	case out.StatusCode != 200:
		return terminal(fmt.Sprintf("HTTP %d", out.StatusCode))
	}
	return c.classifyPage(out.Body)
}

func (c *Classifier) classifyPage(body []byte) validator.Classification {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return terminal(ReasonNoProfileContent)
	}
	title := strings.ToLower(strings.TrimSpace(doc.Find("title").First().Text()))
	text := strings.ToLower(doc.Find("body").Text())

	if containsAny(text, c.cfg.NotFoundPhrases) ||
		strings.Contains(title, "not found") || strings.Contains(title, "404") {
		return terminal(ReasonDeleted)
	}
	for _, sel := range c.cfg.ProfileSelectors {
		if doc.Find(sel).Length() > 0 {
			return valid()
		}
	}
	if containsAny(title, c.cfg.TitleMarkers) || containsAny(text, c.cfg.ContentKeywords) {
		return valid()
	}
	return terminal(ReasonNoProfileContent)
}

func (c *Classifier) isRetryableStatus(code int) bool {
	_, ok := c.retryable[code]
	return ok
}

func (c *Classifier) isAuthWall(finalURL string) bool {
	if finalURL == "" {
		return false
	}
	return containsAny(strings.ToLower(finalURL), c.cfg.AuthWallMarkers)
}

// classifyError separates credential-side transport failures (redirect loops
// through the login flow) from target-side ones.
func classifyError(err error) validator.Classification {
	msg := strings.ToLower(err.Error())
	var dnsErr *net.DNSError
	var netErr net.Error
	switch {
	case errors.Is(err, validator.ErrTooManyRedirects) || strings.Contains(msg, "err_too_many_redirects"):
		return validator.Classification{Kind: validator.KindInvalidRetryable, Reason: ReasonTooManyRedirects}
	case errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &netErr) && netErr.Timeout(),
		strings.Contains(msg, "timeout"), strings.Contains(msg, "err_timed_out"):
		return fatal(ReasonPageLoadTimeout)
	case errors.As(err, &dnsErr), strings.Contains(msg, "err_name_not_resolved"):
		return fatal(ReasonDNSFailure)
	case errors.Is(err, syscall.ECONNREFUSED), strings.Contains(msg, "err_connection_refused"):
		return fatal(ReasonConnectionRefused)
	default:
		return fatal(err.Error())
	}
}

func valid() validator.Classification {
	return validator.Classification{Kind: validator.KindValid, Reason: ReasonProfileFound}
}

func terminal(reason string) validator.Classification {
	return validator.Classification{Kind: validator.KindInvalidTerminal, Reason: reason}
}

func fatal(reason string) validator.Classification {
	return validator.Classification{Kind: validator.KindFatalError, Reason: reason}
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if n != "" && strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

func lowerAll(cfg Config) Config {
	lower := func(in []string) []string {
		out := make([]string, len(in))
		for i, s := range in {
			out[i] = strings.ToLower(s)
		}
		return out
	}
	cfg.NotFoundPhrases = lower(cfg.NotFoundPhrases)
	cfg.TitleMarkers = lower(cfg.TitleMarkers)
	cfg.ContentKeywords = lower(cfg.ContentKeywords)
	cfg.AuthWallMarkers = lower(cfg.AuthWallMarkers)
	return cfg
}
