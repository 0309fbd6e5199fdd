package classifier

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"syscall"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/profile-validator/internal/validator"
)

func page(title, body string) []byte {
	return []byte(fmt.Sprintf("<html><head><title>%s</title></head><body>%s</body></html>", title, body))
}

func TestClassifyStatusRules(t *testing.T) {
	t.Parallel()

	c := New(Config{})
	cases := []struct {
		name   string
		out    validator.Outcome
		kind   validator.Kind
		reason string
	}{
		{
			name:   "404 wins over profile content",
			out:    validator.Outcome{StatusCode: 404, Body: page("Jane | LinkedIn", `<div class="pv-top-card"></div>`)},
			kind:   validator.KindInvalidTerminal,
			reason: ReasonNotFound,
		},
		{
			name:   "999 blames the credential",
			out:    validator.Outcome{StatusCode: 999},
			kind:   validator.KindInvalidRetryable,
			reason: "HTTP 999",
		},
		{
			name:   "429 blames the credential",
			out:    validator.Outcome{StatusCode: 429},
			kind:   validator.KindInvalidRetryable,
			reason: "HTTP 429",
		},
		{
			name:   "auth wall redirect",
			out:    validator.Outcome{StatusCode: 200, FinalURL: "https://www.linkedin.com/authwall?trk=x", Body: page("Sign in", "")},
			kind:   validator.KindInvalidRetryable,
			reason: ReasonAuthWall,
		},
		{
			name:   "403",
			out:    validator.Outcome{StatusCode: 403},
			kind:   validator.KindInvalidTerminal,
			reason: ReasonAccessDenied,
		},
		{
			name:   "500",
			out:    validator.Outcome{StatusCode: 500},
			kind:   validator.KindInvalidTerminal,
			reason: "HTTP 500",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := c.Classify(tc.out)
			require.Equal(t, tc.kind, got.Kind)
			require.Equal(t, tc.reason, got.Reason)
		})
	}
}

func TestClassifyPageContent(t *testing.T) {
	t.Parallel()

	c := New(Config{})
	cases := []struct {
		name   string
		body   []byte
		kind   validator.Kind
		reason string
	}{
		{"profile selector", page("Someone", `<section><div class="pv-top-card">x</div></section>`), validator.KindValid, ReasonProfileFound},
		{"person name heading", page("", `<h1 data-anonymize="person-name">Jane</h1>`), validator.KindValid, ReasonProfileFound},
		{"title marker", page("Jane Doe | LinkedIn", "<p>hello</p>"), validator.KindValid, ReasonProfileFound},
		{"content keyword", page("Jane", "<p>10 years of Experience</p>"), validator.KindValid, ReasonProfileFound},
		{"not found phrase", page("LinkedIn", "<p>This profile doesn't exist</p>"), validator.KindInvalidTerminal, ReasonDeleted},
		{"not found title beats selectors", page("Page Not Found", `<div class="pv-top-card"></div>`), validator.KindInvalidTerminal, ReasonDeleted},
		{"404 title", page("404 | LinkedIn", ""), validator.KindInvalidTerminal, ReasonDeleted},
		{"ambiguous", page("Welcome", "<p>nothing to see</p>"), validator.KindInvalidTerminal, ReasonNoProfileContent},
		{"empty body", nil, validator.KindInvalidTerminal, ReasonNoProfileContent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := c.Classify(validator.Outcome{StatusCode: 200, Body: tc.body})
			require.Equal(t, tc.kind, got.Kind)
			require.Equal(t, tc.reason, got.Reason)
		})
	}
}

func TestClassifyTransportErrors(t *testing.T) {
	t.Parallel()

	c := New(Config{})
	cases := []struct {
		name   string
		err    error
		kind   validator.Kind
		reason string
	}{
		{"redirect loop", fmt.Errorf("fetch: %w", validator.ErrTooManyRedirects), validator.KindInvalidRetryable, ReasonTooManyRedirects},
		{"chrome redirect loop", errors.New("page load error net::ERR_TOO_MANY_REDIRECTS"), validator.KindInvalidRetryable, ReasonTooManyRedirects},
		{"deadline", fmt.Errorf("navigate: %w", context.DeadlineExceeded), validator.KindFatalError, ReasonPageLoadTimeout},
		{"net timeout", &url.Error{Op: "Get", URL: "https://x", Err: os.ErrDeadlineExceeded}, validator.KindFatalError, ReasonPageLoadTimeout},
		{"dns", &url.Error{Op: "Get", URL: "https://x", Err: &net.DNSError{Err: "no such host", Name: "x"}}, validator.KindFatalError, ReasonDNSFailure},
		{"refused", &url.Error{Op: "Get", URL: "https://x", Err: &net.OpError{Op: "dial", Err: os.NewSyscallError("connect", syscall.ECONNREFUSED)}}, validator.KindFatalError, ReasonConnectionRefused},
		{"other", errors.New("tls: bad certificate"), validator.KindFatalError, "tls: bad certificate"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := c.Classify(validator.Outcome{Err: tc.err})
			require.Equal(t, tc.kind, got.Kind)
			require.Equal(t, tc.reason, got.Reason)
		})
	}
}

func TestCustomSignalLists(t *testing.T) {
	t.Parallel()

	c := New(Config{
		NotFoundPhrases:      []string{"GONE FOREVER"},
		ProfileSelectors:     []string{"#card"},
		TitleMarkers:         []string{"@ example"},
		ContentKeywords:      []string{"portfolio"},
		AuthWallMarkers:      []string{"/signin"},
		RetryableStatusCodes: []int{418},
	})

	require.Equal(t, validator.KindInvalidTerminal, c.Classify(validator.Outcome{StatusCode: 200, Body: page("x", "gone forever")}).Kind)
	require.Equal(t, validator.KindValid, c.Classify(validator.Outcome{StatusCode: 200, Body: page("x", `<div id="card"></div>`)}).Kind)
	require.Equal(t, validator.KindInvalidTerminal,
		c.Classify(validator.Outcome{StatusCode: 200, Body: page("x", "experience")}).Kind,
		"default keywords are replaced, not merged")
	require.Equal(t, validator.KindInvalidRetryable, c.Classify(validator.Outcome{StatusCode: 418}).Kind)
	require.Equal(t, validator.KindInvalidTerminal, c.Classify(validator.Outcome{StatusCode: 999}).Kind)
	require.Equal(t, validator.KindInvalidRetryable,
		c.Classify(validator.Outcome{StatusCode: 200, FinalURL: "https://example.com/signin"}).Kind)
}
