package validator

import (
	"net/http"
	"time"
)

// Verdict is the terminal classification recorded for a work item.
type Verdict string

// Verdict values persisted in results.
const (
	VerdictValid   Verdict = "valid"
	VerdictInvalid Verdict = "invalid"
	VerdictError   Verdict = "error"
)

// NoCredential is recorded as the credential of a result that no credential produced.
const NoCredential = "none"

// ReasonCredentialsExhausted is the reason recorded when every credential failed an item.
const ReasonCredentialsExhausted = "all credentials exhausted"

// Credential is one identity under which fetches are made. Values handed out by
// the pool are copies; consumption state lives inside the pool only.
type Credential struct {
	ID        string
	Cookies   []*http.Cookie
	UserAgent string
}

// WorkItem is one input record to validate.
type WorkItem struct {
	// Key is the external correlation key (e.g. an expert or record ID).
	Key string `json:"key"`
	// Target is the identifier (URL) being validated.
	Target string `json:"target"`
	// Row is the 1-based position of the item in its source, for operator logs.
	Row int `json:"row"`
}

// Result is the terminal outcome for a WorkItem.
type Result struct {
	Key        string    `json:"key"`
	Target     string    `json:"target"`
	Verdict    Verdict   `json:"verdict"`
	Reason     string    `json:"reason,omitempty"`
	StatusCode int       `json:"status_code,omitempty"`
	Credential string    `json:"credential"`
	Timestamp  time.Time `json:"timestamp"`
}

// Outcome is the raw result of one fetch attempt.
type Outcome struct {
	// StatusCode is the HTTP status of the main document, zero when unknown.
	StatusCode int
	// FinalURL is where the navigation ended after redirects.
	FinalURL string
	// Body is the raw or rendered document.
	Body []byte
	// Duration is the wall time spent in the fetch.
	Duration time.Duration
	// Err is the transport-level failure, if any.
	Err error
}

// Kind is a classifier decision that drives the dispatch engine.
type Kind int

// Classification kinds, see the dispatch decision table.
const (
	KindValid Kind = iota
	KindInvalidTerminal
	KindInvalidRetryable
	KindFatalError
)

// String returns the label used in logs and metrics.
func (k Kind) String() string {
	switch k {
	case KindValid:
		return "valid"
	case KindInvalidTerminal:
		return "invalid_terminal"
	case KindInvalidRetryable:
		return "invalid_retryable"
	case KindFatalError:
		return "fatal_error"
	default:
		return "unknown"
	}
}

// Verdict maps a terminal kind onto the persisted verdict.
func (k Kind) Verdict() Verdict {
	switch k {
	case KindValid:
		return VerdictValid
	case KindInvalidTerminal, KindInvalidRetryable:
		return VerdictInvalid
	default:
		return VerdictError
	}
}

// Classification is a classifier verdict plus a human-readable reason.
type Classification struct {
	Kind   Kind
	Reason string
}

// Summary tallies the results of a run.
type Summary struct {
	Total   int `json:"total"`
	Valid   int `json:"valid"`
	Invalid int `json:"invalid"`
	Errors  int `json:"errors"`
	Skipped int `json:"skipped"`
}

// Add counts one result.
func (s *Summary) Add(r Result) {
	s.Total++
	switch r.Verdict {
	case VerdictValid:
		s.Valid++
	case VerdictInvalid:
		s.Invalid++
	default:
		s.Errors++
	}
}

// Summarize tallies a result sequence.
func Summarize(results []Result) Summary {
	var s Summary
	for _, r := range results {
		s.Add(r)
	}
	return s
}

// CredentialStatus is a read-only view of one pooled credential.
type CredentialStatus struct {
	ID            string    `json:"id"`
	Used          int       `json:"used"`
	InFlight      int       `json:"in_flight"`
	SoftCap       int       `json:"soft_cap"`
	ResetDeadline time.Time `json:"reset_deadline"`
	Eligible      bool      `json:"eligible"`
}
