package validator

import (
	"context"
	"time"
)

// Fetcher performs the network or render operation for one target under one
// credential. HTTP error statuses are outcomes, not errors; only transport
// failures are returned as errors.
type Fetcher interface {
	Fetch(ctx context.Context, cred Credential, target string) (Outcome, error)
}

// Classifier turns a raw outcome into a dispatch decision.
type Classifier interface {
	Classify(outcome Outcome) Classification
}

// ResultSink durably persists results. Flush receives the complete ordered
// result sequence and rewrites the store.
type ResultSink interface {
	Append(ctx context.Context, result Result) error
	Flush(ctx context.Context, results []Result) error
	Close() error
}

// CredentialPool hands out credentials subject to per-credential soft caps.
type CredentialPool interface {
	Acquire() (Credential, bool)
	AcquireExcluding(tried map[string]struct{}) (Credential, bool)
	Claim(id string) (Credential, bool)
	RecordUse(id string)
	Release(id string)
	All() []Credential
	Snapshot() []CredentialStatus
}

// Pacer shapes request cadence. Both waits return an error once ctx is done.
type Pacer interface {
	BeforeRequest(ctx context.Context) error
	BetweenBatches(ctx context.Context) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
