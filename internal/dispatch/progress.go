package dispatch

import (
	"sync"
	"time"

	"github.com/JakeFAU/profile-validator/internal/validator"
)

// Status is a point-in-time view of a run.
type Status struct {
	RunID       string                       `json:"run_id"`
	State       string                       `json:"state"`
	StartedAt   time.Time                    `json:"started_at,omitempty"`
	FinishedAt  time.Time                    `json:"finished_at,omitempty"`
	Pending     int                          `json:"pending"`
	Summary     validator.Summary            `json:"summary"`
	LastResult  *validator.Result            `json:"last_result,omitempty"`
	Credentials []validator.CredentialStatus `json:"credentials,omitempty"`
}

// Run states.
const (
	StateIdle     = "idle"
	StateRunning  = "running"
	StateFinished = "finished"
	StateStopped  = "stopped"
)

// Progress tracks a run for the status server. It is safe for concurrent use.
type Progress struct {
	mu     sync.RWMutex
	status Status
	pool   validator.CredentialPool
}

// NewProgress creates a tracker for runID. pool may be nil.
func NewProgress(runID string, pool validator.CredentialPool) *Progress {
	return &Progress{status: Status{RunID: runID, State: StateIdle}, pool: pool}
}

func (p *Progress) start(now time.Time, pending, skipped int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status.State = StateRunning
	p.status.StartedAt = now
	p.status.Pending = pending
	p.status.Summary = validator.Summary{Skipped: skipped}
}

func (p *Progress) record(r validator.Result) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status.Summary.Add(r)
	if p.status.Pending > 0 {
		p.status.Pending--
	}
	last := r
	p.status.LastResult = &last
}

func (p *Progress) finish(now time.Time, interrupted bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status.State = StateFinished
	if interrupted {
		p.status.State = StateStopped
	}
	p.status.FinishedAt = now
}

// Snapshot returns the current status, including credential state when a
// pool is attached.
func (p *Progress) Snapshot() Status {
	p.mu.RLock()
	st := p.status
	if st.LastResult != nil {
		last := *st.LastResult
		st.LastResult = &last
	}
	p.mu.RUnlock()
	if p.pool != nil {
		st.Credentials = p.pool.Snapshot()
	}
	return st
}

// Ready reports whether a run has started.
func (p *Progress) Ready() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status.State != StateIdle
}
