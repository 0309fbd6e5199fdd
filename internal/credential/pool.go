// Package credential owns the pool of identities used for fetching: their
// consumption counters, rate windows, and randomized soft caps.
package credential

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/profile-validator/internal/clock/system"
	"github.com/JakeFAU/profile-validator/internal/metrics"
	"github.com/JakeFAU/profile-validator/internal/random"
	"github.com/JakeFAU/profile-validator/internal/validator"
)

const defaultWindow = time.Hour

// PoolConfig controls soft caps and window length.
type PoolConfig struct {
	// SoftCapMin and SoftCapMax bound the per-window request cap drawn for each
	// credential.
	SoftCapMin int
	SoftCapMax int
	// Window is the length of one consumption window.
	Window time.Duration
}

type slot struct {
	cred     validator.Credential
	used     int
	inFlight int
	softCap  int
	deadline time.Time
}

func (s *slot) load() int {
	return s.used + s.inFlight
}

// Pool implements validator.CredentialPool with uniformly random selection
// among credentials whose usage plus reservations is below their soft cap.
type Pool struct {
	mu     sync.Mutex
	slots  []*slot
	index  map[string]*slot
	cfg    PoolConfig
	clock  validator.Clock
	src    random.Source
	logger *zap.Logger
}

// NewPool builds a pool over creds. It fails with
// validator.ErrNoCredentialsConfigured when creds is empty.
func NewPool(
	creds []validator.Credential,
	cfg PoolConfig,
	clock validator.Clock,
	src random.Source,
	logger *zap.Logger,
) (*Pool, error) {
	if len(creds) == 0 {
		return nil, validator.NewConfigurationError("credentials", validator.ErrNoCredentialsConfigured)
	}
	if cfg.SoftCapMin <= 0 {
		cfg.SoftCapMin = 1
	}
	if cfg.SoftCapMax < cfg.SoftCapMin {
		cfg.SoftCapMax = cfg.SoftCapMin
	}
	if cfg.Window <= 0 {
		cfg.Window = defaultWindow
	}
	if clock == nil {
		clock = system.New()
	}
	if src == nil {
		src = random.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pool{
		index:  make(map[string]*slot, len(creds)),
		cfg:    cfg,
		clock:  clock,
		src:    src,
		logger: logger,
	}
	now := clock.Now()
	for _, c := range creds {
		if c.ID == "" {
			return nil, validator.NewConfigurationError("credentials", fmt.Errorf("credential without id"))
		}
		if _, dup := p.index[c.ID]; dup {
			return nil, validator.NewConfigurationError("credentials", fmt.Errorf("duplicate credential id %q", c.ID))
		}
		s := &slot{
			cred:     c,
			softCap:  p.drawCap(),
			deadline: now.Add(cfg.Window),
		}
		p.slots = append(p.slots, s)
		p.index[c.ID] = s
	}
	return p, nil
}

// Acquire reserves a random eligible credential.
func (p *Pool) Acquire() (validator.Credential, bool) {
	return p.AcquireExcluding(nil)
}

// AcquireExcluding reserves a random eligible credential not present in tried.
func (p *Pool) AcquireExcluding(tried map[string]struct{}) (validator.Credential, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.resetExpiredLocked()
	eligible := make([]*slot, 0, len(p.slots))
	for _, s := range p.slots {
		if _, skip := tried[s.cred.ID]; skip {
			continue
		}
		if s.load() < s.softCap {
			eligible = append(eligible, s)
		}
	}
	if len(eligible) == 0 {
		p.logger.Debug("no credential below soft cap", zap.Time("next_reset", p.nextResetLocked()))
		return validator.Credential{}, false
	}
	picked := eligible[random.Pick(p.src, len(eligible))]
	picked.inFlight++
	p.publishEligibleLocked()
	return picked.cred, true
}

// Claim reserves the named credential regardless of its soft cap. It is the
// failover path that guarantees every credential one attempt per item.
func (p *Pool) Claim(id string) (validator.Credential, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.resetExpiredLocked()
	s, ok := p.index[id]
	if !ok {
		return validator.Credential{}, false
	}
	s.inFlight++
	p.publishEligibleLocked()
	return s.cred, true
}

// RecordUse converts one reservation on id into a completed use.
func (p *Pool) RecordUse(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	s, ok := p.index[id]
	if !ok {
		return
	}
	if s.inFlight > 0 {
		s.inFlight--
	}
	s.used++
	if s.used == s.softCap {
		p.logger.Info("credential reached soft cap",
			zap.String("credential", id),
			zap.Int("soft_cap", s.softCap),
			zap.Time("reset_at", s.deadline),
		)
	}
	p.publishEligibleLocked()
}

// Release drops a reservation on id whose attempt never reached the network.
func (p *Pool) Release(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if s, ok := p.index[id]; ok && s.inFlight > 0 {
		s.inFlight--
	}
	p.publishEligibleLocked()
}

// All returns every credential in configuration order.
func (p *Pool) All() []validator.Credential {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]validator.Credential, 0, len(p.slots))
	for _, s := range p.slots {
		out = append(out, s.cred)
	}
	return out
}

// Snapshot returns the current state of every credential.
func (p *Pool) Snapshot() []validator.CredentialStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.resetExpiredLocked()
	out := make([]validator.CredentialStatus, 0, len(p.slots))
	for _, s := range p.slots {
		out = append(out, validator.CredentialStatus{
			ID:            s.cred.ID,
			Used:          s.used,
			InFlight:      s.inFlight,
			SoftCap:       s.softCap,
			ResetDeadline: s.deadline,
			Eligible:      s.load() < s.softCap,
		})
	}
	return out
}

// resetExpiredLocked opens a new window, with a freshly drawn cap, for every
// credential whose deadline has passed.
func (p *Pool) resetExpiredLocked() {
	now := p.clock.Now()
	for _, s := range p.slots {
		if now.Before(s.deadline) {
			continue
		}
		s.used = 0
		s.deadline = now.Add(p.cfg.Window)
		s.softCap = p.drawCap()
		p.logger.Debug("credential window reset",
			zap.String("credential", s.cred.ID),
			zap.Int("soft_cap", s.softCap),
		)
	}
}

func (p *Pool) nextResetLocked() time.Time {
	var next time.Time
	for _, s := range p.slots {
		if next.IsZero() || s.deadline.Before(next) {
			next = s.deadline
		}
	}
	return next
}

func (p *Pool) publishEligibleLocked() {
	n := 0
	for _, s := range p.slots {
		if s.load() < s.softCap {
			n++
		}
	}
	metrics.SetEligibleCredentials(n)
}

func (p *Pool) drawCap() int {
	return random.IntBetween(p.src, p.cfg.SoftCapMin, p.cfg.SoftCapMax)
}
