package infra

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrProviderUnavailable marks provider failures callers should retry later.
// Only errors wrapping it count against a circuit breaker.
var ErrProviderUnavailable = errors.New("provider unavailable")

// ErrCircuitOpen is returned without calling the provider while the breaker is open.
var ErrCircuitOpen = fmt.Errorf("%w: circuit breaker is open", ErrProviderUnavailable)

// CBState is the state of a provider circuit breaker.
type CBState int

const (
	CBClosed CBState = iota
	CBOpen
	CBHalfOpen
)

func (s CBState) String() string {
	switch s {
	case CBClosed:
		return "closed"
	case CBOpen:
		return "open"
	case CBHalfOpen:
		return "half-open"
	}
	return "unknown"
}

type CircuitBreakerConfig struct {
	FailureThreshold int           // consecutive provider failures that open the breaker
	SuccessThreshold int           // successful trial calls needed to close it again
	OpenTimeout      time.Duration // time spent open before a trial call is let through
}

// DefaultCBConfig suits the SumUp and Pretix clients: the pending order poller
// ticks every few seconds, so half a minute open skips a handful of ticks.
func DefaultCBConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{FailureThreshold: 5, SuccessThreshold: 2, OpenTimeout: 30 * time.Second}
}

// CircuitBreaker guards one external provider. While half-open only a single
// trial call is in flight; concurrent callers get ErrCircuitOpen.
type CircuitBreaker struct {
	name string
	cfg  CircuitBreakerConfig
	now  func() time.Time

	mu        sync.Mutex
	state     CBState
	failures  int
	successes int
	openedAt  time.Time
	probing   bool
}

func NewCircuitBreaker(name string, cfg CircuitBreakerConfig) *CircuitBreaker {
	def := DefaultCBConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = def.SuccessThreshold
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = def.OpenTimeout
	}
	return &CircuitBreaker{name: name, cfg: cfg, now: time.Now}
}

func (cb *CircuitBreaker) Name() string { return cb.name }

// State reports the current state, moving open to half-open once the timeout passed.
func (cb *CircuitBreaker) State() CBState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.advance()
	return cb.state
}

func (cb *CircuitBreaker) advance() {
	if cb.state == CBOpen && cb.now().Sub(cb.openedAt) >= cb.cfg.OpenTimeout {
		cb.state = CBHalfOpen
		cb.successes = 0
		cb.probing = false
	}
}

// Execute calls fn unless the breaker is open. Errors that do not wrap
// ErrProviderUnavailable (bad configuration, undecodable bodies) are returned
// but leave the breaker untouched.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	cb.mu.Lock()
	cb.advance()
	switch {
	case cb.state == CBOpen:
		cb.mu.Unlock()
		return ErrCircuitOpen
	case cb.state == CBHalfOpen && cb.probing:
		cb.mu.Unlock()
		return ErrCircuitOpen
	case cb.state == CBHalfOpen:
		cb.probing = true
	}
	cb.mu.Unlock()

	err := fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.probing = false
	if err != nil && errors.Is(err, ErrProviderUnavailable) {
		cb.recordFailure()
	} else if err == nil {
		cb.recordSuccess()
	}
	return err
}

func (cb *CircuitBreaker) recordFailure() {
	cb.failures++
	if cb.state == CBHalfOpen || cb.failures >= cb.cfg.FailureThreshold {
		if cb.state != CBOpen {
			log.Warn().Str("breaker", cb.name).Int("failures", cb.failures).Msg("provider circuit opened")
		}
		cb.state = CBOpen
		cb.openedAt = cb.now()
		cb.failures = 0
	}
}

func (cb *CircuitBreaker) recordSuccess() {
	cb.failures = 0
	if cb.state != CBHalfOpen {
		return
	}
	cb.successes++
	if cb.successes >= cb.cfg.SuccessThreshold {
		cb.state = CBClosed
		cb.successes = 0
		log.Info().Str("breaker", cb.name).Msg("provider circuit closed")
	}
}
