package utils

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pavitra93/go-school-tenancy/shared/models"
)

// CircuitState represents the state of the circuit breaker
type CircuitState string

const (
	// StateClosed allows calls through
	StateClosed CircuitState = "closed"
	// StateOpen rejects calls until the reset timeout has passed
	StateOpen CircuitState = "open"
	// StateHalfOpen lets a limited number of trial calls through
	StateHalfOpen CircuitState = "half-open"
)

var (
	// ErrCircuitOpen is returned while the breaker is open
	ErrCircuitOpen = fmt.Errorf("circuit breaker is open: %w", models.ErrUnavailable)
	// ErrTooManyRequests is returned when the half-open trial slots are taken
	ErrTooManyRequests = fmt.Errorf("too many requests in half-open state: %w", models.ErrUnavailable)
)

// BreakerConfig tunes a CircuitBreaker
type BreakerConfig struct {
	Name         string
	MaxFailures  int
	ResetTimeout time.Duration
	HalfOpenMax  int
	Log          logrus.FieldLogger
	Now          func() time.Time
}

// CircuitBreaker stops calling a failing dependency for a while
type CircuitBreaker struct {
	cfg BreakerConfig

	mutex       sync.Mutex
	state       CircuitState
	failures    int
	openedAt    time.Time
	halfOpenReq int
}

// NewCircuitBreaker creates a breaker that opens after maxFailures
// consecutive failures and retries after resetTimeout
func NewCircuitBreaker(maxFailures int, resetTimeout time.Duration) *CircuitBreaker {
	return NewCircuitBreakerWithConfig(BreakerConfig{MaxFailures: maxFailures, ResetTimeout: resetTimeout})
}

// NewCircuitBreakerWithConfig creates a breaker from cfg
func NewCircuitBreakerWithConfig(cfg BreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 1
	}
	if cfg.Log == nil {
		cfg.Log = logrus.StandardLogger()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &CircuitBreaker{cfg: cfg, state: StateClosed}
}

// Call runs fn unless the breaker is open
func (cb *CircuitBreaker) Call(fn func() error) error {
	if err := cb.before(); err != nil {
		return err
	}

	err := fn()

	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	if err != nil {
		cb.onFailure()
	} else {
		cb.onSuccess()
	}
	return err
}

func (cb *CircuitBreaker) before() error {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	if cb.state == StateOpen {
		if cb.cfg.Now().Sub(cb.openedAt) < cb.cfg.ResetTimeout {
			return ErrCircuitOpen
		}
		cb.setState(StateHalfOpen)
		cb.halfOpenReq = 0
	}

	if cb.state == StateHalfOpen {
		if cb.halfOpenReq >= cb.cfg.HalfOpenMax {
			return ErrTooManyRequests
		}
		cb.halfOpenReq++
	}
	return nil
}

func (cb *CircuitBreaker) onFailure() {
	cb.failures++
	if cb.state == StateHalfOpen || cb.failures >= cb.cfg.MaxFailures {
		cb.openedAt = cb.cfg.Now()
		cb.setState(StateOpen)
	}
}

func (cb *CircuitBreaker) onSuccess() {
	cb.failures = 0
	if cb.state == StateHalfOpen {
		cb.halfOpenReq = 0
		cb.setState(StateClosed)
	}
}

func (cb *CircuitBreaker) setState(state CircuitState) {
	if cb.state == state {
		return
	}
	cb.cfg.Log.WithFields(logrus.Fields{
		"breaker": cb.cfg.Name,
		"from":    cb.state,
		"to":      state,
	}).Warn("Circuit breaker state changed")
	cb.state = state
}

// GetState returns the current state of the circuit breaker
func (cb *CircuitBreaker) GetState() CircuitState {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.state
}

// Reset closes the breaker and forgets past failures
func (cb *CircuitBreaker) Reset() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	cb.setState(StateClosed)
	cb.failures = 0
	cb.halfOpenReq = 0
}
