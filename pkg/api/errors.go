package api

import (
	"errors"
	"fmt"
	"time"

	"keyword-enricher/pkg/keyword"
)

var (
	ErrCircuitOpen    = errors.New("circuit breaker is open")
	ErrMaxRetries     = errors.New("max retries exceeded")
	ErrRequestTimeout = errors.New("request timed out")
	ErrNoKeywords     = errors.New("no keywords provided")
	// ErrNoData marks a keyword the vendor answered for without returning metrics
	ErrNoData         = errors.New("no data returned")
)

// ErrorKind is the provider failure taxonomy
type ErrorKind int

const (
	KindTransient     ErrorKind = iota // network timeout, 5xx
	KindRateLimited                    // 429 or vendor throttle
	KindQuotaExceeded                  // monthly cap reached or balance exhausted
	KindMalformed                      // bad request or undecodable response
	KindAuth                           // rejected credentials
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindRateLimited:
		return "rate_limited"
	case KindQuotaExceeded:
		return "quota_exceeded"
	case KindMalformed:
		return "malformed"
	case KindAuth:
		return "auth"
	default:
		return "unknown"
	}
}

// ProviderError is a classified failure reported by a provider adapter
type ProviderError struct {
	Provider   keyword.Provider
	Kind       ErrorKind
	StatusCode int
	RetryAfter time.Duration
	// Billed is set when the vendor charged for the failed request
	Billed  bool
	Cost    float64
	Message string
	Err     error
}

// NewProviderError creates a classified provider error
func NewProviderError(provider keyword.Provider, kind ErrorKind, status int, message string) *ProviderError {
	return &ProviderError{Provider: provider, Kind: kind, StatusCode: status, Message: message}
}

func (e *ProviderError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s error (status %d): %s", e.Provider, e.Kind, e.StatusCode, msg)
	}
	return fmt.Sprintf("%s: %s error: %s", e.Provider, e.Kind, msg)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Classification tells the backoff executor how to treat a failure
type Classification struct {
	Retryable     bool
	QuotaExceeded bool
	// ResetAfter is the vendor-signaled time until the limit resets
	ResetAfter time.Duration
}

// ClassifyFunc maps an error onto a Classification
type ClassifyFunc func(err error) Classification

// KindOf returns the taxonomy kind of err
func KindOf(err error) ErrorKind {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return defaultClassifier.ClassifyError(err)
}

// Classify is the default ClassifyFunc. Rate limits are retried and raise the quota
// signal; hard quota exhaustion, malformed requests and auth failures are not retried.
func Classify(err error) Classification {
	if err == nil {
		return Classification{}
	}
	if errors.Is(err, ErrCircuitOpen) {
		return Classification{}
	}

	var retryAfter time.Duration
	var pe *ProviderError
	if errors.As(err, &pe) {
		retryAfter = pe.RetryAfter
	}

	switch KindOf(err) {
	case KindTransient:
		return Classification{Retryable: true}
	case KindRateLimited:
		return Classification{Retryable: true, QuotaExceeded: true, ResetAfter: retryAfter}
	case KindQuotaExceeded:
		return Classification{QuotaExceeded: true, ResetAfter: retryAfter}
	default:
		return Classification{}
	}
}

// IsQuotaExceeded reports whether err means the provider cannot be used for the rest of a batch
func IsQuotaExceeded(err error) bool {
	return err != nil && KindOf(err) == KindQuotaExceeded
}

// BilledCost reports whether the vendor charged for a failed call and how much
func BilledCost(err error) (float64, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) && pe.Billed {
		return pe.Cost, true
	}
	return 0, false
}
