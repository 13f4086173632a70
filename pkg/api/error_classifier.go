package api

import (
	"context"
	"errors"
	"net"
	"strings"
)

// ErrorClassifier classifies errors that did not come back as a ProviderError,
// typically transport errors surfaced by fasthttp or the standard library
type ErrorClassifier interface {
	ClassifyError(err error) ErrorKind
	ShouldStopProvider(err error) bool
}

// MessageErrorClassifier classifies by error type first and falls back to message patterns
type MessageErrorClassifier struct{}

var defaultClassifier ErrorClassifier = &MessageErrorClassifier{}

// NewErrorClassifier creates the default classifier
func NewErrorClassifier() ErrorClassifier {
	return &MessageErrorClassifier{}
}

// ClassifyError maps err onto the provider error taxonomy
func (c *MessageErrorClassifier) ClassifyError(err error) ErrorKind {
	if err == nil {
		return KindTransient
	}

	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrRequestTimeout) {
		return KindTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindTransient
	}

	errStr := strings.ToLower(err.Error())

	switch {
	case strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "too many requests"):
		return KindRateLimited
	case strings.Contains(errStr, "quota") ||
		strings.Contains(errStr, "insufficient balance") ||
		strings.Contains(errStr, "402") ||
		strings.Contains(errStr, "run out of searches"):
		return KindQuotaExceeded
	case strings.Contains(errStr, "401") ||
		strings.Contains(errStr, "403") ||
		strings.Contains(errStr, "unauthorized") ||
		strings.Contains(errStr, "forbidden") ||
		strings.Contains(errStr, "invalid api key"):
		return KindAuth
	case strings.Contains(errStr, "decode") ||
		strings.Contains(errStr, "unmarshal") ||
		strings.Contains(errStr, "invalid character") ||
		strings.Contains(errStr, "400"):
		return KindMalformed
	}

	// timeouts, connection resets, dns failures and anything unknown are worth retrying
	return KindTransient
}

// ShouldStopProvider reports whether a provider should not be called again for the current batch
func (c *MessageErrorClassifier) ShouldStopProvider(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrCircuitOpen) {
		return true
	}
	switch c.ClassifyError(err) {
	case KindQuotaExceeded, KindAuth:
		return true
	}
	return false
}

// ShouldStopProvider applies the default classifier
func ShouldStopProvider(err error) bool {
	return defaultClassifier.ShouldStopProvider(err)
}
