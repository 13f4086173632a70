package api

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"keyword-enricher/pkg/keyword"
)

// doRequest sends req honoring the context deadline and the adapter's own timeout
func doRequest(ctx context.Context, provider keyword.Provider, client *fasthttp.Client, timeout time.Duration, req *fasthttp.Request, resp *fasthttp.Response) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && (timeout <= 0 || d.Before(deadline)) {
		deadline = d
	}

	var err error
	if timeout <= 0 {
		if _, ok := ctx.Deadline(); !ok {
			err = client.Do(req, resp)
		} else {
			err = client.DoDeadline(req, resp, deadline)
		}
	} else {
		err = client.DoDeadline(req, resp, deadline)
	}
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &ProviderError{
			Provider: provider,
			Kind:     KindTransient,
			Message:  "request failed",
			Err:      err,
		}
	}
	return nil
}

// statusError maps a non-2xx HTTP response onto the provider error taxonomy
func statusError(provider keyword.Provider, resp *fasthttp.Response) error {
	status := resp.StatusCode()
	if status >= 200 && status < 300 {
		return nil
	}

	msg := strings.TrimSpace(string(resp.Body()))
	if len(msg) > 256 {
		msg = msg[:256]
	}
	if msg == "" {
		msg = fasthttp.StatusMessage(status)
	}

	pe := NewProviderError(provider, KindTransient, status, msg)
	switch {
	case status == fasthttp.StatusTooManyRequests:
		pe.Kind = KindRateLimited
		pe.RetryAfter = parseRetryAfter(resp.Header.Peek(fasthttp.HeaderRetryAfter), time.Now())
	case status == fasthttp.StatusPaymentRequired:
		pe.Kind = KindQuotaExceeded
	case status == fasthttp.StatusUnauthorized || status == fasthttp.StatusForbidden:
		pe.Kind = KindAuth
	case status == fasthttp.StatusBadRequest ||
		status == fasthttp.StatusNotFound ||
		status == fasthttp.StatusUnprocessableEntity:
		pe.Kind = KindMalformed
	case status >= 500:
		pe.Kind = KindTransient
	default:
		pe.Kind = KindMalformed
	}
	return pe
}

// parseRetryAfter accepts delta-seconds or an HTTP date
func parseRetryAfter(value []byte, now time.Time) time.Duration {
	s := strings.TrimSpace(string(value))
	if s == "" {
		return 0
	}
	if secs, err := strconv.Atoi(s); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := fasthttp.ParseHTTPDate([]byte(s)); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

func malformed(provider keyword.Provider, err error) error {
	return &ProviderError{
		Provider: provider,
		Kind:     KindMalformed,
		Message:  fmt.Sprintf("decode response: %v", err),
		Err:      err,
	}
}
