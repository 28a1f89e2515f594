// Package llmclient classifies network errors from the LLM backend as
// critical (permanent, stop retrying) or non-critical (retry up to
// RETRY_N), per SPEC_FULL.md §7: "a classifier supplied by the request
// layer". It deliberately stops at classification — a full request/response
// client for the LLM backend is out of scope (see SPEC_FULL.md Non-Goals);
// this package only gives the outer generator loop a decision it can act
// on when go-openai or anthropic-sdk-go report a failure.
package llmclient

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/sashabaranov/go-openai"
)

// RetryN is the maximum number of retries for a non-critical error
// (SPEC_FULL.md §7, §9: RETRY_N = 5).
const RetryN = 5

// Classification is the outcome of classifying an LLM backend error.
type Classification int

const (
	// Critical errors are permanent: bad API key, malformed request,
	// content policy rejection. Retrying cannot help.
	Critical Classification = iota
	// NonCritical errors are transient: rate limiting, timeouts,
	// transport-level failures. Retry up to RetryN times.
	NonCritical
)

// Classify inspects err (as returned by a go-openai or anthropic-sdk-go
// call) and decides whether the request layer should retry it.
func Classify(err error) Classification {
	if err == nil {
		return NonCritical
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return NonCritical
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return NonCritical
	}

	var openaiErr *openai.APIError
	if errors.As(err, &openaiErr) {
		return classifyStatusCode(openaiErr.HTTPStatusCode)
	}

	var openaiReqErr *openai.RequestError
	if errors.As(err, &openaiReqErr) {
		return classifyStatusCode(openaiReqErr.HTTPStatusCode)
	}

	var anthropicErr *anthropic.Error
	if errors.As(err, &anthropicErr) {
		return classifyStatusCode(anthropicErr.StatusCode)
	}

	// Unknown error shape: default to non-critical so a transient,
	// unrecognized failure doesn't permanently abandon a seed.
	return NonCritical
}

// classifyStatusCode maps an HTTP status to a Classification. 429 (rate
// limit) and 5xx (backend trouble) are transient; everything else in the
// 4xx range reflects a malformed or rejected request that will not succeed
// on retry.
func classifyStatusCode(status int) Classification {
	switch {
	case status == 429:
		return NonCritical
	case status >= 500:
		return NonCritical
	case status >= 400:
		return Critical
	default:
		return NonCritical
	}
}

// Backoff returns the delay to wait before the attempt'th retry (1-indexed),
// exponential with a 1-second base, capped at 30s.
func Backoff(attempt int) time.Duration {
	d := time.Duration(1<<uint(attempt)) * time.Second
	if d > 30*time.Second {
		d = 30 * time.Second
	}
	return d
}
