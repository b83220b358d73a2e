package migration

import (
	"context"
	"errors"
	"time"

	"github.com/flocklabs/flock/internal/a2a"
	"github.com/flocklabs/flock/pkg/protocol"
)

// Policy shapes exponential backoff for one class of failure.
type Policy struct {
	MaxAttempts   int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// Default retry policies.
var (
	RetryNetwork = Policy{MaxAttempts: 3, BaseDelay: 30 * time.Second, BackoffFactor: 2}
	RetryLocal   = Policy{MaxAttempts: 2, BaseDelay: 5 * time.Second, BackoffFactor: 2}
)

// retryPolicies maps error codes to the policy the orchestrator may
// apply. Absent codes are non-retryable: structural and policy-violation
// failures never retry.
var retryPolicies = map[string]*Policy{
	"NETWORK_ERROR":          &RetryNetwork,
	"TRANSFER_TIMEOUT":       &RetryNetwork,
	"VERIFY_ACK_TIMEOUT":     &RetryNetwork,
	"SNAPSHOT_IO_ERROR":      &RetryLocal,
	"CHECKSUM_COMPUTE_ERROR": &RetryLocal,
}

// PolicyForCode returns the retry policy for an error code, or nil when
// the failure is non-retryable.
func PolicyForCode(code string) *Policy {
	return retryPolicies[code]
}

// DoClassified runs fn, choosing the retry policy from the failure
// itself. Errors carrying a typed domain code retry only when the code
// maps to a policy; structural and policy-violation rejections surface
// immediately. Anything untyped (a plain transport failure) retries
// under fallback.
func DoClassified[T any](ctx context.Context, fallback Policy, fn func() (T, error)) (T, error) {
	var zero T
	out, err := fn()
	if err == nil {
		return out, nil
	}
	policy := classifyError(err, &fallback)
	if policy == nil {
		return zero, err
	}
	delay := policy.BaseDelay
	factor := policy.BackoffFactor
	if factor <= 0 {
		factor = 2
	}
	for attempt := 2; attempt <= policy.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay):
		}
		out, err = fn()
		if err == nil {
			return out, nil
		}
		// A retryable network failure can turn into a typed rejection
		// once the target becomes reachable.
		if classifyError(err, &fallback) == nil {
			return zero, err
		}
		delay = time.Duration(float64(delay) * factor)
		if policy.MaxDelay > 0 && delay > policy.MaxDelay {
			delay = policy.MaxDelay
		}
	}
	return zero, err
}

// classifyError maps a failure to its retry policy, or nil when the
// failure must surface immediately.
func classifyError(err error, fallback *Policy) *Policy {
	var sizeErr *SizeExceededError
	if errors.As(err, &sizeErr) {
		return nil
	}
	if code := errorCode(err); code != "" {
		return PolicyForCode(code)
	}
	return fallback
}

// errorCode extracts the typed domain code carried by a rejection,
// whether it arrived in process or over JSON-RPC.
func errorCode(err error) string {
	var domainErr *a2a.DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code
	}
	var rpcErr *protocol.Error
	if errors.As(err, &rpcErr) {
		switch data := rpcErr.Data.(type) {
		case protocol.ErrorData:
			return data.Code
		case map[string]any:
			if code, ok := data["code"].(string); ok {
				return code
			}
		}
	}
	return ""
}

// Do runs fn under the policy, backing off exponentially between
// attempts. The last error is returned when attempts are exhausted.
func Do[T any](ctx context.Context, p Policy, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error
	delay := p.BaseDelay
	factor := p.BackoffFactor
	if factor <= 0 {
		factor = 2
	}
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		out, err := fn()
		if err == nil {
			return out, nil
		}
		lastErr = err
		if attempt == p.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay):
		}
		delay = time.Duration(float64(delay) * factor)
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}
	return zero, lastErr
}
