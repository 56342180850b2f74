package providers

import "strings"

// FailoverReason classifies why a provider call failed, adapted from the
// teacher's FailoverReason/ClassifyError (internal/agent/providers/errors.go).
// Nothing here fails over across providers automatically; every provider
// adapter uses ClassifyError(err).IsRetryable() as its Retrier predicate,
// so the classification decides which failed calls are retried.
type FailoverReason string

const (
	ReasonBilling         FailoverReason = "billing"
	ReasonRateLimit       FailoverReason = "rate_limit"
	ReasonAuth            FailoverReason = "auth"
	ReasonTimeout         FailoverReason = "timeout"
	ReasonServerError     FailoverReason = "server_error"
	ReasonInvalidRequest  FailoverReason = "invalid_request"
	ReasonModelUnavailable FailoverReason = "model_unavailable"
	ReasonContentFilter   FailoverReason = "content_filter"
	ReasonUnknown         FailoverReason = "unknown"
)

// IsRetryable reports whether a call that failed for this reason is worth
// retrying at all (as opposed to surfacing immediately to the user).
func (r FailoverReason) IsRetryable() bool {
	switch r {
	case ReasonRateLimit, ReasonTimeout, ReasonServerError:
		return true
	default:
		return false
	}
}

// ClassifyError does best-effort substring classification over an error's
// message, mirroring the teacher's pattern for providers whose SDKs don't
// expose a typed status (or as a fallback alongside one that does).
func ClassifyError(err error) FailoverReason {
	if err == nil {
		return ReasonUnknown
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline exceeded"):
		return ReasonTimeout
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "too many requests"), strings.Contains(msg, "429"):
		return ReasonRateLimit
	case strings.Contains(msg, "unauthorized"), strings.Contains(msg, "invalid api key"), strings.Contains(msg, "401"), strings.Contains(msg, "403"):
		return ReasonAuth
	case strings.Contains(msg, "billing"), strings.Contains(msg, "quota"), strings.Contains(msg, "insufficient"):
		return ReasonBilling
	case strings.Contains(msg, "content_filter"), strings.Contains(msg, "content filter"), strings.Contains(msg, "safety"):
		return ReasonContentFilter
	case strings.Contains(msg, "model") && (strings.Contains(msg, "not found") || strings.Contains(msg, "unavailable") || strings.Contains(msg, "does not exist")):
		return ReasonModelUnavailable
	case strings.Contains(msg, "invalid request"), strings.Contains(msg, "400"):
		return ReasonInvalidRequest
	case strings.Contains(msg, "500"), strings.Contains(msg, "502"), strings.Contains(msg, "503"), strings.Contains(msg, "internal server error"):
		return ReasonServerError
	default:
		return ReasonUnknown
	}
}

// classifyStatusCode maps an HTTP status to a FailoverReason when the
// caller has a typed status (preferred over string matching).
func classifyStatusCode(status int) FailoverReason {
	switch {
	case status == 401 || status == 403:
		return ReasonAuth
	case status == 402:
		return ReasonBilling
	case status == 429:
		return ReasonRateLimit
	case status == 400:
		return ReasonInvalidRequest
	case status == 404:
		return ReasonModelUnavailable
	case status >= 500:
		return ReasonServerError
	default:
		return ReasonUnknown
	}
}
