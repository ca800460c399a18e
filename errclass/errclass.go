// Package errclass provides structured error classification for the routing
// and execution core. Classification is by error code/status first, then
// message-text pattern matching for providers without structured errors.
package errclass

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// Code is the error category used for retry and fallback decisions.
type Code string

const (
	// Timeout is recoverable: retry or fall back.
	Timeout Code = "TIMEOUT"

	// RateLimited is recoverable: advance the model fallback chain.
	RateLimited Code = "RATE_LIMITED"

	// Connection is recoverable: transient transport failure.
	Connection Code = "CONNECTION_ERROR"

	// Auth is not recoverable: surface immediately, no fallback.
	Auth Code = "AUTH_ERROR"

	// NotFound is not recoverable.
	NotFound Code = "NOT_FOUND"

	// Validation is not recoverable.
	Validation Code = "VALIDATION_ERROR"

	// Unknown is not recoverable by default.
	Unknown Code = "UNKNOWN_ERROR"
)

// Recoverable reports whether the category warrants retry or fallback.
func (c Code) Recoverable() bool {
	switch c {
	case Timeout, RateLimited, Connection:
		return true
	default:
		return false
	}
}

// Classified wraps an error with its category.
type Classified struct {
	Code     Code
	Original error
	Message  string
}

// Error returns a formatted error message.
func (c *Classified) Error() string {
	if c.Original == nil {
		return fmt.Sprintf("%s: %s", c.Code, c.Message)
	}
	return fmt.Sprintf("%s: %v", c.Code, c.Original)
}

// Unwrap returns the original error for errors.Is/As.
func (c *Classified) Unwrap() error {
	return c.Original
}

// Recoverable reports whether the wrapped error warrants retry or fallback.
func (c *Classified) Recoverable() bool {
	return c.Code.Recoverable()
}

// New creates a Classified error without an underlying cause.
func New(code Code, message string) *Classified {
	return &Classified{Code: code, Message: message}
}

// Wrap creates a Classified error around an underlying cause.
func Wrap(code Code, err error) *Classified {
	return &Classified{Code: code, Original: err}
}

// Classify analyzes an error and determines its category.
// Structured codes win over message patterns; unknown errors stay Unknown.
func Classify(err error) *Classified {
	if err == nil {
		return nil
	}

	// Already classified: keep the original category.
	var classified *Classified
	if errors.As(err, &classified) {
		return classified
	}

	// Structured provider errors carry an HTTP status.
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if code, ok := classifyHTTPStatus(apiErr.HTTPStatusCode); ok {
			return Wrap(code, err)
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return Wrap(Timeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return Wrap(Timeout, err)
		}
		return Wrap(Connection, err)
	}

	// Message-pattern fallback for providers without structured errors.
	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, rateLimitPatterns):
		return Wrap(RateLimited, err)
	case containsAny(msg, timeoutPatterns):
		return Wrap(Timeout, err)
	case containsAny(msg, connectionPatterns):
		return Wrap(Connection, err)
	case containsAny(msg, authPatterns):
		return Wrap(Auth, err)
	case containsAny(msg, notFoundPatterns):
		return Wrap(NotFound, err)
	case containsAny(msg, validationPatterns):
		return Wrap(Validation, err)
	}

	return Wrap(Unknown, err)
}

// classifyHTTPStatus maps an HTTP status code to an error category.
func classifyHTTPStatus(status int) (Code, bool) {
	switch status {
	case 429:
		return RateLimited, true
	case 401, 403:
		return Auth, true
	case 404:
		return NotFound, true
	case 400, 422:
		return Validation, true
	case 408, 504:
		return Timeout, true
	case 502, 503:
		return Connection, true
	default:
		return Unknown, false
	}
}

var (
	rateLimitPatterns = []string{
		"429",
		"rate limit",
		"too many requests",
		"quota exceeded",
	}
	timeoutPatterns = []string{
		"timeout",
		"deadline exceeded",
		"i/o timeout",
		"operation timed out",
	}
	connectionPatterns = []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"network is unreachable",
		"no such host",
		"dial tcp",
		"eof",
	}
	authPatterns = []string{
		"unauthorized",
		"forbidden",
		"invalid api key",
		"authentication",
		"permission denied",
	}
	notFoundPatterns = []string{
		"not found",
		"does not exist",
	}
	validationPatterns = []string{
		"invalid",
		"validation",
		"malformed",
		"required field",
	}
)

func containsAny(s string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

// IsRateLimited reports whether err classifies as a rate-limit error.
func IsRateLimited(err error) bool {
	c := Classify(err)
	return c != nil && c.Code == RateLimited
}

// IsTimeout reports whether err classifies as a timeout.
func IsTimeout(err error) bool {
	c := Classify(err)
	return c != nil && c.Code == Timeout
}

// IsRecoverable reports whether err warrants retry or fallback.
func IsRecoverable(err error) bool {
	c := Classify(err)
	return c != nil && c.Recoverable()
}
