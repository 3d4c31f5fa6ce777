package exchange

import (
	"errors"
	"fmt"
)

// Stable issue codes surfaced to the host through ReportRuleIssue. Anything
// else is treated as transient and retried on the next tick.
const (
	CodeSymbolNotWhitelisted = "symbol_not_whitelisted"
	CodeInsufficientBalance  = "insufficient_balance"
	CodeRateLimited          = "rate_limited"
)

// APIError is an exchange rejection carrying a machine-readable code alongside
// the human message.
type APIError struct {
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// AsAPIError unwraps err into an *APIError if one is in the chain.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// Actionable reports whether the error should be raised as a rule issue for
// the user rather than silently retried.
func Actionable(err error) (string, bool) {
	apiErr, ok := AsAPIError(err)
	if !ok {
		return "", false
	}
	switch apiErr.Code {
	case CodeSymbolNotWhitelisted, CodeInsufficientBalance:
		return apiErr.Code, true
	}
	return "", false
}
