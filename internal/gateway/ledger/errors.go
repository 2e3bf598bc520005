package ledger

import (
	"context"
	"errors"
	"fmt"
	"net"

	"propeval/internal/pkg/circuit"
)

// Error codes the backend uses to reject a placement. RULE_VIOLATION is the
// one the engine must never treat as generic: it means a hard risk limit was
// breached and the account is gone.
const (
	CodeRuleViolation     = "RULE_VIOLATION"
	CodeInsufficientFunds = "INSUFFICIENT_FUNDS"
	CodeInvalidInstrument = "INVALID_INSTRUMENT"
)

// APIError is a rejection the ledger expressed deliberately, as opposed to a
// transport failure.
type APIError struct {
	Code       string
	Message    string
	HTTPStatus int
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("ledger rejected request: %s (http %d)", e.Code, e.HTTPStatus)
	}
	return fmt.Sprintf("ledger rejected request: %s: %s", e.Code, e.Message)
}

// IsRuleViolation reports whether the ledger rejected because the submission
// itself breached a risk rule.
func IsRuleViolation(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == CodeRuleViolation
}

// IsTransient reports whether the failure is a communication problem that is
// safe to retry with the same correlation id. Deliberate rejections are not
// transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatus >= 500
	}
	if errors.Is(err, circuit.ErrOpen) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
