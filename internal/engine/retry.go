package engine

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/omnivurse/crm-eco-sub011/pkg/schema"
)

// IsTransient reports whether a per-enrollment failure is expected to clear on
// a later tick without anyone changing the sequence or the record. Transient
// failures are logged as warnings and not sent to the error reporter.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	// Cancellation means shutdown, not a fault of the enrollment.
	if errors.Is(err, context.Canceled) {
		return true
	}

	var serr *schema.SequencerError
	if errors.As(err, &serr) {
		switch serr.Code {
		case schema.ErrCodeStore, schema.ErrCodeQueue, schema.ErrCodeTimeout, schema.ErrCodeClaimLost:
			return true
		case schema.ErrCodeValidation, schema.ErrCodeNotFound, schema.ErrCodeConflict,
			schema.ErrCodeInvalidTransition, schema.ErrCodeRender, schema.ErrCodeCondition,
			schema.ErrCodeExecution:
			// A wrapped cause may still be a network fault.
			if serr.Cause != nil && serr.Cause != err {
				return isNetworkFault(serr.Cause)
			}
			return false
		}
	}

	return isNetworkFault(err) || !errors.As(err, &serr)
}

// isNetworkFault matches network errors and common driver messages for them.
func isNetworkFault(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, p := range []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"i/o timeout",
		"database is locked",
		"temporary failure",
	} {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
