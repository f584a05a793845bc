package escrow

import (
	"errors"
	"fmt"

	"github.com/CloverPatchCore/cryptohelp-smart-contracts-public/internal/host"
)

// Error kinds. Every rejected operation wraps exactly one of these, so
// callers classify with errors.Is and never parse messages.
var (
	ErrAccessDenied         = errors.New("access denied")
	ErrInvalidState         = errors.New("invalid state")
	ErrInvalidArgument      = errors.New("invalid argument")
	ErrInsufficientResource = errors.New("insufficient resource")
	ErrTimingViolation      = errors.New("timing violation")
	ErrAlreadyFinalized     = errors.New("already finalized")

	// ErrNotFound is an InvalidArgument for ids that were never assigned.
	ErrNotFound = fmt.Errorf("%w: not found", ErrInvalidArgument)
)

// Kind labels used for metrics and logs.
const (
	KindAccessDenied         = "access_denied"
	KindInvalidState         = "invalid_state"
	KindInvalidArgument      = "invalid_argument"
	KindNotFound             = "not_found"
	KindInsufficientResource = "insufficient_resource"
	KindTimingViolation      = "timing_violation"
	KindAlreadyFinalized     = "already_finalized"
	KindInternal             = "internal"
)

// KindOf classifies err. It returns "" for nil.
func KindOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAccessDenied):
		return KindAccessDenied
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrInvalidArgument):
		return KindInvalidArgument
	case errors.Is(err, ErrInsufficientResource):
		return KindInsufficientResource
	case errors.Is(err, ErrTimingViolation):
		return KindTimingViolation
	case errors.Is(err, ErrAlreadyFinalized):
		return KindAlreadyFinalized
	case errors.Is(err, ErrInvalidState), errors.Is(err, host.ErrReentrantCall):
		return KindInvalidState
	default:
		return KindInternal
	}
}

func fail(kind error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...))
}

var (
	errNotActive   = fail(ErrInvalidState, "Agreement status is not active")
	errNotManager  = fail(ErrAccessDenied, "Caller is not agreement manager")
	errStillActive = fail(ErrTimingViolation, "Agreement still active")
	errClosed      = fail(ErrAlreadyFinalized, "Agreement was closed")
)
