package core

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"
)

var (
	ErrNotInitialized              = errors.New("wallet not initialized")
	ErrUnsupportedChain            = errors.New("unsupported chain")
	ErrInvalidChain                = errors.New("invalid chain")
	ErrDuplicateChain              = errors.New("network already exists")
	ErrValidationFailed            = errors.New("transaction validation failed")
	ErrMaxRetriesExceeded          = errors.New("maximum retry attempts exceeded")
	ErrTabLockFailed               = errors.New("failed to acquire tab lock")
	ErrSignatureVerificationFailed = errors.New("signature verification failed")
	ErrStorageTimeout              = errors.New("storage timeout")

	// ErrInvalidInput marks failures caused by the request itself or by a
	// capability the wallet lacks. Retrying cannot change the outcome.
	ErrInvalidInput = errors.New("invalid input")

	// ErrSuperseded is returned to a debounced caller whose request was
	// replaced by a newer one inside the quiet period.
	ErrSuperseded = errors.New("superseded by a newer request")
	ErrClosed     = errors.New("closed")
)

// ValidationError is a single rule violation reported by transaction validation.
type ValidationError struct {
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

func (v ValidationError) Error() string { return v.Message }

// ValidationFailedError carries every violation found for a transaction.
type ValidationFailedError struct {
	Errors []ValidationError
}

func NewValidationFailed(errs []ValidationError) error {
	return &ValidationFailedError{Errors: append([]ValidationError(nil), errs...)}
}

func (e *ValidationFailedError) Error() string {
	msgs := make([]string, 0, len(e.Errors))
	for _, v := range e.Errors {
		msgs = append(msgs, v.Message)
	}
	return ErrValidationFailed.Error() + ": " + strings.Join(msgs, "; ")
}

func (e *ValidationFailedError) Is(target error) bool {
	return target == ErrValidationFailed
}

// IsPermanent reports whether retrying err without changing inputs cannot help.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	return errors.IsAny(err,
		ErrNotInitialized,
		ErrUnsupportedChain,
		ErrInvalidChain,
		ErrDuplicateChain,
		ErrInvalidInput,
		ErrValidationFailed,
		ErrMaxRetriesExceeded,
		ErrSuperseded,
		ErrClosed,
		context.Canceled,
		context.DeadlineExceeded,
	)
}
