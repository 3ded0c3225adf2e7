package dunning

import (
	stderrors "errors"
	"net/http"
	"strings"

	"github.com/goliatone/go-errors"
)

const (
	ErrCodeNotFound            = "DUNNING_NOT_FOUND"
	ErrCodeInvalidState        = "DUNNING_INVALID_STATE"
	ErrCodeValidation          = "DUNNING_VALIDATION_FAILED"
	ErrCodeActionFailed        = "DUNNING_ACTION_FAILED"
	ErrCodeConcurrencyConflict = "DUNNING_CONCURRENCY_CONFLICT"
	ErrCodeDuplicateExecution  = "DUNNING_DUPLICATE_EXECUTION"
)

var (
	ErrNotFound = errors.New("not found", errors.CategoryNotFound).
			WithTextCode(ErrCodeNotFound)
	ErrInvalidState = errors.New("invalid state", errors.CategoryBadInput).
			WithTextCode(ErrCodeInvalidState)
	// ErrValidation marks malformed campaign definitions and inputs.
	// Wrappers can compare with errors.Is(err, ErrValidation).
	ErrValidation = errors.New("validation error", errors.CategoryValidation).
			WithTextCode(ErrCodeValidation)
	ErrActionFailed = errors.New("action execution failed", errors.CategoryExternal).
			WithTextCode(ErrCodeActionFailed)
	ErrConcurrencyConflict = errors.New("concurrency conflict", errors.CategoryConflict).
				WithTextCode(ErrCodeConcurrencyConflict)
	ErrDuplicateExecution = errors.New("execution already running for invoice", errors.CategoryConflict).
				WithTextCode(ErrCodeDuplicateExecution)
)

// NewError clones one of the sentinel errors with a message, an optional
// source error and metadata. A nil base defaults to ErrInvalidState.
func NewError(base *errors.Error, message string, source error, metadata map[string]any) *errors.Error {
	if base == nil {
		base = ErrInvalidState
	}
	err := base.Clone()
	if text := strings.TrimSpace(message); text != "" {
		err.Message = text
	}
	if source != nil {
		err.Source = source
	}
	if len(metadata) > 0 {
		err = err.WithMetadata(metadata)
	}
	return err
}

// ErrorCode returns the text code of a go-errors error, or "".
func ErrorCode(err error) string {
	var ge *errors.Error
	if stderrors.As(err, &ge) {
		return ge.TextCode
	}
	return ""
}

func IsNotFound(err error) bool {
	return ErrorCode(err) == ErrCodeNotFound
}

func IsInvalidState(err error) bool {
	return ErrorCode(err) == ErrCodeInvalidState
}

func IsValidation(err error) bool {
	return ErrorCode(err) == ErrCodeValidation
}

func IsConcurrencyConflict(err error) bool {
	return ErrorCode(err) == ErrCodeConcurrencyConflict
}

func IsDuplicateExecution(err error) bool {
	return ErrorCode(err) == ErrCodeDuplicateExecution
}

const (
	GRPCCodeAborted            = "Aborted"
	GRPCCodeAlreadyExists      = "AlreadyExists"
	GRPCCodeFailedPrecondition = "FailedPrecondition"
	GRPCCodeInternal           = "Internal"
	GRPCCodeInvalidArgument    = "InvalidArgument"
	GRPCCodeNotFound           = "NotFound"
	GRPCCodeUnavailable        = "Unavailable"
)

const errCodeInternal = "DUNNING_INTERNAL"

// TransportErrorMapping defines protocol-level mappings for engine errors.
type TransportErrorMapping struct {
	Code       string
	HTTPStatus int
	GRPCCode   string
}

// MapError maps engine error codes to transport protocol categories.
func MapError(err error) TransportErrorMapping {
	code := strings.TrimSpace(ErrorCode(err))

	switch code {
	case ErrCodeNotFound:
		return TransportErrorMapping{Code: code, HTTPStatus: http.StatusNotFound, GRPCCode: GRPCCodeNotFound}
	case ErrCodeInvalidState:
		return TransportErrorMapping{Code: code, HTTPStatus: http.StatusConflict, GRPCCode: GRPCCodeFailedPrecondition}
	case ErrCodeValidation:
		return TransportErrorMapping{Code: code, HTTPStatus: http.StatusUnprocessableEntity, GRPCCode: GRPCCodeInvalidArgument}
	case ErrCodeConcurrencyConflict:
		return TransportErrorMapping{Code: code, HTTPStatus: http.StatusConflict, GRPCCode: GRPCCodeAborted}
	case ErrCodeDuplicateExecution:
		return TransportErrorMapping{Code: code, HTTPStatus: http.StatusConflict, GRPCCode: GRPCCodeAlreadyExists}
	case ErrCodeActionFailed:
		return TransportErrorMapping{Code: code, HTTPStatus: http.StatusBadGateway, GRPCCode: GRPCCodeUnavailable}
	default:
		return TransportErrorMapping{Code: errCodeInternal, HTTPStatus: http.StatusInternalServerError, GRPCCode: GRPCCodeInternal}
	}
}
