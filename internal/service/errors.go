package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/lumik/renloc/pkg/log"
)

type ErrorType int

const (
	ErrFileNotFound ErrorType = iota
	ErrFileRead
	ErrFileWrite
	ErrParse
	ErrProtection
	ErrBackend
	ErrCacheIO
	ErrPatchConflict
	ErrValidation
	ErrConfig
	ErrUnknown
)

// LocError is the service-level error carrying a type, a message and a
// free-form context map for diagnostics.
type LocError struct {
	Type    ErrorType
	Message string
	Context map[string]any
	Cause   error
}

func NewError(errorType ErrorType, message string) *LocError {
	return &LocError{
		Type:    errorType,
		Message: message,
		Context: make(map[string]any),
	}
}

func NewErrorWithCause(errorType ErrorType, message string, cause error) *LocError {
	return &LocError{
		Type:    errorType,
		Message: message,
		Context: make(map[string]any),
		Cause:   cause,
	}
}

func (e *LocError) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[%s] %s", e.Type.String(), e.Message))

	if len(e.Context) > 0 {
		var ctxParts []string
		for k, v := range e.Context {
			ctxParts = append(ctxParts, fmt.Sprintf("%s=%v", k, v))
		}
		parts = append(parts, fmt.Sprintf("context: %s", strings.Join(ctxParts, ", ")))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause: %v", e.Cause))
	}

	return strings.Join(parts, " | ")
}

func (e *LocError) Unwrap() error {
	return e.Cause
}

func (e *LocError) WithContext(key string, value any) *LocError {
	e.Context[key] = value
	return e
}

func (t ErrorType) String() string {
	switch t {
	case ErrFileNotFound:
		return "FileNotFound"
	case ErrFileRead:
		return "FileRead"
	case ErrFileWrite:
		return "FileWrite"
	case ErrParse:
		return "Parse"
	case ErrProtection:
		return "Protection"
	case ErrBackend:
		return "Backend"
	case ErrCacheIO:
		return "CacheIO"
	case ErrPatchConflict:
		return "PatchConflict"
	case ErrValidation:
		return "Validation"
	case ErrConfig:
		return "Config"
	default:
		return "Unknown"
	}
}

type ErrorHandler interface {
	Handle(err error) bool
	GetAdvice(err *LocError) string
}

type DefaultErrorHandler struct{}

func NewDefaultErrorHandler() ErrorHandler {
	return &DefaultErrorHandler{}
}

func (h *DefaultErrorHandler) Handle(err error) bool {
	locErr, ok := err.(*LocError)
	if !ok {
		log.Error("Unknown Error: %v", err)
		return false
	}

	advice := h.GetAdvice(locErr)
	log.Error("Error Detail: %v\n advice: %s", err, advice)

	return true
}

// GetAdvice returns error handling advice
func (h *DefaultErrorHandler) GetAdvice(err *LocError) string {
	switch err.Type {
	case ErrFileNotFound:
		return "Please check that the translation directory exists; run the engine's translation generator first if it is empty"
	case ErrFileRead:
		return "Please check file permissions to ensure read access and verify the file is not corrupted"
	case ErrFileWrite:
		return "Please ensure the output directory exists and has write permissions"
	case ErrParse:
		return "Please verify the file is a valid translation script; other files in the batch are unaffected"
	case ErrProtection:
		return "The provider altered a protected placeholder; the affected lines are marked failed and can be retried"
	case ErrBackend:
		return "Please check if the API key is correct, network connectivity is normal, or review the API service status"
	case ErrCacheIO:
		return "The translation cache is unreadable; check the cache path or delete the file to start fresh"
	case ErrPatchConflict:
		return "A previously translated line changed in the source; review the stale entries kept in the patch file"
	case ErrValidation:
		return "Please verify input parameters are correct; project and translation paths cannot be empty"
	case ErrConfig:
		return "Please check that configuration files or environment variables are set correctly"
	default:
		return "Please review detailed error information and check relevant configuration and files"
	}
}

func IsErrorType(err error, errorType ErrorType) bool {
	var locErr *LocError
	if errors.As(err, &locErr) {
		return locErr.Type == errorType
	}
	return false
}

func WrapError(err error, errorType ErrorType, message string) *LocError {
	return NewErrorWithCause(errorType, message, err)
}
