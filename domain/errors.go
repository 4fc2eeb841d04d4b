package domain

import "fmt"

// ErrorCode representa un código de error del dominio de relay.
type ErrorCode string

// Códigos de error estándar
const (
	// ErrNoError indica éxito (sin error)
	ErrNoError ErrorCode = "NO_ERROR"

	// Errores de validación
	ErrInvalidVolume        ErrorCode = "INVALID_VOLUME"
	ErrInvalidSymbol        ErrorCode = "INVALID_SYMBOL"
	ErrInvalidSignal        ErrorCode = "INVALID_SIGNAL"
	ErrMissingRequiredField ErrorCode = "MISSING_REQUIRED_FIELD"
	ErrUnknownEvent         ErrorCode = "UNKNOWN_EVENT"

	// Errores de resolución de símbolos
	ErrSymbolNotFound     ErrorCode = "SYMBOL_NOT_FOUND"
	ErrSymbolNotAvailable ErrorCode = "SYMBOL_NOT_AVAILABLE"
	ErrCatalogMissing     ErrorCode = "CATALOG_MISSING"
	ErrBalanceMissing     ErrorCode = "BALANCE_MISSING"

	// Errores de elegibilidad
	ErrMasterNotEligible   ErrorCode = "MASTER_NOT_ELIGIBLE"
	ErrSlaveNotEligible    ErrorCode = "SLAVE_NOT_ELIGIBLE"
	ErrAccountNotActivated ErrorCode = "ACCOUNT_NOT_ACTIVATED"
	ErrAccountPaused       ErrorCode = "ACCOUNT_PAUSED"
	ErrAccountOffline      ErrorCode = "ACCOUNT_OFFLINE"
	ErrInvalidSecret       ErrorCode = "INVALID_SECRET"

	// Errores de enrutamiento
	ErrUnknownSubscriptionKey ErrorCode = "UNKNOWN_SUBSCRIPTION_KEY"
	ErrPairingInactive        ErrorCode = "PAIRING_INACTIVE"
	ErrAccountMismatch        ErrorCode = "ACCOUNT_MISMATCH"

	// Errores de volumen
	ErrVolumeTooSmall ErrorCode = "VOLUME_TOO_SMALL"
	ErrSpecMissing    ErrorCode = "SPEC_MISSING"

	// Errores de sistema
	ErrUnknown         ErrorCode = "UNKNOWN"
	ErrNotFound        ErrorCode = "NOT_FOUND"
	ErrMailboxOverflow ErrorCode = "MAILBOX_OVERFLOW"
	ErrStorage         ErrorCode = "STORAGE"
	ErrInternal        ErrorCode = "INTERNAL"
)

// RelayError representa un error del dominio con contexto.
type RelayError struct {
	Code    ErrorCode
	Message string
	Details map[string]interface{}
	Wrapped error
}

// Error implementa la interfaz error.
func (e *RelayError) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Wrapped)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap implementa la interfaz errors.Unwrap.
func (e *RelayError) Unwrap() error {
	return e.Wrapped
}

// WithDetail agrega un detalle al error.
func (e *RelayError) WithDetail(key string, value interface{}) *RelayError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// NewError crea un nuevo RelayError.
//
// Example:
//
//	err := domain.NewError(domain.ErrSymbolNotFound, "no candidate for XAUUSDm")
func NewError(code ErrorCode, message string) *RelayError {
	return &RelayError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
	}
}

// WrapError envuelve un error existente con contexto de relay.
//
// Example:
//
//	err := domain.WrapError(domain.ErrStorage, "failed to persist outcome", originalErr)
func WrapError(code ErrorCode, message string, wrapped error) *RelayError {
	return &RelayError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
		Wrapped: wrapped,
	}
}

// CodeOf extrae el ErrorCode de un error; ErrUnknown si no es un RelayError.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ErrNoError
	}
	if re, ok := err.(*RelayError); ok {
		return re.Code
	}
	return ErrUnknown
}

// IsRetryable indica si un error es retriable (puede reintentarse).
func IsRetryable(code ErrorCode) bool {
	switch code {
	case ErrStorage, ErrAccountOffline, ErrMailboxOverflow:
		return true
	default:
		return false
	}
}

// IsFatal indica si un error es fatal (no se debe reintentar).
func IsFatal(code ErrorCode) bool {
	switch code {
	case ErrInvalidSignal, ErrInvalidSymbol, ErrMissingRequiredField,
		ErrUnknownEvent, ErrAccountMismatch, ErrInvalidSecret:
		return true
	default:
		return false
	}
}
