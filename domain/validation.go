package domain

import (
	"fmt"
	"strings"
)

// ValidationError representa un error de validación.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

// Error implementa la interfaz error.
func (v *ValidationError) Error() string {
	return fmt.Sprintf("validation error: field '%s' with value '%v': %s", v.Field, v.Value, v.Message)
}

// NewValidationError crea un nuevo ValidationError.
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// ValidateSignal valida los campos mínimos de una señal entrante.
//
// Las señales de apertura requieren además dirección y volumen positivo;
// esa validación ocurre al construir el comando, no aquí.
func ValidateSignal(s *Signal) error {
	if s == nil {
		return NewValidationError("signal", nil, "signal is nil")
	}
	if strings.TrimSpace(s.Account) == "" {
		return NewValidationError("account", s.Account, "account is required")
	}
	if strings.TrimSpace(s.Event) == "" {
		return NewValidationError("event", s.Event, "event is required")
	}
	if strings.TrimSpace(s.Symbol) == "" {
		return NewValidationError("symbol", s.Symbol, "symbol is required")
	}
	return nil
}

// ValidatePairing valida las invariantes estructurales de un pairing.
func ValidatePairing(p *Pairing) error {
	if p == nil {
		return NewValidationError("pairing", nil, "pairing is nil")
	}
	if strings.TrimSpace(p.MasterAccount) == "" {
		return NewValidationError("master_account", p.MasterAccount, "master account is required")
	}
	if strings.TrimSpace(p.SlaveAccount) == "" {
		return NewValidationError("slave_account", p.SlaveAccount, "slave account is required")
	}
	if p.MasterAccount == p.SlaveAccount {
		return NewValidationError("slave_account", p.SlaveAccount, "slave cannot equal master")
	}
	if strings.TrimSpace(p.SubscriptionKey) == "" {
		return NewValidationError("subscription_key", p.SubscriptionKey, "subscription key is required")
	}
	return nil
}
