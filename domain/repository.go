package domain

import "context"

// AccountRepository persiste registros de cuentas.
type AccountRepository interface {
	// Get retorna la cuenta o (nil, nil) si no existe.
	Get(ctx context.Context, accountID string) (*AccountRecord, error)
	// Upsert inserta o actualiza una cuenta.
	Upsert(ctx context.Context, account *AccountRecord) error
	// UpdateStatus actualiza sólo el estado de una cuenta.
	UpdateStatus(ctx context.Context, accountID string, status AccountStatus) error
	// List retorna todas las cuentas registradas.
	List(ctx context.Context) ([]*AccountRecord, error)
}

// PairingRepository persiste pairings master↔slave.
type PairingRepository interface {
	// FindBySubscriptionKey retorna todos los pairings bajo una key, en
	// cualquier estado.
	FindBySubscriptionKey(ctx context.Context, key string) ([]*Pairing, error)
	// Upsert inserta o actualiza un pairing.
	Upsert(ctx context.Context, pairing *Pairing) error
	// List retorna todos los pairings.
	List(ctx context.Context) ([]*Pairing, error)
}

// SymbolMappingRepository persiste los mapeos de símbolos por cuenta.
type SymbolMappingRepository interface {
	// GetAccountMappings retorna la lista ordenada de mapeos de una cuenta.
	GetAccountMappings(ctx context.Context, accountID string) ([]*SymbolMapping, error)
	// ReplaceAccountMappings reemplaza atómicamente los mapeos de una cuenta.
	ReplaceAccountMappings(ctx context.Context, accountID string, mappings []*SymbolMapping) error
}

// OutcomeRepository persiste los resultados de despacho por (señal, slave).
type OutcomeRepository interface {
	// Create inserta un resultado de despacho.
	Create(ctx context.Context, outcome *DispatchOutcome) error
	// GetBySignalID retorna los resultados asociados a una señal.
	GetBySignalID(ctx context.Context, signalID string) ([]*DispatchOutcome, error)
	// List retorna los resultados más recientes, limitado por limit.
	List(ctx context.Context, limit int) ([]*DispatchOutcome, error)
}
