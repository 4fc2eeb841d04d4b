// Package repository provee implementaciones de persistencia para Relay.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/lib/pq" // Driver PostgreSQL
	"github.com/xKoRx/relay/domain"
)

// PostgresFactory agrupa los repositorios PostgreSQL de Relay.
type PostgresFactory struct {
	db *sql.DB

	// Repositorios inicializados lazy
	accountRepo domain.AccountRepository
	pairingRepo domain.PairingRepository
	mappingRepo domain.SymbolMappingRepository
	outcomeRepo domain.OutcomeRepository
}

// NewPostgresFactory crea un factory de repositorios PostgreSQL.
//
// Uso:
//
//	db, err := sql.Open("postgres", connStr)
//	factory := repository.NewPostgresFactory(db)
//	accounts := factory.AccountRepository()
func NewPostgresFactory(db *sql.DB) *PostgresFactory {
	return &PostgresFactory{
		db: db,
	}
}

// AccountRepository retorna el repositorio de cuentas.
func (f *PostgresFactory) AccountRepository() domain.AccountRepository {
	if f.accountRepo == nil {
		f.accountRepo = &postgresAccountRepo{db: f.db}
	}
	return f.accountRepo
}

// PairingRepository retorna el repositorio de pairings.
func (f *PostgresFactory) PairingRepository() domain.PairingRepository {
	if f.pairingRepo == nil {
		f.pairingRepo = &postgresPairingRepo{db: f.db}
	}
	return f.pairingRepo
}

// SymbolMappingRepository retorna el repositorio de mapeos de símbolos.
func (f *PostgresFactory) SymbolMappingRepository() domain.SymbolMappingRepository {
	if f.mappingRepo == nil {
		f.mappingRepo = &postgresMappingRepo{db: f.db}
	}
	return f.mappingRepo
}

// OutcomeRepository retorna el repositorio del journal de despachos.
func (f *PostgresFactory) OutcomeRepository() domain.OutcomeRepository {
	if f.outcomeRepo == nil {
		f.outcomeRepo = &postgresOutcomeRepo{db: f.db}
	}
	return f.outcomeRepo
}

// ===========================================================================
// postgresAccountRepo
// ===========================================================================

type postgresAccountRepo struct {
	db *sql.DB
}

func (r *postgresAccountRepo) Get(ctx context.Context, accountID string) (*domain.AccountRecord, error) {
	query := `
		SELECT account_id, nickname, status, broker,
		       last_heartbeat_ms, symbol_data_received, created_at, updated_at
		FROM relay.accounts
		WHERE account_id = $1
	`
	var account domain.AccountRecord
	err := r.db.QueryRowContext(ctx, query, accountID).Scan(
		&account.AccountID,
		&account.Nickname,
		&account.Status,
		&account.Broker,
		&account.LastHeartbeatMs,
		&account.SymbolDataReceived,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return &account, nil
}

func (r *postgresAccountRepo) Upsert(ctx context.Context, account *domain.AccountRecord) error {
	query := `
		INSERT INTO relay.accounts (
			account_id, nickname, status, broker,
			last_heartbeat_ms, symbol_data_received, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8
		)
		ON CONFLICT (account_id) DO UPDATE
		SET nickname = EXCLUDED.nickname,
		    status = EXCLUDED.status,
		    broker = EXCLUDED.broker,
		    last_heartbeat_ms = EXCLUDED.last_heartbeat_ms,
		    symbol_data_received = EXCLUDED.symbol_data_received,
		    updated_at = NOW()
	`
	_, err := r.db.ExecContext(ctx, query,
		account.AccountID,
		account.Nickname,
		account.Status,
		account.Broker,
		account.LastHeartbeatMs,
		account.SymbolDataReceived,
		account.CreatedAt,
		account.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert account: %w", err)
	}
	return nil
}

func (r *postgresAccountRepo) UpdateStatus(ctx context.Context, accountID string, status domain.AccountStatus) error {
	query := `
		UPDATE relay.accounts
		SET status = $1, updated_at = NOW()
		WHERE account_id = $2
	`
	result, err := r.db.ExecContext(ctx, query, status, accountID)
	if err != nil {
		return fmt.Errorf("failed to update account status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("account not found: %s", accountID)
	}
	return nil
}

func (r *postgresAccountRepo) List(ctx context.Context) ([]*domain.AccountRecord, error) {
	query := `
		SELECT account_id, nickname, status, broker,
		       last_heartbeat_ms, symbol_data_received, created_at, updated_at
		FROM relay.accounts
		ORDER BY created_at ASC
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*domain.AccountRecord
	for rows.Next() {
		var account domain.AccountRecord
		err := rows.Scan(
			&account.AccountID,
			&account.Nickname,
			&account.Status,
			&account.Broker,
			&account.LastHeartbeatMs,
			&account.SymbolDataReceived,
			&account.CreatedAt,
			&account.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, &account)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return accounts, nil
}

// ===========================================================================
// postgresPairingRepo
// ===========================================================================

type postgresPairingRepo struct {
	db *sql.DB
}

func (r *postgresPairingRepo) FindBySubscriptionKey(ctx context.Context, key string) ([]*domain.Pairing, error) {
	query := `
		SELECT pairing_id, master_account, slave_account, subscription_key,
		       status, settings, created_at, updated_at
		FROM relay.pairings
		WHERE subscription_key = $1
		ORDER BY created_at ASC
	`
	return r.queryPairings(ctx, query, key)
}

func (r *postgresPairingRepo) Upsert(ctx context.Context, pairing *domain.Pairing) error {
	settingsJSON, err := json.Marshal(pairing.Settings)
	if err != nil {
		return fmt.Errorf("failed to marshal pairing settings: %w", err)
	}

	query := `
		INSERT INTO relay.pairings (
			pairing_id, master_account, slave_account, subscription_key,
			status, settings, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8
		)
		ON CONFLICT (pairing_id) DO UPDATE
		SET status = EXCLUDED.status,
		    settings = EXCLUDED.settings,
		    updated_at = NOW()
	`
	_, err = r.db.ExecContext(ctx, query,
		pairing.PairingID,
		pairing.MasterAccount,
		pairing.SlaveAccount,
		pairing.SubscriptionKey,
		pairing.Status,
		settingsJSON,
		pairing.CreatedAt,
		pairing.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert pairing: %w", err)
	}
	return nil
}

func (r *postgresPairingRepo) List(ctx context.Context) ([]*domain.Pairing, error) {
	query := `
		SELECT pairing_id, master_account, slave_account, subscription_key,
		       status, settings, created_at, updated_at
		FROM relay.pairings
		ORDER BY created_at ASC
	`
	return r.queryPairings(ctx, query)
}

func (r *postgresPairingRepo) queryPairings(ctx context.Context, query string, args ...interface{}) ([]*domain.Pairing, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query pairings: %w", err)
	}
	defer rows.Close()

	var pairings []*domain.Pairing
	for rows.Next() {
		var pairing domain.Pairing
		var settingsJSON []byte
		err := rows.Scan(
			&pairing.PairingID,
			&pairing.MasterAccount,
			&pairing.SlaveAccount,
			&pairing.SubscriptionKey,
			&pairing.Status,
			&settingsJSON,
			&pairing.CreatedAt,
			&pairing.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pairing: %w", err)
		}

		// Settings se persiste como JSONB con claves crudas
		if len(settingsJSON) > 0 {
			var raw map[string]interface{}
			if err := json.Unmarshal(settingsJSON, &raw); err != nil {
				return nil, fmt.Errorf("failed to unmarshal pairing settings: %w", err)
			}
			pairing.Settings = domain.ParsePairingSettings(raw)
		} else {
			pairing.Settings = domain.DefaultPairingSettings()
		}

		pairings = append(pairings, &pairing)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return pairings, nil
}

// ===========================================================================
// postgresMappingRepo
// ===========================================================================

type postgresMappingRepo struct {
	db *sql.DB
}

func (r *postgresMappingRepo) GetAccountMappings(ctx context.Context, accountID string) ([]*domain.SymbolMapping, error) {
	query := `
		SELECT account_id, source, target, position
		FROM relay.symbol_mappings
		WHERE account_id = $1
		ORDER BY position ASC
	`
	rows, err := r.db.QueryContext(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to query symbol mappings: %w", err)
	}
	defer rows.Close()

	var mappings []*domain.SymbolMapping
	for rows.Next() {
		var mapping domain.SymbolMapping
		err := rows.Scan(
			&mapping.AccountID,
			&mapping.Source,
			&mapping.Target,
			&mapping.Position,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan symbol mapping: %w", err)
		}
		mappings = append(mappings, &mapping)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return mappings, nil
}

func (r *postgresMappingRepo) ReplaceAccountMappings(ctx context.Context, accountID string, mappings []*domain.SymbolMapping) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM relay.symbol_mappings WHERE account_id = $1`, accountID); err != nil {
		return fmt.Errorf("failed to delete symbol mappings: %w", err)
	}

	insert := `
		INSERT INTO relay.symbol_mappings (account_id, source, target, position)
		VALUES ($1, $2, $3, $4)
	`
	for _, mapping := range mappings {
		if _, err := tx.ExecContext(ctx, insert, accountID, mapping.Source, mapping.Target, mapping.Position); err != nil {
			return fmt.Errorf("failed to insert symbol mapping: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit symbol mappings: %w", err)
	}
	return nil
}

// ===========================================================================
// postgresOutcomeRepo
// ===========================================================================

type postgresOutcomeRepo struct {
	db *sql.DB
}

func (r *postgresOutcomeRepo) Create(ctx context.Context, outcome *domain.DispatchOutcome) error {
	query := `
		INSERT INTO relay.dispatch_outcomes (
			outcome_id, signal_id, master_account, slave_account, pairing_id,
			status, reason, error_code, command_id, symbol, volume, created_at_ms
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12
		)
	`
	_, err := r.db.ExecContext(ctx, query,
		outcome.OutcomeID,
		outcome.SignalID,
		outcome.MasterAccount,
		outcome.SlaveAccount,
		outcome.PairingID,
		outcome.Status,
		outcome.Reason,
		outcome.ErrorCode,
		outcome.CommandID,
		outcome.Symbol,
		outcome.Volume,
		outcome.CreatedAtMs,
	)
	if err != nil {
		return fmt.Errorf("failed to create dispatch outcome: %w", err)
	}
	return nil
}

func (r *postgresOutcomeRepo) GetBySignalID(ctx context.Context, signalID string) ([]*domain.DispatchOutcome, error) {
	query := `
		SELECT outcome_id, signal_id, master_account, slave_account, pairing_id,
		       status, reason, error_code, command_id, symbol, volume, created_at_ms
		FROM relay.dispatch_outcomes
		WHERE signal_id = $1
		ORDER BY created_at_ms ASC
	`
	return r.queryOutcomes(ctx, query, signalID)
}

func (r *postgresOutcomeRepo) List(ctx context.Context, limit int) ([]*domain.DispatchOutcome, error) {
	query := `
		SELECT outcome_id, signal_id, master_account, slave_account, pairing_id,
		       status, reason, error_code, command_id, symbol, volume, created_at_ms
		FROM relay.dispatch_outcomes
		ORDER BY created_at_ms DESC
		LIMIT $1
	`
	return r.queryOutcomes(ctx, query, limit)
}

func (r *postgresOutcomeRepo) queryOutcomes(ctx context.Context, query string, args ...interface{}) ([]*domain.DispatchOutcome, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query dispatch outcomes: %w", err)
	}
	defer rows.Close()

	var outcomes []*domain.DispatchOutcome
	for rows.Next() {
		var outcome domain.DispatchOutcome
		err := rows.Scan(
			&outcome.OutcomeID,
			&outcome.SignalID,
			&outcome.MasterAccount,
			&outcome.SlaveAccount,
			&outcome.PairingID,
			&outcome.Status,
			&outcome.Reason,
			&outcome.ErrorCode,
			&outcome.CommandID,
			&outcome.Symbol,
			&outcome.Volume,
			&outcome.CreatedAtMs,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan dispatch outcome: %w", err)
		}
		outcomes = append(outcomes, &outcome)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return outcomes, nil
}
