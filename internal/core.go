// Package internal contiene la lógica interna del núcleo de Relay.
//
// El Core es el orquestador: recibe señales y reportes de terminales,
// los enruta por el engine de fan-out y expone los mailboxes que los
// slaves consumen por polling.
package internal

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/xKoRx/relay/domain"
	"github.com/xKoRx/relay/internal/repository"
	"github.com/xKoRx/relay/telemetry"
	"github.com/xKoRx/relay/telemetry/metricbundle"
	"github.com/xKoRx/relay/telemetry/semconv"
)

// Core representa el servicio principal de Relay.
//
// Responsabilidades:
//   - Autenticación de terminales (shared secret)
//   - Registro y liveness de cuentas
//   - Catálogos de broker por cuenta
//   - Fan-out de señales master → mailboxes de slaves
//   - Polling y acknowledgement de comandos
//   - Telemetría (logs + métricas + trazas)
type Core struct {
	config *Config

	// Persistencia
	db      *sql.DB
	factory *repository.PostgresFactory

	// Componentes
	registry   *AccountRegistry
	catalog    *BrokerCatalog
	resolver   *SymbolResolver
	translator *Translator
	directory  *PairingDirectory
	mailbox    *Mailbox
	engine     *Engine

	// Telemetría
	telemetry *telemetry.Client
	metrics   *metricbundle.RelayMetrics

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
}

// New crea una nueva instancia de Core.
//
// Example:
//
//	cfg, err := internal.LoadConfig(ctx)
//	if err != nil {
//	    return err
//	}
//	core, err := internal.New(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	defer core.Shutdown()
func New(ctx context.Context, config *Config) (*Core, error) {
	if config == nil {
		return nil, fmt.Errorf("config is required")
	}

	coreCtx, cancel := context.WithCancel(ctx)

	// Inicializar telemetría
	telOpts := []telemetry.Option{
		telemetry.WithVersion(config.ServiceVersion),
	}
	if config.OTLPEndpoint != "" {
		telOpts = append(telOpts, telemetry.WithOTLPEndpoint(config.OTLPEndpoint))
	}
	if config.MetricsEndpoint != "" {
		telOpts = append(telOpts, telemetry.WithMetricsEndpoint(config.MetricsEndpoint))
	}

	telClient, err := telemetry.New(
		coreCtx,
		config.ServiceName,
		config.Environment,
		telOpts...,
	)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	metrics, err := metricbundle.NewRelayMetrics(telClient.Meter())
	if err != nil {
		cancel()
		telClient.Shutdown(coreCtx)
		return nil, fmt.Errorf("failed to create metrics bundle: %w", err)
	}

	// Conectar PostgreSQL
	db, err := sql.Open("postgres", config.PostgresConnStr())
	if err != nil {
		cancel()
		telClient.Shutdown(coreCtx)
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}
	db.SetMaxOpenConns(config.PostgresPoolMaxConn)

	factory := repository.NewPostgresFactory(db)

	// Componentes
	registry := NewAccountRegistry(coreCtx, factory.AccountRepository(), factory.SymbolMappingRepository(), telClient, metrics, AccountRegistryConfig{
		SharedSecret:     config.SharedSecret,
		StalenessTimeout: config.StalenessTimeout,
		SweepInterval:    config.LivenessSweep,
	})
	catalog := NewBrokerCatalog(telClient)
	resolver := NewSymbolResolver(coreCtx, factory.SymbolMappingRepository(), telClient, metrics, config.PersistBufferSize)
	if aliases := config.BaseAliases(); aliases != nil {
		resolver.SetBaseAliases(aliases)
	}
	translator := NewTranslator(catalog, registry, resolver, telClient, metrics)
	directory := NewPairingDirectory(factory.PairingRepository(), telClient)
	mailbox := NewMailbox(coreCtx, telClient, metrics, MailboxConfig{
		Capacity:      config.MailboxCapacity,
		TTL:           config.CommandTTL,
		SweepInterval: config.MailboxSweep,
	})
	engine := NewEngine(coreCtx, directory, registry, catalog, translator, mailbox, factory.OutcomeRepository(), telClient, metrics)

	core := &Core{
		config:     config,
		db:         db,
		factory:    factory,
		registry:   registry,
		catalog:    catalog,
		resolver:   resolver,
		translator: translator,
		directory:  directory,
		mailbox:    mailbox,
		engine:     engine,
		telemetry:  telClient,
		metrics:    metrics,
		ctx:        coreCtx,
		cancel:     cancel,
	}

	telClient.Info(coreCtx, "Core initialized",
		semconv.Relay.Broker.String(config.Environment),
	)

	return core, nil
}

// Start arranca todos los componentes del Core.
func (c *Core) Start() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("core already closed")
	}
	c.mu.Unlock()

	if err := c.registry.Start(); err != nil {
		return fmt.Errorf("failed to start account registry: %w", err)
	}
	if err := c.directory.Start(c.ctx); err != nil {
		return fmt.Errorf("failed to start pairing directory: %w", err)
	}
	c.resolver.Start()
	c.mailbox.Start()
	c.engine.Start()

	c.telemetry.Info(c.ctx, "Core started successfully")
	return nil
}

// Shutdown detiene el Core en orden inverso al arranque.
func (c *Core) Shutdown() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.telemetry.Info(c.ctx, "Core shutting down")

	c.engine.Stop()
	c.mailbox.Stop()
	c.resolver.Stop()
	c.registry.Stop()

	if err := c.db.Close(); err != nil {
		c.telemetry.Error(c.ctx, "Failed to close postgres connection", err)
	}

	c.cancel()
	return c.telemetry.Shutdown(context.Background())
}

// ===========================================================================
// API de ingestión (señales del master)
// ===========================================================================

// HandleSignal autentica y procesa una señal de un terminal master.
func (c *Core) HandleSignal(ctx context.Context, subscriptionKey, secret string, signal *domain.Signal) (*domain.ProcessResult, error) {
	if err := c.registry.ValidateSecret(secret); err != nil {
		c.metrics.RecordSignalRejected(ctx, "invalid_secret")
		return nil, err
	}
	return c.engine.ProcessSignal(ctx, subscriptionKey, signal)
}

// ===========================================================================
// API de terminales (registro, liveness, catálogo)
// ===========================================================================

// RegisterAccount registra una cuenta de terminal.
func (c *Core) RegisterAccount(ctx context.Context, secret, accountID, nickname string) (*domain.AccountRecord, error) {
	if err := c.registry.ValidateSecret(secret); err != nil {
		return nil, err
	}
	return c.registry.Register(ctx, accountID, nickname)
}

// HandleHeartbeat registra actividad de un terminal.
func (c *Core) HandleHeartbeat(ctx context.Context, secret, accountID string) error {
	if err := c.registry.ValidateSecret(secret); err != nil {
		return err
	}
	return c.registry.Heartbeat(ctx, accountID)
}

// HandleCatalogReport recibe el reporte de catálogo de un terminal. El
// primer reporte activa la cuenta.
func (c *Core) HandleCatalogReport(ctx context.Context, secret string, snapshot *domain.BrokerSnapshot) error {
	if err := c.registry.ValidateSecret(secret); err != nil {
		return err
	}
	if err := c.catalog.Report(ctx, snapshot); err != nil {
		return err
	}
	return c.registry.MarkCatalogReceived(ctx, snapshot.AccountID, snapshot.Broker)
}

// PauseAccount pausa una cuenta de forma explícita.
func (c *Core) PauseAccount(ctx context.Context, accountID string) error {
	return c.registry.Pause(ctx, accountID)
}

// ResumeAccount reanuda una cuenta pausada.
func (c *Core) ResumeAccount(ctx context.Context, accountID string) error {
	return c.registry.Resume(ctx, accountID)
}

// ===========================================================================
// API de slaves (polling y acknowledgement)
// ===========================================================================

// PollCommands retorna los comandos pendientes de un slave. El poll
// cuenta como heartbeat.
func (c *Core) PollCommands(ctx context.Context, secret, accountID string, limit int, autoAck bool) ([]*domain.Command, error) {
	if err := c.registry.ValidateSecret(secret); err != nil {
		return nil, err
	}
	if err := c.registry.Heartbeat(ctx, accountID); err != nil {
		return nil, err
	}
	return c.mailbox.Poll(ctx, accountID, limit, autoAck), nil
}

// AckCommand confirma la ejecución de un comando.
func (c *Core) AckCommand(ctx context.Context, secret, accountID, commandID string) (bool, error) {
	if err := c.registry.ValidateSecret(secret); err != nil {
		return false, err
	}
	return c.mailbox.Acknowledge(ctx, accountID, commandID), nil
}

// ===========================================================================
// API de administración
// ===========================================================================

// UpsertPairing crea o actualiza un pairing master↔slave.
func (c *Core) UpsertPairing(ctx context.Context, pairing *domain.Pairing) error {
	return c.directory.Upsert(ctx, pairing)
}

// ListPairings retorna todos los pairings.
func (c *Core) ListPairings(ctx context.Context) []*domain.Pairing {
	return c.directory.List(ctx)
}

// ListAccounts retorna todas las cuentas registradas.
func (c *Core) ListAccounts() []*domain.AccountRecord {
	return c.registry.List()
}

// SetCustomMapping agrega un mapeo custom global de símbolos.
func (c *Core) SetCustomMapping(ctx context.Context, source, target string) error {
	return c.resolver.SetCustomMapping(ctx, source, target)
}

// RemoveCustomMapping elimina un mapeo custom global.
func (c *Core) RemoveCustomMapping(ctx context.Context, source string) bool {
	return c.resolver.RemoveCustomMapping(ctx, source)
}

// SetUserMappings reemplaza los mapeos curados de una cuenta.
func (c *Core) SetUserMappings(ctx context.Context, accountID string, mappings []*domain.SymbolMapping) error {
	return c.registry.SetUserMappings(ctx, accountID, mappings)
}

// MailboxStats retorna el estado agregado de los mailboxes.
func (c *Core) MailboxStats() MailboxStats {
	return c.mailbox.Stats()
}

// ClearMailbox vacía el mailbox de una cuenta. Retorna cuántos comandos
// había.
func (c *Core) ClearMailbox(accountID string) int {
	return c.mailbox.Clear(accountID)
}

// ResolverStats retorna contadores del resolver de símbolos.
func (c *Core) ResolverStats() ResolverStats {
	return c.resolver.Stats()
}

// Outcomes retorna el journal de despachos de una señal.
func (c *Core) Outcomes(ctx context.Context, signalID string) ([]*domain.DispatchOutcome, error) {
	return c.factory.OutcomeRepository().GetBySignalID(ctx, signalID)
}
