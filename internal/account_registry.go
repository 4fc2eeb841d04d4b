package internal

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/xKoRx/relay/domain"
	"github.com/xKoRx/relay/telemetry"
	"github.com/xKoRx/relay/telemetry/metricbundle"
	"github.com/xKoRx/relay/telemetry/semconv"
	"github.com/xKoRx/relay/utils"
)

// AccountRegistry mantiene el estado de ciclo de vida de las cuentas.
//
// Memoria primero: el mapa en RAM es la fuente de verdad operativa y los
// cambios se persisten de forma async. El sweep de liveness degrada a
// Offline las cuentas Online cuyo último heartbeat excede el umbral.
//
// Máquina de estados:
//   - WaitingForActivation → Online: sólo con el primer reporte de catálogo
//   - Online → Offline: sólo vía sweep de liveness
//   - Offline → Online: heartbeat o catálogo (salvo Paused)
//   - Paused: sticky, sólo sale con Resume explícito
type AccountRegistry struct {
	mu       sync.RWMutex
	accounts map[string]*domain.AccountRecord

	repo         domain.AccountRepository
	mappingRepo  domain.SymbolMappingRepository
	persistChan  chan *domain.AccountRecord
	telemetry    *telemetry.Client
	metrics      *metricbundle.RelayMetrics
	sharedSecret string

	stalenessTimeout time.Duration
	sweepInterval    time.Duration

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	done   chan struct{}
}

// AccountRegistryConfig configuración del registro de cuentas.
type AccountRegistryConfig struct {
	SharedSecret     string        // vacío acepta cualquier secreto
	StalenessTimeout time.Duration // edad máxima del heartbeat (default 30s)
	SweepInterval    time.Duration // cadencia del sweep (default 30s)
}

// NewAccountRegistry crea un registro de cuentas.
func NewAccountRegistry(ctx context.Context, repo domain.AccountRepository, mappingRepo domain.SymbolMappingRepository, tel *telemetry.Client, metrics *metricbundle.RelayMetrics, cfg AccountRegistryConfig) *AccountRegistry {
	if cfg.StalenessTimeout <= 0 {
		cfg.StalenessTimeout = 30 * time.Second
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 30 * time.Second
	}

	registryCtx, cancel := context.WithCancel(ctx)

	return &AccountRegistry{
		accounts:         make(map[string]*domain.AccountRecord),
		repo:             repo,
		mappingRepo:      mappingRepo,
		persistChan:      make(chan *domain.AccountRecord, 1000),
		telemetry:        tel,
		metrics:          metrics,
		sharedSecret:     cfg.SharedSecret,
		stalenessTimeout: cfg.StalenessTimeout,
		sweepInterval:    cfg.SweepInterval,
		ctx:              registryCtx,
		cancel:           cancel,
		done:             make(chan struct{}),
	}
}

// Start carga las cuentas persistidas e inicia el worker de persistencia
// y el sweep de liveness.
func (r *AccountRegistry) Start() error {
	if r.repo != nil {
		accounts, err := r.repo.List(r.ctx)
		if err != nil {
			return domain.WrapError(domain.ErrStorage, "failed to load accounts", err)
		}
		r.mu.Lock()
		for _, a := range accounts {
			r.accounts[a.AccountID] = a
		}
		r.mu.Unlock()

		r.telemetry.Info(r.ctx, "Accounts loaded",
			semconv.Relay.QueueSize.Int(len(accounts)),
		)
	}

	r.wg.Add(2)
	go r.persistWorker()
	go r.sweepLoop()
	return nil
}

// Stop detiene el registro. El canal de persistencia nunca se cierra:
// los productores concurrentes (heartbeats en vuelo) seleccionan contra
// ctx.Done y el buffer absorbe lo que alcance a entrar.
func (r *AccountRegistry) Stop() {
	close(r.done)
	r.cancel()
	r.wg.Wait()
}

// persistWorker persiste registros de cuentas de forma async.
func (r *AccountRegistry) persistWorker() {
	defer r.wg.Done()

	for {
		select {
		case <-r.ctx.Done():
			return
		case record := <-r.persistChan:
			if r.repo == nil {
				continue
			}
			if err := r.repo.Upsert(r.ctx, record); err != nil {
				r.telemetry.Error(r.ctx, "Failed to persist account", err,
					semconv.Relay.AccountID.String(record.AccountID),
				)
			}

		case <-r.ctx.Done():
			return
		}
	}
}

// sweepLoop degrada a Offline las cuentas Online con heartbeat vencido.
func (r *AccountRegistry) sweepLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.sweepStale()
		case <-r.done:
			return
		}
	}
}

// sweepStale ejecuta una pasada del sweep de liveness.
func (r *AccountRegistry) sweepStale() {
	cutoff := utils.NowUnixMilli() - r.stalenessTimeout.Milliseconds()

	r.mu.Lock()
	var stale []*domain.AccountRecord
	for _, a := range r.accounts {
		if a.Status == domain.StatusOnline && a.LastHeartbeatMs < cutoff {
			stale = append(stale, a)
		}
	}
	for _, a := range stale {
		r.transitionLocked(a, domain.StatusOffline)
	}
	r.mu.Unlock()

	for _, a := range stale {
		r.telemetry.Warn(r.ctx, "Account went offline (stale heartbeat)",
			semconv.Relay.AccountID.String(a.AccountID),
		)
	}
}

// ---------- Autenticación ----------

// ValidateSecret verifica el shared secret de un terminal. Un secreto
// configurado vacío acepta cualquier valor.
func (r *AccountRegistry) ValidateSecret(secret string) error {
	if r.sharedSecret == "" {
		return nil
	}
	if secret != r.sharedSecret {
		return domain.NewError(domain.ErrInvalidSecret, "invalid shared secret")
	}
	return nil
}

// ---------- Registro y heartbeats ----------

// Register registra una cuenta nueva o actualiza su nickname. Las cuentas
// nuevas arrancan en WaitingForActivation hasta su primer catálogo.
func (r *AccountRegistry) Register(ctx context.Context, accountID, nickname string) (*domain.AccountRecord, error) {
	if strings.TrimSpace(accountID) == "" {
		return nil, domain.NewValidationError("account_id", accountID, "account_id is required")
	}

	now := time.Now().UTC()

	r.mu.Lock()
	record, exists := r.accounts[accountID]
	if !exists {
		record = &domain.AccountRecord{
			AccountID:       accountID,
			Nickname:        nickname,
			Status:          domain.StatusWaitingForActivation,
			LastHeartbeatMs: utils.NowUnixMilli(),
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		r.accounts[accountID] = record
	} else if nickname != "" {
		record.Nickname = nickname
		record.UpdatedAt = now
	}
	clone := cloneAccount(record)
	r.mu.Unlock()

	r.enqueuePersist(clone)

	if !exists {
		r.telemetry.Info(ctx, "Account registered",
			semconv.Relay.AccountID.String(accountID),
			semconv.Relay.AccountState.String(string(domain.StatusWaitingForActivation)),
		)
	}

	return clone, nil
}

// Heartbeat registra actividad de una cuenta. Revive cuentas Offline;
// nunca activa cuentas en WaitingForActivation ni despega Paused.
func (r *AccountRegistry) Heartbeat(ctx context.Context, accountID string) error {
	r.mu.Lock()
	record, exists := r.accounts[accountID]
	if !exists {
		r.mu.Unlock()
		return domain.NewError(domain.ErrNotFound, "account not registered").
			WithDetail("account_id", accountID)
	}

	record.LastHeartbeatMs = utils.NowUnixMilli()
	record.UpdatedAt = time.Now().UTC()
	if record.Status == domain.StatusOffline {
		r.transitionLocked(record, domain.StatusOnline)
	}
	clone := cloneAccount(record)
	r.mu.Unlock()

	r.enqueuePersist(clone)
	return nil
}

// MarkCatalogReceived marca que la cuenta reportó su catálogo de broker.
//
// El primer catálogo activa la cuenta (WaitingForActivation → Online) y
// deja el flag de symbol data en true de forma permanente. También revive
// cuentas Offline; Paused no se toca.
func (r *AccountRegistry) MarkCatalogReceived(ctx context.Context, accountID, broker string) error {
	r.mu.Lock()
	record, exists := r.accounts[accountID]
	if !exists {
		r.mu.Unlock()
		return domain.NewError(domain.ErrNotFound, "account not registered").
			WithDetail("account_id", accountID)
	}

	record.SymbolDataReceived = true
	record.LastHeartbeatMs = utils.NowUnixMilli()
	record.UpdatedAt = time.Now().UTC()
	if broker != "" {
		record.Broker = broker
	}
	if record.Status == domain.StatusWaitingForActivation || record.Status == domain.StatusOffline {
		r.transitionLocked(record, domain.StatusOnline)
	}
	clone := cloneAccount(record)
	r.mu.Unlock()

	r.enqueuePersist(clone)
	return nil
}

// Pause pausa una cuenta. Paused es sticky frente a heartbeats y sweep.
func (r *AccountRegistry) Pause(ctx context.Context, accountID string) error {
	return r.setExplicitStatus(ctx, accountID, domain.StatusPaused)
}

// Resume reanuda una cuenta pausada, devolviéndola a Online.
func (r *AccountRegistry) Resume(ctx context.Context, accountID string) error {
	return r.setExplicitStatus(ctx, accountID, domain.StatusOnline)
}

func (r *AccountRegistry) setExplicitStatus(ctx context.Context, accountID string, status domain.AccountStatus) error {
	r.mu.Lock()
	record, exists := r.accounts[accountID]
	if !exists {
		r.mu.Unlock()
		return domain.NewError(domain.ErrNotFound, "account not registered").
			WithDetail("account_id", accountID)
	}
	r.transitionLocked(record, status)
	record.UpdatedAt = time.Now().UTC()
	clone := cloneAccount(record)
	r.mu.Unlock()

	r.enqueuePersist(clone)
	return nil
}

// transitionLocked aplica una transición de estado. Requiere r.mu tomado.
func (r *AccountRegistry) transitionLocked(record *domain.AccountRecord, to domain.AccountStatus) {
	from := record.Status
	if from == to {
		return
	}
	record.Status = to

	r.metrics.RecordAccountTransition(r.ctx, string(from), string(to),
		semconv.Relay.AccountID.String(record.AccountID),
	)
	r.telemetry.Info(r.ctx, "Account state transition",
		semconv.Relay.AccountID.String(record.AccountID),
		semconv.Relay.AccountState.String(string(to)),
	)
}

// ---------- Elegibilidad ----------

// CanReceiveOrders determina si una cuenta puede participar del copiado.
// Retorna el motivo cuando no puede.
func (r *AccountRegistry) CanReceiveOrders(accountID string) (bool, string) {
	r.mu.RLock()
	record, exists := r.accounts[accountID]
	r.mu.RUnlock()

	if !exists {
		return false, "not registered"
	}
	if !record.SymbolDataReceived {
		return false, "not activated"
	}
	if record.Status == domain.StatusPaused {
		return false, "paused"
	}
	return true, ""
}

// IsOnline indica si la cuenta está Online.
func (r *AccountRegistry) IsOnline(accountID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	record, exists := r.accounts[accountID]
	return exists && record.Status == domain.StatusOnline
}

// ---------- Consultas ----------

// Get retorna una copia del registro de la cuenta, o nil si no existe.
func (r *AccountRegistry) Get(accountID string) *domain.AccountRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	record, exists := r.accounts[accountID]
	if !exists {
		return nil
	}
	return cloneAccount(record)
}

// List retorna copias de todos los registros.
func (r *AccountRegistry) List() []*domain.AccountRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*domain.AccountRecord, 0, len(r.accounts))
	for _, a := range r.accounts {
		out = append(out, cloneAccount(a))
	}
	return out
}

// ---------- Mapeos por cuenta ----------

// SetUserMappings reemplaza la lista ordenada de mapeos de símbolos
// curada por el usuario para una cuenta y la persiste.
func (r *AccountRegistry) SetUserMappings(ctx context.Context, accountID string, mappings []*domain.SymbolMapping) error {
	r.mu.Lock()
	record, exists := r.accounts[accountID]
	if !exists {
		r.mu.Unlock()
		return domain.NewError(domain.ErrNotFound, "account not registered").
			WithDetail("account_id", accountID)
	}
	for i, m := range mappings {
		m.AccountID = accountID
		m.Position = i
	}
	record.SymbolMappings = mappings
	record.UpdatedAt = time.Now().UTC()
	r.mu.Unlock()

	if r.mappingRepo != nil {
		if err := r.mappingRepo.ReplaceAccountMappings(ctx, accountID, mappings); err != nil {
			return domain.WrapError(domain.ErrStorage, "failed to persist account mappings", err)
		}
	}

	r.telemetry.Info(ctx, "Account symbol mappings updated",
		semconv.Relay.AccountID.String(accountID),
		semconv.Relay.QueueSize.Int(len(mappings)),
	)
	return nil
}

// UserMappings retorna la lista ordenada de mapeos de la cuenta.
func (r *AccountRegistry) UserMappings(accountID string) []*domain.SymbolMapping {
	r.mu.RLock()
	defer r.mu.RUnlock()

	record, exists := r.accounts[accountID]
	if !exists {
		return nil
	}
	out := make([]*domain.SymbolMapping, len(record.SymbolMappings))
	copy(out, record.SymbolMappings)
	return out
}

// ---------- Helpers ----------

func (r *AccountRegistry) enqueuePersist(record *domain.AccountRecord) {
	select {
	case r.persistChan <- record:
	case <-time.After(100 * time.Millisecond):
		r.telemetry.Warn(r.ctx, "Persist channel full, dropping account update",
			semconv.Relay.AccountID.String(record.AccountID),
		)
	case <-r.ctx.Done():
	}
}

func cloneAccount(a *domain.AccountRecord) *domain.AccountRecord {
	clone := *a
	if a.SymbolMappings != nil {
		clone.SymbolMappings = make([]*domain.SymbolMapping, len(a.SymbolMappings))
		copy(clone.SymbolMappings, a.SymbolMappings)
	}
	return &clone
}
