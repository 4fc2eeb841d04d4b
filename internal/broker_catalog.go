package internal

import (
	"context"
	"sync"

	"github.com/xKoRx/relay/domain"
	"github.com/xKoRx/relay/telemetry"
	"github.com/xKoRx/relay/telemetry/semconv"
	"github.com/xKoRx/relay/utils"
)

// BrokerCatalog almacena el último snapshot de catálogo reportado por
// cada cuenta: símbolos disponibles, especificaciones y balance.
//
// Las lecturas retornan copias; el snapshot en memoria nunca se expone
// directamente.
type BrokerCatalog struct {
	mu        sync.RWMutex
	snapshots map[string]*domain.BrokerSnapshot
	telemetry *telemetry.Client
}

// NewBrokerCatalog crea un catálogo de brokers vacío.
func NewBrokerCatalog(tel *telemetry.Client) *BrokerCatalog {
	return &BrokerCatalog{
		snapshots: make(map[string]*domain.BrokerSnapshot),
		telemetry: tel,
	}
}

// Report registra el snapshot de catálogo de una cuenta. Reemplaza
// cualquier snapshot previo (last-write-wins).
func (c *BrokerCatalog) Report(ctx context.Context, snapshot *domain.BrokerSnapshot) error {
	if snapshot == nil || snapshot.AccountID == "" {
		return domain.NewValidationError("snapshot", snapshot, "snapshot with account_id is required")
	}

	clone := cloneSnapshot(snapshot)
	if clone.ReportedAtMs == 0 {
		clone.ReportedAtMs = utils.NowUnixMilli()
	}

	c.mu.Lock()
	_, replacing := c.snapshots[clone.AccountID]
	c.snapshots[clone.AccountID] = clone
	c.mu.Unlock()

	if replacing {
		c.telemetry.Debug(ctx, "Broker catalog replaced",
			semconv.Relay.AccountID.String(clone.AccountID),
			semconv.Relay.QueueSize.Int(len(clone.Specs)),
		)
	} else {
		c.telemetry.Info(ctx, "Broker catalog received",
			semconv.Relay.AccountID.String(clone.AccountID),
			semconv.Relay.Broker.String(clone.Broker),
			semconv.Relay.QueueSize.Int(len(clone.Specs)),
		)
	}

	return nil
}

// Snapshot retorna una copia del snapshot de la cuenta, o nil si no hay.
func (c *BrokerCatalog) Snapshot(accountID string) *domain.BrokerSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snapshot, exists := c.snapshots[accountID]
	if !exists {
		return nil
	}
	return cloneSnapshot(snapshot)
}

// Symbols retorna los símbolos disponibles de la cuenta, o nil si la
// cuenta no reportó catálogo.
func (c *BrokerCatalog) Symbols(accountID string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snapshot, exists := c.snapshots[accountID]
	if !exists {
		return nil
	}
	return snapshot.Symbols()
}

// Spec retorna la especificación de un símbolo en la cuenta, o nil.
func (c *BrokerCatalog) Spec(accountID, symbol string) *domain.SymbolSpec {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snapshot, exists := c.snapshots[accountID]
	if !exists {
		return nil
	}
	spec, ok := snapshot.Specs[symbol]
	if !ok {
		return nil
	}
	clone := *spec
	return &clone
}

// Balance retorna el balance reportado de la cuenta y si se conoce.
func (c *BrokerCatalog) Balance(accountID string) (float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snapshot, exists := c.snapshots[accountID]
	if !exists {
		return 0, false
	}
	return snapshot.Balance, true
}

// HasCatalog indica si la cuenta reportó catálogo alguna vez.
func (c *BrokerCatalog) HasCatalog(accountID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	_, exists := c.snapshots[accountID]
	return exists
}

func cloneSnapshot(s *domain.BrokerSnapshot) *domain.BrokerSnapshot {
	clone := *s
	clone.Specs = make(map[string]*domain.SymbolSpec, len(s.Specs))
	for symbol, spec := range s.Specs {
		specClone := *spec
		clone.Specs[symbol] = &specClone
	}
	return &clone
}
