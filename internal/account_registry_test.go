package internal

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/xKoRx/relay/domain"
	"github.com/xKoRx/relay/utils"
)

func newTestRegistry(t *testing.T, cfg AccountRegistryConfig) *AccountRegistry {
	t.Helper()
	tel := newTestTelemetryClient(t)
	metrics := newTestRelayMetrics(t)
	return NewAccountRegistry(context.Background(), nil, nil, tel, metrics, cfg)
}

func TestRegisterStartsWaitingForActivation(t *testing.T) {
	r := newTestRegistry(t, AccountRegistryConfig{})

	record, err := r.Register(context.Background(), "acc-1", "Cuenta demo")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if record.Status != domain.StatusWaitingForActivation {
		t.Fatalf("expected WaitingForActivation, got %s", record.Status)
	}
	if record.SymbolDataReceived {
		t.Fatal("new account should not have symbol data")
	}
}

func TestRegisterRequiresAccountID(t *testing.T) {
	r := newTestRegistry(t, AccountRegistryConfig{})

	if _, err := r.Register(context.Background(), "  ", ""); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestHeartbeatDoesNotActivate(t *testing.T) {
	r := newTestRegistry(t, AccountRegistryConfig{})

	if _, err := r.Register(context.Background(), "acc-1", ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := r.Heartbeat(context.Background(), "acc-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if record := r.Get("acc-1"); record.Status != domain.StatusWaitingForActivation {
		t.Fatalf("heartbeat must not activate, got %s", record.Status)
	}
}

func TestCatalogActivatesAccount(t *testing.T) {
	r := newTestRegistry(t, AccountRegistryConfig{})

	if _, err := r.Register(context.Background(), "acc-1", ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := r.MarkCatalogReceived(context.Background(), "acc-1", "Demo Broker"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	record := r.Get("acc-1")
	if record.Status != domain.StatusOnline {
		t.Fatalf("expected Online after first catalog, got %s", record.Status)
	}
	if !record.SymbolDataReceived {
		t.Fatal("expected symbol data flag set")
	}
	if record.Broker != "Demo Broker" {
		t.Fatalf("expected broker recorded, got %q", record.Broker)
	}
}

func TestHeartbeatUnknownAccount(t *testing.T) {
	r := newTestRegistry(t, AccountRegistryConfig{})

	err := r.Heartbeat(context.Background(), "ghost")
	if domain.CodeOf(err) != domain.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSweepDegradesStaleOnlineAccounts(t *testing.T) {
	r := newTestRegistry(t, AccountRegistryConfig{StalenessTimeout: 50 * time.Millisecond})

	mustRegisterOnline(t, r, "acc-1")

	// Forzar un heartbeat vencido
	r.mu.Lock()
	r.accounts["acc-1"].LastHeartbeatMs = utils.NowUnixMilli() - 1000
	r.mu.Unlock()

	r.sweepStale()

	if record := r.Get("acc-1"); record.Status != domain.StatusOffline {
		t.Fatalf("expected Offline after sweep, got %s", record.Status)
	}
}

func TestSweepIgnoresFreshAccounts(t *testing.T) {
	r := newTestRegistry(t, AccountRegistryConfig{StalenessTimeout: time.Hour})

	mustRegisterOnline(t, r, "acc-1")
	r.sweepStale()

	if record := r.Get("acc-1"); record.Status != domain.StatusOnline {
		t.Fatalf("expected Online, got %s", record.Status)
	}
}

func TestHeartbeatRevivesOfflineAccount(t *testing.T) {
	r := newTestRegistry(t, AccountRegistryConfig{StalenessTimeout: 50 * time.Millisecond})

	mustRegisterOnline(t, r, "acc-1")

	r.mu.Lock()
	r.accounts["acc-1"].LastHeartbeatMs = utils.NowUnixMilli() - 1000
	r.mu.Unlock()
	r.sweepStale()

	if err := r.Heartbeat(context.Background(), "acc-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if record := r.Get("acc-1"); record.Status != domain.StatusOnline {
		t.Fatalf("expected Online after heartbeat, got %s", record.Status)
	}
}

func TestPausedIsSticky(t *testing.T) {
	r := newTestRegistry(t, AccountRegistryConfig{})

	mustRegisterOnline(t, r, "acc-1")
	if err := r.Pause(context.Background(), "acc-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Ni heartbeat ni catálogo despegan Paused
	if err := r.Heartbeat(context.Background(), "acc-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := r.MarkCatalogReceived(context.Background(), "acc-1", ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if record := r.Get("acc-1"); record.Status != domain.StatusPaused {
		t.Fatalf("expected Paused to stick, got %s", record.Status)
	}

	if err := r.Resume(context.Background(), "acc-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if record := r.Get("acc-1"); record.Status != domain.StatusOnline {
		t.Fatalf("expected Online after resume, got %s", record.Status)
	}
}

func TestCanReceiveOrders(t *testing.T) {
	r := newTestRegistry(t, AccountRegistryConfig{})

	if ok, reason := r.CanReceiveOrders("ghost"); ok || reason != "not registered" {
		t.Fatalf("expected not registered, got (%v, %q)", ok, reason)
	}

	if _, err := r.Register(context.Background(), "acc-1", ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok, reason := r.CanReceiveOrders("acc-1"); ok || reason != "not activated" {
		t.Fatalf("expected not activated, got (%v, %q)", ok, reason)
	}

	if err := r.MarkCatalogReceived(context.Background(), "acc-1", ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok, reason := r.CanReceiveOrders("acc-1"); !ok || reason != "" {
		t.Fatalf("expected eligible, got (%v, %q)", ok, reason)
	}

	if err := r.Pause(context.Background(), "acc-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok, reason := r.CanReceiveOrders("acc-1"); ok || reason != "paused" {
		t.Fatalf("expected paused, got (%v, %q)", ok, reason)
	}
}

func TestValidateSecret(t *testing.T) {
	open := newTestRegistry(t, AccountRegistryConfig{})
	if err := open.ValidateSecret("whatever"); err != nil {
		t.Fatalf("empty configured secret must accept all, got %v", err)
	}

	locked := newTestRegistry(t, AccountRegistryConfig{SharedSecret: "s3cret"})
	if err := locked.ValidateSecret("s3cret"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := locked.ValidateSecret("wrong"); domain.CodeOf(err) != domain.ErrInvalidSecret {
		t.Fatalf("expected ErrInvalidSecret, got %v", err)
	}
}

func TestSetUserMappingsRenumbersPositions(t *testing.T) {
	r := newTestRegistry(t, AccountRegistryConfig{})
	if _, err := r.Register(context.Background(), "acc-1", ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	mappings := []*domain.SymbolMapping{
		{Source: "GOLD", Target: "XAUUSD", Position: 7},
		{Source: "US500", Target: "SP500", Position: 3},
	}
	if err := r.SetUserMappings(context.Background(), "acc-1", mappings); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := r.UserMappings("acc-1")
	if len(got) != 2 {
		t.Fatalf("expected 2 mappings, got %d", len(got))
	}
	for i, m := range got {
		if m.Position != i || m.AccountID != "acc-1" {
			t.Fatalf("expected renumbered mapping at %d, got %+v", i, m)
		}
	}
}

func TestGetReturnsCopy(t *testing.T) {
	r := newTestRegistry(t, AccountRegistryConfig{})
	mustRegisterOnline(t, r, "acc-1")

	clone := r.Get("acc-1")
	clone.Status = domain.StatusPaused

	if record := r.Get("acc-1"); record.Status != domain.StatusOnline {
		t.Fatalf("mutating the clone must not affect the registry, got %s", record.Status)
	}
}

// mustRegisterOnline registra y activa una cuenta.
func mustRegisterOnline(t *testing.T, r *AccountRegistry, accountID string) {
	t.Helper()
	if _, err := r.Register(context.Background(), accountID, ""); err != nil {
		t.Fatalf("failed to register %s: %v", accountID, err)
	}
	if err := r.MarkCatalogReceived(context.Background(), accountID, ""); err != nil {
		t.Fatalf("failed to activate %s: %v", accountID, err)
	}
}

func TestStopDuringHeartbeatBurst(t *testing.T) {
	r := newTestRegistry(t, AccountRegistryConfig{})
	if err := r.Start(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	mustRegisterOnline(t, r, "acc-1")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = r.Heartbeat(context.Background(), "acc-1")
			}
		}()
	}

	// Stop concurrente con heartbeats en vuelo: no debe haber panic por
	// envío a canal cerrado
	r.Stop()
	wg.Wait()
}
