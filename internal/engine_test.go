package internal

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/xKoRx/relay/domain"
	"github.com/xKoRx/relay/telemetry"
	"github.com/xKoRx/relay/telemetry/metricbundle"
	"github.com/xKoRx/relay/utils"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

func newTestTelemetryClient(t *testing.T) *telemetry.Client {
	t.Helper()
	ctx := context.Background()
	client, err := telemetry.New(ctx, "relay-test", "test",
		telemetry.WithLogsDisabled(),
		telemetry.WithMetricsDisabled(),
		telemetry.WithTracesDisabled(),
	)
	if err != nil {
		t.Fatalf("failed to init telemetry: %v", err)
	}
	t.Cleanup(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = client.Shutdown(shutdownCtx)
	})
	return client
}

func newTestRelayMetrics(t *testing.T) *metricbundle.RelayMetrics {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() {
		_ = provider.Shutdown(context.Background())
	})
	meter := provider.Meter("relay-test")
	metrics, err := metricbundle.NewRelayMetrics(meter)
	if err != nil {
		t.Fatalf("failed to create relay metrics: %v", err)
	}
	return metrics
}

// engineFixture arma el engine completo con componentes en memoria.
type engineFixture struct {
	engine    *Engine
	registry  *AccountRegistry
	catalog   *BrokerCatalog
	directory *PairingDirectory
	mailbox   *Mailbox
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	tel := newTestTelemetryClient(t)
	metrics := newTestRelayMetrics(t)
	ctx := context.Background()

	registry := NewAccountRegistry(ctx, nil, nil, tel, metrics, AccountRegistryConfig{})
	catalog := NewBrokerCatalog(tel)
	resolver := NewSymbolResolver(ctx, nil, tel, metrics, 10)
	translator := NewTranslator(catalog, registry, resolver, tel, metrics)
	directory := NewPairingDirectory(nil, tel)
	mailbox := NewMailbox(ctx, tel, metrics, MailboxConfig{})
	engine := NewEngine(ctx, directory, registry, catalog, translator, mailbox, nil, tel, metrics)

	return &engineFixture{
		engine:    engine,
		registry:  registry,
		catalog:   catalog,
		directory: directory,
		mailbox:   mailbox,
	}
}

// addAccount registra, reporta catálogo y activa una cuenta.
func (f *engineFixture) addAccount(t *testing.T, accountID string, specs map[string]*domain.SymbolSpec) {
	t.Helper()
	if _, err := f.registry.Register(context.Background(), accountID, ""); err != nil {
		t.Fatalf("failed to register %s: %v", accountID, err)
	}
	err := f.catalog.Report(context.Background(), &domain.BrokerSnapshot{
		AccountID: accountID,
		Balance:   10000,
		Specs:     specs,
	})
	if err != nil {
		t.Fatalf("failed to report catalog for %s: %v", accountID, err)
	}
	if err := f.registry.MarkCatalogReceived(context.Background(), accountID, ""); err != nil {
		t.Fatalf("failed to activate %s: %v", accountID, err)
	}
}

// addPairing crea un pairing activo bajo la key dada.
func (f *engineFixture) addPairing(t *testing.T, master, slave, key string, settings *domain.PairingSettings) {
	t.Helper()
	err := f.directory.Upsert(context.Background(), &domain.Pairing{
		MasterAccount:   master,
		SlaveAccount:    slave,
		SubscriptionKey: key,
		Settings:        settings,
	})
	if err != nil {
		t.Fatalf("failed to upsert pairing %s→%s: %v", master, slave, err)
	}
}

// forceOffline fuerza el estado Offline de una cuenta vía sweep.
func (f *engineFixture) forceOffline(t *testing.T, accountID string) {
	t.Helper()
	f.registry.mu.Lock()
	f.registry.accounts[accountID].LastHeartbeatMs = utils.NowUnixMilli() - time.Hour.Milliseconds()
	f.registry.mu.Unlock()
	f.registry.sweepStale()

	if f.registry.IsOnline(accountID) {
		t.Fatalf("expected %s offline", accountID)
	}
}

func openSignal(master string) *domain.Signal {
	return &domain.Signal{
		Account: master,
		Event:   "deal_add",
		Symbol:  "XAUUSDm",
		Type:    "BUY",
		Volume:  1.0,
		OrderID: "12345",
	}
}

func masterSpecs() map[string]*domain.SymbolSpec {
	return map[string]*domain.SymbolSpec{
		"XAUUSDm": {Symbol: "XAUUSDm", ContractSize: 100, VolumeMin: 0.01, VolumeMax: 100, VolumeStep: 0.01},
	}
}

func TestProcessSignalFanOut(t *testing.T) {
	f := newEngineFixture(t)

	f.addAccount(t, "master-1", masterSpecs())
	f.addAccount(t, "slave-1", goldSpecs(100))
	f.addAccount(t, "slave-2", goldSpecs(100))
	f.addAccount(t, "slave-3", goldSpecs(100))
	f.forceOffline(t, "slave-3")

	f.addPairing(t, "master-1", "slave-1", "key-1", nil)
	f.addPairing(t, "master-1", "slave-2", "key-1", nil)
	f.addPairing(t, "master-1", "slave-3", "key-1", nil)

	result, err := f.engine.ProcessSignal(context.Background(), "key-1", openSignal("master-1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !result.Success {
		t.Fatal("expected success with at least one dispatch")
	}
	if result.Dispatched != 2 || result.Skipped != 1 || result.Failed != 0 {
		t.Fatalf("unexpected counts: %+v", result)
	}

	for _, outcome := range result.Outcomes {
		if outcome.SlaveAccount == "slave-3" {
			if outcome.Status != domain.OutcomeSkipped || outcome.Reason != "offline" {
				t.Fatalf("expected slave-3 skipped offline, got %+v", outcome)
			}
		}
	}

	commands := f.mailbox.Poll(context.Background(), "slave-1", 0, false)
	if len(commands) != 1 {
		t.Fatalf("expected 1 command for slave-1, got %d", len(commands))
	}
	command := commands[0]
	if command.Action != domain.ActionBuy || command.Symbol != "XAUUSD" || command.Volume != 1.0 {
		t.Fatalf("unexpected command: %+v", command)
	}
	if command.OrderType != "market" {
		t.Fatalf("expected market order, got %q", command.OrderType)
	}
	if !strings.HasPrefix(command.Comment, "COPY_") {
		t.Fatalf("expected correlation comment, got %q", command.Comment)
	}
}

func TestProcessSignalAppliesMultiplier(t *testing.T) {
	f := newEngineFixture(t)

	f.addAccount(t, "master-1", masterSpecs())
	f.addAccount(t, "slave-1", goldSpecs(100))

	settings := domain.DefaultPairingSettings()
	settings.Multiplier = 0.5
	f.addPairing(t, "master-1", "slave-1", "key-1", settings)

	result, err := f.engine.ProcessSignal(context.Background(), "key-1", openSignal("master-1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Dispatched != 1 {
		t.Fatalf("expected 1 dispatch, got %d", result.Dispatched)
	}

	commands := f.mailbox.Poll(context.Background(), "slave-1", 0, false)
	if commands[0].Volume != 0.5 {
		t.Fatalf("expected volume 0.5, got %f", commands[0].Volume)
	}
}

func TestProcessSignalMasterNotEligible(t *testing.T) {
	f := newEngineFixture(t)

	_, err := f.engine.ProcessSignal(context.Background(), "key-1", openSignal("ghost"))
	if domain.CodeOf(err) != domain.ErrMasterNotEligible {
		t.Fatalf("expected ErrMasterNotEligible, got %v", err)
	}
}

func TestProcessSignalUnknownSubscriptionKey(t *testing.T) {
	f := newEngineFixture(t)
	f.addAccount(t, "master-1", masterSpecs())

	_, err := f.engine.ProcessSignal(context.Background(), "no-such-key", openSignal("master-1"))
	if domain.CodeOf(err) != domain.ErrUnknownSubscriptionKey {
		t.Fatalf("expected ErrUnknownSubscriptionKey, got %v", err)
	}
}

func TestProcessSignalInvalid(t *testing.T) {
	f := newEngineFixture(t)

	_, err := f.engine.ProcessSignal(context.Background(), "key-1", &domain.Signal{Event: "deal_add"})
	if err == nil {
		t.Fatal("expected validation error")
	}
}

func TestProcessSignalAssignsSignalID(t *testing.T) {
	f := newEngineFixture(t)
	f.addAccount(t, "master-1", masterSpecs())
	f.addAccount(t, "slave-1", goldSpecs(100))
	f.addPairing(t, "master-1", "slave-1", "key-1", nil)

	signal := openSignal("master-1")
	if _, err := f.engine.ProcessSignal(context.Background(), "key-1", signal); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if signal.SignalID == "" {
		t.Fatal("expected signal id assigned")
	}
}

func TestProcessSignalUnknownEventFails(t *testing.T) {
	f := newEngineFixture(t)
	f.addAccount(t, "master-1", masterSpecs())
	f.addAccount(t, "slave-1", goldSpecs(100))
	f.addPairing(t, "master-1", "slave-1", "key-1", nil)

	signal := openSignal("master-1")
	signal.Event = "account_update"

	result, err := f.engine.ProcessSignal(context.Background(), "key-1", signal)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Success || result.Failed != 1 {
		t.Fatalf("expected failed outcome, got %+v", result)
	}
	if result.Outcomes[0].ErrorCode != domain.ErrUnknownEvent {
		t.Fatalf("expected ErrUnknownEvent, got %s", result.Outcomes[0].ErrorCode)
	}
}

func TestProcessSignalVolumeTooSmallSkips(t *testing.T) {
	f := newEngineFixture(t)
	f.addAccount(t, "master-1", masterSpecs())
	f.addAccount(t, "slave-1", goldSpecs(100))

	settings := domain.DefaultPairingSettings()
	settings.Multiplier = 0.001
	settings.MinVolumeStrategy = domain.MinVolumeSkip
	f.addPairing(t, "master-1", "slave-1", "key-1", settings)

	result, err := f.engine.ProcessSignal(context.Background(), "key-1", openSignal("master-1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Success || result.Skipped != 1 {
		t.Fatalf("expected skipped outcome, got %+v", result)
	}
	if result.Outcomes[0].Reason != "volume_too_small" {
		t.Fatalf("expected volume_too_small, got %q", result.Outcomes[0].Reason)
	}
}

func TestProcessSignalCloseByComment(t *testing.T) {
	f := newEngineFixture(t)
	f.addAccount(t, "master-1", masterSpecs())
	f.addAccount(t, "slave-1", goldSpecs(100))
	f.addPairing(t, "master-1", "slave-1", "key-1", nil)

	signal := &domain.Signal{
		Account: "master-1",
		Event:   "deal_close",
		Symbol:  "XAUUSDm",
		OrderID: "12345",
	}

	result, err := f.engine.ProcessSignal(context.Background(), "key-1", signal)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Dispatched != 1 {
		t.Fatalf("expected dispatch, got %+v", result)
	}

	commands := f.mailbox.Poll(context.Background(), "slave-1", 0, false)
	command := commands[0]
	if command.Action != domain.ActionCloseByComment {
		t.Fatalf("expected close_by_comment, got %q", command.Action)
	}
	if command.Comment != "COPY_12345" {
		t.Fatalf("unexpected comment: %q", command.Comment)
	}
	if command.Volume != 0 {
		t.Fatalf("full close must not carry volume, got %f", command.Volume)
	}
}

func TestProcessSignalFullCloseWithoutOrderID(t *testing.T) {
	f := newEngineFixture(t)
	f.addAccount(t, "master-1", masterSpecs())
	f.addAccount(t, "slave-1", goldSpecs(100))
	f.addPairing(t, "master-1", "slave-1", "key-1", nil)

	signal := &domain.Signal{
		Account: "master-1",
		Event:   "position_close",
		Symbol:  "XAUUSDm",
	}

	result, err := f.engine.ProcessSignal(context.Background(), "key-1", signal)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Dispatched != 1 {
		t.Fatalf("expected dispatch, got %+v", result)
	}

	commands := f.mailbox.Poll(context.Background(), "slave-1", 0, false)
	if commands[0].Action != domain.ActionClose {
		t.Fatalf("expected close, got %q", commands[0].Action)
	}
}

func TestProcessSignalPartialClose(t *testing.T) {
	f := newEngineFixture(t)
	f.addAccount(t, "master-1", masterSpecs())
	f.addAccount(t, "slave-1", goldSpecs(100))

	settings := domain.DefaultPairingSettings()
	settings.Multiplier = 0.5
	f.addPairing(t, "master-1", "slave-1", "key-1", settings)

	signal := &domain.Signal{
		Account: "master-1",
		Event:   "deal_close",
		Symbol:  "XAUUSDm",
		Volume:  1.0,
		OrderID: "12345",
	}

	if _, err := f.engine.ProcessSignal(context.Background(), "key-1", signal); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	commands := f.mailbox.Poll(context.Background(), "slave-1", 0, false)
	if commands[0].Volume != 0.5 {
		t.Fatalf("expected proportional partial close, got %f", commands[0].Volume)
	}
}

func TestProcessSignalModifySkippedWithoutPSLCopy(t *testing.T) {
	f := newEngineFixture(t)
	f.addAccount(t, "master-1", masterSpecs())
	f.addAccount(t, "slave-1", goldSpecs(100))
	f.addPairing(t, "master-1", "slave-1", "key-1", nil)

	tp := 2400.0
	signal := &domain.Signal{
		Account:    "master-1",
		Event:      "position_modify",
		Symbol:     "XAUUSDm",
		OrderID:    "12345",
		TakeProfit: &tp,
	}

	result, err := f.engine.ProcessSignal(context.Background(), "key-1", signal)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Skipped != 1 || result.Outcomes[0].Reason != "psl_copy_disabled" {
		t.Fatalf("expected psl_copy_disabled skip, got %+v", result.Outcomes[0])
	}
}

func TestProcessSignalModifyDispatchesWithPSLCopy(t *testing.T) {
	f := newEngineFixture(t)
	f.addAccount(t, "master-1", masterSpecs())
	f.addAccount(t, "slave-1", goldSpecs(100))

	settings := domain.DefaultPairingSettings()
	settings.CopyStopTake = true
	f.addPairing(t, "master-1", "slave-1", "key-1", settings)

	tp := 2400.0
	sl := 2300.0
	signal := &domain.Signal{
		Account:    "master-1",
		Event:      "position_modify",
		Symbol:     "XAUUSDm",
		OrderID:    "12345",
		TakeProfit: &tp,
		StopLoss:   &sl,
	}

	result, err := f.engine.ProcessSignal(context.Background(), "key-1", signal)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Dispatched != 1 {
		t.Fatalf("expected dispatch, got %+v", result)
	}

	commands := f.mailbox.Poll(context.Background(), "slave-1", 0, false)
	command := commands[0]
	if command.Action != domain.ActionModifyPosition {
		t.Fatalf("expected modify_position, got %q", command.Action)
	}
	if command.TakeProfit == nil || *command.TakeProfit != tp {
		t.Fatalf("expected take profit copied, got %v", command.TakeProfit)
	}
	if command.StopLoss == nil || *command.StopLoss != sl {
		t.Fatalf("expected stop loss copied, got %v", command.StopLoss)
	}
}

func TestProcessSignalModifySkippedWithoutOrderID(t *testing.T) {
	f := newEngineFixture(t)
	f.addAccount(t, "master-1", masterSpecs())
	f.addAccount(t, "slave-1", goldSpecs(100))

	settings := domain.DefaultPairingSettings()
	settings.CopyStopTake = true
	f.addPairing(t, "master-1", "slave-1", "key-1", settings)

	signal := &domain.Signal{
		Account: "master-1",
		Event:   "modify",
		Symbol:  "XAUUSDm",
	}

	result, err := f.engine.ProcessSignal(context.Background(), "key-1", signal)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Skipped != 1 || result.Outcomes[0].Reason != "no_order_id" {
		t.Fatalf("expected no_order_id skip, got %+v", result.Outcomes[0])
	}
}

func TestProcessSignalOpenWithoutTPSLByDefault(t *testing.T) {
	f := newEngineFixture(t)
	f.addAccount(t, "master-1", masterSpecs())
	f.addAccount(t, "slave-1", goldSpecs(100))
	f.addPairing(t, "master-1", "slave-1", "key-1", nil)

	tp := 2400.0
	signal := openSignal("master-1")
	signal.TakeProfit = &tp

	if _, err := f.engine.ProcessSignal(context.Background(), "key-1", signal); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	commands := f.mailbox.Poll(context.Background(), "slave-1", 0, false)
	if commands[0].TakeProfit != nil {
		t.Fatal("TP/SL must not propagate when copy is disabled")
	}
}

func TestProcessSignalSlaveWithoutCatalogDispatches(t *testing.T) {
	f := newEngineFixture(t)
	f.addAccount(t, "master-1", masterSpecs())

	// slave registrado y activado, pero sin catálogo en memoria: la
	// disponibilidad no se verifica y el símbolo resuelve por alias base
	if _, err := f.registry.Register(context.Background(), "slave-1", ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := f.registry.MarkCatalogReceived(context.Background(), "slave-1", ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f.addPairing(t, "master-1", "slave-1", "key-1", nil)

	result, err := f.engine.ProcessSignal(context.Background(), "key-1", openSignal("master-1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Success || result.Dispatched != 1 {
		t.Fatalf("expected dispatch, got %+v", result)
	}

	commands := f.mailbox.Poll(context.Background(), "slave-1", 0, false)
	if len(commands) != 1 {
		t.Fatalf("expected 1 command, got %d", len(commands))
	}
	if commands[0].Symbol != "XAUUSD" || commands[0].Volume != 1.0 {
		t.Fatalf("unexpected command: %+v", commands[0])
	}
}

func TestProcessSignalPartialCloseFixedMode(t *testing.T) {
	f := newEngineFixture(t)
	f.addAccount(t, "master-1", masterSpecs())
	f.addAccount(t, "slave-1", goldSpecs(100))

	settings := domain.DefaultPairingSettings()
	settings.VolumeMode = domain.VolumeModeFixed
	settings.Multiplier = 2.0
	f.addPairing(t, "master-1", "slave-1", "key-1", settings)

	signal := &domain.Signal{
		Account: "master-1",
		Event:   "deal_close",
		Symbol:  "XAUUSDm",
		Volume:  0.5,
		OrderID: "12345",
	}

	if _, err := f.engine.ProcessSignal(context.Background(), "key-1", signal); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// El cierre parcial escala con el volumen señalado, no con el lote
	// fijo configurado
	commands := f.mailbox.Poll(context.Background(), "slave-1", 0, false)
	if commands[0].Volume != 0.5 {
		t.Fatalf("expected proportional partial close 0.5, got %f", commands[0].Volume)
	}
}

func TestProcessSignalRecordsPairingExclusions(t *testing.T) {
	f := newEngineFixture(t)
	f.addAccount(t, "master-1", masterSpecs())
	f.addAccount(t, "master-2", masterSpecs())
	f.addAccount(t, "slave-1", goldSpecs(100))
	f.addAccount(t, "slave-2", goldSpecs(100))
	f.addAccount(t, "slave-3", goldSpecs(100))

	f.addPairing(t, "master-1", "slave-1", "key-1", nil)
	err := f.directory.Upsert(context.Background(), &domain.Pairing{
		MasterAccount:   "master-1",
		SlaveAccount:    "slave-2",
		SubscriptionKey: "key-1",
		Status:          domain.PairingInactive,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f.addPairing(t, "master-2", "slave-3", "key-1", nil)

	result, err := f.engine.ProcessSignal(context.Background(), "key-1", openSignal("master-1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Cada pairing excluido deja un outcome con su razón, nada se
	// descarta en silencio
	if result.Dispatched != 1 || result.Skipped != 2 {
		t.Fatalf("unexpected counts: %+v", result)
	}
	reasons := make(map[string]string, len(result.Outcomes))
	for _, outcome := range result.Outcomes {
		reasons[outcome.SlaveAccount] = outcome.Reason
	}
	if reasons["slave-2"] != "pairing_inactive" {
		t.Fatalf("expected pairing_inactive for slave-2, got %q", reasons["slave-2"])
	}
	if reasons["slave-3"] != "master_mismatch" {
		t.Fatalf("expected master_mismatch for slave-3, got %q", reasons["slave-3"])
	}
}

func TestEngineStopDuringSignalBurst(t *testing.T) {
	f := newEngineFixture(t)
	f.addAccount(t, "master-1", masterSpecs())
	f.addAccount(t, "slave-1", goldSpecs(100))
	f.addPairing(t, "master-1", "slave-1", "key-1", nil)

	f.engine.Start()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				_, _ = f.engine.ProcessSignal(context.Background(), "key-1", openSignal("master-1"))
			}
		}()
	}

	// Stop concurrente con señales en vuelo: no debe haber panic por
	// envío a canal cerrado
	f.engine.Stop()
	wg.Wait()
}
