package internal

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/xKoRx/relay/domain"
	"github.com/xKoRx/relay/telemetry"
	"github.com/xKoRx/relay/telemetry/metricbundle"
	"github.com/xKoRx/relay/telemetry/semconv"
	"github.com/xKoRx/relay/utils"
)

// Engine ejecuta el fan-out de señales: valida al master, busca los
// pairings de la subscription key, traduce símbolo y volumen por slave y
// encola un comando en cada mailbox elegible.
//
// Aislamiento por pairing: el fallo de un slave nunca afecta a los demás.
// Cada (señal, slave) produce un DispatchOutcome que se persiste async
// como journal de auditoría.
type Engine struct {
	directory  *PairingDirectory
	registry   *AccountRegistry
	catalog    *BrokerCatalog
	translator *Translator
	mailbox    *Mailbox

	outcomes    domain.OutcomeRepository
	outcomeChan chan *domain.DispatchOutcome

	telemetry *telemetry.Client
	metrics   *metricbundle.RelayMetrics

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewEngine crea el engine de fan-out.
func NewEngine(ctx context.Context, directory *PairingDirectory, registry *AccountRegistry, catalog *BrokerCatalog, translator *Translator, mailbox *Mailbox, outcomes domain.OutcomeRepository, tel *telemetry.Client, metrics *metricbundle.RelayMetrics) *Engine {
	engineCtx, cancel := context.WithCancel(ctx)

	return &Engine{
		directory:   directory,
		registry:    registry,
		catalog:     catalog,
		translator:  translator,
		mailbox:     mailbox,
		outcomes:    outcomes,
		outcomeChan: make(chan *domain.DispatchOutcome, 1000),
		telemetry:   tel,
		metrics:     metrics,
		ctx:         engineCtx,
		cancel:      cancel,
	}
}

// Start inicia el worker de persistencia del journal.
func (e *Engine) Start() {
	e.wg.Add(1)
	go e.outcomeWorker()
}

// Stop detiene el engine. El canal de outcomes nunca se cierra: los
// productores concurrentes seleccionan contra ctx.Done.
func (e *Engine) Stop() {
	e.cancel()
	e.wg.Wait()
}

// outcomeWorker persiste los resultados de despacho de forma async.
func (e *Engine) outcomeWorker() {
	defer e.wg.Done()

	for {
		select {
		case outcome := <-e.outcomeChan:
			if e.outcomes == nil {
				continue
			}
			if err := e.outcomes.Create(e.ctx, outcome); err != nil {
				e.telemetry.Error(e.ctx, "Failed to persist dispatch outcome", err,
					semconv.Relay.SignalID.String(outcome.SignalID),
					semconv.Relay.SlaveAccount.String(outcome.SlaveAccount),
				)
			}

		case <-e.ctx.Done():
			return
		}
	}
}

// ProcessSignal procesa una señal del master identificada por su
// subscription key y ejecuta el fan-out hacia los slaves emparejados.
//
// El resultado es exitoso si y sólo si al menos un comando se despachó.
// El rechazo del master (gate) o una subscription key sin pairings
// rechazan la señal completa. Los pairings inactivos o de otro master
// bajo la misma key quedan registrados como skipped con su razón.
func (e *Engine) ProcessSignal(ctx context.Context, subscriptionKey string, signal *domain.Signal) (*domain.ProcessResult, error) {
	timer := time.Now()

	if err := domain.ValidateSignal(signal); err != nil {
		e.metrics.RecordSignalRejected(ctx, "invalid_signal")
		return nil, err
	}
	if signal.SignalID == "" {
		signal.SignalID = utils.MustGenerateUUIDv7()
	}

	ctx, span := e.telemetry.StartSpan(ctx, "engine.process_signal")
	defer span.End()
	e.telemetry.SetSpanAttributes(ctx,
		semconv.Relay.SignalID.String(signal.SignalID),
		semconv.Relay.MasterAccount.String(signal.Account),
		semconv.Relay.Symbol.String(signal.Symbol),
		semconv.Relay.Event.String(signal.Event),
	)

	e.metrics.RecordSignalReceived(ctx,
		semconv.Relay.MasterAccount.String(signal.Account),
		semconv.Relay.Event.String(signal.Event),
	)

	// Gate del master: rechaza la señal completa
	if ok, reason := e.registry.CanReceiveOrders(signal.Account); !ok {
		e.metrics.RecordSignalRejected(ctx, reason,
			semconv.Relay.MasterAccount.String(signal.Account),
		)
		e.telemetry.Warn(ctx, "Signal rejected, master not eligible",
			semconv.Relay.MasterAccount.String(signal.Account),
			semconv.Relay.Reason.String(reason),
		)
		return nil, domain.NewError(domain.ErrMasterNotEligible, fmt.Sprintf("master cannot emit signals: %s", reason)).
			WithDetail("account_id", signal.Account)
	}

	pairings := e.directory.FindBySubscriptionKey(ctx, subscriptionKey)
	if len(pairings) == 0 {
		e.metrics.RecordSignalRejected(ctx, "unknown_subscription_key")
		return nil, domain.NewError(domain.ErrUnknownSubscriptionKey, "no pairings for subscription key").
			WithDetail("subscription_key", subscriptionKey).
			WithDetail("master_account", signal.Account)
	}

	e.metrics.RecordFanoutSize(ctx, len(pairings),
		semconv.Relay.MasterAccount.String(signal.Account),
	)

	result := &domain.ProcessResult{}
	for _, pairing := range pairings {
		outcome := e.processPairing(ctx, signal, pairing)
		result.Outcomes = append(result.Outcomes, outcome)

		switch outcome.Status {
		case domain.OutcomeDispatched:
			result.Dispatched++
		case domain.OutcomeSkipped:
			result.Skipped++
			e.metrics.RecordSlaveSkipped(ctx, outcome.Reason,
				semconv.Relay.SlaveAccount.String(outcome.SlaveAccount),
			)
		case domain.OutcomeFailed:
			result.Failed++
		}

		e.recordOutcome(ctx, outcome)
	}
	result.Success = result.Dispatched > 0

	e.metrics.RecordLatencyProcess(ctx, float64(utils.ElapsedMsSince(timer)),
		semconv.Relay.MasterAccount.String(signal.Account),
	)
	e.telemetry.Info(ctx, "Signal processed",
		semconv.Relay.SignalID.String(signal.SignalID),
		semconv.Relay.MasterAccount.String(signal.Account),
		semconv.Relay.FanoutSize.Int(len(pairings)),
		semconv.Relay.Status.String(fmt.Sprintf("dispatched=%d skipped=%d failed=%d", result.Dispatched, result.Skipped, result.Failed)),
	)

	return result, nil
}

// processPairing procesa la señal para UN pairing. Nunca retorna error:
// todo problema queda capturado en el outcome.
func (e *Engine) processPairing(ctx context.Context, signal *domain.Signal, pairing *domain.Pairing) *domain.DispatchOutcome {
	outcome := &domain.DispatchOutcome{
		OutcomeID:     utils.MustGenerateUUIDv7(),
		SignalID:      signal.SignalID,
		MasterAccount: pairing.MasterAccount,
		SlaveAccount:  pairing.SlaveAccount,
		PairingID:     pairing.PairingID,
		CreatedAtMs:   utils.NowUnixMilli(),
	}

	// Exclusiones del directorio: con razón registrada, nunca silenciosas
	if pairing.MasterAccount != signal.Account {
		return skipped(outcome, "master_mismatch")
	}
	if pairing.Status != domain.PairingActive {
		return skipped(outcome, "pairing_inactive")
	}

	// Gate del slave
	if ok, reason := e.registry.CanReceiveOrders(pairing.SlaveAccount); !ok {
		return skipped(outcome, reason)
	}
	if !e.registry.IsOnline(pairing.SlaveAccount) {
		return skipped(outcome, "offline")
	}

	settings := pairing.Settings
	if settings == nil {
		settings = domain.DefaultPairingSettings()
	}

	command, skipReason, err := e.buildCommand(ctx, signal, pairing, settings)
	if err != nil {
		outcome.Status = domain.OutcomeFailed
		outcome.Reason = err.Error()
		outcome.ErrorCode = domain.CodeOf(err)
		e.telemetry.Warn(ctx, "Failed to build command for slave",
			semconv.Relay.SignalID.String(signal.SignalID),
			semconv.Relay.SlaveAccount.String(pairing.SlaveAccount),
			semconv.Relay.ErrorCode.String(string(outcome.ErrorCode)),
			semconv.Relay.Reason.String(err.Error()),
		)
		return outcome
	}
	if skipReason != "" {
		return skipped(outcome, skipReason)
	}

	e.metrics.RecordCommandCreated(ctx,
		semconv.Relay.SlaveAccount.String(pairing.SlaveAccount),
		semconv.Relay.Action.String(command.Action),
	)
	if err := e.mailbox.Enqueue(ctx, command); err != nil {
		outcome.Status = domain.OutcomeFailed
		outcome.Reason = err.Error()
		outcome.ErrorCode = domain.CodeOf(err)
		return outcome
	}

	outcome.Status = domain.OutcomeDispatched
	outcome.CommandID = command.CommandID
	outcome.Symbol = command.Symbol
	outcome.Volume = command.Volume
	return outcome
}

// buildCommand deriva el comando del slave a partir de la señal según su
// clase de evento. Un skipReason no vacío excluye al slave sin error.
func (e *Engine) buildCommand(ctx context.Context, signal *domain.Signal, pairing *domain.Pairing, settings *domain.PairingSettings) (*domain.Command, string, error) {
	switch signal.Kind() {
	case domain.EventKindOpen:
		return e.buildOpenCommand(ctx, signal, pairing, settings)
	case domain.EventKindClose:
		return e.buildCloseCommand(ctx, signal, pairing, settings)
	case domain.EventKindModify:
		return e.buildModifyCommand(ctx, signal, pairing, settings)
	default:
		return nil, "", domain.NewError(domain.ErrUnknownEvent, "unsupported event kind").
			WithDetail("event", signal.Event)
	}
}

func (e *Engine) buildOpenCommand(ctx context.Context, signal *domain.Signal, pairing *domain.Pairing, settings *domain.PairingSettings) (*domain.Command, string, error) {
	action := strings.ToLower(signal.Type)
	if action != domain.ActionBuy && action != domain.ActionSell {
		return nil, "", domain.NewError(domain.ErrInvalidSignal, "open signal requires direction BUY or SELL").
			WithDetail("type", signal.Type)
	}
	if signal.Volume <= 0 {
		return nil, "", domain.NewError(domain.ErrInvalidVolume, "open signal requires positive volume").
			WithDetail("volume", signal.Volume)
	}

	resolution, err := e.translator.TranslateSymbol(ctx, pairing.SlaveAccount, signal.Symbol)
	if err != nil {
		return nil, "", err
	}

	volume, err := e.translator.TranslateVolume(ctx, pairing.MasterAccount, pairing.SlaveAccount, signal.Symbol, resolution.Symbol, signal.Volume, settings)
	if err != nil {
		if domain.CodeOf(err) == domain.ErrVolumeTooSmall {
			return nil, "volume_too_small", nil
		}
		return nil, "", err
	}

	command := &domain.Command{
		CommandID:   utils.MustGenerateUUIDv7(),
		Account:     pairing.SlaveAccount,
		Action:      action,
		Symbol:      resolution.Symbol,
		Volume:      volume,
		OrderType:   "market",
		Comment:     copyComment(signal, pairing),
		CreatedAtMs: utils.NowUnixMilli(),
	}
	if settings.CopyStopTake {
		command.TakeProfit = signal.TakeProfit
		command.StopLoss = signal.StopLoss
	}
	return command, "", nil
}

func (e *Engine) buildCloseCommand(ctx context.Context, signal *domain.Signal, pairing *domain.Pairing, settings *domain.PairingSettings) (*domain.Command, string, error) {
	resolution, err := e.translator.TranslateSymbol(ctx, pairing.SlaveAccount, signal.Symbol)
	if err != nil {
		return nil, "", err
	}

	command := &domain.Command{
		CommandID:   utils.MustGenerateUUIDv7(),
		Account:     pairing.SlaveAccount,
		Symbol:      resolution.Symbol,
		CreatedAtMs: utils.NowUnixMilli(),
	}

	if signal.OrderID != "" {
		command.Action = domain.ActionCloseByComment
		command.Comment = copyComment(signal, pairing)
	} else {
		command.Action = domain.ActionClose
	}

	// Cierre parcial: siempre proporcional al volumen señalado. Un lote
	// fixed es absoluto y no expresa fracciones, así que el cierre escala
	// como multiply con multiplicador 1.
	if signal.Volume > 0 {
		closeSettings := settings
		if settings.VolumeMode == domain.VolumeModeFixed {
			adjusted := *settings
			adjusted.VolumeMode = domain.VolumeModeMultiply
			adjusted.Multiplier = 1.0
			closeSettings = &adjusted
		}
		volume, err := e.translator.TranslateVolume(ctx, pairing.MasterAccount, pairing.SlaveAccount, signal.Symbol, resolution.Symbol, signal.Volume, closeSettings)
		if err != nil {
			// Sin volumen traducible el cierre degrada a total
			e.telemetry.Warn(ctx, "Partial close degraded to full close",
				semconv.Relay.SlaveAccount.String(pairing.SlaveAccount),
				semconv.Relay.Symbol.String(resolution.Symbol),
				semconv.Relay.Reason.String(err.Error()),
			)
		} else {
			command.Volume = volume
		}
	}

	return command, "", nil
}

func (e *Engine) buildModifyCommand(ctx context.Context, signal *domain.Signal, pairing *domain.Pairing, settings *domain.PairingSettings) (*domain.Command, string, error) {
	if !settings.CopyStopTake {
		return nil, "psl_copy_disabled", nil
	}
	if signal.OrderID == "" {
		return nil, "no_order_id", nil
	}

	resolution, err := e.translator.TranslateSymbol(ctx, pairing.SlaveAccount, signal.Symbol)
	if err != nil {
		return nil, "", err
	}

	command := &domain.Command{
		CommandID:   utils.MustGenerateUUIDv7(),
		Account:     pairing.SlaveAccount,
		Action:      domain.ActionModifyPosition,
		Symbol:      resolution.Symbol,
		Comment:     copyComment(signal, pairing),
		TakeProfit:  signal.TakeProfit,
		StopLoss:    signal.StopLoss,
		CreatedAtMs: utils.NowUnixMilli(),
	}
	return command, "", nil
}

// copyComment construye el tag de correlación de un comando: permite al
// slave identificar qué posición corresponde a qué orden del master.
func copyComment(signal *domain.Signal, pairing *domain.Pairing) string {
	if signal.OrderID != "" {
		return fmt.Sprintf("COPY_%s", signal.OrderID)
	}
	return fmt.Sprintf("Copy from Master %s", pairing.MasterAccount)
}

// recordOutcome encola la persistencia async del outcome.
func (e *Engine) recordOutcome(ctx context.Context, outcome *domain.DispatchOutcome) {
	select {
	case e.outcomeChan <- outcome:
	case <-time.After(100 * time.Millisecond):
		e.telemetry.Warn(ctx, "Outcome channel full, dropping journal entry",
			semconv.Relay.SignalID.String(outcome.SignalID),
		)
	case <-e.ctx.Done():
	}
}

func skipped(outcome *domain.DispatchOutcome, reason string) *domain.DispatchOutcome {
	outcome.Status = domain.OutcomeSkipped
	outcome.Reason = reason
	return outcome
}
