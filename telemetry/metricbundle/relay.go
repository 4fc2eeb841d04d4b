package metricbundle

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// RelayMetrics bundle de métricas para el núcleo de Relay.
//
// Cubre el funnel completo de una señal:
// - Señales recibidas/rechazadas
// - Comandos creados/encolados/entregados/expirados
// - Lookups de símbolos (hit/miss)
// - Transiciones de estado de cuentas
//
// # Métricas de Conteo
//
//   - relay.signal.received: señales aceptadas para procesamiento
//   - relay.signal.rejected: señales rechazadas antes del fan-out
//   - relay.command.created: comandos construidos por el engine
//   - relay.command.enqueued: comandos encolados en mailboxes
//   - relay.command.polled: comandos entregados vía poll
//   - relay.command.acked: comandos confirmados (ack)
//   - relay.command.expired: comandos purgados por edad
//   - relay.command.evicted: comandos desalojados por overflow
//   - relay.slave.skipped: pairings excluidos del fan-out (con razón)
//   - relay.symbol.lookup: resoluciones de símbolo (hit/miss)
//   - relay.account.transition: transiciones de estado de cuentas
//
// # Métricas de Latencia
//
//   - relay.latency.process: procesamiento de una señal (fan-out completo)
//   - relay.latency.poll: atención de un poll de terminal
//   - relay.fanout.size: pairings evaluados por señal
//
// # Uso
//
//	metrics, _ := metricbundle.NewRelayMetrics(client.Meter())
//
//	metrics.RecordSignalReceived(ctx,
//	    attribute.String("relay.master_account", "111111"),
//	    attribute.String("relay.symbol", "XAUUSD"),
//	)
type RelayMetrics struct {
	// Counters
	SignalReceived    metric.Int64Counter
	SignalRejected    metric.Int64Counter
	CommandCreated    metric.Int64Counter
	CommandEnqueued   metric.Int64Counter
	CommandPolled     metric.Int64Counter
	CommandAcked      metric.Int64Counter
	CommandExpired    metric.Int64Counter
	CommandEvicted    metric.Int64Counter
	SlaveSkipped      metric.Int64Counter
	SymbolLookup      metric.Int64Counter
	AccountTransition metric.Int64Counter

	// Histograms
	LatencyProcess metric.Float64Histogram
	LatencyPoll    metric.Float64Histogram
	FanoutSize     metric.Float64Histogram
}

// NewRelayMetrics crea un nuevo bundle de métricas Relay.
func NewRelayMetrics(meter metric.Meter) (*RelayMetrics, error) {
	signalReceived, err := meter.Int64Counter(
		"relay.signal.received",
		metric.WithDescription("Señales aceptadas para procesamiento"),
		metric.WithUnit("{signal}"),
	)
	if err != nil {
		return nil, err
	}

	signalRejected, err := meter.Int64Counter(
		"relay.signal.rejected",
		metric.WithDescription("Señales rechazadas antes del fan-out"),
		metric.WithUnit("{signal}"),
	)
	if err != nil {
		return nil, err
	}

	commandCreated, err := meter.Int64Counter(
		"relay.command.created",
		metric.WithDescription("Comandos construidos por el engine"),
		metric.WithUnit("{command}"),
	)
	if err != nil {
		return nil, err
	}

	commandEnqueued, err := meter.Int64Counter(
		"relay.command.enqueued",
		metric.WithDescription("Comandos encolados en mailboxes de slaves"),
		metric.WithUnit("{command}"),
	)
	if err != nil {
		return nil, err
	}

	commandPolled, err := meter.Int64Counter(
		"relay.command.polled",
		metric.WithDescription("Comandos entregados a terminales vía poll"),
		metric.WithUnit("{command}"),
	)
	if err != nil {
		return nil, err
	}

	commandAcked, err := meter.Int64Counter(
		"relay.command.acked",
		metric.WithDescription("Comandos confirmados por terminales"),
		metric.WithUnit("{command}"),
	)
	if err != nil {
		return nil, err
	}

	commandExpired, err := meter.Int64Counter(
		"relay.command.expired",
		metric.WithDescription("Comandos purgados por exceder la edad máxima"),
		metric.WithUnit("{command}"),
	)
	if err != nil {
		return nil, err
	}

	commandEvicted, err := meter.Int64Counter(
		"relay.command.evicted",
		metric.WithDescription("Comandos desalojados por overflow del mailbox"),
		metric.WithUnit("{command}"),
	)
	if err != nil {
		return nil, err
	}

	slaveSkipped, err := meter.Int64Counter(
		"relay.slave.skipped",
		metric.WithDescription("Pairings excluidos del fan-out, etiquetados por razón"),
		metric.WithUnit("{pairing}"),
	)
	if err != nil {
		return nil, err
	}

	symbolLookup, err := meter.Int64Counter(
		"relay.symbol.lookup",
		metric.WithDescription("Resoluciones de símbolo (hit/miss por etapa)"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		return nil, err
	}

	accountTransition, err := meter.Int64Counter(
		"relay.account.transition",
		metric.WithDescription("Transiciones de estado de cuentas"),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		return nil, err
	}

	latencyProcess, err := meter.Float64Histogram(
		"relay.latency.process",
		metric.WithDescription("Latencia de procesamiento de una señal (ms)"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	latencyPoll, err := meter.Float64Histogram(
		"relay.latency.poll",
		metric.WithDescription("Latencia de atención de un poll (ms)"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	fanoutSize, err := meter.Float64Histogram(
		"relay.fanout.size",
		metric.WithDescription("Pairings evaluados por señal"),
		metric.WithUnit("{pairing}"),
	)
	if err != nil {
		return nil, err
	}

	return &RelayMetrics{
		SignalReceived:    signalReceived,
		SignalRejected:    signalRejected,
		CommandCreated:    commandCreated,
		CommandEnqueued:   commandEnqueued,
		CommandPolled:     commandPolled,
		CommandAcked:      commandAcked,
		CommandExpired:    commandExpired,
		CommandEvicted:    commandEvicted,
		SlaveSkipped:      slaveSkipped,
		SymbolLookup:      symbolLookup,
		AccountTransition: accountTransition,
		LatencyProcess:    latencyProcess,
		LatencyPoll:       latencyPoll,
		FanoutSize:        fanoutSize,
	}, nil
}

// RecordSignalReceived registra una señal aceptada.
func (m *RelayMetrics) RecordSignalReceived(ctx context.Context, attrs ...attribute.KeyValue) {
	m.SignalReceived.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordSignalRejected registra una señal rechazada antes del fan-out.
func (m *RelayMetrics) RecordSignalRejected(ctx context.Context, reason string, attrs ...attribute.KeyValue) {
	attrs = append(attrs, attribute.String("reason", reason))
	m.SignalRejected.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordCommandCreated registra un comando construido.
func (m *RelayMetrics) RecordCommandCreated(ctx context.Context, attrs ...attribute.KeyValue) {
	m.CommandCreated.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordCommandEnqueued registra un comando encolado.
func (m *RelayMetrics) RecordCommandEnqueued(ctx context.Context, attrs ...attribute.KeyValue) {
	m.CommandEnqueued.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordCommandPolled registra comandos entregados en un poll.
func (m *RelayMetrics) RecordCommandPolled(ctx context.Context, count int, attrs ...attribute.KeyValue) {
	m.CommandPolled.Add(ctx, int64(count), metric.WithAttributes(attrs...))
}

// RecordCommandAcked registra un comando confirmado.
func (m *RelayMetrics) RecordCommandAcked(ctx context.Context, attrs ...attribute.KeyValue) {
	m.CommandAcked.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordCommandExpired registra comandos purgados por edad.
func (m *RelayMetrics) RecordCommandExpired(ctx context.Context, count int, attrs ...attribute.KeyValue) {
	m.CommandExpired.Add(ctx, int64(count), metric.WithAttributes(attrs...))
}

// RecordCommandEvicted registra un comando desalojado por overflow.
func (m *RelayMetrics) RecordCommandEvicted(ctx context.Context, attrs ...attribute.KeyValue) {
	m.CommandEvicted.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordSlaveSkipped registra un pairing excluido con su razón.
func (m *RelayMetrics) RecordSlaveSkipped(ctx context.Context, reason string, attrs ...attribute.KeyValue) {
	attrs = append(attrs, attribute.String("reason", reason))
	m.SlaveSkipped.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordSymbolLookup registra una resolución de símbolo.
func (m *RelayMetrics) RecordSymbolLookup(ctx context.Context, result string, attrs ...attribute.KeyValue) {
	attrs = append(attrs, attribute.String("result", result))
	m.SymbolLookup.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordAccountTransition registra una transición de estado de cuenta.
func (m *RelayMetrics) RecordAccountTransition(ctx context.Context, from, to string, attrs ...attribute.KeyValue) {
	attrs = append(attrs,
		attribute.String("from", from),
		attribute.String("to", to),
	)
	m.AccountTransition.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordLatencyProcess registra la latencia de procesamiento de una señal.
func (m *RelayMetrics) RecordLatencyProcess(ctx context.Context, latencyMs float64, attrs ...attribute.KeyValue) {
	m.LatencyProcess.Record(ctx, latencyMs, metric.WithAttributes(attrs...))
}

// RecordLatencyPoll registra la latencia de un poll.
func (m *RelayMetrics) RecordLatencyPoll(ctx context.Context, latencyMs float64, attrs ...attribute.KeyValue) {
	m.LatencyPoll.Record(ctx, latencyMs, metric.WithAttributes(attrs...))
}

// RecordFanoutSize registra el número de pairings evaluados por una señal.
func (m *RelayMetrics) RecordFanoutSize(ctx context.Context, size int, attrs ...attribute.KeyValue) {
	m.FanoutSize.Record(ctx, float64(size), metric.WithAttributes(attrs...))
}
