package metricbundle

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// BaseMetrics contiene contadores e histogramas comunes a todos los bundles.
// Proporciona funcionalidad base para registrar resultados y duraciones de
// operaciones de una entidad concreta.
type BaseMetrics struct {
	// entity representa el tipo de entidad que este bundle monitorea (signal, command, etc.).
	entity string

	// namespace es el prefijo principal de todas las métricas (e.g., "relay").
	namespace string

	// ResultCounter contabiliza los resultados de operaciones (éxitos, fallos, etc.).
	ResultCounter metric.Int64Counter

	// DurationHistogram mide la distribución de tiempos de ejecución en segundos.
	DurationHistogram metric.Float64Histogram
}

// NewBaseMetrics crea una nueva instancia de BaseMetrics con los instrumentos básicos.
//
// Parámetros:
//   - meter: meter OTEL para crear instrumentos
//   - namespace: espacio de nombres para agrupar métricas (ej. "relay")
//   - entity: tipo de entidad que este bundle monitorea (ej. "signal", "mailbox")
func NewBaseMetrics(meter metric.Meter, namespace, entity string) (*BaseMetrics, error) {
	resultCounter, err := meter.Int64Counter(
		MetricName(namespace, entity, "result"),
		metric.WithDescription("Results of operations for "+entity+" labeled by status, service, etc."),
	)
	if err != nil {
		return nil, err
	}

	durationHistogram, err := meter.Float64Histogram(
		MetricName(namespace, entity, "duration"),
		metric.WithDescription("Duration of operations for "+entity+" in seconds."),
	)
	if err != nil {
		return nil, err
	}

	return &BaseMetrics{
		entity:            entity,
		namespace:         namespace,
		ResultCounter:     resultCounter,
		DurationHistogram: durationHistogram,
	}, nil
}

// RecordResult incrementa el contador de resultados para un evento específico.
//
// Atributos comunes a incluir:
//   - semconv.Metrics.Status.String("success"/"error")
//   - semconv.Metrics.Service.String("nombre-servicio")
func (bm *BaseMetrics) RecordResult(ctx context.Context, attrs ...attribute.KeyValue) {
	bm.ResultCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// StartDurationTimer mide la duración de una operación y retorna una función
// que debe llamarse al finalizar para registrar el tiempo transcurrido.
//
// Ejemplo de uso:
//
//	done := metrics.StartDurationTimer(ctx,
//	    semconv.Metrics.Action.String("process_signal"),
//	)
//	// Realizar operación...
//	done()
func (bm *BaseMetrics) StartDurationTimer(ctx context.Context, attrs ...attribute.KeyValue) func() {
	start := time.Now()
	return func() {
		duration := time.Since(start).Seconds()
		bm.DurationHistogram.Record(ctx, duration, metric.WithAttributes(attrs...))
	}
}

// MetricName genera un nombre de métrica con formato estándar
// <namespace>.<entity>.<metric_type>. Debe usarse para mantener la
// consistencia en los nombres de todas las métricas.
func MetricName(namespace, entity string, metricType string) string {
	return strings.Join([]string{namespace, entity, metricType}, ".")
}
