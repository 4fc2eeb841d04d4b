// Package metricbundle agrupa instrumentos de métricas OpenTelemetry por
// dominio. Cada bundle crea sus contadores e histogramas una sola vez y
// expone helpers Record* para el hot-path.
package metricbundle
