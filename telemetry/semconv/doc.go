// Package semconv define convenciones semánticas de atributos para la
// telemetría de Relay. Centraliza las claves para que logs, métricas y
// trazas usen siempre los mismos nombres.
package semconv
