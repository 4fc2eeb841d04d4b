// Package domain define los tipos centrales de Relay: señales, comandos,
// pairings, cuentas, especificaciones de símbolos y el modelo de errores
// compartido por todos los componentes.
package domain
