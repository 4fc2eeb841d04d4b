// Package utils provee utilidades comunes para Relay:
// generación de IDs (UUIDv7), helpers de timestamps y JSON.
package utils
