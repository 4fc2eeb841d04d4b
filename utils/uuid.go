package utils

import (
	"fmt"

	"github.com/google/uuid"
)

// GenerateUUIDv7 genera un UUID v7 (ordenable por tiempo).
//
// UUIDv7 usa los primeros 48 bits para timestamp Unix ms, seguido de
// bits random, permitiendo orden cronológico en índices y journals.
//
// Example:
//
//	id, err := utils.GenerateUUIDv7()
//	// => "01945c3e-9f2a-7abc-8def-123456789abc"
func GenerateUUIDv7() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("failed to generate uuid v7: %w", err)
	}
	return id.String(), nil
}

// MustGenerateUUIDv7 es igual que GenerateUUIDv7 pero entra en pánico en
// caso de error. Útil donde quedarse sin entropía es catastrófico.
func MustGenerateUUIDv7() string {
	id, err := GenerateUUIDv7()
	if err != nil {
		panic(err)
	}
	return id
}
