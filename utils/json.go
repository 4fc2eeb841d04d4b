package utils

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ValidateJSON verifica si los datos son JSON válido.
func ValidateJSON(data []byte) error {
	var js interface{}
	return json.Unmarshal(data, &js)
}

// PrettyPrint formatea JSON con indentación para debugging.
func PrettyPrint(data []byte) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		return string(data) // Retornar original si falla
	}
	return buf.String()
}

// JSONToMap convierte JSON a map[string]interface{}.
//
// Útil para parsing de payloads JSON dinámicos (settings, señales).
func JSONToMap(data []byte) (map[string]interface{}, error) {
	var result map[string]interface{}
	err := json.Unmarshal(data, &result)
	return result, err
}

// MapToJSON convierte un map a JSON.
func MapToJSON(m map[string]interface{}) ([]byte, error) {
	return json.Marshal(m)
}

// ToJSONString convierte cualquier valor a JSON string.
//
// En caso de error, retorna string vacío.
func ToJSONString(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}

// FromJSONString parsea un JSON string a un valor.
func FromJSONString(s string, v interface{}) error {
	return json.Unmarshal([]byte(s), v)
}

// MustMarshalJSON serializa a JSON o entra en pánico.
//
// Útil para casos donde el error es catastrófico.
func MustMarshalJSON(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("MustMarshalJSON: %v", err))
	}
	return data
}
