package domain

// VolumeMode define cómo se calcula el volumen del slave.
type VolumeMode string

// Modos de volumen soportados.
const (
	VolumeModeFixed    VolumeMode = "fixed"    // multiplier es el lote absoluto
	VolumeModePercent  VolumeMode = "percent"  // proporcional al ratio de balances
	VolumeModeMultiply VolumeMode = "multiply" // volumen master × multiplier
)

// MinVolumeStrategy define qué hacer cuando el volumen calculado queda
// por debajo del mínimo del símbolo en el slave.
type MinVolumeStrategy string

// Estrategias de volumen mínimo.
const (
	MinVolumeClamp MinVolumeStrategy = "clamp" // elevar al mínimo y avisar
	MinVolumeSkip  MinVolumeStrategy = "skip"  // excluir al slave
)

// PairingSettings son los settings de copiado de un pairing, ya
// normalizados a su forma canónica.
//
// La configuración persistida acepta claves snake_case y camelCase
// indistintamente (auto_map_symbol / autoMapSymbol); la normalización
// ocurre una sola vez en ParsePairingSettings y el resto del sistema
// sólo ve esta struct.
type PairingSettings struct {
	AutoMapSymbol     bool              `json:"auto_map_symbol"`
	AutoMapVolume     bool              `json:"auto_map_volume"`
	CopyStopTake      bool              `json:"copy_psl"`
	VolumeMode        VolumeMode        `json:"volume_mode"`
	Multiplier        float64           `json:"multiplier"`
	MinVolumeStrategy MinVolumeStrategy `json:"min_volume_strategy"`
}

// DefaultPairingSettings retorna los settings por defecto de un pairing.
func DefaultPairingSettings() *PairingSettings {
	return &PairingSettings{
		AutoMapSymbol:     true,
		AutoMapVolume:     true,
		CopyStopTake:      false,
		VolumeMode:        VolumeModeMultiply,
		Multiplier:        1.0,
		MinVolumeStrategy: MinVolumeClamp,
	}
}

// ParsePairingSettings normaliza un mapa de settings crudo (tal como se
// persiste) a la forma canónica. Para cada campo gana la primera clave
// presente; las ausentes toman el default.
func ParsePairingSettings(raw map[string]interface{}) *PairingSettings {
	s := DefaultPairingSettings()
	if raw == nil {
		return s
	}

	s.AutoMapSymbol = boolField(raw, s.AutoMapSymbol, "auto_map_symbol", "autoMapSymbol")
	s.AutoMapVolume = boolField(raw, s.AutoMapVolume, "auto_map_volume", "autoMapVolume")
	s.CopyStopTake = boolField(raw, s.CopyStopTake, "copy_psl", "copyPSL")
	s.Multiplier = floatField(raw, s.Multiplier, "multiplier")

	if mode := stringField(raw, "", "volume_mode", "volumeMode"); mode != "" {
		switch VolumeMode(mode) {
		case VolumeModeFixed, VolumeModePercent, VolumeModeMultiply:
			s.VolumeMode = VolumeMode(mode)
		}
	}
	if strat := stringField(raw, "", "min_volume_strategy", "minVolumeStrategy"); strat != "" {
		switch MinVolumeStrategy(strat) {
		case MinVolumeClamp, MinVolumeSkip:
			s.MinVolumeStrategy = MinVolumeStrategy(strat)
		}
	}

	return s
}

// ---------- Helpers de extracción ----------

func boolField(raw map[string]interface{}, def bool, keys ...string) bool {
	for _, k := range keys {
		if v, ok := raw[k]; ok {
			if b, ok := v.(bool); ok {
				return b
			}
		}
	}
	return def
}

func floatField(raw map[string]interface{}, def float64, keys ...string) float64 {
	for _, k := range keys {
		if v, ok := raw[k]; ok {
			switch n := v.(type) {
			case float64:
				return n
			case int:
				return float64(n)
			case int64:
				return float64(n)
			}
		}
	}
	return def
}

func stringField(raw map[string]interface{}, def string, keys ...string) string {
	for _, k := range keys {
		if v, ok := raw[k]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	return def
}
