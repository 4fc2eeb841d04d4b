package domain

import "math"

const floatTolerance = 1e-9

// ComputeVolume calcula el volumen a copiar al slave según el modo
// configurado en el pairing.
//
//   - fixed: multiplier es el lote absoluto; el volumen del master se ignora.
//   - multiply: volumen master × multiplier, con corrección por contract
//     size cuando auto_map_volume está activo y ambos contract sizes se
//     conocen y difieren.
//   - percent: volumen master × (balance slave / balance master) × multiplier.
//     Si falta alguno de los balances degrada al producto de multiply.
//
// Retorna el volumen y un flag de degradación (true cuando percent cayó
// al cálculo de multiply por balances ausentes).
func ComputeVolume(settings *PairingSettings, masterVolume float64, masterSpec, slaveSpec *SymbolSpec, masterBalance, slaveBalance float64) (float64, bool) {
	if settings == nil {
		settings = DefaultPairingSettings()
	}

	switch settings.VolumeMode {
	case VolumeModeFixed:
		return settings.Multiplier, false

	case VolumeModePercent:
		if masterBalance > 0 && slaveBalance > 0 {
			return masterVolume * (slaveBalance / masterBalance) * settings.Multiplier, false
		}
		return multiplyVolume(settings, masterVolume, masterSpec, slaveSpec), true

	default: // multiply
		return multiplyVolume(settings, masterVolume, masterSpec, slaveSpec), false
	}
}

// multiplyVolume aplica el modo multiply: volumen master × multiplier con
// corrección por contract size cuando corresponde.
func multiplyVolume(settings *PairingSettings, masterVolume float64, masterSpec, slaveSpec *SymbolSpec) float64 {
	volume := masterVolume * settings.Multiplier

	if settings.AutoMapVolume && masterSpec != nil && slaveSpec != nil {
		mc := masterSpec.ContractSize
		sc := slaveSpec.ContractSize
		if mc > 0 && sc > 0 && !almostEqual(mc, sc) {
			volume *= mc / sc
		}
	}

	return volume
}

// ClampVolume valida un volumen contra la especificación del símbolo y
// retorna el valor clamped.
//
// Si el volumen ya es válido se retorna sin modificar y error nil. Cuando
// el valor se clampa por mínimos/máximos o por step inválido, retorna el
// valor ajustado junto a un ValidationError que describe la causa. Si la
// especificación es inválida se retorna un error fatal (ErrSpecMissing).
func ClampVolume(spec *SymbolSpec, lot float64) (float64, error) {
	if spec == nil {
		return 0, NewError(ErrSpecMissing, "symbol spec is nil")
	}

	if spec.VolumeMin <= 0 {
		return 0, NewValidationError("volume_min", spec.VolumeMin, "volume_min must be > 0")
	}
	if spec.VolumeMax <= 0 {
		return 0, NewValidationError("volume_max", spec.VolumeMax, "volume_max must be > 0")
	}
	if spec.VolumeStep <= 0 {
		return 0, NewValidationError("volume_step", spec.VolumeStep, "volume_step must be > 0")
	}

	min := spec.VolumeMin
	max := spec.VolumeMax
	step := spec.VolumeStep

	if min > max {
		return 0, NewValidationError("volume_min", min, "volume_min cannot exceed volume_max")
	}

	original := lot
	if lot <= 0 {
		lot = min
	}

	// Clamp por límites
	var validationErr error
	if lot < min {
		validationErr = NewValidationError("volume", original, "volume below minimum")
		lot = min
	}
	if lot > max {
		validationErr = NewValidationError("volume", original, "volume above maximum")
		lot = max
	}

	// Ajustar al múltiplo más cercano del step
	normalized := normalizeToStep(lot, step)
	if normalized < min-floatTolerance {
		normalized = min
	}
	if normalized > max+floatTolerance {
		normalized = max
	}

	if !almostEqual(normalized, lot) && validationErr == nil {
		validationErr = NewValidationError("volume", original, "volume not aligned to volume_step")
	}

	// Si el valor original era válido no retornamos error
	if validationErr == nil && !almostEqual(original, normalized) {
		validationErr = NewValidationError("volume", original, "volume clamped to spec")
	}

	return normalized, validationErr
}

func normalizeToStep(value, step float64) float64 {
	if step <= 0 {
		return value
	}
	quotient := math.Round(value / step)
	return quotient * step
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) <= floatTolerance
}
