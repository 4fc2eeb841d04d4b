package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func spec(min, max, step float64) *SymbolSpec {
	return &SymbolSpec{Symbol: "XAUUSD", ContractSize: 100, VolumeMin: min, VolumeMax: max, VolumeStep: step}
}

func TestComputeVolume_Multiply(t *testing.T) {
	settings := &PairingSettings{VolumeMode: VolumeModeMultiply, Multiplier: 2.0}

	volume, degraded := ComputeVolume(settings, 0.5, nil, nil, 0, 0)

	assert.False(t, degraded)
	assert.InDelta(t, 1.0, volume, floatTolerance)
}

func TestComputeVolume_MultiplyContractCorrection(t *testing.T) {
	settings := &PairingSettings{VolumeMode: VolumeModeMultiply, Multiplier: 1.0, AutoMapVolume: true}
	master := &SymbolSpec{Symbol: "XAUUSD", ContractSize: 100}
	slave := &SymbolSpec{Symbol: "XAUUSD", ContractSize: 50}

	volume, degraded := ComputeVolume(settings, 1.0, master, slave, 0, 0)

	assert.False(t, degraded)
	assert.InDelta(t, 2.0, volume, floatTolerance)
}

func TestComputeVolume_MultiplyNoCorrectionWhenDisabled(t *testing.T) {
	settings := &PairingSettings{VolumeMode: VolumeModeMultiply, Multiplier: 1.0, AutoMapVolume: false}
	master := &SymbolSpec{Symbol: "XAUUSD", ContractSize: 100}
	slave := &SymbolSpec{Symbol: "XAUUSD", ContractSize: 50}

	volume, _ := ComputeVolume(settings, 1.0, master, slave, 0, 0)

	assert.InDelta(t, 1.0, volume, floatTolerance)
}

func TestComputeVolume_Fixed(t *testing.T) {
	settings := &PairingSettings{VolumeMode: VolumeModeFixed, Multiplier: 0.3}

	volume, degraded := ComputeVolume(settings, 5.0, nil, nil, 0, 0)

	assert.False(t, degraded)
	assert.InDelta(t, 0.3, volume, floatTolerance)
}

func TestComputeVolume_Percent(t *testing.T) {
	settings := &PairingSettings{VolumeMode: VolumeModePercent, Multiplier: 1.0}

	// Balance slave 500 sobre master 1000: la mitad del volumen.
	volume, degraded := ComputeVolume(settings, 1.0, nil, nil, 1000, 500)

	assert.False(t, degraded)
	assert.InDelta(t, 0.5, volume, floatTolerance)
}

func TestComputeVolume_PercentFallbackWithoutBalances(t *testing.T) {
	settings := &PairingSettings{VolumeMode: VolumeModePercent, Multiplier: 2.0}

	volume, degraded := ComputeVolume(settings, 0.5, nil, nil, 0, 500)

	assert.True(t, degraded)
	assert.InDelta(t, 1.0, volume, floatTolerance)
}

func TestClampVolume_ValidPassthrough(t *testing.T) {
	volume, err := ClampVolume(spec(0.01, 100, 0.01), 0.5)

	require.NoError(t, err)
	assert.InDelta(t, 0.5, volume, floatTolerance)
}

func TestClampVolume_BelowMinimum(t *testing.T) {
	volume, err := ClampVolume(spec(0.1, 100, 0.1), 0.03)

	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.InDelta(t, 0.1, volume, floatTolerance)
}

func TestClampVolume_AboveMaximum(t *testing.T) {
	volume, err := ClampVolume(spec(0.01, 5, 0.01), 7.5)

	require.Error(t, err)
	assert.InDelta(t, 5.0, volume, floatTolerance)
}

func TestClampVolume_StepAlignment(t *testing.T) {
	volume, err := ClampVolume(spec(0.01, 100, 0.1), 0.27)

	require.Error(t, err)
	assert.InDelta(t, 0.3, volume, floatTolerance)
}

func TestClampVolume_NilSpec(t *testing.T) {
	_, err := ClampVolume(nil, 1.0)

	require.Error(t, err)
	assert.Equal(t, ErrSpecMissing, CodeOf(err))
}

func TestClampVolume_InvalidSpec(t *testing.T) {
	_, err := ClampVolume(spec(0, 100, 0.01), 1.0)

	require.Error(t, err)
}
