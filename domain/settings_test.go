package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParsePairingSettings_Defaults(t *testing.T) {
	s := ParsePairingSettings(nil)

	assert.True(t, s.AutoMapSymbol)
	assert.True(t, s.AutoMapVolume)
	assert.False(t, s.CopyStopTake)
	assert.Equal(t, VolumeModeMultiply, s.VolumeMode)
	assert.InDelta(t, 1.0, s.Multiplier, floatTolerance)
	assert.Equal(t, MinVolumeClamp, s.MinVolumeStrategy)
}

func TestParsePairingSettings_SnakeCase(t *testing.T) {
	s := ParsePairingSettings(map[string]interface{}{
		"auto_map_symbol":     false,
		"auto_map_volume":     false,
		"copy_psl":            true,
		"volume_mode":         "fixed",
		"multiplier":          0.5,
		"min_volume_strategy": "skip",
	})

	assert.False(t, s.AutoMapSymbol)
	assert.False(t, s.AutoMapVolume)
	assert.True(t, s.CopyStopTake)
	assert.Equal(t, VolumeModeFixed, s.VolumeMode)
	assert.InDelta(t, 0.5, s.Multiplier, floatTolerance)
	assert.Equal(t, MinVolumeSkip, s.MinVolumeStrategy)
}

func TestParsePairingSettings_CamelCase(t *testing.T) {
	s := ParsePairingSettings(map[string]interface{}{
		"autoMapSymbol": false,
		"copyPSL":       true,
		"volumeMode":    "percent",
	})

	assert.False(t, s.AutoMapSymbol)
	assert.True(t, s.CopyStopTake)
	assert.Equal(t, VolumeModePercent, s.VolumeMode)
}

func TestParsePairingSettings_SnakeWinsOverCamel(t *testing.T) {
	s := ParsePairingSettings(map[string]interface{}{
		"auto_map_symbol": true,
		"autoMapSymbol":   false,
	})

	assert.True(t, s.AutoMapSymbol)
}

func TestParsePairingSettings_InvalidModeIgnored(t *testing.T) {
	s := ParsePairingSettings(map[string]interface{}{
		"volume_mode": "martingale",
	})

	assert.Equal(t, VolumeModeMultiply, s.VolumeMode)
}

func TestParsePairingSettings_IntMultiplier(t *testing.T) {
	s := ParsePairingSettings(map[string]interface{}{
		"multiplier": 2,
	})

	assert.InDelta(t, 2.0, s.Multiplier, floatTolerance)
}

func TestSignalKind(t *testing.T) {
	cases := []struct {
		event string
		kind  EventKind
	}{
		{"deal_add", EventKindOpen},
		{"order_add", EventKindOpen},
		{"deal_close", EventKindClose},
		{"position_close", EventKindClose},
		{"position_modify", EventKindModify},
		{"modify", EventKindModify},
		{"tick", EventKindUnknown},
	}

	for _, tc := range cases {
		s := &Signal{Event: tc.event}
		assert.Equal(t, tc.kind, s.Kind(), "event %s", tc.event)
	}
}
