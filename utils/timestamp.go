package utils

import (
	"time"
)

// NowUnixMilli retorna el timestamp actual en milisegundos desde Unix epoch.
//
// Example:
//
//	ts := utils.NowUnixMilli()
//	// => 1698345601234
func NowUnixMilli() int64 {
	return time.Now().UnixMilli()
}

// UnixMilliToTime convierte un timestamp Unix en milisegundos a time.Time.
func UnixMilliToTime(ms int64) time.Time {
	return time.UnixMilli(ms)
}

// TimeToUnixMilli convierte un time.Time a timestamp Unix en milisegundos.
func TimeToUnixMilli(t time.Time) int64 {
	return t.UnixMilli()
}

// ElapsedMs calcula los milisegundos transcurridos desde un timestamp dado.
//
// Example:
//
//	start := utils.NowUnixMilli()
//	// ... operación ...
//	elapsed := utils.ElapsedMs(start)
//	// => 45 (ms)
func ElapsedMs(startMs int64) int64 {
	return NowUnixMilli() - startMs
}

// ElapsedMsSince calcula los milisegundos transcurridos desde un time.Time dado.
func ElapsedMsSince(start time.Time) int64 {
	return time.Since(start).Milliseconds()
}
