// Package audio provides peak capture, level reduction and the audio
// sources that feed them.
package audio

import "math"

const (
	// SilenceDB is the reading for a window whose peak was exactly zero.
	SilenceDB = -1000.0
	// MinSignalDB is the floor for any non-zero peak. It sits above SilenceDB
	// so digital silence always compares below a real signal.
	MinSignalDB = -999.0
	// MaxSampleValue is the full-scale magnitude of 16-bit signed audio.
	MaxSampleValue = 32768.0
)

// ToDecibels converts a linear peak (1.0 = full scale) to dBFS.
// Zero, negative and NaN peaks map to SilenceDB.
func ToDecibels(linear float64) float64 {
	if !(linear > 0) {
		return SilenceDB
	}
	return max(20*math.Log10(linear), MinSignalDB)
}
