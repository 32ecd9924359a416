// Package audio captures PCM blocks from input devices and measures their level.
package audio

import "math"

const (
	// MinDB is the minimum dB level (silence).
	MinDB = -60.0
	// MaxSampleValue is the maximum absolute value for 16-bit signed audio.
	MaxSampleValue = 32768.0
)

// Measure computes the RMS level of a block.
// Empty blocks measure as level 0 and MinDB.
func Measure(b Block) Reading {
	r := Reading{DB: MinDB, Timestamp: b.Timestamp}
	if len(b.Samples) == 0 {
		return r
	}

	var sumSquares float64
	for _, s := range b.Samples {
		v := float64(s)
		sumSquares += v * v
	}

	r.Level = min(math.Sqrt(sumSquares/float64(len(b.Samples)))/MaxSampleValue, 1)
	r.DB = LevelToDB(r.Level)
	return r
}

// LevelToDB converts a normalized level to dB, floored at MinDB.
func LevelToDB(level float64) float64 {
	if level <= 0 {
		return MinDB
	}
	return max(20*math.Log10(level), MinDB)
}

// ApplyGain scales samples in place, saturating at the 16-bit range.
func ApplyGain(samples []int16, gain float64) {
	if gain == 1 {
		return
	}
	for i, s := range samples {
		v := math.Round(float64(s) * gain)
		switch {
		case v > math.MaxInt16:
			v = math.MaxInt16
		case v < math.MinInt16:
			v = math.MinInt16
		}
		samples[i] = int16(v)
	}
}
