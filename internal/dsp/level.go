package dsp

import (
	"math"

	"github.com/Honorable-Knights-of-the-Roundtable/speakup/pkg/frame"
)

const (
	// Presentation constant mapping an RMS value to a meter percentage.
	DefaultLevelScale = 200.0

	minDisplayDBFS = -90.0
	maxDisplayDBFS = 0.0
)

// Root-mean-square of all samples in the frame. An empty frame measures 0.
func Measure(f frame.PCMFrame) float64 {
	if len(f) == 0 {
		return 0
	}
	var sumOfSquares float64
	for _, sample := range f {
		s := float64(sample)
		sumOfSquares += s * s
	}
	return math.Sqrt(sumOfSquares / float64(len(f)))
}

// Map an RMS value to a meter percentage: round(rms * scale) clamped to [0, 100].
func LevelPercent(rms float64, scale float64) int {
	if math.IsNaN(rms) {
		return 0
	}
	return clampPercent(math.Round(rms * scale))
}

// Map a dBFS value to a meter percentage, linear over [-90, 0] dBFS.
// Non-finite values (including -Inf for silence) map to 0.
func DBFSToPercent(dbfs float64) int {
	if math.IsNaN(dbfs) || math.IsInf(dbfs, 0) {
		return 0
	}
	clamped := min(maxDisplayDBFS, max(minDisplayDBFS, dbfs))
	return clampPercent(math.Round((clamped - minDisplayDBFS) / (maxDisplayDBFS - minDisplayDBFS) * 100))
}

func clampPercent(v float64) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return int(v)
}
