package dsp

import (
	"fmt"
	"math"

	"github.com/Honorable-Knights-of-the-Roundtable/speakup/pkg/frame"
)

// Nearest-preceding-sample decimator from a source rate down to a target rate.
//
// There is no low-pass filter and no interpolation: output sample i of a call
// is the working sample at floor(i*ratio). The downstream ranking and ASR stages
// are tuned to exactly this signal, so it must not be swapped for a band-limited
// resampler.
//
// Block boundaries rarely line up with output sample boundaries, so the unconsumed
// tail of each call is carried into the next one (the leftover buffer). That carry
// is the only state, and it is what keeps the output aligned with the input over
// long streams.
//
// A Decimator handles exactly one stream and is not safe for concurrent use.
// Blocks must be pushed in arrival order.
type Decimator struct {
	sourceRate int
	targetRate int
	ratio      float64

	// Unconsumed samples of the previous call. Never reset except by Reset.
	leftover frame.PCMFrame

	// Scratch space for leftover ++ block, reused across calls
	work frame.PCMFrame
}

// Create a new Decimator converting from sourceRate to targetRate.
// targetRate must be positive and strictly smaller than sourceRate.
func NewDecimator(sourceRate int, targetRate int) (*Decimator, error) {
	if targetRate <= 0 || sourceRate <= targetRate {
		return nil, fmt.Errorf("invalid decimation %d Hz -> %d Hz: target rate must be positive and below the source rate", sourceRate, targetRate)
	}
	ratio := float64(sourceRate) / float64(targetRate)
	return &Decimator{
		sourceRate: sourceRate,
		targetRate: targetRate,
		ratio:      ratio,
		leftover:   make(frame.PCMFrame, 0, int(math.Ceil(ratio))+1),
	}, nil
}

// Push the next source block and return the target rate samples it completes.
//
// The returned frame may be empty (e.g. a first block shorter than one target
// sample period); that is not an error. The returned frame is freshly allocated
// and owned by the caller.
func (d *Decimator) Push(block frame.PCMFrame) frame.PCMFrame {
	d.work = append(d.work[:0], d.leftover...)
	d.work = append(d.work, block...)
	workLen := len(d.work)

	outLen := int(math.Floor(float64(workLen) / d.ratio))
	out := make(frame.PCMFrame, outLen)
	for i := range outLen {
		out[i] = d.work[int(math.Floor(float64(i)*d.ratio))]
	}

	consumed := int(math.Floor(float64(outLen) * d.ratio))
	d.leftover = append(d.leftover[:0], d.work[consumed:]...)
	return out
}

// Drop any carried samples, e.g. when a session restarts.
func (d *Decimator) Reset() {
	d.leftover = d.leftover[:0]
}

// Number of source samples currently carried over to the next Push.
func (d *Decimator) Leftover() int {
	return len(d.leftover)
}

func (d *Decimator) Ratio() float64 {
	return d.ratio
}

func (d *Decimator) SourceRate() int {
	return d.sourceRate
}

func (d *Decimator) TargetRate() int {
	return d.targetRate
}
