package device

import (
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/Honorable-Knights-of-the-Roundtable/speakup/pkg/audiodevice"
	"github.com/Honorable-Knights-of-the-Roundtable/speakup/pkg/frame"
	"github.com/google/uuid"
)

const (
	toneBaseFrequency = 440.0

	// Blocks buffered between the generator and the consumer before blocks are dropped,
	// as a hardware input buffer would.
	toneStreamBuffer = 10
)

// A simulated microphone producing a slowly modulated tone in fixed-size blocks
// at wall-clock pace, the way a hardware capture callback does.
//
// Useful for exercising a session end to end without audio hardware.
type ToneAudioInputDevice struct {
	logger *slog.Logger
	uuid   uuid.UUID

	properties   audiodevice.DeviceProperties
	blockSize    int
	amplitude    float64
	done         chan struct{}
	shutdownOnce sync.Once
	sinkStream   chan frame.PCMFrame
}

// Create and start a new ToneAudioInputDevice.
//
// blockSize is the number of samples per channel in each block (e.g. 1024).
// amplitude scales the tone, 1.0 being full scale.
func NewToneAudioInputDevice(properties audiodevice.DeviceProperties, blockSize int, amplitude float64) *ToneAudioInputDevice {
	uuid := uuid.New()
	logger := slog.Default().With(
		"tone input device uuid", uuid,
	)

	d := &ToneAudioInputDevice{
		logger:     logger,
		uuid:       uuid,
		properties: properties,
		blockSize:  blockSize,
		amplitude:  amplitude,
		done:       make(chan struct{}),
		sinkStream: make(chan frame.PCMFrame, toneStreamBuffer),
	}

	logger.Debug(
		"starting tone input device",
		"sampleRate", properties.SampleRate,
		"channels", properties.NumChannels,
		"blockSize", blockSize,
	)
	go d.generate()
	return d
}

func (d *ToneAudioInputDevice) generate() {
	defer close(d.sinkStream)

	sampleRate := float64(d.properties.SampleRate)
	blockDuration := time.Duration(float64(d.blockSize) / sampleRate * float64(time.Second))
	ticker := time.NewTicker(blockDuration)
	defer ticker.Stop()

	var phase float64
	var blockCount int64
	for {
		select {
		case <-d.done:
			return
		case <-ticker.C:
		}

		block := make(frame.PCMFrame, d.blockSize*d.properties.NumChannels)
		for i := 0; i < d.blockSize; i++ {
			// Slow frequency and amplitude modulation so the level meter moves
			currentFrequency := toneBaseFrequency + math.Sin(float64(blockCount)*0.01)*50
			envelope := 0.5 + 0.5*math.Sin(float64(blockCount)*0.02)
			sample := float32(d.amplitude * envelope * math.Sin(phase))
			for c := 0; c < d.properties.NumChannels; c++ {
				block[i*d.properties.NumChannels+c] = sample
			}

			phase += 2 * math.Pi * currentFrequency / sampleRate
			if phase >= 2*math.Pi {
				phase -= 2 * math.Pi
			}
		}
		blockCount++

		select {
		case d.sinkStream <- block:
		case <-d.done:
			return
		default:
			d.logger.Warn("tone input buffer full, dropping block", "blockCount", blockCount)
		}
	}
}

func (d *ToneAudioInputDevice) Close() error {
	d.logger.Debug("shutdown called")
	d.shutdownOnce.Do(func() {
		close(d.done)
	})
	return nil
}

func (d *ToneAudioInputDevice) GetStream() <-chan frame.PCMFrame {
	return d.sinkStream
}

func (d *ToneAudioInputDevice) GetDeviceProperties() audiodevice.DeviceProperties {
	return d.properties
}
