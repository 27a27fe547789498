package device

import (
	"log/slog"
	"sync"

	"github.com/Honorable-Knights-of-the-Roundtable/speakup/pkg/audiodevice"
	"github.com/Honorable-Knights-of-the-Roundtable/speakup/pkg/frame"
	"github.com/oov/audio/resampler"
)

const resampleQuality = 10

// Middle-man device normalizing whatever a capture device produces into
// the mono format at the sample rate a capture session expects.
//
// e.g. a stereo 44.1kHz microphone is downmixed to mono and resampled to 48kHz,
// after which the session decimates it as it would any 48kHz device.
// Devices already in the expected format should not be wrapped at all.
//
// This device is a source wrapping another source: closing it closes the wrapped device.
type AudioFormatConversionDevice struct {
	source           audiodevice.AudioSourceDevice
	sourceProperties audiodevice.DeviceProperties

	// The stream that data *leaves on*
	sinkStream     chan frame.PCMFrame
	sinkProperties audiodevice.DeviceProperties

	// The functions to apply when converting source blocks to the sink format
	formatConversionFunctions []audioFormatConversionFunction

	done         chan struct{}
	shutdownOnce sync.Once
}

// Wrap source so that blocks leave in sinkProperties format. Conversion starts immediately.
//
// Only mono output is supported: sinkProperties.NumChannels is forced to 1.
func NewAudioFormatConversionDevice(
	source audiodevice.AudioSourceDevice,
	sinkProperties audiodevice.DeviceProperties,
) *AudioFormatConversionDevice {
	sourceProperties := source.GetDeviceProperties()
	sinkProperties.NumChannels = 1

	formatConversionFunctions := make([]audioFormatConversionFunction, 0)
	if sourceProperties.NumChannels > 1 {
		slog.Debug("adding downmix to mono", "channels", sourceProperties.NumChannels)
		formatConversionFunctions = append(formatConversionFunctions, downmixToMono(sourceProperties.NumChannels))
	}
	if sourceProperties.SampleRate != sinkProperties.SampleRate {
		slog.Debug("adding resampler",
			"sourceSampleRate", sourceProperties.SampleRate,
			"sinkSampleRate", sinkProperties.SampleRate,
		)
		formatConversionFunctions = append(formatConversionFunctions, newResampleFunction(sourceProperties.SampleRate, sinkProperties.SampleRate))
	}

	d := &AudioFormatConversionDevice{
		source:                    source,
		sourceProperties:          sourceProperties,
		sinkStream:                make(chan frame.PCMFrame),
		sinkProperties:            sinkProperties,
		formatConversionFunctions: formatConversionFunctions,
		done:                      make(chan struct{}),
	}
	go d.convert()
	return d
}

func (d *AudioFormatConversionDevice) convert() {
	// This goroutine dies when the wrapped stream is closed.
	defer close(d.sinkStream)
	for pcmFrame := range d.source.GetStream() {
		for _, f := range d.formatConversionFunctions {
			pcmFrame = f(pcmFrame)
		}
		select {
		case d.sinkStream <- pcmFrame:
		case <-d.done:
			return
		}
	}
}

// --------------------------------------------------------------------------------
// AudioSourceDevice Interface

func (d *AudioFormatConversionDevice) GetStream() <-chan frame.PCMFrame {
	return d.sinkStream
}

// Close this device and the device it wraps.
func (d *AudioFormatConversionDevice) Close() error {
	var err error
	d.shutdownOnce.Do(func() {
		close(d.done)
		err = d.source.Close()
	})
	return err
}

// WARNING:
// GetDeviceProperties of the AudioFormatConversionDevice returns the
// device properties of the LEAVING data. i.e. the data that exits this device!
//
// If you need the properties of the data entering this device, call GetSourceDeviceProperties()
func (d *AudioFormatConversionDevice) GetDeviceProperties() audiodevice.DeviceProperties {
	return d.sinkProperties
}

func (d *AudioFormatConversionDevice) GetSourceDeviceProperties() audiodevice.DeviceProperties {
	return d.sourceProperties
}

// --------------------------------------------------------------------------------

// Each call returns a newly allocated frame: converted blocks are handed across
// goroutines and must not share memory with the next block.
type audioFormatConversionFunction func(sourceFrame frame.PCMFrame) frame.PCMFrame

func downmixToMono(numChannels int) audioFormatConversionFunction {
	return func(sourceFrame frame.PCMFrame) frame.PCMFrame {
		numFrames := len(sourceFrame) / numChannels
		mono := make(frame.PCMFrame, numFrames)
		for i := range numFrames {
			var sum float32
			for c := range numChannels {
				sum += sourceFrame[i*numChannels+c]
			}
			mono[i] = sum / float32(numChannels)
		}
		return mono
	}
}

func newResampleFunction(sourceSampleRate int, sinkSampleRate int) audioFormatConversionFunction {
	r := resampler.New(1, sourceSampleRate, sinkSampleRate, resampleQuality)
	return func(sourceFrame frame.PCMFrame) frame.PCMFrame {
		// One spare sample either side of the exact ratio for rounding in the resampler
		capacity := len(sourceFrame)*sinkSampleRate/sourceSampleRate + 2
		buf := make(frame.PCMFrame, capacity)
		_, written := r.ProcessFloat32(0, sourceFrame, buf)
		return buf[:written]
	}
}
