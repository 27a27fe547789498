package audiodevice

import "github.com/Honorable-Knights-of-the-Roundtable/speakup/pkg/frame"

type DeviceProperties struct {
	SampleRate  int
	NumChannels int
}

// Interface for audio source devices, e.g. microphones
//
// Source devices deliver fixed-size blocks of samples on a channel (stream),
// gapless and in order. Blocks from a multichannel device are interleaved.
type AudioSourceDevice interface {
	// Get the stream of this audio device.
	//
	// Raw audio data (as PCMFrames) will arrive on the returned channel.
	// The channel is closed when the device is closed or runs dry.
	GetStream() <-chan frame.PCMFrame

	// Release the device, including any cleanup of memory and closing of channels.
	//
	// Once closed, this device will transmit no more information.
	// Close must be safe to call more than once.
	Close() error

	GetDeviceProperties() DeviceProperties
}

// Interface for audio sink devices, e.g. a recorder of the outbound stream.
//
// Unlike the source stream, frames are pushed into a sink by the capture
// callback, which must never block. A sink that cannot keep up drops frames.
type AudioSinkDevice interface {
	// Offer a frame to the sink. Returns false if the frame was dropped.
	Write(pcmFrame frame.PCMFrame) bool

	// Flush and release the sink. Safe to call more than once.
	Close() error

	GetDeviceProperties() DeviceProperties
}
