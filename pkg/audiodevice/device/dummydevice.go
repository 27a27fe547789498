package device

import (
	"sync"

	"github.com/Honorable-Knights-of-the-Roundtable/speakup/pkg/audiodevice"
	"github.com/Honorable-Knights-of-the-Roundtable/speakup/pkg/frame"
)

// An AudioSourceDevice that produces exactly the blocks handed to Deliver.
//
// Stands in for the hardware callback: useful in testing, and as the "dummy"
// input when no microphone should be opened.
type DummyAudioSourceDevice struct {
	properties audiodevice.DeviceProperties

	// Held for reading while delivering, for writing while closing the stream,
	// so a block is never sent on a closed channel.
	streamMutex  sync.RWMutex
	done         chan struct{}
	shutdownOnce sync.Once
	sinkStream   chan frame.PCMFrame
}

// Create a DummyAudioSourceDevice whose stream buffers up to bufferedBlocks blocks.
func NewDummyAudioSourceDevice(properties audiodevice.DeviceProperties, bufferedBlocks int) *DummyAudioSourceDevice {
	return &DummyAudioSourceDevice{
		properties: properties,
		done:       make(chan struct{}),
		sinkStream: make(chan frame.PCMFrame, max(0, bufferedBlocks)),
	}
}

// Deliver the next block, as a hardware callback would.
// Blocks until the block is accepted, and returns false if the device was closed first.
func (d *DummyAudioSourceDevice) Deliver(block frame.PCMFrame) bool {
	d.streamMutex.RLock()
	defer d.streamMutex.RUnlock()

	select {
	case <-d.done:
		return false
	default:
	}

	select {
	case d.sinkStream <- block:
		return true
	case <-d.done:
		return false
	}
}

func (d *DummyAudioSourceDevice) Close() error {
	d.shutdownOnce.Do(func() {
		close(d.done)
		d.streamMutex.Lock()
		close(d.sinkStream)
		d.streamMutex.Unlock()
	})
	return nil
}

func (d *DummyAudioSourceDevice) GetStream() <-chan frame.PCMFrame {
	return d.sinkStream
}

func (d *DummyAudioSourceDevice) GetDeviceProperties() audiodevice.DeviceProperties {
	return d.properties
}

// An AudioSinkDevice that keeps every frame written to it.
//
// A minimal example of the architecture of an AudioSinkDevice, useful in testing.
type DummyAudioSinkDevice struct {
	properties audiodevice.DeviceProperties

	framesMutex sync.Mutex
	frames      []frame.PCMFrame
	closed      bool
}

func NewDummyAudioSinkDevice(properties audiodevice.DeviceProperties) *DummyAudioSinkDevice {
	return &DummyAudioSinkDevice{
		properties: properties,
	}
}

func (d *DummyAudioSinkDevice) Write(pcmFrame frame.PCMFrame) bool {
	d.framesMutex.Lock()
	defer d.framesMutex.Unlock()
	if d.closed {
		return false
	}
	d.frames = append(d.frames, pcmFrame)
	return true
}

func (d *DummyAudioSinkDevice) Close() error {
	d.framesMutex.Lock()
	defer d.framesMutex.Unlock()
	d.closed = true
	return nil
}

// Copy of every frame accepted so far.
func (d *DummyAudioSinkDevice) Frames() []frame.PCMFrame {
	d.framesMutex.Lock()
	defer d.framesMutex.Unlock()
	return append([]frame.PCMFrame(nil), d.frames...)
}

func (d *DummyAudioSinkDevice) GetDeviceProperties() audiodevice.DeviceProperties {
	return d.properties
}
