package device

import (
	"errors"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/Honorable-Knights-of-the-Roundtable/speakup/pkg/audiodevice"
	"github.com/Honorable-Knights-of-the-Roundtable/speakup/pkg/frame"
	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/google/uuid"
)

// --------------------------------------------------------------------------------
// FileAudioInputDevice

// Define an AudioSourceDevice that plays a .WAV file as if it were a microphone,
// delivering fixed-size blocks at wall-clock pace.
//
// Multichannel files are delivered interleaved, at the file's own sample rate.
type FileAudioInputDevice struct {
	logger *slog.Logger
	uuid   uuid.UUID

	done         chan struct{}
	shutdownOnce sync.Once

	properties    audiodevice.DeviceProperties
	samples       frame.PCMFrame
	blockDuration time.Duration
	blockLen      int
	loop          bool
	sinkStream    chan frame.PCMFrame
}

// Make a new FileAudioInputDevice from a .WAV file (on the audioFilePath) and start playing it.
//
// blockSize is the number of samples per channel in each delivered block.
// When loop is false the stream closes once the file has been played,
// which a capture session treats like an unplugged microphone.
func NewFileAudioInputDevice(
	audioFilePath string,
	blockSize int,
	loop bool,
) (*FileAudioInputDevice, error) {
	uuid := uuid.New()
	logger := slog.Default().With(
		"file input device uuid", uuid,
	)

	if blockSize <= 0 {
		return nil, errors.New("non-positive block size")
	}

	f, err := os.Open(audioFilePath)
	if err != nil {
		logger.Error(
			"could not open audio file",
			"audioFile", audioFilePath,
			"err", err,
		)
		return nil, err
	}
	defer f.Close()

	decoder := wav.NewDecoder(f)
	if !decoder.IsValidFile() {
		logger.Error(
			"could not decode audio file",
			"audioFile", audioFilePath,
			"err", decoder.Err(),
		)
		return nil, errors.New("error while decoding audio file")
	}

	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		logger.Error(
			"could not get full PCM buffer from audio file",
			"audioFile", audioFilePath,
			"err", err,
		)
		return nil, err
	}

	// Integer PCM is signed, so full scale is 2^(bitDepth-1)
	fullScale := float32(int64(1) << (decoder.BitDepth - 1))
	samples := make(frame.PCMFrame, len(buf.Data))
	for i, v := range buf.Data {
		samples[i] = float32(v) / fullScale
	}

	properties := audiodevice.DeviceProperties{
		SampleRate:  int(decoder.SampleRate),
		NumChannels: int(decoder.NumChans),
	}
	if properties.SampleRate <= 0 {
		return nil, errors.New("audio file has no sample rate")
	}
	blockDuration := time.Duration(float64(blockSize) / float64(properties.SampleRate) * float64(time.Second))

	logger.Debug(
		"loaded audio file",
		"audioFile", audioFilePath,
		"sampleRate", properties.SampleRate,
		"channels", properties.NumChannels,
		"bitDepth", decoder.BitDepth,
		"samples", len(samples),
	)

	d := &FileAudioInputDevice{
		logger:        logger,
		uuid:          uuid,
		done:          make(chan struct{}),
		properties:    properties,
		samples:       samples,
		blockDuration: blockDuration,
		blockLen:      blockSize * properties.NumChannels,
		loop:          loop,
		sinkStream:    make(chan frame.PCMFrame),
	}
	go d.play()
	return d, nil
}

func (d *FileAudioInputDevice) play() {
	defer close(d.sinkStream)
	d.logger.Debug("playing audio")

	ticker := time.NewTicker(d.blockDuration)
	defer ticker.Stop()
	for {
		for blockStart := 0; blockStart < len(d.samples); blockStart += d.blockLen {
			blockEnd := min(blockStart+d.blockLen, len(d.samples))
			block := make(frame.PCMFrame, blockEnd-blockStart)
			copy(block, d.samples[blockStart:blockEnd])

			select {
			case <-ticker.C:
			case <-d.done:
				return
			}
			select {
			case d.sinkStream <- block:
			case <-d.done:
				return
			}
		}
		if !d.loop || len(d.samples) == 0 {
			d.logger.Debug("finished playing")
			return
		}
	}
}

func (d *FileAudioInputDevice) Close() error {
	d.logger.Debug("shutdown called")
	d.shutdownOnce.Do(func() {
		close(d.done)
	})
	return nil
}

func (d *FileAudioInputDevice) GetStream() <-chan frame.PCMFrame {
	return d.sinkStream
}

func (d *FileAudioInputDevice) GetDeviceProperties() audiodevice.DeviceProperties {
	return d.properties
}

// --------------------------------------------------------------------------------
// FileAudioOutputDevice

const fileOutputQueueSize = 64

// Define an AudioSinkDevice that writes frames to a 16-bit .WAV file.
//
// Writes are queued and never block; frames are dropped if the encoder falls behind.
// The resulting file is only valid once Close has returned.
type FileAudioOutputDevice struct {
	logger *slog.Logger
	uuid   uuid.UUID

	encoder    *wav.Encoder
	fileHandle *os.File
	properties audiodevice.DeviceProperties

	queueMutex   sync.RWMutex
	queue        chan frame.PCMFrame
	closed       bool
	writerDone   chan struct{}
	shutdownOnce sync.Once
	closeErr     error
}

// Create a new FileAudioOutputDevice that writes frames to a .WAV file at the specified path.
func NewFileAudioOutputDevice(
	audioFilePath string,
	sampleRate int,
	numChannels int,
) (*FileAudioOutputDevice, error) {
	uuid := uuid.New()
	logger := slog.Default().With(
		"file output device uuid", uuid,
	)

	f, err := os.Create(audioFilePath)
	if err != nil {
		logger.Error(
			"could not open audio file",
			"audioFile", audioFilePath,
			"err", err,
		)
		return nil, err
	}

	encoder := wav.NewEncoder(f, sampleRate, 16, numChannels, 1)

	logger.Debug(
		"created audio file",
		"audioFile", audioFilePath,
		"sampleRate", sampleRate,
		"channels", numChannels,
	)

	d := &FileAudioOutputDevice{
		logger:     logger,
		uuid:       uuid,
		encoder:    encoder,
		fileHandle: f,
		properties: audiodevice.DeviceProperties{
			SampleRate:  sampleRate,
			NumChannels: numChannels,
		},
		queue:      make(chan frame.PCMFrame, fileOutputQueueSize),
		writerDone: make(chan struct{}),
	}
	go d.write()
	return d, nil
}

func (d *FileAudioOutputDevice) write() {
	defer close(d.writerDone)
	const maxInt16 = 32767.0

	bufFormat := &goaudio.Format{
		SampleRate:  d.properties.SampleRate,
		NumChannels: d.properties.NumChannels,
	}
	for pcmFrame := range d.queue {
		buf := &goaudio.IntBuffer{
			Format:         bufFormat,
			Data:           make([]int, len(pcmFrame)),
			SourceBitDepth: 16,
		}
		for i, sample := range pcmFrame {
			buf.Data[i] = int(min(1, max(-1, sample)) * maxInt16)
		}

		if err := d.encoder.Write(buf); err != nil {
			d.logger.Error("error while writing frame to file", "err", err)
		}
	}
	d.logger.Debug("write queue closed")
}

func (d *FileAudioOutputDevice) Write(pcmFrame frame.PCMFrame) bool {
	d.queueMutex.RLock()
	defer d.queueMutex.RUnlock()
	if d.closed {
		return false
	}

	select {
	case d.queue <- pcmFrame:
		return true
	default:
		d.logger.Warn("file output queue full, dropping frame", "samples", len(pcmFrame))
		return false
	}
}

// Close flushes queued frames, finalizes the .WAV header and closes the file.
func (d *FileAudioOutputDevice) Close() error {
	d.shutdownOnce.Do(func() {
		d.queueMutex.Lock()
		d.closed = true
		close(d.queue)
		d.queueMutex.Unlock()

		<-d.writerDone
		d.closeErr = errors.Join(
			d.encoder.Close(),
			d.fileHandle.Sync(),
			d.fileHandle.Close(),
		)
		d.logger.Debug("file output device closed", "err", d.closeErr)
	})
	return d.closeErr
}

func (d *FileAudioOutputDevice) GetDeviceProperties() audiodevice.DeviceProperties {
	return d.properties
}
