package audioapi

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/Honorable-Knights-of-the-Roundtable/speakup/pkg/audiodevice"
	"github.com/Honorable-Knights-of-the-Roundtable/speakup/pkg/audiodevice/device"
	"github.com/go-audio/wav"
)

// An API that presents .WAV files as microphones, one device per file.
// Device IDs are the index of the file in the list the API was created with.
type FileMicrophoneAPI struct {
	paths     []string
	blockSize int
	loop      bool
}

// blockSize is the number of samples per channel delivered per block.
// With loop set, each file repeats until the device is closed.
func NewFileMicrophoneAPI(paths []string, blockSize int, loop bool) FileMicrophoneAPI {
	return FileMicrophoneAPI{
		paths:     paths,
		blockSize: blockSize,
		loop:      loop,
	}
}

// Lists only the files that hold a readable .WAV header.
func (api FileMicrophoneAPI) InputDevices() []MicrophoneDevice {
	devices := make([]MicrophoneDevice, 0, len(api.paths))
	for i, path := range api.paths {
		properties, err := readWavProperties(path)
		if err != nil {
			slog.Warn("skipping unreadable audio file", "audioFile", path, "err", err)
			continue
		}
		devices = append(devices, MicrophoneDevice{
			ID:               i,
			Name:             filepath.Base(path),
			DeviceProperties: properties,
		})
	}
	return devices
}

func (api FileMicrophoneAPI) InitInputDeviceFromID(id MicrophoneDevice) (audiodevice.AudioSourceDevice, error) {
	if id.ID < 0 || id.ID >= len(api.paths) {
		return nil, errNoDeviceWithID
	}
	return device.NewFileAudioInputDevice(api.paths[id.ID], api.blockSize, api.loop)
}

// The first file is the default device.
func (api FileMicrophoneAPI) InitDefaultInputDevice() (audiodevice.AudioSourceDevice, error) {
	if len(api.paths) == 0 {
		return nil, errNoDefaultDevice
	}
	return device.NewFileAudioInputDevice(api.paths[0], api.blockSize, api.loop)
}

func readWavProperties(path string) (audiodevice.DeviceProperties, error) {
	f, err := os.Open(path)
	if err != nil {
		return audiodevice.DeviceProperties{}, err
	}
	defer f.Close()

	decoder := wav.NewDecoder(f)
	decoder.ReadInfo()
	if err := decoder.Err(); err != nil {
		return audiodevice.DeviceProperties{}, err
	}
	if !decoder.IsValidFile() {
		return audiodevice.DeviceProperties{}, errInvalidAudioFile
	}
	return audiodevice.DeviceProperties{
		SampleRate:  int(decoder.SampleRate),
		NumChannels: int(decoder.NumChans),
	}, nil
}
