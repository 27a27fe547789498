package audioapi

import (
	"github.com/Honorable-Knights-of-the-Roundtable/speakup/pkg/audiodevice"
	"github.com/Honorable-Knights-of-the-Roundtable/speakup/pkg/audiodevice/device"
)

const toneAmplitude = 0.4

// An API offering a single simulated microphone that plays a modulated tone.
type ToneMicrophoneAPI struct {
	properties audiodevice.DeviceProperties
	blockSize  int
}

// blockSize is the number of samples per channel the simulated hardware delivers per callback.
func NewToneMicrophoneAPI(properties audiodevice.DeviceProperties, blockSize int) ToneMicrophoneAPI {
	return ToneMicrophoneAPI{
		properties: properties,
		blockSize:  blockSize,
	}
}

func (api ToneMicrophoneAPI) InputDevices() []MicrophoneDevice {
	return []MicrophoneDevice{
		{
			ID:               0,
			Name:             "SimulatedTone",
			DeviceProperties: api.properties,
		},
	}
}

func (api ToneMicrophoneAPI) InitInputDeviceFromID(id MicrophoneDevice) (audiodevice.AudioSourceDevice, error) {
	if id.ID != 0 {
		return nil, errNoDeviceWithID
	}
	return api.InitDefaultInputDevice()
}

func (api ToneMicrophoneAPI) InitDefaultInputDevice() (audiodevice.AudioSourceDevice, error) {
	return device.NewToneAudioInputDevice(api.properties, api.blockSize, toneAmplitude), nil
}
