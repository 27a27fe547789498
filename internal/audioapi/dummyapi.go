package audioapi

import (
	"github.com/Honorable-Knights-of-the-Roundtable/speakup/pkg/audiodevice"
	"github.com/Honorable-Knights-of-the-Roundtable/speakup/pkg/audiodevice/device"
)

// A dummy API that lists only one input device, which produces no frames, ever.
//
// Useful for testing the connection to a server without any audio.
type DummyMicrophoneAPI struct {
	properties audiodevice.DeviceProperties
}

func NewDummyMicrophoneAPI(properties audiodevice.DeviceProperties) DummyMicrophoneAPI {
	return DummyMicrophoneAPI{
		properties: properties,
	}
}

func (api DummyMicrophoneAPI) InputDevices() []MicrophoneDevice {
	return []MicrophoneDevice{
		{
			ID:               0,
			Name:             "DummyInput",
			DeviceProperties: api.properties,
		},
	}
}

func (api DummyMicrophoneAPI) InitInputDeviceFromID(id MicrophoneDevice) (audiodevice.AudioSourceDevice, error) {
	if id.ID != 0 {
		return nil, errNoDeviceWithID
	}
	return device.NewDummyAudioSourceDevice(api.properties, 0), nil
}

func (api DummyMicrophoneAPI) InitDefaultInputDevice() (audiodevice.AudioSourceDevice, error) {
	return device.NewDummyAudioSourceDevice(api.properties, 0), nil
}
