package main

import (
	"fmt"

	"github.com/Honorable-Knights-of-the-Roundtable/speakup/internal/audioapi"
	"github.com/Honorable-Knights-of-the-Roundtable/speakup/internal/session"
	"github.com/Honorable-Knights-of-the-Roundtable/speakup/pkg/audiodevice"
	"github.com/spf13/viper"
)

// The MicrophoneAPI named by the "input" key.
func microphoneAPIFromConfig() (audioapi.MicrophoneAPI, error) {
	properties := audiodevice.DeviceProperties{
		SampleRate:  viper.GetInt("sourcerate"),
		NumChannels: 1,
	}
	blockSize := viper.GetInt("blocksize")

	switch input := viper.GetString("input"); input {
	case "tone":
		return audioapi.NewToneMicrophoneAPI(properties, blockSize), nil
	case "file":
		inputFile := viper.GetString("inputfile")
		if inputFile == "" {
			return nil, fmt.Errorf("input %q requires inputfile", input)
		}
		return audioapi.NewFileMicrophoneAPI([]string{inputFile}, blockSize, viper.GetBool("inputloop")), nil
	case "dummy":
		return audioapi.NewDummyMicrophoneAPI(properties), nil
	default:
		return nil, fmt.Errorf("unknown input %q", input)
	}
}

// Opens the device with the configured ID, or the API default if none is set.
func microphoneOpener(api audioapi.MicrophoneAPI, deviceID int) session.MicrophoneOpener {
	return func() (audiodevice.AudioSourceDevice, error) {
		if deviceID < 0 {
			return api.InitDefaultInputDevice()
		}
		for _, d := range api.InputDevices() {
			if d.ID == deviceID {
				return api.InitInputDeviceFromID(d)
			}
		}
		return nil, fmt.Errorf("no input device with ID %d", deviceID)
	}
}
