package audioapi

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Honorable-Knights-of-the-Roundtable/speakup/pkg/audiodevice"
)

var (
	errNoDefaultDevice  = errors.New("no default device available")
	errNoDeviceWithID   = errors.New("no device with specified ID")
	errInvalidAudioFile = errors.New("not a valid .WAV file")
)

type MicrophoneDevice struct {
	// The ID of the device
	//
	// Assigned by the MicrophoneAPI that listed it, and the canonical way
	// to ask that API to open the device.
	ID int

	// A human-readable name for the device, if one exists.
	// Not necessary, and not canonical.
	Name string

	// The native format (sample rate and channels) of this device.
	// Capture sessions normalize anything other than mono at the session rate.
	DeviceProperties audiodevice.DeviceProperties
}

func (device MicrophoneDevice) String() string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "ID:          %d\n", device.ID)
	fmt.Fprintf(&sb, "Name:        %s\n", device.Name)
	fmt.Fprintf(&sb, "SampleRate:  %d\n", device.DeviceProperties.SampleRate)
	fmt.Fprintf(&sb, "NumChannels: %d\n", device.DeviceProperties.NumChannels)
	return sb.String()
}

// Define an API to enumerate and open capture devices.
// Intended to be an abstract way to:
// - Query existing input devices
// - Initialize an input device as an AudioSourceDevice
//
// Opening a device starts its stream; the caller owns the device and must Close it.
type MicrophoneAPI interface {
	InputDevices() []MicrophoneDevice
	InitInputDeviceFromID(MicrophoneDevice) (audiodevice.AudioSourceDevice, error)
	InitDefaultInputDevice() (audiodevice.AudioSourceDevice, error)
}
