package audioapi

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/Honorable-Knights-of-the-Roundtable/speakup/pkg/audiodevice"
	"github.com/Honorable-Knights-of-the-Roundtable/speakup/pkg/audiodevice/device"
	"github.com/Honorable-Knights-of-the-Roundtable/speakup/pkg/frame"
)

var testProperties = audiodevice.DeviceProperties{SampleRate: 48000, NumChannels: 1}

func TestDummyMicrophoneAPI(t *testing.T) {
	api := NewDummyMicrophoneAPI(testProperties)

	devices := api.InputDevices()
	if len(devices) != 1 || devices[0].DeviceProperties != testProperties {
		t.Fatalf("InputDevices() = %v", devices)
	}

	d, err := api.InitInputDeviceFromID(devices[0])
	if err != nil {
		t.Fatalf("InitInputDeviceFromID: %v", err)
	}
	d.Close()

	if _, err := api.InitInputDeviceFromID(MicrophoneDevice{ID: 3}); !errors.Is(err, errNoDeviceWithID) {
		t.Fatalf("err = %v, want errNoDeviceWithID", err)
	}
}

func TestToneMicrophoneAPI(t *testing.T) {
	api := NewToneMicrophoneAPI(testProperties, 256)

	d, err := api.InitDefaultInputDevice()
	if err != nil {
		t.Fatalf("InitDefaultInputDevice: %v", err)
	}
	defer d.Close()

	block, ok := <-d.GetStream()
	if !ok || len(block) != 256 {
		t.Fatalf("first block len = %d (ok=%v), want 256", len(block), ok)
	}
}

func TestFileMicrophoneAPI(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.wav")
	missing := filepath.Join(dir, "missing.wav")

	out, err := device.NewFileAudioOutputDevice(good, 22050, 2)
	if err != nil {
		t.Fatalf("NewFileAudioOutputDevice: %v", err)
	}
	out.Write(make(frame.PCMFrame, 64))
	if err := out.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	api := NewFileMicrophoneAPI([]string{missing, good}, 32, false)

	devices := api.InputDevices()
	if len(devices) != 1 {
		t.Fatalf("InputDevices() = %v, want only the readable file", devices)
	}
	want := audiodevice.DeviceProperties{SampleRate: 22050, NumChannels: 2}
	if devices[0].ID != 1 || devices[0].Name != "good.wav" || devices[0].DeviceProperties != want {
		t.Fatalf("device = %+v", devices[0])
	}

	d, err := api.InitInputDeviceFromID(devices[0])
	if err != nil {
		t.Fatalf("InitInputDeviceFromID: %v", err)
	}
	d.Close()

	if _, err := api.InitDefaultInputDevice(); err == nil {
		t.Fatal("default device is the missing file and should fail to open")
	}
	if _, err := NewFileMicrophoneAPI(nil, 32, false).InitDefaultInputDevice(); !errors.Is(err, errNoDefaultDevice) {
		t.Fatalf("err = %v, want errNoDefaultDevice", err)
	}
}
