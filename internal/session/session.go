package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/Honorable-Knights-of-the-Roundtable/speakup/internal/dsp"
	"github.com/Honorable-Knights-of-the-Roundtable/speakup/internal/networking"
	"github.com/Honorable-Knights-of-the-Roundtable/speakup/pkg/audiodevice"
	"github.com/Honorable-Knights-of-the-Roundtable/speakup/pkg/audiodevice/device"
	"github.com/Honorable-Knights-of-the-Roundtable/speakup/pkg/frame"
	"github.com/google/uuid"
)

const (
	DefaultSourceRate = 48000
	DefaultTargetRate = 16000
)

// Opens the microphone for a new capture. The session owns, and closes, what it returns.
type MicrophoneOpener func() (audiodevice.AudioSourceDevice, error)

type Options struct {
	// Display name sent to the server
	Name string

	// Rate blocks are decimated from. Microphones with any other format are
	// normalized to mono at this rate first.
	SourceRate int

	// Rate of the frames sent to the server
	TargetRate int

	// Multiplier from RMS to level percent. Defaults to dsp.DefaultLevelScale.
	LevelScale float64

	// Receives a copy of every frame that was sent. Owned by the caller. May be nil.
	Recorder audiodevice.AudioSinkDevice
}

// Counters over the life of a session, across restarts.
type Stats struct {
	FramesSent    uint64
	FramesDropped uint64
}

// A single capture: microphone blocks are decimated, metered, and sent over a
// Link, one binary message per non-empty frame.
//
// All block processing happens on a pump goroutine, serialized with Start and
// Stop by the session mutex. Once Stop returns no further frame is sent.
type CaptureSession struct {
	logger *slog.Logger
	uuid   uuid.UUID

	openMicrophone MicrophoneOpener
	dialer         networking.LinkDialer
	observer       Observer
	options        Options

	mutex     sync.Mutex
	state     State
	decimator *dsp.Decimator

	// Resources of the current capture, nil when not active
	run *captureRun

	framesSent    atomic.Uint64
	framesDropped atomic.Uint64
}

// Resources of one Start, torn down exactly once.
type captureRun struct {
	microphone audiodevice.AudioSourceDevice
	link       networking.Link

	// Closed when the per-block callback is released
	released chan struct{}

	// Closed when the pump goroutine exits. Nil if no pump was started.
	pumpExited chan struct{}

	cancelDial context.CancelFunc
}

// observer may be nil.
func NewCaptureSession(
	openMicrophone MicrophoneOpener,
	dialer networking.LinkDialer,
	observer Observer,
	options Options,
) (*CaptureSession, error) {
	if options.SourceRate == 0 {
		options.SourceRate = DefaultSourceRate
	}
	if options.TargetRate == 0 {
		options.TargetRate = DefaultTargetRate
	}
	if options.LevelScale <= 0 {
		options.LevelScale = dsp.DefaultLevelScale
	}
	if observer == nil {
		observer = nopObserver{}
	}

	decimator, err := dsp.NewDecimator(options.SourceRate, options.TargetRate)
	if err != nil {
		return nil, err
	}

	uuid := uuid.New()
	return &CaptureSession{
		logger:         slog.Default().With("capture session uuid", uuid),
		uuid:           uuid,
		openMicrophone: openMicrophone,
		dialer:         dialer,
		observer:       observer,
		options:        options,
		state:          StateIdle,
		decimator:      decimator,
	}, nil
}

func (s *CaptureSession) State() State {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.state
}

func (s *CaptureSession) Stats() Stats {
	return Stats{
		FramesSent:    s.framesSent.Load(),
		FramesDropped: s.framesDropped.Load(),
	}
}

// Must hold the mutex.
func (s *CaptureSession) setState(state State) {
	if s.state == state {
		return
	}
	s.logger.Info("session state changed", "from", s.state.String(), "to", state.String())
	s.state = state
	s.observer.OnStateChange(state)
}

// Acquire the microphone, open the link and start streaming.
//
// Returns a *DeviceError or *LinkError if either cannot be opened, leaving the
// session in the error state with everything released. If Stop is called
// before streaming begins, Start releases what it acquired and returns ErrSessionStopped.
//
// A stopped or failed session may be started again; decimation restarts from a clean state.
func (s *CaptureSession) Start(ctx context.Context) error {
	s.mutex.Lock()
	if s.state.active() {
		s.mutex.Unlock()
		return ErrAlreadyStarted
	}
	s.decimator.Reset()
	dialCtx, cancelDial := context.WithCancel(ctx)
	run := &captureRun{
		released:   make(chan struct{}),
		cancelDial: cancelDial,
	}
	s.run = run
	s.setState(StateConnecting)
	s.mutex.Unlock()

	microphone, err := s.acquireMicrophone()

	s.mutex.Lock()
	if s.run != run {
		s.mutex.Unlock()
		if microphone != nil {
			guard(s.logger, "close microphone", microphone.Close)
		}
		return ErrSessionStopped
	}
	if err != nil {
		s.abandon(run, StateError)
		s.mutex.Unlock()
		run.cancelDial()
		s.logger.Error("could not acquire microphone", "err", err)
		return &DeviceError{Err: err}
	}
	run.microphone = microphone
	s.mutex.Unlock()

	link, err := s.dialer.Dial(dialCtx, s.options.Name)

	s.mutex.Lock()
	if s.run != run {
		s.mutex.Unlock()
		if link != nil {
			guard(s.logger, "close link", link.Close)
		}
		return ErrSessionStopped
	}
	if err != nil {
		s.abandon(run, StateError)
		s.mutex.Unlock()
		s.logger.Error("could not open link", "err", err)
		s.teardown(run, microphone, nil, false)
		return &LinkError{Err: err}
	}
	run.link = link
	run.pumpExited = make(chan struct{})
	s.setState(StateStreaming)
	go s.pump(run, microphone, link)
	s.mutex.Unlock()

	return nil
}

// Open the microphone, normalizing its format if it is not mono at the source rate.
func (s *CaptureSession) acquireMicrophone() (audiodevice.AudioSourceDevice, error) {
	microphone, err := s.openMicrophone()
	if err != nil {
		return nil, err
	}
	if microphone == nil {
		return nil, errors.New("no microphone")
	}

	want := audiodevice.DeviceProperties{SampleRate: s.options.SourceRate, NumChannels: 1}
	if got := microphone.GetDeviceProperties(); got != want {
		s.logger.Debug(
			"normalizing microphone format",
			"sampleRate", got.SampleRate,
			"channels", got.NumChannels,
		)
		if got.SampleRate <= 0 || got.NumChannels <= 0 {
			microphone.Close()
			return nil, fmt.Errorf("unsupported microphone format %+v", got)
		}
		return device.NewAudioFormatConversionDevice(microphone, want), nil
	}
	return microphone, nil
}

// Stop streaming and release everything, in order: the per-block callback,
// the processing chain, the microphone, then the link.
//
// Each step runs even if an earlier one fails; failures are logged and joined
// into the returned error. Safe to call any number of times, from any state,
// including while Start is in progress.
func (s *CaptureSession) Stop() error {
	s.mutex.Lock()
	run := s.run
	if run == nil {
		s.mutex.Unlock()
		return nil
	}
	microphone, link := run.microphone, run.link
	s.abandon(run, StateStopped)
	s.mutex.Unlock()

	return s.teardown(run, microphone, link, false)
}

// Detach run from the session and release its callback. Must hold the mutex.
func (s *CaptureSession) abandon(run *captureRun, state State) {
	s.run = nil
	close(run.released)
	s.setState(state)
}

// Called from the pump when the capture ends on its own.
func (s *CaptureSession) finish(run *captureRun, state State, cause error) {
	s.mutex.Lock()
	if s.run != run {
		// Stop got here first
		s.mutex.Unlock()
		return
	}
	microphone, link := run.microphone, run.link
	s.abandon(run, state)
	s.mutex.Unlock()

	if cause != nil {
		s.logger.Warn("capture ended", "state", state.String(), "err", cause)
	} else {
		s.logger.Info("capture ended", "state", state.String())
	}
	s.teardown(run, microphone, link, true)
}

// Release the resources of a run whose callback is already released.
func (s *CaptureSession) teardown(
	run *captureRun,
	microphone audiodevice.AudioSourceDevice,
	link networking.Link,
	fromPump bool,
) error {
	var errs []error

	errs = append(errs, guard(s.logger, "disconnect processing chain", func() error {
		run.cancelDial()
		if run.pumpExited != nil && !fromPump {
			<-run.pumpExited
		}
		return nil
	}))
	if microphone != nil {
		errs = append(errs, guard(s.logger, "close microphone", microphone.Close))
	}
	if link != nil {
		errs = append(errs, guard(s.logger, "close link", link.Close))
	}

	stats := s.Stats()
	s.logger.Debug("capture torn down", "framesSent", stats.FramesSent, "framesDropped", stats.FramesDropped)
	return errors.Join(errs...)
}

// Run one teardown step, turning a panic into an error so later steps still run.
func guard(logger *slog.Logger, step string, f func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s: panic: %v", step, r)
		}
		if err != nil {
			logger.Warn("teardown step failed", "step", step, "err", err)
		}
	}()
	if stepErr := f(); stepErr != nil {
		return fmt.Errorf("%s: %w", step, stepErr)
	}
	return nil
}

// --------------------------------------------------------------------------------
// Pump

func (s *CaptureSession) pump(run *captureRun, microphone audiodevice.AudioSourceDevice, link networking.Link) {
	defer close(run.pumpExited)

	blocks := microphone.GetStream()
	events := link.Events()
	for {
		select {
		case <-run.released:
			return

		case block, ok := <-blocks:
			if !ok {
				s.finish(run, StateStopped, nil)
				return
			}
			s.processBlock(run, link, block)

		case event, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			switch event.State {
			case networking.ConnectionClosed:
				s.finish(run, StateStopped, nil)
				return
			case networking.ConnectionError:
				s.finish(run, StateError, &LinkError{Err: event.Err})
				return
			}
		}
	}
}

// The per-block callback. Never blocks on the network.
func (s *CaptureSession) processBlock(run *captureRun, link networking.Link, block frame.PCMFrame) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	select {
	case <-run.released:
		return
	default:
	}

	out := s.decimator.Push(block)
	s.observer.OnLevel(dsp.LevelPercent(dsp.Measure(out), s.options.LevelScale))

	if len(out) == 0 || link.State() != networking.ConnectionConnected {
		return
	}
	if !link.Send(out.Bytes()) {
		dropped := s.framesDropped.Add(1)
		s.logger.Debug("frame dropped", "samples", len(out), "dropped", dropped)
		return
	}
	s.framesSent.Add(1)

	if s.options.Recorder != nil {
		s.options.Recorder.Write(out)
	}
}
