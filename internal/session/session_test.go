package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Honorable-Knights-of-the-Roundtable/speakup/internal/networking"
	"github.com/Honorable-Knights-of-the-Roundtable/speakup/pkg/audiodevice"
	"github.com/Honorable-Knights-of-the-Roundtable/speakup/pkg/audiodevice/device"
	"github.com/Honorable-Knights-of-the-Roundtable/speakup/pkg/frame"
)

// --------------------------------------------------------------------------------
// Fakes

type fakeLink struct {
	state  atomic.Int32
	events chan networking.LinkEvent

	mu         sync.Mutex
	sent       []frame.PCMFrame
	closeCalls int
	panicClose bool
}

func newFakeLink() *fakeLink {
	l := &fakeLink{events: make(chan networking.LinkEvent, 2)}
	l.state.Store(int32(networking.ConnectionConnected))
	l.events <- networking.LinkEvent{State: networking.ConnectionConnected}
	return l
}

func (l *fakeLink) Send(payload []byte) bool {
	if l.State() != networking.ConnectionConnected {
		return false
	}
	f, err := frame.FromBytes(payload)
	if err != nil {
		panic(err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sent = append(l.sent, f)
	return true
}

func (l *fakeLink) State() networking.ConnectionState {
	return networking.ConnectionState(l.state.Load())
}

func (l *fakeLink) Events() <-chan networking.LinkEvent {
	return l.events
}

func (l *fakeLink) Close() error {
	l.mu.Lock()
	l.closeCalls++
	panicClose := l.panicClose
	l.mu.Unlock()
	if panicClose {
		panic("link exploded")
	}
	l.state.Store(int32(networking.ConnectionClosed))
	return nil
}

// Simulate the server ending the link.
func (l *fakeLink) terminate(err error) {
	event := networking.LinkEvent{State: networking.ConnectionClosed}
	if err != nil {
		event = networking.LinkEvent{State: networking.ConnectionError, Err: err}
	}
	l.state.Store(int32(event.State))
	l.events <- event
}

func (l *fakeLink) frames() []frame.PCMFrame {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]frame.PCMFrame(nil), l.sent...)
}

func (l *fakeLink) closes() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closeCalls
}

type fakeDialer struct {
	mu    sync.Mutex
	links []*fakeLink
	names []string
	err   error

	// When set, Dial signals entered and waits for release or ctx
	entered      chan struct{}
	release      chan struct{}
	ignoreCancel bool
}

func (d *fakeDialer) Dial(ctx context.Context, name string) (networking.Link, error) {
	d.mu.Lock()
	d.names = append(d.names, name)
	entered, release, err := d.entered, d.release, d.err
	done := ctx.Done()
	if d.ignoreCancel {
		done = nil
	}
	d.mu.Unlock()

	if entered != nil {
		close(entered)
		select {
		case <-release:
		case <-done:
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

	link := newFakeLink()
	d.mu.Lock()
	d.links = append(d.links, link)
	d.mu.Unlock()
	return link, nil
}

func (d *fakeDialer) lastLink() *fakeLink {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.links) == 0 {
		return nil
	}
	return d.links[len(d.links)-1]
}

type recordingObserver struct {
	mu     sync.Mutex
	states []State
	levels []int
}

func (o *recordingObserver) OnStateChange(state State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.states = append(o.states, state)
}

func (o *recordingObserver) OnLevel(percent int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.levels = append(o.levels, percent)
}

func (o *recordingObserver) snapshot() ([]State, []int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]State(nil), o.states...), append([]int(nil), o.levels...)
}

var monoSource = audiodevice.DeviceProperties{SampleRate: 48000, NumChannels: 1}

// Hands out a fresh dummy microphone on every open and remembers each one.
type microphones struct {
	mu         sync.Mutex
	properties audiodevice.DeviceProperties
	opened     []*device.DummyAudioSourceDevice
	err        error
}

func (m *microphones) open() (audiodevice.AudioSourceDevice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	d := device.NewDummyAudioSourceDevice(m.properties, 8)
	m.opened = append(m.opened, d)
	return d, nil
}

func (m *microphones) last() *device.DummyAudioSourceDevice {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opened[len(m.opened)-1]
}

func ramp(start, n int) frame.PCMFrame {
	f := make(frame.PCMFrame, n)
	for i := range f {
		f[i] = float32(start+i) / 100000
	}
	return f
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func newTestSession(t *testing.T, mics *microphones, dialer *fakeDialer, observer Observer, options Options) *CaptureSession {
	t.Helper()
	s, err := NewCaptureSession(mics.open, dialer, observer, options)
	if err != nil {
		t.Fatalf("NewCaptureSession: %v", err)
	}
	t.Cleanup(func() { s.Stop() })
	return s
}

// --------------------------------------------------------------------------------
// Tests

func TestStateString(t *testing.T) {
	for state, want := range map[State]string{
		StateIdle:       "idle",
		StateConnecting: "connecting",
		StateStreaming:  "streaming",
		StateStopped:    "stopped",
		StateError:      "error",
	} {
		if got := state.String(); got != want {
			t.Errorf("String() = %q, want %q", got, want)
		}
	}
}

func TestNewCaptureSessionRejectsBadRates(t *testing.T) {
	mics := &microphones{properties: monoSource}
	if _, err := NewCaptureSession(mics.open, &fakeDialer{}, nil, Options{SourceRate: 16000, TargetRate: 48000}); err == nil {
		t.Fatal("expected error for upsampling rates")
	}
}

func TestSessionStreamsDecimatedFrames(t *testing.T) {
	mics := &microphones{properties: monoSource}
	dialer := &fakeDialer{}
	observer := &recordingObserver{}
	recorder := device.NewDummyAudioSinkDevice(audiodevice.DeviceProperties{SampleRate: 16000, NumChannels: 1})
	s := newTestSession(t, mics, dialer, observer, Options{Name: "Ana", Recorder: recorder})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if s.State() != StateStreaming {
		t.Fatalf("State() = %v, want streaming", s.State())
	}

	mic := mics.last()
	for i := range 3 {
		mic.Deliver(ramp(i*1024, 1024))
	}

	link := dialer.lastLink()
	eventually(t, "three frames", func() bool { return len(link.frames()) == 3 })

	// 3072 input samples at ratio 3 yield samples 0, 3, 6, ... in lengths 341, 341, 342
	wantLens := []int{341, 341, 342}
	next := 0
	for i, f := range link.frames() {
		if len(f) != wantLens[i] {
			t.Fatalf("frame %d has %d samples, want %d", i, len(f), wantLens[i])
		}
		for _, sample := range f {
			if want := float32(next) / 100000; sample != want {
				t.Fatalf("frame %d sample = %v, want %v", i, sample, want)
			}
			next += 3
		}
	}

	if dialer.names[0] != "Ana" {
		t.Fatalf("dialed as %q", dialer.names[0])
	}
	states, levels := observer.snapshot()
	if len(states) != 2 || states[0] != StateConnecting || states[1] != StateStreaming {
		t.Fatalf("states = %v", states)
	}
	if len(levels) != 3 {
		t.Fatalf("levels = %v, want one per block", levels)
	}
	eventually(t, "recorded frames", func() bool { return len(recorder.Frames()) == 3 })
	if stats := s.Stats(); stats.FramesSent != 3 || stats.FramesDropped != 0 {
		t.Fatalf("Stats() = %+v", stats)
	}
}

func TestSessionNeverSendsEmptyFrames(t *testing.T) {
	mics := &microphones{properties: monoSource}
	dialer := &fakeDialer{}
	observer := &recordingObserver{}
	s := newTestSession(t, mics, dialer, observer, Options{})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	mic := mics.last()
	mic.Deliver(frame.PCMFrame{0.5, 0.5})
	eventually(t, "level for short block", func() bool {
		_, levels := observer.snapshot()
		return len(levels) == 1
	})

	if frames := dialer.lastLink().frames(); len(frames) != 0 {
		t.Fatalf("sent %v, want nothing", frames)
	}
	if _, levels := observer.snapshot(); levels[0] != 0 {
		t.Fatalf("level = %d, want 0 for an empty frame", levels[0])
	}

	// The two retained samples lead the next frame
	mic.Deliver(frame.PCMFrame{0.25})
	eventually(t, "frame after leftover", func() bool { return len(dialer.lastLink().frames()) == 1 })
	if f := dialer.lastLink().frames()[0]; len(f) != 1 || f[0] != 0.5 {
		t.Fatalf("frame = %v, want [0.5]", f)
	}
}

func TestSessionDoesNotSendUnlessConnected(t *testing.T) {
	mics := &microphones{properties: monoSource}
	dialer := &fakeDialer{}
	observer := &recordingObserver{}
	s := newTestSession(t, mics, dialer, observer, Options{})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	link := dialer.lastLink()
	link.state.Store(int32(networking.ConnectionConnecting))

	mics.last().Deliver(ramp(0, 300))
	eventually(t, "level", func() bool {
		_, levels := observer.snapshot()
		return len(levels) == 1
	})
	if len(link.frames()) != 0 {
		t.Fatal("frame sent on a link that is not connected")
	}
	if stats := s.Stats(); stats.FramesDropped != 0 {
		t.Fatalf("Stats() = %+v, want no drops counted", stats)
	}
}

func TestSessionDoubleStop(t *testing.T) {
	mics := &microphones{properties: monoSource}
	dialer := &fakeDialer{}
	s := newTestSession(t, mics, dialer, nil, Options{})

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop before Start: %v", err)
	}
	if s.State() != StateIdle {
		t.Fatalf("State() = %v, want idle", s.State())
	}

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}

	if s.State() != StateStopped {
		t.Fatalf("State() = %v, want stopped", s.State())
	}
	if mics.last().Deliver(frame.PCMFrame{1}) {
		t.Fatal("microphone still open after Stop")
	}
	if n := dialer.lastLink().closes(); n != 1 {
		t.Fatalf("link closed %d times, want 1", n)
	}
}

func TestSessionSendsNothingAfterStop(t *testing.T) {
	mics := &microphones{properties: monoSource}
	dialer := &fakeDialer{}
	s := newTestSession(t, mics, dialer, nil, Options{})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	mic := mics.last()
	link := dialer.lastLink()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; mic.Deliver(ramp(i, 96)); i++ {
		}
	}()
	eventually(t, "some frames", func() bool { return len(link.frames()) > 0 })

	s.Stop()
	sentAtStop := len(link.frames())
	<-done
	time.Sleep(10 * time.Millisecond)
	if got := len(link.frames()); got != sentAtStop {
		t.Fatalf("%d frames sent after Stop returned", got-sentAtStop)
	}
}

func TestSessionStopBeforeStartCompletes(t *testing.T) {
	mics := &microphones{properties: monoSource}
	dialer := &fakeDialer{
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	observer := &recordingObserver{}
	s := newTestSession(t, mics, dialer, observer, Options{})

	result := make(chan error, 1)
	go func() { result <- s.Start(context.Background()) }()

	<-dialer.entered
	if s.State() != StateConnecting {
		t.Fatalf("State() = %v, want connecting", s.State())
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	select {
	case err := <-result:
		if !errors.Is(err, ErrSessionStopped) {
			t.Fatalf("Start returned %v, want ErrSessionStopped", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after Stop")
	}

	if s.State() != StateStopped {
		t.Fatalf("State() = %v, want stopped", s.State())
	}
	if mics.last().Deliver(frame.PCMFrame{1}) {
		t.Fatal("microphone still open after Stop")
	}
	states, _ := observer.snapshot()
	if len(states) != 2 || states[1] != StateStopped {
		t.Fatalf("states = %v", states)
	}
}

func TestSessionStopWhileDialReturnsLink(t *testing.T) {
	mics := &microphones{properties: monoSource}
	// The link is created only after Stop has returned
	dialer := &fakeDialer{
		entered:      make(chan struct{}),
		release:      make(chan struct{}),
		ignoreCancel: true,
	}
	s := newTestSession(t, mics, dialer, nil, Options{})

	result := make(chan error, 1)
	go func() { result <- s.Start(context.Background()) }()
	<-dialer.entered

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	close(dialer.release)

	if err := <-result; !errors.Is(err, ErrSessionStopped) {
		t.Fatalf("Start returned %v, want ErrSessionStopped", err)
	}
	link := dialer.lastLink()
	if link == nil || link.closes() != 1 {
		t.Fatal("link opened after Stop was not closed")
	}
	if s.State() != StateStopped {
		t.Fatalf("State() = %v, want stopped", s.State())
	}
}

func TestSessionStartTwice(t *testing.T) {
	mics := &microphones{properties: monoSource}
	s := newTestSession(t, mics, &fakeDialer{}, nil, Options{})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("second Start = %v, want ErrAlreadyStarted", err)
	}
}

func TestSessionLinkClosedStops(t *testing.T) {
	mics := &microphones{properties: monoSource}
	dialer := &fakeDialer{}
	s := newTestSession(t, mics, dialer, nil, Options{})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	dialer.lastLink().terminate(nil)

	eventually(t, "stopped state", func() bool { return s.State() == StateStopped })
	eventually(t, "microphone closed", func() bool { return !mics.last().Deliver(frame.PCMFrame{1}) })
	eventually(t, "link closed", func() bool { return dialer.lastLink().closes() == 1 })
}

func TestSessionLinkErrorFails(t *testing.T) {
	mics := &microphones{properties: monoSource}
	dialer := &fakeDialer{}
	s := newTestSession(t, mics, dialer, nil, Options{})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	dialer.lastLink().terminate(errors.New("connection reset"))

	eventually(t, "error state", func() bool { return s.State() == StateError })
	eventually(t, "microphone closed", func() bool { return !mics.last().Deliver(frame.PCMFrame{1}) })
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop after failure: %v", err)
	}
	if s.State() != StateError {
		t.Fatalf("Stop changed state to %v", s.State())
	}
}

func TestSessionMicrophoneEndStops(t *testing.T) {
	mics := &microphones{properties: monoSource}
	dialer := &fakeDialer{}
	s := newTestSession(t, mics, dialer, nil, Options{})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	mics.last().Close()

	eventually(t, "stopped state", func() bool { return s.State() == StateStopped })
	eventually(t, "link closed", func() bool { return dialer.lastLink().closes() == 1 })
}

func TestSessionRestartResetsDecimator(t *testing.T) {
	mics := &microphones{properties: monoSource}
	dialer := &fakeDialer{}
	s := newTestSession(t, mics, dialer, nil, Options{})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	mics.last().Deliver(ramp(0, 1000))
	eventually(t, "first frame", func() bool { return len(dialer.lastLink().frames()) == 1 })
	s.Stop()

	s.mutex.Lock()
	leftover := s.decimator.Leftover()
	s.mutex.Unlock()
	if leftover == 0 {
		t.Fatal("expected samples left over from the first capture")
	}

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("restart: %v", err)
	}
	s.mutex.Lock()
	leftover = s.decimator.Leftover()
	s.mutex.Unlock()
	if leftover != 0 {
		t.Fatalf("leftover after restart = %d, want 0", leftover)
	}

	mics.last().Deliver(frame.PCMFrame{0.9, 0.8, 0.7})
	eventually(t, "frame after restart", func() bool { return len(dialer.lastLink().frames()) == 1 })
	if f := dialer.lastLink().frames()[0]; len(f) != 1 || f[0] != 0.9 {
		t.Fatalf("frame after restart = %v, want [0.9]", f)
	}
}

func TestSessionDeviceError(t *testing.T) {
	mics := &microphones{properties: monoSource, err: errors.New("permission denied")}
	dialer := &fakeDialer{}
	s := newTestSession(t, mics, dialer, nil, Options{})

	err := s.Start(context.Background())
	var deviceErr *DeviceError
	if !errors.As(err, &deviceErr) {
		t.Fatalf("Start = %v, want *DeviceError", err)
	}
	if s.State() != StateError {
		t.Fatalf("State() = %v, want error", s.State())
	}
	if len(dialer.names) != 0 {
		t.Fatal("link dialed without a microphone")
	}
}

func TestSessionLinkErrorOnStart(t *testing.T) {
	mics := &microphones{properties: monoSource}
	dialer := &fakeDialer{err: errors.New("refused")}
	s := newTestSession(t, mics, dialer, nil, Options{})

	err := s.Start(context.Background())
	var linkErr *LinkError
	if !errors.As(err, &linkErr) {
		t.Fatalf("Start = %v, want *LinkError", err)
	}
	if s.State() != StateError {
		t.Fatalf("State() = %v, want error", s.State())
	}
	if mics.last().Deliver(frame.PCMFrame{1}) {
		t.Fatal("microphone left open after link failure")
	}
}

func TestSessionTeardownContinuesPastPanics(t *testing.T) {
	mics := &microphones{properties: monoSource}
	dialer := &fakeDialer{}
	s := newTestSession(t, mics, dialer, nil, Options{})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	link := dialer.lastLink()
	link.mu.Lock()
	link.panicClose = true
	link.mu.Unlock()

	if err := s.Stop(); err == nil {
		t.Fatal("Stop should report the failed step")
	}
	if mics.last().Deliver(frame.PCMFrame{1}) {
		t.Fatal("microphone left open")
	}
	if s.State() != StateStopped {
		t.Fatalf("State() = %v, want stopped", s.State())
	}
}

func TestSessionNormalizesMicrophoneFormat(t *testing.T) {
	mics := &microphones{properties: audiodevice.DeviceProperties{SampleRate: 48000, NumChannels: 2}}
	dialer := &fakeDialer{}
	s := newTestSession(t, mics, dialer, nil, Options{})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Interleaved stereo, left 0.2 and right 0.4 throughout
	block := make(frame.PCMFrame, 2*96)
	for i := 0; i < len(block); i += 2 {
		block[i], block[i+1] = 0.2, 0.4
	}
	mics.last().Deliver(block)

	eventually(t, "frame", func() bool { return len(dialer.lastLink().frames()) == 1 })
	f := dialer.lastLink().frames()[0]
	if len(f) != 32 {
		t.Fatalf("len(frame) = %d, want 32", len(f))
	}
	for _, sample := range f {
		if sample < 0.299 || sample > 0.301 {
			t.Fatalf("sample = %v, want the channel mean 0.3", sample)
		}
	}
}
