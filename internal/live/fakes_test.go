package live

import (
	"context"
	"errors"
	"image"
	"image/color"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/psysense/voice-coach/internal/audio"
	"github.com/psysense/voice-coach/internal/coach"
	"github.com/psysense/voice-coach/internal/media"
)

var errStreamClosed = errors.New("stream closed")

// fakeMic pushes frames of a constant, increasing value every period
type fakeMic struct {
	rate      int
	frameSize int
	period    time.Duration

	stopped atomic.Bool
	seq     atomic.Int64
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
	started atomic.Bool
}

func newFakeMic() *fakeMic {
	return &fakeMic{
		rate:      audio.CaptureSampleRate,
		frameSize: 320,
		period:    5 * time.Millisecond,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

func (m *fakeMic) SampleRate() int {
	return m.rate
}

func (m *fakeMic) Start(sink func([]float32)) error {
	m.started.Store(true)
	go func() {
		defer close(m.done)
		ticker := time.NewTicker(m.period)
		defer ticker.Stop()
		for {
			select {
			case <-m.stop:
				return
			case <-ticker.C:
				n := m.seq.Add(1)
				frame := make([]float32, m.frameSize)
				for i := range frame {
					frame[i] = float32(n%900) / 1000
				}
				sink(frame)
			}
		}
	}()
	return nil
}

func (m *fakeMic) Stop() {
	m.once.Do(func() {
		m.stopped.Store(true)
		close(m.stop)
		if m.started.Load() {
			<-m.done
		}
	})
}

type fakeCam struct {
	stopped atomic.Bool
}

func (c *fakeCam) Frame() (image.Image, bool) {
	img := image.NewRGBA(image.Rect(0, 0, 32, 24))
	for y := 0; y < 24; y++ {
		for x := 0; x < 32; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 120, B: 40, A: 255})
		}
	}
	return img, true
}

func (c *fakeCam) Stop() {
	c.stopped.Store(true)
}

// fakeSpeaker paces the output graph in real time until stopped
type fakeSpeaker struct {
	cancel  context.CancelFunc
	done    chan struct{}
	stopped atomic.Bool
	once    sync.Once
}

func (s *fakeSpeaker) Stop() {
	s.once.Do(func() {
		s.stopped.Store(true)
		s.cancel()
		<-s.done
	})
}

type fakeDevices struct {
	micErr     error
	camErr     error
	speakerErr error

	mu       sync.Mutex
	mics     []*fakeMic
	cams     []*fakeCam
	speakers []*fakeSpeaker
	outputs  []*audio.Mixer
	micOpens int
}

func (d *fakeDevices) OpenMicrophone(ctx context.Context) (media.Microphone, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.micOpens++
	if d.micErr != nil {
		return nil, d.micErr
	}
	m := newFakeMic()
	d.mics = append(d.mics, m)
	return m, nil
}

func (d *fakeDevices) OpenCamera(ctx context.Context) (media.Camera, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.camErr != nil {
		return nil, d.camErr
	}
	c := &fakeCam{}
	d.cams = append(d.cams, c)
	return c, nil
}

func (d *fakeDevices) OpenSpeaker(ctx context.Context, output *audio.Mixer) (media.Track, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.speakerErr != nil {
		return nil, d.speakerErr
	}
	pctx, cancel := context.WithCancel(context.Background())
	s := &fakeSpeaker{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(s.done)
		output.Pace(pctx, 10*time.Millisecond, nil)
	}()
	d.speakers = append(d.speakers, s)
	d.outputs = append(d.outputs, output)
	return s, nil
}

func (d *fakeDevices) lastMic() *fakeMic {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.mics) == 0 {
		return nil
	}
	return d.mics[len(d.mics)-1]
}

func (d *fakeDevices) lastOutput() *audio.Mixer {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.outputs) == 0 {
		return nil
	}
	return d.outputs[len(d.outputs)-1]
}

func (d *fakeDevices) allStopped() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, m := range d.mics {
		if !m.stopped.Load() {
			return false
		}
	}
	for _, c := range d.cams {
		if !c.stopped.Load() {
			return false
		}
	}
	for _, s := range d.speakers {
		if !s.stopped.Load() {
			return false
		}
	}
	return true
}

// fakeStream records sent frames and replays scripted inbound messages
type fakeStream struct {
	inbound chan []InboundMessage
	ended   chan error

	mu            sync.Mutex
	audio         []audio.Frame
	video         [][]byte
	closed        bool
	sendsAfterEnd int
	closeOnce     sync.Once
	closedCh      chan struct{}

	// With blockSends set, SendAudio hangs until Close, like a write on a
	// stalled connection
	blockSends bool
	sendOnce   sync.Once
	sending    chan struct{}
}

func newFakeStream() *fakeStream {
	return &fakeStream{
		inbound:  make(chan []InboundMessage, 16),
		ended:    make(chan error, 1),
		closedCh: make(chan struct{}),
		sending:  make(chan struct{}),
	}
}

func (s *fakeStream) SendAudio(frame audio.Frame) error {
	if s.blockSends {
		s.sendOnce.Do(func() { close(s.sending) })
		<-s.closedCh
		return errStreamClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		s.sendsAfterEnd++
		return errStreamClosed
	}
	s.audio = append(s.audio, frame)
	return nil
}

func (s *fakeStream) SendVideo(jpeg []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		s.sendsAfterEnd++
		return errStreamClosed
	}
	s.video = append(s.video, jpeg)
	return nil
}

func (s *fakeStream) Receive() ([]InboundMessage, error) {
	select {
	case msgs := <-s.inbound:
		return msgs, nil
	case err := <-s.ended:
		return nil, err
	case <-s.closedCh:
		return nil, errStreamClosed
	}
}

func (s *fakeStream) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.closedCh)
	})
	return nil
}

// serverClose ends the session from the remote side
func (s *fakeStream) serverClose() {
	s.ended <- io.EOF
}

func (s *fakeStream) push(msgs ...InboundMessage) {
	s.inbound <- msgs
}

func (s *fakeStream) audioFrames() []audio.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]audio.Frame, len(s.audio))
	copy(out, s.audio)
	return out
}

func (s *fakeStream) videoFrames() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.video)
}

func (s *fakeStream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// fakeDialer hands out fake streams. With block set, Dial waits for
// release or for ctx.
type fakeDialer struct {
	err        error
	block      bool
	blockSends bool
	release    chan struct{}

	mu       sync.Mutex
	dials    int
	requests []DialRequest
	streams  []*fakeStream
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{release: make(chan struct{})}
}

func (d *fakeDialer) Dial(ctx context.Context, req DialRequest) (Stream, error) {
	d.mu.Lock()
	d.dials++
	d.requests = append(d.requests, req)
	d.mu.Unlock()

	if d.block {
		select {
		case <-d.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if d.err != nil {
		return nil, d.err
	}
	s := newFakeStream()
	s.blockSends = d.blockSends
	d.mu.Lock()
	d.streams = append(d.streams, s)
	d.mu.Unlock()
	return s, nil
}

func (d *fakeDialer) factory() DialerFactory {
	return func(ctx context.Context) (Dialer, error) {
		return d, nil
	}
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) lastStream() *fakeStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.streams) == 0 {
		return nil
	}
	return d.streams[len(d.streams)-1]
}

func (d *fakeDialer) lastRequest() DialRequest {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.requests) == 0 {
		return DialRequest{}
	}
	return d.requests[len(d.requests)-1]
}

// recorder collects callbacks
type recorder struct {
	mu          sync.Mutex
	states      []State
	volumes     int
	transcripts []transcriptCall
	tones       []Tone
	errs        []error
	activity    int
}

type transcriptCall struct {
	speaker coach.Speaker
	text    string
	final   bool
}

func (r *recorder) callbacks() Callbacks {
	return Callbacks{
		OnStatusChange: func(s State) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.states = append(r.states, s)
		},
		OnVolumeChange: func(in, out uint8) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.volumes++
		},
		OnTranscript: func(speaker coach.Speaker, text string, final bool) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.transcripts = append(r.transcripts, transcriptCall{speaker, text, final})
		},
		OnToneChange: func(t Tone) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.tones = append(r.tones, t)
		},
		OnError: func(err error) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.errs = append(r.errs, err)
		},
		OnActivity: func(coach.Speaker, bool) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.activity++
		},
	}
}

func (r *recorder) volumeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.volumes
}

func (r *recorder) transcriptCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.transcripts)
}

func (r *recorder) errorList() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

func (r *recorder) stateList() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.states...)
}

func (r *recorder) toneList() []Tone {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Tone(nil), r.tones...)
}

type harness struct {
	ctrl    *Controller
	dialer  *fakeDialer
	devices *fakeDevices
	rec     *recorder
}

func newHarness(t *testing.T, tweak func(*Options)) *harness {
	t.Helper()
	h := &harness{
		dialer:  newFakeDialer(),
		devices: &fakeDevices{},
		rec:     &recorder{},
	}
	logger := zerolog.Nop()
	opts := Options{
		Dialers:        h.dialer.factory(),
		Devices:        h.devices,
		Callbacks:      h.rec.callbacks(),
		Logger:         &logger,
		FrameSize:      320,
		VolumeInterval: 50 * time.Millisecond,
		Pipeline: media.PipelineConfig{
			VideoInterval: 20 * time.Millisecond,
			Quality:       media.StreamQuality,
			MaxWidth:      media.DefaultMaxWidth,
		},
	}
	if tweak != nil {
		tweak(&opts)
	}
	h.ctrl = New(opts)
	t.Cleanup(h.ctrl.Close)
	return h
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}
