package gateway

import (
	"context"
	"encoding/base64"
	"image"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/psysense/voice-coach/internal/audio"
	"github.com/psysense/voice-coach/internal/media"
)

const playbackPeriod = 20 * time.Millisecond

// browserDevices are the capture and playback endpoints of one websocket
// client. Microphone samples and camera frames arrive as client messages;
// playback leaves as audio messages paced by the output graph.
type browserDevices struct {
	send   func(v any) error
	logger zerolog.Logger

	mu     sync.Mutex
	camera bool
	frame  image.Image
	mic    *browserMic
}

func newBrowserDevices(send func(v any) error, logger zerolog.Logger) *browserDevices {
	return &browserDevices{send: send, logger: logger}
}

// setCamera records whether the browser granted camera access
func (d *browserDevices) setCamera(available bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.camera = available
	if !available {
		d.frame = nil
	}
}

// pushAudio delivers microphone samples to the open microphone, if any.
// It is only called from the websocket read loop.
func (d *browserDevices) pushAudio(samples []float32) {
	d.mu.Lock()
	mic := d.mic
	d.mu.Unlock()
	if mic != nil {
		mic.deliver(samples)
	}
}

// pushFrame stores the latest camera frame
func (d *browserDevices) pushFrame(img image.Image) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.camera {
		d.frame = img
	}
}

func (d *browserDevices) latestFrame() (image.Image, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.frame, d.frame != nil
}

// OpenMicrophone implements media.Devices
func (d *browserDevices) OpenMicrophone(ctx context.Context) (media.Microphone, error) {
	mic := &browserMic{owner: d}
	d.mu.Lock()
	d.mic = mic
	d.mu.Unlock()
	return mic, nil
}

// OpenCamera implements media.Devices
func (d *browserDevices) OpenCamera(ctx context.Context) (media.Camera, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.camera {
		return nil, media.ErrDeviceNotFound
	}
	return &browserCamera{owner: d}, nil
}

// OpenSpeaker implements media.Devices. The mixer is rendered in real time
// and every audible block is sent to the browser.
func (d *browserDevices) OpenSpeaker(ctx context.Context, output *audio.Mixer) (media.Track, error) {
	pctx, cancel := context.WithCancel(context.Background())
	sp := &browserSpeaker{cancel: cancel, done: make(chan struct{})}
	rate := output.SampleRate()

	go func() {
		defer close(sp.done)
		output.Pace(pctx, playbackPeriod, func(block []float32) {
			frame := audio.Encode(block, rate)
			err := d.send(audioMessage{
				Type:       TypeAudio,
				Data:       base64.StdEncoding.EncodeToString(frame.Data),
				SampleRate: rate,
			})
			if err != nil {
				d.logger.Debug().Err(err).Msg("Failed to send playback audio")
			}
		})
	}()
	return sp, nil
}

func (d *browserDevices) releaseMic(mic *browserMic) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.mic == mic {
		d.mic = nil
	}
}

type browserMic struct {
	owner *browserDevices

	mu      sync.Mutex
	sink    func(samples []float32)
	stopped bool
}

func (m *browserMic) SampleRate() int {
	return audio.CaptureSampleRate
}

func (m *browserMic) Start(sink func(samples []float32)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.stopped && m.sink == nil {
		m.sink = sink
	}
	return nil
}

// deliver holds the lock across the sink so no sample arrives after Stop returns
func (m *browserMic) deliver(samples []float32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped || m.sink == nil {
		return
	}
	m.sink(samples)
}

func (m *browserMic) Stop() {
	m.mu.Lock()
	m.stopped = true
	m.sink = nil
	m.mu.Unlock()
	m.owner.releaseMic(m)
}

type browserCamera struct {
	owner *browserDevices
}

func (c *browserCamera) Frame() (image.Image, bool) {
	return c.owner.latestFrame()
}

func (c *browserCamera) Stop() {}

type browserSpeaker struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func (s *browserSpeaker) Stop() {
	s.once.Do(func() {
		s.cancel()
		<-s.done
	})
}

var _ media.Devices = (*browserDevices)(nil)
