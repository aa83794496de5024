package device

import (
	"context"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
	"github.com/rs/zerolog"

	"github.com/psysense/voice-coach/internal/audio"
	"github.com/psysense/voice-coach/internal/media"
)

const (
	captureFramesPerBuffer  = 1024
	playbackFramesPerBuffer = 480 // 20ms at 24 kHz
)

var _ media.Devices = (*Host)(nil)

// Host owns PortAudio for the process and opens the default devices.
// It has no camera.
type Host struct {
	logger zerolog.Logger

	mu     sync.Mutex
	closed bool
}

// OpenHost initializes PortAudio
func OpenHost(logger zerolog.Logger) (*Host, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize portaudio: %w", err)
	}
	return &Host{logger: logger.With().Str("component", "portaudio").Logger()}, nil
}

// Close terminates PortAudio. Streams must be stopped first.
func (h *Host) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	return portaudio.Terminate()
}

// OpenMicrophone opens the default input device at its native rate
func (h *Host) OpenMicrophone(ctx context.Context) (media.Microphone, error) {
	info, err := portaudio.DefaultInputDevice()
	if err != nil || info == nil {
		return nil, fmt.Errorf("%w: no default input device: %v", media.ErrDeviceNotFound, err)
	}

	rate := info.DefaultSampleRate
	if rate <= 0 {
		rate = audio.CaptureSampleRate
	}
	buf := make([]float32, captureFramesPerBuffer)
	stream, err := portaudio.OpenDefaultStream(1, 0, rate, len(buf), buf)
	if err != nil {
		return nil, fmt.Errorf("%w: open input stream on %s: %v", media.ErrPermissionDenied, info.Name, err)
	}

	h.logger.Info().Str("device", info.Name).Float64("sample_rate", rate).Msg("Microphone opened")
	return &microphone{
		stream: stream,
		buf:    buf,
		rate:   int(rate),
		logger: h.logger,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}, nil
}

// OpenCamera always fails: terminal sessions are audio-only
func (h *Host) OpenCamera(ctx context.Context) (media.Camera, error) {
	return nil, media.ErrDeviceNotFound
}

// OpenSpeaker plays the output graph through the default output device.
// PortAudio's callback pulls the mixer, so the device drives the graph clock.
func (h *Host) OpenSpeaker(ctx context.Context, output *audio.Mixer) (media.Track, error) {
	stream, err := portaudio.OpenDefaultStream(0, 1, float64(output.SampleRate()), playbackFramesPerBuffer,
		func(out []float32) {
			output.Render(out)
		})
	if err != nil {
		return nil, fmt.Errorf("%w: open output stream: %v", media.ErrDeviceNotFound, err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("start output stream: %w", err)
	}
	return &speaker{stream: stream, logger: h.logger}, nil
}

type microphone struct {
	stream *portaudio.Stream
	buf    []float32
	rate   int
	logger zerolog.Logger

	startOnce sync.Once
	stopOnce  sync.Once
	started   bool
	stop      chan struct{}
	done      chan struct{}
}

func (m *microphone) SampleRate() int {
	return m.rate
}

func (m *microphone) Start(sink func(samples []float32)) error {
	var err error
	m.startOnce.Do(func() {
		if err = m.stream.Start(); err != nil {
			err = fmt.Errorf("start input stream: %w", err)
			return
		}
		m.started = true
		go m.readLoop(sink)
	})
	return err
}

func (m *microphone) readLoop(sink func(samples []float32)) {
	defer close(m.done)
	for {
		select {
		case <-m.stop:
			return
		default:
		}
		if err := m.stream.Read(); err != nil {
			// Overflow drops one buffer; anything else ends capture
			if err == portaudio.InputOverflowed {
				continue
			}
			m.logger.Warn().Err(err).Msg("Microphone read failed")
			return
		}
		samples := make([]float32, len(m.buf))
		copy(samples, m.buf)
		sink(samples)
	}
}

func (m *microphone) Stop() {
	m.stopOnce.Do(func() {
		close(m.stop)
		// Prevent a later Start from launching a loop after Stop
		m.startOnce.Do(func() {})
		if m.started {
			<-m.done
			m.stream.Stop()
		}
		m.stream.Close()
	})
}

type speaker struct {
	stream *portaudio.Stream
	logger zerolog.Logger
	once   sync.Once
}

func (s *speaker) Stop() {
	s.once.Do(func() {
		if err := s.stream.Stop(); err != nil {
			s.logger.Debug().Err(err).Msg("Stopping output stream")
		}
		s.stream.Close()
	})
}
