package media

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/psysense/voice-coach/internal/audio"
)

// Sender receives encoded media for transmission. The pipeline calls it from
// capture goroutines, so an implementation may only block for a bounded
// time, e.g. while a full outbound queue drains or its session is failed.
type Sender interface {
	SendAudio(frame audio.Frame)
	SendVideo(jpeg []byte)
}

// PipelineConfig holds capture parameters
type PipelineConfig struct {
	VideoInterval time.Duration // Period between streamed snapshots (500ms for 2 fps)
	Quality       int           // JPEG quality of streamed snapshots
	MaxWidth      int           // Width bound for streamed snapshots
}

// DefaultPipelineConfig returns 2 fps video at stream quality
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		VideoInterval: 500 * time.Millisecond,
		Quality:       StreamQuality,
		MaxWidth:      DefaultMaxWidth,
	}
}

// Pipeline wires acquired devices into an input graph and a sender.
// connected is consulted before every transmission; once it reports false
// nothing further is sent.
type Pipeline struct {
	mic       Microphone
	cam       Camera
	input     *audio.InputGraph
	connected func() bool
	sender    Sender
	config    PipelineConfig
	logger    zerolog.Logger

	mu        sync.Mutex
	capturing bool
	videoStop chan struct{}
	videoDone chan struct{}
	stopped   bool
}

// NewPipeline creates a pipeline. cam may be nil for audio-only sessions.
func NewPipeline(mic Microphone, cam Camera, input *audio.InputGraph, connected func() bool, sender Sender, config PipelineConfig, logger zerolog.Logger) *Pipeline {
	if config.VideoInterval <= 0 {
		config.VideoInterval = DefaultPipelineConfig().VideoInterval
	}
	return &Pipeline{
		mic:       mic,
		cam:       cam,
		input:     input,
		connected: connected,
		sender:    sender,
		config:    config,
		logger:    logger.With().Str("component", "capture").Logger(),
	}
}

// HasVideo reports whether a camera was acquired
func (p *Pipeline) HasVideo() bool {
	return p.cam != nil
}

// Camera returns the acquired camera, or nil
func (p *Pipeline) Camera() Camera {
	return p.cam
}

// StartCapture starts the microphone feeding the input graph, resampling
// to the graph rate. Level metering works from here on; nothing is sent.
func (p *Pipeline) StartCapture() error {
	p.mu.Lock()
	if p.capturing || p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.capturing = true
	p.mu.Unlock()

	micRate := p.mic.SampleRate()
	graphRate := p.input.SampleRate()
	return p.mic.Start(func(samples []float32) {
		p.input.Push(audio.Resample(samples, micRate, graphRate))
	})
}

// StreamAudio installs the frame processor that encodes and sends every
// completed capture frame while connected
func (p *Pipeline) StreamAudio() {
	p.mu.Lock()
	stopped := p.stopped
	p.mu.Unlock()
	if stopped {
		return
	}

	rate := p.input.SampleRate()
	p.input.SetProcessor(func(frame []float32) {
		if !p.connected() {
			return
		}
		p.sender.SendAudio(audio.Encode(frame, rate))
	})
}

// StreamVideo starts the throttled snapshot loop; a no-op without a camera
func (p *Pipeline) StreamVideo() {
	if p.cam == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped || p.videoStop != nil {
		return
	}
	p.videoStop = make(chan struct{})
	p.videoDone = make(chan struct{})
	go p.videoLoop(p.videoStop, p.videoDone)
}

func (p *Pipeline) videoLoop(stop, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.config.VideoInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if !p.connected() {
				continue
			}
			jpeg, err := CaptureSnapshot(p.cam, p.config.Quality, p.config.MaxWidth)
			if err != nil {
				p.logger.Debug().Err(err).Msg("Skipping video frame")
				continue
			}
			// Re-check after encoding: teardown may have started meanwhile
			if !p.connected() {
				continue
			}
			p.sender.SendVideo(jpeg)
		}
	}
}

// StopProducing detaches the frame processor and stops the video loop.
// When it returns no capture callback is running.
func (p *Pipeline) StopProducing() {
	p.mu.Lock()
	p.stopped = true
	stop, done := p.videoStop, p.videoDone
	p.videoStop = nil
	p.mu.Unlock()

	p.input.SetProcessor(nil)
	if stop != nil {
		close(stop)
		<-done
	}
}

// ReleaseDevices stops every acquired track
func (p *Pipeline) ReleaseDevices() {
	if p.mic != nil {
		p.mic.Stop()
	}
	if p.cam != nil {
		p.cam.Stop()
	}
}

// Stop stops producing and then releases devices
func (p *Pipeline) Stop() {
	p.StopProducing()
	p.ReleaseDevices()
}
