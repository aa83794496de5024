// Package live runs one realtime coaching session at a time: it acquires
// devices, opens the duplex streaming session, moves audio and video both
// ways and owns the connection state machine.
package live

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/psysense/voice-coach/internal/audio"
	"github.com/psysense/voice-coach/internal/coach"
	"github.com/psysense/voice-coach/internal/config"
	"github.com/psysense/voice-coach/internal/media"
	"github.com/psysense/voice-coach/internal/observability"
)

const (
	defaultOutboundBuffer = 32
	defaultSendTimeout    = 10 * time.Second
	wakeSilenceSeconds    = 0.5
)

// Options configures a Controller
type Options struct {
	Dialers   DialerFactory
	Devices   media.Devices
	Callbacks Callbacks
	Logger    *zerolog.Logger

	DefaultVoice   string
	ConnectTimeout time.Duration // zero waits indefinitely
	FrameSize      int           // samples per outbound audio frame
	VolumeInterval time.Duration
	Pipeline       media.PipelineConfig
	Activity       *audio.ActivityConfig
	OutboundBuffer int
	// SendTimeout bounds one outbound send. A send that does not complete
	// in time fails the session.
	SendTimeout time.Duration
}

// OptionsFromConfig fills the tunables from configuration
func OptionsFromConfig(cfg *config.Config, dialers DialerFactory, devices media.Devices, callbacks Callbacks) Options {
	pipeline := media.DefaultPipelineConfig()
	pipeline.VideoInterval = cfg.VideoInterval()
	pipeline.Quality = cfg.SnapshotQuality

	return Options{
		Dialers:        dialers,
		Devices:        devices,
		Callbacks:      callbacks,
		DefaultVoice:   cfg.DefaultVoice,
		ConnectTimeout: cfg.ConnectTimeoutDuration(),
		FrameSize:      cfg.CaptureFrameSize,
		VolumeInterval: cfg.VolumeInterval(),
		Pipeline:       pipeline,
	}
}

// Controller is the live session state machine. At most one attempt, and
// so at most one stream and one device set, exists at a time.
type Controller struct {
	opts       Options
	logger     zerolog.Logger
	metrics    *observability.Metrics
	dispatcher *dispatcher

	mu         sync.Mutex
	state      State
	current    *attempt // nil unless an attempt is live
	last       *attempt // most recent attempt, live or tearing down
	generation uint64
	research   *researchOp
	closed     bool

	// liveGen is the generation of current, 0 when none
	liveGen atomic.Uint64
}

type researchOp struct {
	cancel context.CancelFunc
}

type outboundFrame struct {
	kind  string
	audio audio.Frame
	video []byte
}

// attempt is everything one connection attempt acquires
type attempt struct {
	id       string
	gen      uint64
	config   SessionConfig
	ctx      context.Context
	cancel   context.CancelFunc
	logger   zerolog.Logger
	metrics  *observability.Metrics
	outbound chan outboundFrame
	activity *audio.ActivityDetector

	mu        sync.Mutex
	torn      bool
	mic       media.Microphone
	cam       media.Camera
	input     *audio.InputGraph
	output    *audio.Mixer
	speaker   media.Track
	scheduler *audio.Scheduler
	analyzer  *audio.Analyzer
	pipeline  *media.Pipeline
	stream    Stream
	sending   bool
	sendDone  chan struct{}
	released  chan struct{}
}

// New creates a disconnected controller
func New(opts Options) *Controller {
	if opts.FrameSize <= 0 {
		opts.FrameSize = 4096
	}
	if opts.VolumeInterval <= 0 {
		opts.VolumeInterval = audio.DefaultVolumeInterval
	}
	if opts.Pipeline.VideoInterval <= 0 {
		opts.Pipeline = media.DefaultPipelineConfig()
	}
	if opts.DefaultVoice == "" {
		opts.DefaultVoice = coach.DefaultPersona().VoiceID
	}
	if opts.Activity == nil {
		opts.Activity = audio.DefaultActivityConfig()
	}
	if opts.OutboundBuffer <= 0 {
		opts.OutboundBuffer = defaultOutboundBuffer
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = defaultSendTimeout
	}

	logger := observability.ForComponent("live")
	if opts.Logger != nil {
		logger = opts.Logger.With().Str("component", "live").Logger()
	}

	c := &Controller{
		opts:    opts,
		logger:  logger,
		metrics: observability.NewSessionMetrics("controller"),
		state:   StateDisconnected,
	}
	c.dispatcher = newDispatcher(func(gen uint64) bool {
		return c.liveGen.Load() == gen
	}, logger)
	return c
}

// State returns the current connection state
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect runs one connection attempt and returns once the session is open.
// It is a no-op while already connecting or connected. A failed attempt ends
// in StateError, and its error is returned and also passed to OnError. ctx
// bounds only the connecting phase; the session outlives it.
func (c *Controller) Connect(ctx context.Context, opts ConnectOptions) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrControllerClosed
	}
	if state := c.state; state == StateConnecting || state == StateConnected {
		c.mu.Unlock()
		c.logger.Debug().Str("state", state.String()).Msg("Connect ignored, session already active")
		return nil
	}

	prev, last := c.current, c.last
	if c.research != nil {
		c.research.cancel()
		c.research = nil
	}
	c.generation++
	a := c.newAttempt(opts)
	c.current = a
	c.last = a
	c.liveGen.Store(a.gen)
	c.setStateLocked(StateConnecting)
	c.mu.Unlock()

	// Previous devices must be released before new ones are acquired
	if prev != nil {
		prev.teardown("superseded")
	}
	if last != nil {
		<-last.released
	}

	a.logger.Info().
		Bool("use_video", a.config.UseVideo).
		Str("voice", a.config.VoiceIdentifier).
		Str("tier", string(a.config.QualityTier)).
		Str("language", string(a.config.Language)).
		Msg("Connecting")

	err := c.establish(ctx, a)
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrExpectedClose) {
		c.abandon(a)
		return err
	}
	var se *SessionError
	if !errors.As(err, &se) {
		se = newSessionError(ErrSessionOpen, err.Error(), err)
	}
	c.fail(a, se)
	return se
}

func (c *Controller) newAttempt(opts ConnectOptions) *attempt {
	id := observability.NewCorrelationID()
	ctx, cancel := context.WithCancel(context.Background())
	return &attempt{
		id:       id,
		gen:      c.generation,
		config:   BuildSessionConfig(opts, c.opts.DefaultVoice),
		ctx:      ctx,
		cancel:   cancel,
		logger:   observability.AttemptLogger(c.logger, "live", id),
		metrics:  observability.NewSessionMetrics(id),
		outbound: make(chan outboundFrame, c.opts.OutboundBuffer),
		activity: audio.NewActivityDetector(c.opts.Activity),
		sendDone: make(chan struct{}),
		released: make(chan struct{}),
	}
}

// establish acquires every resource in order and opens the stream
func (c *Controller) establish(ctx context.Context, a *attempt) error {
	openCtx, cancelOpen := context.WithCancel(a.ctx)
	defer cancelOpen()
	stop := context.AfterFunc(ctx, cancelOpen)
	defer stop()

	classify := func(kind error, message string, err error) error {
		if a.ctx.Err() != nil {
			return newSessionError(ErrExpectedClose, "connect aborted by disconnect", err)
		}
		if ctx.Err() != nil {
			return newSessionError(ErrExpectedClose, "connect cancelled", ctx.Err())
		}
		return newSessionError(kind, message, err)
	}
	superseded := newSessionError(ErrExpectedClose, "connect aborted by disconnect", nil)

	mic, err := c.opts.Devices.OpenMicrophone(openCtx)
	if err != nil {
		return classify(ErrMediaAcquisition, deviceMessage("microphone", err), err)
	}
	if !a.keep(func() { a.mic = mic }, mic.Stop) {
		return superseded
	}

	var cam media.Camera
	if a.config.UseVideo {
		cam, err = c.opts.Devices.OpenCamera(openCtx)
		if err != nil {
			a.logger.Warn().Err(fmt.Errorf("%w: %v", ErrCameraUnavailable, err)).Msg("Continuing audio-only")
			a.metrics.RecordError(kindLabel(ErrCameraUnavailable), "capture")
			cam = nil
		} else if !a.keep(func() { a.cam = cam }, cam.Stop) {
			return superseded
		}
	}

	inTap := audio.NewTap(audio.DefaultFFTSize, audio.DefaultSmoothing)
	outTap := audio.NewTap(audio.DefaultFFTSize, audio.DefaultSmoothing)
	input := audio.NewInputGraph(audio.CaptureSampleRate, c.opts.FrameSize, inTap)
	output := audio.NewMixer(audio.PlaybackSampleRate, outTap)
	if !a.keep(func() { a.input, a.output = input, output }, func() {
		input.Close()
		output.Close()
	}) {
		return superseded
	}
	for _, g := range []audio.Graph{input, output} {
		if g.State() != audio.GraphSuspended {
			continue
		}
		if err := g.Resume(); err != nil {
			return classify(ErrMediaAcquisition, "audio output unavailable: "+err.Error(), err)
		}
	}

	speaker, err := c.opts.Devices.OpenSpeaker(openCtx, output)
	if err != nil {
		return classify(ErrMediaAcquisition, deviceMessage("speaker", err), err)
	}
	if !a.keep(func() { a.speaker = speaker }, speaker.Stop) {
		return superseded
	}

	scheduler := audio.NewScheduler(output)
	analyzer := audio.NewAnalyzer(c.opts.VolumeInterval, func(s audio.VolumeSample) {
		c.onVolume(a, s)
	})
	analyzer.Attach(inTap, outTap)
	pipeline := media.NewPipeline(mic, cam, input, func() bool { return c.isLive(a) },
		attemptSender{c: c, a: a}, c.opts.Pipeline, a.logger)
	if !a.keep(func() {
		a.scheduler, a.analyzer, a.pipeline = scheduler, analyzer, pipeline
		a.sending = true
	}, func() {
		analyzer.Stop()
		scheduler.Stop()
	}) {
		return superseded
	}
	analyzer.Start()
	go c.sendLoop(a)

	if err := pipeline.StartCapture(); err != nil {
		return classify(ErrMediaAcquisition, deviceMessage("microphone", err), err)
	}

	instructions := ComposeInstructions(a.config)

	dialer, err := c.opts.Dialers(openCtx)
	if err != nil {
		return classify(ErrSessionOpen, "could not create the session client: "+err.Error(), err)
	}

	dialCtx := openCtx
	if c.opts.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(openCtx, c.opts.ConnectTimeout)
		defer cancel()
	}
	stream, err := dialer.Dial(dialCtx, DialRequest{
		AttemptID:    a.id,
		Instructions: instructions,
		Voice:        a.config.VoiceIdentifier,
		Tier:         a.config.QualityTier,
		UseVideo:     cam != nil,
	})
	if err != nil {
		if errors.Is(dialCtx.Err(), context.DeadlineExceeded) && openCtx.Err() == nil {
			return newSessionError(ErrConnectTimeout,
				fmt.Sprintf("connecting to the coach timed out after %s", c.opts.ConnectTimeout), err)
		}
		return classify(ErrSessionOpen, "could not connect to the coach: "+err.Error(), err)
	}

	c.mu.Lock()
	if c.current != a {
		c.mu.Unlock()
		closeQuietly(stream, a.logger)
		return superseded
	}
	a.mu.Lock()
	a.stream = stream
	a.mu.Unlock()
	c.setStateLocked(StateConnected)
	c.mu.Unlock()

	a.metrics.RecordConnected()
	a.logger.Info().Bool("video", cam != nil).Msg("Session open")

	// The agent does not start a turn without input
	c.enqueue(a, outboundFrame{
		kind:  "audio",
		audio: audio.Encode(audio.Silence(audio.CaptureSampleRate, wakeSilenceSeconds), audio.CaptureSampleRate),
	})
	pipeline.StreamAudio()
	pipeline.StreamVideo()

	go c.receiveLoop(a, stream)
	return nil
}

func deviceMessage(device string, err error) string {
	switch {
	case errors.Is(err, media.ErrPermissionDenied):
		return fmt.Sprintf("%s permission denied: %v", device, err)
	case errors.Is(err, media.ErrDeviceNotFound):
		return fmt.Sprintf("no %s found: %v", device, err)
	}
	return fmt.Sprintf("%s unavailable: %v", device, err)
}

// keep records a freshly acquired resource. If teardown already ran it
// releases the resource instead and reports false.
func (a *attempt) keep(store, release func()) bool {
	a.mu.Lock()
	torn := a.torn
	if !torn {
		store()
	}
	a.mu.Unlock()

	if torn {
		release()
	}
	return !torn
}

// teardown releases everything the attempt acquired: producers and the
// stream first, then devices, then graphs. Concurrent callers wait for the
// first one to finish.
func (a *attempt) teardown(outcome string) {
	a.mu.Lock()
	if a.torn {
		a.mu.Unlock()
		<-a.released
		return
	}
	a.torn = true
	mic, cam := a.mic, a.cam
	input, output := a.input, a.output
	speaker, scheduler, analyzer, pipeline := a.speaker, a.scheduler, a.analyzer, a.pipeline
	stream, sending := a.stream, a.sending
	a.stream = nil
	a.mu.Unlock()

	a.cancel()

	if pipeline != nil {
		pipeline.StopProducing()
	}
	if analyzer != nil {
		analyzer.Stop()
	}
	if scheduler != nil {
		scheduler.Stop()
	}
	// Closing first makes an in-flight send fail instead of holding up the loop
	if stream != nil {
		closeQuietly(stream, a.logger)
	}
	if sending {
		<-a.sendDone
	}

	if speaker != nil {
		speaker.Stop()
	}
	if pipeline != nil {
		pipeline.ReleaseDevices()
	} else {
		if mic != nil {
			mic.Stop()
		}
		if cam != nil {
			cam.Stop()
		}
	}

	if input != nil {
		input.Close()
	}
	if output != nil {
		output.Close()
	}

	a.metrics.RecordEnd(outcome)
	a.logger.Info().Str("outcome", outcome).Msg("Attempt released")
	close(a.released)
}

func closeQuietly(stream Stream, logger zerolog.Logger) {
	if err := stream.Close(); err != nil {
		logger.Debug().Err(err).Msg("Closing stream")
	}
}

// Disconnect ends the session from any state. It is idempotent. When it
// returns every device is released and no volume, transcript, tone or
// activity callback of the ended attempt will run. Called from inside a
// callback it does not wait for callbacks already in flight.
func (c *Controller) Disconnect() {
	c.mu.Lock()
	a := c.current
	c.current = nil
	c.liveGen.Store(0)
	if c.research != nil {
		c.research.cancel()
		c.research = nil
	}
	c.setStateLocked(StateDisconnected)
	c.mu.Unlock()

	if a != nil {
		a.logger.Info().Msg("Disconnect requested")
		a.teardown("disconnected")
	}
	c.dispatcher.fence()
}

// abandon quietly ends an attempt whose connect was cancelled
func (c *Controller) abandon(a *attempt) {
	c.mu.Lock()
	if c.current == a {
		c.current = nil
		c.liveGen.Store(0)
		c.setStateLocked(StateDisconnected)
	}
	c.mu.Unlock()
	a.teardown("cancelled")
}

// fail moves a live attempt to StateError, releases it and reports err once
func (c *Controller) fail(a *attempt, err *SessionError) {
	c.mu.Lock()
	if c.current != a {
		c.mu.Unlock()
		a.logger.Debug().Err(err).Msg("Error after local close ignored")
		return
	}
	c.current = nil
	c.liveGen.Store(0)
	c.setStateLocked(StateError)
	c.mu.Unlock()

	a.logger.Error().Err(err).Str("kind", kindLabel(err.Kind)).Msg("Session failed")
	a.metrics.RecordError(kindLabel(err.Kind), "live")
	a.teardown("error")

	if cb := c.opts.Callbacks.OnError; cb != nil {
		c.dispatcher.post(0, func() { cb(err) })
	}
}

// Research runs a context lookup in StateResearching. The lookup is
// cancelled by Disconnect or Connect. On success the state stays
// Researching until the caller connects or disconnects; on cancellation it
// returns to Disconnected.
func (c *Controller) Research(ctx context.Context, lookup func(ctx context.Context) string) (string, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return "", ErrControllerClosed
	}
	if c.state != StateDisconnected && c.state != StateError {
		c.mu.Unlock()
		return "", ErrBusy
	}
	rctx, cancel := context.WithCancel(ctx)
	op := &researchOp{cancel: cancel}
	c.research = op
	c.setStateLocked(StateResearching)
	c.mu.Unlock()
	defer cancel()

	started := time.Now()
	text := lookup(rctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.research != op {
		return "", context.Canceled
	}
	c.research = nil
	if err := rctx.Err(); err != nil {
		c.setStateLocked(StateDisconnected)
		return "", err
	}
	c.logger.Debug().Dur("elapsed", time.Since(started)).Int("context_length", len(text)).Msg("Research complete")
	return text, nil
}

// Close disconnects and stops the callback dispatcher. The controller
// cannot be reused.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.Disconnect()
	c.dispatcher.close()
}

func (c *Controller) setStateLocked(s State) {
	if c.state == s {
		return
	}
	from := c.state
	c.state = s
	c.metrics.RecordTransition(from.String(), s.String())
	c.logger.Debug().Str("from", from.String()).Str("to", s.String()).Msg("State changed")

	if cb := c.opts.Callbacks.OnStatusChange; cb != nil {
		c.dispatcher.post(0, func() { cb(s) })
	}
}

// isLive reports whether a is current and connected
func (c *Controller) isLive(a *attempt) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current == a && c.state == StateConnected
}

// liveStream returns a's stream only while a is current and connected
func (c *Controller) liveStream(a *attempt) Stream {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != a || c.state != StateConnected {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stream
}

type attemptSender struct {
	c *Controller
	a *attempt
}

func (s attemptSender) SendAudio(frame audio.Frame) {
	s.c.enqueue(s.a, outboundFrame{kind: "audio", audio: frame})
}

func (s attemptSender) SendVideo(jpeg []byte) {
	s.c.enqueue(s.a, outboundFrame{kind: "video", video: jpeg})
}

// enqueue hands a frame to the attempt's send loop. It blocks only while
// the queue is full and gives up once the attempt is torn down. A stalled
// send fails the attempt after SendTimeout, so the wait is bounded.
func (c *Controller) enqueue(a *attempt, f outboundFrame) {
	if !c.isLive(a) {
		a.metrics.RecordFrameDropped(f.kind, "not_connected")
		return
	}
	select {
	case a.outbound <- f:
	case <-a.ctx.Done():
		a.metrics.RecordFrameDropped(f.kind, "closed")
	}
}

// sendLoop transmits frames in enqueue order
func (c *Controller) sendLoop(a *attempt) {
	defer close(a.sendDone)
	for {
		select {
		case <-a.ctx.Done():
			return
		case f := <-a.outbound:
			c.transmit(a, f)
		}
	}
}

func (c *Controller) transmit(a *attempt, f outboundFrame) {
	// Disconnect may have completed since the frame was queued
	stream := c.liveStream(a)
	if stream == nil {
		a.metrics.RecordFrameDropped(f.kind, "not_connected")
		return
	}

	// A send that outlives the timeout means the session is unusable.
	// Failing it closes the stream, which unblocks the send.
	stalled := time.AfterFunc(c.opts.SendTimeout, func() {
		c.fail(a, newSessionError(ErrServerClosed,
			fmt.Sprintf("connection to the coach stalled: a send took longer than %s", c.opts.SendTimeout),
			ErrTransmit))
	})
	defer stalled.Stop()

	var err error
	size := len(f.video)
	if f.kind == "video" {
		err = stream.SendVideo(f.video)
	} else {
		size = len(f.audio.Data)
		err = stream.SendAudio(f.audio)
	}
	if err != nil {
		a.logger.Debug().Err(fmt.Errorf("%w: %v", ErrTransmit, err)).Str("kind", f.kind).Msg("Frame dropped")
		a.metrics.RecordFrameDropped(f.kind, "transmit_error")
		return
	}
	a.metrics.RecordFrameSent(f.kind, size)
}

func (c *Controller) receiveLoop(a *attempt, stream Stream) {
	for {
		msgs, err := stream.Receive()
		if err != nil {
			c.streamEnded(a, err)
			return
		}
		for _, msg := range msgs {
			if c.liveGen.Load() != a.gen {
				return
			}
			c.handleInbound(a, msg)
		}
	}
}

func (c *Controller) handleInbound(a *attempt, msg InboundMessage) {
	cb := c.opts.Callbacks

	switch m := msg.(type) {
	case Interrupted:
		if n := a.scheduler.Interrupt(); n > 0 {
			a.logger.Debug().Int("flushed", n).Msg("Agent interrupted")
		}
		a.metrics.RecordInterrupt()

	case UserTranscript:
		if cb.OnTranscript != nil {
			c.dispatcher.post(a.gen, func() { cb.OnTranscript(coach.SpeakerUser, m.Text, false) })
		}

	case AgentTranscript:
		if cb.OnTranscript != nil {
			c.dispatcher.post(a.gen, func() { cb.OnTranscript(coach.SpeakerAgent, m.Text, false) })
		}
		if tone, ok := DetectTone(m.Text); ok && cb.OnToneChange != nil {
			c.dispatcher.post(a.gen, func() { cb.OnToneChange(tone) })
		}

	case AgentAudio:
		chunk, err := audio.Decode(m.Frame)
		if err != nil {
			a.logger.Warn().Err(fmt.Errorf("%w: %v", ErrDecode, err)).Int("bytes", len(m.Frame.Data)).Msg("Dropping audio message")
			a.metrics.RecordDecodeError()
			return
		}
		a.metrics.RecordAudioReceived(len(m.Frame.Data))
		if _, err := a.scheduler.Schedule(chunk); err != nil && !errors.Is(err, audio.ErrSchedulerStopped) {
			a.logger.Debug().Err(err).Msg("Scheduling audio chunk")
		}

	case TurnComplete:
		if cb.OnTranscript != nil {
			c.dispatcher.post(a.gen, func() { cb.OnTranscript(coach.SpeakerAgent, "", true) })
		}
	}
}

// streamEnded classifies the end of the receive loop. After a local
// disconnect it is expected; otherwise the server dropped the session.
func (c *Controller) streamEnded(a *attempt, err error) {
	c.mu.Lock()
	current := c.current == a
	c.mu.Unlock()
	if !current {
		a.logger.Debug().Err(err).Msg("Stream ended after local close")
		return
	}

	message := "the coach ended the session unexpectedly"
	if err != nil && !errors.Is(err, io.EOF) {
		message = "connection to the coach was lost: " + err.Error()
	}
	c.fail(a, newSessionError(ErrServerClosed, message, err))
}

func (c *Controller) onVolume(a *attempt, s audio.VolumeSample) {
	cb := c.opts.Callbacks
	if cb.OnVolumeChange != nil {
		c.dispatcher.post(a.gen, func() { cb.OnVolumeChange(s.Input, s.Output) })
	}
	if cb.OnActivity == nil {
		return
	}
	for _, ev := range a.activity.Process(s) {
		speaker := coach.SpeakerUser
		if ev.Direction == audio.DirectionOutput {
			speaker = coach.SpeakerAgent
		}
		speaking := ev.Speaking
		c.dispatcher.post(a.gen, func() { cb.OnActivity(speaker, speaking) })
	}
}

// AttemptID returns the id of the live attempt, or "" when none
func (c *Controller) AttemptID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return ""
	}
	return c.current.id
}
