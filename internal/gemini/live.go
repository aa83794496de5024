package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"google.golang.org/genai"

	"github.com/psysense/voice-coach/internal/audio"
	"github.com/psysense/voice-coach/internal/live"
	"github.com/psysense/voice-coach/internal/observability"
)

// ErrStreamClosed is returned by sends after Close
var ErrStreamClosed = errors.New("live stream closed")

type connectFunc func(ctx context.Context, model string, cfg *genai.LiveConnectConfig) (session, error)

// LiveDialer opens Gemini Live sessions
type LiveDialer struct {
	connect connectFunc
	models  ModelSet
	logger  zerolog.Logger
}

// NewLiveDialer creates a dialer on client
func NewLiveDialer(client *genai.Client, models ModelSet, logger zerolog.Logger) *LiveDialer {
	return &LiveDialer{
		connect: func(ctx context.Context, model string, cfg *genai.LiveConnectConfig) (session, error) {
			return client.Live.Connect(ctx, model, cfg)
		},
		models: models,
		logger: logger,
	}
}

// ConnectConfig builds the live session setup for req
func ConnectConfig(req live.DialRequest) *genai.LiveConnectConfig {
	return &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{genai.ModalityAudio},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: req.Voice},
			},
		},
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: req.Instructions}},
		},
		InputAudioTranscription:  &genai.AudioTranscriptionConfig{},
		OutputAudioTranscription: &genai.AudioTranscriptionConfig{},
	}
}

// Dial opens a session and waits for the setup acknowledgment
func (d *LiveDialer) Dial(ctx context.Context, req live.DialRequest) (live.Stream, error) {
	logger := observability.AttemptLogger(d.logger, "gemini_live", req.AttemptID)
	model := d.models.LiveModel(req.Tier)

	sess, err := d.connect(ctx, model, ConnectConfig(req))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", model, err)
	}

	s := &Stream{session: sess, logger: logger}
	if err := s.awaitSetup(ctx); err != nil {
		s.Close()
		return nil, err
	}

	logger.Info().
		Str("model", model).
		Str("voice", req.Voice).
		Bool("video", req.UseVideo).
		Msg("Live session open")
	return s, nil
}

// Stream is an open Gemini Live session
type Stream struct {
	session session
	logger  zerolog.Logger

	sendMu  sync.Mutex
	closeMu sync.Mutex
	closed  bool

	// messages that arrived before the setup acknowledgment
	pending []live.InboundMessage
}

func (s *Stream) awaitSetup(ctx context.Context) error {
	result := make(chan error, 1)
	go func() {
		var early []live.InboundMessage
		for {
			msg, err := s.session.Receive()
			if err != nil {
				result <- fmt.Errorf("session closed before setup: %w", err)
				return
			}
			if msg.SetupComplete != nil {
				s.pending = early
				result <- nil
				return
			}
			early = append(early, Translate(msg)...)
		}
	}()

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		s.Close()
		return ctx.Err()
	}
}

// SendAudio sends one PCM frame
func (s *Stream) SendAudio(frame audio.Frame) error {
	return s.send(genai.LiveRealtimeInput{
		Audio: &genai.Blob{MIMEType: frame.MIMEType, Data: frame.Data},
	})
}

// SendVideo sends one JPEG frame
func (s *Stream) SendVideo(jpeg []byte) error {
	return s.send(genai.LiveRealtimeInput{
		Video: &genai.Blob{MIMEType: "image/jpeg", Data: jpeg},
	})
}

func (s *Stream) send(input genai.LiveRealtimeInput) error {
	if s.isClosed() {
		return ErrStreamClosed
	}
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	return s.session.SendRealtimeInput(input)
}

// Receive returns the events of the next server message
func (s *Stream) Receive() ([]live.InboundMessage, error) {
	if len(s.pending) > 0 {
		out := s.pending
		s.pending = nil
		return out, nil
	}
	msg, err := s.session.Receive()
	if err != nil {
		return nil, err
	}
	if msg.GoAway != nil {
		s.logger.Warn().Msg("Server announced it will close the session")
	}
	return Translate(msg), nil
}

// Close ends the session. It is idempotent.
func (s *Stream) Close() error {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.session.Close()
}

func (s *Stream) isClosed() bool {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	return s.closed
}

// Translate maps one server message to controller events. An interruption
// comes first, then transcripts, turn completion and agent audio.
func Translate(msg *genai.LiveServerMessage) []live.InboundMessage {
	if msg == nil || msg.ServerContent == nil {
		return []live.InboundMessage{live.Other{}}
	}
	sc := msg.ServerContent

	var out []live.InboundMessage
	if sc.Interrupted {
		out = append(out, live.Interrupted{})
	}
	if sc.InputTranscription != nil && sc.InputTranscription.Text != "" {
		out = append(out, live.UserTranscript{Text: sc.InputTranscription.Text})
	}
	if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
		out = append(out, live.AgentTranscript{Text: sc.OutputTranscription.Text})
	}
	if sc.TurnComplete {
		out = append(out, live.TurnComplete{})
	}
	if sc.ModelTurn != nil {
		for _, part := range sc.ModelTurn.Parts {
			if frame, ok := audioFrame(part); ok {
				out = append(out, live.AgentAudio{Frame: frame})
			}
		}
	}

	if len(out) == 0 {
		return []live.InboundMessage{live.Other{}}
	}
	return out
}

func audioFrame(part *genai.Part) (audio.Frame, bool) {
	if part == nil || part.InlineData == nil || len(part.InlineData.Data) == 0 {
		return audio.Frame{}, false
	}
	mime := part.InlineData.MIMEType
	if mime != "" && !strings.HasPrefix(mime, "audio/") {
		return audio.Frame{}, false
	}
	rate, ok := audio.ParseRate(mime)
	if !ok {
		rate = audio.PlaybackSampleRate
	}
	return audio.Frame{Data: part.InlineData.Data, MIMEType: mime, SampleRate: rate}, true
}
