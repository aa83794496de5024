package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image/jpeg"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/psysense/voice-coach/internal/audio"
	"github.com/psysense/voice-coach/internal/coach"
	"github.com/psysense/voice-coach/internal/live"
	"github.com/psysense/voice-coach/internal/observability"
)

const (
	writeWait = 10 * time.Second

	// conversations this short are not scored
	minAnalysisMessages = 4

	analysisTimeout = 60 * time.Second
)

// Session is one browser client and the controller it drives
type Session struct {
	id     string
	conn   *websocket.Conn
	server *Server
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	writeMu sync.Mutex

	devices    *browserDevices
	controller *live.Controller
	transcript *live.Transcript

	mu            sync.Mutex
	meta          *sessionMeta // selection of the opened session, nil when idle
	cancelConnect context.CancelFunc

	// connect and analysis goroutines
	wg sync.WaitGroup
}

func (s *Server) newSession(parent context.Context, conn *websocket.Conn) *Session {
	id := observability.NewCorrelationID()
	logger := s.logger.With().Str("client_id", id).Logger()
	ctx, cancel := context.WithCancel(parent)

	session := &Session{
		id:         id,
		conn:       conn,
		server:     s,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
		transcript: live.NewTranscript(),
	}
	session.devices = newBrowserDevices(session.send, logger)

	opts := live.OptionsFromConfig(s.cfg, s.dialers, session.devices, session.callbacks())
	opts.Logger = &logger
	session.controller = live.New(opts)
	return session
}

func (s *Session) callbacks() live.Callbacks {
	return live.Callbacks{
		OnStatusChange: func(state live.State) {
			s.send(statusMessage{Type: TypeStatus, State: state.String()})
		},
		OnVolumeChange: func(input, output uint8) {
			s.send(volumeMessage{Type: TypeVolume, Input: input, Output: output})
		},
		OnTranscript: func(speaker coach.Speaker, text string, isFinal bool) {
			msg, ok := s.transcript.Add(speaker, text, isFinal)
			if !ok {
				return
			}
			s.send(transcriptMessage{
				Type:    TypeTranscript,
				ID:      msg.ID,
				Speaker: msg.Role,
				Text:    msg.Text,
				IsFinal: msg.IsFinal,
			})
		},
		OnToneChange: func(tone live.Tone) {
			s.send(toneMessage{Type: TypeTone, Tone: tone})
		},
		OnActivity: func(speaker coach.Speaker, speaking bool) {
			s.send(activityMessage{Type: TypeActivity, Speaker: speaker, Speaking: speaking})
		},
		OnError: func(err error) {
			msg := errorMessage{Type: TypeError, Message: err.Error()}
			var se *live.SessionError
			if errors.As(err, &se) {
				msg.Kind = se.KindName()
			}
			s.send(msg)
		},
	}
}

// run serves the client until the socket closes, then releases everything
func (s *Session) run() {
	observability.RecordGatewayClient(1)
	defer observability.RecordGatewayClient(-1)

	s.logger.Info().Msg("Client connected")
	s.send(statusMessage{Type: TypeStatus, State: s.controller.State().String()})

	s.readLoop()

	s.cancel()
	s.controller.Close()
	s.wg.Wait()
	s.logger.Info().Msg("Client disconnected")
}

func (s *Session) readLoop() {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn().Err(err).Msg("WebSocket read error")
			}
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to parse client message")
			s.send(errorMessage{Type: TypeError, Kind: "protocol", Message: "malformed message"})
			continue
		}
		observability.RecordGatewayMessage(msg.Type)
		s.handle(msg)
	}
}

func (s *Session) handle(msg ClientMessage) {
	switch msg.Type {
	case TypeConnect:
		var req ConnectRequest
		if msg.Options != nil {
			req = *msg.Options
		}
		ctx, cancel := context.WithCancel(s.ctx)
		s.mu.Lock()
		if s.cancelConnect != nil {
			s.cancelConnect()
		}
		s.cancelConnect = cancel
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.connect(ctx, req)
		}()

	case TypeDisconnect:
		s.disconnect()

	case TypeAudio:
		raw, err := base64.StdEncoding.DecodeString(msg.Data)
		if err != nil {
			s.logger.Debug().Err(err).Msg("Invalid base64 audio")
			return
		}
		samples, err := audio.DecodePCM(raw)
		if err != nil {
			s.logger.Debug().Err(err).Msg("Invalid PCM audio")
			return
		}
		s.devices.pushAudio(samples)

	case TypeVideo:
		raw, err := base64.StdEncoding.DecodeString(msg.Data)
		if err != nil {
			s.logger.Debug().Err(err).Msg("Invalid base64 video frame")
			return
		}
		img, err := jpeg.Decode(bytes.NewReader(raw))
		if err != nil {
			s.logger.Debug().Err(err).Msg("Invalid JPEG video frame")
			return
		}
		s.devices.pushFrame(img)

	case TypeCamera:
		s.devices.setCamera(msg.Available != nil && *msg.Available)

	default:
		s.logger.Warn().Str("type", msg.Type).Msg("Unknown client message type")
	}
}

// connect resolves the request, looks up context and opens the live session.
// A disconnect at any point abandons it.
func (s *Session) connect(ctx context.Context, req ConnectRequest) {
	if state := s.controller.State(); state == live.StateConnecting || state == live.StateConnected {
		s.logger.Debug().Str("state", state.String()).Msg("Connect ignored, session already active")
		return
	}

	opts, meta := s.server.resolve(ctx, req)
	if ctx.Err() != nil {
		return
	}

	if opts.RAGContext == "" && !req.SkipResearch && s.server.knowledge != nil {
		text, err := s.controller.Research(ctx, func(rctx context.Context) string {
			return s.server.knowledge.FetchContext(rctx, meta.query)
		})
		if err != nil {
			s.logger.Debug().Err(err).Msg("Context lookup ended without connecting")
			return
		}
		opts.RAGContext = text
	}

	s.mu.Lock()
	s.meta = meta
	s.mu.Unlock()
	s.transcript.Reset()

	if err := s.controller.Connect(ctx, opts); err != nil {
		s.logger.Info().Err(err).Msg("Connect did not complete")
	}
}

// disconnect ends the live session and scores it when long enough
func (s *Session) disconnect() {
	s.mu.Lock()
	if s.cancelConnect != nil {
		s.cancelConnect()
		s.cancelConnect = nil
	}
	meta := s.meta
	s.meta = nil
	s.mu.Unlock()

	s.controller.Disconnect()

	if meta == nil || s.server.analyzer == nil {
		return
	}
	messages := s.transcript.Messages()
	s.transcript.Reset()
	if len(messages) <= minAnalysisMessages {
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.analyze(meta, messages)
	}()
}

// analyze outlives the socket so the result is still stored
func (s *Session) analyze(meta *sessionMeta, messages []coach.Message) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(s.ctx), analysisTimeout)
	defer cancel()

	result := s.server.analyzer.Analyze(ctx, messages, meta.topic, meta.persona)
	if result == nil {
		return
	}
	if meta.userID != "" && s.server.store != nil {
		if _, err := s.server.store.AddSessionAnalysis(ctx, meta.userID, *result); err != nil {
			s.logger.Warn().Err(err).Str("user_id", meta.userID).Msg("Failed to store session analysis")
		}
	}
	s.send(analysisMessage{Type: TypeAnalysis, Analysis: *result})
}

// send writes one JSON frame. Safe for concurrent use.
func (s *Session) send(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	return s.conn.WriteJSON(v)
}
