package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/psysense/voice-coach/internal/audio"
	"github.com/psysense/voice-coach/internal/coach"
	"github.com/psysense/voice-coach/internal/config"
	"github.com/psysense/voice-coach/internal/knowledge"
	"github.com/psysense/voice-coach/internal/live"
	"github.com/psysense/voice-coach/internal/profile"
)

var errStreamClosed = errors.New("stream closed")

type fakeStream struct {
	inbound  chan []live.InboundMessage
	ended    chan error
	closedCh chan struct{}
	once     sync.Once

	mu     sync.Mutex
	audio  []audio.Frame
	video  int
	closed bool
}

func newFakeStream() *fakeStream {
	return &fakeStream{
		inbound:  make(chan []live.InboundMessage, 16),
		ended:    make(chan error, 1),
		closedCh: make(chan struct{}),
	}
}

func (s *fakeStream) SendAudio(frame audio.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errStreamClosed
	}
	s.audio = append(s.audio, frame)
	return nil
}

func (s *fakeStream) SendVideo(jpeg []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errStreamClosed
	}
	s.video++
	return nil
}

func (s *fakeStream) Receive() ([]live.InboundMessage, error) {
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
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.closedCh)
	})
	return nil
}

func (s *fakeStream) push(msgs ...live.InboundMessage) {
	s.inbound <- msgs
}

func (s *fakeStream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// hasSpeech reports whether any sent audio frame carries non-silent samples
func (s *fakeStream) hasSpeech() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.audio {
		for _, b := range f.Data {
			if b != 0 {
				return true
			}
		}
	}
	return false
}

func (s *fakeStream) videoFrames() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.video
}

type fakeDialer struct {
	mu       sync.Mutex
	requests []live.DialRequest
	streams  []*fakeStream
}

func (d *fakeDialer) Dial(ctx context.Context, req live.DialRequest) (live.Stream, error) {
	s := newFakeStream()
	d.mu.Lock()
	defer d.mu.Unlock()
	d.requests = append(d.requests, req)
	d.streams = append(d.streams, s)
	return s, nil
}

func (d *fakeDialer) factory() live.DialerFactory {
	return func(ctx context.Context) (live.Dialer, error) {
		return d, nil
	}
}

func (d *fakeDialer) lastStream() *fakeStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.streams) == 0 {
		return nil
	}
	return d.streams[len(d.streams)-1]
}

func (d *fakeDialer) lastRequest() live.DialRequest {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.requests) == 0 {
		return live.DialRequest{}
	}
	return d.requests[len(d.requests)-1]
}

type fakeKnowledge struct {
	text string

	mu      sync.Mutex
	queries []knowledge.Query
}

func (k *fakeKnowledge) FetchContext(ctx context.Context, q knowledge.Query) string {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.queries = append(k.queries, q)
	return k.text
}

func (k *fakeKnowledge) lastQuery() knowledge.Query {
	k.mu.Lock()
	defer k.mu.Unlock()
	if len(k.queries) == 0 {
		return knowledge.Query{}
	}
	return k.queries[len(k.queries)-1]
}

type fakeAnalyzer struct {
	mu       sync.Mutex
	messages []coach.Message
	topic    string
	persona  *coach.Persona
	calls    int
}

func (a *fakeAnalyzer) Analyze(ctx context.Context, messages []coach.Message, topic string, persona *coach.Persona) *coach.SessionAnalysis {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	a.messages = messages
	a.topic = topic
	a.persona = persona
	if len(messages) == 0 {
		return nil
	}
	return &coach.SessionAnalysis{ID: "analysis-1", Topic: topic, ClarityScore: 8, ConfidenceScore: 7, EmpathyScore: 6, Feedback: "Good"}
}

func (a *fakeAnalyzer) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

type fakeHelpers struct {
	mu       sync.Mutex
	profile  *coach.UserProfile
	snapshot []byte
	tier     coach.Tier
}

func (h *fakeHelpers) GenerateTailoredScenarios(ctx context.Context, p *coach.UserProfile) []coach.Scenario {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.profile = p
	return []coach.Scenario{{ID: "s1", Label: "Salary talk", Prompt: "Ask for a raise"}}
}

func (h *fakeHelpers) AnalyzeSnapshot(ctx context.Context, jpeg []byte, tier coach.Tier) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.snapshot = jpeg
	h.tier = tier
	return "open posture"
}

type harness struct {
	srv       *httptest.Server
	dialer    *fakeDialer
	store     *profile.MemoryStore
	analyzer  *fakeAnalyzer
	knowledge *fakeKnowledge
	helpers   *fakeHelpers
}

func testConfig() *config.Config {
	return &config.Config{
		ConnectTimeout:   5,
		CaptureFrameSize: 1024,
		VideoFrameRate:   20,
		SnapshotQuality:  60,
		VolumeIntervalMs: 50,
		DefaultVoice:     "Zephyr",
	}
}

func newHarness(t *testing.T, tweak func(*Options)) *harness {
	t.Helper()
	h := &harness{
		dialer:    &fakeDialer{},
		store:     profile.NewMemoryStore(),
		analyzer:  &fakeAnalyzer{},
		knowledge: &fakeKnowledge{text: "RELEVANT FRAMEWORK (90% match): STAR"},
		helpers:   &fakeHelpers{},
	}
	logger := zerolog.Nop()
	opts := Options{
		Config:    testConfig(),
		Dialers:   h.dialer.factory(),
		Helpers:   h.helpers,
		Knowledge: h.knowledge,
		Analyzer:  h.analyzer,
		Store:     h.store,
		Logger:    &logger,
	}
	if tweak != nil {
		tweak(&opts)
	}

	mux := http.NewServeMux()
	NewServer(opts).Routes(mux)
	h.srv = httptest.NewServer(mux)
	t.Cleanup(h.srv.Close)
	return h
}

func (h *harness) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Expected websocket dial to succeed, got %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil reads frames until one matches, skipping the rest
func readUntil(t *testing.T, conn *websocket.Conn, what string, match func(m map[string]any) bool) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		var m map[string]any
		if err := conn.ReadJSON(&m); err != nil {
			t.Fatalf("Expected %s, got read error %v", what, err)
		}
		if match(m) {
			return m
		}
	}
}

func ofType(typ string) func(m map[string]any) bool {
	return func(m map[string]any) bool { return m["type"] == typ }
}

func withStatus(state string) func(m map[string]any) bool {
	return func(m map[string]any) bool { return m["type"] == TypeStatus && m["state"] == state }
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
