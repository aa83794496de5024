// Package gateway serves browser clients: a websocket per live coaching
// session, with the browser acting as microphone, camera and speaker, plus
// REST endpoints for the stateless helpers and the profile store.
package gateway

import (
	"context"
	"net/http"
	"slices"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/psysense/voice-coach/internal/coach"
	"github.com/psysense/voice-coach/internal/config"
	"github.com/psysense/voice-coach/internal/knowledge"
	"github.com/psysense/voice-coach/internal/live"
	"github.com/psysense/voice-coach/internal/observability"
	"github.com/psysense/voice-coach/internal/profile"
)

// Helpers are the request helpers exposed over REST
type Helpers interface {
	GenerateTailoredScenarios(ctx context.Context, profile *coach.UserProfile) []coach.Scenario
	AnalyzeSnapshot(ctx context.Context, jpeg []byte, tier coach.Tier) string
}

// ContextFetcher looks up coaching context for a session
type ContextFetcher interface {
	FetchContext(ctx context.Context, q knowledge.Query) string
}

// SessionAnalyzer scores a finished conversation
type SessionAnalyzer interface {
	Analyze(ctx context.Context, messages []coach.Message, topic string, persona *coach.Persona) *coach.SessionAnalysis
}

// Options configures a Server. Every dependency except Config and Dialers
// is optional; the matching feature is disabled without it.
type Options struct {
	Config    *config.Config
	Dialers   live.DialerFactory
	Helpers   Helpers
	Knowledge ContextFetcher
	Analyzer  SessionAnalyzer
	Store     profile.Store
	Logger    *zerolog.Logger

	// CheckOrigin overrides the websocket origin check
	CheckOrigin func(r *http.Request) bool
}

// Server owns the shared dependencies of every client session
type Server struct {
	cfg       *config.Config
	dialers   live.DialerFactory
	helpers   Helpers
	knowledge ContextFetcher
	analyzer  SessionAnalyzer
	store     profile.Store
	logger    zerolog.Logger
	upgrader  websocket.Upgrader
}

// NewServer creates a gateway server
func NewServer(opts Options) *Server {
	logger := observability.ForComponent("gateway")
	if opts.Logger != nil {
		logger = opts.Logger.With().Str("component", "gateway").Logger()
	}

	checkOrigin := opts.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = originChecker(opts.Config.Origins())
	}

	return &Server{
		cfg:       opts.Config,
		dialers:   opts.Dialers,
		helpers:   opts.Helpers,
		knowledge: opts.Knowledge,
		analyzer:  opts.Analyzer,
		store:     opts.Store,
		logger:    logger,
		upgrader: websocket.Upgrader{
			CheckOrigin:     checkOrigin,
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

// originChecker allows the listed origins, or any origin when none are listed
func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		if len(allowed) == 0 {
			return true
		}
		return slices.Contains(allowed, r.Header.Get("Origin"))
	}
}

// Routes registers the websocket and REST endpoints on mux
func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws", s.HandleWS())
	mux.HandleFunc("POST /api/scenarios", s.handleScenarios)
	mux.HandleFunc("POST /api/snapshot", s.handleSnapshot)
	mux.HandleFunc("POST /api/analysis", s.handleAnalysis)
	mux.HandleFunc("POST /api/context", s.handleContext)
	mux.HandleFunc("GET /api/profile/{id}", s.handleGetProfile)
	mux.HandleFunc("PUT /api/profile/{id}", s.handlePutProfile)
	mux.HandleFunc("DELETE /api/profile/{id}", s.handleDeleteProfile)
}

// HandleWS upgrades the request and runs one client session until the
// socket closes
func (s *Server) HandleWS() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade has already replied to the client
			s.logger.Warn().Err(err).Msg("Failed to upgrade connection to WebSocket")
			return
		}
		defer conn.Close()

		session := s.newSession(r.Context(), conn)
		session.run()
	}
}

// sessionMeta is what the gateway remembers about the session it opened
type sessionMeta struct {
	userID  string
	topic   string
	persona *coach.Persona
	query   knowledge.Query
}

// resolve turns a connect request into connect options. Stored profile data
// fills preferences and documents the request leaves unset.
func (s *Server) resolve(ctx context.Context, req ConnectRequest) (live.ConnectOptions, *sessionMeta) {
	opts := req.ConnectOptions
	meta := &sessionMeta{userID: req.UserID, topic: "General"}

	if req.UserID != "" && s.store != nil {
		p, err := s.store.Get(ctx, req.UserID)
		if err != nil {
			s.logger.Warn().Err(err).Str("user_id", req.UserID).Msg("Failed to load profile for session")
		}
		if p != nil {
			if opts.Preferences == nil {
				opts.Preferences = p.Preferences
			}
			if opts.KnowledgeAssets == nil {
				opts.KnowledgeAssets = p.KnowledgeAssets
			}
		}
	}

	if req.PersonaID != "" {
		if persona, ok := coach.FindPersona(req.PersonaID); ok {
			meta.persona = &persona
			if opts.ActiveAgent == nil {
				opts.ActiveAgent = live.AgentFromPersona(persona)
			}
		}
	}

	scenario, found := coach.FindScenario(req.ScenarioID, req.Scenarios)
	if found {
		meta.topic = scenario.Label
	}
	if opts.ScenarioPrompt == "" {
		opts.ScenarioPrompt = coach.ScenarioPrompt(scenario, req.CustomGoal)
	}

	goal := req.CustomGoal
	var focus []string
	if opts.Preferences != nil {
		if goal == "" {
			goal = opts.Preferences.CommunicationGoal
		}
		focus = opts.Preferences.FocusAreas
	}
	meta.query = knowledge.Query{
		Goal:      goal,
		Scenario:  scenario.Label,
		FocusTags: focus,
		Tier:      opts.ServiceTier.Normalize(),
	}
	return opts, meta
}
