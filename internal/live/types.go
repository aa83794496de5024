package live

import (
	"github.com/psysense/voice-coach/internal/coach"
)

// State is the connection state of a Controller
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateResearching
	StateError
)

// String returns the lowercase state name used in logs, metrics and the wire protocol
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateResearching:
		return "researching"
	case StateError:
		return "error"
	}
	return "unknown"
}

// ActiveAgent is the persona the remote agent plays
type ActiveAgent struct {
	Name       string   `json:"name"`
	VoiceID    string   `json:"voiceId"`
	StyleText  string   `json:"styleText"`
	Directives []string `json:"directives"`
}

// AgentFromPersona converts a built-in persona to connect options
func AgentFromPersona(p coach.Persona) *ActiveAgent {
	return &ActiveAgent{
		Name:       p.Name,
		VoiceID:    p.VoiceID,
		StyleText:  p.StylePrompt,
		Directives: append([]string(nil), p.HiddenDirectives...),
	}
}

// ConnectOptions is everything a caller may pass to Connect
type ConnectOptions struct {
	UseVideo        bool                   `json:"useVideo"`
	ScenarioPrompt  string                 `json:"scenarioPrompt,omitempty"`
	Preferences     *coach.Preferences     `json:"preferences,omitempty"`
	ActiveAgent     *ActiveAgent           `json:"activeAgent,omitempty"`
	RAGContext      string                 `json:"ragContext,omitempty"`
	Language        coach.Language         `json:"language,omitempty"`
	KnowledgeAssets []coach.KnowledgeAsset `json:"knowledgeAssets,omitempty"`
	ServiceTier     coach.Tier             `json:"serviceTier,omitempty"`
}

// ContextDocument is one user document included in the instructions
type ContextDocument struct {
	Name string
	Text string
}

// SessionConfig is the immutable input of one connection attempt
type SessionConfig struct {
	UseVideo            bool
	ScenarioPrompt      string
	PersonaInstructions string
	ContextDocuments    []ContextDocument
	RAGContext          string
	Preferences         *coach.Preferences
	Language            coach.Language
	VoiceIdentifier     string
	QualityTier         coach.Tier
}

// BuildSessionConfig resolves connect options into a session config.
// Only active knowledge assets become documents. The voice falls back
// to defaultVoice when no agent voice is set.
func BuildSessionConfig(opts ConnectOptions, defaultVoice string) SessionConfig {
	cfg := SessionConfig{
		UseVideo:        opts.UseVideo,
		ScenarioPrompt:  opts.ScenarioPrompt,
		RAGContext:      opts.RAGContext,
		Language:        opts.Language.Normalize(),
		QualityTier:     opts.ServiceTier.Normalize(),
		VoiceIdentifier: defaultVoice,
	}
	if opts.Preferences != nil {
		prefs := *opts.Preferences
		prefs.FocusAreas = append([]string(nil), opts.Preferences.FocusAreas...)
		cfg.Preferences = &prefs
	}
	if opts.ActiveAgent != nil {
		cfg.PersonaInstructions = personaSection(opts.ActiveAgent)
		if opts.ActiveAgent.VoiceID != "" {
			cfg.VoiceIdentifier = opts.ActiveAgent.VoiceID
		}
	}
	for _, asset := range opts.KnowledgeAssets {
		if asset.IsActive {
			cfg.ContextDocuments = append(cfg.ContextDocuments, ContextDocument{Name: asset.Name, Text: asset.Content})
		}
	}
	return cfg
}

// Callbacks are the UI hooks. Every field is optional. All callbacks run on
// one dispatcher goroutine, in order, never concurrently with each other.
type Callbacks struct {
	OnStatusChange func(state State)
	OnVolumeChange func(input, output uint8)
	OnTranscript   func(speaker coach.Speaker, text string, isFinal bool)
	OnToneChange   func(tone Tone)
	OnError        func(err error)
	OnActivity     func(speaker coach.Speaker, speaking bool)
}
