package gemini

import (
	"context"

	"google.golang.org/genai"

	"github.com/psysense/voice-coach/internal/coach"
	"github.com/psysense/voice-coach/internal/config"
)

// Models is the request/response surface of the genai client. *genai.Models
// satisfies it.
type Models interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
	EmbedContent(ctx context.Context, model string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error)
}

// session is the part of *genai.Session a Stream uses
type session interface {
	SendRealtimeInput(input genai.LiveRealtimeInput) error
	Receive() (*genai.LiveServerMessage, error)
	Close() error
}

// ModelSet names the models used per tier
type ModelSet struct {
	Live          string
	LivePremium   string
	Text          string
	Vision        string
	VisionPremium string
	Embed         string
}

// ModelsFromConfig reads model names from configuration
func ModelsFromConfig(cfg *config.Config) ModelSet {
	return ModelSet{
		Live:          cfg.GeminiLiveModel,
		LivePremium:   cfg.GeminiLiveModelPremium,
		Text:          cfg.GeminiTextModel,
		Vision:        cfg.GeminiVisionModel,
		VisionPremium: cfg.GeminiVisionModelPremium,
		Embed:         cfg.GeminiEmbedModel,
	}
}

// LiveModel returns the streaming model for tier
func (m ModelSet) LiveModel(tier coach.Tier) string {
	if tier.Normalize() == coach.TierPremium && m.LivePremium != "" {
		return m.LivePremium
	}
	return m.Live
}

// VisionModel returns the snapshot analysis model for tier
func (m ModelSet) VisionModel(tier coach.Tier) string {
	if tier.Normalize() == coach.TierPremium && m.VisionPremium != "" {
		return m.VisionPremium
	}
	return m.Vision
}

// Research is a grounded web research answer
type Research struct {
	Text   string
	Source string // title of the first web source, if any
}
