package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"google.golang.org/genai"

	"github.com/psysense/voice-coach/internal/coach"
	"github.com/psysense/voice-coach/internal/config"
	"github.com/psysense/voice-coach/internal/observability"
	"github.com/psysense/voice-coach/internal/resilience"
)

// MaxTailoredScenarios bounds what GenerateTailoredScenarios returns
const MaxTailoredScenarios = 4

const snapshotPrompt = "You are an expert non-verbal communication coach. Analyze this video frame of the user. " +
	"Identify key indicators of their emotional state, confidence level, and engagement based on facial " +
	"expressions, eye contact, and posture. Provide 2-3 short, actionable tips to improve their presence. " +
	"Keep the response concise and supportive."

// ErrEmptyResponse is returned when the model produced no text
var ErrEmptyResponse = errors.New("model returned no text")

// Helpers are the request/response calls around a session. None of them
// keeps state between calls.
type Helpers struct {
	models  Models
	set     ModelSet
	breaker *resilience.CircuitBreaker
	retry   *resilience.RetryConfig
	logger  zerolog.Logger
}

// NewHelpers wraps models with a circuit breaker and retries
func NewHelpers(models Models, set ModelSet, breaker *resilience.CircuitBreaker, retry *resilience.RetryConfig, logger zerolog.Logger) *Helpers {
	if breaker == nil {
		breaker = resilience.NewCircuitBreaker("gemini", 5, 30*time.Second)
	}
	if retry == nil {
		retry = resilience.DefaultRetryConfig()
	}
	return &Helpers{
		models:  models,
		set:     set,
		breaker: breaker,
		retry:   retry,
		logger:  logger,
	}
}

// HelpersFromConfig builds helpers on a new client
func HelpersFromConfig(ctx context.Context, cfg *config.Config, cred CredentialFunc, logger zerolog.Logger) (*Helpers, error) {
	client, err := NewClient(ctx, cred)
	if err != nil {
		return nil, err
	}
	breaker := resilience.NewCircuitBreaker("gemini",
		cfg.CircuitBreakerMaxFailures,
		time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second)
	retry := resilience.DefaultRetryConfig()
	retry.MaxAttempts = cfg.RetryMaxAttempts
	retry.InitialBackoff = time.Duration(cfg.RetryInitialBackoff) * time.Millisecond
	return NewHelpers(client.Models, ModelsFromConfig(cfg), breaker, retry, logger), nil
}

// Models returns the model names in use
func (h *Helpers) Models() ModelSet {
	return h.set
}

func (h *Helpers) call(ctx context.Context, helper string, fn func(ctx context.Context) error) error {
	start := time.Now()
	err := resilience.Retry(ctx, func(ctx context.Context) error {
		return h.breaker.Call(ctx, fn)
	}, h.retry, isRetryable)
	observability.RecordHelperRequest(helper, start, err == nil)
	return err
}

// isRetryable retries transport failures, rate limits and server errors,
// but not calls rejected by an open breaker
func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrEmptyResponse) {
		return false
	}
	// Retrying cannot help until the breaker lets calls through again
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return false
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == 429 || apiErr.Code >= 500
	}
	var syntaxErr *json.SyntaxError
	return !errors.As(err, &syntaxErr)
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil {
		return "", ErrEmptyResponse
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// GenerateJSON asks the text model for a schema-constrained answer and
// decodes it into out
func (h *Helpers) GenerateJSON(ctx context.Context, helper, prompt string, schema *genai.Schema, out any) error {
	cfg := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   schema,
	}
	return h.call(ctx, helper, func(ctx context.Context) error {
		resp, err := h.models.GenerateContent(ctx, h.set.Text, genai.Text(prompt), cfg)
		if err != nil {
			return err
		}
		text, err := responseText(resp)
		if err != nil {
			return err
		}
		if err := json.Unmarshal([]byte(text), out); err != nil {
			return fmt.Errorf("failed to decode %s response: %w", helper, err)
		}
		return nil
	})
}

var scenarioSchema = &genai.Schema{
	Type: genai.TypeArray,
	Items: &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"id":     {Type: genai.TypeString},
			"label":  {Type: genai.TypeString},
			"prompt": {Type: genai.TypeString},
		},
		Required: []string{"id", "label", "prompt"},
	},
}

func scenarioRequest(profile *coach.UserProfile) string {
	name := "the user"
	if profile != nil && strings.TrimSpace(profile.Name) != "" {
		name = strings.TrimSpace(profile.Name)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Create %d personalized communication coaching scenarios for a user named %s.", MaxTailoredScenarios, name)
	if profile != nil && profile.Preferences != nil {
		if len(profile.Preferences.FocusAreas) > 0 {
			fmt.Fprintf(&b, " Their focus areas are: %s.", strings.Join(profile.Preferences.FocusAreas, ", "))
		}
		if goal := strings.TrimSpace(profile.Preferences.CommunicationGoal); goal != "" {
			fmt.Fprintf(&b, " Their goal: %q.", goal)
		}
	}
	if profile != nil && len(profile.History) > 0 {
		last := profile.History[len(profile.History)-1]
		fmt.Fprintf(&b, " Their last session on %q ended with: %s", last.Topic, last.Feedback)
	}
	b.WriteString(" Return a JSON array.")
	return b.String()
}

// GenerateTailoredScenarios proposes up to four practice scenarios for the
// profile. Any failure yields an empty list.
func (h *Helpers) GenerateTailoredScenarios(ctx context.Context, profile *coach.UserProfile) []coach.Scenario {
	var raw []coach.Scenario
	if err := h.GenerateJSON(ctx, "scenarios", scenarioRequest(profile), scenarioSchema, &raw); err != nil {
		h.logger.Error().Err(err).Msg("Error generating tailored scenarios")
		return []coach.Scenario{}
	}

	out := make([]coach.Scenario, 0, MaxTailoredScenarios)
	for _, s := range raw {
		s.Label = strings.TrimSpace(s.Label)
		s.Prompt = strings.TrimSpace(s.Prompt)
		if s.Label == "" || s.Prompt == "" {
			continue
		}
		if s.ID == "" || s.ID == coach.GeneralScenarioID {
			s.ID = uuid.New().String()
		}
		out = append(out, s)
		if len(out) == MaxTailoredScenarios {
			break
		}
	}
	return out
}

// AnalyzeSnapshot returns non-verbal coaching tips for one JPEG frame, or
// an empty string when the analysis fails
func (h *Helpers) AnalyzeSnapshot(ctx context.Context, jpeg []byte, tier coach.Tier) string {
	if len(jpeg) == 0 {
		return ""
	}
	model := h.set.VisionModel(tier)
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromText(snapshotPrompt),
			genai.NewPartFromBytes(jpeg, "image/jpeg"),
		}, genai.RoleUser),
	}

	var text string
	err := h.call(ctx, "snapshot", func(ctx context.Context) error {
		resp, err := h.models.GenerateContent(ctx, model, contents, nil)
		if err != nil {
			return err
		}
		text, err = responseText(resp)
		return err
	})
	if err != nil {
		h.logger.Error().Err(err).Str("model", model).Msg("Video analysis error")
		return ""
	}
	return text
}

// Embed returns one embedding per text
func (h *Helpers) Embed(ctx context.Context, texts ...string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = genai.NewContentFromText(t, genai.RoleUser)
	}

	var out [][]float32
	err := h.call(ctx, "embed", func(ctx context.Context) error {
		resp, err := h.models.EmbedContent(ctx, h.set.Embed, contents, nil)
		if err != nil {
			return err
		}
		if resp == nil || len(resp.Embeddings) != len(texts) {
			return fmt.Errorf("expected %d embeddings: %w", len(texts), ErrEmptyResponse)
		}
		out = make([][]float32, len(texts))
		for i, e := range resp.Embeddings {
			if e == nil || len(e.Values) == 0 {
				return fmt.Errorf("embedding %d is empty: %w", i, ErrEmptyResponse)
			}
			out[i] = e.Values
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Research runs a web-grounded query and names the first web source
func (h *Helpers) Research(ctx context.Context, prompt, systemInstruction string) (Research, error) {
	cfg := &genai.GenerateContentConfig{
		Tools: []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}},
	}
	if systemInstruction != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: systemInstruction}}}
	}

	var result Research
	err := h.call(ctx, "research", func(ctx context.Context) error {
		resp, err := h.models.GenerateContent(ctx, h.set.Text, genai.Text(prompt), cfg)
		if err != nil {
			return err
		}
		text, err := responseText(resp)
		if err != nil {
			return err
		}
		result = Research{Text: text, Source: webSource(resp)}
		return nil
	})
	return result, err
}

func webSource(resp *genai.GenerateContentResponse) string {
	if len(resp.Candidates) == 0 || resp.Candidates[0] == nil || resp.Candidates[0].GroundingMetadata == nil {
		return ""
	}
	for _, chunk := range resp.Candidates[0].GroundingMetadata.GroundingChunks {
		if chunk != nil && chunk.Web != nil && chunk.Web.Title != "" {
			return chunk.Web.Title
		}
	}
	return ""
}
