package analysis

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"google.golang.org/genai"

	"github.com/psysense/voice-coach/internal/coach"
)

// Generator produces schema-constrained JSON. *gemini.Helpers satisfies it.
type Generator interface {
	GenerateJSON(ctx context.Context, helper, prompt string, schema *genai.Schema, out any) error
}

var scoreSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"clarityScore":    {Type: genai.TypeNumber},
		"confidenceScore": {Type: genai.TypeNumber},
		"empathyScore":    {Type: genai.TypeNumber},
		"feedback":        {Type: genai.TypeString},
	},
	Required: []string{"clarityScore", "confidenceScore", "empathyScore", "feedback"},
}

type scores struct {
	ClarityScore    float64 `json:"clarityScore"`
	ConfidenceScore float64 `json:"confidenceScore"`
	EmpathyScore    float64 `json:"empathyScore"`
	Feedback        string  `json:"feedback"`
}

// Analyzer scores a finished conversation
type Analyzer struct {
	generator Generator
	logger    zerolog.Logger
	now       func() time.Time
}

// New creates an analyzer
func New(generator Generator, logger zerolog.Logger) *Analyzer {
	return &Analyzer{generator: generator, logger: logger, now: time.Now}
}

// Analyze scores the user's side of the transcript on clarity, confidence
// and empathy. It returns nil when the user said nothing or scoring failed.
func (a *Analyzer) Analyze(ctx context.Context, messages []coach.Message, topic string, persona *coach.Persona) *coach.SessionAnalysis {
	transcript := userTranscript(messages)
	if transcript == "" {
		return nil
	}

	var s scores
	if err := a.generator.GenerateJSON(ctx, "analysis", prompt(transcript, topic, persona), scoreSchema, &s); err != nil {
		a.logger.Error().Err(err).Str("topic", topic).Msg("Analysis failed")
		return nil
	}

	return &coach.SessionAnalysis{
		ID:              uuid.New().String(),
		Timestamp:       a.now(),
		Topic:           topic,
		ClarityScore:    clamp(s.ClarityScore),
		ConfidenceScore: clamp(s.ConfidenceScore),
		EmpathyScore:    clamp(s.EmpathyScore),
		Feedback:        strings.TrimSpace(s.Feedback),
	}
}

func userTranscript(messages []coach.Message) string {
	var lines []string
	for _, m := range messages {
		if m.Role != coach.SpeakerUser {
			continue
		}
		if text := strings.TrimSpace(m.Text); text != "" {
			lines = append(lines, text)
		}
	}
	return strings.Join(lines, "\n")
}

func prompt(transcript, topic string, persona *coach.Persona) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Analyze the following user communication transcript based on the topic: %q.\n\n", topic)
	if persona != nil && len(persona.EvaluationCriteria) > 0 {
		fmt.Fprintf(&b, "The session was coached by %s (%s). Weigh these criteria:\n", persona.Name, persona.Role)
		for _, c := range persona.EvaluationCriteria {
			fmt.Fprintf(&b, "- %s\n", c)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "TRANSCRIPT:\n%s\n\n", transcript)
	b.WriteString("Provide a JSON response with:\n" +
		"- clarityScore (1-10)\n" +
		"- confidenceScore (1-10)\n" +
		"- empathyScore (1-10)\n" +
		"- feedback (One short sentence summary of their performance)")
	return b.String()
}

// clamp keeps scores on the 1-10 scale
func clamp(v float64) float64 {
	if math.IsNaN(v) {
		return 1
	}
	return math.Max(1, math.Min(10, v))
}
