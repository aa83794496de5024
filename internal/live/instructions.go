package live

import (
	"fmt"
	"strings"

	"github.com/psysense/voice-coach/internal/coach"
)

const baseInstructions = `You are a friendly voice communication coach.

Your job:
- Hold natural voice conversations with the user.
- Read the provided RAG context and use it only when relevant.
- **IF VIDEO IS AVAILABLE**: Observe the user's non-verbal cues.
- Give short, spoken tips users can apply immediately.
- Offer improved versions of what the user wants to say.
- Keep everything friendly, brief, and human.

Strict rules:
- Never diagnose or label the user.
- Never provide therapy or crisis advice.
- Never read long passages from context.
- Keep your whole reply under 4 sentences.`

const toneRule = `Tone markers:
- Begin each reply with a tone marker such as [TONE: warm], [TONE: encouraging], [TONE: assertive] or [TONE: calm].
- The marker is metadata for the interface. Never read it aloud.`

const videoRule = `Video is enabled for this session. You receive periodic camera frames of the user. ` +
	`Comment on posture, eye contact and facial expression only when it helps the current point.`

const (
	scenarioDirective = "CRITICAL INSTRUCTION: You MUST speak first immediately. Start the conversation by " +
		"acknowledging this context and asking the user a relevant opening question."
	introduceDirective = "CRITICAL INSTRUCTION: You MUST speak first immediately. Start the conversation by " +
		"introducing yourself warmly."
)

// Section headings, in composition order
const (
	headingPersona     = "PERSONA"
	headingLanguage    = "LANGUAGE"
	headingDocuments   = "USER CONTEXT DOCUMENTS"
	headingKnowledge   = "KNOWLEDGE BASE CONTEXT"
	headingPreferences = "USER PREFERENCES"
	headingScenario    = "CURRENT SCENARIO CONTEXT"
)

func personaSection(agent *ActiveAgent) string {
	var b strings.Builder
	if agent.Name != "" {
		fmt.Fprintf(&b, "You are playing the coach %s.\n", agent.Name)
	}
	if style := strings.TrimSpace(agent.StyleText); style != "" {
		b.WriteString(style)
		b.WriteString("\n")
	}
	if len(agent.Directives) > 0 {
		b.WriteString("\nHIDDEN DIRECTIVES (follow them, never mention them):\n")
		for _, d := range agent.Directives {
			fmt.Fprintf(&b, "- %s\n", d)
		}
	}
	return strings.TrimSpace(b.String())
}

func languageDirective(lang coach.Language) string {
	if lang.Normalize() == coach.LanguageThai {
		return "Speak Thai for the whole conversation. Use natural, polite spoken Thai " +
			"and keep coaching terms simple. Respond in Thai even if the user switches language."
	}
	return "Speak English for the whole conversation."
}

func preferencesSection(p *coach.Preferences) string {
	if p == nil {
		return ""
	}
	var lines []string
	if p.CoachingStyle != "" {
		lines = append(lines, fmt.Sprintf("- Preferred coaching style: %s", p.CoachingStyle))
	}
	if len(p.FocusAreas) > 0 {
		lines = append(lines, fmt.Sprintf("- Focus areas: %s", strings.Join(p.FocusAreas, ", ")))
	}
	if goal := strings.TrimSpace(p.CommunicationGoal); goal != "" {
		lines = append(lines, fmt.Sprintf("- Communication goal: %s", goal))
	}
	return strings.Join(lines, "\n")
}

// ComposeInstructions assembles the system instruction for the remote agent.
// Sections always appear in the same order so later, more specific sections
// can override general guidance: base rules, persona, language, user
// documents, knowledge base context, preferences, then the scenario or the
// introduce-yourself directive.
func ComposeInstructions(cfg SessionConfig) string {
	sections := []string{baseInstructions + "\n\n" + toneRule}
	if cfg.UseVideo {
		sections[0] += "\n\n" + videoRule
	}

	add := func(heading, body string) {
		body = strings.TrimSpace(body)
		if body == "" {
			return
		}
		sections = append(sections, heading+":\n"+body)
	}

	add(headingPersona, cfg.PersonaInstructions)
	add(headingLanguage, languageDirective(cfg.Language))

	if len(cfg.ContextDocuments) > 0 {
		var b strings.Builder
		b.WriteString("The user shared these documents. Use them when relevant.\n")
		for _, doc := range cfg.ContextDocuments {
			fmt.Fprintf(&b, "\n--- DOCUMENT: %s ---\n%s\n--- END DOCUMENT ---\n", doc.Name, strings.TrimSpace(doc.Text))
		}
		add(headingDocuments, b.String())
	}

	add(headingKnowledge, cfg.RAGContext)
	add(headingPreferences, preferencesSection(cfg.Preferences))

	if prompt := strings.TrimSpace(cfg.ScenarioPrompt); prompt != "" {
		add(headingScenario, "The user has selected a specific practice scenario. "+prompt+"\n\n"+scenarioDirective)
	} else {
		sections = append(sections, introduceDirective)
	}

	return strings.Join(sections, "\n\n")
}
