package coach

import (
	"fmt"
	"strings"
)

// GeneralScenarioID is the open-ended scenario; it adds no scenario prompt
const GeneralScenarioID = "general"

// Scenarios are the static practice situations
var Scenarios = []Scenario{
	{
		ID:     GeneralScenarioID,
		Label:  "General Coaching",
		Prompt: "I'd like to practice general communication skills.",
	},
	{
		ID:     "work",
		Label:  "Work Conflict",
		Prompt: "I need help resolving a conflict with a coworker or boss. Help me remain professional but firm.",
	},
	{
		ID:     "relationship",
		Label:  "Relationships",
		Prompt: "I want to discuss relationship boundaries and expressing feelings without blaming.",
	},
	{
		ID:     "interview",
		Label:  "Job Interview",
		Prompt: "I have a job interview coming up. Help me sound confident and clear.",
	},
}

// FindScenario searches the given scenarios, falling back to the static list
func FindScenario(id string, dynamic []Scenario) (Scenario, bool) {
	for _, list := range [][]Scenario{dynamic, Scenarios} {
		for _, s := range list {
			if s.ID == id {
				return s, true
			}
		}
	}
	return Scenario{}, false
}

// ScenarioPrompt builds the scenario text a session is opened with.
// The general scenario contributes nothing; a custom goal is always appended.
func ScenarioPrompt(s Scenario, customGoal string) string {
	var prompt string
	if s.ID != "" && s.ID != GeneralScenarioID {
		prompt = fmt.Sprintf("User Scenario: %q. Context: %s", s.Label, s.Prompt)
	}
	if goal := strings.TrimSpace(customGoal); goal != "" {
		prompt += fmt.Sprintf(" | User Goal: %q", goal)
	}
	return prompt
}
