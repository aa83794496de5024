// Package coach holds the domain model shared by the live session, the
// request helpers and the profile store.
package coach

import (
	"time"
)

// Tier selects remote model variants and premium features
type Tier string

const (
	TierStandard Tier = "standard"
	TierPremium  Tier = "premium"
)

// Normalize maps unknown values to TierStandard
func (t Tier) Normalize() Tier {
	if t == TierPremium {
		return TierPremium
	}
	return TierStandard
}

// Language is the conversation language
type Language string

const (
	LanguageEnglish Language = "en" // primary
	LanguageThai    Language = "th" // secondary
)

// Normalize maps unknown values to LanguageEnglish
func (l Language) Normalize() Language {
	if l == LanguageThai {
		return LanguageThai
	}
	return LanguageEnglish
}

// CoachingStyle is the feedback style chosen during onboarding
type CoachingStyle string

const (
	StyleGentle     CoachingStyle = "gentle"
	StyleDirect     CoachingStyle = "direct"
	StyleAnalytical CoachingStyle = "analytical"
)

// MaxFocusAreas bounds how many focus areas a user may pick
const MaxFocusAreas = 3

// Preferences is the user's coaching profile
type Preferences struct {
	CoachingStyle     CoachingStyle `json:"coachingStyle"`
	FocusAreas        []string      `json:"focusAreas"`
	CommunicationGoal string        `json:"communicationGoal"`
}

// KnowledgeAsset is a user-provided context document
type KnowledgeAsset struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Content  string `json:"content"`
	IsActive bool   `json:"isActive"`
}

// Speaker identifies who produced a transcript fragment
type Speaker string

const (
	SpeakerUser  Speaker = "user"
	SpeakerAgent Speaker = "agent"
)

// Message is one aggregated transcript turn
type Message struct {
	ID        string    `json:"id"`
	Role      Speaker   `json:"role"`
	Text      string    `json:"text"`
	IsFinal   bool      `json:"isFinal"`
	Timestamp time.Time `json:"timestamp"`
}

// Scenario is a practice situation offered to the user
type Scenario struct {
	ID     string `json:"id"`
	Label  string `json:"label"`
	Prompt string `json:"prompt"`
}

// SessionAnalysis is the post-session score card
type SessionAnalysis struct {
	ID              string    `json:"id"`
	Timestamp       time.Time `json:"timestamp"`
	Topic           string    `json:"topic"`
	ClarityScore    float64   `json:"clarityScore"`
	ConfidenceScore float64   `json:"confidenceScore"`
	EmpathyScore    float64   `json:"empathyScore"`
	Feedback        string    `json:"feedback"`
}

// UserProfile is everything persisted about a user
type UserProfile struct {
	ID              string            `json:"id"`
	Name            string            `json:"name"`
	Preferences     *Preferences      `json:"preferences,omitempty"`
	History         []SessionAnalysis `json:"history"`
	KnowledgeAssets []KnowledgeAsset  `json:"knowledgeAssets,omitempty"`
}

// ActiveAssets returns the assets marked active, in order
func (p *UserProfile) ActiveAssets() []KnowledgeAsset {
	if p == nil {
		return nil
	}
	var out []KnowledgeAsset
	for _, a := range p.KnowledgeAssets {
		if a.IsActive {
			out = append(out, a)
		}
	}
	return out
}
