package gateway

import (
	"github.com/psysense/voice-coach/internal/coach"
	"github.com/psysense/voice-coach/internal/live"
)

// Client message types
const (
	TypeConnect    = "connect"
	TypeDisconnect = "disconnect"
	TypeAudio      = "audio"
	TypeVideo      = "video"
	TypeCamera     = "camera"
)

// Server message types. Audio reuses TypeAudio.
const (
	TypeStatus     = "status"
	TypeTranscript = "transcript"
	TypeVolume     = "volume"
	TypeTone       = "tone"
	TypeActivity   = "activity"
	TypeError      = "error"
	TypeAnalysis   = "analysis"
)

// ClientMessage is a frame sent by the browser
type ClientMessage struct {
	Type      string          `json:"type"`
	Options   *ConnectRequest `json:"options,omitempty"`
	Data      string          `json:"data,omitempty"`      // base64 PCM16 16 kHz for audio, base64 JPEG for video
	Available *bool           `json:"available,omitempty"` // camera
}

// ConnectRequest is the connect surface plus the selections the gateway
// resolves into it. Explicit connect options win over resolved ones.
type ConnectRequest struct {
	live.ConnectOptions

	UserID     string           `json:"userId,omitempty"`
	PersonaID  string           `json:"personaId,omitempty"`
	ScenarioID string           `json:"scenarioId,omitempty"`
	CustomGoal string           `json:"customGoal,omitempty"`
	Scenarios  []coach.Scenario `json:"scenarios,omitempty"` // tailored scenarios offered to this user

	// SkipResearch connects without a context lookup
	SkipResearch bool `json:"skipResearch,omitempty"`
}

type statusMessage struct {
	Type  string `json:"type"`
	State string `json:"state"`
}

type transcriptMessage struct {
	Type    string        `json:"type"`
	ID      string        `json:"id"`
	Speaker coach.Speaker `json:"speaker"`
	Text    string        `json:"text"`
	IsFinal bool          `json:"isFinal"`
}

type volumeMessage struct {
	Type   string `json:"type"`
	Input  uint8  `json:"input"`
	Output uint8  `json:"output"`
}

type toneMessage struct {
	Type string    `json:"type"`
	Tone live.Tone `json:"tone"`
}

type activityMessage struct {
	Type     string        `json:"type"`
	Speaker  coach.Speaker `json:"speaker"`
	Speaking bool          `json:"speaking"`
}

type errorMessage struct {
	Type    string `json:"type"`
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message"`
}

type audioMessage struct {
	Type       string `json:"type"`
	Data       string `json:"data"`
	SampleRate int    `json:"sampleRate"`
}

type analysisMessage struct {
	Type     string                `json:"type"`
	Analysis coach.SessionAnalysis `json:"analysis"`
}
