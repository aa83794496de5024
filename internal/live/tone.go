package live

import (
	"regexp"
	"strings"
)

// Tone is the vocal affect hint reported to the UI
type Tone string

const (
	ToneWarm        Tone = "warm"
	ToneAnxious     Tone = "anxious"
	ToneEncouraging Tone = "encouraging"
	ToneAssertive   Tone = "assertive"
	ToneNeutral     Tone = "neutral"
)

var toneMarker = regexp.MustCompile(`\[TONE:\s*([^\]\s][^\]]*)\]`)

// Keyword groups are checked in order; the first group with a matching
// substring wins
var toneKeywords = []struct {
	tone     Tone
	keywords []string
}{
	{ToneWarm, []string{"warm", "calm"}},
	{ToneAnxious, []string{"anxious", "tens", "fast"}},
	{ToneEncouraging, []string{"encourag", "excit"}},
	{ToneAssertive, []string{"assert", "confiden"}},
}

// MapTone maps a raw marker value to a tone category. Unknown values are neutral.
func MapTone(raw string) Tone {
	raw = strings.ToLower(strings.TrimSpace(raw))
	for _, group := range toneKeywords {
		for _, kw := range group.keywords {
			if strings.Contains(raw, kw) {
				return group.tone
			}
		}
	}
	return ToneNeutral
}

// DetectTone finds the first tone marker in text
func DetectTone(text string) (Tone, bool) {
	m := toneMarker.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return MapTone(m[1]), true
}
