package live

import "testing"

func TestDetectTone(t *testing.T) {
	cases := []struct {
		text     string
		expected Tone
		found    bool
	}{
		{"[TONE: anxious-fast] Slow down.", ToneAnxious, true},
		{"[TONE: xyz] Hmm.", ToneNeutral, true},
		{"[TONE:warm] Hi there", ToneWarm, true},
		{"Great job! [TONE: Excited]", ToneEncouraging, true},
		{"[TONE: confident]", ToneAssertive, true},
		{"No marker here", "", false},
		{"[TONE: ] empty", "", false},
	}

	for _, tc := range cases {
		tone, ok := DetectTone(tc.text)
		if ok != tc.found || tone != tc.expected {
			t.Errorf("Expected (%q, %v) for %q, got (%q, %v)", tc.expected, tc.found, tc.text, tone, ok)
		}
	}
}

func TestMapTone_FirstMatchWins(t *testing.T) {
	// "calm" and "tense" both match; warm is checked first
	if got := MapTone("calm but tense"); got != ToneWarm {
		t.Errorf("Expected warm, got %s", got)
	}
	if got := MapTone("excited and assertive"); got != ToneEncouraging {
		t.Errorf("Expected encouraging, got %s", got)
	}
}
