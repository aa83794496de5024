package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/psysense/voice-coach/internal/coach"
)

func doJSON(t *testing.T, h *harness, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, _ := json.Marshal(b)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, h.srv.URL+path, reader)
	if err != nil {
		t.Fatalf("Expected request to build, got %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Expected request to succeed, got %v", err)
	}
	defer resp.Body.Close()

	var out map[string]any
	json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestProfileEndpoints(t *testing.T) {
	h := newHarness(t, nil)

	resp, _ := doJSON(t, h, http.MethodGet, "/api/profile/u1", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 for a missing profile, got %d", resp.StatusCode)
	}

	resp, body := doJSON(t, h, http.MethodPut, "/api/profile/u1", coach.UserProfile{
		Name:        "Ana",
		Preferences: &coach.Preferences{CoachingStyle: coach.StyleDirect, FocusAreas: []string{"Clarity"}},
	})
	if resp.StatusCode != http.StatusOK || body["id"] != "u1" {
		t.Errorf("Expected saved profile with path id, got %d %v", resp.StatusCode, body)
	}

	resp, body = doJSON(t, h, http.MethodGet, "/api/profile/u1", nil)
	if resp.StatusCode != http.StatusOK || body["name"] != "Ana" {
		t.Errorf("Expected stored profile, got %d %v", resp.StatusCode, body)
	}

	resp, _ = doJSON(t, h, http.MethodDelete, "/api/profile/u1", nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("Expected 204 on delete, got %d", resp.StatusCode)
	}
	if p, _ := h.store.Get(context.Background(), "u1"); p != nil {
		t.Error("Expected profile to be cleared")
	}
}

func TestProfileEndpoints_Validation(t *testing.T) {
	h := newHarness(t, nil)

	resp, _ := doJSON(t, h, http.MethodPut, "/api/profile/u1", coach.UserProfile{
		Preferences: &coach.Preferences{FocusAreas: []string{"a", "b", "c", "d"}},
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for too many focus areas, got %d", resp.StatusCode)
	}

	resp, _ = doJSON(t, h, http.MethodPut, "/api/profile/u1", "{broken")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for a malformed body, got %d", resp.StatusCode)
	}
}

func TestScenariosEndpoint_FillsFromStore(t *testing.T) {
	h := newHarness(t, nil)
	h.store.Set(context.Background(), &coach.UserProfile{
		ID:          "u1",
		Name:        "Ana",
		Preferences: &coach.Preferences{FocusAreas: []string{"Confidence"}},
	})

	resp, body := doJSON(t, h, http.MethodPost, "/api/scenarios", map[string]string{"id": "u1"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	scenarios, _ := body["scenarios"].([]any)
	if len(scenarios) != 1 {
		t.Errorf("Expected one scenario, got %v", body)
	}

	h.helpers.mu.Lock()
	defer h.helpers.mu.Unlock()
	if h.helpers.profile == nil || h.helpers.profile.Name != "Ana" {
		t.Errorf("Expected stored profile to be used, got %+v", h.helpers.profile)
	}
}

func TestSnapshotEndpoint(t *testing.T) {
	h := newHarness(t, nil)

	var buf bytes.Buffer
	png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 1280, 720)))
	dataURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())

	resp, body := doJSON(t, h, http.MethodPost, "/api/snapshot", map[string]string{"image": dataURL, "tier": "premium"})
	if resp.StatusCode != http.StatusOK || body["analysis"] != "open posture" {
		t.Fatalf("Expected snapshot analysis, got %d %v", resp.StatusCode, body)
	}

	h.helpers.mu.Lock()
	defer h.helpers.mu.Unlock()
	if len(h.helpers.snapshot) < 2 || h.helpers.snapshot[0] != 0xFF || h.helpers.snapshot[1] != 0xD8 {
		t.Error("Expected the helper to receive a JPEG")
	}
	img, _, err := image.Decode(bytes.NewReader(h.helpers.snapshot))
	if err != nil || img.Bounds().Dx() != 640 {
		t.Errorf("Expected a 640px wide recompressed image, got %v", err)
	}
	if h.helpers.tier != coach.TierPremium {
		t.Errorf("Expected premium tier, got %q", h.helpers.tier)
	}
}

func TestSnapshotEndpoint_BadImage(t *testing.T) {
	h := newHarness(t, nil)

	resp, _ := doJSON(t, h, http.MethodPost, "/api/snapshot", map[string]string{"image": "%%%"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for invalid base64, got %d", resp.StatusCode)
	}
	resp, _ = doJSON(t, h, http.MethodPost, "/api/snapshot", map[string]string{"image": base64.StdEncoding.EncodeToString([]byte("not an image"))})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for undecodable image, got %d", resp.StatusCode)
	}
}

func TestAnalysisEndpoint(t *testing.T) {
	h := newHarness(t, nil)
	h.store.Set(context.Background(), &coach.UserProfile{ID: "u1"})

	resp, body := doJSON(t, h, http.MethodPost, "/api/analysis", analysisRequest{
		Messages:  []coach.Message{{Role: coach.SpeakerUser, Text: "I need a raise"}},
		Topic:     "Work",
		PersonaID: "luna",
		UserID:    "u1",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	if analysis, _ := body["analysis"].(map[string]any); analysis["topic"] != "Work" {
		t.Errorf("Expected analysis for Work, got %v", body)
	}
	if p, _ := h.store.Get(context.Background(), "u1"); p == nil || len(p.History) != 1 {
		t.Error("Expected analysis appended to history")
	}

	h.analyzer.mu.Lock()
	defer h.analyzer.mu.Unlock()
	if h.analyzer.persona == nil || h.analyzer.persona.ID != "luna" {
		t.Errorf("Expected luna persona, got %+v", h.analyzer.persona)
	}
}

func TestContextEndpoint(t *testing.T) {
	h := newHarness(t, nil)

	resp, body := doJSON(t, h, http.MethodPost, "/api/context", map[string]any{"goal": "Ask for a raise", "tier": "gold"})
	if resp.StatusCode != http.StatusOK || body["context"] != h.knowledge.text {
		t.Fatalf("Expected context, got %d %v", resp.StatusCode, body)
	}
	if q := h.knowledge.lastQuery(); q.Goal != "Ask for a raise" || q.Tier != coach.TierStandard {
		t.Errorf("Expected normalized query, got %+v", q)
	}
}

func TestEndpoints_Unconfigured(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.Helpers = nil
		o.Knowledge = nil
		o.Analyzer = nil
		o.Store = nil
	})

	for _, path := range []string{"/api/scenarios", "/api/snapshot", "/api/analysis", "/api/context"} {
		resp, _ := doJSON(t, h, http.MethodPost, path, map[string]string{})
		if resp.StatusCode != http.StatusServiceUnavailable {
			t.Errorf("Expected 503 for %s, got %d", path, resp.StatusCode)
		}
	}
	resp, _ := doJSON(t, h, http.MethodGet, "/api/profile/u1", nil)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 without a store, got %d", resp.StatusCode)
	}
}

func TestOriginChecker(t *testing.T) {
	allowAll := originChecker(nil)
	restricted := originChecker([]string{"https://app.example.com"})

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	if !allowAll(req) {
		t.Error("Expected any origin to pass without a list")
	}
	if restricted(req) {
		t.Error("Expected unlisted origin to be rejected")
	}
	req.Header.Set("Origin", "https://app.example.com")
	if !restricted(req) {
		t.Error("Expected listed origin to pass")
	}
}
