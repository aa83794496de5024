package gateway

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	_ "image/png"
	"net/http"
	"strings"

	_ "golang.org/x/image/webp"

	"github.com/psysense/voice-coach/internal/coach"
	"github.com/psysense/voice-coach/internal/knowledge"
	"github.com/psysense/voice-coach/internal/media"
	"github.com/psysense/voice-coach/internal/profile"
)

const maxRequestBody = 8 << 20

type snapshotRequest struct {
	Image string     `json:"image"` // base64, optionally a data URL
	Tier  coach.Tier `json:"tier"`
}

type analysisRequest struct {
	Messages  []coach.Message `json:"messages"`
	Topic     string          `json:"topic"`
	PersonaID string          `json:"personaId,omitempty"`
	UserID    string          `json:"userId,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// handleScenarios returns tailored scenarios for a profile. A body with only
// an id is filled from the store.
func (s *Server) handleScenarios(w http.ResponseWriter, r *http.Request) {
	if s.helpers == nil {
		writeError(w, http.StatusServiceUnavailable, "scenario generation is not configured")
		return
	}
	var p coach.UserProfile
	if !decodeBody(w, r, &p) {
		return
	}
	if p.ID != "" && p.Preferences == nil && s.store != nil {
		stored, err := s.store.Get(r.Context(), p.ID)
		if err != nil {
			s.logger.Warn().Err(err).Str("user_id", p.ID).Msg("Failed to load profile for scenarios")
		} else if stored != nil {
			p = *stored
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"scenarios": s.helpers.GenerateTailoredScenarios(r.Context(), &p),
	})
}

// handleSnapshot recompresses an uploaded image and describes it
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if s.helpers == nil {
		writeError(w, http.StatusServiceUnavailable, "snapshot analysis is not configured")
		return
	}
	var req snapshotRequest
	if !decodeBody(w, r, &req) {
		return
	}
	data := req.Image
	if i := strings.Index(data, ","); strings.HasPrefix(data, "data:") && i >= 0 {
		data = data[i+1:]
	}
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		writeError(w, http.StatusBadRequest, "image must be base64")
		return
	}
	jpeg, err := media.Recompress(raw, media.ManualQuality, media.DefaultMaxWidth)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unsupported image")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"analysis": s.helpers.AnalyzeSnapshot(r.Context(), jpeg, req.Tier),
	})
}

// handleAnalysis scores a transcript and appends it to the user's history
func (s *Server) handleAnalysis(w http.ResponseWriter, r *http.Request) {
	if s.analyzer == nil {
		writeError(w, http.StatusServiceUnavailable, "session analysis is not configured")
		return
	}
	var req analysisRequest
	if !decodeBody(w, r, &req) {
		return
	}
	var persona *coach.Persona
	if p, ok := coach.FindPersona(req.PersonaID); ok {
		persona = &p
	}
	result := s.analyzer.Analyze(r.Context(), req.Messages, req.Topic, persona)
	if result != nil && req.UserID != "" && s.store != nil {
		if _, err := s.store.AddSessionAnalysis(r.Context(), req.UserID, *result); err != nil {
			s.logger.Warn().Err(err).Str("user_id", req.UserID).Msg("Failed to store session analysis")
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"analysis": result})
}

// handleContext runs a context lookup without opening a session
func (s *Server) handleContext(w http.ResponseWriter, r *http.Request) {
	if s.knowledge == nil {
		writeError(w, http.StatusServiceUnavailable, "context retrieval is not configured")
		return
	}
	var q knowledge.Query
	if !decodeBody(w, r, &q) {
		return
	}
	q.Tier = q.Tier.Normalize()
	writeJSON(w, http.StatusOK, map[string]string{"context": s.knowledge.FetchContext(r.Context(), q)})
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "profile store is not configured")
		return
	}
	id := r.PathValue("id")
	p, err := s.store.Get(r.Context(), id)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", id).Msg("Failed to load profile")
		writeError(w, http.StatusInternalServerError, "failed to load profile")
		return
	}
	if p == nil {
		writeError(w, http.StatusNotFound, "profile not found")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handlePutProfile(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "profile store is not configured")
		return
	}
	var p coach.UserProfile
	if !decodeBody(w, r, &p) {
		return
	}
	p.ID = r.PathValue("id")
	if p.Preferences != nil && len(p.Preferences.FocusAreas) > coach.MaxFocusAreas {
		writeError(w, http.StatusBadRequest, "too many focus areas")
		return
	}
	if err := s.store.Set(r.Context(), &p); err != nil {
		if errors.Is(err, profile.ErrInvalidProfile) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error().Err(err).Str("user_id", p.ID).Msg("Failed to save profile")
		writeError(w, http.StatusInternalServerError, "failed to save profile")
		return
	}
	writeJSON(w, http.StatusOK, &p)
}

func (s *Server) handleDeleteProfile(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "profile store is not configured")
		return
	}
	id := r.PathValue("id")
	if err := s.store.Clear(r.Context(), id); err != nil {
		s.logger.Error().Err(err).Str("user_id", id).Msg("Failed to clear profile")
		writeError(w, http.StatusInternalServerError, "failed to clear profile")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
