package knowledge

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/floats"

	"github.com/psysense/voice-coach/internal/coach"
	"github.com/psysense/voice-coach/internal/gemini"
)

const (
	// DefaultThreshold is the hybrid score above which local matches are trusted
	DefaultThreshold = 0.65
	maxKeywordBoost  = 0.4
	topMatches       = 2

	researchSystem = "You are a specialized research assistant. Find a named communication framework. " +
		"Output: FRAMEWORK NAME, then bullet points of steps."
)

// Embedder turns text into vectors
type Embedder interface {
	Embed(ctx context.Context, texts ...string) ([][]float32, error)
}

// Researcher runs web-grounded queries
type Researcher interface {
	Research(ctx context.Context, prompt, systemInstruction string) (gemini.Research, error)
}

// VectorIndex scores library snippets server-side
type VectorIndex interface {
	Seed(ctx context.Context, snippets []Snippet, vectors [][]float32) error
	Scores(ctx context.Context, query []float32, limit int) (map[string]float64, error)
}

// Query describes what the user wants to practice
type Query struct {
	Goal      string     `json:"goal"`
	Scenario  string     `json:"scenario"`
	FocusTags []string   `json:"focusTags"`
	Tier      coach.Tier `json:"tier"`
}

// Options configures a Service. Embedder is required for vector scoring;
// without it only the keyword fallback runs.
type Options struct {
	Embedder   Embedder
	Researcher Researcher
	Index      VectorIndex
	Threshold  float64
	Library    []Snippet
	Logger     zerolog.Logger
}

// Service finds coaching context for a session
type Service struct {
	embedder   Embedder
	researcher Researcher
	index      VectorIndex
	threshold  float64
	library    []Snippet
	logger     zerolog.Logger

	mu      sync.Mutex
	vectors [][]float32 // parallel to library once computed
}

// New creates a retrieval service
func New(opts Options) *Service {
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}
	if len(opts.Library) == 0 {
		opts.Library = Library
	}
	return &Service{
		embedder:   opts.Embedder,
		researcher: opts.Researcher,
		index:      opts.Index,
		threshold:  opts.Threshold,
		library:    opts.Library,
		logger:     opts.Logger,
	}
}

type match struct {
	snippet Snippet
	score   float64
}

// FetchContext returns framework text for the instruction composer, or an
// empty string. It never fails: each stage falls through to the next.
//
//  1. hybrid vector + keyword search; a best score above the threshold wins
//  2. premium tier only: web research
//  3. the best local matches, whatever their score
//  4. keyword matching over the library
func (s *Service) FetchContext(ctx context.Context, q Query) string {
	matches, err := s.hybrid(ctx, q)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Embedding check failed")
	}
	if len(matches) > 0 && matches[0].score > s.threshold {
		return formatMatches(matches)
	}

	if q.Tier.Normalize() == coach.TierPremium && s.researcher != nil && ctx.Err() == nil {
		research, err := s.researcher.Research(ctx, researchPrompt(q), researchSystem)
		if err == nil && strings.TrimSpace(research.Text) != "" {
			return formatResearch(research)
		}
		if err != nil {
			s.logger.Warn().Err(err).Msg("Web research failed")
		}
	}

	if len(matches) > 0 {
		return formatMatches(matches)
	}
	return s.keywordFallback(q)
}

func (s *Service) hybrid(ctx context.Context, q Query) ([]match, error) {
	if s.embedder == nil {
		return nil, nil
	}
	query, err := s.embedder.Embed(ctx, fmt.Sprintf("Goal: %s. Scenario: %s", q.Goal, q.Scenario))
	if err != nil {
		return nil, err
	}
	if len(query) == 0 || len(query[0]) == 0 {
		return nil, errors.New("empty query embedding")
	}
	vectors, err := s.libraryVectors(ctx)
	if err != nil {
		return nil, err
	}

	var remote map[string]float64
	if s.index != nil {
		remote, err = s.index.Scores(ctx, query[0], len(s.library))
		if err != nil {
			s.logger.Warn().Err(err).Msg("Vector index query failed, scoring locally")
			remote = nil
		}
	}

	terms := searchTerms(q)
	matches := make([]match, len(s.library))
	for i, snippet := range s.library {
		var vectorScore float64
		if remote != nil {
			vectorScore = remote[snippet.ID]
		} else {
			vectorScore = cosine(query[0], vectors[i])
		}
		matches[i] = match{snippet: snippet, score: vectorScore + keywordBoost(snippet, terms)}
	}
	slices.SortStableFunc(matches, func(a, b match) int {
		return cmp.Compare(b.score, a.score)
	})
	return matches, nil
}

// libraryVectors embeds the library once. A failed attempt is not cached.
func (s *Service) libraryVectors(ctx context.Context) ([][]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.vectors != nil {
		return s.vectors, nil
	}

	texts := make([]string, len(s.library))
	for i, snippet := range s.library {
		texts[i] = snippet.embedText()
	}
	vectors, err := s.embedder.Embed(ctx, texts...)
	if err != nil {
		return nil, fmt.Errorf("failed to embed library: %w", err)
	}
	if len(vectors) != len(s.library) {
		return nil, fmt.Errorf("expected %d library embeddings, got %d", len(s.library), len(vectors))
	}

	if s.index != nil {
		if err := s.index.Seed(ctx, s.library, vectors); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to seed vector index")
		}
	}
	s.vectors = vectors
	return vectors, nil
}

func searchTerms(q Query) []string {
	terms := strings.Fields(strings.ToLower(q.Goal))
	terms = append(terms, strings.Fields(strings.ToLower(q.Scenario))...)
	for _, tag := range q.FocusTags {
		terms = append(terms, strings.ToLower(tag))
	}
	return terms
}

// keywordBoost adds 0.1 per term found in title or tags and another 0.1
// when it is in the title, capped at 0.4
func keywordBoost(snippet Snippet, terms []string) float64 {
	title := strings.ToLower(snippet.Title)
	searchable := title + " " + strings.ToLower(strings.Join(snippet.Tags, " "))

	boost := 0.0
	for _, term := range terms {
		if len(term) <= 3 {
			continue
		}
		if strings.Contains(searchable, term) {
			boost += 0.1
		}
		if strings.Contains(title, term) {
			boost += 0.1
		}
	}
	return math.Min(boost, maxKeywordBoost)
}

func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	x := make([]float64, len(a))
	y := make([]float64, len(b))
	for i := range a {
		x[i] = float64(a[i])
		y[i] = float64(b[i])
	}
	norm := floats.Norm(x, 2) * floats.Norm(y, 2)
	if norm == 0 {
		return 0
	}
	return floats.Dot(x, y) / norm
}

func formatMatches(matches []match) string {
	n := min(topMatches, len(matches))
	parts := make([]string, n)
	for i := 0; i < n; i++ {
		m := matches[i]
		parts[i] = fmt.Sprintf("RELEVANT FRAMEWORK (%d%% match): %s\n%s",
			int(math.Round(m.score*100)), m.snippet.Title, m.snippet.Content)
	}
	return strings.Join(parts, "\n\n")
}

func researchPrompt(q Query) string {
	goal := strings.TrimSpace(q.Goal)
	if goal == "" {
		goal = "Improve communication"
	}
	return fmt.Sprintf(`User Goal: %q
Scenario: %q
Focus Areas: %q

Find a recognized psychological framework, communication technique, or negotiation strategy that specifically addresses this situation.
Explain the steps briefly for a real-time coach to use.
Do not just give generic advice; name a specific method (e.g., "The XYZ Technique").`,
		goal, q.Scenario, strings.Join(q.FocusTags, ", "))
}

func formatResearch(r gemini.Research) string {
	if r.Source != "" {
		return fmt.Sprintf("RESEARCHED FRAMEWORK (Source: %s):\n%s", r.Source, r.Text)
	}
	return "RESEARCHED FRAMEWORK:\n" + r.Text
}

// keywordFallback scores snippets by tag (+2), content word (+1) and
// title word (+3) matches
func (s *Service) keywordFallback(q Query) string {
	query := strings.ToLower(q.Goal + " " + q.Scenario + " " + strings.Join(q.FocusTags, " "))
	words := strings.Split(query, " ")

	var scored []match
	for _, snippet := range s.library {
		score := 0.0
		for _, tag := range snippet.Tags {
			if strings.Contains(query, strings.ToLower(tag)) {
				score += 2
			}
		}
		content := strings.ToLower(snippet.Content)
		title := strings.ToLower(snippet.Title)
		for _, word := range words {
			if len(word) <= 3 {
				continue
			}
			if strings.Contains(content, word) {
				score++
			}
			if strings.Contains(title, word) {
				score += 3
			}
		}
		if score > 0 {
			scored = append(scored, match{snippet: snippet, score: score})
		}
	}

	if len(scored) == 0 {
		fallback, ok := findSnippet(s.library, DefaultSnippetID)
		if !ok {
			return ""
		}
		return fmt.Sprintf("RELEVANT FRAMEWORK: %s\n%s", fallback.Title, fallback.Content)
	}

	slices.SortStableFunc(scored, func(a, b match) int {
		return cmp.Compare(b.score, a.score)
	})
	n := min(topMatches, len(scored))
	parts := make([]string, n)
	for i := 0; i < n; i++ {
		parts[i] = fmt.Sprintf("RELEVANT FRAMEWORK: %s\n%s", scored[i].snippet.Title, scored[i].snippet.Content)
	}
	return strings.Join(parts, "\n\n")
}
