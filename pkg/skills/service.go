// Package skills looks up catalog entries relevant to a project context.
// Lookups are best-effort: any failure yields an empty result, never an
// error that could fail a pipeline.
package skills

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

const catalogTTL = 10 * time.Minute

// Skill is one external catalog entry.
type Skill struct {
	Title   string `json:"title"`
	Href    string `json:"href"`
	Content string `json:"content,omitempty"`
}

// Service fetches and caches the catalog, and scores entries against
// keywords. A nil *Service is a valid "not configured" service.
type Service struct {
	httpClient *http.Client
	catalogURL string

	mu        sync.Mutex
	cached    []Skill
	fetchedAt time.Time
}

// NewService creates a Service for the given catalog URL. Returns nil when
// the URL is empty, which callers treat as "disabled".
func NewService(catalogURL string) *Service {
	if catalogURL == "" {
		return nil
	}
	return &Service{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		catalogURL: catalogURL,
	}
}

// FindForContext returns up to limit skills matching the keywords, ranked
// by match count. Returns an empty slice on any failure.
func (s *Service) FindForContext(ctx context.Context, keywords []string, limit int) []Skill {
	if s == nil || len(keywords) == 0 || limit <= 0 {
		return nil
	}

	catalog := s.catalog(ctx)
	if len(catalog) == 0 {
		return nil
	}

	lowered := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" {
			lowered = append(lowered, kw)
		}
	}

	type scored struct {
		skill Skill
		score int
	}
	var matches []scored
	for _, skill := range catalog {
		haystack := strings.ToLower(skill.Title + " " + skill.Content)
		score := 0
		for _, kw := range lowered {
			if strings.Contains(haystack, kw) {
				score++
			}
		}
		if score > 0 {
			matches = append(matches, scored{skill: skill, score: score})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].score > matches[j].score })
	if len(matches) > limit {
		matches = matches[:limit]
	}

	result := make([]Skill, len(matches))
	for i, m := range matches {
		result[i] = m.skill
	}
	return result
}

// catalog returns the cached catalog, refetching after the TTL.
func (s *Service) catalog(ctx context.Context) []Skill {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cached != nil && time.Since(s.fetchedAt) < catalogTTL {
		return s.cached
	}

	fetched, err := s.fetch(ctx)
	if err != nil {
		slog.Warn("Skills catalog fetch failed", "url", s.catalogURL, "error", err)
		// Keep serving a stale catalog if one exists.
		return s.cached
	}
	s.cached = fetched
	s.fetchedAt = time.Now()
	return s.cached
}

func (s *Service) fetch(ctx context.Context) ([]Skill, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.catalogURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &statusError{status: resp.StatusCode}
	}

	var skills []Skill
	if err := json.NewDecoder(resp.Body).Decode(&skills); err != nil {
		return nil, err
	}
	return skills, nil
}

type statusError struct {
	status int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected HTTP status %d", e.status)
}
