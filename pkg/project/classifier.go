// Package project maps an analysis artifact to a project type and provides
// the deterministic per-type templates (Dockerfile, guidance, port).
package project

import (
	"regexp"
	"strings"

	"github.com/appforge/appforge/pkg/models"
)

var (
	pythonSummaryRe = regexp.MustCompile(`(?i)python|flask|fastapi|django|pandas|scraper|bot|cron|daemon|trading|data.sci|machine.learn|ia|ml`)
	workerSummaryRe = regexp.MustCompile(`(?i)bot|scraper|cron|daemon|worker`)
	spaFrontendRe   = regexp.MustCompile(`(?i)react|vue|svelte|angular|vite|next|nuxt|remix`)
)

var knownTypes = map[models.ProjectType]bool{
	models.TypeStatic:       true,
	models.TypeSPA:          true,
	models.TypeFullstack:    true,
	models.TypeAPI:          true,
	models.TypePythonWorker: true,
	models.TypeNodeWorker:   true,
}

// Classify derives the project type from the analysis artifact.
// First match wins; an explicit known type short-circuits the heuristics.
func Classify(analysis map[string]any) models.ProjectType {
	if t, ok := analysis["type"].(string); ok {
		if typ := models.ProjectType(strings.ToLower(strings.TrimSpace(t))); knownTypes[typ] {
			return typ
		}
	}

	backend := stackField(analysis, "backend")
	frontend := stackField(analysis, "frontend")
	summary, _ := analysis["summary"].(string)

	switch {
	case mentions(backend, "python") || pythonSummaryRe.MatchString(summary):
		return models.TypePythonWorker
	case (mentions(backend, "node") || mentions(backend, "express")) && workerSummaryRe.MatchString(summary):
		return models.TypeNodeWorker
	case !meaningful(backend) && spaFrontendRe.MatchString(frontend):
		return models.TypeSPA
	case !meaningful(backend) && !spaFrontendRe.MatchString(frontend):
		return models.TypeStatic
	case !meaningful(frontend):
		return models.TypeAPI
	default:
		return models.TypeFullstack
	}
}

// stackField reads analysis.stack.<name> if present.
func stackField(analysis map[string]any, name string) string {
	stack, ok := analysis["stack"].(map[string]any)
	if !ok {
		return ""
	}
	value, _ := stack[name].(string)
	return value
}

func mentions(value, word string) bool {
	return strings.Contains(strings.ToLower(value), word)
}

// meaningful reports whether a stack entry names an actual technology.
func meaningful(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "none", "no", "n/a", "-", "aucun":
		return false
	}
	return true
}
