package enhance

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"text/template"
)

var summaryTemplate = template.Must(template.New("summary").Parse(
	`Planned {{.Stops}} stop(s) in {{.Region}} targeting {{.Species}}. ` +
		`Best candidate: {{.Best}} (score {{printf "%.2f" .BestScore}}).`))

// TemplateFallback is the deterministic enhancer used when the external
// service is disabled or failing. It produces the same structural shape as
// the HTTP enhancer with no score deltas.
type TemplateFallback struct{}

// NewTemplateFallback creates the deterministic fallback enhancer.
func NewTemplateFallback() *TemplateFallback {
	return &TemplateFallback{}
}

// Enhance never fails and never reorders: it renders a summary and one note
// per candidate from the numeric inputs alone.
func (f *TemplateFallback) Enhance(_ context.Context, req Request) (*Enhancement, error) {
	enhancement := &Enhancement{
		Notes:  make(map[int]string, len(req.Candidates)),
		Source: "template",
	}

	candidates := make([]Candidate, len(req.Candidates))
	copy(candidates, req.Candidates)
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].Rank < candidates[j].Rank })

	best := "none"
	bestScore := 0.0
	if len(candidates) > 0 {
		best = candidateName(candidates[0])
		bestScore = candidates[0].Score
	}

	var b strings.Builder
	err := summaryTemplate.Execute(&b, map[string]any{
		"Stops":     len(candidates),
		"Region":    req.Region,
		"Species":   strings.Join(req.TargetSpecies, ", "),
		"Best":      best,
		"BestScore": bestScore,
	})
	if err != nil {
		// Template and data are fixed shapes; execution cannot fail at runtime
		b.Reset()
		b.WriteString("Trip plan summary unavailable.")
	}
	enhancement.Summary = b.String()

	targets := make(map[string]struct{}, len(req.TargetSpecies))
	for _, code := range req.TargetSpecies {
		targets[code] = struct{}{}
	}

	for _, c := range candidates {
		matched := 0
		for _, code := range c.SpeciesCodes {
			if _, ok := targets[code]; ok {
				matched++
			}
		}
		enhancement.Notes[c.ID] = fmt.Sprintf("%s: %d of %d target species reported, %.1f km from origin.",
			candidateName(c), matched, len(req.TargetSpecies), c.DistanceKm)
	}

	return enhancement, nil
}

func candidateName(c Candidate) string {
	if c.Name != "" {
		return c.Name
	}
	return fmt.Sprintf("unnamed cluster %d", c.ID)
}
