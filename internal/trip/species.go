package trip

import (
	"context"
	"sort"
	"strings"

	"github.com/birdtrip/birdtrip-go/internal/ebird"
	"github.com/birdtrip/birdtrip-go/internal/errors"
)

// AssistFunc is an optional hook that resolves a species name the taxonomy
// lookup could not, e.g. via a language-model suggestion. It may return nil
// with no error when it has no answer.
type AssistFunc func(ctx context.Context, name string, taxonomy []ebird.TaxonomyEntry) (*SpeciesRef, error)

// Resolver validates requested species names against the eBird taxonomy.
type Resolver struct {
	taxonomy func(ctx context.Context) ([]ebird.TaxonomyEntry, error)
	assist   AssistFunc
}

// NewResolver creates a Resolver backed by the given taxonomy source. The
// source is typically the taxonomy endpoint behind the resilience executor so
// repeated resolutions hit the 24h cache. assist may be nil.
func NewResolver(taxonomy func(ctx context.Context) ([]ebird.TaxonomyEntry, error), assist AssistFunc) *Resolver {
	return &Resolver{taxonomy: taxonomy, assist: assist}
}

// Resolve maps every requested name to a SpeciesRef or a ResolutionFailure.
// No requested name is ever dropped: len(refs)+len(failures) == len(names).
func (r *Resolver) Resolve(ctx context.Context, names []string) ([]SpeciesRef, []ResolutionFailure, error) {
	if len(names) == 0 {
		return nil, nil, errors.Newf("at least one species name is required").
			Category(errors.CategoryValidation).
			Component("trip").
			Build()
	}

	taxonomy, err := r.taxonomy(ctx)
	if err != nil {
		return nil, nil, errors.Newf("taxonomy unavailable: %w", err).
			Component("trip").
			Build()
	}

	var (
		refs     []SpeciesRef
		failures []ResolutionFailure
	)

	for _, name := range names {
		trimmed := strings.TrimSpace(name)
		if trimmed == "" {
			failures = append(failures, ResolutionFailure{InputName: name, Reason: "empty name"})
			continue
		}

		if ref, ok := resolveExact(trimmed, taxonomy); ok {
			refs = append(refs, ref)
			continue
		}
		if ref, ok := resolveFuzzy(trimmed, taxonomy); ok {
			refs = append(refs, ref)
			continue
		}
		if r.assist != nil {
			ref, aerr := r.assist(ctx, trimmed, taxonomy)
			if aerr == nil && ref != nil {
				ref.InputName = name
				ref.Method = ResolutionAssisted
				refs = append(refs, *ref)
				continue
			}
		}

		failures = append(failures, ResolutionFailure{InputName: name, Reason: "no taxonomy match"})
	}

	return refs, failures, nil
}

// resolveExact matches a species code, common name or scientific name
// case-insensitively. Exact matches carry full confidence.
func resolveExact(name string, taxonomy []ebird.TaxonomyEntry) (SpeciesRef, bool) {
	lower := strings.ToLower(name)
	for i := range taxonomy {
		e := &taxonomy[i]
		if strings.ToLower(e.SpeciesCode) == lower ||
			strings.ToLower(e.CommonName) == lower ||
			strings.ToLower(e.ScientificName) == lower {
			return SpeciesRef{
				InputName:      name,
				Code:           e.SpeciesCode,
				CommonName:     e.CommonName,
				ScientificName: e.ScientificName,
				Method:         ResolutionExact,
				Confidence:     1.0,
			}, true
		}
	}
	return SpeciesRef{}, false
}

// resolveFuzzy matches on normalized substrings. Among candidates the longest
// relative overlap wins; confidence scales with how much of the candidate
// name the input covers.
func resolveFuzzy(name string, taxonomy []ebird.TaxonomyEntry) (SpeciesRef, bool) {
	normalized := normalizeName(name)
	if normalized == "" {
		return SpeciesRef{}, false
	}

	type candidate struct {
		entry      *ebird.TaxonomyEntry
		confidence float64
	}
	var candidates []candidate

	for i := range taxonomy {
		e := &taxonomy[i]
		for _, target := range []string{normalizeName(e.CommonName), normalizeName(e.ScientificName)} {
			if target == "" {
				continue
			}
			if strings.Contains(target, normalized) || strings.Contains(normalized, target) {
				shorter, longer := normalized, target
				if len(shorter) > len(longer) {
					shorter, longer = longer, shorter
				}
				candidates = append(candidates, candidate{
					entry:      e,
					confidence: 0.9 * float64(len(shorter)) / float64(len(longer)),
				})
				break
			}
		}
	}

	if len(candidates) == 0 {
		return SpeciesRef{}, false
	}

	// Deterministic: best confidence first, species code breaks ties
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].confidence != candidates[j].confidence {
			return candidates[i].confidence > candidates[j].confidence
		}
		return candidates[i].entry.SpeciesCode < candidates[j].entry.SpeciesCode
	})

	best := candidates[0]
	if best.confidence < 0.3 {
		return SpeciesRef{}, false
	}

	return SpeciesRef{
		InputName:      name,
		Code:           best.entry.SpeciesCode,
		CommonName:     best.entry.CommonName,
		ScientificName: best.entry.ScientificName,
		Method:         ResolutionFuzzy,
		Confidence:     best.confidence,
	}, true
}

// normalizeName lowercases and strips everything except letters and spaces,
// collapsing runs of whitespace.
func normalizeName(name string) string {
	var b strings.Builder
	lastSpace := true
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r)
			lastSpace = false
		case r == ' ' || r == '-' || r == '_' || r == '\'':
			if !lastSpace {
				b.WriteRune(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}
