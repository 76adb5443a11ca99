// Package selector turns raw element facts into ranked selector candidates
// and the confidence metrics attached to an identification.
package selector

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/kestrelqa/selfheal/api/schemas"
)

// maxAlternatives caps the number of alternative selectors kept alongside
// the primary one.
const maxAlternatives = 5

// Strategy base confidences. The ranking table is a fixed contract; ties
// break by table order, highest first.
const (
	confidenceID        = 0.95
	confidenceTestAttr  = 0.90
	confidenceAriaLabel = 0.85
	confidenceNameAttr  = 0.80
	confidenceText      = 0.75
	confidenceClass     = 0.60
	confidenceFallback  = 0.10
)

// Candidate is one generated selector with its strategy tag and base
// confidence.
type Candidate struct {
	Strategy   string
	Selector   string
	Type       schemas.SelectorType
	Confidence float64
}

// frameworkClassPrefixRe matches class names generated by common frontend
// frameworks, which make for brittle selectors.
var frameworkClassPrefixRe = regexp.MustCompile(
	`^(ng-|css-|jsx-|sc-|Mui|svelte-|chakra-|ant-)`)

// identRe matches ids usable directly after a '#' without escaping.
var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_-]*$`)

// Generate produces the ranked candidate list for a set of element facts.
// The result is sorted descending by base confidence; when no strategy
// matches, a single low-confidence fallback candidate is returned.
func Generate(facts *schemas.ElementFacts) []Candidate {
	var candidates []Candidate
	attrs := facts.Attributes

	if id := attrs["id"]; id != "" {
		candidates = append(candidates, Candidate{
			Strategy:   "id-attribute",
			Selector:   idSelector(id),
			Type:       schemas.SelectorCSS,
			Confidence: confidenceID,
		})
	}

	if name, value, ok := testAttribute(attrs); ok {
		candidates = append(candidates, Candidate{
			Strategy:   "test-attribute",
			Selector:   fmt.Sprintf("[%s=%q]", name, value),
			Type:       schemas.SelectorDataAttr,
			Confidence: confidenceTestAttr,
		})
	}

	if label := attrs["aria-label"]; label != "" {
		candidates = append(candidates, Candidate{
			Strategy:   "aria-label",
			Selector:   fmt.Sprintf("[aria-label=%q]", label),
			Type:       schemas.SelectorARIA,
			Confidence: confidenceAriaLabel,
		})
	}

	if name := attrs["name"]; name != "" {
		candidates = append(candidates, Candidate{
			Strategy:   "name-attribute",
			Selector:   fmt.Sprintf("%s[name=%q]", facts.TagName, name),
			Type:       schemas.SelectorCSS,
			Confidence: confidenceNameAttr,
		})
	}

	if text := strings.TrimSpace(facts.TextContent); text != "" &&
		(facts.TagName == "button" || facts.TagName == "a") {
		candidates = append(candidates, Candidate{
			Strategy:   "text-content",
			Selector:   fmt.Sprintf(`//%s[normalize-space(.)=%q]`, facts.TagName, text),
			Type:       schemas.SelectorText,
			Confidence: confidenceText,
		})
	}

	if class, ok := stableClass(attrs["class"]); ok {
		candidates = append(candidates, Candidate{
			Strategy:   "class-selector",
			Selector:   "." + class,
			Type:       schemas.SelectorCSS,
			Confidence: confidenceClass,
		})
	}

	if len(candidates) == 0 {
		return []Candidate{{
			Strategy:   "fallback",
			Selector:   facts.TagName,
			Type:       schemas.SelectorCSS,
			Confidence: confidenceFallback,
		}}
	}

	// The table is already emitted highest-first; a stable sort keeps table
	// order for equal confidences.
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Confidence > candidates[j].Confidence
	})
	if len(candidates) > maxAlternatives+1 {
		candidates = candidates[:maxAlternatives+1]
	}
	return candidates
}

// Split returns the primary selector, the alternatives and the parallel
// confidence sequence for a ranked candidate list.
func Split(candidates []Candidate) (primary string, alternatives []string, scores []float64) {
	if len(candidates) == 0 {
		return "", nil, nil
	}
	primary = candidates[0].Selector
	scores = make([]float64, len(candidates))
	for i, c := range candidates {
		scores[i] = c.Confidence
		if i > 0 {
			alternatives = append(alternatives, c.Selector)
		}
	}
	return primary, alternatives, scores
}

// idSelector builds the id-based selector, falling back to an attribute
// selector when the id needs escaping.
func idSelector(id string) string {
	if identRe.MatchString(id) {
		return "#" + id
	}
	return fmt.Sprintf("[id=%q]", id)
}

// testAttribute finds the first data-test* attribute, scanning in a
// deterministic order.
func testAttribute(attrs map[string]string) (name, value string, ok bool) {
	names := make([]string, 0, len(attrs))
	for n := range attrs {
		if strings.HasPrefix(n, "data-test") {
			names = append(names, n)
		}
	}
	if len(names) == 0 {
		return "", "", false
	}
	sort.Strings(names)
	return names[0], attrs[names[0]], true
}

// stableClass returns the first class token that is neither framework
// generated nor hash suffixed.
func stableClass(classAttr string) (string, bool) {
	for _, class := range strings.Fields(classAttr) {
		if frameworkClassPrefixRe.MatchString(class) || hasHashSuffix(class) {
			continue
		}
		return class, true
	}
	return "", false
}

// hasHashSuffix reports whether the last '-' or '_' delimited segment of a
// class looks like a build-time hash: at least five characters mixing
// letters and digits, e.g. "btn_x8a91z" or "title-2xKp9".
func hasHashSuffix(class string) bool {
	idx := strings.LastIndexAny(class, "-_")
	if idx < 0 || idx == len(class)-1 {
		return false
	}
	segment := class[idx+1:]
	if len(segment) < 5 {
		return false
	}
	var letters, digits bool
	for _, r := range segment {
		switch {
		case r >= '0' && r <= '9':
			digits = true
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
			letters = true
		default:
			return false
		}
	}
	return letters && digits
}
