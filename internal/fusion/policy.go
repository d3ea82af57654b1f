package fusion

import (
	"strings"
)

// Complexity buckets a query by how much material an answer needs.
type Complexity string

const (
	ComplexitySimple   Complexity = "simple"
	ComplexityModerate Complexity = "moderate"
	ComplexityComplex  Complexity = "complex"
)

// complexityTags maps explicit query annotations to buckets. An
// upstream planner may prefix queries with these.
var complexityTags = map[string]Complexity{
	"[simple]":   ComplexitySimple,
	"[moderate]": ComplexityModerate,
	"[complex]":  ComplexityComplex,
}

// Classify determines query complexity and returns the query with any
// annotation tag stripped. Untagged queries are classified by shape:
// short single-clause queries are simple, multi-clause or comparative
// queries are complex, the rest moderate.
func Classify(query string) (Complexity, string) {
	trimmed := strings.TrimSpace(query)
	lower := strings.ToLower(trimmed)

	for tag, c := range complexityTags {
		if strings.HasPrefix(lower, tag) {
			return c, strings.TrimSpace(trimmed[len(tag):])
		}
	}

	terms := strings.Fields(trimmed)
	switch {
	case len(terms) <= 4 && !hasConnector(lower):
		return ComplexitySimple, trimmed
	case len(terms) > 12 || hasConnector(lower):
		return ComplexityComplex, trimmed
	default:
		return ComplexityModerate, trimmed
	}
}

// hasConnector detects multi-part questions.
func hasConnector(lower string) bool {
	for _, marker := range []string{" and ", " versus ", " vs ", " compare ", "difference between"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// TopKPolicy maps complexity to result count.
type TopKPolicy struct {
	Simple   int
	Moderate int
	Complex  int
}

// DefaultTopKPolicy returns the standard result counts.
func DefaultTopKPolicy() TopKPolicy {
	return TopKPolicy{Simple: 5, Moderate: 10, Complex: 10}
}

// For returns the result count for a complexity bucket, capped at the
// candidate pool size. pool <= 0 means uncapped.
func (p TopKPolicy) For(c Complexity, pool int) int {
	var k int
	switch c {
	case ComplexitySimple:
		k = p.Simple
	case ComplexityComplex:
		k = p.Complex
	default:
		k = p.Moderate
	}
	if pool > 0 && k > pool {
		k = pool
	}
	return k
}
