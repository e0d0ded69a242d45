package metrics

import (
	"regexp"
	"strconv"
	"strings"
)

// Sample is a single decoded exposition line: metric name, label set
// and numeric value. Samples are ephemeral; they only live for the
// duration of one aggregation pass.
type Sample struct {
	Name   string
	Labels map[string]string
	Value  float64
}

// Label returns the named label, or the "unknown" sentinel when the
// label is absent or empty. Aggregation keys must never be empty so
// that totals still balance against the system-wide counters.
func (s Sample) Label(key string) string {
	if v, ok := s.Labels[key]; ok && v != "" {
		return v
	}

	return LabelUnknown
}

// LabelUnknown is the sentinel key used when a required label is
// missing from a sample.
const LabelUnknown = "unknown"

var (
	// name{label="value",...} value
	lineRe  = regexp.MustCompile(`^([a-zA-Z_:][a-zA-Z0-9_:]*)(?:\{([^}]*)\})?\s+([+-]?[0-9]*\.?[0-9]+(?:[eE][+-]?[0-9]+)?)\s*$`)
	labelRe = regexp.MustCompile(`(\w+)="([^"]*)"`)
)

// Decode parses one line of exposition text into a Sample. Comment
// lines, blank lines and anything that does not match the grammar
// return ok=false. The feed is an operational best-effort surface, so
// a bad line is skipped rather than failing the pass.
func Decode(line string) (Sample, bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") {
		return Sample{}, false
	}

	m := lineRe.FindStringSubmatch(trimmed)
	if m == nil {
		return Sample{}, false
	}

	value, err := strconv.ParseFloat(m[3], 64)
	if err != nil {
		return Sample{}, false
	}

	return Sample{
		Name:   m[1],
		Labels: decodeLabels(m[2]),
		Value:  value,
	}, true
}

// DecodeAll decodes a full exposition payload, skipping undecodable
// lines.
func DecodeAll(text string) []Sample {
	lines := strings.Split(text, "\n")
	samples := make([]Sample, 0, len(lines))

	for _, line := range lines {
		if s, ok := Decode(line); ok {
			samples = append(samples, s)
		}
	}

	return samples
}

// decodeLabels parses `key="value",...` pairs. Label values are chain
// ids, addresses and memos; escape sequences do not occur in the feed.
func decodeLabels(s string) map[string]string {
	labels := make(map[string]string)
	if s == "" {
		return labels
	}

	for _, pair := range labelRe.FindAllStringSubmatch(s, -1) {
		labels[pair[1]] = pair[2]
	}

	return labels
}
