package secretscan

import (
	"math"
	"strings"
)

// DefaultEntropyThreshold catches base64-like material without flagging
// ordinary identifiers.
const DefaultEntropyThreshold = 4.5

const minEntropyTokenLen = 20

// EnableEntropy turns on high-entropy token detection. Pass
// DefaultEntropyThreshold unless tuning for a specific tree. Entropy
// findings report as medium severity since hashes and random test data
// trip it too.
func (s *Scanner) EnableEntropy(threshold float64) {
	s.entropyThreshold = threshold
}

func (s *Scanner) entropyFindings(path string, lineNum int, line string) []Finding {
	if s.entropyThreshold <= 0 {
		return nil
	}
	var findings []Finding
	for _, tok := range splitTokens(line) {
		if len(tok) < minEntropyTokenLen {
			continue
		}
		if shannon(tok) < s.entropyThreshold {
			continue
		}
		start := strings.Index(line, tok)
		findings = append(findings, Finding{
			Path:     path,
			Line:     lineNum,
			Rule:     "high entropy string",
			Severity: SeverityMedium,
			Excerpt:  mask(line, start, start+len(tok)),
		})
	}
	return findings
}

func splitTokens(line string) []string {
	return strings.FieldsFunc(line, func(c rune) bool {
		switch c {
		case ' ', '\t', '"', '\'', '`', '=', ':', ',', ';', '<', '>', '(', ')', '[', ']', '{', '}':
			return true
		}
		return false
	})
}

func shannon(s string) float64 {
	if s == "" {
		return 0
	}
	counts := make(map[rune]int)
	for _, r := range s {
		counts[r]++
	}
	length := float64(len(s))
	var entropy float64
	for _, n := range counts {
		freq := float64(n) / length
		entropy -= freq * math.Log2(freq)
	}
	return entropy
}
