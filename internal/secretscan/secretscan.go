// Package secretscan flags credential-shaped content in pending changes so
// a secret does not slip into the real tree inside an approved diff. The
// scan is advisory; it never blocks a commit on its own.
package secretscan

import (
	"fmt"
	"regexp"
	"strings"
)

// Severity ranks how bad a leaked match would be.
type Severity string

const (
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Pattern is one credential shape the scanner looks for.
type Pattern struct {
	Name     string
	Regex    *regexp.Regexp
	Severity Severity
}

// Finding is one suspected secret in a changed file. Excerpt carries the
// matched line with the secret itself masked, safe to log and print.
type Finding struct {
	Path     string
	Line     int
	Rule     string
	Severity Severity
	Excerpt  string
}

func (f Finding) String() string {
	return fmt.Sprintf("%s:%d: %s (%s): %s", f.Path, f.Line, f.Rule, f.Severity, f.Excerpt)
}

// Scanner matches lines against a set of credential patterns.
type Scanner struct {
	patterns         []Pattern
	entropyThreshold float64
}

// NewScanner returns a scanner loaded with the builtin patterns.
func NewScanner() *Scanner {
	return &Scanner{patterns: builtinPatterns()}
}

// AddPattern extends the scanner with a caller-supplied pattern.
func (s *Scanner) AddPattern(p Pattern) {
	s.patterns = append(s.patterns, p)
}

// ScanContent checks every line of a file's new content. Path is carried
// into the findings for reporting.
func (s *Scanner) ScanContent(path string, content []byte) []Finding {
	var findings []Finding
	lines := strings.Split(string(content), "\n")
	for i, line := range lines {
		for _, p := range s.patterns {
			locs := p.Regex.FindAllStringIndex(line, -1)
			for _, loc := range locs {
				findings = append(findings, Finding{
					Path:     path,
					Line:     i + 1,
					Rule:     p.Name,
					Severity: p.Severity,
					Excerpt:  mask(line, loc[0], loc[1]),
				})
			}
		}
		findings = append(findings, s.entropyFindings(path, i+1, line)...)
	}
	return findings
}

// mask replaces the matched span with a fixed placeholder and trims the
// surrounding line to keep excerpts short.
func mask(line string, start, end int) string {
	const placeholder = "[masked]"
	masked := line[:start] + placeholder + line[end:]
	masked = strings.TrimSpace(masked)
	if len(masked) > 120 {
		masked = masked[:117] + "..."
	}
	return masked
}

func builtinPatterns() []Pattern {
	return []Pattern{
		{Name: "aws access key id", Severity: SeverityHigh,
			Regex: regexp.MustCompile(`(A3T[A-Z0-9]|AKIA|AGPA|AIDA|AROA|ASIA)[A-Z0-9]{16}`)},
		{Name: "openai api key", Severity: SeverityCritical,
			Regex: regexp.MustCompile(`sk-proj-[a-zA-Z0-9_\-]{32,}|sk-[a-zA-Z0-9]{32,}`)},
		{Name: "anthropic api key", Severity: SeverityCritical,
			Regex: regexp.MustCompile(`sk-ant-api03-[a-zA-Z0-9_\-]{20,}`)},
		{Name: "google api key", Severity: SeverityHigh,
			Regex: regexp.MustCompile(`AIza[0-9A-Za-z\-_]{35}`)},
		{Name: "github token", Severity: SeverityCritical,
			Regex: regexp.MustCompile(`gh[po]_[a-zA-Z0-9]{36}`)},
		{Name: "slack token", Severity: SeverityHigh,
			Regex: regexp.MustCompile(`xox[bp]-[0-9]{10,12}-[0-9]{10,12}-[a-zA-Z0-9\-]{24,}`)},
		{Name: "private key block", Severity: SeverityCritical,
			Regex: regexp.MustCompile(`-----BEGIN (RSA |OPENSSH |PGP |EC )?PRIVATE KEY`)},
	}
}
