package controller

import (
	"errors"
	"net/url"
	"strings"
)

// SplitCommandLine tokenizes a shell-like command line: whitespace
// separation, single and double quoting, backslash escapes outside quotes.
// It deliberately does not implement expansion or substitution; the sandbox
// interprets commands literally.
func SplitCommandLine(input string) ([]string, error) {
	var words []string
	var current strings.Builder
	inQuotes := false
	quoteChar := byte(0)
	escaped := false
	haveWord := false

	for i := 0; i < len(input); i++ {
		c := input[i]
		if escaped {
			current.WriteByte(c)
			escaped = false
			continue
		}
		switch {
		case c == '\\' && !inQuotes:
			escaped = true
		case (c == '\'' || c == '"') && inQuotes && c == quoteChar:
			inQuotes = false
		case (c == '\'' || c == '"') && !inQuotes:
			inQuotes = true
			quoteChar = c
			haveWord = true
		case (c == ' ' || c == '\t' || c == '\n' || c == '\r') && !inQuotes:
			if haveWord || current.Len() > 0 {
				words = append(words, current.String())
				current.Reset()
				haveWord = false
			}
		default:
			current.WriteByte(c)
		}
	}

	if inQuotes {
		return nil, errors.New("unclosed quote")
	}
	if escaped {
		return nil, errors.New("trailing backslash")
	}
	if haveWord || current.Len() > 0 {
		words = append(words, current.String())
	}
	return words, nil
}

// inferTargets guesses which arguments are filesystem paths and which are
// network endpoints. Flags and redirect markers are skipped; URLs yield
// their host. The guess feeds scoped policy rules; it errs toward
// classifying an operand as a path.
func inferTargets(argv []string) (paths []string, hosts []string) {
	for _, a := range argv {
		switch {
		case a == "" || strings.HasPrefix(a, "-"):
			continue
		case a == ">" || a == ">>":
			continue
		case strings.Contains(a, "://"):
			if u, err := url.Parse(a); err == nil && u.Host != "" {
				hosts = append(hosts, u.Host)
			}
		case strings.HasPrefix(a, ">"):
			paths = append(paths, strings.TrimPrefix(a, ">"))
		default:
			paths = append(paths, a)
		}
	}
	return paths, hosts
}
