// Package evidence turns raw activity content into a structured fact set.
// The heuristics are intentionally shallow: they feed prompt context for the
// generator and the entity universe the coherence validator checks claims
// against, nothing more.
package evidence

import (
	"regexp"
	"strings"
)

// Facts is the structured view of one event's content.
type Facts struct {
	Apps      []string
	Files     []string
	Functions []string
	URLs      []string
	Errors    []string
}

var (
	filePattern     = regexp.MustCompile(`\b[\w./-]+\.(?:go|py|js|ts|tsx|rs|java|rb|c|cpp|h|md|txt|json|yaml|yml|toml|sql|csv|pdf|docx?|xlsx?)\b`)
	functionPattern = regexp.MustCompile(`\b\w+\(\)`)
	urlPattern      = regexp.MustCompile(`\b(?:https?://)?(?:[\w-]+\.)+[a-z]{2,}(?:/[\w./%-]*)?\b`)
	errorPattern    = regexp.MustCompile(`(?i)\b(?:error|exception|traceback|panic|fatal)\b[^\n.]*`)
	appPattern      = regexp.MustCompile(`(?i)\b(vscode|vs code|chrome|firefox|safari|terminal|slack|gmail|outlook|excel|word|notion|figma|xcode|intellij|pycharm|jupyter|zoom|finder|preview)\b`)
)

// Extract scans content once and returns every fact category. Results are
// deduplicated and order-preserving.
func Extract(content string) Facts {
	return Facts{
		Apps:      dedupe(appPattern.FindAllString(content, -1)),
		Files:     dedupe(filePattern.FindAllString(content, -1)),
		Functions: dedupe(functionPattern.FindAllString(content, -1)),
		URLs:      dedupe(urlPattern.FindAllString(content, -1)),
		Errors:    dedupe(errorPattern.FindAllString(content, -1)),
	}
}

// Entities flattens every extracted fact into one list, the vocabulary a
// candidate may reference without being flagged as unverified.
func (f Facts) Entities() []string {
	out := make([]string, 0, len(f.Apps)+len(f.Files)+len(f.Functions)+len(f.URLs)+len(f.Errors))
	out = append(out, f.Apps...)
	out = append(out, f.Files...)
	out = append(out, f.Functions...)
	out = append(out, f.URLs...)
	out = append(out, f.Errors...)
	return out
}

// Empty reports whether no fact of any kind was found.
func (f Facts) Empty() bool {
	return len(f.Apps) == 0 && len(f.Files) == 0 && len(f.Functions) == 0 &&
		len(f.URLs) == 0 && len(f.Errors) == 0
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		key := strings.ToLower(v)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, v)
	}
	return out
}
