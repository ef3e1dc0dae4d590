// Package template implements the placeholder engine used for message
// personalization. Placeholders are delimited tokens like {first_name},
// case-sensitive, with no recursive expansion: an expanded value is never
// re-scanned for further placeholders.
package template

import (
	"regexp"
	"sort"
	"strings"

	"github.com/thogmi/comms-backend/internal/models"
)

var (
	tokenPattern = regexp.MustCompile(`\{([A-Za-z0-9_]+)\}`)
	tagPattern   = regexp.MustCompile(`<[^>]*>`)
	spacePattern = regexp.MustCompile(`[ \t]+`)
)

// Rendered is the output of one render: resolved subject and body, a
// plain-text fallback for text-only channels, and the variables that were
// actually substituted.
type Rendered struct {
	Subject string
	Body    string
	Text    string
	Used    map[string]string
}

// Extract returns the sorted distinct placeholder token set across the
// given patterns. Called at template creation to derive the declared
// variable list.
func Extract(patterns ...string) []string {
	seen := map[string]bool{}
	for _, p := range patterns {
		for _, match := range tokenPattern.FindAllStringSubmatch(p, -1) {
			seen[match[1]] = true
		}
	}
	vars := make([]string, 0, len(seen))
	for v := range seen {
		vars = append(vars, v)
	}
	sort.Strings(vars)
	return vars
}

// Render resolves tmpl's subject and body against ctx. Rendering is pure
// and deterministic; it fails with a MissingVariableError naming every
// unresolved placeholder rather than emitting partial text. The declared
// variable list is re-validated: a declared variable absent from ctx fails
// the render even if the pattern no longer references it.
func Render(tmpl *models.Template, ctx map[string]string, textOnly bool) (*Rendered, error) {
	missing := map[string]bool{}
	for _, v := range tmpl.Variables {
		if _, ok := ctx[v]; !ok {
			missing[v] = true
		}
	}

	used := map[string]string{}
	resolve := func(pattern string) string {
		return tokenPattern.ReplaceAllStringFunc(pattern, func(match string) string {
			name := match[1 : len(match)-1]
			value, ok := ctx[name]
			if !ok {
				missing[name] = true
				return match
			}
			used[name] = value
			return value
		})
	}

	subject := resolve(tmpl.Subject)
	body := resolve(tmpl.Body)

	if len(missing) > 0 {
		names := make([]string, 0, len(missing))
		for name := range missing {
			names = append(names, name)
		}
		sort.Strings(names)
		return nil, &models.MissingVariableError{Variables: names}
	}

	out := &Rendered{
		Subject: subject,
		Body:    body,
		Text:    body,
		Used:    used,
	}
	if textOnly {
		out.Text = StripTags(body)
	}
	return out, nil
}

// StripTags removes markup tags and collapses the leftover whitespace,
// producing the plain-text fallback for SMS-class channels.
func StripTags(s string) string {
	plain := tagPattern.ReplaceAllString(s, "")
	plain = spacePattern.ReplaceAllString(plain, " ")
	return strings.TrimSpace(plain)
}
