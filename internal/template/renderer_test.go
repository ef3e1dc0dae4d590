package template

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/thogmi/comms-backend/internal/models"
)

func TestExtract(t *testing.T) {
	tests := []struct {
		name     string
		patterns []string
		want     []string
	}{
		{
			name:     "distinct tokens across subject and body",
			patterns: []string{"Welcome {name}", "Hi {name}, your branch is {branch}"},
			want:     []string{"branch", "name"},
		},
		{
			name:     "no tokens",
			patterns: []string{"plain subject", "plain body"},
			want:     []string{},
		},
		{
			name:     "case sensitive tokens are distinct",
			patterns: []string{"{Name} and {name}"},
			want:     []string{"Name", "name"},
		},
		{
			name:     "token with spaces is not a placeholder",
			patterns: []string{"{ name }"},
			want:     []string{},
		},
		{
			name:     "unterminated brace is not a placeholder",
			patterns: []string{"hello {name"},
			want:     []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Extract(tt.patterns...)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Extract() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRender(t *testing.T) {
	tmpl := &models.Template{
		Subject:   "Welcome {name}",
		Body:      "<p>Hi {name}, see you at {branch}!</p>",
		Variables: []string{"branch", "name"},
	}

	rendered, err := Render(tmpl, map[string]string{"name": "Grace", "branch": "Accra Central"}, true)
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if rendered.Subject != "Welcome Grace" {
		t.Errorf("subject = %q", rendered.Subject)
	}
	if rendered.Body != "<p>Hi Grace, see you at Accra Central!</p>" {
		t.Errorf("body = %q", rendered.Body)
	}
	if rendered.Text != "Hi Grace, see you at Accra Central!" {
		t.Errorf("text = %q", rendered.Text)
	}
	if strings.Contains(rendered.Subject+rendered.Body, "{") {
		t.Errorf("rendered output contains leftover placeholder tokens")
	}
	if rendered.Used["name"] != "Grace" || rendered.Used["branch"] != "Accra Central" {
		t.Errorf("used variables = %v", rendered.Used)
	}
}

func TestRender_MissingVariables(t *testing.T) {
	tmpl := &models.Template{
		Subject:   "Hello {name}",
		Body:      "Your branch {branch} and status {status}",
		Variables: []string{"branch", "name", "status"},
	}

	_, err := Render(tmpl, map[string]string{"name": "Grace"}, false)
	if err == nil {
		t.Fatal("Render() expected error for missing variables")
	}

	var missingErr *models.MissingVariableError
	if !errors.As(err, &missingErr) {
		t.Fatalf("Render() error = %T, want *models.MissingVariableError", err)
	}
	if !reflect.DeepEqual(missingErr.Variables, []string{"branch", "status"}) {
		t.Errorf("missing variables = %v, want [branch status]", missingErr.Variables)
	}
}

func TestRender_DeclaredVariableRevalidated(t *testing.T) {
	// Declared variable no longer referenced by the pattern still fails
	// a render that does not provide it.
	tmpl := &models.Template{
		Subject:   "Hello",
		Body:      "No placeholders here",
		Variables: []string{"name"},
	}

	_, err := Render(tmpl, map[string]string{}, false)
	var missingErr *models.MissingVariableError
	if !errors.As(err, &missingErr) {
		t.Fatalf("Render() error = %v, want MissingVariableError", err)
	}
}

func TestRender_NoRecursiveExpansion(t *testing.T) {
	tmpl := &models.Template{
		Subject:   "",
		Body:      "Value: {outer}",
		Variables: []string{"outer"},
	}

	rendered, err := Render(tmpl, map[string]string{"outer": "{inner}", "inner": "nope"}, false)
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if rendered.Body != "Value: {inner}" {
		t.Errorf("body = %q, expanded value must not be re-scanned", rendered.Body)
	}
}

func TestRender_Deterministic(t *testing.T) {
	tmpl := &models.Template{
		Subject:   "{a} {b}",
		Body:      "{b} {a}",
		Variables: []string{"a", "b"},
	}
	ctx := map[string]string{"a": "1", "b": "2"}

	first, err := Render(tmpl, ctx, false)
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	second, err := Render(tmpl, ctx, false)
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if first.Subject != second.Subject || first.Body != second.Body {
		t.Errorf("render is not deterministic: %q vs %q", first.Body, second.Body)
	}
}

func TestStripTags(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"<p>Hello <b>world</b></p>", "Hello world"},
		{"no markup", "no markup"},
		{"<br/>line", "line"},
		{"  <div> spaced   out </div> ", "spaced out"},
	}

	for _, tt := range tests {
		if got := StripTags(tt.in); got != tt.want {
			t.Errorf("StripTags(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
