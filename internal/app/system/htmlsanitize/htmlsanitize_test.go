package htmlsanitize_test

import (
	"strings"
	"testing"

	"github.com/dalemusser/coedit/internal/app/system/htmlsanitize"
)

func TestSanitize_Empty(t *testing.T) {
	if result := htmlsanitize.Sanitize(""); result != "" {
		t.Errorf("expected empty string, got %q", result)
	}
}

func TestSanitize_PlainText(t *testing.T) {
	if result := htmlsanitize.Sanitize("Hello, World!"); result != "Hello, World!" {
		t.Errorf("expected plain text unchanged, got %q", result)
	}
}

func TestSanitize_SafeHTML(t *testing.T) {
	input := "<p><strong>Bold</strong> and <em>italic</em></p>"
	if result := htmlsanitize.Sanitize(input); result != input {
		t.Errorf("expected safe HTML preserved, got %q", result)
	}
}

func TestSanitize_RemovesScript(t *testing.T) {
	input := "<p>Hello</p><script>alert('xss')</script>"
	if result := htmlsanitize.Sanitize(input); result != "<p>Hello</p>" {
		t.Errorf("expected script removed, got %q", result)
	}
}

func TestSanitize_RemovesOnclick(t *testing.T) {
	input := `<p onclick="alert('xss')">Click</p>`
	if result := htmlsanitize.Sanitize(input); strings.Contains(result, "onclick") {
		t.Errorf("expected onclick attribute to be removed, got %q", result)
	}
}

func TestSanitize_RemovesJavascriptHref(t *testing.T) {
	input := `<a href="javascript:alert('xss')">Click</a>`
	if result := htmlsanitize.Sanitize(input); strings.Contains(result, "javascript") {
		t.Errorf("expected javascript: URL removed, got %q", result)
	}
}

func TestSanitize_AllowsCodeBlocks(t *testing.T) {
	input := "<pre><code>function test() {}</code></pre>"
	if result := htmlsanitize.Sanitize(input); result != input {
		t.Errorf("expected code blocks preserved, got %q", result)
	}
}

func TestStrict_RemovesAllTags(t *testing.T) {
	result := htmlsanitize.Strict("<b>bold</b> move")
	if result != "bold move" {
		t.Errorf("expected tags stripped, got %q", result)
	}
}

func TestIsPlainText(t *testing.T) {
	cases := map[string]bool{
		"":              true,
		"Hello, World!": true,
		"5 < 10":        true,
		"5 > 3":         true,
		"<p>Hello</p>":  false,
	}
	for in, want := range cases {
		if got := htmlsanitize.IsPlainText(in); got != want {
			t.Errorf("IsPlainText(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestComment(t *testing.T) {
	if got := htmlsanitize.Comment("  fix this typo  "); got != "fix this typo" {
		t.Errorf("Comment(plain) = %q", got)
	}
	if got := htmlsanitize.Comment("<em>why</em><script>x()</script>"); got != "<em>why</em>" {
		t.Errorf("Comment(markup) = %q", got)
	}
}
