package security

import (
	"strings"
	"testing"
)

// TestNewContentSanitizer はContentSanitizerの生成をテストする。
func TestNewContentSanitizer(t *testing.T) {
	s := NewContentSanitizer()
	if s == nil {
		t.Fatal("NewContentSanitizer() returned nil")
	}
}

// TestSanitize_RemovesScript はscriptタグが除去されることをテストする。
func TestSanitize_RemovesScript(t *testing.T) {
	s := NewContentSanitizer()

	input := `<p>本文</p><script>alert("xss")</script>`
	got := s.Sanitize(input)

	if strings.Contains(got, "<script") {
		t.Errorf("Sanitize() should remove script tags, got %q", got)
	}
	if !strings.Contains(got, "<p>本文</p>") {
		t.Errorf("Sanitize() should keep paragraph content, got %q", got)
	}
}

// TestSanitize_RemovesIframe はiframeタグが除去されることをテストする。
func TestSanitize_RemovesIframe(t *testing.T) {
	s := NewContentSanitizer()

	input := `<p>text</p><iframe src="https://evil.example.com"></iframe>`
	got := s.Sanitize(input)

	if strings.Contains(got, "<iframe") {
		t.Errorf("Sanitize() should remove iframe tags, got %q", got)
	}
}

// TestSanitize_RemovesEventHandlers はon*イベント属性が除去されることをテストする。
func TestSanitize_RemovesEventHandlers(t *testing.T) {
	s := NewContentSanitizer()

	input := `<p onclick="alert(1)">クリック</p>`
	got := s.Sanitize(input)

	if strings.Contains(got, "onclick") {
		t.Errorf("Sanitize() should remove event handler attributes, got %q", got)
	}
	if !strings.Contains(got, "クリック") {
		t.Errorf("Sanitize() should keep text content, got %q", got)
	}
}

// TestSanitize_KeepsArticleStructure は記事本文で使われる要素が保持されることをテストする。
func TestSanitize_KeepsArticleStructure(t *testing.T) {
	s := NewContentSanitizer()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "見出し",
			input: `<h2>見出し</h2>`,
			want:  `<h2>見出し</h2>`,
		},
		{
			name:  "リスト",
			input: `<ul><li>項目1</li><li>項目2</li></ul>`,
			want:  `<ul><li>項目1</li><li>項目2</li></ul>`,
		},
		{
			name:  "セクション",
			input: `<section><p>段落</p></section>`,
			want:  `<section><p>段落</p></section>`,
		},
		{
			name:  "整形済みコード",
			input: `<pre><code>fmt.Println()</code></pre>`,
			want:  `<pre><code>fmt.Println()</code></pre>`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := s.Sanitize(tt.input)
			if got != tt.want {
				t.Errorf("Sanitize(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

// TestSanitize_KeepsHTTPSImages はhttps画像のsrc/data-srcが保持されることをテストする。
func TestSanitize_KeepsHTTPSImages(t *testing.T) {
	s := NewContentSanitizer()

	input := `<img src="https://mmbiz.example.com/pic.jpg" data-src="https://mmbiz.example.com/lazy.jpg" alt="図">`
	got := s.Sanitize(input)

	if !strings.Contains(got, `src="https://mmbiz.example.com/pic.jpg"`) {
		t.Errorf("Sanitize() should keep https img src, got %q", got)
	}
	if !strings.Contains(got, `data-src="https://mmbiz.example.com/lazy.jpg"`) {
		t.Errorf("Sanitize() should keep data-src attribute, got %q", got)
	}
}

// TestSanitize_EmptyInput は空文字列の入力に空文字列が返ることをテストする。
func TestSanitize_EmptyInput(t *testing.T) {
	s := NewContentSanitizer()

	if got := s.Sanitize(""); got != "" {
		t.Errorf("Sanitize(\"\") = %q, want empty string", got)
	}
}

// TestSanitize_Idempotent はサニタイズが冪等であることをテストする。
func TestSanitize_Idempotent(t *testing.T) {
	s := NewContentSanitizer()

	input := `<section><h2>見出し</h2><p onclick="x()">本文<script>bad()</script></p></section>`
	once := s.Sanitize(input)
	twice := s.Sanitize(once)

	if once != twice {
		t.Errorf("Sanitize() is not idempotent: first %q, second %q", once, twice)
	}
}

// TestContentSanitizerInterface はContentSanitizerがインターフェースを正しく実装していることをテストする。
func TestContentSanitizerInterface(t *testing.T) {
	var _ ContentSanitizerService = NewContentSanitizer()
}
