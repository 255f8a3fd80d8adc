package notify

import (
	"strings"
	"testing"
)

// TestConvertContent_HTML はhtmlフォーマットが素通しであることをテストする。
func TestConvertContent_HTML(t *testing.T) {
	input := `<p>本文 <strong>強調</strong></p>`

	got, err := ConvertContent(FormatHTML, input)
	if err != nil {
		t.Fatalf("ConvertContent() returned error: %v", err)
	}
	if got != input {
		t.Errorf("ConvertContent() = %q, want passthrough %q", got, input)
	}
}

// TestConvertContent_EmptyFormatDefaultsToHTML は空フォーマットがhtml扱いであることをテストする。
func TestConvertContent_EmptyFormatDefaultsToHTML(t *testing.T) {
	input := `<p>本文</p>`

	got, err := ConvertContent("", input)
	if err != nil {
		t.Fatalf("ConvertContent() returned error: %v", err)
	}
	if got != input {
		t.Errorf("ConvertContent() = %q, want %q", got, input)
	}
}

// TestConvertContent_Text はタグ除去によるテキスト化をテストする。
func TestConvertContent_Text(t *testing.T) {
	input := `<div><h2>見出し</h2><p>段落1</p><p>段落2</p><script>bad()</script></div>`

	got, err := ConvertContent(FormatText, input)
	if err != nil {
		t.Fatalf("ConvertContent() returned error: %v", err)
	}
	if got != "見出し 段落1 段落2" {
		t.Errorf("ConvertContent() = %q, want %q", got, "見出し 段落1 段落2")
	}
}

// TestConvertContent_Markdown はMarkdown変換をテストする。
func TestConvertContent_Markdown(t *testing.T) {
	input := `<h2>見出し</h2><p>本文と<a href="https://example.com">リンク</a></p>`

	got, err := ConvertContent(FormatMarkdown, input)
	if err != nil {
		t.Fatalf("ConvertContent() returned error: %v", err)
	}
	if !strings.Contains(got, "## 見出し") {
		t.Errorf("markdown output missing heading: %q", got)
	}
	if !strings.Contains(got, "[リンク](https://example.com)") {
		t.Errorf("markdown output missing link: %q", got)
	}
}

// TestConvertContent_Empty は空入力が空のまま返ることをテストする。
func TestConvertContent_Empty(t *testing.T) {
	for _, format := range []string{FormatHTML, FormatText, FormatMarkdown} {
		got, err := ConvertContent(format, "")
		if err != nil {
			t.Errorf("ConvertContent(%q, \"\") returned error: %v", format, err)
		}
		if got != "" {
			t.Errorf("ConvertContent(%q, \"\") = %q, want empty", format, got)
		}
	}
}

// TestConvertContent_UnknownFormat は未知のフォーマットがエラーになることをテストする。
func TestConvertContent_UnknownFormat(t *testing.T) {
	if _, err := ConvertContent("pdf", "<p>x</p>"); err == nil {
		t.Error("ConvertContent() should return error for unknown format")
	}
}
