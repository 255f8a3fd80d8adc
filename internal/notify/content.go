package notify

import (
	"fmt"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"golang.org/x/net/html"
)

// 配信時の記事本文フォーマット。
const (
	FormatHTML     = "html"
	FormatText     = "text"
	FormatMarkdown = "markdown"
)

// ConvertContent は記事本文HTMLを指定フォーマットへ変換する。
// html: そのまま、text: タグを除去したプレーンテキスト、
// markdown: Markdownへ変換。
func ConvertContent(format, rawHTML string) (string, error) {
	if rawHTML == "" {
		return "", nil
	}

	switch format {
	case FormatHTML, "":
		return rawHTML, nil
	case FormatText:
		return htmlToText(rawHTML)
	case FormatMarkdown:
		md, err := htmltomarkdown.ConvertString(rawHTML)
		if err != nil {
			return "", fmt.Errorf("markdown変換に失敗: %w", err)
		}
		return strings.TrimSpace(md), nil
	default:
		return "", fmt.Errorf("未知のコンテンツフォーマット: %s", format)
	}
}

// htmlToText はHTMLからテキストノードだけを取り出す。
// script/style内のテキストは含めない。ブロック要素の境界は空白1つで区切る。
func htmlToText(rawHTML string) (string, error) {
	node, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return "", fmt.Errorf("HTML解析に失敗: %w", err)
	}

	var sb strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
			return
		}
		if n.Type == html.TextNode {
			text := strings.TrimSpace(n.Data)
			if text != "" {
				if sb.Len() > 0 {
					sb.WriteByte(' ')
				}
				sb.WriteString(text)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(node)

	return sb.String(), nil
}
