package spam

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

var reSpaces = regexp.MustCompile(`\s+`)

// NormalizeContent turns the HTML body of a status into the plain text the
// keyword match runs against. Line breaks become spaces. Mention anchors
// (class exactly "u-url mention") are dropped so handles are not matched as
// content; hashtag anchors keep their text; any other anchor is replaced by
// its href, so disguised link text is matched against the real target URL.
func NormalizeContent(content string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return collapse(content)
	}

	doc.Find("br").Each(func(_ int, s *goquery.Selection) {
		s.ReplaceWithNodes(textNode(" "))
	})
	doc.Find("a").Each(func(_ int, s *goquery.Selection) {
		class := s.AttrOr("class", "")
		switch {
		case class == "u-url mention":
			s.ReplaceWithNodes(textNode(" "))
		case strings.Contains(class, "hashtag"):
			// keep the tag text as-is
		default:
			if href := s.AttrOr("href", ""); href != "" {
				s.ReplaceWithNodes(textNode(" " + href + " "))
			}
		}
	})

	return collapse(doc.Text())
}

func collapse(text string) string {
	return reSpaces.ReplaceAllString(strings.TrimSpace(text), " ")
}

func textNode(text string) *html.Node {
	return &html.Node{Type: html.TextNode, Data: text}
}
