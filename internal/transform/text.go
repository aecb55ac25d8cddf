package transform

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// Invisible Unicode characters (zero-width spaces, etc.) newsletters use as preheader padding
var invisibleRegex = regexp.MustCompile(`[\x{200B}-\x{200D}\x{FEFF}\x{00AD}\x{034F}\x{061C}\x{115F}\x{1160}\x{17B4}\x{17B5}\x{180E}\x{2060}-\x{2064}\x{206A}-\x{206F}\x{FE00}-\x{FE0F}\x{FFF0}-\x{FFF8}]+`)

// ExtractPlainText strips markup; text nodes are joined by single spaces
func ExtractPlainText(source string) string {
	if strings.TrimSpace(source) == "" {
		return ""
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(source))
	if err != nil {
		return collapse(source)
	}

	// Remove script and style elements
	doc.Find("script, style, head, meta, link, title").Remove()

	var chunks []string
	for _, n := range doc.Nodes {
		collectText(n, &chunks)
	}

	return collapse(strings.Join(chunks, " "))
}

func collectText(n *html.Node, out *[]string) {
	if n.Type == html.TextNode {
		if s := strings.TrimSpace(n.Data); s != "" {
			*out = append(*out, s)
		}
		return
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		collectText(child, out)
	}
}

// collapse drops invisible characters and squeezes whitespace runs to one space
func collapse(s string) string {
	s = invisibleRegex.ReplaceAllString(s, "")
	return strings.Join(strings.Fields(s), " ")
}
