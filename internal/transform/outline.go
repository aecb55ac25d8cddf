package transform

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const (
	// AnchorPrefix starts the id added to every tagged heading
	AnchorPrefix = "whittle_anchor_"
	// OutlineClassPrefix plus the heading level marks headings that belong in the outline
	OutlineClassPrefix = "whittle_outline_"
)

// Flavor is the source family of a newsletter
type Flavor int

const (
	FlavorGeneric Flavor = iota
	FlavorSubstack
)

func (f Flavor) String() string {
	switch f {
	case FlavorSubstack:
		return "substack"
	default:
		return "generic"
	}
}

// ClassifySource picks the flavor from the sender address
func ClassifySource(address string) Flavor {
	if strings.Contains(strings.ToLower(address), "@substack") {
		return FlavorSubstack
	}
	return FlavorGeneric
}

type tagger func(doc *goquery.Document)

// Substack posts use plain h1-h3 for sections, so both flavors share the generic rules
var taggers = map[Flavor]tagger{
	FlavorGeneric:  tagHeadings,
	FlavorSubstack: tagHeadings,
}

// TagHeadings marks h1-h3 with an outline class and a numbered anchor id.
// Existing classes and ids are kept; the counter is shared across levels.
func TagHeadings(source string, flavor Flavor) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(source))
	if err != nil {
		return "", fmt.Errorf("failed to parse html: %w", err)
	}

	tag, ok := taggers[flavor]
	if !ok {
		tag = taggers[FlavorGeneric]
	}
	tag(doc)

	return render(doc, source)
}

func tagHeadings(doc *goquery.Document) {
	doc.Find("h1, h2, h3").Each(func(i int, s *goquery.Selection) {
		level := strings.TrimPrefix(goquery.NodeName(s), "h")
		s.AddClass(OutlineClassPrefix + level)

		ids := strings.Fields(s.AttrOr("id", ""))
		ids = append(ids, fmt.Sprintf("%s%d", AnchorPrefix, i))
		s.SetAttr("id", strings.Join(ids, " "))
	})
}

// BuildOutline renders tagged headings as a markdown table of contents, in document order
func BuildOutline(tagged string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(tagged))
	if err != nil {
		return ""
	}

	var sb strings.Builder
	selector := fmt.Sprintf(".%[1]s1, .%[1]s2, .%[1]s3", OutlineClassPrefix)
	doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		anchor := anchorOf(s)
		if anchor == "" {
			return
		}
		text := collapse(s.Text())

		switch {
		case s.HasClass(OutlineClassPrefix + "1"):
			fmt.Fprintf(&sb, "##### [%s](#%s)  \n\n", text, anchor)
		case s.HasClass(OutlineClassPrefix + "2"):
			fmt.Fprintf(&sb, "[**%s**](#%s)  \n\n", text, anchor)
		case s.HasClass(OutlineClassPrefix + "3"):
			fmt.Fprintf(&sb, "- [**%s**](#%s)  \n\n", text, anchor)
		}
	})

	return sb.String()
}

func anchorOf(s *goquery.Selection) string {
	for _, id := range strings.Fields(s.AttrOr("id", "")) {
		if strings.HasPrefix(id, AnchorPrefix) {
			return id
		}
	}
	return ""
}

// render returns a full document only when the source was one; fragments stay fragments
func render(doc *goquery.Document, source string) (string, error) {
	if strings.Contains(strings.ToLower(source), "<html") {
		return doc.Html()
	}
	return doc.Find("body").Html()
}
