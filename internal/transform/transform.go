// Package transform turns newsletter HTML into stored article content:
// sanitized markup with anchored headings, a markdown outline and plain text.
package transform

import (
	"github.com/microcosm-cc/bluemonday"
)

// Result of transforming a message body
type Result struct {
	HTML    string
	Outline string
	Text    string
}

// Transformer sanitizes and tags article HTML
type Transformer struct {
	policy *bluemonday.Policy
}

// NewTransformer creates a new transformer
func NewTransformer() *Transformer {
	// Use UGCPolicy as base (allows p, a, headings, tables, images, ids)
	p := bluemonday.UGCPolicy()
	p.AllowStyling()

	// Enforce nofollow and target=_blank on links
	p.RequireNoFollowOnLinks(true)
	p.AddTargetBlankToFullyQualifiedLinks(true)

	return &Transformer{policy: p}
}

// Transform sanitizes source, tags its headings and derives the outline and text
func (t *Transformer) Transform(source string, flavor Flavor) (Result, error) {
	sanitized := t.policy.Sanitize(source)

	tagged, err := TagHeadings(sanitized, flavor)
	if err != nil {
		return Result{}, err
	}

	return Result{
		HTML:    tagged,
		Outline: BuildOutline(tagged),
		Text:    ExtractPlainText(tagged),
	}, nil
}
