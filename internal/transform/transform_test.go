package transform

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTagHeadingsAndOutline(t *testing.T) {
	tagged, err := TagHeadings(`<h1>Title</h1><p>intro</p><h2 class="big" id="top">Sub</h2><h3> Detail </h3><h4>skip</h4>`, FlavorGeneric)
	require.NoError(t, err)

	assert.Contains(t, tagged, `id="whittle_anchor_0"`)
	assert.Contains(t, tagged, `class="whittle_outline_1"`)
	assert.Contains(t, tagged, `class="big whittle_outline_2"`)
	assert.Contains(t, tagged, `id="top whittle_anchor_1"`)
	assert.Contains(t, tagged, `id="whittle_anchor_2"`)
	assert.NotContains(t, tagged, "whittle_anchor_3")
	assert.NotContains(t, tagged, "<body>", "fragments stay fragments")

	outline := BuildOutline(tagged)
	assert.Equal(t,
		"##### [Title](#whittle_anchor_0)  \n\n"+
			"[**Sub**](#whittle_anchor_1)  \n\n"+
			"- [**Detail**](#whittle_anchor_2)  \n\n",
		outline)
}

func TestOutlineFollowsDocumentOrder(t *testing.T) {
	tagged, err := TagHeadings(`<h2>First</h2><div><h1>Second</h1></div>`, FlavorSubstack)
	require.NoError(t, err)

	outline := BuildOutline(tagged)
	first := strings.Index(outline, "[**First**](#whittle_anchor_0)")
	second := strings.Index(outline, "[Second](#whittle_anchor_1)")
	require.GreaterOrEqual(t, first, 0)
	require.Greater(t, second, first)
}

func TestTagHeadingsKeepsFullDocuments(t *testing.T) {
	tagged, err := TagHeadings(`<html><head><title>x</title></head><body><h1>T</h1></body></html>`, FlavorGeneric)
	require.NoError(t, err)
	assert.Contains(t, tagged, "<html>")
	assert.Contains(t, tagged, "whittle_anchor_0")
}

func TestMalformedHTMLDoesNotFail(t *testing.T) {
	tagged, err := TagHeadings(`<h1>Unclosed <p>text <div>`, FlavorGeneric)
	require.NoError(t, err)
	assert.Contains(t, tagged, "whittle_anchor_0")
	assert.Empty(t, BuildOutline(`<p>no headings`))
}

func TestExtractPlainText(t *testing.T) {
	got := ExtractPlainText("<p>Hello</p><p>world\u200b</p>\n<script>track()</script><style>p{}</style><div>  spaced   out </div>")
	assert.Equal(t, "Hello world spaced out", got)
	assert.Empty(t, ExtractPlainText("   "))
}

func TestTransform(t *testing.T) {
	tr := NewTransformer()

	res, err := tr.Transform(`<h1 class="hero">Daily</h1><script>alert(1)</script><p>Read <a href="https://example.com">this</a></p>`, FlavorGeneric)
	require.NoError(t, err)

	assert.NotContains(t, res.HTML, "<script>")
	assert.Contains(t, res.HTML, "whittle_anchor_0")
	assert.Contains(t, res.HTML, "hero")
	assert.Equal(t, "##### [Daily](#whittle_anchor_0)  \n\n", res.Outline)
	assert.Equal(t, "Daily Read this", res.Text)
}

func TestClassifySource(t *testing.T) {
	assert.Equal(t, FlavorSubstack, ClassifySource("writer@Substack.com"))
	assert.Equal(t, FlavorGeneric, ClassifySource("newsletter@techcrunch.com"))
	assert.Equal(t, "substack", FlavorSubstack.String())
}
