package formatter

import (
	"fmt"
	"strings"

	"github.com/mixelka/whittle/pkg/models"
)

const excerptLength = 700

// BoxCount is a box with the number of articles in it
type BoxCount struct {
	Box   *models.Box
	Count int
}

// TelegramFormatter formats articles for Telegram
type TelegramFormatter struct {
	maxLength int
}

// NewTelegramFormatter creates a new Telegram formatter
func NewTelegramFormatter() *TelegramFormatter {
	return &TelegramFormatter{
		maxLength: 4000, // Leave room for markup
	}
}

// FormatArticle formats one article with a text excerpt
func (f *TelegramFormatter) FormatArticle(a *models.Article, boxName string) string {
	var sb strings.Builder

	title := a.Title
	if title == "" {
		title = "(no subject)"
	}
	sb.WriteString(fmt.Sprintf("<b>%s</b>\n", f.escapeHTML(title)))

	author := f.escapeHTML(a.Source)
	if a.Author != "" && a.Author != a.Source {
		author = fmt.Sprintf("%s &lt;%s&gt;", f.escapeHTML(a.Author), f.escapeHTML(a.Source))
	}
	sb.WriteString(fmt.Sprintf("<i>%s</i>\n", author))
	sb.WriteString(a.MessageReceivedAt.Format("02 Jan 2006 15:04"))
	if boxName != "" {
		sb.WriteString(fmt.Sprintf(" · %s", f.escapeHTML(boxName)))
	}
	if a.Bookmarked {
		sb.WriteString(" · ★")
	}
	sb.WriteString("\n\n")

	limit := min(excerptLength, f.maxLength-sb.Len()-50)
	sb.WriteString(f.escapeHTML(f.truncate(a.TextContent, limit)))

	return sb.String()
}

// FormatDigest announces freshly ingested articles
func (f *TelegramFormatter) FormatDigest(articles []*models.Article) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("<b>%d new %s</b>\n\n", len(articles), plural(len(articles), "article", "articles")))
	for _, a := range articles {
		line := fmt.Sprintf("• %s <i>%s</i> /read_%d\n", f.escapeHTML(a.Title), f.escapeHTML(a.Author), a.ID)
		if sb.Len()+len(line) > f.maxLength {
			sb.WriteString("…\n")
			break
		}
		sb.WriteString(line)
	}
	return sb.String()
}

// FormatBoxList formats the user's boxes with their article counts
func (f *TelegramFormatter) FormatBoxList(boxes []BoxCount) string {
	var sb strings.Builder
	sb.WriteString("<b>Your boxes</b>\n\n")
	for _, bc := range boxes {
		sb.WriteString(fmt.Sprintf("<b>%s</b>: %d\n", f.escapeHTML(bc.Box.Name), bc.Count))
	}
	sb.WriteString("\nOpen one with <code>/box name</code>")
	return sb.String()
}

// FormatArticleList formats the articles of a box, in the box's order
func (f *TelegramFormatter) FormatArticleList(header string, articles []*models.Article) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("<b>%s</b> (%d)\n\n", f.escapeHTML(header), len(articles)))
	if len(articles) == 0 {
		sb.WriteString("Nothing here yet.")
		return sb.String()
	}

	for i, a := range articles {
		mark := ""
		if a.Bookmarked {
			mark = " ★"
		}
		line := fmt.Sprintf("%d. %s%s /read_%d\n", i+1, f.escapeHTML(a.Title), mark, a.ID)
		if sb.Len()+len(line) > f.maxLength {
			sb.WriteString("…\n")
			break
		}
		sb.WriteString(line)
	}
	return sb.String()
}

// escapeHTML escapes HTML special characters for Telegram
func (f *TelegramFormatter) escapeHTML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}

// truncate truncates text to maxLen characters
func (f *TelegramFormatter) truncate(s string, maxLen int) string {
	if maxLen <= 0 {
		maxLen = 100
	}
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "…"
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
