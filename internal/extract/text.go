// Package extract turns fetched HTML into plain text for downstream prompts.
package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Text drops script and style subtrees and returns the remaining document
// text with whitespace runs collapsed to single spaces. Malformed markup
// yields best-effort text.
func Text(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return collapse(html)
	}
	doc.Find("script, style").Remove()
	return collapse(doc.Text())
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
