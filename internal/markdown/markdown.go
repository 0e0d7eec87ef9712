// Package markdown implements the Markdown Chunker: the fast-path
// pre-processing step for markdown inputs. It turns a markdown document
// directly into ParsedItems, which are then run through the same Content
// Normalizer used by every other pipeline variant for uniform output.
package markdown

import (
	"regexp"
	"strings"

	"github.com/tiangong-mineru/orchestrator/internal/parseitem"
)

var headingRe = regexp.MustCompile(`^(#{1,6})\s+(.*)$`)
var bulletRe = regexp.MustCompile(`^(\s*)([-*+])\s+`)

// Parse turns markdown source into ParsedItems: headings become text items
// with TextLevel set, paragraphs become plain text items, and consecutive
// bullet lines become a single list item preserving the bullet markers.
func Parse(source string) []parseitem.Item {
	lines := strings.Split(strings.ReplaceAll(source, "\r\n", "\n"), "\n")

	var items []parseitem.Item
	var paragraph []string
	var bullets []string

	flushParagraph := func() {
		if len(paragraph) == 0 {
			return
		}
		text := strings.TrimSpace(strings.Join(paragraph, "\n"))
		paragraph = paragraph[:0]
		if text == "" {
			return
		}
		items = append(items, parseitem.Item{Kind: parseitem.KindText, Text: text})
	}
	flushBullets := func() {
		if len(bullets) == 0 {
			return
		}
		listItems := append([]string(nil), bullets...)
		bullets = bullets[:0]
		items = append(items, parseitem.Item{Kind: parseitem.KindList, ListItems: listItems})
	}

	for _, raw := range lines {
		line := strings.TrimRight(raw, " \t")

		if strings.TrimSpace(line) == "" {
			flushParagraph()
			flushBullets()
			continue
		}

		if m := headingRe.FindStringSubmatch(line); m != nil {
			flushParagraph()
			flushBullets()
			level := len(m[1])
			text := strings.TrimSpace(m[2])
			items = append(items, parseitem.Item{Kind: parseitem.KindText, Text: text, TextLevel: &level})
			continue
		}

		if bulletRe.MatchString(line) {
			flushParagraph()
			bullets = append(bullets, line)
			continue
		}

		flushBullets()
		paragraph = append(paragraph, line)
	}
	flushParagraph()
	flushBullets()

	return items
}
