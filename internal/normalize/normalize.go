// Package normalize implements the Content Normalizer: a pure function
// mapping raw parser output to the canonical chunk list, independent of
// which pipeline variant (single-stage or two-stage) produced the input.
package normalize

import (
	"sort"
	"strings"

	"github.com/tiangong-mineru/orchestrator/internal/chunk"
	"github.com/tiangong-mineru/orchestrator/internal/parseitem"
)

// Options controls the normalizer's behavior for a single run.
type Options struct {
	// ChunkType enables header/title tagging, header-first reordering, and
	// relaxes the drop-set to only page_number items.
	ChunkType bool
}

// Normalize turns raw parser items into the canonical chunk list per the
// content-normalization rules: text sanitation, per-kind mapping, heading
// promotion, filtering, and header-first ordering.
func Normalize(items []parseitem.Item, opts Options) []chunk.Chunk {
	type ordered struct {
		c   chunk.Chunk
		idx int
	}

	var out []ordered
	idx := 0
	for _, it := range items {
		if shouldDrop(it.Kind, opts.ChunkType) {
			continue
		}

		text, ok := mapText(it)
		if !ok {
			// image-only items with no caption/footnote text are deferred
			// to the vision stage in two-stage mode; single-stage callers
			// that never attach vision text simply omit them here.
			continue
		}
		text = chunk.Sanitize(text)
		if text == "" {
			continue
		}

		c := chunk.Chunk{
			Text:       text,
			PageNumber: it.PageNumber(),
			Type:       chunkType(it, opts.ChunkType),
		}
		out = append(out, ordered{c: c, idx: idx})
		idx++
	}

	if opts.ChunkType {
		sort.SliceStable(out, func(i, j int) bool {
			return headerRank(out[i].c) < headerRank(out[j].c)
		})
	}

	result := make([]chunk.Chunk, len(out))
	for i, o := range out {
		result[i] = o.c
	}
	return result
}

func headerRank(c chunk.Chunk) int {
	if c.Type == chunk.TypeHeader {
		return 0
	}
	return 1
}

func shouldDrop(kind parseitem.Kind, chunkType bool) bool {
	if chunkType {
		return kind == parseitem.KindPageNumber
	}
	switch kind {
	case parseitem.KindHeader, parseitem.KindFooter, parseitem.KindPageNumber:
		return true
	}
	return false
}

func chunkType(it parseitem.Item, chunkTypeEnabled bool) chunk.Type {
	switch it.Kind {
	case parseitem.KindHeader:
		return chunk.TypeHeader
	case parseitem.KindFooter:
		return chunk.TypeFooter
	}
	if chunkTypeEnabled && it.IsHeading() {
		return chunk.TypeTitle
	}
	return chunk.TypeNone
}

// mapText implements the per-kind text-mapping rule. The second return
// value is false when the item has no text to contribute (deferred image).
func mapText(it parseitem.Item) (string, bool) {
	switch it.Kind {
	case parseitem.KindText, parseitem.KindEquation, parseitem.KindHeader, parseitem.KindFooter, parseitem.KindPageNumber:
		return it.Text, true

	case parseitem.KindList:
		nonEmpty := make([]string, 0, len(it.ListItems))
		for _, li := range it.ListItems {
			if strings.TrimSpace(li) != "" {
				nonEmpty = append(nonEmpty, li)
			}
		}
		if len(nonEmpty) == 0 {
			return it.Text, true
		}
		return strings.Join(nonEmpty, "\n"), true

	case parseitem.KindTable:
		var parts []string
		parts = append(parts, nonBlank(it.TableCaption)...)
		if strings.TrimSpace(it.TableBody) != "" {
			parts = append(parts, it.TableBody)
		}
		parts = append(parts, nonBlank(it.TableFootnote)...)
		return strings.Join(parts, "\n"), true

	case parseitem.KindImage:
		var parts []string
		parts = append(parts, nonBlank(it.ImgCaption)...)
		parts = append(parts, nonBlank(it.ImgFootnote)...)
		if len(parts) == 0 {
			return "", false
		}
		return strings.Join(parts, "\n"), true
	}
	return "", false
}

func nonBlank(lines []string) []string {
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		if strings.TrimSpace(l) != "" {
			out = append(out, l)
		}
	}
	return out
}
