package twostage

import (
	"os"

	"github.com/tiangong-mineru/orchestrator/internal/chunk"
	"github.com/tiangong-mineru/orchestrator/internal/normalize"
	"github.com/tiangong-mineru/orchestrator/internal/parseitem"
	"github.com/tiangong-mineru/orchestrator/pkg/logger"
)

// MergePayload is the canonical result returned once stage 3 finishes.
type MergePayload struct {
	Result []chunk.Chunk `json:"result"`
	Txt    *string       `json:"txt"`
}

// Merge indexes vision results by seq, walks the original content list
// substituting each enriched image with its merged text, applies the
// Content Normalizer (which performs the header-first reorder itself when
// ChunkType is set), and builds plain text if requested. It does not tear
// down the workspace: a caller that still needs the source PDF for an
// object-store upload defers CleanupWorkspace itself once that upload
// finishes.
func Merge(stage1 Stage1Result, visionResults map[int]VisionResult) MergePayload {
	merged := make([]parseitem.Item, 0, len(stage1.ContentList))
	for _, it := range stage1.ContentList {
		if it.Kind == parseitem.KindImage && it.ImageSeq > 0 {
			vr, ok := visionResults[it.ImageSeq]
			baseText := joinNonEmpty(append(append([]string{}, it.ImgCaption...), it.ImgFootnote...))
			visionText := ""
			if ok {
				visionText = vr.VisionText
			}
			text := mergeImageText(baseText, visionText)
			if text == "" {
				continue
			}
			merged = append(merged, parseitem.Item{Kind: parseitem.KindText, PageIdx: it.PageIdx, Text: text})
			continue
		}
		merged = append(merged, it)
	}

	chunks := normalize.Normalize(merged, normalize.Options{ChunkType: stage1.ChunkType})

	payload := MergePayload{Result: chunks}
	if stage1.ReturnTxt {
		txt := chunk.BuildPlainText(chunks)
		payload.Txt = &txt
	}
	return payload
}

func mergeImageText(baseText, visionText string) string {
	switch {
	case baseText != "" && visionText != "":
		return baseText + "\nImage Description: " + visionText
	case baseText != "":
		return baseText
	default:
		return visionText
	}
}

// CleanupWorkspace removes the parse workspace and every extra-cleanup
// path, tolerating already-missing files.
func CleanupWorkspace(stage1 Stage1Result) {
	paths := append([]string{stage1.Workspace}, stage1.ExtraCleanup...)
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := os.RemoveAll(p); err != nil {
			logger.Warnf("twostage: cleanup failed for %s: %v", p, err)
		}
	}
}
