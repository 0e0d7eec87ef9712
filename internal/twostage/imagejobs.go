package twostage

import (
	"crypto/md5"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"strconv"

	"github.com/tiangong-mineru/orchestrator/internal/parseitem"
)

// Image-job acceptance thresholds (two-stage stage 1, §4.8.1). Presence of
// a caption or footnote relaxes the area-ratio and file-size thresholds.
const (
	minImageAreaRatio            = 0.01
	minImageAreaRatioWithCaption = 0.005
	maxImageAspectRatio          = 10.0
	minImageBytes                = 10 * 1024
	minImageBytesWithCaption     = 2 * 1024
	minImageMinDim               = 96
	minImagePixelArea            = 96 * 96
	perPageImageLimit            = 5
)

// ImageJob is a two-stage-only descriptor for one figure to enrich.
type ImageJob struct {
	Seq            int
	PageNumber     int
	IsTitle        bool
	ImagePath      string
	ContextPayload string
	BaseText       string
}

func hasCaption(it parseitem.Item) bool {
	return len(it.ImgCaption) > 0 || len(it.ImgFootnote) > 0
}

// passesFilters applies every image-acceptance filter from §4.8.1 except
// the in-document md5-duplicate and per-page-count checks, which need
// document-wide state and are applied by the caller.
func passesFilters(it parseitem.Item) bool {
	if it.ImgPath == "" {
		return false
	}
	caption := hasCaption(it)

	pageArea := it.PageSize.Width * it.PageSize.Height
	imgArea := it.BBox.Width() * it.BBox.Height()
	areaThreshold := minImageAreaRatio
	if caption {
		areaThreshold = minImageAreaRatioWithCaption
	}
	if pageArea > 0 && imgArea/pageArea < areaThreshold {
		return false
	}

	if bboxAspect := aspectRatio(it.BBox.Width(), it.BBox.Height()); bboxAspect > maxImageAspectRatio {
		return false
	}

	info, err := os.Stat(it.ImgPath)
	if err != nil {
		return false
	}
	minBytes := int64(minImageBytes)
	if caption {
		minBytes = minImageBytesWithCaption
	}
	if info.Size() < minBytes {
		return false
	}

	w, h := imageDimensions(it)
	if intrinsicAspect := aspectRatio(float64(w), float64(h)); intrinsicAspect > maxImageAspectRatio {
		return false
	}
	if !caption {
		if w < minImageMinDim || h < minImageMinDim {
			return false
		}
		if w*h < minImagePixelArea {
			return false
		}
	}

	return true
}

func aspectRatio(w, h float64) float64 {
	if w == 0 || h == 0 {
		return 0
	}
	if w > h {
		return w / h
	}
	return h / w
}

// imageDimensions decodes the image file's header to get its real raster
// size, used for the intrinsic-aspect-ratio and pixel-count filters, which
// need actual pixels rather than the page-layout bbox. A file that can't be
// decoded (unsupported format, truncated write) falls back to the bbox
// dimensions so the image isn't rejected on a decode failure alone.
func imageDimensions(it parseitem.Item) (int, int) {
	f, err := os.Open(it.ImgPath)
	if err != nil {
		return int(it.BBox.Width()), int(it.BBox.Height())
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return int(it.BBox.Width()), int(it.BBox.Height())
	}
	return cfg.Width, cfg.Height
}

func md5OfFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	sum := md5.Sum(data)
	return string(sum[:]), nil
}

// BuildImageJobs iterates items in document order, selecting images that
// pass every filter (relaxed thresholds when a caption/footnote is
// present), rejecting in-document md5 duplicates and capping at
// perPageImageLimit per page. Accepted items are annotated in place with
// their assigned seq via ImageSeq.
func BuildImageJobs(items []parseitem.Item, contextWindow int) []ImageJob {
	seen := map[string]bool{}
	perPage := map[int]int{}
	var jobs []ImageJob
	seq := 0

	for i := range items {
		it := &items[i]
		if it.Kind != parseitem.KindImage {
			continue
		}
		if !passesFilters(*it) {
			continue
		}
		if perPage[it.PageIdx] >= perPageImageLimit {
			continue
		}
		sum, err := md5OfFile(it.ImgPath)
		if err != nil {
			continue
		}
		if seen[sum] {
			continue
		}
		seen[sum] = true
		perPage[it.PageIdx]++

		seq++
		it.ImageSeq = seq

		baseText := joinNonEmpty(append(append([]string{}, it.ImgCaption...), it.ImgFootnote...))
		jobs = append(jobs, ImageJob{
			Seq:            seq,
			PageNumber:     it.PageNumber(),
			ImagePath:      it.ImgPath,
			ContextPayload: buildContextPayload(items, i, contextWindow),
			BaseText:       baseText,
		})
	}
	return jobs
}

func joinNonEmpty(lines []string) string {
	out := ""
	for _, l := range lines {
		if l == "" {
			continue
		}
		if out != "" {
			out += "\n"
		}
		out += l
	}
	return out
}

// buildContextPayload composes the N chunks before and after index i using
// the format "[Page P] [ChunkType=Title|Body] text", plus the image's own
// caption/footnote.
func buildContextPayload(items []parseitem.Item, i, window int) string {
	lo := i - window
	if lo < 0 {
		lo = 0
	}
	hi := i + window
	if hi >= len(items) {
		hi = len(items) - 1
	}

	out := ""
	for j := lo; j <= hi; j++ {
		text := textOf(items[j])
		if text == "" {
			continue
		}
		kind := "Body"
		if items[j].IsHeading() {
			kind = "Title"
		}
		if out != "" {
			out += "\n"
		}
		out += formatContextLine(items[j].PageNumber(), kind, text)
	}
	return out
}

func formatContextLine(page int, kind, text string) string {
	return "[Page " + strconv.Itoa(page) + "] [ChunkType=" + kind + "] " + text
}

func textOf(it parseitem.Item) string {
	switch it.Kind {
	case parseitem.KindText, parseitem.KindEquation:
		return it.Text
	case parseitem.KindImage:
		return joinNonEmpty(append(append([]string{}, it.ImgCaption...), it.ImgFootnote...))
	}
	return ""
}
