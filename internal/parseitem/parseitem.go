// Package parseitem defines the raw parser output unit consumed by the
// Content Normalizer and, in two-stage mode, annotated with an image
// sequence number before being handed to merge.
package parseitem

// Kind identifies the shape of a ParsedItem's payload.
type Kind string

const (
	KindText       Kind = "text"
	KindEquation   Kind = "equation"
	KindList       Kind = "list"
	KindImage      Kind = "image"
	KindTable      Kind = "table"
	KindHeader     Kind = "header"
	KindFooter     Kind = "footer"
	KindPageNumber Kind = "page_number"
)

// BBox is the pixel bounding box of an item on its page, as reported by the parser.
type BBox struct {
	X0 float64
	Y0 float64
	X1 float64
	Y1 float64
}

// Width returns the bbox width; Height returns its height. Both are zero for a zero-value BBox.
func (b BBox) Width() float64  { return b.X1 - b.X0 }
func (b BBox) Height() float64 { return b.Y1 - b.Y0 }

// PageSize is the rendered page's pixel dimensions, used to compute image-area ratios.
type PageSize struct {
	Width  float64
	Height float64
}

// Item is one unit of raw parser output. Only the fields relevant to its
// Kind are populated; the rest are left at their zero value. JSON tags
// exist so the GPU scheduler's child supervisor can round-trip items over
// a pipe to and from the worker process.
type Item struct {
	Kind Kind `json:"kind"`
	// PageIdx is 0-based, as produced by the parser.
	PageIdx int `json:"page_idx"`
	// TextLevel signals a heading when non-nil; the value itself is unused
	// beyond presence/absence (headings are not leveled further downstream).
	TextLevel *int `json:"text_level,omitempty"`

	Text string `json:"text,omitempty"`

	ImgCaption  []string `json:"img_caption,omitempty"`
	ImgFootnote []string `json:"img_footnote,omitempty"`
	ImgPath     string   `json:"img_path,omitempty"`

	TableCaption  []string `json:"table_caption,omitempty"`
	TableBody     string   `json:"table_body,omitempty"`
	TableFootnote []string `json:"table_footnote,omitempty"`

	ListItems []string `json:"list_items,omitempty"`

	BBox     BBox     `json:"bbox"`
	PageSize PageSize `json:"page_size"`

	// ImageSeq is assigned by the two-stage parse stage for accepted image
	// jobs; zero means "not an accepted image job".
	ImageSeq int `json:"image_seq,omitempty"`
}

// PageNumber returns the 1-based page number for this item.
func (it Item) PageNumber() int {
	return it.PageIdx + 1
}

// IsHeading reports whether a text item should be promoted to a title chunk.
func (it Item) IsHeading() bool {
	return it.Kind == KindText && it.TextLevel != nil
}
