package normalize

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tiangong-mineru/orchestrator/internal/chunk"
	"github.com/tiangong-mineru/orchestrator/internal/parseitem"
)

func TestNormalize_DropsHeaderFooterPageNumberWhenChunkTypeOff(t *testing.T) {
	items := []parseitem.Item{
		{Kind: parseitem.KindHeader, Text: "Running Header"},
		{Kind: parseitem.KindFooter, Text: "Page Footer"},
		{Kind: parseitem.KindPageNumber, Text: "3"},
		{Kind: parseitem.KindText, Text: "Body content."},
	}
	got := Normalize(items, Options{ChunkType: false})
	require.Len(t, got, 1)
	require.Equal(t, "Body content.", got[0].Text)
}

func TestNormalize_ChunkTypeKeepsHeaderFooterDropsPageNumber(t *testing.T) {
	items := []parseitem.Item{
		{Kind: parseitem.KindHeader, Text: "Running Header"},
		{Kind: parseitem.KindFooter, Text: "Page Footer"},
		{Kind: parseitem.KindPageNumber, Text: "3"},
		{Kind: parseitem.KindText, Text: "Body content."},
	}
	got := Normalize(items, Options{ChunkType: true})
	require.Len(t, got, 3)
}

func TestNormalize_HeadingPromotedToTitleOnlyWhenChunkTypeOn(t *testing.T) {
	level := 1
	items := []parseitem.Item{{Kind: parseitem.KindText, Text: "Heading", TextLevel: &level}}

	plain := Normalize(items, Options{ChunkType: false})
	require.Equal(t, chunk.TypeNone, plain[0].Type)

	tagged := Normalize(items, Options{ChunkType: true})
	require.Equal(t, chunk.TypeTitle, tagged[0].Type)
}

func TestNormalize_HeaderFirstStableOrdering(t *testing.T) {
	items := []parseitem.Item{
		{Kind: parseitem.KindText, Text: "first body"},
		{Kind: parseitem.KindHeader, Text: "a header"},
		{Kind: parseitem.KindText, Text: "second body"},
	}
	got := Normalize(items, Options{ChunkType: true})
	require.Len(t, got, 3)
	require.Equal(t, "a header", got[0].Text)
	require.Equal(t, "first body", got[1].Text)
	require.Equal(t, "second body", got[2].Text)
}

func TestNormalize_ImageWithNoCaptionOrFootnoteIsDropped(t *testing.T) {
	items := []parseitem.Item{{Kind: parseitem.KindImage, ImgPath: "img.png"}}
	require.Empty(t, Normalize(items, Options{ChunkType: false}))
}

func TestNormalize_ImageWithCaptionAndFootnoteJoined(t *testing.T) {
	items := []parseitem.Item{{
		Kind:        parseitem.KindImage,
		ImgCaption:  []string{"Figure 1: a diagram"},
		ImgFootnote: []string{"Source: internal"},
	}}
	got := Normalize(items, Options{ChunkType: false})
	require.Len(t, got, 1)
	require.Equal(t, "Figure 1: a diagram\nSource: internal", got[0].Text)
}

func TestNormalize_TableJoinsCaptionBodyFootnote(t *testing.T) {
	items := []parseitem.Item{{
		Kind:          parseitem.KindTable,
		TableCaption:  []string{"Table 1"},
		TableBody:     "<table></table>",
		TableFootnote: []string{"note"},
	}}
	got := Normalize(items, Options{ChunkType: false})
	require.Len(t, got, 1)
	require.Equal(t, "Table 1\n<table></table>\nnote", got[0].Text)
}

func TestNormalize_ListJoinsNonEmptyItems(t *testing.T) {
	items := []parseitem.Item{{
		Kind:      parseitem.KindList,
		ListItems: []string{"one", "  ", "two"},
	}}
	got := Normalize(items, Options{ChunkType: false})
	require.Len(t, got, 1)
	require.Equal(t, "one\ntwo", got[0].Text)
}

func TestNormalize_BlankTextAfterSanitizeIsDropped(t *testing.T) {
	items := []parseitem.Item{{Kind: parseitem.KindText, Text: "   "}}
	require.Empty(t, Normalize(items, Options{ChunkType: false}))
}

func TestNormalize_PageNumberIsOneBased(t *testing.T) {
	items := []parseitem.Item{{Kind: parseitem.KindText, Text: "hi", PageIdx: 2}}
	got := Normalize(items, Options{ChunkType: false})
	require.Equal(t, 3, got[0].PageNumber)
}
