package parseitem

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBBox_WidthHeight(t *testing.T) {
	b := BBox{X0: 10, Y0: 20, X1: 110, Y1: 70}
	require.Equal(t, 100.0, b.Width())
	require.Equal(t, 50.0, b.Height())
}

func TestItem_PageNumberIsOneBased(t *testing.T) {
	it := Item{PageIdx: 0}
	require.Equal(t, 1, it.PageNumber())

	it = Item{PageIdx: 4}
	require.Equal(t, 5, it.PageNumber())
}

func TestItem_IsHeading(t *testing.T) {
	level := 2
	require.True(t, Item{Kind: KindText, TextLevel: &level}.IsHeading())
	require.False(t, Item{Kind: KindText}.IsHeading())
	require.False(t, Item{Kind: KindImage, TextLevel: &level}.IsHeading())
}
