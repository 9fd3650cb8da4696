package steps

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leo/internal/lesson"
)

func sample() []lesson.Block {
	return []lesson.Block{
		{Type: lesson.Comment, Text: "title"},
		{Type: lesson.Code, Text: "ab"},
		{Type: lesson.Comment, Text: "next"},
	}
}

func TestBuildShape(t *testing.T) {
	got := Build(sample(), NoEditing)

	want := []Step{
		{Kind: KindBlock, BlockIndex: 0, GlobalIndex: 0},
		{Kind: KindChar, Char: 'a', BlockIndex: 1, GlobalIndex: 1},
		{Kind: KindChar, Char: 'b', BlockIndex: 1, GlobalIndex: 2},
		{Kind: KindBlock, BlockIndex: 1, GlobalIndex: 3},
		{Kind: KindBlock, BlockIndex: 2, GlobalIndex: 4},
	}
	assert.Equal(t, want, got)
}

func TestBuildDeterministic(t *testing.T) {
	blocks := []lesson.Block{
		{Type: lesson.Code, Text: "func main() {\n\tprintln(\"λ\")\n}"},
		{Type: lesson.Comment, Text: "❓ what prints?"},
		{Type: lesson.Code, Text: ""},
	}
	assert.Equal(t, Build(blocks, NoEditing), Build(blocks, NoEditing))
}

func TestBuildIndexDensity(t *testing.T) {
	blocks := []lesson.Block{
		{Type: lesson.Code, Text: "x := 1\n"},
		{Type: lesson.Comment, Text: "c"},
		{Type: lesson.Code, Text: "💾\ty"},
		{Type: lesson.Code, Text: ""},
	}
	list := Build(blocks, NoEditing)
	for i, s := range list {
		require.Equal(t, i, s.GlobalIndex)
	}
	// 7 chars + boundary, 1 boundary, 3 runes + boundary, 1 boundary
	assert.Len(t, list, 8+1+4+1)
}

func TestBuildKeepsNewlineAndTab(t *testing.T) {
	list := Build([]lesson.Block{{Type: lesson.Code, Text: "a\n\tb"}}, NoEditing)
	require.Len(t, list, 5)
	assert.Equal(t, '\n', list[1].Char)
	assert.Equal(t, '\t', list[2].Char)
}

func TestBuildSkipsEditedBlockWhenInactive(t *testing.T) {
	opts := Options{EditingIndex: 1, Active: false}
	list := Build(sample(), opts)

	require.Len(t, list, 2)
	assert.Equal(t, 0, list[0].BlockIndex)
	assert.Equal(t, 2, list[1].BlockIndex)
	assert.Equal(t, 1, list[1].GlobalIndex)

	// typing mode on: the selection no longer hides the block
	assert.Len(t, Build(sample(), Options{EditingIndex: 1, Active: true}), 5)
}

func TestNextBoundary(t *testing.T) {
	list := Build(sample(), NoEditing)

	assert.Equal(t, 3, NextBoundary(list, 1))
	assert.Equal(t, 3, NextBoundary(list, 2))
	assert.Equal(t, 4, NextBoundary(list, 3), "strictly after the start")
	assert.Equal(t, len(list), NextBoundary(list, 4))
}

func TestBlockRanges(t *testing.T) {
	ranges := BlockRanges(Build(sample(), NoEditing))
	assert.Equal(t, []Range{
		{Block: 0, Start: 0, End: 1},
		{Block: 1, Start: 1, End: 4},
		{Block: 2, Start: 4, End: 5},
	}, ranges)
}

func TestProgress(t *testing.T) {
	assert.Equal(t, 0.0, Progress(0, 0))
	assert.Equal(t, 50.0, Progress(2, 4))
	assert.Equal(t, 100.0, Progress(4, 4))
}
