// Package steps flattens a lesson into the ordered execution steps the
// cursor walks: one step per code character plus one per block boundary.
package steps

import (
	"fmt"

	"leo/internal/lesson"
)

// Kind tags a Step variant.
type Kind uint8

const (
	// KindChar is one character of a code block.
	KindChar Kind = iota
	// KindBlock marks the consumption of a whole block.
	KindBlock
)

func (k Kind) String() string {
	if k == KindChar {
		return "char"
	}
	return "block"
}

// Step is the atomic unit of execution. Char is only meaningful for
// KindChar steps.
type Step struct {
	Kind        Kind `json:"kind"`
	Char        rune `json:"char,omitempty"`
	BlockIndex  int  `json:"blockIndex"`
	GlobalIndex int  `json:"globalIndex"`
}

// IsChar reports whether s types a character.
func (s Step) IsChar() bool { return s.Kind == KindChar }

// IsBlock reports whether s is a block boundary.
func (s Step) IsBlock() bool { return s.Kind == KindBlock }

func (s Step) String() string {
	if s.Kind == KindChar {
		return fmt.Sprintf("char(%q)@%d[b%d]", s.Char, s.GlobalIndex, s.BlockIndex)
	}
	return fmt.Sprintf("block@%d[b%d]", s.GlobalIndex, s.BlockIndex)
}

// Options carries the view context the flattening depends on.
type Options struct {
	// EditingIndex is the block open in the inline editor, -1 for none.
	EditingIndex int

	// Active is the typing-mode flag.
	Active bool
}

// NoEditing is the common case of no block being edited.
var NoEditing = Options{EditingIndex: -1}

// Build flattens blocks into steps. It is pure: equal input always yields
// an equal list, with GlobalIndex running densely from zero.
//
// A block open for editing while typing mode is off contributes no steps.
func Build(blocks []lesson.Block, opts Options) []Step {
	out := make([]Step, 0, estimate(blocks))
	next := 0

	for bi, b := range blocks {
		if bi == opts.EditingIndex && !opts.Active {
			continue
		}
		if b.Type == lesson.Code {
			for _, r := range b.Text {
				out = append(out, Step{Kind: KindChar, Char: r, BlockIndex: bi, GlobalIndex: next})
				next++
			}
		}
		out = append(out, Step{Kind: KindBlock, BlockIndex: bi, GlobalIndex: next})
		next++
	}
	return out
}

func estimate(blocks []lesson.Block) int {
	n := len(blocks)
	for _, b := range blocks {
		if b.Type == lesson.Code {
			n += len(b.Text)
		}
	}
	return n
}

// NextBoundary returns the index of the first block step strictly after
// from, or len(list) when there is none.
func NextBoundary(list []Step, from int) int {
	for i := from + 1; i < len(list); i++ {
		if list[i].Kind == KindBlock {
			return i
		}
	}
	return len(list)
}

// Range is the half-open span of steps belonging to one block.
type Range struct {
	Block int `json:"block"`
	Start int `json:"start"`
	End   int `json:"end"`
}

// BlockRanges returns the step span of every block present in list, in
// block order.
func BlockRanges(list []Step) []Range {
	var out []Range
	for i, s := range list {
		if len(out) == 0 || out[len(out)-1].Block != s.BlockIndex {
			out = append(out, Range{Block: s.BlockIndex, Start: i, End: i + 1})
			continue
		}
		out[len(out)-1].End = i + 1
	}
	return out
}

// Progress returns index/total as a percentage, 0 for an empty list.
func Progress(index, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(index) / float64(total) * 100
}
