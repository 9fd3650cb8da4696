// Package lesson holds the authored lesson: an ordered list of comment
// and code blocks stored as a JSON array on disk.
package lesson

import (
	"strings"
)

// BlockType distinguishes narrative blocks from code to be typed.
type BlockType string

const (
	Comment BlockType = "comment"
	Code    BlockType = "code"
)

// Valid reports whether t is a known block type.
func (t BlockType) Valid() bool {
	return t == Comment || t == Code
}

// Subtype refines comment blocks by their leading marker.
type Subtype string

const (
	SubtypeNone     Subtype = ""
	SubtypeQuestion Subtype = "question-comment"
	SubtypeImage    Subtype = "image-comment"
)

const (
	questionMarker = "\u2753"
	imageMarker    = "\U0001F5BC"
	variationSel   = "\uFE0F"
)

// Block is one authored unit of a lesson.
type Block struct {
	Type BlockType `json:"type"`
	Text string    `json:"text"`
}

// Subtype returns the comment subtype, or SubtypeNone for code blocks.
func (b Block) Subtype() Subtype {
	if b.Type != Comment {
		return SubtypeNone
	}
	t := strings.TrimSpace(b.Text)
	switch {
	case strings.HasPrefix(t, questionMarker):
		return SubtypeQuestion
	case strings.HasPrefix(t, imageMarker):
		return SubtypeImage
	}
	return SubtypeNone
}

// IsQuestion reports whether consuming b should open a question to students.
func (b Block) IsQuestion() bool {
	return b.Subtype() == SubtypeQuestion
}

// Question returns the question text without its marker.
func (b Block) Question() string {
	if !b.IsQuestion() {
		return ""
	}
	t := strings.TrimPrefix(strings.TrimSpace(b.Text), questionMarker)
	return strings.TrimSpace(strings.TrimPrefix(t, variationSel))
}

// ImagePath returns the referenced image for image comments.
func (b Block) ImagePath() string {
	if b.Subtype() != SubtypeImage {
		return ""
	}
	t := strings.TrimSpace(b.Text)
	t = strings.TrimPrefix(t, imageMarker)
	t = strings.TrimPrefix(t, variationSel)
	return strings.TrimSpace(t)
}

// DefaultBlocks is the content of a freshly created lesson.
func DefaultBlocks() []Block {
	return []Block{
		{Type: Comment, Text: "Enter lesson title"},
		{Type: Code, Text: "// Enter first code snippet"},
	}
}

// newBlock returns the placeholder content for an added block.
func newBlock(t BlockType) Block {
	if t == Code {
		return Block{Type: Code}
	}
	return Block{Type: Comment, Text: "New Comment"}
}
