package broadcast

import (
	"bytes"
	"sync"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"leo/internal/lesson"
)

var (
	markdownOnce sync.Once
	markdownConv goldmark.Markdown
)

func markdown() goldmark.Markdown {
	markdownOnce.Do(func() {
		markdownConv = goldmark.New(goldmark.WithExtensions(extension.GFM))
	})
	return markdownConv
}

// RenderComment converts comment text to HTML. Raw HTML in the source is
// escaped by goldmark's default renderer.
func RenderComment(text string) (string, error) {
	var buf bytes.Buffer
	if err := markdown().Convert([]byte(text), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// NewLessonData builds the student view of a block list.
func NewLessonData(blocks []lesson.Block) (*LessonData, error) {
	out := &LessonData{Blocks: make([]BlockView, 0, len(blocks))}
	for _, b := range blocks {
		v := BlockView{Type: b.Type, Text: b.Text, Subtype: b.Subtype()}
		if b.Type == lesson.Comment {
			html, err := RenderComment(b.Text)
			if err != nil {
				return nil, err
			}
			v.HTML = html
		}
		out.Blocks = append(out.Blocks, v)
	}
	return out, nil
}
