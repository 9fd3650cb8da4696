package lesson

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateWritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "intro.json")

	l, err := Create(path)
	require.NoError(t, err)
	assert.False(t, l.HasChanges())
	assert.Equal(t, "intro", l.Name())

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultBlocks(), loaded.Blocks())
}

func TestLoadAcceptsComments(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lesson.json")
	content := `[
  // opening remarks
  {"type": "comment", "text": "Loops"},
  {"type": "code", "text": "for i := 0; i < 3; i++ {}"}, // trailing comma next
]`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	l, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 2, l.Len())
	b, ok := l.Block(1)
	require.True(t, ok)
	assert.Equal(t, Code, b.Type)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := map[string]string{
		"not an array":  `{"type": "code", "text": "x"}`,
		"unknown type":  `[{"type": "image", "text": "x"}]`,
		"missing text":  `[{"type": "code"}]`,
		"broken json":   `[{"type": "code", "text": ]`,
		"text not text": `[{"type": "code", "text": 42}]`,
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "bad.json")
			require.NoError(t, os.WriteFile(path, []byte(content), 0644))

			_, err := Load(path)
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestEditsNotifyAndMarkDirty(t *testing.T) {
	l := New([]Block{{Type: Comment, Text: "title"}})

	var seen [][]Block
	l.OnChange(func(b []Block) { seen = append(seen, b) })

	idx, err := l.Add(Code, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, idx)

	idx, err = l.Add(Comment, -1)
	require.NoError(t, err)
	assert.Equal(t, 2, idx)

	require.NoError(t, l.Update(1, "fmt.Println()"))
	require.NoError(t, l.Move(2, 0))
	require.NoError(t, l.Remove(1))

	assert.True(t, l.HasChanges())
	require.Len(t, seen, 5)
	assert.Equal(t, []Block{
		{Type: Comment, Text: "New Comment"},
		{Type: Code, Text: "fmt.Println()"},
	}, l.Blocks())
}

func TestAddInsertsInMiddle(t *testing.T) {
	l := New([]Block{{Type: Comment, Text: "a"}, {Type: Comment, Text: "c"}})

	idx, err := l.Add(Code, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, idx)
	assert.Equal(t, []BlockType{Comment, Code, Comment}, types(l.Blocks()))
}

func TestEditIndexErrors(t *testing.T) {
	l := New(DefaultBlocks())
	assert.ErrorIs(t, l.Remove(5), ErrIndex)
	assert.ErrorIs(t, l.Update(-1, "x"), ErrIndex)
	assert.ErrorIs(t, l.Move(0, 9), ErrIndex)
	_, err := l.Add(Code, 7)
	assert.ErrorIs(t, err, ErrIndex)
	_, err = l.Add("image", -1)
	assert.ErrorIs(t, err, ErrType)
}

func TestEditGuard(t *testing.T) {
	active := true
	l := New(DefaultBlocks())
	l.SetEditGuard(func() bool { return active })

	assert.ErrorIs(t, l.Update(0, "changed"), ErrLocked)
	b, _ := l.Block(0)
	assert.Equal(t, "Enter lesson title", b.Text)

	active = false
	assert.NoError(t, l.Update(0, "changed"))
}

func TestBlocksReturnsCopy(t *testing.T) {
	l := New(DefaultBlocks())
	blocks := l.Blocks()
	blocks[0].Text = "mutated"

	b, _ := l.Block(0)
	assert.Equal(t, "Enter lesson title", b.Text)
}

func TestSaveWithoutPath(t *testing.T) {
	assert.ErrorIs(t, New(nil).Save(), ErrNoPath)
	assert.Equal(t, "unnamed", New(nil).ID())
}

func TestReplaceIsClean(t *testing.T) {
	l := New(DefaultBlocks())
	require.NoError(t, l.Update(0, "x"))
	require.True(t, l.HasChanges())

	l.Replace([]Block{{Type: Code, Text: "y"}})
	assert.False(t, l.HasChanges())
	assert.Equal(t, 1, l.Len())
}

func TestSubtypes(t *testing.T) {
	q := Block{Type: Comment, Text: "❓ What does this print?"}
	assert.Equal(t, SubtypeQuestion, q.Subtype())
	assert.Equal(t, "What does this print?", q.Question())

	img := Block{Type: Comment, Text: "🖼️ diagrams/stack.png"}
	assert.Equal(t, SubtypeImage, img.Subtype())
	assert.Equal(t, "diagrams/stack.png", img.ImagePath())

	code := Block{Type: Code, Text: "❓"}
	assert.Equal(t, SubtypeNone, code.Subtype())
}

func types(blocks []Block) []BlockType {
	out := make([]BlockType, len(blocks))
	for i, b := range blocks {
		out[i] = b.Type
	}
	return out
}
