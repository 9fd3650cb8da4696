// Package view renders the presenter's own terminal view of the lesson:
// every block in order, code highlighted up to the cursor and the rest
// dimmed, with a caret where the next keystroke lands.
package view

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/quick"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"leo/internal/lesson"
	"leo/internal/logging"
	"leo/internal/steps"
)

// Caret marks the cursor position inside a code block.
const Caret = "▌"

const clearScreen = "\x1b[H\x1b[2J"

// Options configures a Renderer.
type Options struct {
	// Color enables ANSI styling and syntax highlighting.
	Color bool

	// Language names the chroma lexer for code blocks. Empty guesses
	// from the lesson content.
	Language string

	// Style is the chroma style name.
	Style string

	// Live clears and redraws the writer on every update.
	Live bool

	Logger *logging.Logger
}

// Renderer draws the lesson and implements mirror.Highlighter.
type Renderer struct {
	w    io.Writer
	opts Options
	lip  *lipgloss.Renderer
	log  *logging.Logger

	mu       sync.Mutex
	name     string
	blocks   []lesson.Block
	list     []steps.Step
	language string
	index    int
	total    int
	active   bool

	header   lipgloss.Style
	badgeOn  lipgloss.Style
	badgeOff lipgloss.Style
	comment  lipgloss.Style
	question lipgloss.Style
	image    lipgloss.Style
	pending  lipgloss.Style
	gutter   lipgloss.Style
}

// New creates a renderer writing to w.
func New(w io.Writer, opts Options) *Renderer {
	if opts.Style == "" {
		opts.Style = "monokai"
	}
	if opts.Logger == nil {
		opts.Logger = logging.Component("view")
	}

	profile := termenv.Ascii
	if opts.Color {
		profile = termenv.ANSI256
	}
	lip := lipgloss.NewRenderer(w, termenv.WithProfile(profile))
	lip.SetColorProfile(profile)

	r := &Renderer{w: w, opts: opts, lip: lip, log: opts.Logger}
	r.header = lip.NewStyle().Bold(true).Foreground(lipgloss.Color("15")).Background(lipgloss.Color("63")).Padding(0, 1)
	r.badgeOn = lip.NewStyle().Bold(true).Foreground(lipgloss.Color("0")).Background(lipgloss.Color("42")).Padding(0, 1)
	r.badgeOff = lip.NewStyle().Foreground(lipgloss.Color("250")).Background(lipgloss.Color("238")).Padding(0, 1)
	r.comment = lip.NewStyle().Italic(true).Foreground(lipgloss.Color("109"))
	r.question = lip.NewStyle().Bold(true).Foreground(lipgloss.Color("220"))
	r.image = lip.NewStyle().Foreground(lipgloss.Color("176"))
	r.pending = lip.NewStyle().Faint(true).Foreground(lipgloss.Color("242"))
	r.gutter = lip.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	return r
}

// SetLesson replaces the content being shown.
func (r *Renderer) SetLesson(name string, blocks []lesson.Block, list []steps.Step) {
	r.mu.Lock()
	r.name = name
	r.blocks = append([]lesson.Block(nil), blocks...)
	r.list = list
	r.language = r.opts.Language
	if r.language == "" {
		r.language = guessLanguage(blocks)
	}
	if r.index > len(list) {
		r.index = len(list)
	}
	r.total = len(list)
	r.mu.Unlock()
	r.redraw()
}

// Highlight moves the caret.
func (r *Renderer) Highlight(index, total int) {
	r.mu.Lock()
	r.index = index
	r.total = total
	r.mu.Unlock()
	r.redraw()
}

// SetActive updates the typing-mode badge.
func (r *Renderer) SetActive(active bool) {
	r.mu.Lock()
	r.active = active
	r.mu.Unlock()
	r.redraw()
}

func (r *Renderer) redraw() {
	if !r.opts.Live {
		return
	}
	if _, err := io.WriteString(r.w, clearScreen+r.Render()+"\n"); err != nil {
		r.log.Debug("view write failed", "error", err)
	}
}

// Render returns the full view.
func (r *Renderer) Render() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var sb strings.Builder
	sb.WriteString(r.renderHeader())
	sb.WriteString("\n\n")

	typed, current := r.positions()
	for bi, b := range r.blocks {
		mark := "  "
		if bi == current {
			mark = r.gutter.Render("▶ ")
		}
		body := r.renderBlock(b, typed[bi], bi == current)
		for i, line := range strings.Split(body, "\n") {
			if i == 0 {
				sb.WriteString(mark)
			} else {
				sb.WriteString("  ")
			}
			sb.WriteString(line)
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (r *Renderer) renderHeader() string {
	name := r.name
	if name == "" {
		name = "No lesson loaded"
	}
	badge := r.badgeOff.Render("EDIT")
	if r.active {
		badge = r.badgeOn.Render("LIVE")
	}
	progress := fmt.Sprintf(" %d/%d (%.0f%%)", r.index, r.total, steps.Progress(r.index, r.total))
	return lipgloss.JoinHorizontal(lipgloss.Top, r.header.Render(name), " ", badge, progress)
}

// positions returns, per block, how many of its characters are typed and
// the block the next step belongs to (-1 at the end).
func (r *Renderer) positions() (typed []int, current int) {
	typed = make([]int, len(r.blocks))
	current = -1
	for _, s := range r.list {
		if s.GlobalIndex >= r.index {
			current = s.BlockIndex
			break
		}
		if s.IsChar() && s.BlockIndex < len(typed) {
			typed[s.BlockIndex]++
		}
	}
	return typed, current
}

func (r *Renderer) renderBlock(b lesson.Block, typed int, current bool) string {
	if b.Type == lesson.Comment {
		switch b.Subtype() {
		case lesson.SubtypeQuestion:
			return r.question.Render("❓ " + b.Question())
		case lesson.SubtypeImage:
			return r.image.Render("[image] " + b.ImagePath())
		}
		return r.comment.Render(b.Text)
	}

	runes := []rune(b.Text)
	if typed > len(runes) {
		typed = len(runes)
	}
	done := string(runes[:typed])
	rest := string(runes[typed:])

	var sb strings.Builder
	sb.WriteString(r.highlight(done))
	if current {
		sb.WriteString(Caret)
	}
	if rest != "" {
		// style line by line so the faint attribute survives newlines
		lines := strings.Split(rest, "\n")
		for i, l := range lines {
			if i > 0 {
				sb.WriteString("\n")
			}
			sb.WriteString(r.pending.Render(l))
		}
	}
	return sb.String()
}

func (r *Renderer) highlight(code string) string {
	if code == "" || !r.opts.Color {
		return code
	}
	var sb strings.Builder
	if err := quick.Highlight(&sb, code, r.language, "terminal256", r.opts.Style); err != nil {
		return code
	}
	return sb.String()
}

func guessLanguage(blocks []lesson.Block) string {
	var sb strings.Builder
	for _, b := range blocks {
		if b.Type == lesson.Code {
			sb.WriteString(b.Text)
			sb.WriteString("\n")
		}
	}
	if l := lexers.Analyse(sb.String()); l != nil {
		return l.Config().Name
	}
	return "plaintext"
}
