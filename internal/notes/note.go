// Package notes holds the note model shared by storage, retrieval and the API.
package notes

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// ExcerptLength is the number of characters of content shown in a preview.
const ExcerptLength = 200

var ErrEmptyNote = errors.New("note needs a title or content")

// Note is a single markdown note.
type Note struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Summary   string    `json:"summary,omitempty"`
	Tags      []string  `json:"tags,omitempty"`
	SourceURL string    `json:"sourceUrl,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// New builds a note with a fresh id. An empty title is allowed; the title
// queue fills it in later.
func New(title, content string) (*Note, error) {
	title = strings.TrimSpace(title)
	if title == "" && strings.TrimSpace(content) == "" {
		return nil, ErrEmptyNote
	}
	now := time.Now().UTC()
	return &Note{
		ID:        uuid.NewString(),
		Title:     title,
		Content:   content,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// DisplayTitle returns the title or a placeholder for untitled notes.
func (n Note) DisplayTitle() string {
	if n.Title == "" {
		return "Untitled"
	}
	return n.Title
}

// Preview is the compact form of a note sent to the selection model.
type Preview struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Excerpt string `json:"excerpt"`
}

// Preview returns the note's id, title and the first ExcerptLength
// characters of its content.
func (n Note) Preview() Preview {
	return Preview{ID: n.ID, Title: n.DisplayTitle(), Excerpt: Excerpt(n.Content, ExcerptLength)}
}

// Excerpt returns at most limit characters of s with whitespace collapsed.
func Excerpt(s string, limit int) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	r := []rune(s)
	return string(r[:limit]) + "…"
}

// ByID indexes notes by id.
func ByID(ns []Note) map[string]Note {
	out := make(map[string]Note, len(ns))
	for _, n := range ns {
		out[n.ID] = n
	}
	return out
}
