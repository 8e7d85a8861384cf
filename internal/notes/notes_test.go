package notes

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestExcerpt(t *testing.T) {
	tests := []struct {
		name  string
		in    string
		limit int
		want  string
	}{
		{name: "short", in: "hello world", limit: 20, want: "hello world"},
		{name: "collapses whitespace", in: "a\n\n  b\tc", limit: 20, want: "a b c"},
		{name: "truncates", in: "abcdef", limit: 3, want: "abc…"},
		{name: "multibyte", in: "héllo wörld", limit: 4, want: "héll…"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Excerpt(tt.in, tt.limit); got != tt.want {
				t.Errorf("Excerpt(%q, %d) = %q, want %q", tt.in, tt.limit, got, tt.want)
			}
		})
	}
}

func TestPreview(t *testing.T) {
	n := Note{ID: "n1", Content: strings.Repeat("x", 500)}
	p := n.Preview()
	if p.ID != "n1" || p.Title != "Untitled" {
		t.Errorf("preview = %+v", p)
	}
	if got := len([]rune(p.Excerpt)); got != ExcerptLength+1 {
		t.Errorf("excerpt length = %d, want %d", got, ExcerptLength+1)
	}
}

func TestNewRejectsEmpty(t *testing.T) {
	if _, err := New("  ", "\n"); err != ErrEmptyNote {
		t.Fatalf("err = %v, want ErrEmptyNote", err)
	}
	n, err := New("", "body only")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if n.ID == "" || n.CreatedAt.IsZero() {
		t.Errorf("note not initialised: %+v", n)
	}
}

func TestImport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><head><title>Page Title</title><script>var x = 1;</script></head>
<body><nav>menu</nav><article><h1>Heading</h1><p>First   paragraph.</p><ul><li>item one</li></ul></article>
<footer>footer text</footer></body></html>`))
	}))
	defer srv.Close()

	im := NewImporter(5 * time.Second)
	n, err := im.Import(context.Background(), srv.URL+"/post")
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if n.Title != "Page Title" {
		t.Errorf("title = %q, want %q", n.Title, "Page Title")
	}
	want := "## Heading\n\nFirst paragraph.\n\n- item one"
	if n.Content != want {
		t.Errorf("content = %q, want %q", n.Content, want)
	}
	if n.SourceURL != srv.URL+"/post" {
		t.Errorf("source url = %q", n.SourceURL)
	}
}

func TestImportErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	im := NewImporter(time.Second)
	if _, err := im.Import(context.Background(), srv.URL); err == nil {
		t.Error("expected error for 404")
	}
	if _, err := im.Import(context.Background(), "ftp://example.com/x"); err == nil {
		t.Error("expected error for non-http url")
	}
}
