package notes

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
)

const maxImportChars = 20000

// Importer turns a web page into a note.
type Importer struct {
	client *resty.Client
}

// NewImporter creates an importer with a bounded request timeout.
func NewImporter(timeout time.Duration) *Importer {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client := resty.New()
	client.SetTimeout(timeout)
	client.SetHeader("User-Agent", "Mozilla/5.0 (compatible; notemind/1.0)")
	return &Importer{client: client}
}

// Import fetches rawURL and extracts its title and readable text.
func (im *Importer) Import(ctx context.Context, rawURL string) (*Note, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid url %q", rawURL)
	}

	resp, err := im.client.R().SetContext(ctx).Get(u.String())
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", u, err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("HTTP error %d when fetching %s", resp.StatusCode(), u)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(resp.String()))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	title, content := extract(doc)
	if title == "" {
		title = u.Host
	}
	n, err := New(title, content)
	if err != nil {
		return nil, err
	}
	n.SourceURL = u.String()
	return n, nil
}

// extract pulls the page title and paragraph text, preferring <article> or
// <main> over the whole body.
func extract(doc *goquery.Document) (string, string) {
	title := strings.TrimSpace(doc.Find("meta[property='og:title']").AttrOr("content", ""))
	if title == "" {
		title = strings.TrimSpace(doc.Find("title").First().Text())
	}
	if title == "" {
		title = strings.TrimSpace(doc.Find("h1").First().Text())
	}

	doc.Find("script, style, nav, footer, header, aside, noscript").Remove()

	root := doc.Find("article").First()
	if root.Length() == 0 {
		root = doc.Find("main").First()
	}
	if root.Length() == 0 {
		root = doc.Find("body")
	}

	var parts []string
	size := 0
	root.Find("h1, h2, h3, p, li, blockquote, pre").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := strings.Join(strings.Fields(s.Text()), " ")
		if text == "" {
			return true
		}
		switch goquery.NodeName(s) {
		case "h1", "h2", "h3":
			text = "## " + text
		case "li":
			text = "- " + text
		case "blockquote":
			text = "> " + text
		}
		parts = append(parts, text)
		size += len(text)
		return size < maxImportChars
	})
	if len(parts) == 0 {
		return title, strings.Join(strings.Fields(root.Text()), " ")
	}
	return title, strings.Join(parts, "\n\n")
}
