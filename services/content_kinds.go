package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"content-regions/models"
)

const summaryLength = 60

// TextContent is markdown body text
type TextContent struct {
	Body string `json:"body"`
}

func (TextContent) Kind() models.Kind { return models.KindText }

// HTMLContent is trusted markup inserted as is
type HTMLContent struct {
	HTML string `json:"html"`
}

func (HTMLContent) Kind() models.Kind { return models.KindHTML }

// IframeContent embeds another page
type IframeContent struct {
	URL    string `json:"url"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

func (IframeContent) Kind() models.Kind { return models.KindIframe }

// FeedContent points at an RSS feed. Fetching happens client side.
type FeedContent struct {
	URL   string `json:"url"`
	Items int    `json:"items,omitempty"`
}

func (FeedContent) Kind() models.Kind { return models.KindFeed }

// FileContent links to a stored file
type FileContent struct {
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
}

func (FileContent) Kind() models.Kind { return models.KindFile }

// SearchContent is a search form widget
type SearchContent struct {
	Action      string `json:"action,omitempty"`
	Placeholder string `json:"placeholder,omitempty"`
}

func (SearchContent) Kind() models.Kind { return models.KindSearch }

// RegisterBuiltinKinds installs the bundled content kinds
func RegisterBuiltinKinds(registry *KindRegistry) error {
	markdown := goldmark.New(goldmark.WithExtensions(extension.GFM))

	plugins := []KindPlugin{
		{Kind: models.KindText, Decode: decodeText, Renderer: &textRenderer{md: markdown}},
		{Kind: models.KindHTML, Decode: decodeInto[HTMLContent], Renderer: htmlRenderer{}},
		{Kind: models.KindIframe, Decode: decodeIframe, Renderer: iframeRenderer{}},
		{Kind: models.KindFeed, Decode: decodeFeed, Renderer: feedRenderer{}},
		{Kind: models.KindFile, Decode: decodeFile, Renderer: fileRenderer{}},
		{Kind: models.KindSearch, Decode: decodeSearch, Renderer: searchRenderer{}},
	}
	for _, plugin := range plugins {
		if err := registry.Register(plugin); err != nil {
			return err
		}
	}
	return nil
}

// NewBuiltinKindRegistry returns a registry holding the bundled kinds
func NewBuiltinKindRegistry() *KindRegistry {
	registry := NewKindRegistry()
	if err := RegisterBuiltinKinds(registry); err != nil {
		panic(err)
	}
	return registry
}

func decodeInto[T Content](payload json.RawMessage) (Content, error) {
	var content T
	decoder := json.NewDecoder(bytes.NewReader(payload))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&content); err != nil {
		return nil, err
	}
	return content, nil
}

func decodeText(payload json.RawMessage) (Content, error) {
	return decodeInto[TextContent](payload)
}

func decodeIframe(payload json.RawMessage) (Content, error) {
	content, err := decodeInto[IframeContent](payload)
	if err != nil {
		return nil, err
	}
	iframe := content.(IframeContent)
	if err := checkURL(iframe.URL); err != nil {
		return nil, err
	}
	if iframe.Width < 0 || iframe.Height < 0 {
		return nil, fmt.Errorf("iframe dimensions must not be negative")
	}
	return iframe, nil
}

func decodeFeed(payload json.RawMessage) (Content, error) {
	content, err := decodeInto[FeedContent](payload)
	if err != nil {
		return nil, err
	}
	feed := content.(FeedContent)
	if err := checkURL(feed.URL); err != nil {
		return nil, err
	}
	if feed.Items < 0 {
		return nil, fmt.Errorf("feed item count must not be negative")
	}
	if feed.Items == 0 {
		feed.Items = 5
	}
	return feed, nil
}

func decodeFile(payload json.RawMessage) (Content, error) {
	content, err := decodeInto[FileContent](payload)
	if err != nil {
		return nil, err
	}
	file := content.(FileContent)
	if file.URL != "" {
		if err := checkURL(file.URL); err != nil {
			return nil, err
		}
	}
	return file, nil
}

func decodeSearch(payload json.RawMessage) (Content, error) {
	content, err := decodeInto[SearchContent](payload)
	if err != nil {
		return nil, err
	}
	search := content.(SearchContent)
	if search.Action == "" {
		search.Action = "/search"
	}
	return search, nil
}

func checkURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("url scheme must be http or https")
	}
	return nil
}

// truncate shortens s to n characters on a single line
func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n-1]) + "…"
}

type textRenderer struct {
	md goldmark.Markdown
}

func (r *textRenderer) RenderIntoRegion(ctx context.Context, content Content, rc RenderContext) (string, bool, error) {
	text := content.(TextContent)
	if strings.TrimSpace(text.Body) == "" {
		return "", false, nil
	}
	var buf bytes.Buffer
	if err := r.md.Convert([]byte(text.Body), &buf); err != nil {
		return "", false, err
	}
	return buf.String(), true, nil
}

func (r *textRenderer) RenderIntoSummary(ctx context.Context, content Content, rc RenderContext) string {
	return truncate(content.(TextContent).Body, summaryLength)
}

type htmlRenderer struct{}

func (htmlRenderer) RenderIntoRegion(ctx context.Context, content Content, rc RenderContext) (string, bool, error) {
	markup := content.(HTMLContent).HTML
	return markup, strings.TrimSpace(markup) != "", nil
}

func (htmlRenderer) RenderIntoSummary(ctx context.Context, content Content, rc RenderContext) string {
	return "HTML: " + truncate(content.(HTMLContent).HTML, summaryLength)
}

type iframeRenderer struct{}

func (iframeRenderer) RenderIntoRegion(ctx context.Context, content Content, rc RenderContext) (string, bool, error) {
	iframe := content.(IframeContent)
	var b strings.Builder
	fmt.Fprintf(&b, `<iframe src="%s"`, html.EscapeString(iframe.URL))
	if iframe.Width > 0 {
		fmt.Fprintf(&b, ` width="%d"`, iframe.Width)
	}
	if iframe.Height > 0 {
		fmt.Fprintf(&b, ` height="%d"`, iframe.Height)
	}
	b.WriteString(`></iframe>`)
	return b.String(), true, nil
}

func (iframeRenderer) RenderIntoSummary(ctx context.Context, content Content, rc RenderContext) string {
	return "Iframe: " + content.(IframeContent).URL
}

type feedRenderer struct{}

func (feedRenderer) RenderIntoRegion(ctx context.Context, content Content, rc RenderContext) (string, bool, error) {
	feed := content.(FeedContent)
	return fmt.Sprintf(`<ul class="feed" data-feed-url="%s" data-feed-items="%d"></ul>`,
		html.EscapeString(feed.URL), feed.Items), true, nil
}

func (feedRenderer) RenderIntoSummary(ctx context.Context, content Content, rc RenderContext) string {
	feed := content.(FeedContent)
	return fmt.Sprintf("Feed: %s (%d items)", feed.URL, feed.Items)
}

type fileRenderer struct{}

func (fileRenderer) RenderIntoRegion(ctx context.Context, content Content, rc RenderContext) (string, bool, error) {
	file := content.(FileContent)
	if file.URL == "" {
		return "", false, nil
	}
	title := file.Title
	if title == "" {
		title = file.URL
	}
	return fmt.Sprintf(`<a class="file" href="%s">%s</a>`,
		html.EscapeString(file.URL), html.EscapeString(title)), true, nil
}

func (fileRenderer) RenderIntoSummary(ctx context.Context, content Content, rc RenderContext) string {
	file := content.(FileContent)
	if file.Title != "" {
		return "File: " + file.Title
	}
	if file.URL == "" {
		return "File: (none)"
	}
	return "File: " + file.URL
}

type searchRenderer struct{}

func (searchRenderer) RenderIntoRegion(ctx context.Context, content Content, rc RenderContext) (string, bool, error) {
	search := content.(SearchContent)
	return fmt.Sprintf(`<form class="search" action="%s" method="get"><input type="search" name="q" placeholder="%s"></form>`,
		html.EscapeString(search.Action), html.EscapeString(search.Placeholder)), true, nil
}

func (searchRenderer) RenderIntoSummary(ctx context.Context, content Content, rc RenderContext) string {
	return "Search: " + content.(SearchContent).Action
}
