package services

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "content-regions/errors"
	"content-regions/models"
)

func TestKindRegistry_RegisterTwice(t *testing.T) {
	registry := NewBuiltinKindRegistry()

	err := registry.Register(KindPlugin{Kind: models.KindText, Decode: decodeText, Renderer: htmlRenderer{}})
	assert.Error(t, err)

	err = registry.Register(KindPlugin{Kind: "poll"})
	assert.Error(t, err)

	assert.Equal(t, []models.Kind{
		models.KindFeed, models.KindFile, models.KindHTML,
		models.KindIframe, models.KindSearch, models.KindText,
	}, registry.Kinds())
}

func TestKindRegistry_Resolve(t *testing.T) {
	registry := NewBuiltinKindRegistry()

	tests := []struct {
		name     string
		kind     models.Kind
		payload  string
		expected Content
		errCode  string
	}{
		{name: "text", kind: models.KindText, payload: `{"body":"# Hi"}`, expected: TextContent{Body: "# Hi"}},
		{name: "empty payload", kind: models.KindText, payload: ``, expected: TextContent{}},
		{name: "feed default items", kind: models.KindFeed, payload: `{"url":"https://example.com/rss"}`, expected: FeedContent{URL: "https://example.com/rss", Items: 5}},
		{name: "search default action", kind: models.KindSearch, payload: `{}`, expected: SearchContent{Action: "/search"}},
		{name: "unknown kind", kind: "poll", payload: `{}`, errCode: apperrors.ErrCodeUnknownKind},
		{name: "unknown field", kind: models.KindText, payload: `{"text":"x"}`, errCode: apperrors.ErrCodeInvalidPayload},
		{name: "iframe without url", kind: models.KindIframe, payload: `{}`, errCode: apperrors.ErrCodeInvalidPayload},
		{name: "iframe bad scheme", kind: models.KindIframe, payload: `{"url":"javascript:alert(1)"}`, errCode: apperrors.ErrCodeInvalidPayload},
		{name: "not json", kind: models.KindHTML, payload: `<b>`, errCode: apperrors.ErrCodeInvalidPayload},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunk := models.Chunk{ID: 1, Kind: tt.kind, Payload: json.RawMessage(tt.payload)}
			resolved, err := registry.Resolve(chunk)
			if tt.errCode != "" {
				require.Error(t, err)
				assert.True(t, apperrors.HasCode(err, tt.errCode), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, resolved.Content)
			assert.Equal(t, chunk.ID, resolved.ID)
		})
	}
}

func TestDispatcher_RenderRegion(t *testing.T) {
	registry := NewBuiltinKindRegistry()
	dispatcher := NewDispatcher(registry, NewNopLogger())

	chunks, err := registry.ResolveAll([]models.Chunk{
		{ID: 1, Position: 1, Kind: models.KindText, Payload: json.RawMessage(`{"body":"**bold**"}`)},
		{ID: 2, Position: 2, Kind: models.KindFile, Payload: json.RawMessage(`{}`)},
		{ID: 3, Position: 3, Kind: models.KindIframe, Payload: json.RawMessage(`{"url":"https://example.com/?a=1&b=2","width":300}`)},
		{ID: 4, Position: 4, Kind: models.KindHTML, Payload: json.RawMessage(`{"html":"<hr>"}`)},
	})
	require.NoError(t, err)

	fragments, err := dispatcher.RenderRegion(context.Background(), chunks, "home.html")
	require.NoError(t, err)
	require.Len(t, fragments, 3)
	assert.Equal(t, "<p><strong>bold</strong></p>\n", fragments[0])
	assert.Equal(t, `<iframe src="https://example.com/?a=1&amp;b=2" width="300"></iframe>`, fragments[1])
	assert.Equal(t, "<hr>", fragments[2])
}

func TestDispatcher_TextEscapesRawHTML(t *testing.T) {
	dispatcher := NewDispatcher(NewBuiltinKindRegistry(), nil)

	markup, ok, err := dispatcher.RenderChunk(context.Background(), ResolvedChunk{
		Chunk:   models.Chunk{ID: 1, Kind: models.KindText},
		Content: TextContent{Body: "<script>alert(1)</script>"},
	}, "")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NotContains(t, markup, "<script>")
}

func TestDispatcher_Summary(t *testing.T) {
	dispatcher := NewDispatcher(NewBuiltinKindRegistry(), nil)
	ctx := context.Background()

	tests := []struct {
		name     string
		chunk    ResolvedChunk
		expected string
	}{
		{
			name:     "long text truncated",
			chunk:    ResolvedChunk{Chunk: models.Chunk{Kind: models.KindText}, Content: TextContent{Body: "word\nword word word word word word word word word word word word word"}},
			expected: "word word word word word word word word word word word word…",
		},
		{
			name:     "feed",
			chunk:    ResolvedChunk{Chunk: models.Chunk{Kind: models.KindFeed}, Content: FeedContent{URL: "https://x.test/rss", Items: 3}},
			expected: "Feed: https://x.test/rss (3 items)",
		},
		{
			name:     "file with title",
			chunk:    ResolvedChunk{Chunk: models.Chunk{Kind: models.KindFile}, Content: FileContent{URL: "https://x.test/a.pdf", Title: "Report"}},
			expected: "File: Report",
		},
		{
			name:     "unknown kind falls back to kind name",
			chunk:    ResolvedChunk{Chunk: models.Chunk{Kind: "poll"}},
			expected: "poll",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, dispatcher.Summary(ctx, tt.chunk, ""))
		})
	}
}
