package richtext

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConvertEmpty(t *testing.T) {
	for _, in := range []string{"", "   ", "\n\t\n", "<p>  </p>", "<div><br></div>"} {
		_, ok := Convert(in)
		assert.False(t, ok, "input %q", in)
	}
}

func TestFromTextParagraphs(t *testing.T) {
	got := FromText("Line one\nLine two\n\nSecond")
	assert.Equal(t, doc([]Node{
		paragraph([]Node{text("Line one", nil), {Type: "hardBreak"}, text("Line two", nil)}),
		paragraph([]Node{text("Second", nil)}),
	}), got)
}

func TestFromTextMarkdown(t *testing.T) {
	got := FromText("## Setup\n- open **app**\n- log in\n1. first\n```\ncode here\n```")
	require.Len(t, got.Content, 4)

	assert.Equal(t, "heading", got.Content[0].Type)
	assert.Equal(t, 2, got.Content[0].Attrs["level"])

	bullets := got.Content[1]
	assert.Equal(t, "bulletList", bullets.Type)
	require.Len(t, bullets.Content, 2)
	item := bullets.Content[0].Content[0]
	assert.Equal(t, []Node{text("open ", nil), text("app", []Mark{{Type: "bold"}})}, item.Content)

	assert.Equal(t, "orderedList", got.Content[2].Type)
	assert.Equal(t, Node{Type: "codeBlock", Content: []Node{text("code here", nil)}}, got.Content[3])
}

func TestFromHTML(t *testing.T) {
	got, err := FromHTML(`<p>Hello <strong>world</strong></p><ul><li>a</li><li>b</li></ul><h3>Title</h3>`)
	require.NoError(t, err)
	require.Len(t, got.Content, 3)

	assert.Equal(t, paragraph([]Node{text("Hello ", nil), text("world", []Mark{{Type: "bold"}})}), got.Content[0])

	list := got.Content[1]
	assert.Equal(t, "bulletList", list.Type)
	require.Len(t, list.Content, 2)
	assert.Equal(t, Node{Type: "listItem", Content: []Node{paragraph([]Node{text("b", nil)})}}, list.Content[1])

	assert.Equal(t, Node{Type: "heading", Attrs: map[string]any{"level": 3}, Content: []Node{text("Title", nil)}}, got.Content[2])
}

func TestFromHTMLLooseInlineAndLinks(t *testing.T) {
	got, err := FromHTML(`Click <a href="https://example.com">here</a><br>now<script>alert(1)</script>`)
	require.NoError(t, err)
	require.Len(t, got.Content, 1)
	assert.Equal(t, paragraph([]Node{
		text("Click ", nil),
		text("here", []Mark{{Type: "link", Attrs: map[string]any{"href": "https://example.com"}}}),
		{Type: "hardBreak"},
		text("now", nil),
	}), got.Content[0])
}

func TestFromHTMLTableAndImage(t *testing.T) {
	got, err := FromHTML(`<table><tr><th>k</th><th>v</th></tr><tr><td>a</td><td>1</td></tr></table><img src="x.png" alt="shot">`)
	require.NoError(t, err)
	require.Len(t, got.Content, 3)
	assert.Equal(t, "k | v", got.Content[0].Content[0].Text)
	assert.Equal(t, "a | 1", got.Content[1].Content[0].Text)
	assert.Equal(t, Node{Type: "image", Attrs: map[string]any{"src": "x.png", "alt": "shot"}}, got.Content[2])
}

func TestConvertPicksParser(t *testing.T) {
	m, ok := Convert("<p>Hi</p>")
	require.True(t, ok)
	assert.Equal(t, map[string]any{
		"type": "doc",
		"content": []any{
			map[string]any{"type": "paragraph", "content": []any{
				map[string]any{"type": "text", "text": "Hi"},
			}},
		},
	}, m)

	m, ok = Convert("a < b and c > d")
	require.True(t, ok)
	assert.Equal(t, "paragraph", m["content"].([]any)[0].(map[string]any)["type"])
}

func TestValue(t *testing.T) {
	existing := map[string]any{"type": "doc", "content": []any{}}
	got, ok := Value(existing)
	assert.True(t, ok)
	assert.Equal(t, existing, got)

	_, ok = Value(42)
	assert.False(t, ok)

	_, ok = Value("text")
	assert.True(t, ok)
}

func TestPlainText(t *testing.T) {
	got, err := FromHTML(`<p>one</p><p>two<br>three</p>`)
	require.NoError(t, err)
	assert.Equal(t, "one\ntwo\nthree", got.PlainText())
}
