// Package richtext converts export free text (HTML fragments or plain text
// with light Markdown) into the destination's structured document format.
package richtext

import (
	"regexp"
	"strings"
)

// Node is one element of a structured document.
type Node struct {
	Type    string         `json:"type"`
	Attrs   map[string]any `json:"attrs,omitempty"`
	Content []Node         `json:"content,omitempty"`
	Text    string         `json:"text,omitempty"`
	Marks   []Mark         `json:"marks,omitempty"`
}

// Mark is inline formatting applied to a text node.
type Mark struct {
	Type  string         `json:"type"`
	Attrs map[string]any `json:"attrs,omitempty"`
}

// Map returns the document as plain maps and slices, the shape stored in
// JSON columns.
func (n Node) Map() map[string]any {
	m := map[string]any{"type": n.Type}
	if len(n.Attrs) > 0 {
		m["attrs"] = n.Attrs
	}
	if n.Text != "" {
		m["text"] = n.Text
	}
	if len(n.Marks) > 0 {
		marks := make([]any, len(n.Marks))
		for i, mk := range n.Marks {
			mm := map[string]any{"type": mk.Type}
			if len(mk.Attrs) > 0 {
				mm["attrs"] = mk.Attrs
			}
			marks[i] = mm
		}
		m["marks"] = marks
	}
	if n.Content != nil {
		content := make([]any, len(n.Content))
		for i, c := range n.Content {
			content[i] = c.Map()
		}
		m["content"] = content
	}
	return m
}

// PlainText flattens the document, one line per block.
func (n Node) PlainText() string {
	var b strings.Builder
	n.writeText(&b)
	return strings.TrimSpace(b.String())
}

func (n Node) writeText(b *strings.Builder) {
	switch n.Type {
	case "text":
		b.WriteString(n.Text)
		return
	case "hardBreak":
		b.WriteByte('\n')
		return
	}
	for _, c := range n.Content {
		c.writeText(b)
	}
	if isBlock(n.Type) && n.Type != "doc" {
		b.WriteByte('\n')
	}
}

var tagPattern = regexp.MustCompile(`</?[a-zA-Z][a-zA-Z0-9]*(\s[^>]*)?/?>`)

// LooksLikeHTML reports whether s contains markup tags.
func LooksLikeHTML(s string) bool {
	return tagPattern.MatchString(s)
}

// Convert turns free text into a document map. Empty or whitespace-only
// input, and input that converts to no content, reports false.
func Convert(s string) (map[string]any, bool) {
	if strings.TrimSpace(s) == "" {
		return nil, false
	}
	var doc Node
	if LooksLikeHTML(s) {
		parsed, err := FromHTML(s)
		if err != nil {
			doc = FromText(s)
		} else {
			doc = parsed
		}
	} else {
		doc = FromText(s)
	}
	if len(doc.Content) == 0 {
		return nil, false
	}
	return doc.Map(), true
}

// Value converts an export value that may be a string, or already a
// document, into a document map.
func Value(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case string:
		return Convert(t)
	case map[string]any:
		if t["type"] == "doc" {
			return t, true
		}
	}
	return nil, false
}

func doc(blocks []Node) Node {
	return Node{Type: "doc", Content: blocks}
}

func paragraph(inline []Node) Node {
	return Node{Type: "paragraph", Content: inline}
}

func text(s string, marks []Mark) Node {
	return Node{Type: "text", Text: s, Marks: marks}
}

func isBlock(t string) bool {
	switch t {
	case "doc", "paragraph", "heading", "bulletList", "orderedList", "listItem",
		"codeBlock", "blockquote", "horizontalRule", "image":
		return true
	}
	return false
}
