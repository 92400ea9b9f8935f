package richtext

import (
	"bufio"
	"regexp"
	"strings"
)

var (
	headingRegex = regexp.MustCompile(`^(#{1,6})\s+(.+)$`)
	bulletRegex  = regexp.MustCompile(`^\s*[-*+]\s+(.+)$`)
	orderedRegex = regexp.MustCompile(`^\s*\d+[.)]\s+(.+)$`)
	boldRegex    = regexp.MustCompile(`\*\*([^*]+)\*\*`)
)

// FromText converts plain text with light Markdown: ATX headings, bullet
// and numbered lists, fenced code blocks and **bold**. Lines within a
// paragraph are joined by hard breaks.
func FromText(s string) Node {
	var blocks []Node
	var para []string
	var list *Node
	var code *strings.Builder

	flushPara := func() {
		if len(para) == 0 {
			return
		}
		var inline []Node
		for i, line := range para {
			if i > 0 {
				inline = append(inline, Node{Type: "hardBreak"})
			}
			inline = append(inline, inlineText(line)...)
		}
		blocks = append(blocks, paragraph(inline))
		para = nil
	}
	flushList := func() {
		if list != nil {
			blocks = append(blocks, *list)
			list = nil
		}
	}
	addItem := func(kind, item string) {
		flushPara()
		if list != nil && list.Type != kind {
			flushList()
		}
		if list == nil {
			list = &Node{Type: kind}
		}
		list.Content = append(list.Content, Node{Type: "listItem", Content: []Node{paragraph(inlineText(item))}})
	}

	scanner := bufio.NewScanner(strings.NewReader(strings.ReplaceAll(s, "\r\n", "\n")))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()

		if code != nil {
			if strings.HasPrefix(strings.TrimSpace(line), "```") {
				blocks = append(blocks, Node{Type: "codeBlock", Content: codeContent(code.String())})
				code = nil
				continue
			}
			if code.Len() > 0 {
				code.WriteByte('\n')
			}
			code.WriteString(line)
			continue
		}

		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == "":
			flushPara()
			flushList()
		case strings.HasPrefix(trimmed, "```"):
			flushPara()
			flushList()
			code = &strings.Builder{}
		case headingRegex.MatchString(trimmed):
			flushPara()
			flushList()
			match := headingRegex.FindStringSubmatch(trimmed)
			blocks = append(blocks, Node{
				Type:    "heading",
				Attrs:   map[string]any{"level": len(match[1])},
				Content: inlineText(strings.TrimSpace(match[2])),
			})
		case bulletRegex.MatchString(line):
			addItem("bulletList", bulletRegex.FindStringSubmatch(line)[1])
		case orderedRegex.MatchString(line):
			addItem("orderedList", orderedRegex.FindStringSubmatch(line)[1])
		default:
			flushList()
			para = append(para, trimmed)
		}
	}
	// Unterminated fence: keep what was collected.
	if code != nil {
		blocks = append(blocks, Node{Type: "codeBlock", Content: codeContent(code.String())})
	}
	flushPara()
	flushList()
	return doc(blocks)
}

func codeContent(s string) []Node {
	if s == "" {
		return nil
	}
	return []Node{text(s, nil)}
}

// inlineText splits **bold** runs into marked text nodes.
func inlineText(s string) []Node {
	var out []Node
	last := 0
	for _, loc := range boldRegex.FindAllStringSubmatchIndex(s, -1) {
		if loc[0] > last {
			out = append(out, text(s[last:loc[0]], nil))
		}
		out = append(out, text(s[loc[2]:loc[3]], []Mark{{Type: "bold"}}))
		last = loc[1]
	}
	if last < len(s) {
		out = append(out, text(s[last:], nil))
	}
	return out
}
