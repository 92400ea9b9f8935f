package richtext

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var spaceRun = regexp.MustCompile(`\s+`)

// FromHTML converts an HTML fragment. Unknown elements contribute their
// text; scripts, styles and comments are dropped.
func FromHTML(s string) (Node, error) {
	d, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return Node{}, fmt.Errorf("parse html: %w", err)
	}
	return doc(blocksOf(d.Find("body"), nil)), nil
}

type blockBuilder struct {
	blocks []Node
	inline []Node
}

func blocksOf(sel *goquery.Selection, marks []Mark) []Node {
	b := &blockBuilder{}
	sel.Contents().Each(func(_ int, c *goquery.Selection) {
		b.add(c, marks)
	})
	b.flush()
	return b.blocks
}

func (b *blockBuilder) add(c *goquery.Selection, marks []Mark) {
	name := goquery.NodeName(c)
	switch name {
	case "#text":
		t := spaceRun.ReplaceAllString(c.Text(), " ")
		if strings.TrimSpace(t) == "" && len(b.inline) == 0 {
			return
		}
		b.inline = append(b.inline, text(t, marks))
	case "#comment", "script", "style", "head", "title":
	case "br":
		b.inline = append(b.inline, Node{Type: "hardBreak"})
	case "p", "div", "section", "article", "header", "footer", "main":
		b.flush()
		b.blocks = append(b.blocks, blocksOf(c, marks)...)
	case "h1", "h2", "h3", "h4", "h5", "h6":
		b.flush()
		inline := inlineOf(c, marks)
		if len(inline) > 0 {
			b.blocks = append(b.blocks, Node{
				Type:    "heading",
				Attrs:   map[string]any{"level": int(name[1] - '0')},
				Content: inline,
			})
		}
	case "ul", "ol":
		b.flush()
		kind := "bulletList"
		if name == "ol" {
			kind = "orderedList"
		}
		list := Node{Type: kind}
		c.ChildrenFiltered("li").Each(func(_ int, li *goquery.Selection) {
			if item := blocksOf(li, marks); len(item) > 0 {
				list.Content = append(list.Content, Node{Type: "listItem", Content: item})
			}
		})
		if len(list.Content) > 0 {
			b.blocks = append(b.blocks, list)
		}
	case "pre":
		b.flush()
		b.blocks = append(b.blocks, Node{Type: "codeBlock", Content: codeContent(strings.Trim(c.Text(), "\n"))})
	case "blockquote":
		b.flush()
		if inner := blocksOf(c, marks); len(inner) > 0 {
			b.blocks = append(b.blocks, Node{Type: "blockquote", Content: inner})
		}
	case "hr":
		b.flush()
		b.blocks = append(b.blocks, Node{Type: "horizontalRule"})
	case "img":
		b.flush()
		src, _ := c.Attr("src")
		if src == "" {
			return
		}
		attrs := map[string]any{"src": src}
		if alt, ok := c.Attr("alt"); ok && alt != "" {
			attrs["alt"] = alt
		}
		b.blocks = append(b.blocks, Node{Type: "image", Attrs: attrs})
	case "table":
		b.flush()
		c.Find("tr").Each(func(_ int, tr *goquery.Selection) {
			var cells []string
			tr.Find("td, th").Each(func(_ int, td *goquery.Selection) {
				cells = append(cells, strings.TrimSpace(spaceRun.ReplaceAllString(td.Text(), " ")))
			})
			if row := strings.Join(cells, " | "); strings.Trim(row, " |") != "" {
				b.blocks = append(b.blocks, paragraph([]Node{text(row, marks)}))
			}
		})
	default:
		inner := marks
		if m, ok := markFor(name, c); ok {
			inner = withMark(marks, m)
		}
		c.Contents().Each(func(_ int, cc *goquery.Selection) {
			b.add(cc, inner)
		})
	}
}

// flush closes the pending paragraph.
func (b *blockBuilder) flush() {
	inline := trimInline(b.inline)
	b.inline = nil
	if len(inline) > 0 {
		b.blocks = append(b.blocks, paragraph(inline))
	}
}

// inlineOf collects the inline content of an element, flattening any
// nested blocks into hard-break separated runs.
func inlineOf(sel *goquery.Selection, marks []Mark) []Node {
	var out []Node
	for i, block := range blocksOf(sel, marks) {
		if i > 0 {
			out = append(out, Node{Type: "hardBreak"})
		}
		out = append(out, block.Content...)
	}
	return out
}

func markFor(name string, c *goquery.Selection) (Mark, bool) {
	switch name {
	case "strong", "b":
		return Mark{Type: "bold"}, true
	case "em", "i":
		return Mark{Type: "italic"}, true
	case "u":
		return Mark{Type: "underline"}, true
	case "s", "strike", "del":
		return Mark{Type: "strike"}, true
	case "code":
		return Mark{Type: "code"}, true
	case "a":
		href, _ := c.Attr("href")
		if href == "" {
			return Mark{}, false
		}
		return Mark{Type: "link", Attrs: map[string]any{"href": href}}, true
	}
	return Mark{}, false
}

func withMark(marks []Mark, m Mark) []Mark {
	out := make([]Mark, len(marks), len(marks)+1)
	copy(out, marks)
	return append(out, m)
}

// trimInline strips whitespace at the edges of a run and drops text nodes
// left empty.
func trimInline(nodes []Node) []Node {
	for len(nodes) > 0 && nodes[len(nodes)-1].Type == "hardBreak" {
		nodes = nodes[:len(nodes)-1]
	}
	if len(nodes) == 0 {
		return nil
	}
	if nodes[0].Type == "text" {
		nodes[0].Text = strings.TrimLeft(nodes[0].Text, " ")
	}
	if last := len(nodes) - 1; nodes[last].Type == "text" {
		nodes[last].Text = strings.TrimRight(nodes[last].Text, " ")
	}
	out := nodes[:0]
	for _, n := range nodes {
		if n.Type == "text" && n.Text == "" {
			continue
		}
		out = append(out, n)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
