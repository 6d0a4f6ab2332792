// ABOUTME: Reasoning block title extraction from markdown
// ABOUTME: The title is the text of the last strong-emphasis span in the block so far

package assembler

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

var markdown = goldmark.New()

// Title returns the last **bold** span in content, or "" if there is none.
// Unterminated spans mid-stream are not titles yet.
func Title(content string) string {
	if !strings.Contains(content, "**") && !strings.Contains(content, "__") {
		return ""
	}
	source := []byte(content)
	doc := markdown.Parser().Parse(text.NewReader(source))

	var last string
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if em, ok := n.(*ast.Emphasis); ok && em.Level == 2 {
			if t := strings.TrimSpace(plainText(em, source)); t != "" {
				last = t
			}
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	return last
}

func plainText(n ast.Node, source []byte) string {
	var b strings.Builder
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		switch v := c.(type) {
		case *ast.Text:
			b.Write(v.Segment.Value(source))
			if v.SoftLineBreak() || v.HardLineBreak() {
				b.WriteByte(' ')
			}
		case *ast.String:
			b.Write(v.Value)
		default:
			b.WriteString(plainText(c, source))
		}
	}
	return b.String()
}
