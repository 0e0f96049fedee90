package browser

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
)

// CleanedHTML is page markup with the noise stripped out.
type CleanedHTML struct {
	HTML        string
	Title       string
	Description string
	Truncated   bool
}

var (
	skippedElements = setOf("script", "style", "noscript", "iframe", "embed", "object", "svg", "template")

	blockElements = setOf(
		"div", "p", "section", "article", "header", "footer", "nav", "main", "aside",
		"h1", "h2", "h3", "h4", "h5", "h6", "ul", "ol", "li",
		"table", "tr", "td", "th", "form", "fieldset", "blockquote", "pre",
	)

	voidElements = setOf(
		"area", "base", "br", "col", "embed", "hr", "img", "input",
		"link", "meta", "param", "source", "track", "wbr",
	)

	globalAttributes = setOf("id", "class", "role", "name", "aria-label", "aria-describedby")
)

func setOf(items ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, item := range items {
		set[item] = struct{}{}
	}
	return set
}

func inSet(set map[string]struct{}, key string) bool {
	_, ok := set[key]
	return ok
}

// CleanHTML parses rawHTML and re-serializes it without scripts, styles, comments and
// other non-content elements. Only attributes useful for locating elements are kept.
// Output stops once maxLength characters of text have been written; markup does not
// count toward the limit. maxLength <= 0 uses DefaultMaxLength.
func CleanHTML(rawHTML string, maxLength int) (*CleanedHTML, error) {
	if maxLength <= 0 {
		maxLength = DefaultMaxLength
	}

	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	c := &cleaner{maxLength: maxLength}
	truncated := c.node(doc, 0)

	return &CleanedHTML{
		HTML:        strings.TrimSpace(c.out.String()),
		Title:       findTitle(doc),
		Description: findMetaDescription(doc),
		Truncated:   truncated,
	}, nil
}

type cleaner struct {
	out       strings.Builder
	written   int
	maxLength int
}

// node writes n and reports whether output was truncated.
func (c *cleaner) node(n *html.Node, depth int) bool {
	if c.written >= c.maxLength {
		return true
	}

	switch n.Type {
	case html.CommentNode, html.DoctypeNode:
		return false
	case html.TextNode:
		return c.text(n)
	case html.ElementNode:
		tag := strings.ToLower(n.Data)
		if inSet(skippedElements, tag) {
			return false
		}
		return c.element(n, tag, depth)
	default:
		return c.children(n, depth)
	}
}

func (c *cleaner) text(n *html.Node) bool {
	text := strings.TrimSpace(n.Data)
	if text == "" {
		return false
	}

	length := utf8.RuneCountInString(text)
	if c.written+length > c.maxLength {
		c.out.WriteString(html.EscapeString(firstRunes(text, c.maxLength-c.written)))
		c.out.WriteString("...")
		c.written = c.maxLength
		return true
	}

	c.out.WriteString(html.EscapeString(text))
	c.written += length
	return false
}

// firstRunes returns the first n runes of s.
func firstRunes(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

func (c *cleaner) element(n *html.Node, tag string, depth int) bool {
	block := inSet(blockElements, tag)
	if depth > 0 && block {
		c.indent(depth)
	}

	c.out.WriteString("<")
	c.out.WriteString(tag)
	for _, attr := range n.Attr {
		if keepAttribute(tag, attr.Key) {
			fmt.Fprintf(&c.out, ` %s="%s"`, attr.Key, html.EscapeString(attr.Val))
		}
	}
	c.out.WriteString(">")

	truncated := c.children(n, depth+1)

	if !inSet(voidElements, tag) {
		if block {
			c.indent(depth)
		}
		c.out.WriteString("</")
		c.out.WriteString(tag)
		c.out.WriteString(">")
	}

	return truncated
}

func (c *cleaner) children(n *html.Node, depth int) bool {
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		if c.node(child, depth) {
			return true
		}
	}
	return false
}

func (c *cleaner) indent(depth int) {
	c.out.WriteString("\n")
	c.out.WriteString(strings.Repeat("  ", depth))
}

// keepAttribute reports whether an attribute helps identify or target an element.
func keepAttribute(tag, attr string) bool {
	attr = strings.ToLower(attr)
	if inSet(globalAttributes, attr) || strings.HasPrefix(attr, "data-") {
		return true
	}

	switch tag {
	case "a":
		return attr == "href" || attr == "target"
	case "img":
		return attr == "src" || attr == "alt"
	case "input", "textarea", "select":
		return attr == "type" || attr == "placeholder" || attr == "value"
	case "button":
		return attr == "type"
	case "form":
		return attr == "action" || attr == "method"
	case "label":
		return attr == "for"
	}
	return false
}

func findTitle(doc *html.Node) string {
	n := findFirst(doc, func(n *html.Node) bool {
		return n.Type == html.ElementNode && n.Data == "title"
	})
	if n == nil || n.FirstChild == nil || n.FirstChild.Type != html.TextNode {
		return ""
	}
	return strings.TrimSpace(n.FirstChild.Data)
}

func findMetaDescription(doc *html.Node) string {
	n := findFirst(doc, func(n *html.Node) bool {
		return n.Type == html.ElementNode && n.Data == "meta" && attrValue(n, "name") == "description"
	})
	if n == nil {
		return ""
	}
	return strings.TrimSpace(attrValue(n, "content"))
}

func findFirst(n *html.Node, match func(*html.Node) bool) *html.Node {
	if match(n) {
		return n
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		if found := findFirst(child, match); found != nil {
			return found
		}
	}
	return nil
}

func attrValue(n *html.Node, key string) string {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}
	return ""
}
