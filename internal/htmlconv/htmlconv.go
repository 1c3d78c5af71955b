package htmlconv

import (
	"bytes"
	"regexp"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"golang.org/x/net/html"

	"github.com/markatally/agentloop/internal/logger"
)

var (
	htmlTagPattern   = regexp.MustCompile(`<([a-zA-Z][a-zA-Z0-9]*)\b[^>]*>`)
	multipleNewlines = regexp.MustCompile(`\n{3,}`)
)

const htmlTagThreshold = 3

// Convert turns a fetched HTML document into markdown suitable for an LLM
// context: main content is extracted, chrome (navigation, scripts, sidebars)
// is stripped, and excess blank lines are collapsed. Non-HTML input passes
// through unchanged.
func Convert(input string) string {
	if !IsHTML(input) {
		return input
	}

	cleaned, err := extractContent(input)
	if err != nil {
		logger.Warn("html preprocessing failed: %v, converting original", err)
		cleaned = input
	}

	markdown, err := htmltomarkdown.ConvertString(cleaned)
	if err != nil {
		logger.Warn("html to markdown conversion failed: %v", err)
		return input
	}

	markdown = multipleNewlines.ReplaceAllString(markdown, "\n\n")
	return strings.TrimSpace(markdown)
}

// IsHTML reports whether the input text is likely an HTML document
func IsHTML(input string) bool {
	trimmed := strings.TrimSpace(input)
	lowered := strings.ToLower(trimmed)

	if strings.HasPrefix(lowered, "<!doctype") || strings.HasPrefix(lowered, "<html") {
		return true
	}

	tagCount := len(htmlTagPattern.FindAllString(input, -1))
	if tagCount >= htmlTagThreshold {
		return true
	}

	if tagCount >= 2 {
		lowerInput := strings.ToLower(input)
		for _, marker := range []string{"<body", "<div", "<table", "<ul>", "<ol>", "<h1", "<h2", "<article", "<main"} {
			if strings.Contains(lowerInput, marker) {
				return true
			}
		}
	}

	return false
}

// extractContent parses the document, locates the main content node and
// strips non-content elements before rendering back to HTML.
func extractContent(input string) (string, error) {
	doc, err := html.Parse(strings.NewReader(input))
	if err != nil {
		return input, err
	}

	content := findMainContent(doc)
	stripChrome(content)

	var buf bytes.Buffer
	if err := html.Render(&buf, content); err != nil {
		return input, err
	}
	return buf.String(), nil
}

// findMainContent picks the best content root: <main>, then <article>, then
// an element with a content-flavored class or id, then <body>, then the
// whole document.
func findMainContent(doc *html.Node) *html.Node {
	if doc.Type != html.DocumentNode {
		return doc
	}

	var mainNode, articleNode, identifiedNode, bodyNode *html.Node

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch strings.ToLower(n.Data) {
			case "main":
				if mainNode == nil {
					mainNode = n
				}
			case "article":
				if articleNode == nil {
					articleNode = n
				}
			case "body":
				if bodyNode == nil {
					bodyNode = n
				}
			default:
				if identifiedNode == nil && hasContentIdentifier(n) {
					identifiedNode = n
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	for _, candidate := range []*html.Node{mainNode, articleNode, identifiedNode, bodyNode} {
		if candidate != nil {
			return candidate
		}
	}
	return doc
}

var contentIdentifiers = []string{
	"content", "main", "article", "post", "entry", "story",
}

func hasContentIdentifier(n *html.Node) bool {
	for _, attr := range n.Attr {
		key := strings.ToLower(attr.Key)
		if key != "id" && key != "class" {
			continue
		}
		value := strings.ToLower(attr.Val)
		for _, id := range contentIdentifiers {
			if strings.Contains(value, id) {
				return true
			}
		}
	}
	return false
}

var chromeTags = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"meta":     true,
	"link":     true,
	"head":     true,
	"header":   true,
	"footer":   true,
	"nav":      true,
	"aside":    true,
	"iframe":   true,
	"svg":      true,
}

// stripChrome removes non-content elements from the tree, depth-first so
// children are handled before their parent is unlinked.
func stripChrome(n *html.Node) {
	child := n.FirstChild
	for child != nil {
		next := child.NextSibling
		stripChrome(child)
		child = next
	}

	if n.Type == html.ElementNode && chromeTags[n.Data] && n.Parent != nil {
		n.Parent.RemoveChild(n)
	}
}
