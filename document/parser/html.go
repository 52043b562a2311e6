package parser

import (
	"bytes"
	"path/filepath"
	"regexp"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/JohannesKaufmann/html-to-markdown/plugin"
	readability "github.com/go-shiori/go-readability"
	"golang.org/x/net/html"
)

// Pre-compiled regexes to avoid runtime compilation on every document
var (
	scriptRe         = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)
	styleRe          = regexp.MustCompile(`(?is)<style[^>]*>.*?</style>`)
	excessiveLinesRe = regexp.MustCompile(`\n{4,}`)
)

// HTMLParser converts HTML documents into markdown bodies. Readability
// extraction runs first to isolate the main content; if it yields nothing
// usable the raw markup is cleaned and converted as-is.
type HTMLParser struct {
	converter *md.Converter
}

// NewHTMLParser creates a new HTML parser.
func NewHTMLParser() *HTMLParser {
	converter := md.NewConverter("", true, nil)
	converter.Use(plugin.GitHubFlavored())

	return &HTMLParser{converter: converter}
}

// Parse converts an HTML document to a markdown-bodied Document.
func (p *HTMLParser) Parse(filename string, content []byte) (*Document, error) {
	doc := &Document{Filename: filepath.Base(filename)}

	title, cleaned := extractReadableContent(content)
	doc.Title = title

	markdown, err := p.converter.ConvertString(cleaned)
	if err != nil {
		return nil, err
	}
	doc.Body = cleanMarkdown(markdown)

	if doc.Title == "" {
		doc.Title = firstHeading(doc.Body)
	}

	return doc, nil
}

// CanParse returns true if this parser can handle the given MIME type.
func (p *HTMLParser) CanParse(mimeType string) bool {
	switch mimeType {
	case "text/html", "application/xhtml+xml":
		return true
	default:
		return false
	}
}

// MimeType returns the primary MIME type for this parser.
func (p *HTMLParser) MimeType() string {
	return "text/html"
}

// extractReadableContent isolates the main content of an HTML document.
// It tries readability extraction first and falls back to structural
// cleanup of the DOM when readability finds nothing.
func extractReadableContent(content []byte) (title, cleaned string) {
	article, err := readability.FromReader(bytes.NewReader(content), nil)
	if err == nil && strings.TrimSpace(article.Content) != "" {
		return strings.TrimSpace(article.Title), article.Content
	}

	return extractHTMLTitle(content), extractBodyContent(content)
}

// extractHTMLTitle extracts the <title> text from HTML.
func extractHTMLTitle(content []byte) string {
	doc, err := html.Parse(bytes.NewReader(content))
	if err != nil {
		return ""
	}

	var title string
	var extract func(*html.Node)
	extract = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "title" && n.FirstChild != nil {
			title = strings.TrimSpace(n.FirstChild.Data)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if title != "" {
				return
			}
			extract(c)
		}
	}
	extract(doc)

	return title
}

// extractBodyContent strips chrome elements and returns the body markup.
func extractBodyContent(content []byte) string {
	doc, err := html.Parse(bytes.NewReader(content))
	if err != nil {
		// Fall back to regex cleanup if parsing fails
		cleaned := scriptRe.ReplaceAllString(string(content), "")
		return styleRe.ReplaceAllString(cleaned, "")
	}

	removeElements(doc, []string{
		"nav", "header", "footer", "aside", "script", "style", "noscript",
		"iframe", "object", "embed", "form", "input", "button",
	})

	if body := findElement(doc, "body"); body != nil {
		return renderNode(body)
	}

	return string(content)
}

// findElement finds the first element with the given tag name.
func findElement(n *html.Node, tag string) *html.Node {
	var result *html.Node
	var find func(*html.Node)
	find = func(node *html.Node) {
		if result != nil {
			return
		}
		if node.Type == html.ElementNode && node.Data == tag {
			result = node
			return
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			find(c)
		}
	}
	find(n)
	return result
}

// removeElements removes all elements with the given tag names.
func removeElements(n *html.Node, tags []string) {
	tagSet := make(map[string]bool)
	for _, tag := range tags {
		tagSet[tag] = true
	}

	var toRemove []*html.Node
	var collect func(*html.Node)
	collect = func(node *html.Node) {
		if node.Type == html.ElementNode && tagSet[node.Data] {
			toRemove = append(toRemove, node)
			return
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			collect(c)
		}
	}
	collect(n)

	for _, node := range toRemove {
		if node.Parent != nil {
			node.Parent.RemoveChild(node)
		}
	}
}

// renderNode renders a node and its children back to an HTML string.
func renderNode(n *html.Node) string {
	var sb strings.Builder
	html.Render(&sb, n)
	return sb.String()
}

// cleanMarkdown normalizes converted markdown.
func cleanMarkdown(content string) string {
	content = excessiveLinesRe.ReplaceAllString(content, "\n\n\n")

	lines := strings.Split(content, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	content = strings.Join(lines, "\n")

	return strings.TrimSpace(content)
}
