// Package processor turns event page markup into text fit for storage.
package processor

import (
	"regexp"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"golang.org/x/net/html"
)

var blankLines = regexp.MustCompile(`\n{3,}`)

// Processor converts event description markup to Markdown.
type Processor struct{}

func New() *Processor {
	return &Processor{}
}

// Convert transforms an HTML fragment into Markdown. Runs of blank lines are
// squeezed to one so repeated scrapes of the same markup compare equal.
func (p *Processor) Convert(htmlContent string) (string, error) {
	if strings.TrimSpace(htmlContent) == "" {
		return "", nil
	}

	markdown, err := htmltomarkdown.ConvertString(htmlContent)
	if err != nil {
		return "", err
	}

	markdown = strings.ReplaceAll(markdown, "\r\n", "\n")
	markdown = blankLines.ReplaceAllString(markdown, "\n\n")
	return strings.TrimSpace(markdown), nil
}

// Text returns the visible text of an HTML fragment with whitespace
// collapsed. Used when Markdown conversion fails.
func (p *Processor) Text(htmlContent string) string {
	nodes, err := html.ParseFragment(strings.NewReader(htmlContent), &html.Node{Type: html.ElementNode, Data: "div"})
	if err != nil {
		return ""
	}

	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch {
		case n.Type == html.TextNode:
			b.WriteString(n.Data)
			b.WriteByte(' ')
		case n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style"):
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range nodes {
		walk(n)
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// ExtractTitle extracts the <title> content from a page, dropping a trailing
// " | Site Name" style suffix.
func (p *Processor) ExtractTitle(htmlContent string) string {
	doc, err := html.Parse(strings.NewReader(htmlContent))
	if err != nil {
		return ""
	}

	var title string
	var findTitle func(*html.Node) bool
	findTitle = func(n *html.Node) bool {
		if n.Type == html.ElementNode && n.Data == "title" {
			if n.FirstChild != nil {
				title = n.FirstChild.Data
			}
			return true
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if findTitle(c) {
				return true
			}
		}
		return false
	}
	findTitle(doc)

	title = strings.TrimSpace(title)
	if i := strings.LastIndex(title, " | "); i > 0 {
		title = strings.TrimSpace(title[:i])
	}
	return title
}
