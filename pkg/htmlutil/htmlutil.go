package htmlutil

import (
	"bytes"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

func GetText(node *html.Node) string {
	var buffer bytes.Buffer
	getTextRecursive(node, &buffer)
	return buffer.String()
}

func getTextRecursive(node *html.Node, buffer *bytes.Buffer) {
	if node == nil {
		return
	}
	if node.Type == html.TextNode {
		buffer.WriteString(node.Data)
		return
	}
	child := node.FirstChild
	for child != nil {
		getTextRecursive(child, buffer)
		child = child.NextSibling
	}
}

var innerWhitespace = regexp.MustCompile(`\s\s+`)

// CleanText trims the text and collapses inner runs of whitespace into a single space.
func CleanText(s string) string {
	s = strings.Trim(s, " \t\r\n")
	return innerWhitespace.ReplaceAllString(s, " ")
}

// FirstText returns the cleaned text of the first node in the selection, ok is
// false if the selection is empty.
func FirstText(sel *goquery.Selection) (text string, ok bool) {
	if sel.Length() == 0 {
		return "", false
	}
	return CleanText(GetText(sel.Nodes[0])), true
}
