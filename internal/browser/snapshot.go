package browser

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"
)

// HiddenAttr marks elements a driver determined to be not rendered. The
// chrome driver sets it from computed style before serializing the DOM.
const HiddenAttr = "data-pv-hidden"

// Element is a located element as seen in a snapshot.
type Element struct {
	Tag     string            `json:"tag"`
	Text    string            `json:"text"`
	Value   string            `json:"value,omitempty"`
	Visible bool              `json:"visible"`
	Attrs   map[string]string `json:"attrs,omitempty"`
}

// Snapshot is an immutable view of a rendered document.
type Snapshot struct {
	URL   string
	Title string

	root *html.Node
	doc  *goquery.Document
}

// ParseSnapshot parses an HTML document into a snapshot.
func ParseSnapshot(pageURL string, r io.Reader) (*Snapshot, error) {
	root, err := htmlquery.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return newSnapshot(pageURL, root), nil
}

// SnapshotOf copies a live document into a snapshot. Later changes to root
// do not affect the snapshot.
func SnapshotOf(pageURL string, root *html.Node) (*Snapshot, error) {
	var buf bytes.Buffer
	if err := html.Render(&buf, root); err != nil {
		return nil, fmt.Errorf("render html: %w", err)
	}
	return ParseSnapshot(pageURL, &buf)
}

func newSnapshot(pageURL string, root *html.Node) *Snapshot {
	s := &Snapshot{URL: pageURL, root: root, doc: goquery.NewDocumentFromNode(root)}
	if t := htmlquery.FindOne(root, "//title"); t != nil {
		s.Title = strings.TrimSpace(htmlquery.InnerText(t))
	}
	return s
}

// Find returns every element matching l, visible or not, in document order.
func (s *Snapshot) Find(l Locator) ([]Element, error) {
	nodes, err := Match(s.root, l)
	if err != nil {
		return nil, err
	}
	out := make([]Element, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, describe(n))
	}
	return out, nil
}

// CountVisible returns the number of visible elements matching l.
func (s *Snapshot) CountVisible(l Locator) (int, error) {
	els, err := s.Find(l)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, e := range els {
		if e.Visible {
			n++
		}
	}
	return n, nil
}

// Text returns the visible text of the body with whitespace collapsed.
func (s *Snapshot) Text() string {
	body := htmlquery.FindOne(s.root, "//body")
	if body == nil {
		body = s.root
	}
	return VisibleText(body)
}

// HTML returns the serialized document.
func (s *Snapshot) HTML() string {
	out, err := s.doc.Html()
	if err != nil {
		return ""
	}
	return out
}

// Match returns the nodes under root selected by l in document order.
// Text locators are evaluated as XPath; CSS locators through cascadia.
func Match(root *html.Node, l Locator) ([]*html.Node, error) {
	switch {
	case l.Text != "":
		nodes, err := htmlquery.QueryAll(root, TextXPath(l.Text))
		if err != nil {
			return nil, fmt.Errorf("locator %s: %w", l, err)
		}
		return nodes, nil
	case l.CSS != "":
		group, err := cascadia.ParseGroup(l.CSS)
		if err != nil {
			return nil, fmt.Errorf("locator %s: invalid selector: %w", l, err)
		}
		return cascadia.QueryAll(root, group), nil
	default:
		return nil, fmt.Errorf("empty locator")
	}
}

// FirstVisible returns the first visible node under root matching l.
func FirstVisible(root *html.Node, l Locator) (*html.Node, error) {
	nodes, err := Match(root, l)
	if err != nil {
		return nil, err
	}
	for _, n := range nodes {
		if IsVisible(n) {
			return n, nil
		}
	}
	return nil, nil
}

// IsVisible reports whether n and all of its ancestors are rendered,
// judged from markup alone.
func IsVisible(n *html.Node) bool {
	for p := n; p != nil; p = p.Parent {
		if p.Type == html.ElementNode && hiddenElement(p) {
			return false
		}
	}
	return true
}

func hiddenElement(n *html.Node) bool {
	switch n.Data {
	case "head", "script", "style", "template", "noscript", "title", "meta", "link":
		return true
	}
	if n.Data == "input" && strings.EqualFold(htmlquery.SelectAttr(n, "type"), "hidden") {
		return true
	}
	for _, a := range n.Attr {
		switch a.Key {
		case "hidden", HiddenAttr:
			return true
		case "aria-hidden":
			if a.Val == "true" {
				return true
			}
		case "style":
			style := strings.ToLower(strings.ReplaceAll(a.Val, " ", ""))
			if strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden") {
				return true
			}
		}
	}
	return false
}

// VisibleText concatenates the text of n's visible descendants, collapsing
// runs of whitespace to single spaces.
func VisibleText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(c *html.Node) {
		switch c.Type {
		case html.TextNode:
			b.WriteString(c.Data)
			return
		case html.ElementNode:
			if hiddenElement(c) {
				return
			}
		}
		for ch := c.FirstChild; ch != nil; ch = ch.NextSibling {
			walk(ch)
		}
		if c.Type == html.ElementNode {
			// element boundaries separate words the way layout would
			b.WriteByte(' ')
		}
	}
	if n.Type == html.ElementNode && !IsVisible(n) {
		return ""
	}
	walk(n)
	return strings.Join(strings.Fields(b.String()), " ")
}

func describe(n *html.Node) Element {
	e := Element{
		Tag:     n.Data,
		Text:    VisibleText(n),
		Visible: IsVisible(n),
	}
	if len(n.Attr) > 0 {
		e.Attrs = make(map[string]string, len(n.Attr))
		for _, a := range n.Attr {
			e.Attrs[a.Key] = a.Val
		}
	}
	switch n.Data {
	case "input":
		e.Value = htmlquery.SelectAttr(n, "value")
	case "textarea":
		e.Value = htmlquery.InnerText(n)
	case "select":
		if opt := htmlquery.FindOne(n, ".//option[@selected]"); opt != nil {
			e.Value = htmlquery.SelectAttr(opt, "value")
		} else if opt := htmlquery.FindOne(n, ".//option"); opt != nil {
			e.Value = htmlquery.SelectAttr(opt, "value")
		}
	}
	return e
}
