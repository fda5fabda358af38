// Package htmlpage is a headless Page driver that fetches server-rendered
// HTML over plain HTTP.
//
// It keeps a live DOM per page, applies Fill to it, and emulates the default
// consequences of a click: following links, submitting forms and raising a
// confirm dialog for elements carrying a data-confirm attribute. Scripts are
// not executed. HTTP error responses are reported as console errors, and
// transport failures as failed requests, the way a browser would.
package htmlpage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"strings"
	"sync"

	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"

	"github.com/roach88/petroverify/internal/browser"
)

// ConfirmAttr marks elements whose activation raises a confirm dialog.
const ConfirmAttr = "data-confirm"

// Options configures a page.
type Options struct {
	// BaseURL resolves relative navigation targets.
	BaseURL string

	// Client overrides the HTTP client. A cookie jar is attached when the
	// client has none, so a satisfied access gate stays satisfied.
	Client *http.Client

	Logger *slog.Logger
}

// Page is the HTTP+HTML page driver.
type Page struct {
	mu        sync.Mutex
	base      *url.URL
	client    *http.Client
	bus       *browser.EventBus
	responder browser.DialogResponder
	logger    *slog.Logger

	current *url.URL
	root    *html.Node
	closed  bool
}

// New creates a page on about:blank.
func New(opts Options) (*Page, error) {
	base, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url %q: %w", opts.BaseURL, err)
	}

	client := opts.Client
	if client == nil {
		client = &http.Client{}
	}
	if client.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("create cookie jar: %w", err)
		}
		c := *client
		c.Jar = jar
		client = &c
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	blank, _ := html.Parse(strings.NewReader("<html><head></head><body></body></html>"))
	return &Page{
		base:      base,
		client:    client,
		bus:       browser.NewEventBus(),
		responder: browser.AcceptDialogs,
		logger:    logger,
		current:   &url.URL{Scheme: "about", Opaque: "blank"},
		root:      blank,
	}, nil
}

// Navigate implements browser.Page.
func (p *Page) Navigate(ctx context.Context, target string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return browser.ErrClosed
	}

	u, err := p.resolve(target)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("navigate %s: %w", u, err)
	}
	return p.load(req)
}

// Fill implements browser.Page.
func (p *Page) Fill(ctx context.Context, l browser.Locator, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return browser.ErrClosed
	}

	n, err := browser.FirstVisible(p.root, l)
	if err != nil {
		return err
	}
	if n == nil {
		return browser.NotFound("fill", l)
	}

	switch n.Data {
	case "input":
		setAttr(n, "value", value)
	case "textarea":
		for c := n.FirstChild; c != nil; {
			next := c.NextSibling
			n.RemoveChild(c)
			c = next
		}
		n.AppendChild(&html.Node{Type: html.TextNode, Data: value})
	case "select":
		found := false
		for _, opt := range htmlquery.Find(n, ".//option") {
			removeAttr(opt, "selected")
			if htmlquery.SelectAttr(opt, "value") == value || strings.TrimSpace(htmlquery.InnerText(opt)) == value {
				setAttr(opt, "selected", "selected")
				found = true
			}
		}
		if !found {
			return fmt.Errorf("fill %s: no option %q", l, value)
		}
	default:
		return fmt.Errorf("fill %s: <%s> is not a form control", l, n.Data)
	}
	return nil
}

// Click implements browser.Page.
func (p *Page) Click(ctx context.Context, l browser.Locator) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return browser.ErrClosed
	}

	n, err := browser.FirstVisible(p.root, l)
	if err != nil {
		return err
	}
	if n == nil {
		return browser.NotFound("click", l)
	}

	if msg, ok := closestAttr(n, ConfirmAttr); ok {
		reply := p.responder(browser.Dialog{Kind: browser.DialogConfirm, Message: msg})
		p.logger.Debug("dialog answered", "message", msg, "accept", reply.Accept)
		if !reply.Accept {
			return nil
		}
	}

	// the click may land on a child of the interactive element
	target := n
	for c := n; c != nil; c = c.Parent {
		if c.Type == html.ElementNode && (c.Data == "a" || c.Data == "button" || c.Data == "input") {
			target = c
			break
		}
	}

	switch target.Data {
	case "a":
		href := htmlquery.SelectAttr(target, "href")
		if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(strings.ToLower(href), "javascript:") {
			return nil
		}
		u, err := p.resolve(href)
		if err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return err
		}
		return p.load(req)

	case "input":
		switch strings.ToLower(htmlquery.SelectAttr(target, "type")) {
		case "checkbox":
			if _, on := getAttr(target, "checked"); on {
				removeAttr(target, "checked")
			} else {
				setAttr(target, "checked", "checked")
			}
			return nil
		case "radio":
			if name := htmlquery.SelectAttr(target, "name"); name != "" {
				for _, r := range htmlquery.Find(p.root, fmt.Sprintf(`//input[@type='radio' and @name='%s']`, name)) {
					removeAttr(r, "checked")
				}
			}
			setAttr(target, "checked", "checked")
			return nil
		case "submit", "image":
			if form := parentForm(target); form != nil {
				return p.submit(ctx, form, target)
			}
		}

	case "button":
		typ := strings.ToLower(htmlquery.SelectAttr(target, "type"))
		if typ == "" || typ == "submit" {
			if form := parentForm(target); form != nil {
				return p.submit(ctx, form, target)
			}
		}
	}

	p.logger.Debug("click has no emulated effect", "locator", l.String(), "tag", target.Data)
	return nil
}

// Snapshot implements browser.Page.
func (p *Page) Snapshot(ctx context.Context) (*browser.Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, browser.ErrClosed
	}
	return browser.SnapshotOf(p.current.String(), p.root)
}

// Screenshot writes the current DOM to stem + ".html". A static driver has
// no rendering, so the serialized document stands in for the image.
func (p *Page) Screenshot(ctx context.Context, stem string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return "", browser.ErrClosed
	}

	var buf bytes.Buffer
	if err := html.Render(&buf, p.root); err != nil {
		return "", fmt.Errorf("render page: %w", err)
	}
	path := stem + ".html"
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return "", fmt.Errorf("write page dump: %w", err)
	}
	return path, nil
}

// Events implements browser.Page.
func (p *Page) Events() *browser.EventBus {
	return p.bus
}

// SetDialogResponder implements browser.Page.
func (p *Page) SetDialogResponder(r browser.DialogResponder) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if r == nil {
		r = browser.AcceptDialogs
	}
	p.responder = r
}

// Close implements browser.Page.
func (p *Page) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.bus.Close()
	p.client.CloseIdleConnections()
	return nil
}

// URL returns the address of the current document.
func (p *Page) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current.String()
}

func (p *Page) resolve(target string) (*url.URL, error) {
	ref, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("invalid url %q: %w", target, err)
	}
	if p.current.Scheme == "http" || p.current.Scheme == "https" {
		return p.current.ResolveReference(ref), nil
	}
	return p.base.ResolveReference(ref), nil
}

// load executes req and replaces the document with the response. Called
// with p.mu held.
func (p *Page) load(req *http.Request) error {
	p.logger.Debug("load", "method", req.Method, "url", req.URL.String())

	resp, err := p.client.Do(req)
	if err != nil {
		p.bus.Publish(browser.Event{Kind: browser.EventRequestFailed, Text: err.Error(), URL: req.URL.String()})
		return fmt.Errorf("%s %s: %w", req.Method, req.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		p.bus.Publish(browser.Event{
			Kind:  browser.EventConsole,
			Level: "error",
			Text:  fmt.Sprintf("Failed to load resource: the server responded with a status of %d (%s)", resp.StatusCode, http.StatusText(resp.StatusCode)),
			URL:   resp.Request.URL.String(),
		})
	}

	root, err := htmlquery.Parse(resp.Body)
	if err != nil {
		p.bus.Publish(browser.Event{Kind: browser.EventPageError, Text: err.Error(), URL: resp.Request.URL.String()})
		return fmt.Errorf("parse %s: %w", resp.Request.URL, err)
	}

	p.root = root
	p.current = resp.Request.URL
	return nil
}

// submit sends form the way a browser would when submitter is activated.
func (p *Page) submit(ctx context.Context, form, submitter *html.Node) error {
	method := strings.ToUpper(htmlquery.SelectAttr(form, "method"))
	if method == "" {
		method = http.MethodGet
	}

	data := url.Values{}
	for _, in := range htmlquery.Find(form, ".//input | .//textarea | .//select") {
		name := htmlquery.SelectAttr(in, "name")
		if name == "" {
			continue
		}
		if _, disabled := getAttr(in, "disabled"); disabled {
			continue
		}
		switch in.Data {
		case "input":
			typ := strings.ToLower(htmlquery.SelectAttr(in, "type"))
			switch typ {
			case "checkbox", "radio":
				if _, on := getAttr(in, "checked"); on {
					data.Add(name, valueOr(in, "on"))
				}
			case "submit", "reset", "button", "image":
			default:
				data.Add(name, htmlquery.SelectAttr(in, "value"))
			}
		case "textarea":
			data.Add(name, htmlquery.InnerText(in))
		case "select":
			if opt := htmlquery.FindOne(in, ".//option[@selected]"); opt != nil {
				data.Add(name, valueOr(opt, strings.TrimSpace(htmlquery.InnerText(opt))))
			} else if opt := htmlquery.FindOne(in, ".//option"); opt != nil {
				data.Add(name, valueOr(opt, strings.TrimSpace(htmlquery.InnerText(opt))))
			}
		}
	}
	if name := htmlquery.SelectAttr(submitter, "name"); name != "" {
		data.Add(name, htmlquery.SelectAttr(submitter, "value"))
	}

	action, err := p.resolve(htmlquery.SelectAttr(form, "action"))
	if err != nil {
		return err
	}

	var req *http.Request
	if method == http.MethodPost {
		req, err = http.NewRequestWithContext(ctx, method, action.String(), strings.NewReader(data.Encode()))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		action.RawQuery = data.Encode()
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, action.String(), nil)
		if err != nil {
			return err
		}
	}
	return p.load(req)
}

func valueOr(n *html.Node, fallback string) string {
	if v, ok := getAttr(n, "value"); ok {
		return v
	}
	return fallback
}

func closestAttr(n *html.Node, key string) (string, bool) {
	for c := n; c != nil; c = c.Parent {
		if c.Type != html.ElementNode {
			continue
		}
		if v, ok := getAttr(c, key); ok {
			return v, true
		}
	}
	return "", false
}

func parentForm(n *html.Node) *html.Node {
	for p := n.Parent; p != nil; p = p.Parent {
		if p.Type == html.ElementNode && p.Data == "form" {
			return p
		}
	}
	return nil
}

func getAttr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func setAttr(n *html.Node, key, val string) {
	for i := range n.Attr {
		if n.Attr[i].Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

func removeAttr(n *html.Node, key string) {
	kept := n.Attr[:0]
	for _, a := range n.Attr {
		if a.Key != key {
			kept = append(kept, a)
		}
	}
	n.Attr = kept
}
