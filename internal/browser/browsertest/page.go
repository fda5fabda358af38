// Package browsertest provides a scriptable in-memory browser.Page for
// tests.
package browsertest

import (
	"context"
	"os"
	"strings"
	"sync"

	"github.com/antchfx/htmlquery"

	"github.com/roach88/petroverify/internal/browser"
)

// Page serves a settable HTML document. Hooks let tests give clicks and
// navigation consequences.
type Page struct {
	mu        sync.Mutex
	url       string
	doc       string
	bus       *browser.EventBus
	responder browser.DialogResponder
	closed    bool

	// Calls records every operation as "navigate /x", "fill css=... value"
	// and "click text=...".
	Calls []string

	OnNavigate func(p *Page, target string) error
	OnClick    func(p *Page, l browser.Locator) error
	OnFill     func(p *Page, l browser.Locator, value string) error

	// ScreenshotErr makes Screenshot fail.
	ScreenshotErr error
}

// New creates a page showing doc.
func New(doc string) *Page {
	return &Page{url: "about:blank", doc: doc, bus: browser.NewEventBus(), responder: browser.AcceptDialogs}
}

// SetHTML replaces the document.
func (p *Page) SetHTML(doc string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.doc = doc
}

// Raise sends a dialog to the registered responder, as a page script would.
func (p *Page) Raise(d browser.Dialog) browser.DialogReply {
	p.mu.Lock()
	r := p.responder
	p.mu.Unlock()
	return r(d)
}

// IsClosed reports whether Close ran.
func (p *Page) IsClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Page) record(call string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return browser.ErrClosed
	}
	p.Calls = append(p.Calls, call)
	return nil
}

func (p *Page) require(op string, l browser.Locator) error {
	p.mu.Lock()
	doc := p.doc
	p.mu.Unlock()
	root, err := htmlquery.Parse(strings.NewReader(doc))
	if err != nil {
		return err
	}
	n, err := browser.FirstVisible(root, l)
	if err != nil {
		return err
	}
	if n == nil {
		return browser.NotFound(op, l)
	}
	return nil
}

// Navigate implements browser.Page.
func (p *Page) Navigate(ctx context.Context, target string) error {
	if err := p.record("navigate " + target); err != nil {
		return err
	}
	p.mu.Lock()
	p.url = target
	p.mu.Unlock()
	if p.OnNavigate != nil {
		return p.OnNavigate(p, target)
	}
	return nil
}

// Fill implements browser.Page.
func (p *Page) Fill(ctx context.Context, l browser.Locator, value string) error {
	if err := p.record("fill " + l.String() + " " + value); err != nil {
		return err
	}
	if err := p.require("fill", l); err != nil {
		return err
	}
	if p.OnFill != nil {
		return p.OnFill(p, l, value)
	}
	return nil
}

// Click implements browser.Page.
func (p *Page) Click(ctx context.Context, l browser.Locator) error {
	if err := p.record("click " + l.String()); err != nil {
		return err
	}
	if err := p.require("click", l); err != nil {
		return err
	}
	if p.OnClick != nil {
		return p.OnClick(p, l)
	}
	return nil
}

// Snapshot implements browser.Page.
func (p *Page) Snapshot(ctx context.Context) (*browser.Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, browser.ErrClosed
	}
	return browser.ParseSnapshot(p.url, strings.NewReader(p.doc))
}

// Screenshot writes the document to stem + ".html".
func (p *Page) Screenshot(ctx context.Context, stem string) (string, error) {
	if p.ScreenshotErr != nil {
		return "", p.ScreenshotErr
	}
	p.mu.Lock()
	doc := p.doc
	p.mu.Unlock()
	path := stem + ".html"
	if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
		return "", err
	}
	return path, nil
}

// Events implements browser.Page.
func (p *Page) Events() *browser.EventBus {
	return p.bus
}

// SetDialogResponder implements browser.Page.
func (p *Page) SetDialogResponder(r browser.DialogResponder) {
	if r == nil {
		r = browser.AcceptDialogs
	}
	p.mu.Lock()
	p.responder = r
	p.mu.Unlock()
}

// Close implements browser.Page.
func (p *Page) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		p.bus.Close()
	}
	return nil
}
