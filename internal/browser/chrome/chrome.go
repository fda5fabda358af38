// Package chrome drives a real Chromium tab through the DevTools protocol.
package chrome

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	"github.com/roach88/petroverify/internal/browser"
)

// markHidden tags every element that has no rendered box so the static
// snapshot can judge visibility the way the browser does.
const markHidden = `(() => {
  for (const el of document.querySelectorAll('body *')) {
    const s = getComputedStyle(el);
    const gone = s.display === 'none' || s.visibility === 'hidden' || el.getClientRects().length === 0;
    if (gone) { el.setAttribute('` + browser.HiddenAttr + `', ''); } else { el.removeAttribute('` + browser.HiddenAttr + `'); }
  }
  return true;
})()`

// Options configures the browser.
type Options struct {
	BaseURL string

	// Headless runs Chromium without a window. Default true.
	Headless *bool

	// ExecPath overrides the Chromium binary.
	ExecPath string

	// WindowWidth and WindowHeight size the viewport (default 1280x900).
	WindowWidth, WindowHeight int

	Logger *slog.Logger
}

// Page is a Chromium tab.
type Page struct {
	base   *url.URL
	bus    *browser.EventBus
	logger *slog.Logger

	tabCtx      context.Context
	cancelTab   context.CancelFunc
	cancelAlloc context.CancelFunc

	mu        sync.Mutex
	responder browser.DialogResponder
	requests  map[network.RequestID]string
	closed    bool
}

// New launches Chromium and opens a tab. The browser lives until Close,
// independent of ctx; cancelling ctx during launch aborts it.
func New(ctx context.Context, opts Options) (*Page, error) {
	base, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url %q: %w", opts.BaseURL, err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	headless := true
	if opts.Headless != nil {
		headless = *opts.Headless
	}
	w, h := opts.WindowWidth, opts.WindowHeight
	if w == 0 || h == 0 {
		w, h = 1280, 900
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", headless),
		chromedp.WindowSize(w, h),
	)
	if opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(format string, args ...any) {
			logger.Debug(fmt.Sprintf(format, args...))
		}),
	)

	p := &Page{
		base:        base,
		bus:         browser.NewEventBus(),
		logger:      logger,
		tabCtx:      tabCtx,
		cancelTab:   cancelTab,
		cancelAlloc: cancelAlloc,
		responder:   browser.AcceptDialogs,
		requests:    make(map[network.RequestID]string),
	}
	chromedp.ListenTarget(tabCtx, p.onEvent)

	// The first Run allocates the browser and must use the tab context
	// itself: a derived context would take the browser down with it.
	stop := context.AfterFunc(ctx, cancelTab)
	err = chromedp.Run(tabCtx, network.Enable(), runtime.Enable(), page.Enable())
	stop()
	if err != nil {
		cancelTab()
		cancelAlloc()
		return nil, fmt.Errorf("start chromium: %w", err)
	}
	return p, nil
}

// onEvent runs on the DevTools event loop and must not block.
func (p *Page) onEvent(ev any) {
	switch e := ev.(type) {
	case *runtime.EventConsoleAPICalled:
		parts := make([]string, 0, len(e.Args))
		for _, arg := range e.Args {
			switch {
			case arg.Description != "":
				parts = append(parts, arg.Description)
			case len(arg.Value) > 0:
				parts = append(parts, strings.Trim(string(arg.Value), `"`))
			default:
				parts = append(parts, string(arg.Type))
			}
		}
		p.bus.Publish(browser.Event{
			Kind:  browser.EventConsole,
			Level: string(e.Type),
			Text:  strings.Join(parts, " "),
			Time:  time.Now(),
		})

	case *runtime.EventExceptionThrown:
		d := e.ExceptionDetails
		text := d.Text
		if d.Exception != nil && d.Exception.Description != "" {
			text = d.Exception.Description
		}
		p.bus.Publish(browser.Event{Kind: browser.EventPageError, Text: text, URL: d.URL, Time: time.Now()})

	case *network.EventRequestWillBeSent:
		p.mu.Lock()
		p.requests[e.RequestID] = e.Request.URL
		p.mu.Unlock()

	case *network.EventLoadingFinished:
		p.mu.Lock()
		delete(p.requests, e.RequestID)
		p.mu.Unlock()

	case *network.EventLoadingFailed:
		p.mu.Lock()
		u := p.requests[e.RequestID]
		delete(p.requests, e.RequestID)
		p.mu.Unlock()
		if e.Canceled {
			return
		}
		p.bus.Publish(browser.Event{Kind: browser.EventRequestFailed, Text: e.ErrorText, URL: u, Time: time.Now()})

	case *page.EventJavascriptDialogOpening:
		p.mu.Lock()
		responder := p.responder
		p.mu.Unlock()
		reply := responder(browser.Dialog{
			Kind:          browser.DialogKind(e.Type),
			Message:       e.Message,
			DefaultPrompt: e.DefaultPrompt,
		})
		p.logger.Debug("dialog answered", "type", string(e.Type), "message", e.Message, "accept", reply.Accept)
		go func() {
			handle := page.HandleJavaScriptDialog(reply.Accept)
			if reply.PromptText != "" {
				handle = handle.WithPromptText(reply.PromptText)
			}
			if err := chromedp.Run(p.tabCtx, handle); err != nil {
				p.logger.Warn("dialog handling failed", "error", err)
			}
		}()
	}
}

// run executes actions in the tab, bounded by ctx's deadline and
// cancellation.
func (p *Page) run(ctx context.Context, actions ...chromedp.Action) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return browser.ErrClosed
	}

	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if dl, ok := ctx.Deadline(); ok {
		runCtx, cancel = context.WithDeadline(p.tabCtx, dl)
	} else {
		runCtx, cancel = context.WithCancel(p.tabCtx)
	}
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	return chromedp.Run(runCtx, actions...)
}

func query(l browser.Locator) (string, chromedp.QueryOption) {
	if l.Text != "" {
		return browser.TextXPath(l.Text), chromedp.BySearch
	}
	return l.CSS, chromedp.ByQuery
}

// Navigate implements browser.Page.
func (p *Page) Navigate(ctx context.Context, target string) error {
	ref, err := url.Parse(target)
	if err != nil {
		return fmt.Errorf("invalid url %q: %w", target, err)
	}
	u := p.base.ResolveReference(ref).String()
	if err := p.run(ctx, chromedp.Navigate(u)); err != nil {
		return fmt.Errorf("navigate %s: %w", u, err)
	}
	return nil
}

// Fill implements browser.Page.
func (p *Page) Fill(ctx context.Context, l browser.Locator, value string) error {
	sel, by := query(l)
	err := p.run(ctx,
		chromedp.WaitVisible(sel, by),
		chromedp.SetValue(sel, "", by),
		chromedp.SendKeys(sel, value, by),
	)
	if err != nil {
		return fmt.Errorf("fill %s: %w", l, err)
	}
	return nil
}

// Click implements browser.Page.
func (p *Page) Click(ctx context.Context, l browser.Locator) error {
	sel, by := query(l)
	if err := p.run(ctx, chromedp.Click(sel, by, chromedp.NodeVisible)); err != nil {
		return fmt.Errorf("click %s: %w", l, err)
	}
	return nil
}

// Snapshot implements browser.Page.
func (p *Page) Snapshot(ctx context.Context) (*browser.Snapshot, error) {
	var (
		ok       bool
		location string
		doc      string
	)
	err := p.run(ctx,
		chromedp.Evaluate(markHidden, &ok),
		chromedp.Location(&location),
		chromedp.OuterHTML("html", &doc, chromedp.ByQuery),
	)
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	return browser.ParseSnapshot(location, strings.NewReader(doc))
}

// Screenshot writes a full-page PNG to stem + ".png".
func (p *Page) Screenshot(ctx context.Context, stem string) (string, error) {
	var buf []byte
	if err := p.run(ctx, chromedp.FullScreenshot(&buf, 90)); err != nil {
		return "", fmt.Errorf("screenshot: %w", err)
	}
	path := stem + ".png"
	if err := os.WriteFile(path, buf, 0644); err != nil {
		return "", fmt.Errorf("write screenshot: %w", err)
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

// Close shuts the tab and the browser process.
func (p *Page) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.bus.Close()
	err := chromedp.Cancel(p.tabCtx)
	p.cancelTab()
	p.cancelAlloc()
	if err != nil && err != context.Canceled {
		return fmt.Errorf("close chromium: %w", err)
	}
	return nil
}
