// Package session owns the resources one scenario run drives: an API
// client, an optional page, and the event bus both report to.
package session

import (
	"context"
	"errors"
	"sync"

	"github.com/roach88/petroverify/internal/api"
	"github.com/roach88/petroverify/internal/browser"
)

// Session is one logical session. It is used by exactly one scenario at a
// time.
type Session struct {
	ID   string
	API  *api.Client
	Page browser.Page

	bus     *browser.EventBus
	ownsBus bool

	mu     sync.Mutex
	subs   []*browser.Subscription
	closed bool
}

// New creates a session. page may be nil for API-only scenarios, in which
// case the session owns its own event bus.
func New(id string, client *api.Client, page browser.Page) *Session {
	s := &Session{ID: id, API: client, Page: page}
	if page != nil {
		s.bus = page.Events()
	} else {
		s.bus = browser.NewEventBus()
		s.ownsBus = true
	}
	return s
}

// Events returns the bus that page and API failures are published on.
func (s *Session) Events() *browser.EventBus {
	return s.bus
}

// Subscribe registers fn on the session bus. The subscription is released
// when the session closes, whatever the outcome of the run.
func (s *Session) Subscribe(fn func(browser.Event), kinds ...browser.EventKind) *browser.Subscription {
	sub := s.bus.Subscribe(fn, kinds...)
	s.mu.Lock()
	s.subs = append(s.subs, sub)
	s.mu.Unlock()
	return sub
}

// Do performs an API call. Transport failures are also published as
// failed-request events so diagnostics see them.
func (s *Session) Do(ctx context.Context, call api.Call) (*api.Response, error) {
	if s.API == nil {
		return nil, errors.New("session has no api client")
	}
	resp, err := s.API.Do(ctx, call)
	var te *api.TransportError
	if errors.As(err, &te) {
		s.bus.Publish(browser.Event{Kind: browser.EventRequestFailed, Text: te.Err.Error(), URL: te.URL})
	}
	return resp, err
}

// RequirePage returns the page or an error for API-only sessions.
func (s *Session) RequirePage() (browser.Page, error) {
	if s.Page == nil {
		return nil, errors.New("session has no browser page")
	}
	return s.Page, nil
}

// Closed reports whether Close has run.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close releases every subscription and the page. It is safe to call more
// than once.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()

	for _, sub := range subs {
		sub.Release()
	}
	var err error
	if s.Page != nil {
		err = s.Page.Close()
	}
	if s.ownsBus {
		s.bus.Close()
	}
	return err
}
