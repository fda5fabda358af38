// Package browser defines the DOM surface the harness drives.
//
// A Page is one browser tab (or its headless emulation). Drivers live in
// subpackages: htmlpage fetches and parses HTML over plain HTTP, chrome
// drives a real Chromium through the DevTools protocol. Both publish
// console, page-error and failed-request events on the page's EventBus and
// consult the registered DialogResponder whenever a native dialog opens.
package browser

import (
	"context"
	"errors"
	"fmt"
)

// Page is a single driven page.
//
// Implementations are not required to be safe for concurrent use; a scenario
// drives its page from one goroutine.
type Page interface {
	// Navigate loads target. Relative targets resolve against the driver's
	// base URL.
	Navigate(ctx context.Context, target string) error

	// Fill sets the value of the first visible form control matching l.
	Fill(ctx context.Context, l Locator, value string) error

	// Click activates the first visible element matching l.
	Click(ctx context.Context, l Locator) error

	// Snapshot returns an immutable view of the current document.
	Snapshot(ctx context.Context) (*Snapshot, error)

	// Screenshot writes an image (or the closest equivalent the driver can
	// produce) next to stem, appending the driver's extension, and returns
	// the path written.
	Screenshot(ctx context.Context, stem string) (string, error)

	// Events returns the page's event bus.
	Events() *EventBus

	// SetDialogResponder replaces the dialog responder. A nil responder
	// restores AcceptDialogs.
	SetDialogResponder(r DialogResponder)

	// Close releases the page and every subscription on its event bus.
	Close() error
}

// ErrElementNotFound is returned when no visible element matches a locator.
var ErrElementNotFound = errors.New("element not found")

// ErrClosed is returned by operations on a closed page.
var ErrClosed = errors.New("page closed")

// NotFound wraps ErrElementNotFound with the locator that missed.
func NotFound(op string, l Locator) error {
	return fmt.Errorf("%s %s: %w", op, l, ErrElementNotFound)
}
