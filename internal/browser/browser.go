// Package browser defines the interactive session the review fetcher drives,
// plus a static HTTP implementation of it.
package browser

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrWaitTimeout is returned when a bounded wait runs out.
	ErrWaitTimeout = errors.New("wait timed out")
	// ErrNoSuchElement is returned when a selector matches nothing.
	ErrNoSuchElement = errors.New("no such element")
	// ErrNotClickable is returned when an element cannot be activated.
	ErrNotClickable = errors.New("element not clickable")
	// ErrSessionClosed is returned by any operation after Close.
	ErrSessionClosed = errors.New("session closed")
)

// Element is a node in the current document.
type Element interface {
	// Text returns the element's rendered text, one line per block.
	Text() string
	// Attr returns an attribute value. href and src are absolute.
	Attr(name string) (string, bool)
	// Find returns the first descendant matching selector, or ErrNoSuchElement.
	Find(selector string) (Element, error)
}

// Session is a stateful browsing context. Implementations are not safe for
// concurrent use.
type Session interface {
	Navigate(ctx context.Context, url string) error
	WaitUntilPresent(ctx context.Context, selector string, timeout time.Duration) (Element, error)
	WaitUntilClickable(ctx context.Context, selector string, timeout time.Duration) (Element, error)
	FindAll(ctx context.Context, selector string) ([]Element, error)
	// Click activates el the way a script-dispatched click would, so overlays
	// covering the element do not matter.
	Click(ctx context.Context, el Element) error
	// SwitchToFrame makes the document of the matching frame the current
	// context. On failure the current context is left unchanged.
	SwitchToFrame(ctx context.Context, selector string, timeout time.Duration) error
	Close() error
}

// Opener acquires a new session. The caller must Close it.
type Opener func(ctx context.Context) (Session, error)

// Poll evaluates cond until it reports true, returns an error, the timeout
// elapses (ErrWaitTimeout) or ctx is done. cond is always evaluated at least
// once.
func Poll(ctx context.Context, timeout, interval time.Duration, cond func() (bool, error)) error {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	deadline := time.Now().Add(timeout)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		ok, err := cond()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if !time.Now().Before(deadline) {
			return ErrWaitTimeout
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Sleep pauses for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
