package discover

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/civicdata/healthsnap/internal/schema"
)

// ChromeRenderer renders pages in a headless browser. The browser session
// is an expensive, stateful external resource: one session is reused for
// all discovery calls, renders are serialized through a mutex, and Close
// tears the session down on every exit path.
type ChromeRenderer struct {
	// Timeout bounds one render, including the wait for a stable DOM.
	Timeout time.Duration
	// StableFor is how long the DOM must stay unchanged before it is
	// considered settled.
	StableFor time.Duration

	mu          sync.Mutex
	browserCtx  context.Context
	cancelChain []context.CancelFunc
}

// NewChromeRenderer starts a headless browser session.
func NewChromeRenderer(ctx context.Context, timeout, stableFor time.Duration) (*ChromeRenderer, error) {
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	if stableFor <= 0 {
		stableFor = 500 * time.Millisecond
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	r := &ChromeRenderer{
		Timeout:     timeout,
		StableFor:   stableFor,
		browserCtx:  browserCtx,
		cancelChain: []context.CancelFunc{browserCancel, allocCancel},
	}
	// Start the browser eagerly so an unavailable rendering engine fails
	// the run up front instead of inside the first dataset.
	if err := chromedp.Run(browserCtx); err != nil {
		r.Close()
		return nil, fmt.Errorf("start browser: %w", err)
	}
	return r, nil
}

// Render navigates to the URL, waits until the DOM stops changing, and
// returns the rendered HTML. Fails with ErrDiscoveryTimeout when the page
// never settles within the timeout.
func (r *ChromeRenderer) Render(ctx context.Context, url string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tabCtx, cancel := chromedp.NewContext(r.browserCtx)
	defer cancel()
	tabCtx, cancelTimeout := context.WithTimeout(tabCtx, r.Timeout)
	defer cancelTimeout()

	if err := chromedp.Run(tabCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		return "", renderErr(ctx, tabCtx, err)
	}

	// The page is script-driven: poll the DOM until two consecutive
	// snapshots agree, then call it stable.
	var prev string
	for {
		var cur string
		if err := chromedp.Run(tabCtx,
			chromedp.Sleep(r.StableFor),
			chromedp.OuterHTML("html", &cur, chromedp.ByQuery),
		); err != nil {
			return "", renderErr(ctx, tabCtx, err)
		}
		if cur == prev {
			return cur, nil
		}
		prev = cur
	}
}

// renderErr classifies a render failure: a deadline hit on the tab while
// the caller's context is still live means the page never settled.
func renderErr(ctx, tabCtx context.Context, err error) error {
	if ctx.Err() == nil &&
		(errors.Is(err, context.DeadlineExceeded) || errors.Is(tabCtx.Err(), context.DeadlineExceeded)) {
		return fmt.Errorf("%w: %v", schema.ErrDiscoveryTimeout, err)
	}
	return err
}

// Close releases the browser session. Safe to call more than once.
func (r *ChromeRenderer) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, cancel := range r.cancelChain {
		cancel()
	}
	r.cancelChain = nil
}
