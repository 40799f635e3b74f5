// File: internal/browser/driver.go

// Package browser implements the live driver over chromedp. One Driver is one
// Chrome tab; the engine creates a driver per attempt and closes it when the
// attempt ends, whatever state the session is in.
package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/applyloop/applyloop/api/schemas"
	"github.com/applyloop/applyloop/internal/config"
)

// Driver drives a single browser tab and implements schemas.BrowserDriver.
type Driver struct {
	allocCtx    context.Context
	allocCancel context.CancelFunc
	ctx         context.Context
	cancel      context.CancelFunc
	logger      *zap.Logger
	cfg         config.BrowserConfig

	mu       sync.Mutex
	isClosed bool
}

var _ schemas.BrowserDriver = (*Driver)(nil)

// NewDriver launches a browser and connects a fresh tab. The parent context
// bounds the whole session: cancelling it kills the browser.
func NewDriver(parent context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*Driver, error) {
	opts := allocatorOptions(cfg)
	allocCtx, allocCancel := chromedp.NewExecAllocator(parent, opts...)
	ctx, cancel := chromedp.NewContext(allocCtx)

	// Force the browser to start now, not lazily on the first action, and
	// pin a plain language header so localized pages stay predictable.
	err := chromedp.Run(ctx,
		network.Enable(),
		network.SetExtraHTTPHeaders(network.Headers{"Accept-Language": "en-US,en;q=0.9"}),
	)
	if err != nil {
		cancel()
		allocCancel()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	return &Driver{
		allocCtx:    allocCtx,
		allocCancel: allocCancel,
		ctx:         ctx,
		cancel:      cancel,
		logger:      logger.Named("browser"),
		cfg:         cfg,
	}, nil
}

// allocatorOptions builds the Chrome launch flags.
func allocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.WindowSize(1366, 900),
	)
	for _, arg := range cfg.Args {
		opts = append(opts, chromedp.Flag(arg, true))
	}
	return opts
}

// Navigate loads the URL and waits for the document to become ready plus the
// configured settle period for client-side rendering.
func (d *Driver) Navigate(ctx context.Context, url string) error {
	d.logger.Debug("Navigating", zap.String("url", url))

	navCtx := ctx
	if d.cfg.NavigationTimeout > 0 {
		var cancel context.CancelFunc
		navCtx, cancel = context.WithTimeout(ctx, d.cfg.NavigationTimeout)
		defer cancel()
	}

	err := d.run(navCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		return d.wrapErr(fmt.Errorf("navigate %s: %w", url, err))
	}
	d.settle(ctx)
	return nil
}

// pageExtract mirrors the object built by extractScript.
type pageExtract struct {
	URL         string               `json:"url"`
	VisibleText string               `json:"visibleText"`
	Elements    []schemas.RawElement `json:"elements"`
}

// CapturePage reads the current page state: visible text, interactive
// elements with stable selectors, the raw HTML and optionally a screenshot.
func (d *Driver) CapturePage(ctx context.Context, withScreenshot bool) (*schemas.RawCapture, error) {
	var extract pageExtract
	var html string

	actions := []chromedp.Action{
		chromedp.Evaluate(extractScript, &extract),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	var screenshot []byte
	if withScreenshot {
		actions = append(actions, chromedp.CaptureScreenshot(&screenshot))
	}

	if err := d.run(ctx, actions...); err != nil {
		return nil, d.wrapErr(fmt.Errorf("capture page: %w", err))
	}

	return &schemas.RawCapture{
		URL:         extract.URL,
		HTML:        html,
		VisibleText: extract.VisibleText,
		Elements:    extract.Elements,
		Screenshot:  screenshot,
	}, nil
}

// Perform executes one concrete action against the page.
func (d *Driver) Perform(ctx context.Context, action schemas.ConcreteAction) error {
	d.logger.Debug("Performing action",
		zap.String("kind", string(action.Kind)),
		zap.String("selector", action.Selector),
	)

	var err error
	switch action.Kind {
	case schemas.ConcreteFill:
		// SendKeys over SetValue: frameworks listening for input events do
		// not notice programmatic value assignment.
		err = d.run(ctx,
			chromedp.WaitVisible(action.Selector, chromedp.ByQuery),
			chromedp.Clear(action.Selector, chromedp.ByQuery),
			chromedp.SendKeys(action.Selector, action.Value, chromedp.ByQuery),
		)
	case schemas.ConcreteSelect:
		var picked bool
		err = d.run(ctx,
			chromedp.WaitVisible(action.Selector, chromedp.ByQuery),
			chromedp.Evaluate(selectOptionCall(action.Selector, action.Value), &picked),
		)
		if err == nil && !picked {
			return fmt.Errorf("select %s: option %q not found", action.Selector, action.Value)
		}
	case schemas.ConcreteClick:
		err = d.run(ctx,
			chromedp.WaitVisible(action.Selector, chromedp.ByQuery),
			chromedp.Click(action.Selector, chromedp.ByQuery),
		)
	case schemas.ConcreteUpload:
		err = d.run(ctx,
			chromedp.SetUploadFiles(action.Selector, []string{action.Path}, chromedp.ByQuery),
		)
	default:
		return fmt.Errorf("unknown concrete action kind %q", action.Kind)
	}

	if err != nil {
		return d.wrapErr(fmt.Errorf("%s %s: %w", action.Kind, action.Selector, err))
	}
	d.settle(ctx)
	return nil
}

// CurrentURL returns the tab's location.
func (d *Driver) CurrentURL(ctx context.Context) (string, error) {
	var url string
	if err := d.run(ctx, chromedp.Location(&url)); err != nil {
		return "", d.wrapErr(err)
	}
	return url, nil
}

// Close tears the tab and browser down. Idempotent, and releases resources
// regardless of session state.
func (d *Driver) Close(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.isClosed {
		return nil
	}
	d.isClosed = true

	d.logger.Debug("Closing browser session")
	d.cancel()
	d.allocCancel()
	return nil
}

// settle gives client-side rendering a moment after a mutation. Best effort;
// a cancelled context just cuts the wait short.
func (d *Driver) settle(ctx context.Context) {
	if d.cfg.StabilizeWait <= 0 {
		return
	}
	select {
	case <-time.After(d.cfg.StabilizeWait):
	case <-ctx.Done():
	}
}

// run executes chromedp actions bound to both the session lifetime and the
// caller's context.
func (d *Driver) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := combineContext(d.ctx, ctx)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

// wrapErr folds session death into ErrSessionLost so callers can tell a dead
// tab from an ordinary failed action.
func (d *Driver) wrapErr(err error) error {
	if err == nil {
		return nil
	}
	if d.ctx.Err() != nil || d.allocCtx.Err() != nil {
		return fmt.Errorf("%w: %v", schemas.ErrSessionLost, err)
	}
	return err
}

// combineContext derives a context that is cancelled when either input is.
func combineContext(a, b context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(a)
	stop := context.AfterFunc(b, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
