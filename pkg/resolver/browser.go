package resolver

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/sirupsen/logrus"
)

// Browser is the automation surface the resolver drives. Selectors are CSS
// queries against the rendered page.
type Browser interface {
	Navigate(ctx context.Context, url string) error
	Fill(ctx context.Context, selector, text string) error
	Click(ctx context.Context, selector string) error
	WaitFor(ctx context.Context, selector string, timeout time.Duration) error
	HTML(ctx context.Context) (string, error)
	Close() error
}

// ChromeOptions configures the headless Chrome session.
type ChromeOptions struct {
	Headless  bool
	UserAgent string
	ExecPath  string
}

// ChromeBrowser is a Browser backed by a single Chrome tab. The process is
// started on first use and kept until Close.
type ChromeBrowser struct {
	opts ChromeOptions
	log  *logrus.Entry

	mu          sync.Mutex
	tabCtx      context.Context
	tabCancel   context.CancelFunc
	allocCancel context.CancelFunc
	started     bool
}

// NewChromeBrowser returns an unstarted browser.
func NewChromeBrowser(opts ChromeOptions, logger *logrus.Entry) *ChromeBrowser {
	return &ChromeBrowser{opts: opts, log: logger.WithField("component", "browser")}
}

func (b *ChromeBrowser) start() (context.Context, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return b.tabCtx, nil
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", b.opts.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if b.opts.UserAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(b.opts.UserAgent))
	}
	if b.opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(b.opts.ExecPath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx, chromedp.WithLogf(b.log.Debugf))

	// The first Run launches the process.
	if err := chromedp.Run(tabCtx); err != nil {
		tabCancel()
		allocCancel()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}
	b.log.Info("Browser session started")

	b.tabCtx, b.tabCancel, b.allocCancel = tabCtx, tabCancel, allocCancel
	b.started = true
	return tabCtx, nil
}

// run executes actions on the tab, aborting them when ctx is done.
func (b *ChromeBrowser) run(ctx context.Context, actions ...chromedp.Action) error {
	tabCtx, err := b.start()
	if err != nil {
		return err
	}
	runCtx, cancel := context.WithCancel(tabCtx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(runCtx, actions...)
}

// Navigate loads url in the tab.
func (b *ChromeBrowser) Navigate(ctx context.Context, url string) error {
	return b.run(ctx, chromedp.Navigate(url))
}

// Fill replaces the value of the input matched by selector with text.
func (b *ChromeBrowser) Fill(ctx context.Context, selector, text string) error {
	return b.run(ctx,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.SetValue(selector, "", chromedp.ByQuery),
		chromedp.SendKeys(selector, text, chromedp.ByQuery),
	)
}

// Click clicks the first visible element matched by selector. It does not
// wait for any navigation the click starts.
func (b *ChromeBrowser) Click(ctx context.Context, selector string) error {
	return b.run(ctx, chromedp.Click(selector, chromedp.ByQuery, chromedp.NodeVisible))
}

// WaitFor blocks until selector matches a ready element or timeout passes.
func (b *ChromeBrowser) WaitFor(ctx context.Context, selector string, timeout time.Duration) error {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return b.run(waitCtx, chromedp.WaitReady(selector, chromedp.ByQuery))
}

// HTML returns the current markup of the page.
func (b *ChromeBrowser) HTML(ctx context.Context) (string, error) {
	var html string
	err := b.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery))
	return html, err
}

// Close shuts the browser down. It is a no-op when the browser never started.
func (b *ChromeBrowser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.started {
		return nil
	}
	b.tabCancel()
	b.allocCancel()
	b.started = false
	b.log.Info("Browser session closed")
	return nil
}
