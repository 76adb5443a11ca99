package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	cdppage "github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kestrelqa/selfheal/api/schemas"
	"github.com/kestrelqa/selfheal/internal/config"
)

// Page is one browser tab implementing schemas.PageSession.
type Page struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger
	cfg    config.BrowserConfig

	onClose func()

	mu       sync.Mutex
	isClosed bool
}

var _ schemas.PageSession = (*Page)(nil)

func newPage(ctx context.Context, cancel context.CancelFunc, cfg config.BrowserConfig, logger *zap.Logger, onClose func()) *Page {
	pageID := uuid.New().String()
	return &Page{
		id:      pageID,
		ctx:     ctx,
		cancel:  cancel,
		logger:  logger.With(zap.String("page_id", pageID)),
		cfg:     cfg,
		onClose: onClose,
	}
}

// ID returns the unique id of this page session.
func (p *Page) ID() string { return p.id }

// Navigate loads the URL and waits for the document body to be ready.
func (p *Page) Navigate(ctx context.Context, url string) error {
	p.logger.Debug("Navigating to URL", zap.String("url", url))

	opCtx, opCancel := combineContext(p.ctx, ctx)
	defer opCancel()

	navTimeout := p.cfg.NavigationTimeout
	if navTimeout <= 0 {
		navTimeout = 90 * time.Second
	}
	navCtx, navCancel := context.WithTimeout(opCtx, navTimeout)
	defer navCancel()

	if err := chromedp.Run(navCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		if navCtx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("navigation timed out after %s: %w", navTimeout, err)
		}
		if opCtx.Err() != nil {
			return fmt.Errorf("navigation canceled: %w", opCtx.Err())
		}
		return fmt.Errorf("navigation failed: %w", err)
	}
	return nil
}

// EvaluateScript runs a JavaScript expression in the current document and
// returns its JSON-encoded result.
func (p *Page) EvaluateScript(ctx context.Context, script string) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := p.runActions(ctx, chromedp.Evaluate(script, &raw)); err != nil {
		return nil, fmt.Errorf("script evaluation failed: %w", err)
	}
	return raw, nil
}

// Click clicks the first element matching the selector. XPath selectors are
// dispatched through the search query mode.
func (p *Page) Click(ctx context.Context, selector string) error {
	p.logger.Debug("Attempting to click element", zap.String("selector", selector))

	by := queryOption(selector)
	action := chromedp.Tasks{
		chromedp.ScrollIntoView(selector, by),
		chromedp.WaitVisible(selector, by),
		chromedp.Click(selector, by),
	}

	clickCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := p.runActions(clickCtx, action); err != nil {
		return fmt.Errorf("click action failed for selector '%s': %w", selector, err)
	}
	return nil
}

// Type focuses the element matching the selector and types the text.
func (p *Page) Type(ctx context.Context, selector, text string) error {
	p.logger.Debug("Attempting to type into element",
		zap.String("selector", selector), zap.Int("text_length", len(text)))

	by := queryOption(selector)
	action := chromedp.Tasks{
		chromedp.ScrollIntoView(selector, by),
		chromedp.WaitVisible(selector, by),
		chromedp.SendKeys(selector, text, by),
	}

	typeCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := p.runActions(typeCtx, action); err != nil {
		return fmt.Errorf("type action failed for selector '%s': %w", selector, err)
	}
	return nil
}

// CaptureScreenshot returns a PNG of the current viewport.
func (p *Page) CaptureScreenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	err := p.runActions(ctx, chromedp.ActionFunc(func(c context.Context) error {
		var err error
		buf, err = cdppage.CaptureScreenshot().
			WithFormat(cdppage.CaptureScreenshotFormatPng).
			Do(c)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("screenshot capture failed: %w", err)
	}
	return buf, nil
}

// Close releases the tab. It is safe to call more than once.
func (p *Page) Close(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.isClosed {
		return nil
	}
	p.isClosed = true

	p.cancel()
	if p.onClose != nil {
		p.onClose()
	}
	p.logger.Debug("Page session closed.")
	return nil
}

// runActions executes chromedp actions under the combined lifetime of the
// tab and the caller's context.
func (p *Page) runActions(ctx context.Context, actions ...chromedp.Action) error {
	p.mu.Lock()
	if p.isClosed {
		p.mu.Unlock()
		return fmt.Errorf("page session is closed")
	}
	p.mu.Unlock()

	opCtx, opCancel := combineContext(p.ctx, ctx)
	defer opCancel()

	if err := chromedp.Run(opCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

// queryOption picks the chromedp query mode for a selector: XPath
// expressions go through the search backend, everything else is CSS.
func queryOption(selector string) chromedp.QueryOption {
	if strings.HasPrefix(selector, "/") || strings.HasPrefix(selector, "(") {
		return chromedp.BySearch
	}
	return chromedp.ByQuery
}

// combineContext derives a context canceled when either input is done. The
// returned context inherits values, including CDP target information, from
// the first argument.
func combineContext(ctx1, ctx2 context.Context) (context.Context, context.CancelFunc) {
	combinedCtx, cancel := context.WithCancel(ctx1)

	go func() {
		select {
		case <-ctx2.Done():
			cancel()
		case <-combinedCtx.Done():
		}
	}()

	return combinedCtx, cancel
}
