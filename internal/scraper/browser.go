package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"github.com/jgoulah/mobiletracker/internal/config"
)

// ChromeLauncher starts a local Chrome through chromedp
type ChromeLauncher struct {
	Headless  bool
	UserAgent string
	ExecPath  string // empty: let chromedp find Chrome
}

// NewChromeLauncher creates a launcher from the portal settings
func NewChromeLauncher(cfg *config.Config) *ChromeLauncher {
	return &ChromeLauncher{
		Headless:  cfg.Portal.Headless,
		UserAgent: cfg.GetUserAgent(),
		ExecPath:  cfg.Portal.ChromePath,
	}
}

// Launch starts the browser and opens a tab. The browser lives until the
// returned page is closed or ctx is cancelled.
func (l *ChromeLauncher) Launch(ctx context.Context) (Page, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", l.Headless),
		chromedp.Flag("no-sandbox", true),            // Required for running as root on Linux
		chromedp.Flag("disable-gpu", true),           // Recommended for headless Linux
		chromedp.Flag("disable-dev-shm-usage", true), // Avoid /dev/shm issues on Linux
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("enable-automation", false),
		chromedp.WindowSize(1920, 1080),
		chromedp.UserAgent(l.UserAgent),
	)
	if l.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(l.ExecPath))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx)

	// An empty Run starts the browser
	if err := chromedp.Run(tabCtx); err != nil {
		cancelTab()
		cancelAlloc()
		return nil, fmt.Errorf("starting chrome: %w", err)
	}

	return &Chrome{ctx: tabCtx, cancelTab: cancelTab, cancelAlloc: cancelAlloc}, nil
}

// Chrome is a Page backed by a chromedp tab
type Chrome struct {
	ctx         context.Context
	cancelTab   context.CancelFunc
	cancelAlloc context.CancelFunc
}

// run executes actions in the tab, aborting early if ctx ends
func (c *Chrome) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(c.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

func (c *Chrome) Navigate(ctx context.Context, url string) error {
	if err := c.run(ctx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigating to %s: %w", url, err)
	}
	return nil
}

func (c *Chrome) URL(ctx context.Context) (string, error) {
	var url string
	if err := c.run(ctx, chromedp.Location(&url)); err != nil {
		return "", fmt.Errorf("reading location: %w", err)
	}
	return url, nil
}

func (c *Chrome) Find(ctx context.Context, xpath string) ([]Element, error) {
	var nodes []*cdp.Node
	if err := c.run(ctx, chromedp.Nodes(xpath, &nodes, chromedp.BySearch, chromedp.AtLeast(0))); err != nil {
		return nil, fmt.Errorf("querying %s: %w", xpath, err)
	}

	elems := make([]Element, 0, len(nodes))
	for _, n := range nodes {
		if n.NodeType != cdp.NodeTypeElement {
			continue
		}
		elems = append(elems, &chromeElement{page: c, node: n})
	}
	return elems, nil
}

func (c *Chrome) Text(ctx context.Context) (string, error) {
	var text string
	if err := c.run(ctx, chromedp.Evaluate(`document.body ? document.body.innerText : ''`, &text)); err != nil {
		return "", fmt.Errorf("reading page text: %w", err)
	}
	return text, nil
}

func (c *Chrome) HTML(ctx context.Context) (string, error) {
	var html string
	if err := c.run(ctx, chromedp.Evaluate(`document.documentElement.outerHTML`, &html)); err != nil {
		return "", fmt.Errorf("reading page source: %w", err)
	}
	return html, nil
}

func (c *Chrome) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := c.run(ctx, chromedp.FullScreenshot(&buf, 100)); err != nil {
		return nil, fmt.Errorf("capturing screenshot: %w", err)
	}
	return buf, nil
}

// Close shuts the browser down
func (c *Chrome) Close() error {
	err := chromedp.Cancel(c.ctx)
	c.cancelTab()
	c.cancelAlloc()
	return err
}

type chromeElement struct {
	page *Chrome
	node *cdp.Node
}

const (
	jsVisible = `function() {
	const s = window.getComputedStyle(this);
	const r = this.getBoundingClientRect();
	return s.display !== 'none' && s.visibility !== 'hidden' && r.width > 0 && r.height > 0;
}`
	jsEnabled     = `function() { return !this.disabled; }`
	jsText        = `function() { return (this.innerText || this.textContent || '').trim(); }`
	jsClick       = `function() { this.click(); }`
	jsFireChanged = `function() {
	this.dispatchEvent(new Event('input', { bubbles: true }));
	this.dispatchEvent(new Event('change', { bubbles: true }));
}`
)

func (e *chromeElement) ids() []cdp.NodeID {
	return []cdp.NodeID{e.node.NodeID}
}

// call runs fn with this bound to the element and decodes its return value into res
func (e *chromeElement) call(ctx context.Context, fn string, res any) error {
	return e.page.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		obj, err := dom.ResolveNode().WithNodeID(e.node.NodeID).Do(ctx)
		if err != nil {
			return fmt.Errorf("resolving node: %w", err)
		}

		r, exc, err := runtime.CallFunctionOn(fn).
			WithObjectID(obj.ObjectID).
			WithReturnByValue(true).
			Do(ctx)
		if err != nil {
			return err
		}
		if exc != nil {
			return fmt.Errorf("script exception: %s", exc.Text)
		}

		if res == nil || r == nil || len(r.Value) == 0 {
			return nil
		}
		return json.Unmarshal([]byte(r.Value), res)
	}))
}

func (e *chromeElement) Key() string {
	return strconv.FormatInt(int64(e.node.BackendNodeID), 10)
}

func (e *chromeElement) Attr(name string) string {
	return e.node.AttributeValue(name)
}

func (e *chromeElement) Text(ctx context.Context) (string, error) {
	var text string
	err := e.call(ctx, jsText, &text)
	return text, err
}

func (e *chromeElement) Visible(ctx context.Context) (bool, error) {
	var visible bool
	err := e.call(ctx, jsVisible, &visible)
	return visible, err
}

func (e *chromeElement) Enabled(ctx context.Context) (bool, error) {
	var enabled bool
	err := e.call(ctx, jsEnabled, &enabled)
	return enabled, err
}

func (e *chromeElement) Click(ctx context.Context) error {
	return e.page.run(ctx, chromedp.MouseClickNode(e.node))
}

func (e *chromeElement) ScriptClick(ctx context.Context) error {
	return e.call(ctx, jsClick, nil)
}

func (e *chromeElement) Fill(ctx context.Context, value string) error {
	return e.page.run(ctx,
		chromedp.MouseClickNode(e.node),
		chromedp.Clear(e.ids(), chromedp.ByNodeID),
		chromedp.SendKeys(e.ids(), value, chromedp.ByNodeID),
	)
}

func (e *chromeElement) PressEnter(ctx context.Context) error {
	return e.page.run(ctx, chromedp.SendKeys(e.ids(), kb.Enter, chromedp.ByNodeID))
}

func (e *chromeElement) Select(ctx context.Context, value string) error {
	if err := e.page.run(ctx, chromedp.SetValue(e.ids(), value, chromedp.ByNodeID)); err != nil {
		return err
	}
	return e.call(ctx, jsFireChanged, nil)
}
