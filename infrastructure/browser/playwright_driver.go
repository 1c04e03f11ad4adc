package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
	"github.com/sirupsen/logrus"

	"spectra/config"
	"spectra/domain/entities"
	"spectra/domain/interfaces"
)

// PlaywrightDriver is the primary browser engine. It prefers chromium
// and falls back to firefox when chromium cannot launch.
type PlaywrightDriver struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	browserCtx playwright.BrowserContext
	page    playwright.Page
	engine  string
	logger  *logrus.Logger

	pages      []playwright.Page
	pagesMutex sync.Mutex

	listenerMu sync.Mutex
	networkFns []func(entities.NetworkEvent)
	consoleFns []func(entities.ConsoleEvent)
}

// NewPlaywrightDriver launches a browser and prepares a context.
func NewPlaywrightDriver(cfg config.BrowserConfig, logger *logrus.Logger) (*PlaywrightDriver, error) {
	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	launchOptions := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(cfg.Headless),
		Args: []string{
			"--disable-popup-blocking",
			"--disable-blink-features=AutomationControlled",
			"--disable-dev-shm-usage",
			"--no-sandbox",
			"--disable-infobars",
			"--disable-notifications",
		},
	}

	engine := "chromium"
	browser, err := pw.Chromium.Launch(launchOptions)
	if err != nil {
		logger.WithError(err).Warn("Chromium launch failed, trying firefox")
		engine = "firefox"
		browser, err = pw.Firefox.Launch(playwright.BrowserTypeLaunchOptions{
			Headless: playwright.Bool(cfg.Headless),
		})
		if err != nil {
			pw.Stop()
			return nil, fmt.Errorf("failed to launch browser: %w", err)
		}
	}

	contextOptions := playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{
			Width:  cfg.ViewportWidth,
			Height: cfg.ViewportHeight,
		},
		JavaScriptEnabled: playwright.Bool(true),
		IgnoreHttpsErrors: playwright.Bool(true),
		AcceptDownloads:   playwright.Bool(true),
	}
	if cfg.UserAgent != "" {
		contextOptions.UserAgent = playwright.String(cfg.UserAgent)
	}

	browserCtx, err := browser.NewContext(contextOptions)
	if err != nil {
		browser.Close()
		pw.Stop()
		return nil, fmt.Errorf("failed to create context: %w", err)
	}

	page, err := browserCtx.NewPage()
	if err != nil {
		browserCtx.Close()
		browser.Close()
		pw.Stop()
		return nil, fmt.Errorf("failed to create page: %w", err)
	}

	driver := &PlaywrightDriver{
		pw:         pw,
		browser:    browser,
		browserCtx: browserCtx,
		page:       page,
		engine:     engine,
		logger:     logger,
		pages:      []playwright.Page{page},
	}

	driver.wirePage(page)

	browserCtx.OnPage(func(newPage playwright.Page) {
		driver.pagesMutex.Lock()
		driver.pages = append(driver.pages, newPage)
		driver.page = newPage
		driver.pagesMutex.Unlock()

		driver.wirePage(newPage)
	})

	logger.WithField("engine", engine).Info("Browser launched")
	return driver, nil
}

// wirePage attaches dialog, close and observation handlers to a page.
func (d *PlaywrightDriver) wirePage(page playwright.Page) {
	page.OnDialog(func(dialog playwright.Dialog) {
		dialog.Accept()
	})

	page.OnClose(func(closedPage playwright.Page) {
		d.pagesMutex.Lock()
		defer d.pagesMutex.Unlock()

		for i, p := range d.pages {
			if p == closedPage {
				d.pages = append(d.pages[:i], d.pages[i+1:]...)
				break
			}
		}
		if d.page == closedPage && len(d.pages) > 0 {
			d.page = d.pages[0]
		}
	})

	page.OnRequest(func(request playwright.Request) {
		d.emitNetwork(entities.NetworkEvent{
			Kind:      "request",
			URL:       request.URL(),
			Method:    request.Method(),
			Timestamp: time.Now(),
		})
	})

	page.OnResponse(func(response playwright.Response) {
		d.emitNetwork(entities.NetworkEvent{
			Kind:      "response",
			URL:       response.URL(),
			Status:    response.Status(),
			Timestamp: time.Now(),
		})
	})

	page.OnRequestFailed(func(request playwright.Request) {
		event := entities.NetworkEvent{
			Kind:      "request_failed",
			URL:       request.URL(),
			Method:    request.Method(),
			Timestamp: time.Now(),
		}
		if failure := request.Failure(); failure != nil {
			event.Failure = failure.Error()
		}
		d.emitNetwork(event)
	})

	page.OnConsole(func(message playwright.ConsoleMessage) {
		d.emitConsole(entities.ConsoleEvent{
			Level:     message.Type(),
			Text:      message.Text(),
			Timestamp: time.Now(),
		})
	})
}

func (d *PlaywrightDriver) emitNetwork(event entities.NetworkEvent) {
	d.listenerMu.Lock()
	fns := make([]func(entities.NetworkEvent), len(d.networkFns))
	copy(fns, d.networkFns)
	d.listenerMu.Unlock()

	for _, fn := range fns {
		fn(event)
	}
}

func (d *PlaywrightDriver) emitConsole(event entities.ConsoleEvent) {
	d.listenerMu.Lock()
	fns := make([]func(entities.ConsoleEvent), len(d.consoleFns))
	copy(fns, d.consoleFns)
	d.listenerMu.Unlock()

	for _, fn := range fns {
		fn(event)
	}
}

func (d *PlaywrightDriver) currentPage() playwright.Page {
	d.pagesMutex.Lock()
	defer d.pagesMutex.Unlock()
	return d.page
}

// Name identifies the active engine.
func (d *PlaywrightDriver) Name() string {
	return "playwright/" + d.engine
}

// Navigate loads a URL and waits for network idle.
func (d *PlaywrightDriver) Navigate(ctx context.Context, url string) error {
	_, err := d.currentPage().Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateNetworkidle,
		Timeout:   playwright.Float(30000),
	})
	return err
}

// Click clicks an element after waiting for it to become visible.
func (d *PlaywrightDriver) Click(ctx context.Context, selector string) error {
	page := d.currentPage()
	locator := page.Locator(selector).First()

	err := locator.WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: playwright.Float(5000),
	})
	if err != nil {
		return fmt.Errorf("element not found or not visible: %w", err)
	}

	if err := locator.Click(); err != nil {
		return err
	}

	page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State:   playwright.LoadStateNetworkidle,
		Timeout: playwright.Float(5000),
	})
	return nil
}

// Fill clears an input and types text into it.
func (d *PlaywrightDriver) Fill(ctx context.Context, selector, text string) error {
	locator := d.currentPage().Locator(selector).First()

	err := locator.WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: playwright.Float(5000),
	})
	if err != nil {
		return fmt.Errorf("input field not found: %w", err)
	}

	locator.Clear()
	return locator.Fill(text)
}

// Hover moves the pointer over an element.
func (d *PlaywrightDriver) Hover(ctx context.Context, selector string) error {
	return d.currentPage().Locator(selector).First().Hover()
}

// Press sends a key press to an element.
func (d *PlaywrightDriver) Press(ctx context.Context, selector, key string) error {
	return d.currentPage().Locator(selector).First().Press(key)
}

// Scroll scrolls the page. Direction is one of down, up, top, bottom.
func (d *PlaywrightDriver) Scroll(ctx context.Context, direction string) error {
	page := d.currentPage()
	switch direction {
	case "down", "":
		return page.Keyboard().Press("PageDown")
	case "up":
		return page.Keyboard().Press("PageUp")
	case "top":
		return page.Keyboard().Press("Home")
	case "bottom":
		return page.Keyboard().Press("End")
	}
	return fmt.Errorf("unknown scroll direction: %s", direction)
}

// WaitForSelector blocks until the selector is visible.
func (d *PlaywrightDriver) WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error {
	return d.currentPage().Locator(selector).First().WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: playwright.Float(float64(timeout.Milliseconds())),
	})
}

// CurrentURL returns the current page URL.
func (d *PlaywrightDriver) CurrentURL(ctx context.Context) (string, error) {
	return d.currentPage().URL(), nil
}

// Title returns the current page title.
func (d *PlaywrightDriver) Title(ctx context.Context) (string, error) {
	return d.currentPage().Title()
}

// Content returns the rendered HTML of the page.
func (d *PlaywrightDriver) Content(ctx context.Context) (string, error) {
	return d.currentPage().Content()
}

// VisibleText walks visible text nodes and joins their content.
func (d *PlaywrightDriver) VisibleText(ctx context.Context) (string, error) {
	jsCode := `
	() => {
		const walker = document.createTreeWalker(
			document.body,
			NodeFilter.SHOW_TEXT,
			{
				acceptNode: function(node) {
					const parent = node.parentElement;
					if (!parent) return NodeFilter.FILTER_REJECT;
					const style = window.getComputedStyle(parent);
					if (style.display === 'none' || style.visibility === 'hidden') {
						return NodeFilter.FILTER_REJECT;
					}
					return NodeFilter.FILTER_ACCEPT;
				}
			}
		);

		const texts = [];
		let node;
		while (node = walker.nextNode()) {
			const text = node.textContent.trim();
			if (text.length > 0) {
				texts.push(text);
			}
		}

		return texts.join(' ').substring(0, 10000);
	}
	`

	result, err := d.currentPage().Evaluate(jsCode)
	if err != nil {
		return "", err
	}
	if text, ok := result.(string); ok {
		return text, nil
	}
	return "", nil
}

// Evaluate runs a JavaScript expression on the current page.
func (d *PlaywrightDriver) Evaluate(ctx context.Context, script string) (interface{}, error) {
	return d.currentPage().Evaluate(script)
}

// Screenshot captures the current page as PNG bytes.
func (d *PlaywrightDriver) Screenshot(ctx context.Context) ([]byte, error) {
	return d.currentPage().Screenshot()
}

// Cookies returns the cookies of the current context.
func (d *PlaywrightDriver) Cookies(ctx context.Context) ([]entities.Cookie, error) {
	raw, err := d.browserCtx.Cookies()
	if err != nil {
		return nil, fmt.Errorf("failed to read cookies: %w", err)
	}

	cookies := make([]entities.Cookie, 0, len(raw))
	for _, c := range raw {
		cookie := entities.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HttpOnly,
		}
		if c.Expires > 0 {
			cookie.Expires = time.Unix(int64(c.Expires), 0)
		}
		if c.SameSite != nil {
			cookie.SameSite = string(*c.SameSite)
		}
		cookies = append(cookies, cookie)
	}
	return cookies, nil
}

// SetCookies installs cookies into the current context.
func (d *PlaywrightDriver) SetCookies(ctx context.Context, cookies []entities.Cookie) error {
	optional := make([]playwright.OptionalCookie, 0, len(cookies))
	for _, c := range cookies {
		cookie := playwright.OptionalCookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   playwright.String(c.Domain),
			Path:     playwright.String(c.Path),
			Secure:   playwright.Bool(c.Secure),
			HttpOnly: playwright.Bool(c.HTTPOnly),
		}
		if !c.Expires.IsZero() {
			cookie.Expires = playwright.Float(float64(c.Expires.Unix()))
		}
		optional = append(optional, cookie)
	}
	return d.browserCtx.AddCookies(optional)
}

// Back moves back through browser history.
func (d *PlaywrightDriver) Back(ctx context.Context) error {
	_, err := d.currentPage().GoBack()
	return err
}

// Forward moves forward through browser history.
func (d *PlaywrightDriver) Forward(ctx context.Context) error {
	_, err := d.currentPage().GoForward()
	return err
}

// Refresh reloads the current page.
func (d *PlaywrightDriver) Refresh(ctx context.Context) error {
	_, err := d.currentPage().Reload()
	return err
}

// OpenTab opens a new tab and optionally navigates to url.
func (d *PlaywrightDriver) OpenTab(ctx context.Context, url string) error {
	newPage, err := d.browserCtx.NewPage()
	if err != nil {
		return fmt.Errorf("failed to create new page: %w", err)
	}

	if url != "" {
		if _, err := newPage.Goto(url, playwright.PageGotoOptions{
			WaitUntil: playwright.WaitUntilStateNetworkidle,
			Timeout:   playwright.Float(30000),
		}); err != nil {
			return fmt.Errorf("failed to navigate to %s: %w", url, err)
		}
	}
	return nil
}

// SwitchTab activates the tab at index.
func (d *PlaywrightDriver) SwitchTab(index int) error {
	d.pagesMutex.Lock()
	defer d.pagesMutex.Unlock()

	if index < 0 || index >= len(d.pages) {
		return fmt.Errorf("invalid tab index: %d (available tabs: %d)", index, len(d.pages))
	}
	d.page = d.pages[index]
	return nil
}

// CloseTab closes the current tab.
func (d *PlaywrightDriver) CloseTab(ctx context.Context) error {
	return d.currentPage().Close()
}

// Tabs returns the open tabs.
func (d *PlaywrightDriver) Tabs() []entities.TabInfo {
	d.pagesMutex.Lock()
	defer d.pagesMutex.Unlock()

	tabs := make([]entities.TabInfo, 0, len(d.pages))
	for i, p := range d.pages {
		title, _ := p.Title()
		tabs = append(tabs, entities.TabInfo{
			Index:  i,
			URL:    p.URL(),
			Title:  title,
			Active: p == d.page,
		})
	}
	return tabs
}

// OnNetwork registers a network event listener.
func (d *PlaywrightDriver) OnNetwork(fn func(entities.NetworkEvent)) bool {
	d.listenerMu.Lock()
	defer d.listenerMu.Unlock()
	d.networkFns = append(d.networkFns, fn)
	return true
}

// OnConsole registers a console message listener.
func (d *PlaywrightDriver) OnConsole(fn func(entities.ConsoleEvent)) bool {
	d.listenerMu.Lock()
	defer d.listenerMu.Unlock()
	d.consoleFns = append(d.consoleFns, fn)
	return true
}

// Close shuts down the context, browser and playwright runtime.
func (d *PlaywrightDriver) Close() error {
	var closeErr error

	if d.browserCtx != nil {
		if err := d.browserCtx.Close(); err != nil && !isClosedErr(err) {
			closeErr = fmt.Errorf("failed to close context: %w", err)
		}
		d.browserCtx = nil
	}

	if d.browser != nil {
		if err := d.browser.Close(); err != nil && !isClosedErr(err) {
			if closeErr != nil {
				closeErr = fmt.Errorf("%v; failed to close browser: %w", closeErr, err)
			} else {
				closeErr = fmt.Errorf("failed to close browser: %w", err)
			}
		}
		d.browser = nil
	}

	if d.pw != nil {
		d.pw.Stop()
		d.pw = nil
	}
	return closeErr
}

func isClosedErr(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "closed") || strings.Contains(msg, "target closed")
}

// Ensure PlaywrightDriver implements Driver interface
var _ interfaces.Driver = (*PlaywrightDriver)(nil)
