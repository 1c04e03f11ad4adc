package interfaces

import (
	"context"
	"time"

	"spectra/domain/entities"
)

// Driver defines the browser automation boundary. Implementations wrap
// a concrete engine (playwright, selenium) behind the same contract so
// the navigation engine never depends on engine internals.
type Driver interface {
	// Name identifies the underlying engine.
	Name() string

	// Navigate loads a URL and waits for the page to settle.
	Navigate(ctx context.Context, url string) error

	// Click clicks an element by CSS selector.
	Click(ctx context.Context, selector string) error

	// Fill clears and types text into an element by CSS selector.
	Fill(ctx context.Context, selector, text string) error

	// Hover moves the pointer over an element.
	Hover(ctx context.Context, selector string) error

	// Press sends a key press to an element.
	Press(ctx context.Context, selector, key string) error

	// Scroll scrolls the page. Direction is one of down, up, top, bottom.
	Scroll(ctx context.Context, direction string) error

	// WaitForSelector blocks until the selector is visible.
	WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error

	// CurrentURL returns the current page URL.
	CurrentURL(ctx context.Context) (string, error)

	// Title returns the current page title.
	Title(ctx context.Context) (string, error)

	// Content returns the page's rendered HTML.
	Content(ctx context.Context) (string, error)

	// VisibleText returns the visible text content of the page.
	VisibleText(ctx context.Context) (string, error)

	// Evaluate runs a JavaScript expression and returns its JSON value.
	Evaluate(ctx context.Context, script string) (interface{}, error)

	// Screenshot captures the current page as PNG bytes.
	Screenshot(ctx context.Context) ([]byte, error)

	// Cookies returns the cookies of the current context.
	Cookies(ctx context.Context) ([]entities.Cookie, error)

	// SetCookies installs cookies into the current context.
	SetCookies(ctx context.Context, cookies []entities.Cookie) error

	// Back and Forward move through browser history.
	Back(ctx context.Context) error
	Forward(ctx context.Context) error

	// Refresh reloads the current page.
	Refresh(ctx context.Context) error

	// OpenTab opens a new tab, optionally navigating to url.
	OpenTab(ctx context.Context, url string) error

	// SwitchTab activates the tab at index.
	SwitchTab(index int) error

	// CloseTab closes the current tab.
	CloseTab(ctx context.Context) error

	// Tabs returns the open tabs.
	Tabs() []entities.TabInfo

	// OnNetwork registers a listener for network events. Drivers that
	// cannot observe traffic return false.
	OnNetwork(fn func(entities.NetworkEvent)) bool

	// OnConsole registers a listener for console messages. Drivers that
	// cannot observe the console return false.
	OnConsole(fn func(entities.ConsoleEvent)) bool

	// Close shuts the browser down.
	Close() error
}
