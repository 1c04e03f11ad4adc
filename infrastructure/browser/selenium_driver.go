package browser

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tebeka/selenium"
	"github.com/tebeka/selenium/chrome"

	"spectra/config"
	"spectra/domain/entities"
	"spectra/domain/interfaces"
)

// SeleniumDriver is the fallback browser engine, used when playwright
// cannot launch. It cannot observe network traffic or the console, so
// validation runs degraded against it.
type SeleniumDriver struct {
	wd      selenium.WebDriver
	service *selenium.Service
	logger  *logrus.Logger
}

// findChromeDriver finds the ChromeDriver executable path.
func findChromeDriver() (string, error) {
	if path := os.Getenv("BROWSER_DRIVER_PATH"); path != "" {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	commonPaths := []string{
		"/usr/local/bin/chromedriver",
		"/usr/bin/chromedriver",
		"/opt/homebrew/bin/chromedriver",
		filepath.Join(os.Getenv("HOME"), "bin", "chromedriver"),
	}

	for _, path := range commonPaths {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	if path, err := exec.LookPath("chromedriver"); err == nil {
		return path, nil
	}

	return "", fmt.Errorf("chromedriver not found, install it or set BROWSER_DRIVER_PATH")
}

// findChromeBinary finds the Chrome/Chromium browser executable path.
func findChromeBinary() string {
	if path := os.Getenv("CHROME_BINARY_PATH"); path != "" {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	chromePaths := []string{
		"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
		"/Applications/Chromium.app/Contents/MacOS/Chromium",
		"/usr/bin/google-chrome",
		"/usr/bin/chromium",
		"/usr/bin/chromium-browser",
	}

	for _, path := range chromePaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	for _, name := range []string{"google-chrome", "chromium", "chromium-browser"} {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}

	return ""
}

// NewSeleniumDriver starts a chromedriver service and connects to it.
func NewSeleniumDriver(cfg config.BrowserConfig, logger *logrus.Logger) (*SeleniumDriver, error) {
	driverPath, err := findChromeDriver()
	if err != nil {
		return nil, fmt.Errorf("failed to find chromedriver: %w", err)
	}
	logger.WithField("path", driverPath).Info("Using ChromeDriver")

	port := cfg.DriverPort
	if port == 0 {
		port = 9515
	}

	service, err := selenium.NewChromeDriverService(driverPath, port)
	if err != nil {
		return nil, fmt.Errorf("failed to start chromedriver: %w", err)
	}

	caps := selenium.Capabilities{"browserName": "chrome"}
	args := []string{
		"--disable-blink-features=AutomationControlled",
		"--disable-dev-shm-usage",
		"--no-sandbox",
	}
	if cfg.Headless {
		args = append(args, "--headless=new")
	}
	if cfg.ViewportWidth > 0 && cfg.ViewportHeight > 0 {
		args = append(args, fmt.Sprintf("--window-size=%d,%d", cfg.ViewportWidth, cfg.ViewportHeight))
	}

	chromeCaps := chrome.Capabilities{Args: args}
	if binary := findChromeBinary(); binary != "" {
		chromeCaps.Path = binary
	}
	caps.AddChrome(chromeCaps)

	wd, err := selenium.NewRemote(caps, fmt.Sprintf("http://localhost:%d/wd/hub", port))
	if err != nil {
		service.Stop()
		return nil, fmt.Errorf("failed to create webdriver: %w", err)
	}

	return &SeleniumDriver{wd: wd, service: service, logger: logger}, nil
}

// Name identifies the engine.
func (s *SeleniumDriver) Name() string {
	return "selenium/chrome"
}

// Navigate loads a URL.
func (s *SeleniumDriver) Navigate(ctx context.Context, url string) error {
	return s.wd.Get(url)
}

// Click scrolls an element into view and clicks it.
func (s *SeleniumDriver) Click(ctx context.Context, selector string) error {
	element, err := s.wd.FindElement(selenium.ByCSSSelector, selector)
	if err != nil {
		return fmt.Errorf("element not found: %w", err)
	}

	script := `arguments[0].scrollIntoView({ behavior: 'auto', block: 'center' });`
	if _, err := s.wd.ExecuteScript(script, []interface{}{element}); err != nil {
		s.logger.WithError(err).Warn("Failed to scroll to element")
	}

	return element.Click()
}

// Fill clears an input and types text into it.
func (s *SeleniumDriver) Fill(ctx context.Context, selector, text string) error {
	element, err := s.wd.FindElement(selenium.ByCSSSelector, selector)
	if err != nil {
		return fmt.Errorf("element not found: %w", err)
	}
	if err := element.Clear(); err != nil {
		s.logger.WithError(err).Warn("Failed to clear element")
	}
	return element.SendKeys(text)
}

// Hover moves the pointer over an element.
func (s *SeleniumDriver) Hover(ctx context.Context, selector string) error {
	element, err := s.wd.FindElement(selenium.ByCSSSelector, selector)
	if err != nil {
		return fmt.Errorf("element not found: %w", err)
	}
	return element.MoveTo(0, 0)
}

// Press sends a key press to an element.
func (s *SeleniumDriver) Press(ctx context.Context, selector, key string) error {
	element, err := s.wd.FindElement(selenium.ByCSSSelector, selector)
	if err != nil {
		return fmt.Errorf("element not found: %w", err)
	}
	return element.SendKeys(seleniumKey(key))
}

func seleniumKey(key string) string {
	switch key {
	case "Enter":
		return selenium.EnterKey
	case "Tab":
		return selenium.TabKey
	case "Escape":
		return selenium.EscapeKey
	case "Backspace":
		return selenium.BackspaceKey
	}
	return key
}

// Scroll scrolls the page via JavaScript.
func (s *SeleniumDriver) Scroll(ctx context.Context, direction string) error {
	script := ""
	switch direction {
	case "down", "":
		script = "window.scrollBy(0, window.innerHeight);"
	case "up":
		script = "window.scrollBy(0, -window.innerHeight);"
	case "top":
		script = "window.scrollTo(0, 0);"
	case "bottom":
		script = "window.scrollTo(0, document.body.scrollHeight);"
	default:
		return fmt.Errorf("unknown scroll direction: %s", direction)
	}
	_, err := s.wd.ExecuteScript(script, nil)
	return err
}

// WaitForSelector polls until the selector is displayed.
func (s *SeleniumDriver) WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		if element, err := s.wd.FindElement(selenium.ByCSSSelector, selector); err == nil {
			if visible, _ := element.IsDisplayed(); visible {
				return nil
			}
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("element %s not visible after %s", selector, timeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}
}

// CurrentURL returns the current page URL.
func (s *SeleniumDriver) CurrentURL(ctx context.Context) (string, error) {
	return s.wd.CurrentURL()
}

// Title returns the current page title.
func (s *SeleniumDriver) Title(ctx context.Context) (string, error) {
	return s.wd.Title()
}

// Content returns the page source.
func (s *SeleniumDriver) Content(ctx context.Context) (string, error) {
	return s.wd.PageSource()
}

// VisibleText extracts visible text content from the page.
func (s *SeleniumDriver) VisibleText(ctx context.Context) (string, error) {
	script := `
	return (function() {
		const walker = document.createTreeWalker(
			document.body,
			NodeFilter.SHOW_TEXT,
			null,
			false
		);

		const texts = [];
		let node;
		while (node = walker.nextNode()) {
			const parent = node.parentElement;
			if (!parent) continue;
			const style = window.getComputedStyle(parent);
			if (style.display === 'none' || style.visibility === 'hidden') continue;
			const text = node.textContent.trim();
			if (text.length > 0) texts.push(text);
		}

		return texts.join(' ').substring(0, 10000);
	})();
	`

	result, err := s.wd.ExecuteScript(script, nil)
	if err != nil {
		return "", err
	}
	if text, ok := result.(string); ok {
		return text, nil
	}
	return "", nil
}

// Evaluate runs a JavaScript expression and returns its value.
func (s *SeleniumDriver) Evaluate(ctx context.Context, script string) (interface{}, error) {
	return s.wd.ExecuteScript("return ("+script+")();", nil)
}

// Screenshot captures the current page as PNG bytes.
func (s *SeleniumDriver) Screenshot(ctx context.Context) ([]byte, error) {
	return s.wd.Screenshot()
}

// Cookies returns cookies of the current session.
func (s *SeleniumDriver) Cookies(ctx context.Context) ([]entities.Cookie, error) {
	raw, err := s.wd.GetCookies()
	if err != nil {
		return nil, fmt.Errorf("failed to read cookies: %w", err)
	}

	cookies := make([]entities.Cookie, 0, len(raw))
	for _, c := range raw {
		cookie := entities.Cookie{
			Name:   c.Name,
			Value:  c.Value,
			Domain: c.Domain,
			Path:   c.Path,
			Secure: c.Secure,
		}
		if c.Expiry > 0 {
			cookie.Expires = time.Unix(int64(c.Expiry), 0)
		}
		cookies = append(cookies, cookie)
	}
	return cookies, nil
}

// SetCookies installs cookies into the current session.
func (s *SeleniumDriver) SetCookies(ctx context.Context, cookies []entities.Cookie) error {
	for _, c := range cookies {
		cookie := &selenium.Cookie{
			Name:   c.Name,
			Value:  c.Value,
			Domain: c.Domain,
			Path:   c.Path,
			Secure: c.Secure,
		}
		if !c.Expires.IsZero() {
			cookie.Expiry = uint(c.Expires.Unix())
		}
		if err := s.wd.AddCookie(cookie); err != nil {
			return fmt.Errorf("failed to set cookie %s: %w", c.Name, err)
		}
	}
	return nil
}

// Back moves back through browser history.
func (s *SeleniumDriver) Back(ctx context.Context) error {
	return s.wd.Back()
}

// Forward moves forward through browser history.
func (s *SeleniumDriver) Forward(ctx context.Context) error {
	return s.wd.Forward()
}

// Refresh reloads the current page.
func (s *SeleniumDriver) Refresh(ctx context.Context) error {
	return s.wd.Refresh()
}

// OpenTab opens a new window and switches to it.
func (s *SeleniumDriver) OpenTab(ctx context.Context, url string) error {
	if _, err := s.wd.ExecuteScript("window.open('about:blank', '_blank');", nil); err != nil {
		return fmt.Errorf("failed to open tab: %w", err)
	}

	handles, err := s.wd.WindowHandles()
	if err != nil {
		return err
	}
	if err := s.wd.SwitchWindow(handles[len(handles)-1]); err != nil {
		return err
	}

	if url != "" {
		return s.wd.Get(url)
	}
	return nil
}

// SwitchTab activates the window at index.
func (s *SeleniumDriver) SwitchTab(index int) error {
	handles, err := s.wd.WindowHandles()
	if err != nil {
		return err
	}
	if index < 0 || index >= len(handles) {
		return fmt.Errorf("invalid tab index: %d (available tabs: %d)", index, len(handles))
	}
	return s.wd.SwitchWindow(handles[index])
}

// CloseTab closes the current window and switches to the first one.
func (s *SeleniumDriver) CloseTab(ctx context.Context) error {
	if err := s.wd.CloseWindow(""); err != nil {
		return err
	}
	handles, err := s.wd.WindowHandles()
	if err != nil || len(handles) == 0 {
		return err
	}
	return s.wd.SwitchWindow(handles[0])
}

// Tabs returns the open windows. Titles are only known for the active
// window under the webdriver protocol.
func (s *SeleniumDriver) Tabs() []entities.TabInfo {
	handles, err := s.wd.WindowHandles()
	if err != nil {
		return nil
	}

	current, _ := s.wd.CurrentWindowHandle()
	tabs := make([]entities.TabInfo, 0, len(handles))
	for i, h := range handles {
		tab := entities.TabInfo{Index: i, Active: h == current}
		if tab.Active {
			tab.URL, _ = s.wd.CurrentURL()
			tab.Title, _ = s.wd.Title()
		}
		tabs = append(tabs, tab)
	}
	return tabs
}

// OnNetwork is unsupported by the webdriver protocol.
func (s *SeleniumDriver) OnNetwork(fn func(entities.NetworkEvent)) bool {
	return false
}

// OnConsole is unsupported by the webdriver protocol.
func (s *SeleniumDriver) OnConsole(fn func(entities.ConsoleEvent)) bool {
	return false
}

// Close quits the browser and stops the chromedriver service.
func (s *SeleniumDriver) Close() error {
	if s.wd != nil {
		s.wd.Quit()
	}
	if s.service != nil {
		s.service.Stop()
	}
	return nil
}

// Ensure SeleniumDriver implements Driver interface
var _ interfaces.Driver = (*SeleniumDriver)(nil)
