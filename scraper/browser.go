package scraper

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// BrowserFetcher renders JavaScript-heavy search pages in headless Chromium
type BrowserFetcher struct {
	browser   *rod.Browser
	userAgent string
}

// NewBrowserFetcher launches a headless browser
func NewBrowserFetcher(chromeBin, userAgent string) (*BrowserFetcher, error) {
	l := launcher.New().
		Headless(true).
		NoSandbox(true).
		Leakless(false)

	if chromeBin != "" {
		l = l.Bin(chromeBin)
	} else if _, err := os.Stat("/usr/bin/chromium-browser"); err == nil {
		l = l.Bin("/usr/bin/chromium-browser")
		log.Printf("Using system Chromium")
	}

	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}
	log.Printf("✅ Browser ready at %s", controlURL)

	return &BrowserFetcher{browser: browser, userAgent: userAgent}, nil
}

// Fetch opens the page in a fresh tab bound to ctx and returns the rendered HTML
func (b *BrowserFetcher) Fetch(ctx context.Context, pageURL string) (string, error) {
	page, err := b.browser.Context(ctx).Page(proto.TargetCreateTarget{})
	if err != nil {
		return "", fmt.Errorf("failed to open tab: %w", err)
	}
	defer page.Close()

	if b.userAgent != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: b.userAgent}); err != nil {
			return "", fmt.Errorf("failed to set user agent: %w", err)
		}
	}
	if err := page.Navigate(pageURL); err != nil {
		return "", fmt.Errorf("failed to navigate: %w", err)
	}
	if err := page.WaitLoad(); err != nil {
		return "", fmt.Errorf("page did not load: %w", err)
	}

	html, err := page.HTML()
	if err != nil {
		return "", fmt.Errorf("failed to read page: %w", err)
	}
	return html, nil
}

// Close shuts the browser down
func (b *BrowserFetcher) Close() {
	if b.browser != nil {
		if err := b.browser.Close(); err != nil {
			log.Printf("⚠️  Failed to close browser: %v", err)
		}
	}
}
