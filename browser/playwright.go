package browser

import (
	"context"
	"fmt"
	"strings"
	"time"

	pw "github.com/playwright-community/playwright-go"

	"github.com/apthunt/harvester/models"
	"github.com/apthunt/harvester/script"
)

// Playwright drives a real Chromium instance for targets that render
// client-side or fingerprint plain HTTP clients.
type Playwright struct {
	pw      *pw.Playwright
	browser pw.Browser
}

// NewPlaywright starts the driver and either connects to a remote
// browser endpoint over CDP or launches a headless Chromium locally.
func NewPlaywright(endpoint string) (*Playwright, error) {
	driver, err := pw.Run()
	if err != nil {
		return nil, fmt.Errorf("start playwright: %w", err)
	}

	var browser pw.Browser
	if endpoint != "" {
		browser, err = driver.Chromium.ConnectOverCDP(endpoint)
	} else {
		browser, err = driver.Chromium.Launch(pw.BrowserTypeLaunchOptions{
			Headless: pw.Bool(true),
		})
	}
	if err != nil {
		driver.Stop()
		return nil, fmt.Errorf("open browser: %w", err)
	}

	return &Playwright{pw: driver, browser: browser}, nil
}

// Name implements Automation.
func (p *Playwright) Name() string { return "playwright" }

// Close shuts the browser and the driver down.
func (p *Playwright) Close() error {
	if err := p.browser.Close(); err != nil {
		p.pw.Stop()
		return fmt.Errorf("close browser: %w", err)
	}
	return p.pw.Stop()
}

// Open implements Automation. Each attempt gets its own browser
// context carrying the identity's fingerprint.
func (p *Playwright) Open(ctx context.Context, target string, ident models.RequestIdentity, timeout time.Duration) (Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	opts := pw.BrowserNewContextOptions{
		Locale: pw.String("en-US"),
	}
	if ident.UserAgent != "" {
		opts.UserAgent = pw.String(ident.UserAgent)
	}
	if ident.Viewport.Width > 0 && ident.Viewport.Height > 0 {
		opts.Viewport = &pw.Size{Width: ident.Viewport.Width, Height: ident.Viewport.Height}
	}
	if ident.Timezone != "" {
		opts.TimezoneId = pw.String(ident.Timezone)
	}
	if ident.Proxy != "" {
		opts.Proxy = &pw.Proxy{Server: ident.Proxy}
	}
	headers := make(map[string]string, len(ident.Headers)+1)
	for k, v := range ident.Headers {
		headers[k] = v
	}
	if ident.Referer != "" {
		headers["Referer"] = ident.Referer
	}
	if len(headers) > 0 {
		opts.ExtraHttpHeaders = headers
	}

	bctx, err := p.browser.NewContext(opts)
	if err != nil {
		return nil, fmt.Errorf("new browser context: %w", err)
	}

	page, err := bctx.NewPage()
	if err != nil {
		bctx.Close()
		return nil, fmt.Errorf("new page: %w", err)
	}

	resp, err := page.Goto(target, pw.PageGotoOptions{
		WaitUntil: pw.WaitUntilStateDomcontentloaded,
		Timeout:   pw.Float(float64(timeout.Milliseconds())),
	})
	if err != nil {
		bctx.Close()
		return nil, fmt.Errorf("navigate: %w", err)
	}

	status := 0
	if resp != nil {
		status = resp.Status()
	}
	return &livePage{ctx: bctx, page: page, status: status, timeout: timeout}, nil
}

type livePage struct {
	ctx     pw.BrowserContext
	page    pw.Page
	status  int
	timeout time.Duration
}

func (p *livePage) Status() int { return p.status }

func (p *livePage) Close() {
	p.ctx.Close()
}

func (p *livePage) Snapshot() Snapshot {
	snap := Snapshot{}
	if html, err := p.page.Content(); err == nil {
		snap.HTML = html
	}
	if title, err := p.page.Title(); err == nil {
		snap.Title = title
	}
	if shot, err := p.page.Screenshot(pw.PageScreenshotOptions{}); err == nil {
		snap.Screenshot = shot
	}
	return snap
}

// Extract waits for the readiness selector, then walks the listing
// cards with the script's selectors.
func (p *livePage) Extract(def *script.Definition) (models.Payload, error) {
	payload := models.Payload{PageURL: p.page.URL()}

	if def.WaitFor != "" {
		err := p.page.Locator(def.WaitFor).First().WaitFor(pw.LocatorWaitForOptions{
			Timeout: pw.Float(float64(p.timeout.Milliseconds())),
		})
		if err != nil {
			// Missing readiness selector is a structural signal, not
			// an automation fault: report an empty payload.
			return payload, nil
		}
	}

	cards := p.page.Locator(def.ListSelector)
	count, err := cards.Count()
	if err != nil {
		return payload, fmt.Errorf("count listing cards: %w", err)
	}

	for i := 0; i < count; i++ {
		card := cards.Nth(i)
		listing := models.RawListing{Fields: make(map[string]string, len(def.Fields))}
		for name, rule := range def.Fields {
			listing.Fields[name] = p.applyRule(card, rule)
		}
		listing.SourceURL = p.applyRule(card, def.Link)
		payload.Listings = append(payload.Listings, listing)
	}

	return payload, nil
}

func (p *livePage) applyRule(card pw.Locator, rule script.FieldRule) string {
	found := card.Locator(rule.Selector).First()
	if rule.Attr != "" {
		value, err := found.GetAttribute(rule.Attr)
		if err != nil {
			return ""
		}
		return strings.TrimSpace(value)
	}
	text, err := found.TextContent()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(text)
}
