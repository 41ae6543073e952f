package browser

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"

	"github.com/apthunt/harvester/models"
	"github.com/apthunt/harvester/script"
)

// Static drives plain HTTP extraction for targets that render
// server-side. It applies the request identity at the transport level
// and needs no running browser.
type Static struct {
	transport http.RoundTripper
}

// NewStatic builds the static automation.
func NewStatic() *Static {
	return &Static{}
}

// WithTransport swaps the HTTP transport. Tests install a mock here.
func (s *Static) WithTransport(rt http.RoundTripper) *Static {
	s.transport = rt
	return s
}

// Name implements Automation.
func (s *Static) Name() string { return "static" }

// Open implements Automation. A non-2xx response with a body still
// yields a Page so blocking interstitials stay inspectable.
func (s *Static) Open(ctx context.Context, target string, ident models.RequestIdentity, timeout time.Duration) (Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c := colly.NewCollector(colly.AllowURLRevisit())
	c.SetRequestTimeout(timeout)
	if ident.UserAgent != "" {
		c.UserAgent = ident.UserAgent
	}
	if s.transport != nil {
		c.WithTransport(s.transport)
	}
	if ident.Proxy != "" {
		if err := c.SetProxy(ident.Proxy); err != nil {
			return nil, fmt.Errorf("configure proxy: %w", err)
		}
	}

	c.OnRequest(func(r *colly.Request) {
		if ident.Referer != "" {
			r.Headers.Set("Referer", ident.Referer)
		}
		for k, v := range ident.Headers {
			r.Headers.Set(k, v)
		}
	})

	var (
		status   int
		body     []byte
		fetchErr error
	)
	c.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
		body = r.Body
	})
	c.OnError(func(r *colly.Response, err error) {
		fetchErr = err
		if r != nil {
			status = r.StatusCode
			body = r.Body
		}
	})

	c.Visit(target)
	c.Wait()

	if len(body) == 0 && fetchErr != nil {
		if status >= http.StatusBadRequest {
			return nil, &StatusError{Code: status}
		}
		return nil, fetchErr
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return nil, fmt.Errorf("parse response markup: %w", err)
	}
	pageURL, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("parse page url: %w", err)
	}

	return &staticPage{doc: doc, html: string(body), status: status, pageURL: pageURL}, nil
}

type staticPage struct {
	doc     *goquery.Document
	html    string
	status  int
	pageURL *url.URL
}

func (p *staticPage) Status() int { return p.status }

func (p *staticPage) Snapshot() Snapshot {
	title := strings.TrimSpace(p.doc.Find("title").First().Text())
	return Snapshot{HTML: p.html, Title: title}
}

func (p *staticPage) Close() {}

// Extract applies the script definition selectors to the document.
func (p *staticPage) Extract(def *script.Definition) (models.Payload, error) {
	payload := models.Payload{PageURL: p.pageURL.String()}

	p.doc.Find(def.ListSelector).Each(func(_ int, card *goquery.Selection) {
		listing := models.RawListing{Fields: make(map[string]string, len(def.Fields))}
		for name, rule := range def.Fields {
			listing.Fields[name] = applyRule(card, rule)
		}
		listing.SourceURL = p.resolveLink(applyRule(card, def.Link))
		payload.Listings = append(payload.Listings, listing)
	})

	return payload, nil
}

func (p *staticPage) resolveLink(href string) string {
	if href == "" {
		return ""
	}
	parsed, err := url.Parse(href)
	if err != nil {
		return href
	}
	return p.pageURL.ResolveReference(parsed).String()
}

func applyRule(sel *goquery.Selection, rule script.FieldRule) string {
	found := sel.Find(rule.Selector).First()
	if rule.Attr != "" {
		value, _ := found.Attr(rule.Attr)
		return strings.TrimSpace(value)
	}
	return strings.TrimSpace(found.Text())
}
