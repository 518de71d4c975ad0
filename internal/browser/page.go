package browser

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/chromedp"

	"github.com/mfukuda/fleawatch/internal/tracker"
)

// Result list selectors for the marketplace's current DOM.
const (
	cellSelector      = `li[data-testid="item-cell"]`
	cellLinkSelector  = "a"
	cellNameSelector  = `span[data-testid="thumbnail-item-name"]`
	cellPriceSelector = `span[class*="number"]`
	cellImageSelector = "picture img"
)

// page implements tracker.Page over one chromedp tab. Read-only inspection
// (structured data, meta tags, result cells) parses a DOM snapshot with
// goquery; interaction (waits, scrolling, screenshots) drives the live tab.
type page struct {
	ctx context.Context
	cfg Config
}

func (p *page) StructuredData(ctx context.Context) ([]string, error) {
	doc, err := p.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	var blocks []string
	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, sel *goquery.Selection) {
		if raw := strings.TrimSpace(sel.Text()); raw != "" {
			blocks = append(blocks, raw)
		}
	})
	return blocks, nil
}

func (p *page) MetaContent(ctx context.Context, property string) (string, error) {
	doc, err := p.snapshot(ctx)
	if err != nil {
		return "", err
	}
	content, _ := doc.Find(fmt.Sprintf(`meta[property=%q]`, property)).Attr("content")
	return content, nil
}

func (p *page) ElementText(ctx context.Context, selector string, timeout time.Duration) (string, error) {
	waitCtx, cancel := context.WithTimeout(p.run(ctx), timeout)
	defer cancel()

	var text string
	err := chromedp.Run(waitCtx,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.Text(selector, &text, chromedp.ByQuery),
	)
	if err != nil {
		return "", fmt.Errorf("read element %s: %w", selector, err)
	}
	return text, nil
}

func (p *page) ElementExists(ctx context.Context, selector string) (bool, error) {
	var present bool
	script := fmt.Sprintf(`document.querySelector(%q) !== null`, selector)
	if err := chromedp.Run(p.run(ctx), chromedp.Evaluate(script, &present)); err != nil {
		return false, fmt.Errorf("probe element %s: %w", selector, err)
	}
	return present, nil
}

func (p *page) Cells(ctx context.Context) ([]tracker.Cell, error) {
	doc, err := p.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	var cells []tracker.Cell
	doc.Find(cellSelector).Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Find(cellLinkSelector).Attr("href")
		image, _ := sel.Find(cellImageSelector).Attr("src")
		cells = append(cells, tracker.Cell{
			Href:      href,
			Name:      strings.TrimSpace(sel.Find(cellNameSelector).Text()),
			PriceText: sel.Find(cellPriceSelector).Text(),
			ImageURL:  image,
		})
	})
	return cells, nil
}

func (p *page) Reveal(ctx context.Context) error {
	script := fmt.Sprintf("window.scrollBy(0, %d)", p.cfg.RevealStepPx)
	err := chromedp.Run(p.run(ctx),
		chromedp.Evaluate(script, nil),
		chromedp.Sleep(p.cfg.SettleDelay),
	)
	if err != nil {
		return fmt.Errorf("scroll page: %w", err)
	}
	return nil
}

// ScrollTop walks back to the top in steps, pausing so lazily loaded images
// in each section materialize before a screenshot.
func (p *page) ScrollTop(ctx context.Context) error {
	runCtx := p.run(ctx)
	var y float64
	if err := chromedp.Run(runCtx, chromedp.Evaluate("window.scrollY", &y)); err != nil {
		return fmt.Errorf("read scroll position: %w", err)
	}
	for y > 0 {
		y -= 1200
		if y < 0 {
			y = 0
		}
		err := chromedp.Run(runCtx,
			chromedp.Evaluate(fmt.Sprintf("window.scrollTo(0, %d)", int(y)), nil),
			chromedp.Sleep(600*time.Millisecond),
		)
		if err != nil {
			return fmt.Errorf("scroll to top: %w", err)
		}
	}
	return chromedp.Run(runCtx, chromedp.Sleep(2*time.Second))
}

func (p *page) Screenshot(ctx context.Context) ([]byte, error) {
	var shot []byte
	if err := chromedp.Run(p.run(ctx), chromedp.FullScreenshot(&shot, 90)); err != nil {
		return nil, fmt.Errorf("capture screenshot: %w", err)
	}
	return shot, nil
}

func (p *page) snapshot(ctx context.Context) (*goquery.Document, error) {
	var html string
	if err := chromedp.Run(p.run(ctx), chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return nil, fmt.Errorf("snapshot dom: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse dom snapshot: %w", err)
	}
	return doc, nil
}

// run returns the tab context that bounds every operation on this page.
// Caller cancellation is forwarded to the tab by Open, so the passed
// context never needs to be chained here.
func (p *page) run(_ context.Context) context.Context {
	return p.ctx
}
