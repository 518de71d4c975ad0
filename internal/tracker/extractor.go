package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// Meta properties and on-page selectors used by the extraction stages.
const (
	metaTitleProperty = "og:title"
	metaPriceProperty = "product:price:amount"
	metaImageProperty = "og:image"

	priceSelector   = `div[data-testid="price"]`
	soldOutSelector = `button[data-testid="checkout-button"][disabled]`
)

var nonDigits = regexp.MustCompile(`\D`)

// ExtractorConfig controls extraction behavior.
type ExtractorConfig struct {
	// ElementTimeout bounds the wait for the on-page price element.
	ElementTimeout time.Duration
}

// Extractor produces a Listing from a rendered page using an ordered
// fallback chain: structured data, then meta tags, then a site-specific
// price element, then the sold-out probe. Each stage only fills fields the
// previous stages left unset.
type Extractor struct {
	cfg    ExtractorConfig
	logger *zap.Logger
}

// NewExtractor constructs an Extractor.
func NewExtractor(cfg ExtractorConfig, logger *zap.Logger) *Extractor {
	if cfg.ElementTimeout <= 0 {
		cfg.ElementTimeout = 5 * time.Second
	}
	return &Extractor{cfg: cfg, logger: logger}
}

type extractionStage struct {
	name string
	run  func(ctx context.Context, page Page, l *Listing) error
}

// Extract runs the fallback chain. On success the returned Listing has both
// name and price set. On failure the Listing is still returned so callers
// can observe the sold-out flag, which is detected independently of the
// other fields.
func (e *Extractor) Extract(ctx context.Context, page Page) (Listing, error) {
	var l Listing
	stages := []extractionStage{
		{"structured_data", e.fromStructuredData},
		{"meta_tags", e.fromMetaTags},
		{"price_element", e.fromPriceElement},
		{"sold_out", e.fromSoldOutControl},
	}
	for _, stage := range stages {
		if err := stage.run(ctx, page, &l); err != nil {
			return l, &ExtractionError{Cause: fmt.Errorf("%s stage: %w", stage.name, err)}
		}
	}
	if !l.Complete() {
		return l, &ExtractionError{Missing: l.missing()}
	}
	return l, nil
}

// fromStructuredData scans the embedded product-markup blocks and accepts
// the first one typed as a Product entity. Malformed blocks are skipped.
func (e *Extractor) fromStructuredData(ctx context.Context, page Page, l *Listing) error {
	blocks, err := page.StructuredData(ctx)
	if err != nil {
		return err
	}
	for _, raw := range blocks {
		product, ok := productNode(raw)
		if !ok {
			continue
		}
		if name, ok := product["name"].(string); ok && name != "" {
			l.Name = &name
		}
		if image, ok := imageFromNode(product["image"]); ok {
			l.ImageURL = &image
		}
		if price, ok := priceFromOffers(product["offers"]); ok {
			l.Price = &price
		}
		return nil
	}
	return nil
}

// fromMetaTags fills still-unset fields from page-level product meta tags.
func (e *Extractor) fromMetaTags(ctx context.Context, page Page, l *Listing) error {
	if l.Name == nil {
		title, err := page.MetaContent(ctx, metaTitleProperty)
		if err != nil {
			return err
		}
		if title != "" {
			l.Name = &title
		}
	}
	if l.Price == nil {
		amount, err := page.MetaContent(ctx, metaPriceProperty)
		if err != nil {
			return err
		}
		if price, ok := parsePriceText(amount); ok {
			l.Price = &price
		}
	}
	if l.ImageURL == nil {
		image, err := page.MetaContent(ctx, metaImageProperty)
		if err != nil {
			return err
		}
		if image != "" {
			l.ImageURL = &image
		}
	}
	return nil
}

// fromPriceElement reads the on-page price element as a last resort. A wait
// timeout is an expected outcome here and leaves the price unset; it is not
// an extraction fault.
func (e *Extractor) fromPriceElement(ctx context.Context, page Page, l *Listing) error {
	if l.Price != nil {
		return nil
	}
	text, err := page.ElementText(ctx, priceSelector, e.cfg.ElementTimeout)
	if err != nil {
		e.logger.Debug("price element not visible", zap.Error(err))
		return nil
	}
	if price, ok := parsePriceText(text); ok {
		l.Price = &price
	}
	return nil
}

// fromSoldOutControl probes for the disabled purchase control. It runs
// regardless of whether the other stages produced anything.
func (e *Extractor) fromSoldOutControl(ctx context.Context, page Page, l *Listing) error {
	present, err := page.ElementExists(ctx, soldOutSelector)
	if err != nil {
		return err
	}
	l.SoldOut = present
	return nil
}

// productNode parses one structured-data block and returns the first node
// typed as a Product. Blocks may be a single object, a @graph-shaped object,
// or a top-level array.
func productNode(raw string) (map[string]any, bool) {
	var data any
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, false
	}
	switch v := data.(type) {
	case map[string]any:
		if graph, ok := v["@graph"].([]any); ok {
			return firstProduct(graph)
		}
		if v["@type"] == "Product" {
			return v, true
		}
	case []any:
		return firstProduct(v)
	}
	return nil, false
}

func firstProduct(nodes []any) (map[string]any, bool) {
	for _, node := range nodes {
		if m, ok := node.(map[string]any); ok && m["@type"] == "Product" {
			return m, true
		}
	}
	return nil, false
}

// imageFromNode accepts either a single image URL or a list of them, in
// which case the first entry wins.
func imageFromNode(node any) (string, bool) {
	switch v := node.(type) {
	case string:
		return v, v != ""
	case []any:
		if len(v) > 0 {
			if s, ok := v[0].(string); ok && s != "" {
				return s, true
			}
		}
	}
	return "", false
}

// priceFromOffers reads the price from an offer object or the first element
// of an offer list.
func priceFromOffers(node any) (int, bool) {
	switch v := node.(type) {
	case map[string]any:
		return priceValue(v["price"])
	case []any:
		if len(v) > 0 {
			if offer, ok := v[0].(map[string]any); ok {
				return priceValue(offer["price"])
			}
		}
	}
	return 0, false
}

// priceValue normalizes a JSON price (number or string) to a plain integer.
func priceValue(node any) (int, bool) {
	switch v := node.(type) {
	case float64:
		return int(v), true
	case string:
		return parsePriceText(v)
	}
	return 0, false
}

// parsePriceText strips every non-digit character and parses the remainder
// as an integer. Prices in this domain are integral currency units.
func parsePriceText(text string) (int, bool) {
	digits := nonDigits.ReplaceAllString(text, "")
	if digits == "" {
		return 0, false
	}
	price, err := strconv.Atoi(digits)
	if err != nil {
		return 0, false
	}
	return price, true
}
