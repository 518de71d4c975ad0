// Package tracker implements the listing extraction and change detection
// engine: field extraction from rendered listing pages, incremental search
// result collection, per-product price change detection, and batch checking.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinel errors shared across the engine and its collaborators.
var (
	// ErrNotFound is returned when a product does not exist in the store.
	ErrNotFound = errors.New("product not found")
	// ErrNoPricePoints is returned when a product has no recorded prices yet.
	ErrNoPricePoints = errors.New("no price points recorded")
	// ErrDuplicateItem is returned by ProductStore.Create when the item id
	// already exists (unique constraint race); callers recover by re-reading.
	ErrDuplicateItem = errors.New("item id already tracked")
	// ErrInvalidListingURL is returned when a URL carries no known item id.
	ErrInvalidListingURL = errors.New("no listing id found in url")
	// ErrSoldOutListing is returned when tracking is requested for a listing
	// that is already sold out.
	ErrSoldOutListing = errors.New("listing is sold out")
	// ErrCheckInProgress is returned when a batch check is requested while
	// another one is still running.
	ErrCheckInProgress = errors.New("check already in progress")
)

// ExtractionError reports that a listing page was reachable but the required
// fields could not be produced. It is always treated as transient.
type ExtractionError struct {
	Missing []string
	Cause   error
}

func (e *ExtractionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("extract listing: %v", e.Cause)
	}
	return fmt.Sprintf("could not find %s", strings.Join(e.Missing, " or "))
}

func (e *ExtractionError) Unwrap() error { return e.Cause }

// Listing is the best-effort record extracted from one listing page.
// Name, Price and ImageURL are nil until some extraction stage fills them.
type Listing struct {
	Name     *string
	Price    *int
	ImageURL *string
	SoldOut  bool
}

// Complete reports whether the listing is usable: both name and price set.
func (l Listing) Complete() bool {
	return l.Name != nil && l.Price != nil
}

func (l Listing) missing() []string {
	var fields []string
	if l.Name == nil {
		fields = append(fields, "name")
	}
	if l.Price == nil {
		fields = append(fields, "price")
	}
	return fields
}

// Image returns the image URL or the empty string when none was found.
func (l Listing) Image() string {
	if l.ImageURL == nil {
		return ""
	}
	return *l.ImageURL
}

// Product is a marketplace listing under price observation.
type Product struct {
	ID        int64     `json:"id"`
	ItemID    string    `json:"item_id"`
	Name      string    `json:"name"`
	URL       string    `json:"url"`
	ImageURL  string    `json:"image_url"`
	CreatedAt time.Time `json:"created_at"`
}

// ProductSummary is a product decorated with its latest recorded price.
// CurrentPrice is nil while the product has no price history.
type ProductSummary struct {
	Product
	CurrentPrice *int `json:"current_price"`
}

// PricePoint is one timestamped price observation. Rows are append-only.
type PricePoint struct {
	ID        int64     `json:"id"`
	ProductID int64     `json:"product_id"`
	Price     int       `json:"price"`
	ScrapedAt time.Time `json:"scraped_at"`
}

// CollectedItem is one search result harvested by the Collector. It is
// transient: the caller decides whether to track any of them.
type CollectedItem struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Price    int    `json:"price"`
	URL      string `json:"url"`
	ImageURL string `json:"image_url"`
}

// Cell is the raw content of one rendered result cell, before validation.
type Cell struct {
	Href      string
	Name      string
	PriceText string
	ImageURL  string
}

// TrackResult is returned by Service.Track.
type TrackResult struct {
	Product Product `json:"product"`
	Price   int     `json:"price"`
}

// Summary aggregates the outcome counters of one batch check run.
type Summary struct {
	Checked int `json:"checked"`
	Updated int `json:"updated"`
	Deleted int `json:"deleted"`
}

// Page is the capability surface over one rendered document. The engine
// depends only on these operations, not on any specific browser engine.
type Page interface {
	// StructuredData returns the raw text of every embedded structured-data
	// block on the page, in document order.
	StructuredData(ctx context.Context) ([]string, error)
	// MetaContent returns the content attribute of the named meta property,
	// or the empty string when the tag is absent.
	MetaContent(ctx context.Context, property string) (string, error)
	// ElementText waits up to the given timeout for the selector to become
	// visible and returns its text.
	ElementText(ctx context.Context, selector string, timeout time.Duration) (string, error)
	// ElementExists reports whether the selector matches any element.
	ElementExists(ctx context.Context, selector string) (bool, error)
	// Cells returns the currently rendered search result cells.
	Cells(ctx context.Context) ([]Cell, error)
	// Reveal triggers one incremental load of further results and waits for
	// the page to settle.
	Reveal(ctx context.Context) error
	// ScrollTop slowly traverses back to the top of the page so lazily
	// loaded assets materialize.
	ScrollTop(ctx context.Context) error
	// Screenshot captures the full page.
	Screenshot(ctx context.Context) ([]byte, error)
}

// Browser opens rendered pages. The returned func releases the page session.
type Browser interface {
	Open(ctx context.Context, url string) (Page, func(), error)
}

// ProductStore persists tracked products and their price history.
type ProductStore interface {
	Create(ctx context.Context, p Product) (Product, error)
	GetByItemID(ctx context.Context, itemID string) (Product, error)
	UpdateMeta(ctx context.Context, id int64, name, imageURL string) error
	ListAll(ctx context.Context) ([]Product, error)
	ListSummaries(ctx context.Context) ([]ProductSummary, error)
	History(ctx context.Context, productID int64) ([]PricePoint, error)
	LatestPrice(ctx context.Context, productID int64) (int, error)
	InsertPricePoint(ctx context.Context, productID int64, price int, at time.Time) error
	Delete(ctx context.Context, productID int64) error
}

// Notifier delivers change notifications. Delivery failures are handled by
// the implementation and never surface to the engine.
type Notifier interface {
	PriceDrop(ctx context.Context, name string, oldPrice, newPrice int, url string)
	TrackingEnded(ctx context.Context, name, url string)
}

// ArtifactStore persists diagnostic artifacts such as search screenshots.
type ArtifactStore interface {
	Put(ctx context.Context, name string, data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// SystemClock implements Clock using the wall clock in UTC.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time { return time.Now().UTC() }
