package tracker

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mfukuda/fleawatch/internal/metrics"
)

// ServiceConfig holds the marketplace endpoints the service talks to.
type ServiceConfig struct {
	// SiteBaseURL is the marketplace origin, e.g. https://jp.mercari.com.
	SiteBaseURL string
	// SearchBaseURL is the search page, e.g. https://jp.mercari.com/search.
	SearchBaseURL string
}

// Service is the invocation surface over the engine: each method maps to
// one core operation plus storage glue.
type Service struct {
	cfg       ServiceConfig
	browser   Browser
	store     ProductStore
	extractor *Extractor
	collector *Collector
	runner    *Runner
	clock     Clock
	logger    *zap.Logger

	// checkMu serializes batch runs: each run needs exclusive use of the
	// page-rendering session.
	checkMu sync.Mutex
}

// NewService constructs a Service.
func NewService(
	cfg ServiceConfig,
	browser Browser,
	store ProductStore,
	extractor *Extractor,
	collector *Collector,
	runner *Runner,
	clock Clock,
	logger *zap.Logger,
) *Service {
	return &Service{
		cfg:       cfg,
		browser:   browser,
		store:     store,
		extractor: extractor,
		collector: collector,
		runner:    runner,
		clock:     clock,
		logger:    logger,
	}
}

// Track starts (or refreshes) tracking for the listing behind rawURL.
// The URL is canonicalized first; a URL without a recognizable item id is
// rejected before any page access. Re-tracking an already tracked item
// never creates a second row: it refreshes name and image in place.
func (s *Service) Track(ctx context.Context, rawURL string) (TrackResult, error) {
	itemID, err := ParseItemID(rawURL)
	if err != nil {
		return TrackResult{}, err
	}
	canonical := fmt.Sprintf("%s/item/%s", s.cfg.SiteBaseURL, itemID)

	page, release, err := s.browser.Open(ctx, canonical)
	if err != nil {
		return TrackResult{}, fmt.Errorf("open listing page: %w", err)
	}
	defer release()

	listing, err := s.extractor.Extract(ctx, page)
	if err != nil {
		return TrackResult{}, err
	}
	if listing.SoldOut {
		return TrackResult{}, ErrSoldOutListing
	}

	product, err := s.upsertProduct(ctx, itemID, canonical, listing)
	if err != nil {
		return TrackResult{}, err
	}

	lastKnown, err := s.lastKnownPrice(ctx, product.ID)
	if err != nil {
		return TrackResult{}, err
	}
	transition := Evaluate(listing, nil, lastKnown)
	switch transition.Kind {
	case TransitionFirstObservation, TransitionPriceChanged:
		if err := s.store.InsertPricePoint(ctx, product.ID, transition.NewPrice, s.clock.Now()); err != nil {
			return TrackResult{}, fmt.Errorf("insert price point: %w", err)
		}
	case TransitionUnchanged:
	}

	metrics.ObserveTrack()
	s.logger.Info("listing tracked",
		zap.String("item_id", itemID),
		zap.Int("price", *listing.Price),
	)
	return TrackResult{Product: product, Price: *listing.Price}, nil
}

// upsertProduct creates the product, or refreshes its display metadata when
// it already exists. A unique-constraint race on concurrent first tracks is
// recovered by re-reading the winner's row.
func (s *Service) upsertProduct(ctx context.Context, itemID, canonical string, listing Listing) (Product, error) {
	product, err := s.store.GetByItemID(ctx, itemID)
	switch {
	case err == nil:
		if err := s.store.UpdateMeta(ctx, product.ID, *listing.Name, listing.Image()); err != nil {
			return Product{}, fmt.Errorf("refresh product metadata: %w", err)
		}
		product.Name = *listing.Name
		product.ImageURL = listing.Image()
		return product, nil

	case errors.Is(err, ErrNotFound):
		created, err := s.store.Create(ctx, Product{
			ItemID:    itemID,
			Name:      *listing.Name,
			URL:       canonical,
			ImageURL:  listing.Image(),
			CreatedAt: s.clock.Now(),
		})
		if errors.Is(err, ErrDuplicateItem) {
			// Lost the insert race; the row exists now.
			existing, readErr := s.store.GetByItemID(ctx, itemID)
			if readErr != nil {
				return Product{}, fmt.Errorf("re-read after conflict: %w", readErr)
			}
			return existing, nil
		}
		if err != nil {
			return Product{}, fmt.Errorf("create product: %w", err)
		}
		return created, nil

	default:
		return Product{}, fmt.Errorf("look up product: %w", err)
	}
}

// Search collects every listing currently matching the keyword. The
// resulting items are candidates for tracking; nothing is persisted.
func (s *Service) Search(ctx context.Context, keyword string) ([]CollectedItem, error) {
	searchURL := fmt.Sprintf(
		"%s?keyword=%s&status=on_sale&sort=created_time&order=desc",
		s.cfg.SearchBaseURL,
		url.QueryEscape(keyword),
	)
	page, release, err := s.browser.Open(ctx, searchURL)
	if err != nil {
		return nil, fmt.Errorf("open search page: %w", err)
	}
	defer release()

	items, err := s.collector.Collect(ctx, page)
	if err != nil {
		return nil, err
	}
	metrics.ObserveSearch(len(items))
	s.logger.Info("search complete",
		zap.String("keyword", keyword),
		zap.Int("items", len(items)),
	)
	return items, nil
}

// CheckAll re-checks every tracked product once. Runs never overlap: a
// request while another run holds the gate returns ErrCheckInProgress.
func (s *Service) CheckAll(ctx context.Context) (Summary, error) {
	if !s.checkMu.TryLock() {
		return Summary{}, ErrCheckInProgress
	}
	defer s.checkMu.Unlock()

	products, err := s.store.ListAll(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("list tracked products: %w", err)
	}

	start := s.clock.Now()
	sum := s.runner.Run(ctx, products)
	metrics.ObserveBatch(sum.Checked, sum.Updated, sum.Deleted, time.Since(start))
	s.logger.Info("check run complete",
		zap.Int("checked", sum.Checked),
		zap.Int("updated", sum.Updated),
		zap.Int("deleted", sum.Deleted),
	)
	return sum, nil
}

// ListProducts returns every tracked product with its latest price.
func (s *Service) ListProducts(ctx context.Context) ([]ProductSummary, error) {
	summaries, err := s.store.ListSummaries(ctx)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	return summaries, nil
}

// History returns a product's price points in chronological order.
func (s *Service) History(ctx context.Context, productID int64) ([]PricePoint, error) {
	points, err := s.store.History(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("product history: %w", err)
	}
	return points, nil
}

// Delete stops tracking a product, cascading to its price history.
func (s *Service) Delete(ctx context.Context, productID int64) error {
	if err := s.store.Delete(ctx, productID); err != nil {
		return fmt.Errorf("delete product: %w", err)
	}
	return nil
}

func (s *Service) lastKnownPrice(ctx context.Context, productID int64) (*int, error) {
	price, err := s.store.LatestPrice(ctx, productID)
	if errors.Is(err, ErrNoPricePoints) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest price: %w", err)
	}
	return &price, nil
}
