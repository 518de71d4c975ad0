package tracker

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// Runner checks a batch of tracked products sequentially. Each product gets
// exclusive use of one page session; any fault during one product's
// processing is logged and the product is skipped for this run without
// affecting the rest of the batch. Each mutation commits independently and
// immediately.
type Runner struct {
	browser   Browser
	store     ProductStore
	extractor *Extractor
	notifier  Notifier
	clock     Clock
	logger    *zap.Logger
}

// NewRunner constructs a Runner.
func NewRunner(
	browser Browser,
	store ProductStore,
	extractor *Extractor,
	notifier Notifier,
	clock Clock,
	logger *zap.Logger,
) *Runner {
	return &Runner{
		browser:   browser,
		store:     store,
		extractor: extractor,
		notifier:  notifier,
		clock:     clock,
		logger:    logger,
	}
}

// Run processes every product and returns the outcome counters. Checked
// counts every product attempted; Updated only committed price changes;
// Deleted only committed sold-out deletions. Run never returns an error:
// a batch where every item failed still yields a summary.
func (r *Runner) Run(ctx context.Context, products []Product) Summary {
	var sum Summary
	for _, product := range products {
		sum.Checked++
		kind, err := r.checkOne(ctx, product)
		if err != nil {
			r.logger.Warn("product check failed",
				zap.String("item_id", product.ItemID),
				zap.Error(err),
			)
			continue
		}
		switch kind {
		case TransitionPriceChanged:
			sum.Updated++
		case TransitionSoldOut:
			sum.Deleted++
		}
	}
	return sum
}

func (r *Runner) checkOne(ctx context.Context, product Product) (TransitionKind, error) {
	page, release, err := r.browser.Open(ctx, product.URL)
	if err != nil {
		return "", fmt.Errorf("open listing page: %w", err)
	}
	defer release()

	listing, extractErr := r.extractor.Extract(ctx, page)

	lastKnown, err := r.lastKnownPrice(ctx, product.ID)
	if err != nil {
		return "", err
	}

	transition := Evaluate(listing, extractErr, lastKnown)
	switch transition.Kind {
	case TransitionExtractionFailed:
		// Keep the product; the listing may extract fine next cycle.
		r.logger.Info("extraction failed, keeping product",
			zap.String("item_id", product.ItemID),
			zap.Error(extractErr),
		)

	case TransitionSoldOut:
		r.notifier.TrackingEnded(ctx, product.Name, product.URL)
		if err := r.store.Delete(ctx, product.ID); err != nil {
			return "", fmt.Errorf("delete sold-out product: %w", err)
		}
		r.logger.Info("tracking ended", zap.String("item_id", product.ItemID))

	case TransitionFirstObservation, TransitionPriceChanged:
		if err := r.store.InsertPricePoint(ctx, product.ID, transition.NewPrice, r.clock.Now()); err != nil {
			return "", fmt.Errorf("insert price point: %w", err)
		}
		if transition.Drop {
			r.notifier.PriceDrop(ctx, product.Name, transition.OldPrice, transition.NewPrice, product.URL)
		}
		r.refreshMeta(ctx, product, listing)

	case TransitionUnchanged:
		r.refreshMeta(ctx, product, listing)
	}
	return transition.Kind, nil
}

func (r *Runner) lastKnownPrice(ctx context.Context, productID int64) (*int, error) {
	price, err := r.store.LatestPrice(ctx, productID)
	if errors.Is(err, ErrNoPricePoints) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest price: %w", err)
	}
	return &price, nil
}

// refreshMeta keeps the product's display metadata current. Name and image
// are "latest known", not historical, so failures only cost freshness.
func (r *Runner) refreshMeta(ctx context.Context, product Product, listing Listing) {
	if err := r.store.UpdateMeta(ctx, product.ID, *listing.Name, listing.Image()); err != nil {
		r.logger.Warn("update product metadata failed",
			zap.String("item_id", product.ItemID),
			zap.Error(err),
		)
	}
}
