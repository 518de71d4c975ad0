package tracker

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// CollectorConfig controls the harvesting loop.
type CollectorConfig struct {
	// MaxRounds caps the number of harvest iterations.
	MaxRounds int
	// StableRounds is the number of consecutive rounds without new items
	// after which the list is judged exhausted. Values below 1 disable the
	// tolerance for transient loading stalls.
	StableRounds int
	// RevealActions is the number of "load more" actions issued per round.
	RevealActions int
	// SiteBaseURL prefixes relative cell links to form absolute item URLs.
	SiteBaseURL string
}

// Collector harvests an unbounded, lazily loaded search result list. It
// accumulates items across rounds, deduplicated by the id derived from each
// cell's link target, and stops once the count is stable for StableRounds
// consecutive rounds.
type Collector struct {
	cfg       CollectorConfig
	artifacts ArtifactStore
	clock     Clock
	logger    *zap.Logger
}

// NewCollector constructs a Collector. artifacts may be nil, in which case
// no diagnostic screenshot is captured.
func NewCollector(cfg CollectorConfig, artifacts ArtifactStore, clock Clock, logger *zap.Logger) *Collector {
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = 30
	}
	if cfg.StableRounds <= 0 {
		cfg.StableRounds = 3
	}
	if cfg.RevealActions <= 0 {
		cfg.RevealActions = 3
	}
	return &Collector{cfg: cfg, artifacts: artifacts, clock: clock, logger: logger}
}

// Collect harvests every item visible on the result page. An empty result
// is valid: the keyword simply matched nothing.
func (c *Collector) Collect(ctx context.Context, page Page) ([]CollectedItem, error) {
	found := make(map[string]CollectedItem)
	lastCount := 0
	stableRounds := 0

	for round := 0; round < c.cfg.MaxRounds; round++ {
		cells, err := page.Cells(ctx)
		if err != nil {
			return nil, fmt.Errorf("query result cells: %w", err)
		}
		for _, cell := range cells {
			item, ok := c.itemFromCell(cell)
			if !ok {
				continue
			}
			// Later observations of the same id overwrite earlier ones.
			found[item.ID] = item
		}

		if len(found) == lastCount {
			stableRounds++
		} else {
			stableRounds = 0
		}
		lastCount = len(found)
		c.logger.Debug("harvest round complete",
			zap.Int("round", round+1),
			zap.Int("items", lastCount),
			zap.Int("stable_rounds", stableRounds),
		)
		if stableRounds >= c.cfg.StableRounds {
			break
		}

		for i := 0; i < c.cfg.RevealActions; i++ {
			if err := page.Reveal(ctx); err != nil {
				return nil, fmt.Errorf("reveal more results: %w", err)
			}
		}
	}

	c.captureArtifact(ctx, page)

	items := make([]CollectedItem, 0, len(found))
	for _, item := range found {
		items = append(items, item)
	}
	return items, nil
}

// itemFromCell validates one rendered cell. Cells without a name or a
// parseable price are still loading and are skipped this round.
func (c *Collector) itemFromCell(cell Cell) (CollectedItem, bool) {
	name := strings.TrimSpace(cell.Name)
	if name == "" {
		return CollectedItem{}, false
	}
	price, ok := parsePriceText(cell.PriceText)
	if !ok {
		return CollectedItem{}, false
	}
	id := lastPathSegment(cell.Href)
	if id == "" {
		return CollectedItem{}, false
	}
	return CollectedItem{
		ID:       id,
		Name:     name,
		Price:    price,
		URL:      absoluteURL(c.cfg.SiteBaseURL, cell.Href),
		ImageURL: cell.ImageURL,
	}, true
}

// captureArtifact saves a full-page screenshot for diagnostics. This is
// best-effort: every failure is ignored and the collected set stands.
func (c *Collector) captureArtifact(ctx context.Context, page Page) {
	if c.artifacts == nil {
		return
	}
	if err := page.ScrollTop(ctx); err != nil {
		c.logger.Debug("scroll back failed", zap.Error(err))
		return
	}
	shot, err := page.Screenshot(ctx)
	if err != nil {
		c.logger.Debug("screenshot failed", zap.Error(err))
		return
	}
	name := fmt.Sprintf("search_%s.png", c.clock.Now().Format("20060102T150405"))
	uri, err := c.artifacts.Put(ctx, name, shot)
	if err != nil {
		c.logger.Debug("store screenshot failed", zap.Error(err))
		return
	}
	c.logger.Info("search screenshot saved", zap.String("uri", uri))
}

func lastPathSegment(href string) string {
	trimmed := strings.TrimRight(href, "/")
	idx := strings.LastIndex(trimmed, "/")
	if idx < 0 {
		return trimmed
	}
	return trimmed[idx+1:]
}

func absoluteURL(base, href string) string {
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(href, "/")
}
