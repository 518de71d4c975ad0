package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// fakePage is a scripted Page: field sources are configured up front, and
// the cell list grows as reveal actions accumulate.
type fakePage struct {
	structuredData []string
	structuredErr  error
	meta           map[string]string
	elementText    map[string]string
	elementTextErr error
	soldOut        bool
	soldOutErr     error

	// cellBatches[i] is visible once i reveal actions have run; the last
	// batch stays visible from then on.
	cellBatches [][]Cell
	reveals     int
	revealErr   error

	screenshots int
	scrolls     int
}

func (p *fakePage) StructuredData(context.Context) ([]string, error) {
	return p.structuredData, p.structuredErr
}

func (p *fakePage) MetaContent(_ context.Context, property string) (string, error) {
	return p.meta[property], nil
}

func (p *fakePage) ElementText(_ context.Context, selector string, _ time.Duration) (string, error) {
	if p.elementTextErr != nil {
		return "", p.elementTextErr
	}
	text, ok := p.elementText[selector]
	if !ok {
		return "", errors.New("element never became visible")
	}
	return text, nil
}

func (p *fakePage) ElementExists(context.Context, string) (bool, error) {
	return p.soldOut, p.soldOutErr
}

func (p *fakePage) Cells(context.Context) ([]Cell, error) {
	if len(p.cellBatches) == 0 {
		return nil, nil
	}
	idx := p.reveals
	if idx >= len(p.cellBatches) {
		idx = len(p.cellBatches) - 1
	}
	return p.cellBatches[idx], nil
}

func (p *fakePage) Reveal(context.Context) error {
	if p.revealErr != nil {
		return p.revealErr
	}
	p.reveals++
	return nil
}

func (p *fakePage) ScrollTop(context.Context) error {
	p.scrolls++
	return nil
}

func (p *fakePage) Screenshot(context.Context) ([]byte, error) {
	p.screenshots++
	return []byte("png"), nil
}

// fakeBrowser serves a scripted page per URL.
type fakeBrowser struct {
	pages    map[string]*fakePage
	openErrs map[string]error
	opened   []string
}

func (b *fakeBrowser) Open(_ context.Context, url string) (Page, func(), error) {
	b.opened = append(b.opened, url)
	if err := b.openErrs[url]; err != nil {
		return nil, nil, err
	}
	page, ok := b.pages[url]
	if !ok {
		return nil, nil, fmt.Errorf("no page scripted for %s", url)
	}
	return page, func() {}, nil
}

// memStore is an in-memory ProductStore.
type memStore struct {
	mu      sync.Mutex
	nextID  int64
	byItem  map[string]Product
	history map[int64][]PricePoint

	createErr error
	deleteErr error
}

func newMemStore() *memStore {
	return &memStore{
		nextID:  1,
		byItem:  make(map[string]Product),
		history: make(map[int64][]PricePoint),
	}
}

func (s *memStore) Create(_ context.Context, p Product) (Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return Product{}, s.createErr
	}
	if _, exists := s.byItem[p.ItemID]; exists {
		return Product{}, ErrDuplicateItem
	}
	p.ID = s.nextID
	s.nextID++
	s.byItem[p.ItemID] = p
	return p, nil
}

func (s *memStore) GetByItemID(_ context.Context, itemID string) (Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byItem[itemID]
	if !ok {
		return Product{}, ErrNotFound
	}
	return p, nil
}

func (s *memStore) UpdateMeta(_ context.Context, id int64, name, imageURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for itemID, p := range s.byItem {
		if p.ID == id {
			p.Name = name
			p.ImageURL = imageURL
			s.byItem[itemID] = p
			return nil
		}
	}
	return ErrNotFound
}

func (s *memStore) ListAll(context.Context) ([]Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var products []Product
	for _, p := range s.byItem {
		products = append(products, p)
	}
	return products, nil
}

func (s *memStore) ListSummaries(ctx context.Context) ([]ProductSummary, error) {
	products, _ := s.ListAll(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	summaries := make([]ProductSummary, 0, len(products))
	for _, p := range products {
		sum := ProductSummary{Product: p}
		if points := s.history[p.ID]; len(points) > 0 {
			price := points[len(points)-1].Price
			sum.CurrentPrice = &price
		}
		summaries = append(summaries, sum)
	}
	return summaries, nil
}

func (s *memStore) History(_ context.Context, productID int64) ([]PricePoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history[productID], nil
}

func (s *memStore) LatestPrice(_ context.Context, productID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	points := s.history[productID]
	if len(points) == 0 {
		return 0, ErrNoPricePoints
	}
	return points[len(points)-1].Price, nil
}

func (s *memStore) InsertPricePoint(_ context.Context, productID int64, price int, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history[productID] = append(s.history[productID], PricePoint{
		ID:        int64(len(s.history[productID]) + 1),
		ProductID: productID,
		Price:     price,
		ScrapedAt: at,
	})
	return nil
}

func (s *memStore) Delete(_ context.Context, productID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleteErr != nil {
		return s.deleteErr
	}
	for itemID, p := range s.byItem {
		if p.ID == productID {
			delete(s.byItem, itemID)
			delete(s.history, productID)
			return nil
		}
	}
	return ErrNotFound
}

// recordingNotifier captures notification calls.
type recordingNotifier struct {
	mu    sync.Mutex
	drops []string
	ended []string
}

func (n *recordingNotifier) PriceDrop(_ context.Context, name string, _, _ int, _ string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.drops = append(n.drops, name)
}

func (n *recordingNotifier) TrackingEnded(_ context.Context, name, _ string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ended = append(n.ended, name)
}

// fixedClock always returns the same instant.
type fixedClock struct{ at time.Time }

func (c fixedClock) Now() time.Time { return c.at }

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }
