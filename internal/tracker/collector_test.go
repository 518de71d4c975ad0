package tracker

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func cellFor(i int) Cell {
	return Cell{
		Href:      fmt.Sprintf("/item/m%011d", i),
		Name:      fmt.Sprintf("item %d", i),
		PriceText: fmt.Sprintf("¥%d", 1000+i),
		ImageURL:  fmt.Sprintf("https://img.example/%d.jpg", i),
	}
}

func cellsUpTo(n int) []Cell {
	cells := make([]Cell, 0, n)
	for i := 1; i <= n; i++ {
		cells = append(cells, cellFor(i))
	}
	return cells
}

func newTestCollector(cfg CollectorConfig) *Collector {
	cfg.SiteBaseURL = "https://jp.mercari.com"
	return NewCollector(cfg, nil, fixedClock{at: time.Unix(1700000000, 0)}, zap.NewNop())
}

func TestCollectStaticListTerminates(t *testing.T) {
	t.Parallel()

	// Every round shows the same 10 items, so the count stabilizes
	// immediately and the loop ends after the stability window.
	page := &fakePage{cellBatches: [][]Cell{cellsUpTo(10)}}
	items, err := newTestCollector(CollectorConfig{}).Collect(context.Background(), page)
	require.NoError(t, err)
	require.Len(t, items, 10)
	// Round 1 counts as new growth from zero items... unless the very first
	// harvest already matches lastCount. With 10 items the first round
	// differs from 0, then three stable rounds follow: 4 rounds total,
	// 3 reveal actions each except the last.
	require.Equal(t, 9, page.reveals)
}

func TestCollectEmptyResultIsValid(t *testing.T) {
	t.Parallel()

	page := &fakePage{}
	items, err := newTestCollector(CollectorConfig{}).Collect(context.Background(), page)
	require.NoError(t, err)
	require.Empty(t, items)
}

func TestCollectAccumulatesAcrossRounds(t *testing.T) {
	t.Parallel()

	// The viewport window slides: later rounds only show later items, yet
	// everything seen in any round is retained.
	page := &fakePage{cellBatches: [][]Cell{
		cellsUpTo(5),
		{cellFor(4), cellFor(5), cellFor(6), cellFor(7)},
		{cellFor(6), cellFor(7), cellFor(8)},
		{cellFor(8)},
	}}
	items, err := newTestCollector(CollectorConfig{RevealActions: 1}).Collect(context.Background(), page)
	require.NoError(t, err)
	require.Len(t, items, 8)
}

func TestCollectDeduplicatesByID(t *testing.T) {
	t.Parallel()

	page := &fakePage{cellBatches: [][]Cell{
		{cellFor(1), cellFor(1), cellFor(2)},
	}}
	items, err := newTestCollector(CollectorConfig{}).Collect(context.Background(), page)
	require.NoError(t, err)
	require.Len(t, items, 2)
}

func TestCollectSkipsIncompleteCells(t *testing.T) {
	t.Parallel()

	page := &fakePage{cellBatches: [][]Cell{{
		cellFor(1),
		{Href: "/item/m00000000002", Name: "  ", PriceText: "¥500"},
		{Href: "/item/m00000000003", Name: "loading", PriceText: ""},
		{Href: "", Name: "orphan", PriceText: "¥500"},
	}}}
	items, err := newTestCollector(CollectorConfig{}).Collect(context.Background(), page)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "m00000000001", items[0].ID)
}

func TestCollectStopsAtRoundCap(t *testing.T) {
	t.Parallel()

	// Build batches that keep growing forever so stability never happens.
	batches := make([][]Cell, 100)
	for i := range batches {
		batches[i] = cellsUpTo(i + 1)
	}
	page := &fakePage{cellBatches: batches}
	items, err := newTestCollector(CollectorConfig{MaxRounds: 5, RevealActions: 1}).
		Collect(context.Background(), page)
	require.NoError(t, err)
	// 5 rounds, one reveal between rounds, so the last visible batch is
	// the fifth one.
	require.Len(t, items, 5)
}

func TestCollectBuildsAbsoluteURLs(t *testing.T) {
	t.Parallel()

	page := &fakePage{cellBatches: [][]Cell{{cellFor(1)}}}
	items, err := newTestCollector(CollectorConfig{}).Collect(context.Background(), page)
	require.NoError(t, err)
	require.Equal(t, "https://jp.mercari.com/item/m00000000001", items[0].URL)
}

type memArtifacts struct {
	names []string
}

func (m *memArtifacts) Put(_ context.Context, name string, _ []byte) (string, error) {
	m.names = append(m.names, name)
	return "file:///tmp/" + name, nil
}

func TestCollectCapturesScreenshotArtifact(t *testing.T) {
	t.Parallel()

	artifacts := &memArtifacts{}
	collector := NewCollector(
		CollectorConfig{SiteBaseURL: "https://jp.mercari.com"},
		artifacts,
		fixedClock{at: time.Unix(1700000000, 0).UTC()},
		zap.NewNop(),
	)
	page := &fakePage{cellBatches: [][]Cell{cellsUpTo(2)}}
	_, err := collector.Collect(context.Background(), page)
	require.NoError(t, err)
	require.Equal(t, 1, page.scrolls)
	require.Equal(t, 1, page.screenshots)
	require.Len(t, artifacts.names, 1)
	require.Contains(t, artifacts.names[0], "search_")
}
