// Package browser implements the rendered-page access service using
// chromedp and headless Chrome. It exposes the capability surface the
// tracker engine depends on: structured-data extraction, meta reads,
// element query/wait/read, scroll actions, and screenshots.
package browser

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/mfukuda/fleawatch/internal/tracker"
)

// Config controls the headless browser.
type Config struct {
	UserAgent string
	// NavTimeout bounds one page session end to end.
	NavTimeout time.Duration
	// SettleDelay is the pause after each reveal action so lazy loading
	// can catch up.
	SettleDelay time.Duration
	// RevealStepPx is the scroll distance of one reveal action.
	RevealStepPx int
	// HostQPS throttles page opens per host; the source site's rate
	// tolerance is unknown. Zero disables throttling.
	HostQPS float64
}

// Browser owns a shared headless Chrome process and opens one tab per page.
type Browser struct {
	allocatorCancel context.CancelFunc
	browserCtx      context.Context
	browserCancel   context.CancelFunc
	logger          *zap.Logger
	cfg             Config
	hostLimiters    sync.Map
}

// New launches headless Chrome and warms it up.
func New(cfg Config, logger *zap.Logger) (*Browser, error) {
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = 60 * time.Second
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = 800 * time.Millisecond
	}
	if cfg.RevealStepPx <= 0 {
		cfg.RevealStepPx = 800
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
	)
	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocatorCancel()
		return nil, fmt.Errorf("chromedp warmup: %w", err)
	}

	return &Browser{
		allocatorCancel: allocatorCancel,
		browserCtx:      browserCtx,
		browserCancel:   browserCancel,
		logger:          logger,
		cfg:             cfg,
	}, nil
}

// Close tears down the browser and allocator contexts.
func (b *Browser) Close() {
	if b == nil {
		return
	}
	b.browserCancel()
	b.allocatorCancel()
}

// Open navigates a fresh tab to rawURL and returns the page handle. The
// returned func releases the tab; the whole session is bounded by
// NavTimeout and by the caller's context.
func (b *Browser) Open(ctx context.Context, rawURL string) (tracker.Page, func(), error) {
	if err := b.waitHostBudget(ctx, rawURL); err != nil {
		return nil, nil, fmt.Errorf("page rate limit: %w", err)
	}

	tabCtx, cancelTab := chromedp.NewContext(b.browserCtx)
	taskCtx, cancelTask := context.WithTimeout(tabCtx, b.cfg.NavTimeout)
	stopForward := forwardCancel(ctx, cancelTask)
	release := func() {
		stopForward()
		cancelTask()
		cancelTab()
	}

	tasks := chromedp.Tasks{
		network.Enable(),
		emulation.SetUserAgentOverride(b.cfg.UserAgent),
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(2 * time.Second),
	}
	if err := chromedp.Run(taskCtx, tasks); err != nil {
		release()
		return nil, nil, fmt.Errorf("navigate %s: %w", rawURL, err)
	}

	b.logger.Debug("page opened", zap.String("url", rawURL))
	return &page{ctx: taskCtx, cfg: b.cfg}, release, nil
}

func (b *Browser) waitHostBudget(ctx context.Context, rawURL string) error {
	if b.cfg.HostQPS <= 0 {
		return nil
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse page url: %w", err)
	}
	host := strings.ToLower(parsed.Host)
	val, _ := b.hostLimiters.LoadOrStore(host, rate.NewLimiter(rate.Limit(b.cfg.HostQPS), 1))
	limiter, ok := val.(*rate.Limiter)
	if !ok {
		return fmt.Errorf("unexpected limiter type %T", val)
	}
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("wait limiter: %w", err)
	}
	return nil
}

// forwardCancel tears down the tab when the caller's context finishes.
func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
