// Package collyfetcher downloads source pages and assets using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/gocolly/colly/v2/extensions"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-harvester/internal/metrics"
)

// ErrRetriesExhausted is returned when every attempt failed.
var ErrRetriesExhausted = errors.New("fetch retries exhausted")

// Config controls collector behavior.
type Config struct {
	UserAgent       string
	RandomUserAgent bool
	Proxy           string
	Timeout         time.Duration
	// Attempts is the total number of tries per URL.
	Attempts int
	// RetryDelay is the fixed pause between tries.
	RetryDelay time.Duration
}

// Waiter paces outbound requests.
type Waiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Fetcher performs GET requests through a Colly collector with a fixed retry budget.
type Fetcher struct {
	cfg           Config
	limiter       Waiter
	logger        *zap.Logger
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher. limiter may be nil.
func New(cfg Config, limiter Waiter, logger *zap.Logger) (*Fetcher, error) {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 4
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	transport := newHTTPTransport()
	if cfg.Proxy != "" {
		proxyURL, err := url.Parse(cfg.Proxy)
		if err != nil {
			return nil, fmt.Errorf("parse proxy %q: %w", cfg.Proxy, err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	c := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.MaxBodySize(0),
	)
	c.WithTransport(transport)
	c.SetRequestTimeout(cfg.Timeout)
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}

	return &Fetcher{
		cfg:           cfg,
		limiter:       limiter,
		logger:        logger.Named("fetcher"),
		baseCollector: c,
	}, nil
}

// Fetch GETs rawURL and returns the body. Failed attempts are retried after
// the fixed delay until the attempt budget is spent.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= f.cfg.Attempts; attempt++ {
		if f.limiter != nil {
			if err := f.limiter.Wait(ctx, rawURL); err != nil {
				return nil, err
			}
		}
		body, err := f.fetchOnce(ctx, rawURL)
		metrics.ObserveFetch(rawURL, err == nil, len(body))
		if err == nil {
			return body, nil
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("fetch %s: %w", rawURL, ctx.Err())
		}
		lastErr = err
		f.logger.Debug("fetch attempt failed",
			zap.String("url", rawURL),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if attempt < f.cfg.Attempts {
			if err := sleepWithContext(ctx, f.cfg.RetryDelay); err != nil {
				return nil, err
			}
		}
	}
	return nil, fmt.Errorf("%w: %s after %d attempts: %w", ErrRetriesExhausted, rawURL, f.cfg.Attempts, lastErr)
}

func (f *Fetcher) fetchOnce(ctx context.Context, rawURL string) ([]byte, error) {
	collector := f.buildCollector()
	var (
		body     []byte
		fetchErr error
	)
	configureCollectorHooks(collector, &body, &fetchErr)
	if err := runCollector(ctx, collector, rawURL, &fetchErr); err != nil {
		return nil, err
	}
	return body, nil
}

func (f *Fetcher) buildCollector() *colly.Collector {
	collector := f.baseCollector.Clone()
	collector.SetRequestTimeout(f.cfg.Timeout)
	if f.cfg.RandomUserAgent {
		extensions.RandomUserAgent(collector)
	}
	return collector
}

func configureCollectorHooks(hooks collectorHooks, body *[]byte, fetchErr *error) {
	hooks.OnResponse(func(r *colly.Response) {
		*body = append([]byte(nil), r.Body...)
	})
	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			err = fmt.Errorf("status %d: %w", r.StatusCode, err)
		}
		*fetchErr = err
	})
}

func runCollector(ctx context.Context, collector *colly.Collector, rawURL string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(rawURL)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		return nil
	}
}

func sleepWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("retry sleep: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
