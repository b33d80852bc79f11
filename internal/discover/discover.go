// Package discover grows the catalog from the source site's category pages
// and paginated asset listings.
package discover

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-harvester/internal/catalog"
	"github.com/JakeFAU/catalog-harvester/internal/metrics"
	"github.com/JakeFAU/catalog-harvester/internal/progress"
)

// Pass is the name reported in logs, metrics and events.
const Pass = "discover"

var digitsRe = regexp.MustCompile(`[0-9]+`)

// Fetcher downloads pages.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) ([]byte, error)
}

// Checkpointer persists the catalog between pages.
type Checkpointer interface {
	Checkpoint(cat *catalog.Catalog) error
	Flush(cat *catalog.Catalog) error
}

// Summary counts what a discovery run found.
type Summary struct {
	Categories int
	Items      int
	Pages      int
	Failed     int
}

// Discoverer walks the source site.
type Discoverer struct {
	cfg          Config
	fetcher      Fetcher
	checkpointer Checkpointer
	reporter     *progress.Reporter
	idRe         *regexp.Regexp
	logger       *zap.Logger
}

// New validates cfg and returns a Discoverer. reporter may be nil.
func New(cfg Config, fetcher Fetcher, checkpointer Checkpointer, reporter *progress.Reporter, logger *zap.Logger) (*Discoverer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if fetcher == nil || checkpointer == nil {
		return nil, errors.New("discover: fetcher and checkpointer are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Discoverer{
		cfg:          cfg,
		fetcher:      fetcher,
		checkpointer: checkpointer,
		reporter:     reporter,
		idRe:         regexp.MustCompile(cfg.CategoryIDPattern),
		logger:       logger.Named(Pass),
	}, nil
}

// run carries the state of one discovery pass.
type run struct {
	*Discoverer
	cat     *catalog.Catalog
	seen    map[string]struct{}
	visited map[string]struct{}
	summary Summary
}

// Run adds newly found categories and items to cat. Only a failure to read
// the home page is fatal; other page failures are logged and counted.
func (d *Discoverer) Run(ctx context.Context, cat *catalog.Catalog) (summary Summary, err error) {
	d.reporter.Start()
	defer func() { d.reporter.Finish(err) }()

	r := &run{
		Discoverer: d,
		cat:        cat,
		seen:       make(map[string]struct{}),
		visited:    make(map[string]struct{}),
	}
	root := cat.EnsureRoot(d.cfg.RootTitle, d.cfg.HomeURL)

	if err := r.topLevel(ctx, root); err != nil {
		return r.summary, err
	}
	for _, category := range cat.Categories() {
		if category.ID == catalog.RootID {
			continue
		}
		if ctx.Err() != nil {
			return r.summary, r.stop(ctx)
		}
		r.subcategories(ctx, category)
	}
	if err := r.walk(ctx, root); err != nil {
		if ctx.Err() != nil {
			return r.summary, r.stop(ctx)
		}
		return r.summary, err
	}

	if err := d.checkpointer.Flush(cat); err != nil {
		return r.summary, fmt.Errorf("final save: %w", err)
	}
	d.logger.Info("discover finished",
		zap.Int("new_categories", r.summary.Categories),
		zap.Int("new_items", r.summary.Items),
		zap.Int("pages", r.summary.Pages),
		zap.Int("failed", r.summary.Failed),
		zap.Int("categories_total", cat.Len()-1),
		zap.Bool("update_mode", d.cfg.UpdateMode),
	)
	return r.summary, nil
}

func (r *run) stop(ctx context.Context) error {
	if err := r.checkpointer.Flush(r.cat); err != nil {
		return fmt.Errorf("save on cancel: %w", err)
	}
	r.logger.Warn("discover interrupted", zap.Error(ctx.Err()))
	return ctx.Err()
}

func (r *run) fetchDocument(ctx context.Context, rawURL string) (*goquery.Document, error) {
	body, err := r.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	r.summary.Pages++
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", rawURL, err)
	}
	doc.Url, _ = url.Parse(rawURL)
	return doc, nil
}

// topLevel registers the categories linked from the home page under root.
func (r *run) topLevel(ctx context.Context, root *catalog.Category) error {
	doc, err := r.fetchDocument(ctx, r.cfg.HomeURL)
	if err != nil {
		return fmt.Errorf("read home page: %w", err)
	}
	doc.Find(r.cfg.CategoryListSelector).Each(func(_ int, a *goquery.Selection) {
		r.link(root, a)
	})
	return nil
}

// subcategories registers the categories in the navigation of a category
// page. The first navigation entry points back to the parent and is skipped.
func (r *run) subcategories(ctx context.Context, category *catalog.Category) {
	target := expand(r.cfg.CategoryPageURL, category.ID)
	doc, err := r.fetchDocument(ctx, target)
	if err != nil {
		r.summary.Failed++
		r.logger.Warn("read category page failed",
			zap.String("category_id", category.ID), zap.String("url", target), zap.Error(err))
		return
	}
	doc.Find(r.cfg.CategoryNavSelector).Each(func(i int, a *goquery.Selection) {
		if i == 0 {
			return
		}
		r.link(category, a)
	})
}

func (r *run) link(parent *catalog.Category, a *goquery.Selection) {
	href, _ := a.Attr("href")
	m := r.idRe.FindStringSubmatch(href)
	if m == nil {
		r.logger.Debug("link without category id", zap.String("href", href))
		return
	}
	id := strings.TrimLeft(m[1], "0")
	if id == "" {
		id = "0"
	}
	if id == catalog.RootID || id == parent.ID {
		return
	}
	parent.LinkSubcategory(id)
	title, ok := a.Attr("title")
	if !ok {
		title = strings.TrimSpace(a.Text())
	}
	if _, added := r.cat.Add(id, title, expand(r.cfg.ListingURL, id)); added {
		r.summary.Categories++
		r.logger.Info("category discovered",
			zap.String("category_id", id), zap.String("category_title", title), zap.String("parent_id", parent.ID))
	}
}

// walk descends the subcategory forest depth first and collects the assets
// of every leaf. Each category is visited once per run.
func (r *run) walk(ctx context.Context, category *catalog.Category) error {
	if _, ok := r.visited[category.ID]; ok {
		return nil
	}
	r.visited[category.ID] = struct{}{}

	if len(category.Subcategories) > 0 {
		for _, id := range category.Subcategories {
			child, ok := r.cat.Get(id)
			if !ok {
				r.logger.Warn("subcategory missing from catalog", zap.String("category_id", id), zap.String("parent_id", category.ID))
				continue
			}
			if err := r.walk(ctx, child); err != nil {
				return err
			}
		}
		return nil
	}
	if category.ID == catalog.RootID {
		return nil
	}
	return r.leaf(ctx, category)
}

// leaf reads a leaf listing from its last page to its first, assets in
// reverse document order, so the oldest asset gets the lowest sequence.
func (r *run) leaf(ctx context.Context, category *catalog.Category) error {
	log := r.logger.With(zap.String("category_id", category.ID), zap.String("category_title", category.Title))
	total := 1
	if !r.cfg.UpdateMode {
		doc, err := r.fetchDocument(ctx, category.URL)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.summary.Failed++
			log.Warn("read listing failed", zap.String("url", category.URL), zap.Error(err))
			return nil
		}
		total = r.pageCount(doc)
	}

	for page := total; page >= 1; page-- {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		target := pageURL(category.URL, page)
		doc, err := r.fetchDocument(ctx, target)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.summary.Failed++
			log.Warn("read listing page failed", zap.String("url", target), zap.Error(err))
			continue
		}
		images := doc.Find(r.cfg.ImageSelector)
		added := 0
		for i := images.Length() - 1; i >= 0; i-- {
			src, ok := images.Eq(i).Attr("src")
			if !ok || strings.TrimSpace(src) == "" {
				continue
			}
			if r.addItem(category, resolve(doc.Url, src)) {
				added++
			}
		}
		log.Info("listing page read", zap.Int("page", page), zap.Int("pages", total), zap.Int("new_items", added))
		if err := r.checkpointer.Checkpoint(r.cat); err != nil {
			return fmt.Errorf("checkpoint: %w", err)
		}
	}
	return nil
}

func (r *run) addItem(category *catalog.Category, src string) bool {
	if _, ok := r.seen[src]; ok {
		return false
	}
	r.seen[src] = struct{}{}
	item, added := category.AddItem(src)
	if !added {
		return false
	}
	r.summary.Items++
	metrics.ObserveItem(Pass, metrics.OutcomeDiscovered)
	r.reporter.Item(category.ID, item.Sequence, metrics.OutcomeDiscovered, 0)
	return true
}

// pageCount reads the number of listing pages, defaulting to one.
func (r *run) pageCount(doc *goquery.Document) int {
	if r.cfg.PaginationSelector == "" || r.cfg.PageCountSelector == "" {
		return 1
	}
	text := doc.Find(r.cfg.PaginationSelector).Last().Find(r.cfg.PageCountSelector).Text()
	n, err := strconv.Atoi(digitsRe.FindString(text))
	if err != nil || n < 1 {
		return 1
	}
	return n
}

func pageURL(listing string, page int) string {
	sep := "&"
	if !strings.Contains(listing, "?") {
		sep = "?"
	}
	return listing + sep + "page=" + strconv.Itoa(page)
}

// resolve makes src absolute against base and percent-encodes it.
func resolve(base *url.URL, src string) string {
	ref, err := url.Parse(strings.TrimSpace(src))
	if err != nil {
		return src
	}
	if base != nil {
		ref = base.ResolveReference(ref)
	}
	return ref.String()
}
