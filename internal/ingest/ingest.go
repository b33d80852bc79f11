// Package ingest drives discovered items through download, deduplication,
// label derivation and creation in the asset service.
package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-harvester/internal/catalog"
	"github.com/JakeFAU/catalog-harvester/internal/label"
	"github.com/JakeFAU/catalog-harvester/internal/metrics"
	"github.com/JakeFAU/catalog-harvester/internal/ocr"
	"github.com/JakeFAU/catalog-harvester/internal/progress"
	"github.com/JakeFAU/catalog-harvester/internal/publisher"
	"github.com/JakeFAU/catalog-harvester/internal/remote"
	"github.com/JakeFAU/catalog-harvester/internal/storage"
)

// Pass is the name reported in logs, metrics and events.
const Pass = "ingest"

// Fetcher downloads source assets.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) ([]byte, error)
}

// AssetStore holds downloaded assets on local disk.
type AssetStore interface {
	Path(name string) (string, error)
	PutObject(ctx context.Context, name, contentType string, data io.Reader) (string, error)
}

// Hasher digests a written asset.
type Hasher interface {
	HashFile(path string) (string, error)
}

// Remote is the subset of the asset service client used for creation.
type Remote interface {
	EnsureFolderChain(ctx context.Context, path []string, description string) (remote.Folder, error)
	AddItemFromPath(ctx context.Context, item remote.NewItem) (string, error)
}

// Checkpointer persists the catalog between items.
type Checkpointer interface {
	Checkpoint(cat *catalog.Catalog) error
	Flush(cat *catalog.Catalog) error
}

// Sleeper waits between remote creates.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// Config holds the ingest settings.
type Config struct {
	// Site is the provenance name used in _tag values.
	Site           string
	ProvenanceTags []string
	// TagAliases maps a second title segment to an extra union tag.
	TagAliases        map[string]string
	FolderPath        []string
	FolderDescription string
	// SkipOCRCategories lists categories whose assets carry no caption.
	SkipOCRCategories []string
	CreateDelay       time.Duration
	// Extension of derived local filenames.
	Extension string
	// SaveAfterCreate flushes the snapshot after every remote create.
	SaveAfterCreate bool
}

// Deps are the collaborators of a Pipeline. Mirror, Publisher, Reporter and
// Batches are optional.
type Deps struct {
	Fetcher      Fetcher
	Assets       AssetStore
	Mirror       storage.Mirror
	Hasher       Hasher
	Recognizer   ocr.Recognizer
	Batches      *ocr.Batches
	Remote       Remote
	Publisher    publisher.Publisher
	Checkpointer Checkpointer
	Sleeper      Sleeper
	Reporter     *progress.Reporter
	RunID        string
	Logger       *zap.Logger
	Now          func() time.Time
}

// Summary counts what a run did.
type Summary struct {
	Categories int
	Items      int
	Downloaded int
	Duplicates int
	Labeled    int
	Synced     int
	Failed     int
}

// Pipeline processes a catalog one item at a time.
type Pipeline struct {
	cfg    Config
	deps   Deps
	skip   map[string]struct{}
	logger *zap.Logger

	cat      *catalog.Catalog
	index    hashIndex
	folderID string
}

// New validates deps and returns a Pipeline.
func New(cfg Config, deps Deps) (*Pipeline, error) {
	switch {
	case deps.Fetcher == nil:
		return nil, errors.New("ingest: fetcher is required")
	case deps.Assets == nil:
		return nil, errors.New("ingest: asset store is required")
	case deps.Hasher == nil:
		return nil, errors.New("ingest: hasher is required")
	case deps.Recognizer == nil:
		return nil, errors.New("ingest: recognizer is required")
	case deps.Remote == nil:
		return nil, errors.New("ingest: remote client is required")
	case deps.Checkpointer == nil:
		return nil, errors.New("ingest: checkpointer is required")
	case deps.Sleeper == nil:
		return nil, errors.New("ingest: sleeper is required")
	}
	if len(cfg.FolderPath) == 0 {
		return nil, errors.New("ingest: folder path is required")
	}
	if cfg.Extension == "" {
		cfg.Extension = ".jpg"
	}
	if deps.Mirror == nil {
		deps.Mirror = storage.NoOpMirror{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	skip := make(map[string]struct{}, len(cfg.SkipOCRCategories))
	for _, id := range cfg.SkipOCRCategories {
		skip[id] = struct{}{}
	}
	return &Pipeline{
		cfg:    cfg,
		deps:   deps,
		skip:   skip,
		logger: logger.Named(Pass).With(zap.String("run_id", deps.RunID)),
	}, nil
}

// Run processes every item of cat in first-seen order. Per-item failures
// are logged and counted. Cancellation is honored between items, after which
// the catalog is flushed and ctx's error returned.
func (p *Pipeline) Run(ctx context.Context, cat *catalog.Catalog) (summary Summary, err error) {
	p.deps.Reporter.Start()
	defer func() { p.deps.Reporter.Finish(err) }()

	var flagged int
	p.cat = cat
	p.index, flagged = buildIndex(cat)
	p.folderID = ""
	if flagged > 0 {
		p.logger.Warn("flagged duplicates while rebuilding hash index", zap.Int("count", flagged))
		summary.Duplicates += flagged
	}

	for _, category := range cat.Categories() {
		if !category.HasItems() {
			continue
		}
		summary.Categories++
		for _, sourceURL := range category.Items.Keys() {
			if ctx.Err() != nil {
				return summary, p.stop(ctx, cat)
			}
			item, _ := category.Items.Get(sourceURL)
			summary.Items++
			outcome, bytesFetched, err := p.process(ctx, category, sourceURL, item, &summary)
			if err != nil {
				_ = p.deps.Checkpointer.Flush(cat)
				return summary, err
			}
			metrics.ObserveItem(Pass, outcome)
			p.deps.Reporter.Item(category.ID, item.Sequence, outcome, bytesFetched)
			if err := p.deps.Checkpointer.Checkpoint(cat); err != nil {
				return summary, fmt.Errorf("checkpoint: %w", err)
			}
		}
		p.logger.Info("category ingested", zap.String("category_id", category.ID), zap.String("category_title", category.Title))
	}

	if err := p.deps.Checkpointer.Flush(cat); err != nil {
		return summary, fmt.Errorf("final save: %w", err)
	}
	p.logger.Info("ingest finished",
		zap.Int("categories", summary.Categories),
		zap.Int("items", summary.Items),
		zap.Int("downloaded", summary.Downloaded),
		zap.Int("duplicates", summary.Duplicates),
		zap.Int("labeled", summary.Labeled),
		zap.Int("synced", summary.Synced),
		zap.Int("failed", summary.Failed),
	)
	return summary, nil
}

func (p *Pipeline) stop(ctx context.Context, cat *catalog.Catalog) error {
	if err := p.deps.Checkpointer.Flush(cat); err != nil {
		return fmt.Errorf("save on cancel: %w", err)
	}
	p.logger.Warn("ingest interrupted", zap.Error(ctx.Err()))
	return ctx.Err()
}

// process runs the remaining steps of one item. Only contract violations
// are returned as errors.
func (p *Pipeline) process(ctx context.Context, cat *catalog.Category, sourceURL string, item *catalog.Item, summary *Summary) (string, int64, error) {
	if item.SourceFilename == "" {
		item.SourceFilename = catalog.SourceFilename(sourceURL)
	}
	if item.SourceURL == "" {
		item.SourceURL = sourceURL
	}
	log := p.logger.With(
		zap.String("category_id", cat.ID),
		zap.String("category_title", cat.Title),
		zap.Int("sequence", item.Sequence),
	)
	outcome := metrics.OutcomeSkipped
	var fetched int64

	if !item.Downloaded() {
		n, err := p.download(ctx, cat, sourceURL, item)
		if err != nil {
			if errors.Is(err, catalog.ErrInvalidArgument) {
				return metrics.OutcomeFailed, 0, err
			}
			log.Warn("download failed", zap.String("url", sourceURL), zap.Error(err))
			summary.Failed++
			return metrics.OutcomeFailed, 0, nil
		}
		fetched = int64(n)
		summary.Downloaded++
		outcome = metrics.OutcomeDownloaded
		if !p.index.claim(item.ContentHash, itemRef{cat.ID, sourceURL}) {
			item.DuplicateOfExisting = true
			summary.Duplicates++
			log.Info("duplicate content", zap.String("filename", item.LocalFilename), zap.String("hash", item.ContentHash))
			return metrics.OutcomeDuplicate, fetched, nil
		}
	}
	if item.DuplicateOfExisting {
		return outcome, fetched, nil
	}
	log = log.With(zap.String("filename", item.LocalFilename))

	p.mergeText(ctx, cat, item, log)

	if !item.Labeled() && item.Consulted(ocr.SourceLocal) {
		item.SetLabel(label.Normalize(item.FirstText(p.deps.Batches.Priority()), item.SourceFilename))
		summary.Labeled++
		outcome = metrics.OutcomeLabeled
	}

	if !item.Synchronized() && item.Labeled() {
		if err := p.synchronize(ctx, cat, item); err != nil {
			log.Warn("remote create failed", zap.String("label", item.LabelText()), zap.Error(err))
			summary.Failed++
			return metrics.OutcomeFailed, fetched, nil
		}
		summary.Synced++
		outcome = metrics.OutcomeSynced
		log.Info("item synchronized", zap.String("remote_id", item.RemoteAssetID), zap.String("label", item.LabelText()))
	}
	return outcome, fetched, nil
}

// download fetches the asset, stores it and records its name and hash. The
// item is left untouched on failure.
func (p *Pipeline) download(ctx context.Context, cat *catalog.Category, sourceURL string, item *catalog.Item) (int, error) {
	name := item.LocalFilename
	if name == "" {
		derived, err := catalog.DeriveFilename(cat.ID, item.Sequence, p.cfg.Extension)
		if err != nil {
			return 0, err
		}
		name = derived
	}
	data, err := p.deps.Fetcher.Fetch(ctx, sourceURL)
	if err != nil {
		return 0, err
	}
	contentType := http.DetectContentType(data)
	if _, err := p.deps.Assets.PutObject(ctx, name, contentType, bytes.NewReader(data)); err != nil {
		return 0, fmt.Errorf("store asset: %w", err)
	}
	path, err := p.deps.Assets.Path(name)
	if err != nil {
		return 0, err
	}
	hash, err := p.deps.Hasher.HashFile(path)
	if err != nil {
		return 0, fmt.Errorf("hash asset: %w", err)
	}
	if uri, err := p.deps.Mirror.PutObject(ctx, name, contentType, bytes.NewReader(data)); err != nil {
		p.logger.Warn("mirror upload failed", zap.String("filename", name), zap.Error(err))
	} else if uri != "" {
		p.logger.Debug("asset mirrored", zap.String("uri", uri))
	}
	item.LocalFilename = name
	item.ContentHash = hash
	return len(data), nil
}

// mergeText consults the local recognizer once and folds in imported batches.
func (p *Pipeline) mergeText(ctx context.Context, cat *catalog.Category, item *catalog.Item, log *zap.Logger) {
	if !item.Consulted(ocr.SourceLocal) && !item.RemoteManaged {
		if _, skip := p.skip[cat.ID]; skip {
			item.MergeText(ocr.SourceLocal, nil)
		} else if path, err := p.deps.Assets.Path(item.LocalFilename); err != nil {
			log.Warn("resolve asset path", zap.Error(err))
		} else if text, err := p.deps.Recognizer.Recognize(ctx, path); err != nil {
			log.Warn("local recognition failed", zap.Error(err))
		} else if text == "" {
			item.MergeText(ocr.SourceLocal, nil)
		} else {
			item.MergeText(ocr.SourceLocal, &text)
		}
	}
	for _, source := range p.deps.Batches.Names() {
		if text, ok := p.deps.Batches.Lookup(source, item.LocalFilename); ok {
			item.MergeText(source, &text)
		}
	}
}

func (p *Pipeline) synchronize(ctx context.Context, cat *catalog.Category, item *catalog.Item) error {
	if p.folderID == "" {
		folder, err := p.deps.Remote.EnsureFolderChain(ctx, p.cfg.FolderPath, p.cfg.FolderDescription)
		if err != nil {
			return fmt.Errorf("ensure folder: %w", err)
		}
		p.folderID = folder.ID
	}
	path, err := p.deps.Assets.Path(item.LocalFilename)
	if err != nil {
		return err
	}
	annotation, err := BuildAnnotation(cat, item)
	if err != nil {
		return fmt.Errorf("build annotation: %w", err)
	}
	id, err := p.deps.Remote.AddItemFromPath(ctx, remote.NewItem{
		Path:       path,
		Name:       item.LocalFilename,
		Website:    item.SourceURL,
		Tags:       Tags(p.cfg.Site, p.cfg.ProvenanceTags, p.cfg.TagAliases, cat.Title),
		Annotation: annotation,
		FolderID:   p.folderID,
	})
	if err != nil {
		return err
	}
	item.RemoteAssetID = id

	if p.cfg.SaveAfterCreate {
		// The remote create is not idempotent; persist the id before moving on.
		if err := p.deps.Checkpointer.Flush(p.cat); err != nil {
			p.logger.Error("save after create failed", zap.String("remote_id", id), zap.Error(err))
		}
	}
	p.publish(ctx, cat, item)
	if p.cfg.CreateDelay > 0 {
		_ = p.deps.Sleeper.Sleep(ctx, p.cfg.CreateDelay)
	}
	return nil
}

func (p *Pipeline) publish(ctx context.Context, cat *catalog.Category, item *catalog.Item) {
	if p.deps.Publisher == nil {
		return
	}
	_, err := p.deps.Publisher.Publish(ctx, publisher.EventSynchronized, publisher.Event{
		RunID:         p.deps.RunID,
		CategoryID:    cat.ID,
		CategoryTitle: cat.Title,
		Sequence:      item.Sequence,
		LocalFilename: item.LocalFilename,
		SourceURL:     item.SourceURL,
		RemoteAssetID: item.RemoteAssetID,
		Label:         item.LabelText(),
		At:            p.deps.Now().UTC(),
	})
	if err != nil {
		p.logger.Warn("publish failed", zap.String("remote_id", item.RemoteAssetID), zap.Error(err))
	}
}
