// Package reconcile applies curator directives found on remote items back to
// the catalog and pushes the resulting changes to the asset service.
//
// Directives are one-shot tags of the form _op=<verb>[/<arg>]. Every
// directive found on an item is applied in tag order to compute one final
// field set, all directive tags are removed, and the item is updated with a
// single remote call.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-harvester/internal/catalog"
	"github.com/JakeFAU/catalog-harvester/internal/label"
	"github.com/JakeFAU/catalog-harvester/internal/metrics"
	"github.com/JakeFAU/catalog-harvester/internal/ocr"
	"github.com/JakeFAU/catalog-harvester/internal/progress"
	"github.com/JakeFAU/catalog-harvester/internal/publisher"
	"github.com/JakeFAU/catalog-harvester/internal/remote"
)

// Pass is the name reported in logs, metrics and events.
const Pass = "reconcile"

// Remote is the subset of the asset service client used here.
type Remote interface {
	ItemInfo(ctx context.Context, id string) (remote.ItemInfo, error)
	UpdateItem(ctx context.Context, update remote.ItemUpdate) error
}

// Checkpointer persists the catalog between items.
type Checkpointer interface {
	Checkpoint(cat *catalog.Catalog) error
	Flush(cat *catalog.Catalog) error
}

// Deps are the collaborators of a Pass. Batches, Publisher and Reporter are
// optional.
type Deps struct {
	Remote       Remote
	Batches      *ocr.Batches
	Checkpointer Checkpointer
	Publisher    publisher.Publisher
	Reporter     *progress.Reporter
	RunID        string
	Logger       *zap.Logger
	Now          func() time.Time
}

// Summary counts what a reconciliation run did.
type Summary struct {
	Categories int
	Items      int
	Updated    int
	Unchanged  int
	Untouched  int
	Failed     int
}

// Reconciler walks synchronized items.
type Reconciler struct {
	deps   Deps
	logger *zap.Logger
}

// New returns a Reconciler.
func New(deps Deps) (*Reconciler, error) {
	if deps.Remote == nil {
		return nil, errors.New("reconcile: remote client is required")
	}
	if deps.Checkpointer == nil {
		return nil, errors.New("reconcile: checkpointer is required")
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{deps: deps, logger: logger.Named(Pass).With(zap.String("run_id", deps.RunID))}, nil
}

// Run reconciles every synchronized item in first-seen order.
func (r *Reconciler) Run(ctx context.Context, cat *catalog.Catalog) (summary Summary, err error) {
	r.deps.Reporter.Start()
	defer func() { r.deps.Reporter.Finish(err) }()

	for _, category := range cat.Categories() {
		if !category.HasItems() {
			continue
		}
		summary.Categories++
		for _, sourceURL := range category.Items.Keys() {
			item, _ := category.Items.Get(sourceURL)
			if !item.Synchronized() {
				continue
			}
			if ctx.Err() != nil {
				if err := r.deps.Checkpointer.Flush(cat); err != nil {
					return summary, fmt.Errorf("save on cancel: %w", err)
				}
				r.logger.Warn("reconcile interrupted", zap.Error(ctx.Err()))
				return summary, ctx.Err()
			}
			summary.Items++
			outcome := r.reconcileItem(ctx, category, item, &summary)
			metrics.ObserveItem(Pass, outcome)
			r.deps.Reporter.Item(category.ID, item.Sequence, outcome, 0)
			if err := r.deps.Checkpointer.Checkpoint(cat); err != nil {
				return summary, fmt.Errorf("checkpoint: %w", err)
			}
		}
	}

	if err := r.deps.Checkpointer.Flush(cat); err != nil {
		return summary, fmt.Errorf("final save: %w", err)
	}
	r.logger.Info("reconcile finished",
		zap.Int("categories", summary.Categories),
		zap.Int("items", summary.Items),
		zap.Int("updated", summary.Updated),
		zap.Int("unchanged", summary.Unchanged),
		zap.Int("untouched", summary.Untouched),
		zap.Int("failed", summary.Failed),
	)
	return summary, nil
}

// change is the field set computed for one item before anything is committed.
type change struct {
	label         *string
	localFilename string
	sourceURL     string
	remoteManaged bool
	annotation    *string
	// imported holds batch text to record per source.
	imported map[string]string
}

func (r *Reconciler) reconcileItem(ctx context.Context, cat *catalog.Category, item *catalog.Item, summary *Summary) string {
	log := r.logger.With(
		zap.String("category_id", cat.ID),
		zap.String("category_title", cat.Title),
		zap.Int("sequence", item.Sequence),
		zap.String("filename", item.LocalFilename),
		zap.String("remote_id", item.RemoteAssetID),
	)

	info, err := r.deps.Remote.ItemInfo(ctx, item.RemoteAssetID)
	if err != nil {
		log.Warn("fetch remote item failed", zap.Error(err))
		summary.Failed++
		return metrics.OutcomeFailed
	}

	directives, kept := SplitTags(info.Tags)
	for _, tag := range kept {
		if IsLegacyTag(tag) {
			log.Warn("legacy directive tag ignored, retag with _op=", zap.String("tag", tag))
		}
	}
	if len(directives) == 0 && !item.PendingRemoteUpdate {
		summary.Unchanged++
		return metrics.OutcomeSkipped
	}

	next, err := r.apply(item, info, directives, log)
	if err != nil {
		log.Error("remote annotation needs manual repair, item left untouched",
			zap.String("annotation", info.Annotation), zap.Error(err))
		summary.Untouched++
		return metrics.OutcomeSkipped
	}

	for source, text := range next.imported {
		item.MergeText(source, &text)
	}
	item.Label = next.label
	item.LocalFilename = next.localFilename
	item.SourceURL = next.sourceURL
	item.RemoteManaged = next.remoteManaged
	item.PendingRemoteUpdate = true

	update := remote.ItemUpdate{ID: item.RemoteAssetID, Tags: kept, Annotation: next.annotation}
	if item.SourceURL != info.URL {
		update.URL = &item.SourceURL
	}
	if err := r.deps.Remote.UpdateItem(ctx, update); err != nil {
		log.Warn("push to remote failed, will retry next run", zap.String("label", item.LabelText()), zap.Error(err))
		summary.Failed++
		return metrics.OutcomeFailed
	}
	item.PendingRemoteUpdate = false
	summary.Updated++
	log.Info("item reconciled",
		zap.String("label", item.LabelText()),
		zap.Bool("remote_managed", item.RemoteManaged),
		zap.Int("directives", len(directives)),
	)
	r.publish(ctx, cat, item)
	return metrics.OutcomeReconciled
}

// apply folds directives into a change without touching item. It fails only
// when a back directive meets an annotation that cannot be repaired.
func (r *Reconciler) apply(item *catalog.Item, info remote.ItemInfo, directives []Directive, log *zap.Logger) (change, error) {
	next := change{
		label:         item.Label,
		localFilename: item.LocalFilename,
		sourceURL:     item.SourceURL,
		remoteManaged: item.RemoteManaged,
	}
	annotation := info.Annotation

	for _, d := range directives {
		switch {
		case d.IsOCR() && next.remoteManaged:
			log.Info("directive ignored on remote-managed item", zap.String("tag", d.Tag))
		case d.Kind == KindPrefixOnly:
			l := label.PrefixOnly(labelText(next.label), item.SourceFilename)
			next.label = &l
		case d.Kind == KindFromSource:
			text, ok := r.sourceText(item, d.Source, &next)
			if !ok {
				log.Warn("no recognized text for source", zap.String("source", d.Source))
				continue
			}
			l := label.Normalize(text, item.SourceFilename)
			next.label = &l
		case d.Kind == KindAdoptRemote:
			ann, fixed, repaired, err := parseAnnotation(annotation)
			if err != nil {
				return change{}, err
			}
			if repaired {
				annotation = fixed
				next.annotation = &annotation
			}
			if ann.Description != nil {
				l := *ann.Description
				next.label = &l
			}
			next.localFilename = info.Name
			if info.Ext != "" {
				next.localFilename += "." + info.Ext
			}
			if info.URL != "" {
				next.sourceURL = info.URL
			}
			next.remoteManaged = true
		default:
			log.Warn("unknown directive stripped", zap.String("tag", d.Tag))
		}
	}

	if !next.remoteManaged && next.label != nil {
		if rewritten, ok := withDescription(annotation, *next.label); ok {
			next.annotation = &rewritten
		}
	}
	return next, nil
}

// sourceText returns the text recorded for source, falling back to an
// imported batch. Batch text is queued on next for recording.
func (r *Reconciler) sourceText(item *catalog.Item, source string, next *change) (string, bool) {
	if text := item.Text(source); text != "" {
		return text, true
	}
	text, ok := r.deps.Batches.Lookup(source, item.LocalFilename)
	if !ok {
		return "", false
	}
	if next.imported == nil {
		next.imported = make(map[string]string)
	}
	next.imported[source] = text
	return text, true
}

func (r *Reconciler) publish(ctx context.Context, cat *catalog.Category, item *catalog.Item) {
	if r.deps.Publisher == nil {
		return
	}
	_, err := r.deps.Publisher.Publish(ctx, publisher.EventReconciled, publisher.Event{
		RunID:         r.deps.RunID,
		CategoryID:    cat.ID,
		CategoryTitle: cat.Title,
		Sequence:      item.Sequence,
		LocalFilename: item.LocalFilename,
		SourceURL:     item.SourceURL,
		RemoteAssetID: item.RemoteAssetID,
		Label:         item.LabelText(),
		At:            r.deps.Now().UTC(),
	})
	if err != nil {
		r.logger.Warn("publish failed", zap.String("remote_id", item.RemoteAssetID), zap.Error(err))
	}
}

func labelText(l *string) string {
	if l == nil {
		return ""
	}
	return *l
}
