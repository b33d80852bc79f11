package reconcile_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-harvester/internal/catalog"
	"github.com/JakeFAU/catalog-harvester/internal/hash/sha256"
	"github.com/JakeFAU/catalog-harvester/internal/ocr"
	"github.com/JakeFAU/catalog-harvester/internal/publisher"
	"github.com/JakeFAU/catalog-harvester/internal/publisher/memory"
	"github.com/JakeFAU/catalog-harvester/internal/reconcile"
	"github.com/JakeFAU/catalog-harvester/internal/remote"
	"github.com/JakeFAU/catalog-harvester/internal/remote/remotetest"
)

const ingestAnnotation = `{"title":"ABC-123.jpg","description":"ABC-123 Title Here","category":{"id":"3","name":"Drama","url":"https://src.example/c/3"}}`

type fixedClock struct{}

func (fixedClock) Now() time.Time { return time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC) }

type fixture struct {
	t      *testing.T
	server *remotetest.Server
	client *remote.Client
	store  *catalog.Store
	pub    *memory.Publisher
	cat    *catalog.Catalog
	drama  *catalog.Category
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	server := remotetest.NewServer("tok")
	t.Cleanup(server.Close)
	client, err := remote.New(remote.Config{Host: server.URL, Token: "tok", Attempts: 1}, nil)
	require.NoError(t, err)
	cat := catalog.New()
	cat.EnsureRoot("Home", "https://src.example/")
	drama, _ := cat.Add("3", "Drama", "https://src.example/c/3")
	return &fixture{
		t:      t,
		server: server,
		client: client,
		store:  catalog.NewStore(filepath.Join(t.TempDir(), "catalog.json"), nil),
		pub:    memory.New(),
		cat:    cat,
		drama:  drama,
	}
}

// synced adds a synchronized item and its remote twin.
func (f *fixture) synced(remoteID, sourceURL, label string, remoteItem remotetest.Item) *catalog.Item {
	f.t.Helper()
	it, _ := f.drama.AddItem(sourceURL)
	it.LocalFilename, _ = catalog.DeriveFilename(f.drama.ID, it.Sequence, ".jpg")
	digest, err := sha256.New().Hash([]byte(remoteID))
	require.NoError(f.t, err)
	it.ContentHash = digest
	it.SetLabel(label)
	it.RemoteAssetID = remoteID
	remoteItem.ID = remoteID
	if remoteItem.URL == "" {
		remoteItem.URL = sourceURL
	}
	f.server.PutItem(remoteItem)
	return it
}

func (f *fixture) run(batches *ocr.Batches) reconcile.Summary {
	f.t.Helper()
	r, err := reconcile.New(reconcile.Deps{
		Remote:       f.client,
		Batches:      batches,
		Checkpointer: catalog.NewCheckpointer(f.store, 0, fixedClock{}, nil),
		Publisher:    f.pub,
		RunID:        "run-r",
		Now:          fixedClock{}.Now,
	})
	require.NoError(f.t, err)
	summary, err := r.Run(context.Background(), f.cat)
	require.NoError(f.t, err)
	return summary
}

func TestAdoptRemoteScenario(t *testing.T) {
	f := newFixture(t)
	it := f.synced("I1", "https://src.example/img/ABC-123.jpg", "ABC-123 Title Here", remotetest.Item{
		Name:       "renamed",
		Ext:        "png",
		URL:        "https://curated.example/abc",
		Tags:       []string{"keep", "_op=back"},
		Annotation: `{"description":"foo"}`,
	})

	summary := f.run(nil)
	assert.Equal(t, 1, summary.Updated)

	assert.Equal(t, "foo", it.LabelText())
	assert.True(t, it.RemoteManaged)
	assert.False(t, it.PendingRemoteUpdate)
	assert.Equal(t, "renamed.png", it.LocalFilename)
	assert.Equal(t, "https://curated.example/abc", it.SourceURL)
	assert.Equal(t, catalog.StateReconciled, it.State())

	remoteItem, ok := f.server.Item("I1")
	require.True(t, ok)
	assert.Equal(t, []string{"keep"}, remoteItem.Tags)
	updates := f.server.Updates()
	require.Len(t, updates, 1)
	assert.NotContains(t, updates[0], "annotation")
	assert.NotContains(t, updates[0], "url")

	msgs := f.pub.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, publisher.EventReconciled, msgs[0].Type)

	reloaded, err := f.store.Load()
	require.NoError(t, err)
	c, _ := reloaded.Get("3")
	saved, _ := c.Items.Get("https://src.example/img/ABC-123.jpg")
	assert.True(t, saved.RemoteManaged)
	assert.Equal(t, "foo", saved.LabelText())
}

func TestAdoptRemoteWithoutURLKeepsSourceURL(t *testing.T) {
	f := newFixture(t)
	const sourceURL = "https://src.example/img/ABC-9.jpg"
	it := f.synced("I1", sourceURL, "ABC-9", remotetest.Item{
		Name:       "000003_000001",
		Ext:        "jpg",
		Tags:       []string{"_op=back"},
		Annotation: `{"description":"kept"}`,
	})
	remoteItem, ok := f.server.Item("I1")
	require.True(t, ok)
	remoteItem.URL = ""
	f.server.PutItem(remoteItem)

	f.run(nil)

	assert.True(t, it.RemoteManaged)
	assert.Equal(t, sourceURL, it.SourceURL)
	assert.Equal(t, "kept", it.LabelText())

	reloaded, err := f.store.Load()
	require.NoError(t, err)
	c, _ := reloaded.Get("3")
	saved, _ := c.Items.Get(sourceURL)
	assert.Equal(t, sourceURL, saved.SourceURL)
}

func TestPrefixOnlyRewritesDescription(t *testing.T) {
	f := newFixture(t)
	it := f.synced("I1", "https://src.example/img/ABC-123.jpg", "ABC-123 Title Here", remotetest.Item{
		Tags:       []string{"_op=ocr/prefix-only", "_tag=src/Drama"},
		Annotation: ingestAnnotation,
	})

	f.run(nil)

	assert.Equal(t, "ABC-123", it.LabelText())
	remoteItem, _ := f.server.Item("I1")
	assert.Equal(t, []string{"_tag=src/Drama"}, remoteItem.Tags)
	assert.Equal(t,
		`{"title":"ABC-123.jpg","description":"ABC-123","category":{"id":"3","name":"Drama","url":"https://src.example/c/3"}}`,
		remoteItem.Annotation)
}

func TestFromSourceImportsBatchText(t *testing.T) {
	f := newFixture(t)
	it := f.synced("I1", "https://src.example/img/XYZ-77.jpg", "XYZ-77", remotetest.Item{
		Tags:       []string{"_op=ocr/cloud"},
		Annotation: `{"description":"XYZ-77"}`,
	})
	batches := ocr.NewBatches([]string{"cloud"}, map[string]ocr.Batch{
		"cloud": {it.LocalFilename: "xyz-77 clip.mp4"},
	})

	f.run(batches)

	assert.Equal(t, "XYZ-77 clip", it.LabelText())
	assert.Equal(t, "xyz-77 clip.mp4", it.Text("cloud"))
	remoteItem, _ := f.server.Item("I1")
	assert.Empty(t, remoteItem.Tags)
	assert.Equal(t, `{"description":"XYZ-77 clip"}`, remoteItem.Annotation)
}

func TestFromSourceWithoutTextKeepsLabel(t *testing.T) {
	f := newFixture(t)
	it := f.synced("I1", "https://src.example/img/XYZ-77.jpg", "XYZ-77", remotetest.Item{
		Tags:       []string{"_op=ocr/missing"},
		Annotation: `{"description":"XYZ-77"}`,
	})

	summary := f.run(nil)
	assert.Equal(t, 1, summary.Updated)
	assert.Equal(t, "XYZ-77", it.LabelText())
	remoteItem, _ := f.server.Item("I1")
	assert.Empty(t, remoteItem.Tags)
}

func TestAdoptRemoteRepairsAnnotation(t *testing.T) {
	f := newFixture(t)
	broken := "{\"description\":\n\"<a href=\"https://x.example\">bar</a>\"}"
	it := f.synced("I1", "https://src.example/img/ABC-1.jpg", "ABC-1", remotetest.Item{
		Name:       "000003_000001",
		Ext:        "jpg",
		Tags:       []string{"_op=back"},
		Annotation: broken,
	})

	f.run(nil)

	assert.Equal(t, "bar", it.LabelText())
	assert.True(t, it.RemoteManaged)
	remoteItem, _ := f.server.Item("I1")
	assert.Equal(t, `{"description": "bar"}`, remoteItem.Annotation)
}

func TestUnrepairableAnnotationLeavesItemUntouched(t *testing.T) {
	f := newFixture(t)
	it := f.synced("I1", "https://src.example/img/ABC-1.jpg", "ABC-1", remotetest.Item{
		Tags:       []string{"_op=ocr/prefix-only", "_op=back"},
		Annotation: "definitely not json",
	})
	before := *it

	summary := f.run(nil)
	assert.Equal(t, 1, summary.Untouched)
	assert.Equal(t, before, *it)
	assert.Zero(t, f.server.Calls(remote.EndpointItemUpdate))
	remoteItem, _ := f.server.Item("I1")
	assert.Equal(t, []string{"_op=ocr/prefix-only", "_op=back"}, remoteItem.Tags)
}

func TestOCRDirectiveIgnoredOnRemoteManagedItem(t *testing.T) {
	f := newFixture(t)
	it := f.synced("I1", "https://src.example/img/ABC-1.jpg", "curated label", remotetest.Item{
		Tags:       []string{"_op=ocr/prefix-only"},
		Annotation: `{"description":"curated label"}`,
	})
	it.RemoteManaged = true

	f.run(nil)

	assert.Equal(t, "curated label", it.LabelText())
	remoteItem, _ := f.server.Item("I1")
	assert.Empty(t, remoteItem.Tags)
	assert.Equal(t, `{"description":"curated label"}`, remoteItem.Annotation)
}

func TestBackBeforeOCRInSameTagSet(t *testing.T) {
	f := newFixture(t)
	it := f.synced("I1", "https://src.example/img/ABC-1.jpg", "ABC-1 local", remotetest.Item{
		Name:       "x",
		Ext:        "jpg",
		Tags:       []string{"_op=back", "_op=ocr/prefix-only"},
		Annotation: `{"description":"remote words"}`,
	})

	f.run(nil)
	assert.Equal(t, "remote words", it.LabelText())
}

func TestPendingUpdateIsRetried(t *testing.T) {
	f := newFixture(t)
	it := f.synced("I1", "https://src.example/img/ABC-123.jpg", "ABC-123 Title Here", remotetest.Item{
		Tags:       []string{"_op=ocr/prefix-only"},
		Annotation: ingestAnnotation,
	})
	f.server.FailNext(remote.EndpointItemUpdate, 1)

	summary := f.run(nil)
	assert.Equal(t, 1, summary.Failed)
	assert.True(t, it.PendingRemoteUpdate)
	assert.Equal(t, "ABC-123", it.LabelText())

	summary = f.run(nil)
	assert.Equal(t, 1, summary.Updated)
	assert.False(t, it.PendingRemoteUpdate)
	assert.Equal(t, "ABC-123", it.LabelText())
	remoteItem, _ := f.server.Item("I1")
	assert.Empty(t, remoteItem.Tags)
	assert.Contains(t, remoteItem.Annotation, `"description":"ABC-123"`)
}

func TestPendingWithoutDirectivesPushesLabel(t *testing.T) {
	f := newFixture(t)
	it := f.synced("I1", "https://src.example/img/ABC-123.jpg", "ABC-123", remotetest.Item{
		Tags:       []string{"_tag=src/Drama"},
		Annotation: ingestAnnotation,
	})
	it.PendingRemoteUpdate = true

	summary := f.run(nil)
	assert.Equal(t, 1, summary.Updated)
	assert.False(t, it.PendingRemoteUpdate)
	remoteItem, _ := f.server.Item("I1")
	assert.Equal(t, []string{"_tag=src/Drama"}, remoteItem.Tags)
	assert.Contains(t, remoteItem.Annotation, `"description":"ABC-123"`)
}

func TestItemsWithoutDirectivesAreLeftAlone(t *testing.T) {
	f := newFixture(t)
	f.synced("I1", "https://src.example/img/ABC-1.jpg", "ABC-1", remotetest.Item{
		Tags:       []string{"_ocr=cloud", "_tag=src/Drama"},
		Annotation: `{"description":"ABC-1"}`,
	})
	unsynced, _ := f.drama.AddItem("https://src.example/img/NEW-1.jpg")

	summary := f.run(nil)
	assert.Equal(t, reconcile.Summary{Categories: 1, Items: 1, Unchanged: 1}, summary)
	assert.Zero(t, f.server.Calls(remote.EndpointItemUpdate))
	assert.Equal(t, catalog.StateDiscovered, unsynced.State())
}

func TestMissingRemoteItemIsCountedAndSkipped(t *testing.T) {
	f := newFixture(t)
	ghost, _ := f.drama.AddItem("https://src.example/img/GHOST-1.jpg")
	ghost.ContentHash = "h"
	ghost.SetLabel("GHOST-1")
	ghost.RemoteAssetID = "I404"
	it := f.synced("I1", "https://src.example/img/ABC-1.jpg", "ABC-1 long", remotetest.Item{
		Tags:       []string{"_op=unknown-verb", "_op=ocr/prefix-only"},
		Annotation: `{"description":"ABC-1 long"}`,
	})

	summary := f.run(nil)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, summary.Updated)
	assert.Equal(t, "GHOST-1", ghost.LabelText())
	assert.Equal(t, "ABC-1", it.LabelText())
	remoteItem, _ := f.server.Item("I1")
	assert.Empty(t, remoteItem.Tags)
}

func TestNewValidatesDeps(t *testing.T) {
	_, err := reconcile.New(reconcile.Deps{})
	require.Error(t, err)
}
