package catalog

// State is the derived lifecycle position of an item.
type State string

// Item states, strictly forward.
const (
	StateDiscovered   State = "discovered"
	StateDeduped      State = "deduped"
	StateHashed       State = "hashed"
	StateLabeled      State = "labeled"
	StateSynchronized State = "synchronized"
	StateReconciled   State = "reconciled"
)

// Item is one discoverable binary asset plus its derived metadata.
type Item struct {
	Sequence            int                `json:"sequence"`
	SourceFilename      string             `json:"sourceFilename,omitempty"`
	SourceURL           string             `json:"sourceUrl,omitempty"`
	LocalFilename       string             `json:"localFilename,omitempty"`
	ContentHash         string             `json:"contentHash,omitempty"`
	DuplicateOfExisting bool               `json:"duplicateOfExisting,omitempty"`
	RecognizedText      map[string]*string `json:"recognizedText,omitempty"`
	Label               *string            `json:"label,omitempty"`
	RemoteAssetID       string             `json:"remoteAssetId,omitempty"`
	RemoteManaged       bool               `json:"remoteManaged,omitempty"`
	PendingRemoteUpdate bool               `json:"pendingRemoteUpdate,omitempty"`
}

// State derives the lifecycle position from field presence.
func (i *Item) State() State {
	switch {
	case i.RemoteManaged && i.RemoteAssetID != "":
		return StateReconciled
	case i.RemoteAssetID != "":
		return StateSynchronized
	case i.DuplicateOfExisting:
		return StateDeduped
	case i.Labeled():
		return StateLabeled
	case i.ContentHash != "":
		return StateHashed
	default:
		return StateDiscovered
	}
}

// Downloaded reports whether the asset bytes were fetched and hashed.
func (i *Item) Downloaded() bool {
	return i.ContentHash != ""
}

// Labeled reports whether a label exists or the remote service owns it.
func (i *Item) Labeled() bool {
	return i.Label != nil || i.RemoteManaged
}

// Synchronized reports whether the item exists in the remote service.
func (i *Item) Synchronized() bool {
	return i.RemoteAssetID != ""
}

// LabelText returns the label or the empty string.
func (i *Item) LabelText() string {
	if i.Label == nil {
		return ""
	}
	return *i.Label
}

// SetLabel stores label.
func (i *Item) SetLabel(label string) {
	i.Label = &label
}

// Consulted reports whether source has been asked for text, with or without a result.
func (i *Item) Consulted(source string) bool {
	_, ok := i.RecognizedText[source]
	return ok
}

// Text returns the recognized text recorded for source, or "".
func (i *Item) Text(source string) string {
	if v := i.RecognizedText[source]; v != nil {
		return *v
	}
	return ""
}

// MergeText records text for source. Entries holding text are never
// overwritten; a nil text marks the source as consulted without a result.
// It reports whether the item changed.
func (i *Item) MergeText(source string, text *string) bool {
	existing, ok := i.RecognizedText[source]
	if ok && (existing != nil || text == nil) {
		return false
	}
	if i.RecognizedText == nil {
		i.RecognizedText = make(map[string]*string)
	}
	if text != nil {
		t := *text
		text = &t
	}
	i.RecognizedText[source] = text
	return true
}

// FirstText returns the first non-empty recognized text in priority order.
func (i *Item) FirstText(priority []string) string {
	for _, source := range priority {
		if t := i.Text(source); t != "" {
			return t
		}
	}
	return ""
}
