package progress

import (
	"time"

	"github.com/google/uuid"
)

// Reporter stamps events of one pass run with its id and pass name.
type Reporter struct {
	emitter Emitter
	runID   [16]byte
	pass    string
	started time.Time
	now     func() time.Time
}

// NewReporter returns a Reporter for pass. A nil emitter discards events.
func NewReporter(emitter Emitter, runID uuid.UUID, pass string) *Reporter {
	return &Reporter{emitter: emitter, runID: UUIDToBytes(runID), pass: pass, now: time.Now}
}

func (r *Reporter) emit(evt Event) {
	if r == nil || r.emitter == nil {
		return
	}
	evt.RunID = r.runID
	evt.Pass = r.pass
	evt.TS = r.now().UTC()
	r.emitter.Emit(evt)
}

// Start records the beginning of the run.
func (r *Reporter) Start() {
	if r == nil {
		return
	}
	r.started = r.now()
	r.emit(Event{Stage: StageRunStart})
}

// Finish records the end of the run, as an error when err is non-nil.
func (r *Reporter) Finish(err error) {
	if r == nil {
		return
	}
	evt := Event{Stage: StageRunDone, Dur: r.now().Sub(r.started)}
	if evt.Dur < 0 {
		evt.Dur = 0
	}
	if err != nil {
		evt.Stage = StageRunError
		evt.Note = err.Error()
	}
	r.emit(evt)
}

// Item records the outcome of one item.
func (r *Reporter) Item(categoryID string, sequence int, outcome string, bytes int64) {
	r.emit(Event{
		Stage:      StageItemDone,
		CategoryID: categoryID,
		Sequence:   sequence,
		Outcome:    outcome,
		Bytes:      bytes,
	})
}
