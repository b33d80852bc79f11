package sinks

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/catalog-harvester/internal/progress"
)

// RunStatus is the lifecycle of a tracked run.
type RunStatus string

// Run statuses.
const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunError   RunStatus = "error"
)

// Run aggregates the events of one pass run.
type Run struct {
	RunID      uuid.UUID
	Pass       string
	StartedAt  time.Time
	FinishedAt *time.Time
	Status     RunStatus
	Error      string
	LastUpdate time.Time
	// Outcomes counts items per outcome label.
	Outcomes   map[string]int64
	BytesTotal int64
	// LastCategory is the category of the most recent item event.
	LastCategory string
}

// Tracker keeps an in-memory view of every run seen since start-up.
type Tracker struct {
	mu   sync.RWMutex
	runs map[uuid.UUID]*Run
}

// NewTracker returns an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{runs: make(map[uuid.UUID]*Run)}
}

// Consume folds batch into the tracked runs.
func (t *Tracker) Consume(_ context.Context, batch []progress.Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, evt := range batch {
		run := t.runFor(evt)
		run.LastUpdate = evt.TS
		switch evt.Stage {
		case progress.StageRunStart:
			run.StartedAt = evt.TS
			run.Status = RunRunning
		case progress.StageRunDone, progress.StageRunError:
			finished := evt.TS
			run.FinishedAt = &finished
			run.Status = RunSuccess
			if evt.Stage == progress.StageRunError {
				run.Status = RunError
				run.Error = evt.Note
			}
		case progress.StageItemDone:
			run.Outcomes[evt.Outcome]++
			run.BytesTotal += evt.Bytes
			run.LastCategory = evt.CategoryID
		}
	}
	return nil
}

func (t *Tracker) runFor(evt progress.Event) *Run {
	id := evt.RunUUID()
	run, ok := t.runs[id]
	if !ok {
		run = &Run{
			RunID:     id,
			Pass:      evt.Pass,
			StartedAt: evt.TS,
			Status:    RunRunning,
			Outcomes:  make(map[string]int64),
		}
		t.runs[id] = run
	}
	return run
}

// Close implements progress.Sink.
func (t *Tracker) Close(context.Context) error {
	return nil
}

// Runs returns copies of all runs, most recently started first.
func (t *Tracker) Runs() []Run {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Run, 0, len(t.runs))
	for _, run := range t.runs {
		out = append(out, copyRun(run))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out
}

// Run returns a copy of one run.
func (t *Tracker) Run(id uuid.UUID) (Run, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	run, ok := t.runs[id]
	if !ok {
		return Run{}, false
	}
	return copyRun(run), true
}

func copyRun(run *Run) Run {
	out := *run
	out.Outcomes = make(map[string]int64, len(run.Outcomes))
	for k, v := range run.Outcomes {
		out.Outcomes[k] = v
	}
	if run.FinishedAt != nil {
		finished := *run.FinishedAt
		out.FinishedAt = &finished
	}
	return out
}
