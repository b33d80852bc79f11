package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the kind of milestone an Event records.
type Stage string

// Supported stages.
const (
	StageRunStart Stage = "RUN_START"
	StageRunDone  Stage = "RUN_DONE"
	StageRunError Stage = "RUN_ERROR"
	StageItemDone Stage = "ITEM_DONE"
)

// Event is one milestone of a pass.
type Event struct {
	// RunID is the 16-byte form of the run's UUID.
	RunID [16]byte
	// TS is the UTC time the event was emitted.
	TS time.Time
	// Pass names the emitting pass (discover, ingest, reconcile).
	Pass  string
	Stage Stage
	// CategoryID and Sequence locate the item for ITEM_DONE events.
	CategoryID string
	Sequence   int
	// Outcome is one of the metrics outcome labels.
	Outcome string
	// Bytes is the downloaded size, when the item was fetched.
	Bytes int64
	// Dur is the run duration on RUN_DONE and RUN_ERROR.
	Dur  time.Duration
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	if e.Pass == "" {
		return errors.New("pass is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone, StageRunError:
	case StageItemDone:
		if e.Outcome == "" {
			return errors.New("item event requires outcome")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}
