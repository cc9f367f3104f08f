package experiment

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// ActionType identifies the kind of logged action.
type ActionType string

// Action types.
const (
	ActionPlace ActionType = "place"
	ActionRead  ActionType = "read"
	ActionStep  ActionType = "step"
)

// PlaceData is the payload of a place action.
type PlaceData struct {
	X             int       `json:"x"`
	Y             int       `json:"y"`
	DropletCounts Candidate `json:"droplet_counts"`
}

// ReadData is the payload of a read action.
type ReadData struct {
	X     int    `json:"x"`
	Y     int    `json:"y"`
	Color string `json:"color"`
	RGB   RGB    `json:"rgb"`
}

// StepData is the payload of a step action.
type StepData struct {
	Iteration int       `json:"iteration"`
	Loss      float64   `json:"loss"`
	Candidate Candidate `json:"candidate"`
}

// ActionRecord is one entry of an ActionLog. Records are values and are
// never modified after they are appended.
type ActionRecord struct {
	ID           string     `json:"id"`
	Seq          int        `json:"seq"`
	Type         ActionType `json:"type"`
	Data         any        `json:"data"`
	ExperimentID string     `json:"experiment_id"`
	Timestamp    time.Time  `json:"timestamp"`

	// Late marks records appended after the owning run was abandoned.
	Late bool `json:"late,omitempty"`
}

// ActionLog is the append-only action history of one experiment.
//
// Appends are serialised by mu and publish a new slice header through an
// atomic pointer. Readers load the header and copy up to its length, so
// they never take the lock and never see a half-written record: elements
// past a published length are only ever written before the next publish.
type ActionLog struct {
	experimentID string

	mu      sync.Mutex
	records atomic.Pointer[[]ActionRecord]
	sealed  atomic.Bool

	now func() time.Time
}

// NewActionLog creates an empty log for the given experiment.
func NewActionLog(experimentID string) *ActionLog {
	l := &ActionLog{experimentID: experimentID, now: time.Now}
	empty := make([]ActionRecord, 0, 3*8)
	l.records.Store(&empty)
	return l
}

// ExperimentID returns the owning experiment's ID.
func (l *ActionLog) ExperimentID() string { return l.experimentID }

// Append adds a record and returns it. Append never fails.
func (l *ActionLog) Append(typ ActionType, data any) ActionRecord {
	l.mu.Lock()
	defer l.mu.Unlock()

	cur := *l.records.Load()
	rec := ActionRecord{
		ID:           uuid.NewString(),
		Seq:          len(cur) + 1,
		Type:         typ,
		Data:         data,
		ExperimentID: l.experimentID,
		Timestamp:    l.now().UTC(),
		Late:         l.sealed.Load(),
	}
	next := append(cur, rec)
	l.records.Store(&next)
	return rec
}

// Seal marks every subsequent record as late.
func (l *ActionLog) Seal() {
	l.sealed.Store(true)
}

// Sealed reports whether the log has been sealed.
func (l *ActionLog) Sealed() bool {
	return l.sealed.Load()
}

// Len returns the number of records appended so far.
func (l *ActionLog) Len() int {
	return len(*l.records.Load())
}

// Snapshot returns a copy of every record appended so far, in order.
func (l *ActionLog) Snapshot() []ActionRecord {
	cur := *l.records.Load()
	out := make([]ActionRecord, len(cur))
	copy(out, cur)
	return out
}
