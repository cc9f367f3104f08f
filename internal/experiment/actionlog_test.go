package experiment

import (
	"sync"
	"testing"
)

func TestActionLogAppendOrder(t *testing.T) {
	log := NewActionLog("exp-1")
	if got := log.Snapshot(); len(got) != 0 {
		t.Fatalf("new log has %d records", len(got))
	}

	log.Append(ActionPlace, PlaceData{X: 0, Y: 0, DropletCounts: Candidate{1, 2, 3}})
	log.Append(ActionRead, ReadData{X: 0, Y: 0, Color: "#102030", RGB: RGB{16, 32, 48}})
	log.Append(ActionStep, StepData{Iteration: 0, Loss: 4, Candidate: Candidate{1, 2, 3}})

	recs := log.Snapshot()
	want := []ActionType{ActionPlace, ActionRead, ActionStep}
	if len(recs) != len(want) {
		t.Fatalf("len = %d, want %d", len(recs), len(want))
	}
	for i, r := range recs {
		if r.Type != want[i] {
			t.Errorf("record %d type = %s, want %s", i, r.Type, want[i])
		}
		if r.Seq != i+1 {
			t.Errorf("record %d seq = %d, want %d", i, r.Seq, i+1)
		}
		if r.ExperimentID != "exp-1" {
			t.Errorf("record %d experiment = %q", i, r.ExperimentID)
		}
		if r.ID == "" {
			t.Errorf("record %d has empty id", i)
		}
		if r.Late {
			t.Errorf("record %d marked late", i)
		}
	}
	if place, ok := recs[0].Data.(PlaceData); !ok || place.DropletCounts != (Candidate{1, 2, 3}) {
		t.Errorf("place payload = %#v", recs[0].Data)
	}
}

func TestActionLogSnapshotIsCopy(t *testing.T) {
	log := NewActionLog("exp-1")
	log.Append(ActionPlace, PlaceData{})

	snap := log.Snapshot()
	snap[0].Type = ActionStep
	log.Append(ActionRead, ReadData{})

	again := log.Snapshot()
	if again[0].Type != ActionPlace {
		t.Errorf("mutating a snapshot changed the log: %s", again[0].Type)
	}
	if len(snap) != 1 {
		t.Errorf("earlier snapshot grew to %d", len(snap))
	}
}

func TestActionLogSeal(t *testing.T) {
	log := NewActionLog("exp-1")
	log.Append(ActionPlace, PlaceData{})
	log.Seal()
	late := log.Append(ActionRead, ReadData{})

	if !late.Late {
		t.Error("record appended after Seal not marked late")
	}
	recs := log.Snapshot()
	if recs[0].Late {
		t.Error("record appended before Seal marked late")
	}
	if !log.Sealed() {
		t.Error("Sealed() = false")
	}
}

func TestActionLogConcurrentReaders(t *testing.T) {
	log := NewActionLog("exp-1")
	const n = 500

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			prev := 0
			for {
				select {
				case <-stop:
					return
				default:
				}
				recs := log.Snapshot()
				if len(recs) < prev {
					t.Errorf("snapshot shrank from %d to %d", prev, len(recs))
					return
				}
				for i, r := range recs {
					if r.Seq != i+1 {
						t.Errorf("record %d has seq %d", i, r.Seq)
						return
					}
				}
				prev = len(recs)
			}
		}()
	}

	for i := range n {
		log.Append(ActionStep, StepData{Iteration: i})
	}
	close(stop)
	wg.Wait()

	if log.Len() != n {
		t.Errorf("Len() = %d, want %d", log.Len(), n)
	}
}
