package history

import (
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRecordAndList(t *testing.T) {
	s := openTestStore(t)

	id1, err := s.RecordStart("scarf.json", 12)
	if err != nil {
		t.Fatalf("RecordStart: %v", err)
	}
	id2, err := s.RecordStart("hat.json", 30)
	if err != nil {
		t.Fatalf("RecordStart: %v", err)
	}
	if id1 == id2 {
		t.Fatalf("duplicate run ids: %d", id1)
	}

	if err := s.RecordEnd(id1, OutcomeCompleted, 12); err != nil {
		t.Fatalf("RecordEnd: %v", err)
	}
	if err := s.RecordEnd(id2, OutcomeStopped, 7); err != nil {
		t.Fatalf("RecordEnd: %v", err)
	}

	runs, err := s.List(10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("got %d runs, want 2", len(runs))
	}

	byPattern := map[string]Run{}
	for _, r := range runs {
		byPattern[r.Pattern] = r
	}
	scarf := byPattern["scarf.json"]
	if scarf.Outcome != OutcomeCompleted || scarf.StepsDone != 12 || scarf.StepsTotal != 12 {
		t.Errorf("scarf run = %+v", scarf)
	}
	hat := byPattern["hat.json"]
	if hat.Outcome != OutcomeStopped || hat.StepsDone != 7 {
		t.Errorf("hat run = %+v", hat)
	}
	if scarf.FinishedAt == 0 {
		t.Error("finished run has no finish time")
	}
}

func TestListLimit(t *testing.T) {
	s := openTestStore(t)
	for i := 0; i < 5; i++ {
		if _, err := s.RecordStart("p.json", 1); err != nil {
			t.Fatal(err)
		}
	}
	runs, err := s.List(3)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(runs) != 3 {
		t.Errorf("got %d runs, want 3", len(runs))
	}
}

func TestListUnfinishedRun(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.RecordStart("p.json", 4); err != nil {
		t.Fatal(err)
	}
	runs, err := s.List(0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("got %d runs, want 1", len(runs))
	}
	if runs[0].Outcome != "" || runs[0].FinishedAt != 0 {
		t.Errorf("unfinished run = %+v", runs[0])
	}
}
