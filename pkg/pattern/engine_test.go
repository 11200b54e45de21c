package pattern

import (
	"testing"
	"time"

	"knitterd/pkg/hardware"
	"knitterd/pkg/kniterr"
	"knitterd/pkg/machine"
	"knitterd/pkg/motor"
	"knitterd/pkg/storage"
)

type engineFixture struct {
	engine  *Engine
	tracker *motor.Tracker
	driver  *hardware.SimDriver
	store   *storage.MemStore
	state   *machine.State
	clock   time.Time
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	fx := &engineFixture{clock: time.Unix(1000, 0)}
	fx.driver = hardware.NewSimDriver()
	fx.driver.SetClock(func() time.Time { return fx.clock })
	fx.store = storage.NewMemStore()
	fx.state = machine.NewState()
	fx.state.CurrentSpeed = 100
	if err := fx.driver.SetSpeed(100); err != nil {
		t.Fatalf("SetSpeed: %v", err)
	}
	fx.tracker = motor.NewTracker(fx.driver, nil, fx.state)
	fx.engine = NewEngine(fx.store, fx.tracker, fx.state, func() uint { return 1000 })
	return fx
}

// now converts the fixture clock to monotonic loop seconds.
func (fx *engineFixture) now() float64 {
	return float64(fx.clock.UnixNano()) / 1e9
}

func (fx *engineFixture) advanceClock(d time.Duration) {
	fx.clock = fx.clock.Add(d)
}

// tick mimics one loop iteration: poll the motor, feed completions to
// the engine, then advance.
func (fx *engineFixture) tick(t *testing.T) Event {
	t.Helper()
	done, err := fx.tracker.PollCompletion()
	if err != nil {
		t.Fatalf("PollCompletion: %v", err)
	}
	if done && fx.engine.Active() {
		fx.engine.OnMoveComplete()
	}
	ev, err := fx.engine.Advance(fx.now())
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	return ev
}

func (fx *engineFixture) putPattern(t *testing.T, name, data string) {
	t.Helper()
	if err := fx.store.Write(name, []byte(data)); err != nil {
		t.Fatalf("Write: %v", err)
	}
}

func TestStartNotFound(t *testing.T) {
	fx := newEngineFixture(t)
	err := fx.engine.Start("missing.json")
	if !kniterr.Is(err, kniterr.CodeNotFound) {
		t.Fatalf("err = %v, want NOT_FOUND", err)
	}
	if fx.state.Running {
		t.Error("Running = true after failed start")
	}
}

func TestStartInvalidPattern(t *testing.T) {
	fx := newEngineFixture(t)
	fx.putPattern(t, "bad.json", `{"steps":[]}`)
	err := fx.engine.Start("bad.json")
	if !kniterr.Is(err, kniterr.CodeValidation) {
		t.Fatalf("err = %v, want VALIDATION", err)
	}
}

func TestRunToCompletion(t *testing.T) {
	fx := newEngineFixture(t)
	fx.putPattern(t, "p.json", `{"steps":[
		{"type":"move","value":100},
		{"type":"speed","value":200},
		{"type":"move","value":100,"direction":"CCW"}]}`)

	if err := fx.engine.Start("p.json"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !fx.state.Running || fx.state.PatternStepCount != 3 {
		t.Fatalf("after start: running=%v count=%d", fx.state.Running, fx.state.PatternStepCount)
	}

	// First tick issues the move; nothing advances yet.
	if ev := fx.tick(t); ev != EventNone {
		t.Fatalf("tick 1 event = %v", ev)
	}
	if !fx.tracker.Moving() {
		t.Fatal("no move outstanding after first tick")
	}

	// Let the move finish (100 steps at 100 steps/s). The same tick
	// picks up the speed command, which advances immediately.
	fx.advanceClock(2 * time.Second)
	if ev := fx.tick(t); ev != EventProgress {
		t.Fatalf("tick 2 event = %v, want EventProgress", ev)
	}
	if fx.state.PatternStepIndex != 2 {
		t.Fatalf("step index = %d, want 2", fx.state.PatternStepIndex)
	}
	if fx.state.CurrentSpeed != 200 {
		t.Errorf("CurrentSpeed = %d, want 200", fx.state.CurrentSpeed)
	}

	// CCW move; its completion brings the index to the end.
	fx.tick(t)
	fx.advanceClock(2 * time.Second)
	if ev := fx.tick(t); ev != EventCompleted {
		t.Fatalf("final tick event = %v, want EventCompleted", ev)
	}
	if fx.state.CurrentPosition != 0 {
		t.Errorf("CurrentPosition = %d, want 0 after out and back", fx.state.CurrentPosition)
	}
	if fx.state.Running || fx.state.CurrentPatternName != "" || fx.state.PatternStepCount != 0 {
		t.Errorf("state not cleared after completion: %+v", fx.state)
	}
}

func TestPauseCommandSuspends(t *testing.T) {
	fx := newEngineFixture(t)
	fx.putPattern(t, "p.json", `{"steps":[
		{"type":"pause","value":500},
		{"type":"move","value":50}]}`)
	if err := fx.engine.Start("p.json"); err != nil {
		t.Fatalf("Start: %v", err)
	}

	fx.tick(t)
	if fx.tracker.Moving() {
		t.Fatal("move issued during pause wait")
	}

	// Deadline not reached yet.
	fx.advanceClock(200 * time.Millisecond)
	if ev := fx.tick(t); ev != EventNone {
		t.Fatalf("event before deadline = %v", ev)
	}
	if fx.state.PatternStepIndex != 0 {
		t.Fatalf("index advanced before deadline")
	}

	fx.advanceClock(400 * time.Millisecond)
	if ev := fx.tick(t); ev != EventProgress {
		t.Fatalf("event after deadline = %v", ev)
	}
	if fx.state.PatternStepIndex != 1 {
		t.Fatalf("index = %d, want 1", fx.state.PatternStepIndex)
	}
}

func TestPauseResume(t *testing.T) {
	fx := newEngineFixture(t)
	fx.putPattern(t, "p.json", `{"steps":[{"type":"move","value":100},{"type":"move","value":100}]}`)
	if err := fx.engine.Start("p.json"); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if fx.engine.Pause() != true {
		t.Fatal("Pause on running pattern returned false")
	}
	if fx.engine.Pause() {
		t.Error("Pause while paused should be a no-op")
	}

	// No commands issue while paused.
	fx.tick(t)
	if fx.tracker.Moving() {
		t.Fatal("move issued while paused")
	}

	if !fx.engine.Resume() {
		t.Fatal("Resume on paused pattern returned false")
	}
	if fx.engine.Resume() {
		t.Error("Resume while running should be a no-op")
	}

	fx.tick(t)
	if !fx.tracker.Moving() {
		t.Fatal("no move issued after resume")
	}
}

func TestMoveCompletesWhilePaused(t *testing.T) {
	fx := newEngineFixture(t)
	fx.putPattern(t, "p.json", `{"steps":[{"type":"move","value":100},{"type":"move","value":100}]}`)
	if err := fx.engine.Start("p.json"); err != nil {
		t.Fatalf("Start: %v", err)
	}

	fx.tick(t)
	if !fx.tracker.Moving() {
		t.Fatal("no move outstanding")
	}
	fx.engine.Pause()

	// The physical move finishes while paused; the index still
	// advances so resume does not re-issue it.
	fx.advanceClock(2 * time.Second)
	fx.tick(t)
	if fx.state.PatternStepIndex != 1 {
		t.Fatalf("index = %d, want 1", fx.state.PatternStepIndex)
	}
	if fx.tracker.Moving() {
		t.Fatal("move still outstanding")
	}

	fx.engine.Resume()
	fx.tick(t)
	if fx.state.TargetPosition != 200 {
		t.Errorf("TargetPosition = %d, want 200 (second move issued once)", fx.state.TargetPosition)
	}
}

func TestStopFromAnyState(t *testing.T) {
	fx := newEngineFixture(t)
	fx.putPattern(t, "p.json", `{"steps":[{"type":"move","value":100}]}`)

	// Stop while idle is valid.
	if err := fx.engine.Stop(); err != nil {
		t.Fatalf("Stop while idle: %v", err)
	}

	if err := fx.engine.Start("p.json"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	fx.tick(t)
	fx.engine.Pause()
	if err := fx.engine.Stop(); err != nil {
		t.Fatalf("Stop while paused: %v", err)
	}
	if fx.state.Running || fx.state.Paused || fx.state.CurrentPatternName != "" {
		t.Errorf("state not cleared after stop: %+v", fx.state)
	}
	if fx.tracker.Moving() {
		t.Error("move still outstanding after stop")
	}
}

func TestSpeedCommandClamped(t *testing.T) {
	fx := newEngineFixture(t)
	fx.putPattern(t, "p.json", `{"steps":[{"type":"speed","value":5000},{"type":"move","value":10}]}`)
	if err := fx.engine.Start("p.json"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	fx.tick(t)
	if fx.state.CurrentSpeed != 1000 {
		t.Errorf("CurrentSpeed = %d, want clamp to 1000", fx.state.CurrentSpeed)
	}
}

func TestStartReplacesRunningPattern(t *testing.T) {
	fx := newEngineFixture(t)
	fx.putPattern(t, "a.json", `{"steps":[{"type":"move","value":100},{"type":"move","value":100}]}`)
	fx.putPattern(t, "b.json", `{"steps":[{"type":"pause","value":100}]}`)

	if err := fx.engine.Start("a.json"); err != nil {
		t.Fatalf("Start a: %v", err)
	}
	fx.tick(t)
	if err := fx.engine.Start("b.json"); err != nil {
		t.Fatalf("Start b: %v", err)
	}
	if fx.state.CurrentPatternName != "b.json" || fx.state.PatternStepIndex != 0 || fx.state.PatternStepCount != 1 {
		t.Errorf("state after restart: %+v", fx.state)
	}
}

func TestSummaries(t *testing.T) {
	store := storage.NewMemStore()
	if err := store.Write("good.json", []byte(`{"name":"scarf","description":"d","steps":[{"type":"move","value":1}]}`)); err != nil {
		t.Fatal(err)
	}
	if err := store.Write("broken.json", []byte(`not json`)); err != nil {
		t.Fatal(err)
	}

	sums, err := Summaries(store)
	if err != nil {
		t.Fatalf("Summaries: %v", err)
	}
	if len(sums) != 2 {
		t.Fatalf("got %d summaries, want 2", len(sums))
	}
	byFile := map[string]Summary{}
	for _, s := range sums {
		byFile[s.FileName] = s
	}
	good := byFile["good.json"]
	if !good.Valid || good.Name != "scarf" || good.Steps != 1 {
		t.Errorf("good summary = %+v", good)
	}
	broken := byFile["broken.json"]
	if broken.Valid || broken.Name != "" {
		t.Errorf("broken summary = %+v", broken)
	}
}
