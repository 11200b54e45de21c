package loop

import (
	"sync"
	"testing"
	"time"
)

func TestTaskOrder(t *testing.T) {
	l := New(5 * time.Millisecond)
	var mu sync.Mutex
	var order []int
	for i := 1; i <= 3; i++ {
		i := i
		l.AddTask(func(float64) {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		})
	}

	l.Run()
	time.Sleep(20 * time.Millisecond)
	l.End()
	l.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(order) < 3 {
		t.Fatalf("tasks ran %d times, want at least one full tick", len(order))
	}
	for i, v := range order {
		if v != i%3+1 {
			t.Fatalf("order = %v, tasks out of registration order", order)
		}
	}
}

func TestEnqueueRunsBeforeTasks(t *testing.T) {
	l := New(time.Hour) // never ticks on its own
	var mu sync.Mutex
	var events []string
	l.AddTask(func(float64) {
		mu.Lock()
		events = append(events, "task")
		mu.Unlock()
	})
	l.Run()
	defer func() {
		l.End()
		l.Wait()
	}()

	done := make(chan struct{})
	err := l.Enqueue(func(float64) {
		mu.Lock()
		events = append(events, "command")
		mu.Unlock()
		close(done)
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("enqueued command never ran")
	}
	time.Sleep(10 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(events) < 2 || events[0] != "command" || events[1] != "task" {
		t.Fatalf("events = %v, want command before task", events)
	}
}

func TestEnqueueAfterEnd(t *testing.T) {
	l := New(time.Millisecond)
	l.Run()
	l.End()
	l.Wait()

	if err := l.Enqueue(func(float64) {}); err != ErrClosed {
		t.Fatalf("Enqueue after End = %v, want ErrClosed", err)
	}
}

func TestDoneUnblocksLateCommands(t *testing.T) {
	l := New(time.Millisecond)
	l.Run()
	l.End()
	l.Wait()

	select {
	case <-l.Done():
	case <-time.After(time.Second):
		t.Fatal("Done not closed after Wait")
	}

	// A command that slipped into the queue around shutdown must
	// still run during the final drain or be answerable via Done,
	// so waiters holding a reply channel do not hang.
	fired := make(chan struct{})
	select {
	case l.commands <- func(float64) { close(fired) }:
		select {
		case <-fired:
		case <-l.Done():
		case <-time.After(time.Second):
			t.Fatal("late command neither ran nor observed Done")
		}
	default:
		// Queue already closed off; nothing can strand a waiter.
	}
}

func TestMonotonicAdvances(t *testing.T) {
	l := New(time.Millisecond)
	a := l.Monotonic()
	time.Sleep(5 * time.Millisecond)
	b := l.Monotonic()
	if b <= a {
		t.Fatalf("Monotonic did not advance: %v then %v", a, b)
	}
}
