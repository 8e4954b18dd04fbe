package emit_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/orbitq/orbit/emit"
)

// collector accumulates events delivered to a subscriber.
type collector struct {
	mu     sync.Mutex
	events []emit.Event
}

func (c *collector) handle(ev emit.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return nil
}

func (c *collector) snapshot() []emit.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]emit.Event, len(c.events))
	copy(out, c.events)
	return out
}

// waitFor polls until the collector holds n events or the deadline hits.
func (c *collector) waitFor(t *testing.T, n int) []emit.Event {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		evs := c.snapshot()
		if len(evs) >= n {
			return evs
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d events, have %d", n, len(c.snapshot()))
	return nil
}

func TestBusFanOut(t *testing.T) {
	bus := emit.NewBus(16, nil)
	defer bus.Close()

	var a, b collector
	bus.Subscribe(a.handle)
	bus.Subscribe(b.handle)

	bus.Publish(emit.WorkflowEvent("wf-1", "running"))
	bus.Publish(emit.WorkflowEvent("wf-1", "completed"))

	for _, c := range []*collector{&a, &b} {
		evs := c.waitFor(t, 2)
		if evs[0].Status != "running" || evs[1].Status != "completed" {
			t.Errorf("events out of order: %+v", evs)
		}
	}
}

// Events from a single publisher arrive at each subscriber in publish
// order.
func TestBusOrderingPerSubscriber(t *testing.T) {
	bus := emit.NewBus(1024, nil)
	defer bus.Close()

	var c collector
	bus.Subscribe(c.handle)

	const n = 500
	for i := 0; i < n; i++ {
		bus.Publish(emit.TaskEvent("t-1", "step", "running"))
		bus.Publish(emit.TaskEvent("t-1", "step", "completed"))
	}

	evs := c.waitFor(t, 2*n)
	for i := 0; i < 2*n; i += 2 {
		if evs[i].Status != "running" || evs[i+1].Status != "completed" {
			t.Fatalf("pair %d out of order: %s then %s", i/2, evs[i].Status, evs[i+1].Status)
		}
	}
}

func TestBusUnsubscribe(t *testing.T) {
	bus := emit.NewBus(16, nil)
	defer bus.Close()

	var c collector
	id := bus.Subscribe(c.handle)

	bus.Publish(emit.WorkflowEvent("wf-1", "running"))
	c.waitFor(t, 1)

	bus.Unsubscribe(id)
	bus.Publish(emit.WorkflowEvent("wf-1", "completed"))

	time.Sleep(50 * time.Millisecond)
	if got := len(c.snapshot()); got != 1 {
		t.Errorf("events after unsubscribe = %d, want 1", got)
	}
	if bus.Len() != 0 {
		t.Errorf("Len() = %d, want 0", bus.Len())
	}
}

// A handler returning an error is dropped silently; other subscribers
// keep receiving.
func TestBusDropsFailingSubscriber(t *testing.T) {
	bus := emit.NewBus(16, nil)
	defer bus.Close()

	bus.Subscribe(func(emit.Event) error { return errors.New("sink closed") })
	var healthy collector
	bus.Subscribe(healthy.handle)

	bus.Publish(emit.WorkflowEvent("wf-1", "running"))
	healthy.waitFor(t, 1)

	deadline := time.Now().Add(2 * time.Second)
	for bus.Len() != 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if bus.Len() != 1 {
		t.Errorf("Len() = %d after failing subscriber, want 1", bus.Len())
	}

	bus.Publish(emit.WorkflowEvent("wf-1", "completed"))
	healthy.waitFor(t, 2)
}

func TestBusPublishNeverBlocks(t *testing.T) {
	bus := emit.NewBus(1, nil)
	defer bus.Close()

	// Subscriber that never drains.
	block := make(chan struct{})
	bus.Subscribe(func(emit.Event) error { <-block; return nil })
	defer close(block)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			bus.Publish(emit.WorkflowEvent("wf-1", "running"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}
}

func TestBusSubscribeAfterClose(t *testing.T) {
	bus := emit.NewBus(16, nil)
	bus.Close()

	var c collector
	bus.Subscribe(c.handle)
	bus.Publish(emit.WorkflowEvent("wf-1", "running"))

	time.Sleep(20 * time.Millisecond)
	if len(c.snapshot()) != 0 {
		t.Error("subscriber added after Close received events")
	}
	if bus.Len() != 0 {
		t.Errorf("Len() = %d after Close, want 0", bus.Len())
	}
}

func TestEventMap(t *testing.T) {
	ev := emit.Event{
		TaskID:   "t-1",
		TaskName: "extract",
		Status:   "completed",
		Result:   map[string]any{"rows": 10},
	}
	m := ev.Map()

	if m["task_id"] != "t-1" || m["task_name"] != "extract" || m["status"] != "completed" {
		t.Errorf("Map() = %v", m)
	}
	if _, ok := m["workflow_id"]; ok {
		t.Error("empty workflow_id should be omitted")
	}
	if _, ok := m["error"]; ok {
		t.Error("empty error should be omitted")
	}
}
