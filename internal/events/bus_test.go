package events

import (
	"sync"
	"testing"
	"time"
)

func TestBus_Subscribe(t *testing.T) {
	bus := New(10)
	defer bus.Close()

	ch := bus.Subscribe()
	bus.Publish(NewWorkflowEvent(TypeWorkflowStarted, "wf-1", "develop", "running"))

	select {
	case received := <-ch:
		if received.EventType() != TypeWorkflowStarted {
			t.Errorf("expected %s, got %s", TypeWorkflowStarted, received.EventType())
		}
		if received.WorkflowID() != "wf-1" {
			t.Errorf("expected wf-1, got %s", received.WorkflowID())
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("timeout waiting for event")
	}
}

func TestBus_SubscribeByType(t *testing.T) {
	bus := New(10)
	defer bus.Close()

	stepCh := bus.Subscribe(TypeStepState)
	allCh := bus.Subscribe()

	bus.Publish(NewWorkflowEvent(TypeWorkflowStarted, "wf-1", "develop", "running"))
	bus.Publish(NewStepEvent(TypeStepState, "wf-1", "design", "running", 1))

	for i := 0; i < 2; i++ {
		select {
		case <-allCh:
		case <-time.After(100 * time.Millisecond):
			t.Fatalf("allCh should receive event %d", i)
		}
	}

	select {
	case received := <-stepCh:
		step, ok := received.(StepEvent)
		if !ok || step.Step != "design" {
			t.Errorf("unexpected event %#v", received)
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("stepCh should receive step event")
	}
	select {
	case extra := <-stepCh:
		t.Errorf("stepCh received unexpected %s", extra.EventType())
	default:
	}
}

func TestBus_SubscribeWorkflow(t *testing.T) {
	bus := New(10)
	defer bus.Close()

	ch := bus.SubscribeWorkflow("wf-2")
	bus.Publish(NewStepEvent(TypeStepState, "wf-1", "a", "running", 1))
	bus.Publish(NewStepEvent(TypeStepState, "wf-2", "b", "running", 1))

	select {
	case received := <-ch:
		if received.WorkflowID() != "wf-2" {
			t.Errorf("expected wf-2, got %s", received.WorkflowID())
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for event")
	}
	select {
	case extra := <-ch:
		t.Errorf("unexpected event for %s", extra.WorkflowID())
	default:
	}
}

func TestBus_PriorityNeverDrops(t *testing.T) {
	bus := New(5)
	defer bus.Close()

	priorityCh := bus.SubscribePriority()
	for i := 0; i < 100; i++ {
		bus.Publish(NewStepEvent(TypeStepState, "wf-1", "s", "running", i))
	}

	bus.PublishPriority(NewWorkflowEvent(TypeWorkflowFailed, "wf-1", "develop", "failed"))

	select {
	case received := <-priorityCh:
		if received.EventType() != TypeWorkflowFailed {
			t.Errorf("expected workflow_failed, got %s", received.EventType())
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("priority event should be delivered")
	}
}

func TestBus_RingBufferDropsOldest(t *testing.T) {
	bus := New(3)
	defer bus.Close()

	ch := bus.Subscribe()
	for i := 1; i <= 5; i++ {
		bus.Publish(NewStepEvent(TypeStepState, "wf-1", "s", "running", i))
	}

	if bus.DroppedCount() != 2 {
		t.Errorf("DroppedCount() = %d, want 2", bus.DroppedCount())
	}
	first := (<-ch).(StepEvent)
	if first.Attempt != 3 {
		t.Errorf("oldest retained attempt = %d, want 3", first.Attempt)
	}
}

func TestBus_ConcurrentPublish(t *testing.T) {
	bus := New(1000)
	defer bus.Close()

	ch := bus.Subscribe()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				bus.Publish(NewStepEvent(TypeStepState, "wf-1", "s", "running", n*100+j))
			}
		}(i)
	}
	wg.Wait()

	if len(ch) != 500 {
		t.Errorf("received %d events, want 500", len(ch))
	}
}

func TestBus_UnsubscribeAndClose(t *testing.T) {
	bus := New(10)
	ch := bus.Subscribe()
	bus.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Error("channel should be closed after Unsubscribe")
	}

	bus.Close()
	late := bus.Subscribe()
	if _, ok := <-late; ok {
		t.Error("subscription on closed bus should be closed")
	}
	bus.Publish(NewWorkflowEvent(TypeWorkflowCompleted, "wf-1", "x", "completed"))
}

func TestWorkflowEvent_IsTerminal(t *testing.T) {
	if NewWorkflowEvent(TypeWorkflowStarted, "w", "n", "running").IsTerminal() {
		t.Error("started should not be terminal")
	}
	if !NewWorkflowEvent(TypeWorkflowCancelled, "w", "n", "cancelled").IsTerminal() {
		t.Error("cancelled should be terminal")
	}
}
