package command

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestCorrelator_DeliverResolvesWaiter(t *testing.T) {
	c := NewCorrelator(time.Second)
	w := c.Dispatch("light-1")

	if !strings.HasPrefix(w.ID(), "light-1-") {
		t.Errorf("ID() = %q, want prefix light-1-", w.ID())
	}

	go func() {
		c.Deliver(w.ID(), Response{State: map[string]any{"on": true}})
	}()

	resp, err := w.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if resp.Failed() {
		t.Errorf("Wait() = %+v, want success", resp)
	}
	if resp.State["on"] != true {
		t.Errorf("State = %v, want on=true", resp.State)
	}
	if resp.CommandID != w.ID() {
		t.Errorf("CommandID = %q, want %q", resp.CommandID, w.ID())
	}
	if c.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", c.Pending())
	}
}

func TestCorrelator_TimeoutIsSyntheticFailure(t *testing.T) {
	c := NewCorrelator(20 * time.Millisecond)
	w := c.Dispatch("light-1")

	start := time.Now()
	resp, err := w.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if resp.ErrorCode != ErrorCodeNotResponding {
		t.Errorf("ErrorCode = %q, want %q", resp.ErrorCode, ErrorCodeNotResponding)
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Error("Wait() returned before the timeout")
	}

	// Late delivery is a no-op.
	if c.Deliver(w.ID(), Response{}) {
		t.Error("Deliver() after timeout = true, want false")
	}
}

func TestCorrelator_DuplicateDelivery(t *testing.T) {
	c := NewCorrelator(time.Second)
	w := c.Dispatch("light-1")

	if !c.Deliver(w.ID(), Response{ErrorCode: "alreadyInState"}) {
		t.Fatal("first Deliver() = false, want true")
	}
	if c.Deliver(w.ID(), Response{}) {
		t.Error("second Deliver() = true, want false")
	}

	resp, err := w.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if resp.ErrorCode != "alreadyInState" {
		t.Errorf("ErrorCode = %q, want alreadyInState", resp.ErrorCode)
	}
}

func TestCorrelator_UniqueIDs(t *testing.T) {
	c := NewCorrelator(time.Second)
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := c.Dispatch("dev").ID()
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}

func TestCorrelator_ContextCancelled(t *testing.T) {
	c := NewCorrelator(time.Second)
	w := c.Dispatch("light-1")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := w.Wait(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Wait() error = %v, want context.Canceled", err)
	}
}

func TestCorrelator_Cancel(t *testing.T) {
	c := NewCorrelator(time.Second)
	w := c.Dispatch("light-1")

	if err := c.Cancel(w.ID()); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if err := c.Cancel(w.ID()); !errors.Is(err, ErrUnknownCommand) {
		t.Errorf("second Cancel() error = %v, want ErrUnknownCommand", err)
	}
}
