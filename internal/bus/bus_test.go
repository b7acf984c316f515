package bus

import (
	"context"
	"testing"
	"time"
)

func TestBroadcastReachesSubscriber(t *testing.T) {
	b := New()
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub := b.Subscribe(ctx)

	b.Broadcast(EventTaskChanged, Event{Team: "backend", TaskID: 7})

	select {
	case ev := <-sub:
		if ev.Type != EventTaskChanged {
			t.Errorf("Type = %s, want task_changed", ev.Type)
		}
		if ev.Team != "backend" || ev.TaskID != 7 {
			t.Errorf("event = %+v", ev)
		}
		if ev.Timestamp.IsZero() {
			t.Error("Timestamp not set by Broadcast")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBroadcastFansOut(t *testing.T) {
	b := New()
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub1 := b.Subscribe(ctx)
	sub2 := b.Subscribe(ctx)

	b.Broadcast(EventTurnStarted, Event{Agent: "eli"})

	for i, sub := range []<-chan Event{sub1, sub2} {
		select {
		case ev := <-sub:
			if ev.Agent != "eli" {
				t.Errorf("subscriber %d: Agent = %q", i, ev.Agent)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d: timed out", i)
		}
	}
}

func TestSlowSubscriberDropsOldest(t *testing.T) {
	b := NewWithQueueSize(2)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub := b.Subscribe(ctx)

	// Three events into a queue of two: the first is dropped, the
	// publisher never blocks.
	for i := 1; i <= 3; i++ {
		b.Broadcast(EventTaskChanged, Event{TaskID: int64(i)})
	}

	first := <-sub
	if first.TaskID != 2 {
		t.Errorf("first queued TaskID = %d, want 2 (oldest dropped)", first.TaskID)
	}
	second := <-sub
	if second.TaskID != 3 {
		t.Errorf("second queued TaskID = %d, want 3", second.TaskID)
	}
}

func TestSubscribeCancelClosesChannel(t *testing.T) {
	b := New()
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	sub := b.Subscribe(ctx)
	if b.SubscriberCount() != 1 {
		t.Fatalf("SubscriberCount = %d, want 1", b.SubscriberCount())
	}

	cancel()

	// The channel closes once the cancellation is observed.
	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-sub:
			if !ok {
				if b.SubscriberCount() != 0 {
					t.Errorf("SubscriberCount = %d after cancel, want 0", b.SubscriberCount())
				}
				return
			}
		case <-deadline:
			t.Fatal("channel not closed after context cancel")
		}
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	b := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub := b.Subscribe(ctx)

	b.Close()
	b.Close()

	if _, ok := <-sub; ok {
		t.Error("subscriber channel still open after Close")
	}

	// Broadcasting after close is a no-op, not a panic.
	b.Broadcast(EventTaskChanged, Event{})

	// Subscribing after close yields a closed channel.
	late := b.Subscribe(context.Background())
	if _, ok := <-late; ok {
		t.Error("post-close subscription yielded an open channel")
	}
}
