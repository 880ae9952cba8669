package events

import (
	"testing"
	"time"
)

func TestBus_PublishReachesAllSubscribers(t *testing.T) {
	b := New()
	a := b.Subscribe(4)
	c := b.Subscribe(4)
	defer b.Unsubscribe(a)
	defer b.Unsubscribe(c)

	b.Publish(Event{Source: SourceMCP, Kind: KindNotification, Server: "files"})

	for i, ch := range []<-chan Event{a, c} {
		select {
		case e := <-ch:
			if e.Server != "files" || e.Kind != KindNotification {
				t.Errorf("subscriber %d got %+v", i, e)
			}
			if e.Timestamp.IsZero() {
				t.Errorf("subscriber %d: Timestamp not set", i)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d received nothing", i)
		}
	}
}

func TestBus_FullSubscriberDoesNotBlock(t *testing.T) {
	b := New()
	ch := b.Subscribe(1)
	defer b.Unsubscribe(ch)

	b.Publish(Event{Kind: "first"})
	b.Publish(Event{Kind: "second"})

	if got := b.Dropped(); got != 1 {
		t.Errorf("Dropped() = %d, want 1", got)
	}
	if e := <-ch; e.Kind != "first" {
		t.Errorf("received %q, want first", e.Kind)
	}
}

func TestBus_UnsubscribeClosesChannel(t *testing.T) {
	b := New()
	ch := b.Subscribe(1)
	b.Unsubscribe(ch)
	b.Unsubscribe(ch)

	if _, ok := <-ch; ok {
		t.Error("channel still open after Unsubscribe")
	}
	if n := b.SubscriberCount(); n != 0 {
		t.Errorf("SubscriberCount() = %d, want 0", n)
	}
}

func TestBus_NilSafe(t *testing.T) {
	var b *Bus
	b.Publish(Event{Kind: "ignored"})
	if b.SubscriberCount() != 0 || b.Dropped() != 0 {
		t.Error("nil bus should report zero")
	}
}
