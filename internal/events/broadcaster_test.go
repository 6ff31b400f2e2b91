package events

import (
	"testing"

	"github.com/anteroomhq/anteroom/pkg/models"
)

func TestBroadcasterFanOut(t *testing.T) {
	b := NewBroadcaster(nil, nil)
	a := b.Subscribe("a")
	c := b.Subscribe("c")

	b.Publish(models.AgentEvent{Kind: models.EventToken, Token: "x"})

	for _, sub := range []*Subscription{a, c} {
		ev := <-sub.Events()
		if ev.Token != "x" {
			t.Fatalf("%s got %+v", sub.Name, ev)
		}
	}
}

func TestBroadcasterDropsForSlowConsumer(t *testing.T) {
	b := NewBroadcaster(nil, nil)
	slow := b.Subscribe("slow")

	// Fill the buffer and then some; the producer must never block.
	for i := 0; i < subscriberBuffer+10; i++ {
		b.Publish(models.AgentEvent{Kind: models.EventToken})
	}

	received := 0
	for {
		select {
		case <-slow.Events():
			received++
			continue
		default:
		}
		break
	}
	if received != subscriberBuffer {
		t.Fatalf("received %d, want %d (rest dropped)", received, subscriberBuffer)
	}
}

func TestBroadcasterUnsubscribeClosesChannel(t *testing.T) {
	b := NewBroadcaster(nil, nil)
	sub := b.Subscribe("x")
	b.Unsubscribe(sub)

	if _, open := <-sub.Events(); open {
		t.Fatal("channel should be closed")
	}

	// Publishing after unsubscribe must not panic.
	b.Publish(models.AgentEvent{Kind: models.EventDone})

	// Double unsubscribe is a no-op.
	b.Unsubscribe(sub)
}

func TestBroadcasterClose(t *testing.T) {
	b := NewBroadcaster(nil, nil)
	sub := b.Subscribe("x")

	b.Close()
	if _, open := <-sub.Events(); open {
		t.Fatal("channel should be closed after Close")
	}
	if b.Subscribe("late") != nil {
		t.Fatal("subscribe after Close should return nil")
	}
	b.Publish(models.AgentEvent{Kind: models.EventDone})
	b.Close()
}
