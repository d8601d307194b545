package transport

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/doorkeeper/internal/events"
)

func TestMemoryDeliversToTopicSubscribers(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	var got []string
	if _, err := m.Subscribe(ctx, "a/b", func(msg Message) { got = append(got, string(msg.Payload)) }); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if _, err := m.Subscribe(ctx, "a/c", func(msg Message) { t.Errorf("wrong topic delivered: %s", msg.Topic) }); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	if err := m.Publish(ctx, "a/b", []byte("hello")); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if len(got) != 1 || got[0] != "hello" {
		t.Errorf("delivered = %v, want [hello]", got)
	}
}

func TestMemoryUnsubscribe(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	calls := 0
	sub, _ := m.Subscribe(ctx, "t", func(Message) { calls++ })
	if m.Subscriptions() != 1 {
		t.Fatalf("Subscriptions() = %d, want 1", m.Subscriptions())
	}

	_ = sub.Unsubscribe()
	_ = sub.Unsubscribe()
	_ = m.Publish(ctx, "t", nil)

	if calls != 0 {
		t.Errorf("handler called %d times after unsubscribe", calls)
	}
	if m.Subscriptions() != 0 {
		t.Errorf("Subscriptions() = %d, want 0", m.Subscriptions())
	}
}

func TestMemoryClosed(t *testing.T) {
	m := NewMemory()
	_ = m.Close()

	if err := m.Publish(context.Background(), "t", nil); err != ErrClosed {
		t.Errorf("Publish() after close error = %v, want ErrClosed", err)
	}
	if _, err := m.Subscribe(context.Background(), "t", func(Message) {}); err != ErrClosed {
		t.Errorf("Subscribe() after close error = %v, want ErrClosed", err)
	}
}

func TestSubject(t *testing.T) {
	tests := []struct {
		topic string
		want  string
	}{
		{"doorkeeper/rpc/service/door/lock", "doorkeeper.rpc.service.door.lock"},
		{"/leading/slash/", "leading.slash"},
		{"flat", "flat"},
	}
	for _, tt := range tests {
		if got := Subject(tt.topic); got != tt.want {
			t.Errorf("Subject(%q) = %q, want %q", tt.topic, got, tt.want)
		}
	}
}

func TestOpenUnknownBackend(t *testing.T) {
	if _, err := Open(context.Background(), Config{Backend: "carrier-pigeon"}, zerolog.Nop()); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestBridgeForwardsEvents(t *testing.T) {
	bus := events.NewBus()
	m := NewMemory()

	received := make(chan Envelope, 1)
	_, _ = m.Subscribe(context.Background(), EventTopic("clinic", events.EventDoorState), func(msg Message) {
		var env Envelope
		if err := json.Unmarshal(msg.Payload, &env); err != nil {
			t.Errorf("unmarshal envelope: %v", err)
			return
		}
		received <- env
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		NewBridge(bus, m, "clinic", "node-1", zerolog.Nop()).Run(ctx, events.EventDoorState)
		close(done)
	}()

	// wait for the bridge to subscribe
	deadline := time.Now().Add(time.Second)
	for bus.Subscribers(events.EventDoorState) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("bridge did not subscribe")
		}
		time.Sleep(time.Millisecond)
	}

	bus.Publish(events.EventDoorState, events.Payload{"state": "unlocked"})

	select {
	case env := <-received:
		if env.EventType != events.EventDoorState || env.NodeID != "node-1" || env.Payload["state"] != "unlocked" {
			t.Errorf("envelope = %+v", env)
		}
	case <-time.After(time.Second):
		t.Fatal("event not bridged")
	}

	cancel()
	<-done
	if bus.Subscribers(events.EventDoorState) != 0 {
		t.Error("bridge left a bus subscription behind")
	}
}
