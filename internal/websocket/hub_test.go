package websocket

import (
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

// mockClient creates a Client with a send channel but no real connection.
func mockClient(hub *Hub, userID int64) *Client {
	return &Client{
		hub:    hub,
		userID: userID,
		send:   make(chan []byte, sendBufferSize),
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRegisterUnregister(t *testing.T) {
	hub := NewHub(discardLogger())

	c1 := mockClient(hub, 1)
	c2 := mockClient(hub, 2)

	hub.Register(c1)
	hub.Register(c2)

	if got := hub.ClientCount(); got != 2 {
		t.Fatalf("expected 2 clients, got %d", got)
	}

	hub.Unregister(c1)

	if got := hub.ClientCount(); got != 1 {
		t.Fatalf("expected 1 client after unregister, got %d", got)
	}

	hub.Unregister(c2)

	if got := hub.ClientCount(); got != 0 {
		t.Fatalf("expected 0 clients, got %d", got)
	}
}

func TestDoubleUnregister(t *testing.T) {
	hub := NewHub(discardLogger())
	c := mockClient(hub, 1)
	hub.Register(c)
	hub.Unregister(c)
	// Should not panic
	hub.Unregister(c)

	if got := hub.ClientCount(); got != 0 {
		t.Fatalf("expected 0 clients, got %d", got)
	}
}

func TestNotifyParties(t *testing.T) {
	hub := NewHub(discardLogger())

	provider := mockClient(hub, 1)
	providerTab := mockClient(hub, 1)
	consumer := mockClient(hub, 2)
	bystander := mockClient(hub, 3)
	for _, c := range []*Client{provider, providerTab, consumer, bystander} {
		hub.Register(c)
	}

	msg := NewMessage("progress", "completed", 42, map[string]any{"settled_by": "survey"})
	hub.Notify(msg, 1, 2)

	for _, c := range []*Client{provider, providerTab, consumer} {
		select {
		case data := <-c.send:
			var got Message
			if err := json.Unmarshal(data, &got); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if got.Type != "progress_completed" {
				t.Errorf("expected type progress_completed, got %s", got.Type)
			}
			if got.Entity != "progress" {
				t.Errorf("expected entity progress, got %s", got.Entity)
			}
			if got.ID != 42 {
				t.Errorf("expected id 42, got %d", got.ID)
			}
			if got.Extra["settled_by"] != "survey" {
				t.Errorf("expected settled_by survey, got %v", got.Extra["settled_by"])
			}
		case <-time.After(100 * time.Millisecond):
			t.Fatalf("timeout waiting for message to user %d", c.userID)
		}
	}

	select {
	case data := <-bystander.send:
		t.Errorf("bystander received %s", data)
	default:
	}

	for _, c := range []*Client{provider, providerTab, consumer, bystander} {
		hub.Unregister(c)
	}
}

func TestNotifyEveryone(t *testing.T) {
	hub := NewHub(discardLogger())
	a := mockClient(hub, 1)
	b := mockClient(hub, 2)
	hub.Register(a)
	hub.Register(b)

	hub.Notify(NewMessage("sweep", "completed", 0, nil))

	for _, c := range []*Client{a, b} {
		select {
		case <-c.send:
		default:
			t.Errorf("user %d got nothing", c.userID)
		}
	}
}

func TestNotifyEmptyHub(t *testing.T) {
	hub := NewHub(discardLogger())
	// Should not panic
	hub.Notify(NewMessage("application", "created", 1, nil), 5)
}

func TestNotifyFullBuffer(t *testing.T) {
	hub := NewHub(discardLogger())

	c := mockClient(hub, 1)
	hub.Register(c)

	// Fill the send buffer
	for i := 0; i < sendBufferSize; i++ {
		hub.Notify(NewMessage("message", "created", int64(i), nil), 1)
	}

	// This should drop the message, not panic or block
	hub.Notify(NewMessage("message", "created", 999, nil), 1)

	// Drain to verify buffer was full
	count := 0
	for {
		select {
		case <-c.send:
			count++
		default:
			goto done
		}
	}
done:
	if count != sendBufferSize {
		t.Errorf("expected %d messages, got %d", sendBufferSize, count)
	}

	hub.Unregister(c)
}

func TestNewMessage(t *testing.T) {
	msg := NewMessage("proposal", "accepted", 5, nil)
	if msg.Type != "proposal_accepted" {
		t.Errorf("expected type proposal_accepted, got %s", msg.Type)
	}
	if msg.Entity != "proposal" {
		t.Errorf("expected entity proposal, got %s", msg.Entity)
	}
	if msg.Action != "accepted" {
		t.Errorf("expected action accepted, got %s", msg.Action)
	}
	if msg.ID != 5 {
		t.Errorf("expected id 5, got %d", msg.ID)
	}
}

func TestConcurrentAccess(t *testing.T) {
	hub := NewHub(discardLogger())
	var wg sync.WaitGroup

	// Spawn goroutines that register, broadcast, and unregister concurrently
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := mockClient(hub, int64(i%3))
			hub.Register(c)
			hub.Notify(NewMessage("progress", "updated", 0, nil), int64(i%3))
			// Drain any messages
			for {
				select {
				case <-c.send:
				default:
					hub.Unregister(c)
					return
				}
			}
		}(i)
	}

	wg.Wait()

	if got := hub.ClientCount(); got != 0 {
		t.Errorf("expected 0 clients after concurrent test, got %d", got)
	}
}
