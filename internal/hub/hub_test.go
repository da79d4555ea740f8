package hub

import (
	"testing"
)

func TestBroadcastRouting(t *testing.T) {
	h := New()

	subscribed := &Client{ID: "a", Send: make(chan []byte, 1)}
	other := &Client{ID: "b", Send: make(chan []byte, 1)}
	idle := &Client{ID: "c", Send: make(chan []byte, 1)}
	h.Register(subscribed)
	h.Register(other)
	h.Register(idle)
	h.UpdateSubscription(subscribed, Subscription{BranchID: "branch-1"})
	h.UpdateSubscription(other, Subscription{BranchID: "branch-2"})

	h.Broadcast([]byte(`{"type":"ticket.created"}`), "branch-1")

	select {
	case msg := <-subscribed.Send:
		if string(msg) != `{"type":"ticket.created"}` {
			t.Fatalf("unexpected payload %s", msg)
		}
	default:
		t.Fatalf("subscribed client received nothing")
	}
	select {
	case msg := <-other.Send:
		t.Fatalf("wrong-branch client received %s", msg)
	default:
	}
	select {
	case msg := <-idle.Send:
		t.Fatalf("unsubscribed client received %s", msg)
	default:
	}
}

func TestBroadcastSkipsSlowClient(t *testing.T) {
	h := New()
	slow := &Client{ID: "slow", Send: make(chan []byte, 1)}
	h.Register(slow)
	h.UpdateSubscription(slow, Subscription{BranchID: "branch-1"})

	// Fill the buffer so the next broadcast has nowhere to go.
	h.Broadcast([]byte("one"), "branch-1")
	h.Broadcast([]byte("two"), "branch-1")

	if got := string(<-slow.Send); got != "one" {
		t.Fatalf("expected first message, got %s", got)
	}
	select {
	case msg := <-slow.Send:
		t.Fatalf("dropped message was delivered: %s", msg)
	default:
	}
}

func TestUnregisterClosesSend(t *testing.T) {
	h := New()
	client := &Client{ID: "a", Send: make(chan []byte, 1)}
	h.Register(client)
	h.Unregister(client)
	h.Unregister(client)

	if _, open := <-client.Send; open {
		t.Fatalf("expected send channel to be closed")
	}
}

func TestParseSubscribe(t *testing.T) {
	cases := []struct {
		name   string
		raw    string
		ok     bool
		action string
	}{
		{"subscribe", `{"action":"subscribe","branch_id":"b1"}`, true, "subscribe"},
		{"unsubscribe", `{"action":"unsubscribe"}`, true, "unsubscribe"},
		{"unknown action", `{"action":"ping"}`, false, ""},
		{"garbage", `not json`, false, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msg, ok := ParseSubscribe([]byte(tc.raw))
			if ok != tc.ok {
				t.Fatalf("expected ok=%v, got %v", tc.ok, ok)
			}
			if ok && msg.Action != tc.action {
				t.Fatalf("expected action %q, got %q", tc.action, msg.Action)
			}
		})
	}
}
