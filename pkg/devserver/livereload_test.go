package devserver

import (
	"testing"

	"github.com/poltergeist/wisp/pkg/logger"
)

func TestHub_DropsFullClients(t *testing.T) {
	h := NewHub(nil, logger.Discard())
	slow := &client{id: 1, ch: make(chan Change, 1), done: make(chan struct{})}
	fast := &client{id: 2, ch: make(chan Change, 4), done: make(chan struct{})}
	slow.ch <- Change{Hash: "stale"}
	h.clients[slow.id] = slow
	h.clients[fast.id] = fast

	h.Broadcast(Change{Hash: "abc"})

	if h.Clients() != 1 {
		t.Fatalf("Clients() = %d, want 1", h.Clients())
	}
	select {
	case <-slow.done:
	default:
		t.Error("slow client should have been closed")
	}
	if got := <-fast.ch; got.Hash != "abc" {
		t.Errorf("fast client got %+v", got)
	}
}

func TestHub_IgnoresRepeatedHash(t *testing.T) {
	h := NewHub(nil, nil)
	c := &client{id: 1, ch: make(chan Change, 4), done: make(chan struct{})}
	h.clients[c.id] = c

	h.Broadcast(Change{Hash: "abc"})
	h.Broadcast(Change{Hash: "abc"})
	h.Broadcast(Change{})

	if len(c.ch) != 1 {
		t.Errorf("expected one queued event, got %d", len(c.ch))
	}
}

func TestHub_Shutdown(t *testing.T) {
	h := NewHub(nil, nil)
	c := &client{id: 1, ch: make(chan Change, 1), done: make(chan struct{})}
	h.clients[c.id] = c

	h.Shutdown()
	h.Shutdown()

	select {
	case <-c.done:
	default:
		t.Error("client not closed on shutdown")
	}
	h.Broadcast(Change{Hash: "after"})
	if len(c.ch) != 0 {
		t.Error("broadcast after shutdown must be ignored")
	}
}

func TestHub_BaselineHash(t *testing.T) {
	a, b := NewHub(nil, nil), NewHub(nil, nil)
	if a.LastHash() == "" || a.LastHash() == b.LastHash() {
		t.Fatalf("expected distinct baseline hashes, got %q and %q", a.LastHash(), b.LastHash())
	}

	c := &client{id: 1, ch: make(chan Change, 1), done: make(chan struct{})}
	a.clients[c.id] = c
	a.Broadcast(Change{Hash: a.LastHash()})
	if len(c.ch) != 0 {
		t.Error("re-announcing the baseline must not reach clients")
	}
}

func TestEvent_Format(t *testing.T) {
	got := event(Change{Hash: "h1", Paths: []string{"/css/style.css"}, CSS: true})
	want := "data: {\"hash\":\"h1\",\"paths\":[\"/css/style.css\"],\"css\":true}\n\n"
	if got != want {
		t.Errorf("event() = %q, want %q", got, want)
	}
	if got := event(Change{Hash: "h2"}); got != "data: {\"hash\":\"h2\"}\n\n" {
		t.Errorf("event() = %q", got)
	}
}
