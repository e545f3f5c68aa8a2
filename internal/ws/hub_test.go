package ws

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/francyfox/sqstat/internal/ingest"
)

type fakeSubscriber struct {
	id     string
	mu     sync.Mutex
	sent   [][]byte
	failed bool
	closed bool
}

func (f *fakeSubscriber) ID() string { return f.id }

func (f *fakeSubscriber) Send(payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failed {
		return errors.New("broken pipe")
	}
	f.sent = append(f.sent, payload)
	return nil
}

func (f *fakeSubscriber) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeSubscriber) messages() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.sent...)
}

func newTestHub() (*Hub, chan struct{}) {
	h := NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
	done := make(chan struct{})
	go h.Run(done)
	return h, done
}

func TestHubBroadcast(t *testing.T) {
	h, done := newTestHub()
	defer close(done)

	first := &fakeSubscriber{id: "client-1"}
	second := &fakeSubscriber{id: "client-2"}
	h.Register(first)
	h.Register(second)

	event := ingest.Event{ChangedLinesCount: 5, Time: time.Now(), Path: "/var/log/squid/access.log"}
	h.Broadcast(event)

	waitFor(t, func() bool {
		return len(first.messages()) == 1 && len(second.messages()) == 1
	})

	var msg struct {
		ChangedLinesCount int    `json:"changedLinesCount"`
		Path              string `json:"path"`
		ClientID          string `json:"clientId"`
		TotalClients      int    `json:"totalClients"`
	}
	if err := json.Unmarshal(first.messages()[0], &msg); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if msg.ChangedLinesCount != 5 {
		t.Errorf("changedLinesCount = %d, want 5", msg.ChangedLinesCount)
	}
	if msg.Path != "/var/log/squid/access.log" {
		t.Errorf("path = %q", msg.Path)
	}
	if msg.ClientID != "client-1" {
		t.Errorf("clientId = %q, want client-1", msg.ClientID)
	}
	if msg.TotalClients != 2 {
		t.Errorf("totalClients = %d, want 2", msg.TotalClients)
	}
}

func TestHubDropsDeadClient(t *testing.T) {
	h, done := newTestHub()
	defer close(done)

	dead := &fakeSubscriber{id: "dead", failed: true}
	alive := &fakeSubscriber{id: "alive"}
	h.Register(dead)
	h.Register(alive)

	h.Broadcast(ingest.Event{ChangedLinesCount: 1, Time: time.Now()})
	waitFor(t, func() bool { return len(alive.messages()) == 1 })

	h.Broadcast(ingest.Event{ChangedLinesCount: 2, Time: time.Now()})
	waitFor(t, func() bool { return len(alive.messages()) == 2 })

	dead.mu.Lock()
	closed := dead.closed
	sent := len(dead.sent)
	dead.mu.Unlock()
	if !closed {
		t.Error("dead client not closed")
	}
	if sent != 0 {
		t.Errorf("dead client received %d messages", sent)
	}
}

func TestHubUnregister(t *testing.T) {
	h, done := newTestHub()
	defer close(done)

	sub := &fakeSubscriber{id: "leaver"}
	h.Register(sub)
	h.Unregister(sub)
	h.Broadcast(ingest.Event{ChangedLinesCount: 1, Time: time.Now()})

	// The broadcast was accepted after unregistration, so nothing arrives.
	time.Sleep(50 * time.Millisecond)
	if got := len(sub.messages()); got != 0 {
		t.Errorf("unregistered client received %d messages", got)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}
