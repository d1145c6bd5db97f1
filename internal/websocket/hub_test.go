package websocket

import (
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestShouldBroadcast(t *testing.T) {
	h := NewHub(&HubConfig{
		BroadcastAnonymizations: true,
		BroadcastSystem:         false,
		BroadcastConnections:    true,
	}, zap.NewNop())

	cases := []struct {
		eventType EventType
		want      bool
	}{
		{EventTypeAnonymization, true},
		{EventTypeSystemStatus, false},
		{EventTypeConnection, true},
		{EventType("unknown"), false},
	}
	for _, tc := range cases {
		if got := h.shouldBroadcast(tc.eventType); got != tc.want {
			t.Errorf("shouldBroadcast(%s) = %v, want %v", tc.eventType, got, tc.want)
		}
	}
}

func TestBroadcastEventGating(t *testing.T) {
	h := NewHub(&HubConfig{BroadcastAnonymizations: true}, zap.NewNop())

	h.BroadcastEvent(Event{Type: EventTypeSystemStatus, Timestamp: time.Now()})
	select {
	case e := <-h.broadcast:
		t.Errorf("disabled event class was queued: %s", e.Type)
	default:
	}

	h.BroadcastEvent(Event{Type: EventTypeAnonymization, Timestamp: time.Now()})
	select {
	case e := <-h.broadcast:
		if e.Type != EventTypeAnonymization {
			t.Errorf("queued event type %s", e.Type)
		}
	default:
		t.Error("enabled event class was not queued")
	}
}

func TestOriginAllowed(t *testing.T) {
	t.Run("wildcard", func(t *testing.T) {
		h := NewHub(&HubConfig{AllowedOrigins: []string{"*"}}, zap.NewNop())
		r := httptest.NewRequest("GET", "/ws", nil)
		r.Header.Set("Origin", "http://anywhere.example")
		if !h.originAllowed(r) {
			t.Error("wildcard rejected an origin")
		}
	})

	t.Run("exact match", func(t *testing.T) {
		h := NewHub(&HubConfig{AllowedOrigins: []string{"http://dash.local"}}, zap.NewNop())
		r := httptest.NewRequest("GET", "/ws", nil)
		r.Header.Set("Origin", "http://dash.local")
		if !h.originAllowed(r) {
			t.Error("listed origin rejected")
		}
		r.Header.Set("Origin", "http://evil.local")
		if h.originAllowed(r) {
			t.Error("unlisted origin accepted")
		}
	})

	t.Run("empty list rejects", func(t *testing.T) {
		h := NewHub(&HubConfig{}, zap.NewNop())
		r := httptest.NewRequest("GET", "/ws", nil)
		r.Header.Set("Origin", "http://dash.local")
		if h.originAllowed(r) {
			t.Error("empty allow list accepted an origin")
		}
	})
}

func TestSubscriptionFilter(t *testing.T) {
	h := NewHub(&HubConfig{BroadcastAnonymizations: true}, zap.NewNop())

	unfiltered := &Client{ID: "a", Send: make(chan Event, 1)}
	filtered := &Client{
		ID:           "b",
		Send:         make(chan Event, 1),
		Subscription: &SubscriptionRequest{Events: []EventType{EventTypeSystemStatus}},
	}

	event := Event{Type: EventTypeAnonymization, Timestamp: time.Now()}
	if !h.subscribed(unfiltered, event) {
		t.Error("client without subscription should receive everything")
	}
	if h.subscribed(filtered, event) {
		t.Error("client subscribed to other events received anonymization event")
	}
}

func TestHubStats(t *testing.T) {
	h := NewHub(&HubConfig{BroadcastConnections: false}, zap.NewNop())

	client := &Client{ID: "c", Send: make(chan Event, 1)}
	h.registerClient(client)

	stats := h.GetStats()
	if stats.TotalConnections != 1 || stats.ActiveConnections != 1 {
		t.Errorf("stats after register: %+v", stats)
	}

	h.unregisterClient(client)
	stats = h.GetStats()
	if stats.ActiveConnections != 0 {
		t.Errorf("stats after unregister: %+v", stats)
	}
}
