package websocket

import (
	"time"

	"github.com/gorilla/websocket"
)

// EventType represents the type of WebSocket event.
type EventType string

const (
	// EventTypeAnonymization reports a completed anonymization call.
	EventTypeAnonymization EventType = "anonymization"
	// EventTypeSystemStatus represents a system status event.
	EventTypeSystemStatus EventType = "system_status"
	// EventTypeConnection represents connection events.
	EventTypeConnection EventType = "connection"
)

// Event represents a WebSocket event sent to clients.
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
	RequestID string      `json:"request_id,omitempty"`
}

// AnonymizationEvent describes one anonymization call. Only metadata is
// broadcast; neither original nor anonymized payloads ever reach the hub.
type AnonymizationEvent struct {
	RequestID      string   `json:"request_id"`
	Processor      string   `json:"processor"`
	RulesApplied   []string `json:"rules_applied"`
	PseudonymsUsed int      `json:"pseudonyms_used"`
	ProcessingMS   int64    `json:"processing_ms"`
	Partial        bool     `json:"partial"`
}

// SystemStatusEvent represents system status information.
type SystemStatusEvent struct {
	Status           string  `json:"status"`
	Uptime           string  `json:"uptime"`
	TotalProcessed   int64   `json:"total_processed"`
	TotalPseudonyms  int64   `json:"total_pseudonyms"`
	ErrorRate        float64 `json:"error_rate"`
	ActiveRules      int     `json:"active_rules"`
	ConnectedClients int     `json:"connected_clients"`
}

// ConnectionEvent represents WebSocket connection events.
type ConnectionEvent struct {
	Action   string `json:"action"` // "connected", "disconnected"
	ClientID string `json:"client_id"`
	Message  string `json:"message,omitempty"`
}

// ClientMessage represents messages sent from clients to the server.
type ClientMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// SubscriptionRequest represents a client subscription request.
type SubscriptionRequest struct {
	Events []EventType `json:"events"`
}

// Client represents one connected dashboard client.
type Client struct {
	ID           string
	Conn         *websocket.Conn
	Send         chan Event
	Subscription *SubscriptionRequest
	ConnectedAt  time.Time
	LastPing     time.Time
	IP           string
}
