// Package hub multiplexes dashboard WebSocket subscribers onto a
// shared polling loop: per-socket subscriptions, a fixed-cadence
// scheduler, a per-server snapshot cache with in-flight dedup, and
// best-effort broadcast.
package hub

import (
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// Message type tags on the wire.
const (
	msgListSubscribe     = "list:subscribe"
	msgServerSubscribe   = "server:subscribe"
	msgServerUnsubscribe = "server:unsubscribe"

	msgListUpdate   = "list:update"
	msgServerUpdate = "server:update"
	msgServerError  = "server:error"
)

// Detail levels.
const (
	DetailSummary = "summary"
	DetailFull    = "full"
)

// inbound is the superset envelope for every client message. Unknown
// or malformed messages decode to a type we don't handle and are
// silently dropped. IntervalMS stays raw because dashboards have sent
// it as number, string and null over the years.
type inbound struct {
	Type            string          `json:"type"`
	IncludeDisabled bool            `json:"include_disabled"`
	ServerID        string          `json:"server_id"`
	IntervalMS      json.RawMessage `json:"interval_ms"`
	Detail          string          `json:"detail"`
}

func decodeInbound(data []byte) (inbound, bool) {
	var msg inbound
	if err := json.Unmarshal(data, &msg); err != nil {
		return inbound{}, false
	}
	return msg, true
}

// normalizeInterval converts a raw interval_ms value into a clamped
// polling interval. Non-numeric input gets the default.
func normalizeInterval(raw json.RawMessage, min, max, def time.Duration) time.Duration {
	var ms *float64
	if err := json.Unmarshal(raw, &ms); err != nil || ms == nil {
		return def
	}
	interval := time.Duration(*ms * float64(time.Millisecond))
	if interval < min {
		return min
	}
	if interval > max {
		return max
	}
	return interval
}

// normalizeDetail folds anything that isn't a case-insensitive "full"
// to summary.
func normalizeDetail(detail string) string {
	if strings.EqualFold(detail, DetailFull) {
		return DetailFull
	}
	return DetailSummary
}

// listUpdate is the roster reply to a list subscription.
type listUpdate struct {
	Type    string       `json:"type"`
	Servers []listServer `json:"servers"`
	TS      string       `json:"ts"`
}

type listServer struct {
	ServerID   string   `json:"server_id"`
	ServerName string   `json:"server_name"`
	Host       string   `json:"host"`
	Enabled    bool     `json:"enabled"`
	Tags       []string `json:"tags"`
}

// serverUpdate carries one snapshot payload to subscribers.
type serverUpdate struct {
	Type   string      `json:"type"`
	Server interface{} `json:"server"`
	Detail string      `json:"detail"`
	TS     string      `json:"ts"`
}

// serverError reports a refresh that could not produce a snapshot,
// such as a subscription to a server that left the registry.
type serverError struct {
	Type     string `json:"type"`
	ServerID string `json:"server_id"`
	Error    string `json:"error"`
	TS       string `json:"ts"`
}
