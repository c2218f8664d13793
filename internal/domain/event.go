package domain

import (
	"encoding/base64"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// MinEventBackoff is the shortest wait before a fetched event is handed out again.
	MinEventBackoff = 3 * time.Minute
	// MaxEventBackoff is the longest wait before a fetched event is handed out again.
	MaxEventBackoff = 24 * time.Hour
	// MaxBackoffExponent keeps 2^n seconds inside time.Duration.
	MaxBackoffExponent = 32
)

// Listener accumulates events for one consumer.
type Listener struct {
	UUID       uuid.UUID
	Owner      uuid.UUID
	Namespace  string
	UserKey    string
	RoutingKey string
}

// Event is a pending unit of work for a listener.
type Event struct {
	UUID         uuid.UUID
	ListenerUUID uuid.UUID
	Subject      string
	Priority     int32
	Silenced     bool
	FetchedCount int32
	// LastTried is nil until the event has been fetched once.
	LastTried  *time.Time
	Generation uuid.UUID
	CreatedAt  time.Time
}

// EventBackoff returns how long an event fetched fetchedCount times waits
// before it is eligible again: 2^n seconds clamped to [3m, 1d].
func EventBackoff(fetchedCount int32) time.Duration {
	n := fetchedCount
	if n < 0 {
		n = 0
	}
	if n > MaxBackoffExponent {
		n = MaxBackoffExponent
	}
	d := time.Duration(math.Pow(2, float64(n))) * time.Second
	if d < MinEventBackoff {
		return MinEventBackoff
	}
	if d > MaxEventBackoff {
		return MaxEventBackoff
	}
	return d
}

// Eligible reports whether the event may be claimed at now.
func (e Event) Eligible(now time.Time) bool {
	if e.Silenced {
		return false
	}
	if e.LastTried == nil {
		return true
	}
	return e.LastTried.Before(now.Add(-EventBackoff(e.FetchedCount)))
}

// Token is the acknowledgement token of a claimed event.
func (e Event) Token() string {
	return EncodeEventToken(e.UUID, e.Generation)
}

// EncodeEventToken returns base64("<uuid>.<generation>").
func EncodeEventToken(id, generation uuid.UUID) string {
	return base64.StdEncoding.EncodeToString([]byte(id.String() + "." + generation.String()))
}

// DecodeEventToken parses a token produced by EncodeEventToken.
func DecodeEventToken(token string) (uuid.UUID, uuid.UUID, error) {
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("invalid event token: %w", err)
	}
	parts := strings.Split(string(raw), ".")
	if len(parts) != 2 {
		return uuid.Nil, uuid.Nil, fmt.Errorf("invalid event token: expected two parts, got %d", len(parts))
	}
	id, err := uuid.Parse(parts[0])
	if err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("invalid event token: %w", err)
	}
	generation, err := uuid.Parse(parts[1])
	if err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("invalid event token: %w", err)
	}
	return id, generation, nil
}

// ListenerFilter narrows listener listings. Nil fields are unconstrained.
type ListenerFilter struct {
	UUIDs       []uuid.UUID
	Owners      []uuid.UUID
	Namespaces  []string
	UserKeys    []string
	RoutingKeys []string
}

// EventFilter narrows event listings. Nil fields are unconstrained.
type EventFilter struct {
	Listeners  []uuid.UUID
	Owners     []uuid.UUID
	Subjects   []string
	Priorities []int32
	Silenced   *bool
}
