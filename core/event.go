package core

import (
	"sort"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// MessageField is the pseudo field name that addresses Event.Message in rule conditions.
const MessageField = "message"

// Event is the canonical shape of every ingested record. It is never mutated after it is stored.
type Event struct {
	ID         string            `json:"id"`
	ReceivedAt time.Time         `json:"received_at"`
	Source     string            `json:"source"`
	Host       string            `json:"host"`
	Message    string            `json:"message"`
	Fields     map[string]string `json:"fields"`
	IPs        []string          `json:"ips"`
	AgentID    string            `json:"agent_id,omitempty"`
	LogType    string            `json:"log_type,omitempty"`
}

// NewEvent creates a new Event with a generated UUID
func NewEvent() *Event {
	return &Event{
		ID:         uuid.New().String(),
		ReceivedAt: time.Now().UTC(),
		Fields:     make(map[string]string),
		IPs:        []string{},
	}
}

// Lookup resolves a condition target: "message" is the raw message, anything
// else is a field. The boolean is false for absent fields.
func (e *Event) Lookup(name string) (string, bool) {
	if name == MessageField {
		return e.Message, true
	}
	v, ok := e.Fields[name]
	return v, ok
}

// HasIP reports whether ip is one of the event's extracted IP literals.
func (e *Event) HasIP(ip string) bool {
	for _, candidate := range e.IPs {
		if candidate == ip {
			return true
		}
	}
	return false
}

// Texts returns the message followed by every field value in key order.
func (e *Event) Texts() []string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	texts := make([]string, 0, len(keys)+1)
	texts = append(texts, e.Message)
	for _, k := range keys {
		texts = append(texts, e.Fields[k])
	}
	return texts
}

// TruncateUTF8 cuts s to at most max bytes without splitting a rune
func TruncateUTF8(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
