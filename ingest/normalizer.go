package ingest

import (
	"sort"
	"strings"

	"vigil/core"

	"go.uber.org/zap"
)

// Field hygiene limits
const (
	MaxFields         = 256
	MaxFieldKeyLength = 128
	MaxFieldValueSize = 8 << 10
	// MaxFieldBytes bounds the summed key and value bytes of one event. Even
	// with every byte JSON-escaped the stored fields stay under 1 MiB.
	MaxFieldBytes = 160 << 10
)

// Payload is a raw record as submitted by a producer
type Payload struct {
	Source  string            `json:"source" msgpack:"source"`
	Host    string            `json:"host" msgpack:"host"`
	Message string            `json:"message" msgpack:"message"`
	Fields  map[string]string `json:"fields,omitempty" msgpack:"fields"`
	LogType string            `json:"log_type,omitempty" msgpack:"log_type"`
	AgentID string            `json:"agent_id,omitempty" msgpack:"agent_id"`
}

// Normalizer converts payloads into canonical events. It never fails:
// content it cannot parse stays in the message verbatim.
type Normalizer struct {
	extractors map[string]Extractor
	logger     *zap.SugaredLogger
}

// NewNormalizer creates a normalizer with the built-in extractors
func NewNormalizer(logger *zap.SugaredLogger) *Normalizer {
	return &Normalizer{
		extractors: defaultExtractors(),
		logger:     logger,
	}
}

// Normalize builds the canonical event. Producer fields win over extracted
// ones; the IP set covers the message and every final field value.
func (n *Normalizer) Normalize(p Payload) *core.Event {
	event := core.NewEvent()
	event.Source = strings.TrimSpace(p.Source)
	event.Host = strings.TrimSpace(p.Host)
	event.Message = p.Message
	event.AgentID = p.AgentID
	event.LogType = n.resolveLogType(p.LogType, event.Source)

	addFields(event.Fields, p.Fields)

	extracted, ok := n.extract(event.LogType, p.Message)
	if ok {
		addFields(event.Fields, extracted)
		if event.Host == "" && event.LogType == LogTypeSyslog {
			event.Host = extracted["hostname"]
		}
	}

	event.IPs = ExtractIPs(event.Texts()...)
	return event
}

// resolveLogType falls back to the source name when it names a known log type
func (n *Normalizer) resolveLogType(logType, source string) string {
	logType = strings.ToLower(strings.TrimSpace(logType))
	if logType != "" {
		return logType
	}
	if _, ok := n.extractors[strings.ToLower(source)]; ok {
		return strings.ToLower(source)
	}
	return ""
}

func (n *Normalizer) extract(logType, message string) (map[string]string, bool) {
	if message == "" {
		return nil, false
	}
	if extractor, ok := n.extractors[logType]; ok {
		if fields, ok := extractor(message); ok {
			return fields, true
		}
		n.logger.Debugw("Extractor did not recognise line, using key=value fallback", "log_type", logType)
	}
	return extractKeyValues(message)
}

// addFields copies src into dst in key order, skipping keys dst already has
// and enforcing the field hygiene limits.
func addFields(dst, src map[string]string) {
	keys := make([]string, 0, len(src))
	for k := range src {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	used := 0
	for k, v := range dst {
		used += len(k) + len(v)
	}

	for _, k := range keys {
		if len(dst) >= MaxFields {
			return
		}
		key := strings.TrimSpace(k)
		if key == "" || len(key) > MaxFieldKeyLength {
			continue
		}
		if _, exists := dst[key]; exists {
			continue
		}
		remaining := MaxFieldBytes - used - len(key)
		if remaining < 0 {
			return
		}
		value := core.TruncateUTF8(src[k], min(MaxFieldValueSize, remaining))
		dst[key] = value
		used += len(key) + len(value)
	}
}
