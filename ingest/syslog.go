package ingest

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	// RFC3164: <pri>Mmm dd hh:mm:ss hostname message
	rfc3164Regex = regexp.MustCompile(`^<(\d{1,3})>(\w{3}\s+\d+\s+\d+:\d+:\d+)\s+(\S+)\s+(.*)$`)
	// RFC5424: <pri>1 timestamp hostname app procid msgid structured-data msg
	rfc5424Regex = regexp.MustCompile(`^<(\d{1,3})>1 (\S+) (\S+) (\S+) (\S+) (\S+) (-|(?:\[[^\]]*\])+)\s?(.*)$`)
	// "app[pid]: body" or "app: body"
	syslogTagRegex = regexp.MustCompile(`^([^\s:\[]+)(?:\[(\d+)\])?:\s*(.*)$`)
)

// syslogHeader is the parsed envelope of one syslog datagram
type syslogHeader struct {
	Priority  int
	Timestamp string
	Hostname  string
	App       string
	PID       string
	Body      string
}

// Facility returns the syslog facility encoded in the priority
func (h syslogHeader) Facility() int { return h.Priority / 8 }

// SeverityCode returns the syslog severity encoded in the priority
func (h syslogHeader) SeverityCode() int { return h.Priority % 8 }

func (h syslogHeader) fields() map[string]string {
	fields := map[string]string{
		"priority":      strconv.Itoa(h.Priority),
		"facility":      strconv.Itoa(h.Facility()),
		"severity_code": strconv.Itoa(h.SeverityCode()),
		"timestamp":     h.Timestamp,
		"hostname":      h.Hostname,
	}
	if h.App != "" {
		fields["app"] = h.App
	}
	if h.PID != "" {
		fields["pid"] = h.PID
	}
	return fields
}

// parseSyslogHeader recognises RFC 5424 and RFC 3164 datagrams
func parseSyslogHeader(raw string) (syslogHeader, bool) {
	if m := rfc5424Regex.FindStringSubmatch(raw); m != nil {
		pri, err := strconv.Atoi(m[1])
		if err != nil || pri > 191 {
			return syslogHeader{}, false
		}
		h := syslogHeader{Priority: pri, Timestamp: m[2], Hostname: nilValue(m[3]), App: nilValue(m[4]), PID: nilValue(m[5]), Body: m[8]}
		return h, true
	}

	if m := rfc3164Regex.FindStringSubmatch(raw); m != nil {
		pri, err := strconv.Atoi(m[1])
		if err != nil || pri > 191 {
			return syslogHeader{}, false
		}
		h := syslogHeader{Priority: pri, Timestamp: m[2], Hostname: m[3], Body: m[4]}
		if tag := syslogTagRegex.FindStringSubmatch(m[4]); tag != nil {
			h.App, h.PID, h.Body = tag[1], tag[2], tag[3]
		}
		return h, true
	}
	return syslogHeader{}, false
}

// nilValue maps the RFC 5424 NILVALUE "-" to an empty string
func nilValue(s string) string {
	if s == "-" {
		return ""
	}
	return s
}

// ParseSyslog turns one raw syslog datagram into an ingest payload. The
// datagram is kept verbatim as the message; host comes from the header when
// the producer did not supply one.
func ParseSyslog(raw, host string) Payload {
	raw = strings.TrimRight(raw, "\r\n")
	p := Payload{
		Source:  "syslog",
		Host:    host,
		Message: raw,
		LogType: LogTypeSyslog,
	}
	if h, ok := parseSyslogHeader(raw); ok && p.Host == "" {
		p.Host = h.Hostname
	}
	return p
}
