package ingest

import (
	"regexp"
	"strconv"
	"strings"
)

// Known log types
const (
	LogTypeWeb             = "web"
	LogTypeFirewall        = "firewall"
	LogTypeDNS             = "dns"
	LogTypeDHCP            = "dhcp"
	LogTypeSudo            = "sudo"
	LogTypeWindowsSecurity = "windows_security"
	LogTypePowerShell      = "powershell"
	LogTypeSyslog          = "syslog"
	LogTypeEDR             = "edr"
	LogTypeGeneric         = "generic"
)

// Extractor pulls structured fields out of a raw message. The boolean is
// false when the extractor does not recognise the line.
type Extractor func(message string) (map[string]string, bool)

// defaultExtractors maps a log type to its extractor. Types without an entry
// use the generic key=value extractor.
func defaultExtractors() map[string]Extractor {
	return map[string]Extractor{
		LogTypeWeb:             extractWeb,
		LogTypeFirewall:        extractFirewall,
		LogTypeDNS:             extractDNS,
		LogTypeDHCP:            extractDHCP,
		LogTypeSudo:            extractSudo,
		LogTypeWindowsSecurity: extractWindows,
		LogTypePowerShell:      extractWindows,
		LogTypeSyslog:          extractSyslog,
	}
}

var (
	kvRegex = regexp.MustCompile(`([A-Za-z_][A-Za-z0-9_.\-]*)=("(?:[^"\\]|\\.)*"|\S*)`)

	webRegex = regexp.MustCompile(`^(\S+) \S+ (\S+) \[[^\]]+\] "(\S+) (\S+)[^"]*" (\d{3}) (\d+|-)(?: "([^"]*)" "([^"]*)")?`)

	firewallKVRegex     = regexp.MustCompile(`\b(SRC|DST|PROTO|SPT|DPT|IN|OUT)=(\S*)`)
	firewallActionRegex = regexp.MustCompile(`\b(ACCEPT|ALLOW|DROP|REJECT|BLOCK|DENY)\b`)

	dnsmasqRegex = regexp.MustCompile(`query\[(\w+)\] (\S+) from (\S+)`)
	bindRegex    = regexp.MustCompile(`client (?:@\S+ )?([0-9A-Fa-f.:]+)#(\d+).*?query: (\S+) IN (\w+)`)

	dhcpOpRegex       = regexp.MustCompile(`\b(DHCPACK|DHCPREQUEST|DHCPOFFER|DHCPDISCOVER|DHCPRELEASE|DHCPNAK|DHCPINFORM|DHCPDECLINE)\b`)
	dhcpIPRegex       = regexp.MustCompile(`\b(\d{1,3}(?:\.\d{1,3}){3})\b`)
	macRegex          = regexp.MustCompile(`\b([0-9A-Fa-f]{2}(?::[0-9A-Fa-f]{2}){5})\b`)
	dhcpHostnameRegex = regexp.MustCompile(`\(([^)]+)\) via`)
	dnsmasqDHCPRegex  = regexp.MustCompile(`DHCP\w+\([^)]*\) \S+ [0-9A-Fa-f:]{17} (\S+)`)

	sudoCommandRegex = regexp.MustCompile(`(\S+) : (?:(\d+) incorrect password attempts? ; )?TTY=(\S+) ; PWD=(.+?) ; USER=(\S+) ; COMMAND=(.+)$`)
	sudoFailureRegex = regexp.MustCompile(`authentication failure;.*\buser=(\S+)`)

	winEventIDRegex  = regexp.MustCompile(`(?i)\bevent\s?id["'=:\s]+(\d+)`)
	winAccountRegex  = regexp.MustCompile(`Account Name:\s+(\S+)`)
	winSourceIPRegex = regexp.MustCompile(`Source Network Address:\s+(\S+)`)
	winScriptRegex   = regexp.MustCompile(`(?s)ScriptBlockText["'=:\s]+(.+)$`)

	sshFailedRegex   = regexp.MustCompile(`Failed (?:password|publickey) for (invalid user )?(\S+) from (\S+) port (\d+)`)
	sshAcceptedRegex = regexp.MustCompile(`Accepted (?:password|publickey) for (\S+) from (\S+) port (\d+)`)
	sshInvalidRegex  = regexp.MustCompile(`Invalid user (\S+) from (\S+)(?: port (\d+))?`)
)

var windowsActions = map[string]string{
	"4624": "logon_success",
	"4625": "logon_failure",
	"4634": "logoff",
	"4648": "explicit_logon",
	"4672": "special_privileges",
	"4688": "process_creation",
	"4720": "user_created",
	"4740": "account_lockout",
	"4104": "script_block",
}

// extractKeyValues is the generic extractor: every key=value or key="quoted value"
func extractKeyValues(message string) (map[string]string, bool) {
	matches := kvRegex.FindAllStringSubmatch(message, -1)
	if len(matches) == 0 {
		return nil, false
	}
	fields := make(map[string]string, len(matches))
	for _, m := range matches {
		key, value := m[1], m[2]
		if strings.HasPrefix(value, `"`) {
			if unquoted, err := strconv.Unquote(value); err == nil {
				value = unquoted
			} else {
				value = strings.Trim(value, `"`)
			}
		}
		if _, exists := fields[key]; !exists {
			fields[key] = value
		}
	}
	return fields, true
}

func extractWeb(message string) (map[string]string, bool) {
	m := webRegex.FindStringSubmatch(message)
	if m == nil {
		return nil, false
	}
	fields := map[string]string{
		"src_ip": m[1],
		"method": m[3],
		"path":   m[4],
		"status": m[5],
	}
	if m[2] != "-" {
		fields["user"] = m[2]
	}
	if m[6] != "-" {
		fields["bytes"] = m[6]
	}
	if m[7] != "" && m[7] != "-" {
		fields["referrer"] = m[7]
	}
	if m[8] != "" && m[8] != "-" {
		fields["user_agent"] = m[8]
	}
	if status, _ := strconv.Atoi(m[5]); status >= 400 {
		fields["action"] = "failure"
	} else {
		fields["action"] = "success"
	}
	return fields, true
}

func extractFirewall(message string) (map[string]string, bool) {
	matches := firewallKVRegex.FindAllStringSubmatch(message, -1)
	if len(matches) == 0 {
		return nil, false
	}
	names := map[string]string{
		"SRC": "src_ip", "DST": "dst_ip", "PROTO": "proto",
		"SPT": "src_port", "DPT": "dst_port", "IN": "interface", "OUT": "out_interface",
	}
	fields := make(map[string]string)
	for _, m := range matches {
		if m[2] == "" {
			continue
		}
		key := names[m[1]]
		if _, exists := fields[key]; !exists {
			fields[key] = m[2]
		}
	}
	if p, ok := fields["proto"]; ok {
		fields["proto"] = strings.ToLower(p)
	}
	if a := firewallActionRegex.FindStringSubmatch(message); a != nil {
		fields["action"] = strings.ToLower(a[1])
	}
	if _, ok := fields["src_ip"]; !ok {
		return nil, false
	}
	return fields, true
}

func extractDNS(message string) (map[string]string, bool) {
	if m := dnsmasqRegex.FindStringSubmatch(message); m != nil {
		return map[string]string{"query_type": m[1], "query": m[2], "src_ip": m[3]}, true
	}
	if m := bindRegex.FindStringSubmatch(message); m != nil {
		return map[string]string{"src_ip": m[1], "src_port": m[2], "query": m[3], "query_type": m[4]}, true
	}
	return nil, false
}

func extractDHCP(message string) (map[string]string, bool) {
	op := dhcpOpRegex.FindStringSubmatch(message)
	if op == nil {
		return nil, false
	}
	fields := map[string]string{"dhcp_op": op[1]}
	rest := message[strings.Index(message, op[1]):]
	if ip := dhcpIPRegex.FindStringSubmatch(rest); ip != nil {
		fields["ip"] = ip[1]
	}
	if mac := macRegex.FindStringSubmatch(rest); mac != nil {
		fields["mac"] = strings.ToLower(mac[1])
	}
	if h := dhcpHostnameRegex.FindStringSubmatch(rest); h != nil {
		fields["hostname"] = h[1]
	} else if h := dnsmasqDHCPRegex.FindStringSubmatch(rest); h != nil {
		fields["hostname"] = h[1]
	}
	return fields, true
}

func extractSudo(message string) (map[string]string, bool) {
	if m := sudoCommandRegex.FindStringSubmatch(message); m != nil {
		fields := map[string]string{
			"user":        m[1],
			"tty":         m[3],
			"pwd":         m[4],
			"target_user": m[5],
			"command":     m[6],
			"action":      "success",
		}
		if m[2] != "" {
			fields["action"] = "failure"
		}
		return fields, true
	}
	if m := sudoFailureRegex.FindStringSubmatch(message); m != nil {
		return map[string]string{"user": m[1], "action": "failure"}, true
	}
	return nil, false
}

func extractWindows(message string) (map[string]string, bool) {
	fields := make(map[string]string)
	if m := winEventIDRegex.FindStringSubmatch(message); m != nil {
		fields["event_id"] = m[1]
		if action, ok := windowsActions[m[1]]; ok {
			fields["action"] = action
		}
	}
	// The last non-empty Account Name is the target account
	for _, m := range winAccountRegex.FindAllStringSubmatch(message, -1) {
		if m[1] != "-" {
			fields["user"] = m[1]
		}
	}
	if m := winSourceIPRegex.FindStringSubmatch(message); m != nil && m[1] != "-" {
		fields["src_ip"] = m[1]
	}
	if m := winScriptRegex.FindStringSubmatch(message); m != nil {
		fields["script"] = strings.TrimSpace(m[1])
	}
	if len(fields) == 0 {
		return nil, false
	}
	return fields, true
}

func extractSyslog(message string) (map[string]string, bool) {
	fields := make(map[string]string)
	body := message
	if h, ok := parseSyslogHeader(message); ok {
		for k, v := range h.fields() {
			fields[k] = v
		}
		body = h.Body
	}

	switch {
	case sshFailedRegex.MatchString(body):
		m := sshFailedRegex.FindStringSubmatch(body)
		fields["user"], fields["src_ip"], fields["src_port"] = m[2], m[3], m[4]
		fields["action"] = "failure"
		if m[1] != "" {
			fields["invalid_user"] = "true"
		}
	case sshAcceptedRegex.MatchString(body):
		m := sshAcceptedRegex.FindStringSubmatch(body)
		fields["user"], fields["src_ip"], fields["src_port"] = m[1], m[2], m[3]
		fields["action"] = "success"
	case sshInvalidRegex.MatchString(body):
		m := sshInvalidRegex.FindStringSubmatch(body)
		fields["user"], fields["src_ip"] = m[1], m[2]
		if m[3] != "" {
			fields["src_port"] = m[3]
		}
		fields["action"] = "failure"
		fields["invalid_user"] = "true"
	}

	if len(fields) == 0 {
		return nil, false
	}
	return fields, true
}
