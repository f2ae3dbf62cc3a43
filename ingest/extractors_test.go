package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractors(t *testing.T) {
	tests := []struct {
		name      string
		extractor Extractor
		message   string
		want      map[string]string
	}{
		{
			name:      "combined access log",
			extractor: extractWeb,
			message:   `203.0.113.5 - bob [10/Oct/2024:13:55:36 +0000] "POST /login HTTP/1.1" 401 512 "-" "curl/8.0"`,
			want: map[string]string{"src_ip": "203.0.113.5", "user": "bob", "method": "POST", "path": "/login",
				"status": "401", "bytes": "512", "user_agent": "curl/8.0", "action": "failure"},
		},
		{
			name:      "iptables",
			extractor: extractFirewall,
			message:   "kernel: [UFW BLOCK] IN=eth0 OUT= MAC=00 SRC=203.0.113.9 DST=10.0.0.1 LEN=60 PROTO=TCP SPT=4444 DPT=22",
			want: map[string]string{"src_ip": "203.0.113.9", "dst_ip": "10.0.0.1", "proto": "tcp",
				"src_port": "4444", "dst_port": "22", "interface": "eth0", "action": "block"},
		},
		{
			name:      "dnsmasq query",
			extractor: extractDNS,
			message:   "dnsmasq[812]: query[A] evil.example.com from 192.168.1.20",
			want:      map[string]string{"query_type": "A", "query": "evil.example.com", "src_ip": "192.168.1.20"},
		},
		{
			name:      "bind query",
			extractor: extractDNS,
			message:   "client @0x7f 192.168.1.20#53211 (evil.example.com): query: evil.example.com IN AAAA +E(0)",
			want:      map[string]string{"src_ip": "192.168.1.20", "src_port": "53211", "query": "evil.example.com", "query_type": "AAAA"},
		},
		{
			name:      "isc dhcpd ack",
			extractor: extractDHCP,
			message:   "dhcpd[99]: DHCPACK on 192.168.1.50 to 00:11:22:AA:BB:CC (laptop) via eth0",
			want:      map[string]string{"dhcp_op": "DHCPACK", "ip": "192.168.1.50", "mac": "00:11:22:aa:bb:cc", "hostname": "laptop"},
		},
		{
			name:      "sudo command",
			extractor: extractSudo,
			message:   "sudo:    alice : TTY=pts/0 ; PWD=/home/alice ; USER=root ; COMMAND=/bin/cat /etc/shadow",
			want: map[string]string{"user": "alice", "tty": "pts/0", "pwd": "/home/alice", "target_user": "root",
				"command": "/bin/cat /etc/shadow", "action": "success"},
		},
		{
			name:      "sudo auth failure",
			extractor: extractSudo,
			message:   "sudo: pam_unix(sudo:auth): authentication failure; logname=bob uid=1000 euid=0 tty=/dev/pts/1 ruser=bob rhost=  user=bob",
			want:      map[string]string{"user": "bob", "action": "failure"},
		},
		{
			name:      "windows logon failure",
			extractor: extractWindows,
			message:   "EventID=4625 Subject: Account Name: - Account For Which Logon Failed: Account Name: administrator Source Network Address: 198.51.100.4",
			want:      map[string]string{"event_id": "4625", "action": "logon_failure", "user": "administrator", "src_ip": "198.51.100.4"},
		},
		{
			name:      "generic key value",
			extractor: extractKeyValues,
			message:   `pid=42 cmd="powershell -enc AAA" parent=explorer.exe`,
			want:      map[string]string{"pid": "42", "cmd": "powershell -enc AAA", "parent": "explorer.exe"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.extractor(tt.message)
			assert.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractors_Unrecognised(t *testing.T) {
	for name, extractor := range defaultExtractors() {
		_, ok := extractor("nothing to see here")
		assert.False(t, ok, name)
	}
}
