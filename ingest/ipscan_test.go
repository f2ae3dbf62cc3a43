package ingest

import (
	"fmt"
	"math/rand"
	"net/netip"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractIPs(t *testing.T) {
	tests := []struct {
		name  string
		texts []string
		want  []string
	}{
		{"plain ipv4", []string{"from 10.0.0.5 port 22"}, []string{"10.0.0.5"}},
		{"bounded by punctuation", []string{"src=192.168.1.1,dst=(8.8.8.8)"}, []string{"192.168.1.1", "8.8.8.8"}},
		{"octet out of range", []string{"999.1.1.1 and 256.0.0.1"}, []string{}},
		{"leading zeros rejected", []string{"010.0.0.1"}, []string{}},
		{"no partial octets", []string{"10.0.0.1234"}, []string{}},
		{"overlapping candidates", []string{"1.2.3.4.5"}, []string{"1.2.3.4", "2.3.4.5"}},
		{"ipv6 canonicalized", []string{"client 2001:DB8:0:0:0:0:0:1 connected"}, []string{"2001:db8::1"}},
		{"ipv6 trailing colon", []string{"addr fe80::1: link down"}, []string{"fe80::1"}},
		{"ipv6 loopback", []string{"bind [::1]:8080"}, []string{"::1"}},
		{"ipv4 mapped", []string{"::ffff:10.1.2.3"}, []string{"10.1.2.3", "::ffff:10.1.2.3"}},
		{"word glued by colon", []string{"connection refused:fe80::1"}, []string{"fe80::1"}},
		{"word glued to full address", []string{"peer blocked:2001:db8::1"}, []string{"2001:db8::1"}},
		{"hex word glued by colon", []string{"cafe:fe80::1"}, []string{"cafe:fe80::1", "fe80::1"}},
		{"trailing word", []string{"2001:db8::1:cafes"}, []string{"2001:db8::1"}},
		{"timestamp is not ipv6", []string{"at 12:34:56 today"}, []string{}},
		{"mac is not ipv6", []string{"mac aa:bb:cc:dd:ee:ff"}, []string{}},
		{"dedup across texts", []string{"10.0.0.5", "x 10.0.0.5 y"}, []string{"10.0.0.5"}},
		{"long colon run", []string{strings.Repeat("12345:", 50000)}, []string{}},
		{"empty", []string{""}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractIPs(tt.texts...))
		})
	}
}

// Every literal embedded in random text must come back out
func TestExtractIPs_CoversEmbeddedLiterals(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	separators := []string{" ", ",", "=", "(", ")", "[", "]", "\"", "/", "\t", "; ", "->", ":"}
	words := []string{"sshd", "GET", "from", "user=bob", "port", "ok", "", "-", "blocked", "cafe", "refused", "dead"}

	for i := 0; i < 500; i++ {
		var (
			b        strings.Builder
			embedded []string
		)
		for j := 0; j < 6; j++ {
			b.WriteString(words[rng.Intn(len(words))])
			b.WriteString(separators[rng.Intn(len(separators))])
			if rng.Intn(2) == 0 {
				ip := randomIP(rng)
				embedded = append(embedded, ip)
				b.WriteString(ip)
				b.WriteString(separators[rng.Intn(len(separators))])
			}
		}

		text := b.String()
		got := ExtractIPs(text)
		for _, ip := range embedded {
			canonical := netip.MustParseAddr(ip).String()
			assert.Contains(t, got, canonical, "text %q", text)
		}
	}
}

func randomIP(rng *rand.Rand) string {
	if rng.Intn(3) == 0 {
		var groups []string
		for i := 0; i < 8; i++ {
			groups = append(groups, fmt.Sprintf("%x", rng.Intn(0x10000)))
		}
		return strings.Join(groups, ":")
	}
	return fmt.Sprintf("%d.%d.%d.%d", rng.Intn(256), rng.Intn(256), rng.Intn(256), rng.Intn(256))
}
