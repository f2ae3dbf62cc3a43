package ingest

import (
	"net/netip"
	"sort"
	"strings"
)

// ExtractIPs returns every IPv4 and IPv6 literal found in texts, in canonical
// form, sorted and de-duplicated. A literal is bounded by characters that
// cannot extend it, so "10.0.0.123" yields 10.0.0.123 and not 10.0.0.12.
func ExtractIPs(texts ...string) []string {
	seen := make(map[string]struct{})
	for _, text := range texts {
		scanIPv4(text, seen)
		scanIPv6(text, seen)
	}

	ips := make([]string, 0, len(seen))
	for ip := range seen {
		ips = append(ips, ip)
	}
	sort.Strings(ips)
	return ips
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isIPv6Char(c byte) bool {
	return isDigit(c) || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F') || c == ':' || c == '.'
}

// scanIPv4 tries a dotted quad at the start of every digit run. Octets are
// whole digit runs, so candidates may overlap ("1.2.3.4.5" holds two).
func scanIPv4(s string, seen map[string]struct{}) {
	for i := 0; i < len(s); i++ {
		if !isDigit(s[i]) || (i > 0 && isDigit(s[i-1])) {
			continue
		}
		if end, ok := matchDottedQuad(s, i); ok {
			if addr, err := netip.ParseAddr(s[i:end]); err == nil {
				seen[addr.String()] = struct{}{}
			}
		}
	}
}

// matchDottedQuad reports the end of four dot-separated digit runs starting at i
func matchDottedQuad(s string, i int) (int, bool) {
	pos := i
	for octet := 0; octet < 4; octet++ {
		if octet > 0 {
			if pos >= len(s) || s[pos] != '.' {
				return 0, false
			}
			pos++
		}
		start := pos
		for pos < len(s) && isDigit(s[pos]) {
			pos++
		}
		if n := pos - start; n == 0 || n > 3 {
			return 0, false
		}
	}
	return pos, true
}

// maxIPv6Len is the longest textual IPv6 form, with an embedded IPv4 tail
const maxIPv6Len = 45

// scanIPv6 considers maximal runs of hex digits, colons and dots that contain
// at least two colons. Words may be glued to a literal by a colon
// ("refused:fe80::1"), so every span of the run cut at colon boundaries is
// a candidate.
func scanIPv6(s string, seen map[string]struct{}) {
	for i := 0; i < len(s); {
		if !isIPv6Char(s[i]) {
			i++
			continue
		}
		start := i
		for i < len(s) && isIPv6Char(s[i]) {
			i++
		}
		run := s[start:i]
		if strings.Count(run, ":") < 2 {
			continue
		}
		leadingWord := start > 0 && isWordChar(s[start-1]) && run[0] != ':'
		trailingWord := i < len(s) && isWordChar(s[i]) && run[len(run)-1] != ':'
		for _, addr := range parseIPv6Run(run, leadingWord, trailingWord) {
			seen[addr.String()] = struct{}{}
		}
	}
}

func isWordChar(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '_'
}

type ipSpan struct {
	start, end int
	addr       netip.Addr
}

// parseIPv6Run returns the addresses in run. A leading or trailing group that
// continues a neighbouring word is never part of an address. A span nested in
// a longer address is dropped when the longer one extends it with digits, so
// "2001:db8::1" does not also yield "db8::1", while "cafe:fe80::1" yields
// both itself and "fe80::1".
func parseIPv6Run(run string, leadingWord, trailingWord bool) []netip.Addr {
	if trimmed := strings.TrimRight(run, "."); trimmed != run {
		run = trimmed
		trailingWord = false
	}

	starts := []int{0}
	ends := []int{}
	for i := 0; i < len(run); i++ {
		if run[i] == ':' {
			starts = append(starts, i+1)
			ends = append(ends, i)
		}
	}
	ends = append(ends, len(run))

	var spans []ipSpan
	for _, st := range starts {
		if st == 0 && leadingWord {
			continue
		}
		for _, en := range ends[sort.SearchInts(ends, st+1):] {
			if en-st > maxIPv6Len {
				break
			}
			if en == len(run) && trailingWord {
				continue
			}
			candidate := run[st:en]
			if strings.Count(candidate, ":") < 2 {
				continue
			}
			if addr, err := netip.ParseAddr(candidate); err == nil && addr.Is6() {
				spans = append(spans, ipSpan{start: st, end: en, addr: addr})
			}
		}
	}

	addrs := make([]netip.Addr, 0, len(spans))
	for i := range spans {
		if !extendedByDigits(run, spans, i) {
			addrs = append(addrs, spans[i].addr)
		}
	}
	return addrs
}

// extendedByDigits reports whether spans[i] lies inside another span that adds
// digits or dots to it. Spans are ordered by start, and an enclosing span
// starts at most maxIPv6Len bytes earlier.
func extendedByDigits(run string, spans []ipSpan, i int) bool {
	inner := spans[i]
	for j := i; j >= 0 && spans[j].start >= inner.start-maxIPv6Len; j-- {
		if encloses(run, spans[j], inner) {
			return true
		}
	}
	for j := i + 1; j < len(spans) && spans[j].start == inner.start; j++ {
		if encloses(run, spans[j], inner) {
			return true
		}
	}
	return false
}

func encloses(run string, outer, inner ipSpan) bool {
	if outer.start > inner.start || outer.end < inner.end || (outer.start == inner.start && outer.end == inner.end) {
		return false
	}
	extra := run[outer.start:inner.start] + run[inner.end:outer.end]
	return strings.ContainsAny(extra, "0123456789.")
}
