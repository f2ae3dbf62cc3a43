package threat

import (
	"context"
	"errors"
	"strings"
	"testing"

	"vigil/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeLister struct {
	indicators []*core.Indicator
	err        error
}

func (f *fakeLister) ListIndicators(ctx context.Context) ([]*core.Indicator, error) {
	return f.indicators, f.err
}

func mustIndicator(t *testing.T, typ core.IndicatorType, value string) *core.Indicator {
	t.Helper()
	ind, err := core.NewIndicator(typ, value, "test-feed", "")
	require.NoError(t, err)
	return ind
}

func eventWith(message string, ips []string, fields map[string]string) *core.Event {
	ev := core.NewEvent()
	ev.Message = message
	if ips != nil {
		ev.IPs = ips
	}
	for k, v := range fields {
		ev.Fields[k] = v
	}
	return ev
}

func TestMatcher_Match(t *testing.T) {
	hash := strings.Repeat("ab", 32)
	ip := mustIndicator(t, core.IndicatorTypeIP, "10.0.0.5")
	ip6 := mustIndicator(t, core.IndicatorTypeIP, "2001:DB8::1")
	domain := mustIndicator(t, core.IndicatorTypeDomain, "evil.example.com")
	sha := mustIndicator(t, core.IndicatorTypeSHA256, strings.ToUpper(hash))

	m := NewMatcher(&fakeLister{indicators: []*core.Indicator{ip, ip6, domain, sha}}, zap.NewNop().Sugar())
	require.NoError(t, m.Load(context.Background()))
	assert.Equal(t, 4, m.Len())

	tests := []struct {
		name  string
		event *core.Event
		want  []*core.Indicator
	}{
		{"ip in ips", eventWith("from 10.0.0.5", []string{"10.0.0.5"}, nil), []*core.Indicator{ip}},
		{"ip only in text is not enough", eventWith("from 10.0.0.5", nil, nil), []*core.Indicator{}},
		{"ipv6 canonical", eventWith("", []string{"2001:db8::1"}, nil), []*core.Indicator{ip6}},
		{"domain case-insensitive in field", eventWith("dns", nil, map[string]string{"query": "cdn.EVIL.example.com"}), []*core.Indicator{domain}},
		{"sha256 uppercase in message", eventWith("hash="+strings.ToUpper(hash), nil, nil), []*core.Indicator{sha}},
		{"sha256 inside longer hex", eventWith("sha512 ff"+hash+"00", nil, nil), []*core.Indicator{sha}},
		{"sha256 truncated", eventWith(hash[:63], nil, nil), []*core.Indicator{}},
		{"several", eventWith("evil.example.com "+hash, []string{"10.0.0.5"}, nil), []*core.Indicator{domain, ip, sha}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, m.Match(tt.event))
		})
	}
}

func TestMatcher_AddRemove(t *testing.T) {
	m := NewMatcher(&fakeLister{}, zap.NewNop().Sugar())
	require.NoError(t, m.Load(context.Background()))
	ev := eventWith("", []string{"10.0.0.5"}, nil)
	assert.Empty(t, m.Match(ev))

	ind := mustIndicator(t, core.IndicatorTypeIP, "10.0.0.5")
	m.Add(ind)
	assert.Equal(t, []*core.Indicator{ind}, m.Match(ev))

	m.Remove(ind.ID)
	m.Remove("unknown")
	assert.Empty(t, m.Match(ev))
	assert.Zero(t, m.Len())
}

func TestMatcher_LoadError(t *testing.T) {
	m := NewMatcher(&fakeLister{err: errors.New("db down")}, zap.NewNop().Sugar())
	assert.Error(t, m.Load(context.Background()))
}
