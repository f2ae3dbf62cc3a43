package service

import (
	"context"
	"net/netip"
	"strings"
	"time"

	"vigil/core"
	"vigil/metrics"
	"vigil/storage"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
)

// Bounds for stats windows
const (
	MinStatsHours = 1
	MaxStatsHours = 720
)

// EventReader lists stored events
type EventReader interface {
	ListEvents(ctx context.Context, filter storage.EventFilter) ([]*core.Event, error)
}

// AlertReader lists stored alerts
type AlertReader interface {
	ListAlerts(ctx context.Context, filter storage.AlertFilter) ([]*core.Alert, error)
}

// StatsReader computes aggregate statistics
type StatsReader interface {
	Stats(ctx context.Context, since, onlineSince time.Time) (*storage.Stats, error)
}

// QueryConfig configures the query service
type QueryConfig struct {
	StatsCacheSize int
	StatsCacheTTL  time.Duration
	// OfflineAfter decides which agents count as online in stats
	OfflineAfter time.Duration
}

// QueryService answers read-only queries over events and alerts
type QueryService struct {
	events     EventReader
	alerts     AlertReader
	stats      StatsReader
	statsCache *expirable.LRU[int, *storage.Stats]
	cfg        QueryConfig
	logger     *zap.SugaredLogger
	now        func() time.Time
}

// NewQueryService creates a query service with an expiring stats cache
func NewQueryService(events EventReader, alerts AlertReader, stats StatsReader, cfg QueryConfig, logger *zap.SugaredLogger) *QueryService {
	if cfg.StatsCacheSize <= 0 {
		cfg.StatsCacheSize = 64
	}
	if cfg.StatsCacheTTL <= 0 {
		cfg.StatsCacheTTL = 30 * time.Second
	}
	if cfg.OfflineAfter <= 0 {
		cfg.OfflineAfter = 5 * time.Minute
	}
	return &QueryService{
		events:     events,
		alerts:     alerts,
		stats:      stats,
		statsCache: expirable.NewLRU[int, *storage.Stats](cfg.StatsCacheSize, nil, cfg.StatsCacheTTL),
		cfg:        cfg,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Search returns events whose message or field values contain query, case-insensitively
func (q *QueryService) Search(ctx context.Context, query, ip, agentID string, limit int) ([]*core.Event, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, core.NewValidationError("q", "search query is required")
	}
	filter, err := eventFilter(ip, agentID, limit)
	if err != nil {
		return nil, err
	}
	filter.Query = query
	return q.events.ListEvents(ctx, filter)
}

// ListEvents returns events newest first
func (q *QueryService) ListEvents(ctx context.Context, ip, agentID string, limit int) ([]*core.Event, error) {
	filter, err := eventFilter(ip, agentID, limit)
	if err != nil {
		return nil, err
	}
	return q.events.ListEvents(ctx, filter)
}

// ListAlerts returns alerts newest first
func (q *QueryService) ListAlerts(ctx context.Context, ip, agentID string, limit int) ([]*core.Alert, error) {
	if err := validateLimit(limit); err != nil {
		return nil, err
	}
	canonical, err := canonicalIP(ip)
	if err != nil {
		return nil, err
	}
	return q.alerts.ListAlerts(ctx, storage.AlertFilter{IP: canonical, AgentID: agentID, Limit: limit})
}

// Stats summarizes the last hours of activity. Results are cached per hours value.
func (q *QueryService) Stats(ctx context.Context, hours int) (*storage.Stats, error) {
	if hours < MinStatsHours || hours > MaxStatsHours {
		return nil, core.NewValidationError("hours", "hours must be between %d and %d", MinStatsHours, MaxStatsHours)
	}

	if cached, ok := q.statsCache.Get(hours); ok {
		metrics.StatsCacheHits.WithLabelValues("hit").Inc()
		return cached, nil
	}
	metrics.StatsCacheHits.WithLabelValues("miss").Inc()

	now := q.now()
	stats, err := q.stats.Stats(ctx, now.Add(-time.Duration(hours)*time.Hour), now.Add(-q.cfg.OfflineAfter))
	if err != nil {
		q.logger.Errorw("Failed to compute stats", "hours", hours, "error", err)
		return nil, err
	}
	q.statsCache.Add(hours, stats)
	return stats, nil
}

func eventFilter(ip, agentID string, limit int) (storage.EventFilter, error) {
	if err := validateLimit(limit); err != nil {
		return storage.EventFilter{}, err
	}
	canonical, err := canonicalIP(ip)
	if err != nil {
		return storage.EventFilter{}, err
	}
	return storage.EventFilter{IP: canonical, AgentID: agentID, Limit: limit}, nil
}

func validateLimit(limit int) error {
	if limit < 0 {
		return core.NewValidationError("limit", "limit must not be negative")
	}
	return nil
}

// canonicalIP brings an ip filter into the form stored in the event_ips index
func canonicalIP(ip string) (string, error) {
	ip = strings.TrimSpace(ip)
	if ip == "" {
		return "", nil
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return "", core.NewValidationError("ip", "invalid ip address %q", ip)
	}
	return addr.WithZone("").String(), nil
}
