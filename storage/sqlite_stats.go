package storage

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
)

const topN = 10

// Count is one row of a top-N breakdown
type Count struct {
	Key   string `json:"key"`
	Count int64  `json:"count"`
}

// HourBucket holds per-hour totals; Hour is "YYYY-MM-DDTHH" in UTC
type HourBucket struct {
	Hour   string `json:"hour"`
	Events int64  `json:"events"`
	Alerts int64  `json:"alerts"`
}

// Stats summarizes activity since a point in time
type Stats struct {
	Since            time.Time        `json:"since"`
	TotalEvents      int64            `json:"total_events"`
	TotalAlerts      int64            `json:"total_alerts"`
	AlertsBySeverity map[string]int64 `json:"alerts_by_severity"`
	EventsBySource   map[string]int64 `json:"events_by_source"`
	TopSourceIPs     []Count          `json:"top_source_ips"`
	TopRules         []Count          `json:"top_rules"`
	Hourly           []HourBucket     `json:"hourly"`
	Agents           int64            `json:"agents"`
	OnlineAgents     int64            `json:"online_agents"`
	OpenIncidents    int64            `json:"open_incidents"`
}

// SQLiteStatsStorage runs the aggregate queries behind the dashboard stats
type SQLiteStatsStorage struct {
	sqlite *SQLite
	logger *zap.SugaredLogger
}

// NewSQLiteStatsStorage creates a new stats storage instance
func NewSQLiteStatsStorage(sqlite *SQLite, logger *zap.SugaredLogger) *SQLiteStatsStorage {
	return &SQLiteStatsStorage{sqlite: sqlite, logger: logger}
}

// Stats aggregates events and alerts received at or after since. Agents seen
// at or after onlineSince count as online.
func (s *SQLiteStatsStorage) Stats(ctx context.Context, since, onlineSince time.Time) (*Stats, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultQueryTimeout)
	defer cancel()

	db := s.sqlite.ReadDB
	from := formatTime(since)
	stats := &Stats{
		Since:            since.UTC(),
		AlertsBySeverity: make(map[string]int64),
		EventsBySource:   make(map[string]int64),
	}

	scalars := []struct {
		dest  *int64
		query string
		args  []interface{}
	}{
		{&stats.TotalEvents, `SELECT COUNT(*) FROM events WHERE received_at >= ?`, []interface{}{from}},
		{&stats.TotalAlerts, `SELECT COUNT(*) FROM alerts WHERE created_at >= ?`, []interface{}{from}},
		{&stats.Agents, `SELECT COUNT(*) FROM agents`, nil},
		{&stats.OnlineAgents, `SELECT COUNT(*) FROM agents WHERE last_seen >= ?`, []interface{}{formatTime(onlineSince)}},
		{&stats.OpenIncidents, `SELECT COUNT(*) FROM incidents WHERE status = 'open'`, nil},
	}
	for _, sc := range scalars {
		if err := db.QueryRowContext(ctx, sc.query, sc.args...).Scan(sc.dest); err != nil {
			return nil, storageErr("stats", err)
		}
	}

	var err error
	if err = s.groupInto(ctx, stats.AlertsBySeverity,
		`SELECT severity, COUNT(*) FROM alerts WHERE created_at >= ? GROUP BY severity`, from); err != nil {
		return nil, err
	}
	if err = s.groupInto(ctx, stats.EventsBySource,
		`SELECT source, COUNT(*) FROM events WHERE received_at >= ? GROUP BY source`, from); err != nil {
		return nil, err
	}

	if stats.TopSourceIPs, err = s.topCounts(ctx, `
		SELECT src, COUNT(*) AS n FROM (
			SELECT json_extract(fields, '$.src_ip') AS src FROM events WHERE received_at >= ?
		) WHERE src IS NOT NULL AND src != ''
		GROUP BY src ORDER BY n DESC, src LIMIT ?`, from, topN); err != nil {
		return nil, err
	}
	if stats.TopRules, err = s.topCounts(ctx, `
		SELECT rule_id, COUNT(*) AS n FROM alerts
		WHERE created_at >= ? AND kind = 'rule'
		GROUP BY rule_id ORDER BY n DESC, rule_id LIMIT ?`, from, topN); err != nil {
		return nil, err
	}

	if stats.Hourly, err = s.hourly(ctx, from); err != nil {
		return nil, err
	}
	return stats, nil
}

func (s *SQLiteStatsStorage) groupInto(ctx context.Context, dest map[string]int64, query string, args ...interface{}) error {
	counts, err := s.topCounts(ctx, query, args...)
	if err != nil {
		return err
	}
	for _, c := range counts {
		dest[c.Key] = c.Count
	}
	return nil
}

func (s *SQLiteStatsStorage) topCounts(ctx context.Context, query string, args ...interface{}) ([]Count, error) {
	rows, err := s.sqlite.ReadDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("stats", err)
	}
	defer rows.Close()

	counts := make([]Count, 0)
	for rows.Next() {
		var c Count
		if err := rows.Scan(&c.Key, &c.Count); err != nil {
			return nil, storageErr("stats", fmt.Errorf("failed to scan count: %w", err))
		}
		counts = append(counts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("stats", err)
	}
	return counts, nil
}

func (s *SQLiteStatsStorage) hourly(ctx context.Context, from string) ([]HourBucket, error) {
	events, err := s.topCounts(ctx,
		`SELECT substr(received_at, 1, 13), COUNT(*) FROM events WHERE received_at >= ? GROUP BY 1`, from)
	if err != nil {
		return nil, err
	}
	alerts, err := s.topCounts(ctx,
		`SELECT substr(created_at, 1, 13), COUNT(*) FROM alerts WHERE created_at >= ? GROUP BY 1`, from)
	if err != nil {
		return nil, err
	}

	buckets := make(map[string]*HourBucket)
	bucket := func(hour string) *HourBucket {
		b, ok := buckets[hour]
		if !ok {
			b = &HourBucket{Hour: hour}
			buckets[hour] = b
		}
		return b
	}
	for _, c := range events {
		bucket(c.Key).Events = c.Count
	}
	for _, c := range alerts {
		bucket(c.Key).Alerts = c.Count
	}

	hourly := make([]HourBucket, 0, len(buckets))
	for _, b := range buckets {
		hourly = append(hourly, *b)
	}
	sort.Slice(hourly, func(i, j int) bool { return hourly[i].Hour < hourly[j].Hour })
	return hourly, nil
}
