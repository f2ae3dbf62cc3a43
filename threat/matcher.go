package threat

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"vigil/core"
	"vigil/metrics"

	"go.uber.org/zap"
)

// IndicatorLister is the subset of indicator storage the matcher needs
type IndicatorLister interface {
	ListIndicators(ctx context.Context) ([]*core.Indicator, error)
}

const sha256HexLength = 64

// Matcher keeps an in-memory index of indicators and matches events against it.
// It is safe for concurrent use.
type Matcher struct {
	store  IndicatorLister
	logger *zap.SugaredLogger

	mu      sync.RWMutex
	byID    map[string]*core.Indicator
	ips     map[string]*core.Indicator
	hashes  map[string]*core.Indicator
	domains map[string]*core.Indicator
}

// NewMatcher creates an empty matcher backed by store
func NewMatcher(store IndicatorLister, logger *zap.SugaredLogger) *Matcher {
	m := &Matcher{store: store, logger: logger}
	m.reset()
	return m
}

func (m *Matcher) reset() {
	m.byID = make(map[string]*core.Indicator)
	m.ips = make(map[string]*core.Indicator)
	m.hashes = make(map[string]*core.Indicator)
	m.domains = make(map[string]*core.Indicator)
}

// Load replaces the index with the indicators currently in the store
func (m *Matcher) Load(ctx context.Context) error {
	indicators, err := m.store.ListIndicators(ctx)
	if err != nil {
		return fmt.Errorf("failed to load indicators: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.reset()
	for _, ind := range indicators {
		m.addLocked(ind)
	}
	metrics.IndicatorsLoaded.Set(float64(len(m.byID)))

	m.logger.Infof("Loaded %d indicators into matcher", len(m.byID))
	return nil
}

// Add indexes an indicator that was just stored
func (m *Matcher) Add(ind *core.Indicator) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addLocked(ind)
	metrics.IndicatorsLoaded.Set(float64(len(m.byID)))
}

func (m *Matcher) addLocked(ind *core.Indicator) {
	value := core.NormalizeIndicatorValue(ind.Type, ind.Value)
	switch ind.Type {
	case core.IndicatorTypeIP:
		m.ips[value] = ind
	case core.IndicatorTypeSHA256:
		m.hashes[value] = ind
	case core.IndicatorTypeDomain:
		m.domains[value] = ind
	default:
		m.logger.Warnw("Ignoring indicator of unsupported type", "indicator_id", ind.ID, "type", ind.Type)
		return
	}
	m.byID[ind.ID] = ind
}

// Remove drops an indicator from the index. Unknown ids are ignored.
func (m *Matcher) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ind, ok := m.byID[id]
	if !ok {
		return
	}
	delete(m.byID, id)
	value := core.NormalizeIndicatorValue(ind.Type, ind.Value)
	switch ind.Type {
	case core.IndicatorTypeIP:
		delete(m.ips, value)
	case core.IndicatorTypeSHA256:
		delete(m.hashes, value)
	case core.IndicatorTypeDomain:
		delete(m.domains, value)
	}
	metrics.IndicatorsLoaded.Set(float64(len(m.byID)))
}

// Len returns the number of indexed indicators
func (m *Matcher) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byID)
}

// Match returns the indicators that match the event, ordered by type then value.
//   - ip: an element of event.IPs equals the value
//   - domain: the value is a case-insensitive substring of the message or a field value
//   - sha256: the value appears in the message or a field value, hex compared case-insensitively
func (m *Matcher) Match(event *core.Event) []*core.Indicator {
	m.mu.RLock()
	defer m.mu.RUnlock()

	found := make(map[string]*core.Indicator)
	for _, ip := range event.IPs {
		if ind, ok := m.ips[ip]; ok {
			found[ind.ID] = ind
		}
	}

	if len(m.domains) > 0 || len(m.hashes) > 0 {
		for _, text := range event.Texts() {
			lower := strings.ToLower(text)
			for value, ind := range m.domains {
				if strings.Contains(lower, value) {
					found[ind.ID] = ind
				}
			}
			if len(m.hashes) > 0 {
				m.matchHashes(lower, found)
			}
		}
	}

	matches := make([]*core.Indicator, 0, len(found))
	for _, ind := range found {
		matches = append(matches, ind)
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Type != matches[j].Type {
			return matches[i].Type < matches[j].Type
		}
		return matches[i].Value < matches[j].Value
	})
	return matches
}

// matchHashes looks up every 64 character window of each hex run in text
func (m *Matcher) matchHashes(text string, found map[string]*core.Indicator) {
	for i := 0; i < len(text); {
		if !isHex(text[i]) {
			i++
			continue
		}
		start := i
		for i < len(text) && isHex(text[i]) {
			i++
		}
		run := text[start:i]
		for j := 0; j+sha256HexLength <= len(run); j++ {
			if ind, ok := m.hashes[run[j:j+sha256HexLength]]; ok {
				found[ind.ID] = ind
			}
		}
	}
}

func isHex(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')
}
