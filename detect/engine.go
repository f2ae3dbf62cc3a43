package detect

import (
	"strings"

	"vigil/core"
	"vigil/metrics"

	"go.uber.org/zap"
)

// Engine evaluates events against an immutable rule set. It is safe for
// concurrent use.
type Engine struct {
	rules  []*core.Rule
	logger *zap.SugaredLogger
}

// NewEngine creates an engine over rules, kept in load order
func NewEngine(rules []*core.Rule, logger *zap.SugaredLogger) *Engine {
	owned := make([]*core.Rule, len(rules))
	copy(owned, rules)
	metrics.RulesLoaded.Set(float64(len(owned)))
	return &Engine{rules: owned, logger: logger}
}

// Rules returns the loaded rules in load order
func (e *Engine) Rules() []*core.Rule {
	out := make([]*core.Rule, len(e.rules))
	copy(out, e.rules)
	return out
}

// Evaluate returns the rules whose condition matches the event, in load order
func (e *Engine) Evaluate(event *core.Event) []*core.Rule {
	matched := make([]*core.Rule, 0)
	for _, rule := range e.rules {
		onTimeout := func(re *core.Regex, err error) {
			metrics.RegexTimeouts.WithLabelValues(rule.ID).Inc()
			e.logger.Warnw("Regex match timed out, treating as no match",
				"rule_id", rule.ID, "pattern", re.Pattern, "event_id", event.ID, "error", err)
		}
		if match(rule.Condition, event, onTimeout) {
			matched = append(matched, rule)
		}
	}
	return matched
}

// Match evaluates a condition tree against an event. A regex that times out
// counts as no match.
func Match(cond core.Condition, event *core.Event) bool {
	return match(cond, event, nil)
}

func match(cond core.Condition, event *core.Event, onTimeout func(*core.Regex, error)) bool {
	switch c := cond.(type) {
	case core.Contains:
		v, ok := event.Lookup(c.Field)
		return ok && strings.Contains(v, c.Value)

	case core.Equals:
		v, ok := event.Lookup(c.Field)
		return ok && v == c.Value

	case *core.Regex:
		v, ok := event.Lookup(c.Field)
		if !ok {
			return false
		}
		matched, err := c.MatchString(v)
		if err != nil {
			if onTimeout != nil {
				onTimeout(c, err)
			}
			return false
		}
		return matched

	case core.All:
		for _, child := range c.Children {
			if !match(child, event, onTimeout) {
				return false
			}
		}
		return true

	case core.Any:
		for _, child := range c.Children {
			if match(child, event, onTimeout) {
				return true
			}
		}
		return false
	}
	return false
}
