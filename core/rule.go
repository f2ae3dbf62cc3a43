package core

import (
	"fmt"
	"time"

	"github.com/dlclark/regexp2"
)

// Rule is a declarative detection rule. Rules are built once at startup and shared read-only.
type Rule struct {
	ID          string    `json:"id"`
	Description string    `json:"description"`
	Severity    Severity  `json:"severity"`
	Condition   Condition `json:"-"`
}

// Condition is a node of a rule's condition tree. The set of implementations
// is closed: Contains, Equals, *Regex, All and Any.
type Condition interface {
	condition()
}

// Contains is true when the target contains Value (case-sensitive).
type Contains struct {
	Field string
	Value string
}

// Equals is true when the target equals Value (case-sensitive).
type Equals struct {
	Field string
	Value string
}

// Regex is true when the compiled pattern matches the target.
type Regex struct {
	Field   string
	Pattern string
	re      *regexp2.Regexp
}

// All is true when every child is true. An empty All is true.
type All struct {
	Children []Condition
}

// Any is true when at least one child is true. An empty Any is false.
type Any struct {
	Children []Condition
}

func (Contains) condition() {}
func (Equals) condition()   {}
func (*Regex) condition()   {}
func (All) condition()      {}
func (Any) condition()      {}

// CompileRegex compiles pattern once. matchTimeout bounds every later match.
func CompileRegex(field, pattern string, matchTimeout time.Duration) (*Regex, error) {
	re, err := regexp2.Compile(pattern, regexp2.None)
	if err != nil {
		return nil, fmt.Errorf("failed to compile regex %q: %w", pattern, err)
	}
	re.MatchTimeout = matchTimeout
	return &Regex{Field: field, Pattern: pattern, re: re}, nil
}

// MatchString applies the compiled pattern. The error is non-nil only when the match timed out.
func (r *Regex) MatchString(s string) (bool, error) {
	if r.re == nil {
		return false, fmt.Errorf("regex %q was not compiled", r.Pattern)
	}
	return r.re.MatchString(s)
}

// Depth returns the height of the condition tree; a leaf has depth 1.
func Depth(c Condition) int {
	var children []Condition
	switch n := c.(type) {
	case All:
		children = n.Children
	case Any:
		children = n.Children
	default:
		return 1
	}
	max := 0
	for _, child := range children {
		if d := Depth(child); d > max {
			max = d
		}
	}
	return max + 1
}
