package discovery

import (
	"regexp"
	"strings"
	"sync"
)

// TaskMatcher decides whether a task text is handled by a capability.
type TaskMatcher interface {
	Match(task string, c *Capability) bool
}

// ExactMatcher matches when the task equals the capability id, its name, or
// one of its supported patterns, ignoring case.
type ExactMatcher struct{}

// Match implements TaskMatcher.
func (ExactMatcher) Match(task string, c *Capability) bool {
	task = strings.TrimSpace(task)
	if task == "" {
		return false
	}
	if strings.EqualFold(task, c.CapabilityID) || (c.Name != "" && strings.EqualFold(task, c.Name)) {
		return true
	}
	for _, p := range c.SupportedPatterns {
		if strings.EqualFold(task, p) {
			return true
		}
	}
	return false
}

// PatternMatcher treats supported patterns as case-insensitive regular
// expressions. Patterns that do not compile fall back to substring matching.
// Compiled expressions are cached.
type PatternMatcher struct {
	mu       sync.RWMutex
	compiled map[string]*regexp.Regexp
}

// NewPatternMatcher creates a pattern matcher.
func NewPatternMatcher() *PatternMatcher {
	return &PatternMatcher{compiled: make(map[string]*regexp.Regexp)}
}

// Match implements TaskMatcher.
func (m *PatternMatcher) Match(task string, c *Capability) bool {
	if task == "" {
		return false
	}
	for _, p := range c.SupportedPatterns {
		if p == "" {
			continue
		}
		if re := m.compile(p); re != nil {
			if re.MatchString(task) {
				return true
			}
			continue
		}
		if strings.Contains(strings.ToLower(task), strings.ToLower(p)) {
			return true
		}
	}
	return false
}

// compile returns the cached expression for p, or nil if p is not a valid
// regular expression.
func (m *PatternMatcher) compile(p string) *regexp.Regexp {
	m.mu.RLock()
	re, ok := m.compiled[p]
	m.mu.RUnlock()
	if ok {
		return re
	}

	re, err := regexp.Compile("(?i)" + p)
	if err != nil {
		re = nil
	}

	m.mu.Lock()
	m.compiled[p] = re
	m.mu.Unlock()
	return re
}

var (
	_ TaskMatcher = ExactMatcher{}
	_ TaskMatcher = (*PatternMatcher)(nil)
)
