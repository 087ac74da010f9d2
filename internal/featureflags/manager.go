// Package featureflags evaluates operator-controlled behavior switches.
package featureflags

import (
	"errors"
	"fmt"
	"hash/fnv"
	"sort"
	"strconv"
	"strings"
)

// ReactionCapBestEffort restores read-then-increment counter updates, where
// concurrent reactions near the ceiling may overshoot it.
const ReactionCapBestEffort = "reaction_cap_best_effort"

// rule is one parsed flag: fully on, fully off, or on for pct% of subjects.
type rule struct {
	pct int
}

func parseRule(value string) (rule, error) {
	switch value {
	case "on", "true", "1":
		return rule{pct: 100}, nil
	case "off", "false", "0":
		return rule{pct: 0}, nil
	}
	raw, ok := strings.CutSuffix(value, "%")
	if !ok {
		return rule{}, fmt.Errorf("unknown value %q", value)
	}
	pct, err := strconv.Atoi(raw)
	if err != nil || pct < 0 || pct > 100 {
		return rule{}, fmt.Errorf("bad percentage %q", value)
	}
	return rule{pct: pct}, nil
}

// Manager holds flags parsed from FEATURE_FLAGS, a comma-separated list such as
// "reaction_cap_best_effort=off,new_feed=25%".
type Manager struct {
	rules map[string]rule
}

// Parse reads a flag list and reports every malformed entry.
func Parse(raw string) (*Manager, error) {
	m := &Manager{rules: make(map[string]rule)}
	var errs []error
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		key, value, ok := strings.Cut(entry, "=")
		key, value = normalize(key), normalize(value)
		if !ok || key == "" || value == "" {
			errs = append(errs, fmt.Errorf("flag entry %q: want name=value", entry))
			continue
		}
		r, err := parseRule(value)
		if err != nil {
			errs = append(errs, fmt.Errorf("flag %s: %w", key, err))
			continue
		}
		m.rules[key] = r
	}
	return m, errors.Join(errs...)
}

// NewManager is Parse that keeps the valid entries and drops the rest.
func NewManager(raw string) *Manager {
	m, _ := Parse(raw)
	return m
}

// Enabled reports whether name is on for subject, usually an identity id.
// Partial rollouts bucket subjects deterministically and are off for an
// empty subject.
func (m *Manager) Enabled(name, subject string) bool {
	if m == nil {
		return false
	}
	r, ok := m.rules[normalize(name)]
	switch {
	case !ok || r.pct <= 0:
		return false
	case r.pct >= 100:
		return true
	case subject == "":
		return false
	}
	return bucket(name, subject) < r.pct
}

// Names returns the configured flag names in sorted order.
func (m *Manager) Names() []string {
	if m == nil {
		return nil
	}
	names := make([]string, 0, len(m.rules))
	for k := range m.rules {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Snapshot evaluates every flag for one subject.
func (m *Manager) Snapshot(subject string) map[string]bool {
	out := make(map[string]bool)
	for _, name := range m.Names() {
		out[name] = m.Enabled(name, subject)
	}
	return out
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func bucket(name, subject string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(normalize(name) + ":" + subject))
	return int(h.Sum32() % 100)
}
