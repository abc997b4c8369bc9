// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"strings"
)

// Level selects the groups of metrics exported, as a bit set
type Level uint32

const (
	MetricsLevelCore   Level = 1 << iota // per-core power, energy and limits
	MetricsLevelDomain                   // per frequency domain decisions

	// MetricsLevelAll represents all metric levels combined
	MetricsLevelAll = MetricsLevelCore | MetricsLevelDomain
)

var levelNames = []struct {
	level Level
	name  string
}{
	{MetricsLevelCore, "core"},
	{MetricsLevelDomain, "domain"},
}

func (l Level) names() []string {
	var names []string
	for _, ln := range levelNames {
		if l&ln.level != 0 {
			names = append(names, ln.name)
		}
	}
	return names
}

// String returns the string representation of the level
func (l Level) String() string {
	return strings.Join(l.names(), ",")
}

// IsCoreEnabled checks if per-core metrics are enabled
func (l Level) IsCoreEnabled() bool {
	return l&MetricsLevelCore != 0
}

// IsDomainEnabled checks if frequency domain metrics are enabled
func (l Level) IsDomainEnabled() bool {
	return l&MetricsLevelDomain != 0
}

// ParseLevel parses a slice of strings into a Level
func ParseLevel(levels []string) (Level, error) {
	if len(levels) == 0 {
		return MetricsLevelAll, nil
	}

	var result Level
	for _, level := range levels {
		name := strings.ToLower(strings.TrimSpace(level))
		found := false
		for _, ln := range levelNames {
			if ln.name == name {
				result |= ln.level
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("unknown metrics level: %s", level)
		}
	}

	return result, nil
}

// ValidLevels returns the list of valid metrics levels
func ValidLevels() []string {
	return MetricsLevelAll.names()
}

// MarshalYAML implements yaml.Marshaler interface
func (l Level) MarshalYAML() (interface{}, error) {
	names := l.names()
	// a single level is written as a plain string
	if len(names) == 1 {
		return names[0], nil
	}
	return names, nil
}

// UnmarshalYAML implements yaml.Unmarshaler interface
func (l *Level) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var single string
	if err := unmarshal(&single); err == nil {
		parsed, parseErr := ParseLevel([]string{single})
		if parseErr != nil {
			return parseErr
		}
		*l = parsed
		return nil
	}

	var multiple []string
	if err := unmarshal(&multiple); err == nil {
		parsed, parseErr := ParseLevel(multiple)
		if parseErr != nil {
			return parseErr
		}
		*l = parsed
		return nil
	}

	return fmt.Errorf("cannot unmarshal metrics level: must be a string or array of strings")
}
