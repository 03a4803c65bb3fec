package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"pacer/internal/task/throttle"
)

// Preset names.
const (
	PresetConservative = "conservative"
	PresetModerate     = "moderate"
	PresetAggressive   = "aggressive"
)

var presets = map[string]throttle.Config{
	PresetConservative: {
		MaxConcurrent: 1,
		Delay:         3 * time.Second,
		BurstLimit:    3,
		TimeWindow:    10 * time.Second,
	},
	PresetModerate: {
		MaxConcurrent: 3,
		Delay:         time.Second,
		BurstLimit:    10,
		TimeWindow:    10 * time.Second,
	},
	PresetAggressive: {
		MaxConcurrent: 8,
		Delay:         500 * time.Millisecond,
		BurstLimit:    30,
		TimeWindow:    10 * time.Second,
	},
}

// Presets returns the built-in traffic profiles by name.
func Presets() map[string]throttle.Config {
	out := make(map[string]throttle.Config, len(presets))
	for k, v := range presets {
		out[k] = v
	}
	return out
}

// Preset returns the named profile. Lookup is case-insensitive.
func Preset(name string) (throttle.Config, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	if p, ok := presets[n]; ok {
		return p, nil
	}
	names := make([]string, 0, len(presets))
	for k := range presets {
		names = append(names, k)
	}
	sort.Strings(names)
	return throttle.Config{}, fmt.Errorf("unknown preset %q (want one of %s)", name, strings.Join(names, ", "))
}
