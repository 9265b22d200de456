package config

import (
	"fmt"
	"sort"

	"github.com/Veraticus/spice-sentinel/internal/common"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// YAML renders the configuration the way it appears under `detection:` in
// the config file.
func (d Detection) YAML() (string, error) {
	out, err := yaml.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("failed to encode detection config: %w", err)
	}
	return string(out), nil
}

// Keys lists every configurable key, sorted.
func (d Detection) Keys() ([]string, error) {
	fields, err := d.fields()
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// With returns a copy of d with one key set from its textual value and
// validates the result. Durations accept Go syntax such as "15s".
func (d Detection) With(key, value string) (Detection, error) {
	fields, err := d.fields()
	if err != nil {
		return Detection{}, err
	}
	if _, ok := fields[key]; !ok {
		return Detection{}, fmt.Errorf("%w: unknown key %q", common.ErrConfigInvalid, key)
	}

	v := viper.New()
	v.Set("detection."+key, value)

	out := d
	if err := v.UnmarshalKey("detection", &out); err != nil {
		return Detection{}, fmt.Errorf("%w: %s: %w", common.ErrConfigInvalid, key, err)
	}
	if err := out.Validate(); err != nil {
		return Detection{}, err
	}
	return out, nil
}

func (d Detection) fields() (map[string]any, error) {
	raw, err := yaml.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("failed to encode detection config: %w", err)
	}
	fields := make(map[string]any)
	if err := yaml.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("failed to decode detection config: %w", err)
	}
	return fields, nil
}
