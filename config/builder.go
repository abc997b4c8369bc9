// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Builder is a struct for building a config
type Builder struct {
	yamls  []string
	Config *Config
}

// Use sets the default configuration
func (b *Builder) Use(c *Config) *Builder {
	b.Config = c
	return b
}

// Merge adds a YAML string to be merged into the configuration
func (b *Builder) Merge(yamls ...string) *Builder {
	b.yamls = append(b.yamls, yamls...)
	return b
}

// MergeFile adds the content of YAML files to be merged into the configuration
func (b *Builder) MergeFile(paths ...string) error {
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return fmt.Errorf("failed to read config file: %w", err)
		}
		b.yamls = append(b.yamls, string(data))
	}
	return nil
}

// Build merges all additional YAMLs into the default configuration. Later
// YAMLs win; per-core limits are merged key by key and an explicit 0 resets a
// core to unlimited.
func (b *Builder) Build() (*Config, error) {
	if b.Config == nil {
		b.Config = DefaultConfig()
	}

	var errs error
	for _, y := range b.yamls {
		additional := &Config{}
		if err := yaml.Unmarshal([]byte(y), additional); err != nil {
			errs = errors.Join(errs, fmt.Errorf("failed to parse YAML: %w, yaml: %s", err, y))
			continue
		}

		if err := mergo.Merge(b.Config, additional, mergo.WithOverride, mergo.WithTransformers(mergeTransformer{})); err != nil {
			errs = errors.Join(errs, fmt.Errorf("failed to merge config: %w, yaml: %s", err, y))
			continue
		}
	}

	if errs != nil {
		return nil, errs
	}
	b.Config.sanitize()
	return b.Config, nil
}

var (
	boolPtrType = reflect.TypeOf((*bool)(nil))
	limitsType  = reflect.TypeOf(map[int]int64(nil))
)

// mergeTransformer lets explicitly set zero values win: a false *bool and a
// 0 (unlimited) per-core limit
type mergeTransformer struct{}

func (mergeTransformer) Transformer(typ reflect.Type) func(dst, src reflect.Value) error {
	switch typ {
	case boolPtrType:
		return func(dst, src reflect.Value) error {
			if !src.IsNil() && dst.CanSet() {
				dst.Set(src)
			}
			return nil
		}

	case limitsType:
		return func(dst, src reflect.Value) error {
			if src.IsNil() || !dst.CanSet() {
				return nil
			}
			if dst.IsNil() {
				dst.Set(reflect.MakeMapWithSize(typ, src.Len()))
			}
			iter := src.MapRange()
			for iter.Next() {
				dst.SetMapIndex(iter.Key(), iter.Value())
			}
			return nil
		}
	}
	return nil
}
