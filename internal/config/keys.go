package config

import (
	"fmt"
	"strings"
)

// Setting paths understood by buildninja.
const (
	KeyNinjaCommand = "ninja.command"
	KeyNinjaSubdirs = "ninja.subdirs"
	KeyLogLevel     = "log.level"
)

// Default values, matching the conventions of the Atom build-ninja package.
const (
	DefaultNinjaCommand = "ninja"
	DefaultLogLevel     = "info"
)

// DefaultSubdirs returns the default candidate build directories.
func DefaultSubdirs() []string {
	return []string{"src/out/Debug"}
}

// Keys returns all known setting paths in display order.
func Keys() []string {
	return []string{KeyNinjaCommand, KeyNinjaSubdirs, KeyLogLevel}
}

// defaultConfig returns the default configuration values.
func defaultConfig() map[string]any {
	subdirs := DefaultSubdirs()
	items := make([]any, len(subdirs))
	for i, s := range subdirs {
		items[i] = s
	}

	return map[string]any{
		"ninja": map[string]any{
			"command": DefaultNinjaCommand,
			"subdirs": items,
		},
		"log": map[string]any{
			"level": DefaultLogLevel,
		},
	}
}

// ParseValue converts command-line words into a value for key.
// List settings take every word; scalar settings take exactly one.
func ParseValue(key string, words []string) (any, error) {
	switch key {
	case KeyNinjaSubdirs:
		out := make([]string, len(words))
		copy(out, words)
		return out, nil
	case KeyNinjaCommand, KeyLogLevel:
		if len(words) != 1 {
			return nil, fmt.Errorf("%s takes exactly one value, got %d", key, len(words))
		}
		if strings.TrimSpace(words[0]) == "" {
			return nil, fmt.Errorf("%s must not be empty", key)
		}
		return words[0], nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownSetting, key)
	}
}

// NinjaCommand returns the configured ninja executable.
func (c *Config) NinjaCommand() string {
	s, err := c.GetString(KeyNinjaCommand)
	if err != nil || s == "" {
		return DefaultNinjaCommand
	}
	return s
}

// Subdirs returns the configured candidate build directories.
func (c *Config) Subdirs() []string {
	dirs, err := c.GetStringSlice(KeyNinjaSubdirs)
	if err != nil {
		return DefaultSubdirs()
	}
	return dirs
}
