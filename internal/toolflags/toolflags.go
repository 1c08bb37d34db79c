// Package toolflags turns user-facing name/value options into the argv
// tokens a texture compression tool expects.
package toolflags

import (
	"fmt"
	"sort"
	"strings"
)

// DefaultPrefix is prepended to option names that carry no dash of their own.
const DefaultPrefix = "--"

// Option is a single user-supplied flag. Value may be empty for switches.
type Option struct {
	Name  string
	Value string
}

// Options is an ordered set of options. Order is preserved into the argv.
type Options []Option

// Style describes the flag syntax of one compression tool.
type Style struct {
	Prefix string // e.g. "-" for PVRTexTool and Crunch
}

func (s Style) prefix() string {
	if s.Prefix == "" {
		return DefaultPrefix
	}
	return s.Prefix
}

// Parse converts "name=value" or bare "name" strings into Options.
func Parse(pairs []string) (Options, error) {
	opts := make(Options, 0, len(pairs))
	for _, pair := range pairs {
		name, value, _ := strings.Cut(pair, "=")
		name = strings.TrimSpace(name)
		if name == "" || strings.Trim(name, "-") == "" {
			return nil, fmt.Errorf("invalid flag %q: empty name", pair)
		}
		opts = append(opts, Option{Name: name, Value: strings.TrimSpace(value)})
	}
	return opts, nil
}

// FromMap builds Options from a map, ordered by name so the result is stable.
func FromMap(m map[string]string) Options {
	if len(m) == 0 {
		return nil
	}
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)

	opts := make(Options, 0, len(names))
	for _, name := range names {
		opts = append(opts, Option{Name: name, Value: m[name]})
	}
	return opts
}

// CreateFlagsForTool renders each option as "<prefix><name> <value>", or just
// "<prefix><name>" when the value is empty. Names that already start with a
// dash are used as given.
func CreateFlagsForTool(opts Options, style Style) []string {
	flags := make([]string, 0, len(opts))
	for _, opt := range opts {
		name := opt.Name
		if !strings.HasPrefix(name, "-") {
			name = style.prefix() + name
		}
		if opt.Value == "" {
			flags = append(flags, name)
			continue
		}
		flags = append(flags, name+" "+opt.Value)
	}
	return flags
}

// SplitFlagAndValue splits combined "flag value" or "flag=value" entries into
// separate argv tokens, keeping their order.
func SplitFlagAndValue(flags []string) []string {
	tokens := make([]string, 0, len(flags)*2)
	for _, f := range flags {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		idx := strings.IndexAny(f, " =")
		if idx < 0 {
			tokens = append(tokens, f)
			continue
		}
		tokens = append(tokens, f[:idx])
		if value := strings.TrimSpace(f[idx+1:]); value != "" {
			tokens = append(tokens, value)
		}
	}
	return tokens
}
