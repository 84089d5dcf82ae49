// Package mapping holds per-source field overrides and resolves logical entry
// fields from raw feed items.
package mapping

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"feedsync/internal/domain"
)

type Field string

const (
	FieldIdentifier Field = "identifier"
	FieldTitle      Field = "title"
	FieldAuthor     Field = "author"
	FieldLink       Field = "link"
	FieldContent    Field = "content"
)

const (
	channelTitleKey = "title"
	entriesPrefix   = "entries."
)

// Fields lists the logical entry fields in resolution order.
var Fields = []Field{FieldIdentifier, FieldTitle, FieldAuthor, FieldLink, FieldContent}

// Config is an immutable override table. The zero value uses default raw
// field names everywhere.
type Config struct {
	channelTitle string
	entries      map[Field]string
}

func New(channelTitle string, entries map[Field]string) (Config, error) {
	c := Config{channelTitle: strings.TrimSpace(channelTitle)}

	for f, name := range entries {
		if !knownField(f) {
			return Config{}, fmt.Errorf("unknown entry field %q", f)
		}

		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}

		if c.entries == nil {
			c.entries = make(map[Field]string, len(entries))
		}
		c.entries[f] = name
	}

	return c, nil
}

// Parse builds a Config from "key=value" pairs where key is "title" or
// "entries.<field>".
func Parse(pairs ...string) (Config, error) {
	flat := make(map[string]string, len(pairs))

	for _, p := range pairs {
		key, value, ok := strings.Cut(strings.TrimSpace(p), "=")
		if !ok {
			return Config{}, fmt.Errorf("parse pair %q: missing '='", p)
		}
		flat[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}

	return FromPairs(flat)
}

// FromPairs is the inverse of Pairs.
func FromPairs(pairs map[string]string) (Config, error) {
	var channelTitle string
	entries := make(map[Field]string, len(pairs))

	for key, value := range pairs {
		if key == channelTitleKey {
			channelTitle = value
			continue
		}

		name, ok := strings.CutPrefix(key, entriesPrefix)
		if !ok {
			return Config{}, fmt.Errorf("unknown mapping key %q", key)
		}
		entries[Field(name)] = value
	}

	return New(channelTitle, entries)
}

func (c Config) ChannelTitle() string {
	return c.channelTitle
}

// Entry returns the override raw name for f, or "" when the default applies.
func (c Config) Entry(f Field) string {
	return c.entries[f]
}

func (c Config) IsZero() bool {
	return c.channelTitle == "" && len(c.entries) == 0
}

// Merge returns a new Config holding c's overrides with other's non-empty
// overrides on top. Neither c nor other is modified.
func (c Config) Merge(other Config) Config {
	merged := Config{channelTitle: c.channelTitle}
	if other.channelTitle != "" {
		merged.channelTitle = other.channelTitle
	}

	if len(c.entries)+len(other.entries) > 0 {
		merged.entries = make(map[Field]string, len(c.entries)+len(other.entries))
		maps.Copy(merged.entries, c.entries)
		maps.Copy(merged.entries, other.entries)
	}

	return merged
}

// Pairs flattens the overrides into "title" / "entries.<field>" keys.
func (c Config) Pairs() map[string]string {
	pairs := make(map[string]string, len(c.entries)+1)

	if c.channelTitle != "" {
		pairs[channelTitleKey] = c.channelTitle
	}
	for f, name := range c.entries {
		pairs[entriesPrefix+string(f)] = name
	}

	return pairs
}

func (c Config) String() string {
	pairs := c.Pairs()
	keys := slices.Sorted(maps.Keys(pairs))

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+pairs[k])
	}

	return strings.Join(parts, " ")
}

// Resolve reads logical field f from item. It returns false when the raw
// field is absent; the value is then empty.
func (c Config) Resolve(f Field, item domain.RawItem) (string, bool) {
	name := string(f)
	if override := c.entries[f]; override != "" {
		name = override
	}

	v, ok := item.Get(name)
	if !ok {
		return "", false
	}

	return toUTF8(v), true
}

// ResolveChannelTitle reads the channel-level override field when set and
// the feed's own title otherwise.
func (c Config) ResolveChannelTitle(raw domain.RawFeed) string {
	if c.channelTitle != "" {
		v, _ := raw.Channel.Get(c.channelTitle)
		return toUTF8(strings.TrimSpace(v))
	}

	return toUTF8(strings.TrimSpace(raw.Title))
}

func knownField(f Field) bool {
	return slices.Contains(Fields, f)
}
