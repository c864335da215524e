// Package tier defines the fixed resolution levels of the memory hierarchy.
package tier

import (
	"errors"
	"fmt"
)

// Tier is one resolution level. The zero value is DailyRaw.
type Tier int

const (
	DailyRaw Tier = iota
	DailySummary
	Level10
	Level100
	Level1000
	Archive
)

// Unbounded is the span reported for the archive tier.
const Unbounded = -1

var (
	ErrInvalidTier = errors.New("invalid tier")
	ErrNoLowerTier = errors.New("tier has no lower tier")
)

type definition struct {
	name string
	span int
}

// registry is indexed by level.
var registry = [...]definition{
	DailyRaw:     {"daily_raw", 1},
	DailySummary: {"daily_summary", 1},
	Level10:      {"level_10", 10},
	Level100:     {"level_100", 100},
	Level1000:    {"level_1000", 1000},
	Archive:      {"level_archive", Unbounded},
}

// All returns every tier in level order.
func All() []Tier {
	return []Tier{DailyRaw, DailySummary, Level10, Level100, Level1000, Archive}
}

// Parse resolves a tier by name.
func Parse(name string) (Tier, error) {
	for i, d := range registry {
		if d.name == name {
			return Tier(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidTier, name)
}

// LevelOf returns the level of the named tier.
func LevelOf(name string) (int, error) {
	t, err := Parse(name)
	if err != nil {
		return 0, err
	}
	return t.Level(), nil
}

// SpanDays returns the nominal span of the named tier, or Unbounded.
func SpanDays(name string) (int, error) {
	t, err := Parse(name)
	if err != nil {
		return 0, err
	}
	return t.SpanDays(), nil
}

// TierBelow returns the tier one level below the named tier.
func TierBelow(name string) (Tier, error) {
	t, err := Parse(name)
	if err != nil {
		return 0, err
	}
	return t.Below()
}

// Valid reports whether t is a registered tier.
func (t Tier) Valid() bool {
	return t >= DailyRaw && int(t) < len(registry)
}

func (t Tier) Level() int { return int(t) }

// SpanDays returns the nominal span in days, or Unbounded for the archive.
func (t Tier) SpanDays() int {
	if !t.Valid() {
		return 0
	}
	return registry[t].span
}

// Below returns the tier a record of this tier is promoted from.
func (t Tier) Below() (Tier, error) {
	if !t.Valid() {
		return 0, fmt.Errorf("%w: level %d", ErrInvalidTier, int(t))
	}
	if t == DailyRaw {
		return 0, fmt.Errorf("%s: %w", t, ErrNoLowerTier)
	}
	return t - 1, nil
}

func (t Tier) String() string {
	if !t.Valid() {
		return fmt.Sprintf("tier(%d)", int(t))
	}
	return registry[t].name
}

// MarshalText encodes the tier as its name.
func (t Tier) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: level %d", ErrInvalidTier, int(t))
	}
	return []byte(registry[t].name), nil
}

// UnmarshalText decodes a tier name.
func (t *Tier) UnmarshalText(b []byte) error {
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
