// Package registry holds the Module Registry & Loader: module identity,
// versioned code images, and the activate/deactivate lifecycle that
// governs which code image a module's callers currently resolve symbols
// against.
package registry

import (
	"fmt"
	"time"
)

// Flag marks a declared characteristic of a Version.
type Flag uint8

const (
	FlagStable Flag = 1 << iota
	FlagBeta
	FlagAlpha
	FlagBreaking
	FlagDeprecated
	FlagSecurity
)

// Has reports whether f includes flag.
func (f Flag) Has(flag Flag) bool { return f&flag != 0 }

// Version identifies one build of a module. Comparison is lexicographic
// on (Major, Minor, Patch, Build) — see Compare — which is a total order,
// but it is deliberately NOT the same thing as semantic compatibility;
// compatibility is decided by the conflict rules in internal/txn.
type Version struct {
	Major, Minor, Patch, Build uint32
	Flags                      Flag
	Timestamp                  time.Time
	ContentHash                string
}

// String renders a Version as major.minor.patch+build.
func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d+%d", v.Major, v.Minor, v.Patch, v.Build)
}

// Compare returns -1, 0 or 1 comparing v to other under the total order
// over (Major, Minor, Patch, Build).
func (v Version) Compare(other Version) int {
	switch {
	case v.Major != other.Major:
		return cmp(v.Major, other.Major)
	case v.Minor != other.Minor:
		return cmp(v.Minor, other.Minor)
	case v.Patch != other.Patch:
		return cmp(v.Patch, other.Patch)
	default:
		return cmp(v.Build, other.Build)
	}
}

func cmp(a, b uint32) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Less reports whether v sorts before other in the total order.
func (v Version) Less(other Version) bool { return v.Compare(other) < 0 }
