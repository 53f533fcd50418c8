package txn

import (
	"fmt"

	"github.com/hotreload/hmr/internal/registry"
)

// ConflictKind classifies why a proposed module update conflicts with
// the currently committed version (§4.3).
type ConflictKind int

const (
	MajorBreaking ConflictKind = iota
	MinorIncompatible
	PatchDivergent
	DeprecatedOrSecurity
	DependencyViolation
)

func (k ConflictKind) String() string {
	switch k {
	case MajorBreaking:
		return "MajorBreaking"
	case MinorIncompatible:
		return "MinorIncompatible"
	case PatchDivergent:
		return "PatchDivergent"
	case DeprecatedOrSecurity:
		return "DeprecatedOrSecurity"
	case DependencyViolation:
		return "DependencyViolation"
	default:
		return "Unknown"
	}
}

// Strategy is a conflict resolution strategy a caller can request via
// resolve_conflicts.
type Strategy int

const (
	KeepCurrent Strategy = iota
	OverrideNew
	AutoMerge
)

// Conflict is a Conflict Record (§3): (conflict_id, module_id,
// current_version, attempted_version, kind, location, severity,
// strategy_hint, auto_resolvable, payload).
type Conflict struct {
	ID               string
	ModuleID         registry.ID
	CurrentVersion   registry.Version
	AttemptedVersion registry.Version
	Kind             ConflictKind
	Location         string
	Severity         uint8
	StrategyHint     Strategy
	AutoResolvable   bool
	Resolved         bool
}

// detectModuleConflicts compares an attempted version against the
// current committed version of a module, returning every applicable
// conflict kind. Deprecated/Security flags "always raise" per §4.3
// regardless of any version-skew conflict also matching, so these
// checks accumulate rather than short-circuit on the first match.
func detectModuleConflicts(moduleID registry.ID, current, attempted registry.Version) []Conflict {
	var conflicts []Conflict

	switch {
	case attempted.Major != current.Major:
		conflicts = append(conflicts, Conflict{
			ModuleID: moduleID, CurrentVersion: current, AttemptedVersion: attempted,
			Kind: MajorBreaking, Severity: 192, AutoResolvable: false,
			Location: fmt.Sprintf("module %d major version", moduleID),
		})
	case attempted.Minor < current.Minor:
		conflicts = append(conflicts, Conflict{
			ModuleID: moduleID, CurrentVersion: current, AttemptedVersion: attempted,
			Kind: MinorIncompatible, Severity: 128, AutoResolvable: true, StrategyHint: KeepCurrent,
			Location: fmt.Sprintf("module %d minor version", moduleID),
		})
	case attempted.Patch < current.Patch:
		conflicts = append(conflicts, Conflict{
			ModuleID: moduleID, CurrentVersion: current, AttemptedVersion: attempted,
			Kind: PatchDivergent, Severity: 64, AutoResolvable: true,
			Location: fmt.Sprintf("module %d patch version", moduleID),
		})
	}

	// Deprecated/Security flags are unconditional: they raise their own
	// conflict no matter what (if anything) the version comparison above
	// already found.
	if attempted.Flags.Has(registry.FlagSecurity) {
		conflicts = append(conflicts, Conflict{
			ModuleID: moduleID, CurrentVersion: current, AttemptedVersion: attempted,
			Kind: DeprecatedOrSecurity, Severity: 255, AutoResolvable: false,
			Location: fmt.Sprintf("module %d security flag", moduleID),
		})
	} else if attempted.Flags.Has(registry.FlagDeprecated) {
		conflicts = append(conflicts, Conflict{
			ModuleID: moduleID, CurrentVersion: current, AttemptedVersion: attempted,
			Kind: DeprecatedOrSecurity, Severity: 96, AutoResolvable: true,
			Location: fmt.Sprintf("module %d deprecated flag", moduleID),
		})
	}

	return conflicts
}

// resolvable reports whether strategy can auto-resolve c, honoring the
// rule that Security conflicts are never auto-resolvable with AutoMerge.
func resolvable(c Conflict, strategy Strategy) bool {
	if !c.AutoResolvable {
		return strategy == OverrideNew
	}
	if c.Kind == DeprecatedOrSecurity && c.Severity == 255 && strategy == AutoMerge {
		return false
	}
	switch strategy {
	case KeepCurrent, AutoMerge, OverrideNew:
		return true
	default:
		return false
	}
}
