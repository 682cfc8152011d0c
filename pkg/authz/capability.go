package authz

import (
	"fmt"
	"math/bits"
	"sort"
	"strings"
)

// Capability is an independently grantable permission.
type Capability uint8

const (
	CapViewOwnJobs Capability = iota
	CapCreateJobs
	CapExportJobs
	CapShareJobs
	CapEditSharedJobs
	CapViewAnalytics
	CapManagePrompts
	CapViewAllJobs
	CapRestoreJobs
	CapManageUsers
	CapManageSystem

	numCapabilities
)

// CapabilityInfo describes a capability for admin tooling.
type CapabilityInfo struct {
	Name     string          `json:"name"`
	Label    string          `json:"label"`
	Category string          `json:"category"`
	MinLevel PermissionLevel `json:"min_level"`
}

var capabilityInfo = [numCapabilities]struct {
	name     string
	label    string
	category string
}{
	CapViewOwnJobs:    {"view-own-jobs", "View own jobs", "jobs"},
	CapCreateJobs:     {"create-jobs", "Create jobs", "jobs"},
	CapExportJobs:     {"export-jobs", "Export transcripts", "jobs"},
	CapShareJobs:      {"share-jobs", "Share own jobs", "collaboration"},
	CapEditSharedJobs: {"edit-shared-jobs", "Edit jobs shared with you", "collaboration"},
	CapViewAnalytics:  {"view-analytics", "View analytics", "analytics"},
	CapManagePrompts:  {"manage-prompts", "Manage prompt templates", "prompts"},
	CapViewAllJobs:    {"view-all-jobs", "View all jobs", "administration"},
	CapRestoreJobs:    {"restore-jobs", "Restore deleted jobs", "administration"},
	CapManageUsers:    {"manage-users", "Manage users and permissions", "administration"},
	CapManageSystem:   {"manage-system", "Manage system settings", "administration"},
}

// Capabilities lists every defined capability in declaration order.
func Capabilities() []Capability {
	caps := make([]Capability, 0, numCapabilities)
	for c := Capability(0); c < numCapabilities; c++ {
		caps = append(caps, c)
	}
	return caps
}

// Valid reports whether c is a defined capability.
func (c Capability) Valid() bool {
	return c < numCapabilities
}

func (c Capability) String() string {
	if !c.Valid() {
		return fmt.Sprintf("capability(%d)", uint8(c))
	}
	return capabilityInfo[c].name
}

// MarshalText implements encoding.TextMarshaler so capabilities can key JSON objects.
func (c Capability) MarshalText() ([]byte, error) {
	if !c.Valid() {
		return nil, validationf("marshal", "undefined capability %d", uint8(c))
	}
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (c *Capability) UnmarshalText(text []byte) error {
	parsed, err := ParseCapability(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// ParseCapability resolves a capability name. Unknown names are rejected.
func ParseCapability(name string) (Capability, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	for c := Capability(0); c < numCapabilities; c++ {
		if capabilityInfo[c].name == n {
			return c, nil
		}
	}
	return 0, validationf("parse capability", "unknown capability %q", name)
}

// CapabilitySet is a bitmask of capabilities.
type CapabilitySet uint32

// NewCapabilitySet builds a set from the given capabilities.
func NewCapabilitySet(caps ...Capability) CapabilitySet {
	var s CapabilitySet
	for _, c := range caps {
		s = s.With(c)
	}
	return s
}

func (s CapabilitySet) Has(c Capability) bool {
	return c.Valid() && s&(1<<c) != 0
}

func (s CapabilitySet) With(c Capability) CapabilitySet {
	if !c.Valid() {
		return s
	}
	return s | 1<<c
}

func (s CapabilitySet) Without(c Capability) CapabilitySet {
	return s &^ (1 << c)
}

// Len returns the number of capabilities in the set.
func (s CapabilitySet) Len() int {
	return bits.OnesCount32(uint32(s))
}

// Contains reports whether every capability in other is also in s.
func (s CapabilitySet) Contains(other CapabilitySet) bool {
	return s&other == other
}

// Diff returns the capabilities present in exactly one of s and other.
func (s CapabilitySet) Diff(other CapabilitySet) []Capability {
	return (s ^ other).List()
}

// List returns the capabilities in declaration order.
func (s CapabilitySet) List() []Capability {
	caps := make([]Capability, 0, s.Len())
	for c := Capability(0); c < numCapabilities; c++ {
		if s.Has(c) {
			caps = append(caps, c)
		}
	}
	return caps
}

// Names returns the wire names of the capabilities in the set.
func (s CapabilitySet) Names() []string {
	list := s.List()
	names := make([]string, len(list))
	for i, c := range list {
		names[i] = c.String()
	}
	return names
}

// baseTable is indexed by PermissionLevel. Index 0 is unused.
var baseTable = [...]CapabilitySet{
	LevelUser: NewCapabilitySet(
		CapViewOwnJobs,
		CapCreateJobs,
		CapExportJobs,
		CapShareJobs,
	),
	LevelEditor: NewCapabilitySet(
		CapViewOwnJobs,
		CapCreateJobs,
		CapExportJobs,
		CapShareJobs,
		CapEditSharedJobs,
		CapViewAnalytics,
		CapManagePrompts,
	),
	LevelAdmin: NewCapabilitySet(
		CapViewOwnJobs,
		CapCreateJobs,
		CapExportJobs,
		CapShareJobs,
		CapEditSharedJobs,
		CapViewAnalytics,
		CapManagePrompts,
		CapViewAllJobs,
		CapRestoreJobs,
		CapManageUsers,
		CapManageSystem,
	),
}

func init() {
	if err := checkBaseTable(); err != nil {
		panic(err)
	}
}

// checkBaseTable verifies every level has an entry and that the table is
// monotonic in level order.
func checkBaseTable() error {
	var prev CapabilitySet
	for i, level := range PermissionLevels {
		if int(level) >= len(baseTable) || baseTable[level] == 0 {
			return fmt.Errorf("authz: no base capabilities for level %s", level)
		}
		if i > 0 && !baseTable[level].Contains(prev) {
			return fmt.Errorf("authz: level %s drops capabilities %v", level, (prev &^ baseTable[level]).Names())
		}
		prev = baseTable[level]
	}
	for c := Capability(0); c < numCapabilities; c++ {
		if capabilityInfo[c].name == "" {
			return fmt.Errorf("authz: capability %d has no name", uint8(c))
		}
	}
	return nil
}

// BaseCapabilities returns the default capability set for a level.
func BaseCapabilities(level PermissionLevel) (CapabilitySet, error) {
	if !level.Valid() {
		return 0, validationf("base capabilities", "undefined permission level %d", int(level))
	}
	return baseTable[level], nil
}

// Overrides maps capabilities to explicit per-user grants or revocations.
type Overrides map[Capability]bool

// ParseOverrides converts a name-keyed override map, rejecting unknown names.
func ParseOverrides(raw map[string]bool) (Overrides, error) {
	out := make(Overrides, len(raw))
	for name, v := range raw {
		c, err := ParseCapability(name)
		if err != nil {
			return nil, err
		}
		out[c] = v
	}
	return out, nil
}

// Raw returns the override map keyed by capability name.
func (o Overrides) Raw() map[string]bool {
	out := make(map[string]bool, len(o))
	for c, v := range o {
		out[c.String()] = v
	}
	return out
}

// Clone returns an independent copy.
func (o Overrides) Clone() Overrides {
	if o == nil {
		return nil
	}
	out := make(Overrides, len(o))
	for c, v := range o {
		out[c] = v
	}
	return out
}

// MergeOverrides applies overrides on top of base. Capabilities not named in
// overrides keep their base value.
func MergeOverrides(base CapabilitySet, overrides Overrides) CapabilitySet {
	merged := base
	for c, granted := range overrides {
		if !c.Valid() {
			continue
		}
		if granted {
			merged = merged.With(c)
		} else {
			merged = merged.Without(c)
		}
	}
	return merged
}

// EffectiveCapabilities resolves the merged capability set for a level.
func EffectiveCapabilities(level PermissionLevel, overrides Overrides) (CapabilitySet, error) {
	base, err := BaseCapabilities(level)
	if err != nil {
		return 0, err
	}
	return MergeOverrides(base, overrides), nil
}

// CanPerform reports whether a user at level with overrides holds capability.
// An undefined level never performs anything.
func CanPerform(level PermissionLevel, overrides Overrides, capability Capability) bool {
	caps, err := EffectiveCapabilities(level, overrides)
	if err != nil {
		return false
	}
	return caps.Has(capability)
}

// minLevel returns the lowest level whose base set includes c, or 0.
func minLevel(c Capability) PermissionLevel {
	for _, level := range PermissionLevels {
		if baseTable[level].Has(c) {
			return level
		}
	}
	return 0
}

// CapabilityCatalog returns the stable, enumerated capability list.
func CapabilityCatalog() []CapabilityInfo {
	catalog := make([]CapabilityInfo, 0, numCapabilities)
	for c := Capability(0); c < numCapabilities; c++ {
		info := capabilityInfo[c]
		catalog = append(catalog, CapabilityInfo{
			Name:     info.name,
			Label:    info.label,
			Category: info.category,
			MinLevel: minLevel(c),
		})
	}
	sort.SliceStable(catalog, func(i, j int) bool {
		return catalog[i].Category < catalog[j].Category
	})
	return catalog
}
