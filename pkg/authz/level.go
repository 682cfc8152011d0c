package authz

import (
	"strings"
)

// PermissionLevel is the coarse role assigned to a user. Levels are totally
// ordered: User < Editor < Admin.
type PermissionLevel int

const (
	LevelUser   PermissionLevel = 1
	LevelEditor PermissionLevel = 2
	LevelAdmin  PermissionLevel = 3
)

// PermissionLevels lists every defined level in ascending order.
var PermissionLevels = []PermissionLevel{LevelUser, LevelEditor, LevelAdmin}

var permissionLevelNames = map[PermissionLevel]string{
	LevelUser:   "user",
	LevelEditor: "editor",
	LevelAdmin:  "admin",
}

// Valid reports whether l is one of the defined levels.
func (l PermissionLevel) Valid() bool {
	_, ok := permissionLevelNames[l]
	return ok
}

// String returns the wire name of the level
func (l PermissionLevel) String() string {
	if name, ok := permissionLevelNames[l]; ok {
		return name
	}
	return "unknown"
}

// AtLeast reports whether l satisfies the required level.
func (l PermissionLevel) AtLeast(required PermissionLevel) bool {
	return l >= required
}

// MarshalText implements encoding.TextMarshaler
func (l PermissionLevel) MarshalText() ([]byte, error) {
	if !l.Valid() {
		return nil, validationf("marshal", "undefined permission level %d", int(l))
	}
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (l *PermissionLevel) UnmarshalText(text []byte) error {
	parsed, err := ParsePermissionLevel(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// ParsePermissionLevel parses a level name such as "editor".
func ParsePermissionLevel(s string) (PermissionLevel, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for level, n := range permissionLevelNames {
		if n == name {
			return level, nil
		}
	}
	return 0, validationf("parse level", "unknown permission level %q", s)
}

// ShareLevel is the access granted to a non-owner through a ShareEntry.
// Levels are totally ordered: View < Edit < Admin.
type ShareLevel int

const (
	ShareView  ShareLevel = 1
	ShareEdit  ShareLevel = 2
	ShareAdmin ShareLevel = 3
)

// ShareLevels lists every defined share level in ascending order.
var ShareLevels = []ShareLevel{ShareView, ShareEdit, ShareAdmin}

var shareLevelNames = map[ShareLevel]string{
	ShareView:  "view",
	ShareEdit:  "edit",
	ShareAdmin: "admin",
}

// Valid reports whether l is one of the defined share levels.
func (l ShareLevel) Valid() bool {
	_, ok := shareLevelNames[l]
	return ok
}

// String returns the wire name of the share level
func (l ShareLevel) String() string {
	if name, ok := shareLevelNames[l]; ok {
		return name
	}
	return "unknown"
}

// Satisfies reports whether a grant at l meets the required level.
func (l ShareLevel) Satisfies(required ShareLevel) bool {
	return l >= required
}

// MarshalText implements encoding.TextMarshaler
func (l ShareLevel) MarshalText() ([]byte, error) {
	if !l.Valid() {
		return nil, validationf("marshal", "undefined share level %d", int(l))
	}
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (l *ShareLevel) UnmarshalText(text []byte) error {
	parsed, err := ParseShareLevel(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// ParseShareLevel parses a share level name such as "edit".
func ParseShareLevel(s string) (ShareLevel, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for level, n := range shareLevelNames {
		if n == name {
			return level, nil
		}
	}
	return 0, validationf("parse share level", "unknown share level %q", s)
}
