package authz

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBaseTableIsMonotonic(t *testing.T) {
	require.NoError(t, checkBaseTable())

	for i := 1; i < len(PermissionLevels); i++ {
		lower, err := BaseCapabilities(PermissionLevels[i-1])
		require.NoError(t, err)
		higher, err := BaseCapabilities(PermissionLevels[i])
		require.NoError(t, err)
		for _, c := range lower.List() {
			assert.True(t, higher.Has(c), "%s has %s but %s does not", PermissionLevels[i-1], c, PermissionLevels[i])
		}
	}
}

func TestBaseCapabilities_UndefinedLevel(t *testing.T) {
	_, err := BaseCapabilities(PermissionLevel(9))
	assert.True(t, errors.Is(err, ErrValidation))
	assert.False(t, CanPerform(PermissionLevel(0), Overrides{CapViewOwnJobs: true}, CapViewOwnJobs),
		"an undefined level never performs anything, overrides included")
}

func TestMergeOverrides_NoOpLaw(t *testing.T) {
	for _, level := range PermissionLevels {
		base, _ := BaseCapabilities(level)
		assert.Equal(t, base, MergeOverrides(base, Overrides{}))
		assert.Equal(t, base, MergeOverrides(base, nil))
	}
}

func TestMergeOverrides_FlipLaw(t *testing.T) {
	for _, level := range PermissionLevels {
		base, _ := BaseCapabilities(level)
		for _, c := range Capabilities() {
			merged := MergeOverrides(base, Overrides{c: !base.Has(c)})
			assert.Equal(t, []Capability{c}, (merged ^ base).List(), "level %s flip %s", level, c)
		}
	}
}

func TestCanPerform_OverrideTouchesOnlyNamedCapability(t *testing.T) {
	overrides := Overrides{CapViewAllJobs: true}
	assert.True(t, CanPerform(LevelUser, overrides, CapViewAllJobs))
	assert.False(t, CanPerform(LevelUser, overrides, CapManageUsers))
	assert.True(t, CanPerform(LevelUser, overrides, CapCreateJobs))

	revoked := Overrides{CapExportJobs: false}
	assert.False(t, CanPerform(LevelAdmin, revoked, CapExportJobs))
	assert.True(t, CanPerform(LevelAdmin, revoked, CapManageSystem))
}

func TestParseCapability(t *testing.T) {
	c, err := ParseCapability(" Manage-Users ")
	require.NoError(t, err)
	assert.Equal(t, CapManageUsers, c)

	_, err = ParseCapability("launch-rockets")
	assert.True(t, errors.Is(err, ErrValidation))

	for _, c := range Capabilities() {
		parsed, err := ParseCapability(c.String())
		require.NoError(t, err)
		assert.Equal(t, c, parsed)
	}
}

func TestParseOverrides(t *testing.T) {
	o, err := ParseOverrides(map[string]bool{"view-all-jobs": true, "export-jobs": false})
	require.NoError(t, err)
	assert.Equal(t, Overrides{CapViewAllJobs: true, CapExportJobs: false}, o)
	assert.Equal(t, map[string]bool{"view-all-jobs": true, "export-jobs": false}, o.Raw())

	_, err = ParseOverrides(map[string]bool{"nope": true})
	assert.True(t, errors.Is(err, ErrValidation))
}

func TestOverridesJSONUsesNames(t *testing.T) {
	raw, err := json.Marshal(Overrides{CapManagePrompts: true})
	require.NoError(t, err)
	assert.JSONEq(t, `{"manage-prompts":true}`, string(raw))

	var back Overrides
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, Overrides{CapManagePrompts: true}, back)

	assert.Error(t, json.Unmarshal([]byte(`{"fly":true}`), &back))
}

func TestCapabilitySetOps(t *testing.T) {
	s := NewCapabilitySet(CapViewOwnJobs, CapShareJobs)
	assert.Equal(t, 2, s.Len())
	assert.True(t, s.With(CapManageUsers).Has(CapManageUsers))
	assert.False(t, s.Without(CapShareJobs).Has(CapShareJobs))
	assert.True(t, s.With(CapManageUsers).Contains(s))
	assert.Equal(t, []Capability{CapShareJobs}, s.Diff(NewCapabilitySet(CapViewOwnJobs)))
	assert.Equal(t, []string{"view-own-jobs", "share-jobs"}, s.Names())
}

func TestCapabilityCatalog(t *testing.T) {
	catalog := CapabilityCatalog()
	require.Len(t, catalog, len(Capabilities()))

	byName := make(map[string]CapabilityInfo, len(catalog))
	for _, info := range catalog {
		byName[info.Name] = info
	}
	assert.Equal(t, LevelUser, byName["create-jobs"].MinLevel)
	assert.Equal(t, LevelEditor, byName["view-analytics"].MinLevel)
	assert.Equal(t, LevelAdmin, byName["manage-users"].MinLevel)
}

func TestLevels(t *testing.T) {
	l, err := ParsePermissionLevel("EDITOR")
	require.NoError(t, err)
	assert.Equal(t, LevelEditor, l)
	assert.True(t, LevelAdmin.AtLeast(LevelEditor))
	assert.False(t, LevelUser.AtLeast(LevelEditor))

	_, err = ParsePermissionLevel("superuser")
	assert.True(t, errors.Is(err, ErrValidation))

	sl, err := ParseShareLevel("edit")
	require.NoError(t, err)
	assert.True(t, sl.Satisfies(ShareView))
	assert.False(t, sl.Satisfies(ShareAdmin))

	_, err = PermissionLevel(7).MarshalText()
	assert.Error(t, err)
}
