package document

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEffectiveLevelResolution(t *testing.T) {
	o := Ownership{
		DefaultOwnershipKey: LevelObserver,
		"u1":                LevelOwner,
	}

	assert.Equal(t, LevelOwner, o.Effective(User{ID: "u1"}))
	assert.Equal(t, LevelObserver, o.Effective(User{ID: "u2"}), "unknown users fall back to default")
	assert.Equal(t, LevelOwner, o.Effective(User{ID: "u3", GM: true}), "GM is always owner")
}

func TestEffectiveLevelIsMaximum(t *testing.T) {
	// An explicit entry below the default never lowers the effective level.
	o := Ownership{
		DefaultOwnershipKey: LevelObserver,
		"u1":                LevelLimited,
	}
	assert.Equal(t, LevelObserver, o.Effective(User{ID: "u1"}))
}

func TestApplyEditInheritClearsEntry(t *testing.T) {
	o := Ownership{
		DefaultOwnershipKey: LevelNone,
		"u1":                LevelOwner,
	}
	edited := o.ApplyEdit(map[string]Level{
		"u1": LevelInherit,
		"u2": LevelLimited,
	})

	_, hasU1 := edited["u1"]
	assert.False(t, hasU1, "INHERIT removes the explicit entry")
	assert.Equal(t, LevelLimited, edited["u2"])
	assert.Equal(t, LevelOwner, o["u1"], "original map untouched")
}

func TestDecodeOwnershipDropsSentinel(t *testing.T) {
	o := decodeOwnership(map[string]any{
		"default": int64(2),
		"u1":      float64(3),
		"u2":      int64(-1),
		"junk":    "nope",
	})
	assert.Equal(t, LevelObserver, o[DefaultOwnershipKey])
	assert.Equal(t, LevelOwner, o["u1"])
	_, hasU2 := o["u2"]
	assert.False(t, hasU2, "INHERIT never persists")
	_, hasJunk := o["junk"]
	assert.False(t, hasJunk)
}
