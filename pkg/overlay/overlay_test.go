package overlay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rolltable/rolltable.go/pkg/document"
	"github.com/rolltable/rolltable.go/pkg/logger"
	"github.com/rolltable/rolltable.go/pkg/schema"
)

func newBase(t *testing.T) (*document.Types, *document.Document) {
	t.Helper()
	types := document.NewTypes()
	require.NoError(t, types.Register(&document.Type{
		Name: "actor",
		Schema: schema.Schema{
			"name": &schema.StringField{FieldOptions: schema.FieldOptions{Required: true}},
			"hp": &schema.SchemaField{Schema: schema.Schema{
				"value": &schema.NumberField{Integer: true, FieldOptions: schema.FieldOptions{Default: int64(10)}},
				"max":   &schema.NumberField{Integer: true, FieldOptions: schema.FieldOptions{Default: int64(10)}},
			}},
		},
	}))
	base, err := types.New("actor", map[string]any{
		"_id":  "a1",
		"name": "Bandit",
	}, nil)
	require.NoError(t, err)
	return types, base
}

func TestEmptyOverrideIsValueIdentical(t *testing.T) {
	types, base := newBase(t)

	c, err := New(Params{Types: types, Logger: logger.Nop{}, Base: base, PlaceableID: "t1"})
	require.NoError(t, err)

	synthetic := c.Synthetic()
	assert.Equal(t, base.Source(), synthetic.Source())
	assert.Equal(t, "t1", synthetic.ID(), "override id derives from the placeable, not the base")
}

func TestSyntheticDoesNotAliasBase(t *testing.T) {
	types, base := newBase(t)

	c, err := New(Params{Types: types, Logger: logger.Nop{}, Base: base, PlaceableID: "t1"})
	require.NoError(t, err)

	synthetic := c.Synthetic()
	synthetic.Source()["hp"].(map[string]any)["value"] = int64(1)
	assert.Equal(t, int64(10), base.Get("hp.value"), "base untouched by synthetic mutation")
}

func TestOverrideMergesSparsely(t *testing.T) {
	types, base := newBase(t)

	c, err := New(Params{
		Types: types, Logger: logger.Nop{}, Base: base, PlaceableID: "t1",
		Override: map[string]any{"hp": map[string]any{"value": int64(3)}},
	})
	require.NoError(t, err)

	synthetic := c.Synthetic()
	assert.Equal(t, int64(3), synthetic.Get("hp.value"))
	assert.Equal(t, int64(10), synthetic.Get("hp.max"), "untouched nested key survives")
	assert.Equal(t, "Bandit", synthetic.Get("name"))
}

func TestFirstEditOnFreshOverride(t *testing.T) {
	types, base := newBase(t)

	// A fresh unlinked placeable starts with no override at all.
	c, err := New(Params{Types: types, Logger: logger.Nop{}, Base: base, PlaceableID: "t1"})
	require.NoError(t, err)

	require.NoError(t, c.ApplyOverride(map[string]any{"hp": map[string]any{"value": int64(7)}}))

	assert.Equal(t, int64(7), c.Synthetic().Get("hp.value"))
	assert.Equal(t, int64(10), base.Get("hp.value"), "base untouched")
	assert.Equal(t, map[string]any{"hp": map[string]any{"value": int64(7)}}, c.Override())
}

func TestRecomputeFollowsBaseUpdates(t *testing.T) {
	types, base := newBase(t)

	c, err := New(Params{
		Types: types, Logger: logger.Nop{}, Base: base, PlaceableID: "t1",
		Override: map[string]any{"hp": map[string]any{"value": int64(3)}},
	})
	require.NoError(t, err)

	require.NoError(t, base.ApplyUpdate(map[string]any{
		"name": "Bandit Chief",
		"hp":   map[string]any{"max": int64(20)},
	}, document.User{ID: "gm", GM: true}))

	synthetic := c.Synthetic()
	assert.Equal(t, "Bandit Chief", synthetic.Get("name"))
	assert.Equal(t, int64(20), synthetic.Get("hp.max"))
	assert.Equal(t, int64(3), synthetic.Get("hp.value"), "override still wins its keys")
}

func TestLinkedMirrorsBase(t *testing.T) {
	types, base := newBase(t)

	c, err := New(Params{Types: types, Logger: logger.Nop{}, Base: base, PlaceableID: "t1", Linked: true})
	require.NoError(t, err)

	assert.Same(t, base, c.Synthetic())
	assert.Error(t, c.ApplyOverride(map[string]any{"name": "x"}))
}
