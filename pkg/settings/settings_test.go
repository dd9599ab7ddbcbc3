package settings

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rolltable/rolltable.go/pkg/authority"
	"github.com/rolltable/rolltable.go/pkg/document"
	"github.com/rolltable/rolltable.go/pkg/logger"
	"github.com/rolltable/rolltable.go/pkg/pipeline"
	"github.com/rolltable/rolltable.go/pkg/schema"
	"github.com/rolltable/rolltable.go/pkg/world"
)

type settingStore struct {
	types *document.Types
	col   *world.Collection
}

func (s *settingStore) Types() *document.Types { return s.types }

func (s *settingStore) Collection(typeName string) (pipeline.DocumentStore, bool) {
	if typeName != TypeName {
		return nil, false
	}
	return s.col, true
}

func newRegistry(t *testing.T) (*Registry, *authority.Authority) {
	t.Helper()
	types := document.NewTypes()
	require.NoError(t, types.Register(&document.Type{
		Name: TypeName,
		Schema: schema.Schema{
			"key":   &schema.StringField{FieldOptions: schema.FieldOptions{Required: true}},
			"value": &schema.AnyField{FieldOptions: schema.FieldOptions{Nullable: true}},
		},
	}))

	auth := authority.New(authority.AuthorityParams{Logger: logger.Nop{}})
	ch := authority.NewLoopback(authority.LoopbackParams{
		Authority: auth,
		UserID:    "gm",
		Logger:    logger.Nop{},
	})
	require.NoError(t, ch.Connect(context.Background()))
	t.Cleanup(func() { _ = ch.Close(context.Background()) })

	store := &settingStore{types: types, col: world.NewCollection(TypeName)}
	pipe := pipeline.New(pipeline.Params{
		Channel: ch,
		Logger:  logger.Nop{},
		User:    document.User{ID: "gm", GM: true},
		Store:   store,
	})
	return NewRegistry(pipe, store.col), auth
}

func TestUnknownKeyErrors(t *testing.T) {
	r, _ := newRegistry(t)
	_, err := r.Get("core", "missing")
	assert.Error(t, err)
	assert.Error(t, r.Set(context.Background(), "core", "missing", true))
}

func TestDefaultBeforeFirstWrite(t *testing.T) {
	r, _ := newRegistry(t)
	require.NoError(t, r.Register("core", "gridless", Descriptor{Kind: KindBool, Default: false}))

	v, err := r.Get("core", "gridless")
	require.NoError(t, err)
	assert.Equal(t, false, v)
}

func TestSetCreatesThenUpdates(t *testing.T) {
	r, auth := newRegistry(t)
	require.NoError(t, r.Register("core", "gridSize", Descriptor{Kind: KindInt, Default: int64(100)}))

	require.NoError(t, r.Set(context.Background(), "core", "gridSize", 150))
	v, err := r.Get("core", "gridSize")
	require.NoError(t, err)
	assert.Equal(t, int64(150), v)
	require.Len(t, auth.Records(TypeName), 1)

	require.NoError(t, r.Set(context.Background(), "core", "gridSize", 200))
	v, err = r.Get("core", "gridSize")
	require.NoError(t, err)
	assert.Equal(t, int64(200), v)
	assert.Len(t, auth.Records(TypeName), 1, "second write updates in place")
}

func TestKindMismatchRejected(t *testing.T) {
	r, _ := newRegistry(t)
	require.NoError(t, r.Register("core", "gridless", Descriptor{Kind: KindBool, Default: false}))
	assert.Error(t, r.Set(context.Background(), "core", "gridless", "yes"))
}

func TestStringChoices(t *testing.T) {
	r, _ := newRegistry(t)
	require.NoError(t, r.Register("core", "visibility", Descriptor{
		Kind: KindString, Default: "fog", Choices: []string{"fog", "clear", "dark"},
	}))

	require.NoError(t, r.Set(context.Background(), "core", "visibility", "clear"))
	assert.Error(t, r.Set(context.Background(), "core", "visibility", "opaque"))
}

func TestRecordSetting(t *testing.T) {
	r, _ := newRegistry(t)
	require.NoError(t, r.Register("core", "combat", Descriptor{
		Kind:    KindRecord,
		Default: map[string]any{"skipDefeated": false},
	}))

	require.NoError(t, r.Set(context.Background(), "core", "combat", map[string]any{"skipDefeated": true}))
	v, err := r.Get("core", "combat")
	require.NoError(t, err)
	assert.Equal(t, true, v.(map[string]any)["skipDefeated"])
}
