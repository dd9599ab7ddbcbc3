package pipeline

import (
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rolltable/rolltable.go/pkg/authority"
	"github.com/rolltable/rolltable.go/pkg/document"
	"github.com/rolltable/rolltable.go/pkg/logger"
	"github.com/rolltable/rolltable.go/pkg/schema"
)

// memStore is the in-memory root collection used by pipeline tests.
type memStore struct {
	docs map[string]*document.Document
}

func newMemStore() *memStore {
	return &memStore{docs: make(map[string]*document.Document)}
}

func (s *memStore) Get(id string) (*document.Document, bool) {
	d, ok := s.docs[id]
	return d, ok
}

func (s *memStore) Insert(d *document.Document) { s.docs[d.ID()] = d }
func (s *memStore) Remove(id string)            { delete(s.docs, id) }

func (s *memStore) Contents() []*document.Document {
	out := make([]*document.Document, 0, len(s.docs))
	for _, d := range s.docs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

type testStore struct {
	types *document.Types
	cols  map[string]*memStore
}

func (s *testStore) Types() *document.Types { return s.types }

func (s *testStore) Collection(typeName string) (DocumentStore, bool) {
	col, ok := s.cols[typeName]
	return col, ok
}

func newTestTypes(t *testing.T) *document.Types {
	t.Helper()
	types := document.NewTypes()
	require.NoError(t, types.Register(&document.Type{
		Name: "actor",
		Schema: schema.Schema{
			"name": &schema.StringField{FieldOptions: schema.FieldOptions{Required: true}},
			"hp":   &schema.NumberField{Integer: true, FieldOptions: schema.FieldOptions{Default: int64(10)}},
		},
		Hierarchy: map[string]string{"items": "item"},
	}))
	require.NoError(t, types.Register(&document.Type{
		Name: "item",
		Schema: schema.Schema{
			"name":     &schema.StringField{FieldOptions: schema.FieldOptions{Required: true}},
			"quantity": &schema.NumberField{Integer: true, FieldOptions: schema.FieldOptions{Default: int64(1)}},
		},
	}))
	return types
}

var testHierarchy = authority.Hierarchy{"actor": {"item": "items"}}

// fixture wires one pipeline to a fresh authority over a loopback channel.
type fixture struct {
	auth     *authority.Authority
	store    *testStore
	pipeline *Pipeline
}

func newFixture(t *testing.T, user document.User) *fixture {
	t.Helper()
	auth := authority.New(authority.AuthorityParams{
		Hierarchy: testHierarchy,
		Logger:    logger.Nop{},
	})
	return attach(t, auth, user)
}

func attach(t *testing.T, auth *authority.Authority, user document.User) *fixture {
	t.Helper()
	ch := authority.NewLoopback(authority.LoopbackParams{
		Authority: auth,
		UserID:    user.ID,
		Logger:    logger.Nop{},
	})
	require.NoError(t, ch.Connect(context.Background()))
	t.Cleanup(func() { _ = ch.Close(context.Background()) })

	store := &testStore{
		types: newTestTypes(t),
		cols:  map[string]*memStore{"actor": newMemStore(), "item": newMemStore()},
	}
	return &fixture{
		auth:  auth,
		store: store,
		pipeline: New(Params{
			Channel: ch,
			Logger:  logger.Nop{},
			User:    user,
			Store:   store,
		}),
	}
}

func TestCreateRootDocument(t *testing.T) {
	f := newFixture(t, document.User{ID: "gm", GM: true})

	docs, err := f.pipeline.Create(context.Background(), "actor", []map[string]any{
		{"name": "Bandit"},
	}, CreateOptions{})
	require.NoError(t, err)
	require.Len(t, docs, 1)

	d := docs[0]
	assert.NotEmpty(t, d.ID())
	assert.Equal(t, "Bandit", d.Get("name"))
	assert.Equal(t, int64(10), d.Get("hp"), "default applied")
	assert.Equal(t, "gm", d.Stats().LastModifiedBy)
	assert.Equal(t, document.LevelOwner, d.Ownership().Effective(document.User{ID: "gm"}))

	stored, ok := f.store.cols["actor"].Get(d.ID())
	require.True(t, ok, "bound into the root collection")
	assert.Same(t, d, stored)

	records := f.auth.Records("actor")
	require.Len(t, records, 1)
	assert.Equal(t, d.ID(), records[0]["_id"])
}

func TestCreateEmbedded(t *testing.T) {
	f := newFixture(t, document.User{ID: "gm", GM: true})

	actors, err := f.pipeline.Create(context.Background(), "actor", []map[string]any{
		{"name": "Bandit"},
	}, CreateOptions{})
	require.NoError(t, err)
	actor := actors[0]

	items, err := f.pipeline.Create(context.Background(), "item", []map[string]any{
		{"name": "Dagger"},
	}, CreateOptions{ParentUUID: actor.UUID()})
	require.NoError(t, err)
	require.Len(t, items, 1)

	item := items[0]
	assert.Same(t, actor, item.Parent())
	assert.Equal(t, actor.UUID()+".item."+item.ID(), item.UUID())

	col, ok := actor.Collection("items")
	require.True(t, ok)
	_, ok = col.Get(item.ID())
	assert.True(t, ok, "inserted into the parent's embedded collection")
}

func TestCreateValidationFailureSendsNothing(t *testing.T) {
	f := newFixture(t, document.User{ID: "gm", GM: true})

	_, err := f.pipeline.Create(context.Background(), "actor", []map[string]any{
		{"hp": 5},
	}, CreateOptions{})

	var vErr *schema.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Contains(t, vErr.Failures, "name")
	assert.Empty(t, f.auth.Records("actor"), "nothing reached the authority")
}

func TestCreatePermissionDeniedForPlayerRoot(t *testing.T) {
	f := newFixture(t, document.User{ID: "p1"})

	_, err := f.pipeline.Create(context.Background(), "actor", []map[string]any{
		{"name": "Bandit"},
	}, CreateOptions{})

	var pErr *document.PermissionError
	require.ErrorAs(t, err, &pErr)
	assert.Equal(t, "create", pErr.Action)
	assert.Empty(t, f.auth.Records("actor"))
}

func TestUpdateAppliesDiffOnly(t *testing.T) {
	f := newFixture(t, document.User{ID: "gm", GM: true})

	docs, err := f.pipeline.Create(context.Background(), "actor", []map[string]any{
		{"name": "Bandit", "hp": 12},
	}, CreateOptions{})
	require.NoError(t, err)
	d := docs[0]

	updated, err := f.pipeline.Update(context.Background(), "actor", []map[string]any{
		{"_id": d.ID(), "name": "Bandit", "hp": 7},
	}, UpdateOptions{})
	require.NoError(t, err)
	require.Len(t, updated, 1)
	assert.Equal(t, int64(7), d.Get("hp"))

	records := f.auth.Records("actor")
	require.Len(t, records, 1)
	assert.EqualValues(t, 7, records[0]["hp"])
}

func TestUpdateNoOpSkipsSend(t *testing.T) {
	f := newFixture(t, document.User{ID: "gm", GM: true})

	docs, err := f.pipeline.Create(context.Background(), "actor", []map[string]any{
		{"name": "Bandit", "hp": 12},
	}, CreateOptions{})
	require.NoError(t, err)
	d := docs[0]
	before := d.Stats().ModifiedTime

	updated, err := f.pipeline.Update(context.Background(), "actor", []map[string]any{
		{"_id": d.ID(), "name": "Bandit", "hp": 12},
	}, UpdateOptions{})
	require.NoError(t, err)
	assert.Empty(t, updated, "identical data produces no operation")
	assert.Equal(t, before, d.Stats().ModifiedTime)
}

func TestUpdateUnknownTargetIsStale(t *testing.T) {
	f := newFixture(t, document.User{ID: "gm", GM: true})

	_, err := f.pipeline.Update(context.Background(), "actor", []map[string]any{
		{"_id": "ghost", "hp": 1},
	}, UpdateOptions{})

	var sErr *document.StaleDocumentError
	require.ErrorAs(t, err, &sErr)
	assert.Equal(t, "ghost", sErr.ID)
}

func TestUpdateBatchAllOrNothing(t *testing.T) {
	f := newFixture(t, document.User{ID: "gm", GM: true})
	docs, err := f.pipeline.Create(context.Background(), "actor", []map[string]any{
		{"name": "One"}, {"name": "Two"},
	}, CreateOptions{})
	require.NoError(t, err)

	// Second pipeline as a player with no ownership on either actor.
	player := attach(t, f.auth, document.User{ID: "p1"})
	seedLocal(t, player, f.auth)

	_, err = player.pipeline.Update(context.Background(), "actor", []map[string]any{
		{"_id": docs[0].ID(), "hp": 1},
		{"_id": docs[1].ID(), "hp": 1},
	}, UpdateOptions{})

	var pErr *document.PermissionError
	require.ErrorAs(t, err, &pErr)
	for _, record := range f.auth.Records("actor") {
		assert.EqualValues(t, 10, record["hp"], "no partial application")
	}
}

// seedLocal copies the authority's actor records into a fixture's local
// store, the way a session sync would.
func seedLocal(t *testing.T, f *fixture, auth *authority.Authority) {
	t.Helper()
	for _, record := range auth.Records("actor") {
		d, err := f.store.types.New("actor", record, nil)
		require.NoError(t, err)
		f.store.cols["actor"].Insert(d)
	}
}

func TestDeleteRemovesLocallyAndRemotely(t *testing.T) {
	f := newFixture(t, document.User{ID: "gm", GM: true})

	docs, err := f.pipeline.Create(context.Background(), "actor", []map[string]any{
		{"name": "Bandit", "items": []any{map[string]any{"name": "Dagger"}}},
	}, CreateOptions{})
	require.NoError(t, err)
	d := docs[0]
	col, _ := d.Collection("items")
	child := col.Contents()[0]

	deleted, err := f.pipeline.Delete(context.Background(), "actor", []string{d.ID()}, DeleteOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{d.ID()}, deleted)

	assert.True(t, d.Deleted())
	assert.True(t, child.Deleted(), "embedded children cascade")
	_, ok := f.store.cols["actor"].Get(d.ID())
	assert.False(t, ok)
	assert.Empty(t, f.auth.Records("actor"))
}

func TestDeleteAllEmbedded(t *testing.T) {
	f := newFixture(t, document.User{ID: "gm", GM: true})

	docs, err := f.pipeline.Create(context.Background(), "actor", []map[string]any{
		{"name": "Bandit", "items": []any{
			map[string]any{"name": "Dagger"},
			map[string]any{"name": "Rope"},
		}},
	}, CreateOptions{})
	require.NoError(t, err)
	d := docs[0]

	deleted, err := f.pipeline.Delete(context.Background(), "item", nil, DeleteOptions{
		DeleteAll:  true,
		ParentUUID: d.UUID(),
	})
	require.NoError(t, err)
	assert.Len(t, deleted, 2)

	col, _ := d.Collection("items")
	assert.Zero(t, col.Size())
}

func TestPreUpdateHookVeto(t *testing.T) {
	f := newFixture(t, document.User{ID: "gm", GM: true})
	typ, _ := f.store.types.Get("actor")
	typ.Hooks.PreUpdate = func(d *document.Document, changes map[string]any, u document.User) error {
		return errors.New("locked during combat")
	}

	docs, err := f.pipeline.Create(context.Background(), "actor", []map[string]any{
		{"name": "Bandit"},
	}, CreateOptions{})
	require.NoError(t, err)

	_, err = f.pipeline.Update(context.Background(), "actor", []map[string]any{
		{"_id": docs[0].ID(), "hp": 3},
	}, UpdateOptions{})
	require.ErrorIs(t, err, document.ErrHookVetoed)
	assert.Equal(t, int64(10), docs[0].Get("hp"))
}

func TestGetIndex(t *testing.T) {
	f := newFixture(t, document.User{ID: "gm", GM: true})
	_, err := f.pipeline.Create(context.Background(), "actor", []map[string]any{
		{"name": "One", "hp": 1},
		{"name": "Two", "hp": 2},
	}, CreateOptions{})
	require.NoError(t, err)

	records, err := f.pipeline.Get(context.Background(), "actor", GetOptions{
		Index:       true,
		IndexFields: []string{"name"},
	})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "One", records[0]["name"])
	_, hasHP := records[0]["hp"]
	assert.False(t, hasHP, "index entries carry only requested fields")
}

func TestBroadcastReplayCreateUpdateDelete(t *testing.T) {
	auth := authority.New(authority.AuthorityParams{
		Hierarchy: testHierarchy,
		Logger:    logger.Nop{},
	})
	gm := attach(t, auth, document.User{ID: "gm", GM: true})
	peer := attach(t, auth, document.User{ID: "p1"})
	peerCh := peer.pipeline.ch

	docs, err := gm.pipeline.Create(context.Background(), "actor", []map[string]any{
		{"name": "Bandit"},
	}, CreateOptions{})
	require.NoError(t, err)
	d := docs[0]

	n := <-peerCh.Notifications()
	require.Equal(t, "create", n.Method)
	require.NoError(t, peer.pipeline.ApplyBroadcast(n))
	replica, ok := peer.store.cols["actor"].Get(d.ID())
	require.True(t, ok, "peer materialized the broadcast create")
	assert.Equal(t, "Bandit", replica.Get("name"))

	_, err = gm.pipeline.Update(context.Background(), "actor", []map[string]any{
		{"_id": d.ID(), "hp": 3},
	}, UpdateOptions{})
	require.NoError(t, err)

	n = <-peerCh.Notifications()
	require.Equal(t, "update", n.Method)
	require.NoError(t, peer.pipeline.ApplyBroadcast(n))
	assert.Equal(t, int64(3), replica.Get("hp"))

	_, err = gm.pipeline.Delete(context.Background(), "actor", []string{d.ID()}, DeleteOptions{})
	require.NoError(t, err)

	n = <-peerCh.Notifications()
	require.Equal(t, "delete", n.Method)
	require.NoError(t, peer.pipeline.ApplyBroadcast(n))
	assert.True(t, replica.Deleted())
	_, ok = peer.store.cols["actor"].Get(d.ID())
	assert.False(t, ok)
}

func TestSilentSuppressesBroadcast(t *testing.T) {
	auth := authority.New(authority.AuthorityParams{
		Hierarchy: testHierarchy,
		Logger:    logger.Nop{},
	})
	gm := attach(t, auth, document.User{ID: "gm", GM: true})
	peer := attach(t, auth, document.User{ID: "p1"})

	_, err := gm.pipeline.Create(context.Background(), "actor", []map[string]any{
		{"name": "Hidden"},
	}, CreateOptions{Silent: true})
	require.NoError(t, err)

	select {
	case n := <-peer.pipeline.ch.Notifications():
		t.Fatalf("unexpected notification %q", n.Method)
	default:
	}
}
