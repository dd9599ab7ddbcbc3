package rolltable

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rolltable/rolltable.go/pkg/authority"
	"github.com/rolltable/rolltable.go/pkg/document"
	"github.com/rolltable/rolltable.go/pkg/logger"
	"github.com/rolltable/rolltable.go/pkg/pipeline"
	"github.com/rolltable/rolltable.go/pkg/region"
	"github.com/rolltable/rolltable.go/pkg/settings"
)

func newGMSession(t *testing.T) *Session {
	t.Helper()
	s, err := NewSession(SessionParams{
		Config: Config{UserID: "gm", UserName: "Game Master", GM: true, Timeout: 5 * time.Second},
		Logger: logger.Nop{},
	})
	require.NoError(t, err)
	require.NoError(t, s.Connect(context.Background()))
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

// joinSession attaches a second session to the GM host's authority, the
// way a connecting player would.
func joinSession(t *testing.T, host *Session, userID string, gm bool) *Session {
	t.Helper()
	ch := authority.NewLoopback(authority.LoopbackParams{
		Authority: host.Authority(),
		UserID:    userID,
		Logger:    logger.Nop{},
	})
	s, err := NewSession(SessionParams{
		Config:  Config{UserID: userID, GM: gm, Timeout: 5 * time.Second},
		Logger:  logger.Nop{},
		Channel: ch,
	})
	require.NoError(t, err)
	require.NoError(t, s.Connect(context.Background()))
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func TestSessionConfigValidation(t *testing.T) {
	_, err := NewSession(SessionParams{Config: Config{UserID: "p1"}})
	assert.Error(t, err, "player session requires a peer URL")

	_, err = NewSession(SessionParams{Config: Config{GM: true}})
	assert.Error(t, err, "user id is mandatory")
}

func TestGMHostedLifecycle(t *testing.T) {
	s := newGMSession(t)

	docs, err := s.Create(context.Background(), "actor", []map[string]any{
		{"name": "Bandit", "items": []any{map[string]any{"name": "Dagger"}}},
	}, pipeline.CreateOptions{})
	require.NoError(t, err)
	actor := docs[0]

	col, _ := s.World("actor")
	_, ok := col.Get(actor.ID())
	require.True(t, ok)

	_, err = s.Update(context.Background(), "actor", []map[string]any{
		{"_id": actor.ID(), "name": "Bandit Chief"},
	}, pipeline.UpdateOptions{})
	require.NoError(t, err)
	assert.Equal(t, "Bandit Chief", actor.Get("name"))

	_, err = s.Delete(context.Background(), "actor", []string{actor.ID()}, pipeline.DeleteOptions{})
	require.NoError(t, err)
	assert.True(t, actor.Deleted())
	assert.Empty(t, s.Authority().Records("actor"))
}

func TestBroadcastReplicationBetweenSessions(t *testing.T) {
	gm := newGMSession(t)
	player := joinSession(t, gm, "p1", false)

	docs, err := gm.Create(context.Background(), "actor", []map[string]any{
		{"name": "Bandit", "ownership": map[string]any{"p1": int64(document.LevelOwner)}},
	}, pipeline.CreateOptions{})
	require.NoError(t, err)
	id := docs[0].ID()

	playerActors, _ := player.World("actor")
	require.Eventually(t, func() bool {
		_, ok := playerActors.Get(id)
		return ok
	}, time.Second, 5*time.Millisecond, "create broadcast replayed on the player")

	replica, _ := playerActors.Get(id)
	assert.Equal(t, "Bandit", replica.Get("name"))

	// The player owns the actor and can update it; the GM sees the change.
	_, err = player.Update(context.Background(), "actor", []map[string]any{
		{"_id": id, "name": "Reformed Bandit"},
	}, pipeline.UpdateOptions{})
	require.NoError(t, err)

	gmActors, _ := gm.World("actor")
	require.Eventually(t, func() bool {
		d, ok := gmActors.Get(id)
		return ok && d.Get("name") == "Reformed Bandit"
	}, time.Second, 5*time.Millisecond, "update broadcast replayed on the host")

	_, err = gm.Delete(context.Background(), "actor", []string{id}, pipeline.DeleteOptions{})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		_, ok := playerActors.Get(id)
		return !ok
	}, time.Second, 5*time.Millisecond, "delete broadcast replayed on the player")
}

func TestBatchPermissionFailureLeavesAllUnchanged(t *testing.T) {
	gm := newGMSession(t)
	player := joinSession(t, gm, "p1", false)

	// Three actors, the player owns only two.
	docs, err := gm.Create(context.Background(), "actor", []map[string]any{
		{"name": "One", "ownership": map[string]any{"p1": int64(document.LevelOwner)}},
		{"name": "Two", "ownership": map[string]any{"p1": int64(document.LevelOwner)}},
		{"name": "Three"},
	}, pipeline.CreateOptions{})
	require.NoError(t, err)

	playerActors, _ := player.World("actor")
	require.Eventually(t, func() bool { return playerActors.Size() == 3 }, time.Second, 5*time.Millisecond)

	updates := make([]map[string]any, 0, 3)
	for _, d := range docs {
		updates = append(updates, map[string]any{"_id": d.ID(), "name": "Renamed"})
	}
	_, err = player.Update(context.Background(), "actor", updates, pipeline.UpdateOptions{})

	var pErr *document.PermissionError
	require.ErrorAs(t, err, &pErr)
	for _, record := range gm.Authority().Records("actor") {
		assert.NotEqual(t, "Renamed", record["name"], "no partial application anywhere")
	}
	for _, d := range playerActors.Contents() {
		assert.NotEqual(t, "Renamed", d.Get("name"))
	}
}

func TestRegionEventCrossClient(t *testing.T) {
	gm := newGMSession(t)
	player := joinSession(t, gm, "p1", false)

	var gmFired, playerFired int
	require.NoError(t, gm.Behaviors().Register(&region.BehaviorType{
		Name: "toggleBehavior",
		Handle: func(b *document.Document, ev region.Event) error {
			gmFired++
			return nil
		},
	}))
	require.NoError(t, player.Behaviors().Register(&region.BehaviorType{
		Name: "toggleBehavior",
		Handle: func(b *document.Document, ev region.Event) error {
			playerFired++
			return nil
		},
	}))

	scenes, err := gm.Create(context.Background(), "scene", []map[string]any{
		{"name": "Dungeon", "regions": []any{
			map[string]any{
				"name": "Trap",
				"shapes": []any{
					map[string]any{"type": "rectangle", "x": float64(0), "y": float64(0), "width": float64(100), "height": float64(100)},
				},
				"behaviors": []any{
					map[string]any{"type": "toggleBehavior", "events": []any{region.EventTokenEnter}},
				},
			},
		}},
	}, pipeline.CreateOptions{})
	require.NoError(t, err)
	scene := scenes[0]

	playerScenes, _ := player.World("scene")
	require.Eventually(t, func() bool {
		_, ok := playerScenes.Get(scene.ID())
		return ok
	}, time.Second, 5*time.Millisecond)

	// The GM moves a token into the region: local dispatch plus exactly one
	// broadcast the player replays.
	require.NoError(t, gm.UpdateRegionContainment(context.Background(), scene, []region.Subject{
		{ID: "t1", Position: region.Point{X: 50, Y: 50}},
	}))
	assert.Equal(t, 1, gmFired, "originator dispatches locally")

	require.Eventually(t, func() bool { return playerFired == 1 }, time.Second, 5*time.Millisecond,
		"peer replays the computed event")

	// A no-op move fires nothing anywhere.
	require.NoError(t, gm.UpdateRegionContainment(context.Background(), scene, []region.Subject{
		{ID: "t1", Position: region.Point{X: 50, Y: 50}},
	}))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, gmFired)
	assert.Equal(t, 1, playerFired)
}

func TestRegionLifecycleEvents(t *testing.T) {
	gm := newGMSession(t)

	var fired []string
	require.NoError(t, gm.Behaviors().Register(&region.BehaviorType{
		Name: "toggleBehavior",
		Handle: func(b *document.Document, ev region.Event) error {
			fired = append(fired, ev.Name)
			return nil
		},
	}))

	scenes, err := gm.Create(context.Background(), "scene", []map[string]any{
		{"name": "Dungeon"},
	}, pipeline.CreateOptions{})
	require.NoError(t, err)
	scene := scenes[0]

	regions, err := gm.Create(context.Background(), "region", []map[string]any{
		{
			"name": "Trap",
			"shapes": []any{
				map[string]any{"type": "rectangle", "x": float64(0), "y": float64(0), "width": float64(10), "height": float64(10)},
			},
			"behaviors": []any{
				map[string]any{"type": "toggleBehavior", "events": []any{
					region.EventRegionCreated, region.EventRegionBoundary,
					region.EventBehaviorDisabled, region.EventRegionDeleted,
				}},
			},
		},
	}, pipeline.CreateOptions{ParentUUID: scene.UUID()})
	require.NoError(t, err)
	trap := regions[0]
	assert.Equal(t, []string{region.EventRegionCreated}, fired)

	// Growing the rectangle is a boundary change.
	_, err = gm.Update(context.Background(), "region", []map[string]any{
		{"_id": trap.ID(), "shapes": []any{
			map[string]any{"type": "rectangle", "x": float64(0), "y": float64(0), "width": float64(50), "height": float64(50)},
		}},
	}, pipeline.UpdateOptions{ParentUUID: scene.UUID()})
	require.NoError(t, err)
	assert.Equal(t, []string{region.EventRegionCreated, region.EventRegionBoundary}, fired)

	// Disabling the behavior fires behavior-disabled before the behavior
	// stops participating in later events.
	behaviors, _ := trap.Collection("behaviors")
	behavior := behaviors.Contents()[0]
	_, err = gm.Update(context.Background(), "regionBehavior", []map[string]any{
		{"_id": behavior.ID(), "disabled": true},
	}, pipeline.UpdateOptions{ParentUUID: trap.UUID()})
	require.NoError(t, err)
	require.Len(t, fired, 3)
	assert.Equal(t, region.EventBehaviorDisabled, fired[2])

	// A disabled behavior hears nothing, even region-deleted.
	_, err = gm.Delete(context.Background(), "region", []string{trap.ID()}, pipeline.DeleteOptions{ParentUUID: scene.UUID()})
	require.NoError(t, err)
	assert.Len(t, fired, 3)
}

func TestSettingsThroughSession(t *testing.T) {
	gm := newGMSession(t)
	require.NoError(t, gm.Settings().Register("core", "gridSize", settings.Descriptor{
		Kind:    settings.KindInt,
		Default: int64(100),
	}))

	require.NoError(t, gm.Settings().Set(context.Background(), "core", "gridSize", 150))
	v, err := gm.Settings().Get("core", "gridSize")
	require.NoError(t, err)
	assert.Equal(t, int64(150), v)
}
