package pipeline

import (
	"fmt"

	"github.com/rolltable/rolltable.go/pkg/channel"
	"github.com/rolltable/rolltable.go/pkg/document"
)

// broadcastPayload is the body of a create/update/delete notification fanned
// out by the authority to every other connected client.
type broadcastPayload struct {
	Type       string           `cbor:"type"`
	ParentUUID string           `cbor:"parentUuid"`
	Data       []map[string]any `cbor:"data"`
	Updates    []map[string]any `cbor:"updates"`
	IDs        []string         `cbor:"ids"`
}

// ApplyBroadcast replays a peer's acknowledged mutation into local state.
// The authority already permission-checked the operation on behalf of its
// originator, so no local gate applies; targets that no longer exist
// locally are dropped silently.
func (p *Pipeline) ApplyBroadcast(n channel.Notification) error {
	var payload broadcastPayload
	if err := (channel.CborUnmarshaler{}).Unmarshal(n.Payload, &payload); err != nil {
		return fmt.Errorf("decoding %s broadcast: %w", n.Method, err)
	}

	typ, ok := p.store.Types().Get(payload.Type)
	if !ok {
		p.log.Debug("broadcast for unknown type dropped", "type", payload.Type)
		return nil
	}

	release := p.targets.acquire(broadcastLockKeys(payload))
	defer release()

	switch n.Method {
	case "create":
		return p.replayCreate(typ, payload)
	case "update":
		return p.replayUpdate(typ, payload)
	case "delete":
		return p.replayDelete(typ, payload)
	default:
		return fmt.Errorf("unknown broadcast method %q", n.Method)
	}
}

func (p *Pipeline) replayCreate(typ *document.Type, payload broadcastPayload) error {
	docs, err := p.bindCreated(payload.Type, payload.ParentUUID, payload.Data)
	if err != nil {
		return err
	}
	if typ.Hooks.PostCreate != nil {
		for _, d := range docs {
			typ.Hooks.PostCreate(d, document.User{})
		}
	}
	return nil
}

func (p *Pipeline) replayUpdate(typ *document.Type, payload broadcastPayload) error {
	for _, changes := range payload.Updates {
		id, _ := changes["_id"].(string)
		target, err := p.resolveTarget(payload.Type, payload.ParentUUID, id)
		if err != nil || target.Deleted() {
			p.log.Debug("update broadcast for missing document dropped", "type", payload.Type, "id", id)
			continue
		}
		by := document.User{ID: target.Stats().LastModifiedBy}
		if err := target.ApplyUpdate(changes, by); err != nil {
			return err
		}
		if typ.Hooks.PostUpdate != nil {
			typ.Hooks.PostUpdate(target, changes, by)
		}
	}
	return nil
}

func (p *Pipeline) replayDelete(typ *document.Type, payload broadcastPayload) error {
	removed := p.removeDeleted(payload.Type, payload.ParentUUID, payload.IDs)
	if typ.Hooks.PostDelete != nil {
		for _, d := range removed {
			typ.Hooks.PostDelete(d, document.User{})
		}
	}
	return nil
}

func broadcastLockKeys(payload broadcastPayload) []string {
	keys := make([]string, 0, len(payload.Updates)+len(payload.IDs))
	for _, changes := range payload.Updates {
		if id, _ := changes["_id"].(string); id != "" {
			keys = append(keys, payload.Type+"."+id)
		}
	}
	for _, id := range payload.IDs {
		keys = append(keys, payload.Type+"."+id)
	}
	return keys
}
