package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/rolltable/rolltable.go/pkg/channel"
	"github.com/rolltable/rolltable.go/pkg/document"
	"github.com/rolltable/rolltable.go/pkg/logger"
	"github.com/rolltable/rolltable.go/pkg/schema"
)

// Pipeline drives every document mutation. Local validation and permission
// failures short-circuit before any network activity; an authoritative
// rejection leaves local state untouched. The channel round trip is the
// only suspension point.
type Pipeline struct {
	ch      channel.Channel
	log     logger.Logger
	user    document.User
	store   Store
	targets *targetLocks
}

type Params struct {
	Channel channel.Channel
	Logger  logger.Logger
	User    document.User
	Store   Store
}

func New(p Params) *Pipeline {
	log := p.Logger
	if log == nil {
		log = logger.Default()
	}
	return &Pipeline{
		ch:      p.Channel,
		log:     log,
		user:    p.User,
		store:   p.Store,
		targets: newTargetLocks(),
	}
}

func (p *Pipeline) User() document.User { return p.user }

// Get queries the authority for records or an index without touching local
// state.
func (p *Pipeline) Get(ctx context.Context, typeName string, opts GetOptions) ([]map[string]any, error) {
	req := GetRequest{
		Type:        typeName,
		Query:       opts.Query,
		Index:       opts.Index,
		IndexFields: opts.IndexFields,
		Pack:        opts.Pack,
		ParentUUID:  opts.ParentUUID,
	}
	var records []map[string]any
	if err := p.ch.Send(ctx, &records, "get", req); err != nil {
		return nil, p.mapSendError("get", typeName, err)
	}
	return records, nil
}

// Create validates and permission-gates the payloads, dispatches the
// request, and on acknowledgment binds the created documents into their
// owning collection.
func (p *Pipeline) Create(ctx context.Context, typeName string, data []map[string]any, opts CreateOptions) ([]*document.Document, error) {
	typ, ok := p.store.Types().Get(typeName)
	if !ok {
		return nil, fmt.Errorf("unknown document type %q", typeName)
	}

	parent, err := p.resolveParent(opts.ParentUUID)
	if err != nil {
		return nil, err
	}

	cleaned := make([]map[string]any, 0, len(data))
	for _, payload := range data {
		payload = withCreatorOwnership(payload, parent, p.user)
		candidate, err := p.store.Types().New(typeName, payload, parent)
		if err != nil {
			return nil, err
		}
		cleaned = append(cleaned, candidate.ToRecord())
	}

	// All-or-nothing permission gate before any network send.
	for _, record := range cleaned {
		if !typ.CanUserCreate(p.user, parent, record) {
			return nil, &document.PermissionError{User: p.user.ID, Action: "create", Type: typeName}
		}
	}
	if typ.Hooks.PreCreate != nil {
		for _, record := range cleaned {
			if err := typ.Hooks.PreCreate(record, p.user); err != nil {
				return nil, veto(err)
			}
		}
	}

	req := CreateRequest{
		Type:            typeName,
		Data:            cleaned,
		KeepID:          opts.KeepID,
		KeepEmbeddedIDs: opts.KeepEmbeddedIDs,
		ParentUUID:      opts.ParentUUID,
		Pack:            opts.Pack,
		Broadcast:       !opts.Silent,
	}
	var results []map[string]any
	if err := p.ch.Send(ctx, &results, "create", req); err != nil {
		return nil, p.mapSendError("create", typeName, err)
	}

	docs, err := p.bindCreated(typeName, opts.ParentUUID, results)
	if err != nil {
		return nil, err
	}
	if typ.Hooks.PostCreate != nil {
		for _, d := range docs {
			typ.Hooks.PostCreate(d, p.user)
		}
	}
	return docs, nil
}

// bindCreated constructs documents from acknowledged records and inserts
// them into the root registry or the parent's embedded collection.
func (p *Pipeline) bindCreated(typeName, parentUUID string, results []map[string]any) ([]*document.Document, error) {
	parent, err := p.resolveParent(parentUUID)
	if err != nil {
		// The parent vanished while the request was in flight; the records
		// exist at the authority but have no local home. Drop them.
		p.log.Warn("created documents dropped, parent is gone", "type", typeName, "parent", parentUUID)
		return nil, nil
	}

	docs := make([]*document.Document, 0, len(results))
	if parent == nil {
		store, ok := p.store.Collection(typeName)
		if !ok {
			return nil, fmt.Errorf("no collection registered for type %q", typeName)
		}
		for _, record := range results {
			d, err := p.store.Types().New(typeName, record, nil)
			if err != nil {
				return nil, err
			}
			store.Insert(d)
			docs = append(docs, d)
		}
		return docs, nil
	}

	col, ok := childCollection(parent, typeName)
	if !ok {
		return nil, fmt.Errorf("type %q has no hierarchy field for %q", parent.TypeName(), typeName)
	}
	for _, record := range results {
		d, err := col.CreateChild(record)
		if err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, nil
}

// Update computes per-target diffs against the latest local state, gates
// the whole batch on permission, dispatches, and applies the acknowledged
// (possibly amended) results. Operations on the same target are serialized
// in submission order.
func (p *Pipeline) Update(ctx context.Context, typeName string, updates []map[string]any, opts UpdateOptions) ([]*document.Document, error) {
	typ, ok := p.store.Types().Get(typeName)
	if !ok {
		return nil, fmt.Errorf("unknown document type %q", typeName)
	}

	ids := make([]string, 0, len(updates))
	for _, u := range updates {
		id, _ := u["_id"].(string)
		if id == "" {
			return nil, fmt.Errorf("update payload missing _id")
		}
		ids = append(ids, id)
	}

	release := p.targets.acquire(lockKeys(typeName, ids))
	defer release()

	type entry struct {
		target *document.Document
		diff   map[string]any
	}
	entries := make([]entry, 0, len(updates))
	for i, u := range updates {
		target, err := p.resolveTarget(typeName, opts.ParentUUID, ids[i])
		if err != nil {
			return nil, err
		}
		clean, err := cleanChanges(typ, u)
		if err != nil {
			return nil, err
		}
		diff := document.Diff(target.Source(), clean)
		if len(diff) == 0 {
			continue
		}
		entries = append(entries, entry{target: target, diff: diff})
	}
	if len(entries) == 0 {
		return nil, nil
	}

	// The diff, not the full document, is what gets permission-checked and
	// sent. One failing target rejects the whole batch before any send.
	for _, e := range entries {
		if !e.target.CanUserUpdate(p.user, e.diff) {
			return nil, &document.PermissionError{
				User: p.user.ID, Action: "update", Type: typeName, ID: e.target.ID(),
			}
		}
	}
	if typ.Hooks.PreUpdate != nil {
		for _, e := range entries {
			if err := typ.Hooks.PreUpdate(e.target, e.diff, p.user); err != nil {
				return nil, veto(err)
			}
		}
	}

	payload := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		wire := document.Clone(e.diff)
		wire["_id"] = e.target.ID()
		payload = append(payload, wire)
	}

	req := UpdateRequest{
		Type:       typeName,
		Updates:    payload,
		Diff:       true,
		Recursive:  true,
		ParentUUID: opts.ParentUUID,
		Pack:       opts.Pack,
		Broadcast:  !opts.Silent,
	}
	var results []map[string]any
	if err := p.ch.Send(ctx, &results, "update", req); err != nil {
		return nil, p.mapSendError("update", typeName, err)
	}

	docs := make([]*document.Document, 0, len(results))
	applied := make([]map[string]any, 0, len(results))
	for _, result := range results {
		id, _ := result["_id"].(string)
		target, err := p.resolveTarget(typeName, opts.ParentUUID, id)
		if err != nil || target.Deleted() {
			// Deleted locally while the request was in flight; do not
			// resurrect it.
			p.log.Debug("stale update response dropped", "type", typeName, "id", id)
			continue
		}
		if err := target.ApplyUpdate(result, p.user); err != nil {
			return nil, err
		}
		docs = append(docs, target)
		applied = append(applied, result)
	}

	if typ.Hooks.PostUpdate != nil {
		for i, d := range docs {
			typ.Hooks.PostUpdate(d, applied[i], p.user)
		}
	}
	return docs, nil
}

// Delete permission-gates and dispatches a batch deletion, then removes the
// acknowledged documents (and implicitly their embedded children) from
// local state.
func (p *Pipeline) Delete(ctx context.Context, typeName string, ids []string, opts DeleteOptions) ([]string, error) {
	typ, ok := p.store.Types().Get(typeName)
	if !ok {
		return nil, fmt.Errorf("unknown document type %q", typeName)
	}

	if opts.DeleteAll {
		all, err := p.allTargetIDs(typeName, opts.ParentUUID)
		if err != nil {
			return nil, err
		}
		ids = all
	}

	release := p.targets.acquire(lockKeys(typeName, ids))
	defer release()

	targets := make([]*document.Document, 0, len(ids))
	for _, id := range ids {
		target, err := p.resolveTarget(typeName, opts.ParentUUID, id)
		if err != nil {
			return nil, err
		}
		targets = append(targets, target)
	}
	for _, target := range targets {
		if !target.CanUserDelete(p.user) {
			return nil, &document.PermissionError{
				User: p.user.ID, Action: "delete", Type: typeName, ID: target.ID(),
			}
		}
	}
	if typ.Hooks.PreDelete != nil {
		for _, target := range targets {
			if err := typ.Hooks.PreDelete(target, p.user); err != nil {
				return nil, veto(err)
			}
		}
	}

	req := DeleteRequest{
		Type:       typeName,
		IDs:        ids,
		DeleteAll:  opts.DeleteAll,
		ParentUUID: opts.ParentUUID,
		Pack:       opts.Pack,
		Broadcast:  !opts.Silent,
	}
	var deleted []string
	if err := p.ch.Send(ctx, &deleted, "delete", req); err != nil {
		return nil, p.mapSendError("delete", typeName, err)
	}

	removed := p.removeDeleted(typeName, opts.ParentUUID, deleted)
	if typ.Hooks.PostDelete != nil {
		for _, d := range removed {
			typ.Hooks.PostDelete(d, p.user)
		}
	}
	return deleted, nil
}

func (p *Pipeline) removeDeleted(typeName, parentUUID string, ids []string) []*document.Document {
	removed := make([]*document.Document, 0, len(ids))
	for _, id := range ids {
		target, err := p.resolveTarget(typeName, parentUUID, id)
		if err != nil {
			continue
		}
		target.MarkDeleted()
		if parent := target.Parent(); parent != nil {
			if col, ok := childCollection(parent, typeName); ok {
				col.Delete(id)
			}
		} else if store, ok := p.store.Collection(typeName); ok {
			store.Remove(id)
		}
		removed = append(removed, target)
	}
	return removed
}

func (p *Pipeline) allTargetIDs(typeName, parentUUID string) ([]string, error) {
	if parentUUID == "" {
		store, ok := p.store.Collection(typeName)
		if !ok {
			return nil, fmt.Errorf("no collection registered for type %q", typeName)
		}
		lister, ok := store.(interface{ Contents() []*document.Document })
		if !ok {
			return nil, fmt.Errorf("collection for %q cannot enumerate", typeName)
		}
		docs := lister.Contents()
		ids := make([]string, 0, len(docs))
		for _, d := range docs {
			ids = append(ids, d.ID())
		}
		return ids, nil
	}

	parent, err := p.resolveParent(parentUUID)
	if err != nil {
		return nil, err
	}
	col, ok := childCollection(parent, typeName)
	if !ok {
		return nil, fmt.Errorf("type %q has no hierarchy field for %q", parent.TypeName(), typeName)
	}
	docs := col.Contents()
	ids := make([]string, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, d.ID())
	}
	return ids, nil
}

// resolveParent walks a parentUuid to the live parent document, or returns
// nil for root-level operations.
func (p *Pipeline) resolveParent(parentUUID string) (*document.Document, error) {
	if parentUUID == "" {
		return nil, nil
	}
	pairs, err := document.ParseUUID(parentUUID)
	if err != nil {
		return nil, err
	}

	store, ok := p.store.Collection(pairs[0][0])
	if !ok {
		return nil, fmt.Errorf("no collection registered for type %q", pairs[0][0])
	}
	current, ok := store.Get(pairs[0][1])
	if !ok {
		return nil, &document.StaleDocumentError{Type: pairs[0][0], ID: pairs[0][1]}
	}

	for _, pair := range pairs[1:] {
		col, ok := childCollection(current, pair[0])
		if !ok {
			return nil, fmt.Errorf("type %q has no hierarchy field for %q", current.TypeName(), pair[0])
		}
		current, ok = col.Get(pair[1])
		if !ok {
			return nil, &document.StaleDocumentError{Type: pair[0], ID: pair[1]}
		}
	}
	return current, nil
}

func (p *Pipeline) resolveTarget(typeName, parentUUID, id string) (*document.Document, error) {
	parent, err := p.resolveParent(parentUUID)
	if err != nil {
		return nil, err
	}
	if parent == nil {
		store, ok := p.store.Collection(typeName)
		if !ok {
			return nil, fmt.Errorf("no collection registered for type %q", typeName)
		}
		d, ok := store.Get(id)
		if !ok {
			return nil, &document.StaleDocumentError{Type: typeName, ID: id}
		}
		return d, nil
	}
	col, ok := childCollection(parent, typeName)
	if !ok {
		return nil, fmt.Errorf("type %q has no hierarchy field for %q", parent.TypeName(), typeName)
	}
	d, ok := col.Get(id)
	if !ok {
		return nil, &document.StaleDocumentError{Type: typeName, ID: id}
	}
	return d, nil
}

// childCollection finds the parent's embedded collection holding the given
// child type.
func childCollection(parent *document.Document, childTypeName string) (*document.EmbeddedCollection, bool) {
	for field, typeName := range parent.Type().Hierarchy {
		if typeName == childTypeName {
			return parent.Collection(field)
		}
	}
	return nil, false
}

// cleanChanges partial-validates the schema fields of a change-set while
// passing ownership and hierarchy payloads through untouched.
func cleanChanges(typ *document.Type, changes map[string]any) (map[string]any, error) {
	fields := make(map[string]any, len(changes))
	passthrough := make(map[string]any)
	for key, v := range changes {
		if key == "_id" || key == "_stats" {
			continue
		}
		if key == "ownership" {
			passthrough[key] = v
			continue
		}
		if _, ok := typ.Hierarchy[key]; ok {
			passthrough[key] = v
			continue
		}
		fields[key] = v
	}

	clean, err := typ.Schema.Validate(fields, schema.Options{Partial: true})
	if err != nil {
		return nil, err
	}
	for key, v := range passthrough {
		clean[key] = v
	}
	return clean, nil
}

func withCreatorOwnership(payload map[string]any, parent *document.Document, u document.User) map[string]any {
	if parent != nil {
		return payload
	}
	if _, ok := payload["ownership"]; ok {
		return payload
	}
	out := document.Clone(payload)
	out["ownership"] = map[string]any{
		document.DefaultOwnershipKey: int64(document.LevelNone),
		u.ID:                         int64(document.LevelOwner),
	}
	return out
}

func lockKeys(typeName string, ids []string) []string {
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, typeName+"."+id)
	}
	return keys
}

func veto(err error) error {
	if errors.Is(err, document.ErrHookVetoed) {
		return err
	}
	return fmt.Errorf("%w: %v", document.ErrHookVetoed, err)
}

// mapSendError translates authoritative rejections into the local error
// taxonomy; transport failures pass through untouched.
func (p *Pipeline) mapSendError(action, typeName string, err error) error {
	var rpcErr *channel.RPCError
	if errors.As(err, &rpcErr) {
		switch rpcErr.Code {
		case channel.CodePermission:
			return &document.PermissionError{User: p.user.ID, Action: action, Type: typeName}
		case channel.CodeStale:
			return &document.StaleDocumentError{Type: typeName}
		}
	}
	return err
}
