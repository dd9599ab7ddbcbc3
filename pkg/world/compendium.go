package world

import (
	"strings"

	"github.com/rolltable/rolltable.go/pkg/document"
)

// ImportOptions tunes FromCompendium.
type ImportOptions struct {
	// KeepOwnership preserves the packaged ownership map instead of
	// stripping it for the importer to assign.
	KeepOwnership bool
	// StripKeys names additional top-level fields to drop beyond the
	// standard ephemeral set.
	StripKeys []string
}

// ephemeralKeys is state that must not survive an import into a new world:
// activation flags, per-world sort order and linked-scene references.
var ephemeralKeys = []string{"active", "sort", "scene", "navigation"}

// FromCompendium prepares packaged raw data for creation in the current
// world. It strips ephemeral state, assigns fresh identifiers to the
// document and every embedded descendant, and re-associates nested "origin"
// cross-references to the fresh identifiers. A reference that cannot be
// re-associated is nulled, never rewritten to a wrong target.
func FromCompendium(types *document.Types, typeName string, raw map[string]any, opts ImportOptions) (map[string]any, error) {
	typ, ok := types.Get(typeName)
	if !ok {
		return nil, &document.StaleDocumentError{Type: typeName}
	}

	data := document.Clone(raw)
	for _, key := range ephemeralKeys {
		delete(data, key)
	}
	for _, key := range opts.StripKeys {
		delete(data, key)
	}
	delete(data, "_stats")
	if !opts.KeepOwnership {
		delete(data, "ownership")
	}

	// Fresh identifiers first, recording old -> new so cross-references can
	// follow their targets.
	remap := make(map[string]string)
	reassignIDs(types, typ, data, remap)
	remapReferences(types, typ, data, remap)
	return data, nil
}

func reassignIDs(types *document.Types, typ *document.Type, record map[string]any, remap map[string]string) {
	fresh := document.NewID()
	if old, ok := record["_id"].(string); ok && old != "" {
		remap[old] = fresh
	}
	record["_id"] = fresh

	for field, childTypeName := range typ.Hierarchy {
		childType, ok := types.Get(childTypeName)
		if !ok {
			continue
		}
		list, _ := record[field].([]any)
		for _, el := range list {
			if child, ok := el.(map[string]any); ok {
				reassignIDs(types, childType, child, remap)
			}
		}
	}
}

func remapReferences(types *document.Types, typ *document.Type, record map[string]any, remap map[string]string) {
	if origin, ok := record["origin"].(string); ok && origin != "" {
		record["origin"] = remapUUID(origin, remap)
	}
	for field, childTypeName := range typ.Hierarchy {
		childType, ok := types.Get(childTypeName)
		if !ok {
			continue
		}
		list, _ := record[field].([]any)
		for _, el := range list {
			if child, ok := el.(map[string]any); ok {
				remapReferences(types, childType, child, remap)
			}
		}
	}
}

// remapUUID rewrites every id segment of a "type.id.type.id..." reference
// through the remap table. Any segment pointing outside the imported tree
// makes the whole reference unresolvable, and unresolvable references are
// nulled.
func remapUUID(uuid string, remap map[string]string) any {
	pairs, err := document.ParseUUID(uuid)
	if err != nil {
		return nil
	}
	parts := make([]string, 0, len(pairs)*2)
	for _, pair := range pairs {
		fresh, ok := remap[pair[1]]
		if !ok {
			return nil
		}
		parts = append(parts, pair[0], fresh)
	}
	return strings.Join(parts, ".")
}
