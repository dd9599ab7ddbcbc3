package authority

import (
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/rolltable/rolltable.go/pkg/channel"
)

// handle processes one request under the store lock and returns the result
// plus any notification to fan out. Called by Loopback.Send.
func (a *Authority) handle(origin *Loopback, method string, params []any) (any, *channel.RPCError) {
	if len(params) == 0 {
		return nil, &channel.RPCError{Code: channel.CodeValidation, Message: "missing operation payload"}
	}
	payload, ok := params[0].(map[string]any)
	if !ok {
		return nil, &channel.RPCError{Code: channel.CodeValidation, Message: fmt.Sprintf("expected payload record, got %T", params[0])}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	switch method {
	case "get":
		return a.handleGet(payload)
	case "create":
		return a.handleCreate(origin, payload)
	case "update":
		return a.handleUpdate(origin, payload)
	case "delete":
		return a.handleDelete(origin, payload)
	case "regionEvent":
		a.notify(origin, "regionEvent", "", payload)
		return nil, nil
	default:
		return nil, &channel.RPCError{Code: channel.CodeValidation, Message: "unknown method " + method}
	}
}

func (a *Authority) timestamp() int64 {
	if a.now != nil {
		return a.now()
	}
	return time.Now().UnixMilli()
}

func (a *Authority) notify(origin *Loopback, method, typeName string, payload map[string]any) {
	data, err := channel.CborMarshaler{}.Marshal(payload)
	if err != nil {
		a.log.Error("failed to encode notification", "method", method, "error", err)
		return
	}
	a.broadcast(origin, channel.Notification{Method: method, Type: typeName, Payload: data})
}

// container abstracts "where records of this type live": the root store or
// an embedded array inside a parent record.
type container struct {
	root     bool
	typeName string
	parent   map[string]any
	field    string
}

func (a *Authority) resolveContainer(typeName, parentUUID string) (*container, *channel.RPCError) {
	if parentUUID == "" {
		return &container{root: true, typeName: typeName}, nil
	}

	parts := strings.Split(parentUUID, ".")
	if len(parts)%2 != 0 || len(parts) == 0 {
		return nil, &channel.RPCError{Code: channel.CodeValidation, Message: "malformed parentUuid " + parentUUID}
	}

	parentType, parentID := parts[0], parts[1]
	record, ok := a.records[parentType][parentID]
	if !ok {
		return nil, &channel.RPCError{Code: channel.CodeStale, Message: "unknown parent " + parentUUID}
	}

	for i := 2; i < len(parts); i += 2 {
		childType, childID := parts[i], parts[i+1]
		field, ok := a.hierarchy[parentType][childType]
		if !ok {
			return nil, &channel.RPCError{Code: channel.CodeValidation, Message: "no hierarchy from " + parentType + " to " + childType}
		}
		child := findByID(record[field], childID)
		if child == nil {
			return nil, &channel.RPCError{Code: channel.CodeStale, Message: "unknown parent " + parentUUID}
		}
		record, parentType = child, childType
	}

	field, ok := a.hierarchy[parentType][typeName]
	if !ok {
		return nil, &channel.RPCError{Code: channel.CodeValidation, Message: "no hierarchy from " + parentType + " to " + typeName}
	}
	return &container{typeName: typeName, parent: record, field: field}, nil
}

func findByID(raw any, id string) map[string]any {
	list, _ := raw.([]any)
	for _, el := range list {
		if m, ok := el.(map[string]any); ok {
			if mid, _ := m["_id"].(string); mid == id {
				return m
			}
		}
	}
	return nil
}

func (a *Authority) handleGet(payload map[string]any) (any, *channel.RPCError) {
	typeName, _ := payload["type"].(string)
	con, rpcErr := a.resolveContainer(typeName, stringValue(payload["parentUuid"]))
	if rpcErr != nil {
		return nil, rpcErr
	}

	var records []map[string]any
	if con.root {
		for _, id := range a.order[typeName] {
			if record, ok := a.records[typeName][id]; ok {
				records = append(records, record)
			}
		}
	} else {
		list, _ := con.parent[con.field].([]any)
		for _, el := range list {
			if m, ok := el.(map[string]any); ok {
				records = append(records, m)
			}
		}
	}

	if query, ok := payload["query"].(map[string]any); ok {
		if wantID := stringValue(query["_id"]); wantID != "" {
			filtered := records[:0:0]
			for _, record := range records {
				if stringValue(record["_id"]) == wantID {
					filtered = append(filtered, record)
				}
			}
			records = filtered
		}
	}

	index := boolValue(payload["index"])
	fields := stringSlice(payload["indexFields"])
	out := make([]any, 0, len(records))
	for _, record := range records {
		if !index {
			out = append(out, cloneAny(record))
			continue
		}
		entry := map[string]any{"_id": record["_id"]}
		for _, f := range fields {
			if v, ok := record[f]; ok {
				entry[f] = cloneAny(v)
			}
		}
		out = append(out, entry)
	}
	return out, nil
}

func (a *Authority) handleCreate(origin *Loopback, payload map[string]any) (any, *channel.RPCError) {
	typeName, _ := payload["type"].(string)
	parentUUID := stringValue(payload["parentUuid"])
	con, rpcErr := a.resolveContainer(typeName, parentUUID)
	if rpcErr != nil {
		return nil, rpcErr
	}

	data, _ := payload["data"].([]any)
	keepID := boolValue(payload["keepId"])
	keepEmbedded := boolValue(payload["keepEmbeddedIds"])

	results := make([]any, 0, len(data))
	for _, el := range data {
		record, ok := el.(map[string]any)
		if !ok {
			return nil, &channel.RPCError{Code: channel.CodeValidation, Message: fmt.Sprintf("expected record, got %T", el)}
		}
		record = cloneAny(record).(map[string]any)

		id := stringValue(record["_id"])
		if id == "" || !keepID {
			id = ulid.Make().String()
		}
		record["_id"] = id
		if !keepEmbedded {
			a.reassignEmbeddedIDs(typeName, record)
		}
		now := a.timestamp()
		record["_stats"] = map[string]any{
			"createdTime":    now,
			"modifiedTime":   now,
			"lastModifiedBy": origin.userID,
			"systemVersion":  SystemVersion,
		}

		if con.root {
			a.put(typeName, id, record)
		} else {
			list, _ := con.parent[con.field].([]any)
			con.parent[con.field] = append(list, record)
		}
		results = append(results, record)
	}

	if boolValue(payload["broadcast"]) {
		a.notify(origin, "create", typeName, map[string]any{
			"type":       typeName,
			"parentUuid": parentUUID,
			"data":       cloneAny(results),
		})
	}
	return results, nil
}

// reassignEmbeddedIDs gives every nested child record a fresh identifier,
// recursively. Used on import-style creates where stale embedded ids must
// not survive.
func (a *Authority) reassignEmbeddedIDs(typeName string, record map[string]any) {
	for childType, field := range a.hierarchy[typeName] {
		list, _ := record[field].([]any)
		for _, el := range list {
			if child, ok := el.(map[string]any); ok {
				child["_id"] = ulid.Make().String()
				a.reassignEmbeddedIDs(childType, child)
			}
		}
	}
}

func (a *Authority) handleUpdate(origin *Loopback, payload map[string]any) (any, *channel.RPCError) {
	typeName, _ := payload["type"].(string)
	parentUUID := stringValue(payload["parentUuid"])
	con, rpcErr := a.resolveContainer(typeName, parentUUID)
	if rpcErr != nil {
		return nil, rpcErr
	}

	updates, _ := payload["updates"].([]any)
	results := make([]any, 0, len(updates))
	for _, el := range updates {
		changes, ok := el.(map[string]any)
		if !ok {
			return nil, &channel.RPCError{Code: channel.CodeValidation, Message: fmt.Sprintf("expected update record, got %T", el)}
		}
		id := stringValue(changes["_id"])
		if id == "" {
			return nil, &channel.RPCError{Code: channel.CodeValidation, Message: "update missing _id"}
		}

		var target map[string]any
		if con.root {
			target = a.records[typeName][id]
		} else {
			target = findByID(con.parent[con.field], id)
		}
		if target == nil {
			return nil, &channel.RPCError{Code: channel.CodeStale, Message: typeName + " " + id + " does not exist"}
		}

		mergeRecord(target, changes)
		if stats, ok := target["_stats"].(map[string]any); ok {
			stats["modifiedTime"] = a.timestamp()
			stats["lastModifiedBy"] = origin.userID
			stats["systemVersion"] = SystemVersion
		}
		results = append(results, cloneAny(changes))
	}

	if boolValue(payload["broadcast"]) {
		a.notify(origin, "update", typeName, map[string]any{
			"type":       typeName,
			"parentUuid": parentUUID,
			"updates":    cloneAny(results),
		})
	}
	return results, nil
}

func mergeRecord(dst, changes map[string]any) {
	for key, incoming := range changes {
		if key == "_id" {
			continue
		}
		if key == "ownership" {
			if incomingMap, ok := incoming.(map[string]any); ok {
				existing, _ := dst[key].(map[string]any)
				dst[key] = mergeOwnership(existing, incomingMap)
				continue
			}
		}
		if existingMap, ok := dst[key].(map[string]any); ok {
			if incomingMap, ok := incoming.(map[string]any); ok {
				mergeRecord(existingMap, incomingMap)
				continue
			}
		}
		dst[key] = cloneAny(incoming)
	}
}

// mergeOwnership applies an ownership edit. The INHERIT sentinel (-1)
// clears the explicit entry; it is never stored.
func mergeOwnership(existing, edits map[string]any) map[string]any {
	out := make(map[string]any, len(existing)+len(edits))
	for key, v := range existing {
		out[key] = v
	}
	for key, v := range edits {
		if n, ok := v.(int64); ok && n == -1 {
			delete(out, key)
			continue
		}
		out[key] = v
	}
	return out
}

func (a *Authority) handleDelete(origin *Loopback, payload map[string]any) (any, *channel.RPCError) {
	typeName, _ := payload["type"].(string)
	parentUUID := stringValue(payload["parentUuid"])
	con, rpcErr := a.resolveContainer(typeName, parentUUID)
	if rpcErr != nil {
		return nil, rpcErr
	}

	ids := stringSlice(payload["ids"])
	if boolValue(payload["deleteAll"]) {
		if con.root {
			ids = append(ids[:0], a.order[typeName]...)
		} else {
			ids = ids[:0]
			list, _ := con.parent[con.field].([]any)
			for _, el := range list {
				if m, ok := el.(map[string]any); ok {
					ids = append(ids, stringValue(m["_id"]))
				}
			}
		}
	}

	deleted := make([]any, 0, len(ids))
	for _, id := range ids {
		if con.root {
			if _, ok := a.records[typeName][id]; !ok {
				continue
			}
			delete(a.records[typeName], id)
			a.order[typeName] = removeString(a.order[typeName], id)
			deleted = append(deleted, id)
			continue
		}
		list, _ := con.parent[con.field].([]any)
		for i, el := range list {
			if m, ok := el.(map[string]any); ok && stringValue(m["_id"]) == id {
				con.parent[con.field] = append(list[:i:i], list[i+1:]...)
				deleted = append(deleted, id)
				break
			}
		}
	}

	if boolValue(payload["broadcast"]) {
		a.notify(origin, "delete", typeName, map[string]any{
			"type":       typeName,
			"parentUuid": parentUUID,
			"ids":        cloneAny(deleted),
		})
	}
	return deleted, nil
}

func removeString(list []string, s string) []string {
	for i, el := range list {
		if el == s {
			return append(list[:i:i], list[i+1:]...)
		}
	}
	return list
}

func stringValue(v any) string {
	s, _ := v.(string)
	return s
}

func boolValue(v any) bool {
	b, _ := v.(bool)
	return b
}

func stringSlice(v any) []string {
	switch list := v.(type) {
	case []string:
		return append([]string(nil), list...)
	case []any:
		out := make([]string, 0, len(list))
		for _, el := range list {
			if s, ok := el.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
