// Package pipeline implements the create/update/delete operation path:
// request construction, diff computation, all-or-nothing permission gating,
// dispatch over the session channel, and application of acknowledged
// results to local state in submission order per target.
package pipeline

import "github.com/rolltable/rolltable.go/pkg/document"

// Wire shapes, one per action. Field names are the protocol's.

type GetRequest struct {
	Type        string         `cbor:"type"`
	Query       map[string]any `cbor:"query,omitempty"`
	Index       bool           `cbor:"index,omitempty"`
	IndexFields []string       `cbor:"indexFields,omitempty"`
	Pack        string         `cbor:"pack,omitempty"`
	ParentUUID  string         `cbor:"parentUuid,omitempty"`
}

type CreateRequest struct {
	Type            string           `cbor:"type"`
	Data            []map[string]any `cbor:"data"`
	KeepID          bool             `cbor:"keepId,omitempty"`
	KeepEmbeddedIDs bool             `cbor:"keepEmbeddedIds,omitempty"`
	ParentUUID      string           `cbor:"parentUuid,omitempty"`
	Pack            string           `cbor:"pack,omitempty"`
	Broadcast       bool             `cbor:"broadcast"`
}

type UpdateRequest struct {
	Type       string           `cbor:"type"`
	Updates    []map[string]any `cbor:"updates"`
	Diff       bool             `cbor:"diff,omitempty"`
	Recursive  bool             `cbor:"recursive,omitempty"`
	ParentUUID string           `cbor:"parentUuid,omitempty"`
	Pack       string           `cbor:"pack,omitempty"`
	Broadcast  bool             `cbor:"broadcast"`
}

type DeleteRequest struct {
	Type       string   `cbor:"type"`
	IDs        []string `cbor:"ids"`
	DeleteAll  bool     `cbor:"deleteAll,omitempty"`
	ParentUUID string   `cbor:"parentUuid,omitempty"`
	Pack       string   `cbor:"pack,omitempty"`
	Broadcast  bool     `cbor:"broadcast"`
}

// Options for the public operations. Silent suppresses the peer broadcast;
// operations broadcast by default.

type GetOptions struct {
	Query       map[string]any
	Index       bool
	IndexFields []string
	Pack        string
	ParentUUID  string
}

type CreateOptions struct {
	KeepID          bool
	KeepEmbeddedIDs bool
	ParentUUID      string
	Pack            string
	Silent          bool
}

type UpdateOptions struct {
	ParentUUID string
	Pack       string
	Silent     bool
}

type DeleteOptions struct {
	DeleteAll  bool
	ParentUUID string
	Pack       string
	Silent     bool
}

// Store gives the pipeline access to the session's live documents: the
// type registry plus one root collection per document type.
type Store interface {
	Types() *document.Types
	Collection(typeName string) (DocumentStore, bool)
}

// DocumentStore is the slice of a world collection the pipeline needs.
type DocumentStore interface {
	Get(id string) (*document.Document, bool)
	Insert(d *document.Document)
	Remove(id string)
}
