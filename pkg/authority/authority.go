// Package authority hosts an in-process authoritative peer: the document
// store of record plus a loopback channel implementation. A GM-hosted
// session uses it to apply operations locally while still exercising the
// same wire shapes and codec as a remote session; tests use it as the
// channel double.
package authority

import (
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/rolltable/rolltable.go/pkg/channel"
	"github.com/rolltable/rolltable.go/pkg/logger"
)

// SystemVersion is stamped into the _stats envelope of every record the
// authority creates or modifies.
const SystemVersion = "1.0.0"

// Hierarchy names, per parent document type, the embedded-collection field
// holding each child type. The authority needs it to route operations with
// a parentUuid into the right nested array.
type Hierarchy map[string]map[string]string

// Authority owns the authoritative records. All operations are serialized
// under one lock; submission order per connection is therefore processing
// order, which is the ordering guarantee the pipeline relies on.
type Authority struct {
	mu        sync.Mutex
	log       logger.Logger
	hierarchy Hierarchy
	records   map[string]map[string]map[string]any // type -> id -> record
	order     map[string][]string                  // type -> insertion order
	clients   []*Loopback
	now       func() int64
}

type AuthorityParams struct {
	Hierarchy Hierarchy
	Logger    logger.Logger
	// Now supplies _stats timestamps; defaults to wall clock milliseconds.
	Now func() int64
}

func New(p AuthorityParams) *Authority {
	log := p.Logger
	if log == nil {
		log = logger.Default()
	}
	return &Authority{
		log:       log,
		hierarchy: p.Hierarchy,
		records:   make(map[string]map[string]map[string]any),
		order:     make(map[string][]string),
		now:       p.Now,
	}
}

// Records returns a snapshot of every stored record of a type, in insertion
// order.
func (a *Authority) Records(typeName string) []map[string]any {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]map[string]any, 0, len(a.order[typeName]))
	for _, id := range a.order[typeName] {
		if record, ok := a.records[typeName][id]; ok {
			out = append(out, cloneAny(record).(map[string]any))
		}
	}
	return out
}

// Seed installs a record directly, bypassing the operation path. Test and
// session-bootstrap helper.
func (a *Authority) Seed(typeName string, record map[string]any) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	id, _ := record["_id"].(string)
	if id == "" {
		id = ulid.Make().String()
		record = cloneAny(record).(map[string]any)
		record["_id"] = id
	} else {
		record = cloneAny(record).(map[string]any)
	}
	a.put(typeName, id, record)
	return id
}

func (a *Authority) put(typeName, id string, record map[string]any) {
	if a.records[typeName] == nil {
		a.records[typeName] = make(map[string]map[string]any)
	}
	if _, exists := a.records[typeName][id]; !exists {
		a.order[typeName] = append(a.order[typeName], id)
	}
	a.records[typeName][id] = record
}

func (a *Authority) attach(c *Loopback) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.clients = append(a.clients, c)
}

func (a *Authority) detach(c *Loopback) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i, existing := range a.clients {
		if existing == c {
			a.clients = append(a.clients[:i], a.clients[i+1:]...)
			return
		}
	}
}

// broadcast fans a notification out to every attached client except the
// originator, which already applies the change from its acknowledgment.
func (a *Authority) broadcast(origin *Loopback, n channel.Notification) {
	for _, c := range a.clients {
		if c == origin {
			continue
		}
		c.push(n)
	}
}

func cloneAny(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, el := range val {
			out[k] = cloneAny(el)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, el := range val {
			out[i] = cloneAny(el)
		}
		return out
	default:
		return v
	}
}
