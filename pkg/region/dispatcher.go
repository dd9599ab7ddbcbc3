package region

import (
	"context"
	"fmt"

	"github.com/rolltable/rolltable.go/pkg/document"
	"github.com/rolltable/rolltable.go/pkg/logger"
)

// Subject is a movable thing regions test for containment: a token at its
// rest position. Positions mid-animation never reach the dispatcher; the
// caller passes the settled destination of a movement.
type Subject struct {
	ID       string
	Position Point
}

// Transition is one containment change produced by UpdateContainment.
type Transition struct {
	Region    *Region
	SubjectID string
	// Event is EventTokenEnter or EventTokenExit.
	Event string
}

// Broadcaster carries an already-computed region event to the peers. The
// originating user is the sole broadcaster; peers replay rather than
// recompute.
type Broadcaster interface {
	BroadcastRegionEvent(ctx context.Context, msg EventMessage) error
}

// Resolver maps a reference string back to a live document on the
// receiving side of a broadcast.
type Resolver interface {
	ResolveUUID(uuid string) (*document.Document, bool)
}

// Dispatcher tracks containment state per region and delivers events to
// behavior handlers. Containment is transient: it lives only here, is
// recomputed from geometry on every pass and is never persisted.
type Dispatcher struct {
	log       logger.Logger
	behaviors *BehaviorTypes
	user      document.User

	// contained[regionID] is the set of subject ids currently inside.
	contained map[string]map[string]bool
}

type DispatcherParams struct {
	Logger    logger.Logger
	Behaviors *BehaviorTypes
	User      document.User
}

func NewDispatcher(p DispatcherParams) *Dispatcher {
	log := p.Logger
	if log == nil {
		log = logger.Default()
	}
	return &Dispatcher{
		log:       log,
		behaviors: p.Behaviors,
		user:      p.User,
		contained: make(map[string]map[string]bool),
	}
}

// Contained reports whether the subject is currently tracked inside the
// region.
func (d *Dispatcher) Contained(regionID, subjectID string) bool {
	return d.contained[regionID][subjectID]
}

// Forget drops a region's containment state, for when the region document
// is deleted.
func (d *Dispatcher) Forget(regionID string) {
	delete(d.contained, regionID)
}

// UpdateContainment recomputes containment for every region/subject pair
// and returns the ordered transitions: exits first, then enters, each in
// the caller's region-then-subject order. A pair never yields both an exit
// and an enter in one pass (exit wins), and a pass over unchanged inputs
// yields no transitions.
func (d *Dispatcher) UpdateContainment(regions []*Region, subjects []Subject) []Transition {
	var exits, enters []Transition
	for _, r := range regions {
		prev := d.contained[r.ID()]
		next := make(map[string]bool, len(subjects))
		for _, s := range subjects {
			inside := r.Contains(s.Position)
			next[s.ID] = inside
			was := prev[s.ID]
			switch {
			case was && !inside:
				exits = append(exits, Transition{Region: r, SubjectID: s.ID, Event: EventTokenExit})
			case !was && inside:
				enters = append(enters, Transition{Region: r, SubjectID: s.ID, Event: EventTokenEnter})
			}
		}
		// Subjects that vanished from the pass (deleted tokens) exit too.
		for id, was := range prev {
			if _, still := next[id]; !still && was {
				exits = append(exits, Transition{Region: r, SubjectID: id, Event: EventTokenExit})
			}
		}
		d.contained[r.ID()] = next
	}
	return append(exits, enters...)
}

// Dispatch delivers one event to every enabled, subscribed behavior of the
// event's region, in attachment order. Handler panics and errors are
// isolated and logged; every sibling still runs.
func (d *Dispatcher) Dispatch(ev Event) {
	for _, behavior := range ev.Region.Behaviors() {
		if !behaviorEnabled(behavior) {
			// A behavior still hears its own disabling; nothing else.
			if ev.Name != EventBehaviorDisabled || ev.Data["behavior"] != behavior.ID() {
				continue
			}
		}
		if !behaviorSubscribed(behavior, ev.Name) {
			continue
		}
		typeTag, _ := behavior.Get("type").(string)
		bt, ok := d.behaviors.Get(typeTag)
		if !ok {
			d.log.Warn("no handler registered for behavior type", "type", typeTag, "region", ev.Region.ID())
			continue
		}
		d.run(bt, behavior, ev)
	}
}

func (d *Dispatcher) run(bt *BehaviorType, behavior *document.Document, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("behavior handler panicked",
				"behaviorType", bt.Name, "behavior", behavior.ID(),
				"event", ev.Name, "panic", fmt.Sprint(r))
		}
	}()
	if err := bt.Handle(behavior, ev); err != nil {
		d.log.Error("behavior handler failed",
			"behaviorType", bt.Name, "behavior", behavior.ID(),
			"event", ev.Name, "error", err)
	}
}

// DispatchTransitions dispatches a containment pass locally and, when a
// broadcaster is supplied, sends each event to the peers exactly once.
func (d *Dispatcher) DispatchTransitions(ctx context.Context, transitions []Transition, b Broadcaster) error {
	for _, tr := range transitions {
		ev := Event{
			Name:   tr.Event,
			Data:   map[string]any{"subject": tr.SubjectID},
			Region: tr.Region,
			User:   d.user,
		}
		d.Dispatch(ev)
		if b == nil {
			continue
		}
		msg := EventMessage{
			RegionUUID: tr.Region.UUID(),
			UserID:     d.user.ID,
			EventName:  tr.Event,
			EventData:  map[string]any{"subject": tr.SubjectID},
		}
		if err := b.BroadcastRegionEvent(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

// Replay dispatches an event received from a peer broadcast. Reference
// strings named by EventDataUUIDs are resolved to live documents; an
// unresolvable reference stays a string and is logged.
func (d *Dispatcher) Replay(msg EventMessage, resolve Resolver) error {
	doc, ok := resolve.ResolveUUID(msg.RegionUUID)
	if !ok {
		return fmt.Errorf("regionEvent for unknown region %s", msg.RegionUUID)
	}

	data := make(map[string]any, len(msg.EventData))
	for key, v := range msg.EventData {
		data[key] = v
	}
	for _, key := range msg.EventDataUUIDs {
		uuid, ok := data[key].(string)
		if !ok {
			continue
		}
		ref, ok := resolve.ResolveUUID(uuid)
		if !ok {
			d.log.Warn("unresolvable reference in region event", "key", key, "uuid", uuid)
			continue
		}
		data[key] = ref
	}

	d.Dispatch(Event{
		Name:   msg.EventName,
		Data:   data,
		Region: Wrap(doc),
		User:   document.User{ID: msg.UserID},
	})
	return nil
}
