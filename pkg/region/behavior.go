package region

import (
	"fmt"
	"sort"

	"golang.org/x/exp/maps"

	"github.com/rolltable/rolltable.go/pkg/document"
)

// Handler reacts to one region event on behalf of one behavior document.
type Handler func(behavior *document.Document, ev Event) error

// BehaviorType pairs a behavior type tag with its handler. A behavior
// document subscribes to events by name; the handler only runs for
// subscribed events.
type BehaviorType struct {
	Name   string
	Handle Handler
}

// BehaviorTypes is the closed registry of known behavior type tags.
type BehaviorTypes struct {
	byName map[string]*BehaviorType
}

func NewBehaviorTypes() *BehaviorTypes {
	return &BehaviorTypes{byName: make(map[string]*BehaviorType)}
}

func (b *BehaviorTypes) Register(bt *BehaviorType) error {
	if bt.Name == "" {
		return fmt.Errorf("behavior type requires a name")
	}
	if _, exists := b.byName[bt.Name]; exists {
		return fmt.Errorf("behavior type %q already registered", bt.Name)
	}
	b.byName[bt.Name] = bt
	return nil
}

func (b *BehaviorTypes) Get(name string) (*BehaviorType, bool) {
	bt, ok := b.byName[name]
	return bt, ok
}

func (b *BehaviorTypes) Names() []string {
	names := maps.Keys(b.byName)
	sort.Strings(names)
	return names
}

// behaviorEnabled reports whether a behavior document participates in
// dispatch.
func behaviorEnabled(behavior *document.Document) bool {
	disabled, _ := behavior.Get("disabled").(bool)
	return !disabled
}

// behaviorSubscribed reports whether the behavior's events set includes the
// event name.
func behaviorSubscribed(behavior *document.Document, name string) bool {
	list, _ := behavior.Get("events").([]any)
	for _, el := range list {
		if s, ok := el.(string); ok && s == name {
			return true
		}
	}
	return false
}
