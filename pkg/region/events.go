package region

import "github.com/rolltable/rolltable.go/pkg/document"

// Region event names. Containment transitions use token-enter/token-exit;
// geometry or elevation changes raise region-boundary, distinct from the
// transitions they may subsequently cause.
const (
	EventTokenEnter       = "token-enter"
	EventTokenExit        = "token-exit"
	EventRegionBoundary   = "region-boundary"
	EventRegionCreated    = "region-created"
	EventRegionDeleted    = "region-deleted"
	EventBehaviorEnabled  = "behavior-enabled"
	EventBehaviorDisabled = "behavior-disabled"
)

// IsBoundaryChange reports whether an applied change-set touches the
// region's geometry or elevation. Such changes raise region-boundary,
// distinct from any containment transitions they go on to cause.
func IsBoundaryChange(changes map[string]any) bool {
	if _, ok := changes["shapes"]; ok {
		return true
	}
	_, ok := changes["elevation"]
	return ok
}

// Event is what behavior handlers receive.
type Event struct {
	Name   string
	Data   map[string]any
	Region *Region
	// User is the acting user: the originator of the movement or change
	// that raised the event.
	User document.User
}

// EventMessage is the regionEvent wire shape. EventDataUUIDs names the
// eventData keys holding document reference strings; the receiving side
// resolves them back to live documents before dispatch.
type EventMessage struct {
	RegionUUID     string         `cbor:"regionUuid"`
	UserID         string         `cbor:"userId"`
	EventName      string         `cbor:"eventName"`
	EventData      map[string]any `cbor:"eventData"`
	EventDataUUIDs []string       `cbor:"eventDataUuids"`
}
