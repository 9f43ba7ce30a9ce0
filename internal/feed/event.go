// ABOUTME: Marker feed events and their wire encoding
// ABOUTME: add carries the marker, remove carries id and coordinates, replace carries the full list

package feed

import (
	"encoding/json"
	"fmt"

	"github.com/2389/mapfeed/internal/markers"
)

// Kind names a marker mutation.
type Kind string

const (
	KindAdd     Kind = "add"
	KindRemove  Kind = "remove"
	KindReplace Kind = "replace"
)

// Event is one marker mutation as seen by map clients.
type Event struct {
	Kind Kind
	// Marker is set for add and remove.
	Marker markers.Marker
	// Markers is the full collection for replace.
	Markers []markers.Marker
}

// Added builds an add event.
func Added(m markers.Marker) Event {
	return Event{Kind: KindAdd, Marker: m}
}

// Removed builds a remove event.
func Removed(m markers.Marker) Event {
	return Event{Kind: KindRemove, Marker: m}
}

// Replaced builds a replace event. A nil list encodes as [].
func Replaced(ms []markers.Marker) Event {
	if ms == nil {
		ms = []markers.Marker{}
	}
	return Event{Kind: KindReplace, Markers: ms}
}

type addWire struct {
	Kind   Kind           `json:"kind"`
	Marker markers.Marker `json:"marker"`
}

type removeWire struct {
	Kind        Kind                `json:"kind"`
	MarkerID    int                 `json:"markerId"`
	Coordinates markers.Coordinates `json:"coordinates"`
}

type replaceWire struct {
	Kind    Kind             `json:"kind"`
	Markers []markers.Marker `json:"markers"`
}

// MarshalJSON encodes the event in its per-kind shape.
func (e Event) MarshalJSON() ([]byte, error) {
	switch e.Kind {
	case KindAdd:
		return json.Marshal(addWire{Kind: e.Kind, Marker: e.Marker})
	case KindRemove:
		return json.Marshal(removeWire{Kind: e.Kind, MarkerID: e.Marker.ID, Coordinates: e.Marker.Coords})
	case KindReplace:
		ms := e.Markers
		if ms == nil {
			ms = []markers.Marker{}
		}
		return json.Marshal(replaceWire{Kind: e.Kind, Markers: ms})
	default:
		return nil, fmt.Errorf("unknown feed event kind %q", e.Kind)
	}
}

// UnmarshalJSON decodes any of the three shapes. Remove events only carry
// the id and coordinates of the marker.
func (e *Event) UnmarshalJSON(data []byte) error {
	var head struct {
		Kind        Kind                `json:"kind"`
		Marker      markers.Marker      `json:"marker"`
		MarkerID    int                 `json:"markerId"`
		Coordinates markers.Coordinates `json:"coordinates"`
		Markers     []markers.Marker    `json:"markers"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return fmt.Errorf("decoding feed event: %w", err)
	}
	switch head.Kind {
	case KindAdd:
		*e = Added(head.Marker)
	case KindRemove:
		*e = Removed(markers.Marker{ID: head.MarkerID, Coords: head.Coordinates})
	case KindReplace:
		*e = Replaced(head.Markers)
	default:
		return fmt.Errorf("unknown feed event kind %q", head.Kind)
	}
	return nil
}
