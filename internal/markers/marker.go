// ABOUTME: Marker and Coordinates types shared by the store, the feed and the chat flow
// ABOUTME: Coordinates travel as a [lon, lat] pair on the wire

package markers

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// ErrNotFound is returned when no marker has the requested id.
var ErrNotFound = errors.New("marker not found")

// ErrStaleSelection is returned when a positional selection no longer points
// at the marker that was presented to the operator.
var ErrStaleSelection = errors.New("stale marker selection")

// ErrInvalidMarker wraps validation failures for marker fields.
var ErrInvalidMarker = errors.New("invalid marker")

// Coordinates is a geographic point in degrees.
type Coordinates struct {
	Lon float64 `validate:"gte=-180,lte=180"`
	Lat float64 `validate:"gte=-90,lte=90"`
}

// MarshalJSON encodes the point as [lon, lat], the order map clients expect.
func (c Coordinates) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]float64{c.Lon, c.Lat})
}

// UnmarshalJSON decodes a [lon, lat] pair.
func (c *Coordinates) UnmarshalJSON(data []byte) error {
	var pair []float64
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("decoding coordinates: %w", err)
	}
	if len(pair) != 2 {
		return fmt.Errorf("coordinates must have 2 elements, got %d", len(pair))
	}
	c.Lon, c.Lat = pair[0], pair[1]
	return nil
}

func (c Coordinates) String() string {
	return fmt.Sprintf("%.5f, %.5f", c.Lat, c.Lon)
}

// Marker is a committed point on the map.
type Marker struct {
	ID     int         `json:"id"`
	Name   string      `json:"name" validate:"required"`
	Coords Coordinates `json:"coords"`
	Link   *string     `json:"link" validate:"omitempty,url"`
}

// Validate checks the name, coordinate ranges and link format.
// NaN and infinite coordinates fail the range checks.
func (m Marker) Validate() error {
	if err := validate.Struct(m); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMarker, err)
	}
	return nil
}

// ValidLink reports whether link passes the same check Validate applies to
// Marker.Link.
func ValidLink(link string) bool {
	return validate.Var(link, "url") == nil
}

// LinkOrEmpty returns the link text, or "" when the marker has none.
func (m Marker) LinkOrEmpty() string {
	if m.Link == nil {
		return ""
	}
	return *m.Link
}

func copyLink(link *string) *string {
	if link == nil {
		return nil
	}
	l := *link
	return &l
}
