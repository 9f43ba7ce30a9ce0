// ABOUTME: Geocoder interface and error taxonomy for place-name resolution
// ABOUTME: Callers branch on ErrNotFound versus ErrUnavailable to word their replies

package geocode

import (
	"context"
	"errors"

	"github.com/2389/mapfeed/internal/markers"
)

//go:generate go run go.uber.org/mock/mockgen -source=geocoder.go -destination=../mocks/mock_geocoder.go -package=mocks

var (
	// ErrNotFound means the provider had no match for the place name.
	ErrNotFound = errors.New("place not found")
	// ErrUnavailable means the provider could not be reached or answered
	// with an error, including timeouts.
	ErrUnavailable = errors.New("geocoder unavailable")
)

// Geocoder resolves a place name to a single point.
type Geocoder interface {
	Resolve(ctx context.Context, place string) (markers.Coordinates, error)
}
