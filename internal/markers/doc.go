// Package markers owns the canonical set of map markers.
//
// # Overview
//
// A Marker is a named point with an optional link back to the post it was
// created from. Markers are immutable once committed: the Store hands out
// values, never pointers into its own slice.
//
// # Identity
//
// The Store assigns ids from a counter that only moves forward. Deleting a
// marker never frees its id, and ReplaceAll bumps the counter past every id
// it receives:
//
//	s := markers.NewStore()
//	a, _ := s.Add("Lyman", markers.Coordinates{Lon: 37.8, Lat: 48.9}, nil) // id 1
//	_, _ = s.Remove(a.ID)
//	b, _ := s.Add("Siversk", markers.Coordinates{Lon: 38.1, Lat: 48.8}, nil) // id 2
//
// # Positional deletion
//
// Chat operators delete by picking a row from a list they were shown earlier.
// RemoveAt takes both the row position and the id that was displayed there,
// and fails with ErrStaleSelection when the two no longer agree.
package markers
