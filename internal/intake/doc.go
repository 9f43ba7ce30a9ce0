// Package intake runs the chat dialogue that turns a forwarded post and a
// place name into a marker on the live map.
//
// # Flow
//
// A Service receives every chat update through HandleUpdate:
//
//  1. /start opens a session awaiting a forwarded post
//  2. the forwarded post is checked for forward metadata and a source link
//  3. the next text is reduced to a place name and geocoded
//  4. the marker is committed to the store and published to the feed
//  5. the chat gets an acknowledgement and the session ends
//
// A geocoding failure leaves the session waiting for another place name.
//
// # Deletion
//
// /list and /delete present the current markers as numbered choices. Each
// choice carries its list position and the marker id it showed, so a
// selection made against an outdated list is reported instead of removing
// a different marker. A successful delete publishes a remove event followed
// by a replace event with the remaining markers.
//
// # Ordering
//
// Store mutations and feed publishes happen together under one commit lock,
// so every subscriber sees events in commit order. Geocoding runs outside
// that lock, holding only the chat's own turn lock, so a slow lookup never
// stalls other chats or the feed.
package intake
