// Package feed fans marker mutations out to connected map clients.
//
// A Hub holds one buffered channel per subscriber. Publish never blocks:
// a subscriber whose buffer is full misses the event and can recover from
// the next replace event or a fresh snapshot. Events are published by a
// single committer, so every subscriber sees them in commit order.
//
// On the wire each event is one JSON object keyed by "kind":
//
//	{"kind":"add","marker":{"id":1,"name":"Lyman","coords":[37.8,48.9],"link":"https://t.me/x/1"}}
//	{"kind":"remove","markerId":1,"coordinates":[37.8,48.9]}
//	{"kind":"replace","markers":[...]}
package feed
