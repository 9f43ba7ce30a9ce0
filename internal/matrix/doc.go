// Package matrix connects the intake dialogue to Matrix rooms.
//
// Matrix has no forward metadata, so a post is "forwarded" by replying to
// it: the replied-to event becomes the forward origin and its matrix.to
// permalink is the marker's source link. The post text comes from the
// quoted reply fallback. Marker lists are sent as numbered
// text and the operator answers with /delete <number>.
//
// Replies are rendered from Markdown to Matrix HTML with goldmark.
package matrix
