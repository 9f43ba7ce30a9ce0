// Package session tracks the per-chat intake dialogue.
//
// A chat with no session is idle. /start opens a session awaiting a
// forwarded post; a forwarded post with a usable link moves it to awaiting a
// location; the location text yields a Request that the caller geocodes and
// commits, after which it calls Complete. Rejected input returns a
// *ValidationError and leaves the session where it was.
//
// Manager only holds state. It never performs I/O, so the caller decides
// what happens between AcceptLocation and Complete. Lock serializes turns
// within one chat without blocking other chats.
package session
