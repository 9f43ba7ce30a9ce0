// Package dedupe drops chat updates that a transport delivers more than
// once within a short window.
package dedupe
