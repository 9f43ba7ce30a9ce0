// Package gateway runs the mapfeed server.
//
// # Overview
//
// The Gateway wires the intake pipeline together and owns its lifecycle:
//
//   - Chat transports (Telegram, Matrix) run behind a chat.Dispatcher, so
//     updates for one chat are handled in order while chats proceed in
//     parallel.
//   - The HTTP server exposes the marker snapshot, the realtime feed and
//     the static map client.
//   - The optional journal records committed mutations to SQLite.
//
// # HTTP Endpoints
//
//	GET /api/markers   - current markers as a JSON array, insertion order
//	GET /api/feed      - feed events as Server-Sent Events (event: add|remove|replace)
//	GET /ws            - feed events as WebSocket text frames
//	GET /health        - liveness
//	GET /health/ready  - 200 once at least one transport is running
//	GET /              - static map client from server.static_dir
//
// Every response carries a Content-Security-Policy that allows map tiles
// from tile.openstreetmap.org alongside same-origin content.
//
// # Listeners
//
// The HTTP server listens on server.http_addr, or on port 80 of a tsnet node
// when tailscale.enabled is set.
//
// # Shutdown
//
// Run returns when its context is cancelled or a server or transport fails.
// Shutdown stops the HTTP server, stops the transports and waits for
// in-flight updates, then closes the feed hub, the journal and the tailnet
// node.
package gateway
