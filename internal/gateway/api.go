// ABOUTME: HTTP routes for the marker snapshot, the realtime feed and the static map client
// ABOUTME: Streams feed events over SSE and WebSocket with one hub subscription per client

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"

	"github.com/2389/mapfeed/internal/feed"
	"github.com/2389/mapfeed/internal/markers"
)

// contentSecurityPolicy lets the map client load OpenStreetMap tiles.
const contentSecurityPolicy = "default-src 'self'; img-src 'self' https://tile.openstreetmap.org;"

// wsWriteTimeout bounds a single WebSocket frame write.
const wsWriteTimeout = 10 * time.Second

func (g *Gateway) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", g.handleHealth)
	mux.HandleFunc("GET /health/ready", g.handleReady)

	mux.HandleFunc("GET /api/markers", g.handleMarkers)
	mux.HandleFunc("GET /api/markers/{id}", g.handleMarker)
	mux.HandleFunc("GET /api/feed", g.handleFeedSSE)
	mux.HandleFunc("GET /ws", g.handleFeedWS)

	if dir := g.config.Server.StaticDir; dir != "" {
		mux.Handle("GET /", http.FileServer(http.Dir(dir)))
		g.logger.Info("serving map client", "static_dir", dir)
	}

	return withSecurityHeaders(mux)
}

func withSecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Security-Policy", contentSecurityPolicy)
		next.ServeHTTP(w, r)
	})
}

// handleMarkers returns the current markers in insertion order.
func (g *Gateway) handleMarkers(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(g.intake.Markers()); err != nil {
		g.logger.Error("failed to encode markers", "error", err)
	}
}

func (g *Gateway) handleMarker(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil || id <= 0 {
		g.sendJSONError(w, http.StatusBadRequest, "marker id must be a positive integer")
		return
	}
	m, err := g.intake.Marker(id)
	if errors.Is(err, markers.ErrNotFound) {
		g.sendJSONError(w, http.StatusNotFound, "marker not found")
		return
	}
	if err != nil {
		g.logger.Error("failed to get marker", "id", id, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(m); err != nil {
		g.logger.Error("failed to encode marker", "error", err)
	}
}

// handleFeedSSE streams feed events as Server-Sent Events until the client
// goes away or the hub closes.
func (g *Gateway) handleFeedSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		g.logger.Error("streaming not supported")
		g.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	events, subID := g.intake.Subscribe(r.Context())
	defer g.hub.Unsubscribe(subID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	fmt.Fprintf(w, ": connected %s\n\n", subID)
	flusher.Flush()

	g.logger.Debug("feed client connected", "transport", "sse", "sub_id", subID)

	ticker := time.NewTicker(g.keepalive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case ev, ok := <-events:
			if !ok {
				return
			}
			g.writeSSEEvent(w, string(ev.Kind), ev)
			flusher.Flush()
		}
	}
}

// handleFeedWS streams feed events as WebSocket text frames. Client frames
// are discarded.
func (g *Gateway) handleFeedWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		g.logger.Warn("websocket accept failed", "error", err)
		return
	}
	defer conn.CloseNow()

	ctx := conn.CloseRead(r.Context())
	events, subID := g.intake.Subscribe(ctx)
	defer g.hub.Unsubscribe(subID)

	g.logger.Debug("feed client connected", "transport", "websocket", "sub_id", subID)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
				return
			}
			if err := writeWSEvent(ctx, conn, ev); err != nil {
				if !errors.Is(err, context.Canceled) {
					g.logger.Debug("websocket write failed", "sub_id", subID, "error", err)
				}
				return
			}
		}
	}
}

func writeWSEvent(ctx context.Context, conn *websocket.Conn, ev feed.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding %s event: %w", ev.Kind, err)
	}
	ctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}

// writeSSEEvent writes a Server-Sent Event to the response writer.
func (g *Gateway) writeSSEEvent(w http.ResponseWriter, event string, data any) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		g.logger.Error("failed to marshal SSE data", "error", err)
		return
	}

	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", dataJSON)
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
