// ABOUTME: Matrix transport implementing chat.Transport over a mautrix sync loop
// ABOUTME: Treats a reply to an event as a forwarded post and filters rooms and backlog

package matrix

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/samber/lo"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/mapfeed/internal/chat"
)

// Network is the chat.Update network name for Matrix.
const Network = "matrix"

// Config configures the Matrix transport.
type Config struct {
	Homeserver   string
	UserID       string
	AccessToken  string
	AllowedRooms []string
}

// sender is the subset of the mautrix client used to reply.
type sender interface {
	SendMessageEvent(ctx context.Context, roomID id.RoomID, eventType event.Type, contentJSON any, extra ...mautrix.ReqSendEvent) (*mautrix.RespSendEvent, error)
}

// Bridge is a Matrix transport.
//
// A reply stands in for a forward. The post text is read from the quoted
// fallback the client prepends to the reply body, so the journal records
// the replied-to post rather than the operator's comment. Clients that send
// no fallback leave only the operator's text to go on.
type Bridge struct {
	client  *mautrix.Client
	send    sender
	userID  id.UserID
	allowed []string
	since   time.Time
	logger  *slog.Logger
}

// New creates the Matrix client. It does not contact the homeserver until
// Run.
func New(cfg Config, logger *slog.Logger) (*Bridge, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Homeserver == "" || cfg.UserID == "" || cfg.AccessToken == "" {
		return nil, errors.New("matrix homeserver, user_id and access_token are required")
	}
	client, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("creating matrix client: %w", err)
	}
	return &Bridge{
		client:  client,
		send:    client,
		userID:  id.UserID(cfg.UserID),
		allowed: cfg.AllowedRooms,
		logger:  logger.With("component", "matrix"),
	}, nil
}

// Name implements chat.Transport.
func (b *Bridge) Name() string { return Network }

// Run syncs until ctx is cancelled. Events sent before Run started are
// ignored so the initial sync does not replay old commands.
func (b *Bridge) Run(ctx context.Context, handler chat.Handler) error {
	b.logger.Info("starting matrix bridge",
		"homeserver", b.client.HomeserverURL.String(),
		"user_id", b.userID.String())

	b.since = time.Now()

	syncer, ok := b.client.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return fmt.Errorf("unexpected syncer type: %T", b.client.Syncer)
	}
	syncer.OnEventType(event.EventMessage, func(_ context.Context, evt *event.Event) {
		u, ok := b.toUpdate(evt)
		if !ok {
			return
		}
		b.logger.Debug("received message",
			"room", u.ChatID,
			"sender", u.SenderID,
			"forwarded", u.Message.IsForwarded(),
			"content", truncate(u.Message.Text, 50))
		handler.HandleUpdate(ctx, b, u)
	})

	syncCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	syncErr := make(chan error, 1)
	go func() {
		syncErr <- b.client.SyncWithContext(syncCtx)
	}()

	b.logger.Info("matrix bridge running")

	select {
	case <-ctx.Done():
		b.logger.Info("shutting down matrix bridge")
		cancel()
		return nil
	case err := <-syncErr:
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("matrix sync failed: %w", err)
	}
}

// toUpdate converts a room message. Own messages, non-text messages,
// disallowed rooms and backlog are skipped.
func (b *Bridge) toUpdate(evt *event.Event) (chat.Update, bool) {
	if evt.Sender == b.userID {
		return chat.Update{}, false
	}
	if !b.since.IsZero() && time.UnixMilli(evt.Timestamp).Before(b.since) {
		return chat.Update{}, false
	}
	content, ok := evt.Content.Parsed.(*event.MessageEventContent)
	if !ok || content.MsgType != event.MsgText {
		return chat.Update{}, false
	}

	roomID := evt.RoomID.String()
	if !b.isRoomAllowed(roomID) {
		b.logger.Debug("ignoring message from non-allowed room", "room", roomID)
		return chat.Update{}, false
	}

	quoted, text := splitReplyFallback(content.Body)
	msg := chat.Message{Text: text}
	if content.RelatesTo != nil && content.RelatesTo.InReplyTo != nil && content.RelatesTo.InReplyTo.EventID != "" {
		if quoted != "" && !strings.HasPrefix(strings.TrimSpace(text), "/") {
			msg.Text = quoted
		}
		msg.Forward = &chat.ForwardOrigin{
			Network:   Network,
			ChatID:    roomID,
			MessageID: content.RelatesTo.InReplyTo.EventID.String(),
			Channel:   true,
		}
	}

	return chat.Update{
		ID:       evt.ID.String(),
		Network:  Network,
		ChatID:   roomID,
		SenderID: evt.Sender.String(),
		Message:  msg,
	}, true
}

// Send implements chat.Sender.
func (b *Bridge) Send(ctx context.Context, r chat.Reply) error {
	_, err := b.send.SendMessageEvent(ctx, id.RoomID(r.ChatID), event.EventMessage, renderReply(r))
	if err != nil {
		return fmt.Errorf("sending matrix message: %w", err)
	}
	return nil
}

func (b *Bridge) isRoomAllowed(roomID string) bool {
	return len(b.allowed) == 0 || lo.Contains(b.allowed, roomID)
}

// splitReplyFallback separates the "> quoted" lines clients prepend to
// replies from the reply itself. The quote loses its "> " markers and the
// "<@sender:server> " prefix of its first line.
func splitReplyFallback(body string) (quoted, reply string) {
	lines := strings.Split(body, "\n")
	i := 0
	for i < len(lines) && strings.HasPrefix(lines[i], "> ") {
		lines[i] = strings.TrimPrefix(lines[i], "> ")
		i++
	}
	quote := lines[:i]
	if len(quote) > 0 && strings.HasPrefix(quote[0], "<@") {
		if end := strings.Index(quote[0], "> "); end >= 0 {
			quote[0] = quote[0][end+2:]
		}
	}
	if i > 0 && i < len(lines) && lines[i] == "" {
		i++
	}
	return strings.TrimSpace(strings.Join(quote, "\n")), strings.Join(lines[i:], "\n")
}

// truncate shortens a string to maxLen runes, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
