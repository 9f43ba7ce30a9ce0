// ABOUTME: Transport-neutral chat types shared by the Telegram and Matrix adapters
// ABOUTME: Updates flow in through a Handler, replies flow out through a Sender

package chat

import (
	"context"
	"strings"
)

// Entity marks a span of a message's text. Offset and Length count UTF-16
// code units, the unit chat networks use for entity spans.
type Entity struct {
	Type   string
	Offset int
	Length int
	URL    string
}

// Entity types understood by link extraction.
const (
	EntityURL      = "url"
	EntityTextLink = "text_link"
)

// ForwardOrigin describes where a forwarded message originally came from.
type ForwardOrigin struct {
	// Network is the transport name, e.g. "telegram" or "matrix".
	Network string
	// ChatID is the origin chat's identifier (numeric channel id or room id).
	ChatID string
	// Handle is the origin chat's public username, if it has one.
	Handle string
	// MessageID is the origin message identifier (message id or event id).
	MessageID string
	// Channel is true when the origin is a broadcast channel post.
	Channel bool
}

// Message is the text payload of an inbound update.
type Message struct {
	Text     string
	Entities []Entity
	Forward  *ForwardOrigin
}

// IsForwarded reports whether the message carries forward-origin metadata.
func (m Message) IsForwarded() bool {
	return m.Forward != nil
}

// Callback is a button press on a previously sent reply.
type Callback struct {
	ID   string
	Data string
}

// Update is one inbound event for a chat.
type Update struct {
	// ID is unique per transport and used to drop redeliveries.
	ID       string
	Network  string
	ChatID   string
	SenderID string
	Message  Message
	Callback *Callback
}

// Key identifies the chat across transports.
func (u Update) Key() string {
	return u.Network + ":" + u.ChatID
}

// Choice is one selectable item in a reply.
type Choice struct {
	Label string
	Data  string
}

// Reply is an outbound message. Choices render as buttons where the
// transport supports them.
type Reply struct {
	ChatID  string
	Text    string
	Choices []Choice
}

// Sender delivers replies back to a chat.
type Sender interface {
	Send(ctx context.Context, reply Reply) error
}

// Handler processes one inbound update. The transport passes itself as the
// Sender so handlers can reply on the same network.
type Handler interface {
	HandleUpdate(ctx context.Context, sender Sender, update Update)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, sender Sender, update Update)

// HandleUpdate calls f.
func (f HandlerFunc) HandleUpdate(ctx context.Context, sender Sender, update Update) {
	f(ctx, sender, update)
}

// Transport is a chat network connection.
type Transport interface {
	Sender
	Name() string
	// Run receives updates until ctx is cancelled.
	Run(ctx context.Context, handler Handler) error
}

// Command is a parsed slash command.
type Command struct {
	Name string
	Args string
}

// ParseCommand recognizes "/name args" and "!name args". A "@botname"
// suffix on the command name is dropped. Names are lower-cased.
func ParseCommand(text string) (Command, bool) {
	text = strings.TrimSpace(text)
	if len(text) < 2 || (text[0] != '/' && text[0] != '!') {
		return Command{}, false
	}
	name, args, _ := strings.Cut(text[1:], " ")
	name, _, _ = strings.Cut(name, "@")
	if name == "" {
		return Command{}, false
	}
	return Command{Name: strings.ToLower(name), Args: strings.TrimSpace(args)}, true
}
