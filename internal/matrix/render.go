// ABOUTME: Markdown to Matrix message content rendering using goldmark
// ABOUTME: Keeps the plain body for clients without HTML support

package matrix

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark"
	"maunium.net/go/mautrix/event"

	"github.com/2389/mapfeed/internal/chat"
)

var markdown = goldmark.New()

const choiceHint = "Reply with /delete <number> to remove one."

// renderReply builds the message content for r. Choices are already listed
// in the text, so only a usage hint is appended.
func renderReply(r chat.Reply) *event.MessageEventContent {
	body := r.Text
	if len(r.Choices) > 0 {
		body += "\n\n" + choiceHint
	}

	content := &event.MessageEventContent{
		MsgType: event.MsgText,
		Body:    body,
	}

	var buf bytes.Buffer
	if err := markdown.Convert([]byte(body), &buf); err == nil {
		html := strings.TrimSpace(buf.String())
		// Skip formatting when it adds nothing over the plain body.
		if html != "<p>"+body+"</p>" {
			content.Format = event.FormatHTML
			content.FormattedBody = html
		}
	}
	return content
}
