// ABOUTME: Source link extraction from forwarded chat messages
// ABOUTME: Channel permalinks win, then URL entities, then a regex scan of the text

package extract

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf16"

	"github.com/2389/mapfeed/internal/chat"
)

// LinkExtractor finds the source link of a forwarded post.
type LinkExtractor interface {
	ExtractLink(msg chat.Message) (string, bool)
}

var urlPattern = regexp.MustCompile(`(?i)\bhttps?://[^\s<>"']+`)

// trailing punctuation that is almost never part of a pasted URL
const urlTrailers = ".,;:!?)]}»\"'"

// Links is the default LinkExtractor.
type Links struct{}

// NewLinks returns the default link extractor.
func NewLinks() Links {
	return Links{}
}

// ExtractLink returns the best link for msg, or false when none is found.
func (Links) ExtractLink(msg chat.Message) (string, bool) {
	if link, ok := Permalink(msg.Forward); ok {
		return link, true
	}
	if link, ok := entityLink(msg.Text, msg.Entities); ok {
		return link, true
	}
	return scanText(msg.Text)
}

// Permalink synthesizes a canonical link to a forwarded channel post.
// Telegram channels prefer the public handle over the numeric id.
func Permalink(origin *chat.ForwardOrigin) (string, bool) {
	if origin == nil || !origin.Channel || origin.MessageID == "" {
		return "", false
	}
	switch origin.Network {
	case "telegram":
		if origin.Handle != "" {
			return fmt.Sprintf("https://t.me/%s/%s", strings.TrimPrefix(origin.Handle, "@"), origin.MessageID), true
		}
		if origin.ChatID == "" {
			return "", false
		}
		id := strings.TrimPrefix(origin.ChatID, "-100")
		id = strings.TrimPrefix(id, "-")
		return fmt.Sprintf("https://t.me/c/%s/%s", id, origin.MessageID), true
	case "matrix":
		room := origin.ChatID
		if origin.Handle != "" {
			room = origin.Handle
		}
		if room == "" {
			return "", false
		}
		return fmt.Sprintf("https://matrix.to/#/%s/%s", room, origin.MessageID), true
	default:
		return "", false
	}
}

func entityLink(text string, entities []chat.Entity) (string, bool) {
	if len(entities) == 0 {
		return "", false
	}
	units := utf16.Encode([]rune(text))
	for _, e := range entities {
		switch e.Type {
		case chat.EntityTextLink:
			if e.URL != "" {
				return e.URL, true
			}
		case chat.EntityURL:
			if e.Offset < 0 || e.Length <= 0 || e.Offset+e.Length > len(units) {
				continue
			}
			raw := strings.TrimSpace(string(utf16.Decode(units[e.Offset : e.Offset+e.Length])))
			if raw == "" {
				continue
			}
			if !strings.Contains(raw, "://") {
				raw = "https://" + raw
			}
			return raw, true
		}
	}
	return "", false
}

func scanText(text string) (string, bool) {
	match := urlPattern.FindString(text)
	match = strings.TrimRight(match, urlTrailers)
	if match == "" || strings.HasSuffix(match, "://") {
		return "", false
	}
	return match, true
}
