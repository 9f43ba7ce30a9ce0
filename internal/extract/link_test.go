// ABOUTME: Tests for source link extraction
// ABOUTME: Covers channel permalinks, URL entities with UTF-16 offsets and the regex fallback

package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/2389/mapfeed/internal/chat"
)

func TestExtractLink_TelegramChannelHandle(t *testing.T) {
	msg := chat.Message{
		Text: "see https://example.com/other",
		Forward: &chat.ForwardOrigin{
			Network: "telegram", ChatID: "-1001234567890", Handle: "frontnews",
			MessageID: "812", Channel: true,
		},
	}
	link, ok := NewLinks().ExtractLink(msg)
	assert.True(t, ok)
	assert.Equal(t, "https://t.me/frontnews/812", link)
}

func TestExtractLink_TelegramChannelNumericID(t *testing.T) {
	msg := chat.Message{Forward: &chat.ForwardOrigin{
		Network: "telegram", ChatID: "-1001234567890", MessageID: "5", Channel: true,
	}}
	link, ok := NewLinks().ExtractLink(msg)
	assert.True(t, ok)
	assert.Equal(t, "https://t.me/c/1234567890/5", link)
}

func TestExtractLink_MatrixOrigin(t *testing.T) {
	link, ok := Permalink(&chat.ForwardOrigin{
		Network: "matrix", ChatID: "!room:example.org", MessageID: "$evt", Channel: true,
	})
	assert.True(t, ok)
	assert.Equal(t, "https://matrix.to/#/!room:example.org/$evt", link)
}

func TestExtractLink_UserForwardUsesEntity(t *testing.T) {
	// "Привіт " is 7 UTF-16 units; the emoji takes two more.
	text := "Привіт 🔥 t.me/news/1 and https://fallback.example"
	msg := chat.Message{
		Text:     text,
		Entities: []chat.Entity{{Type: chat.EntityURL, Offset: 10, Length: 11}},
		Forward:  &chat.ForwardOrigin{Network: "telegram", ChatID: "77"},
	}
	link, ok := NewLinks().ExtractLink(msg)
	assert.True(t, ok)
	assert.Equal(t, "https://t.me/news/1", link)
}

func TestExtractLink_TextLinkEntity(t *testing.T) {
	msg := chat.Message{
		Text:     "read more",
		Entities: []chat.Entity{{Type: "bold", Offset: 0, Length: 4}, {Type: chat.EntityTextLink, Offset: 5, Length: 4, URL: "https://news.example/a"}},
		Forward:  &chat.ForwardOrigin{Network: "telegram"},
	}
	link, ok := NewLinks().ExtractLink(msg)
	assert.True(t, ok)
	assert.Equal(t, "https://news.example/a", link)
}

func TestExtractLink_EntityOutOfRangeFallsBackToScan(t *testing.T) {
	msg := chat.Message{
		Text:     "source: https://news.example/story?id=3).",
		Entities: []chat.Entity{{Type: chat.EntityURL, Offset: 100, Length: 5}},
	}
	link, ok := NewLinks().ExtractLink(msg)
	assert.True(t, ok)
	assert.Equal(t, "https://news.example/story?id=3", link)
}

func TestExtractLink_None(t *testing.T) {
	for _, msg := range []chat.Message{
		{Text: "no links here"},
		{Text: "http://"},
		{Text: "", Forward: &chat.ForwardOrigin{Network: "telegram", ChatID: "5", MessageID: "1"}},
		{Forward: &chat.ForwardOrigin{Network: "telegram", Channel: true}},
	} {
		_, ok := NewLinks().ExtractLink(msg)
		assert.False(t, ok, "%+v", msg)
	}
}
