// ABOUTME: Tests for the intake session state machine
// ABOUTME: Covers transitions, rejected input, link policy and per-chat turn locking

package session

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/mapfeed/internal/chat"
	"github.com/2389/mapfeed/internal/extract"
)

func newManager(t *testing.T, policy LinkPolicy) *Manager {
	t.Helper()
	places, err := extract.NewKeywordPlaces(extract.DefaultKeywords)
	require.NoError(t, err)
	return NewManager(Options{
		LinkPolicy: policy,
		Places:     places,
		Now:        func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) },
	})
}

func channelPost(text string) chat.Message {
	return chat.Message{
		Text: text,
		Forward: &chat.ForwardOrigin{
			Network: "telegram", ChatID: "-1009", Handle: "front", MessageID: "42", Channel: true,
		},
	}
}

func requireReason(t *testing.T, err error, want Reason) {
	t.Helper()
	require.Error(t, err)
	got, ok := ReasonOf(err)
	require.True(t, ok, "expected ValidationError, got %v", err)
	assert.Equal(t, want, got)
}

func TestManager_FullDialogue(t *testing.T) {
	m := newManager(t, LinkRequired)
	assert.Equal(t, Idle, m.State("c1"))

	s := m.Start("c1")
	assert.Equal(t, AwaitingPost, s.State)
	assert.Equal(t, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), s.StartedAt)

	s, err := m.AcceptPost("c1", channelPost("  explosions reported  "))
	require.NoError(t, err)
	assert.Equal(t, AwaitingLocation, s.State)
	assert.Equal(t, "explosions reported", s.PendingPostText)
	require.NotNil(t, s.PendingLink)
	assert.Equal(t, "https://t.me/front/42", *s.PendingLink)

	req, err := m.AcceptLocation("c1", "village Lyman")
	require.NoError(t, err)
	assert.Equal(t, Request{ChatID: "c1", PlaceName: "Lyman", PostText: "explosions reported", Link: s.PendingLink}, req)
	assert.Equal(t, AwaitingLocation, m.State("c1"), "session waits for commit")

	m.Complete("c1")
	assert.Equal(t, Idle, m.State("c1"))
	assert.Equal(t, 0, m.Len())
}

func TestManager_NonForwardedPostIsIdempotent(t *testing.T) {
	m := newManager(t, LinkRequired)
	m.Start("c1")
	before, _ := m.Get("c1")

	for range 3 {
		_, err := m.AcceptPost("c1", chat.Message{Text: "https://example.com just text"})
		requireReason(t, err, ReasonNotForwarded)
	}
	after, ok := m.Get("c1")
	require.True(t, ok)
	assert.Equal(t, before, after)
}

func TestManager_RequiredLinkRejectsPostWithoutLink(t *testing.T) {
	m := newManager(t, LinkRequired)
	m.Start("c1")

	msg := chat.Message{Text: "no link", Forward: &chat.ForwardOrigin{Network: "telegram", ChatID: "5"}}
	_, err := m.AcceptPost("c1", msg)
	requireReason(t, err, ReasonNoLink)
	assert.Equal(t, AwaitingPost, m.State("c1"))
}

func TestManager_OptionalLinkAllowsNil(t *testing.T) {
	m := newManager(t, LinkOptional)
	m.Start("c1")

	msg := chat.Message{Forward: &chat.ForwardOrigin{Network: "telegram", ChatID: "5"}}
	s, err := m.AcceptPost("c1", msg)
	require.NoError(t, err)
	assert.Nil(t, s.PendingLink)
	assert.Equal(t, DefaultPlaceholder, s.PendingPostText)

	req, err := m.AcceptLocation("c1", "Somewhere Near The River")
	require.NoError(t, err)
	assert.Equal(t, "somewhere near the river", req.PlaceName)
	assert.Nil(t, req.Link)
}

func TestManager_UnparseableLinkCountsAsNoLink(t *testing.T) {
	msg := chat.Message{
		Text:    "shelling, source http://host:port/x",
		Forward: &chat.ForwardOrigin{Network: "telegram", ChatID: "5"},
	}

	required := newManager(t, LinkRequired)
	required.Start("c1")
	_, err := required.AcceptPost("c1", msg)
	requireReason(t, err, ReasonNoLink)
	assert.Equal(t, AwaitingPost, required.State("c1"))

	optional := newManager(t, LinkOptional)
	optional.Start("c1")
	s, err := optional.AcceptPost("c1", msg)
	require.NoError(t, err)
	assert.Equal(t, AwaitingLocation, s.State)
	assert.Nil(t, s.PendingLink)
}

func TestManager_BlankLocationStaysAwaiting(t *testing.T) {
	m := newManager(t, LinkRequired)
	m.Start("c1")
	_, err := m.AcceptPost("c1", channelPost(""))
	require.NoError(t, err)

	_, err = m.AcceptLocation("c1", "   ")
	requireReason(t, err, ReasonNoPlace)
	assert.Equal(t, AwaitingLocation, m.State("c1"))
}

func TestManager_NoSessionAndWrongState(t *testing.T) {
	m := newManager(t, LinkRequired)

	_, err := m.AcceptPost("ghost", channelPost("x"))
	requireReason(t, err, ReasonNoSession)
	_, err = m.AcceptLocation("ghost", "village Lyman")
	requireReason(t, err, ReasonNoSession)
	assert.Equal(t, 0, m.Len(), "rejected input never creates a session")

	m.Start("c1")
	_, err = m.AcceptLocation("c1", "village Lyman")
	requireReason(t, err, ReasonWrongState)

	_, err = m.AcceptPost("c1", channelPost("x"))
	require.NoError(t, err)
	_, err = m.AcceptPost("c1", channelPost("y"))
	requireReason(t, err, ReasonWrongState)
}

func TestManager_StartResetsAndAbortDrops(t *testing.T) {
	m := newManager(t, LinkRequired)
	m.Start("c1")
	_, err := m.AcceptPost("c1", channelPost("x"))
	require.NoError(t, err)

	s := m.Start("c1")
	assert.Equal(t, AwaitingPost, s.State)
	assert.Empty(t, s.PendingPostText)
	assert.Nil(t, s.PendingLink)

	assert.True(t, m.Abort("c1"))
	assert.False(t, m.Abort("c1"))
}

func TestManager_SessionsAreIndependent(t *testing.T) {
	m := newManager(t, LinkRequired)
	m.Start("a")
	m.Start("b")

	_, err := m.AcceptPost("a", channelPost("a-post"))
	require.NoError(t, err)

	assert.Equal(t, AwaitingLocation, m.State("a"))
	assert.Equal(t, AwaitingPost, m.State("b"))
}

func TestManager_GetReturnsCopy(t *testing.T) {
	m := newManager(t, LinkRequired)
	m.Start("c1")
	_, err := m.AcceptPost("c1", channelPost("x"))
	require.NoError(t, err)

	s, _ := m.Get("c1")
	s.State = Idle
	s.PendingPostText = "changed"

	again, _ := m.Get("c1")
	assert.Equal(t, AwaitingLocation, again.State)
	assert.Equal(t, "x", again.PendingPostText)
}

func TestManager_LockSerializesOneChatOnly(t *testing.T) {
	m := newManager(t, LinkRequired)

	var inside atomic.Int32
	var maxInside atomic.Int32
	var wg sync.WaitGroup
	for range 10 {
		wg.Go(func() {
			unlock := m.Lock("same")
			defer unlock()
			n := inside.Add(1)
			if n > maxInside.Load() {
				maxInside.Store(n)
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
		})
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInside.Load())

	// A held lock on one chat does not block another.
	unlock := m.Lock("a")
	done := make(chan struct{})
	go func() {
		m.Lock("b")()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on chat b blocked behind chat a")
	}
	unlock()

	m.mu.Lock()
	assert.Empty(t, m.turns)
	m.mu.Unlock()
}

func TestParseLinkPolicy(t *testing.T) {
	p, err := ParseLinkPolicy("")
	require.NoError(t, err)
	assert.Equal(t, LinkRequired, p)

	p, err = ParseLinkPolicy(" Optional ")
	require.NoError(t, err)
	assert.Equal(t, LinkOptional, p)

	_, err = ParseLinkPolicy("sometimes")
	assert.Error(t, err)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "IDLE", Idle.String())
	assert.Equal(t, "AWAITING_POST", AwaitingPost.String())
	assert.Equal(t, "AWAITING_LOCATION", AwaitingLocation.String())
}
