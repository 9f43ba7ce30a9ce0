// ABOUTME: Tests for the intake orchestrator
// ABOUTME: Drives full dialogues, geocoder failures, deletions and feed ordering with gomock doubles

package intake

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/2389/mapfeed/internal/chat"
	"github.com/2389/mapfeed/internal/dedupe"
	"github.com/2389/mapfeed/internal/extract"
	"github.com/2389/mapfeed/internal/feed"
	"github.com/2389/mapfeed/internal/geocode"
	"github.com/2389/mapfeed/internal/journal"
	"github.com/2389/mapfeed/internal/markers"
	"github.com/2389/mapfeed/internal/mocks"
	"github.com/2389/mapfeed/internal/session"
)

// mockSender records replies per chat.
type mockSender struct {
	mu      sync.Mutex
	replies []chat.Reply
}

func (m *mockSender) Send(_ context.Context, r chat.Reply) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replies = append(m.replies, r)
	return nil
}

func (m *mockSender) last() chat.Reply {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.replies) == 0 {
		return chat.Reply{}
	}
	return m.replies[len(m.replies)-1]
}

func (m *mockSender) textsFor(chatID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, r := range m.replies {
		if r.ChatID == chatID {
			out = append(out, r.Text)
		}
	}
	return out
}

type fixture struct {
	svc      *Service
	store    *markers.Store
	hub      *feed.Hub
	sessions *session.Manager
	geocoder *mocks.MockGeocoder
	sender   *mockSender
}

func newFixture(t *testing.T, tweak func(*Options)) *fixture {
	t.Helper()
	ctrl := gomock.NewController(t)

	places, err := extract.NewKeywordPlaces(extract.DefaultKeywords)
	require.NoError(t, err)

	f := &fixture{
		store:    markers.NewStore(),
		hub:      feed.NewHub(0, nil),
		sessions: session.NewManager(session.Options{Places: places}),
		geocoder: mocks.NewMockGeocoder(ctrl),
		sender:   &mockSender{},
	}
	t.Cleanup(f.hub.Close)

	opts := Options{Store: f.store, Hub: f.hub, Sessions: f.sessions, Geocoder: f.geocoder}
	if tweak != nil {
		tweak(&opts)
	}
	f.svc = New(opts)
	return f
}

func text(chatID, body string) chat.Update {
	return chat.Update{
		Network: "telegram", ChatID: chatID, SenderID: chatID,
		Message: chat.Message{Text: body},
	}
}

func forwarded(chatID, body string) chat.Update {
	u := text(chatID, body)
	u.Message.Forward = &chat.ForwardOrigin{
		Network: "telegram", ChatID: "-1001", Handle: "frontnews", MessageID: "77", Channel: true,
	}
	return u
}

func callback(chatID, data string) chat.Update {
	return chat.Update{
		Network: "telegram", ChatID: chatID, SenderID: chatID,
		Callback: &chat.Callback{ID: "cb-" + data, Data: data},
	}
}

func (f *fixture) handle(ctx context.Context, u chat.Update) {
	f.svc.HandleUpdate(ctx, f.sender, u)
}

func (f *fixture) addMarker(t *testing.T, chatID, place string, coords markers.Coordinates) markers.Marker {
	t.Helper()
	ctx := t.Context()
	f.geocoder.EXPECT().Resolve(gomock.Any(), place).Return(coords, nil)
	f.handle(ctx, text(chatID, "/start"))
	f.handle(ctx, forwarded(chatID, "post about "+place))
	f.handle(ctx, text(chatID, "village "+place))
	list := f.store.List()
	require.NotEmpty(t, list)
	return list[len(list)-1]
}

func nextEvent(t *testing.T, ch <-chan feed.Event) feed.Event {
	t.Helper()
	select {
	case e, ok := <-ch:
		require.True(t, ok, "feed closed")
		return e
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for feed event")
		return feed.Event{}
	}
}

func assertNoEvent(t *testing.T, ch <-chan feed.Event) {
	t.Helper()
	select {
	case e := <-ch:
		t.Fatalf("unexpected feed event %s", e.Kind)
	case <-time.After(50 * time.Millisecond):
	}
}

var lyman = markers.Coordinates{Lon: 37.8047, Lat: 48.9876}

func TestService_CompletedDialogueBroadcastsOneAdd(t *testing.T) {
	ctrl := gomock.NewController(t)
	j := mocks.NewMockJournal(ctrl)
	f := newFixture(t, func(o *Options) { o.Journal = j })
	ctx := t.Context()

	sub1, _ := f.svc.Subscribe(ctx)
	sub2, _ := f.svc.Subscribe(ctx)

	f.handle(ctx, text("42", "/start"))
	assert.Equal(t, replyStart, f.sender.last().Text)

	f.handle(ctx, forwarded("42", "Strikes reported"))
	assert.Equal(t, replyAskLocation, f.sender.last().Text)
	assert.Equal(t, session.AwaitingLocation, f.sessions.State("telegram:42"))

	f.geocoder.EXPECT().Resolve(gomock.Any(), "Lyman").Return(lyman, nil)
	j.EXPECT().Record(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, e journal.Entry) error {
		assert.Equal(t, journal.ActionAdd, e.Action)
		assert.Equal(t, 1, e.MarkerID)
		assert.Equal(t, "Strikes reported", e.PostText)
		assert.Equal(t, "telegram:42", e.Actor)
		return nil
	})
	f.handle(ctx, text("42", "village Lyman"))

	for i, sub := range []<-chan feed.Event{sub1, sub2} {
		e := nextEvent(t, sub)
		assert.Equal(t, feed.KindAdd, e.Kind, "subscriber %d", i)
		assert.Equal(t, "Lyman", e.Marker.Name)
		assert.Equal(t, lyman, e.Marker.Coords)
		require.NotNil(t, e.Marker.Link)
		assert.Equal(t, "https://t.me/frontnews/77", *e.Marker.Link)
		assertNoEvent(t, sub)
	}

	assert.Contains(t, f.sender.last().Text, "Added marker #1 Lyman")
	assert.Contains(t, f.sender.last().Text, "https://t.me/frontnews/77")
	assert.Equal(t, session.Idle, f.sessions.State("telegram:42"))
	assert.Equal(t, 1, f.store.Len())
}

func TestService_NonForwardedPostKeepsAwaitingPost(t *testing.T) {
	f := newFixture(t, nil)
	ctx := t.Context()

	f.handle(ctx, text("1", "/start"))
	for range 3 {
		f.handle(ctx, text("1", "just chatting"))
		assert.Equal(t, replyNotForwarded, f.sender.last().Text)
		assert.Equal(t, session.AwaitingPost, f.sessions.State("telegram:1"))
	}
}

func TestService_ForwardWithoutLinkIsRejected(t *testing.T) {
	f := newFixture(t, nil)
	ctx := t.Context()

	f.handle(ctx, text("1", "/start"))
	u := text("1", "no source here")
	u.Message.Forward = &chat.ForwardOrigin{Network: "telegram", ChatID: "99"}
	f.handle(ctx, u)

	assert.Equal(t, replyNoLink, f.sender.last().Text)
	assert.Equal(t, session.AwaitingPost, f.sessions.State("telegram:1"))
}

func TestService_ForwardWithUnparseableLinkIsRejected(t *testing.T) {
	f := newFixture(t, nil)
	ctx := t.Context()

	f.handle(ctx, text("1", "/start"))
	u := text("1", "shelling, source http://host:port/x")
	u.Message.Forward = &chat.ForwardOrigin{Network: "telegram", ChatID: "99"}
	f.handle(ctx, u)

	assert.Equal(t, replyNoLink, f.sender.last().Text)
	assert.Equal(t, session.AwaitingPost, f.sessions.State("telegram:1"))

	// Without a pending post a place name never reaches the geocoder.
	f.handle(ctx, text("1", "village Lyman"))
	assert.Equal(t, 0, f.store.Len())
}

func TestService_GeocoderFailuresKeepAwaitingLocation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := t.Context()
	sub, _ := f.svc.Subscribe(ctx)

	f.handle(ctx, text("1", "/start"))
	f.handle(ctx, forwarded("1", "post"))

	f.geocoder.EXPECT().Resolve(gomock.Any(), "Atlantis").Return(markers.Coordinates{}, geocode.ErrNotFound)
	f.handle(ctx, text("1", "city Atlantis"))
	assert.Contains(t, f.sender.last().Text, `"Atlantis"`)
	assert.Equal(t, session.AwaitingLocation, f.sessions.State("telegram:1"))
	assert.Equal(t, 0, f.store.Len())

	f.geocoder.EXPECT().Resolve(gomock.Any(), "Lyman").Return(markers.Coordinates{}, geocode.ErrUnavailable)
	f.handle(ctx, text("1", "village Lyman"))
	assert.Equal(t, replyGeocoderDown, f.sender.last().Text)
	assert.Equal(t, session.AwaitingLocation, f.sessions.State("telegram:1"))
	assert.Equal(t, 0, f.store.Len())
	assertNoEvent(t, sub)

	f.geocoder.EXPECT().Resolve(gomock.Any(), "Lyman").Return(lyman, nil)
	f.handle(ctx, text("1", "village Lyman"))
	assert.Equal(t, feed.KindAdd, nextEvent(t, sub).Kind)
	assert.Equal(t, session.Idle, f.sessions.State("telegram:1"))
}

func TestService_FallbackPlaceName(t *testing.T) {
	f := newFixture(t, nil)
	ctx := t.Context()

	f.handle(ctx, text("1", "/start"))
	f.handle(ctx, forwarded("1", "post"))
	f.geocoder.EXPECT().Resolve(gomock.Any(), "somewhere near the river").Return(lyman, nil)
	f.handle(ctx, text("1", "  Somewhere near the River "))

	require.Equal(t, 1, f.store.Len())
	assert.Equal(t, "somewhere near the river", f.store.List()[0].Name)
}

func TestService_MessageWithoutSession(t *testing.T) {
	f := newFixture(t, nil)
	f.handle(t.Context(), forwarded("1", "post"))

	assert.Equal(t, replyNeedStart, f.sender.last().Text)
	assert.Equal(t, 0, f.sessions.Len())
}

func TestService_CancelAndHelp(t *testing.T) {
	f := newFixture(t, nil)
	ctx := t.Context()

	f.handle(ctx, text("1", "/cancel"))
	assert.Equal(t, replyNothingToStop, f.sender.last().Text)

	f.handle(ctx, text("1", "/start"))
	f.handle(ctx, text("1", "/cancel"))
	assert.Equal(t, replyCancelled, f.sender.last().Text)
	assert.Equal(t, session.Idle, f.sessions.State("telegram:1"))

	f.handle(ctx, text("1", "/wat"))
	assert.Equal(t, replyHelp, f.sender.last().Text)
}

func TestService_DeleteByCallbackPublishesRemoveThenReplace(t *testing.T) {
	f := newFixture(t, nil)
	ctx := t.Context()

	a := f.addMarker(t, "1", "Lyman", lyman)
	b := f.addMarker(t, "1", "Izium", markers.Coordinates{Lon: 37.25, Lat: 49.2})
	c := f.addMarker(t, "1", "Siversk", markers.Coordinates{Lon: 38.09, Lat: 48.86})

	sub, _ := f.svc.Subscribe(ctx)

	f.handle(ctx, text("1", "/delete"))
	listed := f.sender.last()
	require.Len(t, listed.Choices, 3)
	assert.Equal(t, "del:1:2", listed.Choices[1].Data)

	f.handle(ctx, callback("1", listed.Choices[1].Data))

	removed := nextEvent(t, sub)
	assert.Equal(t, feed.KindRemove, removed.Kind)
	assert.Equal(t, b.ID, removed.Marker.ID)
	assert.Equal(t, b.Coords, removed.Marker.Coords)

	replaced := nextEvent(t, sub)
	assert.Equal(t, feed.KindReplace, replaced.Kind)
	assert.Equal(t, []markers.Marker{a, c}, replaced.Markers)

	assert.Equal(t, formatDeleted(b), f.sender.last().Text)
	for _, m := range f.svc.Markers() {
		assert.NotEqual(t, b.ID, m.ID)
	}
}

func TestService_StaleCallbackIsDetected(t *testing.T) {
	f := newFixture(t, nil)
	ctx := t.Context()

	f.addMarker(t, "1", "Lyman", lyman)
	b := f.addMarker(t, "1", "Izium", lyman)
	c := f.addMarker(t, "1", "Siversk", lyman)

	// Two operators act on the same presented list position.
	f.handle(ctx, callback("1", "del:1:2"))
	f.handle(ctx, callback("2", "del:1:2"))

	assert.Equal(t, formatDeleted(b), f.sender.textsFor("1")[len(f.sender.textsFor("1"))-1])
	assert.Equal(t, []string{replyStaleSelection}, f.sender.textsFor("2"))

	_, err := f.store.Get(c.ID)
	assert.NoError(t, err, "the marker now at that position survives")
	assert.Equal(t, 2, f.store.Len())
}

func TestService_ConcurrentStaleSelectionsOnlyOneSucceeds(t *testing.T) {
	f := newFixture(t, nil)
	ctx := t.Context()
	for _, place := range []string{"A", "B", "C", "D"} {
		f.addMarker(t, "op", place, lyman)
	}

	var wg sync.WaitGroup
	for i := range 6 {
		wg.Go(func() {
			f.handle(ctx, callback(string(rune('a'+i)), "del:2:3"))
		})
	}
	wg.Wait()

	assert.Equal(t, 3, f.store.Len())
	names := []string{}
	for _, m := range f.store.List() {
		names = append(names, m.Name)
	}
	assert.Equal(t, []string{"A", "B", "D"}, names)
}

func TestService_DeleteByNumber(t *testing.T) {
	f := newFixture(t, nil)
	ctx := t.Context()

	f.handle(ctx, text("1", "/delete 1"))
	assert.Equal(t, replyListFirst, f.sender.last().Text)

	a := f.addMarker(t, "1", "Lyman", lyman)
	f.addMarker(t, "1", "Izium", lyman)

	f.handle(ctx, text("1", "/list"))
	assert.Contains(t, f.sender.last().Text, "1. Lyman (#1)")
	assert.Contains(t, f.sender.last().Text, "2. Izium (#2)")

	f.handle(ctx, text("1", "/delete 9"))
	assert.Equal(t, replyBadNumber, f.sender.last().Text)
	f.handle(ctx, text("1", "/delete abc"))
	assert.Equal(t, replyBadNumber, f.sender.last().Text)

	f.handle(ctx, text("1", "/delete 1"))
	assert.Equal(t, formatDeleted(a), f.sender.last().Text)

	// The presented list is consumed by a successful delete.
	f.handle(ctx, text("1", "/delete 1"))
	assert.Equal(t, replyListFirst, f.sender.last().Text)
}

func TestService_DeleteByNumberAfterConcurrentChangeIsStale(t *testing.T) {
	f := newFixture(t, nil)
	ctx := t.Context()
	f.addMarker(t, "1", "Lyman", lyman)
	f.addMarker(t, "1", "Izium", lyman)

	f.handle(ctx, text("1", "/list"))
	f.handle(ctx, callback("2", "del:0:1"))

	f.handle(ctx, text("1", "/delete 2"))
	assert.Equal(t, replyStaleSelection, f.sender.last().Text)
	assert.Equal(t, 1, f.store.Len())
}

func TestService_EmptyList(t *testing.T) {
	f := newFixture(t, nil)
	f.handle(t.Context(), text("1", "/list"))
	assert.Equal(t, replyNoMarkers, f.sender.last().Text)
	assert.Empty(t, f.sender.last().Choices)
}

func TestService_OperatorsOnly(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.Operators = []string{"telegram:boss"} })
	ctx := t.Context()
	f.addMarker(t, "user", "Lyman", lyman)

	f.handle(ctx, text("user", "/list"))
	assert.Empty(t, f.sender.last().Choices, "non-operators get no buttons")

	f.handle(ctx, text("user", "/delete 1"))
	assert.Equal(t, replyNotOperator, f.sender.last().Text)
	f.handle(ctx, callback("user", "del:0:1"))
	assert.Equal(t, replyNotOperator, f.sender.last().Text)
	f.handle(ctx, text("user", "/clear"))
	assert.Equal(t, replyNotOperator, f.sender.last().Text)
	assert.Equal(t, 1, f.store.Len())

	f.handle(ctx, callback("boss", "del:0:1"))
	assert.Equal(t, 0, f.store.Len())
}

func TestService_Clear(t *testing.T) {
	ctrl := gomock.NewController(t)
	j := mocks.NewMockJournal(ctrl)
	// Two adds, two removes from the clear, one add afterwards.
	j.EXPECT().Record(gomock.Any(), gomock.Any()).Return(nil).Times(5)
	f := newFixture(t, func(o *Options) { o.Journal = j })
	ctx := t.Context()

	f.addMarker(t, "1", "Lyman", lyman)
	f.addMarker(t, "1", "Izium", lyman)
	sub, _ := f.svc.Subscribe(ctx)

	f.handle(ctx, text("1", "/clear"))

	e := nextEvent(t, sub)
	assert.Equal(t, feed.KindReplace, e.Kind)
	assert.Empty(t, e.Markers)
	assert.Equal(t, "All 2 markers removed.", f.sender.last().Text)

	m := f.addMarker(t, "1", "Siversk", lyman)
	assert.Equal(t, 3, m.ID, "ids keep increasing after a clear")
}

func TestService_InitialSnapshot(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.InitialSnapshot = true })
	ctx := t.Context()
	m := f.addMarker(t, "1", "Lyman", lyman)

	sub, _ := f.svc.Subscribe(ctx)
	e := nextEvent(t, sub)
	assert.Equal(t, feed.KindReplace, e.Kind)
	assert.Equal(t, []markers.Marker{m}, e.Markers)
}

func TestService_DuplicateUpdatesAreDropped(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.Dedupe = dedupe.New(time.Minute, 100) })
	ctx := t.Context()

	u := text("1", "/start")
	u.ID = "500"
	f.handle(ctx, u)
	f.handle(ctx, u)

	assert.Len(t, f.sender.textsFor("1"), 1)
}

func TestService_SlowGeocodeDoesNotBlockOtherChats(t *testing.T) {
	f := newFixture(t, nil)
	ctx := t.Context()

	release := make(chan struct{})
	f.geocoder.EXPECT().Resolve(gomock.Any(), "Lyman").DoAndReturn(
		func(ctx context.Context, _ string) (markers.Coordinates, error) {
			<-release
			return lyman, nil
		})

	f.handle(ctx, text("slow", "/start"))
	f.handle(ctx, forwarded("slow", "post"))

	done := make(chan struct{})
	go func() {
		f.handle(ctx, text("slow", "village Lyman"))
		close(done)
	}()

	// Another chat runs a full turn while the lookup is pending.
	otherDone := make(chan struct{})
	go func() {
		f.handle(ctx, text("fast", "/start"))
		f.handle(ctx, text("fast", "/list"))
		close(otherDone)
	}()
	select {
	case <-otherDone:
	case <-time.After(time.Second):
		t.Fatal("other chat blocked behind pending geocode")
	}
	assert.Equal(t, session.AwaitingPost, f.sessions.State("telegram:fast"))

	close(release)
	<-done
	assert.Equal(t, 1, f.store.Len())
}

func TestService_UnknownCallbackIgnored(t *testing.T) {
	f := newFixture(t, nil)
	f.handle(t.Context(), callback("1", "something-else"))
	assert.Empty(t, f.sender.replies)
}

func TestParseDeleteData(t *testing.T) {
	tests := []struct {
		data      string
		index, id int
		ok        bool
	}{
		{"del:0:1", 0, 1, true},
		{"del:12:40", 12, 40, true},
		{"del:-1:1", 0, 0, false},
		{"del:1:0", 0, 0, false},
		{"del:1", 0, 0, false},
		{"del:a:b", 0, 0, false},
		{"other:1:2", 0, 0, false},
	}
	for _, tt := range tests {
		index, id, ok := parseDeleteData(tt.data)
		assert.Equal(t, tt.ok, ok, tt.data)
		assert.Equal(t, tt.index, index, tt.data)
		assert.Equal(t, tt.id, id, tt.data)
	}
}
