// ABOUTME: Session table keyed by chat identity, driving the intake state machine
// ABOUTME: Pure state transitions plus a per-chat turn lock; no network calls happen here

package session

import (
	"strings"
	"sync"
	"time"

	"github.com/2389/mapfeed/internal/chat"
	"github.com/2389/mapfeed/internal/extract"
	"github.com/2389/mapfeed/internal/markers"
)

// DefaultPlaceholder stands in for a forwarded post with no text.
const DefaultPlaceholder = "(no text)"

// Options configures a Manager.
type Options struct {
	LinkPolicy  LinkPolicy
	Placeholder string
	Links       extract.LinkExtractor
	Places      extract.PlaceExtractor
	Now         func() time.Time
}

// Manager owns every chat's session.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	turns    map[string]*turnLock
	opts     Options
}

type turnLock struct {
	mu   sync.Mutex
	refs int
}

// NewManager creates a session manager. Places must be set; the other
// options have defaults.
func NewManager(opts Options) *Manager {
	if opts.LinkPolicy == "" {
		opts.LinkPolicy = LinkRequired
	}
	if opts.Placeholder == "" {
		opts.Placeholder = DefaultPlaceholder
	}
	if opts.Links == nil {
		opts.Links = extract.NewLinks()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Manager{
		sessions: make(map[string]*Session),
		turns:    make(map[string]*turnLock),
		opts:     opts,
	}
}

// Start opens (or restarts) the chat's session in AwaitingPost.
func (m *Manager) Start(chatID string) Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := &Session{ChatID: chatID, State: AwaitingPost, StartedAt: m.opts.Now()}
	m.sessions[chatID] = s
	return *s
}

// Get returns a copy of the chat's session.
func (m *Manager) Get(chatID string) (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[chatID]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// State returns the chat's dialogue step; Idle when there is no session.
func (m *Manager) State(chatID string) State {
	s, ok := m.Get(chatID)
	if !ok {
		return Idle
	}
	return s.State
}

// AcceptPost handles a message while awaiting the forwarded post. On
// success the session moves to AwaitingLocation with the post text and link
// captured.
func (m *Manager) AcceptPost(chatID string, msg chat.Message) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.expectLocked(chatID, AwaitingPost)
	if err != nil {
		return Session{}, err
	}
	if !msg.IsForwarded() {
		return Session{}, &ValidationError{ChatID: chatID, Reason: ReasonNotForwarded, State: s.State}
	}

	var link *string
	// A link the store would reject counts as no link.
	if l, ok := m.opts.Links.ExtractLink(msg); ok && markers.ValidLink(l) {
		link = &l
	} else if m.opts.LinkPolicy == LinkRequired {
		return Session{}, &ValidationError{ChatID: chatID, Reason: ReasonNoLink, State: s.State}
	}

	text := strings.TrimSpace(msg.Text)
	if text == "" {
		text = m.opts.Placeholder
	}
	s.State = AwaitingLocation
	s.PendingPostText = text
	s.PendingLink = link
	return *s, nil
}

// AcceptLocation extracts a place name while awaiting the location. The
// session stays in AwaitingLocation; call Complete once the marker is
// committed.
func (m *Manager) AcceptLocation(chatID, text string) (Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.expectLocked(chatID, AwaitingLocation)
	if err != nil {
		return Request{}, err
	}
	place, ok := m.opts.Places.ExtractPlace(text)
	if !ok || strings.TrimSpace(place) == "" {
		return Request{}, &ValidationError{ChatID: chatID, Reason: ReasonNoPlace, State: s.State}
	}

	req := Request{ChatID: chatID, PlaceName: place, PostText: s.PendingPostText}
	if s.PendingLink != nil {
		l := *s.PendingLink
		req.Link = &l
	}
	return req, nil
}

// Complete ends the session after a successful commit.
func (m *Manager) Complete(chatID string) {
	m.Abort(chatID)
}

// Abort drops the chat's session. It reports whether one existed.
func (m *Manager) Abort(chatID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.sessions[chatID]
	delete(m.sessions, chatID)
	return ok
}

// Len returns the number of open sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Lock serializes turns for one chat. The returned func releases the lock.
// Turns in different chats never wait on each other.
func (m *Manager) Lock(chatID string) (unlock func()) {
	m.mu.Lock()
	tl, ok := m.turns[chatID]
	if !ok {
		tl = &turnLock{}
		m.turns[chatID] = tl
	}
	tl.refs++
	m.mu.Unlock()

	tl.mu.Lock()
	return func() {
		tl.mu.Unlock()

		m.mu.Lock()
		tl.refs--
		if tl.refs == 0 {
			delete(m.turns, chatID)
		}
		m.mu.Unlock()
	}
}

func (m *Manager) expectLocked(chatID string, want State) (*Session, error) {
	s, ok := m.sessions[chatID]
	if !ok {
		return nil, &ValidationError{ChatID: chatID, Reason: ReasonNoSession, State: Idle}
	}
	if s.State != want {
		return nil, &ValidationError{ChatID: chatID, Reason: ReasonWrongState, State: s.State}
	}
	return s, nil
}
