// ABOUTME: Intake orchestrator wiring sessions, geocoding, the marker store and the feed hub
// ABOUTME: Routes chat commands and dialogue turns, and serializes commits with their feed events

package intake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/2389/mapfeed/internal/chat"
	"github.com/2389/mapfeed/internal/dedupe"
	"github.com/2389/mapfeed/internal/feed"
	"github.com/2389/mapfeed/internal/geocode"
	"github.com/2389/mapfeed/internal/journal"
	"github.com/2389/mapfeed/internal/markers"
	"github.com/2389/mapfeed/internal/session"
)

//go:generate go run go.uber.org/mock/mockgen -source=service.go -destination=../mocks/mock_journal.go -package=mocks -mock_names=Journal=MockJournal Journal

// Journal records committed mutations. Failures are logged, never surfaced
// to the chat.
type Journal interface {
	Record(ctx context.Context, entry journal.Entry) error
}

// deleteCallbackPrefix starts the data of a delete choice: "del:<index>:<id>".
const deleteCallbackPrefix = "del:"

// Options configures a Service. Store, Hub, Sessions and Geocoder are
// required.
type Options struct {
	Store    *markers.Store
	Hub      *feed.Hub
	Sessions *session.Manager
	Geocoder geocode.Geocoder
	Journal  Journal
	Dedupe   *dedupe.Window
	// Operators are "network:senderID" keys allowed to delete. Empty allows
	// everyone.
	Operators []string
	// InitialSnapshot queues a replace event for every new subscriber.
	InitialSnapshot bool
	// SendTimeout bounds each outbound reply.
	SendTimeout time.Duration
	Logger      *slog.Logger
}

// Service is the intake orchestrator.
type Service struct {
	store    *markers.Store
	hub      *feed.Hub
	sessions *session.Manager
	geocoder geocode.Geocoder
	journal  Journal
	dedupe   *dedupe.Window
	opts     Options
	logger   *slog.Logger

	// commitMu orders store mutations with their feed events.
	commitMu sync.Mutex

	presentedMu sync.Mutex
	presented   map[string][]int // chat key -> marker ids as last listed
}

// New creates a Service.
func New(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 10 * time.Second
	}
	return &Service{
		store:     opts.Store,
		hub:       opts.Hub,
		sessions:  opts.Sessions,
		geocoder:  opts.Geocoder,
		journal:   opts.Journal,
		dedupe:    opts.Dedupe,
		opts:      opts,
		logger:    logger.With("component", "intake"),
		presented: make(map[string][]int),
	}
}

// Subscribe attaches a feed subscriber. With InitialSnapshot set, the
// current markers arrive first as a replace event, consistent with every
// event that follows.
func (s *Service) Subscribe(ctx context.Context) (<-chan feed.Event, string) {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	if s.opts.InitialSnapshot {
		return s.hub.Subscribe(ctx, feed.Replaced(s.store.List()))
	}
	return s.hub.Subscribe(ctx)
}

// Markers returns the current markers in insertion order.
func (s *Service) Markers() []markers.Marker {
	return s.store.List()
}

// Marker returns one marker by id.
func (s *Service) Marker(id int) (markers.Marker, error) {
	return s.store.Get(id)
}

// MarkerCount returns how many markers are on the map.
func (s *Service) MarkerCount() int {
	return s.store.Len()
}

// HandleUpdate processes one chat update. It implements chat.Handler.
func (s *Service) HandleUpdate(ctx context.Context, sender chat.Sender, u chat.Update) {
	if s.dedupe != nil && u.ID != "" && s.dedupe.Seen(u.Key()+"#"+u.ID) {
		s.logger.Debug("dropping duplicate update", "chat", u.Key(), "update_id", u.ID)
		return
	}

	chatKey := u.Key()
	unlock := s.sessions.Lock(chatKey)
	defer unlock()

	if u.Callback != nil {
		s.handleCallback(ctx, sender, u)
		return
	}

	if cmd, ok := chat.ParseCommand(u.Message.Text); ok {
		s.handleCommand(ctx, sender, u, cmd)
		return
	}

	switch s.sessions.State(chatKey) {
	case session.AwaitingPost:
		s.handlePost(ctx, sender, u)
	case session.AwaitingLocation:
		s.handleLocation(ctx, sender, u)
	default:
		s.reply(ctx, sender, u, replyNeedStart)
	}
}

func (s *Service) handleCommand(ctx context.Context, sender chat.Sender, u chat.Update, cmd chat.Command) {
	chatKey := u.Key()
	switch cmd.Name {
	case "start", "add":
		s.sessions.Start(chatKey)
		s.logger.Info("intake started", "chat", chatKey)
		s.reply(ctx, sender, u, replyStart)
	case "cancel", "stop":
		if s.sessions.Abort(chatKey) {
			s.reply(ctx, sender, u, replyCancelled)
			return
		}
		s.reply(ctx, sender, u, replyNothingToStop)
	case "list", "markers":
		s.presentMarkers(ctx, sender, u, "Markers:")
	case "delete", "del", "remove":
		if !s.isOperator(u) {
			s.reply(ctx, sender, u, replyNotOperator)
			return
		}
		if cmd.Args == "" {
			s.presentMarkers(ctx, sender, u, replyChooseDelete)
			return
		}
		s.deleteByNumber(ctx, sender, u, cmd.Args)
	case "clear":
		if !s.isOperator(u) {
			s.reply(ctx, sender, u, replyNotOperator)
			return
		}
		s.clear(ctx, sender, u)
	default:
		s.reply(ctx, sender, u, replyHelp)
	}
}

func (s *Service) handlePost(ctx context.Context, sender chat.Sender, u chat.Update) {
	_, err := s.sessions.AcceptPost(u.Key(), u.Message)
	if err != nil {
		s.replyRejected(ctx, sender, u, err)
		return
	}
	s.reply(ctx, sender, u, replyAskLocation)
}

func (s *Service) handleLocation(ctx context.Context, sender chat.Sender, u chat.Update) {
	chatKey := u.Key()
	req, err := s.sessions.AcceptLocation(chatKey, u.Message.Text)
	if err != nil {
		s.replyRejected(ctx, sender, u, err)
		return
	}

	coords, err := s.geocoder.Resolve(ctx, req.PlaceName)
	if err != nil {
		s.logger.Info("geocoding failed", "chat", chatKey, "place", req.PlaceName, "error", err)
		if errors.Is(err, geocode.ErrNotFound) {
			s.reply(ctx, sender, u, fmt.Sprintf(replyPlaceNotFound, req.PlaceName))
			return
		}
		s.reply(ctx, sender, u, replyGeocoderDown)
		return
	}

	m, err := s.commitAdd(req, coords)
	if err != nil {
		s.logger.Warn("marker rejected", "chat", chatKey, "place", req.PlaceName, "error", err)
		s.sessions.Abort(chatKey)
		s.reply(ctx, sender, u, replySaveFailed)
		return
	}
	s.sessions.Complete(chatKey)

	s.logger.Info("marker added", "chat", chatKey, "marker_id", m.ID, "name", m.Name)
	s.record(ctx, journal.Entry{
		Action: journal.ActionAdd, MarkerID: m.ID, Name: m.Name,
		Lon: m.Coords.Lon, Lat: m.Coords.Lat, Link: m.Link,
		PostText: req.PostText, Actor: chatKey,
	})
	s.reply(ctx, sender, u, formatAdded(m))
}

// commitAdd stores the marker and publishes it as one step.
func (s *Service) commitAdd(req session.Request, coords markers.Coordinates) (markers.Marker, error) {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	m, err := s.store.Add(req.PlaceName, coords, req.Link)
	if err != nil {
		return markers.Marker{}, err
	}
	s.hub.Publish(feed.Added(m))
	return m, nil
}

func (s *Service) presentMarkers(ctx context.Context, sender chat.Sender, u chat.Update, title string) {
	list := s.store.List()

	s.presentedMu.Lock()
	s.presented[u.Key()] = lo.Map(list, func(m markers.Marker, _ int) int { return m.ID })
	s.presentedMu.Unlock()

	if len(list) == 0 {
		s.reply(ctx, sender, u, replyNoMarkers)
		return
	}

	r := chat.Reply{ChatID: u.ChatID, Text: formatList(title, list)}
	if s.isOperator(u) {
		r.Choices = lo.Map(list, func(m markers.Marker, i int) chat.Choice {
			return chat.Choice{
				Label: choiceLabel(i+1, m),
				Data:  fmt.Sprintf("%s%d:%d", deleteCallbackPrefix, i, m.ID),
			}
		})
	}
	s.send(ctx, sender, r)
}

func (s *Service) deleteByNumber(ctx context.Context, sender chat.Sender, u chat.Update, arg string) {
	n, err := strconv.Atoi(strings.TrimPrefix(strings.TrimSpace(arg), "#"))
	if err != nil || n < 1 {
		s.reply(ctx, sender, u, replyBadNumber)
		return
	}

	s.presentedMu.Lock()
	ids, ok := s.presented[u.Key()]
	s.presentedMu.Unlock()
	if !ok {
		s.reply(ctx, sender, u, replyListFirst)
		return
	}
	if n > len(ids) {
		s.reply(ctx, sender, u, replyBadNumber)
		return
	}
	s.deleteAt(ctx, sender, u, n-1, ids[n-1])
}

func (s *Service) handleCallback(ctx context.Context, sender chat.Sender, u chat.Update) {
	index, id, ok := parseDeleteData(u.Callback.Data)
	if !ok {
		s.logger.Debug("ignoring unknown callback", "chat", u.Key(), "data", u.Callback.Data)
		return
	}
	if !s.isOperator(u) {
		s.reply(ctx, sender, u, replyNotOperator)
		return
	}
	s.deleteAt(ctx, sender, u, index, id)
}

func (s *Service) deleteAt(ctx context.Context, sender chat.Sender, u chat.Update, index, expectedID int) {
	m, err := s.commitRemove(index, expectedID)
	if err != nil {
		s.logger.Info("stale delete selection", "chat", u.Key(), "index", index, "marker_id", expectedID, "error", err)
		s.reply(ctx, sender, u, replyStaleSelection)
		return
	}

	s.presentedMu.Lock()
	delete(s.presented, u.Key())
	s.presentedMu.Unlock()

	s.logger.Info("marker deleted", "chat", u.Key(), "marker_id", m.ID, "name", m.Name)
	s.record(ctx, journal.Entry{
		Action: journal.ActionRemove, MarkerID: m.ID, Name: m.Name,
		Lon: m.Coords.Lon, Lat: m.Coords.Lat, Link: m.Link, Actor: u.Key(),
	})
	s.reply(ctx, sender, u, formatDeleted(m))
}

// commitRemove removes the selected marker and publishes remove, then
// replace with what is left.
func (s *Service) commitRemove(index, expectedID int) (markers.Marker, error) {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	m, err := s.store.RemoveAt(index, expectedID)
	if err != nil {
		return markers.Marker{}, err
	}
	s.hub.Publish(feed.Removed(m))
	s.hub.Publish(feed.Replaced(s.store.List()))
	return m, nil
}

func (s *Service) clear(ctx context.Context, sender chat.Sender, u chat.Update) {
	removed, err := s.ReplaceAll(nil)
	if err != nil {
		s.logger.Error("clearing markers failed", "error", err)
		return
	}
	for _, m := range removed {
		s.record(ctx, journal.Entry{
			Action: journal.ActionRemove, MarkerID: m.ID, Name: m.Name,
			Lon: m.Coords.Lon, Lat: m.Coords.Lat, Link: m.Link, Actor: u.Key(),
		})
	}
	s.logger.Info("markers cleared", "chat", u.Key(), "count", len(removed))
	s.reply(ctx, sender, u, fmt.Sprintf(replyCleared, len(removed)))
}

// ReplaceAll swaps the whole marker collection and publishes one replace
// event. It returns the markers that were replaced.
func (s *Service) ReplaceAll(next []markers.Marker) ([]markers.Marker, error) {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	prev := s.store.List()
	if err := s.store.ReplaceAll(next); err != nil {
		return nil, err
	}
	s.hub.Publish(feed.Replaced(s.store.List()))
	return prev, nil
}

func (s *Service) isOperator(u chat.Update) bool {
	if len(s.opts.Operators) == 0 {
		return true
	}
	return lo.Contains(s.opts.Operators, u.Network+":"+u.SenderID)
}

func (s *Service) replyRejected(ctx context.Context, sender chat.Sender, u chat.Update, err error) {
	reason, ok := session.ReasonOf(err)
	if !ok {
		s.logger.Error("unexpected session error", "chat", u.Key(), "error", err)
		return
	}
	switch reason {
	case session.ReasonNotForwarded:
		s.reply(ctx, sender, u, replyNotForwarded)
	case session.ReasonNoLink:
		s.reply(ctx, sender, u, replyNoLink)
	case session.ReasonNoPlace:
		s.reply(ctx, sender, u, replyNoPlace)
	default:
		s.reply(ctx, sender, u, replyNeedStart)
	}
}

func (s *Service) record(ctx context.Context, e journal.Entry) {
	if s.journal == nil {
		return
	}
	if err := s.journal.Record(ctx, e); err != nil {
		s.logger.Error("journal write failed", "action", e.Action, "marker_id", e.MarkerID, "error", err)
	}
}

func (s *Service) reply(ctx context.Context, sender chat.Sender, u chat.Update, text string) {
	s.send(ctx, sender, chat.Reply{ChatID: u.ChatID, Text: text})
}

func (s *Service) send(ctx context.Context, sender chat.Sender, r chat.Reply) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.SendTimeout)
	defer cancel()
	if err := sender.Send(ctx, r); err != nil {
		s.logger.Error("sending reply failed", "chat", r.ChatID, "error", err)
	}
}

func parseDeleteData(data string) (index, id int, ok bool) {
	rest, found := strings.CutPrefix(data, deleteCallbackPrefix)
	if !found {
		return 0, 0, false
	}
	a, b, found := strings.Cut(rest, ":")
	if !found {
		return 0, 0, false
	}
	index, err := strconv.Atoi(a)
	if err != nil || index < 0 {
		return 0, 0, false
	}
	id, err = strconv.Atoi(b)
	if err != nil || id <= 0 {
		return 0, 0, false
	}
	return index, id, true
}
