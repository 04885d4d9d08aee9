package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"guildchat/realtime/internal/models"
	"guildchat/realtime/internal/ratelimit"
)

// ErrNoActiveRoom is returned by operations that need a room before
// Connect was called.
var ErrNoActiveRoom = errors.New("no active room")

// Session is the single object the application talks to for real-time
// messaging. It composes the rate limiter, reconnecting transport,
// message store and typing coordinator for exactly one active room at a
// time, and emits a typed, ordered event stream.
//
// Sessions are instances, never process-wide singletons: create one per
// logical consumer and Close it when done.
type Session struct {
	cfg       Config
	logger    zerolog.Logger
	limiter   *ratelimit.Window
	transport *Transport
	history   HistoryFetcher

	events chan Event
	emitMu sync.Mutex
	done   chan struct{}

	mu             sync.Mutex
	store          *Store
	typing         *typingCoordinator
	roomID         string
	epoch          int
	pending        *pendingLoad
	disconnectedAt time.Time
	wasConnected   bool
	closed         bool
}

type pendingLoad struct {
	done chan struct{}
	msgs []models.Message
	err  error
}

// SessionDeps lets tests substitute the network-facing collaborators.
// Zero values select the production websocket dialer and HTTP history
// client derived from the Config URLs.
type SessionDeps struct {
	Dialer  Dialer
	History HistoryFetcher
}

// NewSession creates and starts a session. The session is idle until
// Connect is called.
func NewSession(cfg Config) (*Session, error) {
	return NewSessionWithDeps(cfg, SessionDeps{})
}

// NewSessionWithDeps is NewSession with injectable collaborators.
func NewSessionWithDeps(cfg Config, deps SessionDeps) (*Session, error) {
	cfg = cfg.withDefaults()
	if cfg.Tokens == nil {
		return nil, errors.New("messaging: Config.Tokens is required")
	}
	if deps.Dialer == nil {
		if cfg.ServerURL == "" {
			return nil, errors.New("messaging: Config.ServerURL is required")
		}
		deps.Dialer = NewWSDialer(cfg.ServerURL)
	}
	if deps.History == nil {
		historyURL := cfg.HistoryURL
		if historyURL == "" {
			historyURL = strings.Replace(cfg.ServerURL, "ws", "http", 1)
		}
		deps.History = NewHTTPHistory(historyURL, cfg.Tokens)
	}

	s := &Session{
		cfg:     cfg,
		logger:  cfg.Logger.With().Str("component", "session").Logger(),
		limiter: ratelimit.NewWindow(cfg.MaxMessagesPerMinute, time.Minute),
		history: deps.History,
		events:  make(chan Event, 256),
		done:    make(chan struct{}),
		store:   NewStore(""),
		typing:  newTypingCoordinator(),
	}
	s.transport = NewTransport(TransportConfig{
		Dialer:            deps.Dialer,
		Tokens:            cfg.Tokens,
		ReconnectDelay:    cfg.ReconnectDelay,
		MaxReconnectDelay: cfg.MaxReconnectDelay,
		ReconnectAttempts: cfg.ReconnectAttempts,
		Logger:            cfg.Logger,
	})

	go s.run()
	return s, nil
}

// Events is the session's ordered event stream. Events are delivered at
// most once; under extreme consumer lag the oldest buffered events are
// dropped rather than stalling the session.
func (s *Session) Events() <-chan Event { return s.events }

// Done is closed when the session is disposed.
func (s *Session) Done() <-chan struct{} { return s.done }

// Connect switches the session to roomID: previous room state is
// disposed, the store and rate limit window start fresh, and the
// transport dials the new room. Any in-flight page load for the old room
// is discarded via the epoch counter.
func (s *Session) Connect(roomID string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.epoch++
	s.roomID = roomID
	s.store = NewStore(roomID)
	s.typing.reset()
	s.limiter.Reset(time.Now())
	s.pending = nil
	s.disconnectedAt = time.Time{}
	s.wasConnected = false
	s.mu.Unlock()

	s.transport.Connect(roomID)
	return nil
}

// Disconnect closes the room connection and cancels all pending timers.
// The session stays usable; Connect starts over.
func (s *Session) Disconnect() {
	s.transport.Disconnect()
}

// Retry forces an immediate reconnection attempt, bypassing the current
// backoff timer.
func (s *Session) Retry() {
	s.transport.Retry()
}

// ClearMessages drops the local log and pagination cursor.
func (s *Session) ClearMessages() {
	s.mu.Lock()
	store := s.store
	s.mu.Unlock()
	store.Clear()
}

// Close disposes the session. Idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.transport.Disconnect()
	close(s.done)
}

// SendMessage validates, rate-limits and writes one chat message. A
// denied rate limit is a result, not an error, and issues no network
// write. The message enters the store only once echoed back by the
// server; there is no optimistic local insert.
func (s *Session) SendMessage(text string) SendResult {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return SendResult{Err: ErrSessionClosed}
	}
	roomID := s.roomID
	s.mu.Unlock()
	if roomID == "" {
		return SendResult{Err: ErrNoActiveRoom}
	}

	if strings.TrimSpace(text) == "" {
		return SendResult{Err: ErrEmptyMessage}
	}
	if len(text) > models.MaxMessageLength {
		return SendResult{Err: ErrMessageTooLong}
	}

	now := time.Now()
	if res := s.limiter.TryConsume(now); !res.Allowed {
		info := s.limiter.Snapshot(now)
		s.emit(Event{Type: EventRateLimitExceeded, RoomID: roomID, RateLimit: &info})
		return SendResult{RateLimit: &info}
	}
	info := s.limiter.Snapshot(now)

	// Sending implies the user stopped typing.
	if s.cfg.EnableTypingIndicators && s.typing.stopLocal() {
		s.sendTyping(roomID, false)
	}

	if err := s.transport.Send(models.Frame{
		Type:   models.FrameMessage,
		RoomID: roomID,
		Text:   text,
	}); err != nil {
		return SendResult{Err: err, RateLimit: &info}
	}

	s.emit(Event{Type: EventMessageSent, RoomID: roomID, Message: &models.Message{
		RoomID:    roomID,
		Text:      text,
		Timestamp: now,
		Kind:      models.KindMessage,
	}, RateLimit: &info})
	return SendResult{Success: true, RateLimit: &info}
}

// LoadMoreMessages fetches the next backward page of history. Only one
// request is in flight per room; a concurrent call joins the pending one
// and resolves to the same result. A response that arrives after the
// room was switched is discarded silently.
func (s *Session) LoadMoreMessages(ctx context.Context) ([]models.Message, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	if s.roomID == "" {
		s.mu.Unlock()
		return nil, ErrNoActiveRoom
	}
	if p := s.pending; p != nil {
		s.mu.Unlock()
		select {
		case <-p.done:
			return p.msgs, p.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	token, hasMore := s.store.Cursor()
	if !hasMore {
		s.mu.Unlock()
		return nil, nil
	}
	p := &pendingLoad{done: make(chan struct{})}
	s.pending = p
	epoch, roomID := s.epoch, s.roomID
	s.mu.Unlock()

	page, err := s.history.Fetch(ctx, roomID, token, s.cfg.HistoryPageSize)

	s.mu.Lock()
	if s.pending == p {
		s.pending = nil
	}
	stale := epoch != s.epoch
	store := s.store
	s.mu.Unlock()

	switch {
	case stale:
		p.err = ErrPaginationStale
	case err != nil:
		p.err = err
		s.emit(Event{Type: EventErrorOccurred, RoomID: roomID, Err: err})
	default:
		store.PrependPage(page)
		p.msgs = page.Messages
		s.emit(Event{Type: EventMessagesLoaded, RoomID: roomID, Messages: page.Messages})
	}
	close(p.done)
	return p.msgs, p.err
}

// StartTyping signals local typing activity. Signals are debounced and
// best-effort; failures are ignored.
func (s *Session) StartTyping() {
	if !s.cfg.EnableTypingIndicators {
		return
	}
	s.mu.Lock()
	roomID := s.roomID
	s.mu.Unlock()
	if roomID == "" {
		return
	}
	if s.typing.startLocal(time.Now()) {
		s.sendTyping(roomID, true)
	}
}

// StopTyping explicitly ends local typing.
func (s *Session) StopTyping() {
	if !s.cfg.EnableTypingIndicators {
		return
	}
	s.mu.Lock()
	roomID := s.roomID
	s.mu.Unlock()
	if roomID == "" {
		return
	}
	if s.typing.stopLocal() {
		s.sendTyping(roomID, false)
	}
}

// Snapshot returns the current immutable view of the session state.
func (s *Session) Snapshot() MessagingState {
	s.mu.Lock()
	roomID, store := s.roomID, s.store
	s.mu.Unlock()

	_, hasMore := store.Cursor()
	return MessagingState{
		RoomID:         roomID,
		Connection:     s.transport.State(),
		Messages:       store.Messages(),
		TypingUsers:    s.typing.active(),
		RateLimit:      s.limiter.Snapshot(time.Now()),
		HasMoreHistory: hasMore,
		Discontinuous:  store.Discontinuous(),
	}
}

func (s *Session) sendTyping(roomID string, isTyping bool) {
	if err := s.transport.Send(models.TypingFrame(roomID, "", "", isTyping)); err != nil {
		s.logger.Debug().Err(err).Msg("typing signal dropped")
	}
}

func (s *Session) run() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case f := <-s.transport.Frames():
			s.handleFrame(f)
		case st := <-s.transport.States():
			s.handleState(st)
		case now := <-ticker.C:
			s.tick(now)
		}
	}
}

func (s *Session) handleFrame(f models.Frame) {
	s.mu.Lock()
	roomID, store := s.roomID, s.store
	s.mu.Unlock()

	// A frame buffered before a room switch can surface after it; nothing
	// from another room may leak into the active room's state.
	if f.RoomID != roomID {
		s.logger.Debug().Str("type", f.Type).Str("room", f.RoomID).Msg("dropping frame for inactive room")
		return
	}

	switch f.Type {
	case models.FrameMessage, models.FrameSystem:
		msg, err := f.ChatMessage()
		if err != nil {
			s.logger.Warn().Str("type", f.Type).Msg("dropping malformed message frame")
			return
		}
		if f.Type == models.FrameSystem {
			msg.Kind = models.KindSystem
		}
		if store.Append(msg) {
			s.emit(Event{Type: EventMessageReceived, RoomID: msg.RoomID, Message: &msg})
		}

	case models.FrameTyping:
		if !s.cfg.EnableTypingIndicators {
			return
		}
		var payload models.TypingPayload
		if f.Data != nil {
			if err := json.Unmarshal(f.Data, &payload); err != nil {
				s.logger.Warn().Err(err).Msg("dropping malformed typing frame")
				return
			}
		}
		now := time.Now()
		if payload.IsTyping {
			if s.typing.observe(f.SenderID, f.SenderNickname, now) {
				u := TypingUser{UserID: f.SenderID, Username: f.SenderNickname, LastSeenAt: now}
				s.emit(Event{Type: EventTypingStarted, RoomID: roomID, Typing: &u})
			}
		} else if s.typing.remove(f.SenderID) {
			u := TypingUser{UserID: f.SenderID, Username: f.SenderNickname}
			s.emit(Event{Type: EventTypingStopped, RoomID: roomID, Typing: &u})
		}

	case models.FrameRateLimit:
		var payload models.RateLimitPayload
		if f.Data != nil && json.Unmarshal(f.Data, &payload) == nil {
			info := ratelimit.Info{
				Limit:     payload.Limit,
				Remaining: payload.Remaining,
				ResetAt:   time.UnixMilli(payload.ResetAt),
				IsLimited: true,
			}
			s.emit(Event{Type: EventRateLimitExceeded, RoomID: roomID, RateLimit: &info})
		}

	case models.FrameError:
		s.emit(Event{Type: EventErrorOccurred, RoomID: roomID, Err: errors.New(f.Message)})

	case models.FrameConnection:
		s.logger.Debug().Str("message", f.Message).Msg("connection frame")

	case models.FrameReadReceipt:
		if s.cfg.EnableReadReceipts {
			s.logger.Debug().Str("sender", f.SenderID).Msg("read receipt")
		}

	default:
		s.logger.Warn().Str("type", f.Type).Msg("dropping frame of unknown type")
	}
}

func (s *Session) handleState(st ConnectionState) {
	s.mu.Lock()
	roomID, store := s.roomID, s.store
	switch st.Status {
	case StatusConnected:
		// A reconnect after a long outage cannot guarantee continuity of
		// the delivered stream; invalidate the cursor rather than present
		// a falsely contiguous log. The epoch bump discards any page load
		// that was in flight across the gap, so its pre-gap token cannot
		// resurrect the invalidated cursor.
		if s.wasConnected && !s.disconnectedAt.IsZero() {
			down := time.Since(s.disconnectedAt)
			retention := time.Duration(s.cfg.MessageRetentionDays) * 24 * time.Hour
			switch {
			case down > retention:
				// Down longer than the server keeps messages: nothing
				// local is guaranteed to still exist upstream.
				store.Clear()
				s.epoch++
				s.pending = nil
			case down > s.cfg.GapThreshold:
				store.MarkDiscontinuous()
				s.epoch++
				s.pending = nil
			}
		}
		s.wasConnected = true
		s.disconnectedAt = time.Time{}
	case StatusError:
		if s.disconnectedAt.IsZero() {
			s.disconnectedAt = time.Now()
		}
	}
	s.mu.Unlock()

	switch st.Status {
	case StatusConnected:
		s.emit(Event{Type: EventConnectionEstablished, RoomID: roomID})
	case StatusError:
		if st.Terminal() {
			s.emit(Event{Type: EventErrorOccurred, RoomID: roomID, Err: st.LastError})
		} else {
			s.emit(Event{Type: EventConnectionLost, RoomID: roomID, Err: st.LastError})
		}
	}
}

func (s *Session) tick(now time.Time) {
	s.mu.Lock()
	roomID := s.roomID
	s.mu.Unlock()

	for _, u := range s.typing.sweep(now) {
		expired := u
		s.emit(Event{Type: EventTypingStopped, RoomID: roomID, Typing: &expired})
	}
	if s.cfg.EnableTypingIndicators && s.typing.idleExpired(now) && s.typing.stopLocal() {
		s.sendTyping(roomID, false)
	}
}

// emit appends to the event stream preserving order across goroutines.
func (s *Session) emit(ev Event) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	select {
	case s.events <- ev:
	default:
		select {
		case <-s.events:
		default:
		}
		select {
		case s.events <- ev:
		default:
		}
	}
}
