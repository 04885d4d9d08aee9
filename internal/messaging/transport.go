package messaging

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"guildchat/realtime/internal/models"
)

// Status is the transport connection status for one room.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusError        Status = "error"
)

// ConnectionState is a snapshot of the transport state machine.
// NextRetryAt is set while a reconnection is scheduled; a Status of
// StatusError with a zero NextRetryAt is terminal and requires an
// explicit Connect or Retry.
type ConnectionState struct {
	Status           Status
	LastError        error
	ReconnectAttempt int
	NextRetryAt      time.Time
}

// Terminal reports whether the transport gave up reconnecting.
func (s ConnectionState) Terminal() bool {
	return s.Status == StatusError && s.NextRetryAt.IsZero()
}

// Transport owns one physical connection per active room: handshake,
// heartbeat and exponential-backoff reconnection. Inbound frames are
// delivered in wire order; it performs no reordering.
type Transport struct {
	dialer      Dialer
	tokens      TokenSource
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int
	logger      zerolog.Logger

	frames chan models.Frame
	states chan ConnectionState

	mu          sync.Mutex
	status      Status
	lastErr     error
	attempt     int
	nextRetryAt time.Time
	roomID      string
	epoch       int
	conn        Conn
	sendCh      chan sendReq
	connDone    chan struct{}
	retryTimer  *time.Timer
}

type sendReq struct {
	frame models.Frame
	errCh chan error
}

// TransportConfig wires a Transport.
type TransportConfig struct {
	Dialer            Dialer
	Tokens            TokenSource
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
	ReconnectAttempts int
	Logger            *zerolog.Logger
}

// NewTransport creates a disconnected transport.
func NewTransport(cfg TransportConfig) *Transport {
	t := &Transport{
		dialer:      cfg.Dialer,
		tokens:      cfg.Tokens,
		baseDelay:   cfg.ReconnectDelay,
		maxDelay:    cfg.MaxReconnectDelay,
		maxAttempts: cfg.ReconnectAttempts,
		logger:      cfg.Logger.With().Str("component", "transport").Logger(),
		frames:      make(chan models.Frame, 256),
		states:      make(chan ConnectionState, 64),
		status:      StatusDisconnected,
	}
	return t
}

// Frames is the ordered inbound frame stream.
func (t *Transport) Frames() <-chan models.Frame { return t.frames }

// States emits a snapshot on every status transition.
func (t *Transport) States() <-chan ConnectionState { return t.states }

func (t *Transport) lock()   { t.mu.Lock() }
func (t *Transport) unlock() { t.mu.Unlock() }

// State returns the current connection state.
func (t *Transport) State() ConnectionState {
	t.lock()
	defer t.unlock()
	return t.stateLocked()
}

func (t *Transport) stateLocked() ConnectionState {
	return ConnectionState{
		Status:           t.status,
		LastError:        t.lastErr,
		ReconnectAttempt: t.attempt,
		NextRetryAt:      t.nextRetryAt,
	}
}

// Connect opens a connection to the room, resetting the retry counter.
// Any previous room connection is torn down first.
func (t *Transport) Connect(roomID string) {
	t.lock()
	t.cancelRetryLocked()
	t.closeConnLocked()
	t.epoch++
	t.roomID = roomID
	t.attempt = 0
	t.lastErr = nil
	t.nextRetryAt = time.Time{}
	t.setStatusLocked(StatusConnecting)
	epoch := t.epoch
	t.unlock()

	go t.dial(epoch)
}

// Disconnect tears everything down: live connection, scheduled retries,
// heartbeat. Idempotent; the transport ends in StatusDisconnected.
func (t *Transport) Disconnect() {
	t.lock()
	defer t.unlock()
	t.epoch++
	t.cancelRetryLocked()
	t.closeConnLocked()
	t.attempt = 0
	t.lastErr = nil
	t.nextRetryAt = time.Time{}
	if t.status != StatusDisconnected {
		t.setStatusLocked(StatusDisconnected)
	}
}

// Retry forces an immediate reconnection attempt, bypassing any pending
// backoff timer. No-op when already connected or never connected.
func (t *Transport) Retry() {
	t.lock()
	if t.roomID == "" || t.status == StatusConnected || t.status == StatusConnecting {
		t.unlock()
		return
	}
	t.cancelRetryLocked()
	t.epoch++
	t.nextRetryAt = time.Time{}
	t.setStatusLocked(StatusConnecting)
	epoch := t.epoch
	t.unlock()

	go t.dial(epoch)
}

// Send writes a frame to the live connection. It fails fast with
// ErrNotConnected while not connected; frames are never queued across
// reconnects.
func (t *Transport) Send(f models.Frame) error {
	t.lock()
	if t.status != StatusConnected || t.conn == nil {
		t.unlock()
		return ErrNotConnected
	}
	sendCh, done := t.sendCh, t.connDone
	t.unlock()

	req := sendReq{frame: f, errCh: make(chan error, 1)}
	select {
	case sendCh <- req:
	case <-done:
		return ErrNotConnected
	}
	select {
	case err := <-req.errCh:
		return err
	case <-done:
		return ErrNotConnected
	}
}

func (t *Transport) dial(epoch int) {
	t.lock()
	if epoch != t.epoch {
		t.unlock()
		return
	}
	roomID := t.roomID
	t.unlock()

	ctx, cancel := context.WithTimeout(context.Background(), handshakeTimeout)
	defer cancel()

	token, err := t.tokens.Token(ctx)
	if err != nil {
		t.connFailed(epoch, errors.Join(ErrAuthRejected, err))
		return
	}

	conn, err := t.dialer.DialContext(ctx, roomID, token)
	if err != nil {
		t.connFailed(epoch, err)
		return
	}

	t.lock()
	if epoch != t.epoch {
		t.unlock()
		conn.Close()
		return
	}
	t.conn = conn
	t.sendCh = make(chan sendReq, 64)
	t.connDone = make(chan struct{})
	t.attempt = 0
	t.lastErr = nil
	t.nextRetryAt = time.Time{}
	t.setStatusLocked(StatusConnected)
	sendCh, done := t.sendCh, t.connDone
	t.unlock()

	t.logger.Info().Str("room", roomID).Msg("connected")
	go t.readPump(epoch, conn, done)
	go t.writePump(epoch, conn, sendCh, done)
}

// connFailed handles both handshake failures and drops of a live
// connection. It schedules the next attempt unless the fault is terminal.
func (t *Transport) connFailed(epoch int, err error) {
	t.lock()
	defer t.unlock()
	if epoch != t.epoch {
		return
	}
	t.epoch++ // invalidate the peer pump of this connection
	t.closeConnLocked()
	t.lastErr = err
	t.attempt++

	if errors.Is(err, ErrAuthRejected) {
		t.nextRetryAt = time.Time{}
		t.setStatusLocked(StatusError)
		t.logger.Error().Err(err).Msg("authorization rejected, not retrying")
		return
	}
	if t.attempt > t.maxAttempts {
		t.lastErr = errors.Join(ErrRetriesExhausted, err)
		t.nextRetryAt = time.Time{}
		t.setStatusLocked(StatusError)
		t.logger.Error().Err(err).Int("attempts", t.attempt-1).Msg("reconnect attempts exhausted")
		return
	}

	delay := backoffDelay(t.baseDelay, t.maxDelay, t.attempt-1)
	t.nextRetryAt = time.Now().Add(delay)
	t.setStatusLocked(StatusError)
	t.logger.Warn().Err(err).Int("attempt", t.attempt).Dur("delay", delay).Msg("connection lost, retrying")

	epoch = t.epoch
	t.retryTimer = time.AfterFunc(delay, func() {
		t.lock()
		if epoch != t.epoch {
			t.unlock()
			return
		}
		t.setStatusLocked(StatusConnecting)
		t.unlock()
		t.dial(epoch)
	})
}

// backoffDelay computes min(maxDelay, base*2^attempt) with ±20% jitter.
func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	d := base
	for i := 0; i < attempt && d < max; i++ {
		d *= 2
	}
	if d > max {
		d = max
	}
	jitter := 0.8 + 0.4*rand.Float64()
	return time.Duration(float64(d) * jitter)
}

func (t *Transport) readPump(epoch int, conn Conn, done chan struct{}) {
	for {
		f, err := conn.ReadFrame()
		if err != nil {
			if errors.Is(err, models.ErrMalformedFrame) {
				t.logger.Warn().Err(err).Msg("dropping malformed frame")
				continue
			}
			t.connFailed(epoch, err)
			return
		}
		select {
		case t.frames <- f:
		case <-done:
			return
		}
	}
}

func (t *Transport) writePump(epoch int, conn Conn, sendCh chan sendReq, done chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case req := <-sendCh:
			err := conn.WriteFrame(req.frame)
			req.errCh <- err
			if err != nil {
				t.connFailed(epoch, err)
				return
			}
		case <-ticker.C:
			if err := conn.Ping(); err != nil {
				t.connFailed(epoch, err)
				return
			}
		case <-done:
			return
		}
	}
}

func (t *Transport) setStatusLocked(s Status) {
	t.status = s
	st := t.stateLocked()
	// Never block the state machine on a slow consumer: drop the oldest
	// snapshot to make room for the newest.
	select {
	case t.states <- st:
	default:
		select {
		case <-t.states:
		default:
		}
		select {
		case t.states <- st:
		default:
		}
	}
}

func (t *Transport) cancelRetryLocked() {
	if t.retryTimer != nil {
		t.retryTimer.Stop()
		t.retryTimer = nil
	}
}

func (t *Transport) closeConnLocked() {
	if t.connDone != nil {
		close(t.connDone)
		t.connDone = nil
	}
	if t.conn != nil {
		t.conn.Close()
		t.conn = nil
	}
	t.sendCh = nil
}
