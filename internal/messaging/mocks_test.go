package messaging_test

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"guildchat/realtime/internal/messaging"
	"guildchat/realtime/internal/models"
)

// fakeConn is an in-memory Conn. Frames pushed to in are delivered to
// the transport; frames the transport writes land in out. An error sent
// to errs simulates an abrupt drop.
type fakeConn struct {
	in     chan models.Frame
	out    chan models.Frame
	errs   chan error
	closed chan struct{}
	once   sync.Once
	writes int32
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan models.Frame, 32),
		out:    make(chan models.Frame, 32),
		errs:   make(chan error, 1),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) ReadFrame() (models.Frame, error) {
	select {
	case f := <-c.in:
		return f, nil
	case err := <-c.errs:
		return models.Frame{}, err
	case <-c.closed:
		return models.Frame{}, net.ErrClosed
	}
}

func (c *fakeConn) WriteFrame(f models.Frame) error {
	select {
	case <-c.closed:
		return net.ErrClosed
	default:
	}
	atomic.AddInt32(&c.writes, 1)
	c.out <- f
	return nil
}

func (c *fakeConn) Ping() error {
	select {
	case <-c.closed:
		return net.ErrClosed
	default:
		return nil
	}
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) Writes() int {
	return int(atomic.LoadInt32(&c.writes))
}

func (c *fakeConn) drop(err error) {
	c.errs <- err
}

// echo replies to every outbound message frame with a server-assigned
// ID, the way the broker echoes confirmed messages.
func (c *fakeConn) echo(senderID string) {
	go func() {
		n := 0
		for {
			select {
			case f := <-c.out:
				if f.Type != models.FrameMessage {
					continue
				}
				n++
				c.in <- models.MessageFrame(models.Message{
					ID:        fmt.Sprintf("srv-%d", n),
					RoomID:    f.RoomID,
					SenderID:  senderID,
					Text:      f.Text,
					Timestamp: time.Now(),
					Kind:      models.KindMessage,
				})
			case <-c.closed:
				return
			}
		}
	}()
}

// fakeDialer hands out fakeConns, optionally failing the first N dials
// or rejecting authorization outright.
type fakeDialer struct {
	mu         sync.Mutex
	failFirst  int
	authReject bool
	dials      int
	conns      []*fakeConn
}

func (d *fakeDialer) DialContext(_ context.Context, roomID, token string) (messaging.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.authReject {
		return nil, errors.Join(messaging.ErrAuthRejected, errors.New("401"))
	}
	if d.dials <= d.failFirst {
		return nil, errors.Join(messaging.ErrHandshakeFailed, errors.New("connection refused"))
	}
	c := newFakeConn()
	d.conns = append(d.conns, c)
	return c, nil
}

// failNextDials makes the next n dials fail with a handshake error,
// simulating an outage that outlives several reconnect attempts.
func (d *fakeDialer) failNextDials(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failFirst = d.dials + n
}

func (d *fakeDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) conn(t *testing.T, idx int) *fakeConn {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		d.mu.Lock()
		if len(d.conns) > idx {
			c := d.conns[idx]
			d.mu.Unlock()
			return c
		}
		d.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("connection %d was never dialed", idx)
	return nil
}

// fakeHistory serves canned pages and can block to expose in-flight
// request behavior.
type fakeHistory struct {
	mu      sync.Mutex
	calls   int
	befores []string
	page    models.HistoryPage
	err     error
	block   chan struct{}
}

func (h *fakeHistory) Fetch(ctx context.Context, roomID, before string, limit int) (models.HistoryPage, error) {
	h.mu.Lock()
	h.calls++
	h.befores = append(h.befores, before)
	block := h.block
	page, err := h.page, h.err
	h.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return models.HistoryPage{}, ctx.Err()
		}
	}
	return page, err
}

func (h *fakeHistory) Calls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls
}

// setBlock makes subsequent fetches block until ch is closed.
func (h *fakeHistory) setBlock(ch chan struct{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.block = ch
}

// lastBefore returns the cursor the most recent fetch was made with.
func (h *fakeHistory) lastBefore() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.befores) == 0 {
		return ""
	}
	return h.befores[len(h.befores)-1]
}

func testConfig() messaging.Config {
	return messaging.Config{
		Tokens:               messaging.StaticToken("test-token"),
		MaxMessagesPerMinute: 10,
		ReconnectAttempts:    4,
		ReconnectDelay:       10 * time.Millisecond,
		MaxReconnectDelay:    40 * time.Millisecond,
	}
}

func waitEvent(t *testing.T, s *messaging.Session, typ messaging.EventType) messaging.Event {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev := <-s.Events():
			if ev.Type == typ {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", typ)
		}
	}
}

func waitStatus(t *testing.T, tr *messaging.Transport, want messaging.Status) messaging.ConnectionState {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case st := <-tr.States():
			if st.Status == want {
				return st
			}
		case <-deadline:
			t.Fatalf("timed out waiting for status %s", want)
		}
	}
}
