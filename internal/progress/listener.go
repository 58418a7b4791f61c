// Package progress listens on the list service's websocket channel for bulk
// import progress and fans events out to subscribers.
package progress

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type State int

const (
	Disconnected State = iota
	Connecting
	Open
	Closed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

var ErrClosed = errors.New("progress: listener closed")

const subscriberBuffer = 16

// ChannelURL derives the progress channel endpoint from the list service's
// HTTP base URL.
func ChannelURL(baseURL, userID string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("parse base url: missing host in %q", baseURL)
	}
	scheme := "ws"
	if u.Scheme == "https" || u.Scheme == "wss" {
		scheme = "wss"
	}
	q := url.Values{}
	q.Set("userId", userID)
	return (&url.URL{
		Scheme:   scheme,
		Host:     u.Host,
		Path:     "/ws",
		RawQuery: q.Encode(),
	}).String(), nil
}

// Listener owns one websocket connection. It is single use: once closed it
// cannot reconnect.
type Listener struct {
	endpoint string
	dialer   *websocket.Dialer
	header   http.Header
	logger   *zap.Logger

	mu     sync.Mutex
	state  State
	conn   *websocket.Conn
	subs   map[int]chan Event
	nextID int
	done   chan struct{}
}

type Option func(*Listener)

func WithDialer(d *websocket.Dialer) Option {
	return func(l *Listener) {
		if d != nil {
			l.dialer = d
		}
	}
}

// WithToken authenticates the upgrade request.
func WithToken(token string) Option {
	return func(l *Listener) {
		if token != "" {
			l.header.Set("Authorization", "Bearer "+token)
		}
	}
}

func WithLogger(lg *zap.Logger) Option {
	return func(l *Listener) {
		if lg != nil {
			l.logger = lg
		}
	}
}

func NewListener(endpoint string, opts ...Option) *Listener {
	l := &Listener{
		endpoint: endpoint,
		dialer:   websocket.DefaultDialer,
		header:   http.Header{},
		logger:   zap.NewNop(),
		subs:     map[int]chan Event{},
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.Named("progress")
	return l
}

func (l *Listener) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Done is closed once the connection has ended for any reason.
func (l *Listener) Done() <-chan struct{} { return l.done }

// Connect dials the channel and starts reading in the background. A failed
// dial leaves the listener disconnected so the caller may retry.
func (l *Listener) Connect(ctx context.Context) error {
	l.mu.Lock()
	switch l.state {
	case Closed:
		l.mu.Unlock()
		return ErrClosed
	case Connecting, Open:
		l.mu.Unlock()
		return nil
	}
	l.state = Connecting
	l.mu.Unlock()

	conn, resp, err := l.dialer.DialContext(ctx, l.endpoint, l.header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err != nil {
		if l.state == Connecting {
			l.state = Disconnected
		}
		return fmt.Errorf("dial %s: %w", l.endpoint, err)
	}
	if l.state == Closed {
		// Close raced the dial.
		_ = conn.Close()
		return ErrClosed
	}
	l.conn = conn
	l.state = Open
	l.logger.Info("connected", zap.String("endpoint", l.endpoint))
	go l.readLoop(conn)
	return nil
}

// Subscribe registers a receiver for progress events. The returned channel is
// closed when the listener closes or cancel is called.
func (l *Listener) Subscribe() (<-chan Event, func()) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ch := make(chan Event, subscriberBuffer)
	if l.state == Closed {
		close(ch)
		return ch, func() {}
	}
	id := l.nextID
	l.nextID++
	l.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			if c, ok := l.subs[id]; ok {
				delete(l.subs, id)
				close(c)
			}
		})
	}
}

// Close ends the connection and every subscription. It is safe to call more
// than once.
func (l *Listener) Close() error {
	l.mu.Lock()
	if l.state == Closed {
		l.mu.Unlock()
		return nil
	}
	conn := l.conn
	wasOpen := l.state == Open
	l.shutdownLocked()
	l.mu.Unlock()

	if conn == nil {
		return nil
	}
	if wasOpen {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = conn.WriteMessage(websocket.CloseMessage, msg)
	}
	return conn.Close()
}

func (l *Listener) shutdownLocked() {
	if l.state == Closed {
		return
	}
	l.state = Closed
	for id, ch := range l.subs {
		delete(l.subs, id)
		close(ch)
	}
	close(l.done)
}

func (l *Listener) readLoop(conn *websocket.Conn) {
	defer func() {
		l.mu.Lock()
		l.shutdownLocked()
		l.mu.Unlock()
		_ = conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) &&
				l.State() != Closed {
				l.logger.Warn("read failed", zap.Error(err))
			}
			return
		}

		ev, err := decodeEvent(data)
		if err != nil {
			l.logger.Debug("ignoring message", zap.ByteString("payload", data), zap.Error(err))
			continue
		}
		if ev.Failed {
			l.logger.Warn("import reported an error", zap.String("error", ev.Error))
		}
		l.publish(ev)
	}
}

// publish never blocks the read loop. A lagging subscriber loses its oldest
// buffered event, so terminal events always get through.
func (l *Listener) publish(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for id, ch := range l.subs {
		for {
			select {
			case ch <- ev:
			default:
				select {
				case <-ch:
					l.logger.Warn("subscriber lagging, dropped oldest event", zap.Int("subscriber", id))
				default:
				}
				continue
			}
			break
		}
	}
}
