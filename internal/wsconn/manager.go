// Package wsconn is the shared websocket-stream manager used by every
// exchange provider's liquidation feed: connect/ping/reconnect loop with
// exponential backoff (1s doubling, capped at 30s, no jitter).
package wsconn

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	pingInterval     = 20 * time.Second
	readTimeout      = 45 * time.Second
	writeTimeout     = 10 * time.Second
	minReconnectWait = 1 * time.Second
	maxReconnectWait = 30 * time.Second

	// degradedAfter is the number of consecutive failed reconnect
	// attempts after which the feed reports itself DEGRADED.
	degradedAfter = 3
)

// Dispatcher handles one decoded message from the stream.
type Dispatcher func(data []byte)

// Subscriber builds the subscribe payload(s) sent immediately after
// connect, given the symbol list the caller asked to stream.
type Subscriber func(symbols []string) [][]byte

// Feed manages one reconnecting websocket connection to url, dispatching
// every received message to onMessage and sending subscribe frames from
// subscribe on (re)connect.
type Feed struct {
	Name      string
	URL       string
	Symbols   []string
	Subscribe Subscriber
	OnMessage Dispatcher

	connMu sync.Mutex
	conn   *websocket.Conn

	stateMu          sync.RWMutex
	state            string // "", "CONNECTED", "DEGRADED"
	consecutiveFails int
	lastSuccessAt    time.Time
}

// State returns the current connection state for health reporting.
func (f *Feed) State() string {
	f.stateMu.RLock()
	defer f.stateMu.RUnlock()
	if f.state == "" {
		return "DISCONNECTED"
	}
	return f.state
}

// LastSuccessAt returns the last time a message was successfully read.
func (f *Feed) LastSuccessAt() time.Time {
	f.stateMu.RLock()
	defer f.stateMu.RUnlock()
	return f.lastSuccessAt
}

// Run drives the reconnect loop until ctx is cancelled. It never returns
// until ctx is done; callers start it in its own goroutine.
func (f *Feed) Run(ctx context.Context) {
	backoff := minReconnectWait
	for {
		if ctx.Err() != nil {
			return
		}

		err := f.connectAndRead(ctx)
		if ctx.Err() != nil {
			return
		}

		f.stateMu.Lock()
		f.consecutiveFails++
		if f.consecutiveFails >= degradedAfter {
			f.state = "DEGRADED"
		}
		fails := f.consecutiveFails
		f.stateMu.Unlock()

		log.Warn().Str("feed", f.Name).Err(err).Int("consecutive_fails", fails).
			Dur("backoff", backoff).Msg("liquidation feed disconnected, reconnecting")

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}

		backoff *= 2
		if backoff > maxReconnectWait {
			backoff = maxReconnectWait
		}
	}
}

func (f *Feed) connectAndRead(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: writeTimeout}
	conn, _, err := dialer.DialContext(ctx, f.URL, http.Header{})
	if err != nil {
		return err
	}

	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()

	defer func() {
		conn.Close()
		f.connMu.Lock()
		f.conn = nil
		f.connMu.Unlock()
	}()

	if f.Subscribe != nil {
		for _, frame := range f.Subscribe(f.Symbols) {
			if err := f.writeMessage(frame); err != nil {
				return err
			}
		}
	}

	pingDone := make(chan struct{})
	go f.pingLoop(ctx, pingDone)
	defer close(pingDone)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		f.stateMu.Lock()
		f.state = "CONNECTED"
		f.consecutiveFails = 0
		f.lastSuccessAt = time.Now()
		f.stateMu.Unlock()

		if f.OnMessage != nil {
			f.OnMessage(data)
		}
	}
}

func (f *Feed) pingLoop(ctx context.Context, done <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			f.connMu.Lock()
			conn := f.conn
			f.connMu.Unlock()
			if conn == nil {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (f *Feed) writeMessage(data []byte) error {
	f.connMu.Lock()
	conn := f.conn
	f.connMu.Unlock()
	if conn == nil {
		return websocket.ErrCloseSent
	}
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}
