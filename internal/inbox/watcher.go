package inbox

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/park285/solid-chess/internal/obslog"
)

type WatchState int

const (
	WatchDisconnected WatchState = iota
	WatchConnecting
	WatchConnected
	WatchReconnecting
	WatchFailed
)

func (s WatchState) String() string {
	switch s {
	case WatchConnecting:
		return "connecting"
	case WatchConnected:
		return "connected"
	case WatchReconnecting:
		return "reconnecting"
	case WatchFailed:
		return "failed"
	default:
		return "disconnected"
	}
}

type StateCallback func(state WatchState)

// HeaderProvider allows injecting headers into the websocket handshake.
type HeaderProvider func() map[string]string

// Watcher subscribes to change notifications of inbox collections over the
// pod's websocket ("sub <url>" out, "pub <url>" in) and turns each
// notification into a nudge. Polling remains the source of truth; a missed
// nudge only delays discovery until the next tick.
type Watcher struct {
	wsURL string
	subs  []string

	connM sync.Mutex
	conn  *websocket.Conn

	state  WatchState
	stateM sync.RWMutex
	cbM    sync.RWMutex
	cbs    []StateCallback

	nudges chan string

	maxReconnectAttempts int
	pingInterval         time.Duration
	headerProvider       HeaderProvider

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	rootCtx    context.Context
	rootCancel context.CancelFunc
}

func NewWatcher(wsURL string, collections []string, maxReconnectAttempts int) *Watcher {
	return &Watcher{
		wsURL:                wsURL,
		subs:                 append([]string(nil), collections...),
		state:                WatchDisconnected,
		nudges:               make(chan string, 16),
		maxReconnectAttempts: maxReconnectAttempts,
		pingInterval:         30 * time.Second,
		stopCh:               make(chan struct{}),
	}
}

// Nudges delivers the URL of every collection reported as changed.
func (w *Watcher) Nudges() <-chan string { return w.nudges }

func (w *Watcher) SetHeaderProvider(h HeaderProvider) { w.headerProvider = h }

func (w *Watcher) OnStateChange(cb StateCallback) {
	w.cbM.Lock()
	w.cbs = append(w.cbs, cb)
	w.cbM.Unlock()
}

func (w *Watcher) State() WatchState {
	w.stateM.RLock()
	defer w.stateM.RUnlock()
	return w.state
}

func (w *Watcher) Connect(ctx context.Context) error {
	if s := w.State(); s == WatchConnected || s == WatchConnecting {
		return nil
	}
	w.rootCtx, w.rootCancel = context.WithCancel(context.Background())
	w.setState(WatchConnecting)
	if err := w.dial(ctx); err != nil {
		w.setState(WatchFailed)
		w.scheduleReconnect()
		return err
	}
	return nil
}

func (w *Watcher) dial(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(dialCtx, w.wsURL, &websocket.DialOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
		HTTPHeader:      w.buildHeaders(),
	})
	if err != nil {
		return err
	}
	for _, coll := range w.subs {
		if err := conn.Write(dialCtx, websocket.MessageText, []byte("sub "+coll)); err != nil {
			_ = conn.Close(websocket.StatusInternalError, "subscribe failed")
			return err
		}
	}
	w.connM.Lock()
	w.conn = conn
	w.connM.Unlock()
	w.setState(WatchConnected)

	w.wg.Add(2)
	go w.listen(conn)
	go w.pingLoop(conn)
	return nil
}

func (w *Watcher) listen(conn *websocket.Conn) {
	defer w.wg.Done()
	for {
		_, data, err := conn.Read(w.rootCtx)
		if err != nil {
			if w.isStopping() {
				return
			}
			obslog.L().Warn("inbox_watch_read_failed", zap.String("url", w.wsURL), zap.Error(err))
			w.setState(WatchDisconnected)
			w.dropConn(conn, websocket.StatusGoingAway, "reconnect")
			w.scheduleReconnect()
			return
		}
		msg := strings.TrimSpace(string(data))
		if !strings.HasPrefix(msg, "pub ") {
			continue
		}
		coll := strings.TrimSpace(strings.TrimPrefix(msg, "pub "))
		select {
		case w.nudges <- coll:
		default:
		}
	}
}

func (w *Watcher) pingLoop(conn *websocket.Conn) {
	defer w.wg.Done()
	t := time.NewTicker(w.pingInterval)
	defer t.Stop()
	failures := 0
	for {
		select {
		case <-w.stopCh:
			return
		case <-t.C:
			ctx, cancel := context.WithTimeout(w.rootCtx, 3*time.Second)
			err := conn.Ping(ctx)
			cancel()
			if err == nil {
				failures = 0
				continue
			}
			failures++
			if failures >= 2 {
				// closing the connection makes listen schedule the reconnect
				w.dropConn(conn, websocket.StatusGoingAway, "ping failure")
				return
			}
		}
	}
}

func (w *Watcher) scheduleReconnect() {
	if w.maxReconnectAttempts <= 0 || w.isStopping() {
		return
	}
	w.setState(WatchReconnecting)
	go func() {
		for attempt := 1; attempt <= w.maxReconnectAttempts; attempt++ {
			select {
			case <-w.stopCh:
				return
			case <-time.After(reconnectDelay(attempt)):
			}
			if err := w.dial(w.rootCtx); err == nil {
				return
			}
		}
		w.setState(WatchFailed)
	}()
}

func (w *Watcher) setState(state WatchState) {
	w.stateM.Lock()
	w.state = state
	w.stateM.Unlock()

	w.cbM.RLock()
	cbs := append([]StateCallback(nil), w.cbs...)
	w.cbM.RUnlock()
	for _, cb := range cbs {
		cb(state)
	}
}

func (w *Watcher) Close(ctx context.Context) error {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.connM.Lock()
	conn := w.conn
	w.connM.Unlock()
	if conn != nil {
		w.dropConn(conn, websocket.StatusNormalClosure, "close")
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		if w.rootCancel != nil {
			w.rootCancel()
		}
		return nil
	}
}

func (w *Watcher) dropConn(conn *websocket.Conn, code websocket.StatusCode, reason string) {
	w.connM.Lock()
	if w.conn == conn {
		w.conn = nil
	}
	w.connM.Unlock()
	_ = conn.Close(code, reason)
}

func (w *Watcher) isStopping() bool {
	select {
	case <-w.stopCh:
		return true
	default:
		return false
	}
}

func (w *Watcher) buildHeaders() http.Header {
	hdr := http.Header{}
	if w.headerProvider == nil {
		return hdr
	}
	for k, v := range w.headerProvider() {
		if strings.TrimSpace(k) == "" || strings.TrimSpace(v) == "" {
			continue
		}
		hdr.Set(k, v)
	}
	return hdr
}

func reconnectDelay(attempt int) time.Duration {
	if attempt > 6 {
		attempt = 6
	}
	return time.Duration(1<<uint(attempt-1)) * 200 * time.Millisecond
}
