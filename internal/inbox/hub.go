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

// Hub is the server side of the notification channel: clients send
// "sub <url>", the hub answers "ack <url>" and later "pub <url>" whenever
// Publish is called for that URL.
type Hub struct {
	mu   sync.Mutex
	subs map[*hubClient]map[string]struct{}
}

type hubClient struct {
	conn *websocket.Conn
	out  chan string
}

func NewHub() *Hub { return &Hub{subs: make(map[*hubClient]map[string]struct{})} }

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		obslog.L().Warn("hub_accept_failed", zap.Error(err))
		return
	}
	c := &hubClient{conn: conn, out: make(chan string, 32)}
	h.mu.Lock()
	h.subs[c] = make(map[string]struct{})
	h.mu.Unlock()

	ctx, cancel := context.WithCancel(r.Context())
	defer func() {
		cancel()
		h.mu.Lock()
		delete(h.subs, c)
		h.mu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "bye")
	}()

	go h.writeLoop(ctx, c)
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		msg := strings.TrimSpace(string(data))
		if !strings.HasPrefix(msg, "sub ") {
			continue
		}
		target := strings.TrimSpace(strings.TrimPrefix(msg, "sub "))
		h.mu.Lock()
		h.subs[c][target] = struct{}{}
		h.mu.Unlock()
		c.send("ack " + target)
	}
}

func (h *Hub) writeLoop(ctx context.Context, c *hubClient) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-c.out:
			wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := c.conn.Write(wctx, websocket.MessageText, []byte(msg))
			cancel()
			if err != nil {
				return
			}
		}
	}
}

// Publish notifies every client subscribed to url.
func (h *Hub) Publish(url string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c, targets := range h.subs {
		if _, ok := targets[url]; ok {
			c.send("pub " + url)
		}
	}
}

func (c *hubClient) send(msg string) {
	select {
	case c.out <- msg:
	default:
	}
}
