package handlers

import (
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/suPer8Hu/smart-doctor/internal/conversation"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 50 * time.Second
)

// clientFrame is sent by the chat dialog.
type clientFrame struct {
	Type string `json:"type"` // submit | retry | reset
	Text string `json:"text,omitempty"`
}

// serverFrame carries either a state snapshot or a rejected action.
type serverFrame struct {
	Type string `json:"type"` // state | error
	conversation.Event
	Fallback []string `json:"fallback,omitempty"`
	Message  string   `json:"message,omitempty"`
}

// latest holds the newest frame; older unsent frames are replaced.
type latest struct {
	mu    sync.Mutex
	frame *serverFrame
	ready chan struct{}
}

func newLatest() *latest {
	return &latest{ready: make(chan struct{}, 1)}
}

func (l *latest) put(f serverFrame) {
	l.mu.Lock()
	l.frame = &f
	l.mu.Unlock()
	select {
	case l.ready <- struct{}{}:
	default:
	}
}

func (l *latest) take() *serverFrame {
	l.mu.Lock()
	defer l.mu.Unlock()
	f := l.frame
	l.frame = nil
	return f
}

// ChatSocket gives each connection its own conversation. The session ends
// when the socket closes.
func (h *Handler) ChatSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("[ChatSocket] upgrade failed: %v", err)
		return
	}

	coord := conversation.NewCoordinator(
		conversation.ServiceDispatcher{Service: h.ChatSvc},
		conversation.WithPolicy(h.Policy),
		conversation.WithHistoryWindow(h.Cfg.ChatHistoryWindow),
	)
	out := newLatest()
	stateFrame := func(ev conversation.Event) serverFrame {
		f := serverFrame{Type: "state", Event: ev}
		for _, m := range ev.Transcript {
			if !m.IsUserMessage && coord.IsFallback(m.ID) {
				f.Fallback = append(f.Fallback, m.ID)
			}
		}
		return f
	}
	coord.Subscribe(func(ev conversation.Event) { out.put(stateFrame(ev)) })

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		writeLoop(conn, out, stop)
	}()

	out.put(stateFrame(coord.Snapshot()))
	readLoop(conn, coord, out)

	coord.Close()
	close(stop)
	<-done
	_ = conn.Close()
}

func readLoop(conn *websocket.Conn, coord *conversation.Coordinator, out *latest) {
	conn.SetReadLimit(64 << 10)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		var f clientFrame
		if err := conn.ReadJSON(&f); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[ChatSocket] read: %v", err)
			}
			return
		}

		switch f.Type {
		case "submit":
			if _, err := coord.Submit(f.Text); err != nil {
				// blank text is ignored silently
				if errors.Is(err, conversation.ErrPending) {
					out.put(serverFrame{Type: "error", Event: coord.Snapshot(), Message: err.Error()})
				}
			}
		case "retry":
			coord.Retry()
		case "reset":
			coord.Reset()
		default:
			out.put(serverFrame{Type: "error", Event: coord.Snapshot(), Message: "unknown frame type"})
		}
	}
}

func writeLoop(conn *websocket.Conn, out *latest, stop <-chan struct{}) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-out.ready:
			f := out.take()
			if f == nil {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(f); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
