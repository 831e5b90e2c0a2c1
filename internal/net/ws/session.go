package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Learath2/libtw2/internal/hub"
	"github.com/Learath2/libtw2/internal/telemetry"
)

// session owns the write side of a connection. gorilla/websocket allows one
// concurrent writer, so every frame and ping goes through writeLoop.
type session struct {
	conn   *websocket.Conn
	sub    *hub.Subscriber
	logger telemetry.Logger

	quit     chan struct{}
	quitOnce sync.Once
	done     chan struct{}
}

func newSession(conn *websocket.Conn, sub *hub.Subscriber, logger telemetry.Logger) *session {
	return &session{
		conn:   conn,
		sub:    sub,
		logger: logger,
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

func (s *session) writeLoop() {
	defer close(s.done)
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-s.quit:
			return
		case <-s.sub.Done():
			// Released by the hub; closing the socket ends the read loop.
			s.closeWith(websocket.CloseGoingAway, "released")
			return
		case frame := <-s.sub.Outbox():
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.BinaryMessage, frame.Data); err != nil {
				s.logger.Printf("write tick %d to %s: %v", frame.Tick, s.sub.ID(), err)
				s.conn.Close()
				return
			}
		case <-ping.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				s.conn.Close()
				return
			}
		}
	}
}

func (s *session) closeWith(code int, text string) {
	message := websocket.FormatCloseMessage(code, text)
	s.conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(writeWait))
	s.conn.Close()
}

// stop ends the write loop and waits for it.
func (s *session) stop() {
	s.quitOnce.Do(func() { close(s.quit) })
	<-s.done
}
