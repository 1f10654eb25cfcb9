package gateway

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/linqra/linqra/core/infra/logging"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// startBroadcast taps the job progress subjects and fans messages out to
// connected websocket clients. A client that cannot keep up with its
// buffered channel is evicted rather than blocking the broadcast loop.
func (s *Server) startBroadcast() {
	if s.bus != nil {
		subject := s.progress + ".>"
		if err := s.bus.Subscribe(subject, "", func(data []byte) {
			select {
			case s.eventsCh <- data:
			default:
			}
		}); err != nil {
			logging.Error(componentGateway, "progress subscribe failed", "subject", subject, "error", err)
		}
	}

	go func() {
		for evt := range s.eventsCh {
			var slowClients []*websocket.Conn
			s.clientsMu.RLock()
			for conn, ch := range s.clients {
				select {
				case ch <- evt:
				default:
					slowClients = append(slowClients, conn)
				}
			}
			s.clientsMu.RUnlock()

			if len(slowClients) > 0 {
				s.clientsMu.Lock()
				for _, conn := range slowClients {
					delete(s.clients, conn)
				}
				s.clientsMu.Unlock()
				for _, conn := range slowClients {
					if err := conn.Close(); err != nil {
						logging.Error(componentGateway, "ws client close failed", "error", err)
					}
				}
			}
		}
	}()
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Error(componentGateway, "ws upgrade failed", "error", err)
		return
	}
	defer ws.Close()
	logging.Info(componentGateway, "ws connected", "remote", r.RemoteAddr)

	clientCh := make(chan []byte, 100)
	s.clientsMu.Lock()
	s.clients[ws] = clientCh
	s.clientsMu.Unlock()
	defer func() {
		s.clientsMu.Lock()
		delete(s.clients, ws)
		s.clientsMu.Unlock()
	}()

	for {
		select {
		case msg, ok := <-clientCh:
			if !ok {
				return
			}
			if err := ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}
