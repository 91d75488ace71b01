package network

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/annel0/shiku-server/internal/logging"
	"github.com/annel0/shiku-server/internal/protocol"
)

// Sink принимает события соединений. Реализация обязана быть
// потокобезопасной: насосы чтения живут в своих горутинах.
type Sink interface {
	// Opened вызывается после успешного разбора билета
	Opened(ch *ActorChannel, ticket *protocol.Ticket)
	// Frame вызывается на каждый декодированный кадр
	Frame(ch *ActorChannel, frame *protocol.InboundFrame)
	// Closed вызывается один раз при разрыве
	Closed(ch *ActorChannel)
}

// Server поднимает websocket-соединения и запускает их насосы
type Server struct {
	sink     Sink
	upgrader websocket.Upgrader
	log      *logging.Logger
}

// NewServer создаёт транспорт, отдающий события приёмнику
func NewServer(sink Sink) *Server {
	return &Server{
		sink: sink,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Клиенты приходят с произвольных origin (itch.io, localhost)
			CheckOrigin: func(*http.Request) bool { return true },
		},
		log: logging.GetNetworkLogger(),
	}
}

// Upgrade переводит HTTP-запрос в websocket и запускает насосы канала
func (s *Server) Upgrade(w http.ResponseWriter, r *http.Request) error {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("Upgrade failed: %v", err)
		return err
	}
	ch := newChannel(conn, s.log)
	go ch.writePump()
	go ch.readPump(s.sink)
	return nil
}
