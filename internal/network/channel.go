package network

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/annel0/shiku-server/internal/logging"
	"github.com/annel0/shiku-server/internal/protocol"
)

const (
	// Предел ожидания записи одного кадра
	writeWait = 10 * time.Second
	// Ожидание pong от клиента
	pongWait = 60 * time.Second
	// Период ping (меньше pongWait)
	pingPeriod = (pongWait * 9) / 10
	// Буфер исходящих кадров на соединение
	sendBuffer = 256
)

// ActorChannel — одно websocket-соединение: насос чтения декодирует
// кадры и отдаёт их приёмнику, насос записи шлёт исходящие события
// и поддерживает ping/pong.
type ActorChannel struct {
	conn *websocket.Conn
	send chan []byte

	closeOnce sync.Once
	done      chan struct{}

	log *logging.Logger
}

func newChannel(conn *websocket.Conn, log *logging.Logger) *ActorChannel {
	return &ActorChannel{
		conn: conn,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
		log:  log,
	}
}

// Send сериализует событие и ставит его в очередь записи.
// Переполненная очередь или закрытый канал роняют кадр, не соединение.
func (ch *ActorChannel) Send(ev *protocol.CommunicationEvent) {
	data, err := protocol.EncodeEvent(ev)
	if err != nil {
		ch.log.Error("Failed to encode outgoing event: %v", err)
		return
	}
	select {
	case <-ch.done:
	case ch.send <- data:
	default:
		ch.log.Warn("Send buffer full, dropping %s frame", ev.Type)
	}
}

// CloseWithReason шлёт нормальный close-кадр с текстом и рвёт соединение
func (ch *ActorChannel) CloseWithReason(reason string) {
	ch.closeOnce.Do(func() {
		close(ch.done)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
		_ = ch.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		_ = ch.conn.Close()
	})
}

// readPump читает кадры до разрыва. Первый кадр — билет; остальные
// декодируются конвертным кодеком и уходят приёмнику.
func (ch *ActorChannel) readPump(sink Sink) {
	defer func() {
		sink.Closed(ch)
		ch.CloseWithReason("")
	}()

	ch.conn.SetReadLimit(protocol.MaxFrameSize)
	_ = ch.conn.SetReadDeadline(time.Now().Add(pongWait))
	ch.conn.SetPongHandler(func(string) error {
		return ch.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	_, first, err := ch.conn.ReadMessage()
	if err != nil {
		return
	}
	ticket, err := protocol.DecodeTicket(first)
	if err != nil {
		ch.log.Warn("Bad ticket frame: %v", err)
		return
	}
	sink.Opened(ch, ticket)

	for {
		_, data, err := ch.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				ch.log.Debug("Read error: %v", err)
			}
			return
		}
		frame, err := protocol.DecodeFrame(data)
		if err != nil {
			// Кривой кадр не роняет соединение
			ch.log.Warn("Malformed frame dropped: %v", err)
			continue
		}
		sink.Frame(ch, frame)
	}
}

// writePump пишет кадры из очереди и пингует клиента
func (ch *ActorChannel) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ch.CloseWithReason("")
	}()

	for {
		select {
		case <-ch.done:
			return
		case data := <-ch.send:
			_ = ch.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ch.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = ch.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ch.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
