package conductor

import (
	"github.com/annel0/shiku-server/internal/network"
	"github.com/annel0/shiku-server/internal/protocol"
)

// NetworkSink адаптирует кондуктор под приёмник транспорта: события
// сокетов перекладываются в почтовый ящик и обрабатываются на тике
type NetworkSink struct {
	c *Conductor
}

// Sink возвращает приёмник для network.NewServer
func (c *Conductor) Sink() *NetworkSink {
	return &NetworkSink{c: c}
}

func (s *NetworkSink) Opened(ch *network.ActorChannel, ticket *protocol.Ticket) {
	s.c.inbox.Push(connEvent{Kind: connOpened, Conn: ch, Ticket: ticket})
}

func (s *NetworkSink) Frame(ch *network.ActorChannel, frame *protocol.InboundFrame) {
	s.c.inbox.Push(connEvent{Kind: connFrame, Conn: ch, Frame: frame})
}

func (s *NetworkSink) Closed(ch *network.ActorChannel) {
	s.c.inbox.Push(connEvent{Kind: connClosed, Conn: ch})
}

// SubmitProviderCallback принимает OAuth-редирект из REST-горутины.
// state редиректа несёт id сессии актора.
func (c *Conductor) SubmitProviderCallback(sessionID string, payload protocol.ProviderPayload) {
	p := payload
	c.inbox.Push(connEvent{Kind: connProviderCallback, SessionID: sessionID, Provider: &p})
}

// MintAdminTicket выдаёт JWT-билет редактора по паролю.
// Потокобезопасен: проверка не трогает состояние кондуктора.
func (c *Conductor) MintAdminTicket(password string) (string, error) {
	return c.tickets.Mint(password)
}
