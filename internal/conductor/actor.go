package conductor

import (
	"time"

	"github.com/annel0/shiku-server/internal/protocol"
)

// Connection — живой канал актора. Реализуется websocket-транспортом;
// тесты подставляют заглушку.
type Connection interface {
	Send(ev *protocol.CommunicationEvent)
	CloseWithReason(reason string)
}

// Виды событий соединений
type connEventKind int

const (
	connOpened connEventKind = iota
	connFrame
	connClosed
	connProviderCallback
)

// connEvent — одно событие из транспорта или REST-коллбека.
// Кладётся в почтовый ящик кондуктора из чужих горутин.
type connEvent struct {
	Kind connEventKind
	Conn Connection

	Ticket *protocol.Ticket
	Frame  *protocol.InboundFrame

	// Поля connProviderCallback
	SessionID string
	Provider  *protocol.ProviderPayload
}

// Actor — подключённый участник: гость или админ. Идентификатор
// внутренний, сессия переживает разрыв соединения.
type Actor struct {
	ID        uint64
	SessionID string

	// nil, пока актор отключён
	Conn Connection

	Admin    bool
	LoggedIn bool

	Provider       string
	ProviderUserID string
	DisplayName    string

	// Пустой ActiveModule — актор в лимбе между модулями
	ActiveModule protocol.ModuleID

	// Часы отключения: сбрасываются при возврате, после таймаута
	// гость выселяется из модуля
	Offline time.Duration
}

// Connected сообщает, жив ли канал актора
func (a *Actor) Connected() bool { return a.Conn != nil }
