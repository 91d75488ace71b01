package game

import (
	"errors"

	"github.com/annel0/shiku-server/internal/protocol"
	"github.com/annel0/shiku-server/internal/world"
)

// Ошибки допуска и членства
var (
	ErrAlreadyEntered                    = errors.New("game: guest already entered a module")
	ErrGameInstanceNotFoundWTF           = errors.New("game: instance not found, which should never happen")
	ErrPersistedStateGoneMissingGoneWild = errors.New("game: persisted guest state gone missing")
	ErrNotInModule                       = errors.New("game: guest is not in this module")
)

// Типы системных сообщений инстансу
const (
	SystemDisconnected = "Disconnected"
	SystemReconnected  = "Reconnected"
	SystemActorJoined  = "ActorJoined"
	SystemActorLeft    = "ActorLeft"
)

// SystemToModule — внутреннее сообщение кондуктора инстансу
type SystemToModule struct {
	Type  string
	Actor uint64
}

// InstanceMessage — одно сообщение в почтовый ящик инстанса:
// либо событие гостя, либо системное
type InstanceMessage struct {
	Actor  uint64
	World  protocol.WorldID
	Guest  *protocol.GuestModuleEvent
	System *SystemToModule
}

// AddressedMessage — сообщение с адресом инстанса, ждёт демультиплекса
// в менеджере
type AddressedMessage struct {
	Instance protocol.InstanceID
	Message  InstanceMessage
}

// Типы изменений состояния гостя, поднимаемых инстансом к кондуктору
const (
	StateExitModule = "ExitModule"
)

// GuestStateChange — запрос инстанса на перевод гостя
type GuestStateChange struct {
	Actor    uint64
	Type     string
	ExitSlot string
}

// WorldDelta — дельты одного мира за тик
type WorldDelta struct {
	Instance protocol.InstanceID
	World    protocol.WorldID
	Result   world.TickResult
}
