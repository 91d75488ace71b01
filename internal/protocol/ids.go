package protocol

// ActorID — внутренний идентификатор подключённого участника
type ActorID uint64

// InstanceID — идентификатор игрового инстанса
type InstanceID uint64

// ModuleID — идентификатор модуля (из blueprint)
type ModuleID string

// WorldID — идентификатор мира (uuid карты)
type WorldID string

// EntityID — идентификатор сущности внутри мира
type EntityID uint64
