package game

import (
	"fmt"
	"time"

	"github.com/annel0/shiku-server/internal/blueprint"
	"github.com/annel0/shiku-server/internal/logging"
	"github.com/annel0/shiku-server/internal/protocol"
	"github.com/annel0/shiku-server/internal/util"
	"github.com/annel0/shiku-server/internal/world"
)

// ContentSource — доступ инстансов к содержимому чертежей модуля
type ContentSource interface {
	world.ResourceSource
	Map(path string) (*blueprint.GameMap, error)
	Tilesets(module *blueprint.Module) (map[string]*blueprint.Tileset, error)
}

// Module — рантайм-обёртка описания модуля
type Module struct {
	Path      string
	Blueprint *blueprint.Module
}

// ID возвращает идентификатор модуля
func (m *Module) ID() protocol.ModuleID {
	return protocol.ModuleID(m.Blueprint.ID)
}

// InsertMapPath возвращает карту входного слота (пустой слот или
// неизвестное имя отправляют на главную карту)
func (m *Module) InsertMapPath(slot string) string {
	for _, ip := range m.Blueprint.InsertPoints {
		if ip.Name == slot && ip.MapPath != "" {
			return ip.MapPath
		}
	}
	return m.Blueprint.MainMapPath
}

// GameInstance — живая единица модуля: миры плюс членство гостей
// и админов. Вся работа идёт из тикающей горутины менеджера.
type GameInstance struct {
	ID     protocol.InstanceID
	Module *Module

	worlds     map[protocol.WorldID]*world.World
	worldByMap map[string]protocol.WorldID

	guests map[uint64]protocol.WorldID
	admins map[uint64]protocol.WorldID

	// Гость, чей клиент ещё не прислал WorldInitialized, не виден скриптам
	initialized map[uint64]bool

	Inbox *util.Mailbox[InstanceMessage]

	inactive time.Duration
	closed   bool

	content ContentSource
	log     *logging.Logger
}

func newInstance(id protocol.InstanceID, module *Module, content ContentSource, log *logging.Logger) *GameInstance {
	return &GameInstance{
		ID:          id,
		Module:      module,
		worlds:      make(map[protocol.WorldID]*world.World),
		worldByMap:  make(map[string]protocol.WorldID),
		guests:      make(map[uint64]protocol.WorldID),
		admins:      make(map[uint64]protocol.WorldID),
		initialized: make(map[uint64]bool),
		Inbox:       util.NewMailbox[InstanceMessage](),
		content:     content,
		log:         log,
	}
}

// worldFor лениво создаёт мир для карты
func (gi *GameInstance) worldFor(mapPath string) (*world.World, error) {
	if id, ok := gi.worldByMap[mapPath]; ok {
		return gi.worlds[id], nil
	}
	gameMap, err := gi.content.Map(mapPath)
	if err != nil {
		return nil, fmt.Errorf("instance %d: map %s: %w", gi.ID, mapPath, err)
	}
	tilesets, err := gi.content.Tilesets(gi.Module.Blueprint)
	if err != nil {
		return nil, fmt.Errorf("instance %d: tilesets: %w", gi.ID, err)
	}
	w, err := world.New(protocol.WorldID(gameMap.WorldID), mapPath, gameMap, tilesets, gi.Module.Blueprint.GidMap, gi.content)
	if err != nil {
		return nil, err
	}
	gi.worlds[w.ID] = w
	gi.worldByMap[mapPath] = w.ID
	return w, nil
}

// World возвращает мир по идентификатору
func (gi *GameInstance) World(id protocol.WorldID) (*world.World, bool) {
	w, ok := gi.worlds[id]
	return w, ok
}

// Worlds возвращает идентификаторы миров инстанса
func (gi *GameInstance) Worlds() []protocol.WorldID {
	out := make([]protocol.WorldID, 0, len(gi.worlds))
	for id := range gi.worlds {
		out = append(out, id)
	}
	return out
}

// GuestCount возвращает число гостей
func (gi *GameInstance) GuestCount() int { return len(gi.guests) }

// Closed сообщает, закрыт ли инстанс для новых гостей
func (gi *GameInstance) Closed() bool { return gi.closed }

// Full проверяет вместимость
func (gi *GameInstance) Full() bool {
	max := gi.Module.Blueprint.MaxGuests
	return max > 0 && len(gi.guests) >= max
}

// Open сообщает, примет ли инстанс нового гостя
func (gi *GameInstance) Open() bool {
	return !gi.closed && !gi.Full()
}

// HasGuest проверяет членство гостя
func (gi *GameInstance) HasGuest(actor uint64) bool {
	_, ok := gi.guests[actor]
	return ok
}

// GuestWorld возвращает мир, в котором находится гость
func (gi *GameInstance) GuestWorld(actor uint64) (protocol.WorldID, bool) {
	id, ok := gi.guests[actor]
	return id, ok
}

// addGuest помещает гостя в мир входного слота
func (gi *GameInstance) addGuest(actor uint64, insertSlot string) error {
	w, err := gi.worldFor(gi.Module.InsertMapPath(insertSlot))
	if err != nil {
		return err
	}
	gi.guests[actor] = w.ID
	if gi.Full() && gi.Module.Blueprint.CloseAfterFull {
		gi.closed = true
		gi.log.Info("🚪 Instance %d closed after filling up", gi.ID)
	}
	return nil
}

// removeGuest убирает гостя из инстанса и его мира
func (gi *GameInstance) removeGuest(actor uint64) {
	if worldID, ok := gi.guests[actor]; ok {
		if w, exists := gi.worlds[worldID]; exists && gi.initialized[actor] {
			w.ActorLeft(actor)
		}
	}
	delete(gi.guests, actor)
	delete(gi.initialized, actor)
}

// AddAdmin подключает админа-наблюдателя, не затрагивая вместимость
func (gi *GameInstance) AddAdmin(actor uint64, worldID protocol.WorldID) {
	if worldID == "" {
		for id := range gi.worlds {
			worldID = id
			break
		}
	}
	gi.admins[actor] = worldID
}

// RemoveAdmin отключает админа
func (gi *GameInstance) RemoveAdmin(actor uint64) {
	delete(gi.admins, actor)
}

// Watchers возвращает всех акторов, наблюдающих мир
func (gi *GameInstance) Watchers(worldID protocol.WorldID) []uint64 {
	var out []uint64
	for a, w := range gi.guests {
		if w == worldID {
			out = append(out, a)
		}
	}
	for a, w := range gi.admins {
		if w == worldID {
			out = append(out, a)
		}
	}
	return out
}

// Members возвращает общее число гостей и админов
func (gi *GameInstance) Members() int {
	return len(gi.guests) + len(gi.admins)
}

// handleMessage обрабатывает одно входящее сообщение между тиками
func (gi *GameInstance) handleMessage(msg InstanceMessage, changes *[]GuestStateChange) {
	if msg.System != nil {
		gi.handleSystem(msg.Actor, msg.System)
		return
	}
	if msg.Guest == nil {
		return
	}

	worldID, ok := gi.guests[msg.Actor]
	if !ok {
		worldID, ok = gi.admins[msg.Actor]
		if !ok {
			gi.log.Warn("Message from actor %d not in instance %d", msg.Actor, gi.ID)
			return
		}
	}
	w, exists := gi.worlds[worldID]
	if !exists {
		return
	}

	switch msg.Guest.Type {
	case protocol.GTMControlInput:
		if msg.Guest.Input != nil {
			w.SetActorInput(msg.Actor, msg.Guest.Input)
		}
	case protocol.GTMResourcesLoaded:
		// Клиент загрузил ассеты; мир он инициализирует отдельно
	case protocol.GTMWorldInitialized:
		if !gi.initialized[msg.Actor] {
			gi.initialized[msg.Actor] = true
			w.ActorJoined(msg.Actor)
		}
	case protocol.GTMWantToChangeModule:
		*changes = append(*changes, GuestStateChange{
			Actor:    msg.Actor,
			Type:     StateExitModule,
			ExitSlot: msg.Guest.ExitSlot,
		})
	default:
		gi.log.Warn("Unknown guest event %q in instance %d", msg.Guest.Type, gi.ID)
	}
}

func (gi *GameInstance) handleSystem(actor uint64, sys *SystemToModule) {
	worldID, ok := gi.guests[actor]
	if !ok {
		return
	}
	w, exists := gi.worlds[worldID]
	if !exists {
		return
	}
	switch sys.Type {
	case SystemDisconnected:
		// Отключённый гость перестаёт давить на клавиши
		w.SetActorInput(actor, &protocol.GuestInput{Keys: map[string]bool{}})
	case SystemReconnected:
		// Состояние мира не меняется, гость продолжает с места
	}
}

// tick продвигает все миры инстанса и двигает часы простоя
func (gi *GameInstance) tick(dt float64, frame time.Duration) ([]WorldDelta, []GuestStateChange) {
	var changes []GuestStateChange
	for _, msg := range gi.Inbox.Drain() {
		gi.handleMessage(msg, &changes)
	}

	deltas := make([]WorldDelta, 0, len(gi.worlds))
	for id, w := range gi.worlds {
		res := w.Tick(dt)
		if len(res.Added) > 0 || len(res.Removed) > 0 || len(res.Updates) > 0 {
			deltas = append(deltas, WorldDelta{Instance: gi.ID, World: id, Result: res})
		}
	}

	if gi.Members() > 0 {
		gi.inactive = 0
	} else {
		gi.inactive += frame
	}
	return deltas, changes
}

// close закрывает все миры инстанса
func (gi *GameInstance) close() {
	for _, w := range gi.worlds {
		w.Close()
	}
}
