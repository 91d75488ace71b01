package game

import (
	"time"

	"github.com/annel0/shiku-server/internal/logging"
	"github.com/annel0/shiku-server/internal/protocol"
	"github.com/annel0/shiku-server/internal/util"
)

// ManagerUpdate — итог одного тика менеджера
type ManagerUpdate struct {
	Deltas       []WorldDelta
	StateChanges []GuestStateChange
	Retired      []protocol.InstanceID
}

// InstanceManager — допуск, жизненный цикл и демультиплекс сообщений
// инстансов одного модуля. Карта guest -> instance — единственный
// источник истины о членстве.
type InstanceManager struct {
	Module *Module

	content ContentSource
	log     *logging.Logger

	instances map[protocol.InstanceID]*GameInstance
	order     []protocol.InstanceID

	guestToInstance map[uint64]protocol.InstanceID
	adminToInstance map[uint64]protocol.InstanceID

	Inbox *util.Mailbox[AddressedMessage]

	ids     *util.IDGenerator
	timeout time.Duration
}

// NewInstanceManager создаёт менеджер модуля
func NewInstanceManager(module *Module, content ContentSource, timeout time.Duration) *InstanceManager {
	return &InstanceManager{
		Module:          module,
		content:         content,
		log:             logging.GetGameLogger(),
		instances:       make(map[protocol.InstanceID]*GameInstance),
		guestToInstance: make(map[uint64]protocol.InstanceID),
		adminToInstance: make(map[uint64]protocol.InstanceID),
		Inbox:           util.NewMailbox[AddressedMessage](),
		ids:             util.NewIDGenerator(util.IDKindInstance),
		timeout:         timeout,
	}
}

// TryEnter помещает гостя в первый открытый инстанс, создавая новый,
// если открытых нет
func (im *InstanceManager) TryEnter(guest uint64, insertSlot string) (*GameInstance, error) {
	if _, ok := im.guestToInstance[guest]; ok {
		return nil, ErrAlreadyEntered
	}

	var target *GameInstance
	for _, id := range im.order {
		if gi := im.instances[id]; gi.Open() {
			target = gi
			break
		}
	}
	if target == nil {
		var err error
		target, err = im.spawnInstance()
		if err != nil {
			return nil, err
		}
	}

	if err := target.addGuest(guest, insertSlot); err != nil {
		return nil, err
	}
	im.guestToInstance[guest] = target.ID
	im.log.Info("✅ Guest %d entered module %s instance %d (%d/%d)",
		guest, im.Module.Blueprint.ID, target.ID, target.GuestCount(), im.Module.Blueprint.MaxGuests)
	return target, nil
}

// TryLeave убирает гостя из его инстанса
func (im *InstanceManager) TryLeave(guest uint64) (protocol.InstanceID, error) {
	id, ok := im.guestToInstance[guest]
	if !ok {
		return 0, ErrNotInModule
	}
	gi, exists := im.instances[id]
	if !exists {
		delete(im.guestToInstance, guest)
		return 0, ErrGameInstanceNotFoundWTF
	}
	gi.removeGuest(guest)
	delete(im.guestToInstance, guest)
	im.log.Info("👋 Guest %d left module %s instance %d", guest, im.Module.Blueprint.ID, id)
	return id, nil
}

// LetAdminIntoInstance подключает админа как наблюдателя/редактора
func (im *InstanceManager) LetAdminIntoInstance(admin uint64, instance protocol.InstanceID, worldID protocol.WorldID) (*GameInstance, error) {
	gi, ok := im.instances[instance]
	if !ok {
		return nil, ErrGameInstanceNotFoundWTF
	}
	if prev, ok := im.adminToInstance[admin]; ok && prev != instance {
		if prevGi, exists := im.instances[prev]; exists {
			prevGi.RemoveAdmin(admin)
		}
	}
	gi.AddAdmin(admin, worldID)
	im.adminToInstance[admin] = instance
	return gi, nil
}

// RemoveAdmin отключает админа от его инстанса
func (im *InstanceManager) RemoveAdmin(admin uint64) {
	if id, ok := im.adminToInstance[admin]; ok {
		if gi, exists := im.instances[id]; exists {
			gi.RemoveAdmin(admin)
		}
		delete(im.adminToInstance, admin)
	}
}

// OpenInstance создаёт инстанс по явной команде админа. Допуск всё
// равно ленивый: TryEnter создал бы его и сам.
func (im *InstanceManager) OpenInstance() (*GameInstance, error) {
	return im.spawnInstance()
}

// Instance возвращает инстанс по идентификатору
func (im *InstanceManager) Instance(id protocol.InstanceID) (*GameInstance, bool) {
	gi, ok := im.instances[id]
	return gi, ok
}

// InstanceOf возвращает инстанс гостя
func (im *InstanceManager) InstanceOf(guest uint64) (*GameInstance, bool) {
	id, ok := im.guestToInstance[guest]
	if !ok {
		return nil, false
	}
	gi, exists := im.instances[id]
	return gi, exists
}

// Instances возвращает живые инстансы в порядке создания
func (im *InstanceManager) Instances() []*GameInstance {
	out := make([]*GameInstance, 0, len(im.order))
	for _, id := range im.order {
		out = append(out, im.instances[id])
	}
	return out
}

func (im *InstanceManager) spawnInstance() (*GameInstance, error) {
	gi := newInstance(protocol.InstanceID(im.ids.Next()), im.Module, im.content, im.log)
	// Главная карта поднимается сразу, гость не ждёт первого тика
	if _, err := gi.worldFor(im.Module.Blueprint.MainMapPath); err != nil {
		return nil, err
	}
	im.instances[gi.ID] = gi
	im.order = append(im.order, gi.ID)
	im.log.Info("🚀 Instance %d of module %s spawned", gi.ID, im.Module.Blueprint.ID)
	return gi, nil
}

// Update — один тик менеджера: демультиплекс почты по инстансам,
// тик каждого инстанса, отставка простаивающих
func (im *InstanceManager) Update(dt float64, frame time.Duration) ManagerUpdate {
	var out ManagerUpdate

	for _, am := range im.Inbox.Drain() {
		gi, ok := im.instances[am.Instance]
		if !ok {
			im.log.Warn("Message for unknown instance %d dropped", am.Instance)
			continue
		}
		gi.Inbox.Push(am.Message)
	}

	for _, id := range im.order {
		gi := im.instances[id]
		deltas, changes := gi.tick(dt, frame)
		out.Deltas = append(out.Deltas, deltas...)
		out.StateChanges = append(out.StateChanges, changes...)
	}

	kept := im.order[:0]
	for _, id := range im.order {
		gi := im.instances[id]
		if gi.Members() == 0 && gi.inactive > im.timeout {
			gi.close()
			delete(im.instances, id)
			out.Retired = append(out.Retired, id)
			im.log.Info("🛑 Instance %d of module %s retired after idling", id, im.Module.Blueprint.ID)
			continue
		}
		kept = append(kept, id)
	}
	im.order = kept

	return out
}

// Close закрывает все инстансы модуля
func (im *InstanceManager) Close() {
	for _, gi := range im.instances {
		gi.close()
	}
	im.instances = make(map[protocol.InstanceID]*GameInstance)
	im.order = nil
}
