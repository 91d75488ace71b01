package resources

import (
	"github.com/annel0/shiku-server/internal/blueprint"
	"github.com/annel0/shiku-server/internal/protocol"
)

// Bus отслеживает, какие ассеты у какого актора уже есть, и считает
// дельты при смене активного модуля или инвалидации ресурса.
// Не потокобезопасен: живёт в тикающей горутине кондуктора.
type Bus struct {
	// Манифесты модулей
	manifests map[protocol.ModuleID][]blueprint.Resource
	// Доставленные ассеты по акторам
	delivered map[uint64]map[string]bool
	// Активный модуль актора
	active map[uint64]protocol.ModuleID
}

// NewBus создаёт пустую шину
func NewBus() *Bus {
	return &Bus{
		manifests: make(map[protocol.ModuleID][]blueprint.Resource),
		delivered: make(map[uint64]map[string]bool),
		active:    make(map[uint64]protocol.ModuleID),
	}
}

// SetManifest объявляет список ассетов модуля
func (b *Bus) SetManifest(module protocol.ModuleID, assets []blueprint.Resource) {
	b.manifests[module] = assets
}

// SetActiveModule переключает активный модуль актора и возвращает
// дельту: ассеты, которые нужны и ещё не доставлены
func (b *Bus) SetActiveModule(actor uint64, module protocol.ModuleID) *protocol.ResourceEvent {
	b.active[actor] = module

	held := b.delivered[actor]
	if held == nil {
		held = make(map[string]bool)
		b.delivered[actor] = held
	}

	var missing []blueprint.Resource
	for _, asset := range b.manifests[module] {
		if !held[asset.Path] {
			missing = append(missing, asset)
			held[asset.Path] = true
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return &protocol.ResourceEvent{Type: protocol.RELoadAssets, Assets: missing}
}

// Invalidate выбрасывает ассет из доставленных и возвращает повторные
// загрузки для акторов, чей активный модуль его объявляет
func (b *Bus) Invalidate(path string) map[uint64]*protocol.ResourceEvent {
	out := make(map[uint64]*protocol.ResourceEvent)
	for actor, held := range b.delivered {
		if !held[path] {
			continue
		}
		delete(held, path)

		module := b.active[actor]
		for _, asset := range b.manifests[module] {
			if asset.Path == path {
				held[path] = true
				out[actor] = &protocol.ResourceEvent{
					Type:   protocol.RELoadAssets,
					Assets: []blueprint.Resource{asset},
				}
				break
			}
		}
	}
	return out
}

// DropActor забывает доставленное актору (разрыв без возврата)
func (b *Bus) DropActor(actor uint64) {
	delete(b.delivered, actor)
	delete(b.active, actor)
}
