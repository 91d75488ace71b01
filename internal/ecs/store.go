package ecs

import (
	"fmt"

	"github.com/annel0/shiku-server/internal/blueprint"
	"github.com/annel0/shiku-server/internal/physics"
	"github.com/annel0/shiku-server/internal/protocol"
	"github.com/annel0/shiku-server/internal/util"
	"github.com/annel0/shiku-server/internal/vec"
)

// EntityID — идентификатор сущности внутри мира
type EntityID = protocol.EntityID

// PendingAdd — отложенное добавление сущности. Применяется на flush.
type PendingAdd struct {
	Parent EntityID
	Node   *blueprint.GameNode
}

// ScriptCallbacks — обратные вызовы в скриптовый движок. Хранилище
// само скрипты не компилирует и не держит, оно только знает пути.
type ScriptCallbacks struct {
	// Вызывается при установке пути скрипта сущности
	OnScriptPathSet func(e EntityID, path string) error
	// Обновление одной переменной скоупа
	OnScopeVar func(e EntityID, key string, value protocol.ScopeValue)
	// Полная замена скоупа
	OnScopeReplace func(e EntityID, scope map[string]protocol.ScopeValue)
}

// Store — покомпонентное хранилище сущностей одного мира.
// Не потокобезопасно: доступ только из тикающей горутины.
type Store struct {
	SceneRoot EntityID
	ScenePath string
	SceneName string

	ids *util.IDGenerator

	GameNodeKinds map[EntityID]string
	Node2DKinds   map[EntityID]string
	Names         map[EntityID]string
	NodeIDs       map[EntityID]string
	Children      map[EntityID][]EntityID

	Transforms map[EntityID]blueprint.Transform

	BodyKinds   map[EntityID]string
	BodyHandles map[EntityID]physics.BodyHandle
	Velocities  map[EntityID]vec.Vec2F

	ColliderShapes  map[EntityID]blueprint.CollisionShape
	ColliderHandles map[EntityID]physics.ColliderHandle

	RenderKinds   map[EntityID]string
	RenderGids    map[EntityID]uint32
	RenderOffsets map[EntityID]vec.Vec2F
	RenderLayers  map[EntityID]int

	Characters map[EntityID]*KinematicCharacter
	Animations map[EntityID]*CharacterAnimation

	ScriptPaths map[EntityID]string

	Dirty     map[EntityID]bool
	ViewDirty map[EntityID]bool

	pendingAdded   []PendingAdd
	pendingRemoved []EntityID

	scripts ScriptCallbacks
}

// NewStore создаёт пустое хранилище
func NewStore() *Store {
	return &Store{
		ids:             util.NewIDGenerator(util.IDKindEntity),
		GameNodeKinds:   make(map[EntityID]string),
		Node2DKinds:     make(map[EntityID]string),
		Names:           make(map[EntityID]string),
		NodeIDs:         make(map[EntityID]string),
		Children:        make(map[EntityID][]EntityID),
		Transforms:      make(map[EntityID]blueprint.Transform),
		BodyKinds:       make(map[EntityID]string),
		BodyHandles:     make(map[EntityID]physics.BodyHandle),
		Velocities:      make(map[EntityID]vec.Vec2F),
		ColliderShapes:  make(map[EntityID]blueprint.CollisionShape),
		ColliderHandles: make(map[EntityID]physics.ColliderHandle),
		RenderKinds:     make(map[EntityID]string),
		RenderGids:      make(map[EntityID]uint32),
		RenderOffsets:   make(map[EntityID]vec.Vec2F),
		RenderLayers:    make(map[EntityID]int),
		Characters:      make(map[EntityID]*KinematicCharacter),
		Animations:      make(map[EntityID]*CharacterAnimation),
		ScriptPaths:     make(map[EntityID]string),
		Dirty:           make(map[EntityID]bool),
		ViewDirty:       make(map[EntityID]bool),
	}
}

// SetScriptCallbacks подключает скриптовый движок
func (s *Store) SetScriptCallbacks(cb ScriptCallbacks) {
	s.scripts = cb
}

// NewEntity регистрирует новую сущность как ребёнка parent.
// Нулевой parent создаёт корень сцены.
func (s *Store) NewEntity(parent EntityID) EntityID {
	e := EntityID(s.ids.Next())
	s.GameNodeKinds[e] = blueprint.GameNodeKindNode2D
	if parent != 0 {
		s.Children[parent] = append(s.Children[parent], e)
	} else {
		s.SceneRoot = e
	}
	return e
}

// Exists проверяет, зарегистрирована ли сущность
func (s *Store) Exists(e EntityID) bool {
	_, ok := s.GameNodeKinds[e]
	return ok
}

// ParentOf возвращает родителя сущности обходом children.
// Обратных указателей хранилище не держит.
func (s *Store) ParentOf(e EntityID) (EntityID, bool) {
	for parent, kids := range s.Children {
		for _, k := range kids {
			if k == e {
				return parent, true
			}
		}
	}
	return 0, false
}

// NearestBodyAncestor ищет ближайшего предка с твёрдым телом,
// включая саму сущность
func (s *Store) NearestBodyAncestor(e EntityID) (EntityID, bool) {
	cur := e
	for {
		if _, ok := s.BodyHandles[cur]; ok {
			return cur, true
		}
		parent, ok := s.ParentOf(cur)
		if !ok {
			return 0, false
		}
		cur = parent
	}
}

// FirstChildWith возвращает первого ребёнка, удовлетворяющего pred
func (s *Store) FirstChildWith(e EntityID, pred func(EntityID) bool) (EntityID, bool) {
	for _, child := range s.Children[e] {
		if pred(child) {
			return child, true
		}
	}
	return 0, false
}

// Subtree возвращает сущность и всех её потомков в post-order
// (дети раньше родителя)
func (s *Store) Subtree(e EntityID) []EntityID {
	var out []EntityID
	var walk func(EntityID)
	walk = func(cur EntityID) {
		for _, child := range s.Children[cur] {
			walk(child)
		}
		out = append(out, cur)
	}
	walk(e)
	return out
}

// DropEntity удаляет сущность из всех компонентных карт и из списка
// детей родителя. Каскад по потомкам — забота вызывающего (Subtree).
func (s *Store) DropEntity(e EntityID) {
	if parent, ok := s.ParentOf(e); ok {
		kids := s.Children[parent]
		for i, k := range kids {
			if k == e {
				s.Children[parent] = append(kids[:i], kids[i+1:]...)
				break
			}
		}
	}
	delete(s.GameNodeKinds, e)
	delete(s.Node2DKinds, e)
	delete(s.Names, e)
	delete(s.NodeIDs, e)
	delete(s.Children, e)
	delete(s.Transforms, e)
	delete(s.BodyKinds, e)
	delete(s.BodyHandles, e)
	delete(s.Velocities, e)
	delete(s.ColliderShapes, e)
	delete(s.ColliderHandles, e)
	delete(s.RenderKinds, e)
	delete(s.RenderGids, e)
	delete(s.RenderOffsets, e)
	delete(s.RenderLayers, e)
	delete(s.Characters, e)
	delete(s.Animations, e)
	delete(s.ScriptPaths, e)
	delete(s.Dirty, e)
	delete(s.ViewDirty, e)
}

// QueueAdd откладывает добавление узла до flush
func (s *Store) QueueAdd(parent EntityID, node *blueprint.GameNode) {
	s.pendingAdded = append(s.pendingAdded, PendingAdd{Parent: parent, Node: node})
}

// QueueRemove откладывает удаление сущности до flush
func (s *Store) QueueRemove(e EntityID) {
	s.pendingRemoved = append(s.pendingRemoved, e)
}

// DrainPending забирает отложенные операции
func (s *Store) DrainPending() (added []PendingAdd, removed []EntityID) {
	added = s.pendingAdded
	removed = s.pendingRemoved
	s.pendingAdded = nil
	s.pendingRemoved = nil
	return added, removed
}

// ClearDirty сбрасывает флаги после выгрузки дельт наблюдателям
func (s *Store) ClearDirty() {
	for e := range s.Dirty {
		delete(s.Dirty, e)
	}
	for e := range s.ViewDirty {
		delete(s.ViewDirty, e)
	}
}

// === МУТАЦИИ ===

// SetTransform задаёт трансформ и помечает сущность dirty
func (s *Store) SetTransform(e EntityID, t blueprint.Transform) {
	s.Transforms[e] = t
	s.Dirty[e] = true
}

// SetPosition задаёт (x, y, rotation), сохраняя масштаб
func (s *Store) SetPosition(e EntityID, x, y, rotation float64) {
	t := s.Transforms[e]
	if t.ScaleX == 0 && t.ScaleY == 0 {
		t.ScaleX, t.ScaleY = 1, 1
	}
	t.X, t.Y, t.Rotation = x, y, rotation
	s.Transforms[e] = t
	s.Dirty[e] = true
}

// SetName задаёт имя узла
func (s *Store) SetName(e EntityID, name string) {
	s.Names[e] = name
	s.ViewDirty[e] = true
}

// SetGid задаёт gid отрисовки. Валидность gid — забота контента.
func (s *Store) SetGid(e EntityID, gid uint32) {
	s.RenderGids[e] = gid
	s.ViewDirty[e] = true
}

// SetBodyKind меняет вид твёрдого тела сущности
func (s *Store) SetBodyKind(e EntityID, kind string) {
	s.BodyKinds[e] = kind
	s.Dirty[e] = true
}

// SetScriptPath задаёт путь скрипта и перекомпилирует его
func (s *Store) SetScriptPath(e EntityID, path string) error {
	if s.scripts.OnScriptPathSet != nil {
		if err := s.scripts.OnScriptPathSet(e, path); err != nil {
			return err
		}
	}
	s.ScriptPaths[e] = path
	s.ViewDirty[e] = true
	return nil
}

// ApplyEntityUpdate — единственная воронка мутаций ECS: через неё
// проходят и команды редактора, и исходящие дельты
func (s *Store) ApplyEntityUpdate(u *protocol.EntityUpdate) error {
	e := u.Entity
	if !s.Exists(e) {
		return fmt.Errorf("ecs: no such entity %d", e)
	}

	switch u.Kind {
	case protocol.EUSetTransform:
		if u.Transform == nil {
			return fmt.Errorf("ecs: %s without transform", u.Kind)
		}
		s.SetTransform(e, *u.Transform)
	case protocol.EUSetName:
		if u.Name == nil {
			return fmt.Errorf("ecs: %s without name", u.Kind)
		}
		s.SetName(e, *u.Name)
	case protocol.EUSetScriptPath:
		if u.ScriptPath == nil {
			return fmt.Errorf("ecs: %s without script path", u.Kind)
		}
		return s.SetScriptPath(e, *u.ScriptPath)
	case protocol.EUSetBodyKind:
		if u.BodyKind == nil {
			return fmt.Errorf("ecs: %s without body kind", u.Kind)
		}
		s.SetBodyKind(e, *u.BodyKind)
	case protocol.EUSetPosition:
		if u.Position == nil {
			return fmt.Errorf("ecs: %s without position", u.Kind)
		}
		s.SetPosition(e, u.Position.X, u.Position.Y, u.Position.Rotation)
	case protocol.EUSetGid:
		if u.Gid == nil {
			return fmt.Errorf("ecs: %s without gid", u.Kind)
		}
		s.SetGid(e, *u.Gid)
	case protocol.EUUpdateScopeVar:
		if u.ScopeValue == nil {
			return fmt.Errorf("ecs: %s without value", u.Kind)
		}
		if s.scripts.OnScopeVar != nil {
			s.scripts.OnScopeVar(e, u.ScopeKey, *u.ScopeValue)
		}
		s.ViewDirty[e] = true
	case protocol.EUUpdateScriptScope:
		if s.scripts.OnScopeReplace != nil {
			s.scripts.OnScopeReplace(e, u.Scope)
		}
		s.ViewDirty[e] = true
	default:
		return fmt.Errorf("ecs: unknown entity update kind %q", u.Kind)
	}
	return nil
}
