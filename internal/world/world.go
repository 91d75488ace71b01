package world

import (
	"fmt"
	"math"

	"github.com/annel0/shiku-server/internal/blueprint"
	"github.com/annel0/shiku-server/internal/ecs"
	"github.com/annel0/shiku-server/internal/logging"
	"github.com/annel0/shiku-server/internal/physics"
	"github.com/annel0/shiku-server/internal/protocol"
	"github.com/annel0/shiku-server/internal/script"
	"github.com/annel0/shiku-server/internal/util"
	"github.com/annel0/shiku-server/internal/vec"
)

// Порог, ниже которого обратная запись позы не трогает трансформ
const poseEpsilon = 1e-5

// Гравитация по умолчанию (пикселей/с²), ось Y вниз
var defaultGravity = vec.Vec2F{X: 0, Y: 980}

// ResourceSource — доступ мира к содержимому чертежей
type ResourceSource interface {
	ScriptSource(path string) (string, error)
	Scene(path string) (*blueprint.Scene, error)
}

// TickResult — дельты одного тика для наблюдателей мира
type TickResult struct {
	Added   []protocol.EntitySnapshot
	Removed []protocol.EntityID
	Updates []protocol.EntityUpdate
}

// World — одна сцена с физической ареной: ECS, симуляция, скриптовый
// движок и менеджер местности. Тикается из одной горутины.
type World struct {
	ID      protocol.WorldID
	MapPath string

	ECS     *ecs.Store
	Sim     *physics.Simulation
	Scripts *script.Engine
	Terrain *TerrainManager

	source ResourceSource
	log    *logging.Logger

	// Ввод акторов: пишется кондуктором между тиками, читается
	// скриптами через возможность shiku.actors
	inputs map[uint64]*protocol.GuestInput
	actors []uint64

	gidCollision map[uint32]*blueprint.CollisionShape

	// Сущности, добавленные в текущем тике (для событий наблюдателям)
	spawnedThisTick []protocol.EntityID
}

// New собирает мир по карте модуля. Сцена карты разворачивается в
// ECS, слои местности превращаются в статические коллайдеры.
func New(id protocol.WorldID, mapPath string, gameMap *blueprint.GameMap, tilesets map[string]*blueprint.Tileset, gidMap blueprint.GidMap, source ResourceSource) (*World, error) {
	log := logging.GetWorldLogger()

	w := &World{
		ID:      id,
		MapPath: mapPath,
		ECS:     ecs.NewStore(),
		Sim:     physics.NewSimulation(defaultGravity),
		source:  source,
		log:     log,
		inputs:  make(map[uint64]*protocol.GuestInput),
	}

	w.gidCollision = buildGidCollision(tilesets, gidMap)
	w.Terrain = NewTerrainManager(w.Sim, gameMap.ChunkSize, gameMap.TileWidth, gameMap.TileHeight, func(gid uint32) *blueprint.CollisionShape {
		return w.gidCollision[gid]
	})

	caps := script.Capabilities{
		Physics:   util.NewBorrowCell[script.PhysicsOps](&physicsCaps{w: w}),
		Nodes:     util.NewBorrowCell[script.NodeOps](&nodeCaps{w: w}),
		Animation: util.NewBorrowCell[script.AnimationOps](&animationCaps{w: w}),
		Actors:    util.NewBorrowCell[script.ActorOps](&actorCaps{w: w}),
	}
	w.Scripts = script.NewEngine(caps, logging.GetScriptLogger())

	w.ECS.SetScriptCallbacks(ecs.ScriptCallbacks{
		OnScriptPathSet: w.attachScript,
		OnScopeVar: func(e ecs.EntityID, key string, value protocol.ScopeValue) {
			w.Scripts.SetScopeVar(uint64(e), key, value)
		},
		OnScopeReplace: func(e ecs.EntityID, scope map[string]protocol.ScopeValue) {
			w.Scripts.ReplaceScope(uint64(e), scope)
		},
	})

	for layer, chunks := range gameMap.Terrain {
		w.Terrain.LoadLayer(layer, chunks)
	}

	if gameMap.MainScenePath != "" {
		scene, err := source.Scene(gameMap.MainScenePath)
		if err != nil {
			return nil, fmt.Errorf("world %s: main scene: %w", id, err)
		}
		root, err := w.SpawnNode(0, &scene.Root)
		if err != nil {
			return nil, fmt.Errorf("world %s: spawn scene: %w", id, err)
		}
		w.ECS.ScenePath = gameMap.MainScenePath
		w.ECS.SceneName = scene.Name
		_ = root
	} else {
		w.ECS.NewEntity(0)
	}
	w.spawnedThisTick = nil

	// init каждого скрипта ровно один раз при постройке мира
	for e := range w.ECS.ScriptPaths {
		w.Scripts.CallInit(uint64(e))
	}

	log.Info("🌍 World %s created (map %s)", id, mapPath)
	return w, nil
}

// Close освобождает ресурсы мира
func (w *World) Close() {
	w.Scripts.Close()
	w.log.Info("🛑 World %s closed", w.ID)
}

// buildGidCollision разворачивает (gid-карта × тайлсеты) в прямую
// таблицу gid -> форма
func buildGidCollision(tilesets map[string]*blueprint.Tileset, gidMap blueprint.GidMap) map[uint32]*blueprint.CollisionShape {
	out := make(map[uint32]*blueprint.CollisionShape)
	for _, r := range gidMap {
		ts, ok := tilesets[r.TilesetPath]
		if !ok {
			continue
		}
		for local := uint32(0); local < ts.TileCount; local++ {
			if shape := ts.CollisionFor(local); shape != nil {
				out[r.FirstGid+local] = shape
			}
		}
	}
	return out
}

// === ЧЛЕНСТВО АКТОРОВ ===

// ActorJoined регистрирует актора в мире и оповещает скрипты
func (w *World) ActorJoined(actor uint64) {
	for _, a := range w.actors {
		if a == actor {
			return
		}
	}
	w.actors = append(w.actors, actor)
	w.Scripts.CallActorJoined(actor)
}

// ActorLeft убирает актора из мира и оповещает скрипты
func (w *World) ActorLeft(actor uint64) {
	for i, a := range w.actors {
		if a == actor {
			w.actors = append(w.actors[:i], w.actors[i+1:]...)
			break
		}
	}
	delete(w.inputs, actor)
	w.Scripts.CallActorLeft(actor)
}

// SetActorInput обновляет состояние ввода актора. Вызывается между
// тиками при обработке входящих сообщений.
func (w *World) SetActorInput(actor uint64, input *protocol.GuestInput) {
	w.inputs[actor] = input
}

// === ТИК ===

// Tick — упорядоченный конвейер мира: физика, анимация, контроллеры
// персонажей, обратная запись поз, скрипты, flush отложенных операций
func (w *World) Tick(dt float64) TickResult {
	var res TickResult

	// 1. Шаг физики
	w.Sim.Step(dt)

	// 2. Разрешение анимаций
	for e, anim := range w.ECS.Animations {
		anim.Advance(dt)
		gid, ok := anim.ResolveGid()
		if ok && w.ECS.RenderGids[e] != gid {
			w.ECS.SetGid(e, gid)
		}
	}

	// 3. Кинематические контроллеры
	for e, ch := range w.ECS.Characters {
		if ch.Desired.LengthSq() == 0 {
			continue
		}
		body, okB := w.ECS.BodyHandles[e]
		collider, okC := w.sweepCollider(e)
		if okB && okC {
			w.Sim.MoveCharacter(ch.Config, body, collider, ch.Desired)
		}
		ch.Desired = vec.Vec2F{}
	}

	// 4. Обратная запись поз
	for e, handle := range w.ECS.BodyHandles {
		pos, rot, ok := w.Sim.GetRigidBodyTranslation(handle)
		if !ok {
			continue
		}
		t := w.ECS.Transforms[e]
		if math.Abs(t.X-pos.X) > poseEpsilon ||
			math.Abs(t.Y-pos.Y) > poseEpsilon ||
			math.Abs(t.Rotation-rot) > poseEpsilon {
			w.ECS.SetPosition(e, pos.X, pos.Y, rot)
		}
	}

	// 5. Скрипты
	res.Updates = append(res.Updates, w.Scripts.UpdateAll()...)

	// 6. Flush
	added, removed := w.ECS.DrainPending()
	for _, r := range removed {
		res.Removed = append(res.Removed, w.RemoveEntity(r)...)
	}
	for _, add := range added {
		if _, err := w.SpawnNode(add.Parent, add.Node); err != nil {
			w.log.Warn("Deferred spawn failed: %v", err)
		}
	}
	for _, e := range w.spawnedThisTick {
		res.Added = append(res.Added, w.Snapshot(e))
	}
	w.spawnedThisTick = nil

	// Дельты из dirty-флагов
	for e := range w.ECS.Dirty {
		t := w.ECS.Transforms[e]
		res.Updates = append(res.Updates, protocol.EntityUpdate{
			Entity:   e,
			Kind:     protocol.EUSetPosition,
			Position: &protocol.Position3{X: t.X, Y: t.Y, Rotation: t.Rotation},
		})
	}
	for e := range w.ECS.ViewDirty {
		if w.ECS.Dirty[e] {
			continue
		}
		if gid, ok := w.ECS.RenderGids[e]; ok {
			g := gid
			res.Updates = append(res.Updates, protocol.EntityUpdate{
				Entity: e,
				Kind:   protocol.EUSetGid,
				Gid:    &g,
			})
		}
	}
	w.ECS.ClearDirty()

	return res
}

// sweepCollider — первый ребёнок персонажа с коллайдером задаёт
// форму для collide-and-slide
func (w *World) sweepCollider(e ecs.EntityID) (physics.ColliderHandle, bool) {
	child, ok := w.ECS.FirstChildWith(e, func(c ecs.EntityID) bool {
		_, has := w.ECS.ColliderHandles[c]
		return has
	})
	if !ok {
		// Коллайдер может висеть на самой сущности
		if h, has := w.ECS.ColliderHandles[e]; has {
			return h, true
		}
		return 0, false
	}
	return w.ECS.ColliderHandles[child], true
}

// RemoveEntity немедленно удаляет сущность и всех потомков
// (post-order), снимая их физические хэндлы. Возвращает удалённые id.
func (w *World) RemoveEntity(e ecs.EntityID) []protocol.EntityID {
	if !w.ECS.Exists(e) {
		return nil
	}
	subtree := w.ECS.Subtree(e)
	removed := make([]protocol.EntityID, 0, len(subtree))
	for _, id := range subtree {
		if h, ok := w.ECS.ColliderHandles[id]; ok {
			w.Sim.RemoveCollider(h)
		}
		if h, ok := w.ECS.BodyHandles[id]; ok {
			w.Sim.RemoveRigidBody(h)
		}
		w.Scripts.Detach(uint64(id))
		w.ECS.DropEntity(id)
		removed = append(removed, id)
	}
	return removed
}

// attachScript компилирует и привязывает скрипт к сущности
func (w *World) attachScript(e ecs.EntityID, path string) error {
	src, err := w.source.ScriptSource(path)
	if err != nil {
		return fmt.Errorf("world: script %s: %w", path, err)
	}
	return w.Scripts.Attach(uint64(e), path, src)
}

// RecompileScript перекомпилирует скрипт во всех сущностях мира.
// Ошибка компиляции оставляет старый код работать.
func (w *World) RecompileScript(path, source string) error {
	return w.Scripts.Recompile(path, source)
}

// UsesScript сообщает, ссылается ли мир на данный путь скрипта
func (w *World) UsesScript(path string) bool {
	return len(w.Scripts.EntitiesWithPath(path)) > 0
}

// ApplyEntityUpdate применяет команду редактора к ECS мира
func (w *World) ApplyEntityUpdate(u *protocol.EntityUpdate) error {
	return w.ECS.ApplyEntityUpdate(u)
}

// ReplaceTerrainChunk применяет правку чанка и перестраивает его
// коллайдеры. Гости видят новую стену на следующем тике.
func (w *World) ReplaceTerrainChunk(layer string, chunk *blueprint.TerrainChunk) {
	w.Terrain.ReplaceChunk(layer, chunk)
}

// Snapshot собирает полное описание сущности для наблюдателя
func (w *World) Snapshot(e ecs.EntityID) protocol.EntitySnapshot {
	snap := protocol.EntitySnapshot{Entity: e}
	if parent, ok := w.ECS.ParentOf(e); ok {
		snap.Parent = parent
	}
	snap.Name = w.ECS.Names[e]
	snap.NodeID = w.ECS.NodeIDs[e]
	if t, ok := w.ECS.Transforms[e]; ok {
		tc := t
		snap.Transform = &tc
	}
	snap.RenderKind = w.ECS.RenderKinds[e]
	snap.RenderGid = w.ECS.RenderGids[e]
	snap.Layer = w.ECS.RenderLayers[e]
	snap.ScriptPath = w.ECS.ScriptPaths[e]
	snap.Scope = w.Scripts.Scope(uint64(e))
	return snap
}

// SnapshotAll возвращает снапшоты всех сущностей мира (для
// PrepareGame и инспекции редактором)
func (w *World) SnapshotAll() []protocol.EntitySnapshot {
	ordered := w.ECS.Subtree(w.ECS.SceneRoot)
	out := make([]protocol.EntitySnapshot, 0, len(ordered))
	// post-order разворачиваем: родители раньше детей
	for i := len(ordered) - 1; i >= 0; i-- {
		out = append(out, w.Snapshot(ordered[i]))
	}
	return out
}
