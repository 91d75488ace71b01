package world

import (
	"fmt"

	"github.com/annel0/shiku-server/internal/blueprint"
	"github.com/annel0/shiku-server/internal/ecs"
	"github.com/annel0/shiku-server/internal/physics"
	"github.com/annel0/shiku-server/internal/vec"
)

// Предел вложенности Instance-узлов, защита от циклов сцен
const maxSceneDepth = 16

// SpawnNode разворачивает узел сцены в сущность с компонентами.
// Узлы вида Instance подгружают сцену по ScenePath. Твёрдые тела
// получают хэндлы симуляции сразу; коллайдеры цепляются к телу
// самой сущности или ближайшего предка, иначе к местности.
func (w *World) SpawnNode(parent ecs.EntityID, node *blueprint.GameNode) (ecs.EntityID, error) {
	return w.spawnNode(parent, node, 0)
}

func (w *World) spawnNode(parent ecs.EntityID, node *blueprint.GameNode, depth int) (ecs.EntityID, error) {
	if depth > maxSceneDepth {
		return 0, fmt.Errorf("world: scene nesting deeper than %d", maxSceneDepth)
	}

	if node.GameNodeKind == blueprint.GameNodeKindInstance && node.ScenePath != "" {
		scene, err := w.source.Scene(node.ScenePath)
		if err != nil {
			return 0, fmt.Errorf("world: instance scene %s: %w", node.ScenePath, err)
		}
		inst := scene.Root
		// Трансформ и имя точки вставки перекрывают корень сцены
		if node.Transform != nil {
			inst.Transform = node.Transform
		}
		if node.Name != "" {
			inst.Name = node.Name
		}
		if node.ID != "" {
			inst.ID = node.ID
		}
		return w.spawnNode(parent, &inst, depth+1)
	}

	e := w.ECS.NewEntity(parent)
	st := w.ECS
	st.GameNodeKinds[e] = nodeKindOrDefault(node.GameNodeKind)
	if node.Node2DKind != "" {
		st.Node2DKinds[e] = node.Node2DKind
	}
	if node.Name != "" {
		st.Names[e] = node.Name
	}
	if node.ID != "" {
		st.NodeIDs[e] = node.ID
	}

	t := blueprint.Transform{ScaleX: 1, ScaleY: 1}
	if node.Transform != nil {
		t = *node.Transform
		if t.ScaleX == 0 && t.ScaleY == 0 {
			t.ScaleX, t.ScaleY = 1, 1
		}
	}
	st.Transforms[e] = t

	if node.BodyType != "" {
		st.BodyKinds[e] = node.BodyType
		handle := w.Sim.AddRigidBody(bodyKind(node.BodyType), vec.Vec2F{X: t.X, Y: t.Y}, t.Rotation)
		st.BodyHandles[e] = handle
	}

	if node.Collider != nil {
		st.ColliderShapes[e] = *node.Collider
		shape := convertShape(node.Collider)

		// Коллайдер цепляется к телу ближайшего предка (включая
		// саму сущность); без такого предка — к местности
		var attach physics.BodyHandle
		offset := vec.Vec2F{}
		if owner, ok := st.NearestBodyAncestor(e); ok {
			attach = st.BodyHandles[owner]
			offset = w.offsetFrom(owner, e)
		} else {
			offset = vec.Vec2F{X: t.X, Y: t.Y}
		}
		st.ColliderHandles[e] = w.Sim.AddCollider(attach, shape, offset, physics.LayerAll, physics.LayerAll, false)
	}

	if node.RenderKind != "" {
		st.RenderKinds[e] = node.RenderKind
		st.RenderGids[e] = node.RenderGid
		st.RenderOffsets[e] = vec.Vec2F{X: node.RenderOffsetX, Y: node.RenderOffsetY}
		st.RenderLayers[e] = node.RenderLayer
	}

	if node.KinematicCharacter != nil {
		st.Characters[e] = &ecs.KinematicCharacter{
			Config: characterConfig(node.KinematicCharacter),
		}
	}

	if len(node.Animation) > 0 {
		states := make(map[string]blueprint.AnimationState, len(node.Animation))
		for _, s := range node.Animation {
			states[s.ID] = s
		}
		st.Animations[e] = &ecs.CharacterAnimation{
			States:  states,
			Current: node.Animation[0].ID,
		}
	}

	if node.ScriptPath != "" {
		if err := st.SetScriptPath(e, node.ScriptPath); err != nil {
			// Сломанный скрипт не валит спавн: узел живёт без кода
			w.log.Error("Script %s on node %s: %v", node.ScriptPath, node.Name, err)
			delete(st.ScriptPaths, e)
		}
	}

	// Родитель попадает в список раньше детей, наблюдатели получают
	// снапшоты сверху вниз
	w.spawnedThisTick = append(w.spawnedThisTick, e)

	for i := range node.Children {
		if _, err := w.spawnNode(e, &node.Children[i], depth+1); err != nil {
			return 0, err
		}
	}
	return e, nil
}

// offsetFrom возвращает смещение сущности относительно предка-тела,
// накопленное по цепочке трансформов
func (w *World) offsetFrom(ancestor, e ecs.EntityID) vec.Vec2F {
	offset := vec.Vec2F{}
	cur := e
	for cur != ancestor {
		t := w.ECS.Transforms[cur]
		offset = offset.Add(vec.Vec2F{X: t.X, Y: t.Y})
		parent, ok := w.ECS.ParentOf(cur)
		if !ok {
			break
		}
		cur = parent
	}
	return offset
}

func nodeKindOrDefault(kind string) string {
	if kind == "" {
		return blueprint.GameNodeKindNode2D
	}
	return kind
}

func bodyKind(kind string) physics.BodyKind {
	switch kind {
	case blueprint.BodyDynamic:
		return physics.BodyDynamic
	case blueprint.BodyKinematicPosition:
		return physics.BodyKinematicPosition
	case blueprint.BodyKinematicVelocity:
		return physics.BodyKinematicVelocity
	default:
		return physics.BodyFixed
	}
}

func characterConfig(cfg *blueprint.CharacterControllerConfig) physics.CharacterConfig {
	out := physics.DefaultCharacterConfig()
	if cfg.Offset > 0 {
		out.Offset = cfg.Offset
	}
	if cfg.MaxSlideIters > 0 {
		out.MaxSlideIters = cfg.MaxSlideIters
	}
	out.SnapToGround = cfg.SnapToGround > 0
	if cfg.SnapToGround > 0 {
		out.SnapDistance = cfg.SnapToGround
	}
	return out
}
