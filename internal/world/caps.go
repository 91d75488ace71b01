package world

import (
	"github.com/annel0/shiku-server/internal/blueprint"
	"github.com/annel0/shiku-server/internal/ecs"
	"github.com/annel0/shiku-server/internal/physics"
	"github.com/annel0/shiku-server/internal/vec"
)

// Реализации возможностей shiku.* поверх ECS и симуляции мира.
// Каждая живёт в BorrowCell скриптового движка: повторный вход
// из скрипта превращается в безобидный дефолт.

type physicsCaps struct {
	w *World
}

func (p *physicsCaps) AddFixedRigidBody(x, y float64) uint64 {
	w := p.w
	e := w.ECS.NewEntity(w.ECS.SceneRoot)
	w.ECS.GameNodeKinds[e] = blueprint.GameNodeKindNode2D
	w.ECS.Node2DKinds[e] = blueprint.Node2DKindRigidBody
	w.ECS.Transforms[e] = blueprint.Transform{X: x, Y: y, ScaleX: 1, ScaleY: 1}
	w.ECS.BodyKinds[e] = blueprint.BodyFixed
	w.ECS.BodyHandles[e] = w.Sim.AddRigidBody(physics.BodyFixed, vec.Vec2F{X: x, Y: y}, 0)
	w.spawnedThisTick = append(w.spawnedThisTick, e)
	return uint64(e)
}

func (p *physicsCaps) GetRigidBodyHandle(entity uint64) (uint64, bool) {
	h, ok := p.w.ECS.BodyHandles[ecs.EntityID(entity)]
	return uint64(h), ok
}

func (p *physicsCaps) SetEntityDesiredTranslation(entity uint64, x, y float64) {
	ch, ok := p.w.ECS.Characters[ecs.EntityID(entity)]
	if !ok {
		return
	}
	ch.Desired = ch.Desired.Add(vec.Vec2F{X: x, Y: y})
}

func (p *physicsCaps) AddForceToRigidBody(entity uint64, x, y float64) {
	if h, ok := p.w.ECS.BodyHandles[ecs.EntityID(entity)]; ok {
		p.w.Sim.ApplyForce(h, vec.Vec2F{X: x, Y: y})
	}
}

func (p *physicsCaps) ApplyImpulseToRigidBody(entity uint64, x, y float64) {
	if h, ok := p.w.ECS.BodyHandles[ecs.EntityID(entity)]; ok {
		p.w.Sim.ApplyImpulse(h, vec.Vec2F{X: x, Y: y})
	}
}

type nodeCaps struct {
	w *World
}

func (n *nodeCaps) GetChildAnimationEntity(entity uint64) (uint64, bool) {
	child, ok := n.w.ECS.FirstChildWith(ecs.EntityID(entity), func(c ecs.EntityID) bool {
		_, has := n.w.ECS.Animations[c]
		return has
	})
	return uint64(child), ok
}

type animationCaps struct {
	w *World
}

func (a *animationCaps) GetState(entity uint64) string {
	if anim, ok := a.w.ECS.Animations[ecs.EntityID(entity)]; ok {
		return anim.Current
	}
	return ""
}

func (a *animationCaps) GoToState(entity uint64, state string) {
	if anim, ok := a.w.ECS.Animations[ecs.EntityID(entity)]; ok {
		anim.GoToState(state)
	}
}

func (a *animationCaps) GetProgress(entity uint64) float64 {
	if anim, ok := a.w.ECS.Animations[ecs.EntityID(entity)]; ok {
		return anim.Progress()
	}
	return 0
}

func (a *animationCaps) SetDirection(entity uint64, direction int) {
	if anim, ok := a.w.ECS.Animations[ecs.EntityID(entity)]; ok {
		anim.Direction = direction
	}
}

type actorCaps struct {
	w *World
}

func (a *actorCaps) IsKeyDown(actor uint64, key string) bool {
	input, ok := a.w.inputs[actor]
	if !ok || input == nil {
		return false
	}
	return input.Keys[key]
}

func (a *actorCaps) ActiveActors() []uint64 {
	out := make([]uint64, len(a.w.actors))
	copy(out, a.w.actors)
	return out
}
